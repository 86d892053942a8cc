package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/metrics"
)

// AppendJournalEntry добавляет запись в дневник. Записи не изменяются.
func (p *Postgres) AppendJournalEntry(ctx context.Context, entry domain.JournalEntry) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	id, err := uuid.Parse(entry.ID)
	if err != nil {
		return fmt.Errorf("journal id: %w", err)
	}
	result, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO journal_entries (id, tg_user_id, dream_text, moods, is_recurring, language, result, unlocked_at_save_time, image_url, art_title, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9,''), NULLIF($10,''), $11)
`, id, entry.ViewerID, entry.Submission.Text, entry.Submission.MoodStrings(), entry.Submission.IsRecurring,
		string(entry.Submission.Language), result, entry.UnlockedAtSaveTime, entry.ImageURL, entry.ArtTitle, entry.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "journal_insert", "journal_entries", start, err)
	if err != nil {
		return err
	}

	viewerID := entry.ViewerID
	_ = p.saveBusinessMetric(ctx, domain.BusinessMetric{
		Event:  domain.BusinessMetricEventJournalSaved,
		UserID: &viewerID,
		Metadata: map[string]any{
			"unlocked":  entry.UnlockedAtSaveTime,
			"has_image": entry.ImageURL != "",
		},
	})
	return nil
}

// ListJournal возвращает записи пользователя, новые первыми.
func (p *Postgres) ListJournal(ctx context.Context, viewerID int64, limit int) ([]domain.JournalEntry, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 50
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, tg_user_id, dream_text, moods, is_recurring, language, result, unlocked_at_save_time, image_url, art_title, created_at
FROM journal_entries
WHERE tg_user_id=$1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, viewerID, limit)
	metrics.ObserveNetworkRequest("postgres", "journal_list", "journal_entries", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var (
			e        domain.JournalEntry
			id       uuid.UUID
			text     string
			moods    []string
			lang     string
			raw      []byte
			image    sql.NullString
			artTitle sql.NullString
		)
		if err := rows.Scan(&id, &e.ViewerID, &text, &moods, &e.Submission.IsRecurring, &lang, &raw, &e.UnlockedAtSaveTime, &image, &artTitle, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &e.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result %s: %w", id, err)
		}
		recurring := e.Submission.IsRecurring
		e.ID = id.String()
		e.Submission = domain.NewDreamSubmission(text, moods, recurring, lang)
		e.ImageURL = image.String
		e.ArtTitle = artTitle.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveDream сохраняет успешное толкование на стороне сервиса функций.
func (p *Postgres) SaveDream(ctx context.Context, record domain.DreamRecord) (int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	interpretation, err := json.Marshal(record.Result)
	if err != nil {
		return 0, fmt.Errorf("marshal interpretation: %w", err)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	var id int64
	start := time.Now()
	err = p.pool.QueryRow(ctx, `
INSERT INTO dreams (tg_user_id, dream_text, moods, is_recurring, language, interpretation, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id
`, record.ViewerID, record.Text, record.Moods, record.IsRecurring, string(record.Language), interpretation, record.CreatedAt).Scan(&id)
	metrics.ObserveNetworkRequest("postgres", "dreams_insert", "dreams", start, err)
	if err != nil {
		return 0, err
	}

	viewerID := record.ViewerID
	_ = p.saveBusinessMetric(ctx, domain.BusinessMetric{
		Event:    domain.BusinessMetricEventDreamInterpreted,
		UserID:   &viewerID,
		Metadata: map[string]any{"dream_id": id, "language": string(record.Language), "recurring": record.IsRecurring},
	})
	return id, nil
}
