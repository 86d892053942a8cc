package presentation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"oneiro-bot/internal/domain"
)

// DefaultDebounce окно, в котором повторное сохранение считается дублем.
const DefaultDebounce = 500 * time.Millisecond

// Reading текущее толкование сессии.
type Reading struct {
	ID            string
	Submission    domain.DreamSubmission
	Result        domain.InterpretationResult
	Visualization *domain.Visualization
	CreatedAt     time.Time
}

// Saver сохраняет толкования в дневник.
type Saver struct {
	journal  domain.JournalRepo
	guard    domain.Cache
	debounce time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewSaver создаёт сервис сохранения.
func NewSaver(journal domain.JournalRepo, guard domain.Cache, debounce time.Duration, logger zerolog.Logger) *Saver {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Saver{
		journal:  journal,
		guard:    guard,
		debounce: debounce,
		now:      time.Now,
		log:      logger.With().Str("component", "journal").Logger(),
	}
}

// Save добавляет запись в дневник. Шаблонные толкования и неподтверждённые
// сохранения отклоняются, повтор в окне debounce возвращает ErrDuplicateAction.
func (s *Saver) Save(ctx context.Context, viewer domain.Viewer, reading Reading, unlocked, confirmed bool) (domain.JournalEntry, error) {
	if !confirmed {
		return domain.JournalEntry{}, fmt.Errorf("%w: сохранение не подтверждено", domain.ErrNotSavable)
	}
	if reading.Result.IsFallback {
		return domain.JournalEntry{}, fmt.Errorf("%w: шаблонное толкование", domain.ErrNotSavable)
	}
	if viewer.IsGuest() {
		return domain.JournalEntry{}, fmt.Errorf("%w: гостевая сессия", domain.ErrNotSavable)
	}

	fresh, err := s.guard.Acquire(ctx, "debounce:save:"+reading.ID, s.debounce)
	if err != nil {
		return domain.JournalEntry{}, fmt.Errorf("%w: debounce: %v", domain.ErrCollaboratorFailure, err)
	}
	if !fresh {
		return domain.JournalEntry{}, domain.ErrDuplicateAction
	}

	id, err := uuid.NewV7()
	if err != nil {
		return domain.JournalEntry{}, fmt.Errorf("journal id: %w", err)
	}
	entry := domain.JournalEntry{
		ID:                 id.String(),
		ViewerID:           viewer.ID,
		Submission:         reading.Submission,
		Result:             reading.Result,
		UnlockedAtSaveTime: unlocked,
		CreatedAt:          s.now().UTC(),
	}
	if reading.Visualization != nil {
		entry.ImageURL = reading.Visualization.ImageURL
		entry.ArtTitle = reading.Visualization.ArtTitle
	}
	if err := s.journal.AppendJournalEntry(ctx, entry); err != nil {
		return domain.JournalEntry{}, fmt.Errorf("сохранение в дневник: %w", err)
	}
	s.log.Info().Int64("viewer", viewer.ID).Str("entry", entry.ID).Bool("unlocked", unlocked).Msg("journal: запись сохранена")
	return entry, nil
}
