package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.BusinessMetricRepo = (*Postgres)(nil)
	_ domain.LedgerRepo         = (*Postgres)(nil)
	_ domain.ReadingRepo        = (*Postgres)(nil)
	_ domain.JournalRepo        = (*Postgres)(nil)
	_ domain.PurchaseRepo       = (*Postgres)(nil)
	_ domain.DreamRepo          = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func (p *Postgres) saveBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}

	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var userID sql.NullInt64
	if metric.UserID != nil {
		userID = sql.NullInt64{Int64: *metric.UserID, Valid: true}
	}

	var payload []byte
	if metric.Metadata != nil {
		if data, err := json.Marshal(metric.Metadata); err == nil {
			payload = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO business_metrics (event, user_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4)
`, metric.Event, userID, payload, metric.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "business_metrics_insert", "business_metrics", start, err)
	return err
}

// RecordBusinessMetric сохраняет бизнесовую метрику в БД.
func (p *Postgres) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	return p.saveBusinessMetric(ctx, metric)
}

const userColumns = `tg_user_id, referral_code, referred_by, referral_count, free_credits_earned, credit_granted, free_readings_used, created_at, updated_at`

func scanUser(row pgx.Row, extra ...any) (domain.User, error) {
	var (
		user       domain.User
		referredBy sql.NullInt64
	)
	dest := []any{&user.TGUserID, &user.ReferralCode, &referredBy, &user.ReferralCount, &user.FreeCreditsEarned, &user.CreditGranted, &user.FreeReadingsUsed, &user.CreatedAt, &user.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.User{}, err
	}
	if referredBy.Valid {
		id := referredBy.Int64
		user.ReferredBy = &id
	}
	return user, nil
}

// EnsureUser создаёт пользователя с кодом ONEIRO-<id>, если его ещё нет.
func (p *Postgres) EnsureUser(ctx context.Context, tgUserID int64) (domain.User, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var created bool
	start := time.Now()
	user, err := scanUser(p.pool.QueryRow(ctx, `
INSERT INTO users (tg_user_id, referral_code)
VALUES ($1, $2)
ON CONFLICT (tg_user_id) DO UPDATE SET updated_at = now()
RETURNING `+userColumns+`, (xmax = 0) AS inserted
`, tgUserID, domain.ReferralCodeFor(tgUserID)), &created)
	metrics.ObserveNetworkRequest("postgres", "users_upsert", "users", start, err)
	if err != nil {
		return domain.User{}, false, err
	}
	if created {
		id := user.TGUserID
		_ = p.saveBusinessMetric(ctx, domain.BusinessMetric{
			Event:    domain.BusinessMetricEventUserRegistered,
			UserID:   &id,
			Metadata: map[string]any{"referral_code": user.ReferralCode},
		})
	}
	return user, created, nil
}

// GetUser возвращает пользователя по Telegram ID.
func (p *Postgres) GetUser(ctx context.Context, tgUserID int64) (domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	user, err := scanUser(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE tg_user_id=$1`, tgUserID))
	metrics.ObserveNetworkRequest("postgres", "users_get_by_tgid", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, err
}

// ApplyReferral привязывает приглашённого к владельцу кода. Обе строки блокируются FOR UPDATE.
func (p *Postgres) ApplyReferral(ctx context.Context, tgUserID int64, code string) (domain.ReferralOutcome, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "users", start, err)
	if err != nil {
		return domain.ReferralOutcome{}, err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	_, err = tx.Exec(ctx, `
INSERT INTO users (tg_user_id, referral_code) VALUES ($1, $2)
ON CONFLICT (tg_user_id) DO NOTHING
`, tgUserID, domain.ReferralCodeFor(tgUserID))
	metrics.ObserveNetworkRequest("postgres", "users_ensure", "users", start, err)
	if err != nil {
		return domain.ReferralOutcome{}, err
	}

	start = time.Now()
	referrer, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code=$1 FOR UPDATE`, code))
	metrics.ObserveNetworkRequest("postgres", "users_get_by_ref_code", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReferralOutcome{}, domain.ErrReferrerNotFound
	}
	if err != nil {
		return domain.ReferralOutcome{}, err
	}
	if referrer.TGUserID == tgUserID {
		return domain.ReferralOutcome{}, domain.ErrSelfReferral
	}

	start = time.Now()
	user, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE tg_user_id=$1 FOR UPDATE`, tgUserID))
	metrics.ObserveNetworkRequest("postgres", "users_get_for_update", "users", start, err)
	if err != nil {
		return domain.ReferralOutcome{}, err
	}
	if user.ReferredBy != nil {
		return domain.ReferralOutcome{Success: false}, domain.ErrAlreadyReferred
	}

	start = time.Now()
	res, err := tx.Exec(ctx, `UPDATE users SET referred_by=$2, updated_at=now() WHERE tg_user_id=$1 AND referred_by IS NULL`, tgUserID, referrer.TGUserID)
	metrics.ObserveNetworkRequest("postgres", "users_apply_referral", "users", start, err)
	if err != nil {
		return domain.ReferralOutcome{}, err
	}
	if res.RowsAffected() == 0 {
		return domain.ReferralOutcome{Success: false}, domain.ErrAlreadyReferred
	}

	credit := domain.CreditForReferralProgress(referrer.ReferralCount, referrer.FreeCreditsEarned, referrer.CreditGranted)
	start = time.Now()
	_, err = tx.Exec(ctx, `
UPDATE users SET referral_count=$2, free_credits_earned=$3, credit_granted = credit_granted OR $4, updated_at=now()
WHERE tg_user_id=$1
`, referrer.TGUserID, credit.Count, credit.Credits, credit.Granted)
	metrics.ObserveNetworkRequest("postgres", "users_update_referrer", "users", start, err)
	if err != nil {
		return domain.ReferralOutcome{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "users", start, err)
	if err != nil {
		return domain.ReferralOutcome{}, err
	}

	referrerID := referrer.TGUserID
	_ = p.saveBusinessMetric(ctx, domain.BusinessMetric{
		Event:  domain.BusinessMetricEventReferralApplied,
		UserID: &referrerID,
		Metadata: map[string]any{
			"referee":        tgUserID,
			"referral_count": credit.Count,
			"credit_granted": credit.Granted,
		},
	})
	return domain.ReferralOutcome{
		Success:          true,
		ReferralCount:    credit.Count,
		FreeCreditEarned: credit.Credits > 0,
	}, nil
}

// ReferralProgress возвращает счётчик приглашений и доступные кредиты.
func (p *Postgres) ReferralProgress(ctx context.Context, tgUserID int64) (domain.ReferralProgress, error) {
	user, err := p.GetUser(ctx, tgUserID)
	if err != nil {
		return domain.ReferralProgress{}, err
	}
	return domain.ReferralProgress{ReferralCount: user.ReferralCount, FreeCreditsEarned: user.FreeCreditsEarned}, nil
}

// ConsumeCredit атомарно списывает кредит. Счётчик не уходит ниже нуля.
func (p *Postgres) ConsumeCredit(ctx context.Context, tgUserID int64) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var remaining int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
UPDATE users SET free_credits_earned = free_credits_earned - 1, updated_at = now()
WHERE tg_user_id=$1 AND free_credits_earned > 0
RETURNING free_credits_earned
`, tgUserID).Scan(&remaining)
	metrics.ObserveNetworkRequest("postgres", "users_consume_credit", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := p.GetUser(ctx, tgUserID); getErr != nil {
			return 0, getErr
		}
		return 0, domain.ErrNoCredits
	}
	if err != nil {
		return 0, err
	}

	id := tgUserID
	_ = p.saveBusinessMetric(ctx, domain.BusinessMetric{
		Event:    domain.BusinessMetricEventCreditConsumed,
		UserID:   &id,
		Metadata: map[string]any{"remaining": remaining},
	})
	return remaining, nil
}

// RegisterReading увеличивает счётчик прочтений. true, если это первое прочтение пользователя.
func (p *Postgres) RegisterReading(ctx context.Context, tgUserID int64) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var used int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO users (tg_user_id, referral_code, free_readings_used)
VALUES ($1, $2, 1)
ON CONFLICT (tg_user_id) DO UPDATE SET free_readings_used = users.free_readings_used + 1, updated_at = now()
RETURNING free_readings_used
`, tgUserID, domain.ReferralCodeFor(tgUserID)).Scan(&used)
	metrics.ObserveNetworkRequest("postgres", "users_register_reading", "users", start, err)
	if err != nil {
		return false, err
	}
	return used == 1, nil
}
