package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/metrics"
)

const applyGuardTTL = 24 * time.Hour

// Service правила реферального реестра: приглашения, прогресс и списание кредитов.
type Service struct {
	repo  domain.LedgerRepo
	guard domain.Cache
	log   zerolog.Logger
}

var (
	_ domain.CreditLedger    = (*Service)(nil)
	_ domain.ReferralService = (*Service)(nil)
)

// NewService создаёт сервис реестра.
func NewService(repo domain.LedgerRepo, guard domain.Cache, logger zerolog.Logger) *Service {
	return &Service{repo: repo, guard: guard, log: logger.With().Str("component", "ledger").Logger()}
}

// ApplyReferral засчитывает приглашение. Повторный вызов с той же парой
// возвращает Success=false и ErrAlreadyReferred.
func (s *Service) ApplyReferral(ctx context.Context, viewerID int64, raw string) (domain.ReferralOutcome, error) {
	if viewerID <= 0 {
		return domain.ReferralOutcome{}, fmt.Errorf("%w: нет идентификатора пользователя", domain.ErrValidation)
	}
	code, ok := domain.ParseReferralCode(raw)
	if !ok {
		metrics.IncReferral("invalid")
		return domain.ReferralOutcome{}, fmt.Errorf("%w: %q", domain.ErrInvalidReferralCode, raw)
	}
	if code == domain.ReferralCodeFor(viewerID) {
		metrics.IncReferral("self")
		return domain.ReferralOutcome{}, domain.ErrSelfReferral
	}

	var (
		outcome domain.ReferralOutcome
		ran     bool
	)
	apply := func() error {
		ran = true
		var err error
		outcome, err = s.repo.ApplyReferral(ctx, viewerID, code)
		return err
	}
	var err error
	if s.guard != nil {
		err = s.guard.Once(ctx, "referral:apply:"+strconv.FormatInt(viewerID, 10)+":"+code, applyGuardTTL, apply)
	} else {
		err = apply()
	}
	if err == nil && !ran {
		err = domain.ErrAlreadyReferred
	}

	switch {
	case err == nil:
		metrics.IncReferral("applied")
		s.log.Info().Int64("viewer", viewerID).Str("code", code).Int("count", outcome.ReferralCount).Bool("credit", outcome.FreeCreditEarned).Msg("ledger: приглашение засчитано")
		return outcome, nil
	case errors.Is(err, domain.ErrAlreadyReferred):
		metrics.IncReferral("duplicate")
		return domain.ReferralOutcome{Success: false}, domain.ErrAlreadyReferred
	case errors.Is(err, domain.ErrReferrerNotFound):
		metrics.IncReferral("unknown_referrer")
		return domain.ReferralOutcome{}, err
	case errors.Is(err, domain.ErrSelfReferral):
		metrics.IncReferral("self")
		return domain.ReferralOutcome{}, err
	default:
		metrics.IncReferral("error")
		return domain.ReferralOutcome{}, fmt.Errorf("применение приглашения: %w", err)
	}
}

// Progress возвращает прогресс. Неизвестный пользователь получает ноль.
func (s *Service) Progress(ctx context.Context, viewerID int64) (domain.ReferralProgress, error) {
	progress, err := s.repo.ReferralProgress(ctx, viewerID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.ReferralProgress{}, nil
	}
	return progress, err
}

// ConsumeCredit списывает один кредит и возвращает остаток. ErrNoCredits при нуле.
func (s *Service) ConsumeCredit(ctx context.Context, viewerID int64) (int, error) {
	remaining, err := s.repo.ConsumeCredit(ctx, viewerID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return 0, domain.ErrNoCredits
	}
	if err != nil {
		return 0, err
	}
	s.log.Info().Int64("viewer", viewerID).Int("remaining", remaining).Msg("ledger: кредит списан")
	return remaining, nil
}

// EnsureUser регистрирует пользователя в реестре.
func (s *Service) EnsureUser(ctx context.Context, viewerID int64) (domain.User, error) {
	user, created, err := s.repo.EnsureUser(ctx, viewerID)
	if err != nil {
		return domain.User{}, err
	}
	if created {
		s.log.Info().Int64("viewer", viewerID).Msg("ledger: новый пользователь")
	}
	return user, nil
}
