package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/cache"
)

// memoryRepo повторяет правила Postgres-реализации в памяти.
type memoryRepo struct {
	mu    sync.Mutex
	users map[int64]*domain.User
}

func newMemoryRepo(ids ...int64) *memoryRepo {
	r := &memoryRepo{users: make(map[int64]*domain.User)}
	for _, id := range ids {
		r.users[id] = &domain.User{TGUserID: id, ReferralCode: domain.ReferralCodeFor(id)}
	}
	return r
}

func (r *memoryRepo) EnsureUser(_ context.Context, id int64) (domain.User, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		return *u, false, nil
	}
	u := &domain.User{TGUserID: id, ReferralCode: domain.ReferralCodeFor(id)}
	r.users[id] = u
	return *u, true, nil
}

func (r *memoryRepo) ApplyReferral(_ context.Context, id int64, code string) (domain.ReferralOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var referrer *domain.User
	for _, u := range r.users {
		if u.ReferralCode == code {
			referrer = u
		}
	}
	if referrer == nil {
		return domain.ReferralOutcome{}, domain.ErrReferrerNotFound
	}
	if referrer.TGUserID == id {
		return domain.ReferralOutcome{}, domain.ErrSelfReferral
	}
	u, ok := r.users[id]
	if !ok {
		u = &domain.User{TGUserID: id, ReferralCode: domain.ReferralCodeFor(id)}
		r.users[id] = u
	}
	if u.ReferredBy != nil {
		return domain.ReferralOutcome{}, domain.ErrAlreadyReferred
	}
	refID := referrer.TGUserID
	u.ReferredBy = &refID
	credit := domain.CreditForReferralProgress(referrer.ReferralCount, referrer.FreeCreditsEarned, referrer.CreditGranted)
	referrer.ReferralCount = credit.Count
	referrer.FreeCreditsEarned = credit.Credits
	referrer.CreditGranted = referrer.CreditGranted || credit.Granted
	return domain.ReferralOutcome{Success: true, ReferralCount: credit.Count, FreeCreditEarned: referrer.FreeCreditsEarned > 0}, nil
}

func (r *memoryRepo) ReferralProgress(_ context.Context, id int64) (domain.ReferralProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return domain.ReferralProgress{}, domain.ErrUserNotFound
	}
	return domain.ReferralProgress{ReferralCount: u.ReferralCount, FreeCreditsEarned: u.FreeCreditsEarned}, nil
}

func (r *memoryRepo) ConsumeCredit(_ context.Context, id int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return 0, domain.ErrUserNotFound
	}
	if u.FreeCreditsEarned == 0 {
		return 0, domain.ErrNoCredits
	}
	u.FreeCreditsEarned--
	return u.FreeCreditsEarned, nil
}

func TestApplyReferralRules(t *testing.T) {
	repo := newMemoryRepo(1)
	s := NewService(repo, cache.NewMemory(), zerolog.Nop())
	ctx := context.Background()

	_, err := s.ApplyReferral(ctx, 2, "FRIEND-1")
	assert.ErrorIs(t, err, domain.ErrInvalidReferralCode)
	_, err = s.ApplyReferral(ctx, 2, "ONEIRO-")
	assert.ErrorIs(t, err, domain.ErrInvalidReferralCode)
	_, err = s.ApplyReferral(ctx, 2, "ONEIRO-999")
	assert.ErrorIs(t, err, domain.ErrReferrerNotFound)
	_, err = s.ApplyReferral(ctx, 1, "ONEIRO-1")
	assert.ErrorIs(t, err, domain.ErrSelfReferral)

	out, err := s.ApplyReferral(ctx, 2, "ONEIRO-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReferralOutcome{Success: true, ReferralCount: 1}, out)

	out, err = s.ApplyReferral(ctx, 2, "ONEIRO-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyReferred)
	assert.False(t, out.Success)

	progress, err := s.Progress(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.ReferralCount, "повтор не должен увеличивать счётчик")
}

func TestCreditIsGrantedOnce(t *testing.T) {
	repo := newMemoryRepo(1)
	s := NewService(repo, cache.NewMemory(), zerolog.Nop())
	ctx := context.Background()

	var last domain.ReferralOutcome
	for id := int64(10); id < 16; id++ {
		out, err := s.ApplyReferral(ctx, id, "ONEIRO-1")
		require.NoError(t, err)
		last = out
		if id == 11 {
			assert.False(t, out.FreeCreditEarned, "два приглашения ещё не дают кредит")
		}
		if id == 12 {
			assert.True(t, out.FreeCreditEarned, "третье приглашение даёт кредит")
		}
	}
	assert.Equal(t, 6, last.ReferralCount)

	progress, err := s.Progress(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.FreeCreditsEarned, "кредит не накапливается")

	remaining, err := s.ConsumeCredit(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, remaining)
	_, err = s.ConsumeCredit(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNoCredits)

	_, err = s.ApplyReferral(ctx, 20, "ONEIRO-1")
	require.NoError(t, err)
	progress, err = s.Progress(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, progress.FreeCreditsEarned, "кредит выдаётся один раз за всё время")
}

func TestUnknownUserDegradesToZero(t *testing.T) {
	s := NewService(newMemoryRepo(), nil, zerolog.Nop())
	progress, err := s.Progress(context.Background(), 77)
	require.NoError(t, err)
	assert.Equal(t, domain.ReferralProgress{}, progress)

	_, err = s.ConsumeCredit(context.Background(), 77)
	assert.ErrorIs(t, err, domain.ErrNoCredits)
}
