package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/usecase/entitlement"
	"oneiro-bot/internal/usecase/interpret"
	"oneiro-bot/internal/usecase/presentation"
)

func newStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	calls := 0
	st := NewStore(interpret.NewPipeline(nil, nil, time.Second, 0, zerolog.Nop()), func(v domain.Viewer) string {
		calls++
		return domain.ReferralCodeFor(int64(calls))
	}, time.Hour, zerolog.Nop())
	st.now = func() time.Time { return now }
	return st, &now
}

func TestStoreReusesSession(t *testing.T) {
	st, _ := newStore(t)
	a := st.Get("42", domain.Viewer{ID: 42})
	b := st.Get("42", domain.Viewer{ID: 42})
	assert.Same(t, a, b)
	assert.Equal(t, a.ReferralCode(), b.ReferralCode(), "код должен быть стабилен в пределах сессии")

	other := st.Get("guest:x", domain.Viewer{})
	assert.NotSame(t, a, other)
	assert.NotEqual(t, a.ReferralCode(), other.ReferralCode())
	assert.Equal(t, 2, st.Len())
}

func TestStoreSweepsIdleSessions(t *testing.T) {
	st, now := newStore(t)
	st.Get("1", domain.Viewer{ID: 1})
	*now = now.Add(30 * time.Minute)
	st.Get("2", domain.Viewer{ID: 2})

	*now = now.Add(45 * time.Minute)
	assert.Equal(t, 1, st.Sweep(*now))
	assert.Equal(t, 1, st.Len())
}

func TestSessionReading(t *testing.T) {
	st, _ := newStore(t)
	s := st.Get("7", domain.Viewer{ID: 7})
	_, _, ok := s.Current()
	assert.False(t, ok)

	gate := entitlement.NewEngine(nil, nil, zerolog.Nop()).Open(context.Background(), s.Viewer(), entitlement.OpenOptions{FirstReading: true})
	s.SetReading(presentation.Reading{ID: "r1"}, gate)

	assert.False(t, s.AttachVisualization("other", domain.Visualization{ImageURL: "x"}))
	assert.True(t, s.AttachVisualization("r1", domain.Visualization{ImageURL: "https://img", ArtTitle: "Dream Vision"}))

	reading, g, ok := s.Current()
	require.True(t, ok)
	assert.Same(t, gate, g)
	require.NotNil(t, reading.Visualization)
	assert.Equal(t, "Dream Vision", reading.Visualization.ArtTitle)
}
