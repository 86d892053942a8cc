package visualize

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/cache"
)

type generatorStub struct {
	calls int
	err   error
}

func (g *generatorStub) Visualize(context.Context, domain.VisualizationRequest) (domain.Visualization, error) {
	g.calls++
	if g.err != nil {
		return domain.Visualization{}, g.err
	}
	return domain.Visualization{ImageURL: "https://img", ArtTitle: "Dream Vision"}, nil
}

func TestVisualizeRateLimit(t *testing.T) {
	gen := &generatorStub{}
	svc := NewService(gen, cache.NewMemory(), zerolog.Nop())
	req := domain.VisualizationRequest{DreamText: "flying", ViewerID: 9}

	for i := 0; i < DailyLimit; i++ {
		_, err := svc.Visualize(context.Background(), req)
		require.NoError(t, err)
	}
	_, err := svc.Visualize(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, DailyLimit, gen.calls)

	other := domain.VisualizationRequest{DreamText: "flying", ViewerID: 10}
	_, err = svc.Visualize(context.Background(), other)
	assert.NoError(t, err)
}

func TestVisualizeValidation(t *testing.T) {
	gen := &generatorStub{}
	svc := NewService(gen, cache.NewMemory(), zerolog.Nop())

	_, err := svc.Visualize(context.Background(), domain.VisualizationRequest{DreamText: "  ", ViewerID: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.Visualize(context.Background(), domain.VisualizationRequest{DreamText: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, gen.calls)

	_, err = NewService(nil, cache.NewMemory(), zerolog.Nop()).Visualize(context.Background(), domain.VisualizationRequest{DreamText: "x", ViewerID: 1})
	assert.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)
}

func TestVisualizeGeneratorError(t *testing.T) {
	boom := errors.New("boom")
	svc := NewService(&generatorStub{err: boom}, cache.NewMemory(), zerolog.Nop())
	_, err := svc.Visualize(context.Background(), domain.VisualizationRequest{DreamText: "x", ViewerID: 1})
	assert.ErrorIs(t, err, boom)
}
