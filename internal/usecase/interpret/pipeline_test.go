package interpret

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oneiro-bot/internal/domain"
)

type interpreterStub struct {
	calls atomic.Int32
	fn    func(ctx context.Context) (domain.InterpretationResult, error)
}

func (s *interpreterStub) Interpret(ctx context.Context, _ domain.DreamSubmission, _ domain.Viewer) (domain.InterpretationResult, error) {
	s.calls.Add(1)
	return s.fn(ctx)
}

func completeResult() domain.InterpretationResult {
	return domain.InterpretationResult{
		Essence:          "e",
		HiddenMeaning:    "h",
		DeepInsight:      "d",
		Symbols:          []domain.Symbol{{Name: "a"}, {Name: "b"}, {Name: "c"}},
		Advice:           []string{"x"},
		EmotionalTone:    "calm",
		SpiritualMessage: "s",
		IsFallback:       true,
	}
}

func submission(text, lang string) domain.DreamSubmission {
	return domain.NewDreamSubmission(text, []string{"vivid"}, false, lang)
}

func TestInterpretValidationSkipsCollaborator(t *testing.T) {
	stub := &interpreterStub{fn: func(context.Context) (domain.InterpretationResult, error) { return completeResult(), nil }}
	p := NewPipeline(stub, nil, time.Second, 0, zerolog.Nop())

	cases := []struct {
		name string
		text string
		ok   bool
	}{
		{"19 символов", strings.Repeat("a", 19), false},
		{"20 символов", strings.Repeat("a", 20), true},
		{"2000 символов", strings.Repeat("я", 2000), true},
		{"2001 символ", strings.Repeat("я", 2001), false},
		{"пробелы не считаются", "   " + strings.Repeat("b", 19) + "   ", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := stub.calls.Load()
			_, err := p.Interpret(context.Background(), submission(tc.text, "en"), domain.Viewer{ID: 1})
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, before+1, stub.calls.Load())
				return
			}
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Equal(t, before, stub.calls.Load(), "при ошибке валидации сервис не должен вызываться")
		})
	}
}

func TestInterpretFallsBackOnFailure(t *testing.T) {
	failures := map[string]func(context.Context) (domain.InterpretationResult, error){
		"ошибка сервиса": func(context.Context) (domain.InterpretationResult, error) {
			return domain.InterpretationResult{}, domain.ErrCollaboratorFailure
		},
		"неполный ответ": func(context.Context) (domain.InterpretationResult, error) {
			r := completeResult()
			r.Symbols = r.Symbols[:1]
			return r, nil
		},
		"не сконфигурирован": func(context.Context) (domain.InterpretationResult, error) {
			return domain.InterpretationResult{}, domain.ErrCollaboratorUnavailable
		},
	}
	for name, fn := range failures {
		t.Run(name, func(t *testing.T) {
			p := NewPipeline(&interpreterStub{fn: fn}, nil, time.Second, 0, zerolog.Nop())
			res, err := p.Interpret(context.Background(), submission("I was flying above a dark sea", "ko"), domain.Viewer{ID: 9})
			require.NoError(t, err)
			assert.True(t, res.IsFallback)
			assert.Equal(t, "명상적", res.EmotionalTone)
		})
	}
}

func TestInterpretRemoteSuccessClearsFallbackFlag(t *testing.T) {
	stub := &interpreterStub{fn: func(context.Context) (domain.InterpretationResult, error) { return completeResult(), nil }}
	p := NewPipeline(stub, nil, time.Second, 0, zerolog.Nop())
	res, err := p.Interpret(context.Background(), submission("I was flying above a dark sea", "en"), domain.Viewer{ID: 9})
	require.NoError(t, err)
	assert.False(t, res.IsFallback)
	assert.Equal(t, "calm", res.EmotionalTone)
}

func TestInterpretUnconfiguredEndToEnd(t *testing.T) {
	const delay = 50 * time.Millisecond
	p := NewPipeline(nil, nil, time.Second, delay, zerolog.Nop())

	text := "I dreamt of a quiet ocean"
	require.Len(t, []rune(text), 25)

	start := time.Now()
	res, err := p.Interpret(context.Background(), submission(text, "en"), domain.Viewer{})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, res.IsFallback)
	assert.Len(t, res.Symbols, 3)
	assert.Equal(t, "Ocean", res.Symbols[0].Name)
	assert.GreaterOrEqual(t, elapsed, delay)
	assert.Less(t, elapsed, delay+500*time.Millisecond)
}

func TestInterpretWatchdog(t *testing.T) {
	stub := &interpreterStub{fn: func(ctx context.Context) (domain.InterpretationResult, error) {
		<-ctx.Done()
		return domain.InterpretationResult{}, ctx.Err()
	}}
	p := NewPipeline(stub, nil, 30*time.Millisecond, 0, zerolog.Nop())
	_, err := p.Interpret(context.Background(), submission("I was flying above a dark sea", "en"), domain.Viewer{ID: 1})
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.True(t, domain.IsRetryable(err))
}

func TestRunnerSupersedesPreviousRun(t *testing.T) {
	started := make(chan struct{}, 2)
	stub := &interpreterStub{fn: func(ctx context.Context) (domain.InterpretationResult, error) {
		started <- struct{}{}
		select {
		case <-ctx.Done():
			return domain.InterpretationResult{}, ctx.Err()
		case <-time.After(100 * time.Millisecond):
			return completeResult(), nil
		}
	}}
	r := NewRunner(NewPipeline(stub, nil, time.Second, 0, zerolog.Nop()))

	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), submission("first dream about the deep sea", "en"), domain.Viewer{ID: 1})
		firstErr <- err
	}()
	<-started

	res, err := r.Run(context.Background(), submission("second dream about the night sky", "en"), domain.Viewer{ID: 1})
	require.NoError(t, err)
	assert.False(t, res.IsFallback)

	select {
	case err := <-firstErr:
		assert.True(t, errors.Is(err, domain.ErrSuperseded), "первый запуск должен быть вытеснен, получили %v", err)
	case <-time.After(time.Second):
		t.Fatal("первый запуск не завершился")
	}
}

func TestMockCatalogLookup(t *testing.T) {
	c := NewMockCatalog()
	assert.Equal(t, "명상적", c.Lookup("ko").EmotionalTone)
	assert.Equal(t, "명상적", c.Lookup("ko-KR").EmotionalTone)
	assert.Equal(t, "contemplative", c.Lookup("ja").EmotionalTone)
	assert.Equal(t, "contemplative", c.Lookup("").EmotionalTone)

	res := c.Lookup("en")
	assert.True(t, res.IsFallback)
	require.NoError(t, res.CheckComplete())
	assert.True(t, res.IsStructured())

	res.Symbols[0].Name = "changed"
	assert.Equal(t, "Ocean", c.Lookup("en").Symbols[0].Name, "шаблон не должен меняться через копию")
}
