package interpret

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/metrics"
)

const (
	// DefaultTimeout сторожевой таймер на одно толкование.
	DefaultTimeout = 60 * time.Second
	// DefaultMockDelay имитация задержки, когда сервис не сконфигурирован.
	DefaultMockDelay = 3 * time.Second
)

const (
	sourceRemote       = "remote"
	sourceUnconfigured = "mock_unconfigured"
	sourceFailure      = "mock_failure"
)

// Pipeline толкует сон через удалённый сервис с откатом на фиксированный шаблон.
type Pipeline struct {
	remote    domain.Interpreter
	catalog   *MockCatalog
	timeout   time.Duration
	mockDelay time.Duration
	log       zerolog.Logger
}

// NewPipeline создаёт конвейер. remote может быть nil, тогда всегда используется шаблон.
func NewPipeline(remote domain.Interpreter, catalog *MockCatalog, timeout, mockDelay time.Duration, logger zerolog.Logger) *Pipeline {
	if catalog == nil {
		catalog = NewMockCatalog()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if mockDelay < 0 {
		mockDelay = 0
	}
	return &Pipeline{
		remote:    remote,
		catalog:   catalog,
		timeout:   timeout,
		mockDelay: mockDelay,
		log:       logger.With().Str("component", "interpret").Logger(),
	}
}

type outcome struct {
	result domain.InterpretationResult
	err    error
}

// Interpret валидирует ввод и возвращает толкование. Ошибки сервиса не выходят наружу:
// вместо них возвращается шаблон с IsFallback. Наружу выходят только ErrValidation,
// ErrTimeout и отмена контекста.
func (p *Pipeline) Interpret(ctx context.Context, submission domain.DreamSubmission, viewer domain.Viewer) (domain.InterpretationResult, error) {
	if err := submission.Validate(); err != nil {
		return domain.InterpretationResult{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchdog := time.NewTimer(p.timeout)
	defer watchdog.Stop()

	done := make(chan outcome, 1)
	go func() {
		res, err := p.run(runCtx, submission, viewer)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-watchdog.C:
		metrics.InterpretationTimeouts.Inc()
		p.log.Warn().Int64("viewer", viewer.ID).Dur("timeout", p.timeout).Msg("interpret: сработал сторожевой таймер")
		return domain.InterpretationResult{}, domain.ErrTimeout
	case <-ctx.Done():
		return domain.InterpretationResult{}, context.Cause(ctx)
	}
}

func (p *Pipeline) run(ctx context.Context, submission domain.DreamSubmission, viewer domain.Viewer) (domain.InterpretationResult, error) {
	if p.remote == nil {
		return p.fallbackAfterDelay(ctx, submission, sourceUnconfigured)
	}

	start := time.Now()
	res, err := p.remote.Interpret(ctx, submission, viewer)
	if err == nil {
		err = res.CheckComplete()
		if err != nil {
			err = fmt.Errorf("%w: %v", domain.ErrCollaboratorFailure, err)
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return domain.InterpretationResult{}, context.Cause(ctx)
		}
		if errors.Is(err, domain.ErrCollaboratorUnavailable) {
			return p.fallbackAfterDelay(ctx, submission, sourceUnconfigured)
		}
		p.log.Warn().Err(err).Int64("viewer", viewer.ID).Dur("elapsed", time.Since(start)).Msg("interpret: сервис недоступен, используем шаблон")
		return p.fallback(submission, sourceFailure), nil
	}

	res.IsFallback = false
	metrics.IncInterpretation(sourceRemote, string(submission.Language))
	p.log.Debug().Int64("viewer", viewer.ID).Dur("elapsed", time.Since(start)).Msg("interpret: получено толкование")
	return res, nil
}

func (p *Pipeline) fallbackAfterDelay(ctx context.Context, submission domain.DreamSubmission, source string) (domain.InterpretationResult, error) {
	if p.mockDelay > 0 {
		timer := time.NewTimer(p.mockDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return domain.InterpretationResult{}, context.Cause(ctx)
		case <-timer.C:
		}
	}
	return p.fallback(submission, source), nil
}

func (p *Pipeline) fallback(submission domain.DreamSubmission, source string) domain.InterpretationResult {
	metrics.IncInterpretation(source, string(submission.Language))
	return p.catalog.Lookup(string(submission.Language))
}
