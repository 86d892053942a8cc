package interpret

import (
	"context"
	"errors"
	"sync"

	"oneiro-bot/internal/domain"
)

// Runner выполняет не более одного толкования на сессию. Новый запуск отменяет предыдущий.
type Runner struct {
	pipeline *Pipeline

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelCauseFunc
}

// NewRunner создаёт раннер поверх конвейера.
func NewRunner(p *Pipeline) *Runner {
	return &Runner{pipeline: p}
}

// Run отменяет текущий запуск, если он есть, и начинает новый.
// Вытесненный запуск возвращает ErrSuperseded.
func (r *Runner) Run(ctx context.Context, submission domain.DreamSubmission, viewer domain.Viewer) (domain.InterpretationResult, error) {
	runCtx, cancel := context.WithCancelCause(ctx)

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel(domain.ErrSuperseded)
	}
	r.seq++
	mine := r.seq
	r.cancel = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.seq == mine {
			r.cancel = nil
		}
		r.mu.Unlock()
		cancel(nil)
	}()

	res, err := r.pipeline.Interpret(runCtx, submission, viewer)
	if err != nil && errors.Is(context.Cause(runCtx), domain.ErrSuperseded) {
		return domain.InterpretationResult{}, domain.ErrSuperseded
	}
	return res, err
}

// Cancel прерывает текущий запуск.
func (r *Runner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel(context.Canceled)
		r.cancel = nil
	}
}
