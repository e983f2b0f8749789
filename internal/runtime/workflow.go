package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ksred/klear-fx/internal/metrics"
	"github.com/rs/zerolog/log"
)

var (
	ErrStepTimeout   = errors.New("runtime: step timed out")
	ErrStepExhausted = errors.New("runtime: step attempts exhausted")
	ErrUnknownStep   = errors.New("runtime: unknown step")
)

// StepFunc runs one step for the instance identified by key and names the
// step to run next. An empty next ends the run.
type StepFunc func(ctx context.Context, key string) (next string, err error)

type WorkflowSettings struct {
	StepTimeout time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

// Workflow is a named set of steps with a failover step taken once any step
// has used up its attempts.
type Workflow struct {
	Name         string
	Settings     WorkflowSettings
	Steps        map[string]StepFunc
	FailoverStep string
}

// Runner executes workflow instances in the background
type Runner struct {
	wf     Workflow
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(wf Workflow) *Runner {
	if wf.Settings.MaxAttempts < 1 {
		wf.Settings.MaxAttempts = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{wf: wf, ctx: ctx, cancel: cancel}
}

// Start runs the instance for key from step in its own goroutine
func (r *Runner) Start(key, step string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Run(r.ctx, key, step)
	}()
}

// Wait blocks until every started instance has finished
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Stop cancels running instances and waits for them.
// Instances stopped mid-step keep their pending step for recovery.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
}

// Run drives the instance for key from step until the workflow ends
func (r *Runner) Run(ctx context.Context, key, step string) {
	logger := log.With().
		Str("component", "workflow").
		Str("workflow", r.wf.Name).
		Str("key", key).
		Logger()

	for step != "" {
		next, err := r.runStep(ctx, key, step)
		if err == nil {
			step = next
			continue
		}
		if ctx.Err() != nil {
			logger.Info().Str("step", step).Msg("workflow interrupted")
			return
		}
		if step == r.wf.FailoverStep || r.wf.FailoverStep == "" {
			logger.Error().Err(err).Str("step", step).Msg("workflow failed without recovery")
			return
		}

		logger.Warn().Err(err).Str("step", step).Msg("step failed, running failover")
		metrics.Failovers.WithLabelValues(r.wf.Name).Inc()
		step = r.wf.FailoverStep
	}
}

func (r *Runner) runStep(ctx context.Context, key, step string) (string, error) {
	fn, ok := r.wf.Steps[step]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownStep, step)
	}

	delay := r.wf.Settings.RetryDelay
	var lastErr error
	for attempt := 1; attempt <= r.wf.Settings.MaxAttempts; attempt++ {
		next, err := r.attempt(ctx, fn, key)
		if err == nil {
			return next, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt == r.wf.Settings.MaxAttempts {
			break
		}

		log.Warn().
			Err(err).
			Str("workflow", r.wf.Name).
			Str("key", key).
			Str("step", step).
			Int("attempt", attempt).
			Msg("step failed, retrying")
		metrics.StepRetries.WithLabelValues(r.wf.Name, step).Inc()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			delay *= 2
		}
	}

	return "", fmt.Errorf("%w: %s after %d attempts: %v", ErrStepExhausted, step, r.wf.Settings.MaxAttempts, lastErr)
}

type stepResult struct {
	next string
	err  error
}

// attempt runs fn once under the step timeout. A step that ignores its
// context is abandoned when the timeout fires.
func (r *Runner) attempt(ctx context.Context, fn StepFunc, key string) (string, error) {
	stepCtx := ctx
	if r.wf.Settings.StepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, r.wf.Settings.StepTimeout)
		defer cancel()
	}

	res := make(chan stepResult, 1)
	go func() {
		next, err := fn(stepCtx, key)
		res <- stepResult{next: next, err: err}
	}()

	select {
	case out := <-res:
		if out.err != nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrStepTimeout, out.err)
		}
		return out.next, out.err
	case <-stepCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", ErrStepTimeout
	}
}
