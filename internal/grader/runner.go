package grader

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "weldon/pkg/errors"
	"weldon/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultMaxConcurrent = 4
)

// RunnerConfig bounds judge usage.
type RunnerConfig struct {
	Engine        Engine
	Timeout       time.Duration
	MaxConcurrent int64
}

// Runner wraps an Engine with a timeout, a concurrency bound and result
// reconciliation against the requested tests.
type Runner struct {
	engine  Engine
	timeout time.Duration
	sem     *semaphore.Weighted
}

// NewRunner validates cfg and applies defaults.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("judge engine is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	return &Runner{
		engine:  cfg.Engine,
		timeout: cfg.Timeout,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
	}, nil
}

// Run judges req. A run exceeding the timeout fails with a judge timeout
// error and has no side effect.
func (r *Runner) Run(ctx context.Context, req Request) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return Outcome{}, r.mapErr(ctx, err)
	}
	defer r.sem.Release(1)

	start := time.Now()
	outcome, err := r.engine.Run(ctx, req)
	if err != nil {
		return Outcome{}, r.mapErr(ctx, err)
	}
	outcome.Results = reconcile(req, outcome.Results)
	logger.Debug(ctx, "judge run finished",
		zap.Int("tests", len(req.Tests)),
		zap.Int("passed", outcome.Passed()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return outcome, nil
}

func (r *Runner) mapErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return pkgerrors.Newf(pkgerrors.JudgeTimeout, "Judge did not answer within %s", r.timeout)
	}
	if pkgerrors.GetCode(err) == pkgerrors.InternalServerError {
		return pkgerrors.Wrapf(err, pkgerrors.JudgeSystemError, "judge failed: %v", err)
	}
	return err
}

// reconcile orders results like req.Tests and marks unreported tests failed.
func reconcile(req Request, got []Result) []Result {
	byName := make(map[string]Result, len(got))
	for _, r := range got {
		byName[r.Name] = r
	}
	out := make([]Result, 0, len(req.Tests))
	for _, t := range req.Tests {
		r, ok := byName[t.Name]
		out = append(out, Result{Name: t.Name, Type: t.Type, Succeeded: ok && r.Succeeded})
	}
	return out
}
