// Package admission implements the regression-safe protocol through which
// players contribute community tests.
package admission

import (
	"context"
	"fmt"
	"strings"

	"weldon/internal/grader"
	"weldon/internal/ledger"
	"weldon/internal/problem"
	pkgerrors "weldon/pkg/errors"
	"weldon/pkg/utils/logger"

	"go.uber.org/zap"
)

// Judge runs a candidate source against tests.
type Judge interface {
	Run(ctx context.Context, req grader.Request) (grader.Outcome, error)
}

// TesterPolicy tells whether an actor is exempt from the last-submission
// precondition.
type TesterPolicy interface {
	IsTester(token string) bool
}

// Config holds controller dependencies.
type Config struct {
	Problems *problem.Registry
	Ledger   *ledger.Ledger
	Judge    Judge
	Testers  TesterPolicy
}

// Controller admits community tests.
type Controller struct {
	problems *problem.Registry
	ledger   *ledger.Ledger
	judge    Judge
	testers  TesterPolicy
}

// New validates cfg.
func New(cfg Config) (*Controller, error) {
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem registry is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if cfg.Judge == nil {
		return nil, fmt.Errorf("judge is required")
	}
	if cfg.Testers == nil {
		return nil, fmt.Errorf("tester policy is required")
	}
	return &Controller{
		problems: cfg.Problems,
		ledger:   cfg.Ledger,
		judge:    cfg.Judge,
		testers:  cfg.Testers,
	}, nil
}

// Submit runs the admission pipeline for source on the problem referenced by
// ref. The first failing step aborts and leaves the problem untouched. The
// whole pipeline holds the problem's lock; other problems are unaffected.
func (c *Controller) Submit(ctx context.Context, actor, ref, source string) (problem.Test, error) {
	snapshot, unlock, err := c.problems.Lock(ctx, ref)
	if err != nil {
		return problem.Test{}, err
	}
	defer unlock()

	test, err := c.admit(ctx, actor, snapshot, source)
	if err != nil {
		logger.Info(ctx, "community test rejected",
			zap.Int64("problem_id", snapshot.ID),
			zap.String("kind", string(pkgerrors.KindOf(err))),
			zap.Error(err),
		)
		return problem.Test{}, err
	}
	return test, nil
}

func (c *Controller) admit(ctx context.Context, actor string, snapshot problem.Problem, source string) (problem.Test, error) {
	if !snapshot.Open {
		return problem.Test{}, pkgerrors.Newf(pkgerrors.ProblemSessionClosed,
			"Problem %d session is closed", snapshot.ID)
	}

	last, hasLast := c.ledger.Last(actor, snapshot.ID)
	baseline := hasLast && last.AllPassed()
	if !baseline && !c.testers.IsTester(actor) {
		return problem.Test{}, pkgerrors.New(pkgerrors.NotYetSucceeded).
			WithMessage("Your last submission did not succeed all tests; community tests are only accepted after a complete success")
	}

	candidate, err := problem.NewTest(c.problems.Validator(), source, actor, problem.TestCommunity)
	if err != nil {
		return problem.Test{}, err
	}
	if snapshot.HasTest(candidate.Name) {
		return problem.Test{}, pkgerrors.ConflictError(pkgerrors.TestNameTaken,
			fmt.Sprintf("A test named %s already exists", candidate.Name))
	}

	ephemeral := snapshot.WithTest(candidate)
	if baseline {
		outcome, err := c.judge.Run(ctx, grader.Request{
			SourceName: ephemeral.SourceName(),
			Source:     last.Source,
			Tests:      ephemeral.AllTests(),
		})
		if err != nil {
			return problem.Test{}, err
		}
		if !outcome.AllPassed() {
			failing := failingNames(outcome)
			return problem.Test{}, pkgerrors.New(pkgerrors.CandidateTestFailing).
				WithMessagef("Candidate test %s fails on your last submission (failing: %s)",
					candidate.Name, strings.Join(failing, ", ")).
				WithDetail("failing", failing)
		}
	}

	if _, err := c.problems.Commit(ctx, snapshot.ID, candidate); err != nil {
		return problem.Test{}, err
	}
	logger.Info(ctx, "community test admitted",
		zap.Int64("problem_id", snapshot.ID),
		zap.String("test", candidate.Name),
		zap.Bool("dry_run", baseline),
	)
	return candidate, nil
}

func failingNames(o grader.Outcome) []string {
	var out []string
	for _, r := range o.Results {
		if !r.Succeeded {
			out = append(out, r.Name)
		}
	}
	return out
}
