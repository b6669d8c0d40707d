package problem

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"weldon/internal/testshape"
	pkgerrors "weldon/pkg/errors"
	"weldon/pkg/utils/logger"

	"go.uber.org/zap"
)

// NewProblem is the input to Register.
type NewProblem struct {
	Title       string
	Description string
	PublicTests []string
	HiddenTests []string
}

type entry struct {
	// slot serialises every test-suite mutation of this problem,
	// including the dry run that precedes a community commit.
	slot    chan struct{}
	problem Problem
}

func newEntry(p Problem) *entry {
	return &entry{slot: make(chan struct{}, 1), problem: p}
}

func (e *entry) release() {
	select {
	case <-e.slot:
	default:
	}
}

// Registry owns every problem. Problem fields are guarded by mu; per-problem
// suite mutations are additionally serialised by the entry's slot.
type Registry struct {
	mu        sync.RWMutex
	byID      map[int64]*entry
	byTitle   map[string]int64
	lastID    int64
	validator testshape.Validator
}

// NewRegistry returns an empty registry validating tests with v.
func NewRegistry(v testshape.Validator) *Registry {
	return &Registry{
		byID:      make(map[int64]*entry),
		byTitle:   make(map[string]int64),
		validator: v,
	}
}

// Validator returns the shape validator used for new tests.
func (r *Registry) Validator() testshape.Validator {
	return r.validator
}

// Register validates every test, then allocates the next id and stores an
// open problem.
func (r *Registry) Register(ctx context.Context, author, authorName string, in NewProblem) (Problem, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Problem{}, pkgerrors.ValidationError("title", "must not be empty")
	}
	if _, err := strconv.ParseInt(title, 10, 64); err == nil {
		return Problem{}, pkgerrors.ValidationError("title", "must not be a number")
	}

	p := Problem{
		Title:       title,
		Description: in.Description,
		Author:      author,
		AuthorName:  authorName,
		Open:        true,
	}
	seen := make(map[string]struct{})
	build := func(sources []string, typ TestType) ([]Test, error) {
		out := make([]Test, 0, len(sources))
		for _, src := range sources {
			t, err := NewTest(r.validator, src, author, typ)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[t.Name]; dup {
				return nil, pkgerrors.ConflictError(pkgerrors.TestNameTaken,
					fmt.Sprintf("Test %s is defined more than once", t.Name))
			}
			seen[t.Name] = struct{}{}
			out = append(out, t)
		}
		return out, nil
	}
	var err error
	if p.Public, err = build(in.PublicTests, TestPublic); err != nil {
		return Problem{}, err
	}
	if p.Hidden, err = build(in.HiddenTests, TestHidden); err != nil {
		return Problem{}, err
	}
	p.Community = []Test{}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, taken := r.byTitle[title]; taken {
		owner := r.byID[id].problem
		if owner.Author == author {
			return Problem{}, pkgerrors.ConflictError(pkgerrors.ProblemTitleTaken,
				fmt.Sprintf("You already submitted a problem titled %s", title))
		}
		return Problem{}, pkgerrors.ConflictError(pkgerrors.ProblemTitleTaken,
			fmt.Sprintf("Author %s already submitted a problem titled %s", owner.AuthorName, title))
	}
	r.lastID++
	p.ID = r.lastID
	r.byID[p.ID] = newEntry(p)
	r.byTitle[title] = p.ID

	logger.Info(ctx, "problem registered",
		zap.Int64("problem_id", p.ID),
		zap.String("title", title),
		zap.Int("public_tests", len(p.Public)),
		zap.Int("hidden_tests", len(p.Hidden)),
	)
	return p.Clone(), nil
}

// lookup resolves ref (an id or a title). Callers hold r.mu.
func (r *Registry) lookup(ref string) (*entry, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if e, ok := r.byID[id]; ok {
			return e, nil
		}
	}
	if id, ok := r.byTitle[ref]; ok {
		return r.byID[id], nil
	}
	return nil, pkgerrors.Newf(pkgerrors.ProblemNotFound, "Problem %s does not exist", ref)
}

// Get returns a snapshot of the problem referenced by id or title.
func (r *Registry) Get(ref string) (Problem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.lookup(ref)
	if err != nil {
		return Problem{}, err
	}
	return e.problem.Clone(), nil
}

// SetOpen opens or closes a problem session. Requesting the current state
// is a conflict.
func (r *Registry) SetOpen(ctx context.Context, ref string, open bool) (Problem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.lookup(ref)
	if err != nil {
		return Problem{}, err
	}
	if e.problem.Open == open {
		state := "closed"
		if open {
			state = "open"
		}
		return Problem{}, pkgerrors.ConflictError(pkgerrors.ProblemStateConflict,
			fmt.Sprintf("Problem %d session is already %s", e.problem.ID, state))
	}
	e.problem.Open = open
	logger.Info(ctx, "problem session changed", zap.Int64("problem_id", e.problem.ID), zap.Bool("open", open))
	return e.problem.Clone(), nil
}

// Lock acquires the per-problem suite lock and returns a fresh snapshot
// taken under it. The returned func releases the lock.
func (r *Registry) Lock(ctx context.Context, ref string) (Problem, func(), error) {
	r.mu.RLock()
	e, err := r.lookup(ref)
	r.mu.RUnlock()
	if err != nil {
		return Problem{}, nil, err
	}

	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		return Problem{}, nil, pkgerrors.Wrap(ctx.Err(), pkgerrors.Timeout)
	}

	r.mu.RLock()
	snapshot := e.problem.Clone()
	r.mu.RUnlock()
	return snapshot, e.release, nil
}

// Commit appends t to the live problem. The caller must hold the problem's
// lock from Lock. Name uniqueness is re-checked against the live suites.
func (r *Registry) Commit(ctx context.Context, id int64, t Test) (Problem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return Problem{}, pkgerrors.Newf(pkgerrors.ProblemNotFound, "Problem %d does not exist", id)
	}
	if e.problem.HasTest(t.Name) {
		return Problem{}, nameTaken(t.Name)
	}
	e.problem = e.problem.WithTest(t)
	logger.Info(ctx, "test committed",
		zap.Int64("problem_id", id),
		zap.String("test", t.Name),
		zap.String("type", string(t.Type)),
	)
	return e.problem.Clone(), nil
}

// AddTest validates source and appends it to the public or hidden suite.
func (r *Registry) AddTest(ctx context.Context, ref, author string, typ TestType, source string) (Test, error) {
	if typ == TestCommunity {
		return Test{}, pkgerrors.ValidationError("type", "community tests go through admission")
	}
	t, err := NewTest(r.validator, source, author, typ)
	if err != nil {
		return Test{}, err
	}
	p, unlock, err := r.Lock(ctx, ref)
	if err != nil {
		return Test{}, err
	}
	defer unlock()
	if p.HasTest(t.Name) {
		return Test{}, nameTaken(t.Name)
	}
	if _, err := r.Commit(ctx, p.ID, t); err != nil {
		return Test{}, err
	}
	return t, nil
}

// List returns a summary of every problem ordered by id.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Summary, 0, len(r.byID))
	for _, e := range r.byID {
		p := e.problem
		out = append(out, Summary{
			ID:             p.ID,
			Title:          p.Title,
			IsOpen:         p.Open,
			PublicTests:    len(p.Public),
			HiddenTests:    len(p.Hidden),
			CommunityTests: len(p.Community),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func nameTaken(name string) error {
	return pkgerrors.ConflictError(pkgerrors.TestNameTaken,
		fmt.Sprintf("A test named %s already exists", name))
}
