// Package ledger records every judged submission per actor and problem.
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"weldon/internal/grader"
	pkgerrors "weldon/pkg/errors"
)

// Submission is one judged solution. Submissions are never modified.
type Submission struct {
	ProblemID   int64           `json:"problemId"`
	Source      string          `json:"source"`
	Results     []grader.Result `json:"results"`
	Trace       string          `json:"trace"`
	SubmittedAt time.Time       `json:"submittedAt"`
}

// Passed counts succeeded tests.
func (s Submission) Passed() int {
	n := 0
	for _, r := range s.Results {
		if r.Succeeded {
			n++
		}
	}
	return n
}

// AllPassed reports whether every test succeeded.
func (s Submission) AllPassed() bool {
	return s.Passed() == len(s.Results)
}

type key struct {
	token     string
	problemID int64
}

// Ledger is an append-only store keyed by actor token then problem id.
type Ledger struct {
	mu      sync.RWMutex
	entries map[key][]Submission
	slots   map[key]chan struct{}
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		entries: make(map[key][]Submission),
		slots:   make(map[key]chan struct{}),
	}
}

// Lock serialises judge-and-record sequences for one actor on one problem,
// so that Last is well defined.
func (l *Ledger) Lock(ctx context.Context, token string, problemID int64) (func(), error) {
	k := key{token, problemID}
	l.mu.Lock()
	slot, ok := l.slots[k]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[k] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, pkgerrors.Wrap(ctx.Err(), pkgerrors.Timeout)
	}
}

// Record appends sub for the actor.
func (l *Ledger) Record(token string, sub Submission) {
	k := key{token, sub.ProblemID}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[k] = append(l.entries[k], sub)
}

// Last returns the most recent submission, if any.
func (l *Ledger) Last(token string, problemID int64) (Submission, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	subs := l.entries[key{token, problemID}]
	if len(subs) == 0 {
		return Submission{}, false
	}
	return subs[len(subs)-1], true
}

// All returns a copy of every submission in order.
func (l *Ledger) All(token string, problemID int64) []Submission {
	l.mu.RLock()
	defer l.mu.RUnlock()
	subs := l.entries[key{token, problemID}]
	return append([]Submission(nil), subs...)
}

// PassedAllTests reports whether the last submission exists and succeeded
// every test.
func (l *Ledger) PassedAllTests(token string, problemID int64) bool {
	last, ok := l.Last(token, problemID)
	return ok && last.AllPassed()
}

// Participants returns the tokens that submitted to problemID, sorted.
func (l *Ledger) Participants(problemID int64) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []string
	for k, subs := range l.entries {
		if k.problemID == problemID && len(subs) > 0 {
			out = append(out, k.token)
		}
	}
	sort.Strings(out)
	return out
}

// RegressionCount sums every drop in passed-test count between consecutive
// submissions.
func RegressionCount(subs []Submission) int {
	total := 0
	for i := 1; i < len(subs); i++ {
		prev, curr := subs[i-1].Passed(), subs[i].Passed()
		if curr < prev {
			total += prev - curr
		}
	}
	return total
}
