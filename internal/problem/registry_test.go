package problem

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"weldon/internal/testshape"
	pkgerrors "weldon/pkg/errors"
)

const (
	testOneNuc = "def test_onenuc():\n    assert revcomp('A') == 'T'\n"
	testMulti  = "def test_multinuc_1():\n    assert revcomp('AC') == 'GT'\n"
	testHidden = "def test_multinuc_3():\n    assert revcomp('ACGT') == 'ACGT'\n"
)

func newRegistry() *Registry {
	return NewRegistry(testshape.NewPython())
}

func registerRevcomp(t *testing.T, r *Registry, author string) Problem {
	t.Helper()
	p, err := r.Register(context.Background(), author, author+"_name", NewProblem{
		Title:       "revcomp",
		Description: "Reverse complement a DNA string.",
		PublicTests: []string{testOneNuc, testMulti},
		HiddenTests: []string{testHidden},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return p
}

func TestRegisterAssignsMonotonicIDs(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()
	var ids []int64
	for _, title := range []string{"a", "b", "c"} {
		p, err := r.Register(ctx, "root", "root", NewProblem{Title: title})
		if err != nil {
			t.Fatalf("register %s: %v", title, err)
		}
		if !p.Open {
			t.Fatalf("new problem must be open")
		}
		ids = append(ids, p.ID)
	}
	if ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestRegisterTitleConflicts(t *testing.T) {
	r := newRegistry()
	registerRevcomp(t, r, "root")

	_, err := r.Register(context.Background(), "root", "root_name", NewProblem{Title: "revcomp"})
	if pkgerrors.KindOf(err) != pkgerrors.KindConflict || !strings.Contains(err.Error(), "You already submitted") {
		t.Fatalf("expected self conflict, got %v", err)
	}
	_, err = r.Register(context.Background(), "other", "other_name", NewProblem{Title: "revcomp"})
	if pkgerrors.KindOf(err) != pkgerrors.KindConflict || !strings.Contains(err.Error(), "Author root_name") {
		t.Fatalf("expected author conflict, got %v", err)
	}
	if len(r.List()) != 1 {
		t.Fatalf("conflicting registration must not be stored")
	}
}

func TestRegisterRejectsBadTests(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, "root", "root", NewProblem{Title: "x", PublicTests: []string{"def helper():\n    assert 1\n"}})
	if pkgerrors.KindOf(err) != pkgerrors.KindTestValidation {
		t.Fatalf("expected test validation error, got %v", err)
	}
	_, err = r.Register(ctx, "root", "root", NewProblem{Title: "x", PublicTests: []string{testOneNuc}, HiddenTests: []string{testOneNuc}})
	if pkgerrors.KindOf(err) != pkgerrors.KindConflict {
		t.Fatalf("expected conflict for duplicate names, got %v", err)
	}
	_, err = r.Register(ctx, "root", "root", NewProblem{Title: "42"})
	if pkgerrors.KindOf(err) != pkgerrors.KindValidation {
		t.Fatalf("expected numeric title rejection, got %v", err)
	}
	if p, err := r.Register(ctx, "root", "root", NewProblem{Title: "x"}); err != nil || p.ID != 1 {
		t.Fatalf("failed registrations must not consume ids: %v %+v", err, p)
	}
}

func TestGetByIDOrTitle(t *testing.T) {
	r := newRegistry()
	p := registerRevcomp(t, r, "root")

	byID, err := r.Get("1")
	if err != nil || byID.Title != p.Title {
		t.Fatalf("get by id: %v", err)
	}
	byTitle, err := r.Get("revcomp")
	if err != nil || byTitle.ID != p.ID {
		t.Fatalf("get by title: %v", err)
	}
	_, err = r.Get("2")
	if pkgerrors.KindOf(err) != pkgerrors.KindNotFound || err.Error() != "Problem 2 does not exist" {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSnapshotsAreIndependent(t *testing.T) {
	r := newRegistry()
	registerRevcomp(t, r, "root")
	p, _ := r.Get("1")
	p.Public[0].Name = "mutated"
	p.Community = append(p.Community, Test{Name: "x"})
	again, _ := r.Get("1")
	if again.Public[0].Name != "test_onenuc" || len(again.Community) != 0 {
		t.Fatalf("registry state leaked through snapshot")
	}
}

func TestOpenCloseSession(t *testing.T) {
	r := newRegistry()
	registerRevcomp(t, r, "root")
	ctx := context.Background()

	if _, err := r.SetOpen(ctx, "1", true); pkgerrors.KindOf(err) != pkgerrors.KindConflict {
		t.Fatalf("opening an open problem should conflict, got %v", err)
	}
	p, err := r.SetOpen(ctx, "revcomp", false)
	if err != nil || p.Open {
		t.Fatalf("close: %v", err)
	}
	if _, err := r.SetOpen(ctx, "1", false); pkgerrors.KindOf(err) != pkgerrors.KindConflict {
		t.Fatalf("closing a closed problem should conflict, got %v", err)
	}
	if p, err := r.SetOpen(ctx, "1", true); err != nil || !p.Open {
		t.Fatalf("reopen: %v", err)
	}
}

func TestAddTest(t *testing.T) {
	r := newRegistry()
	registerRevcomp(t, r, "root")
	ctx := context.Background()

	added, err := r.AddTest(ctx, "1", "root", TestHidden, "\n\ndef test_multinuc_4():\n    assert revcomp('') == ''")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if added.Source != "def test_multinuc_4():\n    assert revcomp('') == ''\n" {
		t.Fatalf("source not normalised: %q", added.Source)
	}
	if _, err := r.AddTest(ctx, "1", "root", TestPublic, testHidden); pkgerrors.KindOf(err) != pkgerrors.KindConflict {
		t.Fatalf("expected name conflict across suites, got %v", err)
	}
	if _, err := r.AddTest(ctx, "1", "root", TestCommunity, testHidden); pkgerrors.KindOf(err) != pkgerrors.KindValidation {
		t.Fatalf("community tests must be rejected, got %v", err)
	}
	p, _ := r.Get("1")
	if len(p.Hidden) != 2 || len(p.Public) != 2 {
		t.Fatalf("unexpected suites: %d public %d hidden", len(p.Public), len(p.Hidden))
	}
}

func TestPublicViewStripsHidden(t *testing.T) {
	r := newRegistry()
	p := registerRevcomp(t, r, "root")
	view := p.PublicView()
	if view.HiddenCount != 1 || len(view.PublicTests) != 2 || view.Author != "root_name" {
		t.Fatalf("unexpected public view %+v", view)
	}
	full := p.FullView()
	if len(full.HiddenTests) != 1 || full.HiddenTests[0].Name != "test_multinuc_3" {
		t.Fatalf("unexpected full view %+v", full)
	}
}

func TestLockSerialisesAndCommitRechecks(t *testing.T) {
	r := newRegistry()
	registerRevcomp(t, r, "root")
	ctx := context.Background()

	_, unlock, err := r.Lock(ctx, "1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, _, err := r.Lock(waitCtx, "1"); err == nil {
		t.Fatalf("second lock should wait and time out")
	}

	candidate, err := NewTest(r.Validator(), "def test_custom():\n    assert True\n", "alice", TestCommunity)
	if err != nil {
		t.Fatalf("new test: %v", err)
	}
	if _, err := r.Commit(ctx, 1, candidate); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := r.Commit(ctx, 1, candidate); pkgerrors.KindOf(err) != pkgerrors.KindConflict {
		t.Fatalf("expected recheck conflict, got %v", err)
	}
	unlock()

	if _, unlock2, err := r.Lock(ctx, "1"); err != nil {
		t.Fatalf("relock: %v", err)
	} else {
		unlock2()
	}
	p, _ := r.Get("1")
	if authors := p.CommunityAuthors(); len(authors) != 1 || authors[0] != "alice" {
		t.Fatalf("unexpected community authors %v", authors)
	}
}

func TestConcurrentRegistrationUniqueIDs(t *testing.T) {
	r := newRegistry()
	const n = 50
	var wg sync.WaitGroup
	ids := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := r.Register(context.Background(), "root", "root", NewProblem{Title: "p" + strings.Repeat("x", i)})
			if err != nil {
				t.Errorf("register: %v", err)
				return
			}
			ids <- p.ID
		}(i)
	}
	wg.Wait()
	close(ids)
	seen := make(map[int64]bool)
	for id := range ids {
		if seen[id] || id < 1 || id > n {
			t.Fatalf("bad id %d", id)
		}
		seen[id] = true
	}
}
