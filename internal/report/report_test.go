package report

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"weldon/internal/grader"
	"weldon/internal/ledger"
	"weldon/internal/problem"
)

type fakeScorer struct {
	report StyleReport
	err    error
	seen   string
}

func (f *fakeScorer) Score(ctx context.Context, moduleName, source string) (StyleReport, error) {
	f.seen = source
	return f.report, f.err
}

func sub(source string, results ...grader.Result) ledger.Submission {
	return ledger.Submission{ProblemID: 1, Source: source, Results: results}
}

func res(name string, typ problem.TestType, ok bool) grader.Result {
	return grader.Result{Name: name, Type: typ, Succeeded: ok}
}

func revcomp() problem.Problem {
	return problem.Problem{
		ID:    1,
		Title: "revcomp",
		Community: []problem.Test{
			{Name: "test_c1", Author: "tok-alice", Type: problem.TestCommunity},
			{Name: "test_c2", Author: "tok-bob", Type: problem.TestCommunity},
		},
	}
}

func TestBuildReport(t *testing.T) {
	scorer := &fakeScorer{report: StyleReport{Rating: 7.5, HasRating: true, Messages: []string{"module:1:0: C0114: Missing module docstring (missing-module-docstring)"}}}
	b := NewBuilder(scorer)
	rep := b.Build(context.Background(), Input{
		Player:      "alice",
		PlayerToken: "tok-alice",
		Problem:     revcomp(),
		Submissions: []ledger.Submission{
			sub("v1", res("test_a", problem.TestPublic, true), res("test_b", problem.TestHidden, true)),
			sub("v2", res("test_a", problem.TestPublic, false), res("test_b", problem.TestHidden, true)),
			sub("v3", res("test_a", problem.TestPublic, true), res("test_b", problem.TestHidden, true), res("test_c1", problem.TestCommunity, false)),
		},
	})

	if rep.Submissions != 3 || rep.Regressions != 1 || rep.CommunityTestsSent != 1 {
		t.Fatalf("unexpected counters %+v", rep)
	}
	if got := rep.PassedHistory; len(got) != 3 || got[0] != 2 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("unexpected passed history %v", got)
	}
	if got := rep.RatioHistory; got[0] != 100 || got[1] != 50 || got[2] != 66 {
		t.Fatalf("unexpected ratio history %v", got)
	}
	if st := rep.Final[problem.TestCommunity]; st.Passed != 0 || st.Total != 1 {
		t.Fatalf("unexpected community stats %+v", st)
	}
	if scorer.seen != "v3" {
		t.Fatalf("style must score the final submission, got %q", scorer.seen)
	}
	for _, want := range []string{"alice", "Sent 3 submissions", "PUBLIC: 1/1", "COMMUNITY: 0/1\t (1 sent)", "1 regressions", "7.50/10 style score", "C0114"} {
		if !strings.Contains(rep.Text, want) {
			t.Fatalf("report text missing %q:\n%s", want, rep.Text)
		}
	}
}

func TestBuildReportWithoutSubmissions(t *testing.T) {
	scorer := &fakeScorer{}
	rep := NewBuilder(scorer).Build(context.Background(), Input{Player: "bob", Problem: revcomp()})
	if rep.Submissions != 0 || rep.Style != nil || scorer.seen != "" {
		t.Fatalf("empty history must not be scored: %+v", rep)
	}
	if !strings.Contains(rep.Text, "Sent 0 submissions") {
		t.Fatalf("unexpected text %q", rep.Text)
	}
}

func TestBuildReportStyleFailureIsNotFatal(t *testing.T) {
	scorer := &fakeScorer{err: errors.New("pylint missing")}
	rep := NewBuilder(scorer).Build(context.Background(), Input{
		Player:      "alice",
		Problem:     revcomp(),
		Submissions: []ledger.Submission{sub("v1", res("test_a", problem.TestPublic, true))},
	})
	if rep.StyleError == "" || !strings.Contains(rep.Text, "No regressions") {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestParsePylintOutput(t *testing.T) {
	out := `************* Module module
/tmp/weldon-style-1/module.py:1:0: C0114: Missing module docstring (missing-module-docstring)
/tmp/weldon-style-1/module.py:1:0: C0116: Missing function or method docstring (missing-function-docstring)

------------------------------------------------------------------
Your code has been rated at 3.33/10 (previous run: 3.33/10, +0.00)
`
	rep := ParsePylintOutput(out, "/tmp/weldon-style-1/module.py", "module")
	if !rep.HasRating || rep.Rating != 3.33 {
		t.Fatalf("unexpected rating %+v", rep)
	}
	if len(rep.Messages) != 2 || !strings.HasPrefix(rep.Messages[0], "module:1:0: C0114") {
		t.Fatalf("unexpected messages %v", rep.Messages)
	}
	if ParsePylintOutput("garbage", "", "").HasRating {
		t.Fatalf("no rating expected")
	}
}

func TestCommandScorer(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	scorer, err := NewCommandScorer(CommandScorerConfig{
		Command: `sh -c "echo {file}:1:0: W0611: Unused import os; echo Your code has been rated at 9.00/10"`,
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("new scorer: %v", err)
	}
	rep, err := scorer.Score(context.Background(), "module", "import os\n")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !rep.HasRating || rep.Rating != 9 || len(rep.Messages) != 1 || !strings.HasPrefix(rep.Messages[0], "module:1:0: W0611") {
		t.Fatalf("unexpected report %+v", rep)
	}
}
