package report

import (
	"context"
	"fmt"
	"strings"

	"weldon/internal/grader"
	"weldon/internal/ledger"
	"weldon/internal/problem"
	"weldon/pkg/utils/logger"

	"go.uber.org/zap"
)

const barWidth = 40

// TypeStat counts successes in one suite of the final submission.
type TypeStat struct {
	Passed int `json:"passed"`
	Total  int `json:"total"`
}

// PlayerReport summarises a player's history on one problem.
type PlayerReport struct {
	Player             string                        `json:"player"`
	ProblemID          int64                         `json:"problemId"`
	Title              string                        `json:"title"`
	Submissions        int                           `json:"submissions"`
	PassedHistory      []int                         `json:"passedHistory"`
	RatioHistory       []int                         `json:"ratioHistory"`
	Final              map[problem.TestType]TypeStat `json:"final"`
	CommunityTestsSent int                           `json:"communityTestsSent"`
	Regressions        int                           `json:"regressions"`
	Style              *StyleReport                  `json:"style,omitempty"`
	StyleError         string                        `json:"styleError,omitempty"`
	Text               string                        `json:"text"`
}

// Input gathers what Build needs.
type Input struct {
	Player      string
	PlayerToken string
	Problem     problem.Problem
	Submissions []ledger.Submission
}

// Builder assembles reports. A nil scorer skips style scoring.
type Builder struct {
	scorer StyleScorer
}

// NewBuilder returns a Builder using scorer.
func NewBuilder(scorer StyleScorer) *Builder {
	return &Builder{scorer: scorer}
}

// Build computes the report for in.
func (b *Builder) Build(ctx context.Context, in Input) PlayerReport {
	rep := PlayerReport{
		Player:      in.Player,
		ProblemID:   in.Problem.ID,
		Title:       in.Problem.Title,
		Submissions: len(in.Submissions),
		Final:       make(map[problem.TestType]TypeStat, len(problem.TestTypes)),
		Regressions: ledger.RegressionCount(in.Submissions),
	}
	for _, t := range in.Problem.Community {
		if t.Author == in.PlayerToken {
			rep.CommunityTestsSent++
		}
	}
	for _, sub := range in.Submissions {
		passed := sub.Passed()
		rep.PassedHistory = append(rep.PassedHistory, passed)
		ratio := 0
		if len(sub.Results) > 0 {
			ratio = passed * 100 / len(sub.Results)
		}
		rep.RatioHistory = append(rep.RatioHistory, ratio)
	}
	if n := len(in.Submissions); n > 0 {
		final := in.Submissions[n-1]
		rep.Final = finalStats(final.Results)
		if b.scorer != nil {
			style, err := b.scorer.Score(ctx, "module", final.Source)
			if err != nil {
				logger.Warn(ctx, "style scoring failed", zap.Int64("problem_id", in.Problem.ID), zap.Error(err))
				rep.StyleError = err.Error()
			} else {
				rep.Style = &style
			}
		}
	}
	rep.Text = render(rep)
	return rep
}

func finalStats(results []grader.Result) map[problem.TestType]TypeStat {
	out := make(map[problem.TestType]TypeStat, len(problem.TestTypes))
	for _, typ := range problem.TestTypes {
		out[typ] = TypeStat{}
	}
	for _, r := range results {
		st := out[r.Type]
		st.Total++
		if r.Succeeded {
			st.Passed++
		}
		out[r.Type] = st
	}
	return out
}

func render(rep PlayerReport) string {
	var b strings.Builder
	emph := strings.Repeat("#", 20)
	fmt.Fprintf(&b, "%s %s %s\n", emph, rep.Player, emph)
	fmt.Fprintf(&b, "Sent %d submissions for problem '%s' (id:%d).\n", rep.Submissions, rep.Title, rep.ProblemID)
	if rep.Submissions == 0 {
		return b.String()
	}
	b.WriteString("\nNumber of passing tests\n")
	writeBars(&b, rep.PassedHistory, "")
	b.WriteString("\nRatio of passing tests\n")
	writeBars(&b, rep.RatioHistory, "%")

	fmt.Fprintf(&b, "\n%s Final submission %s\nTESTS:\n", strings.Repeat("#", 10), strings.Repeat("#", 10))
	for _, typ := range problem.TestTypes {
		st := rep.Final[typ]
		fmt.Fprintf(&b, "\t%s: %d/%d", strings.ToUpper(string(typ)), st.Passed, st.Total)
		if typ == problem.TestCommunity {
			fmt.Fprintf(&b, "\t (%d sent)", rep.CommunityTestsSent)
		}
		b.WriteByte('\n')
	}
	if rep.Regressions > 0 {
		fmt.Fprintf(&b, "\t%d regressions\n", rep.Regressions)
	} else {
		b.WriteString("\tNo regressions\n")
	}

	switch {
	case rep.Style != nil:
		b.WriteString("\nStyle messages:\n")
		for _, m := range rep.Style.Messages {
			fmt.Fprintf(&b, "\t%s\n", m)
		}
		if rep.Style.HasRating {
			fmt.Fprintf(&b, "%.2f/10 style score\n", rep.Style.Rating)
		}
	case rep.StyleError != "":
		fmt.Fprintf(&b, "\nStyle score unavailable: %s\n", rep.StyleError)
	}
	return b.String()
}

func writeBars(b *strings.Builder, values []int, unit string) {
	top := 0
	for _, v := range values {
		if v > top {
			top = v
		}
	}
	for i, v := range values {
		width := 0
		if top > 0 {
			width = v * barWidth / top
		}
		fmt.Fprintf(b, "\t#%-3d %s %d%s\n", i+1, strings.Repeat("█", width), v, unit)
	}
}
