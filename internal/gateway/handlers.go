package gateway

import (
	"context"
	"fmt"

	"weldon/internal/grader"
	"weldon/internal/identity"
	"weldon/internal/ledger"
	"weldon/internal/problem"
	"weldon/internal/report"
	pkgerrors "weldon/pkg/errors"
	"weldon/pkg/utils/logger"

	"go.uber.org/zap"
)

func (g *Gateway) registry() []Command {
	ref := Param{Name: "problem", Type: ParamRef}
	source := Param{Name: "source", Type: ParamString}
	return []Command{
		{Name: "publicKey", Handler: g.publicKey},
		{Name: "describeApi", NeedsToken: true, Handler: g.describeAPI},
		{
			Name: "registerPlayer",
			Params: []Param{
				{Name: "name", Type: ParamString},
				{Name: "password", Type: ParamString},
				{Name: "publicKey", Type: ParamString, Optional: true},
			},
			Handler: g.register(identity.RolePlayer),
		},
		{
			Name: "registerRooter",
			Params: []Param{
				{Name: "name", Type: ParamString},
				{Name: "password", Type: ParamString},
				{Name: "publicKey", Type: ParamString, Optional: true},
			},
			Handler: g.register(identity.RoleRooter),
		},
		{Name: "listProblems", NeedsToken: true, Handler: g.listProblems},
		{
			Name:       "registerProblem",
			NeedsToken: true,
			RooterOnly: true,
			Params: []Param{
				{Name: "title", Type: ParamString},
				{Name: "description", Type: ParamString},
				{Name: "publicTests", Type: ParamStringList, Optional: true},
				{Name: "hiddenTests", Type: ParamStringList, Optional: true},
			},
			Handler: g.registerProblem,
		},
		{Name: "retrieveProblem", NeedsToken: true, Params: []Param{ref}, Handler: g.retrieveProblem},
		{Name: "retrievePublicProblem", NeedsToken: true, Params: []Param{ref}, Handler: g.retrievePublicProblem},
		{Name: "closeProblemSession", NeedsToken: true, RooterOnly: true, Params: []Param{ref}, Handler: g.setSession(false)},
		{Name: "openProblemSession", NeedsToken: true, RooterOnly: true, Params: []Param{ref}, Handler: g.setSession(true)},
		{Name: "submitSolution", NeedsToken: true, Params: []Param{ref, source}, Handler: g.submitSolution},
		{Name: "submitTest", NeedsToken: true, Params: []Param{ref, source}, Handler: g.submitTest},
		{Name: "addPublicTest", NeedsToken: true, RooterOnly: true, Params: []Param{ref, source}, Handler: g.addTest(problem.TestPublic)},
		{Name: "addHiddenTest", NeedsToken: true, RooterOnly: true, Params: []Param{ref, source}, Handler: g.addTest(problem.TestHidden)},
		{
			Name:       "retrieveReport",
			NeedsToken: true,
			Params:     []Param{ref, {Name: "player", Type: ParamString, Optional: true}},
			Handler:    g.retrieveReport,
		},
		{Name: "retrievePlayersOf", NeedsToken: true, RooterOnly: true, Params: []Param{ref}, Handler: g.retrievePlayersOf},
		{Name: "retrieveSubmissions", NeedsToken: true, Params: []Param{ref}, Handler: g.retrieveSubmissions},
	}
}

func (g *Gateway) publicKey(ctx context.Context, call *Call) (interface{}, error) {
	return g.keys.PublicKeyPEM(), nil
}

func (g *Gateway) describeAPI(ctx context.Context, call *Call) (interface{}, error) {
	return g.DescribeAPI(call.Actor), nil
}

func (g *Gateway) register(role identity.Role) Handler {
	return func(ctx context.Context, call *Call) (interface{}, error) {
		name, err := call.String("name")
		if err != nil {
			return nil, err
		}
		password, err := call.String("password")
		if err != nil {
			return nil, err
		}
		pem, err := call.String("publicKey")
		if err != nil {
			return nil, err
		}
		var actor identity.Actor
		if role == identity.RoleRooter {
			actor, err = g.identity.RegisterRooter(ctx, name, password, pem)
		} else {
			actor, err = g.identity.RegisterPlayer(ctx, name, password, pem)
		}
		if err != nil {
			return nil, err
		}
		call.ReplyTo(actor.PublicKey)
		return actor.Token, nil
	}
}

func (g *Gateway) listProblems(ctx context.Context, call *Call) (interface{}, error) {
	return g.problems.List(), nil
}

func (g *Gateway) registerProblem(ctx context.Context, call *Call) (interface{}, error) {
	title, err := call.String("title")
	if err != nil {
		return nil, err
	}
	description, err := call.String("description")
	if err != nil {
		return nil, err
	}
	public, err := call.StringList("publicTests")
	if err != nil {
		return nil, err
	}
	hidden, err := call.StringList("hiddenTests")
	if err != nil {
		return nil, err
	}
	p, err := g.problems.Register(ctx, call.Actor.Token, call.Actor.DisplayName, problem.NewProblem{
		Title:       title,
		Description: description,
		PublicTests: public,
		HiddenTests: hidden,
	})
	if err != nil {
		return nil, err
	}
	return p.FullView(), nil
}

func (g *Gateway) retrieveProblem(ctx context.Context, call *Call) (interface{}, error) {
	p, err := g.problemArg(call)
	if err != nil {
		return nil, err
	}
	if call.Actor.IsRooter() {
		return p.FullView(), nil
	}
	return p.PublicView(), nil
}

func (g *Gateway) retrievePublicProblem(ctx context.Context, call *Call) (interface{}, error) {
	p, err := g.problemArg(call)
	if err != nil {
		return nil, err
	}
	return p.PublicView(), nil
}

func (g *Gateway) setSession(open bool) Handler {
	return func(ctx context.Context, call *Call) (interface{}, error) {
		ref, err := call.Ref("problem")
		if err != nil {
			return nil, err
		}
		p, err := g.problems.SetOpen(ctx, ref, open)
		if err != nil {
			return nil, err
		}
		return p.PublicView(), nil
	}
}

// SubmissionView is the answer to submitSolution.
type SubmissionView struct {
	ProblemID int64           `json:"problemId"`
	Results   []grader.Result `json:"results"`
	Passed    int             `json:"passed"`
	Total     int             `json:"total"`
	AllPassed bool            `json:"allPassed"`
	Trace     string          `json:"trace,omitempty"`
}

func (g *Gateway) submitSolution(ctx context.Context, call *Call) (interface{}, error) {
	p, err := g.problemArg(call)
	if err != nil {
		return nil, err
	}
	source, err := call.String("source")
	if err != nil {
		return nil, err
	}
	if !p.Open {
		return nil, pkgerrors.Newf(pkgerrors.ProblemSessionClosed, "Problem %d session is closed", p.ID)
	}
	if err := g.limiter.Allow(ctx, call.Actor.Token); err != nil {
		return nil, err
	}

	unlock, err := g.ledger.Lock(ctx, call.Actor.Token, p.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the ledger lock so the run sees every committed test.
	p, err = g.problems.Get(fmt.Sprint(p.ID))
	if err != nil {
		return nil, err
	}
	outcome, err := g.judge.Run(ctx, grader.Request{
		SourceName: p.SourceName(),
		Source:     source,
		Tests:      p.AllTests(),
	})
	if err != nil {
		return nil, err
	}
	sub := ledger.Submission{
		ProblemID:   p.ID,
		Source:      source,
		Results:     outcome.Results,
		Trace:       outcome.Trace,
		SubmittedAt: g.now(),
	}
	g.ledger.Record(call.Actor.Token, sub)
	logger.Info(ctx, "solution judged",
		zap.Int64("problem_id", p.ID),
		zap.Int("passed", sub.Passed()),
		zap.Int("total", len(sub.Results)),
	)
	return g.submissionView(call.Actor, sub), nil
}

func (g *Gateway) submissionView(actor identity.Actor, sub ledger.Submission) SubmissionView {
	view := SubmissionView{
		ProblemID: sub.ProblemID,
		Results:   sub.Results,
		Passed:    sub.Passed(),
		Total:     len(sub.Results),
		AllPassed: sub.AllPassed(),
	}
	// The raw trace may quote hidden test sources.
	if actor.IsRooter() {
		view.Trace = sub.Trace
	}
	return view
}

func (g *Gateway) submitTest(ctx context.Context, call *Call) (interface{}, error) {
	ref, err := call.Ref("problem")
	if err != nil {
		return nil, err
	}
	source, err := call.String("source")
	if err != nil {
		return nil, err
	}
	if err := g.limiter.Allow(ctx, call.Actor.Token); err != nil {
		return nil, err
	}
	t, err := g.admission.Submit(ctx, call.Actor.Token, ref, source)
	if err != nil {
		return nil, err
	}
	return problem.TestView{Name: t.Name, Source: t.Source}, nil
}

func (g *Gateway) addTest(typ problem.TestType) Handler {
	return func(ctx context.Context, call *Call) (interface{}, error) {
		ref, err := call.Ref("problem")
		if err != nil {
			return nil, err
		}
		source, err := call.String("source")
		if err != nil {
			return nil, err
		}
		t, err := g.problems.AddTest(ctx, ref, call.Actor.Token, typ, source)
		if err != nil {
			return nil, err
		}
		return problem.TestView{Name: t.Name, Source: t.Source}, nil
	}
}

func (g *Gateway) retrieveReport(ctx context.Context, call *Call) (interface{}, error) {
	p, err := g.problemArg(call)
	if err != nil {
		return nil, err
	}
	player, err := call.String("player")
	if err != nil {
		return nil, err
	}
	if !call.Actor.IsRooter() {
		if player != "" && player != call.Actor.Token {
			return nil, pkgerrors.PermissionError("Players may only retrieve their own report")
		}
		return g.buildReport(ctx, p, call.Actor.Token), nil
	}
	if player != "" {
		if _, err := g.identity.Lookup(player); err != nil {
			return nil, pkgerrors.Newf(pkgerrors.NotFound, "Player %s does not exist", player)
		}
		return g.buildReport(ctx, p, player), nil
	}
	var reports []report.PlayerReport
	for _, tok := range g.participants(p) {
		reports = append(reports, g.buildReport(ctx, p, tok))
	}
	return reports, nil
}

func (g *Gateway) buildReport(ctx context.Context, p problem.Problem, token string) report.PlayerReport {
	return g.reports.Build(ctx, report.Input{
		Player:      g.identity.DisplayName(token),
		PlayerToken: token,
		Problem:     p,
		Submissions: g.ledger.All(token, p.ID),
	})
}

// PlayerView identifies a participant.
type PlayerView struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

func (g *Gateway) retrievePlayersOf(ctx context.Context, call *Call) (interface{}, error) {
	p, err := g.problemArg(call)
	if err != nil {
		return nil, err
	}
	out := []PlayerView{}
	for _, tok := range g.participants(p) {
		out = append(out, PlayerView{Token: tok, Name: g.identity.DisplayName(tok)})
	}
	return out, nil
}

// participants is the union of submitters and community test authors.
func (g *Gateway) participants(p problem.Problem) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(tok string) {
		if _, ok := seen[tok]; !ok {
			seen[tok] = struct{}{}
			out = append(out, tok)
		}
	}
	for _, tok := range g.ledger.Participants(p.ID) {
		add(tok)
	}
	for _, tok := range p.CommunityAuthors() {
		add(tok)
	}
	return out
}

func (g *Gateway) retrieveSubmissions(ctx context.Context, call *Call) (interface{}, error) {
	p, err := g.problemArg(call)
	if err != nil {
		return nil, err
	}
	out := []SubmissionView{}
	for _, sub := range g.ledger.All(call.Actor.Token, p.ID) {
		out = append(out, g.submissionView(call.Actor, sub))
	}
	return out, nil
}

func (g *Gateway) problemArg(call *Call) (problem.Problem, error) {
	ref, err := call.Ref("problem")
	if err != nil {
		return problem.Problem{}, err
	}
	return g.problems.Get(ref)
}
