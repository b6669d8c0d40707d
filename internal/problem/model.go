// Package problem holds problems, their test suites and the registry that
// owns them.
package problem

import (
	"fmt"
	"strings"

	"weldon/internal/testshape"
	pkgerrors "weldon/pkg/errors"
)

// TestType is the suite a test belongs to.
type TestType string

const (
	TestPublic    TestType = "public"
	TestHidden    TestType = "hidden"
	TestCommunity TestType = "community"
)

// TestTypes lists every suite in execution order.
var TestTypes = []TestType{TestPublic, TestHidden, TestCommunity}

// ParseTestType accepts the lowercase suite name.
func ParseTestType(s string) (TestType, error) {
	for _, t := range TestTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", pkgerrors.ValidationError("type", fmt.Sprintf("unknown test type %q", s))
}

// Test is a validated unit test. Build it with NewTest.
type Test struct {
	Name   string   `json:"name"`
	Source string   `json:"source"`
	Author string   `json:"-"`
	Type   TestType `json:"type"`
}

// NewTest normalises source and runs it through the shape validator.
func NewTest(v testshape.Validator, source, author string, typ TestType) (Test, error) {
	normalized := NormalizeSource(source)
	name, err := v.Validate(normalized)
	if err != nil {
		if pkgerrors.KindOf(err) == pkgerrors.KindTestValidation {
			return Test{}, err
		}
		return Test{}, pkgerrors.TestValidationError(err.Error())
	}
	return Test{Name: name, Source: normalized, Author: author, Type: typ}, nil
}

// NormalizeSource strips surrounding blank lines and ends the source with a
// single newline.
func NormalizeSource(source string) string {
	source = strings.ReplaceAll(source, "\r\n", "\n")
	return strings.Trim(source, "\n") + "\n"
}

// Problem is one exercise with its three suites.
type Problem struct {
	ID          int64
	Title       string
	Description string
	Public      []Test
	Hidden      []Test
	Community   []Test
	Author      string
	AuthorName  string
	Open        bool
}

// Suite returns the tests of one type.
func (p *Problem) Suite(t TestType) []Test {
	switch t {
	case TestPublic:
		return p.Public
	case TestHidden:
		return p.Hidden
	default:
		return p.Community
	}
}

// AllTests returns every test in execution order.
func (p *Problem) AllTests() []Test {
	out := make([]Test, 0, len(p.Public)+len(p.Hidden)+len(p.Community))
	out = append(out, p.Public...)
	out = append(out, p.Hidden...)
	return append(out, p.Community...)
}

// HasTest reports whether name is used by any suite.
func (p *Problem) HasTest(name string) bool {
	for _, t := range p.AllTests() {
		if t.Name == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to mutate.
func (p *Problem) Clone() Problem {
	out := *p
	out.Public = append([]Test(nil), p.Public...)
	out.Hidden = append([]Test(nil), p.Hidden...)
	out.Community = append([]Test(nil), p.Community...)
	return out
}

// WithTest returns a copy of p with t appended to its suite.
func (p *Problem) WithTest(t Test) Problem {
	out := p.Clone()
	switch t.Type {
	case TestPublic:
		out.Public = append(out.Public, t)
	case TestHidden:
		out.Hidden = append(out.Hidden, t)
	default:
		out.Community = append(out.Community, t)
	}
	return out
}

// CommunityAuthors returns the distinct authors of community tests.
func (p *Problem) CommunityAuthors() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range p.Community {
		if _, ok := seen[t.Author]; ok {
			continue
		}
		seen[t.Author] = struct{}{}
		out = append(out, t.Author)
	}
	return out
}

// TestView is the client-facing form of a test.
type TestView struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// PublicView is what players may see: hidden tests are stripped.
type PublicView struct {
	ID             int64      `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Author         string     `json:"author"`
	IsOpen         bool       `json:"isOpen"`
	PublicTests    []TestView `json:"publicTests"`
	CommunityTests []TestView `json:"communityTests"`
	HiddenCount    int        `json:"hiddenTestCount"`
}

// FullView adds hidden tests for rooters.
type FullView struct {
	PublicView
	HiddenTests []TestView `json:"hiddenTests"`
}

// PublicView builds the player view.
func (p *Problem) PublicView() PublicView {
	return PublicView{
		ID:             p.ID,
		Title:          p.Title,
		Description:    p.Description,
		Author:         p.AuthorName,
		IsOpen:         p.Open,
		PublicTests:    views(p.Public),
		CommunityTests: views(p.Community),
		HiddenCount:    len(p.Hidden),
	}
}

// FullView builds the rooter view.
func (p *Problem) FullView() FullView {
	return FullView{PublicView: p.PublicView(), HiddenTests: views(p.Hidden)}
}

func views(tests []Test) []TestView {
	out := make([]TestView, 0, len(tests))
	for _, t := range tests {
		out = append(out, TestView{Name: t.Name, Source: t.Source})
	}
	return out
}

// Summary is a listing entry.
type Summary struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	IsOpen         bool   `json:"isOpen"`
	PublicTests    int    `json:"publicTests"`
	HiddenTests    int    `json:"hiddenTests"`
	CommunityTests int    `json:"communityTests"`
}

// SourceName is the module name candidate sources are saved under, and the
// one every test file imports from.
func (p *Problem) SourceName() string {
	return fmt.Sprintf("problem%d", p.ID)
}
