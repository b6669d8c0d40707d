// Package testshape checks that contributed test code has the shape of a
// single self-contained pytest test function.
package testshape

import (
	"fmt"
	"regexp"
	"strings"

	pkgerrors "weldon/pkg/errors"
)

// Validator extracts the test name from source, or rejects it with a
// human readable reason.
type Validator interface {
	Validate(source string) (name string, err error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(source string) (string, error)

// Validate implements Validator.
func (f ValidatorFunc) Validate(source string) (string, error) {
	return f(source)
}

var (
	topLevelCallable = regexp.MustCompile(`^(?:async\s+)?(def|class)\s+([A-Za-z_][A-Za-z0-9_]*)\s*(\(([^)]*)\))?\s*(?:->\s*[^:]+)?:`)
	assertionUse     = regexp.MustCompile(`(^|[^A-Za-z0-9_.])assert\b|\bAssertionError\b|\bpytest\.raises\b`)
	forbiddenModule  = regexp.MustCompile(`\b(shutil|importlib)\b`)
	forbiddenBuiltin = regexp.MustCompile(`(^|[^A-Za-z0-9_.])(globals|locals)\s*\(`)
	decoratorLine    = regexp.MustCompile(`^@`)
)

// Python validates pytest style test functions:
//   - exactly one top level callable, a function named test_*
//   - no parameters
//   - it asserts, raises AssertionError, or uses pytest.raises
//   - it does not touch shutil, importlib, globals() or locals()
type Python struct{}

// NewPython returns the default validator.
func NewPython() Python {
	return Python{}
}

// Validate implements Validator.
func (Python) Validate(source string) (string, error) {
	code := maskLiterals(source)
	if strings.TrimSpace(code) == "" {
		return "", reject("No callable found in given source code.")
	}

	type callable struct {
		kind   string
		name   string
		params string
		line   int
	}
	var found []callable
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		if line == "" || line[0] == ' ' || line[0] == '\t' {
			continue
		}
		if decoratorLine.MatchString(line) {
			continue
		}
		if m := topLevelCallable.FindStringSubmatch(line); m != nil {
			found = append(found, callable{kind: m[1], name: m[2], params: m[4], line: i})
		}
	}
	switch {
	case len(found) == 0:
		return "", reject("No callable found in given source code.")
	case len(found) > 1:
		return "", reject("Multiple callables found in given source code.")
	}
	fn := found[0]
	if fn.kind != "def" {
		return "", reject(fmt.Sprintf("Callable '%s' is not a function.", fn.name))
	}
	if !strings.HasPrefix(fn.name, "test_") {
		return "", reject(fmt.Sprintf("Function '%s' name does not start with test_.", fn.name))
	}
	if strings.TrimSpace(fn.params) != "" {
		return "", reject(fmt.Sprintf("Function '%s' must not take parameters.", fn.name))
	}
	if !hasIndentedBody(lines[fn.line+1:]) {
		return "", reject(fmt.Sprintf("Function '%s' has no body.", fn.name))
	}
	if m := forbiddenModule.FindStringSubmatch(code); m != nil {
		return "", reject(fmt.Sprintf("Module '%s' is not allowed in tests.", m[1]))
	}
	if m := forbiddenBuiltin.FindStringSubmatch(code); m != nil {
		return "", reject(fmt.Sprintf("Builtin '%s' is not allowed in tests.", m[2]))
	}
	if !assertionUse.MatchString(code) {
		return "", reject(fmt.Sprintf("Function '%s' never asserts anything.", fn.name))
	}
	return fn.name, nil
}

func hasIndentedBody(lines []string) bool {
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		return line[0] == ' ' || line[0] == '\t'
	}
	return false
}

// maskLiterals drops '#' comments and blanks the contents of string
// literals, triple-quoted ones included, so the rules only see code. Quote
// characters and line structure are kept.
func maskLiterals(source string) string {
	var b strings.Builder
	b.Grow(len(source))
	var quote string
	for i := 0; i < len(source); i++ {
		c := source[i]
		switch {
		case quote != "":
			switch {
			case c == '\\' && i+1 < len(source):
				b.WriteByte(' ')
				i++
				b.WriteByte(blank(source[i]))
			case strings.HasPrefix(source[i:], quote):
				b.WriteString(quote)
				i += len(quote) - 1
				quote = ""
			case c == '\n' && len(quote) == 1:
				// unterminated single-line literal
				b.WriteByte(c)
				quote = ""
			default:
				b.WriteByte(blank(c))
			}
		case c == '#':
			for i+1 < len(source) && source[i+1] != '\n' {
				i++
			}
		case c == '\'' || c == '"':
			quote = string(c)
			if strings.HasPrefix(source[i:], strings.Repeat(quote, 3)) {
				quote = strings.Repeat(quote, 3)
			}
			b.WriteString(quote)
			i += len(quote) - 1
		default:
			b.WriteByte(c)
		}
	}
	lines := strings.Split(b.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.Join(lines, "\n")
}

func blank(c byte) byte {
	if c == '\n' {
		return c
	}
	return ' '
}

func reject(reason string) error {
	return pkgerrors.TestValidationError(reason)
}
