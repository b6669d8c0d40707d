// Package report builds per-player reports on a problem, including a
// static-analysis score of the final submission.
package report

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	pkgerrors "weldon/pkg/errors"

	"github.com/google/shlex"
)

// StyleScorer scores source code style.
type StyleScorer interface {
	Score(ctx context.Context, moduleName, source string) (StyleReport, error)
}

// StyleReport is the outcome of a style run.
type StyleReport struct {
	Rating    float64  `json:"rating"`
	HasRating bool     `json:"hasRating"`
	Messages  []string `json:"messages"`
}

const (
	// DefaultPylintCommand is run with {file} replaced by the source path.
	DefaultPylintCommand = "python3 -m pylint --persistent=n --score=y {file}"

	filePlaceholder     = "{file}"
	defaultStyleTimeout = 20 * time.Second
)

var (
	pylintRating  = regexp.MustCompile(`Your code has been rated at (-?[0-9.]+)/10`)
	pylintMessage = regexp.MustCompile(`^[^\s:]+:\d+:\d+: [A-Z]\d{4}: `)
)

// ParsePylintOutput extracts the rating and message lines from pylint output.
func ParsePylintOutput(output, path, moduleName string) StyleReport {
	var rep StyleReport
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \r")
		if path != "" {
			line = strings.ReplaceAll(line, path, moduleName)
		}
		if m := pylintRating.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(strings.TrimSuffix(m[1], "."), 64); err == nil {
				rep.Rating = v
				rep.HasRating = true
			}
			continue
		}
		if pylintMessage.MatchString(line) {
			rep.Messages = append(rep.Messages, line)
		}
	}
	return rep
}

// CommandScorer runs an external linter through a command template.
type CommandScorer struct {
	argv    []string
	timeout time.Duration
	workDir string
}

// CommandScorerConfig configures CommandScorer.
type CommandScorerConfig struct {
	Command string
	Timeout time.Duration
	WorkDir string
}

// NewCommandScorer parses the command template.
func NewCommandScorer(cfg CommandScorerConfig) (*CommandScorer, error) {
	command := cfg.Command
	if command == "" {
		command = DefaultPylintCommand
	}
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse style command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("style command is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultStyleTimeout
	}
	return &CommandScorer{argv: argv, timeout: timeout, workDir: cfg.WorkDir}, nil
}

// Score implements StyleScorer.
func (s *CommandScorer) Score(ctx context.Context, moduleName, source string) (StyleReport, error) {
	dir, err := os.MkdirTemp(s.workDir, "weldon-style-")
	if err != nil {
		return StyleReport{}, pkgerrors.Wrapf(err, pkgerrors.StyleScorerError, "create style dir: %v", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, moduleName+".py")
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		return StyleReport{}, pkgerrors.Wrapf(err, pkgerrors.StyleScorerError, "write source: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	args := make([]string, len(s.argv))
	for i, a := range s.argv {
		args[i] = strings.ReplaceAll(a, filePlaceholder, path)
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err = cmd.Run()
	if ctx.Err() != nil {
		return StyleReport{}, pkgerrors.Newf(pkgerrors.StyleScorerError, "style scorer timed out after %s", s.timeout)
	}
	// pylint exits non-zero whenever it emits messages.
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return StyleReport{}, pkgerrors.Wrapf(err, pkgerrors.StyleScorerError, "run style scorer: %v", err)
	}
	return ParsePylintOutput(buf.String(), path, moduleName), nil
}
