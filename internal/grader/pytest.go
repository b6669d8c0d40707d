package grader

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
	"strings"
	"time"

	"weldon/internal/problem"
	pkgerrors "weldon/pkg/errors"

	"github.com/google/shlex"
	"github.com/google/uuid"
)

const (
	// DefaultPytestCommand is run with {dir} replaced by the work directory.
	DefaultPytestCommand = "python3 -m pytest {dir} -vv -p no:cacheprovider"

	dirPlaceholder = "{dir}"

	// waitDelay bounds how long Run waits for output pipes after the
	// process group has been killed.
	waitDelay = 500 * time.Millisecond
)

var pytestLine = regexp.MustCompile(`^[/\\a-zA-Z_0-9.:-]*test_(public|hidden|community)_cases\.py::(test_[a-zA-Z_0-9]+) (PASSED|FAILED)`)

// ParsePytestOutput extracts per-test verdicts from verbose pytest output.
// It is the only place that knows the pytest text format.
func ParsePytestOutput(output string) []Result {
	var out []Result
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		m := pytestLine.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			continue
		}
		out = append(out, Result{
			Name:      m[2],
			Type:      problem.TestType(m[1]),
			Succeeded: m[3] == "PASSED",
		})
	}
	return out
}

// CommandConfig configures CommandEngine.
type CommandConfig struct {
	// Command is a shell-like template; {dir} is replaced by the work directory.
	Command string
	// WorkRoot is where per-run directories are created. Defaults to os.TempDir().
	WorkRoot string
	// KeepWorkDir leaves run directories behind for debugging.
	KeepWorkDir bool
}

// CommandEngine writes the source and suites to a fresh directory and runs
// pytest on it. It does not isolate the executed code.
type CommandEngine struct {
	argv        []string
	workRoot    string
	keepWorkDir bool
}

// NewCommandEngine parses the command template.
func NewCommandEngine(cfg CommandConfig) (*CommandEngine, error) {
	command := cfg.Command
	if command == "" {
		command = DefaultPytestCommand
	}
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse judge command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("judge command is empty")
	}
	root := cfg.WorkRoot
	if root == "" {
		root = os.TempDir()
	}
	return &CommandEngine{argv: argv, workRoot: root, keepWorkDir: cfg.KeepWorkDir}, nil
}

// Run implements Engine.
func (e *CommandEngine) Run(ctx context.Context, req Request) (Outcome, error) {
	dir := filepath.Join(e.workRoot, "weldon-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Outcome{}, pkgerrors.Wrapf(err, pkgerrors.JudgeSystemError, "create work dir: %v", err)
	}
	if !e.keepWorkDir {
		defer os.RemoveAll(dir)
	}
	if err := writeRunFiles(dir, req); err != nil {
		return Outcome{}, pkgerrors.Wrapf(err, pkgerrors.JudgeSystemError, "prepare run: %v", err)
	}

	args := make([]string, len(e.argv))
	for i, a := range e.argv {
		args[i] = strings.ReplaceAll(a, dirPlaceholder, dir)
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	isolateProcessGroup(cmd)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	// Leftover children must not outlive the run.
	_ = killProcessGroup(cmd)
	if ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) {
		return Outcome{}, pkgerrors.Wrapf(err, pkgerrors.JudgeSystemError, "run judge: %v", err)
	}
	trace := buf.String()
	return Outcome{Results: ParsePytestOutput(trace), Trace: trace}, nil
}

func writeRunFiles(dir string, req Request) error {
	sourceName := req.SourceName
	if sourceName == "" {
		sourceName = "solution"
	}
	if err := os.WriteFile(filepath.Join(dir, sourceName+".py"), []byte(req.Source), 0o644); err != nil {
		return err
	}
	header := fmt.Sprintf("import pytest\nfrom %s import *\n", sourceName)
	for _, typ := range problem.TestTypes {
		var b strings.Builder
		b.WriteString(header)
		for _, t := range req.Tests {
			if t.Type != typ {
				continue
			}
			b.WriteString("\n\n")
			b.WriteString(t.Source)
		}
		name := fmt.Sprintf("test_%s_cases.py", typ)
		if err := os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0o644); err != nil {
			return err
		}
	}
	return nil
}
