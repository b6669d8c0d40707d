package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"weldon/internal/cli/state"
	"weldon/internal/wire"
)

type recordedCall struct {
	command string
	args    []interface{}
	kwargs  map[string]interface{}
}

type fakeCaller struct {
	calls   []recordedCall
	replies map[string]wire.RawResponse
}

func (f *fakeCaller) Call(ctx context.Context, command string, args []interface{}, kwargs map[string]interface{}) (wire.RawResponse, error) {
	f.calls = append(f.calls, recordedCall{command: command, args: args, kwargs: kwargs})
	if resp, ok := f.replies[command]; ok {
		return resp, nil
	}
	return succeed("ok"), nil
}

func (f *fakeCaller) PublicKeyPEM() string { return "PEM" }

func succeed(v interface{}) wire.RawResponse {
	raw, _ := json.Marshal(v)
	return wire.RawResponse{Status: wire.StatusSucceed, Payload: raw}
}

func newSession(t *testing.T, caller *fakeCaller) (*Session, *bytes.Buffer, string) {
	t.Helper()
	out := &bytes.Buffer{}
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(caller, &state.Session{Server: "tcp://test"}, path, false, out)
	s.readFile = func(name string) ([]byte, error) {
		switch name {
		case "a.py":
			return []byte("def test_a():\n    assert True\n"), nil
		case "b.py":
			return []byte("def test_b():\n    assert True\n"), nil
		}
		return nil, errors.New("no such file")
	}
	return s, out, path
}

func TestRegisterStoresTokenAndLoadsAPI(t *testing.T) {
	caller := &fakeCaller{replies: map[string]wire.RawResponse{
		"registerPlayer": succeed("tok-123"),
		"describeApi": succeed(map[string][]string{
			"submitSolution": {"token", "problem", "source"},
			"publicKey":      {},
		}),
	}}
	s, _, path := newSession(t, caller)

	if err := s.Execute(context.Background(), "register player alice secret"); err != nil {
		t.Fatalf("register: %v", err)
	}
	first := caller.calls[0]
	if first.command != "registerPlayer" || len(first.args) != 3 || first.args[2] != "PEM" {
		t.Fatalf("unexpected register call %+v", first)
	}
	saved, err := state.Load(path)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if saved.Token != "tok-123" || saved.Name != "alice" || saved.Role != "player" {
		t.Fatalf("unexpected saved state %+v", saved)
	}
	if _, ok := s.api["submitSolution"]; !ok {
		t.Fatalf("api not refreshed")
	}
}

func TestCommandPrependsTokenAndReadsFiles(t *testing.T) {
	caller := &fakeCaller{}
	s, _, _ := newSession(t, caller)
	s.session.Token = "tok"
	s.api = map[string][]string{
		"submitSolution":  {"token", "problem", "source"},
		"registerProblem": {"token", "title", "description", "publicTests", "hiddenTests"},
	}

	if err := s.Execute(context.Background(), "submitSolution 3 @a.py"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	call := caller.calls[0]
	if len(call.args) != 3 || call.args[0] != "tok" {
		t.Fatalf("unexpected args %+v", call.args)
	}
	if n, ok := call.args[1].(json.Number); !ok || n.String() != "3" {
		t.Fatalf("problem ref should be numeric, got %#v", call.args[1])
	}
	if !strings.HasPrefix(call.args[2].(string), "def test_a") {
		t.Fatalf("file not read: %#v", call.args[2])
	}

	if err := s.Execute(context.Background(), `registerProblem revcomp "reverse it" publicTests=@a.py,@b.py`); err != nil {
		t.Fatalf("execute: %v", err)
	}
	call = caller.calls[1]
	list, ok := call.kwargs["publicTests"].([]string)
	if !ok || len(list) != 2 {
		t.Fatalf("unexpected publicTests %#v", call.kwargs["publicTests"])
	}
	if call.args[2] != "reverse it" {
		t.Fatalf("quoted argument not preserved: %#v", call.args)
	}
}

func TestCommandErrors(t *testing.T) {
	caller := &fakeCaller{}
	s, _, _ := newSession(t, caller)
	s.api = map[string][]string{"listProblems": {"token"}}

	tests := []struct {
		name string
		line string
	}{
		{name: "unknown command", line: "nope"},
		{name: "missing token", line: "listProblems"},
		{name: "bad quoting", line: `listProblems "open`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Execute(context.Background(), tt.line); err == nil {
				t.Fatalf("expected error for %q", tt.line)
			}
		})
	}
	if len(caller.calls) != 0 {
		t.Fatalf("no call should reach the server, got %d", len(caller.calls))
	}
}

func TestRenderFailure(t *testing.T) {
	caller := &fakeCaller{replies: map[string]wire.RawResponse{
		"retrieveProblem": {Status: wire.StatusFailed, Payload: json.RawMessage(`"Problem 9 does not exist"`)},
	}}
	s, out, _ := newSession(t, caller)
	s.session.Token = "tok"
	s.api = map[string][]string{"retrieveProblem": {"token", "problem"}}

	if err := s.Execute(context.Background(), "retrieveProblem 9"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "failed: Problem 9 does not exist") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestExitAndLogout(t *testing.T) {
	s, _, path := newSession(t, &fakeCaller{})
	s.session.Token = "tok"
	if err := state.Save(path, *s.session); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Execute(context.Background(), "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if s.session.Token != "" {
		t.Fatalf("token not cleared")
	}
	if err := s.Execute(context.Background(), "exit"); !errors.Is(err, ErrExit) {
		t.Fatalf("expected ErrExit, got %v", err)
	}
}
