package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"weldon/internal/cli/state"
	"weldon/internal/wire"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

// Caller is the client surface the REPL needs.
type Caller interface {
	Call(ctx context.Context, command string, args []interface{}, kwargs map[string]interface{}) (wire.RawResponse, error)
	PublicKeyPEM() string
}

// ErrExit is returned by Execute when the user asks to leave.
var ErrExit = errors.New("exit")

const tokenParam = "token"

// Session holds REPL state.
type Session struct {
	client     Caller
	session    *state.Session
	statePath  string
	prettyJSON bool
	out        io.Writer
	readFile   func(string) ([]byte, error)
	// api maps command names to parameter names, as reported by describeApi.
	api map[string][]string
}

func New(client Caller, session *state.Session, statePath string, prettyJSON bool, out io.Writer) *Session {
	if out == nil {
		out = os.Stdout
	}
	return &Session{
		client:     client,
		session:    session,
		statePath:  statePath,
		prettyJSON: prettyJSON,
		out:        out,
		readFile:   os.ReadFile,
		api:        map[string][]string{},
	}
}

// Run reads lines until EOF or exit.
func (s *Session) Run(ctx context.Context, historyFile string) error {
	if s.session.Token != "" {
		if err := s.RefreshAPI(ctx); err != nil {
			s.printLine("describeApi failed: %v", err)
		}
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "weldon> ",
		HistoryFile:     historyFile,
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer rl.Close()
	s.out = rl.Stdout()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := s.Execute(ctx, line); err != nil {
			if errors.Is(err, ErrExit) {
				s.printLine("bye")
				return nil
			}
			s.printLine("error: %v", err)
			continue
		}
		rl.Config.AutoComplete = s.completer()
	}
}

// Execute runs one input line.
func (s *Session) Execute(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}
	switch tokens[0] {
	case "exit", "quit":
		return ErrExit
	case "help":
		s.printHelp()
		return nil
	case "show":
		return s.handleShow(tokens[1:])
	case "set":
		return s.handleSet(tokens[1:])
	case "api":
		if err := s.RefreshAPI(ctx); err != nil {
			return err
		}
		s.printAPI()
		return nil
	case "register":
		return s.handleRegister(ctx, tokens[1:])
	case "logout":
		*s.session = state.Session{Server: s.session.Server}
		s.api = map[string][]string{}
		return state.Clear(s.statePath)
	}
	return s.handleCommand(ctx, tokens[0], tokens[1:])
}

// RefreshAPI reloads the command surface for the current token.
func (s *Session) RefreshAPI(ctx context.Context) error {
	resp, err := s.client.Call(ctx, "describeApi", []interface{}{s.session.Token}, nil)
	if err != nil {
		return err
	}
	api := map[string][]string{}
	if err := resp.Decode(&api); err != nil {
		return err
	}
	s.api = api
	return nil
}

func (s *Session) handleRegister(ctx context.Context, args []string) error {
	if len(args) != 3 || (args[0] != "player" && args[0] != "rooter") {
		return fmt.Errorf("usage: register player|rooter <name> <password>")
	}
	command := "registerPlayer"
	if args[0] == "rooter" {
		command = "registerRooter"
	}
	callArgs := []interface{}{args[1], args[2]}
	if pem := s.client.PublicKeyPEM(); pem != "" {
		callArgs = append(callArgs, pem)
	}
	resp, err := s.client.Call(ctx, command, callArgs, nil)
	if err != nil {
		return err
	}
	var token string
	if err := resp.Decode(&token); err != nil {
		return err
	}
	s.session.Token = token
	s.session.Name = args[1]
	s.session.Role = args[0]
	if err := state.Save(s.statePath, *s.session); err != nil {
		return err
	}
	s.printLine("registered %s as %s", args[1], args[0])
	return s.RefreshAPI(ctx)
}

func (s *Session) handleCommand(ctx context.Context, name string, tokens []string) error {
	params, known := s.api[name]
	if !known && len(s.api) > 0 {
		return fmt.Errorf("unknown command: %s (try help or api)", name)
	}
	accepts := make(map[string]bool, len(params))
	for _, p := range params {
		accepts[p] = true
	}

	var args []interface{}
	if len(params) > 0 && params[0] == tokenParam {
		if s.session.Token == "" {
			return fmt.Errorf("%s needs a token: register first", name)
		}
		args = append(args, s.session.Token)
	}
	kwargs := map[string]interface{}{}
	for _, tok := range tokens {
		if key, raw, ok := strings.Cut(tok, "="); ok && accepts[key] && key != tokenParam {
			value, err := s.parseValue(raw)
			if err != nil {
				return err
			}
			kwargs[key] = value
			continue
		}
		value, err := s.parseValue(tok)
		if err != nil {
			return err
		}
		args = append(args, value)
	}

	resp, err := s.client.Call(ctx, name, args, kwargs)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	return nil
}

// parseValue turns one shell word into an argument. @path reads a file,
// a comma separated list of @paths reads several files into a list, and
// JSON numbers or arrays are decoded. Everything else is a string.
func (s *Session) parseValue(raw string) (interface{}, error) {
	if strings.HasPrefix(raw, "@") {
		parts := strings.Split(raw, ",")
		if len(parts) == 1 {
			data, err := s.readFile(raw[1:])
			if err != nil {
				return nil, fmt.Errorf("read %s failed: %w", raw[1:], err)
			}
			return string(data), nil
		}
		sources := make([]string, 0, len(parts))
		for _, p := range parts {
			if !strings.HasPrefix(p, "@") {
				return nil, fmt.Errorf("invalid file list %q", raw)
			}
			data, err := s.readFile(p[1:])
			if err != nil {
				return nil, fmt.Errorf("read %s failed: %w", p[1:], err)
			}
			sources = append(sources, string(data))
		}
		return sources, nil
	}
	if strings.HasPrefix(raw, "[") {
		var list []string
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			return list, nil
		}
	}
	var n json.Number
	if err := json.Unmarshal([]byte(raw), &n); err == nil {
		return n, nil
	}
	return raw, nil
}

func (s *Session) handleShow(args []string) error {
	what := ""
	if len(args) > 0 {
		what = args[0]
	}
	switch what {
	case "token":
		if s.session.Token == "" {
			s.printLine("token: <empty>")
			return nil
		}
		token := s.session.Token
		if len(token) > 12 {
			token = token[:6] + "..." + token[len(token)-4:]
		}
		s.printLine("token: %s (%s %s)", token, s.session.Role, s.session.Name)
	case "config":
		s.printLine("server: %s", s.session.Server)
		s.printLine("statePath: %s", s.statePath)
	case "api":
		s.printAPI()
	default:
		s.printLine("usage: show token|config|api")
	}
	return nil
}

func (s *Session) handleSet(args []string) error {
	if len(args) != 2 || args[0] != "token" {
		return fmt.Errorf("usage: set token <token>")
	}
	s.session.Token = args[1]
	if err := state.Save(s.statePath, *s.session); err != nil {
		return err
	}
	s.printLine("token updated")
	return nil
}

func (s *Session) renderResponse(resp wire.RawResponse) {
	if resp.Status != wire.StatusSucceed {
		s.printLine("failed: %v", resp.Decode(nil))
		return
	}
	var msg string
	if err := json.Unmarshal(resp.Payload, &msg); err == nil {
		s.printLine("%s", msg)
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Payload, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Payload))
}

func (s *Session) commandNames() []string {
	names := make([]string, 0, len(s.api))
	for name := range s.api {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Session) completer() *readline.PrefixCompleter {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("api"),
		readline.PcItem("logout"),
		readline.PcItem("register", readline.PcItem("player"), readline.PcItem("rooter")),
		readline.PcItem("show", readline.PcItem("token"), readline.PcItem("config"), readline.PcItem("api")),
		readline.PcItem("set", readline.PcItem("token")),
	}
	for _, name := range s.commandNames() {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

func (s *Session) printAPI() {
	for _, name := range s.commandNames() {
		params := s.api[name]
		if len(params) > 0 && params[0] == tokenParam {
			params = params[1:]
		}
		s.printLine("  %s %s", name, strings.Join(params, " "))
	}
}

func (s *Session) printHelp() {
	s.printLine("usage: <command> [value ...] [param=value ...]")
	s.printLine("system: help | exit | api | logout | register player|rooter <name> <password> | show token|config|api | set token <token>")
	s.printLine("values: @file reads a file, @a.py,@b.py reads a list, JSON numbers and arrays are decoded")
	s.printLine("examples:")
	s.printLine("  register player alice <password>")
	s.printLine("  retrieveProblem 1")
	s.printLine("  submitSolution revcomp @solution.py")
	s.printLine("  registerProblem revcomp \"Reverse complement\" publicTests=@t1.py,@t2.py")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
