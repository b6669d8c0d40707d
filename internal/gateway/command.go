package gateway

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"weldon/internal/identity"
	"weldon/internal/wire"
	pkgerrors "weldon/pkg/errors"
)

// ParamType describes how an argument is decoded.
type ParamType int

const (
	ParamString ParamType = iota
	// ParamRef is a problem id (number) or title (string).
	ParamRef
	ParamStringList
)

// Param is one named command parameter.
type Param struct {
	Name     string
	Type     ParamType
	Optional bool
}

const tokenParam = "token"

// Handler runs a command once its arguments are bound and its token checked.
type Handler func(ctx context.Context, call *Call) (interface{}, error)

// Command is a static registry entry.
type Command struct {
	Name       string
	Params     []Param
	NeedsToken bool
	RooterOnly bool
	Handler    Handler
}

// ParamNames lists the parameter names in positional order, token first.
func (c Command) ParamNames() []string {
	names := make([]string, 0, len(c.Params)+1)
	if c.NeedsToken {
		names = append(names, tokenParam)
	}
	for _, p := range c.Params {
		names = append(names, p.Name)
	}
	return names
}

// Call is a bound invocation.
type Call struct {
	Command string
	Actor   identity.Actor
	args    map[string]json.RawMessage
	// replyTo, when set, receives the response encrypted.
	replyTo *rsa.PublicKey
}

// ReplyTo sets the key the response is encrypted for.
func (c *Call) ReplyTo(pub *rsa.PublicKey) {
	c.replyTo = pub
}

// Has reports whether name was supplied.
func (c *Call) Has(name string) bool {
	_, ok := c.args[name]
	return ok
}

// String decodes a string argument.
func (c *Call) String(name string) (string, error) {
	raw, ok := c.args[name]
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", argError(name, "must be a string")
	}
	return s, nil
}

// Ref decodes a problem reference given as a number or a string.
func (c *Call) Ref(name string) (string, error) {
	raw, ok := c.args[name]
	if !ok {
		return "", nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
			return "", argError(name, "must be an integer id or a title")
		}
		return n.String(), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", argError(name, "must be an integer id or a title")
	}
	return s, nil
}

// StringList decodes a list of strings. A single string is a one element list.
func (c *Call) StringList(name string) ([]string, error) {
	raw, ok := c.args[name]
	if !ok {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, argError(name, "must be a list of strings")
	}
	return []string{s}, nil
}

// bind maps positional and named arguments onto the command parameters.
func bind(cmd Command, req wire.Request) (map[string]json.RawMessage, error) {
	names := cmd.ParamNames()
	if len(req.Args) > len(names) {
		return nil, pkgerrors.ProtocolError(nil,
			fmt.Sprintf("%s takes at most %d arguments, got %d", cmd.Name, len(names), len(req.Args)))
	}
	args := make(map[string]json.RawMessage, len(names))
	for i, raw := range req.Args {
		args[names[i]] = raw
	}
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	for name, raw := range req.Kwargs {
		if !known[name] {
			return nil, pkgerrors.ProtocolError(nil, fmt.Sprintf("%s got an unexpected argument %q", cmd.Name, name))
		}
		if _, dup := args[name]; dup {
			return nil, pkgerrors.ProtocolError(nil, fmt.Sprintf("%s got multiple values for argument %q", cmd.Name, name))
		}
		args[name] = raw
	}

	var missing []string
	if cmd.NeedsToken {
		if _, ok := args[tokenParam]; !ok {
			missing = append(missing, tokenParam)
		}
	}
	for _, p := range cmd.Params {
		if _, ok := args[p.Name]; !ok && !p.Optional {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return nil, pkgerrors.ProtocolError(nil,
			fmt.Sprintf("%s is missing arguments: %s", cmd.Name, strings.Join(missing, ", ")))
	}
	return args, nil
}

func argError(name, reason string) error {
	return pkgerrors.ValidationError(name, reason)
}
