// Package gateway binds wire requests to the grading commands and wraps
// every outcome into a response envelope.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"weldon/internal/admission"
	"weldon/internal/crypto/hybrid"
	"weldon/internal/identity"
	"weldon/internal/ledger"
	"weldon/internal/problem"
	"weldon/internal/ratelimit"
	"weldon/internal/report"
	"weldon/internal/wire"
	pkgerrors "weldon/pkg/errors"
	"weldon/pkg/utils/contextkey"
	"weldon/pkg/utils/logger"

	"go.uber.org/zap"
)

// Config holds gateway dependencies.
type Config struct {
	Keys      *hybrid.KeyPair
	Identity  *identity.Registry
	Problems  *problem.Registry
	Ledger    *ledger.Ledger
	Admission *admission.Controller
	Judge     admission.Judge
	Reports   *report.Builder
	// Limiter throttles judge-triggering commands. Defaults to no limit.
	Limiter ratelimit.Limiter
}

// Gateway is the command dispatcher shared by every transport.
type Gateway struct {
	keys      *hybrid.KeyPair
	identity  *identity.Registry
	problems  *problem.Registry
	ledger    *ledger.Ledger
	admission *admission.Controller
	judge     admission.Judge
	reports   *report.Builder
	limiter   ratelimit.Limiter
	commands  map[string]Command
	now       func() time.Time
}

// New validates cfg and builds the command registry.
func New(cfg Config) (*Gateway, error) {
	switch {
	case cfg.Keys == nil:
		return nil, fmt.Errorf("server key pair is required")
	case cfg.Identity == nil:
		return nil, fmt.Errorf("identity registry is required")
	case cfg.Problems == nil:
		return nil, fmt.Errorf("problem registry is required")
	case cfg.Ledger == nil:
		return nil, fmt.Errorf("ledger is required")
	case cfg.Admission == nil:
		return nil, fmt.Errorf("admission controller is required")
	case cfg.Judge == nil:
		return nil, fmt.Errorf("judge is required")
	case cfg.Reports == nil:
		return nil, fmt.Errorf("report builder is required")
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.Noop{}
	}
	g := &Gateway{
		keys:      cfg.Keys,
		identity:  cfg.Identity,
		problems:  cfg.Problems,
		ledger:    cfg.Ledger,
		admission: cfg.Admission,
		judge:     cfg.Judge,
		reports:   cfg.Reports,
		limiter:   limiter,
		now:       time.Now,
	}
	g.commands = make(map[string]Command)
	for _, cmd := range g.registry() {
		g.commands[cmd.Name] = cmd
	}
	return g, nil
}

// Commands returns the registry sorted by name.
func (g *Gateway) Commands() []Command {
	out := make([]Command, 0, len(g.commands))
	for _, c := range g.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DescribeAPI lists the commands visible to actor with their parameters.
func (g *Gateway) DescribeAPI(actor identity.Actor) map[string][]string {
	out := make(map[string][]string, len(g.commands))
	for name, cmd := range g.commands {
		if cmd.RooterOnly && !actor.IsRooter() {
			continue
		}
		out[name] = cmd.ParamNames()
	}
	return out
}

// DispatchBytes decodes one serialised envelope, runs it and returns the
// serialised response envelope.
func (g *Gateway) DispatchBytes(ctx context.Context, data []byte) []byte {
	var resp wire.Envelope
	env, err := wire.DecodeEnvelope(data)
	if err != nil {
		resp = g.failed(ctx, err)
	} else {
		resp = g.Dispatch(ctx, env)
	}
	out, err := wire.EncodeEnvelope(resp)
	if err != nil {
		// Envelopes only carry strings; this cannot fail in practice.
		logger.Error(ctx, "encode response envelope failed", zap.Error(err))
		return []byte(`{"encryptionKey":null,"payload":"{\"status\":\"failed\",\"payload\":\"Internal server error\"}"}`)
	}
	return out
}

// Dispatch opens env, runs the command and seals the result. It never fails:
// every error becomes a failed response.
func (g *Gateway) Dispatch(ctx context.Context, env wire.Envelope) wire.Envelope {
	start := time.Now()
	payload, encrypted, err := wire.Open(env, g.keys)
	if err != nil {
		return g.failed(ctx, err)
	}
	req, err := wire.DecodeRequest(payload)
	if err != nil {
		return g.failed(ctx, err)
	}
	ctx = context.WithValue(ctx, contextkey.Command, req.Command)

	call, result, err := g.invoke(ctx, req)
	var resp wire.Response
	if err != nil {
		resp = wire.Fail(err)
		g.logFailure(ctx, err)
	} else {
		resp = wire.Succeed(result)
	}
	logger.Info(ctx, "command dispatched",
		zap.String("status", string(resp.Status)),
		zap.Bool("encrypted_request", encrypted),
		zap.Duration("elapsed", time.Since(start)),
	)

	body, err := json.Marshal(resp)
	if err != nil {
		return g.failed(ctx, pkgerrors.Wrapf(err, pkgerrors.InternalServerError, "encode response: %v", err))
	}
	out, err := wire.Seal(body, call.replyTo)
	if err != nil {
		return g.failed(ctx, err)
	}
	return out
}

// invoke binds and runs req. The returned call is never nil.
func (g *Gateway) invoke(ctx context.Context, req wire.Request) (call *Call, result interface{}, err error) {
	call = &Call{Command: req.Command}
	cmd, ok := g.commands[req.Command]
	if !ok {
		return call, nil, pkgerrors.Newf(pkgerrors.UnknownCommand, "Unknown command %s", req.Command)
	}
	args, err := bind(cmd, req)
	if err != nil {
		return call, nil, err
	}
	call.args = args

	if cmd.NeedsToken {
		token, err := call.String(tokenParam)
		if err != nil {
			return call, nil, err
		}
		actor, err := g.identity.Validate(token, cmd.Name, cmd.RooterOnly)
		if err != nil {
			// Known tokens still get their answer encrypted.
			if known, lookupErr := g.identity.Lookup(token); lookupErr == nil {
				call.replyTo = known.PublicKey
			}
			return call, nil, err
		}
		call.Actor = actor
		call.replyTo = actor.PublicKey
		ctx = context.WithValue(ctx, contextkey.Role, string(actor.Role))
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "command panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			result = nil
			err = pkgerrors.New(pkgerrors.InternalServerError)
		}
	}()
	result, err = cmd.Handler(ctx, call)
	return call, result, err
}

func (g *Gateway) failed(ctx context.Context, err error) wire.Envelope {
	g.logFailure(ctx, err)
	body, _ := json.Marshal(wire.Fail(err))
	env, _ := wire.Seal(body, nil)
	return env
}

func (g *Gateway) logFailure(ctx context.Context, err error) {
	appErr := pkgerrors.GetError(err)
	fields := []zap.Field{
		zap.Int("code", int(appErr.Code)),
		zap.String("kind", string(appErr.Code.Kind())),
		zap.String("message", appErr.Error()),
	}
	if appErr.Code.Kind() == pkgerrors.KindInternal {
		logger.Error(ctx, "command failed", append(fields, zap.String("stack", appErr.Stack))...)
		return
	}
	logger.Warn(ctx, "command failed", fields...)
}
