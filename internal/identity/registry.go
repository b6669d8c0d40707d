// Package identity issues opaque session tokens to players and rooters.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"weldon/internal/crypto/hybrid"
	pkgerrors "weldon/pkg/errors"
	"weldon/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Role is the kind of actor holding a token.
type Role string

const (
	RolePlayer Role = "player"
	RoleRooter Role = "rooter"
)

const (
	tokenBytes        = 32
	maxTokenAttempts  = 4
	bcryptHashPrefix  = "$2"
	defaultBcryptCost = bcrypt.DefaultCost
)

// Actor is an authenticated participant. It never changes after registration.
type Actor struct {
	Token       string
	DisplayName string
	Role        Role
	Tester      bool
	PublicKey   *rsa.PublicKey
}

// IsRooter reports whether the actor holds the rooter role.
func (a Actor) IsRooter() bool {
	return a.Role == RoleRooter
}

// Config configures a Registry.
type Config struct {
	// PlayerSecret and RooterSecret are plain text or bcrypt hashes.
	PlayerSecret string
	RooterSecret string
	// Testers lists display names exempt from the last-submission precondition.
	Testers []string
	// NameValidator overrides the default display name policy.
	NameValidator NameValidator
	// BcryptCost is used when hashing plain text secrets.
	BcryptCost int
}

// Registry owns every issued token.
type Registry struct {
	mu           sync.RWMutex
	actors       map[string]Actor
	secrets      map[Role][]byte
	testers      map[string]struct{}
	validateName NameValidator
	newToken     func() (string, error)
}

// NewRegistry hashes the configured secrets and returns an empty registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.PlayerSecret == "" || cfg.RooterSecret == "" {
		return nil, fmt.Errorf("player and rooter secrets are required")
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = defaultBcryptCost
	}
	secrets := make(map[Role][]byte, 2)
	for role, secret := range map[Role]string{RolePlayer: cfg.PlayerSecret, RoleRooter: cfg.RooterSecret} {
		hash, err := hashSecret(secret, cost)
		if err != nil {
			return nil, fmt.Errorf("hash %s secret: %w", role, err)
		}
		secrets[role] = hash
	}
	testers := make(map[string]struct{}, len(cfg.Testers))
	for _, name := range cfg.Testers {
		testers[name] = struct{}{}
	}
	validate := cfg.NameValidator
	if validate == nil {
		validate = DefaultNameValidator
	}
	return &Registry{
		actors:       make(map[string]Actor),
		secrets:      secrets,
		testers:      testers,
		validateName: validate,
		newToken:     randomToken,
	}, nil
}

func hashSecret(secret string, cost int) ([]byte, error) {
	if strings.HasPrefix(secret, bcryptHashPrefix) {
		if _, err := bcrypt.Cost([]byte(secret)); err == nil {
			return []byte(secret), nil
		}
	}
	return bcrypt.GenerateFromPassword([]byte(secret), cost)
}

// RegisterPlayer issues a player token.
func (r *Registry) RegisterPlayer(ctx context.Context, name, password, publicKeyPEM string) (Actor, error) {
	return r.register(ctx, RolePlayer, name, password, publicKeyPEM)
}

// RegisterRooter issues a rooter token.
func (r *Registry) RegisterRooter(ctx context.Context, name, password, publicKeyPEM string) (Actor, error) {
	return r.register(ctx, RoleRooter, name, password, publicKeyPEM)
}

func (r *Registry) register(ctx context.Context, role Role, name, password, publicKeyPEM string) (Actor, error) {
	if err := bcrypt.CompareHashAndPassword(r.secrets[role], []byte(password)); err != nil {
		logger.Warn(ctx, "registration refused", zap.String("role", string(role)), zap.String("name", name))
		return Actor{}, pkgerrors.AuthError(fmt.Sprintf("Wrong password for %s registration", role))
	}
	if ok, reason := r.validateName(name); !ok {
		return Actor{}, pkgerrors.New(pkgerrors.InvalidUsername).
			WithMessagef("Invalid name %q: %s", name, reason).
			WithDetail("reason", reason)
	}
	var pub *rsa.PublicKey
	if strings.TrimSpace(publicKeyPEM) != "" {
		parsed, err := hybrid.ParsePublicKeyPEM(publicKeyPEM)
		if err != nil {
			return Actor{}, pkgerrors.ValidationError("publicKey", err.Error())
		}
		if bits := parsed.N.BitLen(); bits < hybrid.MinKeyBits {
			return Actor{}, pkgerrors.ValidationError("publicKey",
				fmt.Sprintf("rsa key size %d below minimum %d", bits, hybrid.MinKeyBits))
		}
		pub = parsed
	}
	_, tester := r.testers[name]

	r.mu.Lock()
	defer r.mu.Unlock()
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := r.newToken()
		if err != nil {
			return Actor{}, pkgerrors.Wrap(err, pkgerrors.TokenGenerationFailed)
		}
		if _, taken := r.actors[token]; taken {
			continue
		}
		actor := Actor{Token: token, DisplayName: name, Role: role, Tester: tester, PublicKey: pub}
		r.actors[token] = actor
		logger.Info(ctx, "actor registered",
			zap.String("role", string(role)),
			zap.String("name", name),
			zap.Bool("tester", tester),
			zap.Bool("encrypted", pub != nil),
		)
		return actor, nil
	}
	return Actor{}, pkgerrors.New(pkgerrors.TokenGenerationFailed)
}

// Lookup resolves a token without any role check.
func (r *Registry) Lookup(token string) (Actor, error) {
	r.mu.RLock()
	actor, ok := r.actors[token]
	r.mu.RUnlock()
	if !ok {
		return Actor{}, pkgerrors.TokenError()
	}
	return actor, nil
}

// Validate checks that token may perform op. Unknown tokens fail with an
// auth error; players calling a rooter-only op fail with a permission error.
func (r *Registry) Validate(token, op string, rooterOnly bool) (Actor, error) {
	actor, err := r.Lookup(token)
	if err != nil {
		return Actor{}, err
	}
	if rooterOnly && !actor.IsRooter() {
		return Actor{}, pkgerrors.New(pkgerrors.RooterOnly).
			WithMessagef("Given token is not allowed to %s", op)
	}
	return actor, nil
}

// IsTester reports whether token belongs to an allow-listed actor.
func (r *Registry) IsTester(token string) bool {
	actor, err := r.Lookup(token)
	return err == nil && actor.Tester
}

// DisplayName returns the name behind token, or the token itself when unknown.
func (r *Registry) DisplayName(token string) string {
	actor, err := r.Lookup(token)
	if err != nil {
		return token
	}
	return actor.DisplayName
}

// Count returns the number of issued tokens per role.
func (r *Registry) Count() map[Role]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[Role]int{RolePlayer: 0, RoleRooter: 0}
	for _, a := range r.actors {
		out[a.Role]++
	}
	return out
}

func randomToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
