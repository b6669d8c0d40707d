package main

import (
	"fmt"
	"os"
	"time"

	"weldon/internal/common/cache"
	"weldon/internal/crypto/hybrid"
	"weldon/internal/grader"
	"weldon/internal/transport/grpcapi"
	"weldon/internal/transport/httpapi"
	"weldon/internal/transport/tcp"
	"weldon/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultTCPAddr         = "0.0.0.0:4242"
	defaultShutdownTimeout = 10 * time.Second
	defaultJudgeTimeout    = 30 * time.Second
	defaultJudgeConcurrent = 4
	defaultStyleTimeout    = 30 * time.Second
	defaultRateWindow      = time.Minute
	defaultRatePrefix      = "weldon:rl"
)

// ServerConfig selects the transports to run. Empty addresses disable
// the HTTP and gRPC listeners; TCP is always on.
type ServerConfig struct {
	TCP             tcp.Config     `yaml:"tcp"`
	HTTP            httpapi.Config `yaml:"http"`
	GRPC            grpcapi.Config `yaml:"grpc"`
	ShutdownTimeout time.Duration  `yaml:"shutdownTimeout"`
}

// IdentityConfig holds role secrets. Secrets may be bcrypt hashes.
type IdentityConfig struct {
	PlayerSecret string   `yaml:"playerSecret"`
	RooterSecret string   `yaml:"rooterSecret"`
	Testers      []string `yaml:"testers"`
	BcryptCost   int      `yaml:"bcryptCost"`
}

// CryptoConfig holds the server key settings.
type CryptoConfig struct {
	KeyBits int `yaml:"keyBits"`
	// KeyFile persists the key across restarts. Empty means a fresh key
	// per process.
	KeyFile string `yaml:"keyFile"`
}

// JudgeConfig holds the test runner settings.
type JudgeConfig struct {
	Command       string        `yaml:"command"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int64         `yaml:"maxConcurrent"`
	WorkRoot      string        `yaml:"workRoot"`
	KeepWorkDir   bool          `yaml:"keepWorkDir"`
}

// StyleConfig holds the style scorer settings.
type StyleConfig struct {
	Enabled bool          `yaml:"enabled"`
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// RateLimitConfig throttles judge-triggering commands per actor.
type RateLimitConfig struct {
	Enabled bool              `yaml:"enabled"`
	Prefix  string            `yaml:"prefix"`
	Window  time.Duration     `yaml:"window"`
	Max     int               `yaml:"max"`
	Redis   cache.RedisConfig `yaml:"redis"`
}

// AppConfig holds the server configuration.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Logger    logger.Config   `yaml:"logger"`
	Identity  IdentityConfig  `yaml:"identity"`
	Crypto    CryptoConfig    `yaml:"crypto"`
	Judge     JudgeConfig     `yaml:"judge"`
	Style     StyleConfig     `yaml:"style"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.TCP.Addr == "" {
		cfg.Server.TCP.Addr = defaultTCPAddr
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Crypto.KeyBits == 0 {
		cfg.Crypto.KeyBits = hybrid.DefaultKeyBits
	}
	if cfg.Judge.Command == "" {
		cfg.Judge.Command = grader.DefaultPytestCommand
	}
	if cfg.Judge.Timeout == 0 {
		cfg.Judge.Timeout = defaultJudgeTimeout
	}
	if cfg.Judge.MaxConcurrent == 0 {
		cfg.Judge.MaxConcurrent = defaultJudgeConcurrent
	}
	if cfg.Style.Timeout == 0 {
		cfg.Style.Timeout = defaultStyleTimeout
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = defaultRateWindow
	}
	if cfg.RateLimit.Prefix == "" {
		cfg.RateLimit.Prefix = defaultRatePrefix
	}
}

func (c *AppConfig) validate() error {
	if c.Identity.PlayerSecret == "" || c.Identity.RooterSecret == "" {
		return fmt.Errorf("identity.playerSecret and identity.rooterSecret are required")
	}
	if c.Crypto.KeyBits < hybrid.MinKeyBits {
		return fmt.Errorf("crypto.keyBits must be at least %d", hybrid.MinKeyBits)
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Redis.Addr == "" {
			return fmt.Errorf("rateLimit.redis.addr is required when rate limiting is enabled")
		}
		if c.RateLimit.Max <= 0 {
			return fmt.Errorf("rateLimit.max must be positive")
		}
	}
	return nil
}
