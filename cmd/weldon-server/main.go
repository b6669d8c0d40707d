package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"weldon/internal/admission"
	"weldon/internal/common/cache"
	"weldon/internal/crypto/hybrid"
	"weldon/internal/gateway"
	"weldon/internal/grader"
	"weldon/internal/identity"
	"weldon/internal/ledger"
	"weldon/internal/problem"
	"weldon/internal/ratelimit"
	"weldon/internal/report"
	"weldon/internal/testshape"
	"weldon/internal/transport/grpcapi"
	"weldon/internal/transport/httpapi"
	"weldon/internal/transport/tcp"
	"weldon/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "configs/weldon.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "server stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	gw, cleanup, err := buildGateway(ctx, appCfg)
	if err != nil {
		return err
	}
	defer cleanup()

	tcpServer, err := tcp.NewServer(gw, appCfg.Server.TCP)
	if err != nil {
		return fmt.Errorf("build tcp server failed: %w", err)
	}
	tcpListener, err := net.Listen("tcp", appCfg.Server.TCP.Addr)
	if err != nil {
		return fmt.Errorf("init tcp listener failed: %w", err)
	}

	var httpServer *http.Server
	var httpListener net.Listener
	if appCfg.Server.HTTP.Addr != "" {
		httpServer = httpapi.NewServer(gw, appCfg.Server.HTTP)
		if httpListener, err = net.Listen("tcp", appCfg.Server.HTTP.Addr); err != nil {
			_ = tcpListener.Close()
			return fmt.Errorf("init http listener failed: %w", err)
		}
	}

	grpcServer := grpcapi.NewServer(gw, appCfg.Server.GRPC)
	var grpcListener net.Listener
	if appCfg.Server.GRPC.Addr != "" {
		if grpcListener, err = net.Listen("tcp", appCfg.Server.GRPC.Addr); err != nil {
			_ = tcpListener.Close()
			if httpListener != nil {
				_ = httpListener.Close()
			}
			return fmt.Errorf("init grpc listener failed: %w", err)
		}
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	group, groupCtx := errgroup.WithContext(signalCtx)

	group.Go(func() error {
		logger.Info(ctx, "tcp server started", zap.String("addr", appCfg.Server.TCP.Addr))
		if err := tcpServer.Serve(tcpListener); err != nil && !errors.Is(err, tcp.ErrServerClosed) {
			return fmt.Errorf("tcp server: %w", err)
		}
		return nil
	})
	if httpServer != nil {
		group.Go(func() error {
			logger.Info(ctx, "http server started", zap.String("addr", appCfg.Server.HTTP.Addr))
			if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}
	if grpcListener != nil {
		group.Go(func() error {
			logger.Info(ctx, "grpc server started", zap.String("addr", appCfg.Server.GRPC.Addr))
			if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info(ctx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tcpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "tcp server shutdown failed", zap.Error(err))
		}
		if httpServer != nil {
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error(ctx, "http server shutdown failed", zap.Error(err))
			}
		}
		grpcServer.GracefulStop()
		return nil
	})

	return group.Wait()
}

// buildGateway wires the registries, judge, reports and limiter.
func buildGateway(ctx context.Context, appCfg *AppConfig) (*gateway.Gateway, func(), error) {
	cleanup := func() {}

	keys, err := loadKeys(appCfg.Crypto)
	if err != nil {
		return nil, cleanup, fmt.Errorf("init server key failed: %w", err)
	}

	ids, err := identity.NewRegistry(identity.Config{
		PlayerSecret: appCfg.Identity.PlayerSecret,
		RooterSecret: appCfg.Identity.RooterSecret,
		Testers:      appCfg.Identity.Testers,
		BcryptCost:   appCfg.Identity.BcryptCost,
	})
	if err != nil {
		return nil, cleanup, fmt.Errorf("init identity registry failed: %w", err)
	}

	engine, err := grader.NewCommandEngine(grader.CommandConfig{
		Command:     appCfg.Judge.Command,
		WorkRoot:    appCfg.Judge.WorkRoot,
		KeepWorkDir: appCfg.Judge.KeepWorkDir,
	})
	if err != nil {
		return nil, cleanup, fmt.Errorf("init judge engine failed: %w", err)
	}
	runner, err := grader.NewRunner(grader.RunnerConfig{
		Engine:        engine,
		Timeout:       appCfg.Judge.Timeout,
		MaxConcurrent: appCfg.Judge.MaxConcurrent,
	})
	if err != nil {
		return nil, cleanup, fmt.Errorf("init judge runner failed: %w", err)
	}

	var scorer report.StyleScorer
	if appCfg.Style.Enabled {
		commandScorer, err := report.NewCommandScorer(report.CommandScorerConfig{
			Command: appCfg.Style.Command,
			Timeout: appCfg.Style.Timeout,
			WorkDir: appCfg.Judge.WorkRoot,
		})
		if err != nil {
			return nil, cleanup, fmt.Errorf("init style scorer failed: %w", err)
		}
		scorer = commandScorer
	}

	var limiter ratelimit.Limiter = ratelimit.Noop{}
	if appCfg.RateLimit.Enabled {
		redisCache, err := cache.NewRedisCache(ctx, appCfg.RateLimit.Redis)
		if err != nil {
			return nil, cleanup, fmt.Errorf("init redis failed: %w", err)
		}
		cleanup = func() { _ = redisCache.Close() }
		fixed, err := ratelimit.NewFixedWindow(redisCache, ratelimit.Config{
			Prefix:       appCfg.RateLimit.Prefix,
			Max:          appCfg.RateLimit.Max,
			Window:       appCfg.RateLimit.Window,
			StoreTimeout: appCfg.RateLimit.Redis.ReadTimeout,
		})
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("init rate limiter failed: %w", err)
		}
		limiter = fixed
	}

	problems := problem.NewRegistry(testshape.NewPython())
	led := ledger.New()
	ctrl, err := admission.New(admission.Config{
		Problems: problems,
		Ledger:   led,
		Judge:    runner,
		Testers:  ids,
	})
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("init admission controller failed: %w", err)
	}

	gw, err := gateway.New(gateway.Config{
		Keys:      keys,
		Identity:  ids,
		Problems:  problems,
		Ledger:    led,
		Admission: ctrl,
		Judge:     runner,
		Reports:   report.NewBuilder(scorer),
		Limiter:   limiter,
	})
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("init gateway failed: %w", err)
	}
	logger.Info(ctx, "gateway ready",
		zap.Int("commands", len(gw.Commands())),
		zap.Bool("rate_limited", appCfg.RateLimit.Enabled),
		zap.Bool("style_scorer", scorer != nil),
	)
	return gw, cleanup, nil
}

func loadKeys(cfg CryptoConfig) (*hybrid.KeyPair, error) {
	if cfg.KeyFile != "" {
		return hybrid.LoadOrGenerate(cfg.KeyFile, cfg.KeyBits)
	}
	return hybrid.GenerateKeyPair(cfg.KeyBits)
}
