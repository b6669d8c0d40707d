package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"weldon/internal/cli/config"
	"weldon/internal/cli/repl"
	"weldon/internal/cli/state"
	"weldon/internal/client"
	"weldon/internal/crypto/hybrid"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	server := flag.String("server", "", "Override server target (tcp://, http://, grpc://)")
	timeout := flag.Duration("timeout", 0, "Override request timeout (e.g. 30s)")
	token := flag.String("token", "", "Override session token")
	statePath := flag.String("state", "", "Override session state path")
	plain := flag.Bool("plain", false, "Disable request and response encryption")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *server != "" {
		cfg.Server = *server
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}
	encrypt := *cfg.Encrypt && !*plain

	session, err := state.Load(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load session state failed: %v\n", err)
		os.Exit(1)
	}
	if session.Server != "" && session.Server != cfg.Server {
		// Tokens do not survive a change of server.
		session = state.Session{}
	}
	session.Server = cfg.Server
	if *token != "" {
		session.Token = *token
	}

	var keys *hybrid.KeyPair
	if encrypt && cfg.KeyFile != "" {
		if keys, err = hybrid.LoadOrGenerate(cfg.KeyFile, cfg.KeyBits); err != nil {
			fmt.Fprintf(os.Stderr, "load client key failed: %v\n", err)
			os.Exit(1)
		}
	}

	transport, err := client.Dial(cfg.Server, cfg.Timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
		os.Exit(1)
	}
	c := client.New(transport, keys)
	defer c.Close()

	ctx := context.Background()
	if encrypt {
		if err := c.FetchServerKey(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "fetch server key failed: %v\n", err)
			os.Exit(1)
		}
	}

	history := filepath.Join(filepath.Dir(cfg.StatePath), "cli_history")
	shell := repl.New(c, &session, cfg.StatePath, *cfg.PrettyJSON, nil)
	if err := shell.Run(ctx, history); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
