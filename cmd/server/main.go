package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codectx/dev-agent-mcp/internal/config"
	"github.com/codectx/dev-agent-mcp/internal/githubctx"
	"github.com/codectx/dev-agent-mcp/internal/mcp"
	"github.com/codectx/dev-agent-mcp/internal/ratelimit"
	"github.com/codectx/dev-agent-mcp/internal/repomap"
	"github.com/codectx/dev-agent-mcp/internal/search"
	"github.com/codectx/dev-agent-mcp/internal/server"
	"github.com/codectx/dev-agent-mcp/internal/tools"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file (optional, environment variables override it)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.LogLevel)

	registry, err := buildRegistry(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build tool registry")
		os.Exit(1)
	}

	transport := mcp.NewStdioTransport(os.Stdin, os.Stdout)
	srv := server.NewServer(server.Options{
		Info: mcp.ServerInfo{
			Name:    cfg.ServerName,
			Version: cfg.ServerVersion,
		},
		RepoRoot:     cfg.RepoRoot,
		DrainTimeout: time.Duration(cfg.DrainTimeoutSec) * time.Second,
	}, transport, registry)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start server")
		os.Exit(1)
	}

	// Run until the client closes stdin or we catch a signal.
	select {
	case <-ctx.Done():
	case <-srv.Done():
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	srv.Stop(stopCtx)
}

// setupLogging routes structured logs to stderr; stdout carries the wire.
func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

// buildRegistry wires the rate limiter and every configured tool adapter.
func buildRegistry(cfg config.Config) (*tools.Registry, error) {
	limiter, err := ratelimit.NewRateLimiter(ratelimit.Limit{
		Capacity:   cfg.RateCapacity,
		RefillRate: cfg.RateRefill,
	})
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry(limiter, time.Duration(cfg.ToolTimeoutSec)*time.Second)

	repo := repomap.NewRepo(cfg.RepoRoot)
	adapters := []tools.ToolAdapter{
		search.NewAdapter(cfg.RepoRoot),
		repomap.NewMapAdapter(repo),
		repomap.NewOwnersAdapter(repo),
	}
	if cfg.GitHubRepo != "" {
		adapters = append(adapters, githubctx.NewContextAdapter(githubctx.Config{
			APIBase:    cfg.GitHubAPIBase,
			Repo:       cfg.GitHubRepo,
			Token:      cfg.GitHubToken,
			TokenURL:   cfg.GitHubTokenURL,
			TimeoutSec: cfg.APITimeoutSec,
		}))
	}

	for _, adapter := range adapters {
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
