package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/duckmesh/duckmesh-source/internal/cli/sourcectl"
	"github.com/duckmesh/duckmesh-source/internal/config"
	"github.com/duckmesh/duckmesh-source/internal/connector"
	"github.com/duckmesh/duckmesh-source/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnvFiles("duckmesh-sourcectl", ".env")
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}

	// stdout carries NDJSON, so logs go to stderr
	logger := observability.NewLogger(cfg, os.Stderr)
	loader, err := connector.NewDescriptorLoader(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to initialize descriptor loader: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := sourcectl.Run(ctx, os.Args[1:], sourcectl.Options{
		Connector: connector.New(cfg, loader, logger),
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
	})
	stop()
	os.Exit(code)
}
