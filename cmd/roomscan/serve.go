package main

import (
	"context"
	"fmt"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/dshills/roomscan-mcp/internal/app"
	"github.com/dshills/roomscan-mcp/internal/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scan ingestion trigger",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().String("nats-url", "", "NATS server; empty runs ingestion in-process")
	if err := v.BindPFlag("http.addr", serveCmd.Flags().Lookup("addr")); err != nil {
		panic(err)
	}
	if err := v.BindPFlag("nats.url", serveCmd.Flags().Lookup("nats-url")); err != nil {
		panic(err)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), terminationSignals...)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("shutdown incomplete", "error", err)
		}
	}()

	trigger, err := a.StartTrigger(ctx)
	if err != nil {
		return fmt.Errorf("start trigger: %w", err)
	}

	srv := httpapi.New(httpapi.Deps{
		Ingester: a.Ingester,
		Trigger:  trigger,
		Searcher: a.Searcher,
		Store:    a.Store,
		Metrics:  a.Metrics,
		Logger:   logger,
	})

	logger.Info("roomscan starting",
		"version", version,
		"storage", cfg.Storage.Driver,
		"embedding", cfg.Embedding.Provider,
		"nats", cfg.NATS.URL != "")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.HTTP.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
