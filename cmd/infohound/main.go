// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/infohound/infohound/internal/cleanup"
	"github.com/infohound/infohound/internal/config"
	"github.com/infohound/infohound/internal/enrich"
	"github.com/infohound/infohound/internal/logging"
	"github.com/infohound/infohound/internal/metrics"
	"github.com/infohound/infohound/internal/spider"
	"github.com/infohound/infohound/internal/storage"
	"github.com/infohound/infohound/internal/textindex"
)

func main() {
	root := &cobra.Command{
		Use:   "infohound",
		Short: "Standalone BitTorrent DHT discovery and search daemon",
	}
	root.PersistentFlags().String("config", "config.toml", "Path to the config file")

	root.AddCommand(runServeCommand())
	root.AddCommand(RunDBCommand())

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("infohound: exiting")
	}
}

func runServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the spider, enrichment, and cleanup workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			return serve(cmd.Context(), configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.New(configPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Config)

	store, err := storage.Open(cfg.GetDataDir())
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureMissingInfoIndex(); err != nil {
		return err
	}
	if err := store.EnsureCleanupIndexes(); err != nil {
		return err
	}

	index, err := textindex.Open(cfg.GetDataDir())
	if err != nil {
		return err
	}
	defer index.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	if cfg.SpiderEnabled {
		sp := spider.New(spider.ConfigFrom(cfg.Config), store, index)
		group.Go(func() error {
			log.Info().Msg("spider: starting")
			return sp.Run(ctx)
		})
	} else {
		log.Info().Msg("spider: disabled, skipping")
	}

	enrichWorker := enrich.New(enrich.ConfigFrom(cfg.Config), store, index)
	group.Go(func() error {
		log.Info().Msg("enrich: starting")
		return enrichWorker.Run(ctx)
	})

	cleanupWorker := cleanup.New(cleanup.ConfigFrom(cfg.Config), store, index)
	group.Go(func() error {
		log.Info().Msg("cleanup: starting")
		return cleanupWorker.Run(ctx)
	})

	if cfg.MetricsEnabled {
		group.Go(func() error {
			return serveMetrics(ctx, cfg.MetricsHost, cfg.MetricsPort)
		})
	}

	return group.Wait()
}

// serveMetrics runs the Prometheus /metrics endpoint until ctx is
// cancelled, then shuts it down gracefully.
func serveMetrics(ctx context.Context, host string, port int) error {
	mgr := metrics.NewManager()

	mux := http.NewServeMux()
	mux.Handle("/metrics", mgr.Handler())

	srv := &http.Server{
		Addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("metrics: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
