// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/spf13/cobra"

	"github.com/infohound/infohound/internal/config"
	"github.com/infohound/infohound/internal/storage"
	"github.com/infohound/infohound/internal/textindex"
)

// RunDBCommand groups read-only inspection subcommands against the
// on-disk store, for use while the main process is stopped.
func RunDBCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect the on-disk store",
	}

	cmd.AddCommand(runDBStatsCommand())
	return cmd
}

func runDBStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report record and index counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}

			cfg, err := config.New(configPath)
			if err != nil {
				return err
			}

			store, err := storage.Open(cfg.GetDataDir())
			if err != nil {
				return err
			}
			defer store.Close()

			idx, err := textindex.Open(cfg.GetDataDir())
			if err != nil {
				return err
			}
			defer idx.Close()

			stats, err := store.Stats()
			if err != nil {
				return err
			}
			docs, err := idx.DocCount()
			if err != nil {
				return err
			}

			cmd.Printf("torrents:      %d\n", stats.Torrents)
			cmd.Printf("missing info:  %d\n", stats.MissingInfo)
			cmd.Printf("low seed:      %d\n", stats.LowSeed)
			cmd.Printf("indexed docs:  %d\n", docs)
			return nil
		},
	}

	return cmd
}
