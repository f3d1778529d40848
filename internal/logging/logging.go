// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package logging configures the global zerolog logger: level from
// config, pretty console output to stdout when no log file is set, and
// size-rotated file output via lumberjack otherwise.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/infohound/infohound/internal/domain"
)

const defaultMaxBackups = 3

// Setup installs cfg's level and output on zerolog's global logger.
func Setup(cfg domain.Config) {
	zerolog.SetGlobalLevel(parseLevel(cfg.LogLevel))
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var w interface {
		Write([]byte) (int, error)
	}
	if cfg.LogPath == "" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	} else {
		maxSize := cfg.LogMaxSize
		if maxSize <= 0 {
			maxSize = 50
		}
		w = &lumberjack.Logger{
			Filename:   cfg.LogPath,
			MaxSize:    maxSize,
			MaxBackups: defaultMaxBackups,
			Compress:   true,
		}
	}

	log.Logger = zerolog.New(w).With().Timestamp().Caller().Logger()
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
