// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package cleanup implements the bounded eviction sweep: TTL eviction,
// low-seed pruning, and an optional hard cap, each scoped to a per-tick
// wall-clock budget and batch cap.
package cleanup

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/infohound/infohound/internal/domain"
)

const (
	defaultEverySecs        = 10
	defaultBatch            = 5000
	defaultMaxMs            = 1000
	defaultTTLSecs          = 24 * 60 * 60
	defaultLowSeedGraceSecs = 20 * 60
	yieldEvery              = 250
)

// Store is the subset of internal/storage.Store the cleanup worker
// depends on.
type Store interface {
	RangeLastSeenUpTo(cutoffMs int64, maxEntries int, fn func(ts int64, hex string) bool) (int, error)
	RangeLowSeedUpTo(cutoffMs int64, maxEntries int, fn func(ts int64, hex string) bool) (int, error)
	Get(hex string) (domain.TorrentRecord, bool)
	Delete(hex string) error
	FixLastSeenIndexEntry(indexedTs int64, r domain.TorrentRecord) error
	FixLowSeedIndexEntry(indexedTs int64, r domain.TorrentRecord) error
	DropStaleLastSeenEntry(ts int64, hex string) error
	DropStaleLowSeedEntry(ts int64, hex string) error
	OldestLastSeen() (ts int64, hex string, ok bool)
	CountLastSeen() int
}

// TextIndex is the subset of internal/textindex.Index the cleanup
// worker depends on.
type TextIndex interface {
	Delete(hash string) error
	MaybeCommit() error
}

// Config bundles the cleanup worker's tuning knobs.
type Config struct {
	Enabled          bool
	EverySecs        int
	Batch            int
	MaxMs            int
	TTLSecs          int
	LowSeedGraceSecs int
	MaxTorrents      int
}

// ConfigFrom extracts a cleanup.Config from the application config.
func ConfigFrom(c domain.Config) Config {
	return Config{
		Enabled:          c.CleanupEnabled,
		EverySecs:        orDefault(c.CleanupEverySecs, defaultEverySecs),
		Batch:            orDefault(c.CleanupBatch, defaultBatch),
		MaxMs:            orDefault(c.CleanupMaxMs, defaultMaxMs),
		TTLSecs:          orDefault(c.TorrentTTLSecs, defaultTTLSecs),
		LowSeedGraceSecs: orDefault(c.LowSeedGraceSecs, defaultLowSeedGraceSecs),
		MaxTorrents:      c.MaxTorrents,
	}
}

func orDefault(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

// Worker runs the bounded three-phase sweep on a tick.
type Worker struct {
	cfg   Config
	store Store
	index TextIndex
}

// New constructs a cleanup Worker.
func New(cfg Config, store Store, index TextIndex) *Worker {
	return &Worker{cfg: cfg, store: store, index: index}
}

// Run ticks every cfg.EverySecs until ctx is cancelled. Disabled
// workers return immediately.
func (w *Worker) Run(ctx context.Context) error {
	if !w.cfg.Enabled {
		return nil
	}

	ticker := time.NewTicker(time.Duration(w.cfg.EverySecs) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.tick(ctx, time.Now().UnixMilli())
		}
	}
}

// tick runs all three phases, bounded by the tick's wall-clock budget
// and batch cap, and issues a single maybe_commit if any deletion
// happened.
func (w *Worker) tick(ctx context.Context, nowMs int64) {
	deadline := time.Now().Add(time.Duration(w.cfg.MaxMs) * time.Millisecond)
	budget := w.cfg.Batch
	deletedAny := false

	ttlCutoff := nowMs - int64(w.cfg.TTLSecs)*1000
	if w.phaseTTL(ctx, deadline, ttlCutoff, &budget) {
		deletedAny = true
	}

	if budget > 0 && time.Now().Before(deadline) {
		graceCutoff := nowMs - int64(w.cfg.LowSeedGraceSecs)*1000
		if w.phaseLowSeed(ctx, deadline, graceCutoff, &budget) {
			deletedAny = true
		}
	}

	if w.cfg.MaxTorrents > 0 && budget > 0 && time.Now().Before(deadline) {
		if w.phaseHardCap(ctx, deadline, w.cfg.MaxTorrents, &budget) {
			deletedAny = true
		}
	}

	if deletedAny {
		if err := w.index.MaybeCommit(); err != nil {
			log.Warn().Err(err).Msg("cleanup: maybe_commit failed")
		}
	}
}

type tsHex struct {
	ts  int64
	hex string
}

// phaseTTL implements spec.md §4.6 phase 1: range-scan idx_last_seen up
// to the TTL cutoff, deleting records whose last_seen is actually
// stale and repairing index entries that drifted.
func (w *Worker) phaseTTL(ctx context.Context, deadline time.Time, cutoffMs int64, budget *int) bool {
	deletedAny := false
	for *budget > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return deletedAny
		default:
		}

		chunk := *budget
		if chunk > yieldEvery {
			chunk = yieldEvery
		}

		var batch []tsHex
		n, err := w.store.RangeLastSeenUpTo(cutoffMs, chunk, func(ts int64, hex string) bool {
			batch = append(batch, tsHex{ts, hex})
			return true
		})
		if err != nil {
			log.Warn().Err(err).Msg("cleanup: ttl range scan failed")
			return deletedAny
		}
		*budget -= n
		if n == 0 {
			return deletedAny
		}

		for _, e := range batch {
			rec, ok := w.store.Get(e.hex)
			if !ok {
				_ = w.store.DropStaleLastSeenEntry(e.ts, e.hex)
				continue
			}
			if rec.LastSeenUnixMs <= cutoffMs {
				if err := w.store.Delete(e.hex); err != nil {
					log.Debug().Err(err).Str("hash", e.hex).Msg("cleanup: ttl delete failed")
					continue
				}
				_ = w.index.Delete(e.hex)
				deletedAny = true
				continue
			}
			if err := w.store.FixLastSeenIndexEntry(e.ts, rec); err != nil {
				log.Debug().Err(err).Str("hash", e.hex).Msg("cleanup: fix last_seen index failed")
			}
		}

		if n < chunk {
			return deletedAny
		}
	}
	return deletedAny
}

// phaseLowSeed implements spec.md §4.6 phase 2: range-scan
// idx_low_seed up to the grace cutoff, deleting records that are both
// still under the seed threshold and past grace.
func (w *Worker) phaseLowSeed(ctx context.Context, deadline time.Time, graceCutoffMs int64, budget *int) bool {
	deletedAny := false
	for *budget > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return deletedAny
		default:
		}

		chunk := *budget
		if chunk > yieldEvery {
			chunk = yieldEvery
		}

		var batch []tsHex
		n, err := w.store.RangeLowSeedUpTo(graceCutoffMs, chunk, func(ts int64, hex string) bool {
			batch = append(batch, tsHex{ts, hex})
			return true
		})
		if err != nil {
			log.Warn().Err(err).Msg("cleanup: low-seed range scan failed")
			return deletedAny
		}
		*budget -= n
		if n == 0 {
			return deletedAny
		}

		for _, e := range batch {
			rec, ok := w.store.Get(e.hex)
			if !ok {
				_ = w.store.DropStaleLowSeedEntry(e.ts, e.hex)
				continue
			}
			if !rec.LowSeed() {
				_ = w.store.FixLowSeedIndexEntry(e.ts, rec)
				continue
			}
			if rec.FirstSeenUnixMs <= graceCutoffMs {
				if err := w.store.Delete(e.hex); err != nil {
					log.Debug().Err(err).Str("hash", e.hex).Msg("cleanup: low-seed delete failed")
					continue
				}
				_ = w.index.Delete(e.hex)
				deletedAny = true
				continue
			}
			if err := w.store.FixLowSeedIndexEntry(e.ts, rec); err != nil {
				log.Debug().Err(err).Str("hash", e.hex).Msg("cleanup: fix low-seed index failed")
			}
		}

		if n < chunk {
			return deletedAny
		}
	}
	return deletedAny
}

// phaseHardCap implements spec.md §4.6 phase 3: while idx_last_seen
// exceeds maxTorrents, evict the single oldest entry. Stops on any
// iteration that fails to evict.
func (w *Worker) phaseHardCap(ctx context.Context, deadline time.Time, maxTorrents int, budget *int) bool {
	deletedAny := false
	scanned := 0
	for *budget > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return deletedAny
		default:
		}

		if w.store.CountLastSeen() <= maxTorrents {
			return deletedAny
		}

		_, hex, ok := w.store.OldestLastSeen()
		if !ok {
			return deletedAny
		}
		if err := w.store.Delete(hex); err != nil {
			log.Debug().Err(err).Str("hash", hex).Msg("cleanup: hard-cap evict failed")
			return deletedAny
		}
		_ = w.index.Delete(hex)
		deletedAny = true
		*budget--
		scanned++
		if scanned%yieldEvery == 0 {
			select {
			case <-ctx.Done():
				return deletedAny
			default:
			}
		}
	}
	return deletedAny
}
