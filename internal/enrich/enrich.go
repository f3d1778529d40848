// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package enrich

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/infohound/infohound/internal/domain"
)

const (
	defaultPeersPerHash           = 64
	defaultDHTPeerCap             = 50
	defaultMaxConcurrent          = 64
	defaultMissingScanLimit       = 256
	defaultQueryTimeoutMs         = 900
	defaultMaxQueriesPerHash      = 32
	defaultOverallDeadlineSecs    = 10
	defaultInflight               = 8
	defaultRecvTimeoutMs          = 250
	defaultMetadataInflight       = 8
	defaultMetadataOverallTimeout = 16
)

// Store is the subset of internal/storage.Store the enrichment worker
// depends on.
type Store interface {
	ListMissingInfo(limit int) ([]domain.TorrentRecord, error)
	SetSeeders(hex string, n int64) (domain.TorrentRecord, error)
	SetMetadata(hex, title, infoB64 string) (domain.TorrentRecord, error)
	Get(hex string) (domain.TorrentRecord, bool)
}

// TextIndex is the subset of internal/textindex.Index the enrichment
// worker depends on.
type TextIndex interface {
	Upsert(hash, title, magnet string, seeders int64) error
	Delete(hash string) error
	MaybeCommit() error
}

// Config bundles the enrichment worker's tuning knobs, sourced from
// domain.Config.
type Config struct {
	MissingScanLimit int
	MaxConcurrent    int
	PeersPerHash     int

	DHTBootstrap      string
	DHTQueryTimeoutMs int
	MaxQueriesPerHash int
	OverallDeadline   time.Duration
	Inflight          int
	RecvTimeoutMs     int

	MetadataInflight       int
	MetadataOverallTimeout time.Duration

	Socks5Proxy    string
	Socks5Username string
	Socks5Password string
}

// ConfigFrom extracts an enrich.Config from the application config.
func ConfigFrom(c domain.Config) Config {
	return Config{
		MissingScanLimit:  orDefault(c.EnrichMissingScanLimit, defaultMissingScanLimit),
		MaxConcurrent:     orDefault(c.EnrichMaxConcurrent, defaultMaxConcurrent),
		PeersPerHash:      orDefault(c.EnrichPeersPerHash, defaultPeersPerHash),
		DHTBootstrap:      c.EnrichDHTBootstrap,
		DHTQueryTimeoutMs: orDefault(c.EnrichDHTQueryTimeoutMs, defaultQueryTimeoutMs),
		MaxQueriesPerHash: orDefault(c.EnrichMaxQueriesPerHash, defaultMaxQueriesPerHash),
		OverallDeadline:   time.Duration(orDefault(c.EnrichOverallDeadlineSecs, defaultOverallDeadlineSecs)) * time.Second,
		Inflight:               orDefault(c.EnrichInflight, defaultInflight),
		RecvTimeoutMs:          orDefault(c.EnrichRecvTimeoutMs, defaultRecvTimeoutMs),
		MetadataInflight:       orDefault(c.EnrichMetadataInflight, defaultMetadataInflight),
		MetadataOverallTimeout: time.Duration(orDefault(c.EnrichMetadataOverallTimeout, defaultMetadataOverallTimeout)) * time.Second,
		Socks5Proxy:            c.Socks5Proxy,
		Socks5Username:         c.Socks5Username,
		Socks5Password:         c.Socks5Password,
	}
}

func orDefault(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

// Worker drains the missing-info index and runs the per-hash
// enrichment pipeline described in spec.md §4.5 on a bounded pool of
// concurrent tasks.
type Worker struct {
	cfg   Config
	store Store
	index TextIndex
}

// New constructs an enrichment Worker.
func New(cfg Config, store Store, index TextIndex) *Worker {
	return &Worker{cfg: cfg, store: store, index: index}
}

// Run drains idx_missing_info in a loop until ctx is cancelled,
// spawning a bounded task per hash.
func (w *Worker) Run(ctx context.Context) error {
	sem := semaphore.NewWeighted(int64(w.cfg.MaxConcurrent))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		records, err := w.store.ListMissingInfo(w.cfg.MissingScanLimit)
		if err != nil {
			log.Warn().Err(err).Msg("enrich: list missing info failed")
			if !sleepCtx(ctx, 5*time.Second) {
				return nil
			}
			continue
		}

		if len(records) == 0 {
			if !sleepCtx(ctx, 5*time.Second) {
				return nil
			}
			continue
		}

		for _, rec := range records {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			rec := rec
			go func() {
				defer sem.Release(1)
				w.enrichOne(ctx, rec.InfoHashHex)
			}()
		}

		if !sleepCtx(ctx, 2*time.Second) {
			return nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// enrichOne runs the full per-hash pipeline: spec.md §4.5 steps 1-7.
// Any step that fails short-circuits with a debug log; there is no
// retry queue, the next spider observation or drain tick retries.
func (w *Worker) enrichOne(ctx context.Context, hexHash string) {
	target, err := parseInfoHashHex(hexHash)
	if err != nil {
		log.Debug().Err(err).Str("hash", hexHash).Msg("enrich: malformed hash, skipping")
		return
	}

	transport, err := w.openTransport()
	if err != nil {
		log.Debug().Err(err).Str("hash", hexHash).Msg("enrich: transport unavailable")
		return
	}
	defer transport.Close()

	var selfID [20]byte
	_, _ = rand.Read(selfID[:])

	bootstrap := resolveBootstrap(w.cfg.DHTBootstrap)
	walk := getPeersWalk(ctx, transport, selfID, target, bootstrap, WalkParams{
		QueryTimeout:      time.Duration(w.cfg.DHTQueryTimeoutMs) * time.Millisecond,
		MaxQueriesPerHash: w.cfg.MaxQueriesPerHash,
		PeersPerHash:      w.cfg.PeersPerHash,
		OverallDeadline:   w.cfg.OverallDeadline,
		Inflight:          w.cfg.Inflight,
		RecvTimeout:       time.Duration(w.cfg.RecvTimeoutMs) * time.Millisecond,
	})

	rec, ok := w.store.Get(hexHash)
	if !ok {
		log.Debug().Str("hash", hexHash).Msg("enrich: record vanished mid-pipeline")
		return
	}

	// Step 2: popularity lower bound.
	if len(walk.peers) > 0 {
		lowerBound := int64(len(walk.peers))
		if lowerBound > defaultDHTPeerCap {
			lowerBound = defaultDHTPeerCap
		}
		if lowerBound > rec.Seeders {
			rec, err = w.store.SetSeeders(hexHash, lowerBound)
			if err != nil {
				log.Debug().Err(err).Str("hash", hexHash).Msg("enrich: set_seeders (dht lower bound) failed")
				return
			}
		}
	}

	// Steps 3-5: ut_metadata fetch and persist, first peer to answer wins.
	if !rec.HasMetadata() && len(walk.peers) > 0 {
		if res, ok := fetchMetadataFromPeers(ctx, walk.peers, target, w.cfg.MetadataInflight, w.cfg.MetadataOverallTimeout); ok {
			infoB64 := base64.StdEncoding.EncodeToString(res.RawInfo)
			rec, err = w.store.SetMetadata(hexHash, res.Title, infoB64)
			if err != nil {
				log.Debug().Err(err).Str("hash", hexHash).Msg("enrich: set_metadata failed")
				return
			}
		}
	}

	// Step 6: tracker cross-check.
	if trackers := parseMagnetTrackers(rec.Magnet); len(trackers) > 0 {
		if complete, ok := announceSeeders(ctx, trackers, target); ok && complete > rec.Seeders {
			rec, err = w.store.SetSeeders(hexHash, complete)
			if err != nil {
				log.Debug().Err(err).Str("hash", hexHash).Msg("enrich: set_seeders (tracker) failed")
				return
			}
		}
	}

	// Step 7: index.
	if rec.IndexEligible() {
		if err := w.index.Upsert(hexHash, rec.Title, rec.Magnet, rec.Seeders); err != nil {
			log.Debug().Err(err).Str("hash", hexHash).Msg("enrich: text index upsert failed")
		}
	} else {
		if err := w.index.Delete(hexHash); err != nil {
			log.Debug().Err(err).Str("hash", hexHash).Msg("enrich: text index delete failed")
		}
	}
	if err := w.index.MaybeCommit(); err != nil {
		log.Debug().Err(err).Str("hash", hexHash).Msg("enrich: maybe_commit failed")
	}
}

func (w *Worker) openTransport() (Transport, error) {
	if w.cfg.Socks5Proxy != "" {
		return NewSocks5Transport(w.cfg.Socks5Proxy, w.cfg.Socks5Username, w.cfg.Socks5Password, 6*time.Second)
	}
	return NewDirectTransport()
}

func parseInfoHashHex(s string) ([20]byte, error) {
	var out [20]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// resolveBootstrap DNS-resolves a comma-separated list of host:port
// router addresses, skipping any that fail to resolve.
func resolveBootstrap(bootstrap string) []*net.UDPAddr {
	var out []*net.UDPAddr
	for _, host := range strings.Split(bootstrap, ",") {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		addr, err := net.ResolveUDPAddr("udp", host)
		if err != nil {
			log.Warn().Err(err).Str("host", host).Msg("enrich: bootstrap resolve failed")
			continue
		}
		out = append(out, addr)
	}
	return out
}
