// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package storage implements the embedded record store: single-record CRUD
// keyed by info-hash, binary encoding with legacy-JSON auto-migration, and
// the three secondary indexes (missing-info, last-seen, low-seed) that turn
// periodic scans into ordered range queries.
//
// go.etcd.io/bbolt plays the role of the "sled" embedded KV store in the
// original design: an ordered, single-writer, memory-mapped B+tree, which
// is exactly the property the secondary indexes need for range scans.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"github.com/infohound/infohound/internal/domain"
	"github.com/infohound/infohound/pkg/hashutil"
)

// ErrNotFound is the sentinel error callers may wrap around a false Get
// result when they need an error return rather than the (record, ok) form.
var ErrNotFound = errors.New("storage: record not found")

var (
	bucketTorrent     = []byte("torrent")
	bucketMissingInfo = []byte("idx_missing_info")
	bucketLastSeen    = []byte("idx_last_seen")
	bucketLowSeed     = []byte("idx_low_seed")
	bucketMeta        = []byte("meta")
)

const (
	metaKeyMissingInfoBuilt = "missing_info_index_built"
	metaKeySchemaVersion    = "schema_version"
	currentSchemaVersion    = byte(1)
)

// Store is the storage façade: every writer (spider, enrichment, cleanup)
// goes through it so primary-record writes and index deltas stay
// reconciled per the invariants in spec.md §3.
type Store struct {
	db *bolt.DB
}

// Open creates (if absent) and opens the embedded KV store under dataDir.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "infohound.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTorrent, bucketMissingInfo, bucketLastSeen, bucketLowSeed, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: init buckets: %w", err)
	}

	s := &Store{db: db}
	if err := s.maybeResetOnSchemaBump(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) maybeResetOnSchemaBump() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		stored := meta.Get([]byte(metaKeySchemaVersion))
		if len(stored) == 1 && stored[0] == currentSchemaVersion {
			return nil
		}
		// Schema bump (or first run): clear the one-shot sentinels so the
		// ensure_* builders re-scan and repopulate the indexes.
		if err := meta.Delete([]byte(metaKeyMissingInfoBuilt)); err != nil {
			return err
		}
		if err := meta.Delete([]byte("cleanup_indexes_built")); err != nil {
			return err
		}
		return meta.Put([]byte(metaKeySchemaVersion), []byte{currentSchemaVersion})
	})
}

func torrentKey(hex string) []byte {
	return []byte(hex)
}

func tsKey(ts int64, hex string) []byte {
	buf := make([]byte, 8+len(hex))
	binary.BigEndian.PutUint64(buf[:8], uint64(ts))
	copy(buf[8:], hex)
	return buf
}

// upperBound returns the exclusive upper bound key for a "<= ts" range
// scan: u64_be(ts) || 0xFF sorts after every real key with that timestamp.
func upperBound(ts int64) []byte {
	buf := make([]byte, 9)
	binary.BigEndian.PutUint64(buf[:8], uint64(ts))
	buf[8] = 0xFF
	return buf
}

func splitTsKey(key []byte) (ts int64, hex string) {
	if len(key) < 8 {
		return 0, ""
	}
	return int64(binary.BigEndian.Uint64(key[:8])), string(key[8:])
}

// getTx loads and decodes the primary record for hex within tx, rewriting it
// in binary form if it was read in the legacy JSON encoding.
func (s *Store) getTx(tx *bolt.Tx, hex string) (domain.TorrentRecord, bool, error) {
	raw := tx.Bucket(bucketTorrent).Get(torrentKey(hex))
	if raw == nil {
		return domain.TorrentRecord{}, false, nil
	}
	rec, upgraded, err := decodeRecord(raw)
	if err != nil {
		return domain.TorrentRecord{}, false, err
	}
	if upgraded && tx.Writable() {
		if err := tx.Bucket(bucketTorrent).Put(torrentKey(hex), encodeRecord(rec)); err != nil {
			return domain.TorrentRecord{}, false, err
		}
	}
	return rec, true, nil
}

// Get returns the record for hex, or ok == false if absent. A decode
// failure is logged and reported as absent; the stored value is left in
// place, and the write methods return the same decode error for that
// hash.
func (s *Store) Get(hex string) (domain.TorrentRecord, bool) {
	hex = hashutil.Normalize(hex)
	var rec domain.TorrentRecord
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		r, found, err := s.getTx(tx, hex)
		rec, ok = r, found
		return err
	})
	if err != nil {
		log.Warn().Err(err).Str("hash", hex).Msg("storage: decode failed, treating record as absent")
		return domain.TorrentRecord{}, false
	}
	return rec, ok
}

func now() int64 {
	return time.Now().UnixMilli()
}

// UpsertFirstSeen creates the record if absent (zeroed counters,
// first_seen == last_seen == now) or refreshes last_seen on an existing
// one. Index reconciliation always runs.
func (s *Store) UpsertFirstSeen(hex string) (domain.TorrentRecord, error) {
	hex = hashutil.Normalize(hex)
	var out domain.TorrentRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		prev, existed, err := s.getTx(tx, hex)
		if err != nil {
			return err
		}
		ts := now()
		next := prev
		if !existed {
			next = domain.TorrentRecord{InfoHashHex: hex, FirstSeenUnixMs: ts, LastSeenUnixMs: ts}
		} else {
			next.LastSeenUnixMs = ts
		}
		if err := s.putTx(tx, prev, next, existed); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

// SetMetadata upserts first-seen then overwrites info_bencode_base64
// (never blanked) and title (only when the provided title is non-empty
// after trim).
func (s *Store) SetMetadata(hex, title, infoB64 string) (domain.TorrentRecord, error) {
	hex = hashutil.Normalize(hex)
	var out domain.TorrentRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		prev, existed, err := s.getTx(tx, hex)
		if err != nil {
			return err
		}
		ts := now()
		next := prev
		if !existed {
			next = domain.TorrentRecord{InfoHashHex: hex, FirstSeenUnixMs: ts}
		}
		next.LastSeenUnixMs = ts
		if infoB64 != "" {
			next.InfoBencodeBase64 = infoB64
		}
		if trimmed := strings.TrimSpace(title); trimmed != "" {
			next.Title = trimmed
		}
		if err := s.putTx(tx, prev, next, existed); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

// SetSeeders upserts first-seen then overwrites seeders.
func (s *Store) SetSeeders(hex string, n int64) (domain.TorrentRecord, error) {
	hex = hashutil.Normalize(hex)
	var out domain.TorrentRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		prev, existed, err := s.getTx(tx, hex)
		if err != nil {
			return err
		}
		ts := now()
		next := prev
		if !existed {
			next = domain.TorrentRecord{InfoHashHex: hex, FirstSeenUnixMs: ts}
		}
		next.LastSeenUnixMs = ts
		next.Seeders = n
		if err := s.putTx(tx, prev, next, existed); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

// SetMagnet upserts first-seen then overwrites magnet iff m is non-empty
// after trim.
func (s *Store) SetMagnet(hex, m string) (domain.TorrentRecord, error) {
	hex = hashutil.Normalize(hex)
	var out domain.TorrentRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		prev, existed, err := s.getTx(tx, hex)
		if err != nil {
			return err
		}
		ts := now()
		next := prev
		if !existed {
			next = domain.TorrentRecord{InfoHashHex: hex, FirstSeenUnixMs: ts}
		}
		next.LastSeenUnixMs = ts
		if trimmed := strings.TrimSpace(m); trimmed != "" {
			next.Magnet = trimmed
		}
		if err := s.putTx(tx, prev, next, existed); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

// Delete removes the primary record and every secondary index entry for
// hex.
func (s *Store) Delete(hex string) error {
	hex = hashutil.Normalize(hex)
	return s.db.Update(func(tx *bolt.Tx) error {
		prev, existed, err := s.getTx(tx, hex)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketTorrent).Delete(torrentKey(hex)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketMissingInfo).Delete(torrentKey(hex)); err != nil {
			return err
		}
		if existed {
			if err := tx.Bucket(bucketLastSeen).Delete(tsKey(prev.LastSeenUnixMs, hex)); err != nil {
				return err
			}
			if prev.LowSeed() {
				if err := tx.Bucket(bucketLowSeed).Delete(tsKey(prev.FirstSeenUnixMs, hex)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// putTx writes next's primary record, then reconciles every secondary
// index against prev per the rules in spec.md §4.1. Index write errors
// are logged and swallowed; primary-record write errors propagate.
func (s *Store) putTx(tx *bolt.Tx, prev, next domain.TorrentRecord, existed bool) error {
	if err := tx.Bucket(bucketTorrent).Put(torrentKey(next.InfoHashHex), encodeRecord(next)); err != nil {
		return fmt.Errorf("storage: put record: %w", err)
	}

	s.reconcileMissingInfo(tx, next)
	s.reconcileLastSeen(tx, prev, next, existed)
	s.reconcileLowSeed(tx, prev, next, existed)
	return nil
}

func (s *Store) reconcileMissingInfo(tx *bolt.Tx, r domain.TorrentRecord) {
	b := tx.Bucket(bucketMissingInfo)
	var err error
	if r.HasMetadata() {
		err = b.Delete(torrentKey(r.InfoHashHex))
	} else {
		err = b.Put(torrentKey(r.InfoHashHex), nil)
	}
	if err != nil {
		log.Warn().Err(err).Str("hash", r.InfoHashHex).Msg("storage: missing-info index write failed")
	}
}

func (s *Store) reconcileLastSeen(tx *bolt.Tx, prev, next domain.TorrentRecord, existed bool) {
	b := tx.Bucket(bucketLastSeen)
	if existed && prev.LastSeenUnixMs != next.LastSeenUnixMs {
		if err := b.Delete(tsKey(prev.LastSeenUnixMs, next.InfoHashHex)); err != nil {
			log.Warn().Err(err).Msg("storage: last-seen index delete failed")
		}
	}
	if err := b.Put(tsKey(next.LastSeenUnixMs, next.InfoHashHex), nil); err != nil {
		log.Warn().Err(err).Msg("storage: last-seen index write failed")
	}
}

func (s *Store) reconcileLowSeed(tx *bolt.Tx, prev, next domain.TorrentRecord, existed bool) {
	b := tx.Bucket(bucketLowSeed)
	wasLow := existed && prev.LowSeed()
	isLow := next.LowSeed()

	switch {
	case wasLow && !isLow:
		if err := b.Delete(tsKey(prev.FirstSeenUnixMs, next.InfoHashHex)); err != nil {
			log.Warn().Err(err).Msg("storage: low-seed index delete failed")
		}
	case !wasLow && isLow:
		if err := b.Put(tsKey(next.FirstSeenUnixMs, next.InfoHashHex), nil); err != nil {
			log.Warn().Err(err).Msg("storage: low-seed index write failed")
		}
	case wasLow && isLow:
		// keep: first_seen never changes once a record exists, so the
		// existing key is still correct.
	}
}

// ListMissingInfo drains up to limit entries from idx_missing_info in key
// order, repairing any stale entry it finds (record has metadata, or is
// gone) instead of returning it.
func (s *Store) ListMissingInfo(limit int) ([]domain.TorrentRecord, error) {
	var out []domain.TorrentRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMissingInfo)
		c := b.Cursor()

		var stale [][]byte
		for k, _ := c.First(); k != nil && len(out) < limit; k, _ = c.Next() {
			hex := string(k)
			rec, found, err := s.getTx(tx, hex)
			if err != nil {
				stale = append(stale, append([]byte(nil), k...))
				continue
			}
			if !found || rec.HasMetadata() {
				stale = append(stale, append([]byte(nil), k...))
				continue
			}
			out = append(out, rec)
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				log.Warn().Err(err).Msg("storage: failed to repair stale missing-info entry")
			}
		}
		return nil
	})
	return out, err
}

// FixLastSeenIndexEntry repairs a last-seen index key a worker observed
// pointing at a stale timestamp, replacing it with the record's actual
// last_seen.
func (s *Store) FixLastSeenIndexEntry(indexedTs int64, r domain.TorrentRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLastSeen)
		if indexedTs != r.LastSeenUnixMs {
			if err := b.Delete(tsKey(indexedTs, r.InfoHashHex)); err != nil {
				return err
			}
		}
		return b.Put(tsKey(r.LastSeenUnixMs, r.InfoHashHex), nil)
	})
}

// FixLowSeedIndexEntry repairs a low-seed index key a worker observed
// during a scan, per the reconciliation table (elides the redundant
// reinsert when the record is still within grace, per spec.md §9).
func (s *Store) FixLowSeedIndexEntry(indexedTs int64, r domain.TorrentRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLowSeed)
		if !r.LowSeed() {
			return b.Delete(tsKey(indexedTs, r.InfoHashHex))
		}
		if indexedTs != r.FirstSeenUnixMs {
			if err := b.Delete(tsKey(indexedTs, r.InfoHashHex)); err != nil {
				return err
			}
			return b.Put(tsKey(r.FirstSeenUnixMs, r.InfoHashHex), nil)
		}
		return nil
	})
}

// DropStaleLastSeenEntry removes an idx_last_seen key whose primary
// record no longer exists. Used by the cleanup worker's TTL phase.
func (s *Store) DropStaleLastSeenEntry(ts int64, hex string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLastSeen).Delete(tsKey(ts, hex))
	})
}

// DropStaleLowSeedEntry removes an idx_low_seed key whose primary
// record no longer exists. Used by the cleanup worker's low-seed phase.
func (s *Store) DropStaleLowSeedEntry(ts int64, hex string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLowSeed).Delete(tsKey(ts, hex))
	})
}

// RangeLastSeenUpTo calls fn for every idx_last_seen entry with
// timestamp <= cutoffMs, in key order, stopping early if fn returns false
// or maxEntries is reached (whichever first). Used by the cleanup worker's
// TTL phase.
func (s *Store) RangeLastSeenUpTo(cutoffMs int64, maxEntries int, fn func(ts int64, hex string) (keepGoing bool)) (int, error) {
	return s.rangeUpTo(bucketLastSeen, cutoffMs, maxEntries, fn)
}

// RangeLowSeedUpTo calls fn for every idx_low_seed entry with
// first_seen <= cutoffMs, in key order. Used by the cleanup worker's
// low-seed phase.
func (s *Store) RangeLowSeedUpTo(cutoffMs int64, maxEntries int, fn func(ts int64, hex string) (keepGoing bool)) (int, error) {
	return s.rangeUpTo(bucketLowSeed, cutoffMs, maxEntries, fn)
}

func (s *Store) rangeUpTo(bucket []byte, cutoffMs int64, maxEntries int, fn func(ts int64, hex string) bool) (int, error) {
	if cutoffMs < 0 {
		return 0, nil
	}
	examined := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		upper := upperBound(cutoffMs)
		for k, _ := c.First(); k != nil && examined < maxEntries; k, _ = c.Next() {
			if compareBytes(k, upper) > 0 {
				break
			}
			ts, hex := splitTsKey(k)
			examined++
			if !fn(ts, hex) {
				break
			}
		}
		return nil
	})
	return examined, err
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// OldestLastSeen returns the single oldest (timestamp, hex) entry in
// idx_last_seen, used by the cleanup worker's hard-cap phase.
func (s *Store) OldestLastSeen() (ts int64, hex string, ok bool) {
	_ = s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(bucketLastSeen).Cursor().First()
		if k == nil {
			return nil
		}
		ts, hex = splitTsKey(k)
		ok = true
		return nil
	})
	return ts, hex, ok
}

// CountLastSeen returns the number of entries in idx_last_seen, i.e. the
// total record count (invariant 3: every record has exactly one
// last-seen entry).
func (s *Store) CountLastSeen() int {
	n := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketLastSeen).Stats().KeyN
		return nil
	})
	return n
}

// Stats bundles the bucket-size counters reported by the "infohound db
// stats" CLI command.
type Stats struct {
	Torrents    int
	MissingInfo int
	LowSeed     int
}

// Stats reports the live key counts of the primary bucket and both
// secondary indexes, without decoding any record.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := s.db.View(func(tx *bolt.Tx) error {
		st.Torrents = tx.Bucket(bucketTorrent).Stats().KeyN
		st.MissingInfo = tx.Bucket(bucketMissingInfo).Stats().KeyN
		st.LowSeed = tx.Bucket(bucketLowSeed).Stats().KeyN
		return nil
	})
	return st, err
}

// EnsureMissingInfoIndex is an idempotent, one-shot builder guarded by a
// boolean sentinel in meta: scans every primary record exactly once and
// populates idx_missing_info.
func (s *Store) EnsureMissingInfoIndex() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta.Get([]byte(metaKeyMissingInfoBuilt)) != nil {
			return nil
		}

		c := tx.Bucket(bucketTorrent).Cursor()
		missing := tx.Bucket(bucketMissingInfo)
		for k, v := c.First(); k != nil; k, v = c.Next() {
			rec, _, err := decodeRecord(v)
			if err != nil {
				continue
			}
			if !rec.HasMetadata() {
				if err := missing.Put(k, nil); err != nil {
					return err
				}
			}
		}
		return meta.Put([]byte(metaKeyMissingInfoBuilt), []byte{1})
	})
}

// EnsureCleanupIndexes is an idempotent, one-shot builder for
// idx_last_seen and idx_low_seed, used to backfill after a binary upgrade
// or to repair a corrupted index subspace.
func (s *Store) EnsureCleanupIndexes() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		const key = "cleanup_indexes_built"
		if meta.Get([]byte(key)) != nil {
			return nil
		}

		c := tx.Bucket(bucketTorrent).Cursor()
		lastSeen := tx.Bucket(bucketLastSeen)
		lowSeed := tx.Bucket(bucketLowSeed)
		for k, v := c.First(); k != nil; k, v = c.Next() {
			rec, _, err := decodeRecord(v)
			if err != nil {
				continue
			}
			if err := lastSeen.Put(tsKey(rec.LastSeenUnixMs, rec.InfoHashHex), nil); err != nil {
				return err
			}
			if rec.LowSeed() {
				if err := lowSeed.Put(tsKey(rec.FirstSeenUnixMs, rec.InfoHashHex), nil); err != nil {
					return err
				}
			}
		}
		return meta.Put([]byte(key), []byte{1})
	})
}
