// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

const testHash = "ABCDEF0123456789abcdef0123456789ABCDEF01"

func TestUpsertFirstSeenCreatesThenRefreshes(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.UpsertFirstSeen(testHash)
	require.NoError(t, err)
	require.Equal(t, rec.FirstSeenUnixMs, rec.LastSeenUnixMs)
	firstSeen := rec.FirstSeenUnixMs

	rec2, err := s.UpsertFirstSeen(testHash)
	require.NoError(t, err)
	require.Equal(t, firstSeen, rec2.FirstSeenUnixMs, "first_seen must be immutable after creation")
	require.GreaterOrEqual(t, rec2.LastSeenUnixMs, rec.LastSeenUnixMs)

	got, ok := s.Get(testHash)
	require.True(t, ok)
	require.Equal(t, rec2, got)
}

func TestGetNormalizesHexCase(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpsertFirstSeen("ABCDEF0123456789ABCDEF0123456789ABCDEF01")
	require.NoError(t, err)

	got, ok := s.Get("abcdef0123456789abcdef0123456789abcdef01")
	require.True(t, ok)
	require.Equal(t, "abcdef0123456789abcdef0123456789abcdef01", got.InfoHashHex)
}

func TestSetMetadataDoesNotBlankExistingFields(t *testing.T) {
	s := newTestStore(t)

	_, err := s.SetMetadata(testHash, "Real Title", "ZDQ6bmFtZTM6Zm9vZQ==")
	require.NoError(t, err)

	rec, err := s.SetMetadata(testHash, "   ", "")
	require.NoError(t, err)
	require.Equal(t, "Real Title", rec.Title, "blank title must not overwrite an existing one")
	require.Equal(t, "ZDQ6bmFtZTM6Zm9vZQ==", rec.InfoBencodeBase64, "empty info must not blank metadata")
}

func TestSetSeedersMovesLowSeedIndex(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.SetSeeders(testHash, 0)
	require.NoError(t, err)
	require.True(t, rec.LowSeed())

	n, err := s.RangeLowSeedUpTo(rec.FirstSeenUnixMs+1, 10, func(ts int64, hex string) bool { return true })
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = s.SetSeeders(testHash, 5)
	require.NoError(t, err)

	n, err = s.RangeLowSeedUpTo(rec.FirstSeenUnixMs+1, 10, func(ts int64, hex string) bool { return true })
	require.NoError(t, err)
	require.Equal(t, 0, n, "crossing the seeder threshold must remove the low-seed index entry")
}

func TestMissingInfoIndexTracksMetadataPresence(t *testing.T) {
	s := newTestStore(t)

	_, err := s.UpsertFirstSeen(testHash)
	require.NoError(t, err)

	recs, err := s.ListMissingInfo(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, normalizedHash(t), recs[0].InfoHashHex)

	_, err = s.SetMetadata(testHash, "t", "ZDQ6bmFtZTM6Zm9vZQ==")
	require.NoError(t, err)

	recs, err = s.ListMissingInfo(10)
	require.NoError(t, err)
	require.Empty(t, recs, "a record with metadata must not remain in idx_missing_info")
}

func normalizedHash(t *testing.T) string {
	t.Helper()
	return "abcdef0123456789abcdef0123456789abcdef01"
}

func TestDeleteRemovesPrimaryAndAllIndexes(t *testing.T) {
	s := newTestStore(t)

	_, err := s.SetSeeders(testHash, 0)
	require.NoError(t, err)

	require.NoError(t, s.Delete(testHash))

	_, ok := s.Get(testHash)
	require.False(t, ok)

	recs, err := s.ListMissingInfo(10)
	require.NoError(t, err)
	require.Empty(t, recs)

	require.Equal(t, 0, s.CountLastSeen())

	n, err := s.RangeLowSeedUpTo(1<<62, 10, func(int64, string) bool { return true })
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestEveryRecordHasExactlyOneLastSeenEntry(t *testing.T) {
	s := newTestStore(t)

	hashes := []string{
		"1111111111111111111111111111111111111111",
		"2222222222222222222222222222222222222222",
		"3333333333333333333333333333333333333333",
	}
	for _, h := range hashes {
		_, err := s.UpsertFirstSeen(h)
		require.NoError(t, err)
	}
	// Re-touching one record must not create a second last-seen entry.
	_, err := s.UpsertFirstSeen(hashes[0])
	require.NoError(t, err)

	require.Equal(t, len(hashes), s.CountLastSeen())
}

func TestRangeLastSeenUpToRespectsCutoffAndLimit(t *testing.T) {
	s := newTestStore(t)

	hashes := []string{
		"1111111111111111111111111111111111111111",
		"2222222222222222222222222222222222222222",
		"3333333333333333333333333333333333333333",
	}
	for _, h := range hashes {
		_, err := s.UpsertFirstSeen(h)
		require.NoError(t, err)
	}

	var seen []string
	n, err := s.RangeLastSeenUpTo(1<<62, 2, func(ts int64, hex string) bool {
		seen = append(seen, hex)
		return true
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, seen, 2)

	n, err = s.RangeLastSeenUpTo(-1, 10, func(int64, string) bool { return true })
	require.NoError(t, err)
	require.Equal(t, 0, n, "a cutoff before every entry must match nothing")
}

func TestEnsureMissingInfoIndexIsIdempotentAndBackfills(t *testing.T) {
	s := newTestStore(t)

	_, err := s.UpsertFirstSeen(testHash)
	require.NoError(t, err)

	require.NoError(t, s.EnsureMissingInfoIndex())
	require.NoError(t, s.EnsureMissingInfoIndex(), "second call must be a no-op, not a duplicate scan")

	recs, err := s.ListMissingInfo(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestFixLowSeedIndexEntryElidesRedundantReinsert(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.SetSeeders(testHash, 0)
	require.NoError(t, err)

	// The entry already matches rec.FirstSeenUnixMs; fixing it with the
	// same timestamp must be a safe no-op rather than a delete+reinsert
	// race with a concurrent writer.
	require.NoError(t, s.FixLowSeedIndexEntry(rec.FirstSeenUnixMs, rec))

	n, err := s.RangeLowSeedUpTo(rec.FirstSeenUnixMs+1, 10, func(int64, string) bool { return true })
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestOldestLastSeenReturnsSmallestTimestamp(t *testing.T) {
	s := newTestStore(t)

	_, _, ok := s.OldestLastSeen()
	require.False(t, ok, "empty store must report no oldest entry")

	_, err := s.UpsertFirstSeen(testHash)
	require.NoError(t, err)

	_, hex, ok := s.OldestLastSeen()
	require.True(t, ok)
	require.Equal(t, "abcdef0123456789abcdef0123456789abcdef01", hex)
}
