// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package textindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func TestOpenCreatesFreshIndexAndIsReopenable(t *testing.T) {
	dir := t.TempDir()

	ix, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, ix.Upsert("abcdef0123456789abcdef0123456789abcdef01", "Some Title", "", 5))
	require.NoError(t, ix.MaybeCommit())
	require.NoError(t, ix.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	hits, err := reopened.Search("Some Title", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
}

func TestUpsertIsIdempotentByHash(t *testing.T) {
	ix := newTestIndex(t)
	hash := "abcdef0123456789abcdef0123456789abcdef01"

	require.NoError(t, ix.Upsert(hash, "First Title", "", 1))
	require.NoError(t, ix.Upsert(hash, "Second Title", "", 1))
	require.NoError(t, ix.MaybeCommit())

	hits, err := ix.Search(hash, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1, "re-upserting the same hash must not leave duplicate documents")
	require.Equal(t, "Second Title", hits[0].Title)
}

func TestDeleteRemovesDocument(t *testing.T) {
	ix := newTestIndex(t)
	hash := "abcdef0123456789abcdef0123456789abcdef01"
	require.NoError(t, ix.Upsert(hash, "Title", "", 3))
	require.NoError(t, ix.MaybeCommit())

	require.NoError(t, ix.Delete(hash))
	require.NoError(t, ix.MaybeCommit())

	hits, err := ix.Search(hash, 10)
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestHexExactMatchOnFortyCharQuery(t *testing.T) {
	ix := newTestIndex(t)
	hash := "abcdef0123456789abcdef0123456789abcdef01"
	require.NoError(t, ix.Upsert(hash, "Alpine Linux", "", 10))
	require.NoError(t, ix.MaybeCommit())

	hits, err := ix.Search(hash, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, hash, hits[0].InfoHash)
}

func TestHexPrefixMatchOnShortHexQuery(t *testing.T) {
	ix := newTestIndex(t)
	hash := "abcdef0123456789abcdef0123456789abcdef01"
	require.NoError(t, ix.Upsert(hash, "Alpine Linux", "", 10))
	require.NoError(t, ix.MaybeCommit())

	hits, err := ix.Search("abcdef01", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestSeederBoostedRanking(t *testing.T) {
	ix := newTestIndex(t)
	require.NoError(t, ix.Upsert("1111111111111111111111111111111111111111", "debian twelve iso", "", 2))
	require.NoError(t, ix.Upsert("2222222222222222222222222222222222222222", "debian twelve iso", "", 500))
	require.NoError(t, ix.MaybeCommit())

	hits, err := ix.Search("debian twelve iso", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, int64(500), hits[0].Seeders, "higher-seeder document with an equal term match must sort first")
}

func TestStrictQueryRequiresAllTerms(t *testing.T) {
	ix := newTestIndex(t)
	require.NoError(t, ix.Upsert("1111111111111111111111111111111111111111", "debian netinst iso", "", 5))
	require.NoError(t, ix.Upsert("2222222222222222222222222222222222222222", "debian desktop iso", "", 5))
	require.NoError(t, ix.MaybeCommit())

	hits, err := ix.Search("debian netinst", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1, "strict parse must AND terms together, not match on any single term")
	require.Equal(t, "1111111111111111111111111111111111111111", hits[0].InfoHash)
}

func TestFuzzyFallbackFindsOneEditTypo(t *testing.T) {
	ix := newTestIndex(t)
	require.NoError(t, ix.Upsert("1111111111111111111111111111111111111111", "ubuntu server", "", 5))
	require.NoError(t, ix.MaybeCommit())

	hits, err := ix.Search("ubutnu server", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits, "a one-edit typo must fall back to a fuzzy match")
}

func TestEmptyQueryReturnsNoHits(t *testing.T) {
	ix := newTestIndex(t)
	require.NoError(t, ix.Upsert("1111111111111111111111111111111111111111", "something", "", 5))
	require.NoError(t, ix.MaybeCommit())

	hits, err := ix.Search("   ", 10)
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestSearchPagePaginates(t *testing.T) {
	ix := newTestIndex(t)
	hashes := []string{
		"1111111111111111111111111111111111111111",
		"2222222222222222222222222222222222222222",
		"3333333333333333333333333333333333333333",
	}
	for i, h := range hashes {
		require.NoError(t, ix.Upsert(h, "matching title", "", int64(i+1)))
	}
	require.NoError(t, ix.MaybeCommit())

	page1, err := ix.SearchPage("matching title", 0, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)

	page2, err := ix.SearchPage("matching title", 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
}
