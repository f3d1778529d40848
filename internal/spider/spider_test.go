// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package spider

import (
	"encoding/hex"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/infohound/infohound/internal/bencode"
	"github.com/infohound/infohound/internal/bloom"
	"github.com/infohound/infohound/internal/domain"
)

type fakeStore struct {
	records map[string]domain.TorrentRecord
	calls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]domain.TorrentRecord)}
}

func (f *fakeStore) UpsertFirstSeen(h string) (domain.TorrentRecord, error) {
	f.calls++
	rec, ok := f.records[h]
	if !ok {
		rec = domain.TorrentRecord{InfoHashHex: h, FirstSeenUnixMs: 1000, LastSeenUnixMs: 1000}
	} else {
		rec.LastSeenUnixMs = 2000
	}
	f.records[h] = rec
	return rec, nil
}

func (f *fakeStore) SetMagnet(h, m string) (domain.TorrentRecord, error) {
	rec := f.records[h]
	rec.Magnet = m
	f.records[h] = rec
	return rec, nil
}

type fakeIndex struct{ upserts int }

func (f *fakeIndex) Upsert(hash, title, magnet string, seeders int64) error {
	f.upserts++
	return nil
}

func getPeersQuery(id, infoHash [20]byte, tx string) []byte {
	a := bencode.NewDictWriter().Bytes("id", id[:]).Bytes("info_hash", infoHash[:]).Finish()
	return bencode.NewDictWriter().
		Raw("a", a).
		Bytes("t", []byte(tx)).
		Str("q", "get_peers").
		Str("y", "q").
		Finish()
}

func TestScenarioS1SpiderIngest(t *testing.T) {
	var id20 [20]byte
	for i := range id20 {
		id20[i] = 0xAA
	}
	var hash20 [20]byte
	for i := range hash20 {
		hash20[i] = 0x01
	}

	store := newFakeStore()
	index := &fakeIndex{}
	sp := New(Config{MaxKnownNodes: 10, SeenBitsPow2: 16, SeenK: 4}, store, index)

	raw := getPeersQuery(id20, hash20, "Ab")
	addr := &net.UDPAddr{IP: net.ParseIP("1.2.3.4"), Port: 6881}
	sp.v4 = nil // no send in test
	sp.handleFromAddr(raw, addr)

	wantHex := hex.EncodeToString(hash20[:])
	rec, ok := store.records[wantHex]
	require.True(t, ok)
	require.Equal(t, "magnet:?xt=urn:btih:"+wantHex, rec.Magnet)
	require.Equal(t, int64(0), rec.Seeders)
	require.Equal(t, 0, index.upserts, "seeders < 2 must not create a text-index document")
}

func TestScenarioS2BloomRejectsRepeat(t *testing.T) {
	var id20, hash20 [20]byte
	for i := range id20 {
		id20[i] = 0xAA
	}
	for i := range hash20 {
		hash20[i] = 0x01
	}

	store := newFakeStore()
	index := &fakeIndex{}
	sp := New(Config{MaxKnownNodes: 10, SeenBitsPow2: 16, SeenK: 4}, store, index)
	sp.seen = bloom.New(16, 4, 0)

	raw := getPeersQuery(id20, hash20, "Ab")
	addr := &net.UDPAddr{IP: net.ParseIP("1.2.3.4"), Port: 6881}

	sp.handleFromAddr(raw, addr)
	require.Equal(t, 1, store.calls)

	sp.handleFromAddr(raw, addr)
	require.Equal(t, 1, store.calls, "a repeat within the same rotation window must not re-ingest")
}

func TestDecodeCompactAddr(t *testing.T) {
	v4 := []byte{1, 2, 3, 4, 0x1A, 0xE1}
	addr := decodeCompactAddr(v4)
	require.NotNil(t, addr)
	require.Equal(t, "1.2.3.4", addr.IP.String())
	require.Equal(t, 0x1AE1, addr.Port)

	require.Nil(t, decodeCompactAddr([]byte{1, 2, 3}))
}
