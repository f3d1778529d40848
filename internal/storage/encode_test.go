// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/infohound/infohound/internal/domain"
)

func sampleRecord() domain.TorrentRecord {
	return domain.TorrentRecord{
		InfoHashHex:       "abcdef0123456789abcdef0123456789abcdef01",
		Title:             "Some Linux ISO",
		Magnet:            "magnet:?xt=urn:btih:abcdef0123456789abcdef0123456789abcdef01",
		Seeders:           42,
		InfoBencodeBase64: "ZDQ6bmFtZTM6Zm9vZQ==",
		FirstSeenUnixMs:   1700000000000,
		LastSeenUnixMs:    1700000500000,
	}
}

func TestEncodeDecodeRecordRoundTrip(t *testing.T) {
	rec := sampleRecord()
	buf := encodeRecord(rec)

	got, upgraded, err := decodeRecord(buf)
	require.NoError(t, err)
	require.False(t, upgraded)
	require.Equal(t, rec, got)
}

func TestEncodeDecodeRecordZeroValue(t *testing.T) {
	var rec domain.TorrentRecord
	buf := encodeRecord(rec)

	got, upgraded, err := decodeRecord(buf)
	require.NoError(t, err)
	require.False(t, upgraded)
	require.Equal(t, rec, got)
}

func TestEncodeDecodeRecordNegativeTimestamps(t *testing.T) {
	rec := sampleRecord()
	rec.FirstSeenUnixMs = -1
	rec.Seeders = -5

	buf := encodeRecord(rec)
	got, _, err := decodeRecord(buf)
	require.NoError(t, err)
	require.Equal(t, rec, got)
}

func TestDecodeLegacyJSONUpgrades(t *testing.T) {
	legacy := legacyRecord{
		InfoHash: "abcdef0123456789abcdef0123456789abcdef01",
		Title:    "legacy title",
		Magnet:   "magnet:?xt=urn:btih:abcdef0123456789abcdef0123456789abcdef01",
		Seeders:  7,
		Info:     "ZDQ6bmFtZTM6Zm9vZQ==",
		First:    1600000000000,
		Last:     1600000100000,
	}
	raw, err := json.Marshal(legacy)
	require.NoError(t, err)

	rec, upgraded, err := decodeRecord(raw)
	require.NoError(t, err)
	require.True(t, upgraded)
	require.Equal(t, legacy.toRecord(), rec)

	// Re-encoding in binary and decoding again should no longer report
	// an upgrade, and should reproduce the same logical record.
	reencoded := encodeRecord(rec)
	rec2, upgraded2, err := decodeRecord(reencoded)
	require.NoError(t, err)
	require.False(t, upgraded2)
	require.Equal(t, rec, rec2)
}

func TestDecodeRecordTruncatedFails(t *testing.T) {
	buf := encodeRecord(sampleRecord())
	for cut := 0; cut < len(buf); cut += 3 {
		_, _, err := decodeRecord(buf[:cut])
		if cut < 4 {
			// Shorter than the magic prefix: falls through to the JSON
			// path and fails there too, for anything that isn't valid
			// JSON.
			require.Error(t, err)
			continue
		}
	}
	// A clean truncation strictly inside the binary body must error, not
	// panic or silently return a partial record.
	_, _, err := decodeRecord(buf[:len(buf)-1])
	require.Error(t, err)
}

func TestDecodeRecordGarbageIsNeitherMagicNorJSON(t *testing.T) {
	_, _, err := decodeRecord([]byte("definitely not bencode or json"))
	require.Error(t, err)
}

func TestZigzagRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 42, -42, 1 << 40, -(1 << 40)}
	for _, c := range cases {
		require.Equal(t, c, zigzagDecode(zigzagEncode(c)))
	}
}
