// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// TorrentRecord is the primary entity of the discovery pipeline: one per
// discovered info-hash.
type TorrentRecord struct {
	InfoHashHex       string // 40-char lowercase hex, primary key
	Title             string // optional short text, set once metadata decodes
	Magnet            string // optional magnet URI
	Seeders           int64  // lower bound from DHT peers (capped), upgraded by tracker complete
	InfoBencodeBase64 string // presence defines "has metadata"
	FirstSeenUnixMs   int64  // immutable after creation
	LastSeenUnixMs    int64  // updated on every observation
}

// HasMetadata reports whether the record carries a decoded info dictionary.
func (r TorrentRecord) HasMetadata() bool {
	return r.InfoBencodeBase64 != ""
}

// LowSeed reports whether the record falls under the indexing/low-seed
// threshold of 2 seeders.
func (r TorrentRecord) LowSeed() bool {
	return r.Seeders < 2
}

// IndexEligible reports whether the record meets the text-index inclusion
// threshold (seeders >= 2).
func (r TorrentRecord) IndexEligible() bool {
	return r.Seeders >= 2
}
