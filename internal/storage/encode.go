// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	varint "github.com/multiformats/go-varint"

	"github.com/infohound/infohound/internal/domain"
)

// magic tags a value as the current binary encoding. Values without this
// prefix are assumed to be the legacy JSON encoding and are migrated to
// binary the next time they're read ("read-upgrade").
var magic = [4]byte{'S', 'R', 'M', '1'}

// maxFieldLen bounds any single varint-length-prefixed field, guarding the
// decoder against a corrupt or adversarial length prefix walking off the
// end of the value.
const maxFieldLen = 1 << 20

var errTruncated = errors.New("storage: truncated record encoding")

// encodeRecord serializes r into the magic-tagged varint binary format.
func encodeRecord(r domain.TorrentRecord) []byte {
	var buf bytes.Buffer
	buf.Write(magic[:])

	writeString(&buf, r.InfoHashHex)
	writeString(&buf, r.Title)
	writeString(&buf, r.Magnet)
	writeString(&buf, r.InfoBencodeBase64)
	writeVarint(&buf, zigzagEncode(r.Seeders))
	writeVarint(&buf, zigzagEncode(r.FirstSeenUnixMs))
	writeVarint(&buf, zigzagEncode(r.LastSeenUnixMs))

	return buf.Bytes()
}

// decodeRecord parses the magic-tagged binary encoding, or falls back to
// the legacy JSON encoding if the magic prefix is absent. upgraded
// reports whether the legacy path was taken (the caller should rewrite
// the record in binary on upgraded == true, per the read-upgrade policy).
func decodeRecord(b []byte) (rec domain.TorrentRecord, upgraded bool, err error) {
	if len(b) >= 4 && bytes.Equal(b[:4], magic[:]) {
		rec, err = decodeBinary(b[4:])
		return rec, false, err
	}

	var legacy legacyRecord
	if jsonErr := json.Unmarshal(b, &legacy); jsonErr != nil {
		return domain.TorrentRecord{}, false, fmt.Errorf("storage: unrecognized record encoding: %w", jsonErr)
	}
	return legacy.toRecord(), true, nil
}

func decodeBinary(b []byte) (domain.TorrentRecord, error) {
	var rec domain.TorrentRecord
	var ok bool

	if rec.InfoHashHex, b, ok = readString(b); !ok {
		return domain.TorrentRecord{}, errTruncated
	}
	if rec.Title, b, ok = readString(b); !ok {
		return domain.TorrentRecord{}, errTruncated
	}
	if rec.Magnet, b, ok = readString(b); !ok {
		return domain.TorrentRecord{}, errTruncated
	}
	if rec.InfoBencodeBase64, b, ok = readString(b); !ok {
		return domain.TorrentRecord{}, errTruncated
	}

	var zz uint64
	if zz, b, ok = readVarint(b); !ok {
		return domain.TorrentRecord{}, errTruncated
	}
	rec.Seeders = zigzagDecode(zz)

	if zz, b, ok = readVarint(b); !ok {
		return domain.TorrentRecord{}, errTruncated
	}
	rec.FirstSeenUnixMs = zigzagDecode(zz)

	if zz, _, ok = readVarint(b); !ok {
		return domain.TorrentRecord{}, errTruncated
	}
	rec.LastSeenUnixMs = zigzagDecode(zz)

	return rec, nil
}

// legacyRecord mirrors the pre-binary JSON schema so old values keep
// decoding after an upgrade.
type legacyRecord struct {
	InfoHash string `json:"info_hash"`
	Title    string `json:"title"`
	Magnet   string `json:"magnet"`
	Seeders  int64  `json:"seeders"`
	Info     string `json:"info_bencode_base64"`
	First    int64  `json:"first_seen_unix_ms"`
	Last     int64  `json:"last_seen_unix_ms"`
}

func (l legacyRecord) toRecord() domain.TorrentRecord {
	return domain.TorrentRecord{
		InfoHashHex:       l.InfoHash,
		Title:             l.Title,
		Magnet:            l.Magnet,
		Seeders:           l.Seeders,
		InfoBencodeBase64: l.Info,
		FirstSeenUnixMs:   l.First,
		LastSeenUnixMs:    l.Last,
	}
}

func writeString(buf *bytes.Buffer, s string) {
	writeVarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readString(b []byte) (string, []byte, bool) {
	n, rest, ok := readVarint(b)
	if !ok || n > maxFieldLen || uint64(len(rest)) < n {
		return "", nil, false
	}
	return string(rest[:n]), rest[n:], true
}

func writeVarint(buf *bytes.Buffer, v uint64) {
	tmp := make([]byte, varint.UvarintSize(v))
	n := varint.PutUvarint(tmp, v)
	buf.Write(tmp[:n])
}

func readVarint(b []byte) (uint64, []byte, bool) {
	v, n, err := varint.FromUvarint(b)
	if err != nil || n <= 0 {
		return 0, nil, false
	}
	return v, b[n:], true
}

// zigzagEncode maps signed integers to unsigned so small-magnitude
// negative values (which should not occur for these fields, but are not
// rejected) still encode compactly.
func zigzagEncode(n int64) uint64 {
	return uint64((n << 1) ^ (n >> 63))
}

func zigzagDecode(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}
