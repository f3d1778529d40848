// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package bencode is a minimal, allocation-lean bencode parser for the
// subset the DHT/KRPC and metadata-exchange paths need: unsigned-length
// byte strings, integers, lists, and dictionaries. It never panics on
// malformed input; every getter returns a boolean/ok result instead.
//
// This is deliberately hand-written rather than imported from
// github.com/anacrolix/torrent/bencode (already in the module's
// dependency graph for the peer-wire collaborator) because the KRPC codec
// is one of this service's own components, not an external concern.
package bencode

import "bytes"

// Kind identifies the decoded shape of a Value.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindList
	KindDict
)

// Value is a parsed bencode node. Dict and List retain the raw slice they
// were parsed from (Raw) so callers can re-encode or forward bytes
// without re-serializing.
type Value struct {
	Kind Kind
	Str  []byte
	Int  int64
	List []Value
	Dict map[string]Value
	Raw  []byte
}

// Decode parses a single bencode value from the start of b and returns the
// value along with the number of bytes consumed. ok is false on any
// malformed input; Decode never panics.
func Decode(b []byte) (v Value, n int, ok bool) {
	if len(b) == 0 {
		return Value{}, 0, false
	}

	switch {
	case b[0] == 'i':
		return decodeInt(b)
	case b[0] == 'l':
		return decodeList(b)
	case b[0] == 'd':
		return decodeDict(b)
	case b[0] >= '0' && b[0] <= '9':
		return decodeString(b)
	default:
		return Value{}, 0, false
	}
}

func decodeString(b []byte) (Value, int, bool) {
	colon := bytes.IndexByte(b, ':')
	if colon <= 0 {
		return Value{}, 0, false
	}
	length, ok := parseUint(b[:colon])
	if !ok {
		return Value{}, 0, false
	}
	start := colon + 1
	end := start + int(length)
	if length > uint64(len(b)) || end < start || end > len(b) {
		return Value{}, 0, false
	}
	return Value{Kind: KindString, Str: b[start:end], Raw: b[:end]}, end, true
}

func decodeInt(b []byte) (Value, int, bool) {
	end := bytes.IndexByte(b, 'e')
	if end < 0 || end < 2 {
		return Value{}, 0, false
	}
	neg := false
	digits := b[1:end]
	if len(digits) > 0 && digits[0] == '-' {
		neg = true
		digits = digits[1:]
	}
	u, ok := parseUint(digits)
	if !ok {
		return Value{}, 0, false
	}
	n := int64(u)
	if neg {
		n = -n
	}
	return Value{Kind: KindInt, Int: n, Raw: b[:end+1]}, end + 1, true
}

func decodeList(b []byte) (Value, int, bool) {
	pos := 1
	var items []Value
	for {
		if pos >= len(b) {
			return Value{}, 0, false
		}
		if b[pos] == 'e' {
			pos++
			return Value{Kind: KindList, List: items, Raw: b[:pos]}, pos, true
		}
		v, n, ok := Decode(b[pos:])
		if !ok {
			return Value{}, 0, false
		}
		items = append(items, v)
		pos += n
	}
}

func decodeDict(b []byte) (Value, int, bool) {
	pos := 1
	dict := make(map[string]Value)
	for {
		if pos >= len(b) {
			return Value{}, 0, false
		}
		if b[pos] == 'e' {
			pos++
			return Value{Kind: KindDict, Dict: dict, Raw: b[:pos]}, pos, true
		}
		key, n, ok := decodeString(b[pos:])
		if !ok {
			return Value{}, 0, false
		}
		pos += n
		val, n, ok := Decode(b[pos:])
		if !ok {
			return Value{}, 0, false
		}
		dict[string(key.Str)] = val
		pos += n
	}
}

func parseUint(b []byte) (uint64, bool) {
	if len(b) == 0 {
		return 0, false
	}
	var n uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint64(c-'0')
	}
	return n, true
}

// SkipValue parses and discards a single value, returning the number of
// bytes it spans. Equivalent to the n returned by Decode but avoids
// building nested Value trees when the caller only needs to advance a
// cursor.
func SkipValue(b []byte) (n int, ok bool) {
	_, n, ok = Decode(b)
	return n, ok
}

// GetBytes returns the raw byte-string value of key in d, if present and a
// string.
func (v Value) GetBytes(key string) ([]byte, bool) {
	if v.Kind != KindDict {
		return nil, false
	}
	child, ok := v.Dict[key]
	if !ok || child.Kind != KindString {
		return nil, false
	}
	return child.Str, true
}

// GetInt returns the integer value of key in d, if present and an integer.
func (v Value) GetInt(key string) (int64, bool) {
	if v.Kind != KindDict {
		return 0, false
	}
	child, ok := v.Dict[key]
	if !ok || child.Kind != KindInt {
		return 0, false
	}
	return child.Int, true
}

// GetDict returns the nested dictionary value of key in d, if present.
func (v Value) GetDict(key string) (Value, bool) {
	if v.Kind != KindDict {
		return Value{}, false
	}
	child, ok := v.Dict[key]
	if !ok || child.Kind != KindDict {
		return Value{}, false
	}
	return child, true
}

// GetDictSlice returns the raw encoded bytes spanning the nested
// dictionary at key, without decoding it further. Used for forwarding the
// "info" sub-dictionary of a metadata piece without re-serializing it.
func (v Value) GetDictSlice(key string) ([]byte, bool) {
	d, ok := v.GetDict(key)
	if !ok {
		return nil, false
	}
	return d.Raw, true
}

// GetListOfBytes returns the byte-string elements of the list at key.
// Non-string elements are skipped rather than causing failure.
func (v Value) GetListOfBytes(key string) ([][]byte, bool) {
	if v.Kind != KindDict {
		return nil, false
	}
	child, ok := v.Dict[key]
	if !ok || child.Kind != KindList {
		return nil, false
	}
	out := make([][]byte, 0, len(child.List))
	for _, item := range child.List {
		if item.Kind == KindString {
			out = append(out, item.Str)
		}
	}
	return out, true
}
