// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package bencode

import (
	"bytes"
	"strconv"
)

// EncodeString writes a bencoded byte string.
func EncodeString(buf *bytes.Buffer, s []byte) {
	buf.WriteString(strconv.Itoa(len(s)))
	buf.WriteByte(':')
	buf.Write(s)
}

// EncodeInt writes a bencoded integer.
func EncodeInt(buf *bytes.Buffer, n int64) {
	buf.WriteByte('i')
	buf.WriteString(strconv.FormatInt(n, 10))
	buf.WriteByte('e')
}

// DictWriter builds a bencoded dictionary with keys in the order they are
// written (callers are responsible for lexicographic key order, matching
// the canonical KRPC wire form).
type DictWriter struct {
	buf bytes.Buffer
}

// NewDictWriter starts a new dictionary.
func NewDictWriter() *DictWriter {
	w := &DictWriter{}
	w.buf.WriteByte('d')
	return w
}

// Str writes a string-valued key.
func (w *DictWriter) Str(key, value string) *DictWriter {
	EncodeString(&w.buf, []byte(key))
	EncodeString(&w.buf, []byte(value))
	return w
}

// Bytes writes a byte-string-valued key.
func (w *DictWriter) Bytes(key string, value []byte) *DictWriter {
	EncodeString(&w.buf, []byte(key))
	EncodeString(&w.buf, value)
	return w
}

// Int writes an integer-valued key.
func (w *DictWriter) Int(key string, value int64) *DictWriter {
	EncodeString(&w.buf, []byte(key))
	EncodeInt(&w.buf, value)
	return w
}

// Raw writes a key whose value is already bencoded (e.g. a nested dict
// built with another DictWriter).
func (w *DictWriter) Raw(key string, value []byte) *DictWriter {
	EncodeString(&w.buf, []byte(key))
	w.buf.Write(value)
	return w
}

// Finish returns the finished dictionary's encoded bytes. Safe to call at
// most once; further writes after Finish are invalid.
func (w *DictWriter) Finish() []byte {
	w.buf.WriteByte('e')
	return w.buf.Bytes()
}
