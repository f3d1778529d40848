// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package krpc implements the bencoded KRPC query/response framing used by
// the Mainline DHT (BEP-5) and its BEP-51 sampling extension, on top of
// internal/bencode.
package krpc

import (
	"github.com/infohound/infohound/internal/bencode"
)

// MessageType classifies a decoded KRPC message by its top-level "y" field.
type MessageType int

const (
	TypeUnknown MessageType = iota
	TypeQuery
	TypeResponse
	TypeError
)

// Message is a decoded, classified KRPC datagram.
type Message struct {
	Type MessageType
	Tx   []byte
	Raw  bencode.Value

	// Query fields (Type == TypeQuery)
	QueryName string
	QueryArgs bencode.Value

	// Response fields (Type == TypeResponse)
	Resp bencode.Value
}

// Parse decodes and classifies a raw KRPC datagram. ok is false on any
// malformed input.
func Parse(b []byte) (Message, bool) {
	v, n, ok := bencode.Decode(b)
	if !ok || n != len(b) || v.Kind != bencode.KindDict {
		return Message{}, false
	}

	yv, ok := v.Dict["y"]
	if !ok || yv.Kind != bencode.KindString || len(yv.Str) == 0 {
		return Message{}, false
	}

	tx, _ := v.GetBytes("t")
	msg := Message{Tx: tx, Raw: v}

	switch yv.Str[0] {
	case 'q':
		msg.Type = TypeQuery
		if qv, ok := v.Dict["q"]; ok && qv.Kind == bencode.KindString {
			msg.QueryName = string(qv.Str)
		}
		if a, ok := v.GetDict("a"); ok {
			msg.QueryArgs = a
		}
	case 'r':
		msg.Type = TypeResponse
		if r, ok := v.GetDict("r"); ok {
			msg.Resp = r
		}
	case 'e':
		msg.Type = TypeError
	default:
		return Message{}, false
	}

	return msg, true
}

// QueryInfoHash returns the 20-byte info_hash argument of a get_peers or
// announce_peer query, if present and well-formed.
func (m Message) QueryInfoHash() ([20]byte, bool) {
	var out [20]byte
	if m.Type != TypeQuery {
		return out, false
	}
	if m.QueryName != "get_peers" && m.QueryName != "announce_peer" {
		return out, false
	}
	ih, ok := m.QueryArgs.GetBytes("info_hash")
	if !ok || len(ih) != 20 {
		return out, false
	}
	copy(out[:], ih)
	return out, true
}

// CompactNodes returns the 26-byte (IPv4) or 38-byte (IPv6) compact node
// entries from r.nodes / r.nodes6.
func (m Message) CompactNodes(key string) []CompactNode {
	if m.Type != TypeResponse {
		return nil
	}
	raw, ok := m.Resp.GetBytes(key)
	if !ok {
		return nil
	}
	entryLen := 26
	if key == "nodes6" {
		entryLen = 38
	}
	if len(raw)%entryLen != 0 {
		return nil
	}
	out := make([]CompactNode, 0, len(raw)/entryLen)
	for i := 0; i+entryLen <= len(raw); i += entryLen {
		out = append(out, CompactNode{Raw: raw[i : i+entryLen]})
	}
	return out
}

// CompactPeers returns the compact peer entries from r.values / r.values6
// (6-byte IPv4, 18-byte IPv6 entries).
func (m Message) CompactPeers(key string) [][]byte {
	if m.Type != TypeResponse {
		return nil
	}
	list, ok := m.Resp.GetListOfBytes(key)
	if !ok {
		return nil
	}
	entryLen := 6
	if key == "values6" {
		entryLen = 18
	}
	out := make([][]byte, 0, len(list))
	for _, entry := range list {
		if len(entry) == entryLen {
			out = append(out, entry)
		}
	}
	return out
}

// Samples returns the 20-byte info-hash samples of a BEP-51
// sample_infohashes response, capped at maxCount.
func (m Message) Samples(maxCount int) [][20]byte {
	if m.Type != TypeResponse {
		return nil
	}
	raw, ok := m.Resp.GetBytes("samples")
	if !ok || len(raw)%20 != 0 {
		return nil
	}
	n := len(raw) / 20
	if n > maxCount {
		n = maxCount
	}
	out := make([][20]byte, 0, n)
	for i := 0; i < n; i++ {
		var h [20]byte
		copy(h[:], raw[i*20:(i+1)*20])
		out = append(out, h)
	}
	return out
}

// CompactNode wraps the raw compact node-info bytes for a single node.
type CompactNode struct {
	Raw []byte
}

// ID returns the 20-byte node ID prefix of the compact entry.
func (n CompactNode) ID() [20]byte {
	var id [20]byte
	copy(id[:], n.Raw[:20])
	return id
}

// Addr returns the raw address portion (4+2 bytes for v4, 16+2 for v6)
// following the 20-byte ID.
func (n CompactNode) Addr() []byte {
	return n.Raw[20:]
}

// FindNode encodes a find_node query.
func FindNode(tx []byte, id, target [20]byte) []byte {
	a := bencode.NewDictWriter().Bytes("id", id[:]).Bytes("target", target[:]).Finish()
	return query(tx, "find_node", a)
}

// GetPeers encodes a get_peers query.
func GetPeers(tx []byte, id, infoHash [20]byte) []byte {
	a := bencode.NewDictWriter().Bytes("id", id[:]).Bytes("info_hash", infoHash[:]).Finish()
	return query(tx, "get_peers", a)
}

// SampleInfohashes encodes a BEP-51 sample_infohashes query.
func SampleInfohashes(tx []byte, id, target [20]byte) []byte {
	a := bencode.NewDictWriter().Bytes("id", id[:]).Bytes("target", target[:]).Finish()
	return query(tx, "sample_infohashes", a)
}

func query(tx []byte, name string, args []byte) []byte {
	return bencode.NewDictWriter().
		Raw("a", args).
		Str("q", name).
		Bytes("t", tx).
		Str("y", "q").
		Finish()
}

// MinimalResponse encodes the minimal {r:{id:<id>}, t:<tx>, y:"r"} reply
// sent to keep remote routing tables aware of us.
func MinimalResponse(tx []byte, id [20]byte) []byte {
	r := bencode.NewDictWriter().Bytes("id", id[:]).Finish()
	return bencode.NewDictWriter().
		Raw("r", r).
		Bytes("t", tx).
		Str("y", "r").
		Finish()
}
