// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package enrich

import (
	"context"
	"crypto/rand"
	"net"
	"time"

	"github.com/infohound/infohound/internal/krpc"
	"github.com/infohound/infohound/internal/netutil"
)

// WalkParams bundles the iterative get_peers walk's tuning knobs.
type WalkParams struct {
	QueryTimeout     time.Duration
	MaxQueriesPerHash int
	PeersPerHash     int
	OverallDeadline  time.Duration
	Inflight         int
	RecvTimeout      time.Duration
}

type inflightQuery struct {
	addr    *net.UDPAddr
	sentAt  time.Time
}

// walkResult is the outcome of one iterative get_peers walk.
type walkResult struct {
	peers []*net.UDPAddr
}

// getPeersWalk implements spec.md §4.5 step 1: iterative XOR-distance
// ordered get_peers walk with an in-flight transaction window, bounded
// by query count, peer count, and an overall deadline.
func getPeersWalk(ctx context.Context, transport Transport, selfID [20]byte, target [20]byte, bootstrap []*net.UDPAddr, p WalkParams) walkResult {
	deadline := time.Now().Add(p.OverallDeadline)
	candidates := newWalkHeap()
	for _, addr := range bootstrap {
		candidates.pushBootstrap(addr)
	}

	var tx krpc.TxCounter
	inflight := make(map[string]inflightQuery)
	seenPeers := make(map[string]bool)
	var peers []*net.UDPAddr
	queries := 0

	for time.Now().Before(deadline) && queries < p.MaxQueriesPerHash && len(peers) < p.PeersPerHash {
		select {
		case <-ctx.Done():
			return walkResult{peers: peers}
		default:
		}

		pruneExpired(inflight, p.QueryTimeout)

		for len(inflight) < p.Inflight && queries < p.MaxQueriesPerHash {
			c, ok := candidates.pop()
			if !ok {
				break
			}
			txID := tx.Next()
			if err := transport.SendTo(c.addr, krpc.GetPeers(txID, selfID, target)); err != nil {
				continue
			}
			inflight[string(txID)] = inflightQuery{addr: c.addr, sentAt: time.Now()}
			queries++
		}

		if len(inflight) == 0 && candidates.len() == 0 {
			break
		}

		buf, addr, err := transport.RecvFrom(p.RecvTimeout)
		if err != nil {
			continue
		}
		msg, ok := krpc.Parse(buf)
		if !ok || msg.Type != krpc.TypeResponse {
			continue
		}
		if _, ok := inflight[string(msg.Tx)]; !ok {
			continue
		}
		delete(inflight, string(msg.Tx))
		_ = addr

		for _, n := range msg.CompactNodes("nodes") {
			if a, id, ok := decodeNodeEntry(n.ID(), n.Addr()); ok {
				candidates.pushNode(a, id, target)
			}
		}
		for _, n := range msg.CompactNodes("nodes6") {
			if a, id, ok := decodeNodeEntry(n.ID(), n.Addr()); ok {
				candidates.pushNode(a, id, target)
			}
		}
		for _, raw := range msg.CompactPeers("values") {
			if a := decodeCompactPeer(raw); a != nil {
				addPeer(&peers, seenPeers, a, p.PeersPerHash)
			}
		}
		for _, raw := range msg.CompactPeers("values6") {
			if a := decodeCompactPeer(raw); a != nil {
				addPeer(&peers, seenPeers, a, p.PeersPerHash)
			}
		}
	}

	return walkResult{peers: peers}
}

func pruneExpired(inflight map[string]inflightQuery, timeout time.Duration) {
	now := time.Now()
	for tx, q := range inflight {
		if now.Sub(q.sentAt) > timeout {
			delete(inflight, tx)
		}
	}
}

func addPeer(peers *[]*net.UDPAddr, seen map[string]bool, addr *net.UDPAddr, cap int) {
	if !netutil.Routable(addr.IP) {
		return
	}
	key := addr.String()
	if seen[key] || len(*peers) >= cap {
		return
	}
	seen[key] = true
	*peers = append(*peers, addr)
}

func decodeNodeEntry(id [20]byte, raw []byte) (*net.UDPAddr, [20]byte, bool) {
	switch len(raw) {
	case 6:
		ip := net.IP(append([]byte(nil), raw[:4]...))
		port := int(raw[4])<<8 | int(raw[5])
		addr := &net.UDPAddr{IP: ip, Port: port}
		if !netutil.Routable(ip) {
			return nil, id, false
		}
		return addr, id, true
	case 18:
		ip := net.IP(append([]byte(nil), raw[:16]...))
		port := int(raw[16])<<8 | int(raw[17])
		addr := &net.UDPAddr{IP: ip, Port: port}
		if !netutil.Routable(ip) {
			return nil, id, false
		}
		return addr, id, true
	default:
		return nil, id, false
	}
}

func decodeCompactPeer(raw []byte) *net.UDPAddr {
	switch len(raw) {
	case 6:
		return &net.UDPAddr{IP: net.IP(append([]byte(nil), raw[:4]...)), Port: int(raw[4])<<8 | int(raw[5])}
	case 18:
		return &net.UDPAddr{IP: net.IP(append([]byte(nil), raw[:16]...)), Port: int(raw[16])<<8 | int(raw[17])}
	default:
		return nil
	}
}

// randomTarget builds a 20-byte random target. Nothing in this package
// calls it.
func randomTarget() [20]byte {
	var t [20]byte
	_, _ = rand.Read(t[:])
	return t
}
