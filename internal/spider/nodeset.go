// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package spider

import (
	"net"
	"sync"

	"github.com/infohound/infohound/internal/netutil"
)

// Node is one known DHT contact.
type Node struct {
	Addr *net.UDPAddr
}

// NodeSet is an insertion-ordered bounded roster with O(1) membership
// testing, capped at maxLen. Once full, the oldest entry is evicted to
// admit a new one (FIFO), matching "bounded queue with a membership
// set" from spec.md §4.4.
type NodeSet struct {
	mu      sync.Mutex
	maxLen  int
	order   []string
	members map[string]Node
}

// NewNodeSet builds a roster capped at maxLen entries.
func NewNodeSet(maxLen int) *NodeSet {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &NodeSet{
		maxLen:  maxLen,
		members: make(map[string]Node, maxLen),
	}
}

// Add admits addr if it passes the routable-address filter and isn't
// already known, evicting the oldest entry if the roster is full.
// Reports whether it was admitted.
func (s *NodeSet) Add(addr *net.UDPAddr) bool {
	if addr == nil || !netutil.Routable(addr.IP) {
		return false
	}
	key := addr.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[key]; ok {
		return false
	}
	if len(s.order) >= s.maxLen {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.members, oldest)
	}
	s.order = append(s.order, key)
	s.members[key] = Node{Addr: addr}
	return true
}

// Sample returns up to n nodes from the front of the insertion order
// ("rotated" nodes, i.e. the oldest-probed-first rotation used by the
// bootstrap/sample ticks), then moves them to the back so the next
// call samples a different slice.
func (s *NodeSet) Sample(n int) []Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n > len(s.order) {
		n = len(s.order)
	}
	out := make([]Node, 0, n)
	for i := 0; i < n; i++ {
		key := s.order[0]
		s.order = s.order[1:]
		node := s.members[key]
		out = append(out, node)
		s.order = append(s.order, key)
	}
	return out
}

// Len reports the current roster size.
func (s *NodeSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Cap truncates the roster down to maxLen if it has grown past it
// (defensive; Add already enforces the cap on admission).
func (s *NodeSet) Cap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.order) > s.maxLen {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.members, oldest)
	}
}
