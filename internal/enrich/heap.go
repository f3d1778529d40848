// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package enrich

import (
	"container/heap"
	"net"
)

// candidate is one DHT node the walk may still query.
type candidate struct {
	addr     *net.UDPAddr
	id       [20]byte
	hasID    bool
	distance [20]byte
}

// xorDistance computes the bytewise XOR distance between two 20-byte
// node IDs / hashes, used to order the walk's candidate heap.
func xorDistance(a, b [20]byte) [20]byte {
	var d [20]byte
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

func less20(a, b [20]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// candidateHeap orders candidates by ascending XOR distance to the
// target hash. Bootstrap nodes (no known ID) sort first, since their
// distance is treated as zero per spec.md §4.5.
type candidateHeap []*candidate

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	return less20(h[i].distance, h[j].distance)
}
func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)   { *h = append(*h, x.(*candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// walkHeap wraps candidateHeap with the address-dedupe set the walk
// needs on top of heap ordering.
type walkHeap struct {
	h    candidateHeap
	seen map[string]bool
}

func newWalkHeap() *walkHeap {
	return &walkHeap{seen: make(map[string]bool)}
}

// pushBootstrap adds a bootstrap node with unknown ID and zero
// distance.
func (w *walkHeap) pushBootstrap(addr *net.UDPAddr) {
	key := addr.String()
	if w.seen[key] {
		return
	}
	w.seen[key] = true
	heap.Push(&w.h, &candidate{addr: addr})
}

// pushNode adds a node with a known ID, ordered by distance to target.
func (w *walkHeap) pushNode(addr *net.UDPAddr, id, target [20]byte) {
	key := addr.String()
	if w.seen[key] {
		return
	}
	w.seen[key] = true
	heap.Push(&w.h, &candidate{addr: addr, id: id, hasID: true, distance: xorDistance(id, target)})
}

func (w *walkHeap) pop() (*candidate, bool) {
	if w.h.Len() == 0 {
		return nil, false
	}
	return heap.Pop(&w.h).(*candidate), true
}

func (w *walkHeap) len() int { return w.h.Len() }
