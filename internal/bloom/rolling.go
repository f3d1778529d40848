// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package bloom implements the rolling two-window Bloom filter used by the
// DHT spider to dedupe harvested info-hashes at wire speed.
package bloom

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

// seedA and seedB mix the second of the two hash lanes used for
// double-hashing (Kirsch-Mitzenmacher); the first lane is the plain xxhash
// of the key. The second lane's result is forced odd so it never
// degenerates into a multiple of the bit-array size.
const (
	seedA uint64 = 0x9e3779b97f4a7c15
	seedB uint64 = 0xc2b2ae3d27d4eb4f
)

// Rolling is a two-window rolling Bloom filter. A "new" hash is one that
// misses both windows; membership is only ever recorded in the current
// window, and windows rotate on a wall-clock period to bound both memory
// and false-positive drift over time.
type Rolling struct {
	mu       sync.Mutex
	bitsPow2 int
	k        int
	period   time.Duration

	cur, prev *bitset.BitSet
	rotatedAt time.Time

	now func() time.Time
}

// New constructs a Rolling filter with 2^bitsPow2 bits per window, k hash
// lanes per test/insert, and the given rotation period.
func New(bitsPow2, k int, period time.Duration) *Rolling {
	if bitsPow2 <= 0 {
		bitsPow2 = 26
	}
	if k <= 0 {
		k = 12
	}
	if period <= 0 {
		period = 15 * time.Minute
	}

	nbits := uint(1) << uint(bitsPow2)
	return &Rolling{
		bitsPow2:  bitsPow2,
		k:         k,
		period:    period,
		cur:       bitset.New(nbits),
		prev:      bitset.New(nbits),
		rotatedAt: time.Now(),
		now:       time.Now,
	}
}

// TestAndSet reports whether key is new (absent from both windows), and in
// all cases inserts it into the current window. Rotation, if due, happens
// first so that a key observed right at a rotation boundary is tested
// against the freshly-rotated state.
func (r *Rolling) TestAndSet(key []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rotateIfDueLocked()

	h1, h2 := r.lanes(key)
	nbits := r.cur.Len()

	isNew := true
	for i := 0; i < r.k; i++ {
		idx := (h1 + uint64(i)*h2) % uint64(nbits)
		if r.cur.Test(uint(idx)) || r.prev.Test(uint(idx)) {
			isNew = false
		}
	}

	for i := 0; i < r.k; i++ {
		idx := (h1 + uint64(i)*h2) % uint64(nbits)
		r.cur.Set(uint(idx))
	}

	return isNew
}

// MaybeRotate rotates the windows if the rotation period has elapsed. Safe
// to call from the spider's periodic gc tick.
func (r *Rolling) MaybeRotate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotateIfDueLocked()
}

func (r *Rolling) rotateIfDueLocked() {
	elapsed := r.now().Sub(r.rotatedAt)
	if elapsed < r.period {
		return
	}
	if elapsed >= 2*r.period {
		// Two or more periods passed: both windows are stale.
		r.prev = bitset.New(r.cur.Len())
	} else {
		r.prev = r.cur
	}
	r.cur = bitset.New(r.cur.Len())
	r.rotatedAt = r.now()
}

func (r *Rolling) lanes(key []byte) (uint64, uint64) {
	h1 := xxhash.Sum64(key)

	var buf [8]byte
	for i := range buf {
		if i < len(key) {
			buf[i] = key[len(key)-1-i]
		}
	}
	h2 := xxhash.Sum64(append(buf[:], key...)) ^ seedA
	h2 ^= h1 >> 32
	h2 *= seedB
	h2 |= 1 // force odd, per spec

	return h1, h2
}
