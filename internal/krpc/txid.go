// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package krpc

import "sync/atomic"

// TxCounter produces 2-byte, big-endian, process-monotonic transaction ids.
type TxCounter struct {
	n uint32
}

// Next returns the next transaction id, wrapping at 2^16.
func (c *TxCounter) Next() []byte {
	v := atomic.AddUint32(&c.n, 1)
	return []byte{byte(v >> 8), byte(v)}
}
