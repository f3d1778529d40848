// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package spider

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func udpAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", s)
	require.NoError(t, err)
	return addr
}

func TestNodeSetRejectsUnroutableAddresses(t *testing.T) {
	ns := NewNodeSet(10)
	require.False(t, ns.Add(udpAddr(t, "127.0.0.1:6881")))
	require.False(t, ns.Add(udpAddr(t, "10.0.0.1:6881")))
	require.Equal(t, 0, ns.Len())
}

func TestNodeSetDedupesByAddress(t *testing.T) {
	ns := NewNodeSet(10)
	require.True(t, ns.Add(udpAddr(t, "1.2.3.4:6881")))
	require.False(t, ns.Add(udpAddr(t, "1.2.3.4:6881")))
	require.Equal(t, 1, ns.Len())
}

func TestNodeSetEvictsOldestWhenFull(t *testing.T) {
	ns := NewNodeSet(2)
	require.True(t, ns.Add(udpAddr(t, "1.1.1.1:6881")))
	require.True(t, ns.Add(udpAddr(t, "2.2.2.2:6881")))
	require.True(t, ns.Add(udpAddr(t, "3.3.3.3:6881")))
	require.Equal(t, 2, ns.Len())

	sample := ns.Sample(2)
	addrs := map[string]bool{}
	for _, n := range sample {
		addrs[n.Addr.String()] = true
	}
	require.False(t, addrs["1.1.1.1:6881"], "oldest entry must have been evicted")
}

func TestNodeSetSampleRotatesThroughEntries(t *testing.T) {
	ns := NewNodeSet(10)
	require.True(t, ns.Add(udpAddr(t, "1.1.1.1:6881")))
	require.True(t, ns.Add(udpAddr(t, "2.2.2.2:6881")))

	first := ns.Sample(1)
	require.Equal(t, "1.1.1.1:6881", first[0].Addr.String())

	second := ns.Sample(1)
	require.Equal(t, "2.2.2.2:6881", second[0].Addr.String())
}
