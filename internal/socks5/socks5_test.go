// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package socks5

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeRelayDatagramIPv4(t *testing.T) {
	buf := []byte{0, 0, 0, atypIPv4, 1, 2, 3, 4, 0x1A, 0xE1, 'h', 'i'}
	payload, addr, err := decodeRelayDatagram(buf)
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), payload)
	require.Equal(t, "1.2.3.4", addr.IP.String())
	require.Equal(t, 0x1AE1, addr.Port)
}

func TestDecodeRelayDatagramRejectsFragment(t *testing.T) {
	buf := []byte{0, 0, 1, atypIPv4, 1, 2, 3, 4, 0, 0}
	_, _, err := decodeRelayDatagram(buf)
	require.ErrorIs(t, err, ErrFragmented)
}

func TestDecodeRelayDatagramRejectsDomainATYP(t *testing.T) {
	buf := []byte{0, 0, 0, atypDomain, 3, 'f', 'o', 'o', 0, 0}
	_, _, err := decodeRelayDatagram(buf)
	require.ErrorIs(t, err, ErrDomainReply)
}

func TestDecodeRelayDatagramTooShort(t *testing.T) {
	_, _, err := decodeRelayDatagram([]byte{0, 0})
	require.Error(t, err)
}

func TestSendToEncodesHeaderRoundTrip(t *testing.T) {
	// Build an Assoc pointed at a loopback socket we control, so SendTo's
	// header framing can be verified by reading the raw bytes back off
	// the wire and decoding them with decodeRelayDatagram.
	relayConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer relayConn.Close()

	localConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	require.NoError(t, err)

	a := &Assoc{udp: localConn, relay: relayConn.LocalAddr().(*net.UDPAddr)}
	defer a.udp.Close()

	dst := &net.UDPAddr{IP: net.ParseIP("9.9.9.9"), Port: 6881}
	require.NoError(t, a.SendTo(dst, []byte("payload")))

	buf := make([]byte, 512)
	n, _, err := relayConn.ReadFromUDP(buf)
	require.NoError(t, err)

	payload, addr, err := decodeRelayDatagram(buf[:n])
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), payload)
	require.Equal(t, "9.9.9.9", addr.IP.String())
	require.Equal(t, 6881, addr.Port)
}
