// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package enrich implements the enrichment worker: it drains the
// missing-info index, walks the DHT for peers of each hash, fetches
// ut_metadata from them, cross-checks seed counts against trackers, and
// indexes the result.
package enrich

import (
	"net"
	"time"

	"github.com/infohound/infohound/internal/socks5"
)

// Transport abstracts the DHT UDP datagram path so the walk can run
// either over a direct socket or a SOCKS5 UDP-associate session without
// branching on transport type.
type Transport interface {
	SendTo(addr *net.UDPAddr, payload []byte) error
	RecvFrom(timeout time.Duration) (payload []byte, addr *net.UDPAddr, err error)
	Close() error
}

// directTransport is a plain dual-stack UDP socket pair.
type directTransport struct {
	v4, v6 *net.UDPConn
}

// NewDirectTransport opens best-effort v4/v6 UDP sockets for outbound
// DHT walk traffic.
func NewDirectTransport() (Transport, error) {
	v4, _ := net.ListenUDP("udp4", &net.UDPAddr{})
	v6, _ := net.ListenUDP("udp6", &net.UDPAddr{})
	return &directTransport{v4: v4, v6: v6}, nil
}

func (t *directTransport) SendTo(addr *net.UDPAddr, payload []byte) error {
	conn := t.v4
	if addr.IP.To4() == nil {
		conn = t.v6
	}
	if conn == nil {
		return net.ErrClosed
	}
	_, err := conn.WriteToUDP(payload, addr)
	return err
}

func (t *directTransport) RecvFrom(timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	conn := t.v4
	if conn == nil {
		conn = t.v6
	}
	if conn == nil {
		return nil, nil, net.ErrClosed
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 2048)
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}
	return buf[:n], addr, nil
}

func (t *directTransport) Close() error {
	var err error
	if t.v4 != nil {
		err = t.v4.Close()
	}
	if t.v6 != nil {
		if e := t.v6.Close(); e != nil {
			err = e
		}
	}
	return err
}

// socks5Transport adapts a socks5.Assoc to the Transport interface.
type socks5Transport struct {
	assoc *socks5.Assoc
}

// NewSocks5Transport dials proxyAddr and establishes a UDP-associate
// session for the life of the worker.
func NewSocks5Transport(proxyAddr, username, password string, dialTimeout time.Duration) (Transport, error) {
	assoc, err := socks5.Dial(proxyAddr, username, password, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &socks5Transport{assoc: assoc}, nil
}

func (t *socks5Transport) SendTo(addr *net.UDPAddr, payload []byte) error {
	return t.assoc.SendTo(addr, payload)
}

func (t *socks5Transport) RecvFrom(timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	return t.assoc.RecvFrom(timeout)
}

func (t *socks5Transport) Close() error {
	return t.assoc.Close()
}
