// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package peerwire implements the thin BitTorrent peer-wire collaborator
// the enrichment worker needs: BEP-3 handshake, BEP-10 extension
// negotiation, and raw message framing, against a plain TCP stream.
// Message-type identifiers come from anacrolix/torrent's peer_protocol
// package rather than being re-declared here; the framing and handshake
// bytes themselves are written directly since the rest of this service's
// wire protocols (KRPC, ut_metadata) are hand-built on internal/bencode
// and keeping the peer-wire framing in the same style avoids pulling in
// a second, heavier connection abstraction just for a handshake.
package peerwire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	pp "github.com/anacrolix/torrent/peer_protocol"
)

const protocolString = "BitTorrent protocol"

// extensionBit marks support for BEP-10 in the BEP-3 reserved bytes
// (byte index 5, bit 0x10 per convention).
const extensionReservedByte = 5
const extensionBit = 0x10

var errProtocolMismatch = errors.New("peerwire: handshake protocol string mismatch")
var errInfoHashMismatch = errors.New("peerwire: handshake info_hash mismatch")

// Conn is one connected, handshaken peer-wire stream.
type Conn struct {
	nc                net.Conn
	r                 *bufio.Reader
	SupportsExtension bool
}

// Connect dials addr with the given timeout and performs the BEP-3
// handshake, advertising extension-protocol support.
func Connect(addr *net.TCPAddr, infoHash, myPeerID [20]byte, timeout time.Duration) (*Conn, error) {
	nc, err := net.DialTimeout("tcp", addr.String(), timeout)
	if err != nil {
		return nil, fmt.Errorf("peerwire: dial: %w", err)
	}
	c := &Conn{nc: nc, r: bufio.NewReader(nc)}

	_ = nc.SetDeadline(time.Now().Add(timeout))
	if err := c.sendHandshake(infoHash, myPeerID); err != nil {
		_ = nc.Close()
		return nil, err
	}
	supportsExt, _, err := c.readHandshake(infoHash)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	c.SupportsExtension = supportsExt
	return c, nil
}

func (c *Conn) sendHandshake(infoHash, peerID [20]byte) error {
	buf := make([]byte, 0, 68)
	buf = append(buf, byte(len(protocolString)))
	buf = append(buf, protocolString...)
	reserved := make([]byte, 8)
	reserved[extensionReservedByte] |= extensionBit
	buf = append(buf, reserved...)
	buf = append(buf, infoHash[:]...)
	buf = append(buf, peerID[:]...)
	_, err := c.nc.Write(buf)
	return err
}

func (c *Conn) readHandshake(wantInfoHash [20]byte) (supportsExt bool, peerID [20]byte, err error) {
	pstrlen, err := c.r.ReadByte()
	if err != nil {
		return false, peerID, err
	}
	rest := make([]byte, int(pstrlen)+8+20+20)
	if _, err := io.ReadFull(c.r, rest); err != nil {
		return false, peerID, err
	}
	if string(rest[:pstrlen]) != protocolString {
		return false, peerID, errProtocolMismatch
	}
	reserved := rest[pstrlen : int(pstrlen)+8]
	ih := rest[int(pstrlen)+8 : int(pstrlen)+8+20]
	copy(peerID[:], rest[int(pstrlen)+8+20:])

	if string(ih) != string(wantInfoHash[:]) {
		return false, peerID, errInfoHashMismatch
	}
	return reserved[extensionReservedByte]&extensionBit != 0, peerID, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// SetDeadline adjusts the read/write deadline for subsequent operations.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.nc.SetDeadline(t)
}

// SendExtended writes an extended message (pp.Extended) with the given
// extended-message id and bencoded payload.
func (c *Conn) SendExtended(extID byte, payload []byte) error {
	body := make([]byte, 0, 1+len(payload))
	body = append(body, extID)
	body = append(body, payload...)
	return c.sendMessage(byte(pp.Extended), body)
}

func (c *Conn) sendMessage(id byte, body []byte) error {
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(1+len(body)))
	if _, err := c.nc.Write(length); err != nil {
		return err
	}
	if _, err := c.nc.Write([]byte{id}); err != nil {
		return err
	}
	_, err := c.nc.Write(body)
	return err
}

// Message is one decoded peer-wire message. ID is the top-level message
// type; for Extended messages ExtID/ExtPayload carry the inner
// extended-message id and bencoded payload.
type Message struct {
	ID         byte
	Payload    []byte
	ExtID      byte
	ExtPayload []byte
	KeepAlive  bool
}

// maxMessageLength bounds the declared frame length ReadMessage will
// allocate for. ut_metadata pieces are capped at 16 KiB (BEP-9); this
// leaves generous slack for handshake/extension overhead while refusing
// to let a peer force an arbitrarily large allocation.
const maxMessageLength = 32 * 1024

// ReadMessage reads and decodes exactly one peer-wire message, unwrapping
// the extended-message envelope when ID == pp.Extended.
func (c *Conn) ReadMessage() (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.r, lenBuf[:]); err != nil {
		return Message{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return Message{KeepAlive: true}, nil
	}
	if length > maxMessageLength {
		return Message{}, fmt.Errorf("peerwire: frame length %d exceeds max %d", length, maxMessageLength)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return Message{}, err
	}

	msg := Message{ID: body[0], Payload: body[1:]}
	if msg.ID == byte(pp.Extended) && len(body) >= 2 {
		msg.ExtID = body[1]
		msg.ExtPayload = body[2:]
	}
	return msg, nil
}
