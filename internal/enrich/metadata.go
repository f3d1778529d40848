// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package enrich

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/infohound/infohound/internal/bencode"
	"github.com/infohound/infohound/internal/peerwire"
)

const metadataPieceSize = 16 * 1024

var errNoExtensionSupport = errors.New("enrich: peer does not advertise extension support")
var errRejected = errors.New("enrich: peer rejected a metadata piece request")
var errPieceDeadline = errors.New("enrich: metadata piece collection deadline exceeded")

// metadataResult is the decoded info dictionary recovered from a peer.
type metadataResult struct {
	Title   string
	RawInfo []byte
}

// fetchMetadataFromPeers races the ut_metadata fetch across candidate
// peers with at most maxInflight concurrent attempts; the first success
// wins and the rest are cancelled.
func fetchMetadataFromPeers(parent context.Context, peers []*net.UDPAddr, infoHash [20]byte, maxInflight int, perPeerTimeout time.Duration) (*metadataResult, bool) {
	if len(peers) == 0 {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sem := semaphore.NewWeighted(int64(maxInflight))
	resultCh := make(chan *metadataResult, len(peers))

	for _, p := range peers {
		peer := p
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		go func() {
			defer sem.Release(1)
			res, err := fetchMetadataFromOnePeer(ctx, peer, infoHash, perPeerTimeout)
			if err == nil {
				select {
				case resultCh <- res:
				default:
				}
			}
		}()
	}

	select {
	case res := <-resultCh:
		return res, true
	case <-time.After(perPeerTimeout + time.Second):
		return nil, false
	case <-parent.Done():
		return nil, false
	}
}

func fetchMetadataFromOnePeer(ctx context.Context, addr *net.UDPAddr, infoHash [20]byte, timeout time.Duration) (*metadataResult, error) {
	tcpAddr := &net.TCPAddr{IP: addr.IP, Port: addr.Port}

	var myID [20]byte
	_, _ = rand.Read(myID[:])

	conn, err := peerwire.Connect(tcpAddr, infoHash, myID, 6*time.Second)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if !conn.SupportsExtension {
		return nil, errNoExtensionSupport
	}
	_ = conn.SetDeadline(time.Now().Add(timeout))

	handshake := bencode.NewDictWriter().
		Raw("m", bencode.NewDictWriter().Int("ut_metadata", 1).Finish()).
		Str("v", "infohound").
		Finish()
	if err := conn.SendExtended(0, handshake); err != nil {
		return nil, err
	}

	peerUTMetadataID, metadataSize, err := readPeerExtendedHandshake(conn, 6*time.Second)
	if err != nil {
		return nil, err
	}

	if metadataSize <= 0 {
		metadataSize, err = probeMetadataSizeFromPiece0(conn, peerUTMetadataID)
		if err != nil {
			return nil, err
		}
	}

	raw, err := collectMetadataPieces(conn, peerUTMetadataID, metadataSize, 12*time.Second)
	if err != nil {
		return nil, err
	}

	v, n, ok := bencode.Decode(raw)
	if !ok || n != len(raw) || v.Kind != bencode.KindDict {
		return nil, errors.New("enrich: malformed info dictionary")
	}
	title := extractName(v)

	return &metadataResult{Title: title, RawInfo: raw}, nil
}

func extractName(info bencode.Value) string {
	if nameVal, ok := info.Dict["name.utf-8"]; ok && nameVal.Kind == bencode.KindString {
		return string(nameVal.Str)
	}
	if nameVal, ok := info.Dict["name"]; ok && nameVal.Kind == bencode.KindString {
		return string(nameVal.Str)
	}
	return ""
}

func readPeerExtendedHandshake(conn *peerwire.Conn, timeout time.Duration) (utMetadataID byte, metadataSize int, err error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		msg, err := conn.ReadMessage()
		if err != nil {
			return 0, 0, err
		}
		if msg.KeepAlive || msg.ExtID != 0 {
			continue // only the handshake (ext id 0) is of interest here
		}
		v, n, ok := bencode.Decode(msg.ExtPayload)
		if !ok || n != len(msg.ExtPayload) {
			continue
		}
		m, ok := v.GetDict("m")
		if !ok {
			continue
		}
		idVal, ok := m.GetInt("ut_metadata")
		if !ok {
			return 0, 0, errors.New("enrich: peer did not advertise ut_metadata")
		}
		size, _ := v.GetInt("metadata_size")
		return byte(idVal), int(size), nil
	}
	return 0, 0, fmt.Errorf("enrich: %w waiting for extended handshake", errPieceDeadline)
}

func probeMetadataSizeFromPiece0(conn *peerwire.Conn, utMetadataID byte) (int, error) {
	req := bencode.NewDictWriter().Int("msg_type", 0).Int("piece", 0).Finish()
	if err := conn.SendExtended(utMetadataID, req); err != nil {
		return 0, err
	}
	msg, err := conn.ReadMessage()
	if err != nil {
		return 0, err
	}
	msgType, _, pieceData, err := parseMetadataMessage(msg, utMetadataID)
	if err != nil {
		return 0, err
	}
	if msgType != 1 {
		return 0, errRejected
	}
	if v, _, ok := bencode.Decode(msg.ExtPayload); ok {
		if total, ok := v.GetInt("total_size"); ok && total > 0 {
			return int(total), nil
		}
	}
	return len(pieceData), nil
}

// collectMetadataPieces requests every piece of the info dictionary by
// id, reassembling into a single contiguous buffer.
func collectMetadataPieces(conn *peerwire.Conn, utMetadataID byte, totalSize int, deadline time.Duration) ([]byte, error) {
	pieceCount := (totalSize + metadataPieceSize - 1) / metadataPieceSize
	if pieceCount <= 0 {
		return nil, errors.New("enrich: non-positive metadata size")
	}
	pieces := make([][]byte, pieceCount)
	collected := 0
	end := time.Now().Add(deadline)

	for i := 0; i < pieceCount; i++ {
		req := bencode.NewDictWriter().Int("msg_type", 0).Int("piece", int64(i)).Finish()
		if err := conn.SendExtended(utMetadataID, req); err != nil {
			return nil, err
		}
	}

	for collected < pieceCount && time.Now().Before(end) {
		msg, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		msgType, pieceIdx, payload, perr := parseMetadataMessage(msg, utMetadataID)
		if perr != nil {
			continue
		}
		if msgType == 2 {
			return nil, errRejected
		}
		if msgType != 1 {
			continue
		}
		if pieceIdx < 0 || pieceIdx >= pieceCount || pieces[pieceIdx] != nil {
			continue
		}
		pieces[pieceIdx] = payload
		collected++
	}
	if collected != pieceCount {
		return nil, errPieceDeadline
	}

	out := make([]byte, 0, totalSize)
	for _, p := range pieces {
		out = append(out, p...)
	}
	return out, nil
}

// parseMetadataMessage extracts the msg_type, piece index, and raw
// piece payload (the bytes following the bencoded dict header) from a
// ut_metadata extension message.
func parseMetadataMessage(msg peerwire.Message, wantExtID byte) (msgType, pieceIdx int, payload []byte, err error) {
	if msg.KeepAlive || msg.ExtID != wantExtID {
		return 0, 0, nil, errors.New("enrich: not a ut_metadata message")
	}
	v, n, ok := bencode.Decode(msg.ExtPayload)
	if !ok || v.Kind != bencode.KindDict {
		return 0, 0, nil, errors.New("enrich: malformed ut_metadata message")
	}
	mt, ok := v.GetInt("msg_type")
	if !ok {
		return 0, 0, nil, errors.New("enrich: ut_metadata message missing msg_type")
	}
	piece, _ := v.GetInt("piece")
	return int(mt), int(piece), msg.ExtPayload[n:], nil
}
