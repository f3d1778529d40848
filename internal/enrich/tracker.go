// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package enrich

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/infohound/infohound/internal/bencode"
)

const trackerPort = 6881

// parseMagnetTrackers extracts the tr= tracker URLs from a magnet URI, in
// the order they appear.
func parseMagnetTrackers(magnet string) []string {
	u, err := url.Parse(magnet)
	if err != nil {
		return nil
	}
	return u.Query()["tr"]
}

// announceSeeders cross-checks seed counts against every tracker URL
// extracted from a magnet, taking the maximum "complete" field returned
// by any successful announce. Per spec.md §4.5 step 6: each announce
// uses uploaded=0, downloaded=0, left=1, event=started, a fresh 20-byte
// peer id, and a 6s per-tracker timeout. A tracker that errors or times
// out is skipped, not retried.
func announceSeeders(ctx context.Context, trackers []string, infoHash [20]byte) (int64, bool) {
	var peerID [20]byte
	_, _ = rand.Read(peerID[:])

	var best int64
	found := false
	for _, raw := range trackers {
		complete, err := announceOne(ctx, raw, infoHash, peerID)
		if err != nil {
			continue
		}
		if !found || complete > best {
			best = complete
			found = true
		}
	}
	return best, found
}

func announceOne(parent context.Context, rawURL string, infoHash, peerID [20]byte) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("enrich: parse tracker url: %w", err)
	}

	ctx, cancel := context.WithTimeout(parent, 6*time.Second)
	defer cancel()

	switch {
	case strings.HasPrefix(u.Scheme, "http"):
		return announceHTTP(ctx, u, infoHash, peerID)
	case u.Scheme == "udp":
		return announceUDP(ctx, u, infoHash, peerID)
	default:
		return 0, fmt.Errorf("enrich: unsupported tracker scheme %q", u.Scheme)
	}
}

// announceHTTP issues a BEP-3 HTTP(S) announce and decodes the bencoded
// response for its "complete" field.
func announceHTTP(ctx context.Context, u *url.URL, infoHash, peerID [20]byte) (int64, error) {
	q := u.Query()
	q.Set("info_hash", string(infoHash[:]))
	q.Set("peer_id", string(peerID[:]))
	q.Set("port", strconv.Itoa(trackerPort))
	q.Set("uploaded", "0")
	q.Set("downloaded", "0")
	q.Set("left", "1")
	q.Set("event", "started")
	q.Set("compact", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, err
	}
	v, n, ok := bencode.Decode(body)
	if !ok || n != len(body) || v.Kind != bencode.KindDict {
		return 0, errors.New("enrich: malformed tracker response")
	}
	if _, isErr := v.GetBytes("failure reason"); isErr {
		return 0, errors.New("enrich: tracker returned failure reason")
	}
	complete, ok := v.GetInt("complete")
	if !ok {
		return 0, errors.New("enrich: tracker response missing complete")
	}
	return complete, nil
}

// BEP-15 UDP tracker protocol constants.
const (
	udpProtocolID     = 0x41727101980
	udpActionConnect  = 0
	udpActionAnnounce = 1
	udpEventStarted   = 2
)

// announceUDP implements the minimal BEP-15 connect+announce exchange
// needed to recover a current seeder ("complete") count.
func announceUDP(ctx context.Context, u *url.URL, infoHash, peerID [20]byte) (int64, error) {
	conn, err := net.Dial("udp", u.Host)
	if err != nil {
		return 0, fmt.Errorf("enrich: dial udp tracker: %w", err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if ok {
		_ = conn.SetDeadline(deadline)
	}

	var txConnect [4]byte
	_, _ = rand.Read(txConnect[:])

	connReq := make([]byte, 16)
	binary.BigEndian.PutUint64(connReq[0:8], udpProtocolID)
	binary.BigEndian.PutUint32(connReq[8:12], udpActionConnect)
	copy(connReq[12:16], txConnect[:])
	if _, err := conn.Write(connReq); err != nil {
		return 0, err
	}

	connResp := make([]byte, 16)
	n, err := conn.Read(connResp)
	if err != nil {
		return 0, err
	}
	if n < 16 || binary.BigEndian.Uint32(connResp[0:4]) != udpActionConnect || !bytesEqual(connResp[4:8], txConnect[:]) {
		return 0, errors.New("enrich: malformed udp tracker connect response")
	}
	connectionID := connResp[8:16]

	var txAnnounce [4]byte
	_, _ = rand.Read(txAnnounce[:])
	var key [4]byte
	_, _ = rand.Read(key[:])

	announceReq := make([]byte, 98)
	copy(announceReq[0:8], connectionID)
	binary.BigEndian.PutUint32(announceReq[8:12], udpActionAnnounce)
	copy(announceReq[12:16], txAnnounce[:])
	copy(announceReq[16:36], infoHash[:])
	copy(announceReq[36:56], peerID[:])
	binary.BigEndian.PutUint64(announceReq[56:64], 0)  // downloaded
	binary.BigEndian.PutUint64(announceReq[64:72], 1)  // left
	binary.BigEndian.PutUint64(announceReq[72:80], 0)  // uploaded
	binary.BigEndian.PutUint32(announceReq[80:84], udpEventStarted)
	binary.BigEndian.PutUint32(announceReq[84:88], 0) // ip, 0 = default
	copy(announceReq[88:92], key[:])
	binary.BigEndian.PutUint32(announceReq[92:96], 0xFFFFFFFF) // num_want, -1
	binary.BigEndian.PutUint16(announceReq[96:98], uint16(trackerPort))

	if _, err := conn.Write(announceReq); err != nil {
		return 0, err
	}

	resp := make([]byte, 20)
	n, err = conn.Read(resp)
	if err != nil {
		return 0, err
	}
	if n < 20 || binary.BigEndian.Uint32(resp[0:4]) != udpActionAnnounce || !bytesEqual(resp[4:8], txAnnounce[:]) {
		return 0, errors.New("enrich: malformed udp tracker announce response")
	}
	seeders := int64(binary.BigEndian.Uint32(resp[16:20]))
	return seeders, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
