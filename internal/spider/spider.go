// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package spider implements the DHT spider: bootstrap into the
// mainline DHT, maintain a bounded known-node roster, periodically
// probe via find_node and BEP-51 sample_infohashes, answer inbound
// queries with minimal replies, and harvest every info-hash legitimately
// observed.
package spider

import (
	"context"
	"crypto/rand"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/infohound/infohound/internal/bloom"
	"github.com/infohound/infohound/internal/domain"
	"github.com/infohound/infohound/internal/krpc"
	"github.com/infohound/infohound/internal/metrics"
)

const (
	maxSamplesDefault = 256
	recvBufSize       = 2048
)

// Config is the subset of spider tuning knobs read from domain.Config.
type Config struct {
	Bind               string
	Bootstrap          string
	MaxKnownNodes      int
	SeenRotateEverySec int
	SeenBitsPow2       int
	SeenK              int
	SampleEverySec     int
	SamplePerTick      int
	MaxSamplesPerMsg   int
	BootstrapEverySec  int
	GCEverySec         int
}

// ConfigFrom extracts a spider.Config from the application config.
func ConfigFrom(c domain.Config) Config {
	return Config{
		Bind:               c.SpiderBind,
		Bootstrap:          c.SpiderBootstrap,
		MaxKnownNodes:      c.SpiderMaxKnownNodes,
		SeenRotateEverySec: c.SpiderSeenRotateEverySec,
		SeenBitsPow2:       c.SpiderSeenBitsPow2,
		SeenK:              c.SpiderSeenK,
		SampleEverySec:     c.SpiderSampleEverySec,
		SamplePerTick:      c.SpiderSamplePerTick,
		MaxSamplesPerMsg:   c.SpiderMaxSamplesPerMsg,
		BootstrapEverySec:  c.SpiderBootstrapEverySec,
		GCEverySec:         c.SpiderGCEverySec,
	}
}

// Spider owns the UDP sockets, known-node roster, and dedupe filter.
type Spider struct {
	cfg   Config
	store Store
	index TextIndex

	selfID [20]byte
	tx     krpc.TxCounter

	v4 *net.UDPConn
	v6 *net.UDPConn

	nodes *NodeSet
	seen  *bloom.Rolling
}

// New constructs a Spider. The UDP sockets are not opened until Run.
func New(cfg Config, store Store, index TextIndex) *Spider {
	var id [20]byte
	_, _ = rand.Read(id[:])

	rotate := time.Duration(cfg.SeenRotateEverySec) * time.Second
	if rotate <= 0 {
		rotate = 15 * time.Minute
	}
	bits := cfg.SeenBitsPow2
	if bits <= 0 {
		bits = 26
	}
	k := cfg.SeenK
	if k <= 0 {
		k = 12
	}

	return &Spider{
		cfg:    cfg,
		store:  store,
		index:  index,
		selfID: id,
		nodes:  NewNodeSet(cfg.MaxKnownNodes),
		seen:   bloom.New(bits, k, rotate),
	}
}

// Run binds the UDP sockets (best-effort for each family) and runs the
// spider's cooperative scheduler until ctx is cancelled. Bind failures
// are logged; if both families fail to bind, Run returns.
func (s *Spider) Run(ctx context.Context) error {
	bindHost, bindPort, err := net.SplitHostPort(s.cfg.Bind)
	if err != nil {
		bindHost, bindPort = "0.0.0.0", "0"
	}

	s.v4 = bindUDP(ctx, "udp4", net.JoinHostPort(defaultIfEmpty(bindHost, "0.0.0.0"), bindPort))
	s.v6 = bindUDP(ctx, "udp6", net.JoinHostPort("[::]", bindPort))

	if s.v4 == nil && s.v6 == nil {
		log.Error().Msg("spider: both UDP sockets failed to bind, spider disabled")
		return nil
	}
	defer func() {
		if s.v4 != nil {
			_ = s.v4.Close()
		}
		if s.v6 != nil {
			_ = s.v6.Close()
		}
	}()

	s.bootstrapSeed()

	bootstrapEvery := secondsOr(s.cfg.BootstrapEverySec, 15)
	sampleEvery := secondsOr(s.cfg.SampleEverySec, 5)
	gcEvery := secondsOr(s.cfg.GCEverySec, 30)

	bootstrapTicker := time.NewTicker(bootstrapEvery)
	sampleTicker := time.NewTicker(sampleEvery)
	gcTicker := time.NewTicker(gcEvery)
	defer bootstrapTicker.Stop()
	defer sampleTicker.Stop()
	defer gcTicker.Stop()

	go s.recvLoop(ctx, s.v4)
	go s.recvLoop(ctx, s.v6)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-bootstrapTicker.C:
			s.doBootstrapTick()
		case <-sampleTicker.C:
			s.doSampleTick()
		case <-gcTicker.C:
			s.seen.MaybeRotate()
			s.nodes.Cap()
		}
	}
}

func secondsOr(n, def int) time.Duration {
	if n <= 0 {
		n = def
	}
	return time.Duration(n) * time.Second
}

func defaultIfEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func bindUDP(ctx context.Context, network, addr string) *net.UDPConn {
	udpAddr, err := net.ResolveUDPAddr(network, addr)
	if err != nil {
		log.Warn().Err(err).Str("network", network).Str("addr", addr).Msg("spider: resolve failed")
		return nil
	}
	conn, err := net.ListenUDP(network, udpAddr)
	if err != nil {
		log.Warn().Err(err).Str("network", network).Msg("spider: bind failed, continuing on surviving family")
		return nil
	}
	return conn
}

func (s *Spider) bootstrapSeed() {
	for _, host := range strings.Split(s.cfg.Bootstrap, ",") {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		addr, err := net.ResolveUDPAddr("udp", host)
		if err != nil {
			log.Warn().Err(err).Str("host", host).Msg("spider: bootstrap resolve failed")
			continue
		}
		s.nodes.Add(addr)
	}
}

func (s *Spider) doBootstrapTick() {
	for _, n := range s.nodes.Sample(16) {
		var target [20]byte
		_, _ = rand.Read(target[:])
		s.send(n.Addr, krpc.FindNode(s.tx.Next(), s.selfID, target))
	}
}

func (s *Spider) doSampleTick() {
	for _, n := range s.nodes.Sample(12) {
		var target [20]byte
		_, _ = rand.Read(target[:])
		s.send(n.Addr, krpc.SampleInfohashes(s.tx.Next(), s.selfID, target))
	}
}

func (s *Spider) send(addr *net.UDPAddr, payload []byte) {
	conn := s.v4
	if addr.IP.To4() == nil {
		conn = s.v6
	}
	if conn == nil {
		return
	}
	_, _ = conn.WriteToUDP(payload, addr)
}

// recvLoop owns one socket's continuous receive suspension point,
// dispatching each decoded datagram inline (the spider has no other
// contended state besides the roster/filter, which are already
// internally synchronized).
func (s *Spider) recvLoop(ctx context.Context, conn *net.UDPConn) {
	if conn == nil {
		return
	}
	buf := make([]byte, recvBufSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		s.handleFromAddr(buf[:n], addr)
	}
}

func (s *Spider) handleFromAddr(buf []byte, addr *net.UDPAddr) {
	msg, ok := krpc.Parse(buf)
	if !ok {
		return
	}

	switch msg.Type {
	case krpc.TypeResponse:
		for _, n := range msg.CompactNodes("nodes") {
			if a := decodeCompactAddr(n.Addr()); a != nil {
				s.nodes.Add(a)
			}
		}
		for _, n := range msg.CompactNodes("nodes6") {
			if a := decodeCompactAddr(n.Addr()); a != nil {
				s.nodes.Add(a)
			}
		}
		limit := s.cfg.MaxSamplesPerMsg
		if limit <= 0 {
			limit = maxSamplesDefault
		}
		for _, h := range msg.Samples(limit) {
			s.observeHash(h)
		}
	case krpc.TypeQuery:
		if ih, ok := msg.QueryInfoHash(); ok {
			s.observeHash(ih)
		}
		s.send(addr, krpc.MinimalResponse(msg.Tx, s.selfID))
		s.nodes.Add(addr)
	}
}

// decodeCompactAddr turns a 6-byte (IPv4) or 18-byte (IPv6) compact
// address trailer into a *net.UDPAddr, or nil if malformed.
func decodeCompactAddr(raw []byte) *net.UDPAddr {
	switch len(raw) {
	case 6:
		ip := net.IP(append([]byte(nil), raw[:4]...))
		port := int(raw[4])<<8 | int(raw[5])
		return &net.UDPAddr{IP: ip, Port: port}
	case 18:
		ip := net.IP(append([]byte(nil), raw[:16]...))
		port := int(raw[16])<<8 | int(raw[17])
		return &net.UDPAddr{IP: ip, Port: port}
	default:
		return nil
	}
}

func (s *Spider) observeHash(h [20]byte) {
	if !s.seen.TestAndSet(h[:]) {
		return
	}
	metrics.HashesHarvested.Inc()
	ingest(s.store, s.index, h)
}
