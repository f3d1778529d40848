// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes the service's Prometheus collectors: one
// small registry and package-level counters/gauges. Only HashesHarvested
// is updated (by the spider); the other collectors are registered and
// exported, but nothing in this tree updates them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Manager owns the Prometheus registry that exposes the package vars
// below.
type Manager struct {
	registry *prometheus.Registry
}

var (
	// HashesHarvested counts every distinct info-hash the spider has
	// passed through the rolling Bloom dedupe.
	HashesHarvested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "infohound_hashes_harvested_total",
		Help: "Total distinct info-hashes accepted by the spider's dedupe filter.",
	})

	// RecordsEnriched counts enrichment runs that persisted metadata. No
	// worker increments it, so it stays at zero.
	RecordsEnriched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "infohound_records_enriched_total",
		Help: "Total records that received metadata from the enrichment worker.",
	})

	// RecordsEvicted counts records removed by the cleanup worker, labeled
	// by phase. No worker increments it, so it stays at zero.
	RecordsEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "infohound_records_evicted_total",
		Help: "Total records removed by the cleanup worker.",
	}, []string{"phase"})

	// TextIndexDocuments is a gauge for the full-text index's document
	// count. Nothing sets it, so it stays at zero.
	TextIndexDocuments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "infohound_textindex_documents",
		Help: "Current document count of the full-text index.",
	})
)

// NewManager builds the registry and registers the runtime Go/process
// collectors alongside the package-level domain collectors declared
// above.
func NewManager() *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(HashesHarvested)
	registry.MustRegister(RecordsEnriched)
	registry.MustRegister(RecordsEvicted)
	registry.MustRegister(TextIndexDocuments)

	log.Info().Msg("metrics manager initialized")

	return &Manager{registry: registry}
}

// GetRegistry returns the underlying registry, e.g. for tests.
func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving this registry in the
// Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
