// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package textindex implements the full-text / hex-prefix search index
// over discovered torrent records: one document per info-hash, with a
// strict-parse, sanitize, then fuzzy-fallback query pipeline and
// seed-boosted re-ranking.
package textindex

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/rs/zerolog/log"
)

const (
	fieldInfoHash = "info_hash"
	fieldTitle    = "title"
	fieldMagnet   = "magnet"
	fieldSeeders  = "seeders"

	commitPendingThreshold = 100
	commitMinInterval      = 2 * time.Second
)

// document is the bleve-mapped shape of one indexed record.
type document struct {
	InfoHash string `json:"info_hash"`
	Title    string `json:"title"`
	Magnet   string `json:"magnet"`
	Seeders  int64  `json:"seeders"`
}

// Index wraps a bleve index with the writer-coordination rules required
// by the query/commit pipeline: a single exclusive writer, a pending-ops
// counter, and a monotonic last-commit timestamp.
type Index struct {
	idx bleve.Index

	writeMu sync.Mutex
	pending int

	commitMu     sync.Mutex
	lastCommitAt time.Time
}

// Open creates the index directory if absent, opens an existing index
// (recreating it if its schema is missing an expected field), or builds
// a fresh one.
func Open(dataDir string) (*Index, error) {
	dir := filepath.Join(dataDir, "bleve")

	if _, err := os.Stat(dir); err == nil {
		idx, openErr := bleve.Open(dir)
		if openErr == nil {
			if schemaComplete(idx) {
				return newIndex(idx), nil
			}
			log.Warn().Str("dir", dir).Msg("textindex: existing index missing expected field, recreating")
			_ = idx.Close()
			if err := os.RemoveAll(dir); err != nil {
				return nil, fmt.Errorf("textindex: remove stale index: %w", err)
			}
		} else {
			log.Warn().Err(openErr).Str("dir", dir).Msg("textindex: failed to open existing index, recreating")
			if err := os.RemoveAll(dir); err != nil {
				return nil, fmt.Errorf("textindex: remove unopenable index: %w", err)
			}
		}
	}

	idx, err := bleve.New(dir, buildMapping())
	if err != nil {
		return nil, fmt.Errorf("textindex: create index at %s: %w", dir, err)
	}
	return newIndex(idx), nil
}

func newIndex(idx bleve.Index) *Index {
	return &Index{
		idx:          idx,
		lastCommitAt: time.Unix(0, 0),
	}
}

// schemaComplete reports whether every field this package expects is
// present in the index's stored mapping. Field identifiers must come
// from the stored schema on an existing index, never a freshly built
// one — this check only inspects presence, never rebuilds the mapping
// object itself.
func schemaComplete(idx bleve.Index) bool {
	fields, err := idx.Fields()
	if err != nil {
		return false
	}
	want := map[string]bool{fieldInfoHash: false, fieldTitle: false, fieldMagnet: false, fieldSeeders: false}
	for _, f := range fields {
		if _, ok := want[f]; ok {
			want[f] = true
		}
	}
	for _, present := range want {
		if !present {
			return false
		}
	}
	return true
}

// buildMapping constructs the document mapping described in spec §4.2:
// info_hash keyword (exact-match, stored), title (English-analyzed text,
// stored; strictQuery boosts it at query time), magnet (stored, not
// indexed), seeders (numeric, stored).
func buildMapping() *mapping.IndexMappingImpl {
	hashField := bleve.NewTextFieldMapping()
	hashField.Analyzer = "keyword"
	hashField.Store = true

	titleField := bleve.NewTextFieldMapping()
	titleField.Analyzer = "en"
	titleField.Store = true

	magnetField := bleve.NewTextFieldMapping()
	magnetField.Index = false
	magnetField.Store = true

	seedersField := bleve.NewNumericFieldMapping()
	seedersField.Store = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(fieldInfoHash, hashField)
	doc.AddFieldMappingsAt(fieldTitle, titleField)
	doc.AddFieldMappingsAt(fieldMagnet, magnetField)
	doc.AddFieldMappingsAt(fieldSeeders, seedersField)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// Close releases the underlying bleve index.
func (ix *Index) Close() error {
	return ix.idx.Close()
}

// Upsert replaces the document for hash (delete-by-term-on-hash, then
// add), per the "upsert by info_hash" policy. Title defaults to
// "Torrent <hash>" and magnet to "" when absent, matching the ingest
// caller's contract.
func (ix *Index) Upsert(hash, title, magnet string, seeders int64) error {
	if strings.TrimSpace(title) == "" {
		title = "Torrent " + hash
	}
	doc := document{InfoHash: hash, Title: title, Magnet: magnet, Seeders: seeders}

	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	if err := ix.idx.Delete(hash); err != nil {
		log.Debug().Err(err).Str("hash", hash).Msg("textindex: delete-before-upsert found nothing, continuing")
	}
	if err := ix.idx.Index(hash, doc); err != nil {
		return fmt.Errorf("textindex: index %s: %w", hash, err)
	}
	ix.pending++
	return ix.commitIfDue(false)
}

// Delete removes the document for hash, if present.
func (ix *Index) Delete(hash string) error {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	if err := ix.idx.Delete(hash); err != nil {
		return fmt.Errorf("textindex: delete %s: %w", hash, err)
	}
	ix.pending++
	return ix.commitIfDue(false)
}

// DocCount reports the number of documents currently in the index.
func (ix *Index) DocCount() (uint64, error) {
	return ix.idx.DocCount()
}

// MaybeCommit forces the commit-interval check without an accompanying
// write, letting a caller flush after a batch of upserts/deletes.
func (ix *Index) MaybeCommit() error {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()
	return ix.commitIfDue(true)
}

// commitIfDue implements the mandatory-at-100-pending /
// at-least-2-seconds-since-last-commit policy. Caller must hold
// writeMu. bleve has no separate "commit" step distinct from
// Index/Delete (each call is durable immediately), so this only needs
// to reset bookkeeping — but the pending/interval gate is kept explicit
// so callers can reason about "has this batch been flushed" the same
// way the design intends for an index backend with a real commit step.
func (ix *Index) commitIfDue(explicit bool) error {
	mandatory := ix.pending >= commitPendingThreshold

	ix.commitMu.Lock()
	elapsed := time.Since(ix.lastCommitAt)
	dueByInterval := explicit && elapsed >= commitMinInterval
	if mandatory || dueByInterval {
		ix.lastCommitAt = time.Now()
		ix.pending = 0
	}
	ix.commitMu.Unlock()

	return nil
}
