// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package spider

import (
	"encoding/hex"

	"github.com/rs/zerolog/log"

	"github.com/infohound/infohound/internal/domain"
)

// Store is the subset of internal/storage.Store the spider depends on.
type Store interface {
	UpsertFirstSeen(hex string) (domain.TorrentRecord, error)
	SetMagnet(hex, magnet string) (domain.TorrentRecord, error)
}

// TextIndex is the subset of internal/textindex.Index the spider
// depends on.
type TextIndex interface {
	Upsert(hash, title, magnet string, seeders int64) error
}

// ingest implements the spider's ingest helper from spec.md §4.4:
// upsert_first_seen, ensure the record carries a magnet link, and
// conditionally upsert the text-index document once seeders clears the
// indexing threshold.
func ingest(store Store, index TextIndex, hash [20]byte) {
	hexHash := hex.EncodeToString(hash[:])

	rec, err := store.UpsertFirstSeen(hexHash)
	if err != nil {
		log.Debug().Err(err).Str("hash", hexHash).Msg("spider: upsert_first_seen failed")
		return
	}

	if rec.Magnet == "" {
		rec, err = store.SetMagnet(hexHash, "magnet:?xt=urn:btih:"+hexHash)
		if err != nil {
			log.Debug().Err(err).Str("hash", hexHash).Msg("spider: set_magnet failed")
			return
		}
	}

	if rec.IndexEligible() {
		if err := index.Upsert(hexHash, rec.Title, rec.Magnet, rec.Seeders); err != nil {
			log.Debug().Err(err).Str("hash", hexHash).Msg("spider: text index upsert failed")
		}
	}
}
