// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package textindex

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	bleveSearch "github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Hit is one ranked search result.
type Hit struct {
	InfoHash string
	Title    string
	Magnet   string
	Seeders  int64
	Score    float64
}

var hexPattern = regexp.MustCompile(`^[0-9a-fA-F]+$`)

var sanitizeReplacer = strings.NewReplacer(
	":", " ", "^", " ", "~", " ", "*", " ", "?", " ", `\`, " ",
	"(", " ", ")", " ", "[", " ", "]", " ", "{", " ", "}", " ",
	"!", " ", "+", " ", "-", " ", "|", " ",
)

// Search runs search(q, limit) per spec.md §4.2.
func (ix *Index) Search(q string, limit int) ([]Hit, error) {
	return ix.SearchPage(q, 0, limit)
}

// SearchPage runs the full hex-normalize / strict-parse / fuzzy-fallback
// pipeline, then re-ranks and paginates.
func (ix *Index) SearchPage(q string, offset, limit int) ([]Hit, error) {
	trimmed := strings.TrimSpace(q)
	if trimmed == "" || limit <= 0 {
		return nil, nil
	}

	requested := offset + limit
	candidateLimit := clamp(10*requested, requested, 2000)

	hits, err := ix.executePipeline(trimmed, candidateLimit)
	if err != nil {
		return nil, err
	}

	reranked := rerank(hits)
	if offset >= len(reranked) {
		return nil, nil
	}
	end := offset + limit
	if end > len(reranked) {
		end = len(reranked)
	}
	return reranked[offset:end], nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return v
}

func hexQuery(trimmed string) (query.Query, bool) {
	if !hexPattern.MatchString(trimmed) {
		return nil, false
	}
	switch {
	case len(trimmed) == 40:
		tq := bleve.NewTermQuery(strings.ToLower(trimmed))
		tq.SetField(fieldInfoHash)
		return tq, true
	case len(trimmed) >= 8:
		rq := bleve.NewRegexpQuery("^" + strings.ToLower(trimmed) + ".*")
		rq.SetField(fieldInfoHash)
		return rq, true
	default:
		return nil, false
	}
}

// executePipeline runs hex normalization, then (if the query isn't
// hex-shaped) the strict-parse/sanitize-retry/exact-AND/fuzzy-fallback
// stages from spec.md §4.2, returning the first stage that yields a hit.
func (ix *Index) executePipeline(trimmed string, candidateLimit int) ([]Hit, error) {
	if hexQ, ok := hexQuery(trimmed); ok {
		return ix.execute(hexQ, candidateLimit)
	}

	if strictQ, ok := strictQuery(trimmed); ok {
		hits, err := ix.execute(strictQ, candidateLimit)
		if err != nil {
			return nil, err
		}
		if len(hits) > 0 {
			return hits, nil
		}
	}

	sanitized := sanitizeReplacer.Replace(trimmed)
	tokens := strings.Fields(sanitized)

	// Retry the same strict, title-boosted AND parse against the
	// punctuation-stripped input before dropping to the looser
	// exact-AND-of-terms fallback.
	if sanitized != trimmed {
		if strictQ, ok := strictQuery(sanitized); ok {
			hits, err := ix.execute(strictQ, candidateLimit)
			if err != nil {
				return nil, err
			}
			if len(hits) > 0 {
				return hits, nil
			}
		}
	}

	if andQ := exactAndQuery(tokens); andQ != nil {
		hits, err := ix.execute(andQ, candidateLimit)
		if err != nil {
			return nil, err
		}
		if len(hits) > 0 {
			return hits, nil
		}
	}

	fuzzyQ := fuzzyFallbackQuery(tokens)
	if fuzzyQ == nil {
		return nil, nil
	}
	hits, err := ix.execute(fuzzyQ, candidateLimit)
	if err != nil {
		return nil, err
	}
	return filterByTrueEditDistance(hits, tokens), nil
}

// filterByTrueEditDistance narrows bleve's recall (plain Levenshtein via
// NewFuzzyQuery) down to the spec's distance-1-with-transpositions
// definition: a hit survives only if some title word is within that
// bound of some long (>3 rune) query token, or if it was already
// surfaced via an exact short-token or hex-prefix clause.
func filterByTrueEditDistance(hits []Hit, tokens []string) []Hit {
	var longTokens, shortTokens []string
	for _, tok := range tokens {
		lower := strings.ToLower(tok)
		if len([]rune(tok)) > 3 {
			longTokens = append(longTokens, lower)
		} else {
			shortTokens = append(shortTokens, lower)
		}
	}
	if len(longTokens) == 0 {
		return hits
	}

	out := hits[:0]
	for _, h := range hits {
		if matchesAnyToken(h, longTokens, shortTokens) {
			out = append(out, h)
		}
	}
	return out
}

func matchesAnyToken(h Hit, longTokens, shortTokens []string) bool {
	words := strings.Fields(strings.ToLower(h.Title))
	for _, w := range words {
		for _, tok := range longTokens {
			if withinDamerauDistance1(w, tok) {
				return true
			}
		}
		for _, tok := range shortTokens {
			if w == tok {
				return true
			}
		}
	}
	return hexPattern.MatchString(h.InfoHash) && hexMatchesAnyLongToken(h.InfoHash, longTokens)
}

func hexMatchesAnyLongToken(hash string, longTokens []string) bool {
	hash = strings.ToLower(hash)
	for _, tok := range longTokens {
		if len(tok) >= 8 && hexPattern.MatchString(tok) && strings.HasPrefix(hash, tok) {
			return true
		}
	}
	return false
}

// strictQuery builds the spec's multi-field strict parse: a conjunction
// (AND) across space-separated terms, each term matched against
// {title, info_hash} with the title field boosted 2.0.
func strictQuery(q string) (query.Query, bool) {
	tokens := strings.Fields(q)
	if len(tokens) == 0 {
		return nil, false
	}

	var conj []query.Query
	for _, tok := range tokens {
		titleQ := bleve.NewMatchQuery(tok)
		titleQ.SetField(fieldTitle)
		titleQ.SetBoost(2.0)

		hashQ := bleve.NewMatchQuery(tok)
		hashQ.SetField(fieldInfoHash)

		perTerm := bleve.NewDisjunctionQuery(titleQ, hashQ)
		perTerm.SetMin(1)
		conj = append(conj, perTerm)
	}
	return bleve.NewConjunctionQuery(conj...), true
}

func exactAndQuery(tokens []string) query.Query {
	if len(tokens) == 0 {
		return nil
	}
	var conj []query.Query
	for _, tok := range tokens {
		mq := bleve.NewMatchQuery(tok)
		mq.SetField(fieldTitle)
		conj = append(conj, mq)
	}
	return bleve.NewConjunctionQuery(conj...)
}

// fuzzyFallbackQuery builds the per-token disjunction described in
// spec.md §4.2 step 3: short tokens (<=3 runes) match exactly on title,
// longer tokens get a fuzzy-distance-1 match, and hex-looking tokens of
// length >= 8 additionally get a SHOULD hex-prefix clause.
func fuzzyFallbackQuery(tokens []string) query.Query {
	if len(tokens) == 0 {
		return nil
	}
	var should []query.Query
	for _, tok := range tokens {
		if len([]rune(tok)) <= 3 {
			mq := bleve.NewMatchQuery(tok)
			mq.SetField(fieldTitle)
			should = append(should, mq)
		} else {
			fq := bleve.NewFuzzyQuery(tok)
			fq.SetField(fieldTitle)
			fq.Fuzziness = 1
			should = append(should, fq)
		}
		if len(tok) >= 8 && hexPattern.MatchString(tok) {
			rq := bleve.NewRegexpQuery("^" + strings.ToLower(tok) + ".*")
			rq.SetField(fieldInfoHash)
			should = append(should, rq)
		}
	}
	if len(should) == 0 {
		return nil
	}
	disj := bleve.NewDisjunctionQuery(should...)
	disj.SetMin(1)
	return disj
}

func (ix *Index) execute(q query.Query, limit int) ([]Hit, error) {
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{fieldInfoHash, fieldTitle, fieldMagnet, fieldSeeders}

	res, err := ix.idx.Search(req)
	if err != nil {
		return nil, err
	}
	return hitsFromResult(res), nil
}

func hitsFromResult(res *bleve.SearchResult) []Hit {
	out := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		out = append(out, hitFromDoc(h))
	}
	return out
}

func hitFromDoc(h *bleveSearch.DocumentMatch) Hit {
	hit := Hit{InfoHash: h.ID, Score: h.Score}
	if v, ok := h.Fields[fieldTitle].(string); ok {
		hit.Title = v
	}
	if v, ok := h.Fields[fieldMagnet].(string); ok {
		hit.Magnet = v
	}
	switch v := h.Fields[fieldSeeders].(type) {
	case float64:
		hit.Seeders = int64(v)
	case int64:
		hit.Seeders = v
	}
	return hit
}

// rerank applies the seed-boosted adjusted score and sorts descending,
// breaking ties by seeders descending.
func rerank(hits []Hit) []Hit {
	for i := range hits {
		seeders := hits[i].Seeders
		if seeders < 0 {
			seeders = 0
		}
		hits[i].Score = hits[i].Score + math.Log(1+float64(seeders))/4
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Seeders > hits[j].Seeders
	})
	return hits
}
