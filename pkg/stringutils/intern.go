// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package stringutils provides string interning via Go's unique package,
// used to canonicalize info hashes so repeated occurrences of the same
// hash across the store, the text index, and in-flight worker state
// share one backing allocation.
package stringutils

import (
	"strings"
	"unique"
)

// InternNormalized interns a trimmed and lowercased version of the string.
// This is the canonical form info hashes are stored and compared in.
func InternNormalized(s string) string {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if normalized == "" {
		return ""
	}
	return unique.Make(normalized).Value()
}

// InternNormalizedUpper interns a trimmed and uppercased version of the
// string, for callers that expect upper-case hex.
func InternNormalizedUpper(s string) string {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	if normalized == "" {
		return ""
	}
	return unique.Make(normalized).Value()
}
