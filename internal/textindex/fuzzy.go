// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package textindex

// withinDamerauDistance1 reports whether a and b differ by at most one
// edit, where an edit is an insertion, deletion, substitution, or a
// transposition of two adjacent characters (Damerau-Levenshtein,
// bounded at distance 1). bleve's built-in fuzzy query only offers plain
// Levenshtein, which does not treat a transposition as a single edit;
// this bounded check is cheap enough to run token-by-token over the
// small candidate vocabulary the fuzzy fallback stage considers.
func withinDamerauDistance1(a, b string) bool {
	if a == b {
		return true
	}
	ra, rb := []rune(a), []rune(b)

	la, lb := len(ra), len(rb)
	if abs(la-lb) > 1 {
		return false
	}

	switch {
	case la == lb:
		return isSubstitutionOrTransposition(ra, rb)
	case la == lb+1:
		return isSingleEditAway(ra, rb)
	case lb == la+1:
		return isSingleEditAway(rb, ra)
	default:
		return false
	}
}

// isSubstitutionOrTransposition handles the equal-length case: either
// exactly one position differs (substitution), or exactly two adjacent
// positions are swapped (transposition).
func isSubstitutionOrTransposition(a, b []rune) bool {
	diffs := make([]int, 0, 2)
	for i := range a {
		if a[i] != b[i] {
			diffs = append(diffs, i)
			if len(diffs) > 2 {
				return false
			}
		}
	}
	switch len(diffs) {
	case 0:
		return true
	case 1:
		return true
	case 2:
		i, j := diffs[0], diffs[1]
		return j == i+1 && a[i] == b[j] && a[j] == b[i]
	default:
		return false
	}
}

// isSingleEditAway handles the longer/shorter-by-one case: longer must
// become shorter by deleting exactly one rune.
func isSingleEditAway(longer, shorter []rune) bool {
	i, j := 0, 0
	skipped := false
	for i < len(longer) && j < len(shorter) {
		if longer[i] == shorter[j] {
			i++
			j++
			continue
		}
		if skipped {
			return false
		}
		skipped = true
		i++
	}
	return true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
