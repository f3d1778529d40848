// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package textindex

import "testing"

func TestWithinDamerauDistance1(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"ubuntu", "ubuntu", true},
		{"ubuntu", "ubutnu", true},  // transposition
		{"ubuntu", "ubunto", true},  // substitution
		{"ubuntu", "ubunt", true},   // deletion
		{"ubuntu", "ubuntus", true}, // insertion
		{"ubuntu", "debian", false},
		{"ubuntu", "ubntuu", false}, // two edits away
		{"abc", "cab", false},
	}
	for _, c := range cases {
		if got := withinDamerauDistance1(c.a, c.b); got != c.want {
			t.Errorf("withinDamerauDistance1(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
