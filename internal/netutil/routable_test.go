// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package netutil

import (
	"net"
	"testing"
)

func TestRoutable(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1", false},
		{"0.0.0.0", false},
		{"10.0.0.5", false},
		{"172.16.4.4", false},
		{"192.168.1.1", false},
		{"169.254.1.1", false},
		{"224.0.0.1", false},
		{"192.0.2.5", false},
		{"198.51.100.9", false},
		{"203.0.113.9", false},
		{"198.18.0.1", false},
		{"8.8.8.8", true},
		{"1.2.3.4", true},
		{"::1", false},
		{"::", false},
		{"fe80::1", false},
		{"fc00::1", false},
		{"ff02::1", false},
		{"2001:db8::1", false},
		{"2606:4700:4700::1111", true},
	}
	for _, c := range cases {
		ip := net.ParseIP(c.addr)
		if got := Routable(ip); got != c.want {
			t.Errorf("Routable(%s) = %v, want %v", c.addr, got, c.want)
		}
	}
}

func TestRoutableNilIsFalse(t *testing.T) {
	if Routable(nil) {
		t.Error("Routable(nil) must be false")
	}
}
