// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package netutil holds small network-address predicates shared by the
// spider and enrichment workers.
package netutil

import "net"

var documentationV4 = []*net.IPNet{
	mustCIDR("192.0.2.0/24"),
	mustCIDR("198.51.100.0/24"),
	mustCIDR("203.0.113.0/24"),
	mustCIDR("198.18.0.0/15"),
}

var documentationV6 = mustCIDR("2001:db8::/32")

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Routable reports whether ip is a plausible public DHT peer/node
// address: not loopback, unspecified, link-local, multicast, private
// (RFC1918), or one of the documentation/benchmark ranges for either
// address family.
func Routable(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return false
	}

	if v4 := ip.To4(); v4 != nil {
		for _, n := range documentationV4 {
			if n.Contains(v4) {
				return false
			}
		}
		return !isPrivateV4(v4)
	}

	if ip.IsPrivate() { // covers IPv6 ULA (fc00::/7) via stdlib
		return false
	}
	if documentationV6.Contains(ip) {
		return false
	}
	return true
}

func isPrivateV4(ip net.IP) bool {
	return ip[0] == 10 ||
		(ip[0] == 172 && ip[1]&0xf0 == 16) ||
		(ip[0] == 192 && ip[1] == 168)
}
