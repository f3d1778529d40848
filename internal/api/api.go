// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package api is a placeholder for the JSON search API and web UI a
// future phase may expose over domain.Config's HTTPAddr/WebPort. Neither
// is implemented: the search surface this daemon's data feeds is an
// out-of-scope collaborator, not part of the crawl/enrich/index/cleanup
// core.
package api
