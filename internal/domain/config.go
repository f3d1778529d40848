// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config represents the application configuration. Every field has a
// default applied by internal/config. Unknown keys in the config file are
// ignored; a value of the wrong type is read as its type's zero value,
// not as the default.
type Config struct {
	Version string

	DataDir    string `toml:"dataDir" mapstructure:"dataDir"`
	LogLevel   string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath    string `toml:"logPath" mapstructure:"logPath"`
	HTTPAddr   string `toml:"httpAddr" mapstructure:"httpAddr"`
	LogMaxSize int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	WebPort    int    `toml:"webPort" mapstructure:"webPort"`

	// Spider (DHT crawler)
	SpiderEnabled            bool   `toml:"spider.enabled" mapstructure:"spider.enabled"`
	SpiderBind               string `toml:"spider.bind" mapstructure:"spider.bind"`
	SpiderBootstrap          string `toml:"spider.bootstrap" mapstructure:"spider.bootstrap"`
	SpiderMaxKnownNodes      int    `toml:"spider.maxKnownNodes" mapstructure:"spider.maxKnownNodes"`
	SpiderSeenRotateEverySec int    `toml:"spider.seenRotateEverySecs" mapstructure:"spider.seenRotateEverySecs"`
	SpiderSeenBitsPow2       int    `toml:"spider.seenBitsPow2" mapstructure:"spider.seenBitsPow2"`
	SpiderSeenK              int    `toml:"spider.seenK" mapstructure:"spider.seenK"`
	SpiderSampleEverySec     int    `toml:"spider.sampleEverySecs" mapstructure:"spider.sampleEverySecs"`
	SpiderSamplePerTick      int    `toml:"spider.samplePerTick" mapstructure:"spider.samplePerTick"`
	SpiderMaxSamplesPerMsg   int    `toml:"spider.maxSamplesPerMsg" mapstructure:"spider.maxSamplesPerMsg"`
	SpiderBootstrapEverySec  int    `toml:"spider.bootstrapEverySecs" mapstructure:"spider.bootstrapEverySecs"`
	SpiderGCEverySec         int    `toml:"spider.gcEverySecs" mapstructure:"spider.gcEverySecs"`

	// Enrichment worker
	EnrichMissingScanLimit       int    `toml:"enrich.missingScanLimit" mapstructure:"enrich.missingScanLimit"`
	EnrichMaxConcurrent          int    `toml:"enrich.maxConcurrent" mapstructure:"enrich.maxConcurrent"`
	EnrichPeersPerHash           int    `toml:"enrich.peersPerHash" mapstructure:"enrich.peersPerHash"`
	EnrichDHTBootstrap           string `toml:"enrich.dhtBootstrap" mapstructure:"enrich.dhtBootstrap"`
	EnrichDHTQueryTimeoutMs      int    `toml:"enrich.dhtQueryTimeoutMs" mapstructure:"enrich.dhtQueryTimeoutMs"`
	EnrichMaxQueriesPerHash      int    `toml:"enrich.maxQueriesPerHash" mapstructure:"enrich.maxQueriesPerHash"`
	EnrichOverallDeadlineSecs    int    `toml:"enrich.overallDeadlineSecs" mapstructure:"enrich.overallDeadlineSecs"`
	EnrichInflight               int    `toml:"enrich.inflight" mapstructure:"enrich.inflight"`
	EnrichRecvTimeoutMs          int    `toml:"enrich.recvTimeoutMs" mapstructure:"enrich.recvTimeoutMs"`
	EnrichMetadataInflight       int    `toml:"enrich.metadataInflight" mapstructure:"enrich.metadataInflight"`
	EnrichMetadataOverallTimeout int    `toml:"enrich.metadataOverallTimeoutSecs" mapstructure:"enrich.metadataOverallTimeoutSecs"`

	// Cleanup worker
	CleanupEnabled   bool `toml:"cleanup.enabled" mapstructure:"cleanup.enabled"`
	CleanupEverySecs int  `toml:"cleanup.everySecs" mapstructure:"cleanup.everySecs"`
	CleanupBatch     int  `toml:"cleanup.batch" mapstructure:"cleanup.batch"`
	CleanupMaxMs     int  `toml:"cleanup.maxMs" mapstructure:"cleanup.maxMs"`
	TorrentTTLSecs   int  `toml:"torrentTtlSecs" mapstructure:"torrentTtlSecs"`
	LowSeedGraceSecs int  `toml:"lowSeedGraceSecs" mapstructure:"lowSeedGraceSecs"`
	MaxTorrents      int  `toml:"maxTorrents" mapstructure:"maxTorrents"`

	// SOCKS5 (alternative UDP transport for DHT + enrichment)
	Socks5Proxy    string `toml:"socks5.proxy" mapstructure:"socks5.proxy"`
	Socks5Username string `toml:"socks5.username" mapstructure:"socks5.username"`
	Socks5Password string `toml:"socks5.password" mapstructure:"socks5.password"`

	MetricsEnabled bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost    string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort    int    `toml:"metricsPort" mapstructure:"metricsPort"`
}
