// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads and validates the application configuration from a
// TOML file, applying a default for every field and allowing any value to
// be overridden by an INFOHOUND__-prefixed environment variable.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/infohound/infohound/internal/domain"
)

// envPrefix is the environment variable prefix recognised for config
// overrides, e.g. INFOHOUND__SPIDER_ENABLED overrides spider.enabled.
const envPrefix = "INFOHOUND"

// Config wraps domain.Config with the path it was loaded from, needed to
// resolve DataDir relative to the config file.
type Config struct {
	domain.Config

	path string
}

// New reads configPath (creating a default file there if absent), applies
// defaults for every unset field, and layers in any INFOHOUND__ environment
// overrides. A file that is not valid TOML is an error. A value of the
// wrong type for its key is read as that type's zero value (0, false or
// ""), not as the key's default.
func New(configPath string) (*Config, error) {
	if err := ensureConfigFile(configPath); err != nil {
		return nil, fmt.Errorf("config: ensure config file: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	setDefaults(v)
	bindEnvs(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configPath, err)
	}

	cfg := buildConfig(v)

	if cfg.DataDir == "" || !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = resolveDataDir(filepath.Dir(configPath), cfg.DataDir)
	}

	return &Config{Config: cfg, path: configPath}, nil
}

// buildConfig reads every known key off v individually rather than relying
// on a single Unmarshal pass, since domain.Config's mapstructure tags carry
// dotted keys (e.g. "spider.enabled") that describe viper's own TOML
// section nesting rather than a nested Go struct mapstructure could bind
// against directly.
func buildConfig(v *viper.Viper) domain.Config {
	return domain.Config{
		Version:    "",
		DataDir:    v.GetString("dataDir"),
		LogLevel:   v.GetString("logLevel"),
		LogPath:    v.GetString("logPath"),
		HTTPAddr:   v.GetString("httpAddr"),
		LogMaxSize: v.GetInt("logMaxSize"),
		WebPort:    v.GetInt("webPort"),

		SpiderEnabled:            v.GetBool("spider.enabled"),
		SpiderBind:               v.GetString("spider.bind"),
		SpiderBootstrap:          v.GetString("spider.bootstrap"),
		SpiderMaxKnownNodes:      v.GetInt("spider.maxKnownNodes"),
		SpiderSeenRotateEverySec: v.GetInt("spider.seenRotateEverySecs"),
		SpiderSeenBitsPow2:       v.GetInt("spider.seenBitsPow2"),
		SpiderSeenK:              v.GetInt("spider.seenK"),
		SpiderSampleEverySec:     v.GetInt("spider.sampleEverySecs"),
		SpiderSamplePerTick:      v.GetInt("spider.samplePerTick"),
		SpiderMaxSamplesPerMsg:   v.GetInt("spider.maxSamplesPerMsg"),
		SpiderBootstrapEverySec:  v.GetInt("spider.bootstrapEverySecs"),
		SpiderGCEverySec:         v.GetInt("spider.gcEverySecs"),

		EnrichMissingScanLimit:       v.GetInt("enrich.missingScanLimit"),
		EnrichMaxConcurrent:          v.GetInt("enrich.maxConcurrent"),
		EnrichPeersPerHash:           v.GetInt("enrich.peersPerHash"),
		EnrichDHTBootstrap:           v.GetString("enrich.dhtBootstrap"),
		EnrichDHTQueryTimeoutMs:      v.GetInt("enrich.dhtQueryTimeoutMs"),
		EnrichMaxQueriesPerHash:      v.GetInt("enrich.maxQueriesPerHash"),
		EnrichOverallDeadlineSecs:    v.GetInt("enrich.overallDeadlineSecs"),
		EnrichInflight:               v.GetInt("enrich.inflight"),
		EnrichRecvTimeoutMs:          v.GetInt("enrich.recvTimeoutMs"),
		EnrichMetadataInflight:       v.GetInt("enrich.metadataInflight"),
		EnrichMetadataOverallTimeout: v.GetInt("enrich.metadataOverallTimeoutSecs"),

		CleanupEnabled:   v.GetBool("cleanup.enabled"),
		CleanupEverySecs: v.GetInt("cleanup.everySecs"),
		CleanupBatch:     v.GetInt("cleanup.batch"),
		CleanupMaxMs:     v.GetInt("cleanup.maxMs"),
		TorrentTTLSecs:   v.GetInt("torrentTtlSecs"),
		LowSeedGraceSecs: v.GetInt("lowSeedGraceSecs"),
		MaxTorrents:      v.GetInt("maxTorrents"),

		Socks5Proxy:    v.GetString("socks5.proxy"),
		Socks5Username: v.GetString("socks5.username"),
		Socks5Password: v.GetString("socks5.password"),

		MetricsEnabled: v.GetBool("metricsEnabled"),
		MetricsHost:    v.GetString("metricsHost"),
		MetricsPort:    v.GetInt("metricsPort"),
	}
}

// GetDataDir returns the directory all of infohound's on-disk state (the
// KV store, the text index) lives under, resolved against the config
// file's own directory when the configured value is relative or unset.
func (c *Config) GetDataDir() string {
	return c.DataDir
}

// Path returns the config file this Config was loaded from.
func (c *Config) Path() string {
	return c.path
}

func resolveDataDir(configDir, configured string) string {
	if configured == "" {
		return filepath.Join(configDir, "data")
	}
	return filepath.Join(configDir, configured)
}

func ensureConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(defaultConfigTOML), 0o644)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dataDir", "data")
	v.SetDefault("logLevel", "info")
	v.SetDefault("logPath", "")
	v.SetDefault("httpAddr", "")
	v.SetDefault("logMaxSize", 50)
	v.SetDefault("webPort", 7475)

	v.SetDefault("spider.enabled", true)
	v.SetDefault("spider.bind", "0.0.0.0:0")
	v.SetDefault("spider.bootstrap", "router.bittorrent.com:6881,dht.transmissionbt.com:6881,router.utorrent.com:6881")
	v.SetDefault("spider.maxKnownNodes", 10_000)
	v.SetDefault("spider.seenRotateEverySecs", 15*60)
	v.SetDefault("spider.seenBitsPow2", 26)
	v.SetDefault("spider.seenK", 12)
	v.SetDefault("spider.sampleEverySecs", 5)
	v.SetDefault("spider.samplePerTick", 12)
	v.SetDefault("spider.maxSamplesPerMsg", 256)
	v.SetDefault("spider.bootstrapEverySecs", 15)
	v.SetDefault("spider.gcEverySecs", 30)

	v.SetDefault("enrich.missingScanLimit", 200)
	v.SetDefault("enrich.maxConcurrent", 64)
	v.SetDefault("enrich.peersPerHash", 64)
	v.SetDefault("enrich.dhtBootstrap", "router.bittorrent.com:6881,dht.transmissionbt.com:6881,router.utorrent.com:6881")
	v.SetDefault("enrich.dhtQueryTimeoutMs", 900)
	v.SetDefault("enrich.maxQueriesPerHash", 32)
	v.SetDefault("enrich.overallDeadlineSecs", 10)
	v.SetDefault("enrich.inflight", 8)
	v.SetDefault("enrich.recvTimeoutMs", 250)
	v.SetDefault("enrich.metadataInflight", 8)
	v.SetDefault("enrich.metadataOverallTimeoutSecs", 16)

	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.everySecs", 10)
	v.SetDefault("cleanup.batch", 5_000)
	v.SetDefault("cleanup.maxMs", 1_000)
	v.SetDefault("torrentTtlSecs", 24*60*60)
	v.SetDefault("lowSeedGraceSecs", 20*60)
	v.SetDefault("maxTorrents", 0)

	v.SetDefault("socks5.proxy", "")
	v.SetDefault("socks5.username", "")
	v.SetDefault("socks5.password", "")

	v.SetDefault("metricsEnabled", true)
	v.SetDefault("metricsHost", "127.0.0.1")
	v.SetDefault("metricsPort", 9477)
}

// bindEnvs wires each viper key to its INFOHOUND__-prefixed environment
// variable explicitly, following the double-underscore-prefix, screaming-
// snake-case convention (e.g. spider.maxKnownNodes ->
// INFOHOUND__SPIDER_MAX_KNOWN_NODES). viper's automatic env translation
// collapses dotted keys inconsistently with nested TOML sections, so each
// override is bound by name rather than derived.
func bindEnvs(v *viper.Viper) {
	bind := func(key, env string) {
		_ = v.BindEnv(key, envPrefix+"__"+env)
	}

	bind("dataDir", "DATA_DIR")
	bind("logLevel", "LOG_LEVEL")
	bind("logPath", "LOG_PATH")
	bind("httpAddr", "HTTP_ADDR")
	bind("logMaxSize", "LOG_MAX_SIZE")
	bind("webPort", "WEB_PORT")

	bind("spider.enabled", "SPIDER_ENABLED")
	bind("spider.bind", "SPIDER_BIND")
	bind("spider.bootstrap", "SPIDER_BOOTSTRAP")
	bind("spider.maxKnownNodes", "SPIDER_MAX_KNOWN_NODES")
	bind("spider.seenRotateEverySecs", "SPIDER_SEEN_ROTATE_EVERY_SECS")
	bind("spider.seenBitsPow2", "SPIDER_SEEN_BITS_POW2")
	bind("spider.seenK", "SPIDER_SEEN_K")
	bind("spider.sampleEverySecs", "SPIDER_SAMPLE_EVERY_SECS")
	bind("spider.samplePerTick", "SPIDER_SAMPLE_PER_TICK")
	bind("spider.maxSamplesPerMsg", "SPIDER_MAX_SAMPLES_PER_MSG")
	bind("spider.bootstrapEverySecs", "SPIDER_BOOTSTRAP_EVERY_SECS")
	bind("spider.gcEverySecs", "SPIDER_GC_EVERY_SECS")

	bind("enrich.missingScanLimit", "ENRICH_MISSING_SCAN_LIMIT")
	bind("enrich.maxConcurrent", "ENRICH_MAX_CONCURRENT")
	bind("enrich.peersPerHash", "ENRICH_PEERS_PER_HASH")
	bind("enrich.dhtBootstrap", "ENRICH_DHT_BOOTSTRAP")
	bind("enrich.dhtQueryTimeoutMs", "ENRICH_DHT_QUERY_TIMEOUT_MS")
	bind("enrich.maxQueriesPerHash", "ENRICH_MAX_QUERIES_PER_HASH")
	bind("enrich.overallDeadlineSecs", "ENRICH_OVERALL_DEADLINE_SECS")
	bind("enrich.inflight", "ENRICH_INFLIGHT")
	bind("enrich.recvTimeoutMs", "ENRICH_RECV_TIMEOUT_MS")
	bind("enrich.metadataInflight", "ENRICH_METADATA_INFLIGHT")
	bind("enrich.metadataOverallTimeoutSecs", "ENRICH_METADATA_OVERALL_TIMEOUT_SECS")

	bind("cleanup.enabled", "CLEANUP_ENABLED")
	bind("cleanup.everySecs", "CLEANUP_EVERY_SECS")
	bind("cleanup.batch", "CLEANUP_BATCH")
	bind("cleanup.maxMs", "CLEANUP_MAX_MS")
	bind("torrentTtlSecs", "TORRENT_TTL_SECS")
	bind("lowSeedGraceSecs", "LOW_SEED_GRACE_SECS")
	bind("maxTorrents", "MAX_TORRENTS")

	bind("socks5.proxy", "SOCKS5_PROXY")
	bind("socks5.username", "SOCKS5_USERNAME")
	bind("socks5.password", "SOCKS5_PASSWORD")

	bind("metricsEnabled", "METRICS_ENABLED")
	bind("metricsHost", "METRICS_HOST")
	bind("metricsPort", "METRICS_PORT")
}

// defaultConfigTOML is written out the first time infohound starts with no
// existing config file, documenting every section with its default value.
const defaultConfigTOML = `# infohound configuration
# Generated on first run. Values here override the built-in defaults;
# every key can also be set via an INFOHOUND__-prefixed environment
# variable, e.g. INFOHOUND__WEB_PORT=8080.

# Directory all on-disk state (the KV store, the text index) lives under,
# resolved relative to this file.
dataDir = "data"

# "ERROR", "WARN", "INFO", "DEBUG", "TRACE"
logLevel = "INFO"
# Empty logs to stdout.
logPath = ""
logMaxSize = 50

# Accepted but not used: this build serves no search HTTP API.
httpAddr = ""
webPort = 7475

torrentTtlSecs = 86400
lowSeedGraceSecs = 1200
maxTorrents = 0

metricsEnabled = true
metricsHost = "127.0.0.1"
metricsPort = 9477

[spider]
enabled = true
bind = "0.0.0.0:0"
bootstrap = "router.bittorrent.com:6881,dht.transmissionbt.com:6881,router.utorrent.com:6881"
maxKnownNodes = 10000
seenRotateEverySecs = 900
seenBitsPow2 = 26
seenK = 12
sampleEverySecs = 5
samplePerTick = 12
maxSamplesPerMsg = 256
bootstrapEverySecs = 15
gcEverySecs = 30

[enrich]
missingScanLimit = 200
maxConcurrent = 64
peersPerHash = 64
dhtBootstrap = "router.bittorrent.com:6881,dht.transmissionbt.com:6881,router.utorrent.com:6881"
dhtQueryTimeoutMs = 900
maxQueriesPerHash = 32
overallDeadlineSecs = 10
inflight = 8
recvTimeoutMs = 250
metadataInflight = 8
metadataOverallTimeoutSecs = 16

[cleanup]
enabled = true
everySecs = 10
batch = 5000
maxMs = 1000

[socks5]
proxy = ""
username = ""
password = ""
`
