package config

import (
	"time"
)

var defaultCache = CacheConfig{
	RAMSize:    100_000_000,
	StaleAfter: Duration(7 * 24 * time.Hour),
}

var defaultHistory = HistoryConfig{
	Compression: 1,
}

var defaultLog = LogConfig{
	Level:  "info",
	Format: "text",
}

func Default() *Config {
	cfg := &Config{
		Cache:   defaultCache,
		History: defaultHistory,
		Log:     defaultLog,
	}
	cfg.PopulateDefaults()
	return cfg
}

func (c *CacheConfig) PopulateDefaults() {
	if c.RAMSize == 0 {
		c.RAMSize = defaultCache.RAMSize
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = defaultCache.StaleAfter
	}
}

func (c *HistoryConfig) PopulateDefaults() {
	if c.Compression == 0 {
		c.Compression = defaultHistory.Compression
	}
	if c.DiskRevisions == nil {
		on := true
		c.DiskRevisions = &on
	}
}

func (c *LogConfig) PopulateDefaults() {
	if c.Level == "" {
		c.Level = defaultLog.Level
	}
	if c.Format == "" {
		c.Format = defaultLog.Format
	}
}

func (c *Config) PopulateDefaults() {
	c.Cache.PopulateDefaults()
	c.History.PopulateDefaults()
	c.Log.PopulateDefaults()
}
