package config

import "strings"

func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigIsNil
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.History.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}

func (c *CacheConfig) Validate() error {
	if c.RAMSize < 0 {
		return ErrNegativeRAMSize
	}
	return nil
}

func (c *HistoryConfig) Validate() error {
	if c.Compression < 1 || c.Compression > 4 {
		return ErrBadCompression
	}
	return nil
}

func (c *LogConfig) Validate() error {
	if _, ok := logLevelMapping[strings.ToLower(c.Level)]; !ok {
		return ErrUnknownLogLevel
	}
	switch c.Format {
	case "text", "json":
		return nil
	default:
		return ErrUnknownLogFormat
	}
}
