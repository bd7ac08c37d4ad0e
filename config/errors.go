package config

import "errors"

var ErrConfigIsNil = errors.New("config is nil")
var ErrNegativeRAMSize = errors.New("cache.ram_size must not be negative")
var ErrBadCompression = errors.New("history.compression must be between 1 and 4")
var ErrUnknownLogLevel = errors.New("unknown log level")
var ErrUnknownLogFormat = errors.New("unknown log format")
