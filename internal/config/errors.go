package config

import "errors"

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrSegmentPathEmpty   = errors.New("segment path cannot be empty")
	ErrInvalidWriteback   = errors.New("writeback must be \"sync\" or \"none\"")
	ErrInvalidLockTimeout = errors.New("lock_timeout must be a non-negative duration")
)
