// Package config loads segkv configuration from JSONC files and CLI flags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/segkv/pkg/segment"
)

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	Segment     string `json:"segment"`
	Writeback   string `json:"writeback,omitempty"`
	Locking     *bool  `json:"locking,omitempty"`
	LockTimeout string `json:"lock_timeout,omitempty"`

	// Resolved values (computed, not serialized)
	EffectiveCwd      string                `json:"-"` // Absolute working directory (from -C flag or os.Getwd)
	SegmentAbs        string                `json:"-"` // Absolute path to the segment file
	WritebackMode     segment.WritebackMode `json:"-"`
	LockTimeoutPeriod time.Duration         `json:"-"`

	// Sources tracks which config files were loaded (for diagnostics)
	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project config if loaded, empty otherwise
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Segment:   "segment.db",
		Writeback: "sync",
	}
}

// FileName is the project config file name.
const FileName = ".segkv.json"

// LockingEnabled reports whether the interprocess writer lock is used.
// Unset means enabled.
func (c Config) LockingEnabled() bool {
	return c.Locking == nil || *c.Locking
}

// SegmentOptions returns the options for opening the configured segment.
func (c Config) SegmentOptions(readOnly bool) segment.Options {
	return segment.Options{
		Path:           c.SegmentAbs,
		ReadOnly:       readOnly,
		Writeback:      c.WritebackMode,
		DisableLocking: !c.LockingEnabled(),
		LockTimeout:    c.LockTimeoutPeriod,
	}
}

// globalPath returns the path to the global config file.
// Uses $XDG_CONFIG_HOME/segkv/config.json if set, otherwise ~/.config/segkv/config.json.
// Returns empty string if home directory cannot be determined.
func globalPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "segkv", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "segkv", "config.json")
	}

	return ""
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	SegmentOverride string            // --segment flag value; empty means no override
	Env             map[string]string // environment variables
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config (~/.config/segkv/config.json or $XDG_CONFIG_HOME/segkv/config.json)
// 3. Project config file in the work dir (.segkv.json, if exists)
// 4. Explicit config file via ConfigPath (if non-empty)
// 5. CLI overrides.
//
// All paths in the returned Config are resolved to absolute paths.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	if !filepath.IsAbs(workDir) {
		abs, err := filepath.Abs(workDir)
		if err != nil {
			return Config{}, fmt.Errorf("cannot resolve working directory: %w", err)
		}

		workDir = abs
	}

	cfg := Default()

	globalCfg, globalFile, err := loadGlobal(input.Env)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Global = globalFile
	cfg = merge(cfg, globalCfg)

	projectCfg, projectFile, err := loadProject(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectFile
	cfg = merge(cfg, projectCfg)

	if input.SegmentOverride != "" {
		cfg.Segment = input.SegmentOverride
	}

	err = resolve(&cfg)
	if err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir

	if filepath.IsAbs(cfg.Segment) {
		cfg.SegmentAbs = cfg.Segment
	} else {
		cfg.SegmentAbs = filepath.Join(workDir, cfg.Segment)
	}

	return cfg, nil
}

// loadGlobal loads the global user config file if it exists.
func loadGlobal(env map[string]string) (Config, string, error) {
	path := globalPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadFile(path, false)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

// loadProject loads .segkv.json from workDir or the explicit config file.
func loadProject(workDir, configPath string) (Config, string, error) {
	cfgFile := filepath.Join(workDir, FileName)
	mustExist := false

	if configPath != "" {
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}

		mustExist = true

		_, statErr := os.Stat(cfgFile)
		if statErr != nil {
			return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}
	}

	cfg, loaded, err := loadFile(cfgFile, mustExist)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, cfgFile, nil
}

// loadFile loads a config file. If mustExist is false, a missing file
// returns a zero config and loaded=false.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, parseErr := parse(data)
	if parseErr != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, parseErr)
	}

	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	unmarshalErr := json.Unmarshal(standardized, &cfg)
	if unmarshalErr != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", unmarshalErr)
	}

	// "segment": "" is an error, not "use the default".
	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	if val, exists := raw["segment"]; exists {
		if str, ok := val.(string); ok && str == "" {
			return Config{}, ErrSegmentPathEmpty
		}
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.Segment != "" {
		base.Segment = overlay.Segment
	}

	if overlay.Writeback != "" {
		base.Writeback = overlay.Writeback
	}

	if overlay.Locking != nil {
		base.Locking = overlay.Locking
	}

	if overlay.LockTimeout != "" {
		base.LockTimeout = overlay.LockTimeout
	}

	return base
}

// resolve validates cfg and fills in the parsed fields.
func resolve(cfg *Config) error {
	if cfg.Segment == "" {
		return ErrSegmentPathEmpty
	}

	mode, err := segment.ParseWritebackMode(cfg.Writeback)
	if err != nil {
		return fmt.Errorf("%w, got %q", ErrInvalidWriteback, cfg.Writeback)
	}

	cfg.WritebackMode = mode

	if cfg.LockTimeout != "" {
		d, parseErr := time.ParseDuration(cfg.LockTimeout)
		if parseErr != nil || d < 0 {
			return fmt.Errorf("%w, got %q", ErrInvalidLockTimeout, cfg.LockTimeout)
		}

		cfg.LockTimeoutPeriod = d
	}

	return nil
}
