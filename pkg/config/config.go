package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/beam-cloud/fpvosd/pkg/common"
)

const (
	DefaultFPS = 60

	// Host variable names, as pushed through Store.SetVar.
	VarFontFolder = "fpvosd-font-folder"
	VarFPS        = "fpvosd-fps"
	VarAutoload   = "fpvosd-autoload"
)

type Config struct {
	FontFolder string         `toml:"font_folder"`
	FPS        float64        `toml:"fps"`
	Autoload   bool           `toml:"autoload"`
	LogLevel   string         `toml:"log_level"`
	Playback   PlaybackConfig `toml:"playback"`
	Storage    StorageConfig  `toml:"storage"`
}

type PlaybackConfig struct {
	TicksPerSecond int64 `toml:"ticks_per_second"`
	// TailTicks is how long the last frame stays up. Zero means a tenth of a
	// second.
	TailTicks         int64 `toml:"tail_ticks"`
	PresentationDelay int64 `toml:"presentation_delay"`
}

type StorageConfig struct {
	Region         string `toml:"region"`
	Endpoint       string `toml:"endpoint"`
	ForcePathStyle bool   `toml:"force_path_style"`
	CachePath      string `toml:"cache_path"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ChunkSizeKB    int64  `toml:"chunk_size_kb"`
	ChunkCacheMB   int64  `toml:"chunk_cache_mb"`
}

func DefaultConfig() *Config {
	return &Config{
		FontFolder: ".",
		FPS:        DefaultFPS,
		Autoload:   true,
		LogLevel:   "info",
		Playback: PlaybackConfig{
			TicksPerSecond: int64(common.DefaultTicksPerSecond),
		},
		Storage: StorageConfig{
			Region:       "us-east-1",
			ChunkSizeKB:  1024,
			ChunkCacheMB: 64,
		},
	}
}

// EffectiveFPS applies the default for unset or non-positive rates.
func (c *Config) EffectiveFPS() float64 {
	if c.FPS <= 0 {
		return DefaultFPS
	}
	return c.FPS
}

func (c *Config) TicksPerSecond() common.Ticks {
	if c.Playback.TicksPerSecond <= 0 {
		return common.DefaultTicksPerSecond
	}
	return common.Ticks(c.Playback.TicksPerSecond)
}

func (c *Config) TailDuration() common.Ticks {
	if c.Playback.TailTicks <= 0 {
		return c.TicksPerSecond() / 10
	}
	return common.Ticks(c.Playback.TailTicks)
}

func ConfigDir() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "fpvosd"), nil
}

func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file at path (the default location when empty) and
// applies FPVOSD_* environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		p, err := ConfigPath()
		if err == nil {
			path = p
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("FPVOSD_FONT_FOLDER"); v != "" {
		c.FontFolder = v
	}
	if v := os.Getenv("FPVOSD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("FPVOSD_CACHE_PATH"); v != "" {
		c.Storage.CachePath = v
	}
	if v := os.Getenv("FPVOSD_S3_ENDPOINT"); v != "" {
		c.Storage.Endpoint = v
	}
	if v := os.Getenv("FPVOSD_FPS"); v != "" {
		if err := c.Set(VarFPS, v); err != nil {
			return err
		}
	}
	if v := os.Getenv("FPVOSD_AUTOLOAD"); v != "" {
		if err := c.Set(VarAutoload, v); err != nil {
			return err
		}
	}
	return nil
}

// Set assigns one host variable from its string form.
func (c *Config) Set(name, value string) error {
	switch name {
	case VarFontFolder:
		c.FontFolder = value
	case VarFPS:
		fps, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
		c.FPS = fps
	case VarAutoload:
		autoload, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
		c.Autoload = autoload
	default:
		return fmt.Errorf("unknown variable %q", name)
	}
	return nil
}

func (c *Config) Save(path string) error {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(c)
}
