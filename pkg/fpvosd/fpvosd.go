// Package fpvosd plays back MSP-OSD captures recorded by FPV goggles: it
// indexes the container, schedules records against the playback clock and
// renders each one into a subtitle overlay.
package fpvosd

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/beam-cloud/fpvosd/pkg/config"
	"github.com/beam-cloud/fpvosd/pkg/storage"
)

// SetLogLevel configures the logging verbosity for the library.
// Valid levels: "trace", "debug", "info", "warn", "error", "disabled"
// Use "debug" to see index and seek details
// Use "info" for high-level operation logs (default)
func SetLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "disabled", "none", "off":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		return fmt.Errorf("invalid log level %q: must be one of: trace, debug, info, warn, error, disabled", level)
	}
	return nil
}

// SourceOpts translates the storage section of cfg.
func SourceOpts(cfg *config.Config) storage.SourceOpts {
	return storage.SourceOpts{
		Region:         cfg.Storage.Region,
		Endpoint:       cfg.Storage.Endpoint,
		ForcePathStyle: cfg.Storage.ForcePathStyle,
		CachePath:      cfg.Storage.CachePath,
		Credentials: storage.S3SourceCredentials{
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
		},
		ChunkSize:    cfg.Storage.ChunkSizeKB << 10,
		ChunkCacheMB: cfg.Storage.ChunkCacheMB,
	}
}
