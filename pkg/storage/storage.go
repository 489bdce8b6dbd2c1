package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Source is a random-access view of a container or font file. Reads past the
// end return the bytes available together with io.EOF.
type Source interface {
	io.ReaderAt
	Size() int64
	Name() string
	CanSeek() bool
	Close() error
}

type SourceMode string

const (
	SourceModeLocal SourceMode = "local"
	SourceModeS3    SourceMode = "s3"
	SourceModeHTTP  SourceMode = "http"
)

type S3SourceCredentials struct {
	AccessKey string
	SecretKey string
}

type SourceOpts struct {
	// S3
	Region         string
	Endpoint       string
	ForcePathStyle bool
	CachePath      string
	Credentials    S3SourceCredentials

	// HTTP
	HTTPClient   *http.Client
	ChunkSize    int64
	ChunkCacheMB int64
}

// ModeOf classifies a location string. Anything that is not an s3:// or
// http(s):// URL is treated as a local path.
func ModeOf(location string) SourceMode {
	switch {
	case strings.HasPrefix(location, "s3://"):
		return SourceModeS3
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return SourceModeHTTP
	default:
		return SourceModeLocal
	}
}

// Open returns the Source backing location.
func Open(ctx context.Context, location string, opts SourceOpts) (Source, error) {
	switch ModeOf(location) {
	case SourceModeS3:
		bucket, key, err := ParseS3URI(location)
		if err != nil {
			return nil, err
		}
		return NewS3Source(ctx, S3SourceOpts{
			Bucket:         bucket,
			Key:            key,
			Region:         opts.Region,
			Endpoint:       opts.Endpoint,
			ForcePathStyle: opts.ForcePathStyle,
			CachePath:      opts.CachePath,
			AccessKey:      opts.Credentials.AccessKey,
			SecretKey:      opts.Credentials.SecretKey,
		})
	case SourceModeHTTP:
		return NewHTTPSource(ctx, HTTPSourceOpts{
			URL:          location,
			Client:       opts.HTTPClient,
			ChunkSize:    opts.ChunkSize,
			ChunkCacheMB: opts.ChunkCacheMB,
		})
	default:
		return NewLocalSource(LocalSourceOpts{Path: strings.TrimPrefix(location, "file://")})
	}
}

func ParseS3URI(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("invalid s3 location %q: %w", location, err)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 location %q: expected s3://bucket/key", location)
	}
	return bucket, key, nil
}

// Join appends a file name to a folder location, keeping URL schemes intact.
func Join(folder, name string) string {
	if folder == "" {
		return name
	}
	return strings.TrimSuffix(folder, "/") + "/" + name
}

// ReadFull reads exactly len(dest) bytes at off. A short read is reported as
// io.ErrUnexpectedEOF, or io.EOF when nothing was read.
func ReadFull(src io.ReaderAt, dest []byte, off int64) (int, error) {
	n, err := src.ReadAt(dest, off)
	if n == len(dest) {
		return n, nil
	}
	if err == nil || err == io.EOF {
		if n == 0 {
			return 0, io.EOF
		}
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}
