package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/beam-cloud/fpvosd/pkg/common"
	"github.com/beam-cloud/fpvosd/pkg/metrics"
	"github.com/beam-cloud/ristretto"
	"github.com/rs/zerolog/log"
)

const (
	defaultChunkSize    = 1 << 20
	defaultChunkCacheMB = 64
)

// HTTPSource reads a remote container with ranged GETs of fixed-size chunks,
// keeping recently used chunks in memory. Seeking back during playback then
// rarely goes to the network.
type HTTPSource struct {
	url        string
	size       int64
	chunkSize  int64
	client     *http.Client
	chunkCache *ristretto.Cache[int64, []byte]
}

type HTTPSourceOpts struct {
	URL          string
	Client       *http.Client
	ChunkSize    int64
	ChunkCacheMB int64
}

func NewHTTPSource(ctx context.Context, opts HTTPSourceOpts) (*HTTPSource, error) {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.ChunkCacheMB <= 0 {
		opts.ChunkCacheMB = defaultChunkCacheMB
	}

	chunkCache, err := newChunkCache(opts.ChunkSize, opts.ChunkCacheMB)
	if err != nil {
		return nil, err
	}

	s := &HTTPSource{
		url:        opts.URL,
		chunkSize:  opts.ChunkSize,
		client:     opts.Client,
		chunkCache: chunkCache,
	}

	size, err := s.fetchSize(ctx)
	if err != nil {
		chunkCache.Close()
		return nil, err
	}
	s.size = size

	return s, nil
}

func newChunkCache(chunkSize, cacheMB int64) (*ristretto.Cache[int64, []byte], error) {
	counters := 10 * (cacheMB << 20) / chunkSize
	if counters < 100 {
		counters = 100
	}
	return ristretto.NewCache(&ristretto.Config[int64, []byte]{
		NumCounters: counters,
		MaxCost:     cacheMB << 20,
		BufferItems: 64,
	})
}

func (s *HTTPSource) fetchSize(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status code %d for HEAD %s", resp.StatusCode, s.url)
	}

	size, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("missing content length for %s: %w", s.url, err)
	}
	return size, nil
}

func (s *HTTPSource) ReadAt(dest []byte, off int64) (int, error) {
	if off >= s.size {
		return 0, io.EOF
	}

	end := off + int64(len(dest))
	if end > s.size {
		end = s.size
	}

	total := 0
	for pos := off; pos < end; {
		chunkIdx := pos / s.chunkSize
		chunk, err := s.chunk(chunkIdx)
		if err != nil {
			return total, err
		}

		inChunk := pos - chunkIdx*s.chunkSize
		if inChunk >= int64(len(chunk)) {
			break
		}
		n := copy(dest[total:end-off], chunk[inChunk:])
		total += n
		pos += int64(n)
	}

	if total < len(dest) {
		return total, io.EOF
	}
	return total, nil
}

func (s *HTTPSource) chunk(idx int64) ([]byte, error) {
	if s.chunkCache == nil {
		return nil, common.ErrClosed
	}
	if content, ok := s.chunkCache.Get(idx); ok {
		metrics.RecordCacheOperation(true, 0)
		return content, nil
	}

	content, err := s.fetchChunk(idx)
	if err != nil {
		metrics.RecordCacheOperation(false, 0)
		return nil, err
	}

	s.chunkCache.Set(idx, content, int64(len(content)))
	s.chunkCache.Wait()
	metrics.RecordCacheOperation(false, int64(len(content)))

	return content, nil
}

func (s *HTTPSource) fetchChunk(idx int64) ([]byte, error) {
	start := idx * s.chunkSize
	stop := start + s.chunkSize - 1
	if stop >= s.size {
		stop = s.size - 1
	}

	req, err := http.NewRequest(http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, stop))

	began := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d when fetching %s [%d-%d]", resp.StatusCode, s.url, start, stop)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// A server ignoring the Range header sends the whole object.
	if resp.StatusCode == http.StatusOK && int64(len(content)) > stop-start+1 {
		if start >= int64(len(content)) {
			return nil, io.ErrUnexpectedEOF
		}
		content = content[start:min(stop+1, int64(len(content)))]
	}

	metrics.RecordRangeGet(s.url, int64(len(content)), time.Since(began))
	log.Debug().Str("url", s.url).Int64("chunk", idx).Int("bytes", len(content)).Msg("fetched chunk")

	return content, nil
}

func (s *HTTPSource) Size() int64 {
	return s.size
}

func (s *HTTPSource) Name() string {
	return s.url
}

func (s *HTTPSource) CanSeek() bool {
	return true
}

func (s *HTTPSource) Close() error {
	if s.chunkCache != nil {
		s.chunkCache.Close()
		s.chunkCache = nil
	}
	return nil
}
