package container

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/fpvosd/pkg/common"
	"github.com/beam-cloud/fpvosd/pkg/storage"
)

// writeCapture writes a capture with one record per counter and returns its
// path. Record i shows the letter 'A'+i in the top left cell.
func writeCapture(t *testing.T, header common.Header, counters ...uint32) string {
	t.Helper()

	var buf bytes.Buffer
	w := NewWriter(&buf, header)
	for i, counter := range counters {
		grid := common.NewGrid()
		grid.Set(0, 0, uint16('A'+i))
		require.NoError(t, w.WriteFrame(counter, grid))
	}
	require.NoError(t, w.Flush())

	path := filepath.Join(t.TempDir(), "capture.osd")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func openCapture(t *testing.T, path string, opts Options) (*Container, storage.Source, error) {
	t.Helper()

	src, err := storage.NewLocalSource(storage.LocalSourceOpts{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })

	c, err := Open(context.Background(), src, opts)
	return c, src, err
}

func TestOpenEndToEnd(t *testing.T) {
	path := writeCapture(t, common.NewHeader(common.DefaultGridConfig()), 0, 6, 12)

	c, _, err := openCapture(t, path, Options{FPS: 60})
	require.NoError(t, err)
	defer c.Close()

	require.Equal(t, 3, c.Len())
	assert.Equal(t, common.IndexEntry{Start: 0, Stop: 100000, Ordinal: 0}, c.Entry(0))
	assert.Equal(t, common.IndexEntry{Start: 100000, Stop: 200000, Ordinal: 1}, c.Entry(1))
	assert.Equal(t, common.IndexEntry{Start: 200000, Stop: 300000, Ordinal: 2}, c.Entry(2))
	assert.Equal(t, common.Ticks(300000), c.Duration())
	assert.False(t, c.Truncated())
	assert.Equal(t, common.CodecFourCC, c.Format().Codec)
}

func TestOpenIndexTiming(t *testing.T) {
	const (
		n   = 50
		k   = 4
		fps = 30.0
	)

	counters := make([]uint32, n)
	for i := range counters {
		counters[i] = uint32(i * k)
	}
	path := writeCapture(t, common.NewHeader(common.DefaultGridConfig()), counters...)

	c, _, err := openCapture(t, path, Options{FPS: fps})
	require.NoError(t, err)
	defer c.Close()

	require.Equal(t, n, c.Len())
	for i := 0; i < n; i++ {
		e := c.Entry(i)
		assert.Equal(t, common.Ticks(float64(i*k)*1e6/fps), e.Start, "entry %d", i)
		if i < n-1 {
			assert.Equal(t, c.Entry(i+1).Start, e.Stop, "entry %d", i)
		} else {
			assert.Equal(t, e.Start+100000, e.Stop)
		}
	}
}

func TestOpenTerminatedHeader(t *testing.T) {
	h := common.NewHeader(common.DefaultGridConfig())
	h.Size = common.HeaderLengthTerminated
	path := writeCapture(t, h, 0, 6, 12)

	c, src, err := openCapture(t, path, Options{})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, int64(common.HeaderLengthTerminated), c.Header.Length())
	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Truncated())

	// The payload of record 2 starts with the 'C' written for it.
	payload := make([]byte, c.PayloadLength())
	_, err = storage.ReadFull(src, payload, c.PayloadOffset(2))
	require.NoError(t, err)
	assert.Equal(t, byte('C'), payload[0])
}

func TestOpenMismatchedHeaderStillOpens(t *testing.T) {
	cfg := common.GridConfig{CharWidth: 53, CharHeight: 20, FontWidth: 12, FontHeight: 18, FontVariant: common.FontVariantArdupilot}
	path := writeCapture(t, common.NewHeader(cfg), 0, 6, 12)

	c, src, err := openCapture(t, path, Options{})
	require.NoError(t, err)
	defer c.Close()

	// Records are sliced at the compiled 60x22 size, not the header's 53x20.
	require.Equal(t, 3, c.Len())
	assert.False(t, c.Truncated())
	assert.Equal(t, common.PayloadLength, c.PayloadLength())
	assert.Equal(t, common.FontVariantArdupilot, c.Header.Config.FontVariant)

	starts := make([]common.Ticks, 0, c.Len())
	for _, e := range c.Entries() {
		starts = append(starts, e.Start)
	}
	assert.Equal(t, []common.Ticks{0, 100000, 200000}, starts)

	payload := make([]byte, c.PayloadLength())
	_, err = storage.ReadFull(src, payload, c.PayloadOffset(2))
	require.NoError(t, err)
	assert.Equal(t, byte('C'), payload[0])
}

func TestOpenTruncated(t *testing.T) {
	path := writeCapture(t, common.NewHeader(common.DefaultGridConfig()), 0, 6, 12)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-100], 0o644))

	c, _, err := openCapture(t, path, Options{})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, 2, c.Len())
	assert.True(t, c.Truncated())
	assert.Equal(t, common.Ticks(200000), c.Duration())
}

func TestOpenRejects(t *testing.T) {
	t.Run("NoRecords", func(t *testing.T) {
		path := writeCapture(t, common.NewHeader(common.DefaultGridConfig()))
		_, _, err := openCapture(t, path, Options{})
		assert.ErrorIs(t, err, common.ErrEmptyContainer)
	})

	t.Run("NotMSPOSD", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "video.mp4")
		require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0x42}, 4096), 0o644))

		_, _, err := openCapture(t, path, Options{})
		assert.True(t, errors.Is(err, common.ErrNotThisFormat))
		assert.ErrorIs(t, err, common.ErrFileHeaderMismatch)
	})

	t.Run("TinyFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tiny")
		require.NoError(t, os.WriteFile(path, []byte("MSP"), 0o644))

		_, _, err := openCapture(t, path, Options{})
		assert.ErrorIs(t, err, common.ErrNotThisFormat)
	})

	t.Run("Version2", func(t *testing.T) {
		h := common.NewHeader(common.DefaultGridConfig())
		h.Version = 2
		path := writeCapture(t, h, 0)

		_, _, err := openCapture(t, path, Options{})
		assert.ErrorIs(t, err, common.ErrUnsupportedVersion)
	})

	t.Run("Cancelled", func(t *testing.T) {
		path := writeCapture(t, common.NewHeader(common.DefaultGridConfig()), 0, 6)
		src, err := storage.NewLocalSource(storage.LocalSourceOpts{Path: path})
		require.NoError(t, err)
		defer src.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = Open(ctx, src, Options{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFind(t *testing.T) {
	path := writeCapture(t, common.NewHeader(common.DefaultGridConfig()), 6, 12, 18, 30)

	c, _, err := openCapture(t, path, Options{FPS: 60})
	require.NoError(t, err)
	defer c.Close()

	// Starts: 100000, 200000, 300000, 500000; duration 600000.
	tests := []struct {
		t       common.Ticks
		ordinal int
		ok      bool
	}{
		{0, 0, true},
		{99999, 0, true},
		{100000, 0, true},
		{199999, 0, true},
		{200000, 1, true},
		{450000, 2, true},
		{500000, 3, true},
		{599999, 3, true},
		{600000, 0, false},
		{1 << 40, 0, false},
	}
	for _, tt := range tests {
		ordinal, ok := c.Find(tt.t)
		assert.Equal(t, tt.ok, ok, "t=%d", tt.t)
		if tt.ok {
			assert.Equal(t, tt.ordinal, ordinal, "t=%d", tt.t)
		}
	}
}

func TestCloseIdempotent(t *testing.T) {
	path := writeCapture(t, common.NewHeader(common.DefaultGridConfig()), 0)

	c, _, err := openCapture(t, path, Options{})
	require.NoError(t, err)

	c.Close()
	c.Close()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, common.Ticks(0), c.Duration())
	_, ok := c.Find(0)
	assert.False(t, ok)
}
