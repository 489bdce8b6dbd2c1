package playback

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
	"github.com/beam-cloud/fpvosd/pkg/container"
	"github.com/beam-cloud/fpvosd/pkg/storage"
)

type recordingTrack struct {
	blocks  []*common.Block
	pcrs    []common.Ticks
	sendErr error
}

func (r *recordingTrack) Send(b *common.Block) error {
	if r.sendErr != nil {
		return r.sendErr
	}
	r.blocks = append(r.blocks, b)
	return nil
}

func (r *recordingTrack) SetClockReference(t common.Ticks) {
	r.pcrs = append(r.pcrs, t)
}

func (r *recordingTrack) starts() []common.Ticks {
	var s []common.Ticks
	for _, b := range r.blocks {
		s = append(s, b.PTS)
	}
	return s
}

func newTestScheduler(t *testing.T, opts Options, counters ...uint32) (*Scheduler, *recordingTrack, string) {
	t.Helper()

	cfg := common.DefaultGridConfig()
	var buf bytes.Buffer
	w := container.NewWriter(&buf, common.NewHeader(cfg))
	for i, counter := range counters {
		grid := common.NewGrid()
		grid.Set(0, 0, uint16('A'+i))
		require.NoError(t, w.WriteFrame(counter, grid))
	}
	require.NoError(t, w.Flush())

	path := filepath.Join(t.TempDir(), "capture.osd")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	src, err := storage.NewLocalSource(storage.LocalSourceOpts{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })

	index, err := container.Open(context.Background(), src, container.Options{FPS: 60})
	require.NoError(t, err)
	t.Cleanup(index.Close)

	track := &recordingTrack{}
	return NewScheduler(index, src, track, opts), track, path
}

func TestAdvanceSelfPaced(t *testing.T) {
	ctx := context.Background()
	s, track, _ := newTestScheduler(t, Options{}, 0, 6, 12)
	assert.Equal(t, StateNotStarted, s.State())

	status, err := s.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusMore, status)
	assert.Equal(t, StatePlaying, s.State())
	assert.Equal(t, []common.Ticks{0}, track.starts())
	assert.Equal(t, []common.Ticks{0, 0}, track.pcrs)
	assert.Equal(t, common.Ticks(125000), s.Time())

	status, err = s.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusMore, status)
	assert.Equal(t, []common.Ticks{0, 100000}, track.starts())
	assert.Equal(t, []common.Ticks{0, 0, 125000}, track.pcrs)

	status, err = s.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusEOF, status)
	assert.Equal(t, StateDrained, s.State())
	assert.Equal(t, []common.Ticks{0, 100000, 200000}, track.starts())
	assert.Equal(t, 1.0, s.Position())
}

func TestAdvanceBlockContents(t *testing.T) {
	s, track, _ := newTestScheduler(t, Options{}, 0, 6, 12)
	s.SetNextTime(1_000_000)

	status, err := s.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusEOF, status)
	require.Len(t, track.blocks, 3)

	for i, b := range track.blocks {
		assert.Len(t, b.Payload, common.GridWidth*common.GridHeight*2)
		assert.Equal(t, byte('A'+i), b.Payload[0])
		assert.Equal(t, b.PTS, b.DTS)
		assert.Equal(t, common.Ticks(100000), b.Length)
		assert.False(t, b.Corrupted())
		assert.Zero(t, b.Flags)
	}
}

func TestSeekToTime(t *testing.T) {
	s, track, _ := newTestScheduler(t, Options{}, 0, 6, 12)

	// Every time inside [start[i], start[i+1]) lands on i.
	for _, tt := range []struct {
		t      common.Ticks
		cursor int
	}{
		{0, 0}, {50000, 0}, {100000, 1}, {199999, 1}, {200000, 2}, {299999, 2},
	} {
		require.NoError(t, s.SeekToTime(tt.t))
		assert.Equal(t, tt.cursor, s.Cursor(), "t=%d", tt.t)
		assert.Equal(t, tt.t, s.Time())
	}
	// Seeking before the first Advance does not start playback.
	assert.Equal(t, StateNotStarted, s.State())

	require.NoError(t, s.SeekToTime(150000))
	err := s.SeekToTime(300000)
	assert.True(t, errors.Is(err, common.ErrEndOfStream))
	assert.Equal(t, 1, s.Cursor())
	assert.Equal(t, common.Ticks(150000), s.Time())

	_, err = s.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatePlaying, s.State())
	assert.Equal(t, []common.Ticks{100000}, track.starts())
	assert.Equal(t, common.Ticks(150000), track.pcrs[0])
	assert.Equal(t, common.BlockFlagDiscontinuity, track.blocks[0].Flags)
}

func TestSeekAfterDrain(t *testing.T) {
	ctx := context.Background()
	s, track, _ := newTestScheduler(t, Options{}, 0, 6, 12)
	s.SetNextTime(1_000_000)
	_, err := s.Advance(ctx)
	require.NoError(t, err)
	require.Equal(t, StateDrained, s.State())

	require.NoError(t, s.SeekToTime(0))
	assert.Equal(t, StatePlaying, s.State())
	s.SetNextTime(0)
	status, err := s.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusMore, status)
	assert.Len(t, track.blocks, 4)
}

func TestSeekToPosition(t *testing.T) {
	s, _, _ := newTestScheduler(t, Options{}, 0, 6, 12)
	require.Equal(t, common.Ticks(300000), s.Duration())

	require.NoError(t, s.SeekToPosition(0.5))
	assert.Equal(t, 1, s.Cursor())
	assert.Equal(t, common.Ticks(150000), s.Time())
	assert.InDelta(t, 0.5, s.Position(), 1e-9)

	assert.ErrorIs(t, s.SeekToPosition(1.0), common.ErrEndOfStream)
}

func TestExternalClock(t *testing.T) {
	s, track, _ := newTestScheduler(t, Options{}, 0, 6, 12)
	s.SetNextTime(100000)
	assert.False(t, s.SelfPaced())

	status, err := s.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusMore, status)
	assert.Equal(t, []common.Ticks{0, 100000}, track.starts())
	assert.Empty(t, track.pcrs)
	assert.Equal(t, common.Ticks(100000), s.Time())

	s.SetSelfPaced()
	assert.True(t, s.SelfPaced())
	_, err = s.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []common.Ticks{100000, 100000}, track.pcrs)
}

func TestPresentationDelay(t *testing.T) {
	s, track, _ := newTestScheduler(t, Options{PresentationDelay: 100000}, 0, 6, 12)

	// A barrier below zero falls back to the raw clock.
	assert.Equal(t, common.Ticks(0), s.Time())

	s.SetNextTime(250000)
	assert.Equal(t, common.Ticks(150000), s.Time())
	_, err := s.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []common.Ticks{0, 100000}, track.starts())

	s.SetPresentationDelay(0)
	assert.Equal(t, common.Ticks(250000), s.Time())
}

func TestAdvanceShortReadEndsStream(t *testing.T) {
	s, track, path := newTestScheduler(t, Options{}, 0, 6, 12)
	require.NoError(t, os.Truncate(path, common.HeaderLengthCompact+100))

	s.SetNextTime(1_000_000)
	status, err := s.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusEOF, status)
	assert.Empty(t, track.blocks)
	assert.Equal(t, StateDrained, s.State())
}

func TestAdvanceSendError(t *testing.T) {
	s, track, _ := newTestScheduler(t, Options{}, 0, 6, 12)
	track.sendErr = errors.New("track gone")

	_, err := s.Advance(context.Background())
	assert.ErrorIs(t, err, track.sendErr)
	assert.Equal(t, 0, s.Cursor())
}

func TestAdvanceCancelled(t *testing.T) {
	s, _, _ := newTestScheduler(t, Options{}, 0, 6, 12)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Advance(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
