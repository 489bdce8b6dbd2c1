package fpvosd

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/fpvosd/pkg/common"
	"github.com/beam-cloud/fpvosd/pkg/config"
	"github.com/beam-cloud/fpvosd/pkg/container"
	"github.com/beam-cloud/fpvosd/pkg/playback"
	"github.com/beam-cloud/fpvosd/pkg/storage"
)

// Demuxer owns an opened container: its source, its index and the scheduler
// feeding track.
type Demuxer struct {
	ID string

	src       storage.Source
	index     *container.Container
	scheduler *playback.Scheduler
	closed    bool
}

// OpenDemuxer opens location (local path, s3:// or http(s):// URL) and
// indexes it. Errors wrapping common.ErrNotThisFormat mean the location holds
// some other format.
func OpenDemuxer(ctx context.Context, location string, cfg *config.Config, track playback.Track) (*Demuxer, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	src, err := storage.Open(ctx, location, SourceOpts(cfg))
	if err != nil {
		return nil, err
	}

	return NewDemuxer(ctx, src, cfg, track)
}

// NewDemuxer indexes src and takes ownership of it, closing it if indexing
// fails.
func NewDemuxer(ctx context.Context, src storage.Source, cfg *config.Config, track playback.Track) (*Demuxer, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	index, err := container.Open(ctx, src, container.Options{
		FPS:            cfg.EffectiveFPS(),
		TicksPerSecond: cfg.TicksPerSecond(),
		TailDuration:   cfg.TailDuration(),
	})
	if err != nil {
		src.Close()
		return nil, err
	}

	d := &Demuxer{
		ID:    uuid.NewString(),
		src:   src,
		index: index,
		scheduler: playback.NewScheduler(index, src, track, playback.Options{
			TicksPerSecond:    cfg.TicksPerSecond(),
			PresentationDelay: common.Ticks(cfg.Playback.PresentationDelay),
		}),
	}

	log.Info().
		Str("session", d.ID).
		Str("source", src.Name()).
		Int("records", index.Len()).
		Str("font_variant", index.Header.Config.FontVariant.String()).
		Msg("opened OSD container")

	return d, nil
}

// Format describes the stream for OpenDecoder.
func (d *Demuxer) Format() common.Format {
	return d.index.Format()
}

func (d *Demuxer) Index() *container.Container {
	return d.index
}

func (d *Demuxer) Scheduler() *playback.Scheduler {
	return d.scheduler
}

func (d *Demuxer) CanSeek() bool {
	return d.src.CanSeek()
}

func (d *Demuxer) Advance(ctx context.Context) (playback.Status, error) {
	if d.closed {
		return playback.StatusEOF, common.ErrClosed
	}
	return d.scheduler.Advance(ctx)
}

func (d *Demuxer) SeekToTime(t common.Ticks) error {
	if d.closed {
		return common.ErrClosed
	}
	return d.scheduler.SeekToTime(t)
}

func (d *Demuxer) SeekToPosition(f float64) error {
	if d.closed {
		return common.ErrClosed
	}
	return d.scheduler.SeekToPosition(f)
}

func (d *Demuxer) Duration() common.Ticks {
	return d.scheduler.Duration()
}

func (d *Demuxer) Time() common.Ticks {
	return d.scheduler.Time()
}

func (d *Demuxer) Position() float64 {
	return d.scheduler.Position()
}

// SetNextTime hands the clock to the host; see playback.Scheduler.SetNextTime.
func (d *Demuxer) SetNextTime(t common.Ticks) {
	d.scheduler.SetNextTime(t)
}

func (d *Demuxer) SetSelfPaced() {
	d.scheduler.SetSelfPaced()
}

// Close releases the index and the source. Only the first call does work.
func (d *Demuxer) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	d.index.Close()
	err := d.src.Close()

	log.Debug().Str("session", d.ID).Msg("closed OSD container")
	return err
}
