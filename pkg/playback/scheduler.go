package playback

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/fpvosd/pkg/common"
	"github.com/beam-cloud/fpvosd/pkg/container"
	"github.com/beam-cloud/fpvosd/pkg/metrics"
	"github.com/beam-cloud/fpvosd/pkg/storage"
)

// Track receives the scheduler's output: payload blocks in presentation order
// and, when the scheduler paces itself, the clock reference.
type Track interface {
	Send(block *common.Block) error
	SetClockReference(t common.Ticks)
}

type Status int

const (
	StatusMore Status = iota
	StatusEOF
)

func (s Status) String() string {
	if s == StatusEOF {
		return "eof"
	}
	return "more"
}

type State int

const (
	StateNotStarted State = iota
	StatePlaying
	StateDrained
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StatePlaying:
		return "playing"
	case StateDrained:
		return "drained"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Options struct {
	TicksPerSecond common.Ticks
	// PresentationDelay is subtracted from the clock when deciding which
	// entries are due, the host's subtitle delay.
	PresentationDelay common.Ticks
}

// Scheduler releases index entries to a Track as the playback clock passes
// their start times. By default it paces itself, stepping its own clock an
// eighth of a second per Advance; SetNextTime hands the clock to the host.
type Scheduler struct {
	index *container.Container
	src   io.ReaderAt
	track Track
	opts  Options

	cursor    int
	clock     common.Ticks
	delay     common.Ticks
	selfPaced bool
	firstPCR  bool
	state     State
	payload   []byte

	// discontinuity marks the first block emitted after a seek.
	discontinuity bool
}

func NewScheduler(index *container.Container, src io.ReaderAt, track Track, opts Options) *Scheduler {
	if opts.TicksPerSecond <= 0 {
		opts.TicksPerSecond = common.DefaultTicksPerSecond
	}
	return &Scheduler{
		index:     index,
		src:       src,
		track:     track,
		opts:      opts,
		delay:     opts.PresentationDelay,
		selfPaced: true,
		firstPCR:  true,
		state:     StateNotStarted,
		payload:   make([]byte, index.PayloadLength()),
	}
}

func (s *Scheduler) SetPresentationDelay(d common.Ticks) {
	s.delay = d
}

// barrier is the clock shifted back by the presentation delay. A delay that
// would put the barrier before zero is ignored.
func (s *Scheduler) barrier() common.Ticks {
	if b := s.clock - s.delay; b >= 0 {
		return b
	}
	return s.clock
}

// Advance emits every entry due at the current barrier. Running out of
// entries, or a record that can no longer be read, ends the stream with
// StatusEOF rather than an error.
func (s *Scheduler) Advance(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return StatusMore, err
	}
	if s.state == StateNotStarted {
		s.state = StatePlaying
	}

	barrier := s.barrier()

	if s.selfPaced && s.firstPCR {
		s.track.SetClockReference(barrier)
		s.firstPCR = false
	}

	for s.cursor < s.index.Len() {
		entry := s.index.Entry(s.cursor)
		if entry.Start > barrier {
			break
		}

		if _, err := storage.ReadFull(s.src, s.payload, s.index.PayloadOffset(entry.Ordinal)); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				log.Debug().Int("ordinal", entry.Ordinal).Msg("short read, ending stream")
			} else {
				log.Warn().Err(err).Int("ordinal", entry.Ordinal).Msg("failed to read record, ending stream")
			}
			s.cursor = s.index.Len()
			s.state = StateDrained
			return StatusEOF, nil
		}

		payload := make([]byte, len(s.payload))
		copy(payload, s.payload)

		block := &common.Block{
			PTS:     entry.Start,
			DTS:     entry.Start,
			Length:  entry.Duration(),
			Payload: payload,
		}
		if s.discontinuity {
			block.Flags |= common.BlockFlagDiscontinuity
		}
		if err := s.track.Send(block); err != nil {
			return StatusMore, fmt.Errorf("send block %d: %w", entry.Ordinal, err)
		}
		metrics.RecordBlockEmitted()

		s.discontinuity = false
		s.cursor++
	}

	if s.selfPaced {
		s.track.SetClockReference(barrier)
		s.clock += s.opts.TicksPerSecond / 8
	}

	if s.cursor >= s.index.Len() {
		s.state = StateDrained
		return StatusEOF, nil
	}
	return StatusMore, nil
}

// SeekToTime moves the cursor to the entry on screen at t and resets the
// clock to t. Seeking at or past the end fails with common.ErrEndOfStream and
// leaves the scheduler untouched.
func (s *Scheduler) SeekToTime(t common.Ticks) error {
	ordinal, ok := s.index.Find(t)
	metrics.RecordSeek(ok)
	if !ok {
		log.Debug().Int64("time", int64(t)).Int64("duration", int64(s.Duration())).Msg("seek past end")
		return common.ErrEndOfStream
	}

	s.cursor = ordinal
	s.clock = t
	s.firstPCR = true
	s.discontinuity = true
	if s.state == StateDrained {
		s.state = StatePlaying
	}

	log.Debug().Int64("time", int64(t)).Int("ordinal", ordinal).Msg("seek")
	return nil
}

// SeekToPosition seeks to a fraction of the duration. It does nothing when
// the duration is unknown.
func (s *Scheduler) SeekToPosition(f float64) error {
	d := s.Duration()
	if d <= 0 {
		return nil
	}
	return s.SeekToTime(common.Ticks(f * float64(d)))
}

func (s *Scheduler) Duration() common.Ticks {
	return s.index.Duration()
}

// Time reports the current barrier.
func (s *Scheduler) Time() common.Ticks {
	return s.barrier()
}

func (s *Scheduler) Position() float64 {
	if s.cursor >= s.index.Len() {
		return 1.0
	}
	d := s.Duration()
	if d <= 0 {
		return 0
	}
	return float64(s.Time()) / float64(d)
}

// SetNextTime lets the host drive the clock: the next Advance emits what is
// due at t and the scheduler stops publishing clock references.
func (s *Scheduler) SetNextTime(t common.Ticks) {
	s.selfPaced = false
	s.clock = t
}

// SetSelfPaced returns clock ownership to the scheduler.
func (s *Scheduler) SetSelfPaced() {
	if !s.selfPaced {
		s.selfPaced = true
		s.firstPCR = true
	}
}

func (s *Scheduler) SelfPaced() bool {
	return s.selfPaced
}

func (s *Scheduler) State() State {
	return s.state
}

// Cursor is the index of the next entry to emit.
func (s *Scheduler) Cursor() int {
	return s.cursor
}
