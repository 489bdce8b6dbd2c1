package container

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/btree"

	"github.com/beam-cloud/fpvosd/pkg/common"
	"github.com/beam-cloud/fpvosd/pkg/metrics"
	"github.com/beam-cloud/fpvosd/pkg/storage"
)

const scanBufferSize = 1 << 20

type Options struct {
	FPS            float64
	TicksPerSecond common.Ticks
	// TailDuration is the display time of the last record, which has no
	// successor to take its stop time from.
	TailDuration common.Ticks
}

func (o Options) withDefaults() Options {
	if o.FPS <= 0 {
		o.FPS = 60
	}
	if o.TicksPerSecond <= 0 {
		o.TicksPerSecond = common.DefaultTicksPerSecond
	}
	if o.TailDuration <= 0 {
		o.TailDuration = o.TicksPerSecond / 10
	}
	return o
}

// Container is the time index of an MSP-OSD capture. Payloads are not kept;
// they are read back from the source by ordinal when needed.
type Container struct {
	Header common.Header

	opts      Options
	entries   []common.IndexEntry
	byStart   *btree.BTreeG[common.IndexEntry]
	truncated bool
}

// Open reads the header of src and indexes every record. Errors wrapping
// common.ErrNotThisFormat mean the stream is something else entirely.
func Open(ctx context.Context, src storage.Source, opts Options) (*Container, error) {
	opts = opts.withDefaults()
	started := time.Now()

	header, err := ReadHeader(src)
	if err != nil {
		return nil, err
	}

	logger := log.With().Str("source", src.Name()).Logger()

	if fields := header.Config.Mismatches(); len(fields) > 0 {
		logger.Warn().
			Strs("fields", fields).
			Uint8("char_width", header.Config.CharWidth).
			Uint8("char_height", header.Config.CharHeight).
			Uint8("font_width", header.Config.FontWidth).
			Uint8("font_height", header.Config.FontHeight).
			Uint8("font_variant", uint8(header.Config.FontVariant)).
			Msg("unsupported config, trying anyway")
	}

	recordLength := int64(common.RecordLength)
	body := src.Size() - header.Length()
	expected := int(body / recordLength)

	c := &Container{
		Header:  *header,
		opts:    opts,
		entries: make([]common.IndexEntry, 0, expected),
		byStart: btree.NewBTreeGOptions(func(a, b common.IndexEntry) bool {
			return a.Start < b.Start
		}, btree.Options{NoLocks: true}),
	}

	if err := c.scan(ctx, src, expected, logger); err != nil {
		c.Close()
		return nil, err
	}

	if tail := body % recordLength; tail != 0 && !c.truncated {
		logger.Warn().Int64("trailing_bytes", tail).Msg("incomplete OSD file")
		c.truncated = true
	}

	if len(c.entries) == 0 {
		c.Close()
		return nil, fmt.Errorf("%w: %s", common.ErrEmptyContainer, src.Name())
	}

	metrics.RecordIndex(len(c.entries), c.truncated, time.Since(started))
	logger.Debug().
		Int("records", len(c.entries)).
		Int64("duration", int64(c.Duration())).
		Bool("truncated", c.truncated).
		Msg("valid OSD file")

	return c, nil
}

// ReadHeader decodes the container header at the start of src.
func ReadHeader(src storage.Source) (*common.Header, error) {
	n := int64(common.HeaderLengthTerminated)
	if src.Size() < n {
		n = src.Size()
	}
	if n < common.HeaderLengthCompact {
		return nil, fmt.Errorf("%w: %d byte stream", common.ErrFileHeaderMismatch, src.Size())
	}

	buf := make([]byte, n)
	if _, err := storage.ReadFull(src, buf, 0); err != nil {
		return nil, fmt.Errorf("%w: incomplete header: %v", common.ErrFileHeaderMismatch, err)
	}
	return common.DecodeHeader(buf)
}

func (c *Container) scan(ctx context.Context, src storage.Source, expected int, logger zerolog.Logger) error {
	section := io.NewSectionReader(src, c.Header.Length(), src.Size()-c.Header.Length())
	reader := bufio.NewReaderSize(section, scanBufferSize)

	payloadLength := common.PayloadLength
	frameHeader := make([]byte, common.FrameHeaderLength)
	warnedSize, warnedOrder := false, false

	for i := 0; i < expected; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		if _, err := io.ReadFull(reader, frameHeader); err != nil {
			c.markTruncated(logger, i, err)
			break
		}
		if n, err := reader.Discard(payloadLength); n != payloadLength {
			c.markTruncated(logger, i, err)
			break
		}

		fh, _ := common.DecodeFrameHeader(frameHeader)
		if fh.Size != uint32(payloadLength) && !warnedSize {
			logger.Warn().Uint32("declared", fh.Size).Int("expected", payloadLength).Int("record", i).Msg("record size differs from grid size")
			warnedSize = true
		}

		entry := common.IndexEntry{
			Start:   common.FrameStart(fh.FrameCounter, c.opts.TicksPerSecond, c.opts.FPS),
			Ordinal: i,
		}
		entry.Stop = entry.Start + c.opts.TailDuration

		if last := len(c.entries) - 1; last >= 0 {
			if entry.Start < c.entries[last].Start && !warnedOrder {
				logger.Warn().Uint32("frame_counter", fh.FrameCounter).Int("record", i).Msg("frame counter went backwards")
				warnedOrder = true
			}
			c.entries[last].Stop = entry.Start
			c.byStart.Set(c.entries[last])
		}

		c.entries = append(c.entries, entry)
		c.byStart.Set(entry)
	}

	return nil
}

func (c *Container) markTruncated(logger zerolog.Logger, record int, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || err == nil {
		logger.Warn().Int("record", record).Msg("incomplete OSD file")
	} else {
		logger.Warn().Err(err).Int("record", record).Msg("read error, keeping partial index")
	}
	c.truncated = true
}

// Len is the number of indexed records.
func (c *Container) Len() int {
	return len(c.entries)
}

func (c *Container) Entry(i int) common.IndexEntry {
	return c.entries[i]
}

// Entries returns the index. Callers must not modify it.
func (c *Container) Entries() []common.IndexEntry {
	return c.entries
}

func (c *Container) Truncated() bool {
	return c.truncated
}

// Duration is the stop time of the last entry, or zero for a closed container.
func (c *Container) Duration() common.Ticks {
	if len(c.entries) == 0 {
		return 0
	}
	return c.entries[len(c.entries)-1].Stop
}

// Find returns the ordinal of the entry on screen at t: the last entry
// starting at or before t, or the first entry when t precedes it. It reports
// false when the index is empty or t is at or past the end.
func (c *Container) Find(t common.Ticks) (int, bool) {
	if len(c.entries) == 0 || t >= c.Duration() {
		return 0, false
	}

	ordinal := c.entries[0].Ordinal
	c.byStart.Descend(common.IndexEntry{Start: t}, func(e common.IndexEntry) bool {
		ordinal = e.Ordinal
		return false
	})
	return ordinal, true
}

func (c *Container) RecordOffset(ordinal int) int64 {
	return c.Header.RecordOffset(ordinal)
}

func (c *Container) PayloadOffset(ordinal int) int64 {
	return c.RecordOffset(ordinal) + common.FrameHeaderLength
}

func (c *Container) PayloadLength() int {
	return common.PayloadLength
}

// Format describes the elementary stream carrying this container's records.
func (c *Container) Format() common.Format {
	return common.Format{Codec: common.CodecFourCC, Header: c.Header}
}

// Close releases the index. It is safe to call more than once.
func (c *Container) Close() {
	c.entries = nil
	if c.byStart != nil {
		c.byStart.Clear()
		c.byStart = nil
	}
}
