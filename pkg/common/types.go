package common

import "fmt"

// Ticks is a timestamp on the host's monotonic clock. The unit is set by the
// configured ticks per second, microseconds by default.
type Ticks int64

const DefaultTicksPerSecond Ticks = 1_000_000

// FrameStart maps a recorder frame counter onto the clock assuming a constant
// frame rate.
func FrameStart(counter uint32, ticksPerSecond Ticks, fps float64) Ticks {
	return Ticks(float64(int64(counter)*int64(ticksPerSecond)) / fps)
}

// IndexEntry is the derived timing of one frame record.
type IndexEntry struct {
	Start   Ticks
	Stop    Ticks
	Ordinal int
}

func (e IndexEntry) Duration() Ticks {
	return e.Stop - e.Start
}

func (e IndexEntry) String() string {
	return fmt.Sprintf("#%d [%d, %d)", e.Ordinal, e.Start, e.Stop)
}

// BlockFlags mirror the host's block flags that matter to the decoder.
type BlockFlags uint32

const (
	BlockFlagCorrupted BlockFlags = 1 << iota
	BlockFlagDiscontinuity
)

// Block is one emitted unit of the OSD elementary stream: the character grid
// of a single record, stamped with its presentation time.
type Block struct {
	PTS     Ticks
	DTS     Ticks
	Length  Ticks
	Flags   BlockFlags
	Payload []byte
}

func (b *Block) Corrupted() bool {
	return b.Flags&BlockFlagCorrupted != 0
}

// Format describes the elementary stream a demuxer exposes to the decoder,
// the way the host's es_format carries the container header as extra data.
type Format struct {
	Codec  string
	Header Header
}
