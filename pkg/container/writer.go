package container

import (
	"bufio"
	"fmt"
	"io"

	"github.com/beam-cloud/fpvosd/pkg/common"
)

// Writer produces MSP-OSD containers, the same layout the goggles' DVR
// writes. It is used for synthetic captures and for re-muxing.
type Writer struct {
	w       *bufio.Writer
	header  common.Header
	records int
	started bool
}

func NewWriter(w io.Writer, header common.Header) *Writer {
	if header.Size == 0 {
		header.Size = common.HeaderLengthCompact
	}
	copy(header.Magic[:], common.MSPOSDMagic)
	if header.Version == 0 {
		header.Version = common.MSPOSDVersion
	}
	return &Writer{w: bufio.NewWriter(w), header: header}
}

func (w *Writer) Header() common.Header {
	return w.header
}

// Records is the number of frames written so far.
func (w *Writer) Records() int {
	return w.records
}

// WriteFrame appends one record. Records are always the compiled grid size;
// the header geometry is written as given.
func (w *Writer) WriteFrame(counter uint32, grid *common.Grid) error {
	if grid.Columns != common.GridWidth || grid.Rows != common.GridHeight {
		return fmt.Errorf("grid is %dx%d, container expects %dx%d",
			grid.Columns, grid.Rows, common.GridWidth, common.GridHeight)
	}

	if !w.started {
		if _, err := w.w.Write(common.EncodeHeader(w.header)); err != nil {
			return err
		}
		w.started = true
	}

	payload, err := grid.MarshalBinary()
	if err != nil {
		return err
	}

	fh := common.FrameHeader{FrameCounter: counter, Size: uint32(len(payload))}
	if _, err := w.w.Write(common.EncodeFrameHeader(fh)); err != nil {
		return err
	}
	if _, err := w.w.Write(payload); err != nil {
		return err
	}

	w.records++
	return nil
}

// Flush writes any buffered data. A writer with no frames still emits the
// header so the output is recognisable.
func (w *Writer) Flush() error {
	if !w.started {
		if _, err := w.w.Write(common.EncodeHeader(w.header)); err != nil {
			return err
		}
		w.started = true
	}
	return w.w.Flush()
}
