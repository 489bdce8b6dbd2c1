package overlay

import (
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"

	"github.com/beam-cloud/fpvosd/pkg/common"
	"github.com/beam-cloud/fpvosd/pkg/fontatlas"
	"github.com/beam-cloud/fpvosd/pkg/metrics"
)

// Overlay is one rendered OSD frame. Its stop time is far enough out that the
// host keeps it on screen until the next overlay replaces it.
type Overlay struct {
	Image     *image.NYCbCrA
	Start     common.Ticks
	Stop      common.Ticks
	Ephemeral bool
	Alpha     uint8

	OriginalWidth  int
	OriginalHeight int
}

// NRGBA converts the overlay to straight-alpha RGB for encoding.
func (o *Overlay) NRGBA() *image.NRGBA {
	b := o.Image.Bounds()
	dst := image.NewNRGBA(b)
	draw.Draw(dst, b, o.Image, b.Min, draw.Src)
	return dst
}

// Scale resamples the overlay to w x h.
func (o *Overlay) Scale(w, h int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), o.NRGBA(), o.Image.Bounds(), draw.Src, nil)
	return dst
}

type Options struct {
	TicksPerSecond common.Ticks
}

// Compositor stamps glyphs from an atlas onto a fixed overlay canvas.
type Compositor struct {
	atlas   *fontatlas.Atlas
	columns int
	rows    int
	xMargin int
	yMargin int
	tps     common.Ticks
}

func NewCompositor(atlas *fontatlas.Atlas, opts Options) *Compositor {
	if opts.TicksPerSecond <= 0 {
		opts.TicksPerSecond = common.DefaultTicksPerSecond
	}
	return &Compositor{
		atlas:   atlas,
		columns: common.GridWidth,
		rows:    common.GridHeight,
		xMargin: (common.OverlayWidth - common.CanvasWidth) / 2,
		yMargin: (common.OverlayHeight - common.CanvasHeight) / 2,
		tps:     opts.TicksPerSecond,
	}
}

// Render draws one character grid. Glyph pixels are copied as they are,
// alpha included; cells with code 0 leave the canvas transparent.
func (c *Compositor) Render(payload []byte, start common.Ticks) (*Overlay, error) {
	if c.atlas == nil || c.atlas.Image == nil {
		return nil, fmt.Errorf("render: %w", common.ErrClosed)
	}

	grid, err := common.ParseGrid(payload, c.columns, c.rows)
	if err != nil {
		return nil, err
	}

	began := time.Now()

	canvas := image.NewNYCbCrA(image.Rect(0, 0, common.OverlayWidth, common.OverlayHeight), image.YCbCrSubsampleRatio444)
	glyphs := 0
	for x := 0; x < grid.Columns; x++ {
		for y := 0; y < grid.Rows; y++ {
			code := uint8(grid.At(x, y) & 0xFF)
			if code == 0 {
				continue
			}
			if c.blit(canvas, code, x*common.FontWidth+c.xMargin, y*common.FontHeight+c.yMargin) {
				glyphs++
			}
		}
	}

	metrics.RecordRender(glyphs, time.Since(began))
	log.Trace().Int64("start", int64(start)).Int("glyphs", glyphs).Msg("rendered overlay")

	return &Overlay{
		Image:          canvas,
		Start:          start,
		Stop:           start + c.tps*1_000_000,
		Ephemeral:      true,
		Alpha:          255,
		OriginalWidth:  common.OverlayWidth,
		OriginalHeight: common.OverlayHeight,
	}, nil
}

// blit copies a glyph row by row on every plane. Glyphs that would not fit
// entirely inside the canvas are skipped.
func (c *Compositor) blit(dst *image.NYCbCrA, code uint8, px, py int) bool {
	cell := image.Rect(px, py, px+common.FontWidth, py+common.FontHeight)
	if !cell.In(dst.Rect) {
		return false
	}

	src := c.atlas.Image
	sx := int(code) * common.FontWidth
	for row := 0; row < common.FontHeight; row++ {
		so := src.YOffset(sx, row)
		do := dst.YOffset(px, py+row)
		copy(dst.Y[do:do+common.FontWidth], src.Y[so:so+common.FontWidth])

		so = src.COffset(sx, row)
		do = dst.COffset(px, py+row)
		copy(dst.Cb[do:do+common.FontWidth], src.Cb[so:so+common.FontWidth])
		copy(dst.Cr[do:do+common.FontWidth], src.Cr[so:so+common.FontWidth])

		so = src.AOffset(sx, row)
		do = dst.AOffset(px, py+row)
		copy(dst.A[do:do+common.FontWidth], src.A[so:so+common.FontWidth])
	}
	return true
}
