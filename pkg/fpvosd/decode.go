package fpvosd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/fpvosd/pkg/common"
	"github.com/beam-cloud/fpvosd/pkg/config"
	"github.com/beam-cloud/fpvosd/pkg/fontatlas"
	"github.com/beam-cloud/fpvosd/pkg/overlay"
)

// Decoder turns payload blocks into overlays using the font chosen by the
// container header.
type Decoder struct {
	atlas      *fontatlas.Atlas
	compositor *overlay.Compositor
	closed     bool
}

// OpenDecoder validates the stream format and loads its font from the
// configured folder.
func OpenDecoder(ctx context.Context, format common.Format, cfg *config.Config) (*Decoder, error) {
	if format.Codec != common.CodecFourCC {
		return nil, fmt.Errorf("%w: %q", common.ErrUnsupportedCodec, format.Codec)
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	atlas, err := fontatlas.Load(ctx, fontatlas.Options{
		Folder:  cfg.FontFolder,
		Variant: format.Header.Config.FontVariant,
		Storage: SourceOpts(cfg),
	})
	if err != nil {
		log.Error().Err(err).Str("folder", cfg.FontFolder).Msg("unable to load font")
		return nil, err
	}

	return NewDecoder(atlas, cfg), nil
}

// NewDecoder builds a decoder around an already loaded atlas. The decoder
// owns the atlas from then on.
func NewDecoder(atlas *fontatlas.Atlas, cfg *config.Config) *Decoder {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Decoder{
		atlas: atlas,
		compositor: overlay.NewCompositor(atlas, overlay.Options{
			TicksPerSecond: cfg.TicksPerSecond(),
		}),
	}
}

// Decode renders one block. Corrupted blocks and nil blocks yield no overlay
// and no error.
func (d *Decoder) Decode(block *common.Block) (*overlay.Overlay, error) {
	if d.closed {
		return nil, common.ErrClosed
	}
	if block == nil {
		return nil, nil
	}
	if block.Corrupted() {
		log.Warn().Int64("pts", int64(block.PTS)).Msg("dropping corrupted block")
		return nil, nil
	}
	return d.compositor.Render(block.Payload, block.PTS)
}

// Close releases the atlas. Only the first call does work.
func (d *Decoder) Close() {
	if d.closed {
		return
	}
	d.closed = true
	d.atlas.Close()
}
