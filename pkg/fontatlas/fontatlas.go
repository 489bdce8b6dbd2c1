package fontatlas

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/fpvosd/pkg/common"
	"github.com/beam-cloud/fpvosd/pkg/storage"
)

// FileLength is the size of an HD font file: 256 RGBA glyphs of 24x36.
const FileLength = common.FontWidth * common.FontHeight * common.FontGlyphCount * common.FontBytesPerPixel

type Options struct {
	Folder  string
	Variant common.FontVariant
	Storage storage.SourceOpts
}

// Atlas holds every glyph side by side in one YCbCr+alpha image; glyph c
// occupies columns [c*FontWidth, (c+1)*FontWidth).
type Atlas struct {
	Variant common.FontVariant
	Image   *image.NYCbCrA
}

// Path returns the font file location for a variant, e.g.
// "<folder>/font_bf_hd.bin".
func Path(folder string, variant common.FontVariant) (string, error) {
	suffix, err := variant.Suffix()
	if err != nil {
		return "", err
	}
	return storage.Join(folder, "font"+suffix+"_hd.bin"), nil
}

// Load reads and converts the font for opts.Variant. Any failure to obtain a
// complete font file is reported as common.ErrFontLoad.
func Load(ctx context.Context, opts Options) (*Atlas, error) {
	path, err := Path(opts.Folder, opts.Variant)
	if err != nil {
		return nil, err
	}

	src, err := storage.Open(ctx, path, opts.Storage)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", common.ErrFontLoad, path, err)
	}
	defer src.Close()

	if src.Size() != FileLength {
		return nil, fmt.Errorf("%w %s: expected %d bytes, got %d", common.ErrFontLoad, path, FileLength, src.Size())
	}

	rgba := make([]byte, FileLength)
	if _, err := storage.ReadFull(src, rgba, 0); err != nil {
		return nil, fmt.Errorf("%w %s: %v", common.ErrFontLoad, path, err)
	}

	log.Debug().Str("path", path).Str("variant", opts.Variant.String()).Msg("loaded font")

	return FromRGBA(opts.Variant, rgba)
}

// FromRGBA converts a raw font file. Glyphs are stored one after another,
// each FontHeight rows of FontWidth RGBA pixels.
func FromRGBA(variant common.FontVariant, rgba []byte) (*Atlas, error) {
	if len(rgba) != FileLength {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", common.ErrFontLoad, FileLength, len(rgba))
	}

	img := image.NewNYCbCrA(
		image.Rect(0, 0, common.FontWidth*common.FontGlyphCount, common.FontHeight),
		image.YCbCrSubsampleRatio444,
	)

	const glyphBytes = common.FontWidth * common.FontHeight * common.FontBytesPerPixel
	for glyph := 0; glyph < common.FontGlyphCount; glyph++ {
		base := glyph * glyphBytes
		for y := 0; y < common.FontHeight; y++ {
			for x := 0; x < common.FontWidth; x++ {
				p := base + (y*common.FontWidth+x)*common.FontBytesPerPixel
				yy, cb, cr := common.RGBToYUV(rgba[p], rgba[p+1], rgba[p+2])

				px := glyph*common.FontWidth + x
				yi := img.YOffset(px, y)
				ci := img.COffset(px, y)
				img.Y[yi] = yy
				img.Cb[ci] = cb
				img.Cr[ci] = cr
				img.A[img.AOffset(px, y)] = rgba[p+3]
			}
		}
	}

	return &Atlas{Variant: variant, Image: img}, nil
}

// Glyph returns the sub-image for one character code.
func (a *Atlas) Glyph(code uint8) *image.NYCbCrA {
	x := int(code) * common.FontWidth
	return a.Image.SubImage(image.Rect(x, 0, x+common.FontWidth, common.FontHeight)).(*image.NYCbCrA)
}

// Close drops the pixel planes. It is safe to call more than once.
func (a *Atlas) Close() {
	a.Image = nil
}

// Variants reports which font variants are present in a local folder.
func Variants(folder string) ([]common.FontVariant, error) {
	byName := make(map[string]common.FontVariant)
	for _, v := range common.FontVariants() {
		p, _ := Path("", v)
		byName[p] = v
	}

	found := make(map[common.FontVariant]int64)
	err := godirwalk.Walk(folder, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				if path != folder {
					return godirwalk.SkipThis
				}
				return nil
			}
			v, ok := byName[strings.ToLower(filepath.Base(path))]
			if !ok {
				return nil
			}
			info, err := os.Stat(path)
			if err != nil {
				return nil
			}
			found[v] = info.Size()
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			log.Debug().Err(err).Str("path", path).Msg("skipping unreadable entry")
			return godirwalk.SkipNode
		},
	})
	if err != nil {
		return nil, err
	}

	var variants []common.FontVariant
	for _, v := range common.FontVariants() {
		size, ok := found[v]
		if !ok {
			continue
		}
		if size != FileLength {
			log.Warn().Str("variant", v.String()).Int64("size", size).Msg("font file has the wrong size")
			continue
		}
		variants = append(variants, v)
	}
	return variants, nil
}
