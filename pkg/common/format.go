package common

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

var MSPOSDMagic = []byte("MSPOSD")

const (
	MSPOSDVersion uint16 = 1

	// Compact layout: 6 byte magic directly followed by the version.
	HeaderLengthCompact = 17
	// Terminated layout: DVR firmware stores the magic as a NUL terminated
	// 7 byte string, shifting every later field by one.
	HeaderLengthTerminated = 18

	FrameHeaderLength = 8
)

// Compiled grid and glyph geometry of the HD OSD.
const (
	GridWidth  = 60
	GridHeight = 22

	FontWidth         = 24
	FontHeight        = 36
	FontBytesPerPixel = 4
	FontGlyphCount    = 256

	OverlayWidth  = 1440
	OverlayHeight = 810

	CanvasWidth  = 1440
	CanvasHeight = 792
)

// Records always carry the compiled grid, whatever the header declares.
const (
	PayloadLength = GridWidth * GridHeight * 2
	RecordLength  = FrameHeaderLength + PayloadLength
)

// FourCC of the elementary stream carrying raw OSD records.
const CodecFourCC = "MSPO"

type FontVariant uint8

const (
	FontVariantGeneric FontVariant = iota
	FontVariantBetaflight
	FontVariantINAV
	FontVariantArdupilot
	FontVariantKissUltra
	FontVariantQuicksilver
	fontVariantCount
)

var fontVariantSuffix = [fontVariantCount]string{
	FontVariantGeneric:     "",
	FontVariantBetaflight:  "_bf",
	FontVariantINAV:        "_inav",
	FontVariantArdupilot:   "_ardu",
	FontVariantKissUltra:   "_ultra",
	FontVariantQuicksilver: "_quic",
}

var fontVariantName = [fontVariantCount]string{
	FontVariantGeneric:     "generic",
	FontVariantBetaflight:  "betaflight",
	FontVariantINAV:        "inav",
	FontVariantArdupilot:   "ardupilot",
	FontVariantKissUltra:   "kiss-ultra",
	FontVariantQuicksilver: "quicksilver",
}

// FontVariants lists every known variant in selector order.
func FontVariants() []FontVariant {
	variants := make([]FontVariant, 0, fontVariantCount)
	for v := FontVariant(0); v < fontVariantCount; v++ {
		variants = append(variants, v)
	}
	return variants
}

func (v FontVariant) Valid() bool {
	return v < fontVariantCount
}

// Suffix returns the font file name suffix for the variant, e.g. "_bf".
func (v FontVariant) Suffix() (string, error) {
	if !v.Valid() {
		return "", fmt.Errorf("%w: %d", ErrUnknownFontVariant, uint8(v))
	}
	return fontVariantSuffix[v], nil
}

func (v FontVariant) String() string {
	if !v.Valid() {
		return fmt.Sprintf("variant(%d)", uint8(v))
	}
	return fontVariantName[v]
}

// ParseFontVariant accepts a variant name ("betaflight") or file suffix ("bf").
func ParseFontVariant(s string) (FontVariant, error) {
	for v := FontVariant(0); v < fontVariantCount; v++ {
		if s == fontVariantName[v] || (s != "" && "_"+s == fontVariantSuffix[v]) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFontVariant, s)
}

// GridConfig describes how the recorder laid out the OSD.
type GridConfig struct {
	CharWidth   uint8
	CharHeight  uint8
	FontWidth   uint8
	FontHeight  uint8
	XOffset     uint16
	YOffset     uint16
	FontVariant FontVariant
}

// DefaultGridConfig returns the geometry this module is compiled for.
func DefaultGridConfig() GridConfig {
	return GridConfig{
		CharWidth:  GridWidth,
		CharHeight: GridHeight,
		FontWidth:  FontWidth,
		FontHeight: FontHeight,
	}
}

// Mismatches lists the fields that differ from the compiled geometry.
func (g GridConfig) Mismatches() []string {
	var fields []string
	if g.CharWidth != GridWidth {
		fields = append(fields, "char_width")
	}
	if g.CharHeight != GridHeight {
		fields = append(fields, "char_height")
	}
	if g.FontWidth != FontWidth {
		fields = append(fields, "font_width")
	}
	if g.FontHeight != FontHeight {
		fields = append(fields, "font_height")
	}
	if g.XOffset != 0 {
		fields = append(fields, "x_offset")
	}
	if g.YOffset != 0 {
		fields = append(fields, "y_offset")
	}
	if !g.FontVariant.Valid() {
		fields = append(fields, "font_variant")
	}
	return fields
}

type Header struct {
	Magic   [6]byte
	Version uint16
	Config  GridConfig

	// Size is the on-disk header length, HeaderLengthCompact or
	// HeaderLengthTerminated.
	Size int64
}

// NewHeader returns a version 1 header in the compact layout.
func NewHeader(cfg GridConfig) Header {
	h := Header{Version: MSPOSDVersion, Config: cfg, Size: HeaderLengthCompact}
	copy(h.Magic[:], MSPOSDMagic)
	return h
}

func (h Header) Length() int64 {
	if h.Size == HeaderLengthTerminated {
		return HeaderLengthTerminated
	}
	return HeaderLengthCompact
}

// RecordOffset is the byte position of the record with the given ordinal.
func (h Header) RecordOffset(ordinal int) int64 {
	return h.Length() + RecordLength*int64(ordinal)
}

// EncodeHeader serializes the header field by field in the layout chosen by
// h.Size.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, h.Length())
	off := copy(buf, h.Magic[:])
	if h.Length() == HeaderLengthTerminated {
		buf[off] = 0
		off++
	}

	binary.LittleEndian.PutUint16(buf[off:], h.Version)
	off += 2
	buf[off] = h.Config.CharWidth
	buf[off+1] = h.Config.CharHeight
	buf[off+2] = h.Config.FontWidth
	buf[off+3] = h.Config.FontHeight
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], h.Config.XOffset)
	binary.LittleEndian.PutUint16(buf[off+2:], h.Config.YOffset)
	off += 4
	buf[off] = uint8(h.Config.FontVariant)

	return buf
}

// DecodeHeader parses a header from the first bytes of a container. It needs
// HeaderLengthTerminated bytes to tell the layouts apart, or exactly
// HeaderLengthCompact bytes for a compact header.
func DecodeHeader(b []byte) (*Header, error) {
	if len(b) < HeaderLengthCompact {
		return nil, fmt.Errorf("%w: header needs %d bytes, got %d", ErrFileHeaderMismatch, HeaderLengthCompact, len(b))
	}
	if !bytes.Equal(b[:len(MSPOSDMagic)], MSPOSDMagic) {
		return nil, ErrFileHeaderMismatch
	}

	h := &Header{Size: HeaderLengthCompact}
	copy(h.Magic[:], b[:len(MSPOSDMagic)])

	off := len(MSPOSDMagic)
	if len(b) >= HeaderLengthTerminated && b[off] == 0 &&
		binary.LittleEndian.Uint16(b[off+1:]) == MSPOSDVersion {
		h.Size = HeaderLengthTerminated
		off++
	}

	h.Version = binary.LittleEndian.Uint16(b[off:])
	if h.Version != MSPOSDVersion {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrUnsupportedVersion, MSPOSDVersion, h.Version)
	}
	off += 2

	h.Config.CharWidth = b[off]
	h.Config.CharHeight = b[off+1]
	h.Config.FontWidth = b[off+2]
	h.Config.FontHeight = b[off+3]
	off += 4
	h.Config.XOffset = binary.LittleEndian.Uint16(b[off:])
	h.Config.YOffset = binary.LittleEndian.Uint16(b[off+2:])
	off += 4
	h.Config.FontVariant = FontVariant(b[off])

	return h, nil
}

// FrameHeader precedes every record's character grid.
type FrameHeader struct {
	FrameCounter uint32
	Size         uint32
}

func EncodeFrameHeader(fh FrameHeader) []byte {
	buf := make([]byte, FrameHeaderLength)
	binary.LittleEndian.PutUint32(buf[0:], fh.FrameCounter)
	binary.LittleEndian.PutUint32(buf[4:], fh.Size)
	return buf
}

func DecodeFrameHeader(b []byte) (FrameHeader, error) {
	if len(b) < FrameHeaderLength {
		return FrameHeader{}, fmt.Errorf("%w: frame header needs %d bytes, got %d", ErrShortPayload, FrameHeaderLength, len(b))
	}
	return FrameHeader{
		FrameCounter: binary.LittleEndian.Uint32(b[0:]),
		Size:         binary.LittleEndian.Uint32(b[4:]),
	}, nil
}
