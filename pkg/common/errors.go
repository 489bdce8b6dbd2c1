package common

import (
	"errors"
	"fmt"
)

// ErrNotThisFormat tells the host to let another handler try the stream.
var ErrNotThisFormat = errors.New("not an MSP-OSD container")

var (
	ErrFileHeaderMismatch = fmt.Errorf("%w: unexpected file header", ErrNotThisFormat)
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported version", ErrNotThisFormat)
)

var (
	ErrEmptyContainer     = errors.New("container has no frame records")
	ErrEndOfStream        = errors.New("end of stream")
	ErrShortPayload       = errors.New("payload shorter than the character grid")
	ErrFontLoad           = errors.New("unable to load font")
	ErrUnknownFontVariant = errors.New("unknown font variant")
	ErrUnsupportedCodec   = errors.New("unsupported codec")
	ErrClosed             = errors.New("already closed")
)
