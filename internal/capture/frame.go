package capture

import (
	"errors"
	"fmt"
	"time"
)

// PixelFormat is the negotiated pixel layout of a captured stream.
type PixelFormat int

const (
	BGRA8888 PixelFormat = iota
	BGRx8888
	RGB16
	RGB15
)

// BytesPerPixel returns the storage size of one pixel.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case RGB16, RGB15:
		return 2
	default:
		return 4
	}
}

func (f PixelFormat) String() string {
	switch f {
	case BGRA8888:
		return "BGRA8888"
	case BGRx8888:
		return "BGRx8888"
	case RGB16:
		return "RGB16"
	case RGB15:
		return "RGB15"
	default:
		return "unknown"
	}
}

// BufferKind describes how frame pixels are carried.
type BufferKind int

const (
	// BufferOwned is a private copy owned by the Frame.
	BufferOwned BufferKind = iota
	// BufferSharedMem is a mapping of the compositor's shared-memory pool.
	BufferSharedMem
	// BufferDMABuf carries a descriptor instead of pixels.
	BufferDMABuf
)

// Frame is one captured picture. Ownership passes to exactly one consumer;
// the frame is dropped after encode or coalesce.
type Frame struct {
	Width  int
	Height int
	// Stride is the hardware-reported row pitch. It is taken from the
	// stream's negotiated buffer layout, never derived from buffer size
	// arithmetic.
	Stride int
	Format PixelFormat
	Kind   BufferKind

	// Data holds pixels for BufferOwned and BufferSharedMem frames.
	Data []byte
	// DMABufFD names the buffer for BufferDMABuf frames; Data is nil.
	DMABufFD int
	// Modifier is the DRM format modifier for DMA-BUF frames.
	Modifier uint64

	Timestamp time.Time
	Sequence  uint64
}

var (
	ErrBadStride = errors.New("capture: stride below row width")
	ErrShortBuf  = errors.New("capture: buffer shorter than stride×height")
)

// Validate checks the frame invariants: stride covers at least one row of
// pixels and the buffer covers stride×height.
func (f *Frame) Validate() error {
	if f.Stride < f.Width*f.Format.BytesPerPixel() {
		return fmt.Errorf("%w: stride=%d width=%d format=%s", ErrBadStride, f.Stride, f.Width, f.Format)
	}
	if f.Kind != BufferDMABuf && len(f.Data) < f.Stride*f.Height {
		return fmt.Errorf("%w: len=%d need=%d", ErrShortBuf, len(f.Data), f.Stride*f.Height)
	}
	return nil
}

// StreamInfo is the negotiated stream geometry published by the capture
// backend on format (re)negotiation.
type StreamInfo struct {
	Width  int
	Height int
	Stride int
	Format PixelFormat
}
