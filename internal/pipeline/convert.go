package pipeline

import (
	"fmt"

	"github.com/wayrdp/wayrdp/internal/capture"
	"github.com/wayrdp/wayrdp/internal/rdp"
)

// Convert maps a captured frame to a pixel layout the protocol engine
// accepts. 32-bit sources pass through zero-copy (BGRA and BGRx share the
// BgrX32 layout; the alpha byte is ignored as padding). 16-bit sources are
// widened into a fresh row-aligned buffer.
func Convert(fr *capture.Frame) (*rdp.BitmapUpdate, error) {
	switch fr.Format {
	case capture.BGRA8888, capture.BGRx8888:
		return &rdp.BitmapUpdate{
			Width:  fr.Width,
			Height: fr.Height,
			Stride: fr.Stride,
			Format: rdp.PixelFormatBgrX32,
			Data:   fr.Data,
		}, nil
	case capture.RGB16:
		return widen(fr, widen565), nil
	case capture.RGB15:
		return widen(fr, widen555), nil
	default:
		return nil, fmt.Errorf("pipeline: unsupported pixel format %v", fr.Format)
	}
}

// widen expands a 16-bit-per-pixel frame to XBgr32 rows.
func widen(fr *capture.Frame, expand func(uint16) (r, g, b byte)) *rdp.BitmapUpdate {
	dstStride := fr.Width * 4
	dst := make([]byte, dstStride*fr.Height)
	for y := 0; y < fr.Height; y++ {
		src := fr.Data[y*fr.Stride:]
		out := dst[y*dstStride:]
		for x := 0; x < fr.Width; x++ {
			v := uint16(src[2*x]) | uint16(src[2*x+1])<<8
			r, g, b := expand(v)
			out[4*x+0] = r
			out[4*x+1] = g
			out[4*x+2] = b
			out[4*x+3] = 0xFF
		}
	}
	return &rdp.BitmapUpdate{
		Width:  fr.Width,
		Height: fr.Height,
		Stride: dstStride,
		Format: rdp.PixelFormatXBgr32,
		Data:   dst,
	}
}

// widen565 expands RGB565, replicating high bits into the low bits so full
// white stays full white.
func widen565(v uint16) (r, g, b byte) {
	r5 := byte(v >> 11 & 0x1F)
	g6 := byte(v >> 5 & 0x3F)
	b5 := byte(v & 0x1F)
	return r5<<3 | r5>>2, g6<<2 | g6>>4, b5<<3 | b5>>2
}

// widen555 expands RGB555 (the top bit is unused).
func widen555(v uint16) (r, g, b byte) {
	r5 := byte(v >> 10 & 0x1F)
	g5 := byte(v >> 5 & 0x1F)
	b5 := byte(v & 0x1F)
	return r5<<3 | r5>>2, g5<<3 | g5>>2, b5<<3 | b5>>2
}
