//go:build linux

package pipeline

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/wayrdp/wayrdp/internal/capture"
)

// materializeDMABuf maps a DMA-BUF frame and copies its pixels into an
// owned buffer so downstream conversion and encoding can read them. The
// mapping is released before returning; the descriptor stays owned by the
// capture stream.
func materializeDMABuf(fr *capture.Frame) error {
	size := fr.Stride * fr.Height
	mem, err := unix.Mmap(fr.DMABufFD, 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("pipeline: mmap dmabuf: %w", err)
	}
	defer unix.Munmap(mem)

	fr.Data = make([]byte, size)
	copy(fr.Data, mem)
	fr.Kind = capture.BufferOwned
	return nil
}
