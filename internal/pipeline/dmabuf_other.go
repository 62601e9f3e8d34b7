//go:build !linux

package pipeline

import (
	"errors"

	"github.com/wayrdp/wayrdp/internal/capture"
)

func materializeDMABuf(fr *capture.Frame) error {
	return errors.New("pipeline: DMA-BUF frames unsupported on this platform")
}
