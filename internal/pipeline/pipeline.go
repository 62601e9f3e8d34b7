// Package pipeline regulates the frame rate of the capture stream, detects
// unchanged frames, and converts captured pixels into protocol-ready
// bitmap updates.
package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/wayrdp/wayrdp/internal/capture"
	"github.com/wayrdp/wayrdp/internal/logging"
	"github.com/wayrdp/wayrdp/internal/rdp"
)

var log = logging.L("pipeline")

// Result is the pipeline's verdict on one candidate frame.
type Result struct {
	Update *rdp.BitmapUpdate
	// Refresh marks a periodic full-frame refresh of unchanged content.
	Refresh   bool
	Timestamp time.Time
	Sequence  uint64
}

// Pipeline chains rate regulation, change detection, and conversion.
type Pipeline struct {
	rate   *FrameRate
	differ *Differ

	admitted atomic.Uint64
	paced    atomic.Uint64
	skipped  atomic.Uint64
}

// Config parameterizes the pipeline.
type Config struct {
	TargetFPS       int
	RefreshInterval time.Duration
}

func New(cfg Config) *Pipeline {
	return &Pipeline{
		rate:   NewFrameRate(cfg.TargetFPS),
		differ: NewDiffer(cfg.RefreshInterval),
	}
}

// Process runs one captured frame through the pipeline. A nil result means
// the frame was paced out or unchanged; the frame's buffer must not be
// used afterwards unless it aliases the returned update.
func (p *Pipeline) Process(fr *capture.Frame) (*Result, error) {
	if !p.rate.Admit() {
		p.paced.Add(1)
		return nil, nil
	}

	if fr.Kind == capture.BufferDMABuf && fr.Data == nil {
		if err := materializeDMABuf(fr); err != nil {
			return nil, err
		}
	}

	encode, refresh := p.differ.ShouldEncode(fr.Data, fr.Width, fr.Height, fr.Stride, fr.Format.BytesPerPixel())
	if !encode {
		p.skipped.Add(1)
		return nil, nil
	}

	update, err := Convert(fr)
	if err != nil {
		return nil, err
	}
	p.admitted.Add(1)
	return &Result{
		Update:    update,
		Refresh:   refresh,
		Timestamp: fr.Timestamp,
		Sequence:  fr.Sequence,
	}, nil
}

// Reset clears change-detection state after a stream reconfiguration.
func (p *Pipeline) Reset() {
	p.differ.Reset()
}

// Stats returns (admitted, paced out, skipped unchanged) frame counts.
func (p *Pipeline) Stats() (admitted, paced, skipped uint64) {
	return p.admitted.Load(), p.paced.Load(), p.skipped.Load()
}
