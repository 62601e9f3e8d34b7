// Package encoder turns converted frames into protocol display updates:
// dual-stream AVC444 H.264 when a backend is available, single bitmap
// updates otherwise.
package encoder

import (
	"errors"
	"fmt"
	"time"

	"github.com/wayrdp/wayrdp/internal/logging"
	"github.com/wayrdp/wayrdp/internal/rdp"
)

var log = logging.L("encoder")

// ErrFatal is returned after three consecutive per-frame encode failures;
// the session treats it as an encoder fault and tears down.
var ErrFatal = errors.New("encoder: repeated encode failures")

const maxConsecutiveFailures = 3

// Config parameterizes the encoder for one surface.
type Config struct {
	Width       int
	Height      int
	FPS         int
	MainBitrate int
	AuxBitrate  int
	MaxLevel    Level

	AuxChangeThreshold float64
	MaxAuxInterval     int

	// ForceBitmap skips H.264 entirely (clients without AVC support).
	ForceBitmap bool
}

// Encoder produces display updates for one surface. At most one AVC444
// engine (and therefore one H.264 backend instance) exists per surface.
type Encoder struct {
	avc      *AVC444Encoder
	failures int
}

// New creates the encoder. H.264 initialization failure is not fatal: the
// encoder falls back to the bitmap path.
func New(cfg Config) *Encoder {
	e := &Encoder{}
	if cfg.ForceBitmap {
		log.Info("Bitmap path forced by configuration")
		return e
	}

	avc, err := NewAVC444Encoder(AVC444Config{
		Width:              cfg.Width,
		Height:             cfg.Height,
		FPS:                cfg.FPS,
		MainBitrate:        cfg.MainBitrate,
		AuxBitrate:         cfg.AuxBitrate,
		MaxLevel:           cfg.MaxLevel,
		AuxChangeThreshold: cfg.AuxChangeThreshold,
		MaxAuxInterval:     cfg.MaxAuxInterval,
	})
	if err != nil {
		log.Warn("H.264 unavailable, falling back to bitmap path", "error", err)
		return e
	}
	log.Info("AVC444 encoder ready",
		"backend", avc.backend.Name(),
		"level", int(PickLevel(cfg.Width, cfg.Height, cfg.FPS, cfg.MaxLevel)))
	e.avc = avc
	return e
}

// UsingH264 reports whether the AVC444 path is active.
func (e *Encoder) UsingH264() bool {
	return e.avc != nil
}

// Encode turns one converted frame into a display update. refresh marks a
// periodic full-frame refresh (forces an IDR on the H.264 path). A nil
// update with nil error means the frame was dropped (backend buffering or
// a tolerated transient failure).
func (e *Encoder) Encode(update *rdp.BitmapUpdate, refresh bool, ts time.Time, seq uint64) (rdp.DisplayUpdate, error) {
	if e.avc == nil {
		return update, nil
	}

	frame, err := e.avc.Encode(update, refresh)
	if err != nil {
		e.failures++
		if e.failures >= maxConsecutiveFailures {
			return nil, fmt.Errorf("%w: %v", ErrFatal, err)
		}
		log.Warn("Dropping frame after encode failure", "error", err, "consecutive", e.failures)
		return nil, nil
	}
	e.failures = 0
	if frame == nil {
		return nil, nil
	}
	frame.Timestamp = ts
	frame.Sequence = seq
	return frame, nil
}

// AuxStats returns (aux emissions, aux omissions); zero on the bitmap path.
func (e *Encoder) AuxStats() (emitted, omitted uint64) {
	if e.avc == nil {
		return 0, 0
	}
	return e.avc.AuxStats()
}

// Close releases backend resources.
func (e *Encoder) Close() error {
	if e.avc == nil {
		return nil
	}
	return e.avc.Close()
}
