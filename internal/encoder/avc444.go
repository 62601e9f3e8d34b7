package encoder

import (
	"fmt"

	"github.com/wayrdp/wayrdp/internal/rdp"
)

// AVC444Config parameterizes the dual-stream engine.
type AVC444Config struct {
	Width       int
	Height      int
	FPS         int
	MainBitrate int
	AuxBitrate  int
	MaxLevel    Level

	// AuxChangeThreshold is the chroma-difference ratio above which Aux is
	// re-encoded even inside the omission window.
	AuxChangeThreshold float64
	// MaxAuxInterval is the largest distance in frames between two Aux
	// emissions: at most MaxAuxInterval-1 consecutive frames omit Aux.
	MaxAuxInterval int
}

// AVC444Encoder produces dual-stream AVC444 frames through a single H.264
// backend instance. Main and Aux are encoded sequentially through the same
// instance: two independent encoders would keep divergent decoded picture
// buffers, letting Main's motion search reference semantically unrelated
// Aux content and corrupt chroma across streams.
//
// Aux is omitted when the chroma changed less than the configured
// threshold since the last emitted Aux and fewer than MaxAuxInterval-1
// frames have omitted it in a row, so Aux is re-emitted at least every
// MaxAuxInterval frames. An Aux following any omission is forced to an IDR.
// Main is never omitted. The bandwidth savings come from omission, not
// from attempting P-frame Aux: sequential encoding makes the backend's
// scene-change heuristic treat each Aux as a scene cut, so Aux frames are
// I-frames in practice.
type AVC444Encoder struct {
	cfg     AVC444Config
	backend H264Backend

	lastAux       *yuv444
	sinceAux      int
	auxOmitted    bool
	sequence      uint64
	auxEmissions  uint64
	auxOmissions  uint64
}

// NewAVC444Encoder creates the engine, instantiating exactly one backend
// for the surface.
func NewAVC444Encoder(cfg AVC444Config) (*AVC444Encoder, error) {
	if cfg.AuxChangeThreshold <= 0 {
		cfg.AuxChangeThreshold = 0.05
	}
	if cfg.MaxAuxInterval < 1 {
		cfg.MaxAuxInterval = 30
	}
	backend, err := newH264Backend(H264Config{
		Width:   cfg.Width,
		Height:  cfg.Height,
		Bitrate: cfg.MainBitrate,
		MaxFPS:  cfg.FPS,
		Level:   PickLevel(cfg.Width, cfg.Height, cfg.FPS, cfg.MaxLevel),
	})
	if err != nil {
		return nil, err
	}
	return &AVC444Encoder{cfg: cfg, backend: backend}, nil
}

// Encode compresses one BGRx update into an AVC444 frame. forceIDR
// requests an IDR for both subframes (client resync or refresh).
func (e *AVC444Encoder) Encode(update *rdp.BitmapUpdate, forceIDR bool) (*rdp.AVC444Frame, error) {
	planes := convertBGRx444(update.Data, update.Width, update.Height, update.Stride)
	fullRect := []rdp.Rect{{Width: update.Width, Height: update.Height}}

	// Main always goes first and is never omitted.
	if e.cfg.MainBitrate > 0 {
		if err := e.backend.SetBitrate(e.cfg.MainBitrate); err != nil {
			return nil, fmt.Errorf("encoder: set main bitrate: %w", err)
		}
	}
	main, err := e.backend.Encode(planes.mainPicture(), forceIDR)
	if err != nil {
		return nil, fmt.Errorf("encoder: main subframe: %w", err)
	}
	if main == nil {
		return nil, nil // backend is buffering
	}

	e.sequence++
	frame := &rdp.AVC444Frame{
		Main:        main,
		LumaRegions: fullRect,
		Carriage:    rdp.CarriageLumaOnly,
		Sequence:    e.sequence,
	}

	if e.shouldOmitAux(planes, forceIDR) {
		e.sinceAux++
		e.auxOmitted = true
		e.auxOmissions++
		return frame, nil
	}

	// Aux after one or more omissions must be an IDR: the client's aux
	// decoder has not seen the intervening frames.
	auxIDR := forceIDR || e.auxOmitted || e.lastAux == nil
	if e.cfg.AuxBitrate > 0 {
		if err := e.backend.SetBitrate(e.cfg.AuxBitrate); err != nil {
			return nil, fmt.Errorf("encoder: set aux bitrate: %w", err)
		}
	}
	aux, err := e.backend.Encode(planes.auxPicture(), auxIDR)
	if err != nil {
		return nil, fmt.Errorf("encoder: aux subframe: %w", err)
	}

	frame.Aux = aux
	frame.Carriage = rdp.CarriageLumaAndChroma
	frame.ChromaRegions = fullRect
	e.lastAux = planes
	e.sinceAux = 0
	e.auxOmitted = false
	e.auxEmissions++
	return frame, nil
}

func (e *AVC444Encoder) shouldOmitAux(planes *yuv444, forceIDR bool) bool {
	if forceIDR || e.lastAux == nil {
		return false
	}
	if e.sinceAux >= e.cfg.MaxAuxInterval-1 {
		return false
	}
	return chromaDiffRatio(planes, e.lastAux) < e.cfg.AuxChangeThreshold
}

// AuxStats returns (emissions, omissions).
func (e *AVC444Encoder) AuxStats() (emitted, omitted uint64) {
	return e.auxEmissions, e.auxOmissions
}

// Close releases the backend.
func (e *AVC444Encoder) Close() error {
	return e.backend.Close()
}
