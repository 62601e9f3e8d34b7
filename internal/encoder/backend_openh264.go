//go:build openh264

package encoder

import (
	"fmt"
	"sync"

	openh264 "github.com/y9o/go-openh264"
)

// openh264Backend wraps the Cisco OpenH264 encoder. Built with the
// openh264 tag; the shared library is loaded at runtime.
type openh264Backend struct {
	mu  sync.Mutex
	enc *openh264.Encoder
	cfg H264Config
}

func init() {
	registerH264Factory(newOpenH264Backend)
}

func newOpenH264Backend(cfg H264Config) (H264Backend, error) {
	enc, err := openh264.NewEncoder(openh264.EncoderOptions{
		Width:          cfg.Width,
		Height:         cfg.Height,
		TargetBitrate:  cfg.Bitrate,
		MaxFrameRate:   float32(cfg.MaxFPS),
		UsageType:      openh264.ScreenContentRealTime,
		RateControl:    openh264.RCBitrateMode,
		EnableFrameSkip: false,
	})
	if err != nil {
		return nil, fmt.Errorf("openh264: create encoder: %w", err)
	}
	return &openh264Backend{enc: enc, cfg: cfg}, nil
}

func (b *openh264Backend) Encode(pic *YUVPicture, forceIDR bool) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if forceIDR {
		if err := b.enc.ForceIntraFrame(); err != nil {
			return nil, err
		}
	}
	return b.enc.EncodeYUV420(pic.Y, pic.U, pic.V, pic.StrideY, pic.StrideC)
}

func (b *openh264Backend) SetBitrate(bps int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bps == b.cfg.Bitrate {
		return nil
	}
	b.cfg.Bitrate = bps
	return b.enc.SetTargetBitrate(bps)
}

func (b *openh264Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enc == nil {
		return nil
	}
	err := b.enc.Close()
	b.enc = nil
	return err
}

func (b *openh264Backend) Name() string {
	return "openh264"
}
