package encoder

import (
	"errors"
	"sync"
)

// YUVPicture is a planar 4:2:0 picture handed to the H.264 backend.
type YUVPicture struct {
	Y, U, V []byte
	StrideY int
	StrideC int
	Width   int
	Height  int
}

// H264Config parameterizes one backend instance.
type H264Config struct {
	Width   int
	Height  int
	Bitrate int
	MaxFPS  int
	Level   Level
}

// H264Backend is a raw H.264 encoder. One instance serves one surface; the
// AVC444 engine feeds Main and Aux pictures through the same instance
// sequentially so both subframe streams share a decoded picture buffer.
type H264Backend interface {
	// Encode compresses one picture. forceIDR requests an IDR frame.
	// A nil bitstream with nil error means the encoder is buffering.
	Encode(pic *YUVPicture, forceIDR bool) ([]byte, error)
	SetBitrate(bps int) error
	Close() error
	Name() string
}

// ErrNoH264Backend is returned when no H.264 backend is linked into the
// build; sessions then serve the bitmap path.
var ErrNoH264Backend = errors.New("encoder: no h264 backend available")

type backendFactory func(cfg H264Config) (H264Backend, error)

var (
	factoriesMu sync.Mutex
	factories   []backendFactory
)

func registerH264Factory(factory backendFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories = append(factories, factory)
}

func newH264Backend(cfg H264Config) (H264Backend, error) {
	factoriesMu.Lock()
	candidates := append([]backendFactory(nil), factories...)
	factoriesMu.Unlock()

	var lastErr error
	for _, factory := range candidates {
		backend, err := factory(cfg)
		if err == nil && backend != nil {
			return backend, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNoH264Backend
}
