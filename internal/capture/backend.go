package capture

import (
	"errors"
	"sync"
	"time"
)

// Handle is the capture library surface. Handles are inherently
// single-threaded: every method, including methods of streams created from
// a handle, must be called on the goroutine (locked to its OS thread) that
// created the handle. The Driver enforces this confinement; nothing else
// may touch a Handle.
type Handle interface {
	// Connect attaches the handle to the compositor using the capture
	// descriptor obtained from the portal.
	Connect(captureFD int) error
	// CreateStream creates a capture stream for the given node and
	// registers its callbacks. Callbacks fire during Iterate.
	CreateStream(nodeID uint32, cb StreamCallbacks) (Stream, error)
	// Iterate runs one event-loop cycle, blocking up to timeout.
	Iterate(timeout time.Duration) error
	// Close deinitializes the handle. All streams must be closed first.
	Close() error
}

// Stream is one capture stream created from a Handle.
type Stream interface {
	Close() error
}

// StreamCallbacks are invoked on the capture thread during Iterate.
type StreamCallbacks struct {
	// FormatChanged reports the negotiated buffer layout. It fires before
	// the first Process call and again on renegotiation.
	FormatChanged func(info StreamInfo)
	// Process hands over the latest dequeued buffer as a Frame.
	Process func(fr *Frame)
	// StateError reports an unrecoverable stream error.
	StateError func(err error)
}

// ErrNoBackend is returned when no capture backend is linked into the
// build (CGO disabled or unsupported platform).
var ErrNoBackend = errors.New("capture: no backend available on this platform")

var (
	backendMu      sync.Mutex
	backendFactory func() (Handle, error)
)

// RegisterBackend installs the platform capture backend. Called from an
// init function of the platform glue; the last registration wins.
func RegisterBackend(factory func() (Handle, error)) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backendFactory = factory
}

func newHandle() (Handle, error) {
	backendMu.Lock()
	factory := backendFactory
	backendMu.Unlock()
	if factory == nil {
		return nil, ErrNoBackend
	}
	return factory()
}
