// Package capture owns the compositor capture handle on a dedicated OS
// thread and emits raw frames with format and stride metadata.
package capture

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/wayrdp/wayrdp/internal/logging"
)

var log = logging.L("capture")

// iterateTimeout bounds one event-loop cycle so commands are picked up
// promptly between cycles.
const iterateTimeout = 50 * time.Millisecond

type cmdKind int

const (
	cmdCreateStream cmdKind = iota
	cmdDestroyStream
	cmdShutdown
)

type command struct {
	kind      cmdKind
	captureFD int
	nodeID    uint32
	reply     chan error
}

// Driver confines a capture Handle to a dedicated OS thread. All handle
// interaction happens on that thread; other goroutines talk to it only
// through the command channel and receive frames and format updates from
// bounded channels. The Driver itself is therefore safe to share.
type Driver struct {
	cmds    chan command
	frames  chan *Frame
	formats chan StreamInfo
	fatal   chan error
	done    chan struct{}

	frameDrops atomic.Uint64
	sequence   atomic.Uint64
	shutdown   atomic.Bool
}

// NewDriver spawns the capture thread. frameBuffer bounds the frame
// channel; on overflow the newest frame is dropped and counted.
func NewDriver(frameBuffer int) *Driver {
	if frameBuffer < 1 {
		frameBuffer = 1
	}
	d := &Driver{
		cmds:    make(chan command, 4),
		frames:  make(chan *Frame, frameBuffer),
		formats: make(chan StreamInfo, 4),
		fatal:   make(chan error, 1),
		done:    make(chan struct{}),
	}
	go d.thread()
	return d
}

// Frames is the capture output. Closed after shutdown.
func (d *Driver) Frames() <-chan *Frame {
	return d.frames
}

// Formats delivers negotiated stream geometry, first before any frame and
// again on renegotiation.
func (d *Driver) Formats() <-chan StreamInfo {
	return d.formats
}

// Fatal yields at most one unrecoverable capture error (thread panic or
// stream failure). The session treats it as a capture fault.
func (d *Driver) Fatal() <-chan error {
	return d.fatal
}

// FrameDrops returns the number of frames dropped on channel overflow.
func (d *Driver) FrameDrops() uint64 {
	return d.frameDrops.Load()
}

// CreateStream connects the handle using the portal capture descriptor and
// starts capturing the given node.
func (d *Driver) CreateStream(ctx context.Context, captureFD int, nodeID uint32) error {
	return d.roundTrip(ctx, command{kind: cmdCreateStream, captureFD: captureFD, nodeID: nodeID})
}

// DestroyStream stops the active stream, leaving the handle connected.
func (d *Driver) DestroyStream(ctx context.Context) error {
	return d.roundTrip(ctx, command{kind: cmdDestroyStream})
}

// Shutdown stops all streams, deinitializes the handle, and joins the
// capture thread. After Shutdown returns nil, no thread holds the handle.
func (d *Driver) Shutdown(ctx context.Context) error {
	if !d.shutdown.CompareAndSwap(false, true) {
		<-d.done
		return nil
	}
	if err := d.roundTrip(ctx, command{kind: cmdShutdown}); err != nil {
		return err
	}
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) roundTrip(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case d.cmds <- cmd:
	case <-d.done:
		return fmt.Errorf("capture: thread already stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-d.done:
		return fmt.Errorf("capture: thread stopped before reply")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// thread is the capture thread body. The OS thread is locked for the
// lifetime of the handle; a panic anywhere on this thread is converted
// into a fatal session error instead of crashing the process.
func (d *Driver) thread() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(d.done)
	defer close(d.frames)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Capture thread panicked", "panic", r, "stack", string(debug.Stack()))
			d.reportFatal(fmt.Errorf("capture: thread panic: %v", r))
		}
	}()

	var (
		handle Handle
		stream Stream
		info   StreamInfo
		haveFmt bool
	)
	closeAll := func() {
		if stream != nil {
			if err := stream.Close(); err != nil {
				log.Warn("Stream close failed", "error", err)
			}
			stream = nil
		}
		if handle != nil {
			if err := handle.Close(); err != nil {
				log.Warn("Handle close failed", "error", err)
			}
			handle = nil
		}
	}
	defer closeAll()

	// dispatch handles one command; returns false when the thread should
	// exit.
	dispatch := func(cmd command) bool {
		switch cmd.kind {
		case cmdCreateStream:
			cmd.reply <- d.handleCreateStream(&handle, &stream, &info, &haveFmt, cmd)
		case cmdDestroyStream:
			var err error
			if stream != nil {
				err = stream.Close()
				stream = nil
			}
			cmd.reply <- err
		case cmdShutdown:
			closeAll()
			cmd.reply <- nil
			return false
		}
		return true
	}

	for {
		if handle == nil {
			// Nothing to iterate yet; block until a command arrives.
			if !dispatch(<-d.cmds) {
				return
			}
			continue
		}
		select {
		case cmd := <-d.cmds:
			if !dispatch(cmd) {
				return
			}
		default:
			if err := handle.Iterate(iterateTimeout); err != nil {
				log.Error("Capture loop error", "error", err)
				d.reportFatal(fmt.Errorf("capture: event loop: %w", err))
				return
			}
		}
	}
}

func (d *Driver) handleCreateStream(handle *Handle, stream *Stream, info *StreamInfo, haveFmt *bool, cmd command) error {
	if *handle == nil {
		h, err := newHandle()
		if err != nil {
			return err
		}
		if err := h.Connect(cmd.captureFD); err != nil {
			h.Close()
			return fmt.Errorf("capture: connect: %w", err)
		}
		*handle = h
	}
	if *stream != nil {
		(*stream).Close()
		*stream = nil
	}

	cb := StreamCallbacks{
		FormatChanged: func(si StreamInfo) {
			*info = si
			*haveFmt = true
			select {
			case d.formats <- si:
			default:
			}
			log.Info("Stream format negotiated",
				"width", si.Width, "height", si.Height,
				"stride", si.Stride, "format", si.Format.String())
		},
		Process: func(fr *Frame) {
			d.processFrame(fr, *info, *haveFmt)
		},
		StateError: func(err error) {
			d.reportFatal(fmt.Errorf("capture: stream: %w", err))
		},
	}

	st, err := (*handle).CreateStream(cmd.nodeID, cb)
	if err != nil {
		return fmt.Errorf("capture: create stream: %w", err)
	}
	*stream = st
	return nil
}

// processFrame stamps sequence and negotiated stride metadata onto the
// frame and forwards it without blocking the capture loop.
func (d *Driver) processFrame(fr *Frame, info StreamInfo, haveFmt bool) {
	if fr == nil {
		return
	}
	if haveFmt {
		// Stride and format come from negotiation metadata, never from
		// buffer size arithmetic.
		fr.Stride = info.Stride
		fr.Format = info.Format
		fr.Width = info.Width
		fr.Height = info.Height
	}
	fr.Sequence = d.sequence.Add(1)
	if fr.Timestamp.IsZero() {
		fr.Timestamp = time.Now()
	}

	if err := fr.Validate(); err != nil {
		log.Warn("Dropping invalid frame", "error", err)
		return
	}

	select {
	case d.frames <- fr:
	default:
		d.frameDrops.Add(1)
	}
}

func (d *Driver) reportFatal(err error) {
	select {
	case d.fatal <- err:
	default:
	}
}
