// Package session wires the capture driver, frame pipeline, encoder,
// input translator, clipboard broker, and priority multiplexer into one
// RDP session, and implements the contracts the protocol engine consumes.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wayrdp/wayrdp/internal/capture"
	"github.com/wayrdp/wayrdp/internal/clipboard"
	"github.com/wayrdp/wayrdp/internal/config"
	"github.com/wayrdp/wayrdp/internal/encoder"
	"github.com/wayrdp/wayrdp/internal/input"
	"github.com/wayrdp/wayrdp/internal/logging"
	"github.com/wayrdp/wayrdp/internal/mux"
	"github.com/wayrdp/wayrdp/internal/pipeline"
	"github.com/wayrdp/wayrdp/internal/portal"
	"github.com/wayrdp/wayrdp/internal/rdp"
	"github.com/wayrdp/wayrdp/internal/workerpool"
)

// FaultKind categorizes session-fatal errors for exit accounting.
type FaultKind int

const (
	FaultNone FaultKind = iota
	FaultPortal
	FaultCapture
	FaultEncoder
	FaultProtocol
)

// emptyCycleYield is the pause after a drain cycle that moved nothing.
const emptyCycleYield = 100 * time.Microsecond

// Session is one connected client's runtime.
type Session struct {
	id  string
	cfg *config.Config
	log *slog.Logger

	portalConn    *portal.Conn
	portalSession *portal.Session
	driver        *capture.Driver
	pipe          *pipeline.Pipeline
	enc           *encoder.Encoder
	translator    *input.Translator
	broker        *clipboard.Broker
	// injectPool serializes portal injections off the drain loop: one
	// worker preserves RDP arrival order while D-Bus round trips never
	// stall the drain cycle.
	injectPool *workerpool.Pool

	inputQ    *mux.Queue[rdp.InputEvent]
	controlQ  *mux.Queue[mux.ControlItem]
	clipQ     *mux.Queue[clipEvent]
	graphicsQ *mux.Queue[rdp.DisplayUpdate]

	// pendingUpdate holds an update popped from the graphics queue that
	// could not be returned (cancellation, or displaced by coalescing).
	// Guarded by pendingMu; only NextUpdate touches it.
	pendingMu     sync.Mutex
	pendingUpdate rdp.DisplayUpdate
	pendingCoal   int

	refreshWanted bool // consumed by the capture loop; set via control queue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	fault  FaultKind
	err    error
	closed bool

	metrics *Metrics

	width, height int
}

// New builds and starts a session: portal handshake, capture thread,
// pipeline goroutines, and the drain loop.
func New(ctx context.Context, cfg *config.Config) (*Session, error) {
	id := uuid.NewString()[:8]
	s := &Session{
		id:        id,
		cfg:       cfg,
		log:       logging.WithSession(logging.L("session"), id),
		inputQ:    mux.NewQueue[rdp.InputEvent](cfg.InputQueueCap),
		controlQ:  mux.NewQueue[mux.ControlItem](cfg.ControlQueueCap),
		clipQ:     mux.NewQueue[clipEvent](cfg.ClipboardQueueCap),
		graphicsQ: mux.NewQueue[rdp.DisplayUpdate](cfg.GraphicsQueueCap),
		metrics:   newMetrics(),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	portalTimeout := time.Duration(cfg.PortalTimeoutMS) * time.Millisecond
	setupCtx, cancelSetup := context.WithTimeout(s.ctx, 3*portalTimeout)
	defer cancelSetup()

	conn, err := portal.Connect(setupCtx, portalTimeout)
	if err != nil {
		s.cancel()
		return nil, err
	}
	s.portalConn = conn

	ps, err := conn.CreateSession(setupCtx)
	if err != nil {
		conn.Close()
		s.cancel()
		return nil, err
	}
	s.portalSession = ps

	primary := ps.Streams[0]
	s.width, s.height = primary.Width, primary.Height
	if s.width == 0 || s.height == 0 {
		// Some backends omit geometry; the capture format callback
		// publishes the real size before the first frame.
		s.width, s.height = 1920, 1080
	}

	s.translator = input.NewTranslator(ps, monitorsFromStreams(ps.Streams))
	s.injectPool = workerpool.New(1, 2*cfg.InputQueueCap)
	s.broker = clipboard.NewBroker(clipboard.Config{
		LoopWindow:  time.Duration(cfg.ClipboardLoopWindowMS) * time.Millisecond,
		DedupWindow: time.Duration(cfg.ClipboardDedupWindowMS) * time.Millisecond,
		Timeout:     time.Duration(cfg.ClipboardTimeoutMS) * time.Millisecond,
	}, ps)

	s.pipe = pipeline.New(pipeline.Config{
		TargetFPS:       cfg.TargetFPS,
		RefreshInterval: time.Duration(cfg.RefreshIntervalMS) * time.Millisecond,
	})

	maxLevel, err := encoder.ParseLevel(cfg.MaxH264Level)
	if err != nil {
		s.log.Warn("Ignoring invalid max_h264_level", "value", cfg.MaxH264Level)
		maxLevel = encoder.LevelAuto
	}
	s.enc = encoder.New(encoder.Config{
		Width:              s.width,
		Height:             s.height,
		FPS:                cfg.TargetFPS,
		MainBitrate:        cfg.MainBitrate,
		AuxBitrate:         cfg.EffectiveAuxBitrate(),
		MaxLevel:           maxLevel,
		AuxChangeThreshold: cfg.AuxChangeThreshold,
		MaxAuxInterval:     cfg.MaxAuxInterval,
		ForceBitmap:        cfg.ForceBitmap,
	})

	s.driver = capture.NewDriver(cfg.GraphicsQueueCap)
	if err := s.driver.CreateStream(setupCtx, ps.PipeWireFD, primary.NodeID); err != nil {
		if shutdownErr := s.driver.Shutdown(setupCtx); shutdownErr != nil {
			s.log.Warn("Capture thread shutdown failed", "error", shutdownErr)
		}
		s.teardownPortal()
		s.cancel()
		return nil, err
	}

	s.wg.Add(3)
	go s.captureLoop()
	go s.portalClipboardLoop()
	go s.drainLoop()

	if cfg.ClipboardPollFallback {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.broker.RunOwnerPoll(s.ctx)
		}()
	}

	s.log.Info("Session started",
		"width", s.width, "height", s.height,
		"streams", len(ps.Streams), "h264", s.enc.UsingH264())
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Metrics returns the session's counters.
func (s *Session) Metrics() *Metrics {
	return s.metrics
}

// Fault returns the terminal fault recorded for the session, if any.
func (s *Session) Fault() (FaultKind, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fault, s.err
}

// fail records the first fatal fault and begins teardown.
func (s *Session) fail(kind FaultKind, err error) {
	s.mu.Lock()
	if s.fault == FaultNone {
		s.fault = kind
		s.err = err
	}
	s.mu.Unlock()
	s.log.Error("Session fault", "kind", kind, "error", err)
	s.cancel()
}

// captureLoop pulls raw frames from the capture thread, runs them through
// the pipeline and encoder, and queues the result for delivery.
func (s *Session) captureLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return

		case err := <-s.driver.Fatal():
			s.fail(FaultCapture, err)
			return

		case info, ok := <-s.driver.Formats():
			if !ok {
				continue
			}
			s.mu.Lock()
			w, h := s.width, s.height
			s.mu.Unlock()
			if info.Width != w || info.Height != h {
				s.controlQ.TryPush(mux.ControlItem{
					Kind:  mux.ControlMonitorsChanged,
					Width: info.Width, Height: info.Height,
				})
			}

		case fr, ok := <-s.driver.Frames():
			if !ok {
				return
			}
			s.metrics.recordCapture()
			s.processFrame(fr)
		}
	}
}

func (s *Session) processFrame(fr *capture.Frame) {
	res, err := s.pipe.Process(fr)
	if err != nil {
		s.log.Warn("Frame rejected by pipeline", "error", err)
		return
	}
	if res == nil {
		return
	}

	refresh := res.Refresh
	s.mu.Lock()
	if s.refreshWanted {
		s.refreshWanted = false
		refresh = true
	}
	s.mu.Unlock()

	t0 := time.Now()
	update, err := s.enc.Encode(res.Update, refresh, res.Timestamp, res.Sequence)
	if err != nil {
		if errors.Is(err, encoder.ErrFatal) {
			s.fail(FaultEncoder, err)
			return
		}
		s.log.Warn("Encode failed", "error", err)
		return
	}
	if update == nil {
		return
	}
	s.metrics.recordEncode(time.Since(t0))

	if s.graphicsQ.TryPush(update) {
		s.metrics.recordQueued()
	}
	s.syncDropCounters()
}

// portalClipboardLoop feeds portal clipboard signals into the clipboard
// queue so the drain loop remains the broker's single driver.
func (s *Session) portalClipboardLoop() {
	defer s.wg.Done()

	events, err := s.portalSession.ClipboardSignals(s.ctx, s.cfg.ClipboardQueueCap)
	if err != nil {
		s.log.Warn("Clipboard signals unavailable", "error", err)
		return
	}
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case portal.SelectionTransfer:
				s.clipQ.TryPush(clipEvent{kind: clipPortalTransfer, mime: e.MimeType, serial: e.Serial})
			case portal.SelectionOwnerChanged:
				s.clipQ.TryPush(clipEvent{kind: clipPortalOwner, mimes: e.MimeTypes, isOwner: e.SessionIsOwner})
			}
			s.syncDropCounters()
		}
	}
}

// drainLoop empties the queues in priority order: all pending input, then
// one control item, then one clipboard item per cycle. Graphics delivery
// is pulled by the engine through NextUpdate. An empty cycle yields
// briefly.
func (s *Session) drainLoop() {
	defer s.wg.Done()
	for {
		if s.ctx.Err() != nil {
			return
		}
		progress := false

		for {
			ev, ok := s.inputQ.TryPop()
			if !ok {
				break
			}
			progress = true
			if !s.injectPool.Submit(func() { s.translator.Handle(s.ctx, ev) }) {
				// Injection backlog: input is best-effort, drop.
				s.log.Debug("Injection pool saturated, dropping input event")
			}
		}

		if item, ok := s.controlQ.TryPop(); ok {
			progress = true
			if quit := s.handleControl(item); quit {
				return
			}
		}

		if ev, ok := s.clipQ.TryPop(); ok {
			progress = true
			s.dispatchClipboard(ev)
		}

		if !progress {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(emptyCycleYield):
			}
		}
	}
}

func (s *Session) handleControl(item mux.ControlItem) (quit bool) {
	switch item.Kind {
	case mux.ControlQuit:
		s.cancel()
		return true

	case mux.ControlRefresh:
		s.mu.Lock()
		s.refreshWanted = true
		s.mu.Unlock()

	case mux.ControlMonitorsChanged:
		s.log.Info("Surface reconfigured", "width", item.Width, "height", item.Height)
		s.mu.Lock()
		s.width, s.height = item.Width, item.Height
		s.refreshWanted = true
		s.mu.Unlock()
		s.pipe.Reset()
		s.translator.SetMonitors(monitorsFromStreams(s.portalSession.Streams))
		s.graphicsQ.TryPush(rdp.Resize{Width: item.Width, Height: item.Height})
	}
	return false
}

// teardownPortal closes the portal session and connection.
func (s *Session) teardownPortal() {
	if s.portalSession != nil {
		if err := s.portalSession.Close(); err != nil {
			s.log.Warn("Portal session close failed", "error", err)
		}
		s.portalSession = nil
	}
	if s.portalConn != nil {
		s.portalConn.Close()
		s.portalConn = nil
	}
}

// Close tears the session down in order: drain loop, capture thread,
// portal session. Each step is bounded by the shutdown timeout and forced
// afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	timeout := time.Duration(s.cfg.ShutdownTimeoutMS) * time.Millisecond

	// Stop the drain loop and pipeline goroutines.
	s.controlQ.TryPush(mux.ControlItem{Kind: mux.ControlQuit})
	s.cancel()
	waitTimeout(&s.wg, timeout)

	// Join the capture thread so nothing holds the capture handle.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	if err := s.driver.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("Capture shutdown timed out", "error", err)
	}
	cancel()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), timeout)
	s.injectPool.Drain(drainCtx)
	cancelDrain()

	s.broker.Shutdown()
	s.enc.Close()
	s.teardownPortal()

	s.inputQ.Close()
	s.controlQ.Close()
	s.clipQ.Close()
	s.graphicsQ.Close()

	snap := s.metrics.Snapshot()
	s.log.Info("Session stopped",
		"captured", snap.FramesCaptured,
		"delivered", snap.FramesDelivered,
		"coalesced", snap.FramesCoalesced,
		"inputEvents", snap.InputEvents,
		"uptime", snap.Uptime.Round(time.Second))
}

func (s *Session) syncDropCounters() {
	s.metrics.setQueueDrops(
		s.inputQ.Drops(), s.controlQ.Drops(), s.clipQ.Drops(), s.graphicsQ.Drops())
}

func monitorsFromStreams(streams []portal.Stream) []input.Monitor {
	monitors := make([]input.Monitor, 0, len(streams))
	for _, st := range streams {
		monitors = append(monitors, input.Monitor{
			StreamID: st.NodeID,
			X:        st.X,
			Y:        st.Y,
			Width:    st.Width,
			Height:   st.Height,
			Scale:    1.0,
		})
	}
	return monitors
}

// waitTimeout waits for wg up to d.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
