package session

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/wayrdp/wayrdp/internal/clipboard"
	"github.com/wayrdp/wayrdp/internal/config"
	"github.com/wayrdp/wayrdp/internal/input"
	"github.com/wayrdp/wayrdp/internal/logging"
	"github.com/wayrdp/wayrdp/internal/mux"
	"github.com/wayrdp/wayrdp/internal/rdp"
	"github.com/wayrdp/wayrdp/internal/workerpool"
)

// nullInjector counts injected keycodes in arrival order.
type nullInjector struct {
	mu       sync.Mutex
	keycodes []int
}

func (n *nullInjector) NotifyKeyboardKeycode(_ context.Context, code int, pressed bool) error {
	if pressed {
		n.mu.Lock()
		n.keycodes = append(n.keycodes, code)
		n.mu.Unlock()
	}
	return nil
}
func (n *nullInjector) NotifyKeyboardKeysym(context.Context, int, bool) error        { return nil }
func (n *nullInjector) NotifyPointerMotionAbsolute(context.Context, uint32, float64, float64) error {
	return nil
}
func (n *nullInjector) NotifyPointerMotion(context.Context, float64, float64) error { return nil }
func (n *nullInjector) NotifyPointerButton(context.Context, int32, bool) error      { return nil }
func (n *nullInjector) NotifyPointerAxisDiscrete(context.Context, uint32, int32) error {
	return nil
}

// nullPortal satisfies clipboard.Portal for sessions that never touch the
// clipboard in a test.
type nullPortal struct{}

func (nullPortal) SetSelection(context.Context, []string) error { return nil }
func (nullPortal) SelectionWrite(context.Context, uint32) (*os.File, error) {
	return nil, os.ErrInvalid
}
func (nullPortal) SelectionWriteDone(context.Context, uint32, bool) error { return nil }
func (nullPortal) SelectionRead(context.Context, string) (*os.File, error) {
	return nil, os.ErrInvalid
}

// newBareSession builds a session around the queues and drain loop only,
// without portal or capture plumbing.
func newBareSession(t *testing.T, injector input.Injector) *Session {
	t.Helper()
	cfg := config.Default()
	s := &Session{
		id:        "test",
		cfg:       cfg,
		log:       logging.L("session-test"),
		inputQ:    mux.NewQueue[rdp.InputEvent](cfg.InputQueueCap),
		controlQ:  mux.NewQueue[mux.ControlItem](cfg.ControlQueueCap),
		clipQ:     mux.NewQueue[clipEvent](cfg.ClipboardQueueCap),
		graphicsQ: mux.NewQueue[rdp.DisplayUpdate](cfg.GraphicsQueueCap),
		metrics:   newMetrics(),
		width:     1920,
		height:    1080,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.translator = input.NewTranslator(injector, nil)
	s.broker = clipboard.NewBroker(clipboard.Config{}, nullPortal{})
	s.injectPool = workerpool.New(1, 2*cfg.InputQueueCap)
	t.Cleanup(s.cancel)
	return s
}

func TestDrainForwardsInputInOrder(t *testing.T) {
	inj := &nullInjector{}
	s := newBareSession(t, inj)

	s.wg.Add(1)
	go s.drainLoop()

	// 20 keystrokes while the graphics queue is saturated.
	for i := 0; i < 4; i++ {
		s.graphicsQ.TryPush(&rdp.AVC444Frame{Sequence: uint64(i)})
	}
	for i := 1; i <= 20; i++ {
		s.Keyboard(rdp.KeyboardEvent{Scancode: uint16(i), Pressed: true})
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		inj.mu.Lock()
		n := len(inj.keycodes)
		inj.mu.Unlock()
		if n == 20 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d/20 keystrokes forwarded", n)
		}
		time.Sleep(time.Millisecond)
	}

	inj.mu.Lock()
	defer inj.mu.Unlock()
	for i, code := range inj.keycodes {
		if code != i+1 {
			t.Fatalf("keystroke %d arrived as keycode %d, want RDP order preserved", i, code)
		}
	}
	if s.metrics.Snapshot().InputDrops != 0 {
		t.Fatal("no input drops expected at human rates")
	}
}

func TestNextUpdateCoalescesFrames(t *testing.T) {
	s := newBareSession(t, &nullInjector{})

	for i := 1; i <= 4; i++ {
		s.graphicsQ.TryPush(&rdp.AVC444Frame{Sequence: uint64(i)})
	}

	up, err := s.NextUpdate(context.Background())
	if err != nil {
		t.Fatalf("NextUpdate: %v", err)
	}
	frame, ok := up.(*rdp.AVC444Frame)
	if !ok || frame.Sequence != 4 {
		t.Fatalf("update = %#v, want newest frame (seq 4)", up)
	}
	snap := s.metrics.Snapshot()
	if snap.FramesCoalesced != 3 {
		t.Fatalf("coalesced = %d, want 3", snap.FramesCoalesced)
	}
}

func TestNextUpdateDoesNotCoalesceAcrossResize(t *testing.T) {
	s := newBareSession(t, &nullInjector{})

	s.graphicsQ.TryPush(&rdp.AVC444Frame{Sequence: 1})
	s.graphicsQ.TryPush(rdp.Resize{Width: 800, Height: 600})
	s.graphicsQ.TryPush(&rdp.AVC444Frame{Sequence: 2})

	up, err := s.NextUpdate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if f, ok := up.(*rdp.AVC444Frame); !ok || f.Sequence != 1 {
		t.Fatalf("first update = %#v, want frame 1 (resize blocks coalescing)", up)
	}

	up, err = s.NextUpdate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := up.(rdp.Resize); !ok {
		t.Fatalf("second update = %#v, want the parked resize", up)
	}

	up, err = s.NextUpdate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if f, ok := up.(*rdp.AVC444Frame); !ok || f.Sequence != 2 {
		t.Fatalf("third update = %#v, want frame 2", up)
	}
}

func TestNextUpdateCancellationSafe(t *testing.T) {
	s := newBareSession(t, &nullInjector{})
	s.graphicsQ.TryPush(&rdp.AVC444Frame{Sequence: 9})

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.NextUpdate(cancelled); err == nil {
		t.Fatal("cancelled NextUpdate must return an error")
	}

	// The frame taken under cancellation must surface on the next call.
	up, err := s.NextUpdate(context.Background())
	if err != nil {
		t.Fatalf("NextUpdate after cancel: %v", err)
	}
	if f, ok := up.(*rdp.AVC444Frame); !ok || f.Sequence != 9 {
		t.Fatalf("update = %#v, want the parked frame", up)
	}
}

func TestNextUpdateBlocksUntilCancelled(t *testing.T) {
	s := newBareSession(t, &nullInjector{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.NextUpdate(ctx); err == nil {
		t.Fatal("empty queue must block until ctx ends")
	}
}

func TestControlQuitStopsDrain(t *testing.T) {
	s := newBareSession(t, &nullInjector{})
	s.wg.Add(1)
	go s.drainLoop()

	s.controlQ.TryPush(mux.ControlItem{Kind: mux.ControlQuit})
	if !waitTimeout(&s.wg, time.Second) {
		t.Fatal("drain loop did not stop on quit")
	}
}

func TestInputQueueDropsBeyondCapacity(t *testing.T) {
	s := newBareSession(t, &nullInjector{})
	// No drain loop running: the queue saturates at capacity.
	for i := 0; i < 40; i++ {
		s.Keyboard(rdp.KeyboardEvent{Scancode: 1, Pressed: true})
	}
	if s.inputQ.Drops() != 8 {
		t.Fatalf("drops = %d, want 8 past the 32-cap queue", s.inputQ.Drops())
	}
}
