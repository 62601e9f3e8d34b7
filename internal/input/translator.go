// Package input maps RDP-side input events onto portal injection calls:
// XT Set 1 scancodes to evdev keycodes, virtual-desktop coordinates to
// per-monitor stream coordinates, buttons and wheel steps to evdev codes.
package input

import (
	"context"
	"sync"

	"github.com/wayrdp/wayrdp/internal/logging"
	"github.com/wayrdp/wayrdp/internal/rdp"
)

var log = logging.L("input")

// Portal axis identifiers for discrete scrolling.
const (
	axisVertical   uint32 = 0
	axisHorizontal uint32 = 1
)

// wheelNotch is the RDP wheel delta of one detent.
const wheelNotch = 120

// Injector is the portal surface the translator drives. Calls are
// asynchronous best-effort injections; failures are logged, not retried.
type Injector interface {
	NotifyKeyboardKeycode(ctx context.Context, keycode int, pressed bool) error
	NotifyKeyboardKeysym(ctx context.Context, keysym int, pressed bool) error
	NotifyPointerMotionAbsolute(ctx context.Context, streamID uint32, x, y float64) error
	NotifyPointerMotion(ctx context.Context, dx, dy float64) error
	NotifyPointerButton(ctx context.Context, button int32, pressed bool) error
	NotifyPointerAxisDiscrete(ctx context.Context, axis uint32, steps int32) error
}

// Monitor describes one output in the virtual desktop, as reported by the
// portal's stream metadata.
type Monitor struct {
	StreamID uint32
	X, Y     int
	Width    int
	Height   int
	Scale    float64
}

// Translator converts protocol input events into portal injections.
type Translator struct {
	injector Injector

	mu       sync.RWMutex
	monitors []Monitor

	syncMu    sync.Mutex
	lockFlags uint32
	haveSync  bool
}

func NewTranslator(injector Injector, monitors []Monitor) *Translator {
	return &Translator{injector: injector, monitors: monitors}
}

// SetMonitors replaces the monitor layout (stream reconfiguration).
func (t *Translator) SetMonitors(monitors []Monitor) {
	t.mu.Lock()
	t.monitors = monitors
	t.mu.Unlock()
}

// Handle dispatches one input event. Injection failures are absorbed:
// input is best-effort on the sub-frame timescale.
func (t *Translator) Handle(ctx context.Context, ev rdp.InputEvent) {
	var err error
	switch e := ev.(type) {
	case rdp.KeyboardEvent:
		err = t.keyboard(ctx, e)
	case rdp.UnicodeEvent:
		err = t.unicode(ctx, e)
	case rdp.SyncEvent:
		err = t.sync(ctx, e)
	case rdp.PointerMoveEvent:
		err = t.pointerAbs(ctx, e)
	case rdp.PointerRelMoveEvent:
		err = t.injector.NotifyPointerMotion(ctx, float64(e.DX), float64(e.DY))
	case rdp.PointerButtonEvent:
		err = t.pointerButton(ctx, e)
	case rdp.PointerWheelEvent:
		err = t.pointerWheel(ctx, e)
	}
	if err != nil {
		log.Debug("Input injection failed", "event", ev, "error", err)
	}
}

func (t *Translator) keyboard(ctx context.Context, e rdp.KeyboardEvent) error {
	keycode, ok := keycodeFor(e.Scancode, e.Extended)
	if !ok {
		log.Debug("No keycode for scancode", "scancode", e.Scancode, "extended", e.Extended)
		return nil
	}
	return t.injector.NotifyKeyboardKeycode(ctx, keycode, e.Pressed)
}

func (t *Translator) unicode(ctx context.Context, e rdp.UnicodeEvent) error {
	return t.injector.NotifyKeyboardKeysym(ctx, keysymForRune(e.CodePoint), e.Pressed)
}

// sync reconciles keyboard lock state. The portal exposes no lock-state
// query, so the first sync only records the client's state; later syncs
// tap the lock keys whose bits changed.
func (t *Translator) sync(ctx context.Context, e rdp.SyncEvent) error {
	t.syncMu.Lock()
	prev, have := t.lockFlags, t.haveSync
	t.lockFlags, t.haveSync = e.LockFlags, true
	t.syncMu.Unlock()

	if !have {
		return nil
	}
	changed := prev ^ e.LockFlags
	for _, lk := range []struct {
		flag    uint32
		keycode int
	}{
		{rdp.SyncCapsLock, keyCapsLock},
		{rdp.SyncNumLock, keyNumLock},
		{rdp.SyncScrollLock, keyScrollLock},
		{rdp.SyncKanaLock, keyKatakana},
	} {
		if changed&lk.flag == 0 {
			continue
		}
		if err := t.injector.NotifyKeyboardKeycode(ctx, lk.keycode, true); err != nil {
			return err
		}
		if err := t.injector.NotifyKeyboardKeycode(ctx, lk.keycode, false); err != nil {
			return err
		}
	}
	return nil
}

// pointerAbs hit-tests the virtual desktop rectangle and forwards the
// position in the owning monitor's stream coordinates, clamping into the
// first monitor's bounds on miss.
func (t *Translator) pointerAbs(ctx context.Context, e rdp.PointerMoveEvent) error {
	mon, lx, ly, ok := t.locate(int(e.X), int(e.Y))
	if !ok {
		return nil // no monitors published yet
	}
	return t.injector.NotifyPointerMotionAbsolute(ctx, mon.StreamID, lx, ly)
}

// locate maps virtual-desktop coordinates to (monitor, local x, local y).
func (t *Translator) locate(x, y int) (Monitor, float64, float64, bool) {
	t.mu.RLock()
	monitors := t.monitors
	t.mu.RUnlock()
	if len(monitors) == 0 {
		return Monitor{}, 0, 0, false
	}

	for _, m := range monitors {
		if x >= m.X && x < m.X+m.Width && y >= m.Y && y < m.Y+m.Height {
			return m, float64(x - m.X), float64(y - m.Y), true
		}
	}

	// Miss: clamp into the first monitor's bounds.
	m := monitors[0]
	lx := clampInt(x-m.X, 0, m.Width-1)
	ly := clampInt(y-m.Y, 0, m.Height-1)
	return m, float64(lx), float64(ly), true
}

func (t *Translator) pointerButton(ctx context.Context, e rdp.PointerButtonEvent) error {
	var code int32
	switch e.Button {
	case rdp.ButtonLeft:
		code = btnLeft
	case rdp.ButtonRight:
		code = btnRight
	case rdp.ButtonMiddle:
		code = btnMiddle
	case rdp.ButtonX1:
		code = btnSide
	case rdp.ButtonX2:
		code = btnExtra
	default:
		return nil
	}
	return t.injector.NotifyPointerButton(ctx, code, e.Pressed)
}

// pointerWheel converts RDP wheel deltas (±120 per detent, positive away
// from the user) to portal axis steps (positive toward the user).
func (t *Translator) pointerWheel(ctx context.Context, e rdp.PointerWheelEvent) error {
	steps := int32(e.Delta) / wheelNotch
	if steps == 0 {
		if e.Delta > 0 {
			steps = 1
		} else if e.Delta < 0 {
			steps = -1
		} else {
			return nil
		}
	}
	axis := axisVertical
	if e.Axis == rdp.AxisHorizontal {
		axis = axisHorizontal
	}
	return t.injector.NotifyPointerAxisDiscrete(ctx, axis, -steps)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
