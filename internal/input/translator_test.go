package input

import (
	"context"
	"testing"

	"github.com/wayrdp/wayrdp/internal/rdp"
)

// recordingInjector captures injection calls for assertions.
type recordingInjector struct {
	keycodes []struct {
		code    int
		pressed bool
	}
	keysyms []int
	moves   []struct {
		stream uint32
		x, y   float64
	}
	relMoves []struct{ dx, dy float64 }
	buttons  []struct {
		code    int32
		pressed bool
	}
	axes []struct {
		axis  uint32
		steps int32
	}
}

func (r *recordingInjector) NotifyKeyboardKeycode(_ context.Context, code int, pressed bool) error {
	r.keycodes = append(r.keycodes, struct {
		code    int
		pressed bool
	}{code, pressed})
	return nil
}

func (r *recordingInjector) NotifyKeyboardKeysym(_ context.Context, keysym int, pressed bool) error {
	r.keysyms = append(r.keysyms, keysym)
	return nil
}

func (r *recordingInjector) NotifyPointerMotionAbsolute(_ context.Context, stream uint32, x, y float64) error {
	r.moves = append(r.moves, struct {
		stream uint32
		x, y   float64
	}{stream, x, y})
	return nil
}

func (r *recordingInjector) NotifyPointerMotion(_ context.Context, dx, dy float64) error {
	r.relMoves = append(r.relMoves, struct{ dx, dy float64 }{dx, dy})
	return nil
}

func (r *recordingInjector) NotifyPointerButton(_ context.Context, code int32, pressed bool) error {
	r.buttons = append(r.buttons, struct {
		code    int32
		pressed bool
	}{code, pressed})
	return nil
}

func (r *recordingInjector) NotifyPointerAxisDiscrete(_ context.Context, axis uint32, steps int32) error {
	r.axes = append(r.axes, struct {
		axis  uint32
		steps int32
	}{axis, steps})
	return nil
}

func dualMonitors() []Monitor {
	return []Monitor{
		{StreamID: 10, X: 0, Y: 0, Width: 1920, Height: 1080},
		{StreamID: 11, X: 1920, Y: 0, Width: 1280, Height: 1024},
	}
}

func TestKeyboardMainBlockIdentity(t *testing.T) {
	rec := &recordingInjector{}
	tr := NewTranslator(rec, nil)
	ctx := context.Background()

	// Esc, 'A' (0x1E), F12 (0x58) translate by identity.
	for _, sc := range []uint16{0x01, 0x1E, 0x58} {
		tr.Handle(ctx, rdp.KeyboardEvent{Scancode: sc, Pressed: true})
	}
	if len(rec.keycodes) != 3 {
		t.Fatalf("keycodes = %d, want 3", len(rec.keycodes))
	}
	for i, sc := range []int{1, 0x1E, 0x58} {
		if rec.keycodes[i].code != sc {
			t.Fatalf("keycode[%d] = %d, want %d", i, rec.keycodes[i].code, sc)
		}
	}
}

func TestKeyboardExtendedKeys(t *testing.T) {
	rec := &recordingInjector{}
	tr := NewTranslator(rec, nil)
	ctx := context.Background()

	tests := []struct {
		scancode uint16
		keycode  int
	}{
		{0x48, 103}, // up arrow
		{0x1D, 97},  // right ctrl
		{0x53, 111}, // delete
		{0x5B, 125}, // left meta
	}
	for _, tt := range tests {
		tr.Handle(ctx, rdp.KeyboardEvent{Scancode: tt.scancode, Extended: true, Pressed: true})
	}
	for i, tt := range tests {
		if rec.keycodes[i].code != tt.keycode {
			t.Fatalf("extended 0x%02X → %d, want %d", tt.scancode, rec.keycodes[i].code, tt.keycode)
		}
	}
}

func TestKeyboardUnknownScancodeDropped(t *testing.T) {
	rec := &recordingInjector{}
	tr := NewTranslator(rec, nil)
	tr.Handle(context.Background(), rdp.KeyboardEvent{Scancode: 0x7F, Pressed: true})
	if len(rec.keycodes) != 0 {
		t.Fatal("unknown scancode must not inject")
	}
}

func TestUnicodeKeysym(t *testing.T) {
	rec := &recordingInjector{}
	tr := NewTranslator(rec, nil)
	ctx := context.Background()

	tr.Handle(ctx, rdp.UnicodeEvent{CodePoint: 'é', Pressed: true})
	tr.Handle(ctx, rdp.UnicodeEvent{CodePoint: '€', Pressed: true})
	if rec.keysyms[0] != 0xE9 {
		t.Fatalf("latin-1 keysym = %#x, want 0xE9", rec.keysyms[0])
	}
	if rec.keysyms[1] != 0x01000000+0x20AC {
		t.Fatalf("unicode keysym = %#x", rec.keysyms[1])
	}
}

func TestSyncTapsOnlyChangedLocks(t *testing.T) {
	rec := &recordingInjector{}
	tr := NewTranslator(rec, nil)
	ctx := context.Background()

	// First sync records state without tapping anything.
	tr.Handle(ctx, rdp.SyncEvent{LockFlags: rdp.SyncNumLock})
	if len(rec.keycodes) != 0 {
		t.Fatal("first sync must not inject")
	}

	// CapsLock turns on; NumLock unchanged: one press+release pair.
	tr.Handle(ctx, rdp.SyncEvent{LockFlags: rdp.SyncNumLock | rdp.SyncCapsLock})
	if len(rec.keycodes) != 2 {
		t.Fatalf("keycodes = %d, want press+release", len(rec.keycodes))
	}
	if rec.keycodes[0].code != keyCapsLock || !rec.keycodes[0].pressed {
		t.Fatalf("first tap = %+v, want capslock press", rec.keycodes[0])
	}
	if rec.keycodes[1].code != keyCapsLock || rec.keycodes[1].pressed {
		t.Fatalf("second tap = %+v, want capslock release", rec.keycodes[1])
	}
}

func TestPointerAbsHitTest(t *testing.T) {
	rec := &recordingInjector{}
	tr := NewTranslator(rec, dualMonitors())
	ctx := context.Background()

	// Point on the second monitor maps to its local coordinates.
	tr.Handle(ctx, rdp.PointerMoveEvent{X: 2000, Y: 500})
	m := rec.moves[0]
	if m.stream != 11 || m.x != 80 || m.y != 500 {
		t.Fatalf("move = %+v, want stream 11 at (80,500)", m)
	}
}

func TestPointerAbsClampOnMiss(t *testing.T) {
	rec := &recordingInjector{}
	tr := NewTranslator(rec, dualMonitors())

	// Below every monitor: clamp into the first.
	tr.Handle(context.Background(), rdp.PointerMoveEvent{X: 100, Y: 4000})
	m := rec.moves[0]
	if m.stream != 10 || m.y != 1079 {
		t.Fatalf("move = %+v, want clamped to stream 10 bottom edge", m)
	}
}

func TestPointerRelPassthrough(t *testing.T) {
	rec := &recordingInjector{}
	tr := NewTranslator(rec, nil)
	tr.Handle(context.Background(), rdp.PointerRelMoveEvent{DX: -3, DY: 7})
	if len(rec.relMoves) != 1 || rec.relMoves[0].dx != -3 || rec.relMoves[0].dy != 7 {
		t.Fatalf("rel moves = %+v", rec.relMoves)
	}
}

func TestButtonMapping(t *testing.T) {
	rec := &recordingInjector{}
	tr := NewTranslator(rec, nil)
	ctx := context.Background()

	tests := []struct {
		button rdp.PointerButton
		code   int32
	}{
		{rdp.ButtonLeft, btnLeft},
		{rdp.ButtonRight, btnRight},
		{rdp.ButtonMiddle, btnMiddle},
		{rdp.ButtonX1, btnSide},
		{rdp.ButtonX2, btnExtra},
	}
	for _, tt := range tests {
		tr.Handle(ctx, rdp.PointerButtonEvent{Button: tt.button, Pressed: true})
	}
	for i, tt := range tests {
		if rec.buttons[i].code != tt.code {
			t.Fatalf("button %v → %#x, want %#x", tt.button, rec.buttons[i].code, tt.code)
		}
	}
}

func TestWheelDirectionAndSteps(t *testing.T) {
	rec := &recordingInjector{}
	tr := NewTranslator(rec, nil)
	ctx := context.Background()

	// One detent away from the user scrolls content up: portal steps are
	// negative.
	tr.Handle(ctx, rdp.PointerWheelEvent{Axis: rdp.AxisVertical, Delta: 120})
	tr.Handle(ctx, rdp.PointerWheelEvent{Axis: rdp.AxisVertical, Delta: -240})
	tr.Handle(ctx, rdp.PointerWheelEvent{Axis: rdp.AxisHorizontal, Delta: 120})

	if rec.axes[0].axis != axisVertical || rec.axes[0].steps != -1 {
		t.Fatalf("axes[0] = %+v", rec.axes[0])
	}
	if rec.axes[1].steps != 2 {
		t.Fatalf("axes[1] = %+v, want 2 steps", rec.axes[1])
	}
	if rec.axes[2].axis != axisHorizontal {
		t.Fatalf("axes[2] = %+v, want horizontal", rec.axes[2])
	}
}
