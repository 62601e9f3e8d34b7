package portal

import (
	"context"

	"github.com/godbus/dbus/v5"
)

// Keyboard key state values on the remote-desktop interface.
const (
	keyStateReleased = uint32(0)
	keyStatePressed  = uint32(1)
)

func keyState(pressed bool) uint32 {
	if pressed {
		return keyStatePressed
	}
	return keyStateReleased
}

// NotifyKeyboardKeycode injects a physical key event by evdev keycode.
func (s *Session) NotifyKeyboardKeycode(ctx context.Context, keycode int, pressed bool) error {
	return s.conn.object().CallWithContext(ctx,
		remoteDesktopIface+".NotifyKeyboardKeycode", 0,
		s.handle, map[string]dbus.Variant{}, int32(keycode), keyState(pressed),
	).Err
}

// NotifyKeyboardKeysym injects a key event by X11 keysym.
func (s *Session) NotifyKeyboardKeysym(ctx context.Context, keysym int, pressed bool) error {
	return s.conn.object().CallWithContext(ctx,
		remoteDesktopIface+".NotifyKeyboardKeysym", 0,
		s.handle, map[string]dbus.Variant{}, int32(keysym), keyState(pressed),
	).Err
}

// NotifyPointerMotionAbsolute positions the pointer in stream-local
// coordinates on the given capture stream.
func (s *Session) NotifyPointerMotionAbsolute(ctx context.Context, streamID uint32, x, y float64) error {
	return s.conn.object().CallWithContext(ctx,
		remoteDesktopIface+".NotifyPointerMotionAbsolute", 0,
		s.handle, map[string]dbus.Variant{}, streamID, x, y,
	).Err
}

// NotifyPointerMotion moves the pointer by a relative delta.
func (s *Session) NotifyPointerMotion(ctx context.Context, dx, dy float64) error {
	return s.conn.object().CallWithContext(ctx,
		remoteDesktopIface+".NotifyPointerMotion", 0,
		s.handle, map[string]dbus.Variant{}, dx, dy,
	).Err
}

// NotifyPointerButton injects a button event by evdev button code.
func (s *Session) NotifyPointerButton(ctx context.Context, button int32, pressed bool) error {
	return s.conn.object().CallWithContext(ctx,
		remoteDesktopIface+".NotifyPointerButton", 0,
		s.handle, map[string]dbus.Variant{}, button, keyState(pressed),
	).Err
}

// NotifyPointerAxisDiscrete injects a discrete scroll step.
func (s *Session) NotifyPointerAxisDiscrete(ctx context.Context, axis uint32, steps int32) error {
	return s.conn.object().CallWithContext(ctx,
		remoteDesktopIface+".NotifyPointerAxisDiscrete", 0,
		s.handle, map[string]dbus.Variant{}, axis, steps,
	).Err
}
