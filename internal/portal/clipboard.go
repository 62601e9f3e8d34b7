package portal

import (
	"context"
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
)

// SelectionTransfer asks the session to produce clipboard data for a
// consumer: answer with SelectionWrite/SelectionWriteDone using the serial.
type SelectionTransfer struct {
	MimeType string
	Serial   uint32
}

// SelectionOwnerChanged reports a clipboard ownership change. When
// SessionIsOwner is false, another client took the selection and offers
// the listed MIME types.
type SelectionOwnerChanged struct {
	MimeTypes      []string
	SessionIsOwner bool
}

// ClipboardEvent is the sum of clipboard signals a session emits.
type ClipboardEvent interface {
	isClipboardEvent()
}

func (SelectionTransfer) isClipboardEvent()    {}
func (SelectionOwnerChanged) isClipboardEvent() {}

// RequestClipboard enables clipboard access on the session. Must be called
// before the session is started on backends that gate the capability.
func (s *Session) RequestClipboard(ctx context.Context) error {
	return s.conn.object().CallWithContext(ctx,
		clipboardIface+".RequestClipboard", 0,
		s.handle, map[string]dbus.Variant{},
	).Err
}

// SetSelection announces clipboard ownership with the given MIME types.
// No data is transferred until a consumer requests it (delayed rendering).
func (s *Session) SetSelection(ctx context.Context, mimeTypes []string) error {
	return s.conn.object().CallWithContext(ctx,
		clipboardIface+".SetSelection", 0,
		s.handle, map[string]dbus.Variant{
			"mime_types": dbus.MakeVariant(mimeTypes),
		},
	).Err
}

// SelectionWrite opens the write end for an in-progress transfer serial.
func (s *Session) SelectionWrite(ctx context.Context, serial uint32) (*os.File, error) {
	var fd dbus.UnixFD
	err := s.conn.object().CallWithContext(ctx,
		clipboardIface+".SelectionWrite", 0,
		s.handle, serial,
	).Store(&fd)
	if err != nil {
		return nil, fmt.Errorf("portal: SelectionWrite: %w", err)
	}
	f := os.NewFile(uintptr(fd), "selection-write")
	if f == nil {
		return nil, fmt.Errorf("portal: SelectionWrite returned bad descriptor")
	}
	return f, nil
}

// SelectionWriteDone completes a transfer serial.
func (s *Session) SelectionWriteDone(ctx context.Context, serial uint32, success bool) error {
	return s.conn.object().CallWithContext(ctx,
		clipboardIface+".SelectionWriteDone", 0,
		s.handle, serial, success,
	).Err
}

// SelectionRead opens the read end for the current selection in the given
// MIME type.
func (s *Session) SelectionRead(ctx context.Context, mimeType string) (*os.File, error) {
	var fd dbus.UnixFD
	err := s.conn.object().CallWithContext(ctx,
		clipboardIface+".SelectionRead", 0,
		s.handle, mimeType,
	).Store(&fd)
	if err != nil {
		return nil, fmt.Errorf("portal: SelectionRead: %w", err)
	}
	f := os.NewFile(uintptr(fd), "selection-read")
	if f == nil {
		return nil, fmt.Errorf("portal: SelectionRead returned bad descriptor")
	}
	return f, nil
}

// ClipboardSignals subscribes to the session's clipboard signals. The
// returned channel closes when ctx is cancelled. SelectionOwnerChanged is
// not emitted by every backend; callers must treat it as optional.
func (s *Session) ClipboardSignals(ctx context.Context, buffer int) (<-chan ClipboardEvent, error) {
	matchOpts := [][]dbus.MatchOption{
		{
			dbus.WithMatchObjectPath(objectPath),
			dbus.WithMatchInterface(clipboardIface),
			dbus.WithMatchMember("SelectionTransfer"),
		},
		{
			dbus.WithMatchObjectPath(objectPath),
			dbus.WithMatchInterface(clipboardIface),
			dbus.WithMatchMember("SelectionOwnerChanged"),
		},
	}
	for _, opts := range matchOpts {
		if err := s.conn.conn.AddMatchSignal(opts...); err != nil {
			return nil, fmt.Errorf("portal: match clipboard signal: %w", err)
		}
	}

	raw := make(chan *dbus.Signal, 16)
	s.conn.conn.Signal(raw)

	events := make(chan ClipboardEvent, buffer)
	go func() {
		defer close(events)
		defer s.conn.conn.RemoveSignal(raw)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-raw:
				if !ok {
					return
				}
				ev := s.decodeClipboardSignal(sig)
				if ev == nil {
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

// decodeClipboardSignal filters and decodes signals for this session.
func (s *Session) decodeClipboardSignal(sig *dbus.Signal) ClipboardEvent {
	if sig == nil || len(sig.Body) == 0 {
		return nil
	}
	sess, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok || sess != s.handle {
		return nil
	}

	switch sig.Name {
	case clipboardIface + ".SelectionTransfer":
		if len(sig.Body) < 3 {
			return nil
		}
		mime, _ := sig.Body[1].(string)
		serial, _ := sig.Body[2].(uint32)
		return SelectionTransfer{MimeType: mime, Serial: serial}

	case clipboardIface + ".SelectionOwnerChanged":
		if len(sig.Body) < 2 {
			return nil
		}
		opts, _ := sig.Body[1].(map[string]dbus.Variant)
		ev := SelectionOwnerChanged{}
		if v, ok := opts["mime_types"]; ok {
			if types, ok := v.Value().([]string); ok {
				ev.MimeTypes = types
			}
		}
		if v, ok := opts["session_is_owner"]; ok {
			if owner, ok := v.Value().(bool); ok {
				ev.SessionIsOwner = owner
			}
		}
		return ev
	}
	return nil
}
