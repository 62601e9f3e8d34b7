package portal

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"
)

// Stream is one screencast stream: the capture node plus the monitor
// geometry the portal reported for it.
type Stream struct {
	NodeID uint32
	X, Y   int
	Width  int
	Height int
}

// Session is a combined remote-desktop + screencast portal session: one
// session handle grants capture streams, input injection, and clipboard
// access. The handle is shared by reference; each call is independent.
type Session struct {
	conn   *Conn
	handle dbus.ObjectPath

	// PipeWireFD is the capture descriptor for the session's streams.
	PipeWireFD int
	Streams    []Stream
}

// CreateSession runs the portal handshake: create a remote-desktop
// session, select keyboard+pointer devices and monitor sources, start it,
// and open the capture descriptor.
func (c *Conn) CreateSession(ctx context.Context) (*Session, error) {
	sessionToken := c.token("sess")
	reqToken := c.token("req")

	results, err := c.requestCall(ctx, remoteDesktopIface+".CreateSession", reqToken,
		map[string]dbus.Variant{
			"handle_token":         dbus.MakeVariant(reqToken),
			"session_handle_token": dbus.MakeVariant(sessionToken),
		})
	if err != nil {
		return nil, err
	}
	handleStr, _ := results["session_handle"].Value().(string)
	if handleStr == "" {
		return nil, fmt.Errorf("portal: CreateSession returned no session handle")
	}

	s := &Session{conn: c, handle: dbus.ObjectPath(handleStr), PipeWireFD: -1}
	log.Info("Portal session created", "handle", handleStr)

	if err := s.selectDevices(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.selectSources(ctx); err != nil {
		s.Close()
		return nil, err
	}
	// Clipboard must be requested before Start on backends that gate the
	// capability; absence of the interface is tolerated.
	if err := s.RequestClipboard(ctx); err != nil {
		log.Warn("Clipboard capability unavailable", "error", err)
	}
	if err := s.start(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.openPipeWireRemote(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) selectDevices(ctx context.Context) error {
	token := s.conn.token("req")
	_, err := s.conn.requestCall(ctx, remoteDesktopIface+".SelectDevices", token,
		s.handle,
		map[string]dbus.Variant{
			"handle_token": dbus.MakeVariant(token),
			"types":        dbus.MakeVariant(deviceKeyboard | devicePointer),
		})
	return err
}

func (s *Session) selectSources(ctx context.Context) error {
	token := s.conn.token("req")
	_, err := s.conn.requestCall(ctx, screenCastIface+".SelectSources", token,
		s.handle,
		map[string]dbus.Variant{
			"handle_token": dbus.MakeVariant(token),
			"types":        dbus.MakeVariant(sourceMonitor),
			"multiple":     dbus.MakeVariant(true),
			"cursor_mode":  dbus.MakeVariant(cursorEmbedded),
			"persist_mode": dbus.MakeVariant(uint32(0)),
		})
	return err
}

func (s *Session) start(ctx context.Context) error {
	token := s.conn.token("req")
	results, err := s.conn.requestCall(ctx, remoteDesktopIface+".Start", token,
		s.handle, "",
		map[string]dbus.Variant{
			"handle_token": dbus.MakeVariant(token),
		})
	if err != nil {
		return err
	}

	streamsVar, ok := results["streams"]
	if !ok {
		return fmt.Errorf("portal: Start returned no streams")
	}
	streams, err := parseStreams(streamsVar)
	if err != nil {
		return err
	}
	if len(streams) == 0 {
		return fmt.Errorf("portal: Start returned an empty stream list")
	}
	s.Streams = streams
	for _, st := range streams {
		log.Info("Capture stream available",
			"node", st.NodeID, "x", st.X, "y", st.Y,
			"width", st.Width, "height", st.Height)
	}
	return nil
}

// parseStreams decodes the a(ua{sv}) streams response: node ID plus
// position/size properties per stream.
func parseStreams(v dbus.Variant) ([]Stream, error) {
	raw, ok := v.Value().([][]interface{})
	if !ok {
		return nil, fmt.Errorf("portal: unexpected streams type %T", v.Value())
	}
	streams := make([]Stream, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			continue
		}
		node, ok := entry[0].(uint32)
		if !ok {
			continue
		}
		st := Stream{NodeID: node}
		if props, ok := entry[1].(map[string]dbus.Variant); ok {
			if pos, ok := props["position"].Value().([]interface{}); ok && len(pos) == 2 {
				if x, ok := pos[0].(int32); ok {
					st.X = int(x)
				}
				if y, ok := pos[1].(int32); ok {
					st.Y = int(y)
				}
			}
			if size, ok := props["size"].Value().([]interface{}); ok && len(size) == 2 {
				if w, ok := size[0].(int32); ok {
					st.Width = int(w)
				}
				if h, ok := size[1].(int32); ok {
					st.Height = int(h)
				}
			}
		}
		streams = append(streams, st)
	}
	return streams, nil
}

// openPipeWireRemote obtains the capture descriptor. The descriptor is
// duplicated: the bus library may close the passed fd once the message is
// released.
func (s *Session) openPipeWireRemote(ctx context.Context) error {
	var fd dbus.UnixFD
	err := s.conn.object().CallWithContext(ctx,
		screenCastIface+".OpenPipeWireRemote", 0,
		s.handle, map[string]dbus.Variant{},
	).Store(&fd)
	if err != nil {
		return fmt.Errorf("portal: OpenPipeWireRemote: %w", err)
	}

	dup, err := unix.Dup(int(fd))
	if err != nil {
		log.Warn("Failed to dup capture descriptor, using original", "error", err)
		s.PipeWireFD = int(fd)
		return nil
	}
	unix.CloseOnExec(dup)
	s.PipeWireFD = dup
	log.Info("Capture descriptor opened", "fd", s.PipeWireFD)
	return nil
}

// Close ends the portal session and closes the capture descriptor. After
// Close returns, no portal handle remains held.
func (s *Session) Close() error {
	if s.PipeWireFD >= 0 {
		unix.Close(s.PipeWireFD)
		s.PipeWireFD = -1
	}
	obj := s.conn.conn.Object(busName, s.handle)
	if err := obj.Call(sessionIface+".Close", 0).Err; err != nil {
		return fmt.Errorf("portal: session close: %w", err)
	}
	return nil
}
