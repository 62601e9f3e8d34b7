// Package portal is the client for the desktop portal that grants screen
// capture, input injection, and clipboard access over the session bus.
package portal

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wayrdp/wayrdp/internal/logging"
)

var log = logging.L("portal")

const (
	busName    = "org.freedesktop.portal.Desktop"
	objectPath = "/org/freedesktop/portal/desktop"

	screenCastIface    = "org.freedesktop.portal.ScreenCast"
	remoteDesktopIface = "org.freedesktop.portal.RemoteDesktop"
	clipboardIface     = "org.freedesktop.portal.Clipboard"
	requestIface       = "org.freedesktop.portal.Request"
	sessionIface       = "org.freedesktop.portal.Session"
)

// ScreenCast source types.
const (
	sourceMonitor = uint32(1)
)

// Cursor modes.
const (
	cursorHidden   = uint32(1)
	cursorEmbedded = uint32(2)
	cursorMetadata = uint32(4)
)

// RemoteDesktop device types.
const (
	deviceKeyboard = uint32(1)
	devicePointer  = uint32(2)
)

// Conn is a connection to the portal service.
type Conn struct {
	conn    *dbus.Conn
	timeout time.Duration
	tokens  atomic.Uint64
}

// Connect opens the session bus and verifies the portal service responds.
func Connect(ctx context.Context, timeout time.Duration) (*Conn, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("portal: session bus: %w", err)
	}

	obj := conn.Object(busName, objectPath)
	if err := obj.CallWithContext(ctx, "org.freedesktop.DBus.Introspectable.Introspect", 0).Err; err != nil {
		conn.Close()
		return nil, fmt.Errorf("portal: service unavailable: %w", err)
	}

	log.Info("Portal connected", "bus", busName)
	return &Conn{conn: conn, timeout: timeout}, nil
}

// Close releases the bus connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) object() dbus.BusObject {
	return c.conn.Object(busName, objectPath)
}

// token generates a unique handle token for a portal request.
func (c *Conn) token(prefix string) string {
	return fmt.Sprintf("%s_%d_%d", prefix, os.Getpid(), c.tokens.Add(1))
}

// requestPath predicts the Request object path the portal will use for a
// call made by this connection with the given handle token.
func (c *Conn) requestPath(token string) dbus.ObjectPath {
	sender := strings.TrimPrefix(c.conn.Names()[0], ":")
	sender = strings.ReplaceAll(sender, ".", "_")
	return dbus.ObjectPath(fmt.Sprintf("/org/freedesktop/portal/desktop/request/%s/%s", sender, token))
}

// requestCall performs one portal method call that completes through a
// Request.Response signal, returning the response results.
func (c *Conn) requestCall(ctx context.Context, method string, token string, args ...interface{}) (map[string]dbus.Variant, error) {
	reqPath := c.requestPath(token)

	if err := c.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(reqPath),
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember("Response"),
	); err != nil {
		return nil, fmt.Errorf("portal: match signal: %w", err)
	}
	defer c.conn.RemoveMatchSignal(
		dbus.WithMatchObjectPath(reqPath),
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember("Response"),
	)

	signals := make(chan *dbus.Signal, 10)
	c.conn.Signal(signals)
	defer c.conn.RemoveSignal(signals)

	var returnedPath dbus.ObjectPath
	if err := c.object().CallWithContext(ctx, method, 0, args...).Store(&returnedPath); err != nil {
		return nil, fmt.Errorf("portal: %s: %w", method, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, fmt.Errorf("portal: %s: timeout waiting for response", method)
		case sig := <-signals:
			if sig == nil || sig.Name != requestIface+".Response" || sig.Path != reqPath {
				continue
			}
			if len(sig.Body) < 2 {
				return nil, fmt.Errorf("portal: %s: malformed response", method)
			}
			code, _ := sig.Body[0].(uint32)
			if code != 0 {
				return nil, fmt.Errorf("portal: %s: request denied (code %d)", method, code)
			}
			results, _ := sig.Body[1].(map[string]dbus.Variant)
			return results, nil
		}
	}
}
