// Package rdp defines the narrow contracts a session plugs into the RDP
// protocol engine, the display/input/clipboard data types crossing them,
// and the cliprdr channel codec.
//
// The protocol engine itself (wire framing, X.224/MCS, TLS records,
// dynamic channels) is an external collaborator registered at startup;
// this package only fixes the boundary.
package rdp

import (
	"context"
	"net"
)

// DisplaySize is the surface size advertised to connecting clients.
type DisplaySize struct {
	Width, Height uint16
}

// InputHandler receives input events on the engine's I/O goroutine.
// Implementations must not block; events that cannot be admitted
// immediately are dropped.
type InputHandler interface {
	Keyboard(ev InputEvent)
	Mouse(ev InputEvent)
}

// DisplayUpdater supplies display updates to the engine. NextUpdate must be
// cancellation-safe: cancelling the context must not lose an update that
// was not returned.
type DisplayUpdater interface {
	Size() DisplaySize
	NextUpdate(ctx context.Context) (DisplayUpdate, error)
}

// ClipCapsFlags are the general capability flags of the cliprdr channel.
type ClipCapsFlags uint32

const (
	CapUseLongFormatNames ClipCapsFlags = 0x0002
	CapStreamFileclip     ClipCapsFlags = 0x0004
	CapFileclipNoFilePaths ClipCapsFlags = 0x0008
	CapCanLockClipdata    ClipCapsFlags = 0x0010
)

// ClipboardBackend receives cliprdr channel events. Callbacks run on the
// engine's channel goroutine and must not block; implementations enqueue
// and return.
type ClipboardBackend interface {
	// Capabilities reports the negotiated general capability flags.
	Capabilities(flags ClipCapsFlags)
	// ChannelReady hands the backend a sender for the cliprdr channel once
	// the channel is joined. The sender remains valid until the connection
	// closes.
	ChannelReady(ch CliprdrChannel)
	FormatList(formats []ClipboardFormat)
	FormatListResponse(ok bool)
	FormatDataRequest(id FormatID)
	FormatDataResponse(data []byte, ok bool)
	FileContentsRequest(req FileContentsRequest)
	FileContentsResponse(resp FileContentsResponse)
}

// CliprdrChannel sends cliprdr PDUs toward the client.
//
// SendFormatList is deliberately callable at any point after the channel is
// joined, including before the channel state machine reports Ready: per
// MS-RDPECLIP 2.2.3.1 either peer may announce ownership at any time, and
// gating the server side on the client-oriented Ready state would make
// compositor-originated copies unobservable to the client.
type CliprdrChannel interface {
	SendFormatList(formats []ClipboardFormat) error
	SendFormatDataRequest(id FormatID) error
	SendFormatDataResponse(data []byte, ok bool) error
	SendFileContentsRequest(req *FileContentsRequest) error
	SendFileContentsResponse(resp *FileContentsResponse) error
	SendLock(clipDataID uint32) error
	SendUnlock(clipDataID uint32) error
}

// Hooks bundles the three contracts a session hands to the engine.
type Hooks struct {
	Input     InputHandler
	Display   DisplayUpdater
	Clipboard ClipboardBackend
}

// Engine drives the RDP protocol on one accepted connection. Run blocks
// until the connection ends or ctx is cancelled.
type Engine interface {
	Run(ctx context.Context, conn net.Conn, hooks Hooks) error
}

// EngineFactory builds an Engine per accepted connection.
type EngineFactory func() (Engine, error)
