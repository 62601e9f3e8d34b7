package session

import (
	"context"
	"errors"

	"github.com/wayrdp/wayrdp/internal/rdp"
)

// errSessionClosed reports a NextUpdate call against a torn-down session.
var errSessionClosed = errors.New("session: update stream closed")

// clipEventKind tags items on the clipboard queue.
type clipEventKind int

const (
	clipCapabilities clipEventKind = iota
	clipChannelReady
	clipFormatList
	clipFormatListResponse
	clipDataRequest
	clipDataResponse
	clipFileRequest
	clipFileResponse
	clipPortalTransfer
	clipPortalOwner
)

// clipEvent is one clipboard queue item; exactly the fields for its kind
// are set.
type clipEvent struct {
	kind clipEventKind

	flags   rdp.ClipCapsFlags
	channel rdp.CliprdrChannel
	formats []rdp.ClipboardFormat
	ok      bool
	id      rdp.FormatID
	data    []byte
	fileReq  *rdp.FileContentsRequest
	fileResp *rdp.FileContentsResponse

	mime    string
	serial  uint32
	mimes   []string
	isOwner bool
}

// --- rdp.InputHandler ---
//
// Both callbacks run on the engine's I/O goroutine and must not block:
// enqueue and return. Dropping input on overflow beats stalling the whole
// session; the capacities never fill at human event rates.

func (s *Session) Keyboard(ev rdp.InputEvent) {
	s.metrics.recordInput()
	s.inputQ.TryPush(ev)
}

func (s *Session) Mouse(ev rdp.InputEvent) {
	s.metrics.recordInput()
	s.inputQ.TryPush(ev)
}

// --- rdp.DisplayUpdater ---

func (s *Session) Size() rdp.DisplaySize {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rdp.DisplaySize{Width: uint16(s.width), Height: uint16(s.height)}
}

// isFrame reports whether an update participates in coalescing. Resize and
// pointer updates must never be swallowed by a newer frame.
func isFrame(u rdp.DisplayUpdate) bool {
	switch u.(type) {
	case *rdp.BitmapUpdate, *rdp.AVC444Frame:
		return true
	default:
		return false
	}
}

// NextUpdate returns the next display update, coalescing queued frames
// down to the newest. Cancellation-safe: an update popped but not
// returned is parked and handed out on the next call.
func (s *Session) NextUpdate(ctx context.Context) (rdp.DisplayUpdate, error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	var current rdp.DisplayUpdate
	coalesced := s.pendingCoal
	s.pendingCoal = 0

	if s.pendingUpdate != nil {
		current = s.pendingUpdate
		s.pendingUpdate = nil
	} else {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ctx.Done():
			return nil, s.ctx.Err()
		case u, ok := <-s.graphicsQ.Ch():
			if !ok {
				if err := s.ctx.Err(); err != nil {
					return nil, err
				}
				return nil, errSessionClosed
			}
			current = u
		}
	}

	// Coalesce: a newer queued frame fully subsumes the one in hand. A
	// non-frame update stops the scan and is parked for the next call so
	// ordering is preserved.
	if isFrame(current) {
		for {
			next, ok := s.graphicsQ.TryPop()
			if !ok {
				break
			}
			if isFrame(next) {
				coalesced++
				current = next
				continue
			}
			s.pendingUpdate = next
			break
		}
	}

	if ctx.Err() != nil {
		// Cancelled after an update was taken: park it instead of losing
		// it, remembering the coalesce count for metrics.
		if s.pendingUpdate == nil {
			s.pendingUpdate = current
		} else {
			// Extremely narrow: both slots in hand; prefer the non-frame
			// already parked and re-queue the frame.
			s.graphicsQ.TryPush(current)
		}
		s.pendingCoal = coalesced
		return nil, ctx.Err()
	}

	s.metrics.recordDelivered(updateSize(current), coalesced)
	return current, nil
}

func updateSize(u rdp.DisplayUpdate) int {
	switch v := u.(type) {
	case *rdp.BitmapUpdate:
		return len(v.Data)
	case *rdp.AVC444Frame:
		return len(v.Main) + len(v.Aux)
	default:
		return 0
	}
}

// --- rdp.ClipboardBackend ---
//
// Channel callbacks enqueue onto the clipboard queue; the drain loop is
// the broker's only driver.

func (s *Session) Capabilities(flags rdp.ClipCapsFlags) {
	s.clipQ.TryPush(clipEvent{kind: clipCapabilities, flags: flags})
}

func (s *Session) ChannelReady(ch rdp.CliprdrChannel) {
	s.clipQ.TryPush(clipEvent{kind: clipChannelReady, channel: ch})
}

func (s *Session) FormatList(formats []rdp.ClipboardFormat) {
	s.clipQ.TryPush(clipEvent{kind: clipFormatList, formats: formats})
}

func (s *Session) FormatListResponse(ok bool) {
	s.clipQ.TryPush(clipEvent{kind: clipFormatListResponse, ok: ok})
}

func (s *Session) FormatDataRequest(id rdp.FormatID) {
	s.clipQ.TryPush(clipEvent{kind: clipDataRequest, id: id})
}

func (s *Session) FormatDataResponse(data []byte, ok bool) {
	s.clipQ.TryPush(clipEvent{kind: clipDataResponse, data: data, ok: ok})
}

func (s *Session) FileContentsRequest(req rdp.FileContentsRequest) {
	s.clipQ.TryPush(clipEvent{kind: clipFileRequest, fileReq: &req})
}

func (s *Session) FileContentsResponse(resp rdp.FileContentsResponse) {
	s.clipQ.TryPush(clipEvent{kind: clipFileResponse, fileResp: &resp})
}

// dispatchClipboard forwards one dequeued clipboard event to the broker.
// Runs on the drain loop.
func (s *Session) dispatchClipboard(ev clipEvent) {
	switch ev.kind {
	case clipCapabilities:
		s.broker.Capabilities(ev.flags)
	case clipChannelReady:
		s.broker.ChannelReady(s.ctx, ev.channel)
	case clipFormatList:
		s.broker.HandleFormatList(s.ctx, ev.formats)
	case clipFormatListResponse:
		s.broker.HandleFormatListResponse(ev.ok)
	case clipDataRequest:
		s.broker.HandleFormatDataRequest(s.ctx, ev.id)
	case clipDataResponse:
		s.broker.HandleFormatDataResponse(s.ctx, ev.data, ev.ok)
	case clipFileRequest:
		s.broker.HandleFileContentsRequest(ev.fileReq)
	case clipFileResponse:
		s.broker.HandleFileContentsResponse(ev.fileResp)
	case clipPortalTransfer:
		s.broker.HandleSelectionTransfer(s.ctx, ev.mime, ev.serial)
	case clipPortalOwner:
		s.broker.HandleSelectionOwnerChanged(ev.mimes, ev.isOwner)
	}
}
