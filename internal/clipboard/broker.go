// Package clipboard bridges the RDP cliprdr channel and the portal
// selection: two delayed-rendering protocols with disjoint models. The
// broker owns the correlation state (pending transfers, operation
// history) behind a single lock that is held only across state
// transitions, never across I/O.
package clipboard

import (
	"context"
	"crypto/sha256"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wayrdp/wayrdp/internal/logging"
	"github.com/wayrdp/wayrdp/internal/rdp"
)

var log = logging.L("clipboard")

// State is the broker's ownership view of the two clipboards.
type State int

const (
	StateIdle State = iota
	StateRdpOwned
	StatePortalOwned
)

func (s State) String() string {
	switch s {
	case StateRdpOwned:
		return "rdp-owned"
	case StatePortalOwned:
		return "portal-owned"
	default:
		return "idle"
	}
}

// Direction of a clipboard operation.
type Direction int

const (
	// PortalToRdp: compositor content flowing to the RDP client.
	PortalToRdp Direction = iota
	// RdpToPortal: RDP client content flowing to the compositor.
	RdpToPortal
)

func (d Direction) opposite() Direction {
	if d == PortalToRdp {
		return RdpToPortal
	}
	return PortalToRdp
}

// operation is a completed transfer, kept for loop prevention.
type operation struct {
	id          string
	direction   Direction
	hash        [sha256.Size]byte
	completedAt time.Time
}

// pendingTransfer tracks one portal-requested paste awaiting RDP data.
type pendingTransfer struct {
	serial    uint32
	mime      string
	format    rdp.ClipboardFormat
	startedAt time.Time
}

// Portal is the portal clipboard surface the broker drives.
type Portal interface {
	SetSelection(ctx context.Context, mimeTypes []string) error
	SelectionWrite(ctx context.Context, serial uint32) (*os.File, error)
	SelectionWriteDone(ctx context.Context, serial uint32, success bool) error
	SelectionRead(ctx context.Context, mimeType string) (*os.File, error)
}

// Config parameterizes the broker.
type Config struct {
	// LoopWindow is the span inside which an equal-content operation in
	// the opposite direction is rejected as a loop.
	LoopWindow time.Duration
	// DedupWindow suppresses duplicate SelectionTransfer signals per MIME.
	DedupWindow time.Duration
	// Timeout reaps stale pending transfers and bounds portal I/O.
	Timeout time.Duration
	// HistorySize bounds the loop-prevention history.
	HistorySize int
	// StagingDir receives files pulled from the RDP client. Empty uses
	// the system temp directory.
	StagingDir string
}

func (c *Config) applyDefaults() {
	if c.LoopWindow <= 0 {
		c.LoopWindow = 500 * time.Millisecond
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 2 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 8
	}
}

// Stats are the broker's telemetry counters.
type Stats struct {
	Operations    uint64
	LoopRejects   uint64
	DupTransfers  uint64
	Failures      uint64
	StaleReaped   uint64
}

// Broker mediates between the cliprdr channel and the portal selection.
type Broker struct {
	cfg    Config
	portal Portal

	mu            sync.Mutex
	state         State
	channel       rdp.CliprdrChannel
	remoteFormats []rdp.ClipboardFormat
	localMimes    []string
	pending       []pendingTransfer
	lastForward   struct {
		mime string
		at   time.Time
	}
	history       []operation
	earlyRequests []rdp.FormatID
	stats         Stats

	files   *fileServer
	fetcher *fileFetcher

	now func() time.Time
}

func NewBroker(cfg Config, portal Portal) *Broker {
	cfg.applyDefaults()
	return &Broker{
		cfg:    cfg,
		portal: portal,
		files:  &fileServer{},
		now:    time.Now,
	}
}

// State returns the broker's current ownership state.
func (b *Broker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the telemetry counters.
func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Capabilities records the negotiated channel capabilities.
func (b *Broker) Capabilities(flags rdp.ClipCapsFlags) {
	log.Debug("Clipboard capabilities negotiated", "flags", uint32(flags))
}

// ChannelReady installs the channel sender and replays format-data
// requests that arrived before the channel was usable.
func (b *Broker) ChannelReady(ctx context.Context, ch rdp.CliprdrChannel) {
	b.mu.Lock()
	b.channel = ch
	b.fetcher = newFileFetcher(ch, b.cfg.Timeout)
	early := b.earlyRequests
	b.earlyRequests = nil
	b.mu.Unlock()

	for _, id := range early {
		b.HandleFormatDataRequest(ctx, id)
	}
}

// HandleFormatList processes an ownership announcement from the RDP
// client: record the formats and announce the mapped MIME set to the
// portal without transferring data.
func (b *Broker) HandleFormatList(ctx context.Context, formats []rdp.ClipboardFormat) {
	b.mu.Lock()
	b.state = StateRdpOwned
	b.remoteFormats = formats
	b.mu.Unlock()

	mimes := mimeSetForFormats(formats)
	if len(mimes) == 0 {
		log.Debug("FormatList carries no bridgeable formats", "count", len(formats))
		return
	}
	if err := b.portal.SetSelection(ctx, mimes); err != nil {
		log.Warn("SetSelection failed", "error", err)
		b.countFailure()
		return
	}
	log.Info("Clipboard ownership announced to portal", "mimes", mimes)
}

// HandleFormatListResponse is informational.
func (b *Broker) HandleFormatListResponse(ok bool) {
	if !ok {
		log.Warn("Client rejected format list")
	}
}

// HandleSelectionTransfer processes a portal request for data this side
// announced: dedup, correlate, and initiate the paste on the RDP channel.
func (b *Broker) HandleSelectionTransfer(ctx context.Context, mime string, serial uint32) {
	b.mu.Lock()
	now := b.now()
	if b.lastForward.mime == mime && now.Sub(b.lastForward.at) < b.cfg.DedupWindow {
		b.stats.DupTransfers++
		b.mu.Unlock()
		log.Debug("Discarding duplicate selection transfer", "mime", mime, "serial", serial)
		return
	}

	format, ok := remoteFormatForMime(b.remoteFormats, mime)
	ch := b.channel
	if !ok || ch == nil {
		b.mu.Unlock()
		b.writeDone(ctx, serial, false)
		return
	}

	b.lastForward.mime = mime
	b.lastForward.at = now
	b.reapStaleLocked(now)
	b.pending = append(b.pending, pendingTransfer{serial: serial, mime: mime, format: format, startedAt: now})
	fetcher := b.fetcher
	b.mu.Unlock()

	if format.Name == rdp.FormatNameFileGroupW || format.ID == rdp.CFHDrop {
		// File groups need the whole descriptor+contents exchange; run it
		// off the caller so the drain loop is not held across it.
		go b.pullFileGroup(ctx, serial, format, fetcher)
		return
	}

	if err := ch.SendFormatDataRequest(format.ID); err != nil {
		log.Warn("SendFormatDataRequest failed", "format", format, "error", err)
		b.dropPending(serial)
		b.writeDone(ctx, serial, false)
	}
}

// HandleFormatDataResponse correlates the oldest pending portal transfer
// with the delivered data, converts it, and completes the portal write.
func (b *Broker) HandleFormatDataResponse(ctx context.Context, data []byte, ok bool) {
	b.mu.Lock()
	b.reapStaleLocked(b.now())
	if len(b.pending) == 0 {
		b.mu.Unlock()
		log.Debug("FormatDataResponse with no pending transfer")
		return
	}
	pt := b.pending[0]
	b.pending = b.pending[1:]
	b.mu.Unlock()

	if pt.format.Name == rdp.FormatNameFileGroupW {
		// Staging the group blocks on FileContentsResponses that arrive
		// through the same drain loop; run it off the caller.
		go b.deliverFileGroup(ctx, pt, data, ok)
		return
	}

	if !ok {
		b.writeDone(ctx, pt.serial, false)
		return
	}

	payload, err := toPortal(pt.format, data, pt.mime)
	if err != nil {
		log.Warn("Clipboard conversion failed", "format", pt.format, "mime", pt.mime, "error", err)
		b.writeDone(ctx, pt.serial, false)
		return
	}

	hash := sha256.Sum256(payload)
	if b.rejectLoop(RdpToPortal, hash) {
		b.writeDone(ctx, pt.serial, false)
		return
	}

	success := b.writePayload(ctx, pt.serial, payload)
	if success {
		b.recordOperation(RdpToPortal, hash)
	}
}

// HandleSelectionOwnerChanged processes a compositor-side copy: announce
// the mapped format set on the cliprdr channel. The channel contract
// permits FormatList at any time after channel join, deliberately
// bypassing client-oriented Ready gating.
func (b *Broker) HandleSelectionOwnerChanged(mimeTypes []string, sessionIsOwner bool) {
	if sessionIsOwner {
		// Echo of our own SetSelection.
		return
	}

	b.mu.Lock()
	b.state = StatePortalOwned
	b.localMimes = mimeTypes
	ch := b.channel
	b.mu.Unlock()

	formats := localFormatsForMimes(mimeTypes)
	if ch == nil || len(formats) == 0 {
		return
	}
	if err := ch.SendFormatList(formats); err != nil {
		log.Warn("SendFormatList failed", "error", err)
		b.countFailure()
		return
	}
	log.Info("Clipboard ownership announced to client", "formats", len(formats))
}

// HandleFormatDataRequest serves a client paste: read the portal
// selection, convert, and answer on the channel.
func (b *Broker) HandleFormatDataRequest(ctx context.Context, id rdp.FormatID) {
	b.mu.Lock()
	ch := b.channel
	if ch == nil {
		// The engine delivered a request before the channel is usable;
		// replay it once ChannelReady runs.
		b.earlyRequests = append(b.earlyRequests, id)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	mime, ok := localMimeForFormatID(id)
	if !ok {
		ch.SendFormatDataResponse(nil, false)
		return
	}

	if id == localFileGroupFormatID {
		b.serveFileGroup(ctx, ch)
		return
	}

	raw, err := b.readSelection(ctx, mime)
	if err != nil {
		log.Warn("SelectionRead failed", "mime", mime, "error", err)
		b.countFailure()
		ch.SendFormatDataResponse(nil, false)
		return
	}

	hash := sha256.Sum256(raw)
	if b.rejectLoop(PortalToRdp, hash) {
		ch.SendFormatDataResponse(nil, false)
		return
	}

	payload, err := fromPortal(mime, raw, id)
	if err != nil {
		log.Warn("Clipboard conversion failed", "mime", mime, "format", id, "error", err)
		ch.SendFormatDataResponse(nil, false)
		return
	}

	if err := ch.SendFormatDataResponse(payload, true); err != nil {
		log.Warn("SendFormatDataResponse failed", "error", err)
		b.countFailure()
		return
	}
	b.recordOperation(PortalToRdp, hash)
}

// HandleFileContentsRequest serves file data for an offered file group.
func (b *Broker) HandleFileContentsRequest(req *rdp.FileContentsRequest) {
	b.mu.Lock()
	ch := b.channel
	b.mu.Unlock()
	if ch == nil {
		return
	}
	if err := ch.SendFileContentsResponse(b.files.handle(req)); err != nil {
		log.Warn("SendFileContentsResponse failed", "error", err)
	}
}

// HandleFileContentsResponse routes file data to an in-progress fetch.
func (b *Broker) HandleFileContentsResponse(resp *rdp.FileContentsResponse) {
	b.mu.Lock()
	fetcher := b.fetcher
	b.mu.Unlock()
	if fetcher != nil {
		fetcher.deliver(resp)
	}
}

// Shutdown returns the broker to idle and drops correlation state.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateIdle
	b.channel = nil
	b.pending = nil
	b.remoteFormats = nil
	b.localMimes = nil
	b.earlyRequests = nil
}

// serveFileGroup answers a FileGroupDescriptorW request from the portal's
// uri-list selection.
func (b *Broker) serveFileGroup(ctx context.Context, ch rdp.CliprdrChannel) {
	raw, err := b.readSelection(ctx, MimeURIList)
	if err != nil {
		ch.SendFormatDataResponse(nil, false)
		return
	}
	paths := uriListToPaths(raw)
	if len(paths) == 0 {
		ch.SendFormatDataResponse(nil, false)
		return
	}
	b.files.setPaths(paths)
	descriptors := b.files.descriptors()
	if len(descriptors) == 0 {
		ch.SendFormatDataResponse(nil, false)
		return
	}
	if err := ch.SendFormatDataResponse(rdp.EncodeFileGroupDescriptor(descriptors), true); err != nil {
		log.Warn("SendFormatDataResponse failed", "error", err)
	}
}

// pullFileGroup requests the file group descriptor; the response arrives
// through HandleFormatDataResponse, which calls deliverFileGroup.
func (b *Broker) pullFileGroup(ctx context.Context, serial uint32, format rdp.ClipboardFormat, fetcher *fileFetcher) {
	b.mu.Lock()
	ch := b.channel
	b.mu.Unlock()
	if ch == nil || fetcher == nil {
		b.dropPending(serial)
		b.writeDone(ctx, serial, false)
		return
	}
	if err := ch.SendFormatDataRequest(format.ID); err != nil {
		b.dropPending(serial)
		b.writeDone(ctx, serial, false)
	}
}

// deliverFileGroup stages the announced files via FileContentsRequests and
// completes the portal transfer with a uri-list of the staged copies.
func (b *Broker) deliverFileGroup(ctx context.Context, pt pendingTransfer, data []byte, ok bool) {
	b.mu.Lock()
	fetcher := b.fetcher
	b.mu.Unlock()

	if !ok || fetcher == nil {
		b.writeDone(ctx, pt.serial, false)
		return
	}
	files, err := rdp.DecodeFileGroupDescriptor(data)
	if err != nil || len(files) == 0 {
		b.writeDone(ctx, pt.serial, false)
		return
	}

	dir := b.cfg.StagingDir
	if dir == "" {
		dir = os.TempDir()
	}
	stage, err := os.MkdirTemp(dir, "wayrdp-paste-"+uuid.NewString()[:8])
	if err != nil {
		b.writeDone(ctx, pt.serial, false)
		return
	}

	paths, err := fetcher.fetchAll(files, stage)
	if err != nil {
		log.Warn("File group transfer failed", "error", err)
		b.countFailure()
		b.writeDone(ctx, pt.serial, false)
		return
	}

	payload := pathsToURIList(paths)
	if b.writePayload(ctx, pt.serial, payload) {
		b.recordOperation(RdpToPortal, sha256.Sum256(payload))
	}
}

// writePayload streams a payload into the portal transfer serial.
func (b *Broker) writePayload(ctx context.Context, serial uint32, payload []byte) bool {
	f, err := b.portal.SelectionWrite(ctx, serial)
	if err != nil {
		log.Warn("SelectionWrite failed", "serial", serial, "error", err)
		b.countFailure()
		b.writeDone(ctx, serial, false)
		return false
	}
	_, writeErr := f.Write(payload)
	f.Close()

	success := writeErr == nil
	if !success {
		log.Warn("Selection payload write failed", "serial", serial, "error", writeErr)
		b.countFailure()
	}
	b.writeDone(ctx, serial, success)
	return success
}

// readSelection reads the portal selection fully in the given MIME type.
func (b *Broker) readSelection(ctx context.Context, mime string) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	f, err := b.portal.SelectionRead(rctx, mime)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (b *Broker) writeDone(ctx context.Context, serial uint32, success bool) {
	if err := b.portal.SelectionWriteDone(ctx, serial, success); err != nil {
		log.Debug("SelectionWriteDone failed", "serial", serial, "error", err)
	}
}

// rejectLoop reports whether completing an operation with this hash in
// this direction would bounce content that just flowed the other way.
func (b *Broker) rejectLoop(dir Direction, hash [sha256.Size]byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	for _, op := range b.history {
		if op.direction == dir.opposite() &&
			op.hash == hash &&
			now.Sub(op.completedAt) < b.cfg.LoopWindow {
			b.stats.LoopRejects++
			log.Info("Rejected clipboard loop", "direction", dir, "op", op.id)
			return true
		}
	}
	return false
}

func (b *Broker) recordOperation(dir Direction, hash [sha256.Size]byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.Operations++
	b.history = append(b.history, operation{
		id:          uuid.NewString(),
		direction:   dir,
		hash:        hash,
		completedAt: b.now(),
	})
	if len(b.history) > b.cfg.HistorySize {
		b.history = b.history[len(b.history)-b.cfg.HistorySize:]
	}
}

// reapStaleLocked prunes pending transfers older than the timeout. The
// caller holds b.mu.
func (b *Broker) reapStaleLocked(now time.Time) {
	kept := b.pending[:0]
	for _, pt := range b.pending {
		if now.Sub(pt.startedAt) < b.cfg.Timeout {
			kept = append(kept, pt)
		} else {
			b.stats.StaleReaped++
			log.Warn("Reaping stale pending transfer", "serial", pt.serial, "mime", pt.mime)
		}
	}
	b.pending = kept
}

func (b *Broker) dropPending(serial uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.pending[:0]
	for _, pt := range b.pending {
		if pt.serial != serial {
			kept = append(kept, pt)
		}
	}
	b.pending = kept
}

func (b *Broker) countFailure() {
	b.mu.Lock()
	b.stats.Failures++
	b.mu.Unlock()
}
