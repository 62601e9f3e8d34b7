package session

import (
	"sync"
	"time"
)

// Metrics tracks one session's runtime counters.
type Metrics struct {
	mu sync.RWMutex

	FramesCaptured  uint64
	FramesEncoded   uint64
	FramesQueued    uint64
	FramesDelivered uint64
	FramesCoalesced uint64

	InputEvents   uint64
	InputDrops    uint64
	ControlDrops  uint64
	ClipDrops     uint64
	GraphicsDrops uint64

	BytesDelivered uint64

	LastEncodeTime time.Duration
	startTime      time.Time
}

func newMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) recordCapture() {
	m.mu.Lock()
	m.FramesCaptured++
	m.mu.Unlock()
}

func (m *Metrics) recordEncode(d time.Duration) {
	m.mu.Lock()
	m.FramesEncoded++
	m.LastEncodeTime = d
	m.mu.Unlock()
}

func (m *Metrics) recordQueued() {
	m.mu.Lock()
	m.FramesQueued++
	m.mu.Unlock()
}

func (m *Metrics) recordDelivered(bytes int, coalesced int) {
	m.mu.Lock()
	m.FramesDelivered++
	m.FramesCoalesced += uint64(coalesced)
	m.BytesDelivered += uint64(bytes)
	m.mu.Unlock()
}

func (m *Metrics) recordInput() {
	m.mu.Lock()
	m.InputEvents++
	m.mu.Unlock()
}

func (m *Metrics) setQueueDrops(input, control, clip, graphics uint64) {
	m.mu.Lock()
	m.InputDrops = input
	m.ControlDrops = control
	m.ClipDrops = clip
	m.GraphicsDrops = graphics
	m.mu.Unlock()
}

// Snapshot is a point-in-time copy for logging and the status endpoint.
type Snapshot struct {
	FramesCaptured  uint64        `json:"framesCaptured"`
	FramesEncoded   uint64        `json:"framesEncoded"`
	FramesQueued    uint64        `json:"framesQueued"`
	FramesDelivered uint64        `json:"framesDelivered"`
	FramesCoalesced uint64        `json:"framesCoalesced"`
	InputEvents     uint64        `json:"inputEvents"`
	InputDrops      uint64        `json:"inputDrops"`
	ControlDrops    uint64        `json:"controlDrops"`
	ClipDrops       uint64        `json:"clipboardDrops"`
	GraphicsDrops   uint64        `json:"graphicsDrops"`
	BytesDelivered  uint64        `json:"bytesDelivered"`
	BandwidthKBps   float64       `json:"bandwidthKBps"`
	EncodeMs        float64       `json:"encodeMs"`
	Uptime          time.Duration `json:"uptime"`
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uptime := time.Since(m.startTime)
	bw := 0.0
	if uptime.Seconds() > 0 {
		bw = float64(m.BytesDelivered) / uptime.Seconds() / 1024.0
	}
	return Snapshot{
		FramesCaptured:  m.FramesCaptured,
		FramesEncoded:   m.FramesEncoded,
		FramesQueued:    m.FramesQueued,
		FramesDelivered: m.FramesDelivered,
		FramesCoalesced: m.FramesCoalesced,
		InputEvents:     m.InputEvents,
		InputDrops:      m.InputDrops,
		ControlDrops:    m.ControlDrops,
		ClipDrops:       m.ClipDrops,
		GraphicsDrops:   m.GraphicsDrops,
		BytesDelivered:  m.BytesDelivered,
		BandwidthKBps:   bw,
		EncodeMs:        float64(m.LastEncodeTime.Microseconds()) / 1000.0,
		Uptime:          uptime,
	}
}
