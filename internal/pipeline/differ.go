package pipeline

import (
	"hash/crc32"
	"time"
)

// sampleRows bounds digest cost on large frames: at most this many rows
// contribute to the digest, spread evenly across the surface.
const sampleRows = 64

// Differ skips encoding of unchanged frames via a cheap digest of sampled
// pixel rows, with a mandatory periodic refresh so a static screen is never
// skipped indefinitely.
type Differ struct {
	refreshInterval time.Duration

	lastDigest uint32
	hasDigest  bool
	lastEmit   time.Time

	now func() time.Time
}

// NewDiffer creates a differ with the given mandatory refresh interval
// (≤ 1s keeps clients recoverable after packet loss).
func NewDiffer(refreshInterval time.Duration) *Differ {
	if refreshInterval <= 0 || refreshInterval > time.Second {
		refreshInterval = time.Second
	}
	return &Differ{refreshInterval: refreshInterval, now: time.Now}
}

// ShouldEncode reports whether the frame should be encoded, and whether the
// encode is a periodic refresh of unchanged content (callers send the full
// frame in that case).
func (d *Differ) ShouldEncode(data []byte, width, height, stride, bpp int) (encode, refresh bool) {
	digest := d.digest(data, width, height, stride, bpp)
	now := d.now()

	if !d.hasDigest || digest != d.lastDigest {
		d.lastDigest = digest
		d.hasDigest = true
		d.lastEmit = now
		return true, false
	}

	if now.Sub(d.lastEmit) >= d.refreshInterval {
		d.lastEmit = now
		return true, true
	}
	return false, false
}

// Reset clears the stored digest (e.g. after a stream reconfiguration).
func (d *Differ) Reset() {
	d.hasDigest = false
}

func (d *Differ) digest(data []byte, width, height, stride, bpp int) uint32 {
	rowBytes := width * bpp
	if height <= 0 || rowBytes <= 0 || len(data) < stride*height {
		return crc32.ChecksumIEEE(data)
	}

	step := height / sampleRows
	if step < 1 {
		step = 1
	}
	crc := uint32(0)
	for y := 0; y < height; y += step {
		row := data[y*stride : y*stride+rowBytes]
		crc = crc32.Update(crc, crc32.IEEETable, row)
	}
	return crc
}
