package pipeline

import "time"

// FrameRate is a token-bucket admission gate for candidate frames.
type FrameRate struct {
	targetFPS float64
	maxTokens float64
	tokens    float64
	last      time.Time
	started   bool

	now func() time.Time
}

// NewFrameRate creates a gate admitting at most targetFPS frames per second
// with a bucket depth of one token.
func NewFrameRate(targetFPS int) *FrameRate {
	if targetFPS < 1 {
		targetFPS = 1
	}
	return &FrameRate{
		targetFPS: float64(targetFPS),
		maxTokens: 1.0,
		now:       time.Now,
	}
}

// Admit decides whether the current candidate frame may proceed.
//
// The last-tick timestamp advances on every call, admitted or not. Advancing
// it only on admission lets elapsed time accumulate across rejected calls
// and inflates the effective rate well above the target.
func (r *FrameRate) Admit() bool {
	now := r.now()
	if !r.started {
		r.started = true
		r.last = now
		r.tokens = r.maxTokens
	} else {
		r.tokens += now.Sub(r.last).Seconds() * r.targetFPS
		if r.tokens > r.maxTokens {
			r.tokens = r.maxTokens
		}
		r.last = now
	}

	// Clock and float rounding can leave the bucket a hair below one token
	// (two 60 Hz ticks at a 30 fps target sum to 0.99999996); a tiny
	// tolerance admits such frames and the level never goes negative.
	const admitTolerance = 1e-6
	if r.tokens >= 1.0-admitTolerance {
		r.tokens -= 1.0
		if r.tokens < 0 {
			r.tokens = 0
		}
		return true
	}
	return false
}

// Tokens returns the current bucket level.
func (r *FrameRate) Tokens() float64 {
	return r.tokens
}
