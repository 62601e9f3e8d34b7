package clipboard

import (
	"context"
	"crypto/sha256"
	"time"
)

// pollInterval is the owner-change polling cadence when the portal backend
// never emits SelectionOwnerChanged.
const pollInterval = 500 * time.Millisecond

// RunOwnerPoll is the fallback for portal backends that do not emit
// SelectionOwnerChanged: the text selection is re-read at a low rate and a
// content change is treated as an ownership change. Observable behavior
// matches the signal path; only latency degrades. Blocks until ctx ends.
func (b *Broker) RunOwnerPoll(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastHash [sha256.Size]byte
	var seeded bool

	log.Info("Clipboard owner-change polling enabled", "interval", pollInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// While the RDP side owns the selection, the portal would hand
		// back our own announcement; skip until ownership moves.
		if b.State() == StateRdpOwned {
			seeded = false
			continue
		}

		data, err := b.readSelection(ctx, MimeTextUTF8)
		if err != nil || len(data) == 0 {
			continue
		}
		hash := sha256.Sum256(data)
		if !seeded {
			lastHash = hash
			seeded = true
			continue
		}
		if hash == lastHash {
			continue
		}
		lastHash = hash
		b.HandleSelectionOwnerChanged([]string{MimeTextUTF8, MimeTextPlain}, false)
	}
}
