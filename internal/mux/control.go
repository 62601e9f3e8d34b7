package mux

// ControlKind tags a control-queue item.
type ControlKind int

const (
	// ControlQuit terminates the drain loop.
	ControlQuit ControlKind = iota
	// ControlRefresh requests a full-frame refresh (client resync).
	ControlRefresh
	// ControlMonitorsChanged reports a portal stream reconfiguration.
	ControlMonitorsChanged
)

// ControlItem is a low-rate session control event.
type ControlItem struct {
	Kind ControlKind

	// Width/Height accompany ControlMonitorsChanged.
	Width, Height int
}
