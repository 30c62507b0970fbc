package http2

import "github.com/momentics/netcore/api"

// FlowWindow tracks one flow-control window (connection-level or one
// stream's), per RFC 7540 §6.9. The window is a signed quantity: an
// INITIAL_WINDOW_SIZE decrease applied mid-stream can legally drive an
// already-consumed window negative (RFC 7540 §6.9.2), which is why Size
// is int64 rather than a uint.
type FlowWindow struct {
	Size int64
}

// NewFlowWindow builds a window at the given initial size.
func NewFlowWindow(initial uint32) *FlowWindow {
	return &FlowWindow{Size: int64(initial)}
}

// Consume reduces the window by n bytes sent/received, erroring if n
// exceeds the currently available size (a peer violating flow control).
func (w *FlowWindow) Consume(n uint32) error {
	if int64(n) > w.Size {
		return api.NewError(api.ProtoError, "http2.FlowWindow.Consume", "flow control window exceeded", nil)
	}
	w.Size -= int64(n)
	return nil
}

// Grant applies a WINDOW_UPDATE increment.
func (w *FlowWindow) Grant(n uint32) error {
	newSize := w.Size + int64(n)
	if newSize > 1<<31-1 {
		return api.NewError(api.ProtoError, "http2.FlowWindow.Grant", "window update overflow", nil)
	}
	w.Size = newSize
	return nil
}

// ApplyInitialWindowSizeDelta applies a SETTINGS_INITIAL_WINDOW_SIZE
// change (delta = new - old) to a stream's window, per RFC 7540 §6.9.2
// — every open stream's window shifts by the same delta, which may
// drive it negative.
func (w *FlowWindow) ApplyInitialWindowSizeDelta(delta int64) {
	w.Size += delta
}

// WindowUpdateThreshold reports whether a receiver should emit
// WINDOW_UPDATE: when the consumed portion has passed half of the
// initial window (spec.md §4.5's "WINDOW_UPDATE at half-initial-size
// threshold").
func WindowUpdateThreshold(consumed, initial uint32) bool {
	return consumed >= initial/2
}
