package bsl

// LinkState is the recovery state of the frame transport.
type LinkState uint32

// Link states. A healthy link stays in LinkReady; any failed exchange moves it
// through LinkError and LinkDraining back to LinkReady.
const (
	// LinkReady indicates the link is synchronized and a frame may be sent.
	LinkReady LinkState = iota
	// LinkError indicates the last exchange failed and the device may still be transmitting.
	LinkError
	// LinkDraining indicates the transport is discarding input until the line is quiet.
	LinkDraining
)

// IsReady returns if the link can carry a new frame.
func (s LinkState) IsReady() bool { return s == LinkReady }

// String returns string representation of the link state.
func (s LinkState) String() string {
	switch s {
	case LinkReady:
		return "ready"
	case LinkError:
		return "error"
	case LinkDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// LinkStateHandler is invoked synchronously on every link state change.
//
// Note: the handler runs inside the exchange that caused the change. Take care
// with long-running implementations.
type LinkStateHandler func(prevState LinkState, newState LinkState)
