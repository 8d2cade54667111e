package programmer

import "time"

// Phase is a stage of a programming run.
type Phase uint32

// Programming phases, in run order.
const (
	PhasePreflight Phase = iota
	PhaseEntry
	PhaseBaudNegotiate
	PhaseAuthenticate
	PhaseMassErase
	PhaseWrite
	PhaseVerify
	PhaseExit
	PhaseDone
)

// String returns string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhasePreflight:
		return "preflight"
	case PhaseEntry:
		return "entry"
	case PhaseBaudNegotiate:
		return "baud-negotiate"
	case PhaseAuthenticate:
		return "authenticate"
	case PhaseMassErase:
		return "mass-erase"
	case PhaseWrite:
		return "write"
	case PhaseVerify:
		return "verify"
	case PhaseExit:
		return "exit"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Progress describes the state of a run when a phase starts.
//
// Segment fields are set for PhaseWrite and PhaseVerify. For PhaseVerify,
// BytesWritten already includes the segment being verified.
type Progress struct {
	Phase Phase

	// Segment is the 0-based index of the current segment.
	Segment  int
	Segments int
	Address  uint32
	Size     int
	// CRC is the expected CRC of the current segment.
	CRC uint16
	// Skipped is set on the PhaseWrite event of a segment without data.
	Skipped bool

	BytesWritten int
	TotalBytes   int
	Elapsed      time.Duration
}

// ProgressFunc receives progress events. It is called synchronously from Run.
type ProgressFunc func(Progress)
