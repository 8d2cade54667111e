package programmer

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the programmer package.
var (
	ErrTargetBusy  = errors.New("programmer: target is in use")
	ErrEmptyImage  = errors.New("programmer: image has no segments")
	ErrCRCMismatch = errors.New("programmer: CRC mismatch")
)

// TargetBusyError is returned when another session holds the target.
type TargetBusyError struct {
	Name string
}

func (e *TargetBusyError) Error() string {
	return fmt.Sprintf("programmer: target %q is in use", e.Name)
}

func (e *TargetBusyError) Unwrap() error { return ErrTargetBusy }

// SegmentError reports the segment and phase in which a run failed.
type SegmentError struct {
	Index   int
	Address uint32
	Size    int
	Phase   Phase
	Err     error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("programmer: segment %d @0x%04X (%d bytes): %s: %v", e.Index, e.Address, e.Size, e.Phase, e.Err)
}

func (e *SegmentError) Unwrap() error { return e.Err }

// CRCMismatchError indicates that the device CRC of a written segment differs
// from the CRC of the image data.
type CRCMismatchError struct {
	Address  uint32
	Size     int
	Expected uint16
	Actual   uint16
}

func (e *CRCMismatchError) Error() string {
	return fmt.Sprintf("programmer: CRC mismatch @0x%04X (%d bytes): expected 0x%04X, device 0x%04X",
		e.Address, e.Size, e.Expected, e.Actual)
}

func (e *CRCMismatchError) Unwrap() error { return ErrCRCMismatch }
