package bsl

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the bsl package.
var (
	// Local errors, detected before anything is sent.
	ErrAddressRange    = errors.New("bsl: address out of range")
	ErrInvalidArgument = errors.New("bsl: invalid argument")

	// Transport errors.
	ErrTimeout            = errors.New("bsl: timeout waiting for device")
	ErrBadAck             = errors.New("bsl: frame not acknowledged")
	ErrBadHeader          = errors.New("bsl: invalid frame header")
	ErrInvalidLength      = errors.New("bsl: invalid frame length")
	ErrChecksumMismatch   = errors.New("bsl: checksum mismatch")
	ErrUnexpectedResponse = errors.New("bsl: unexpected response")
	ErrChannel            = errors.New("bsl: channel failure")

	// Device errors.
	ErrDeviceStatus = errors.New("bsl: device reported failure")
)

// AckError is returned when the device answers a frame with a non-zero ACK byte.
type AckError struct {
	Code AckCode
}

func (e *AckError) Error() string {
	return fmt.Sprintf("bsl: frame not acknowledged: 0x%02X (%s)", byte(e.Code), e.Code)
}

func (e *AckError) Unwrap() error { return ErrBadAck }

// DeviceError is returned when a message response carries a non-success status.
type DeviceError struct {
	Command Command
	Status  Status
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("bsl: %s failed: 0x%02X (%s)", e.Command, byte(e.Status), e.Status)
}

func (e *DeviceError) Unwrap() error { return ErrDeviceStatus }

// IsPasswordErased reports whether err is the device's password error status,
// which also means the device mass-erased its code memory.
func IsPasswordErased(err error) bool {
	var de *DeviceError
	return errors.As(err, &de) && de.Status == StatusPasswordError
}

// Outcome is the tier of a command result.
type Outcome int

const (
	// OutcomeSuccess means the command completed.
	OutcomeSuccess Outcome = iota
	// OutcomeLocal means the request was rejected on the host before sending,
	// or the caller's context ended.
	OutcomeLocal
	// OutcomeTransport means the frame exchange itself failed.
	OutcomeTransport
	// OutcomeDevice means the device processed the command and reported a failure.
	OutcomeDevice
)

// String returns the name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeLocal:
		return "local"
	case OutcomeTransport:
		return "transport"
	case OutcomeDevice:
		return "device"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by this package to its Outcome.
// Errors this package does not produce are reported as OutcomeLocal.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrDeviceStatus):
		return OutcomeDevice
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrBadAck),
		errors.Is(err, ErrBadHeader),
		errors.Is(err, ErrInvalidLength),
		errors.Is(err, ErrChecksumMismatch),
		errors.Is(err, ErrUnexpectedResponse),
		errors.Is(err, ErrChannel):
		return OutcomeTransport
	default:
		return OutcomeLocal
	}
}
