package bsl

import (
	"fmt"

	"github.com/NoNine/libbsl430/crc"
)

// Head is the first byte of every frame.
const Head byte = 0x80

// MaxDataSize is the largest data block carried by a single frame.
const MaxDataSize = 256

// MaxPayloadSize is the largest frame payload: opcode, 3-byte address and data.
const MaxPayloadSize = 1 + addressSize + MaxDataSize

const (
	frameHeaderSize = 3 // Head, LenLo, LenHi
	checksumSize    = 2
	addressSize     = 3
)

// Frame is a single BSL protocol frame.
//
// On the wire a frame is [Head][LenLo][LenHi][Payload][CrcLo][CrcHi], where
// the length counts payload bytes only and the CRC covers the payload.
type Frame struct {
	Payload []byte
}

// Length returns the payload length.
func (f *Frame) Length() int {
	return len(f.Payload)
}

// Checksum returns the CRC-CCITT of the payload.
func (f *Frame) Checksum() uint16 {
	return crc.Checksum(f.Payload)
}

// Pack serializes the frame to its wire format.
// The returned slice has length 3 + Length() + 2.
func (f *Frame) Pack() []byte {
	n := len(f.Payload)
	buf := make([]byte, frameHeaderSize+n+checksumSize)

	buf[0] = Head
	buf[1] = byte(n)
	buf[2] = byte(n >> 8)
	copy(buf[frameHeaderSize:], f.Payload)

	cs := f.Checksum()
	buf[len(buf)-2] = byte(cs)
	buf[len(buf)-1] = byte(cs >> 8)

	return buf
}

// ParseFrame deserializes a frame from its complete wire format.
//
// ParseFrame validates:
//   - The first byte is Head.
//   - The length field is within [1, MaxPayloadSize] and matches len(wire).
//   - The checksum matches.
func ParseFrame(wire []byte) (*Frame, error) {
	if len(wire) < frameHeaderSize+checksumSize {
		return nil, fmt.Errorf("%w: frame of %d bytes is too short", ErrInvalidLength, len(wire))
	}
	if wire[0] != Head {
		return nil, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrBadHeader, wire[0], Head)
	}

	n := payloadLength(wire[1], wire[2])
	if err := checkPayloadLength(n); err != nil {
		return nil, err
	}
	if len(wire) != frameHeaderSize+n+checksumSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidLength, len(wire), frameHeaderSize+n+checksumSize)
	}

	f := &Frame{Payload: make([]byte, n)}
	copy(f.Payload, wire[frameHeaderSize:frameHeaderSize+n])

	wireChecksum := uint16(wire[len(wire)-2]) | uint16(wire[len(wire)-1])<<8
	if calc := f.Checksum(); calc != wireChecksum {
		return nil, fmt.Errorf("%w: wire=0x%04X, computed=0x%04X", ErrChecksumMismatch, wireChecksum, calc)
	}

	return f, nil
}

func payloadLength(lo, hi byte) int {
	return int(lo) | int(hi)<<8
}

func checkPayloadLength(n int) error {
	if n < 1 || n > MaxPayloadSize {
		return fmt.Errorf("%w: got %d, want 1–%d", ErrInvalidLength, n, MaxPayloadSize)
	}

	return nil
}

// putAddress writes a 3-byte little-endian address.
func putAddress(buf []byte, addr uint32) {
	buf[0] = byte(addr)
	buf[1] = byte(addr >> 8)
	buf[2] = byte(addr >> 16)
}
