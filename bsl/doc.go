// Package bsl implements the host side of the MSP430 '5xx/6xx/FRxx UART
// bootstrap loader (BSL) protocol.
//
// # Wire Format
//
// Every request is a single frame:
//
//	[0x80][LenLo][LenHi][Payload(1–260)][CrcLo][CrcHi]
//
// The payload starts with a command opcode, followed by a 3-byte little-endian
// address and optional data. The checksum is the CRC-CCITT of the payload
// (see package crc).
//
// The device answers every frame with a single ACK byte. 0x00 means the frame
// was accepted; any other value is one of the AckCode errors. Commands that
// produce a response follow the ACK with a frame of the same layout whose
// payload starts with either 0x3A (data) or 0x3B (message, one status byte).
//
// # Timing
//
// The device UART has a one byte deep FIFO and needs time to switch between
// transmitting and receiving, so the host waits a send delay before each frame
// and an inter-byte delay before each byte. Reads use a response timeout for
// the first byte of an answer and a shorter per-character timeout for the rest.
//
// # Link Recovery
//
// The transport never retries. After any framing, timeout or checksum failure
// it moves the link through LinkError and LinkDraining: it waits out the worst
// case device busy time, then discards incoming bytes until the line has been
// quiet for one per-character timeout, and returns to LinkReady. Only then is
// the failing error returned to the caller.
//
// # Errors
//
// Failures fall into three tiers reported by Classify: local argument errors
// (nothing is sent), transport errors (timeouts, bad ACKs, corrupt frames) and
// device errors carrying a Status code from a message response.
package bsl
