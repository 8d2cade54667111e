package bsl

import "fmt"

// Version is the 4-byte BSL version, most significant byte first.
type Version uint32

// Vendor returns the vendor byte (0x00 for TI).
func (v Version) Vendor() byte { return byte(v >> 24) }

// Interpreter returns the command interpreter version.
func (v Version) Interpreter() byte { return byte(v >> 16) }

// API returns the BSL API version.
func (v Version) API() byte { return byte(v >> 8) }

// PeripheralInterface returns the peripheral interface version.
func (v Version) PeripheralInterface() byte { return byte(v) }

// String formats the version as four dot-separated hex bytes.
func (v Version) String() string {
	return fmt.Sprintf("%02X.%02X.%02X.%02X", v.Vendor(), v.Interpreter(), v.API(), v.PeripheralInterface())
}
