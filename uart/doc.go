// Package uart connects libbsl430 to a real serial port.
//
// A Device wraps a go.bug.st/serial port and implements the byte channel and
// the RST/TEST line control needed by the programmer. RST is driven through
// the DTR modem line and TEST through RTS, which matches the usual wiring of
// MSP430 BSL adapters. Boards with inverting level shifters can flip both
// lines with WithInvertLines.
//
// The port is opened lazily: driving a line before Open opens it at the
// initial 9600 baud so the entry sequence can run before the link is used.
package uart
