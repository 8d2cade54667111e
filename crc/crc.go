// Package crc implements the CRC-CCITT checksum used by the MSP430 BSL.
//
// The checksum uses the polynomial x^16 + x^12 + x^5 + 1 (0x1021), processes
// bits MSB first, and is seeded with 0xFFFF. The same algorithm protects every
// frame on the wire and is what the device computes for its CRC Check command,
// so frame integrity and post-write verification share this package.
package crc

import "github.com/sigurn/crc16"

// Seed is the initial accumulator value for every BSL checksum.
const Seed uint16 = 0xFFFF

// CCITT-FALSE is the catalogue name of the BSL variant: no input or output
// reflection and no final XOR, so an accumulator can be folded further at any point.
var table = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Add folds one byte into the running accumulator acc.
func Add(b byte, acc uint16) uint16 {
	return crc16.Update(acc, []byte{b}, table)
}

// Compute folds data into the accumulator seed and returns the result.
func Compute(data []byte, seed uint16) uint16 {
	return crc16.Update(seed, data, table)
}

// Checksum returns the checksum of data seeded with Seed.
func Checksum(data []byte) uint16 {
	return Compute(data, Seed)
}
