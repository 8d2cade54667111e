// Package titxt parses firmware images in the TI-TXT format.
//
// A TI-TXT file is line oriented:
//
//	@C400
//	31 40 00 24 B2 40 80 5A
//	20 01
//	@FFFE
//	00 C4
//	q
//
// A line starting with '@' opens a segment at the given hexadecimal address.
// Following lines carry whitespace separated hexadecimal bytes appended to
// the current segment. A line starting with 'q' ends the file. Blank lines
// are ignored and LF, CRLF and bare CR line endings are accepted.
//
// The parsed Image is bounded by a capacity that models the packed layout used
// by small programmers: a 4-byte header, then per segment an 8-byte
// address/size header followed by its data padded to 8 bytes.
package titxt
