package bsl

import (
	"testing"

	"github.com/NoNine/libbsl430/crc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_Pack_Layout(t *testing.T) {
	f := &Frame{Payload: []byte{byte(CmdTxBSLVersion)}}
	wire := f.Pack()

	sum := crc.Checksum([]byte{0x19})
	assert.Equal(t, []byte{0x80, 0x01, 0x00, 0x19, byte(sum), byte(sum >> 8)}, wire)
	assert.Equal(t, 1, f.Length())
}

func TestFrame_Pack_LengthLittleEndian(t *testing.T) {
	f := &Frame{Payload: make([]byte, MaxPayloadSize)}
	wire := f.Pack()

	require.Len(t, wire, 3+MaxPayloadSize+2)
	assert.Equal(t, byte(MaxPayloadSize&0xFF), wire[1])
	assert.Equal(t, byte(MaxPayloadSize>>8), wire[2])
}

func TestFrame_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"single byte", []byte{0x19}},
		{"password", append([]byte{0x11}, defaultPassword()...)},
		{"crc check", []byte{0x16, 0x00, 0xC4, 0x00, 0x10, 0x00}},
		{"max payload", func() []byte {
			p := make([]byte, MaxPayloadSize)
			for i := range p {
				p[i] = byte(i * 7)
			}
			return p
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &Frame{Payload: tt.payload}
			parsed, err := ParseFrame(f.Pack())
			require.NoError(t, err)
			assert.Equal(t, tt.payload, parsed.Payload)
			assert.Equal(t, f.Checksum(), parsed.Checksum())
		})
	}
}

func TestParseFrame_BitFlips(t *testing.T) {
	payload := []byte{0x10, 0x00, 0xC4, 0x00, 0xDE, 0xAD, 0xBE, 0xEF}
	wire := (&Frame{Payload: payload}).Pack()

	// Every bit of the payload and the checksum, the length field excluded.
	for i := frameHeaderSize; i < len(wire); i++ {
		for bit := 0; bit < 8; bit++ {
			corrupted := append([]byte(nil), wire...)
			corrupted[i] ^= 1 << bit

			_, err := ParseFrame(corrupted)
			require.ErrorIs(t, err, ErrChecksumMismatch, "byte %d bit %d", i, bit)
		}
	}
}

func TestParseFrame_Errors(t *testing.T) {
	valid := (&Frame{Payload: []byte{0x3B, 0x00}}).Pack()

	tests := []struct {
		name string
		wire []byte
		want error
	}{
		{"too short", []byte{0x80, 0x01, 0x00, 0x19}, ErrInvalidLength},
		{"bad header", append([]byte{0x81}, valid[1:]...), ErrBadHeader},
		{"zero length", []byte{0x80, 0x00, 0x00, 0xFF, 0xFF}, ErrInvalidLength},
		{"length above max", []byte{0x80, 0x05, 0x01, 0x00, 0x00, 0x00}, ErrInvalidLength},
		{"truncated body", valid[:len(valid)-1], ErrInvalidLength},
		{"trailing byte", append(append([]byte(nil), valid...), 0x00), ErrInvalidLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFrame(tt.wire)
			require.ErrorIs(t, err, tt.want)
			assert.Nil(t, f)
		})
	}
}

func TestVersion_Accessors(t *testing.T) {
	v := Version(0x000734B4)

	assert.Equal(t, byte(0x00), v.Vendor())
	assert.Equal(t, byte(0x07), v.Interpreter())
	assert.Equal(t, byte(0x34), v.API())
	assert.Equal(t, byte(0xB4), v.PeripheralInterface())
	assert.Equal(t, "00.07.34.B4", v.String())
}
