package uart

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/NoNine/libbsl430/programmer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

var _ programmer.Target = (*Device)(nil)

type lineEvent struct {
	line  string
	level bool
}

// fakePort is an in-memory serial.Port replacement.
type fakePort struct {
	rx       []byte
	tx       []byte
	modes    []serial.Mode
	timeouts []time.Duration
	lines    []lineEvent
	resets   int
	closed   bool
	readErr  error
	closeErr error
}

func (p *fakePort) SetMode(mode *serial.Mode) error {
	p.modes = append(p.modes, *mode)
	return nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.rx) == 0 {
		return 0, nil
	}
	n := copy(b, p.rx)
	p.rx = p.rx[n:]

	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.tx = append(p.tx, b...)
	return len(b), nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.resets++
	p.rx = nil

	return nil
}

func (p *fakePort) SetDTR(dtr bool) error {
	p.lines = append(p.lines, lineEvent{"DTR", dtr})
	return nil
}

func (p *fakePort) SetRTS(rts bool) error {
	p.lines = append(p.lines, lineEvent{"RTS", rts})
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.timeouts = append(p.timeouts, t)
	return nil
}

func (p *fakePort) Close() error {
	p.closed = true
	return p.closeErr
}

type opener struct {
	port  *fakePort
	modes []serial.Mode
	err   error
}

func (o *opener) open(_ string, mode *serial.Mode) (port, error) {
	if o.err != nil {
		return nil, o.err
	}
	o.modes = append(o.modes, *mode)

	return o.port, nil
}

func newTestDevice(t *testing.T, opts ...Option) (*Device, *opener) {
	t.Helper()

	o := &opener{port: &fakePort{}}
	d, err := New("/dev/ttyTEST", append(opts, withOpener(o.open))...)
	require.NoError(t, err)

	return d, o
}

func TestParseParity(t *testing.T) {
	tests := []struct {
		in   string
		want serial.Parity
	}{
		{"even", serial.EvenParity},
		{"E", serial.EvenParity},
		{" odd ", serial.OddParity},
		{"o", serial.OddParity},
		{"NONE", serial.NoParity},
		{"n", serial.NoParity},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseParity(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseParity("mark")
	require.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New("")
	require.Error(t, err)

	_, err = New("/dev/ttyS0", WithParity(serial.MarkParity))
	require.Error(t, err)

	_, err = New("/dev/ttyS0", WithLogger(nil))
	require.Error(t, err)
}

func TestDevice_LinesOpenPortLazily(t *testing.T) {
	d, o := newTestDevice(t)
	assert.False(t, d.IsOpen())

	require.NoError(t, d.SetReset(false))
	require.NoError(t, d.SetTest(true))
	assert.True(t, d.IsOpen())

	require.Len(t, o.modes, 1)
	assert.Equal(t, DefaultBaudRate, o.modes[0].BaudRate)
	assert.Equal(t, serial.EvenParity, o.modes[0].Parity)
	assert.Equal(t, DefaultDataBits, o.modes[0].DataBits)
	assert.Equal(t, serial.OneStopBit, o.modes[0].StopBits)

	assert.Equal(t, []lineEvent{{"DTR", false}, {"RTS", true}}, o.port.lines)
}

func TestDevice_InvertLines(t *testing.T) {
	d, o := newTestDevice(t, WithInvertLines(true))

	require.NoError(t, d.SetReset(true))
	require.NoError(t, d.SetTest(false))

	assert.Equal(t, []lineEvent{{"DTR", false}, {"RTS", true}}, o.port.lines)
}

func TestDevice_OpenAfterLines(t *testing.T) {
	d, o := newTestDevice(t, WithParity(serial.NoParity))

	require.NoError(t, d.SetReset(true))
	o.port.rx = []byte{0xAA}
	require.NoError(t, d.Open(9600))

	// The line control already opened the port, so Open only reconfigures it.
	assert.Len(t, o.modes, 1)
	require.Len(t, o.port.modes, 1)
	assert.Equal(t, serial.NoParity, o.port.modes[0].Parity)
	assert.Equal(t, 1, o.port.resets)
	assert.Empty(t, o.port.rx)
}

func TestDevice_OpenError(t *testing.T) {
	d, o := newTestDevice(t)
	o.err = errors.New("no such device")

	err := d.Open(9600)
	require.Error(t, err)
	assert.False(t, d.IsOpen())

	require.ErrorContains(t, d.SetReset(true), "no such device")
	require.Error(t, d.Open(0))
}

func TestDevice_ReadByteTimeout(t *testing.T) {
	d, o := newTestDevice(t)

	_, err := d.ReadByteTimeout(time.Millisecond)
	require.ErrorIs(t, err, ErrClosed)

	require.NoError(t, d.Open(9600))
	o.port.rx = []byte{0x00, 0x80}

	b, err := d.ReadByteTimeout(100 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), b)

	b, err = d.ReadByteTimeout(100 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, byte(0x80), b)

	_, err = d.ReadByteTimeout(10 * time.Millisecond)
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)

	// The read timeout is only reprogrammed when it changes.
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 10 * time.Millisecond}, o.port.timeouts)

	o.port.readErr = errors.New("device unplugged")
	_, err = d.ReadByteTimeout(10 * time.Millisecond)
	require.Error(t, err)
	assert.NotErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestDevice_WriteByte(t *testing.T) {
	d, o := newTestDevice(t)
	require.ErrorIs(t, d.WriteByte(0x80), ErrClosed)

	require.NoError(t, d.Open(9600))
	for _, b := range []byte{0x80, 0x01, 0x00, 0x19} {
		require.NoError(t, d.WriteByte(b))
	}

	assert.Equal(t, []byte{0x80, 0x01, 0x00, 0x19}, o.port.tx)
}

func TestDevice_SetBaudRate(t *testing.T) {
	d, o := newTestDevice(t)
	require.ErrorIs(t, d.SetBaudRate(115200), ErrClosed)

	require.NoError(t, d.Open(9600))
	require.NoError(t, d.SetBaudRate(115200))

	assert.Equal(t, 115200, d.BaudRate())
	require.Len(t, o.port.modes, 1)
	assert.Equal(t, 115200, o.port.modes[0].BaudRate)
	assert.Equal(t, serial.EvenParity, o.port.modes[0].Parity)
}

func TestDevice_Close(t *testing.T) {
	d, o := newTestDevice(t)
	require.NoError(t, d.Close())

	require.NoError(t, d.Open(9600))
	require.NoError(t, d.Close())
	assert.True(t, o.port.closed)
	assert.False(t, d.IsOpen())

	o.port.closeErr = errors.New("busy")
	require.NoError(t, d.Open(9600))
	require.Error(t, d.Close())
	assert.False(t, d.IsOpen())

	// Reopening reprograms the read timeout.
	o.port.timeouts = nil
	require.NoError(t, d.Open(9600))
	_, _ = d.ReadByteTimeout(10 * time.Millisecond)
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, o.port.timeouts)
}
