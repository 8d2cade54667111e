package bsl

import (
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/NoNine/libbsl430/internal/bsltest"
	"github.com/stretchr/testify/require"
)

// newTestConfig creates a Config without delays, suitable for tests.
func newTestConfig(t *testing.T, opts ...Option) *Config {
	t.Helper()

	defaults := []Option{
		WithSendDelay(0),
		WithInterByteDelay(0),
		WithBusyTimeout(0),
	}

	cfg, err := NewConfig(append(defaults, opts...)...)
	require.NoError(t, err)

	return cfg
}

// newTestDevice creates an open simulated device at 9600 baud.
func newTestDevice(t *testing.T, opts ...bsltest.Option) *bsltest.Device {
	t.Helper()

	dev := bsltest.NewDevice(t.Name(), opts...)
	require.NoError(t, dev.Open(9600))
	t.Cleanup(func() { _ = dev.Close() })

	return dev
}

// newTestClient creates a Client on ch with the test configuration.
func newTestClient(t *testing.T, ch Channel, opts ...Option) *Client {
	t.Helper()

	c, err := NewClient(ch, newTestConfig(t, opts...))
	require.NoError(t, err)

	return c
}

// unlock sends the default password to an erased device.
func unlock(t *testing.T, c *Client) {
	t.Helper()

	require.NoError(t, c.RxPassword(t.Context(), defaultPassword()))
}

func defaultPassword() []byte {
	pw := make([]byte, PasswordSize)
	for i := range pw {
		pw[i] = 0xFF
	}

	return pw
}

// scriptChannel is a Channel that replays queued bytes and records writes.
type scriptChannel struct {
	mu       sync.Mutex
	rx       []byte
	tx       []byte
	baud     int
	writeErr error
	baudErr  error
}

func newScriptChannel(rx ...byte) *scriptChannel {
	return &scriptChannel{rx: rx, baud: 9600}
}

func (c *scriptChannel) ReadByteTimeout(time.Duration) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.rx) == 0 {
		return 0, fmt.Errorf("script: %w", os.ErrDeadlineExceeded)
	}
	b := c.rx[0]
	c.rx = c.rx[1:]

	return b, nil
}

func (c *scriptChannel) WriteByte(b byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeErr != nil {
		return c.writeErr
	}
	c.tx = append(c.tx, b)

	return nil
}

func (c *scriptChannel) SetBaudRate(baud int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.baudErr != nil {
		return c.baudErr
	}
	c.baud = baud

	return nil
}

func (c *scriptChannel) queue(b ...byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rx = append(c.rx, b...)
}

func (c *scriptChannel) written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]byte(nil), c.tx...)
}

func (c *scriptChannel) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.rx)
}

// stateRecorder collects link state transitions.
type stateRecorder struct {
	mu          sync.Mutex
	transitions [][2]LinkState
}

func (r *stateRecorder) handler(prev, next LinkState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transitions = append(r.transitions, [2]LinkState{prev, next})
}

func (r *stateRecorder) get() [][2]LinkState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([][2]LinkState(nil), r.transitions...)
}

// resyncSequence is the transition list of one complete link recovery.
var resyncSequence = [][2]LinkState{
	{LinkReady, LinkError},
	{LinkError, LinkDraining},
	{LinkDraining, LinkReady},
}

// responseWire builds a complete response frame with a leading OK ACK.
func responseWire(payload ...byte) []byte {
	return append([]byte{byte(AckOK)}, (&Frame{Payload: payload}).Pack()...)
}
