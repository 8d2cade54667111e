package bsl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/NoNine/libbsl430/internal/clock"
	"github.com/NoNine/libbsl430/logger"
)

// maxDrainBytes bounds a single drain so a babbling line cannot stall the host forever.
const maxDrainBytes = 4096

// Channel is the byte-oriented serial link to the device.
type Channel interface {
	// ReadByteTimeout reads one byte, waiting at most timeout. On timeout the
	// returned error wraps os.ErrDeadlineExceeded.
	ReadByteTimeout(timeout time.Duration) (byte, error)
	// WriteByte writes one byte.
	WriteByte(b byte) error
	// SetBaudRate switches the host side of the link to a new rate.
	SetBaudRate(baud int) error
}

// transport exchanges frames over a Channel and recovers the link after failures.
//
// This type is NOT goroutine-safe. The protocol is strictly request/response,
// so the caller must ensure only one exchange is active at a time.
type transport struct {
	ch       Channel
	cfg      *Config
	logger   logger.Logger
	metrics  *Metrics
	state    atomic.Uint32
	handlers []LinkStateHandler
}

func newTransport(ch Channel, cfg *Config, metrics *Metrics, handlers ...LinkStateHandler) *transport {
	return &transport{
		ch:       ch,
		cfg:      cfg,
		logger:   cfg.GetLogger(),
		metrics:  metrics,
		handlers: handlers,
	}
}

// --- Link state ---

func (t *transport) linkState() LinkState {
	return LinkState(t.state.Load())
}

func (t *transport) setState(newState LinkState) {
	prevState := LinkState(t.state.Swap(uint32(newState)))
	if prevState == newState {
		return
	}

	t.logger.Debug("bsl: link state changed", "prev", prevState.String(), "new", newState.String())
	for _, h := range t.handlers {
		h(prevState, newState)
	}
}

// --- Low-level I/O helpers ---

// readByte reads a single byte with the given timeout and maps channel errors
// onto ErrTimeout and ErrChannel.
func (t *transport) readByte(timeout time.Duration) (byte, error) {
	b, err := t.ch.ReadByteTimeout(timeout)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			t.metrics.incTimeoutCount()
			return 0, fmt.Errorf("%w after %v: %w", ErrTimeout, timeout, err)
		}

		return 0, fmt.Errorf("%w: read: %w", ErrChannel, err)
	}

	return b, nil
}

// readFull reads exactly len(buf) bytes, applying the per-character timeout to
// each byte and checking ctx between bytes.
func (t *transport) readFull(ctx context.Context, buf []byte) error {
	for i := range buf {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		b, err := t.readByte(t.cfg.charTimeout)
		if err != nil {
			return err
		}
		buf[i] = b
	}

	return nil
}

// writeAll writes data one byte at a time, pausing the inter-byte delay before each.
func (t *transport) writeAll(ctx context.Context, data []byte) error {
	for _, b := range data {
		if err := clock.Sleep(ctx, t.cfg.interByteDelay); err != nil {
			return err
		}
		if err := t.ch.WriteByte(b); err != nil {
			return fmt.Errorf("%w: write: %w", ErrChannel, err)
		}
	}

	return nil
}

// drainUntilSilence reads and discards bytes until no byte arrives within one
// per-character timeout.
func (t *transport) drainUntilSilence() int {
	for n := 0; n < maxDrainBytes; n++ {
		if _, err := t.ch.ReadByteTimeout(t.cfg.charTimeout); err != nil {
			return n
		}
	}

	return maxDrainBytes
}

// --- Recovery ---

// resync drives the link from LinkError back to LinkReady: it waits out the
// device busy time and then drains the line until it is quiet.
func (t *transport) resync(ctx context.Context) {
	t.setState(LinkError)
	t.metrics.incResyncCount()

	t.setState(LinkDraining)
	// The busy wait is skipped when ctx is already done; the drain still runs
	// so the next session starts from a quiet line.
	_ = clock.Sleep(ctx, t.cfg.busyTimeout)
	n := t.drainUntilSilence()

	t.setState(LinkReady)
	t.logger.Debug("bsl: link drained", "discarded", n)
}

// fail resynchronizes the link after a failed exchange and returns err.
// Context errors are returned as they are; nothing about the link is known
// to be wrong.
func (t *transport) fail(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	switch {
	case errors.Is(err, ErrBadAck):
		t.metrics.incAckErrCount()
	case errors.Is(err, ErrChecksumMismatch):
		t.metrics.incChecksumErrCount()
	}

	t.logger.Warn("bsl: exchange failed, resynchronizing link", "outcome", Classify(err).String(), "error", err)
	t.resync(ctx)

	return err
}

// --- Send ---

// send writes one frame carrying payload.
func (t *transport) send(ctx context.Context, payload []byte) error {
	if err := clock.Sleep(ctx, t.cfg.sendDelay); err != nil {
		return err
	}

	wire := (&Frame{Payload: payload}).Pack()
	if err := t.writeAll(ctx, wire); err != nil {
		return err
	}

	t.metrics.incFrameSendCount()
	t.metrics.addByteSendCount(len(wire))
	t.logger.Debug("bsl: frame sent", "cmd", Command(payload[0]).String(), "len", len(payload))

	return nil
}

// --- Receive ---

// receive reads the ACK byte and, when expectResponse is set, the response frame.
//
// The ACK and the response header are read with the response timeout; the
// remaining bytes use the per-character timeout.
func (t *transport) receive(ctx context.Context, expectResponse bool) (*Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	ack, err := t.readByte(t.cfg.responseTimeout)
	if err != nil {
		return nil, fmt.Errorf("waiting for ack: %w", err)
	}
	if AckCode(ack) != AckOK {
		return nil, &AckError{Code: AckCode(ack)}
	}
	if !expectResponse {
		return nil, nil //nolint:nilnil // ACK-only exchange carries no frame
	}

	head, err := t.readByte(t.cfg.responseTimeout)
	if err != nil {
		return nil, fmt.Errorf("waiting for response header: %w", err)
	}
	if head != Head {
		return nil, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrBadHeader, head, Head)
	}

	var lenBuf [2]byte
	if err := t.readFull(ctx, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("reading response length: %w", err)
	}

	n := payloadLength(lenBuf[0], lenBuf[1])
	if err := checkPayloadLength(n); err != nil {
		return nil, err
	}

	wire := make([]byte, frameHeaderSize+n+checksumSize)
	wire[0], wire[1], wire[2] = head, lenBuf[0], lenBuf[1]
	if err := t.readFull(ctx, wire[frameHeaderSize:]); err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	frame, err := ParseFrame(wire)
	if err != nil {
		return nil, err
	}

	t.metrics.incFrameRecvCount()

	return frame, nil
}

// exchange sends payload and receives the device's answer. Any failure is
// followed by a link resync before it is returned.
func (t *transport) exchange(ctx context.Context, payload []byte, expectResponse bool) (*Frame, error) {
	if n := len(payload); n < 1 || n > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrInvalidArgument, n)
	}

	if err := t.send(ctx, payload); err != nil {
		return nil, t.fail(ctx, err)
	}

	frame, err := t.receive(ctx, expectResponse)
	if err != nil {
		return nil, t.fail(ctx, err)
	}

	return frame, nil
}
