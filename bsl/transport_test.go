package bsl

import (
	"context"
	"errors"
	"testing"

	"github.com/NoNine/libbsl430/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransport(t *testing.T, ch Channel, rec *stateRecorder, opts ...Option) *transport {
	t.Helper()

	var handlers []LinkStateHandler
	if rec != nil {
		handlers = append(handlers, rec.handler)
	}

	return newTransport(ch, newTestConfig(t, opts...), &Metrics{}, handlers...)
}

// --- Send ---

func TestTransport_Send_WireFormat(t *testing.T) {
	ch := newScriptChannel()
	tr := newTestTransport(t, ch, nil)

	payload := []byte{0x16, 0x00, 0xC4, 0x00, 0x04, 0x00}
	require.NoError(t, tr.send(t.Context(), payload))

	assert.Equal(t, (&Frame{Payload: payload}).Pack(), ch.written())
	assert.Equal(t, uint64(1), tr.metrics.FrameSendCount.Load())
	assert.Equal(t, uint64(3+6+2), tr.metrics.ByteSendCount.Load())
}

func TestTransport_Send_WriteError(t *testing.T) {
	ch := newScriptChannel()
	ch.writeErr = errors.New("port gone")
	rec := &stateRecorder{}
	tr := newTestTransport(t, ch, rec)

	_, err := tr.exchange(t.Context(), []byte{0x19}, true)
	require.ErrorIs(t, err, ErrChannel)
	assert.Equal(t, OutcomeTransport, Classify(err))
	assert.Equal(t, resyncSequence, rec.get())
}

func TestTransport_Exchange_InvalidPayload(t *testing.T) {
	ch := newScriptChannel()
	rec := &stateRecorder{}
	tr := newTestTransport(t, ch, rec)

	_, err := tr.exchange(t.Context(), nil, false)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = tr.exchange(t.Context(), make([]byte, MaxPayloadSize+1), false)
	require.ErrorIs(t, err, ErrInvalidArgument)

	assert.Empty(t, ch.written())
	assert.Empty(t, rec.get())
}

// --- Receive ---

func TestTransport_Exchange_AckOnly(t *testing.T) {
	ch := newScriptChannel(byte(AckOK))
	rec := &stateRecorder{}
	tr := newTestTransport(t, ch, rec)

	frame, err := tr.exchange(t.Context(), []byte{0x52, 0x06}, false)
	require.NoError(t, err)
	assert.Nil(t, frame)
	assert.Empty(t, rec.get())
	assert.Equal(t, LinkReady, tr.linkState())
}

func TestTransport_Exchange_Response(t *testing.T) {
	ch := newScriptChannel(responseWire(0x3A, 0x00, 0x07, 0x34, 0xB4)...)
	tr := newTestTransport(t, ch, nil)

	frame, err := tr.exchange(t.Context(), []byte{0x19}, true)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x3A, 0x00, 0x07, 0x34, 0xB4}, frame.Payload)
	assert.Equal(t, uint64(1), tr.metrics.FrameRecvCount.Load())
	assert.Zero(t, ch.pending())
}

func TestTransport_Exchange_Failures(t *testing.T) {
	badCRC := responseWire(0x3B, 0x00)
	badCRC[len(badCRC)-1] ^= 0x80

	tests := []struct {
		name string
		rx   []byte
		want error
	}{
		{"no ack", nil, ErrTimeout},
		{"nak", []byte{byte(AckChecksumIncorrect)}, ErrBadAck},
		{"no header", []byte{byte(AckOK)}, ErrTimeout},
		{"bad header", []byte{byte(AckOK), 0x81, 0x02, 0x00, 0x3B, 0x00}, ErrBadHeader},
		{"truncated length", []byte{byte(AckOK), 0x80, 0x02}, ErrTimeout},
		{"zero length", []byte{byte(AckOK), 0x80, 0x00, 0x00}, ErrInvalidLength},
		{"oversized length", []byte{byte(AckOK), 0x80, 0xFF, 0xFF, 0x01, 0x02}, ErrInvalidLength},
		{"truncated body", []byte{byte(AckOK), 0x80, 0x02, 0x00, 0x3B}, ErrTimeout},
		{"checksum mismatch", badCRC, ErrChecksumMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newScriptChannel(tt.rx...)
			rec := &stateRecorder{}
			tr := newTestTransport(t, ch, rec)

			frame, err := tr.exchange(t.Context(), []byte{0x15}, true)
			require.ErrorIs(t, err, tt.want)
			assert.Nil(t, frame)
			assert.Equal(t, OutcomeTransport, Classify(err))

			// The failure is followed by a full recovery and a drained line.
			assert.Equal(t, resyncSequence, rec.get())
			assert.Equal(t, LinkReady, tr.linkState())
			assert.Zero(t, ch.pending())
			assert.Equal(t, uint64(1), tr.metrics.ResyncCount.Load())
		})
	}
}

func TestTransport_Exchange_AckErrorCode(t *testing.T) {
	ch := newScriptChannel(byte(AckUnknownBaudRate))
	tr := newTestTransport(t, ch, nil)

	_, err := tr.exchange(t.Context(), []byte{0x52, 0x09}, false)

	var ackErr *AckError
	require.ErrorAs(t, err, &ackErr)
	assert.Equal(t, AckUnknownBaudRate, ackErr.Code)
	assert.Contains(t, err.Error(), "unknown baud rate")
	assert.Equal(t, uint64(1), tr.metrics.AckErrCount.Load())
}

func TestTransport_Exchange_ChecksumMetric(t *testing.T) {
	wire := responseWire(0x3B, 0x00)
	wire[4] ^= 0x01
	ch := newScriptChannel(wire...)
	tr := newTestTransport(t, ch, nil)

	_, err := tr.exchange(t.Context(), []byte{0x15}, true)
	require.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Equal(t, uint64(1), tr.metrics.ChecksumErrCount.Load())
}

func TestTransport_Exchange_TimeoutMetric(t *testing.T) {
	tr := newTestTransport(t, newScriptChannel(), nil)

	_, err := tr.exchange(t.Context(), []byte{0x15}, true)
	require.ErrorIs(t, err, ErrTimeout)
	// The quiet read that ends the drain is not counted.
	assert.Equal(t, uint64(1), tr.metrics.TimeoutCount.Load())
}

func TestTransport_Exchange_ContextCancelled(t *testing.T) {
	ch := newScriptChannel(byte(AckOK))
	rec := &stateRecorder{}
	tr := newTestTransport(t, ch, rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.exchange(ctx, []byte{0x15}, true)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeLocal, Classify(err))
	assert.Empty(t, ch.written())
	assert.Empty(t, rec.get())
}

// --- Resync ---

func TestTransport_Resync_DrainsNoise(t *testing.T) {
	ch := newScriptChannel(0x12, 0x34, 0x56, 0x80, 0x00)
	rec := &stateRecorder{}
	tr := newTestTransport(t, ch, rec)

	tr.resync(t.Context())

	assert.Zero(t, ch.pending())
	assert.Equal(t, resyncSequence, rec.get())
	assert.True(t, tr.linkState().IsReady())
}

func TestTransport_Resync_BoundedDrain(t *testing.T) {
	noise := make([]byte, maxDrainBytes+10)
	ch := newScriptChannel(noise...)
	tr := newTestTransport(t, ch, nil)

	tr.resync(t.Context())

	assert.Equal(t, 10, ch.pending())
	assert.Equal(t, LinkReady, tr.linkState())
}

func TestTransport_Resync_LogsWarning(t *testing.T) {
	ml := logger.NewMockLogger()
	ml.Expect(logger.WarnLevel, "bsl: exchange failed, resynchronizing link", logger.HasKeyValue("outcome", "transport"))
	ml.Allow(logger.DebugLevel)

	tr := newTestTransport(t, newScriptChannel(), nil, WithLogger(ml))

	_, err := tr.exchange(t.Context(), []byte{0x15}, true)
	require.ErrorIs(t, err, ErrTimeout)
	ml.AssertExpectations(t)
}

func TestLinkState_String(t *testing.T) {
	assert.Equal(t, "ready", LinkReady.String())
	assert.Equal(t, "error", LinkError.String())
	assert.Equal(t, "draining", LinkDraining.String())
	assert.Equal(t, "unknown", LinkState(42).String())
}
