package programmer

import (
	"testing"

	"github.com/NoNine/libbsl430/bsl"
	"github.com/NoNine/libbsl430/internal/bsltest"
	"github.com/NoNine/libbsl430/titxt"
	"github.com/stretchr/testify/require"
)

// newTestProgrammer creates a Programmer without line, settle or frame delays.
func newTestProgrammer(t *testing.T, target Target, opts ...Option) *Programmer {
	t.Helper()

	defaults := []Option{
		WithLineInterval(0),
		WithSettleDelay(0),
		WithClientOptions(
			bsl.WithSendDelay(0),
			bsl.WithInterByteDelay(0),
			bsl.WithBusyTimeout(0),
		),
	}

	p, err := New(target, append(defaults, opts...)...)
	require.NoError(t, err)

	return p
}

// testImage returns three small segments inside the default address range.
func testImage() *titxt.Image {
	return &titxt.Image{Segments: []titxt.Segment{
		{Address: 0xC400, Data: []byte{0x31, 0x40, 0x00, 0x24, 0xB2, 0x40, 0x80, 0x5A}},
		{Address: 0xD000, Data: []byte{0x01, 0x02, 0x03, 0x04}},
		{Address: 0xFFFE, Data: []byte{0x00, 0xC4}},
	}}
}

// entrySequence is the RST/TEST pattern that starts the BSL.
var entrySequence = []bsltest.LineEvent{
	{Line: bsltest.LineReset, High: false},
	{Line: bsltest.LineTest, High: false},
	{Line: bsltest.LineTest, High: true},
	{Line: bsltest.LineTest, High: false},
	{Line: bsltest.LineTest, High: true},
	{Line: bsltest.LineReset, High: true},
	{Line: bsltest.LineTest, High: false},
}

// resetPulse is the RST pattern that leaves the BSL.
var resetPulse = []bsltest.LineEvent{
	{Line: bsltest.LineReset, High: false},
	{Line: bsltest.LineReset, High: true},
}

// requireExited checks that the run ended with the reset pulse and a closed channel.
func requireExited(t *testing.T, dev *bsltest.Device) {
	t.Helper()

	lines := dev.Lines()
	require.GreaterOrEqual(t, len(lines), len(resetPulse))
	require.Equal(t, resetPulse, lines[len(lines)-len(resetPulse):])
	require.False(t, dev.IsOpen())
	require.Equal(t, 1, dev.CloseCount())
}

// progressRecorder collects progress events.
type progressRecorder struct {
	events []Progress
}

func (r *progressRecorder) record(p Progress) {
	r.events = append(r.events, p)
}

func (r *progressRecorder) phases() []Phase {
	out := make([]Phase, len(r.events))
	for i, e := range r.events {
		out[i] = e.Phase
	}

	return out
}
