package bsl

import (
	"sync/atomic"
)

// Metrics contains atomic counters for a BSL link.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// FrameSendCount indicates the number of frames written to the channel.
	FrameSendCount atomic.Uint64
	// FrameRecvCount indicates the number of valid response frames received.
	FrameRecvCount atomic.Uint64
	// ByteSendCount indicates the number of bytes written to the channel.
	ByteSendCount atomic.Uint64

	// AckErrCount indicates the number of frames answered with a non-zero ACK.
	AckErrCount atomic.Uint64
	// TimeoutCount indicates the number of reads that timed out.
	TimeoutCount atomic.Uint64
	// ChecksumErrCount indicates the number of received frames with a bad checksum.
	ChecksumErrCount atomic.Uint64
	// ResyncCount indicates the number of link resynchronizations.
	ResyncCount atomic.Uint64
}

func (m *Metrics) incFrameSendCount() {
	m.FrameSendCount.Add(1)
}

func (m *Metrics) incFrameRecvCount() {
	m.FrameRecvCount.Add(1)
}

func (m *Metrics) addByteSendCount(n int) {
	m.ByteSendCount.Add(uint64(n)) //nolint:gosec // n is a frame length
}

func (m *Metrics) incAckErrCount() {
	m.AckErrCount.Add(1)
}

func (m *Metrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}

func (m *Metrics) incChecksumErrCount() {
	m.ChecksumErrCount.Add(1)
}

func (m *Metrics) incResyncCount() {
	m.ResyncCount.Add(1)
}
