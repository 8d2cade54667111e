// Package bsltest provides a simulated MSP430 BSL for tests.
//
// Device speaks the device side of the UART BSL protocol and implements the
// byte channel and the reset/test line control used by the bsl and programmer
// packages. Answers are queued synchronously as the host writes the last byte
// of a frame, so reads never block: an empty queue is reported as a timeout
// immediately.
package bsltest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/NoNine/libbsl430/crc"
)

// ErrClosed is returned by channel operations on a closed device.
var ErrClosed = errors.New("bsltest: device is closed")

// Opcodes and codes spoken by the simulated device.
const (
	opRxDataBlock    = 0x10
	opRxPassword     = 0x11
	opMassErase      = 0x15
	opCRCCheck       = 0x16
	opLoadPC         = 0x17
	opTxDataBlock    = 0x18
	opTxBSLVersion   = 0x19
	opChangeBaudRate = 0x52

	head        = 0x80
	respData    = 0x3A
	respMessage = 0x3B

	ackOK                 = 0x00
	ackHeaderIncorrect    = 0x51
	ackChecksumIncorrect  = 0x52
	ackPacketSizeZero     = 0x53
	ackPacketSizeTooLarge = 0x54
	ackUnknownBaudRate    = 0x56

	statusSuccess        = 0x00
	statusLocked         = 0x04
	statusPasswordError  = 0x05
	statusUnknownCommand = 0x07

	maxPayload = 260
)

// fixedLength is the payload length of commands without a data field.
var fixedLength = map[byte]int{
	opCRCCheck:       6,
	opLoadPC:         4,
	opTxDataBlock:    6,
	opTxBSLVersion:   1,
	opMassErase:      1,
	opChangeBaudRate: 2,
}

var baudByIndex = map[byte]int{0x02: 9600, 0x03: 19200, 0x04: 38400, 0x05: 57600, 0x06: 115200}

// DefaultVersion is the version reported by a new Device.
var DefaultVersion = [4]byte{0x00, 0x07, 0x34, 0xB4}

// Line identifies a control line.
type Line string

const (
	LineReset Line = "RST"
	LineTest  Line = "TEST"
)

// LineEvent records a control line change.
type LineEvent struct {
	Line Line
	High bool
}

// Command records a frame accepted by the device.
type Command struct {
	Opcode  byte
	Address uint32
	Size    int
}

// Option configures a Device.
type Option func(*Device)

// WithPassword sets the device password. The default is 32 bytes of 0xFF.
func WithPassword(pw []byte) Option {
	return func(d *Device) { copy(d.password[:], pw) }
}

// WithVersion sets the version bytes reported by TX_BSL_VERSION.
func WithVersion(v [4]byte) Option {
	return func(d *Device) { d.version = v }
}

// WithCRCFault makes the CRC answer for a range starting at addr wrong.
func WithCRCFault(addr uint32) Option {
	return func(d *Device) { d.crcFaults[addr] = true }
}

// WithBaudRejected makes the device answer every CHANGE_BAUD_RATE with an
// unknown baud rate ACK.
func WithBaudRejected() Option {
	return func(d *Device) { d.rejectBaud = true }
}

// WithUnlocked starts the device already unlocked.
func WithUnlocked() Option {
	return func(d *Device) { d.unlocked = true }
}

// Device is a simulated BSL target.
type Device struct {
	mu sync.Mutex

	name     string
	mem      map[uint32]byte
	password [32]byte
	version  [4]byte
	unlocked bool

	rx []byte // host-to-device bytes not yet framed
	tx []byte // device-to-host bytes not yet read

	open       bool
	openCount  int
	closeCount int
	baud       int
	bauds      []int
	lines      []LineEvent
	pc         uint32

	commands []Command
	writes   []uint32

	crcFaults       map[uint32]bool
	rejectBaud      bool
	corruptNext     bool
	mute            bool
	writeErr        error
	passwordAttempt int
}

// NewDevice creates a locked device named name with erased memory.
func NewDevice(name string, opts ...Option) *Device {
	d := &Device{
		name:      name,
		mem:       make(map[uint32]byte),
		version:   DefaultVersion,
		crcFaults: make(map[uint32]bool),
	}
	for i := range d.password {
		d.password[i] = 0xFF
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// --- Target interface ---

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// Open opens the channel at baud.
func (d *Device) Open(baud int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.open = true
	d.openCount++
	d.baud = baud
	d.rx, d.tx = nil, nil

	return nil
}

// Close closes the channel.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.open = false
	d.closeCount++

	return nil
}

// SetReset drives the RST line. Pulling it low resets the device and locks the BSL.
func (d *Device) SetReset(high bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lines = append(d.lines, LineEvent{Line: LineReset, High: high})
	if !high {
		d.unlocked = false
	}

	return nil
}

// SetTest drives the TEST line.
func (d *Device) SetTest(high bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lines = append(d.lines, LineEvent{Line: LineTest, High: high})

	return nil
}

// ReadByteTimeout returns the next queued answer byte. It never waits; an empty
// queue is reported as a timeout at once.
func (d *Device) ReadByteTimeout(_ time.Duration) (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return 0, ErrClosed
	}
	if len(d.tx) == 0 {
		return 0, fmt.Errorf("bsltest: read: %w", os.ErrDeadlineExceeded)
	}

	b := d.tx[0]
	d.tx = d.tx[1:]

	return b, nil
}

// WriteByte feeds one host byte to the device.
func (d *Device) WriteByte(b byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return ErrClosed
	}
	if d.writeErr != nil {
		return d.writeErr
	}

	d.rx = append(d.rx, b)
	d.process()

	return nil
}

// SetBaudRate switches the host side rate.
func (d *Device) SetBaudRate(baud int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return ErrClosed
	}
	d.baud = baud
	d.bauds = append(d.bauds, baud)

	return nil
}

// --- Fault injection ---

// Inject queues raw bytes for the host to read, as line noise or a stray answer.
func (d *Device) Inject(b ...byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.tx = append(d.tx, b...)
}

// CorruptNextResponse flips a checksum bit of the next response frame.
func (d *Device) CorruptNextResponse() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.corruptNext = true
}

// SetMute stops or resumes all answers, ACKs included.
func (d *Device) SetMute(mute bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.mute = mute
}

// SetWriteError makes every WriteByte fail with err. A nil err clears the fault.
func (d *Device) SetWriteError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.writeErr = err
}

// --- Inspection ---

// Load stores data at addr, bypassing the protocol.
func (d *Device) Load(addr uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, b := range data {
		d.mem[addr+uint32(i)] = b //nolint:gosec // test memory
	}
}

// Memory returns n bytes of memory starting at addr. Unwritten bytes read 0xFF.
func (d *Device) Memory(addr uint32, n int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.read(addr, n)
}

// Writes returns the address of every accepted RX_DATA_BLOCK frame, in order.
func (d *Device) Writes() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]uint32(nil), d.writes...)
}

// Commands returns every frame accepted by the device, in order.
func (d *Device) Commands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]Command(nil), d.commands...)
}

// Opcodes returns the opcode of every accepted frame, in order.
func (d *Device) Opcodes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	ops := make([]byte, len(d.commands))
	for i, c := range d.commands {
		ops[i] = c.Opcode
	}

	return ops
}

// Lines returns every control line change, in order.
func (d *Device) Lines() []LineEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]LineEvent(nil), d.lines...)
}

// Baud returns the current host side rate.
func (d *Device) Baud() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.baud
}

// BaudChanges returns every rate passed to SetBaudRate.
func (d *Device) BaudChanges() []int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]int(nil), d.bauds...)
}

// IsOpen reports whether the channel is open.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.open
}

// OpenCount returns how often Open was called.
func (d *Device) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.openCount
}

// CloseCount returns how often Close was called.
func (d *Device) CloseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.closeCount
}

// Unlocked reports whether the password was accepted since the last reset.
func (d *Device) Unlocked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.unlocked
}

// PasswordAttempts returns the number of RX_PASSWORD frames received.
func (d *Device) PasswordAttempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.passwordAttempt
}

// PC returns the last address given to LOAD_PC.
func (d *Device) PC() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.pc
}

// --- Protocol engine, called with mu held ---

func (d *Device) process() {
	for len(d.rx) > 0 {
		if d.rx[0] != head {
			d.rx = d.rx[1:]
			d.ack(ackHeaderIncorrect)
			continue
		}
		if len(d.rx) < 3 {
			return
		}

		n := int(d.rx[1]) | int(d.rx[2])<<8
		switch {
		case n == 0:
			d.rx = nil
			d.ack(ackPacketSizeZero)
			return
		case n > maxPayload:
			d.rx = nil
			d.ack(ackPacketSizeTooLarge)
			return
		}
		if len(d.rx) < 3+n+2 {
			return
		}

		payload := append([]byte(nil), d.rx[3:3+n]...)
		wireCRC := uint16(d.rx[3+n]) | uint16(d.rx[4+n])<<8
		d.rx = d.rx[3+n+2:]

		if crc.Checksum(payload) != wireCRC {
			d.ack(ackChecksumIncorrect)
			continue
		}
		d.handle(payload)
	}
}

func (d *Device) handle(p []byte) {
	op := p[0]
	cmd := Command{Opcode: op}
	if len(p) >= 4 {
		cmd.Address = address(p[1:])
	}

	if want, ok := fixedLength[op]; ok && len(p) != want {
		d.commands = append(d.commands, cmd)
		d.ack(ackOK)
		d.message(statusUnknownCommand)
		return
	}

	switch op {
	case opRxDataBlock:
		if len(p) < 5 {
			d.ack(ackOK)
			d.message(statusUnknownCommand)
			return
		}
		cmd.Size = len(p) - 4
		d.commands = append(d.commands, cmd)
		d.ack(ackOK)
		if !d.unlocked {
			d.message(statusLocked)
			return
		}
		for i, b := range p[4:] {
			d.mem[cmd.Address+uint32(i)] = b //nolint:gosec // test memory
		}
		d.writes = append(d.writes, cmd.Address)
		d.message(statusSuccess)

	case opRxPassword:
		d.commands = append(d.commands, cmd)
		d.passwordAttempt++
		d.ack(ackOK)
		if len(p) != 33 || !bytes.Equal(p[1:], d.password[:]) {
			d.eraseAll()
			d.message(statusPasswordError)
			return
		}
		d.unlocked = true
		d.message(statusSuccess)

	case opMassErase:
		d.commands = append(d.commands, cmd)
		d.ack(ackOK)
		d.eraseAll()
		d.message(statusSuccess)

	case opCRCCheck:
		cmd.Size = int(p[4]) | int(p[5])<<8
		d.commands = append(d.commands, cmd)
		d.ack(ackOK)
		if !d.unlocked {
			d.message(statusLocked)
			return
		}
		sum := crc.Checksum(d.read(cmd.Address, cmd.Size))
		if d.crcFaults[cmd.Address] {
			sum ^= 0xFFFF
		}
		d.data([]byte{byte(sum), byte(sum >> 8)})

	case opLoadPC:
		d.commands = append(d.commands, cmd)
		d.pc = cmd.Address
		d.ack(ackOK)

	case opTxDataBlock:
		cmd.Size = int(p[4]) | int(p[5])<<8
		d.commands = append(d.commands, cmd)
		d.ack(ackOK)
		if !d.unlocked {
			d.message(statusLocked)
			return
		}
		d.data(d.read(cmd.Address, cmd.Size))

	case opTxBSLVersion:
		d.commands = append(d.commands, cmd)
		d.ack(ackOK)
		d.data(d.version[:])

	case opChangeBaudRate:
		d.commands = append(d.commands, cmd)
		if _, ok := baudByIndex[p[1]]; !ok || d.rejectBaud {
			d.ack(ackUnknownBaudRate)
			return
		}
		d.ack(ackOK)

	default:
		d.commands = append(d.commands, cmd)
		d.ack(ackOK)
		d.message(statusUnknownCommand)
	}
}

func (d *Device) read(addr uint32, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		b, ok := d.mem[addr+uint32(i)] //nolint:gosec // test memory
		if !ok {
			b = 0xFF
		}
		out[i] = b
	}

	return out
}

func (d *Device) eraseAll() {
	d.mem = make(map[uint32]byte)
	for i := range d.password {
		d.password[i] = 0xFF
	}
}

func (d *Device) ack(code byte) {
	if d.mute {
		return
	}
	d.tx = append(d.tx, code)
}

func (d *Device) message(status byte) {
	d.frame([]byte{respMessage, status})
}

func (d *Device) data(data []byte) {
	d.frame(append([]byte{respData}, data...))
}

func (d *Device) frame(payload []byte) {
	if d.mute {
		return
	}

	sum := crc.Checksum(payload)
	if d.corruptNext {
		sum ^= 0x0001
		d.corruptNext = false
	}

	n := len(payload)
	d.tx = append(d.tx, head, byte(n), byte(n>>8))
	d.tx = append(d.tx, payload...)
	d.tx = append(d.tx, byte(sum), byte(sum>>8))
}

func address(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}
