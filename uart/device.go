package uart

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/NoNine/libbsl430/logger"
	"go.bug.st/serial"
)

// ErrClosed is returned by channel operations on a Device that is not open.
var ErrClosed = errors.New("uart: port not open")

// port is the subset of serial.Port used by Device.
type port interface {
	SetMode(mode *serial.Mode) error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// Device is a serial port with the BSL RST and TEST lines wired to DTR and RTS.
//
// Device is NOT goroutine-safe. The programmer uses it from a single goroutine.
type Device struct {
	name        string
	cfg         config
	logger      logger.Logger
	port        port
	mode        serial.Mode
	readTimeout time.Duration
	buf         [1]byte
}

// New creates a Device for the named serial port. The port is not opened
// until it is first used.
func New(name string, opts ...Option) (*Device, error) {
	if name == "" {
		return nil, errors.New("uart: port name must not be empty")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt.apply(&cfg); err != nil {
			return nil, err
		}
	}

	return &Device{
		name:   name,
		cfg:    cfg,
		logger: cfg.logger.With("port", name),
		mode: serial.Mode{
			BaudRate: DefaultBaudRate,
			DataBits: DefaultDataBits,
			Parity:   cfg.parity,
			StopBits: serial.OneStopBit,
		},
	}, nil
}

// Name returns the serial port path.
func (d *Device) Name() string {
	return d.name
}

// BaudRate returns the host side baud rate.
func (d *Device) BaudRate() int {
	return d.mode.BaudRate
}

// IsOpen reports whether the port is open.
func (d *Device) IsOpen() bool {
	return d.port != nil
}

// Open opens the port at baud, or reconfigures it when the lines already
// opened it, and discards any pending input.
func (d *Device) Open(baud int) error {
	if baud <= 0 {
		return fmt.Errorf("uart: invalid baud rate %d", baud)
	}

	if d.port == nil {
		d.mode.BaudRate = baud
		if err := d.openPort(); err != nil {
			return err
		}
	} else if err := d.SetBaudRate(baud); err != nil {
		return err
	}

	if err := d.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("uart: reset input buffer: %w", err)
	}

	d.logger.Debug("uart: port opened", "baud", baud, "parity", parityName(d.mode.Parity))

	return nil
}

// Close closes the port. Closing a closed Device is a no-op.
func (d *Device) Close() error {
	if d.port == nil {
		return nil
	}

	err := d.port.Close()
	d.port = nil
	if err != nil {
		return fmt.Errorf("uart: close %s: %w", d.name, err)
	}

	d.logger.Debug("uart: port closed")

	return nil
}

// SetBaudRate switches the port to a new baud rate.
func (d *Device) SetBaudRate(baud int) error {
	if d.port == nil {
		return ErrClosed
	}

	mode := d.mode
	mode.BaudRate = baud
	if err := d.port.SetMode(&mode); err != nil {
		return fmt.Errorf("uart: set baud rate %d: %w", baud, err)
	}
	d.mode = mode

	return nil
}

// ReadByteTimeout reads one byte, waiting at most timeout. A timeout returns
// an error wrapping os.ErrDeadlineExceeded.
func (d *Device) ReadByteTimeout(timeout time.Duration) (byte, error) {
	if d.port == nil {
		return 0, ErrClosed
	}

	if timeout != d.readTimeout {
		if err := d.port.SetReadTimeout(timeout); err != nil {
			return 0, fmt.Errorf("uart: set read timeout: %w", err)
		}
		d.readTimeout = timeout
	}

	n, err := d.port.Read(d.buf[:])
	if err != nil {
		return 0, fmt.Errorf("uart: read %s: %w", d.name, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("uart: read %s: %w", d.name, os.ErrDeadlineExceeded)
	}

	return d.buf[0], nil
}

// WriteByte writes one byte.
func (d *Device) WriteByte(b byte) error {
	if d.port == nil {
		return ErrClosed
	}

	d.buf[0] = b
	n, err := d.port.Write(d.buf[:])
	if err != nil {
		return fmt.Errorf("uart: write %s: %w", d.name, err)
	}
	if n != 1 {
		return fmt.Errorf("uart: write %s: short write", d.name)
	}

	return nil
}

// SetReset drives the RST line through DTR.
func (d *Device) SetReset(high bool) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}

	return d.port.SetDTR(d.level(high))
}

// SetTest drives the TEST line through RTS.
func (d *Device) SetTest(high bool) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}

	return d.port.SetRTS(d.level(high))
}

func (d *Device) level(high bool) bool {
	return high != d.cfg.invertLines
}

// ensureOpen opens the port at its current mode so the lines can be driven
// before Open.
func (d *Device) ensureOpen() error {
	if d.port != nil {
		return nil
	}

	return d.openPort()
}

func (d *Device) openPort() error {
	mode := d.mode
	p, err := d.cfg.open(d.name, &mode)
	if err != nil {
		return fmt.Errorf("uart: open %s: %w", d.name, err)
	}
	d.port = p
	d.readTimeout = serial.NoTimeout

	return nil
}

func parityName(p serial.Parity) string {
	switch p {
	case serial.NoParity:
		return "none"
	case serial.OddParity:
		return "odd"
	case serial.EvenParity:
		return "even"
	default:
		return fmt.Sprintf("parity(%d)", int(p))
	}
}
