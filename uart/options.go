package uart

import (
	"fmt"
	"strings"

	"github.com/NoNine/libbsl430/logger"
	"go.bug.st/serial"
)

// Defaults.
const (
	DefaultBaudRate = 9600
	DefaultDataBits = 8
)

// ParseParity converts a parity name ("even", "odd", "none" or their first
// letter) to a serial.Parity.
func ParseParity(s string) (serial.Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "e", "even":
		return serial.EvenParity, nil
	case "o", "odd":
		return serial.OddParity, nil
	case "n", "none":
		return serial.NoParity, nil
	default:
		return serial.NoParity, fmt.Errorf("uart: unknown parity %q", s)
	}
}

type openFunc func(name string, mode *serial.Mode) (port, error)

func openSerial(name string, mode *serial.Mode) (port, error) {
	return serial.Open(name, mode)
}

type config struct {
	parity      serial.Parity
	invertLines bool
	logger      logger.Logger
	open        openFunc
}

func defaultConfig() config {
	return config{
		parity: serial.EvenParity,
		logger: logger.GetLogger(),
		open:   openSerial,
	}
}

// Option is a functional option for configuring a Device.
type Option interface {
	apply(*config) error
}

type optFunc func(*config) error

func (f optFunc) apply(cfg *config) error { return f(cfg) }

// WithParity sets the parity. The BSL uses even parity, which is the default.
func WithParity(parity serial.Parity) Option {
	return optFunc(func(cfg *config) error {
		switch parity {
		case serial.NoParity, serial.OddParity, serial.EvenParity:
			cfg.parity = parity
			return nil
		default:
			return fmt.Errorf("uart: unsupported parity %d", parity)
		}
	})
}

// WithInvertLines inverts the DTR and RTS levels.
func WithInvertLines(enabled bool) Option {
	return optFunc(func(cfg *config) error {
		cfg.invertLines = enabled
		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *config) error {
		if l == nil {
			return fmt.Errorf("uart: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}

func withOpener(open openFunc) Option {
	return optFunc(func(cfg *config) error {
		cfg.open = open
		return nil
	})
}
