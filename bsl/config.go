package bsl

import (
	"errors"
	"fmt"
	"time"

	"github.com/NoNine/libbsl430/logger"
)

// Default protocol timing.
const (
	DefaultCharTimeout     = 10 * time.Millisecond  // Gap allowed between bytes of a response
	DefaultResponseTimeout = 100 * time.Millisecond // Wait for the ACK and the response header
	DefaultBusyTimeout     = 100 * time.Millisecond // Worst-case device busy time before draining
	DefaultSendDelay       = 5 * time.Millisecond   // Pause before each frame; the device needs at least 1.2ms
	DefaultInterByteDelay  = 200 * time.Microsecond // Pause before each byte; the device FIFO is one byte deep
)

// Default programmable address range.
const (
	DefaultAddressLow  uint32 = 0xC400
	DefaultAddressHigh uint32 = 0xFFFF
)

// Limits.
const (
	MaxTimeout = 10 * time.Second
	MaxDelay   = time.Second

	// MaxAddress is the largest address a 3-byte address field can carry.
	MaxAddress uint32 = 0xFFFFFF
)

// Config holds the timing, address range and logging configuration of a Client.
type Config struct {
	charTimeout     time.Duration
	responseTimeout time.Duration
	busyTimeout     time.Duration
	sendDelay       time.Duration
	interByteDelay  time.Duration

	addressLow  uint32
	addressHigh uint32

	maxDataSize int

	logger logger.Logger
}

// NewConfig creates a Config with the protocol defaults.
// opts are functional options applied in order; see With* functions.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		charTimeout:     DefaultCharTimeout,
		responseTimeout: DefaultResponseTimeout,
		busyTimeout:     DefaultBusyTimeout,
		sendDelay:       DefaultSendDelay,
		interByteDelay:  DefaultInterByteDelay,
		addressLow:      DefaultAddressLow,
		addressHigh:     DefaultAddressHigh,
		maxDataSize:     MaxDataSize,
		logger:          logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// --- Getters ---

// CharTimeout returns the per-character timeout.
func (cfg *Config) CharTimeout() time.Duration { return cfg.charTimeout }

// ResponseTimeout returns the timeout for the ACK byte and the response header.
func (cfg *Config) ResponseTimeout() time.Duration { return cfg.responseTimeout }

// BusyTimeout returns the wait applied before draining a desynchronized link.
func (cfg *Config) BusyTimeout() time.Duration { return cfg.busyTimeout }

// SendDelay returns the pause before each outgoing frame.
func (cfg *Config) SendDelay() time.Duration { return cfg.sendDelay }

// InterByteDelay returns the pause before each outgoing byte.
func (cfg *Config) InterByteDelay() time.Duration { return cfg.interByteDelay }

// AddressRange returns the inclusive programmable address range.
func (cfg *Config) AddressRange() (low, high uint32) { return cfg.addressLow, cfg.addressHigh }

// MaxDataSize returns the largest data chunk sent or requested per frame.
func (cfg *Config) MaxDataSize() int { return cfg.maxDataSize }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// CheckRange validates that [addr, addr+size) lies inside the programmable range.
func (cfg *Config) CheckRange(addr uint32, size int) error {
	if size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrInvalidArgument, size)
	}
	if addr < cfg.addressLow || addr > cfg.addressHigh ||
		uint64(addr)+uint64(size) > uint64(cfg.addressHigh)+1 {
		return fmt.Errorf("%w: 0x%06X+%d outside 0x%06X–0x%06X",
			ErrAddressRange, addr, size, cfg.addressLow, cfg.addressHigh)
	}

	return nil
}

// --- Option ---

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

func checkTimeout(name string, d time.Duration) error {
	if d <= 0 || d > MaxTimeout {
		return fmt.Errorf("bsl: %s %v out of range (0, %v]", name, d, MaxTimeout)
	}

	return nil
}

func checkDelay(name string, d time.Duration) error {
	if d < 0 || d > MaxDelay {
		return fmt.Errorf("bsl: %s %v out of range [0, %v]", name, d, MaxDelay)
	}

	return nil
}

// WithCharTimeout sets the per-character timeout.
func WithCharTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkTimeout("char timeout", d); err != nil {
			return err
		}
		cfg.charTimeout = d

		return nil
	})
}

// WithResponseTimeout sets the timeout for the ACK byte and the response header.
func WithResponseTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkTimeout("response timeout", d); err != nil {
			return err
		}
		cfg.responseTimeout = d

		return nil
	})
}

// WithBusyTimeout sets the wait applied before draining a desynchronized link.
// Zero skips the wait.
func WithBusyTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 || d > MaxTimeout {
			return fmt.Errorf("bsl: busy timeout %v out of range [0, %v]", d, MaxTimeout)
		}
		cfg.busyTimeout = d

		return nil
	})
}

// WithSendDelay sets the pause before each outgoing frame.
func WithSendDelay(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkDelay("send delay", d); err != nil {
			return err
		}
		cfg.sendDelay = d

		return nil
	})
}

// WithInterByteDelay sets the pause before each outgoing byte.
func WithInterByteDelay(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkDelay("inter-byte delay", d); err != nil {
			return err
		}
		cfg.interByteDelay = d

		return nil
	})
}

// WithAddressRange sets the inclusive programmable address range.
func WithAddressRange(low, high uint32) Option {
	return optFunc(func(cfg *Config) error {
		if low > high {
			return fmt.Errorf("bsl: address range 0x%06X–0x%06X is empty", low, high)
		}
		if high > MaxAddress {
			return fmt.Errorf("bsl: address 0x%X exceeds maximum 0x%06X", high, MaxAddress)
		}
		cfg.addressLow = low
		cfg.addressHigh = high

		return nil
	})
}

// WithMaxDataSize sets the largest data chunk per frame. Must be in [1, MaxDataSize].
func WithMaxDataSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > MaxDataSize {
			return fmt.Errorf("bsl: max data size %d out of range [1, %d]", n, MaxDataSize)
		}
		cfg.maxDataSize = n

		return nil
	})
}

// WithLogger sets the logger for the client.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("bsl: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
