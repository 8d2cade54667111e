package programmer

import (
	"errors"
	"fmt"
	"time"

	"github.com/NoNine/libbsl430/bsl"
	"github.com/NoNine/libbsl430/logger"
)

// Defaults.
const (
	InitialBaudRate     = 9600
	DefaultBaudRate     = 115200
	DefaultLineInterval = 20 * time.Millisecond  // RST/TEST state interval
	DefaultSettleDelay  = 100 * time.Millisecond // Wait after opening the channel
	MaxLineInterval     = time.Second
	MaxSettleDelay      = 10 * time.Second
)

// DefaultPassword returns the password of an erased device: 32 bytes of 0xFF.
func DefaultPassword() []byte {
	pw := make([]byte, bsl.PasswordSize)
	for i := range pw {
		pw[i] = 0xFF
	}

	return pw
}

type config struct {
	baudRate     int
	password     []byte
	massErase    bool
	lineInterval time.Duration
	settleDelay  time.Duration
	progress     ProgressFunc
	clientOpts   []bsl.Option
	logger       logger.Logger
}

// Option is a functional option for configuring a Programmer.
type Option interface {
	apply(*config) error
}

type optFunc func(*config) error

func (f optFunc) apply(cfg *config) error { return f(cfg) }

// WithBaudRate sets the working baud rate negotiated after Entry.
func WithBaudRate(baud int) Option {
	return optFunc(func(cfg *config) error {
		if !bsl.SupportedBaudRate(baud) {
			return fmt.Errorf("programmer: unsupported baud rate %d", baud)
		}
		cfg.baudRate = baud

		return nil
	})
}

// WithPassword sets the BSL password. It must be 32 bytes.
func WithPassword(pw []byte) Option {
	return optFunc(func(cfg *config) error {
		if len(pw) != bsl.PasswordSize {
			return fmt.Errorf("programmer: password must be %d bytes, got %d", bsl.PasswordSize, len(pw))
		}
		cfg.password = append([]byte(nil), pw...)

		return nil
	})
}

// WithMassErase erases all code memory after authentication.
func WithMassErase(enabled bool) Option {
	return optFunc(func(cfg *config) error {
		cfg.massErase = enabled
		return nil
	})
}

// WithLineInterval sets the RST/TEST state interval of the entry and exit
// sequences. Long states last twice the interval.
func WithLineInterval(d time.Duration) Option {
	return optFunc(func(cfg *config) error {
		if d < 0 || d > MaxLineInterval {
			return fmt.Errorf("programmer: line interval %v out of range [0, %v]", d, MaxLineInterval)
		}
		cfg.lineInterval = d

		return nil
	})
}

// WithSettleDelay sets the wait between opening the channel and the first frame.
func WithSettleDelay(d time.Duration) Option {
	return optFunc(func(cfg *config) error {
		if d < 0 || d > MaxSettleDelay {
			return fmt.Errorf("programmer: settle delay %v out of range [0, %v]", d, MaxSettleDelay)
		}
		cfg.settleDelay = d

		return nil
	})
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return optFunc(func(cfg *config) error {
		cfg.progress = fn
		return nil
	})
}

// WithClientOptions passes options to the bsl client configuration.
func WithClientOptions(opts ...bsl.Option) Option {
	return optFunc(func(cfg *config) error {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
		return nil
	})
}

// WithLogger sets the logger of the programmer and its bsl client.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *config) error {
		if l == nil {
			return errors.New("programmer: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
