package programmer

import (
	"github.com/NoNine/libbsl430/bsl"
	"github.com/puzpuzpuz/xsync/v3"
)

// Target is a device reachable over a serial channel with control over its
// RST and TEST lines.
type Target interface {
	bsl.Channel

	// Name identifies the target, typically the serial port path.
	Name() string
	// Open opens the channel at baud.
	Open(baud int) error
	// Close releases the channel.
	Close() error
	// SetReset drives the RST line.
	SetReset(high bool) error
	// SetTest drives the TEST line.
	SetTest(high bool) error
}

// claims holds the names of targets in use by a running session.
var claims = xsync.NewMapOf[string, struct{}]()

// acquire claims exclusive use of the named target. The returned function
// releases the claim.
func acquire(name string) (func(), error) {
	if _, loaded := claims.LoadOrStore(name, struct{}{}); loaded {
		return nil, &TargetBusyError{Name: name}
	}

	return func() { claims.Delete(name) }, nil
}
