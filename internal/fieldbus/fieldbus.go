// Package fieldbus provides single-bit reads from a remote or local device.
// The Modbus implementation talks to a device over TCP.
// The GPIO implementation reads local lines through the Linux character device.
// The fake implementation allows testing without hardware.
package fieldbus

import (
	"context"
	"errors"

	"github.com/sweeney/alarm-monitor/internal/registry"
)

var (
	// ErrConnection wraps failures to establish or keep the device connection.
	ErrConnection = errors.New("fieldbus: connection failed")
	// ErrRead wraps failures of a single point read.
	ErrRead = errors.New("fieldbus: read failed")
)

// Client reads bits from one device. A Client is owned by a single goroutine.
type Client interface {
	// Connect opens the connection. Calling it on an open client is a no-op.
	Connect(ctx context.Context) error

	// ReadBit returns the level of one bit; true = active.
	ReadBit(ctx context.Context, fn registry.ReadFunction, addr uint16) (bool, error)

	// IsOpen reports whether the connection is usable.
	// It turns false after a transport failure so the caller can reconnect.
	IsOpen() bool

	// Close releases the connection. Safe to call more than once.
	Close() error
}
