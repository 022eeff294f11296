//go:build !linux

package fieldbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/sweeney/alarm-monitor/internal/registry"
)

var errGPIOUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// GPIO is not available on non-Linux platforms.
type GPIO struct{}

// NewGPIO returns a client whose Connect always fails.
func NewGPIO(string, bool) *GPIO {
	return &GPIO{}
}

// Connect always fails on non-Linux platforms.
func (g *GPIO) Connect(context.Context) error {
	return fmt.Errorf("%w: %w", ErrConnection, errGPIOUnsupported)
}

// ReadBit always fails on non-Linux platforms.
func (g *GPIO) ReadBit(context.Context, registry.ReadFunction, uint16) (bool, error) {
	return false, fmt.Errorf("%w: %w", ErrRead, errGPIOUnsupported)
}

// IsOpen is always false.
func (g *GPIO) IsOpen() bool {
	return false
}

// Close is a no-op.
func (g *GPIO) Close() error {
	return nil
}
