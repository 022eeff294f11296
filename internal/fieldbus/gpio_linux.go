//go:build linux

package fieldbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/alarm-monitor/internal/registry"
)

// GPIO reads local input lines; a point's address is the line offset.
// Coil and discrete points read the same line level.
type GPIO struct {
	chipName  string
	activeLow bool

	mu    sync.Mutex
	chip  *gpiocdev.Chip
	lines map[uint16]*gpiocdev.Line
}

// NewGPIO creates a client for chipName (e.g. "gpiochip0").
// With activeLow, a raw 0 reads as active.
func NewGPIO(chipName string, activeLow bool) *GPIO {
	return &GPIO{chipName: chipName, activeLow: activeLow}
}

// Connect opens the chip. Lines are requested on first read.
func (g *GPIO) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.chip != nil {
		return nil
	}
	chip, err := gpiocdev.NewChip(g.chipName)
	if err != nil {
		return fmt.Errorf("%w: open gpio chip %s: %w", ErrConnection, g.chipName, err)
	}
	g.chip = chip
	g.lines = make(map[uint16]*gpiocdev.Line)
	return nil
}

// ReadBit returns the logical level of the line at addr.
func (g *GPIO) ReadBit(ctx context.Context, fn registry.ReadFunction, addr uint16) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %s %d: %w", ErrRead, fn, addr, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.chip == nil {
		return false, fmt.Errorf("%w: %s %d: not connected", ErrRead, fn, addr)
	}
	line, ok := g.lines[addr]
	if !ok {
		// Input with pull-down to match Pi boot defaults.
		l, err := g.chip.RequestLine(int(addr), gpiocdev.AsInput, gpiocdev.WithPullDown)
		if err != nil {
			return false, fmt.Errorf("%w: request line %d: %w", ErrRead, addr, err)
		}
		g.lines[addr] = l
		line = l
	}
	raw, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("%w: read line %d: %w", ErrRead, addr, err)
	}
	if g.activeLow {
		return raw == 0, nil
	}
	return raw == 1, nil
}

// IsOpen reports whether the chip is open.
func (g *GPIO) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.chip != nil
}

// Close reconfigures requested lines to input with pull-down and releases them.
func (g *GPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for addr, line := range g.lines {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure line %d: %w", addr, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line %d: %w", addr, err))
		}
	}
	g.lines = nil
	if g.chip != nil {
		if err := g.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		g.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
