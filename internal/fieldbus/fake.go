package fieldbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sweeney/alarm-monitor/internal/registry"
)

type bitKey struct {
	fn   registry.ReadFunction
	addr uint16
}

// Fake is a test double with scripted levels per address.
// Each read of a scripted address consumes the next level; once the script
// is exhausted the last level repeats. Unscripted addresses read false.
type Fake struct {
	mu sync.Mutex

	scripts map[bitKey][]bool
	pos     map[bitKey]int
	readErr map[bitKey]error

	open       bool
	connectErr error

	connects int
	reads    int
	closes   int

	// OnRead, if set, is called before every read with the lock released.
	OnRead func(fn registry.ReadFunction, addr uint16)
}

// NewFake creates a disconnected fake.
func NewFake() *Fake {
	return &Fake{
		scripts: make(map[bitKey][]bool),
		pos:     make(map[bitKey]int),
		readErr: make(map[bitKey]error),
	}
}

// Script sets the levels returned by successive reads of one address.
func (f *Fake) Script(fn registry.ReadFunction, addr uint16, levels ...bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := bitKey{fn, addr}
	f.scripts[k] = append([]bool(nil), levels...)
	f.pos[k] = 0
}

// SetLevel fixes the level of one address.
func (f *Fake) SetLevel(fn registry.ReadFunction, addr uint16, level bool) {
	f.Script(fn, addr, level)
}

// FailRead makes reads of one address fail with err (nil clears it).
func (f *Fake) FailRead(fn registry.ReadFunction, addr uint16, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := bitKey{fn, addr}
	if err == nil {
		delete(f.readErr, k)
		return
	}
	f.readErr[k] = err
}

// FailConnect makes Connect fail with err (nil clears it).
func (f *Fake) FailConnect(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

// Drop simulates the device closing the connection.
func (f *Fake) Drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
}

// Connect opens the fake unless a connect failure is configured.
func (f *Fake) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connects++
	if f.connectErr != nil {
		return fmt.Errorf("%w: %w", ErrConnection, f.connectErr)
	}
	f.open = true
	return nil
}

// ReadBit returns the next scripted level.
func (f *Fake) ReadBit(ctx context.Context, fn registry.ReadFunction, addr uint16) (bool, error) {
	f.mu.Lock()
	hook := f.OnRead
	f.mu.Unlock()
	if hook != nil {
		hook(fn, addr)
	}
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %s %d: %w", ErrRead, fn, addr, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads++
	if !f.open {
		return false, fmt.Errorf("%w: %s %d: not connected", ErrRead, fn, addr)
	}
	k := bitKey{fn, addr}
	if err := f.readErr[k]; err != nil {
		return false, fmt.Errorf("%w: %s %d: %w", ErrRead, fn, addr, err)
	}
	script := f.scripts[k]
	if len(script) == 0 {
		return false, nil
	}
	i := f.pos[k]
	if i < len(script)-1 {
		f.pos[k] = i + 1
	}
	return script[i], nil
}

// IsOpen reports whether the fake is connected.
func (f *Fake) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// Close marks the fake closed.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.closes++
	return nil
}

// Connects returns the number of Connect calls.
func (f *Fake) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// Reads returns the number of ReadBit calls that reached the device.
func (f *Fake) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Closes returns the number of Close calls.
func (f *Fake) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// ErrSimulated is a convenience error for scripted failures.
var ErrSimulated = errors.New("simulated failure")
