package fieldbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/simonvetter/modbus"

	"github.com/sweeney/alarm-monitor/internal/registry"
)

// ModbusConfig addresses one Modbus TCP device.
type ModbusConfig struct {
	Host    string
	Port    int
	UnitID  uint8
	Timeout time.Duration // per request
	Retries int           // extra attempts after a timed-out request
}

// URL returns the transport URL for the device.
func (c ModbusConfig) URL() string {
	return "tcp://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// conn is the subset of *modbus.ModbusClient used here.
type conn interface {
	Open() error
	SetUnitId(id uint8) error
	ReadCoil(addr uint16) (bool, error)
	ReadDiscreteInput(addr uint16) (bool, error)
	Close() error
}

type dialFunc func(cfg ModbusConfig) (conn, error)

func dialModbus(cfg ModbusConfig) (conn, error) {
	return modbus.NewClient(&modbus.ClientConfiguration{
		URL:     cfg.URL(),
		Timeout: cfg.Timeout,
	})
}

// Modbus reads coils (function 01) and discrete inputs (function 02) over TCP.
type Modbus struct {
	cfg  ModbusConfig
	dial dialFunc

	mu   sync.Mutex
	conn conn
	open bool
}

// NewModbus creates a client; no connection is made until Connect.
func NewModbus(cfg ModbusConfig) *Modbus {
	if cfg.UnitID == 0 {
		cfg.UnitID = 1
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Modbus{cfg: cfg, dial: dialModbus}
}

// Connect opens the TCP connection and selects the unit id.
func (m *Modbus) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open {
		return nil
	}
	if m.conn == nil {
		c, err := m.dial(m.cfg)
		if err != nil {
			return fmt.Errorf("%w: configure %s: %w", ErrConnection, m.cfg.URL(), err)
		}
		m.conn = c
	}
	if err := m.conn.Open(); err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrConnection, m.cfg.URL(), err)
	}
	if err := m.conn.SetUnitId(m.cfg.UnitID); err != nil {
		_ = m.conn.Close()
		return fmt.Errorf("%w: set unit id %d: %w", ErrConnection, m.cfg.UnitID, err)
	}
	m.open = true
	return nil
}

// ReadBit issues one single-bit read, retrying timed-out requests.
func (m *Modbus) ReadBit(ctx context.Context, fn registry.ReadFunction, addr uint16) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return false, fmt.Errorf("%w: %s %d: not connected", ErrRead, fn, addr)
	}

	var lastErr error
	for attempt := 0; attempt <= m.cfg.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, fmt.Errorf("%w: %s %d: %w", ErrRead, fn, addr, err)
		}

		var (
			level bool
			err   error
		)
		switch fn {
		case registry.ReadCoil:
			level, err = m.conn.ReadCoil(addr)
		case registry.ReadDiscrete:
			level, err = m.conn.ReadDiscreteInput(addr)
		default:
			return false, fmt.Errorf("%w: unsupported read function %q", ErrRead, fn)
		}
		if err == nil {
			return level, nil
		}
		lastErr = err

		if isTransportFailure(err) {
			// Handle is unusable; the monitor reconnects on its next tick.
			m.open = false
			_ = m.conn.Close()
			return false, fmt.Errorf("%w: %s %d: %w", ErrRead, fn, addr, err)
		}
		if !errors.Is(err, modbus.ErrRequestTimedOut) {
			break
		}
	}
	return false, fmt.Errorf("%w: %s %d: %w", ErrRead, fn, addr, lastErr)
}

// IsOpen reports whether the last connect succeeded and no transport failure followed.
func (m *Modbus) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Close closes the TCP connection.
func (m *Modbus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open || m.conn == nil {
		m.open = false
		return nil
	}
	m.open = false
	if err := m.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close %s: %w", m.cfg.URL(), err)
	}
	return nil
}

// isTransportFailure separates broken connections from device exceptions and timeouts.
func isTransportFailure(err error) bool {
	if errors.Is(err, modbus.ErrRequestTimedOut) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return !netErr.Timeout()
	}
	return false
}
