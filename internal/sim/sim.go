// Package sim is a Modbus TCP device simulator for exercising the monitor
// without field hardware. Coils and discrete inputs share one bit table.
package sim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// Size is the number of addressable bits.
const Size = 1000

// DefaultAddresses are the zero-based alarm bits toggled by default.
var DefaultAddresses = []uint16{1, 3, 16, 17, 18, 19, 20, 48, 49, 50, 51, 52}

// Defaults for the toggler.
const (
	DefaultProbability = 0.15
	DefaultInterval    = 3 * time.Second
)

// Table is the shared bit store.
type Table struct {
	mu   sync.RWMutex
	bits [Size]bool
}

// NewTable returns an all-clear table.
func NewTable() *Table {
	return &Table{}
}

// Get returns one bit; out-of-range addresses read false.
func (t *Table) Get(addr uint16) bool {
	if int(addr) >= Size {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bits[addr]
}

// Set writes one bit. Out-of-range addresses are ignored.
func (t *Table) Set(addr uint16, v bool) {
	if int(addr) >= Size {
		return
	}
	t.mu.Lock()
	t.bits[addr] = v
	t.mu.Unlock()
}

// Toggle flips one bit and returns the new level.
func (t *Table) Toggle(addr uint16) bool {
	if int(addr) >= Size {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bits[addr] = !t.bits[addr]
	return t.bits[addr]
}

func (t *Table) read(addr, quantity uint16) ([]bool, error) {
	if quantity == 0 || int(addr)+int(quantity) > Size {
		return nil, modbus.ErrIllegalDataAddress
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]bool, quantity)
	copy(out, t.bits[addr:int(addr)+int(quantity)])
	return out, nil
}

// Handler serves the table over Modbus. Coil writes land in the table;
// register functions are not supported.
type Handler struct {
	table  *Table
	logger *zap.Logger
}

// NewHandler creates a request handler over table.
func NewHandler(table *Table, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{table: table, logger: logger}
}

// HandleCoils reads or writes coils.
func (h *Handler) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	if req.IsWrite {
		if int(req.Addr)+len(req.Args) > Size {
			return nil, modbus.ErrIllegalDataAddress
		}
		for i, v := range req.Args {
			h.table.Set(req.Addr+uint16(i), v)
		}
		h.logger.Debug("coil write", zap.Uint16("addr", req.Addr), zap.Int("quantity", len(req.Args)))
		return nil, nil
	}
	return h.table.read(req.Addr, req.Quantity)
}

// HandleDiscreteInputs reads discrete inputs.
func (h *Handler) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) ([]bool, error) {
	return h.table.read(req.Addr, req.Quantity)
}

// HandleHoldingRegisters is not supported.
func (h *Handler) HandleHoldingRegisters(*modbus.HoldingRegistersRequest) ([]uint16, error) {
	return nil, modbus.ErrIllegalFunction
}

// HandleInputRegisters is not supported.
func (h *Handler) HandleInputRegisters(*modbus.InputRegistersRequest) ([]uint16, error) {
	return nil, modbus.ErrIllegalFunction
}

// Toggler randomly flips alarm bits.
type Toggler struct {
	table       *Table
	addresses   []uint16
	probability float64
	rng         *rand.Rand
	logger      *zap.Logger
}

// NewToggler flips one of addresses with the given probability per step.
// seed makes runs reproducible.
func NewToggler(table *Table, addresses []uint16, probability float64, seed uint64, logger *zap.Logger) *Toggler {
	if len(addresses) == 0 {
		addresses = DefaultAddresses
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Toggler{
		table:       table,
		addresses:   append([]uint16(nil), addresses...),
		probability: probability,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		logger:      logger,
	}
}

// Step rolls once. It reports the flipped address, its new level and whether a flip happened.
func (t *Toggler) Step() (addr uint16, level, flipped bool) {
	if t.rng.Float64() >= t.probability {
		return 0, false, false
	}
	addr = t.addresses[t.rng.IntN(len(t.addresses))]
	level = t.table.Toggle(addr)
	state := "CLEARED"
	if level {
		state = "ACTIVE"
	}
	t.logger.Info("simulated alarm",
		zap.Uint16("address", addr),
		zap.Int("modbus_address", int(addr)+1),
		zap.String("state", state))
	return addr, level, true
}

// Run steps every interval until ctx is cancelled.
func (t *Toggler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Step()
		}
	}
}

// Server is a running Modbus TCP simulator.
type Server struct {
	table *Table
	srv   *modbus.ModbusServer
}

// NewServer creates a simulator listening on addr (host:port). Start serves it.
func NewServer(addr string, table *Table, logger *zap.Logger) (*Server, error) {
	if table == nil {
		table = NewTable()
	}
	srv, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        "tcp://" + addr,
		Timeout:    30 * time.Second,
		MaxClients: 5,
	}, NewHandler(table, logger))
	if err != nil {
		return nil, fmt.Errorf("create modbus server: %w", err)
	}
	return &Server{table: table, srv: srv}, nil
}

// Table returns the bit table served.
func (s *Server) Table() *Table {
	return s.table
}

// Start begins accepting connections in the background.
func (s *Server) Start() error {
	if err := s.srv.Start(); err != nil {
		return fmt.Errorf("start modbus server: %w", err)
	}
	return nil
}

// Stop closes the listener and all client connections.
func (s *Server) Stop() error {
	return s.srv.Stop()
}
