// Package registry holds the static list of monitored points.
// Points are loaded once (from the alarm_mapping table or from config) and
// never change for the lifetime of a monitor.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ReadFunction selects the fieldbus address space a point is read from.
type ReadFunction string

const (
	// ReadCoil reads binary output state (Modbus function 01).
	ReadCoil ReadFunction = "coil"
	// ReadDiscrete reads binary input state (Modbus function 02).
	ReadDiscrete ReadFunction = "discrete"
)

// ParseReadFunction accepts the canonical names as well as the Modbus
// function-code strings stored in older mapping tables ("01", "FC02", "02 Read Discrete Inputs").
func ParseReadFunction(s string) (ReadFunction, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "coil", "coils", "read_coils":
		return ReadCoil, nil
	case "discrete", "discrete_input", "discrete_inputs", "read_discrete_inputs":
		return ReadDiscrete, nil
	}
	// Function-code form: the leading token is the code, optionally FC-prefixed.
	if fields := strings.Fields(v); len(fields) > 0 {
		switch strings.TrimPrefix(fields[0], "fc") {
		case "1", "01":
			return ReadCoil, nil
		case "2", "02":
			return ReadDiscrete, nil
		}
	}
	return "", fmt.Errorf("unsupported read function %q", s)
}

// UnmarshalYAML parses a read function from config.
func (f *ReadFunction) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseReadFunction(raw)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Point is one monitored binary signal.
type Point struct {
	Item         string       `yaml:"item"`
	Description  string       `yaml:"description"`
	Address      uint16       `yaml:"address"` // zero-based
	ReadFunction ReadFunction `yaml:"read_function"`
	ActiveStatus string       `yaml:"active_status"` // recorded when the bit goes active
	Priority     int          `yaml:"priority"`
	Enabled      bool         `yaml:"enabled"`
}

// UnmarshalYAML decodes a point from config; enabled defaults to true.
func (p *Point) UnmarshalYAML(node *yaml.Node) error {
	type plain Point
	v := plain{Enabled: true}
	if err := node.Decode(&v); err != nil {
		return err
	}
	*p = Point(v)
	return nil
}

// Source is anything that can enumerate point mappings.
type Source interface {
	LoadPoints(ctx context.Context) ([]Point, error)
}

// Static is a Source backed by an in-memory list.
type Static []Point

// LoadPoints returns a copy of the list.
func (s Static) LoadPoints(context.Context) ([]Point, error) {
	out := make([]Point, len(s))
	copy(out, s)
	return out, nil
}

// Registry is an immutable, validated set of points in registry order.
type Registry struct {
	points []Point
	byItem map[string]int
}

// ErrDuplicateItem is returned when two points share an item identifier.
var ErrDuplicateItem = errors.New("registry: duplicate item")

// New validates points and builds a registry.
func New(points []Point) (*Registry, error) {
	r := &Registry{
		points: make([]Point, 0, len(points)),
		byItem: make(map[string]int, len(points)),
	}
	for i, p := range points {
		p.Item = strings.TrimSpace(p.Item)
		if p.Item == "" {
			return nil, fmt.Errorf("registry: point %d has empty item", i)
		}
		if _, dup := r.byItem[p.Item]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateItem, p.Item)
		}
		if p.ReadFunction != ReadCoil && p.ReadFunction != ReadDiscrete {
			return nil, fmt.Errorf("registry: point %q: unsupported read function %q", p.Item, p.ReadFunction)
		}
		r.byItem[p.Item] = len(r.points)
		r.points = append(r.points, p)
	}
	return r, nil
}

// Load builds a registry from the first source that yields any points.
// An error from a source is returned immediately.
func Load(ctx context.Context, sources ...Source) (*Registry, error) {
	for _, src := range sources {
		if src == nil {
			continue
		}
		points, err := src.LoadPoints(ctx)
		if err != nil {
			return nil, err
		}
		if len(points) > 0 {
			return New(points)
		}
	}
	return New(nil)
}

// Points returns every point in registry order.
func (r *Registry) Points() []Point {
	out := make([]Point, len(r.points))
	copy(out, r.points)
	return out
}

// Enabled returns the points that participate in scanning, in registry order.
func (r *Registry) Enabled() []Point {
	var out []Point
	for _, p := range r.points {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Lookup returns the point with the given item.
func (r *Registry) Lookup(item string) (Point, bool) {
	i, ok := r.byItem[item]
	if !ok {
		return Point{}, false
	}
	return r.points[i], true
}

// Len returns the number of points, enabled or not.
func (r *Registry) Len() int {
	return len(r.points)
}
