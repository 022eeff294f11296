// Package logno generates log numbers for persisted transition records.
//
// A log number is an 8-digit hour bucket (YYMMDDHH) followed by a 4-digit
// zero-padded counter that restarts at 0001 whenever the bucket changes.
// Within one process, numbers are strictly increasing for the same bucket and
// lexicographically increasing across buckets, up to 9999 numbers per hour.
// Past that the counter keeps growing to five digits and ordering is no longer
// guaranteed. Numbers are not coordinated across processes.
package logno

import (
	"fmt"
	"sync"
	"time"
)

// BucketLayout is the time layout of the hour prefix.
const BucketLayout = "06010215"

// Generator produces log numbers. Safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	loc     *time.Location
	bucket  string
	counter int
}

// New creates a generator that formats buckets in loc (time.Local if nil).
func New(loc *time.Location) *Generator {
	if loc == nil {
		loc = time.Local
	}
	return &Generator{loc: loc}
}

// Next returns the log number for a record detected at t.
func (g *Generator) Next(t time.Time) string {
	bucket := t.In(g.loc).Format(BucketLayout)

	g.mu.Lock()
	defer g.mu.Unlock()

	if bucket != g.bucket {
		g.bucket = bucket
		g.counter = 0
	}
	g.counter++
	return fmt.Sprintf("%s%04d", bucket, g.counter)
}
