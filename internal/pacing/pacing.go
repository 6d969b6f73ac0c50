// Package pacing draws the human-feeling delays personas wait before and
// after speaking.
package pacing

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Range is an inclusive delay window.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Ms builds a Range from millisecond bounds.
func Ms(minMs, maxMs int) Range {
	return Range{Min: time.Duration(minMs) * time.Millisecond, Max: time.Duration(maxMs) * time.Millisecond}
}

// Source is a goroutine-safe random source.
type Source interface {
	// IntN returns a uniform value in [0, n). n must be positive.
	IntN(n int) int
	// Float64 returns a uniform value in [0.0, 1.0).
	Float64() float64
}

// LockedSource wraps a math/rand/v2 generator behind a mutex.
type LockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSource returns a seeded source. A zero seed picks a random one.
func NewSource(seed uint64) *LockedSource {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &LockedSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// IntN implements Source.
func (s *LockedSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// Float64 implements Source.
func (s *LockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Draw returns a uniformly distributed duration in [r.Min, r.Max] at
// millisecond granularity. A degenerate or inverted range returns Min.
func (r Range) Draw(src Source) time.Duration {
	lo := r.Min.Milliseconds()
	hi := r.Max.Milliseconds()
	if hi <= lo {
		return r.Min
	}
	return time.Duration(lo+int64(src.IntN(int(hi-lo+1)))) * time.Millisecond
}

// Pacer scales drawn delays. A zero scale disables pacing entirely.
type Pacer struct {
	src   Source
	scale float64
}

// NewPacer creates a Pacer over src with the given scale factor.
func NewPacer(src Source, scale float64) *Pacer {
	if src == nil {
		src = NewSource(0)
	}
	if scale < 0 {
		scale = 0
	}
	return &Pacer{src: src, scale: scale}
}

// Off returns a Pacer that never waits.
func Off() *Pacer {
	return NewPacer(NewSource(1), 0)
}

// Delay draws from r and applies the scale.
func (p *Pacer) Delay(r Range) time.Duration {
	if p == nil || p.scale == 0 {
		return 0
	}
	d := r.Draw(p.src)
	if p.scale == 1 {
		return d
	}
	return time.Duration(float64(d) * p.scale)
}

// Fixed applies the scale to a fixed duration.
func (p *Pacer) Fixed(d time.Duration) time.Duration {
	if p == nil || p.scale == 0 {
		return 0
	}
	return time.Duration(float64(d) * p.scale)
}

// Source returns the pacer's random source.
func (p *Pacer) Source() Source {
	return p.src
}
