// Package idclock mints opaque identifiers and monotonic sequence numbers,
// and provides the seeded generator that makes replay deterministic.
package idclock

import (
	"fmt"
	"hash/fnv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Clock hands out strictly monotone sequence numbers and opaque IDs.
// Sequence numbers order events; IDs name entities. The two never mix.
type Clock struct {
	seq atomic.Uint64
}

// New returns a Clock starting at sequence zero.
func New() *Clock {
	return &Clock{}
}

// NextSeq returns the next sequence number. Strictly monotone per Clock.
func (c *Clock) NextSeq() uint64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number without advancing.
func (c *Clock) Current() uint64 {
	return c.seq.Load()
}

// Advance fast-forwards the cursor to at least seq. Used on snapshot restore
// so new events never reuse a sequence number from before the snapshot.
func (c *Clock) Advance(seq uint64) {
	for {
		cur := c.seq.Load()
		if cur >= seq {
			return
		}
		if c.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// MintID returns an opaque entity id with the given kind prefix,
// e.g. "dtu_1b9d6bcd". IDs are unique, not ordered.
func MintID(kind string) string {
	return fmt.Sprintf("%s_%s", kind, uuid.New().String()[:8])
}

// =============================================================================
// DETERMINISTIC GENERATOR
// =============================================================================

// LCG is a linear congruential generator. Replay seeds one from a string and
// derives every decision from it, so identical inputs give identical outputs.
// Not for anything security-sensitive.
type LCG struct {
	state uint64
}

// LCG parameters from Knuth's MMIX.
const (
	lcgMul = 6364136223846793005
	lcgInc = 1442695040888963407
)

// NewLCG seeds a generator from an arbitrary string.
func NewLCG(seed string) *LCG {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	return &LCG{state: h.Sum64()}
}

// Next advances the generator and returns the raw 64-bit state.
func (g *LCG) Next() uint64 {
	g.state = g.state*lcgMul + lcgInc
	return g.state
}

// Float64 returns the next value in [0,1).
func (g *LCG) Float64() float64 {
	return float64(g.Next()>>11) / float64(1<<53)
}

// Intn returns the next value in [0,n). n must be positive.
func (g *LCG) Intn(n int) int {
	if n <= 0 {
		panic("idclock: Intn on non-positive n")
	}
	return int(g.Next() % uint64(n))
}
