// Package prng is the runtime's "random context" component: a cheap,
// non-cryptographic PRNG owned by a single task-thread or selector and
// seeded from OS entropy when it is constructed, used for the scheduler's randomized
// task pick and the port selector's randomized start index.
package prng

import (
	"crypto/rand"
	"encoding/binary"

	xrand "golang.org/x/exp/rand"
)

// Source is a per-task-thread PRNG. It is not safe for concurrent use;
// each task-thread and each task's port selector owns exactly one.
type Source struct {
	r *xrand.Rand
}

// New seeds a fresh Source from the kernel's entropy pool.
func New() *Source {
	return &Source{r: xrand.New(xrand.NewSource(seed()))}
}

// NewFromSeed is used by tests that need deterministic replay.
func NewFromSeed(seed uint64) *Source {
	return &Source{r: xrand.New(xrand.NewSource(seed))}
}

func seed() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Kernel entropy is unavailable; degrade to a fixed seed rather
		// than fail runtime init over a fairness policy.
		return 0x9e3779b97f4a7c15
	}
	return binary.LittleEndian.Uint64(buf[:])
}

// Uint32 returns the next pseudo-random value.
func (s *Source) Uint32() uint32 {
	return s.r.Uint32()
}

// Intn returns a pseudo-random int in [0, n). Panics if n <= 0.
func (s *Source) Intn(n int) int {
	return s.r.Intn(n)
}
