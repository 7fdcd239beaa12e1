// Package uid generates short prefixed identifiers for workers.
//
// An identifier is the prefix, four random base-36 digits, and a base-36
// sequence number, e.g. "wk3x90". The sequence keeps identifiers from one
// generator unique; the random part keeps them from colliding across
// processes that share a listener port.
package uid

import (
	"math/rand/v2"
	"strconv"
	"sync"
)

// DefaultPrefix is the prefix used for worker identifiers.
const DefaultPrefix = "w"

const (
	// randomFloor is 36^3, the smallest four digit base-36 number.
	randomFloor = 46656
	// randomSpan keeps the random part at exactly four base-36 digits.
	randomSpan = 36*36*36*36 - randomFloor
)

// Generator produces identifiers. The zero value is ready to use.
type Generator struct {
	mu   sync.Mutex
	next uint64
}

// New returns the next identifier with the given prefix.
// An empty prefix falls back to DefaultPrefix.
func (g *Generator) New(prefix string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	g.mu.Lock()
	seq := g.next
	g.next++
	g.mu.Unlock()

	random := randomFloor + rand.IntN(randomSpan)

	return prefix + strconv.FormatInt(int64(random), 36) + strconv.FormatUint(seq, 36)
}

var defaultGenerator Generator

// New returns an identifier from the package-level generator.
func New(prefix string) string {
	return defaultGenerator.New(prefix)
}
