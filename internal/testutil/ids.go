package testutil

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDs generates a reproducible sequence of UUIDs.
//
// The same seed always yields the same sequence, so scenario output that
// embeds freshly minted ids stays byte-identical between runs.
type IDs struct {
	mu   sync.Mutex
	seed string
	n    int
}

// NewIDs creates a generator. An empty seed means "test".
func NewIDs(seed string) *IDs {
	if seed == "" {
		seed = "test"
	}
	return &IDs{seed: seed}
}

// Next returns the next id in the sequence.
func (g *IDs) Next() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s/%d", g.seed, g.n)))
}

// Reset restarts the sequence.
func (g *IDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
