package session

import (
	"math/rand"
	"sync"
	"time"
)

// Chooser picks one move from a non-empty, ordered set of legal moves. Any
// strategy satisfying this signature can replace the default without
// changing the session contract.
type Chooser interface {
	Choose(moves []string) string
}

// RandomChooser picks uniformly at random: no look-ahead, no filtering. It
// is a placeholder policy, not an engineered one.
type RandomChooser struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomChooser creates a chooser backed by rng, or a time-seeded
// source when rng is nil. Sessions share one chooser, so access to the
// source is serialised.
func NewRandomChooser(rng *rand.Rand) *RandomChooser {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RandomChooser{rng: rng}
}

func (c *RandomChooser) Choose(moves []string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return moves[c.rng.Intn(len(moves))]
}
