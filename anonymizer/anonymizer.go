package anonymizer

import (
	"math/rand/v2"

	"voting-ledger/models"
)

// Anonymizer reorders reconciliation batches so the order offline votes
// reach the ledger says nothing about the order they were cast in.
type Anonymizer struct {
	shuffle func(n int, swap func(i, j int))
}

// New returns an Anonymizer backed by the runtime's ChaCha8 source, which is
// seeded from the operating system.
func New() *Anonymizer {
	return &Anonymizer{shuffle: rand.Shuffle}
}

// NewWithSource is used by tests that need a repeatable order.
func NewWithSource(src rand.Source) *Anonymizer {
	return &Anonymizer{shuffle: rand.New(src).Shuffle}
}

// ShuffleVotes returns a shuffled copy of votes; the input is not modified.
func (a *Anonymizer) ShuffleVotes(votes []*models.Vote) []*models.Vote {
	shuffled := make([]*models.Vote, len(votes))
	copy(shuffled, votes)

	a.shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	return shuffled
}
