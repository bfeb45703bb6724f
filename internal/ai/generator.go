// Package ai holds the baseline turn generator and session analyzer, plus
// the service that publishes generated turns into a room.
package ai

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"discussionhub/pkg/interfaces"
	"discussionhub/pkg/types"
)

var _ interfaces.ResponseGenerator = (*PhraseGenerator)(nil)

// PhraseGenerator picks uniformly from a fixed phrase set per role. Unknown
// roles use the participant set. It never fails.
type PhraseGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewPhraseGenerator returns a generator seeded from the clock.
func NewPhraseGenerator() *PhraseGenerator {
	seed := uint64(time.Now().UnixNano())
	return NewPhraseGeneratorWithRand(rand.New(rand.NewPCG(seed, seed>>1)))
}

// NewPhraseGeneratorWithRand uses rng as its only source of randomness.
func NewPhraseGeneratorWithRand(rng *rand.Rand) *PhraseGenerator {
	return &PhraseGenerator{rng: rng}
}

// Generate returns one utterance in the register of role. The prompt and
// transcript are accepted for contract compatibility with model-backed
// generators and are not consulted.
func (g *PhraseGenerator) Generate(_ context.Context, role types.AIRole, _ string, _ []*types.Message) (types.Utterance, error) {
	if !types.IsValidRole(role) {
		role = types.RoleParticipant
	}
	phrases := rolePhrases[role]

	g.mu.Lock()
	idx := g.rng.IntN(len(phrases))
	g.mu.Unlock()

	return types.Utterance{Role: role, Content: phrases[idx]}, nil
}
