package aggregator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrRoundNotOpen is returned when an answer arrives for a question whose
// bucket was never opened or has already expired. Callers treat it as an
// informational reject, not a connection failure.
var ErrRoundNotOpen = errors.New("round not open for answers")

// Key identifies one answer bucket.
type Key struct {
	CompetitionID uuid.UUID
	QuestionID    uuid.UUID
}

type bucket struct {
	answers   map[uuid.UUID]uuid.UUID // participation id -> choice id
	expiresAt time.Time
}

// Aggregator holds the ephemeral per-question answer buckets. One bucket
// lives for one answer window (plus a grace margin); its contents exist
// only to be drained into durable rows when the round closes.
type Aggregator struct {
	mu      sync.Mutex
	buckets map[Key]*bucket
	clock   clockwork.Clock
}

// New creates an Aggregator on the given clock.
func New(clock clockwork.Clock) *Aggregator {
	return &Aggregator{
		buckets: make(map[Key]*bucket),
		clock:   clock,
	}
}

// Open creates an empty bucket for key with the given time-to-live,
// replacing any leftover bucket for the same key.
func (a *Aggregator) Open(key Key, ttl time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buckets[key] = &bucket{
		answers:   make(map[uuid.UUID]uuid.UUID),
		expiresAt: a.clock.Now().Add(ttl),
	}
}

// Record stores participationID's selected choice. Last write wins: a
// resubmission overwrites the prior choice without error.
func (a *Aggregator) Record(key Key, participationID, choiceID uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.buckets[key]
	if !ok || a.clock.Now().After(b.expiresAt) {
		return ErrRoundNotOpen
	}
	b.answers[participationID] = choiceID
	return nil
}

// Drain atomically removes the bucket and returns its contents. Records
// racing with Drain either land in the returned snapshot or are lost,
// which is acceptable because the answer window has already closed.
func (a *Aggregator) Drain(key Key) map[uuid.UUID]uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.buckets[key]
	if !ok {
		return nil
	}
	delete(a.buckets, key)
	return b.answers
}

// Snapshot returns a copy of the bucket's current contents without
// clearing it. Used for live stats hints mid-round.
func (a *Aggregator) Snapshot(key Key) map[uuid.UUID]uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.buckets[key]
	if !ok {
		return nil
	}
	out := make(map[uuid.UUID]uuid.UUID, len(b.answers))
	for p, c := range b.answers {
		out[p] = c
	}
	return out
}

// Len returns the number of answers recorded so far for key.
func (a *Aggregator) Len(key Key) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.buckets[key]; ok {
		return len(b.answers)
	}
	return 0
}

// Run sweeps expired buckets until ctx ends. Expiry is part of the bucket
// itself; the sweep only reclaims memory for buckets nobody drained.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) {
	ticker := a.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			a.sweep()
		}
	}
}

func (a *Aggregator) sweep() {
	now := a.clock.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, b := range a.buckets {
		if now.After(b.expiresAt) {
			delete(a.buckets, key)
			log.Debug().
				Str("competition_id", key.CompetitionID.String()).
				Str("question_id", key.QuestionID.String()).
				Msg("swept expired answer bucket")
		}
	}
}
