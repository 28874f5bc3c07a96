package prize

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// SentinelNoPayout is recorded as the payout reference of a finished
// competition with zero winners, so the payout field is never mistaken for
// "distribution still pending".
const SentinelNoPayout = "0x00"

// TransientError marks a sink failure that is safe to retry with identical
// arguments. Anything else is permanent and needs operator intervention.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient payment sink failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error { return &TransientError{Err: err} }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Sink is the external payment collaborator. competitionID doubles as the
// idempotency key: re-submitting the same batch must not double-pay.
type Sink interface {
	Distribute(ctx context.Context, competitionID uuid.UUID, addresses []string, amounts []*big.Int) (string, error)
}

// Distributor wraps the sink with the retry discipline: the same batch is
// re-submitted on transient failure until it lands or the context ends;
// permanent failures propagate.
type Distributor struct {
	sink       Sink
	clock      clockwork.Clock
	retryWait  time.Duration
	maxBackoff time.Duration
}

// NewDistributor creates a Distributor with linear backoff capped at
// maxBackoff.
func NewDistributor(sink Sink, clock clockwork.Clock) *Distributor {
	return &Distributor{
		sink:       sink,
		clock:      clock,
		retryWait:  2 * time.Second,
		maxBackoff: time.Minute,
	}
}

// Distribute submits one batch payout and returns the sink's transaction
// reference.
func (d *Distributor) Distribute(
	ctx context.Context,
	competitionID uuid.UUID,
	addresses []string,
	amounts []*big.Int,
) (string, error) {
	if len(addresses) != len(amounts) {
		return "", fmt.Errorf("address/amount length mismatch: %d vs %d", len(addresses), len(amounts))
	}

	attempt := 0
	for {
		txRef, err := d.sink.Distribute(ctx, competitionID, addresses, amounts)
		if err == nil {
			log.Info().
				Str("competition_id", competitionID.String()).
				Str("tx_ref", txRef).
				Int("winners", len(addresses)).
				Msg("prize distribution confirmed")
			return txRef, nil
		}
		if !IsTransient(err) {
			return "", fmt.Errorf("distribute prizes for competition %s: %w", competitionID, err)
		}

		attempt++
		wait := time.Duration(attempt) * d.retryWait
		if wait > d.maxBackoff {
			wait = d.maxBackoff
		}
		log.Warn().
			Err(err).
			Str("competition_id", competitionID.String()).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("transient sink failure, re-enqueueing distribution")

		timer := d.clock.NewTimer(wait)
		select {
		case <-timer.Chan():
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		}
	}
}
