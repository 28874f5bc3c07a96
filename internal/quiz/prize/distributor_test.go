package prize

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type fakeSink struct {
	mu       sync.Mutex
	failures int
	calls    int
	lastAddr []string
	lastAmt  []*big.Int
	txRef    string
	permErr  error
}

func (f *fakeSink) Distribute(ctx context.Context, competitionID uuid.UUID, addresses []string, amounts []*big.Int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastAddr = addresses
	f.lastAmt = amounts
	if f.permErr != nil {
		return "", f.permErr
	}
	if f.calls <= f.failures {
		return "", Transient(errors.New("relayer unavailable"))
	}
	return f.txRef, nil
}

func (f *fakeSink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestDistributeRetriesTransientFailures(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := &fakeSink{failures: 2, txRef: "0xabc"}
	d := NewDistributor(sink, clock)

	type result struct {
		txRef string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		txRef, err := d.Distribute(context.Background(), uuid.New(),
			[]string{"0x1", "0x2"}, []*big.Int{big.NewInt(45), big.NewInt(45)})
		done <- result{txRef, err}
	}()

	// First attempt fails; linear backoff waits 2s, then 4s.
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)
	clock.BlockUntil(1)
	clock.Advance(4 * time.Second)

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("distribute: %v", res.err)
		}
		if res.txRef != "0xabc" {
			t.Errorf("tx ref = %q, want 0xabc", res.txRef)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("distribute never completed")
	}
	if got := sink.callCount(); got != 3 {
		t.Errorf("sink called %d times, want 3", got)
	}
}

func TestDistributePermanentFailurePropagates(t *testing.T) {
	clock := clockwork.NewFakeClock()
	permanent := errors.New("batch rejected")
	sink := &fakeSink{permErr: permanent}
	d := NewDistributor(sink, clock)

	_, err := d.Distribute(context.Background(), uuid.New(),
		[]string{"0x1"}, []*big.Int{big.NewInt(90)})
	if !errors.Is(err, permanent) {
		t.Fatalf("got %v, want the permanent sink error", err)
	}
	if got := sink.callCount(); got != 1 {
		t.Errorf("sink called %d times, want 1 (no retry on permanent failure)", got)
	}
}

func TestDistributeCancelledBetweenRetries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := &fakeSink{failures: 100, txRef: "0xabc"}
	d := NewDistributor(sink, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := d.Distribute(ctx, uuid.New(), []string{"0x1"}, []*big.Int{big.NewInt(1)})
		done <- err
	}()

	clock.BlockUntil(1)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("distribute never observed cancellation")
	}
}

func TestDistributeLengthMismatch(t *testing.T) {
	d := NewDistributor(&fakeSink{}, clockwork.NewFakeClock())
	_, err := d.Distribute(context.Background(), uuid.New(), []string{"0x1"}, nil)
	if err == nil {
		t.Fatal("expected error for mismatched lengths")
	}
}

func TestTransientClassification(t *testing.T) {
	if !IsTransient(Transient(errors.New("boom"))) {
		t.Error("wrapped error not classified transient")
	}
	if IsTransient(errors.New("boom")) {
		t.Error("plain error classified transient")
	}
}
