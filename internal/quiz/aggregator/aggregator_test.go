package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

func TestRecordLastWriteWins(t *testing.T) {
	clock := clockwork.NewFakeClock()
	agg := New(clock)

	key := Key{CompetitionID: uuid.New(), QuestionID: uuid.New()}
	agg.Open(key, 10*time.Second)

	part := uuid.New()
	first, second := uuid.New(), uuid.New()

	if err := agg.Record(key, part, first); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := agg.Record(key, part, second); err != nil {
		t.Fatalf("second record: %v", err)
	}

	answers := agg.Drain(key)
	if len(answers) != 1 {
		t.Fatalf("got %d answers, want 1", len(answers))
	}
	if answers[part] != second {
		t.Errorf("recorded choice %s, want the resubmitted %s", answers[part], second)
	}
}

func TestRecordRejectsClosedRound(t *testing.T) {
	clock := clockwork.NewFakeClock()
	agg := New(clock)

	key := Key{CompetitionID: uuid.New(), QuestionID: uuid.New()}

	if err := agg.Record(key, uuid.New(), uuid.New()); !errors.Is(err, ErrRoundNotOpen) {
		t.Errorf("record without open bucket: got %v, want ErrRoundNotOpen", err)
	}

	agg.Open(key, 10*time.Second)
	clock.Advance(11 * time.Second)
	if err := agg.Record(key, uuid.New(), uuid.New()); !errors.Is(err, ErrRoundNotOpen) {
		t.Errorf("record after expiry: got %v, want ErrRoundNotOpen", err)
	}
}

func TestDrainRemovesBucket(t *testing.T) {
	clock := clockwork.NewFakeClock()
	agg := New(clock)

	key := Key{CompetitionID: uuid.New(), QuestionID: uuid.New()}
	agg.Open(key, 10*time.Second)
	if err := agg.Record(key, uuid.New(), uuid.New()); err != nil {
		t.Fatalf("record: %v", err)
	}

	if got := agg.Drain(key); len(got) != 1 {
		t.Fatalf("first drain returned %d answers, want 1", len(got))
	}
	if got := agg.Drain(key); got != nil {
		t.Errorf("second drain returned %v, want nil", got)
	}
	if err := agg.Record(key, uuid.New(), uuid.New()); !errors.Is(err, ErrRoundNotOpen) {
		t.Errorf("record after drain: got %v, want ErrRoundNotOpen", err)
	}
}

func TestSnapshotLeavesBucketIntact(t *testing.T) {
	clock := clockwork.NewFakeClock()
	agg := New(clock)

	key := Key{CompetitionID: uuid.New(), QuestionID: uuid.New()}
	agg.Open(key, 10*time.Second)

	part, choice := uuid.New(), uuid.New()
	if err := agg.Record(key, part, choice); err != nil {
		t.Fatalf("record: %v", err)
	}

	snap := agg.Snapshot(key)
	if snap[part] != choice {
		t.Fatalf("snapshot missing recorded answer")
	}
	snap[part] = uuid.New()

	if answers := agg.Drain(key); answers[part] != choice {
		t.Error("mutating the snapshot leaked into the bucket")
	}
}

func TestSweepReclaimsExpiredBuckets(t *testing.T) {
	clock := clockwork.NewFakeClock()
	agg := New(clock)

	key := Key{CompetitionID: uuid.New(), QuestionID: uuid.New()}
	agg.Open(key, 10*time.Second)
	if err := agg.Record(key, uuid.New(), uuid.New()); err != nil {
		t.Fatalf("record: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agg.Run(ctx, time.Minute)

	clock.BlockUntil(1)
	clock.Advance(time.Minute + time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if agg.Len(key) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("expired bucket was never swept")
}
