package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/triviarena/triviarena/internal/models"
	"github.com/triviarena/triviarena/internal/quiz/aggregator"
	"github.com/triviarena/triviarena/internal/quiz/events"
	"github.com/triviarena/triviarena/internal/quiz/hub"
	"github.com/triviarena/triviarena/internal/quiz/prize"
)

type fakeRepo struct {
	mu      sync.Mutex
	comp    *models.Competition
	wallets map[uuid.UUID]string
	answers []models.UserAnswer

	markedWinners []uuid.UUID
	markedShare   *models.BigNum
	payoutTx      string
}

func (f *fakeRepo) GetCompetition(ctx context.Context, id uuid.UUID) (*models.Competition, error) {
	if f.comp.ID != id {
		return nil, fmt.Errorf("competition %s not found", id)
	}
	return f.comp, nil
}

func (f *fakeRepo) GetQuestionByNumber(ctx context.Context, competitionID uuid.UUID, number int) (*models.Question, error) {
	if q := f.comp.QuestionByNumber(number); q != nil {
		return q, nil
	}
	return nil, fmt.Errorf("question %d not found", number)
}

func (f *fakeRepo) ListUpcomingCompetitions(ctx context.Context) ([]models.Competition, error) {
	return []models.Competition{*f.comp}, nil
}

func (f *fakeRepo) BulkInsertAnswers(ctx context.Context, answers []models.UserAnswer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answers...)
	return nil
}

func (f *fakeRepo) correctCount(participationID uuid.UUID) int {
	count := 0
	for _, a := range f.answers {
		if a.UserCompetitionID != participationID {
			continue
		}
		for _, q := range f.comp.Questions {
			if q.ID != a.QuestionID {
				continue
			}
			if correct := q.CorrectChoice(); correct != nil && correct.ID == a.SelectedChoiceID {
				count++
			}
		}
	}
	return count
}

func (f *fakeRepo) ComputeWinners(ctx context.Context, competitionID uuid.UUID, rounds int) ([]Winner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var winners []Winner
	for participationID, wallet := range f.wallets {
		if f.correctCount(participationID) >= rounds {
			winners = append(winners, Winner{ParticipationID: participationID, WalletAddress: wallet})
		}
	}
	return winners, nil
}

func (f *fakeRepo) MarkWinners(ctx context.Context, participationIDs []uuid.UUID, share *models.BigNum) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedWinners = participationIDs
	f.markedShare = share
	return nil
}

func (f *fakeRepo) SetPayoutTx(ctx context.Context, competitionID uuid.UUID, txRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payoutTx = txRef
	return nil
}

func (f *fakeRepo) CountParticipants(ctx context.Context, competitionID uuid.UUID) (int, error) {
	return len(f.wallets), nil
}

func (f *fakeRepo) CountSurvivors(ctx context.Context, competitionID uuid.UUID, roundsClosed int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for participationID := range f.wallets {
		if f.correctCount(participationID) >= roundsClosed {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) answerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.answers)
}

func (f *fakeRepo) recordedPayout() (string, []uuid.UUID, *models.BigNum) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payoutTx, f.markedWinners, f.markedShare
}

type publishedEvent struct {
	channel hub.Channel
	typ     events.Type
	payload json.RawMessage
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakePublisher) Publish(channel hub.Channel, eventType events.Type, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{channel: channel, typ: eventType, payload: data})
	return nil
}

func (f *fakePublisher) ofType(t events.Type) []publishedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedEvent
	for _, e := range f.events {
		if e.typ == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeStats struct{}

func (fakeStats) Stats(ctx context.Context, comp *models.Competition, part *models.UserCompetition, round int) (events.QuizStatsPayload, error) {
	return events.QuizStatsPayload{QuestionsCount: len(comp.Questions)}, nil
}

type recordingSink struct {
	mu        sync.Mutex
	calls     int
	addresses []string
	amounts   []*big.Int
}

func (s *recordingSink) Distribute(ctx context.Context, competitionID uuid.UUID, addresses []string, amounts []*big.Int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.addresses = addresses
	s.amounts = amounts
	return "0xdead", nil
}

func (s *recordingSink) snapshot() (int, []string, []*big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, s.addresses, s.amounts
}

func buildCompetition(start time.Time, questions int) *models.Competition {
	comp := &models.Competition{
		ID:                  uuid.New(),
		Title:               "weekly trivia",
		StartAt:             start,
		PrizeAmount:         models.NewBigNum(90),
		SplitPrize:          true,
		IsActive:            true,
		QuestionTimeSeconds: 10,
		RestTimeSeconds:     5,
	}
	for i := 1; i <= questions; i++ {
		q := models.Question{
			ID:            uuid.New(),
			CompetitionID: comp.ID,
			Number:        i,
			Text:          fmt.Sprintf("question %d", i),
		}
		for c := 0; c < 4; c++ {
			q.Choices = append(q.Choices, models.Choice{
				ID:         uuid.New(),
				QuestionID: q.ID,
				IsCorrect:  c == 0,
			})
		}
		comp.Questions = append(comp.Questions, q)
	}
	return comp
}

func testConfig() Config {
	return Config{
		StartLead:   10 * time.Second,
		StatsDelay:  time.Second,
		BucketGrace: 5 * time.Second,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// Runs a two-question competition end to end: three participants answer
// round one correctly, one drops in round two, and the two survivors split
// the 90 token prize 45/45 in a single sink batch.
func TestRunCompetitionFullLifecycle(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	comp := buildCompetition(clock.Now(), 2)

	p1, p2, p3 := uuid.New(), uuid.New(), uuid.New()
	repo := &fakeRepo{
		comp: comp,
		wallets: map[uuid.UUID]string{
			p1: "0xaaa",
			p2: "0xbbb",
			p3: "0xccc",
		},
	}
	pub := &fakePublisher{}
	agg := aggregator.New(clock)
	sink := &recordingSink{}
	o := New(repo, pub, agg, prize.NewDistributor(sink, clock), fakeStats{}, clock, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	go o.runCompetition(ctx, comp.ID)

	// Round 1: everyone answers correctly inside the window.
	clock.BlockUntil(1)
	waitFor(t, "round 1 reveal", func() bool { return len(pub.ofType(events.TypeNewQuestion)) == 1 })
	q1 := comp.Questions[0]
	key1 := aggregator.Key{CompetitionID: comp.ID, QuestionID: q1.ID}
	for _, part := range []uuid.UUID{p1, p2, p3} {
		if err := agg.Record(key1, part, q1.CorrectChoice().ID); err != nil {
			t.Fatalf("record round 1: %v", err)
		}
	}
	clock.Advance(10 * time.Second)

	// Window closed: the correct answer goes out immediately, then the
	// stats timer and the rest-of-round timer run concurrently.
	waitFor(t, "round 1 answer reveal", func() bool { return len(pub.ofType(events.TypeCorrectAnswer)) == 1 })
	clock.BlockUntil(2)
	waitFor(t, "round 1 persistence", func() bool { return repo.answerCount() == 3 })
	clock.Advance(5 * time.Second)

	// Round 2: p3 picks a wrong choice.
	clock.BlockUntil(1)
	waitFor(t, "round 2 reveal", func() bool { return len(pub.ofType(events.TypeNewQuestion)) == 2 })
	q2 := comp.Questions[1]
	key2 := aggregator.Key{CompetitionID: comp.ID, QuestionID: q2.ID}
	if err := agg.Record(key2, p1, q2.CorrectChoice().ID); err != nil {
		t.Fatalf("record round 2: %v", err)
	}
	if err := agg.Record(key2, p2, q2.CorrectChoice().ID); err != nil {
		t.Fatalf("record round 2: %v", err)
	}
	if err := agg.Record(key2, p3, q2.Choices[1].ID); err != nil {
		t.Fatalf("record round 2: %v", err)
	}
	clock.Advance(10 * time.Second)

	clock.BlockUntil(2)
	waitFor(t, "round 2 persistence", func() bool { return repo.answerCount() == 6 })
	clock.Advance(5 * time.Second)

	waitFor(t, "finish broadcast", func() bool { return len(pub.ofType(events.TypeFinishQuiz)) == 1 })

	var finish events.FinishPayload
	if err := json.Unmarshal(pub.ofType(events.TypeFinishQuiz)[0].payload, &finish); err != nil {
		t.Fatalf("unmarshal finish payload: %v", err)
	}
	if len(finish.WinnersList) != 2 {
		t.Fatalf("got %d winners, want 2", len(finish.WinnersList))
	}
	for _, w := range finish.WinnersList {
		if w.AmountWon.String() != "45" {
			t.Errorf("winner amount = %s, want 45", w.AmountWon)
		}
		if w.TxHash != "0xdead" {
			t.Errorf("winner tx = %s, want 0xdead", w.TxHash)
		}
	}

	calls, addresses, amounts := sink.snapshot()
	if calls != 1 {
		t.Fatalf("sink called %d times, want exactly 1 batch", calls)
	}
	if len(addresses) != 2 || len(amounts) != 2 {
		t.Fatalf("batch size %d/%d, want 2/2", len(addresses), len(amounts))
	}
	wantAddrs := map[string]bool{"0xaaa": true, "0xbbb": true}
	for i, addr := range addresses {
		if !wantAddrs[addr] {
			t.Errorf("unexpected payout address %s", addr)
		}
		if amounts[i].String() != "45" {
			t.Errorf("payout amount = %s, want 45", amounts[i])
		}
	}

	payoutTx, marked, share := repo.recordedPayout()
	if payoutTx != "0xdead" {
		t.Errorf("recorded payout tx = %q, want 0xdead", payoutTx)
	}
	if len(marked) != 2 {
		t.Errorf("marked %d winners, want 2", len(marked))
	}
	if share.String() != "45" {
		t.Errorf("marked share = %s, want 45", share)
	}
}

// With zero winners the payout field still gets a terminal value so the
// competition is never mistaken for "distribution pending".
func TestFinishWithZeroWinners(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	comp := buildCompetition(clock.Now(), 1)

	repo := &fakeRepo{
		comp:    comp,
		wallets: map[uuid.UUID]string{uuid.New(): "0xaaa"},
	}
	pub := &fakePublisher{}
	agg := aggregator.New(clock)
	sink := &recordingSink{}
	o := New(repo, pub, agg, prize.NewDistributor(sink, clock), fakeStats{}, clock, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	go o.runCompetition(ctx, comp.ID)

	// Nobody answers the only question.
	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)
	clock.BlockUntil(2)
	clock.Advance(5 * time.Second)

	waitFor(t, "finish broadcast", func() bool { return len(pub.ofType(events.TypeFinishQuiz)) == 1 })

	var finish events.FinishPayload
	if err := json.Unmarshal(pub.ofType(events.TypeFinishQuiz)[0].payload, &finish); err != nil {
		t.Fatalf("unmarshal finish payload: %v", err)
	}
	if len(finish.WinnersList) != 0 {
		t.Errorf("got %d winners, want none", len(finish.WinnersList))
	}

	payoutTx, _, _ := repo.recordedPayout()
	if payoutTx != prize.SentinelNoPayout {
		t.Errorf("payout tx = %q, want sentinel %q", payoutTx, prize.SentinelNoPayout)
	}
	calls, _, _ := sink.snapshot()
	if calls != 0 {
		t.Errorf("sink called %d times for a zero-winner competition", calls)
	}
}

func TestScheduleFiresStartTrigger(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	comp := buildCompetition(clock.Now().Add(30*time.Second), 1)

	repo := &fakeRepo{comp: comp, wallets: map[uuid.UUID]string{}}
	pub := &fakePublisher{}
	agg := aggregator.New(clock)
	o := New(repo, pub, agg, prize.NewDistributor(&recordingSink{}, clock), fakeStats{}, clock, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	o.Schedule(comp)

	// Trigger armed at startAt minus the 10s lead.
	clock.BlockUntil(1)
	clock.Advance(20 * time.Second)

	// The launched loop sleeps the remaining lead before round one.
	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)

	waitFor(t, "first question", func() bool { return len(pub.ofType(events.TypeNewQuestion)) == 1 })
}

func TestCancelBeforeStartSuppressesLaunch(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	comp := buildCompetition(clock.Now().Add(30*time.Second), 1)

	repo := &fakeRepo{comp: comp, wallets: map[uuid.UUID]string{}}
	pub := &fakePublisher{}
	agg := aggregator.New(clock)
	o := New(repo, pub, agg, prize.NewDistributor(&recordingSink{}, clock), fakeStats{}, clock, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	o.Schedule(comp)
	clock.BlockUntil(1)
	o.Cancel(comp.ID)

	clock.Advance(time.Minute)
	time.Sleep(50 * time.Millisecond)
	if got := len(pub.ofType(events.TypeNewQuestion)); got != 0 {
		t.Errorf("cancelled competition still broadcast %d questions", got)
	}
}

func TestScheduleSkipsFinishedCompetition(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	comp := buildCompetition(clock.Now().Add(-time.Hour), 1)

	repo := &fakeRepo{comp: comp, wallets: map[uuid.UUID]string{}}
	pub := &fakePublisher{}
	agg := aggregator.New(clock)
	o := New(repo, pub, agg, prize.NewDistributor(&recordingSink{}, clock), fakeStats{}, clock, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	o.Schedule(comp)

	o.startTimersMu.Lock()
	armed := len(o.startTimers)
	o.startTimersMu.Unlock()
	if armed != 0 {
		t.Errorf("finished competition armed %d triggers", armed)
	}
}
