package orchestrator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/triviarena/triviarena/internal/models"
	"github.com/triviarena/triviarena/internal/quiz/aggregator"
	"github.com/triviarena/triviarena/internal/quiz/events"
	"github.com/triviarena/triviarena/internal/quiz/hub"
	"github.com/triviarena/triviarena/internal/quiz/prize"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
}

// Winner is one payout row produced by the winner query.
type Winner struct {
	ParticipationID uuid.UUID
	WalletAddress   string
}

// Repository defines what the orchestrator needs from storage.
type Repository interface {
	GetCompetition(ctx context.Context, id uuid.UUID) (*models.Competition, error)
	GetQuestionByNumber(ctx context.Context, competitionID uuid.UUID, number int) (*models.Question, error)
	ListUpcomingCompetitions(ctx context.Context) ([]models.Competition, error)
	BulkInsertAnswers(ctx context.Context, answers []models.UserAnswer) error
	ComputeWinners(ctx context.Context, competitionID uuid.UUID, rounds int) ([]Winner, error)
	MarkWinners(ctx context.Context, participationIDs []uuid.UUID, share *models.BigNum) error
	SetPayoutTx(ctx context.Context, competitionID uuid.UUID, txRef string) error
	CountParticipants(ctx context.Context, competitionID uuid.UUID) (int, error)
	CountSurvivors(ctx context.Context, competitionID uuid.UUID, roundsClosed int) (int, error)
}

// Publisher is the broadcast surface. *hub.Hub satisfies it.
type Publisher interface {
	Publish(channel hub.Channel, eventType events.Type, payload interface{}) error
}

// StatsProvider builds the quiz_stats payload for a competition round.
type StatsProvider interface {
	Stats(ctx context.Context, comp *models.Competition, part *models.UserCompetition, round int) (events.QuizStatsPayload, error)
}

// Config tunes the orchestrator's timing constants.
type Config struct {
	// StartLead is how long before startAt the one-shot trigger fires.
	StartLead time.Duration
	// StatsDelay is the pause between revealing the correct answer and
	// broadcasting the closed round's stats.
	StatsDelay time.Duration
	// BucketGrace extends an answer bucket's TTL past the window so a
	// drain racing the sweep never loses answers.
	BucketGrace time.Duration
}

// DefaultConfig returns production timing constants.
func DefaultConfig() Config {
	return Config{
		StartLead:   10 * time.Second,
		StatsDelay:  time.Second,
		BucketGrace: 5 * time.Second,
	}
}

// Orchestrator drives one timed loop per active competition: question
// reveal, answer window, correct-answer reveal, rest, and finally winner
// computation and payout. Loops for different competitions are fully
// independent.
type Orchestrator struct {
	repo        Repository
	pub         Publisher
	agg         *aggregator.Aggregator
	distributor *prize.Distributor
	stats       StatsProvider
	clock       Clock
	cfg         Config

	ctx context.Context

	startTimersMu sync.Mutex
	startTimers   map[uuid.UUID]clockwork.Timer

	cancelsMu sync.Mutex
	cancels   map[uuid.UUID]context.CancelFunc
}

// New creates an Orchestrator. Start must be called before Schedule.
func New(
	repo Repository,
	pub Publisher,
	agg *aggregator.Aggregator,
	distributor *prize.Distributor,
	stats StatsProvider,
	clock Clock,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		repo:        repo,
		pub:         pub,
		agg:         agg,
		distributor: distributor,
		stats:       stats,
		clock:       clock,
		cfg:         cfg,
		startTimers: make(map[uuid.UUID]clockwork.Timer),
		cancels:     make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start binds the orchestrator to its lifetime context. Competition loops
// end when ctx ends.
func (o *Orchestrator) Start(ctx context.Context) {
	o.ctx = ctx
}

// ScheduleAll schedules every upcoming active competition. Called on boot
// so a restarted server recovers its pending triggers.
func (o *Orchestrator) ScheduleAll(ctx context.Context) error {
	comps, err := o.repo.ListUpcomingCompetitions(ctx)
	if err != nil {
		return err
	}
	for i := range comps {
		o.Schedule(&comps[i])
	}
	log.Info().Int("count", len(comps)).Msg("scheduled upcoming competitions")
	return nil
}

// questionPayload builds the new_question broadcast body. The correct flag
// is withheld and choices are optionally shuffled per competition setting.
func (o *Orchestrator) questionPayload(ctx context.Context, comp *models.Competition, q *models.Question) events.QuestionPayload {
	choices := make([]events.ChoicePayload, len(q.Choices))
	for i, ch := range q.Choices {
		choices[i] = events.ChoicePayload{ID: ch.ID, Text: ch.Text}
	}
	if comp.ShuffleAnswers {
		rand.Shuffle(len(choices), func(i, j int) {
			choices[i], choices[j] = choices[j], choices[i]
		})
	}

	payload := events.QuestionPayload{
		ID:            q.ID,
		CompetitionID: comp.ID,
		Number:        q.Number,
		Text:          q.Text,
		Choices:       choices,
	}
	if total, err := o.repo.CountParticipants(ctx, comp.ID); err == nil {
		payload.TotalParticipantsCount = total
	}
	if remain, err := o.repo.CountSurvivors(ctx, comp.ID, q.Number-1); err == nil {
		payload.RemainParticipantsCount = remain
	}
	return payload
}

// sleep waits d on the orchestrator clock, returning false if the process
// is shutting down. Per-competition cancellation is deliberately not
// checked here: an in-flight round always completes its window.
func (o *Orchestrator) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := o.clock.NewTimer(d)
	select {
	case <-timer.Chan():
		return true
	case <-o.ctx.Done():
		stopAndDrainTimer(timer)
		return false
	}
}
