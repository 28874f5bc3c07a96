package hints

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/triviarena/triviarena/internal/models"
	"github.com/triviarena/triviarena/internal/quiz/aggregator"
)

var (
	// ErrHintExhausted means the participation has no hints left.
	ErrHintExhausted = errors.New("hint allotment exhausted")
	// ErrHintNotAllowed means the requested hint is not among the
	// participation's registered, unspent grants.
	ErrHintNotAllowed = errors.New("hint not registered for participation")
	// ErrQuestionNotFound means the question does not belong to the
	// competition the participation is enrolled in.
	ErrQuestionNotFound = errors.New("question not found in competition")
)

// Repository is the storage surface the resolver needs.
type Repository interface {
	GetQuestion(ctx context.Context, questionID uuid.UUID) (*models.Question, error)
	RegisteredHints(ctx context.Context, participationID uuid.UUID) ([]models.UserCompetitionHint, error)
	ConsumeHint(ctx context.Context, grantID, questionID uuid.UUID) error
}

// Result is the resolved hint content. Exactly one of Choices or Stats is
// populated, matching Kind.
type Result struct {
	Kind    models.HintKind
	Choices []uuid.UUID
	Stats   map[uuid.UUID]float64
}

// Resolver spends hint grants and computes their content. All rejections
// happen before any state change; a failed request never burns a hint.
type Resolver struct {
	repo Repository
	agg  *aggregator.Aggregator
}

// NewResolver creates a Resolver.
func NewResolver(repo Repository, agg *aggregator.Aggregator) *Resolver {
	return &Resolver{repo: repo, agg: agg}
}

// Resolve consumes one of part's grants for hintID and returns the hint
// content for questionID. part's remaining count is decremented on success.
func (r *Resolver) Resolve(
	ctx context.Context,
	part *models.UserCompetition,
	comp *models.Competition,
	questionID, hintID uuid.UUID,
) (*Result, error) {
	if part == nil || part.HintCount <= 0 {
		return nil, ErrHintExhausted
	}

	question, err := r.repo.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, fmt.Errorf("load question %s: %w", questionID, err)
	}
	if question.CompetitionID != comp.ID {
		return nil, ErrQuestionNotFound
	}

	grants, err := r.repo.RegisteredHints(ctx, part.ID)
	if err != nil {
		return nil, fmt.Errorf("load registered hints: %w", err)
	}
	var grant *models.UserCompetitionHint
	for i := range grants {
		if grants[i].HintID == hintID && !grants[i].IsUsed {
			grant = &grants[i]
			break
		}
	}
	if grant == nil {
		return nil, ErrHintNotAllowed
	}

	if err := r.repo.ConsumeHint(ctx, grant.ID, questionID); err != nil {
		return nil, fmt.Errorf("consume hint grant: %w", err)
	}
	part.HintCount--

	log.Info().
		Str("participation_id", part.ID.String()).
		Str("question_id", questionID.String()).
		Str("kind", grant.Kind.String()).
		Msg("hint consumed")

	switch grant.Kind {
	case models.HintFifty:
		return &Result{Kind: models.HintFifty, Choices: question.HintedChoices()}, nil
	case models.HintStats:
		return &Result{
			Kind:  models.HintStats,
			Stats: r.liveStats(comp.ID, question),
		}, nil
	default:
		return nil, fmt.Errorf("unhandled hint kind %d", grant.Kind)
	}
}

// liveStats computes, per choice, the percentage of answers recorded so
// far this round. The denominator is the live sample, so early requesters
// see a smaller but still accurate distribution.
func (r *Resolver) liveStats(competitionID uuid.UUID, question *models.Question) map[uuid.UUID]float64 {
	answers := r.agg.Snapshot(aggregator.Key{
		CompetitionID: competitionID,
		QuestionID:    question.ID,
	})

	counts := make(map[uuid.UUID]int, len(question.Choices))
	for _, choiceID := range answers {
		counts[choiceID]++
	}

	stats := make(map[uuid.UUID]float64, len(question.Choices))
	for _, ch := range question.Choices {
		if len(answers) == 0 {
			stats[ch.ID] = 0
			continue
		}
		pct := float64(counts[ch.ID]) / float64(len(answers)) * 100
		stats[ch.ID] = math.Round(pct*100) / 100
	}
	return stats
}
