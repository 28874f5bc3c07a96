package quiz

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/triviarena/triviarena/internal/models"
	"github.com/triviarena/triviarena/internal/quiz/events"
	"github.com/triviarena/triviarena/internal/quiz/hub"
)

// Scheduler is the slice of the orchestrator the service drives when
// competitions are created, rescheduled or removed.
type Scheduler interface {
	Schedule(comp *models.Competition)
	Cancel(competitionID uuid.UUID)
}

// Publisher is the broadcast surface. *hub.Hub satisfies it.
type Publisher interface {
	Publish(channel hub.Channel, eventType events.Type, payload interface{}) error
}

// Service owns the quiz domain operations that sit between transport and
// storage: enrollment, lobby notifications, stats and eligibility.
type Service struct {
	repo  *Repository
	pub   Publisher
	clock clockwork.Clock

	// Set after construction; the orchestrator needs the service for
	// stats and the service needs the orchestrator for scheduling.
	sched Scheduler
}

// NewService creates a Service. SetScheduler must be called before any
// competition mutation arrives.
func NewService(repo *Repository, pub Publisher, clock clockwork.Clock) *Service {
	return &Service{repo: repo, pub: pub, clock: clock}
}

// SetScheduler wires the orchestrator in after both sides exist.
func (s *Service) SetScheduler(sched Scheduler) {
	s.sched = sched
}

// Enroll registers profile into the competition and announces the new
// participant count on the lobby channel. Re-enrolling returns the
// existing participation without a second announcement.
func (s *Service) Enroll(ctx context.Context, profileID, competitionID uuid.UUID) (*models.UserCompetition, error) {
	existing, err := s.repo.GetParticipation(ctx, profileID, competitionID)
	if err == nil {
		return existing, nil
	}

	uc, err := s.repo.Enroll(ctx, profileID, competitionID)
	if err != nil {
		return nil, err
	}

	count, err := s.repo.CountParticipants(ctx, competitionID)
	if err != nil {
		log.Error().Err(err).Str("competition_id", competitionID.String()).Msg("participant count failed after enrollment")
		return uc, nil
	}
	if err := s.pub.Publish(hub.Lobby, events.TypeIncreaseEnrollment, events.EnrollmentPayload{
		CompetitionID:     competitionID,
		ParticipantsCount: count,
	}); err != nil {
		log.Error().Err(err).Str("competition_id", competitionID.String()).Msg("enrollment broadcast failed")
	}

	log.Info().
		Str("competition_id", competitionID.String()).
		Str("profile_id", profileID.String()).
		Int("hint_count", uc.HintCount).
		Msg("profile enrolled")
	return uc, nil
}

// CompetitionUpdated reschedules the competition's start trigger and pushes
// the fresh row to every lobby session. Deactivating a competition cancels
// its trigger instead.
func (s *Service) CompetitionUpdated(ctx context.Context, competitionID uuid.UUID) error {
	comp, err := s.repo.GetCompetition(ctx, competitionID)
	if err != nil {
		return fmt.Errorf("reload competition: %w", err)
	}

	if comp.IsActive {
		s.sched.Schedule(comp)
		if err := s.pub.Publish(hub.Lobby, events.TypeUpdateCompetition, comp); err != nil {
			log.Error().Err(err).Str("competition_id", competitionID.String()).Msg("update broadcast failed")
		}
		return nil
	}

	s.sched.Cancel(competitionID)
	if err := s.pub.Publish(hub.Lobby, events.TypeRemoveCompetition, competitionID); err != nil {
		log.Error().Err(err).Str("competition_id", competitionID.String()).Msg("remove broadcast failed")
	}
	return nil
}

// CompetitionDeleted cancels the start trigger and tells lobby sessions to
// drop the row.
func (s *Service) CompetitionDeleted(competitionID uuid.UUID) {
	s.sched.Cancel(competitionID)
	if err := s.pub.Publish(hub.Lobby, events.TypeRemoveCompetition, competitionID); err != nil {
		log.Error().Err(err).Str("competition_id", competitionID.String()).Msg("remove broadcast failed")
	}
}

// Stats builds the aggregate quiz_stats view for a competition round. A
// zero round means "whatever round the clock says". part may be nil for
// broadcast stats; per-session replays pass it to fill the hint count.
func (s *Service) Stats(ctx context.Context, comp *models.Competition, part *models.UserCompetition, round int) (events.QuizStatsPayload, error) {
	if round <= 0 {
		round = comp.CurrentRound(s.clock.Now())
		if round < 1 {
			round = 1
		}
	}

	total, err := s.repo.CountParticipants(ctx, comp.ID)
	if err != nil {
		return events.QuizStatsPayload{}, err
	}
	participating, err := s.repo.CountSurvivors(ctx, comp.ID, round-1)
	if err != nil {
		return events.QuizStatsPayload{}, err
	}

	losses := 0
	if round >= 2 {
		before, err := s.repo.CountSurvivors(ctx, comp.ID, round-2)
		if err != nil {
			return events.QuizStatsPayload{}, err
		}
		losses = before - participating
	}

	prize := comp.PrizeAmount
	if comp.SplitPrize && participating > 0 {
		prize = comp.PrizeAmount.Div(int64(participating))
	}

	payload := events.QuizStatsPayload{
		UsersParticipating:     participating,
		PrizeToWin:             prize,
		TotalParticipantsCount: total,
		QuestionsCount:         len(comp.Questions),
		HintCount:              comp.HintCount,
		PreviousRoundLosses:    losses,
	}
	if part != nil {
		payload.HintCount = part.HintCount
	}
	return payload, nil
}

// IsEligible reports whether the participant may still answer: before the
// start everyone enrolled is eligible, afterwards every closed round must
// have been answered correctly.
func (s *Service) IsEligible(ctx context.Context, comp *models.Competition, part *models.UserCompetition) (bool, error) {
	if part == nil {
		return false, nil
	}
	closed := comp.RoundsClosed(s.clock.Now())
	if closed == 0 {
		return true, nil
	}
	correct, err := s.repo.CountCorrectAnswers(ctx, part.ID)
	if err != nil {
		return false, err
	}
	return correct >= closed, nil
}

// AnswersHistory builds the replay rows for a participation, inserting a
// placeholder for every closed round the participant never answered.
func (s *Service) AnswersHistory(ctx context.Context, comp *models.Competition, part *models.UserCompetition) ([]events.AnswerHistoryEntry, error) {
	records, err := s.repo.ListAnswerHistory(ctx, part.ID)
	if err != nil {
		return nil, err
	}

	byNumber := make(map[int]AnswerRecord, len(records))
	for _, rec := range records {
		byNumber[rec.QuestionNumber] = rec
	}

	closed := comp.RoundsClosed(s.clock.Now())
	entries := make([]events.AnswerHistoryEntry, 0, closed)
	for number := 1; number <= closed; number++ {
		if rec, ok := byNumber[number]; ok {
			choiceID := rec.SelectedChoiceID
			entries = append(entries, events.AnswerHistoryEntry{
				QuestionID:       rec.QuestionID,
				QuestionNumber:   rec.QuestionNumber,
				SelectedChoiceID: &choiceID,
				IsCorrect:        rec.IsCorrect,
			})
			continue
		}
		entry := events.AnswerHistoryEntry{QuestionNumber: number}
		if q := comp.QuestionByNumber(number); q != nil {
			entry.QuestionID = q.ID
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
