package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/triviarena/triviarena/internal/auth"
	"github.com/triviarena/triviarena/internal/models"
	"github.com/triviarena/triviarena/internal/quiz"
	"github.com/triviarena/triviarena/internal/quiz/aggregator"
	"github.com/triviarena/triviarena/internal/quiz/events"
	"github.com/triviarena/triviarena/internal/quiz/hints"
	"github.com/triviarena/triviarena/internal/quiz/hub"
)

// Service is the slice of quiz application logic sessions drive.
// *quiz.Service satisfies it.
type Service interface {
	Stats(ctx context.Context, comp *models.Competition, part *models.UserCompetition, round int) (events.QuizStatsPayload, error)
	IsEligible(ctx context.Context, comp *models.Competition, part *models.UserCompetition) (bool, error)
	AnswersHistory(ctx context.Context, comp *models.Competition, part *models.UserCompetition) ([]events.AnswerHistoryEntry, error)
}

// Repository is the storage slice the gateway reads. *quiz.Repository
// satisfies it.
type Repository interface {
	GetCompetition(ctx context.Context, id uuid.UUID) (*models.Competition, error)
	GetParticipation(ctx context.Context, profileID, competitionID uuid.UUID) (*models.UserCompetition, error)
	ListActiveCompetitions(ctx context.Context) ([]models.Competition, error)
	ListEnrolledCompetitionIDs(ctx context.Context, profileID uuid.UUID) ([]uuid.UUID, error)
	ListWinners(ctx context.Context, competitionID uuid.UUID) ([]quiz.WinnerRecord, error)
	CountParticipants(ctx context.Context, competitionID uuid.UUID) (int, error)
	CountSurvivors(ctx context.Context, competitionID uuid.UUID, roundsClosed int) (int, error)
}

// Gateway owns the WebSocket endpoints. Each accepted connection becomes a
// Session holding exactly one hub subscription; the gateway's job is
// upgrading, authenticating and replaying current state before the live
// stream takes over.
type Gateway struct {
	service  Service
	repo     Repository
	hub      *hub.Hub
	resolver *hints.Resolver
	agg      *aggregator.Aggregator
	auth     auth.Authenticator
	clock    clockwork.Clock

	upgrader websocket.Upgrader
}

// New creates a Gateway.
func New(
	service Service,
	repo Repository,
	h *hub.Hub,
	resolver *hints.Resolver,
	agg *aggregator.Aggregator,
	authenticator auth.Authenticator,
	clock clockwork.Clock,
) *Gateway {
	return &Gateway{
		service:  service,
		repo:     repo,
		hub:      h,
		resolver: resolver,
		agg:      agg,
		auth:     authenticator,
		clock:    clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers cannot set headers on WebSocket dials; origin
			// policy is enforced by the CORS layer in front.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// authenticate resolves the request's credential to a profile. Anonymous
// requests yield a nil profile.
func (g *Gateway) authenticate(r *http.Request) (*models.UserProfile, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if c, err := r.Cookie("session"); err == nil {
			token = c.Value
		}
	}
	return g.auth.Authenticate(r.Context(), token)
}

// HandleLobby serves the competition-list channel. Every session gets the
// active competitions on connect; authenticated sessions also get their own
// enrollments.
func (g *Gateway) HandleLobby(w http.ResponseWriter, r *http.Request) {
	profile, err := g.authenticate(r)
	if err != nil {
		log.Error().Err(err).Msg("lobby authentication failed")
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("lobby upgrade failed")
		return
	}

	// Replay queues into the session's reply buffer before the pumps run,
	// so no command can touch session state mid-replay.
	session := newSession(g, conn, g.hub.Subscribe(hub.Lobby), nil, nil, profile)
	g.replayLobby(r.Context(), session, profile)
	session.start()
}

func (g *Gateway) replayLobby(ctx context.Context, s *Session, profile *models.UserProfile) {
	comps, err := g.repo.ListActiveCompetitions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("lobby replay failed")
		return
	}
	s.sendEvent(events.TypeCompetitionList, comps)

	if profile == nil {
		return
	}
	ids, err := g.repo.ListEnrolledCompetitionIDs(ctx, profile.ID)
	if err != nil {
		log.Error().Err(err).Str("profile_id", profile.ID.String()).Msg("enrollment replay failed")
		return
	}
	s.sendEvent(events.TypeUserEnrolls, ids)
}

// HandleQuiz serves one competition's channel. The session is admitted as a
// spectator when unauthenticated or not enrolled; only answering and hints
// require a participation.
func (g *Gateway) HandleQuiz(w http.ResponseWriter, r *http.Request) {
	competitionID, err := uuid.Parse(r.URL.Query().Get("competition_id"))
	if err != nil {
		http.Error(w, "invalid competition_id", http.StatusBadRequest)
		return
	}

	comp, err := g.repo.GetCompetition(r.Context(), competitionID)
	if err != nil {
		if errors.Is(err, quiz.ErrNotFound) {
			http.Error(w, "competition not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("competition_id", competitionID.String()).Msg("competition load failed")
		http.Error(w, "competition load failed", http.StatusInternalServerError)
		return
	}

	profile, err := g.authenticate(r)
	if err != nil {
		log.Error().Err(err).Msg("quiz authentication failed")
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	var part *models.UserCompetition
	if profile != nil {
		part, err = g.repo.GetParticipation(r.Context(), profile.ID, competitionID)
		if err != nil && !errors.Is(err, quiz.ErrNotFound) {
			log.Error().Err(err).Msg("participation load failed")
			http.Error(w, "participation load failed", http.StatusInternalServerError)
			return
		}
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("quiz upgrade failed")
		return
	}

	session := newSession(g, conn, g.hub.Subscribe(hub.Competition(competitionID)), comp, part, profile)
	g.replayQuiz(r.Context(), session)
	session.start()
}

// replayQuiz pushes the connecting session to the competition's current
// state: answer history and stats first, then whichever of idle, the live
// question or the finish frame matches the clock.
func (g *Gateway) replayQuiz(ctx context.Context, s *Session) {
	now := g.clock.Now()
	comp := s.comp

	if s.part != nil {
		history, err := g.service.AnswersHistory(ctx, comp, s.part)
		if err != nil {
			log.Error().Err(err).Msg("answer history replay failed")
		} else {
			s.sendEvent(events.TypeAnswersHistory, history)
		}
	}

	stats, err := g.service.Stats(ctx, comp, s.part, 0)
	if err != nil {
		log.Error().Err(err).Msg("stats replay failed")
	} else {
		s.sendEvent(events.TypeQuizStats, stats)
	}

	switch {
	case !comp.CanBeShown(now):
		s.sendEvent(events.TypeIdle, events.IdlePayload{
			Message: "wait for quiz to start",
			StartAt: comp.StartAt,
		})
	case comp.IsFinished(now):
		g.replayFinish(ctx, s)
	default:
		g.sendCurrentQuestion(ctx, s)
	}
}

func (g *Gateway) replayFinish(ctx context.Context, s *Session) {
	records, err := g.repo.ListWinners(ctx, s.comp.ID)
	if err != nil {
		log.Error().Err(err).Msg("winner replay failed")
		return
	}
	list := make([]events.WinnerPayload, 0, len(records))
	for _, rec := range records {
		list = append(list, events.WinnerPayload{
			WalletAddress: rec.WalletAddress,
			AmountWon:     rec.AmountWon,
			TxHash:        rec.TxHash,
		})
	}
	s.sendEvent(events.TypeFinishQuiz, events.FinishPayload{WinnersList: list})
}

// sendCurrentQuestion replays the round in progress to one session, with
// per-session eligibility filled in and the correct choice included only
// once the reveal point has passed.
func (g *Gateway) sendCurrentQuestion(ctx context.Context, s *Session) {
	now := g.clock.Now()
	comp := s.comp

	round := comp.CurrentRound(now)
	if round < 1 || round > len(comp.Questions) {
		return
	}
	question := comp.QuestionByNumber(round)
	if question == nil || !question.CanBeShown(comp, now) {
		return
	}

	reveal := question.AnswerCanBeShown(comp, now)
	choices := make([]events.ChoicePayload, len(question.Choices))
	for i, ch := range question.Choices {
		choices[i] = events.ChoicePayload{ID: ch.ID, Text: ch.Text}
		if reveal {
			isCorrect := ch.IsCorrect
			choices[i].IsCorrect = &isCorrect
		}
	}

	eligible, err := g.service.IsEligible(ctx, comp, s.part)
	if err != nil {
		log.Error().Err(err).Msg("eligibility check failed")
		eligible = false
	}

	payload := events.QuestionPayload{
		ID:            question.ID,
		CompetitionID: comp.ID,
		Number:        question.Number,
		Text:          question.Text,
		Choices:       choices,
		IsEligible:    &eligible,
	}
	if total, err := g.repo.CountParticipants(ctx, comp.ID); err == nil {
		payload.TotalParticipantsCount = total
	}
	if remain, err := g.repo.CountSurvivors(ctx, comp.ID, question.Number-1); err == nil {
		payload.RemainParticipantsCount = remain
	}
	s.sendEvent(events.TypeNewQuestion, payload)
}

// answerWindowOpen reports whether the question's answer window contains now.
func answerWindowOpen(comp *models.Competition, question *models.Question, now time.Time) bool {
	opens := comp.StartAt.Add(time.Duration(question.Number-1) * comp.RoundDuration())
	closes := opens.Add(comp.QuestionWindow())
	return !now.Before(opens) && now.Before(closes)
}
