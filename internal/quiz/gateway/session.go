package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/triviarena/triviarena/internal/models"
	"github.com/triviarena/triviarena/internal/quiz/aggregator"
	"github.com/triviarena/triviarena/internal/quiz/events"
	"github.com/triviarena/triviarena/internal/quiz/hints"
	"github.com/triviarena/triviarena/internal/quiz/hub"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// Session command names.
const (
	cmdPing           = "PING"
	cmdGetCurrentQ    = "GET_CURRENT_QUESTION"
	cmdGetCompetition = "GET_COMPETITION"
	cmdGetStats       = "GET_STATS"
	cmdGetHint        = "GET_HINT"
	cmdAnswer         = "ANSWER"
)

type command struct {
	Command          string    `json:"command"`
	QuestionID       uuid.UUID `json:"question_id,omitempty"`
	SelectedChoiceID uuid.UUID `json:"selected_choice_id,omitempty"`
	HintID           uuid.UUID `json:"hint_id,omitempty"`
}

// Session is one WebSocket connection: a read pump dispatching commands and
// a write pump draining both the hub subscription and the session's own
// replies. Command failures are logged and answered in-band; they never
// close the connection.
type Session struct {
	g    *Gateway
	conn *websocket.Conn
	sub  *hub.Subscriber

	comp    *models.Competition
	part    *models.UserCompetition
	profile *models.UserProfile

	// Replies addressed to this session only, merged into the write pump
	// alongside hub broadcasts.
	replies chan []byte
}

func newSession(
	g *Gateway,
	conn *websocket.Conn,
	sub *hub.Subscriber,
	comp *models.Competition,
	part *models.UserCompetition,
	profile *models.UserProfile,
) *Session {
	return &Session{
		g:       g,
		conn:    conn,
		sub:     sub,
		comp:    comp,
		part:    part,
		profile: profile,
		replies: make(chan []byte, 64),
	}
}

func (s *Session) start() {
	go s.writePump()
	go s.readPump()
}

// sendEvent marshals an envelope addressed to this session only. A full
// reply buffer drops the frame rather than stalling anything.
func (s *Session) sendEvent(eventType events.Type, payload interface{}) {
	env, err := events.NewEnvelope(eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(eventType)).Msg("reply envelope failed")
		return
	}
	data, err := env.Marshal()
	if err != nil {
		log.Error().Err(err).Str("type", string(eventType)).Msg("reply marshal failed")
		return
	}
	s.sendRaw(data)
}

func (s *Session) sendRaw(data []byte) {
	select {
	case s.replies <- data:
	default:
		log.Warn().Str("subscriber_id", s.sub.ID).Msg("session reply buffer full, dropping frame")
	}
}

// readPump reads commands until the connection errors or closes.
func (s *Session) readPump() {
	defer func() {
		s.g.hub.Unsubscribe(s.sub)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("subscriber_id", s.sub.ID).Msg("session read error")
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			log.Debug().Err(err).Str("subscriber_id", s.sub.ID).Msg("unparseable command")
			continue
		}
		s.dispatch(context.Background(), cmd)
	}
}

// writePump drains hub broadcasts and session replies into the connection.
// It owns all writes; nothing else touches the socket.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.sub.Send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub dropped or unsubscribed us.
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case data := <-s.replies:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) dispatch(ctx context.Context, cmd command) {
	switch cmd.Command {
	case cmdPing:
		s.sendRaw([]byte("PONG"))
	case cmdGetCurrentQ:
		if s.comp != nil {
			s.g.sendCurrentQuestion(ctx, s)
		}
	case cmdGetCompetition:
		s.handleGetCompetition(ctx)
	case cmdGetStats:
		s.handleGetStats(ctx)
	case cmdGetHint:
		s.handleGetHint(ctx, cmd)
	case cmdAnswer:
		s.handleAnswer(ctx, cmd)
	default:
		log.Debug().Str("command", cmd.Command).Msg("unknown session command")
	}
}

func (s *Session) handleGetCompetition(ctx context.Context) {
	if s.comp == nil {
		return
	}
	comp, err := s.g.repo.GetCompetition(ctx, s.comp.ID)
	if err != nil {
		log.Error().Err(err).Msg("competition refresh failed")
		return
	}
	s.comp = comp
	s.sendEvent(events.TypeUpdateCompetition, comp)
}

func (s *Session) handleGetStats(ctx context.Context) {
	if s.comp == nil {
		return
	}
	stats, err := s.g.service.Stats(ctx, s.comp, s.part, 0)
	if err != nil {
		log.Error().Err(err).Msg("stats command failed")
		return
	}
	s.sendEvent(events.TypeQuizStats, stats)
}

func (s *Session) handleGetHint(ctx context.Context, cmd command) {
	if s.comp == nil || s.part == nil {
		s.sendError("hints require enrollment")
		return
	}

	result, err := s.g.resolver.Resolve(ctx, s.part, s.comp, cmd.QuestionID, cmd.HintID)
	if err != nil {
		switch {
		case errors.Is(err, hints.ErrHintExhausted),
			errors.Is(err, hints.ErrHintNotAllowed),
			errors.Is(err, hints.ErrQuestionNotFound):
			s.sendError(err.Error())
		default:
			log.Error().Err(err).Str("question_id", cmd.QuestionID.String()).Msg("hint resolution failed")
			s.sendError("hint resolution failed")
		}
		return
	}

	s.sendEvent(events.TypeHintQuestion, events.HintPayload{
		QuestionID: cmd.QuestionID,
		Kind:       result.Kind,
		Choices:    result.Choices,
		Stats:      result.Stats,
	})
}

// handleAnswer records an answer in the round's bucket. Rejections are
// silent: no state changes and no frame, the session just gets no ack. The
// ack carries correctness only once the reveal point has passed.
func (s *Session) handleAnswer(ctx context.Context, cmd command) {
	if s.comp == nil || s.part == nil {
		return
	}

	question := s.findQuestion(cmd.QuestionID)
	if question == nil {
		log.Debug().Str("question_id", cmd.QuestionID.String()).Msg("answer for unknown question dropped")
		return
	}

	now := s.g.clock.Now()
	if !answerWindowOpen(s.comp, question, now) {
		return
	}

	eligible, err := s.g.service.IsEligible(ctx, s.comp, s.part)
	if err != nil {
		log.Error().Err(err).Msg("eligibility check failed")
		return
	}
	if !eligible {
		log.Debug().Str("participation_id", s.part.ID.String()).Msg("ineligible answer dropped")
		return
	}

	var choice *models.Choice
	for i := range question.Choices {
		if question.Choices[i].ID == cmd.SelectedChoiceID {
			choice = &question.Choices[i]
			break
		}
	}
	if choice == nil {
		return
	}

	key := aggregator.Key{CompetitionID: s.comp.ID, QuestionID: question.ID}
	if err := s.g.agg.Record(key, s.part.ID, choice.ID); err != nil {
		if !errors.Is(err, aggregator.ErrRoundNotOpen) {
			log.Error().Err(err).Msg("answer record failed")
		}
		return
	}

	ack := events.AddAnswerPayload{
		QuestionID:       question.ID,
		SelectedChoiceID: choice.ID,
		IsEligible:       true,
	}
	if question.AnswerCanBeShown(s.comp, s.g.clock.Now()) {
		ack.IsCorrect = choice.IsCorrect
	}
	s.sendEvent(events.TypeAddAnswer, ack)
}

func (s *Session) findQuestion(id uuid.UUID) *models.Question {
	for i := range s.comp.Questions {
		if s.comp.Questions[i].ID == id {
			return &s.comp.Questions[i]
		}
	}
	return nil
}

type errorPayload struct {
	Error string `json:"error"`
}

func (s *Session) sendError(msg string) {
	s.sendEvent(events.TypeError, errorPayload{Error: msg})
}
