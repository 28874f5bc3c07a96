package events

import (
	"encoding/json"
	"fmt"
)

// Type identifies an outbound event on the wire.
type Type string

const (
	TypeNewQuestion        Type = "new_question"
	TypeCorrectAnswer      Type = "correct_answer"
	TypeQuizStats          Type = "quiz_stats"
	TypeFinishQuiz         Type = "finish_quiz"
	TypeUpdateCompetition  Type = "update_competition"
	TypeRemoveCompetition  Type = "remove_competition"
	TypeIncreaseEnrollment Type = "increase_enrollment"
	TypeAnswersHistory     Type = "answers_history"
	TypeIdle               Type = "idle"
	TypeHintQuestion       Type = "hint_question"
	TypeAddAnswer          Type = "add_answer"
	TypeCompetitionList    Type = "competition_list"
	TypeUserEnrolls        Type = "user_enrolls"
	TypeError              Type = "error"
)

// Envelope is the outbound wire frame for every event.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Marshal returns the wire form of the envelope.
func (e Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", e.Type, err)
	}
	return data, nil
}

// NewEnvelope marshals payload into an Envelope.
func NewEnvelope(t Type, payload interface{}) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: t}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Data: data}, nil
}
