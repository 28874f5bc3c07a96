package models

import (
	"github.com/google/uuid"
)

// UserCompetition is one participant's enrollment in one competition.
// Unique per (profile, competition); enrollment is idempotent.
type UserCompetition struct {
	ID            uuid.UUID `json:"id"`
	UserProfileID uuid.UUID `json:"user_profile_id"`
	CompetitionID uuid.UUID `json:"competition_id"`
	IsWinner      bool      `json:"is_winner"`
	AmountWon     *BigNum   `json:"amount_won"`
	HintCount     int       `json:"hint_count"`
	TxHash        string    `json:"tx_hash"`
}

// UserAnswer is the durable record of one participant's answer to one
// question. Rows are created only when a round closes and the live bucket
// is drained, never synchronously on submission.
type UserAnswer struct {
	ID                uuid.UUID `json:"id"`
	UserCompetitionID uuid.UUID `json:"user_competition_id"`
	QuestionID        uuid.UUID `json:"question_id"`
	SelectedChoiceID  uuid.UUID `json:"selected_choice_id"`
}
