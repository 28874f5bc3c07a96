package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/triviarena/triviarena/internal/models"
)

// ChoicePayload is a choice as shown to sessions. IsCorrect stays null
// until the round's answer reveal has passed.
type ChoicePayload struct {
	ID        uuid.UUID `json:"id"`
	Text      string    `json:"text"`
	IsCorrect *bool     `json:"is_correct"`
}

// QuestionPayload carries a revealed question to all subscribed sessions.
type QuestionPayload struct {
	ID                      uuid.UUID       `json:"id"`
	CompetitionID           uuid.UUID       `json:"competition_id"`
	Number                  int             `json:"number"`
	Text                    string          `json:"text"`
	Choices                 []ChoicePayload `json:"choices"`
	IsEligible              *bool           `json:"is_eligible,omitempty"`
	RemainParticipantsCount int             `json:"remain_participants_count"`
	TotalParticipantsCount  int             `json:"total_participants_count"`
}

// CorrectAnswerPayload announces the correct choice of a closed round.
type CorrectAnswerPayload struct {
	AnswerID       uuid.UUID `json:"answer_id"`
	QuestionID     uuid.UUID `json:"question_id"`
	QuestionNumber int       `json:"question_number"`
}

// QuizStatsPayload is the aggregate view broadcast after each round and
// replayed to connecting sessions.
type QuizStatsPayload struct {
	UsersParticipating     int            `json:"users_participating"`
	PrizeToWin             *models.BigNum `json:"prize_to_win"`
	TotalParticipantsCount int            `json:"total_participants_count"`
	QuestionsCount         int            `json:"questions_count"`
	HintCount              int            `json:"hint_count"`
	PreviousRoundLosses    int            `json:"previous_round_losses"`
}

// WinnerPayload is one entry of a finish_quiz winners list.
type WinnerPayload struct {
	WalletAddress string         `json:"wallet_address"`
	AmountWon     *models.BigNum `json:"amount_won"`
	TxHash        string         `json:"tx_hash"`
}

// FinishPayload closes out a competition for all sessions.
type FinishPayload struct {
	WinnersList []WinnerPayload `json:"winners_list"`
}

// AnswerHistoryEntry is one row of the answers_history replay. Rounds the
// participant missed appear with a nil selected choice.
type AnswerHistoryEntry struct {
	QuestionID       uuid.UUID  `json:"question_id"`
	QuestionNumber   int        `json:"question_number"`
	SelectedChoiceID *uuid.UUID `json:"selected_choice_id"`
	IsCorrect        bool       `json:"is_correct"`
}

// AddAnswerPayload acknowledges a recorded answer to its own session.
type AddAnswerPayload struct {
	QuestionID       uuid.UUID `json:"question_id"`
	SelectedChoiceID uuid.UUID `json:"selected_choice_id"`
	IsCorrect        bool      `json:"is_correct"`
	IsEligible       bool      `json:"is_eligible"`
}

// HintPayload answers a GET_HINT command. Exactly one of Choices or Stats
// is set, matching the hint kind.
type HintPayload struct {
	QuestionID uuid.UUID             `json:"question_id"`
	Kind       models.HintKind       `json:"kind"`
	Choices    []uuid.UUID           `json:"choices,omitempty"`
	Stats      map[uuid.UUID]float64 `json:"stats,omitempty"`
}

// IdlePayload tells a session the competition has not started yet.
type IdlePayload struct {
	Message string    `json:"message"`
	StartAt time.Time `json:"start_at"`
}

// EnrollmentPayload announces a new enrollment on the lobby channel.
type EnrollmentPayload struct {
	CompetitionID     uuid.UUID `json:"competition_id"`
	ParticipantsCount int       `json:"participants_count"`
}
