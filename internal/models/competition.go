package models

import (
	"time"

	"github.com/google/uuid"
)

// Competition is a timed trivia competition. Progress through its questions
// is never stored: it is always derived from StartAt, the per-question
// timings and the wall clock, so late joiners and restarted servers all
// reconstruct the same state.
type Competition struct {
	ID                  uuid.UUID  `json:"id"`
	Title               string     `json:"title"`
	Details             string     `json:"details"`
	CreatedAt           time.Time  `json:"created_at"`
	StartAt             time.Time  `json:"start_at"`
	PrizeAmount         *BigNum    `json:"prize_amount"`
	ChainID             int        `json:"chain_id"`
	TokenDecimals       int        `json:"token_decimals"`
	Token               string     `json:"token"`
	TokenAddress        string     `json:"token_address"`
	ShuffleAnswers      bool       `json:"shuffle_answers"`
	SplitPrize          bool       `json:"split_prize"`
	MaxParticipants     int        `json:"max_participants"`
	TxHash              string     `json:"tx_hash"`
	IsActive            bool       `json:"is_active"`
	HintCount           int        `json:"hint_count"`
	QuestionTimeSeconds int        `json:"question_time_seconds"`
	RestTimeSeconds     int        `json:"rest_time_seconds"`
	Questions           []Question `json:"questions"`
}

// QuestionWindow is the answer window of a single question.
func (c *Competition) QuestionWindow() time.Duration {
	return time.Duration(c.QuestionTimeSeconds) * time.Second
}

// RestWindow is the pause between a question closing and the next reveal.
func (c *Competition) RestWindow() time.Duration {
	return time.Duration(c.RestTimeSeconds) * time.Second
}

// RoundDuration is one full round: answer window plus rest.
func (c *Competition) RoundDuration() time.Duration {
	return c.QuestionWindow() + c.RestWindow()
}

// CanBeShown reports whether the competition has started.
func (c *Competition) CanBeShown(now time.Time) bool {
	return !c.StartAt.After(now)
}

// IsInProgress reports whether some round is still running. The last round
// has no trailing rest, so progress ends at the close of the final answer
// window.
func (c *Competition) IsInProgress(now time.Time) bool {
	if !c.CanBeShown(now) {
		return false
	}
	end := c.StartAt.Add(time.Duration(len(c.Questions))*c.RoundDuration() - c.RestWindow())
	return !end.Before(now)
}

// IsFinished reports whether every round, including the final rest, has
// elapsed. IsInProgress and IsFinished are mutually exclusive.
func (c *Competition) IsFinished(now time.Time) bool {
	if c.IsInProgress(now) {
		return false
	}
	end := c.StartAt.Add(time.Duration(len(c.Questions)) * c.RoundDuration())
	return !end.After(now)
}

// CurrentRound returns the 1-based round whose window contains now, 0
// before the competition starts. It is not capped at the question count.
func (c *Competition) CurrentRound(now time.Time) int {
	if now.Before(c.StartAt) {
		return 0
	}
	return int(now.Sub(c.StartAt)/c.RoundDuration()) + 1
}

// RoundsClosed returns how many rounds have had their answer window close
// by now, capped at the question count. A participant must have answered
// every closed round correctly to still be in the running.
func (c *Competition) RoundsClosed(now time.Time) int {
	if now.Before(c.StartAt.Add(c.QuestionWindow())) {
		return 0
	}
	elapsed := now.Sub(c.StartAt) - c.QuestionWindow()
	closed := int(elapsed/c.RoundDuration()) + 1
	if n := len(c.Questions); closed > n {
		closed = n
	}
	return closed
}

// QuestionByNumber returns the question with the given 1-based number.
func (c *Competition) QuestionByNumber(number int) *Question {
	for i := range c.Questions {
		if c.Questions[i].Number == number {
			return &c.Questions[i]
		}
	}
	return nil
}
