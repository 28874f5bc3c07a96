package models

import (
	"time"

	"github.com/google/uuid"
)

// answerRevealOffset is how long before the answer window closes that the
// correct choice becomes visible to read-side queries.
const answerRevealOffset = 2 * time.Second

// Question belongs to exactly one competition. Numbers are contiguous
// starting at 1.
type Question struct {
	ID            uuid.UUID `json:"id"`
	CompetitionID uuid.UUID `json:"competition_id"`
	Number        int       `json:"number"`
	Text          string    `json:"text"`
	Choices       []Choice  `json:"choices"`
}

// CanBeShown reports whether this question's round has begun.
func (q *Question) CanBeShown(c *Competition, now time.Time) bool {
	revealAt := c.StartAt.Add(time.Duration(q.Number-1) * c.RoundDuration())
	return !revealAt.After(now)
}

// AnswerCanBeShown reports whether the correct choice may be revealed.
func (q *Question) AnswerCanBeShown(c *Competition, now time.Time) bool {
	revealAt := c.StartAt.
		Add(time.Duration(q.Number-1) * c.RoundDuration()).
		Add(c.QuestionWindow() - answerRevealOffset)
	return !revealAt.After(now)
}

// CorrectChoice returns the choice marked correct, nil if authoring left
// the question without one.
func (q *Question) CorrectChoice() *Choice {
	for i := range q.Choices {
		if q.Choices[i].IsCorrect {
			return &q.Choices[i]
		}
	}
	return nil
}

// HintedChoices returns the ids of choices flagged as decoy-eligible for
// the fifty-fifty hint. The subset is fixed at authoring time.
func (q *Question) HintedChoices() []uuid.UUID {
	var ids []uuid.UUID
	for _, ch := range q.Choices {
		if ch.IsHintedChoice {
			ids = append(ids, ch.ID)
		}
	}
	return ids
}

// Choice is one answer option of a question.
type Choice struct {
	ID             uuid.UUID `json:"id"`
	QuestionID     uuid.UUID `json:"question_id"`
	Text           string    `json:"text"`
	IsCorrect      bool      `json:"is_correct"`
	IsHintedChoice bool      `json:"-"`
}
