package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HintKind is the closed set of hint behaviors. Dispatch on it is
// exhaustive; there is no open-ended string tag at the call sites.
type HintKind int

const (
	// HintFifty reveals the authoring-time subset of decoy choices.
	HintFifty HintKind = iota
	// HintStats reveals the live answer distribution for the open round.
	HintStats
)

// ParseHintKind maps the stored tag onto a HintKind.
func ParseHintKind(s string) (HintKind, error) {
	switch s {
	case "fifty":
		return HintFifty, nil
	case "stats":
		return HintStats, nil
	default:
		return 0, fmt.Errorf("unknown hint kind %q", s)
	}
}

// String returns the stored tag for the kind.
func (k HintKind) String() string {
	switch k {
	case HintFifty:
		return "fifty"
	case HintStats:
		return "stats"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (k HintKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Hint is a hint definition participants may spend during a round.
type Hint struct {
	ID          uuid.UUID `json:"id"`
	Kind        HintKind  `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
}

// CompetitionHint is a builtin grant: a shared pool of Count uses of one
// hint scoped to a competition.
type CompetitionHint struct {
	CompetitionID uuid.UUID `json:"competition_id"`
	HintID        uuid.UUID `json:"hint_id"`
	Count         int       `json:"count"`
	CreatedAt     time.Time `json:"created_at"`
}

// HintAchievement is a personal grant a participant earned outside any
// competition. Consumable exactly once.
type HintAchievement struct {
	ID            uuid.UUID       `json:"id"`
	UserProfileID uuid.UUID       `json:"user_profile_id"`
	HintID        uuid.UUID       `json:"hint_id"`
	IsUsed        bool            `json:"is_used"`
	Params        json.RawMessage `json:"params,omitempty"`
	UsedAt        *time.Time      `json:"used_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// UserCompetitionHint tracks one grant registered to a participation and
// whether (and on which question) it was spent.
type UserCompetitionHint struct {
	ID                uuid.UUID  `json:"id"`
	UserCompetitionID uuid.UUID  `json:"user_competition_id"`
	HintID            uuid.UUID  `json:"hint_id"`
	Kind              HintKind   `json:"kind"`
	IsUsed            bool       `json:"is_used"`
	QuestionID        *uuid.UUID `json:"question_id,omitempty"`
	UsedAt            *time.Time `json:"used_at,omitempty"`
}
