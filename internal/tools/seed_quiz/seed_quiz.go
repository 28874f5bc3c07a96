package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/triviarena/triviarena/internal/dbconfig"
)

// SeedCompetition mirrors the competitions.json layout.
type SeedCompetition struct {
	ID                  uuid.UUID      `json:"id"`
	Title               string         `json:"title"`
	Details             string         `json:"details"`
	StartAt             time.Time      `json:"start_at"`
	PrizeAmount         string         `json:"prize_amount"`
	ChainID             int            `json:"chain_id"`
	TokenDecimals       int            `json:"token_decimals"`
	Token               string         `json:"token"`
	TokenAddress        string         `json:"token_address"`
	ShuffleAnswers      bool           `json:"shuffle_answers"`
	SplitPrize          bool           `json:"split_prize"`
	MaxParticipants     int            `json:"max_participants"`
	HintCount           int            `json:"hint_count"`
	QuestionTimeSeconds int            `json:"question_time_seconds"`
	RestTimeSeconds     int            `json:"rest_time_seconds"`
	Questions           []SeedQuestion `json:"questions"`
}

type SeedQuestion struct {
	ID      uuid.UUID    `json:"id"`
	Number  int          `json:"number"`
	Text    string       `json:"text"`
	Choices []SeedChoice `json:"choices"`
}

type SeedChoice struct {
	ID             uuid.UUID `json:"id"`
	Text           string    `json:"text"`
	IsCorrect      bool      `json:"is_correct"`
	IsHintedChoice bool      `json:"is_hinted_choice"`
}

func main() {
	ctx := context.Background()

	path := "internal/assets/competitions.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
		os.Exit(1)
	}
	var comps []SeedCompetition
	if err := json.Unmarshal(data, &comps); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal competitions: %v\n", err)
		os.Exit(1)
	}

	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect error: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	total, inserted, skipped, errs := len(comps), 0, 0, 0
	for _, c := range comps {
		tag, err := pool.Exec(ctx, `
            INSERT INTO competitions (
              id, title, details, created_at, start_at, prize_amount,
              chain_id, token_decimals, token, token_address,
              shuffle_answers, split_prize, max_participants,
              is_active, hint_count, question_time_seconds, rest_time_seconds
            ) VALUES ($1,$2,$3,now(),$4,$5,$6,$7,$8,$9,$10,$11,$12,TRUE,$13,$14,$15)
            ON CONFLICT (id) DO NOTHING
        `,
			c.ID, c.Title, c.Details, c.StartAt, c.PrizeAmount,
			c.ChainID, c.TokenDecimals, c.Token, c.TokenAddress,
			c.ShuffleAnswers, c.SplitPrize, c.MaxParticipants,
			c.HintCount, c.QuestionTimeSeconds, c.RestTimeSeconds,
		)
		if err != nil {
			errs++
			continue
		}
		if tag.RowsAffected() != 1 {
			skipped++
			continue
		}
		inserted++

		for _, q := range c.Questions {
			if _, err := pool.Exec(ctx, `
                INSERT INTO questions (id, competition_id, number, text)
                VALUES ($1,$2,$3,$4)
                ON CONFLICT (id) DO NOTHING
            `, q.ID, c.ID, q.Number, q.Text); err != nil {
				errs++
				continue
			}
			for _, ch := range q.Choices {
				if _, err := pool.Exec(ctx, `
                    INSERT INTO choices (id, question_id, text, is_correct, is_hinted_choice)
                    VALUES ($1,$2,$3,$4,$5)
                    ON CONFLICT (id) DO NOTHING
                `, ch.ID, q.ID, ch.Text, ch.IsCorrect, ch.IsHintedChoice); err != nil {
					errs++
				}
			}
		}
	}
	fmt.Printf(
		"Competitions seed: total=%d inserted=%d skipped=%d errors=%d\n",
		total, inserted, skipped, errs,
	)
}
