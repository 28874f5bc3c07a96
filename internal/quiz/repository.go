package quiz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/triviarena/triviarena/internal/models"
	"github.com/triviarena/triviarena/internal/quiz/orchestrator"
	"github.com/triviarena/triviarena/internal/sqlutil"
)

var (
	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCompetitionFull means enrollment would exceed maxParticipants.
	ErrCompetitionFull = errors.New("competition has reached the maximum number of participants")
)

// AnswerRecord is one row of a participant's answer history.
type AnswerRecord struct {
	QuestionID       uuid.UUID
	QuestionNumber   int
	SelectedChoiceID uuid.UUID
	IsCorrect        bool
}

// WinnerRecord is one row of a finished competition's winner list.
type WinnerRecord struct {
	WalletAddress string
	AmountWon     *models.BigNum
	TxHash        string
}

// Repository is the Postgres storage collaborator. Components depend on
// the narrow slices of it they declare themselves; this type satisfies
// all of them.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a Repository on db.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetCompetition loads a competition with its questions and choices.
func (r *Repository) GetCompetition(ctx context.Context, id uuid.UUID) (*models.Competition, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, title, details, created_at, start_at, prize_amount,
		       chain_id, token_decimals, token, token_address,
		       shuffle_answers, split_prize, max_participants,
		       COALESCE(tx_hash, ''), is_active, hint_count,
		       question_time_seconds, rest_time_seconds
		FROM competitions WHERE id = $1`, id)

	comp, err := scanCompetition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("competition %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get competition: %w", err)
	}

	if err := r.loadQuestions(ctx, comp); err != nil {
		return nil, err
	}
	return comp, nil
}

// ListActiveCompetitions returns active competitions, newest first, with
// their questions loaded (choices omitted; the lobby view never sees them).
func (r *Repository) ListActiveCompetitions(ctx context.Context) ([]models.Competition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, details, created_at, start_at, prize_amount,
		       chain_id, token_decimals, token, token_address,
		       shuffle_answers, split_prize, max_participants,
		       COALESCE(tx_hash, ''), is_active, hint_count,
		       question_time_seconds, rest_time_seconds
		FROM competitions WHERE is_active ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list competitions: %w", err)
	}
	defer rows.Close()

	var comps []models.Competition
	for rows.Next() {
		comp, err := scanCompetition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan competition: %w", err)
		}
		comps = append(comps, *comp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range comps {
		if err := r.loadQuestionRows(ctx, &comps[i], false); err != nil {
			return nil, err
		}
	}
	return comps, nil
}

// ListUpcomingCompetitions returns active competitions that have not yet
// started, for re-arming triggers on boot.
func (r *Repository) ListUpcomingCompetitions(ctx context.Context) ([]models.Competition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, details, created_at, start_at, prize_amount,
		       chain_id, token_decimals, token, token_address,
		       shuffle_answers, split_prize, max_participants,
		       COALESCE(tx_hash, ''), is_active, hint_count,
		       question_time_seconds, rest_time_seconds
		FROM competitions WHERE is_active AND start_at > now()`)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming competitions: %w", err)
	}
	defer rows.Close()

	var comps []models.Competition
	for rows.Next() {
		comp, err := scanCompetition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan competition: %w", err)
		}
		comps = append(comps, *comp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range comps {
		if err := r.loadQuestionRows(ctx, &comps[i], false); err != nil {
			return nil, err
		}
	}
	return comps, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCompetition(row rowScanner) (*models.Competition, error) {
	comp := &models.Competition{PrizeAmount: &models.BigNum{}}
	err := row.Scan(
		&comp.ID, &comp.Title, &comp.Details, &comp.CreatedAt, &comp.StartAt,
		comp.PrizeAmount, &comp.ChainID, &comp.TokenDecimals, &comp.Token,
		&comp.TokenAddress, &comp.ShuffleAnswers, &comp.SplitPrize,
		&comp.MaxParticipants, &comp.TxHash, &comp.IsActive, &comp.HintCount,
		&comp.QuestionTimeSeconds, &comp.RestTimeSeconds,
	)
	if err != nil {
		return nil, err
	}
	return comp, nil
}

func (r *Repository) loadQuestions(ctx context.Context, comp *models.Competition) error {
	return r.loadQuestionRows(ctx, comp, true)
}

func (r *Repository) loadQuestionRows(ctx context.Context, comp *models.Competition, withChoices bool) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, competition_id, number, text
		FROM questions WHERE competition_id = $1 ORDER BY number`, comp.ID)
	if err != nil {
		return fmt.Errorf("failed to load questions: %w", err)
	}
	defer rows.Close()

	comp.Questions = nil
	for rows.Next() {
		var q models.Question
		if err := rows.Scan(&q.ID, &q.CompetitionID, &q.Number, &q.Text); err != nil {
			return fmt.Errorf("failed to scan question: %w", err)
		}
		comp.Questions = append(comp.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if !withChoices {
		return nil
	}
	for i := range comp.Questions {
		choices, err := r.loadChoices(ctx, comp.Questions[i].ID)
		if err != nil {
			return err
		}
		comp.Questions[i].Choices = choices
	}
	return nil
}

func (r *Repository) loadChoices(ctx context.Context, questionID uuid.UUID) ([]models.Choice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, question_id, text, is_correct, is_hinted_choice
		FROM choices WHERE question_id = $1 ORDER BY id`, questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load choices: %w", err)
	}
	defer rows.Close()

	var choices []models.Choice
	for rows.Next() {
		var ch models.Choice
		if err := rows.Scan(&ch.ID, &ch.QuestionID, &ch.Text, &ch.IsCorrect, &ch.IsHintedChoice); err != nil {
			return nil, fmt.Errorf("failed to scan choice: %w", err)
		}
		choices = append(choices, ch)
	}
	return choices, rows.Err()
}

// GetQuestion loads one question with its choices.
func (r *Repository) GetQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	var q models.Question
	err := r.db.QueryRowContext(ctx, `
		SELECT id, competition_id, number, text
		FROM questions WHERE id = $1`, id).
		Scan(&q.ID, &q.CompetitionID, &q.Number, &q.Text)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("question %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}

	q.Choices, err = r.loadChoices(ctx, q.ID)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// GetQuestionByNumber loads a competition's question by its 1-based number.
func (r *Repository) GetQuestionByNumber(ctx context.Context, competitionID uuid.UUID, number int) (*models.Question, error) {
	var q models.Question
	err := r.db.QueryRowContext(ctx, `
		SELECT id, competition_id, number, text
		FROM questions WHERE competition_id = $1 AND number = $2`, competitionID, number).
		Scan(&q.ID, &q.CompetitionID, &q.Number, &q.Text)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("question %d of competition %s: %w", number, competitionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}

	q.Choices, err = r.loadChoices(ctx, q.ID)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// GetProfile loads a user profile.
func (r *Repository) GetProfile(ctx context.Context, id uuid.UUID) (*models.UserProfile, error) {
	var p models.UserProfile
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, wallet_address
		FROM user_profiles WHERE id = $1`, id).
		Scan(&p.ID, &p.Username, &p.WalletAddress)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

// GetParticipation loads the (profile, competition) enrollment row.
func (r *Repository) GetParticipation(ctx context.Context, profileID, competitionID uuid.UUID) (*models.UserCompetition, error) {
	uc := &models.UserCompetition{AmountWon: &models.BigNum{}}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_profile_id, competition_id, is_winner, amount_won,
		       hint_count, COALESCE(tx_hash, '')
		FROM user_competitions
		WHERE user_profile_id = $1 AND competition_id = $2`, profileID, competitionID).
		Scan(&uc.ID, &uc.UserProfileID, &uc.CompetitionID, &uc.IsWinner,
			uc.AmountWon, &uc.HintCount, &uc.TxHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get participation: %w", err)
	}
	return uc, nil
}

// ListEnrolledCompetitionIDs returns the competitions a profile is
// enrolled in, for lobby replay.
func (r *Repository) ListEnrolledCompetitionIDs(ctx context.Context, profileID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT competition_id FROM user_competitions WHERE user_profile_id = $1`, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountParticipants returns the number of enrollments in a competition.
func (r *Repository) CountParticipants(ctx context.Context, competitionID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_competitions WHERE competition_id = $1`, competitionID).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}
	return count, nil
}

// CountCorrectAnswers returns how many of a participation's persisted
// answers selected the correct choice.
func (r *Repository) CountCorrectAnswers(ctx context.Context, participationID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM user_answers ua
		JOIN choices c ON c.id = ua.selected_choice_id
		WHERE ua.user_competition_id = $1 AND c.is_correct`, participationID).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count correct answers: %w", err)
	}
	return count, nil
}

// CountSurvivors returns how many participations have at least
// roundsClosed correct answers, i.e. are still in the running after that
// many closed rounds.
func (r *Repository) CountSurvivors(ctx context.Context, competitionID uuid.UUID, roundsClosed int) (int, error) {
	if roundsClosed <= 0 {
		return r.CountParticipants(ctx, competitionID)
	}
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM user_competitions uc
		WHERE uc.competition_id = $1
		  AND (SELECT COUNT(*)
		       FROM user_answers ua
		       JOIN choices c ON c.id = ua.selected_choice_id
		       WHERE ua.user_competition_id = uc.id AND c.is_correct) >= $2`,
		competitionID, roundsClosed).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count survivors: %w", err)
	}
	return count, nil
}

// Enroll creates the participation row for (profile, competition) and
// registers up to the competition's hint allotment from the builtin pool
// plus the caller's unused personal grants. Enrollment is idempotent: an
// existing row is returned untouched. The whole step is transactional so
// a capacity rejection leaves no partial state.
func (r *Repository) Enroll(ctx context.Context, profileID, competitionID uuid.UUID) (*models.UserCompetition, error) {
	if existing, err := r.GetParticipation(ctx, profileID, competitionID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	uc := &models.UserCompetition{
		ID:            uuid.New(),
		UserProfileID: profileID,
		CompetitionID: competitionID,
		AmountWon:     models.NewBigNum(0),
	}

	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		var maxParticipants, allotment, enrolled int
		err := tx.QueryRowContext(ctx, `
			SELECT max_participants, hint_count,
			       (SELECT COUNT(*) FROM user_competitions WHERE competition_id = $1)
			FROM competitions WHERE id = $1`, competitionID).
			Scan(&maxParticipants, &allotment, &enrolled)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("competition %s: %w", competitionID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load competition for enrollment: %w", err)
		}
		if maxParticipants > 0 && enrolled >= maxParticipants {
			return ErrCompetitionFull
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_competitions (id, user_profile_id, competition_id, is_winner, amount_won, hint_count)
			VALUES ($1, $2, $3, FALSE, '0', 0)`,
			uc.ID, profileID, competitionID); err != nil {
			return fmt.Errorf("failed to insert participation: %w", err)
		}

		registered, err := registerHintGrants(ctx, tx, uc.ID, profileID, competitionID, allotment)
		if err != nil {
			return err
		}
		uc.HintCount = registered

		if _, err := tx.ExecContext(ctx, `
			UPDATE user_competitions SET hint_count = $2 WHERE id = $1`,
			uc.ID, registered); err != nil {
			return fmt.Errorf("failed to set participation hint count: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uc, nil
}

// registerHintGrants attaches builtin grants first, then the profile's
// unused achievements, stopping at the competition's allotment.
// Achievements are burned as they are attached.
func registerHintGrants(ctx context.Context, tx *sql.Tx, participationID, profileID, competitionID uuid.UUID, allotment int) (int, error) {
	registered := 0

	rows, err := tx.QueryContext(ctx, `
		SELECT hint_id, count FROM competition_hints WHERE competition_id = $1`, competitionID)
	if err != nil {
		return 0, fmt.Errorf("failed to load builtin hints: %w", err)
	}
	type builtin struct {
		hintID uuid.UUID
		count  int
	}
	var builtins []builtin
	for rows.Next() {
		var b builtin
		if err := rows.Scan(&b.hintID, &b.count); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan builtin hint: %w", err)
		}
		builtins = append(builtins, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, b := range builtins {
		for i := 0; i < b.count && registered < allotment; i++ {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO user_competition_hints (id, user_competition_id, hint_id, is_used)
				VALUES ($1, $2, $3, FALSE)`,
				uuid.New(), participationID, b.hintID); err != nil {
				return 0, fmt.Errorf("failed to register builtin hint: %w", err)
			}
			registered++
		}
	}
	if registered >= allotment {
		return registered, nil
	}

	achRows, err := tx.QueryContext(ctx, `
		SELECT id, hint_id, params FROM hint_achievements
		WHERE user_profile_id = $1 AND NOT is_used
		ORDER BY created_at`, profileID)
	if err != nil {
		return 0, fmt.Errorf("failed to load hint achievements: %w", err)
	}
	type achievement struct {
		id     uuid.UUID
		hintID uuid.UUID
		params pqtype.NullRawMessage
	}
	var achievements []achievement
	for achRows.Next() {
		var a achievement
		if err := achRows.Scan(&a.id, &a.hintID, &a.params); err != nil {
			achRows.Close()
			return 0, fmt.Errorf("failed to scan hint achievement: %w", err)
		}
		achievements = append(achievements, a)
	}
	achRows.Close()
	if err := achRows.Err(); err != nil {
		return 0, err
	}

	for _, a := range achievements {
		if registered >= allotment {
			break
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE hint_achievements SET is_used = TRUE, used_at = $2 WHERE id = $1`,
			a.id, time.Now().UTC()); err != nil {
			return 0, fmt.Errorf("failed to burn hint achievement: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_competition_hints (id, user_competition_id, hint_id, is_used)
			VALUES ($1, $2, $3, FALSE)`,
			uuid.New(), participationID, a.hintID); err != nil {
			return 0, fmt.Errorf("failed to register achievement hint: %w", err)
		}
		registered++
	}
	return registered, nil
}

// BulkInsertAnswers persists a drained bucket. Rows already present for a
// (participation, question) pair are skipped so retries never duplicate.
func (r *Repository) BulkInsertAnswers(ctx context.Context, answers []models.UserAnswer) error {
	if len(answers) == 0 {
		return nil
	}

	ids := make([]string, len(answers))
	participations := make([]string, len(answers))
	questions := make([]string, len(answers))
	choices := make([]string, len(answers))
	for i, a := range answers {
		ids[i] = a.ID.String()
		participations[i] = a.UserCompetitionID.String()
		questions[i] = a.QuestionID.String()
		choices[i] = a.SelectedChoiceID.String()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_answers (id, user_competition_id, question_id, selected_choice_id)
		SELECT * FROM unnest($1::uuid[], $2::uuid[], $3::uuid[], $4::uuid[])
		ON CONFLICT (user_competition_id, question_id) DO NOTHING`,
		pq.Array(ids), pq.Array(participations), pq.Array(questions), pq.Array(choices))
	if err != nil {
		return fmt.Errorf("failed to bulk insert answers: %w", err)
	}
	return nil
}

// ListAnswerHistory returns a participation's persisted answers in round
// order, with correctness resolved.
func (r *Repository) ListAnswerHistory(ctx context.Context, participationID uuid.UUID) ([]AnswerRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ua.question_id, q.number, ua.selected_choice_id, c.is_correct
		FROM user_answers ua
		JOIN questions q ON q.id = ua.question_id
		JOIN choices c ON c.id = ua.selected_choice_id
		WHERE ua.user_competition_id = $1
		ORDER BY q.number`, participationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}
	defer rows.Close()

	var records []AnswerRecord
	for rows.Next() {
		var rec AnswerRecord
		if err := rows.Scan(&rec.QuestionID, &rec.QuestionNumber, &rec.SelectedChoiceID, &rec.IsCorrect); err != nil {
			return nil, fmt.Errorf("failed to scan answer: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ComputeWinners returns the participations that answered every one of
// rounds questions correctly, with their payout addresses.
func (r *Repository) ComputeWinners(ctx context.Context, competitionID uuid.UUID, rounds int) ([]orchestrator.Winner, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT uc.id, p.wallet_address
		FROM user_competitions uc
		JOIN user_profiles p ON p.id = uc.user_profile_id
		WHERE uc.competition_id = $1
		  AND (SELECT COUNT(*)
		       FROM user_answers ua
		       JOIN choices c ON c.id = ua.selected_choice_id
		       WHERE ua.user_competition_id = uc.id AND c.is_correct) >= $2`,
		competitionID, rounds)
	if err != nil {
		return nil, fmt.Errorf("failed to compute winners: %w", err)
	}
	defer rows.Close()

	var winners []orchestrator.Winner
	for rows.Next() {
		var w orchestrator.Winner
		if err := rows.Scan(&w.ParticipationID, &w.WalletAddress); err != nil {
			return nil, fmt.Errorf("failed to scan winner: %w", err)
		}
		winners = append(winners, w)
	}
	return winners, rows.Err()
}

// MarkWinners flags the given participations as winners with their share,
// atomically.
func (r *Repository) MarkWinners(ctx context.Context, participationIDs []uuid.UUID, share *models.BigNum) error {
	if len(participationIDs) == 0 {
		return nil
	}
	ids := make([]string, len(participationIDs))
	for i, id := range participationIDs {
		ids[i] = id.String()
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE user_competitions SET is_winner = TRUE, amount_won = $1
		WHERE id = ANY($2::uuid[])`, share, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to mark winners: %w", err)
	}
	return nil
}

// ListWinners returns a finished competition's winner list for replay.
func (r *Repository) ListWinners(ctx context.Context, competitionID uuid.UUID) ([]WinnerRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.wallet_address, uc.amount_won, COALESCE(comp.tx_hash, '')
		FROM user_competitions uc
		JOIN user_profiles p ON p.id = uc.user_profile_id
		JOIN competitions comp ON comp.id = uc.competition_id
		WHERE uc.competition_id = $1 AND uc.is_winner`, competitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list winners: %w", err)
	}
	defer rows.Close()

	var winners []WinnerRecord
	for rows.Next() {
		rec := WinnerRecord{AmountWon: &models.BigNum{}}
		if err := rows.Scan(&rec.WalletAddress, rec.AmountWon, &rec.TxHash); err != nil {
			return nil, fmt.Errorf("failed to scan winner record: %w", err)
		}
		winners = append(winners, rec)
	}
	return winners, rows.Err()
}

// SetPayoutTx records the payout transaction reference on a competition.
func (r *Repository) SetPayoutTx(ctx context.Context, competitionID uuid.UUID, txRef string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE competitions SET tx_hash = $2 WHERE id = $1`, competitionID, txRef)
	if err != nil {
		return fmt.Errorf("failed to set payout tx: %w", err)
	}
	return nil
}

// RegisteredHints returns a participation's hint grants with their kinds.
func (r *Repository) RegisteredHints(ctx context.Context, participationID uuid.UUID) ([]models.UserCompetitionHint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT uch.id, uch.user_competition_id, uch.hint_id, h.hint_type,
		       uch.is_used, uch.question_id, uch.used_at
		FROM user_competition_hints uch
		JOIN hints h ON h.id = uch.hint_id
		WHERE uch.user_competition_id = $1`, participationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list registered hints: %w", err)
	}
	defer rows.Close()

	var grants []models.UserCompetitionHint
	for rows.Next() {
		var (
			g          models.UserCompetitionHint
			kind       string
			questionID sql.NullString
			usedAt     sql.NullTime
		)
		if err := rows.Scan(&g.ID, &g.UserCompetitionID, &g.HintID, &kind,
			&g.IsUsed, &questionID, &usedAt); err != nil {
			return nil, fmt.Errorf("failed to scan hint grant: %w", err)
		}
		if g.Kind, err = models.ParseHintKind(kind); err != nil {
			return nil, err
		}
		if questionID.Valid {
			qid, err := uuid.Parse(questionID.String)
			if err != nil {
				return nil, fmt.Errorf("invalid question id on hint grant: %w", err)
			}
			g.QuestionID = &qid
		}
		if usedAt.Valid {
			g.UsedAt = &usedAt.Time
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// ConsumeHint burns one grant, tags it with the question it was spent on
// and decrements the participation's remaining allotment, all in one
// transaction.
func (r *Repository) ConsumeHint(ctx context.Context, grantID, questionID uuid.UUID) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE user_competition_hints
			SET is_used = TRUE, question_id = $2, used_at = $3
			WHERE id = $1 AND NOT is_used`,
			grantID, questionID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to mark hint used: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("hint grant %s: %w", grantID, ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE user_competitions
			SET hint_count = hint_count - 1
			WHERE id = (SELECT user_competition_id FROM user_competition_hints WHERE id = $1)
			  AND hint_count > 0`, grantID); err != nil {
			return fmt.Errorf("failed to decrement hint count: %w", err)
		}
		return nil
	})
}
