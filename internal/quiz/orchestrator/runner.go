package orchestrator

import (
	"context"
	"math/big"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/triviarena/triviarena/internal/models"
	"github.com/triviarena/triviarena/internal/quiz/aggregator"
	"github.com/triviarena/triviarena/internal/quiz/events"
	"github.com/triviarena/triviarena/internal/quiz/hub"
	"github.com/triviarena/triviarena/internal/quiz/prize"
)

// runCompetition is one competition's timed loop: PENDING until startAt,
// ADVANCING over question indices, FINISHED after winner computation. A
// single round's broadcast or persistence error never aborts the loop;
// only failing to load the competition itself does.
func (o *Orchestrator) runCompetition(loopCtx context.Context, id uuid.UUID) {
	comp, err := o.repo.GetCompetition(o.ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("competition_id", id.String()).Msg("competition not loadable, aborting loop")
		return
	}
	channel := hub.Competition(comp.ID)

	log.Info().
		Str("competition_id", comp.ID.String()).
		Int("questions", len(comp.Questions)).
		Time("start_at", comp.StartAt).
		Msg("competition loop started")

	if !o.sleep(comp.StartAt.Sub(o.clock.Now())) {
		return
	}

	for round := 1; ; round++ {
		// Cancellation lands here, between rounds, never mid-window.
		select {
		case <-loopCtx.Done():
			log.Info().Str("competition_id", comp.ID.String()).Msg("competition loop cancelled")
			return
		default:
		}

		if round > len(comp.Questions) {
			o.finish(comp, channel)
			return
		}

		question, err := o.repo.GetQuestionByNumber(o.ctx, comp.ID, round)
		if err != nil {
			log.Error().Err(err).
				Str("competition_id", comp.ID.String()).
				Int("round", round).
				Msg("question not loadable, skipping round")
			if !o.sleep(comp.RoundDuration()) {
				return
			}
			continue
		}

		key := aggregator.Key{CompetitionID: comp.ID, QuestionID: question.ID}
		o.agg.Open(key, comp.QuestionWindow()+o.cfg.BucketGrace)

		payload := o.questionPayload(o.ctx, comp, question)
		if err := o.pub.Publish(channel, events.TypeNewQuestion, payload); err != nil {
			log.Error().Err(err).Str("competition_id", comp.ID.String()).Msg("new_question broadcast failed")
		}

		if !o.sleep(comp.QuestionWindow()) {
			return
		}

		o.revealAnswer(comp, question, channel)
		go o.broadcastStatsLater(comp, channel, round+1)
		go o.persistRound(comp, question, key)

		if !o.sleep(comp.RestWindow() - o.cfg.StatsDelay) {
			return
		}
	}
}

// revealAnswer publishes the correct choice the moment the window closes.
func (o *Orchestrator) revealAnswer(comp *models.Competition, question *models.Question, channel hub.Channel) {
	correct := question.CorrectChoice()
	if correct == nil {
		log.Error().
			Str("question_id", question.ID.String()).
			Msg("question has no correct choice, skipping reveal")
		return
	}
	err := o.pub.Publish(channel, events.TypeCorrectAnswer, events.CorrectAnswerPayload{
		AnswerID:       correct.ID,
		QuestionID:     question.ID,
		QuestionNumber: question.Number,
	})
	if err != nil {
		log.Error().Err(err).Str("competition_id", comp.ID.String()).Msg("correct_answer broadcast failed")
	}
}

// broadcastStatsLater waits the configured delay, then broadcasts the
// aggregate stats for the just-closed round. Spawned independently so
// persistence latency never delays the next question's timer.
func (o *Orchestrator) broadcastStatsLater(comp *models.Competition, channel hub.Channel, nextRound int) {
	if !o.sleep(o.cfg.StatsDelay) {
		return
	}
	payload, err := o.stats.Stats(o.ctx, comp, nil, nextRound)
	if err != nil {
		log.Error().Err(err).Str("competition_id", comp.ID.String()).Msg("stats computation failed")
		return
	}
	if err := o.pub.Publish(channel, events.TypeQuizStats, payload); err != nil {
		log.Error().Err(err).Str("competition_id", comp.ID.String()).Msg("quiz_stats broadcast failed")
	}
}

// persistRound drains the round's bucket into durable answer rows. The
// insert skips rows already present, so a retried drain never duplicates.
func (o *Orchestrator) persistRound(comp *models.Competition, question *models.Question, key aggregator.Key) {
	recorded := o.agg.Drain(key)
	if len(recorded) == 0 {
		return
	}

	answers := make([]models.UserAnswer, 0, len(recorded))
	for participationID, choiceID := range recorded {
		answers = append(answers, models.UserAnswer{
			ID:                uuid.New(),
			UserCompetitionID: participationID,
			QuestionID:        question.ID,
			SelectedChoiceID:  choiceID,
		})
	}

	if err := o.repo.BulkInsertAnswers(o.ctx, answers); err != nil {
		log.Error().Err(err).
			Str("competition_id", comp.ID.String()).
			Str("question_id", question.ID.String()).
			Int("answers", len(answers)).
			Msg("answer persistence failed")
		return
	}
	log.Debug().
		Str("question_id", question.ID.String()).
		Int("answers", len(answers)).
		Msg("round answers persisted")
}

// finish computes winners, persists the determination, then pays out. The
// winner marks land before the distributor runs, so a payout failure never
// loses who won; only the payment is retried or escalated.
func (o *Orchestrator) finish(comp *models.Competition, channel hub.Channel) {
	rounds := len(comp.Questions)
	log.Info().
		Str("competition_id", comp.ID.String()).
		Int("rounds", rounds).
		Msg("all questions exhausted, computing winners")

	winners, err := o.repo.ComputeWinners(o.ctx, comp.ID, rounds)
	if err != nil {
		log.Error().Err(err).Str("competition_id", comp.ID.String()).Msg("winner computation failed")
		return
	}

	if len(winners) == 0 {
		if err := o.repo.SetPayoutTx(o.ctx, comp.ID, prize.SentinelNoPayout); err != nil {
			log.Error().Err(err).Str("competition_id", comp.ID.String()).Msg("sentinel payout mark failed")
		}
		o.publishFinish(comp, channel, nil, nil, prize.SentinelNoPayout)
		return
	}

	share := comp.PrizeAmount
	if comp.SplitPrize {
		share = comp.PrizeAmount.Div(int64(len(winners)))
	}

	ids := make([]uuid.UUID, len(winners))
	addresses := make([]string, len(winners))
	amounts := make([]*big.Int, len(winners))
	for i, w := range winners {
		ids[i] = w.ParticipationID
		addresses[i] = w.WalletAddress
		amounts[i] = &share.Int
	}

	if err := o.repo.MarkWinners(o.ctx, ids, share); err != nil {
		log.Error().Err(err).Str("competition_id", comp.ID.String()).Msg("winner persistence failed")
		return
	}

	txRef, err := o.distributor.Distribute(o.ctx, comp.ID, addresses, amounts)
	if err != nil {
		// Winner determination is already durable; leave the payout
		// field unset for manual intervention.
		log.Error().Err(err).Str("competition_id", comp.ID.String()).Msg("prize distribution failed")
	} else if err := o.repo.SetPayoutTx(o.ctx, comp.ID, txRef); err != nil {
		log.Error().Err(err).Str("competition_id", comp.ID.String()).Msg("payout tx persistence failed")
	}

	o.publishFinish(comp, channel, winners, share, txRef)
}

func (o *Orchestrator) publishFinish(
	comp *models.Competition,
	channel hub.Channel,
	winners []Winner,
	share *models.BigNum,
	txRef string,
) {
	list := make([]events.WinnerPayload, 0, len(winners))
	for _, w := range winners {
		list = append(list, events.WinnerPayload{
			WalletAddress: w.WalletAddress,
			AmountWon:     share,
			TxHash:        txRef,
		})
	}
	if err := o.pub.Publish(channel, events.TypeFinishQuiz, events.FinishPayload{WinnersList: list}); err != nil {
		log.Error().Err(err).Str("competition_id", comp.ID.String()).Msg("finish_quiz broadcast failed")
	}
	log.Info().
		Str("competition_id", comp.ID.String()).
		Int("winners", len(winners)).
		Msg("competition finished")
}
