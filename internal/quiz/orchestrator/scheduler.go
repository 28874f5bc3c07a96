package orchestrator

import (
	"context"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/triviarena/triviarena/internal/models"
)

// Schedule arms the one-shot start trigger for comp, firing StartLead
// before startAt. Re-scheduling an already-armed competition replaces its
// timer, so an updated start time takes effect immediately.
func (o *Orchestrator) Schedule(comp *models.Competition) {
	if !comp.IsActive {
		return
	}
	now := o.clock.Now()
	if comp.IsFinished(now) {
		return
	}

	wait := comp.StartAt.Add(-o.cfg.StartLead).Sub(now)
	if wait < 0 {
		wait = 0
	}

	timer := o.clock.NewTimer(wait)
	o.replaceStartTimer(comp.ID, timer)

	go func(id uuid.UUID, t clockwork.Timer) {
		select {
		case <-t.Chan():
			o.removeStartTimer(id)
			o.launch(id)
		case <-o.ctx.Done():
			stopAndDrainTimer(t)
			o.removeStartTimer(id)
		}
	}(comp.ID, timer)

	log.Info().
		Str("competition_id", comp.ID.String()).
		Time("start_at", comp.StartAt).
		Dur("fires_in", wait).
		Msg("competition start trigger armed")
}

// Cancel stops comp's pending trigger and marks any scheduled continuation
// cancelled. A round already broadcast still completes its window; the
// loop exits at its next round boundary.
func (o *Orchestrator) Cancel(id uuid.UUID) {
	o.startTimersMu.Lock()
	if t, ok := o.startTimers[id]; ok {
		stopAndDrainTimer(t)
		delete(o.startTimers, id)
	}
	o.startTimersMu.Unlock()

	o.cancelsMu.Lock()
	if cancel, ok := o.cancels[id]; ok {
		cancel()
		delete(o.cancels, id)
	}
	o.cancelsMu.Unlock()

	log.Info().Str("competition_id", id.String()).Msg("competition orchestration cancelled")
}

// launch spawns the competition loop with its own cancellation handle.
func (o *Orchestrator) launch(id uuid.UUID) {
	loopCtx, cancel := context.WithCancel(o.ctx)

	o.cancelsMu.Lock()
	if prev, ok := o.cancels[id]; ok {
		prev()
	}
	o.cancels[id] = cancel
	o.cancelsMu.Unlock()

	go func() {
		defer func() {
			o.cancelsMu.Lock()
			delete(o.cancels, id)
			o.cancelsMu.Unlock()
			cancel()
		}()
		o.runCompetition(loopCtx, id)
	}()
}

// replaceStartTimer atomically replaces a pending start timer, cancelling
// any existing one so two triggers never race for the same competition.
func (o *Orchestrator) replaceStartTimer(id uuid.UUID, newTimer clockwork.Timer) {
	o.startTimersMu.Lock()
	defer o.startTimersMu.Unlock()

	if existing, ok := o.startTimers[id]; ok {
		stopAndDrainTimer(existing)
		log.Debug().Str("competition_id", id.String()).Msg("replaced existing start trigger")
	}
	o.startTimers[id] = newTimer
}

func (o *Orchestrator) removeStartTimer(id uuid.UUID) {
	o.startTimersMu.Lock()
	defer o.startTimersMu.Unlock()
	delete(o.startTimers, id)
}

// stopAndDrainTimer safely stops a timer and drains its channel so the
// waiting goroutine never leaks.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
