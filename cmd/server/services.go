package main

import (
	"database/sql"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/triviarena/triviarena/internal/auth"
	"github.com/triviarena/triviarena/internal/quiz"
	"github.com/triviarena/triviarena/internal/quiz/aggregator"
	"github.com/triviarena/triviarena/internal/quiz/gateway"
	"github.com/triviarena/triviarena/internal/quiz/hints"
	"github.com/triviarena/triviarena/internal/quiz/hub"
	"github.com/triviarena/triviarena/internal/quiz/orchestrator"
	"github.com/triviarena/triviarena/internal/quiz/prize"
)

type Services struct {
	Hub          *hub.Hub
	Bridge       *hub.NATSBridge
	Aggregator   *aggregator.Aggregator
	Repo         *quiz.Repository
	Quiz         *quiz.Service
	Orchestrator *orchestrator.Orchestrator
	Gateway      *gateway.Gateway
	Sessions     *auth.SessionStore
	Auth         auth.Authenticator
}

func setupServices(database *sql.DB, config *Config) (*Services, error) {
	clock := clockwork.NewRealClock()

	// Broadcast layer. The NATS bridge is optional; a standalone instance
	// fans out locally only.
	broadcastHub := hub.New()
	var bridge *hub.NATSBridge
	if config.NATS.URL != "" {
		var err error
		bridge, err = hub.NewNATSBridge(config.NATS.URL, broadcastHub)
		if err != nil {
			return nil, err
		}
	} else {
		log.Info().Msg("no NATS url configured, running single-instance fan-out")
	}

	repo := quiz.NewRepository(database)
	agg := aggregator.New(clock)
	resolver := hints.NewResolver(repo, agg)

	sink := prize.NewSafeClient(config.Relayer.URL)
	if config.Relayer.APIKey != "" {
		sink.SetHeader("X-API-Key", config.Relayer.APIKey)
	}
	distributor := prize.NewDistributor(sink, clock)

	quizService := quiz.NewService(repo, broadcastHub, clock)
	orch := orchestrator.New(repo, broadcastHub, agg, distributor, quizService, clock, orchestrator.DefaultConfig())
	quizService.SetScheduler(orch)

	sessions := auth.NewSessionStore(clock, config.sessionTTL())
	authenticator := auth.NewStoreAuthenticator(sessions, repo)

	gw := gateway.New(quizService, repo, broadcastHub, resolver, agg, authenticator, clock)

	return &Services{
		Hub:          broadcastHub,
		Bridge:       bridge,
		Aggregator:   agg,
		Repo:         repo,
		Quiz:         quizService,
		Orchestrator: orch,
		Gateway:      gw,
		Sessions:     sessions,
		Auth:         authenticator,
	}, nil
}
