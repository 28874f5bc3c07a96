package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/triviarena/triviarena/internal/models"
	"github.com/triviarena/triviarena/internal/quiz"
)

func setupServer(services *Services, config *Config) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	registerRoutes(mux, services)
	setupHealthCheck(mux)

	handler := c.Handler(mux)

	return &http.Server{
		Addr:    fmt.Sprintf(":%s", config.Server.Port),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}

func registerRoutes(mux *http.ServeMux, services *Services) {
	mux.HandleFunc("/ws/lobby", services.Gateway.HandleLobby)
	mux.HandleFunc("/ws/quiz", services.Gateway.HandleQuiz)

	mux.HandleFunc("/quiz/competitions", func(w http.ResponseWriter, r *http.Request) {
		handleListCompetitions(w, r, services)
	})
	mux.HandleFunc("/quiz/enroll", func(w http.ResponseWriter, r *http.Request) {
		handleEnroll(w, r, services)
	})
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}

func handleListCompetitions(w http.ResponseWriter, r *http.Request, services *Services) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	comps, err := services.Repo.ListActiveCompetitions(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("competition list failed")
		http.Error(w, "competition list failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, comps)
}

type enrollRequest struct {
	CompetitionID uuid.UUID `json:"competition_id"`
}

func handleEnroll(w http.ResponseWriter, r *http.Request, services *Services) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	profile, err := authenticateRequest(r, services)
	if err != nil {
		log.Error().Err(err).Msg("enroll authentication failed")
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}
	if profile == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CompetitionID == uuid.Nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	participation, err := services.Quiz.Enroll(r.Context(), profile.ID, req.CompetitionID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, participation)
	case errors.Is(err, quiz.ErrCompetitionFull):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, quiz.ErrNotFound):
		http.Error(w, "competition not found", http.StatusNotFound)
	default:
		log.Error().Err(err).Str("competition_id", req.CompetitionID.String()).Msg("enrollment failed")
		http.Error(w, "enrollment failed", http.StatusInternalServerError)
	}
}

func authenticateRequest(r *http.Request, services *Services) (*models.UserProfile, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return services.Auth.Authenticate(r.Context(), token)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
