// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/arena/internal/domain/tournament"
	"github.com/okian/arena/internal/domain/trust"
)

// Dependencies required by HTTP handlers, bundled so the handler layer
// stays loosely coupled to the node service.
type Dependencies interface {
	TournamentDependencies
	TrustDependencies
	MessageDependencies
}

// Server wires HTTP routes for the node API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	tournamentHandler *TournamentHandler
	trustHandler      *TrustHandler
	messagesHandler   *MessagesHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(statsProvider),
		tournamentHandler: NewTournamentHandler(deps),
		trustHandler:      NewTrustHandler(deps),
		messagesHandler:   NewMessagesHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/messages", MetricsMiddleware(s.messagesHandler.HandlePostMessage, "messages"))
	mux.HandleFunc("/eligible", MetricsMiddleware(s.trustHandler.HandleGetEligible, "eligible"))
	mux.HandleFunc("/trust/", MetricsMiddleware(s.trustHandler.HandleGetTrust, "trust"))
	mux.HandleFunc("/tournament/", MetricsMiddleware(s.tournamentHandler.HandleGetTournament, "tournament"))
	mux.HandleFunc("/replay/", MetricsMiddleware(s.tournamentHandler.HandleGetReplay, "replay"))
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeLookupError translates upstream lookup errors to 404, a saturated
// replay limit to 429 and anything else to 500.
func writeLookupError(w http.ResponseWriter, err error) {
	if isNotFound(err) {
		writeError(w, http.StatusNotFound, "not_found", err)
		return
	}
	if errors.Is(err, tournament.ErrReplayBusy) {
		writeError(w, http.StatusTooManyRequests, "busy", err)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", err)
}

func isNotFound(err error) bool {
	return errors.Is(err, tournament.ErrUnknownSession) ||
		errors.Is(err, tournament.ErrUnknownPairing) ||
		errors.Is(err, trust.ErrUnknownParticipant)
}

// pathParams splits the path after prefix into exactly n non-empty segments.
func pathParams(path, prefix string, n int) ([]string, bool) {
	rest := strings.TrimPrefix(path, prefix)
	if rest == path || rest == "" {
		return nil, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != n {
		return nil, false
	}
	for _, p := range parts {
		if p == "" {
			return nil, false
		}
	}
	return parts, true
}

func parseHeight(s string) (uint64, error) {
	h, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Join(ErrBadRequest, err)
	}
	return h, nil
}
