package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/okian/arena/internal/domain/battle"
	"github.com/okian/arena/internal/domain/tournament"
)

// TournamentDependencies defines the session queries used by the handlers.
type TournamentDependencies interface {
	State(ctx context.Context, height uint64) (*tournament.Snapshot, error)
	Replay(ctx context.Context, height uint64, pairing string) (*battle.Trace, error)
}

// TournamentHandler serves session state and battle replays.
type TournamentHandler struct {
	deps TournamentDependencies
}

// NewTournamentHandler creates a new tournament handler.
func NewTournamentHandler(deps TournamentDependencies) *TournamentHandler {
	return &TournamentHandler{deps: deps}
}

// HandleGetTournament handles GET /tournament/{height} requests.
func (h *TournamentHandler) HandleGetTournament(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	parts, ok := pathParams(r.URL.Path, "/tournament/", 1)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	height, err := parseHeight(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	snap, err := h.deps.State(r.Context(), height)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleGetReplay handles GET /replay/{height}/{pairing} requests. The
// trace is zstd-encoded when the client accepts it.
func (h *TournamentHandler) HandleGetReplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	parts, ok := pathParams(r.URL.Path, "/replay/", 2)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	height, err := parseHeight(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	trace, err := h.deps.Replay(r.Context(), height, parts[1])
	if err != nil {
		writeLookupError(w, err)
		return
	}
	if !acceptsZstd(r) {
		writeJSON(w, http.StatusOK, trace)
		return
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Encoding", "zstd")
	w.Header().Add("Vary", "Accept-Encoding")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(enc).Encode(trace)
	_ = enc.Close()
}

func acceptsZstd(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(name, "zstd") {
			return true
		}
	}
	return false
}
