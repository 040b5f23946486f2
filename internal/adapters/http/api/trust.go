package api

import (
	"net/http"

	"github.com/okian/arena/internal/domain/types"
)

// TrustDependencies defines the ledger reads used by the handlers.
type TrustDependencies interface {
	Trust(id types.ParticipantID) (types.TrustView, error)
	EligibleSet() []types.ParticipantID
}

// TrustHandler serves ledger state.
type TrustHandler struct {
	deps TrustDependencies
}

// NewTrustHandler creates a new trust handler.
func NewTrustHandler(deps TrustDependencies) *TrustHandler {
	return &TrustHandler{deps: deps}
}

type eligibleResponse struct {
	Count        int                   `json:"count"`
	Participants []types.ParticipantID `json:"participants"`
}

// HandleGetTrust handles GET /trust/{participant} requests.
func (h *TrustHandler) HandleGetTrust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	parts, ok := pathParams(r.URL.Path, "/trust/", 1)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	id, err := types.ParseParticipantID(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	view, err := h.deps.Trust(id)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleGetEligible handles GET /eligible requests.
func (h *TrustHandler) HandleGetEligible(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	set := h.deps.EligibleSet()
	if set == nil {
		set = []types.ParticipantID{}
	}
	writeJSON(w, http.StatusOK, eligibleResponse{Count: len(set), Participants: set})
}
