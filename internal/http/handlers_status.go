package httpx

import (
	"net/http"

	"github.com/draftmill/draftmill/internal/service"
)

// StatusHandlers provides the read-only dashboard snapshot endpoint.
type StatusHandlers struct {
	Svc *service.StatusService
}

// GetStatus handles HTTP requests for the cached pipeline status snapshot.
func (h *StatusHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.Svc.Snapshot(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, snapshot)
}
