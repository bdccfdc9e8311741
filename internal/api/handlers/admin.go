package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/speechd/asr-gateway/internal/audit"
)

type AdminHandler struct {
	audit *audit.Service
}

func NewAdminHandler(auditSvc *audit.Service) *AdminHandler {
	return &AdminHandler{audit: auditSvc}
}

// Usage reports per-backend transcription counts and latency. ?days=N
// bounds the window (default 7).
func (h *AdminHandler) Usage(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "usage reporting requires a database")
		return
	}

	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days <= 0 {
		days = 7
	}
	since := time.Now().AddDate(0, 0, -days)

	summaries, err := h.audit.GetUsageSummary(r.Context(), since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "processing", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"since": since, "usage": summaries})
}
