package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/felipepmaragno/modelrouter/internal/budget"
	"github.com/felipepmaragno/modelrouter/internal/domain"
	"github.com/felipepmaragno/modelrouter/internal/router"
)

// AdminHandler exposes operational endpoints: breaker inspection and
// reset, plus spend reporting. Mount it behind auth.AdminAuth.
type AdminHandler struct {
	router *router.Router
	spend  budget.SpendReader
	mux    *http.ServeMux
}

// NewAdminHandler builds the admin mux. spend may be nil when no usage
// store is configured; the spend endpoint then reports 404.
func NewAdminHandler(rt *router.Router, spend budget.SpendReader) *AdminHandler {
	h := &AdminHandler{
		router: rt,
		spend:  spend,
		mux:    http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /admin/breakers", h.listBreakers)
	h.mux.HandleFunc("POST /admin/breakers/{provider}/reset", h.resetBreaker)
	h.mux.HandleFunc("GET /admin/spend", h.spendByProvider)

	return h
}

func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *AdminHandler) listBreakers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.router.ProviderHealth(r.Context()))
}

func (h *AdminHandler) resetBreaker(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")

	if err := h.router.ResetBreaker(r.Context(), provider); err != nil {
		if errors.Is(err, domain.ErrNoProviderAvailable) {
			writeError(w, http.StatusNotFound, "unknown provider: "+provider)
			return
		}
		slog.Error("breaker reset failed", "provider", provider, "error", err)
		writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}

	slog.Info("circuit breaker reset", "provider", provider)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"provider": provider,
		"state":    "closed",
	})
}

func (h *AdminHandler) spendByProvider(w http.ResponseWriter, r *http.Request) {
	if h.spend == nil {
		writeError(w, http.StatusNotFound, "usage tracking not configured")
		return
	}

	since := time.Date(time.Now().UTC().Year(), time.Now().UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}

	spend, err := h.spend.SpendByProvider(r.Context(), since)
	if err != nil {
		slog.Error("spend query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "spend query failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"since": since,
		"spend": spend,
	})
}
