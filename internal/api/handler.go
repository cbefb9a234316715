package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/felipepmaragno/modelrouter/internal/domain"
	"github.com/felipepmaragno/modelrouter/internal/router"
	"github.com/felipepmaragno/modelrouter/internal/telemetry"
)

type Handler struct {
	router *router.Router
	mux    *http.ServeMux
}

func NewHandler(rt *router.Router) *Handler {
	h := &Handler{
		router: rt,
		mux:    http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/generate", h.handleGenerate)
	h.mux.HandleFunc("GET /v1/models", h.handleListModels)
	h.mux.HandleFunc("GET /v1/providers/health", h.handleProviderHealth)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", h.handleHealthReady)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	ctx, span := telemetry.StartSpan(r.Context(), "generate")
	defer span.End()

	var req domain.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.SkipCache = r.Header.Get("X-Skip-Cache") == "true"

	if req.Stream {
		h.handleStream(ctx, w, req, requestID, start)
		return
	}

	res, err := h.router.Generate(ctx, req)
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		slog.Error("generation failed", "error", err, "request_id", requestID)
		writeError(w, statusForError(err), err.Error())
		return
	}

	telemetry.AddRoutingAttributes(span, res.Provider, res.Model, res.TotalAttempts, res.ProvidersAttempted)
	if res.Usage != nil {
		telemetry.AddTokenAttributes(span, res.Usage.InputTokens, res.Usage.OutputTokens)
	}
	telemetry.AddCostAttribute(span, res.CostUSD)

	slog.Info("request completed",
		"request_id", requestID,
		"provider", res.Provider,
		"model", res.Model,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	json.NewEncoder(w).Encode(res)
}

func (h *Handler) handleStream(ctx context.Context, w http.ResponseWriter, req domain.GenerationRequest, requestID string, start time.Time) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-ID", requestID)

	chunks, errs := h.router.GenerateStream(ctx, req)

	wrote := false
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				w.Write([]byte("data: [DONE]\n\n"))
				flusher.Flush()
				slog.Info("streaming request completed",
					"request_id", requestID,
					"latency_ms", time.Since(start).Milliseconds(),
				)
				return
			}

			data, _ := json.Marshal(chunk)
			w.Write([]byte("data: " + string(data) + "\n\n"))
			flusher.Flush()
			wrote = true

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				slog.Error("streaming error", "error", err, "request_id", requestID)
				if !wrote {
					// Headers already committed; surface the failure in-band.
					payload, _ := json.Marshal(map[string]string{"error": err.Error()})
					w.Write([]byte("data: " + string(payload) + "\n\n"))
					flusher.Flush()
				}
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"object": "list",
		"data":   h.router.Models(),
	})
}

// statusForError maps routing failures onto HTTP statuses. Validation
// problems are the caller's fault; everything else is upstream.
func statusForError(err error) int {
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest
	}
	if errors.Is(err, domain.ErrNoProviderAvailable) || errors.Is(err, domain.ErrStreamNotSupported) {
		return http.StatusBadGateway
	}
	var exhausted *domain.AllProvidersExhaustedError
	if errors.As(err, &exhausted) {
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	if errors.Is(err, domain.ErrRateLimited) {
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "error",
			"code":    status,
		},
	})
}
