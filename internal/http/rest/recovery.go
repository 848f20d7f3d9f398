package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/segment_recovery/internal/logctx"
	"github.com/italolelis/segment_recovery/internal/recovery"
	"github.com/italolelis/segment_recovery/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxRequestBody   = 1 << 20
)

// BatchStarter starts a recovery batch in the background.
type BatchStarter interface {
	Start(ctx context.Context, req recovery.Request) (string, error)
}

type RecoveryRequest struct {
	Files  []string `json:"files"`
	Prefix string   `json:"prefix"`
}

type BatchResponse struct {
	ID         string         `json:"id"`
	Files      int            `json:"files"`
	Completed  int            `json:"completed"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Recovered  []FileResponse `json:"recovered,omitempty"`
}

type FileResponse struct {
	Name        string    `json:"name"`
	CompletedAt time.Time `json:"completed_at"`
}

type RecoveryHandler struct {
	username string
	password string
	batches  BatchStarter
	ledger   storage.RecoveryReadRepository
}

// NewRecoveryHandler creates a handler for the recovery admin API. Basic auth is enforced
// when username is not empty.
func NewRecoveryHandler(username, password string, batches BatchStarter, ledger storage.RecoveryReadRepository) *RecoveryHandler {
	return &RecoveryHandler{
		username: username,
		password: password,
		batches:  batches,
		ledger:   ledger,
	}
}

func (h *RecoveryHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", h.HandleHealth)

	r.Group(func(r chi.Router) {
		r.Use(h.basicAuthMiddleware)

		r.Post("/recoveries", h.HandleStart)
		r.Get("/recoveries", h.HandleList)
		r.Get("/recoveries/{id}", h.HandleGet)
	})

	return r
}

// HandleHealth reports liveness.
func (h *RecoveryHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStart starts a recovery batch and answers with its id.
func (h *RecoveryHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req RecoveryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		logger.Error("failed to decode request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	id, err := h.batches.Start(r.Context(), recovery.Request{Files: req.Files, Prefix: req.Prefix})
	if err != nil {
		if errors.Is(err, recovery.ErrNothingToRecover) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)

			return
		}

		logger.Error("failed to start recovery", "err", err)
		http.Error(w, "failed to start recovery", http.StatusInternalServerError)

		return
	}

	logger.Info("recovery started", "batch_id", id)

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

// HandleList lists the most recent batches.
func (h *RecoveryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	limit := defaultListLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)

			return
		}

		limit = min(n, maxListLimit)
	}

	batches, err := h.ledger.GetBatches(r.Context(), limit)
	if err != nil {
		logger.Error("failed to list batches", "err", err)
		http.Error(w, "failed to list batches", http.StatusInternalServerError)

		return
	}

	resp := make([]BatchResponse, 0, len(batches))
	for _, b := range batches {
		resp = append(resp, toBatchResponse(b))
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleGet returns one batch with its recovered files.
func (h *RecoveryHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	id := chi.URLParam(r, "id")

	batch, err := h.ledger.GetBatch(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrBatchNotFound) {
			http.Error(w, "batch not found", http.StatusNotFound)

			return
		}

		logger.Error("failed to get batch", "batch_id", id, "err", err)
		http.Error(w, "failed to get batch", http.StatusInternalServerError)

		return
	}

	files, err := h.ledger.GetBatchFiles(r.Context(), id)
	if err != nil {
		logger.Error("failed to get batch files", "batch_id", id, "err", err)
		http.Error(w, "failed to get batch files", http.StatusInternalServerError)

		return
	}

	resp := toBatchResponse(batch)
	for _, f := range files {
		resp.Recovered = append(resp.Recovered, FileResponse{Name: f.FileName, CompletedAt: f.CompletedAt})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *RecoveryHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.username == "" {
			next.ServeHTTP(w, r)

			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func toBatchResponse(b storage.BatchRecord) BatchResponse {
	return BatchResponse{
		ID:         b.ID,
		Files:      b.Files,
		Completed:  b.Completed,
		Status:     b.Status,
		Error:      b.Error,
		StartedAt:  b.StartedAt,
		FinishedAt: b.FinishedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}
