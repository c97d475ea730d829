package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/mentionlab/benchd/internal/auth"
	"github.com/mentionlab/benchd/internal/model"
	"github.com/mentionlab/benchd/internal/service/enqueue"
	"github.com/mentionlab/benchd/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db         *storage.DB
	jwtMgr     *auth.JWTManager
	enqueueSvc *enqueue.Service
	broker     *Broker
	logger     *slog.Logger
	startedAt  time.Time
	version    string
	apiKeyHash string
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Broker.
type HandlersDeps struct {
	DB         *storage.DB
	JWTMgr     *auth.JWTManager
	EnqueueSvc *enqueue.Service
	Broker     *Broker
	Logger     *slog.Logger
	Version    string
	APIKeyHash string
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:         d.DB,
		jwtMgr:     d.JWTMgr,
		enqueueSvc: d.EnqueueSvc,
		broker:     d.Broker,
		logger:     d.Logger,
		startedAt:  time.Now(),
		version:    d.Version,
		apiKeyHash: d.APIKeyHash,
	}
}

// HandleAuthToken handles POST /auth/token: exchanges the operator API key
// for a bearer token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.APIKey == "" {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifyAPIKey(req.APIKey, h.apiKeyHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken()
	if err != nil {
		h.logger.Error("issue token", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not issue token")
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleListPrompts handles GET /v1/prompts.
func (h *Handlers) HandleListPrompts(w http.ResponseWriter, r *http.Request) {
	prompts, err := h.db.ListActivePrompts(r.Context(), 0)
	if err != nil {
		h.logger.Error("list prompts", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not list prompts")
		return
	}
	if prompts == nil {
		prompts = []model.Prompt{}
	}
	writeJSON(w, r, http.StatusOK, prompts)
}

// HandleListCompetitors handles GET /v1/competitors.
func (h *Handlers) HandleListCompetitors(w http.ResponseWriter, r *http.Request) {
	competitors, err := h.db.ListActiveCompetitors(r.Context())
	if err != nil {
		h.logger.Error("list competitors", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not list competitors")
		return
	}
	if competitors == nil {
		competitors = []model.Competitor{}
	}
	writeJSON(w, r, http.StatusOK, competitors)
}

// HandleSubscribe handles GET /v1/subscribe (SSE job events).
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError,
			"SSE not available (LISTEN/NOTIFY not configured)")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	// Without this, idle SSE connections are killed after WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, map[string]any{
		"status":         status,
		"postgres":       pgStatus,
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}
