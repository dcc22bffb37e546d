// Package api exposes the HTTP surface the journey orchestrator and Twilio call.
package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/rockstartushar/twilio-jb-activity/internal/activity"
	"github.com/rockstartushar/twilio-jb-activity/internal/domain"
	"github.com/rockstartushar/twilio-jb-activity/internal/events"
	"github.com/rockstartushar/twilio-jb-activity/internal/observability"
)

const (
	healthText         = "Twilio JB Activity: OK"
	maxBodyBytes       = 1 << 20
	publishTimeout     = 5 * time.Second
	headerIdempotency  = "Idempotency-Key"
	headerReplay       = "Idempotent-Replay"
	descriptorFailText = "Failed to load config.json"
)

var lifecycleActions = []string{"save", "publish", "validate", "stop"}

type executor interface {
	Execute(ctx context.Context, input domain.ExecuteInput) (*domain.Result, bool, error)
}

type descriptorLoader interface {
	Load() ([]byte, error)
}

// Handler coordinates HTTP requests with the execute service and the callback publisher.
type Handler struct {
	service    executor
	descriptor descriptorLoader
	publisher  events.Publisher
	assets     fs.FS
	schema     *gojsonschema.Schema
	logger     *zap.Logger
	now        func() time.Time
}

// NewHandler builds a Handler. assets must contain index.html and activity.js.
func NewHandler(service executor, descriptor descriptorLoader, publisher events.Publisher, assets fs.FS, logger *zap.Logger) (*Handler, error) {
	schema, err := compileExecuteSchema()
	if err != nil {
		return nil, fmt.Errorf("compile execute schema: %w", err)
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:    service,
		descriptor: descriptor,
		publisher:  publisher,
		assets:     assets,
		schema:     schema,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Router builds the full HTTP surface with CORS and request logging.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization", headerIdempotency},
		ExposedHeaders: []string{headerReplay},
		MaxAge:         300,
	}))

	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes wires endpoints to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", health)
	r.Get("/healthz", healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/config.json", h.configDescriptor)
	r.Get("/ui", h.ui)
	r.Handle("/public/*", http.StripPrefix("/public/", http.FileServer(http.FS(h.assets))))

	for _, action := range lifecycleActions {
		r.Post("/"+action, h.lifecycle(action))
	}

	r.Post("/execute", h.execute)
	r.Post("/twilio/status", h.statusCallback)
	r.Post("/twilio/inbound", h.inboundCallback)
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, healthText)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func (h *Handler) configDescriptor(w http.ResponseWriter, _ *http.Request) {
	body, err := h.descriptor.Load()
	if err != nil {
		h.logger.Error("descriptor load failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": descriptorFailText})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) ui(w http.ResponseWriter, _ *http.Request) {
	page, err := fs.ReadFile(h.assets, "index.html")
	if err != nil {
		h.logger.Error("widget page missing", zap.Error(err))
		writeText(w, http.StatusInternalServerError, "widget unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

// LifecycleResponse acknowledges a lifecycle call.
type LifecycleResponse struct {
	Status string `json:"status"`
	Action string `json:"action"`
}

func (h *Handler) lifecycle(action string) http.HandlerFunc {
	status := "ok"
	if action == "stop" {
		status = "stopped"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		fields := []zap.Field{zap.String("action", action)}
		unconfigured := false

		raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		switch {
		case err != nil:
			fields = append(fields, zap.NamedError("read_error", err))
		case len(strings.TrimSpace(string(raw))) > 0:
			var payload activity.Payload
			if decodeErr := json.Unmarshal(raw, &payload); decodeErr != nil {
				fields = append(fields, zap.NamedError("decode_error", decodeErr))
			} else {
				cfg := payload.Configuration()
				fields = append(fields,
					zap.Bool("configured", payload.MetaData.IsConfigured),
					zap.String("to", cfg.To),
					zap.String("channel", cfg.Channel),
					zap.Int("body_length", len(cfg.Body)),
				)
				unconfigured = checksConfiguration(action) && !(payload.MetaData.IsConfigured && payload.HasArguments())
			}
		}

		// The canvas still gets its ack; the warning is for whoever activates the journey.
		if unconfigured {
			h.logger.Warn("lifecycle call for unconfigured activity", fields...)
		} else {
			h.logger.Info("lifecycle call", fields...)
		}
		writeJSON(w, http.StatusOK, LifecycleResponse{Status: status, Action: action})
	}
}

// checksConfiguration reports whether the action activates the journey, where an activity
// that was never saved from the widget would fail every execute.
func checksConfiguration(action string) bool {
	return action == "publish" || action == "validate"
}

// ExecuteRequest is the orchestrator's per-contact execute call.
type ExecuteRequest struct {
	InArguments          activity.ArgumentList `json:"inArguments"`
	JourneyID            string                `json:"journeyId,omitempty"`
	ActivityID           string                `json:"activityId,omitempty"`
	ActivityInstanceID   string                `json:"activityInstanceId,omitempty"`
	DefinitionInstanceID string                `json:"definitionInstanceId,omitempty"`
	KeyValue             any                   `json:"keyValue,omitempty"`
}

// BranchResponse selects the outgoing branch of the activity.
type BranchResponse struct {
	BranchResult string `json:"branchResult"`
	MessageSID   string `json:"messageSid,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeBranchError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		raw = []byte("{}")
	}

	if err := validateExecuteBody(h.schema, raw); err != nil {
		writeBranchError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var req ExecuteRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeBranchError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, replay, err := h.service.Execute(r.Context(), domain.ExecuteInput{
		Arguments:      req.InArguments,
		IdempotencyKey: idempotencyKey(r, req),
	})
	if err != nil {
		status, message := errorStatus(err)
		writeBranchError(w, status, message)
		return
	}

	if replay {
		w.Header().Set(headerReplay, "true")
	}
	writeJSON(w, http.StatusOK, BranchResponse{BranchResult: string(domain.OutcomeOK), MessageSID: result.MessageSID})
}

// idempotencyKey prefers the caller's header and otherwise derives a token from the
// journey instance, activity instance and contact key when all three are present.
func idempotencyKey(r *http.Request, req ExecuteRequest) string {
	if key := strings.TrimSpace(r.Header.Get(headerIdempotency)); key != "" {
		return key
	}
	contactKey := ""
	if req.KeyValue != nil {
		contactKey = fmt.Sprint(req.KeyValue)
	}
	if req.DefinitionInstanceID == "" || req.ActivityInstanceID == "" || contactKey == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(req.DefinitionInstanceID + "|" + req.ActivityInstanceID + "|" + contactKey))
	return hex.EncodeToString(sum[:])
}

func errorStatus(err error) (int, string) {
	var execErr *domain.ExecutionError
	if !errors.As(err, &execErr) {
		return http.StatusInternalServerError, err.Error()
	}
	switch execErr.Kind {
	case domain.KindInput:
		return http.StatusBadRequest, execErr.Message
	case domain.KindConflict:
		return http.StatusConflict, execErr.Message
	default:
		return http.StatusInternalServerError, execErr.Message
	}
}

func (h *Handler) statusCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("status callback form unreadable", zap.Error(err))
	}
	observability.RecordCallback("status")

	event := events.StatusFromForm(r.PostForm, h.now())
	h.logger.Info("status callback",
		zap.String("message_sid", event.MessageSID),
		zap.String("status", event.Status),
		zap.String("error_code", event.ErrorCode),
	)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), publishTimeout)
	defer cancel()
	if err := h.publisher.PublishStatus(ctx, event); err != nil {
		h.logger.Warn("status callback publish failed", zap.String("message_sid", event.MessageSID), zap.Error(err))
	}
	writeText(w, http.StatusOK, "ok")
}

func (h *Handler) inboundCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("inbound callback form unreadable", zap.Error(err))
	}
	observability.RecordCallback("inbound")

	event := events.InboundFromForm(r.PostForm, h.now())
	h.logger.Info("inbound message",
		zap.String("message_sid", event.MessageSID),
		zap.String("from", event.From),
		zap.Int("body_length", len(event.Body)),
	)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), publishTimeout)
	defer cancel()
	if err := h.publisher.PublishInbound(ctx, event); err != nil {
		h.logger.Warn("inbound publish failed", zap.String("message_sid", event.MessageSID), zap.Error(err))
	}
	writeText(w, http.StatusOK, "ok")
}

func writeBranchError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, BranchResponse{BranchResult: string(domain.OutcomeError), Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
