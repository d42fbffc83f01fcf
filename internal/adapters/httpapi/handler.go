package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"agentregistry/internal/core"
	"agentregistry/pkg/api"
	"agentregistry/pkg/domain"
)

const (
	// DefaultMaxImageBytes bounds image uploads when no limit is configured.
	DefaultMaxImageBytes = 4 << 20
	maxCallBodySize      = 1 << 20
)

// Handler translates HTTP requests into service calls.
type Handler struct {
	svc           *core.Service
	dispatcher    *core.Dispatcher
	log           *slog.Logger
	maxImageBytes int64
}

// NewHandler constructs a handler over svc.
func NewHandler(svc *core.Service, log *slog.Logger, maxImageBytes int64) *Handler {
	if maxImageBytes <= 0 {
		maxImageBytes = DefaultMaxImageBytes
	}
	return &Handler{
		svc:           svc,
		dispatcher:    core.NewDispatcher(svc),
		log:           log,
		maxImageBytes: maxImageBytes,
	}
}

// Routes mounts the API endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/calls", h.handleCall)
		r.Get("/operations", h.handleOperations)
		r.Get("/agents", h.handleListAgents)
		r.Get("/agents/{principal}", h.handleAgent)
		r.Get("/entities/{entity}", h.handleListEntities)
		r.Get("/entities/{entity}/next-id", h.handleNextID)
		r.Get("/entities/{entity}/{id}", h.handleGetEntity)
		r.Post("/images", h.handlePutImage)
		r.Get("/images/{hash}", h.handleGetImage)
	})
}

func (h *Handler) handleCall(w http.ResponseWriter, r *http.Request) {
	origin, err := principalFrom(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	var req api.CallRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeBodyErr(w, r, "call body", err)
		return
	}
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			err = errors.New("trailing data after call object")
		}
		h.writeBodyErr(w, r, "call body", err)
		return
	}
	out, err := h.dispatcher.Dispatch(r.Context(), req.Operation, origin, req.Args)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleOperations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"operations": h.dispatcher.Operations()})
}

func (h *Handler) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.svc.ListAgents(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if agents == nil {
		agents = []domain.Principal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (h *Handler) handleAgent(w http.ResponseWriter, r *http.Request) {
	p, err := domain.ParsePrincipal(chi.URLParam(r, "principal"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	registered, err := h.svc.IsRegistered(r.Context(), p)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.AgentStatus{Principal: p, Registered: registered})
}

func (h *Handler) handleListEntities(w http.ResponseWriter, r *http.Request) {
	entity, err := domain.ParseEntityType(chi.URLParam(r, "entity"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	items, err := h.list(r.Context(), entity)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleNextID(w http.ResponseWriter, r *http.Request) {
	entity, err := domain.ParseEntityType(chi.URLParam(r, "entity"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	id, err := h.svc.NextID(r.Context(), entity)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint32{"next_id": id})
}

func (h *Handler) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	entity, err := domain.ParseEntityType(chi.URLParam(r, "entity"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		h.writeErr(w, r, fmt.Errorf("%w: id: %v", domain.ErrInvalidArguments, err))
		return
	}
	rec, ok, err := h.get(r.Context(), entity, uint32(id))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: fmt.Sprintf("%s %d not found", entity, id), Code: api.CodeNotFound})
		return
	}
	writeJSON(w, http.StatusOK, domain.Keyed[any]{ID: uint32(id), Record: rec})
}

func (h *Handler) handlePutImage(w http.ResponseWriter, r *http.Request) {
	origin, err := principalFrom(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxImageBytes))
	if err != nil {
		h.writeBodyErr(w, r, "image body", err)
		return
	}
	if len(body) == 0 {
		h.writeErr(w, r, fmt.Errorf("%w: empty image", domain.ErrInvalidArguments))
		return
	}
	hash, err := h.svc.PutImage(r.Context(), origin, body, r.Header.Get("Content-Type"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.ImageResponse{Hash: hash})
}

func (h *Handler) handleGetImage(w http.ResponseWriter, r *http.Request) {
	hash, err := domain.ParseContentHash(chi.URLParam(r, "hash"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	info, body, err := h.svc.GetImage(r.Context(), hash)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) get(ctx context.Context, entity domain.EntityType, id uint32) (any, bool, error) {
	switch entity {
	case domain.EntityUnit:
		return found(h.svc.GetUnit(ctx, id))
	case domain.EntitySpatialThing:
		return found(h.svc.GetSpatialThing(ctx, id))
	case domain.EntityProcessSpecification:
		return found(h.svc.GetProcessSpecification(ctx, id))
	case domain.EntityResourceSpecification:
		return found(h.svc.GetResourceSpecification(ctx, id))
	default:
		return nil, false, fmt.Errorf("%w: unknown entity %q", domain.ErrInvalidArguments, entity)
	}
}

func (h *Handler) list(ctx context.Context, entity domain.EntityType) (any, error) {
	switch entity {
	case domain.EntityUnit:
		return listed(h.svc.ListUnits(ctx))
	case domain.EntitySpatialThing:
		return listed(h.svc.ListSpatialThings(ctx))
	case domain.EntityProcessSpecification:
		return listed(h.svc.ListProcessSpecifications(ctx))
	case domain.EntityResourceSpecification:
		return listed(h.svc.ListResourceSpecifications(ctx))
	default:
		return nil, fmt.Errorf("%w: unknown entity %q", domain.ErrInvalidArguments, entity)
	}
}

func found[R any](rec R, ok bool, err error) (any, bool, error) {
	return rec, ok, err
}

func listed[R any](items []domain.Keyed[R], err error) (any, error) {
	if items == nil {
		items = []domain.Keyed[R]{}
	}
	return items, err
}

func principalFrom(r *http.Request) (domain.Principal, error) {
	raw := r.Header.Get(api.PrincipalHeader)
	if raw == "" {
		return domain.Principal{}, fmt.Errorf("%w: missing %s header", domain.ErrInvalidArguments, api.PrincipalHeader)
	}
	return domain.ParsePrincipal(raw)
}

// statusFor maps registry errors to an HTTP status and error code.
func statusFor(err error) (int, string) {
	var violation domain.RuleViolationError
	switch {
	case errors.Is(err, domain.ErrNotRegistered):
		return http.StatusForbidden, api.CodeNotRegistered
	case errors.Is(err, domain.ErrAlreadyRegistered):
		return http.StatusConflict, api.CodeAlreadyRegistered
	case errors.Is(err, domain.ErrFieldTooLarge):
		return http.StatusUnprocessableEntity, api.CodeFieldTooLarge
	case errors.Is(err, domain.ErrUnknownOperation):
		return http.StatusBadRequest, api.CodeUnknownOperation
	case errors.Is(err, domain.ErrInvalidArguments):
		return http.StatusBadRequest, api.CodeInvalidArguments
	case errors.Is(err, domain.ErrImageNotFound):
		return http.StatusNotFound, api.CodeNotFound
	case errors.As(err, &violation):
		return http.StatusConflict, api.CodeRuleViolation
	case errors.Is(err, domain.ErrIdentifierSpaceExhausted):
		return http.StatusInsufficientStorage, api.CodeExhausted
	default:
		return http.StatusInternalServerError, api.CodeInternal
	}
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, api.ErrorResponse{Error: err.Error(), Code: code})
}

// writeBodyErr reports a request body that could not be read or decoded.
// Bodies over the size limit get 413.
func (h *Handler) writeBodyErr(w http.ResponseWriter, r *http.Request, what string, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, api.ErrorResponse{Error: err.Error(), Code: api.CodeInvalidArguments})
		return
	}
	h.writeErr(w, r, fmt.Errorf("%w: %s: %v", domain.ErrInvalidArguments, what, err))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(api.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(api.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}
