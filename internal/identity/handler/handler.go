package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"escrow/internal/identity/models"
	id "escrow/pkg/domain"
	dErrors "escrow/pkg/domain-errors"
	"escrow/pkg/platform/httputil"
	"escrow/pkg/platform/middleware/auth"
	request "escrow/pkg/platform/middleware/request"
)

// Service defines the identity operations exposed over HTTP.
type Service interface {
	Register(ctx context.Context, displayName, avatarRef string) (*models.Identity, string, error)
	Get(ctx context.Context, identityID id.IdentityID) (*models.Identity, error)
	UpdateProfile(ctx context.Context, proof, displayName, avatarRef string) (*models.Identity, error)
}

type Handler struct {
	logger  *slog.Logger
	service Service
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register mounts the identity routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/identities", func(r chi.Router) {
		r.Use(request.Timeout(10 * time.Second))
		r.Use(request.ContentTypeJSON)
		r.Post("/", h.handleRegister)
		r.With(auth.RequireProof(h.logger)).Patch("/me", h.handleUpdateProfile)
		r.Get("/{id}", h.handleGet)
	})
}

type profileRequest struct {
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref"`
}

type registerResponse struct {
	IdentityID  string `json:"identity_id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref"`
	Proof       string `json:"proof"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid register request",
			"request_id", request.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	identity, proof, err := h.service.Register(ctx, req.DisplayName, req.AvatarRef)
	if err != nil {
		h.logFailure(ctx, "register identity failed", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, registerResponse{
		IdentityID:  identity.ID.String(),
		DisplayName: identity.DisplayName,
		AvatarRef:   identity.AvatarRef,
		Proof:       proof,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identityID, err := id.ParseIdentityID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	identity, err := h.service.Get(ctx, identityID)
	if err != nil {
		h.logFailure(ctx, "get identity failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, identity)
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	identity, err := h.service.UpdateProfile(ctx, auth.GetProof(ctx), req.DisplayName, req.AvatarRef)
	if err != nil {
		h.logFailure(ctx, "update profile failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, identity)
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	level := slog.LevelWarn
	if dErrors.ToHTTPStatus(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", request.GetRequestID(ctx),
		"error", err.Error(),
	)
}
