package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"offer-ranking-api/internal/features"
	"offer-ranking-api/internal/logger"
	"offer-ranking-api/internal/models"
	"offer-ranking-api/internal/service"
	"offer-ranking-api/internal/validation"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	maxBodySize int64
	log         logrus.FieldLogger
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	Logger      logrus.FieldLogger
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 10 << 20, // 10MB default
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	return &Handler{
		service:     svc,
		maxBodySize: opts.MaxBodySize,
		log:         log,
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/features", h.ListFeatures)
	r.Put("/features/{name}", h.SetFeature)
	r.Post("/rankings", h.RankOffers)

	r.Route("/products/{product_id}", func(r chi.Router) {
		r.Put("/offers", h.ReplaceProductOffers)
		r.Get("/offers", h.GetProductOffers)
	})

	r.Route("/users/{user_id}", func(r chi.Router) {
		r.Post("/cards", h.UpsertCard)
		r.Get("/cards", h.ListCards)
		r.Delete("/cards/{card_id}", h.DeleteCard)
		r.Post("/loyalty-programs", h.UpsertLoyaltyProgram)
		r.Post("/reward-goals", h.UpsertRewardGoal)
		r.Get("/state", h.GetUserState)
		r.Get("/products/{product_id}/ranked-offers", h.GetRankedOffers)
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type featuresResponse struct {
	Features []features.FeatureFlag `json:"features"`
}

type featureToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

// ListFeatures handles GET /features
func (h *Handler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, featuresResponse{Features: h.service.Features().List()})
}

// SetFeature handles PUT /features/{name}
func (h *Handler) SetFeature(w http.ResponseWriter, r *http.Request) {
	var req featureToggleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		h.respondError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	name := chi.URLParam(r, "name")
	if err := h.service.Features().Set(name, *req.Enabled); err != nil {
		if errors.Is(err, features.ErrUnknownFlag) {
			h.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		h.respondServiceError(w, r, err)
		return
	}

	h.log.WithFields(logrus.Fields{"flag": name, "enabled": *req.Enabled}).Info("feature flag changed")
	h.respondJSON(w, http.StatusOK, featuresResponse{Features: h.service.Features().List()})
}

// RankOffers handles POST /rankings
func (h *Handler) RankOffers(w http.ResponseWriter, r *http.Request) {
	var req models.RankOffersRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.RankOffers(r.Context(), req.Offers, req.UserState)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// ReplaceProductOffers handles PUT /products/{product_id}/offers
func (h *Handler) ReplaceProductOffers(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")

	var req models.ReplaceOffersRequest
	if !h.decode(w, r, &req) {
		return
	}

	if _, err := h.service.ReplaceProductOffers(r.Context(), productID, req.Offers); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	resp, err := h.service.GetProductOffers(r.Context(), productID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// GetProductOffers handles GET /products/{product_id}/offers
func (h *Handler) GetProductOffers(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.GetProductOffers(r.Context(), chi.URLParam(r, "product_id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// UpsertCard handles POST /users/{user_id}/cards
func (h *Handler) UpsertCard(w http.ResponseWriter, r *http.Request) {
	var card models.UserCard
	if !h.decode(w, r, &card) {
		return
	}

	stored, err := h.service.UpsertCard(r.Context(), chi.URLParam(r, "user_id"), card)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, stored)
}

// ListCards handles GET /users/{user_id}/cards
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.ListCards(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// DeleteCard handles DELETE /users/{user_id}/cards/{card_id}
func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	err := h.service.DeleteCard(r.Context(), chi.URLParam(r, "user_id"), chi.URLParam(r, "card_id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpsertLoyaltyProgram handles POST /users/{user_id}/loyalty-programs
func (h *Handler) UpsertLoyaltyProgram(w http.ResponseWriter, r *http.Request) {
	var program models.LoyaltyProgram
	if !h.decode(w, r, &program) {
		return
	}

	stored, err := h.service.UpsertLoyaltyProgram(r.Context(), chi.URLParam(r, "user_id"), program)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, stored)
}

// UpsertRewardGoal handles POST /users/{user_id}/reward-goals
func (h *Handler) UpsertRewardGoal(w http.ResponseWriter, r *http.Request) {
	var goal models.RewardGoal
	if !h.decode(w, r, &goal) {
		return
	}

	stored, err := h.service.UpsertRewardGoal(r.Context(), chi.URLParam(r, "user_id"), goal)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, stored)
}

// GetUserState handles GET /users/{user_id}/state
func (h *Handler) GetUserState(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.GetUserState(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, state)
}

// GetRankedOffers handles GET /users/{user_id}/products/{product_id}/ranked-offers
func (h *Handler) GetRankedOffers(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.GetRankedOffers(r.Context(), chi.URLParam(r, "user_id"), chi.URLParam(r, "product_id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// decode reads a size-limited JSON body into dst, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	// Limit request body size to prevent abuse
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			h.respondError(w, http.StatusBadRequest, "request body is required")
		case errors.As(err, &maxErr):
			h.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		default:
			h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		}
		return false
	}

	return true
}

// respondServiceError maps service errors to status codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.ValidationError
	switch {
	case errors.As(err, &verr):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "not found")
	default:
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		h.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
