package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-assets/pkg/simpleassets"
)

// AuthHandler handles login and self-service registration
type AuthHandler struct {
	service simpleassets.Service
	limiter *RateLimiter
	logger  *slog.Logger
}

func NewAuthHandler(service simpleassets.Service, limiter *RateLimiter, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{service: service, limiter: limiter, logger: logger}
}

// Routes returns the router for auth endpoints
func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Middleware)
		}
		r.Post("/login", h.Login)
		r.Post("/register", h.Register)
	})
	return r
}

// LoginResponse carries a bearer token and its expiry
type LoginResponse struct {
	Token      string    `json:"token"`
	Expiration time.Time `json:"expiration"`
}

// StatusResponse acknowledges an operation without a resource body
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req simpleassets.LoginRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "", "Invalid request body.")
		return
	}

	token, err := h.service.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, simpleassets.ErrInvalidCredentials) || errors.Is(err, simpleassets.ErrAccountLocked) {
			h.logger.InfoContext(r.Context(), "login failed", "username", req.Username, "locked", errors.Is(err, simpleassets.ErrAccountLocked))
		}
		writeError(w, r, h.logger, err)
		return
	}

	render.JSON(w, r, LoginResponse{Token: token.Value, Expiration: token.ExpiresAt})
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req simpleassets.RegisterRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "", "Invalid request body.")
		return
	}

	if _, err := h.service.Register(r.Context(), req); err != nil {
		if errors.Is(err, simpleassets.ErrAccountExists) {
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, StatusResponse{Status: "Error", Message: "User already exists"})
			return
		}
		writeError(w, r, h.logger, err)
		return
	}

	render.JSON(w, r, StatusResponse{Status: "Success", Message: "User created successfully"})
}
