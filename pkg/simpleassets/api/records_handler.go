package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-assets/pkg/simpleassets"
)

// FeedbackHandler handles visitor feedback endpoints
type FeedbackHandler struct {
	service simpleassets.Service
	guard   *Guard
	logger  *slog.Logger
}

func NewFeedbackHandler(service simpleassets.Service, guard *Guard, logger *slog.Logger) *FeedbackHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedbackHandler{service: service, guard: guard, logger: logger}
}

// Routes returns the router for feedback endpoints. Anyone may leave
// feedback; reading and deleting it requires the Admin role.
func (h *FeedbackHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateFeedback)

	r.Group(func(r chi.Router) {
		r.Use(h.guard.Authenticate)
		r.Use(h.guard.Require(simpleassets.RoleAdmin))
		r.Get("/", h.ListFeedback)
		r.Delete("/{id}", h.DeleteFeedback)
	})
	return r
}

func (h *FeedbackHandler) CreateFeedback(w http.ResponseWriter, r *http.Request) {
	var req simpleassets.CreateFeedbackRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "", "Invalid request body.")
		return
	}

	fb, err := h.service.CreateFeedback(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, fb)
}

func (h *FeedbackHandler) ListFeedback(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListFeedback(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, list)
}

func (h *FeedbackHandler) DeleteFeedback(w http.ResponseWriter, r *http.Request) {
	id, err := simpleassets.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.service.DeleteFeedback(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServicesHandler handles the catalogue of offered services
type ServicesHandler struct {
	service simpleassets.Service
	guard   *Guard
	logger  *slog.Logger
}

func NewServicesHandler(service simpleassets.Service, guard *Guard, logger *slog.Logger) *ServicesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServicesHandler{service: service, guard: guard, logger: logger}
}

// Routes returns the router for service descriptor endpoints. Reads are
// public; mutations require the Admin role.
func (h *ServicesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListServices)
	r.Get("/{id}", h.GetService)

	r.Group(func(r chi.Router) {
		r.Use(h.guard.Authenticate)
		r.Use(h.guard.Require(simpleassets.RoleAdmin))
		r.Post("/", h.CreateService)
		r.Put("/{id}", h.UpdateService)
		r.Delete("/{id}", h.DeleteService)
	})
	return r
}

func (h *ServicesHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListServiceDescriptors(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, list)
}

func (h *ServicesHandler) GetService(w http.ResponseWriter, r *http.Request) {
	id, err := simpleassets.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	sd, err := h.service.GetServiceDescriptor(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, sd)
}

func (h *ServicesHandler) CreateService(w http.ResponseWriter, r *http.Request) {
	var req simpleassets.ServiceDescriptorRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "", "Invalid request body.")
		return
	}

	sd, err := h.service.CreateServiceDescriptor(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, sd)
}

func (h *ServicesHandler) UpdateService(w http.ResponseWriter, r *http.Request) {
	id, err := simpleassets.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req simpleassets.ServiceDescriptorRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "", "Invalid request body.")
		return
	}

	sd, err := h.service.UpdateServiceDescriptor(r.Context(), id, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, sd)
}

func (h *ServicesHandler) DeleteService(w http.ResponseWriter, r *http.Request) {
	id, err := simpleassets.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.service.DeleteServiceDescriptor(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
