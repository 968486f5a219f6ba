package api

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-assets/pkg/simpleassets"
)

// DefaultMaxUploadMemory is the part of a multipart upload kept in memory;
// the rest spills to temporary files
const DefaultMaxUploadMemory = 32 << 20

// AssetsHandler handles asset upload, download and metadata endpoints
type AssetsHandler struct {
	service   simpleassets.Service
	guard     *Guard
	maxMemory int64
	logger    *slog.Logger
}

func NewAssetsHandler(service simpleassets.Service, guard *Guard, maxMemory int64, logger *slog.Logger) *AssetsHandler {
	if maxMemory <= 0 {
		maxMemory = DefaultMaxUploadMemory
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AssetsHandler{service: service, guard: guard, maxMemory: maxMemory, logger: logger}
}

// Routes returns the router for asset endpoints. Reads are public; every
// mutation requires the User role.
func (h *AssetsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListAssets)
	r.Get("/download/{id}", h.DownloadAsset)
	r.Get("/{id}", h.GetAsset)

	r.Group(func(r chi.Router) {
		r.Use(h.guard.Authenticate)
		r.Use(h.guard.Require(simpleassets.RoleUser))
		r.Post("/upload", h.UploadAsset)
		r.Put("/{id}", h.UpdateAsset)
		r.Delete("/{id}", h.DeleteAsset)
	})
	return r
}

// UploadResponse carries the id of a committed asset
type UploadResponse struct {
	ID string `json:"id"`
}

// assetResponse renders metadata in the listing shape: fixed properties plus
// every configured field, null when absent
func (h *AssetsHandler) assetResponse(meta *simpleassets.AssetMetadata) map[string]interface{} {
	resp := map[string]interface{}{
		"id":          meta.ID.String(),
		"filename":    meta.FileName,
		"contentType": meta.ContentType,
		"uploadTime":  meta.UploadedAt.UTC().Format(time.RFC3339),
		"length":      meta.Length,
	}
	required, optional := h.service.MetadataFields()
	for _, field := range append(required, optional...) {
		if value, ok := meta.Field(field); ok {
			resp[field] = &value
		} else {
			resp[field] = nil
		}
	}
	return resp
}

func (h *AssetsHandler) UploadAsset(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxMemory); err != nil {
		badRequest(w, r, "file", "Expected a multipart form with a file.")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, r, "file", "No file uploaded.")
		return
	}
	defer file.Close()
	if header.Size == 0 {
		badRequest(w, r, "file", "No file uploaded.")
		return
	}

	meta, err := h.service.UploadAsset(r.Context(), simpleassets.UploadRequest{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Reader:      file,
		Fields:      h.formFields(r),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, UploadResponse{ID: meta.ID.String()})
}

func (h *AssetsHandler) DownloadAsset(w http.ResponseWriter, r *http.Request) {
	id, err := simpleassets.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	meta, body, err := h.service.DownloadAsset(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Length, 10))
	if meta.FileName != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": meta.FileName}))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		// Headers are sent; the client sees a truncated body
		h.logger.ErrorContext(r.Context(), "failed to stream asset", "asset_id", id, "error", err)
	}
}

func (h *AssetsHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	id, err := simpleassets.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	meta, err := h.service.GetAsset(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, h.assetResponse(meta))
}

func (h *AssetsHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets := make([]map[string]interface{}, 0)
	for meta, err := range h.service.ListAssets(r.Context()) {
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		assets = append(assets, h.assetResponse(meta))
	}
	render.JSON(w, r, assets)
}

// UpdateAsset merges the submitted form fields into the asset metadata.
// Empty and omitted fields keep their value.
func (h *AssetsHandler) UpdateAsset(w http.ResponseWriter, r *http.Request) {
	id, err := simpleassets.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := r.ParseMultipartForm(h.maxMemory); err != nil {
		if !errors.Is(err, http.ErrNotMultipart) {
			badRequest(w, r, "", "Invalid form body.")
			return
		}
		if err := r.ParseForm(); err != nil {
			badRequest(w, r, "", "Invalid form body.")
			return
		}
	} else {
		defer r.MultipartForm.RemoveAll()
	}

	if err := h.checkUnknownFields(r); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.service.UpdateAssetMetadata(r.Context(), id, h.formFields(r)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	meta, err := h.service.GetAsset(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, h.assetResponse(meta))
}

func (h *AssetsHandler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	id, err := simpleassets.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.service.DeleteAsset(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// formFields collects the configured descriptive fields present in the form
func (h *AssetsHandler) formFields(r *http.Request) map[string]string {
	required, optional := h.service.MetadataFields()
	fields := make(map[string]string)
	for _, field := range append(required, optional...) {
		if values := r.PostForm[field]; len(values) > 0 {
			fields[field] = values[0]
		}
	}
	return fields
}

func (h *AssetsHandler) checkUnknownFields(r *http.Request) error {
	required, optional := h.service.MetadataFields()
	known := append(required, optional...)

	for name := range r.PostForm {
		if !slices.Contains(known, name) {
			return &simpleassets.ValidationError{Field: name, Err: errUnknownField}
		}
	}
	return nil
}
