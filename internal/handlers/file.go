package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/taliaapp/apiserver/internal/services"
)

// FileHandler provides the file ingestion endpoints.
type FileHandler struct {
	fileService *services.FileService
	maxBytes    int64
}

// NewFileHandler constructs a FileHandler with the provided dependencies.
func NewFileHandler(fileService *services.FileService, maxBytes int64) *FileHandler {
	return &FileHandler{
		fileService: fileService,
		maxBytes:    maxBytes,
	}
}

// FileRouter registers file routes on the given router. Every route requires
// authentication.
func FileRouter(r chi.Router, fileService *services.FileService, maxBytes int64, auth func(http.Handler) http.Handler) {
	handler := NewFileHandler(fileService, maxBytes)

	r.Use(auth)
	r.Post("/upload", handler.Upload)
	r.Post("/external", handler.External)
	r.Get("/", handler.List)
	r.Get("/{fileID}", handler.Get)
	r.Delete("/{fileID}", handler.Destroy)
}

type ExternalRequest struct {
	URL string `json:"url"`
}

// Upload accepts a multipart form with a "file" field and stores it.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// Slack for multipart framing on top of the payload limit.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	created, err := h.fileService.Upload(
		r.Context(),
		user,
		file,
		header.Size,
		services.ExtFromName(header.Filename),
		header.Filename,
	)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// External ingests a file from a remote URL.
func (h *FileHandler) External(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ExternalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "missing url")
		return
	}

	created, err := h.fileService.IngestRemote(r.Context(), user, req.URL)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// List returns the caller's files.
func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	files, err := h.fileService.List(r.Context(), user)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// Get returns a single file's metadata.
func (h *FileHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := strconv.Atoi(chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file id")
		return
	}

	file, err := h.fileService.Get(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

// Destroy deletes a file the caller owns.
func (h *FileHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := strconv.Atoi(chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file id")
		return
	}

	if err := h.fileService.Destroy(r.Context(), user, id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
