// Package httphandler is the REST driving adapter. It exposes credential
// registration and the bound storage operations over HTTP.
package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ericfisherdev/storageio/internal/application"
	"github.com/ericfisherdev/storageio/internal/domain/model"
	"github.com/ericfisherdev/storageio/internal/domain/storageerr"
)

const (
	defaultMaxUploadBytes = 64 << 20
	maxRequestBodyBytes   = 64 << 10
	maxPreviewBytes       = 1 << 20
)

// MemoryFactory provisions isolated in-memory filesystems.
type MemoryFactory interface {
	CreateFileSystem() (model.Credential, error)
	DropFileSystem(storeID string) bool
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	manager        *application.StorageManager
	memory         MemoryFactory
	healthCheck    func(context.Context) error
	maxUploadBytes int64
	logger         *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithMemoryFactory enables creating and dropping memory storages.
func WithMemoryFactory(f MemoryFactory) Option {
	return func(h *Handler) { h.memory = f }
}

// WithHealthCheck adds a dependency probe to the health endpoint.
func WithHealthCheck(check func(context.Context) error) Option {
	return func(h *Handler) { h.healthCheck = check }
}

// WithMaxUploadBytes caps the body of a file upload.
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(manager *application.StorageManager, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		manager:        manager,
		maxUploadBytes: defaultMaxUploadBytes,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with the middleware chain described by cfg.
func NewServeMux(h *Handler, logger *slog.Logger, cfg MiddlewareConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/providers", h.ListProviders)
	mux.HandleFunc("POST /api/v1/credentials", h.AddCredentials)
	mux.HandleFunc("DELETE /api/v1/credentials/{id}", h.RemoveCredentials)
	mux.HandleFunc("POST /api/v1/storages/memory", h.CreateMemoryStorage)
	mux.HandleFunc("DELETE /api/v1/storages/memory/{id}", h.DeleteMemoryStorage)
	mux.HandleFunc("GET /api/v1/storages/{id}/folders/{path...}", h.ListFolder)
	mux.HandleFunc("GET /api/v1/storages/{id}/meta/{path...}", h.FileMeta)
	mux.HandleFunc("HEAD /api/v1/storages/{id}/files/{path...}", h.Exists)
	mux.HandleFunc("GET /api/v1/storages/{id}/files/{path...}", h.ReadFile)
	mux.HandleFunc("PUT /api/v1/storages/{id}/files/{path...}", h.WriteFile)
	mux.HandleFunc("DELETE /api/v1/storages/{id}/entries/{path...}", h.Delete)
	mux.HandleFunc("GET /api/v1/storages/{id}/preview/{path...}", h.Preview)

	return applyMiddleware(mux, logger, cfg)
}

// Health reports liveness, and readiness of the credential store when a
// probe is configured.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC().Format(time.RFC3339)
	if h.healthCheck != nil {
		if err := h.healthCheck(r.Context()); err != nil {
			h.logger.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Time: now})
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Time: now})
}

// ListProviders returns the registered storage variants.
func (h *Handler) ListProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toProvidersResponse(h.manager.Variants()))
}

// AddCredentials registers a credential and returns its id.
func (h *Handler) AddCredentials(w http.ResponseWriter, r *http.Request) {
	var req CreateCredentialRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Variant == "" {
		writeError(w, http.StatusBadRequest, "variant is required")
		return
	}

	params, err := model.DecodeParams(model.Variant(req.Variant), req.Params)
	if err != nil {
		var unknown *model.ErrUnknownVariant
		if errors.As(err, &unknown) {
			writeStorageError(w, h.logger, "add credentials",
				storageerr.Wrap(err, storageerr.KindUnrecognizedStorageType, unknown.Error()))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid params")
		return
	}

	cred := &model.Credential{OwnerID: req.OwnerID, Params: params}
	id, err := h.manager.AddCredentials(r.Context(), cred)
	if err != nil {
		writeStorageError(w, h.logger, "add credentials", err)
		return
	}

	h.logger.Info("credentials registered", "variant", req.Variant, "owner", req.OwnerID)
	writeJSON(w, http.StatusCreated, IDResponse{ID: id})
}

// RemoveCredentials revokes a credential.
func (h *Handler) RemoveCredentials(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.RemoveCredentials(r.Context(), r.PathValue("id")); err != nil {
		writeStorageError(w, h.logger, "remove credentials", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateMemoryStorage provisions a fresh in-memory filesystem and registers
// a credential for it.
func (h *Handler) CreateMemoryStorage(w http.ResponseWriter, r *http.Request) {
	if h.memory == nil {
		writeStorageError(w, h.logger, "create memory storage",
			storageerr.Newf(storageerr.KindUnrecognizedStorageType, "no %s provider", model.VariantMemory))
		return
	}

	cred, err := h.memory.CreateFileSystem()
	if err != nil {
		writeStorageError(w, h.logger, "create memory storage", err)
		return
	}
	id, err := h.manager.AddCredentials(r.Context(), &cred)
	if err != nil {
		writeStorageError(w, h.logger, "create memory storage", err)
		return
	}
	writeJSON(w, http.StatusCreated, IDResponse{ID: id})
}

// DeleteMemoryStorage revokes a memory storage credential and discards the
// filesystem behind it.
func (h *Handler) DeleteMemoryStorage(w http.ResponseWriter, r *http.Request) {
	if h.memory == nil {
		writeStorageError(w, h.logger, "delete memory storage",
			storageerr.Newf(storageerr.KindUnrecognizedStorageType, "no %s provider", model.VariantMemory))
		return
	}

	id := r.PathValue("id")
	svc, err := h.manager.LookupService(r.Context(), id)
	if err != nil {
		writeStorageError(w, h.logger, "delete memory storage", err)
		return
	}
	params, ok := svc.Params().(model.MemoryParams)
	if !ok {
		writeStorageError(w, h.logger, "delete memory storage",
			storageerr.Newf(storageerr.KindInvalidArgument, "credential is a %s storage, not %s", svc.Variant(), model.VariantMemory))
		return
	}

	if err := h.manager.RemoveCredentials(r.Context(), id); err != nil {
		writeStorageError(w, h.logger, "delete memory storage", err)
		return
	}
	if !h.memory.DropFileSystem(params.StoreID) {
		h.logger.Warn("memory filesystem already gone", "store", params.StoreID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListFolder returns a folder with its immediate children.
func (h *Handler) ListFolder(w http.ResponseWriter, r *http.Request) {
	svc, path, ok := h.bind(w, r, "list folder")
	if !ok {
		return
	}
	folder, err := svc.ListFolderContents(r.Context(), path)
	if err != nil {
		writeStorageError(w, h.logger, "list folder", err)
		return
	}
	writeJSON(w, http.StatusOK, folder)
}

// FileMeta returns file metadata without content.
func (h *Handler) FileMeta(w http.ResponseWriter, r *http.Request) {
	svc, path, ok := h.bind(w, r, "read file meta")
	if !ok {
		return
	}
	f, err := svc.ReadFileMeta(r.Context(), path)
	if err != nil {
		writeStorageError(w, h.logger, "read file meta", err)
		return
	}
	setETag(w, f.Revision)
	writeJSON(w, http.StatusOK, f)
}

// Exists answers 200 when an entity is present at the path and 404 otherwise.
func (h *Handler) Exists(w http.ResponseWriter, r *http.Request) {
	svc, path, ok := h.bind(w, r, "exists")
	if !ok {
		return
	}
	exists, err := svc.Exists(r.Context(), path)
	if err != nil {
		w.WriteHeader(statusFor(storageerr.KindOf(err)))
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ReadFile streams file content. The revision is sent as the ETag and a
// matching If-None-Match yields 304.
//
// Metadata and content come from two provider calls. A write landing
// between them yields a body newer than its ETag, never older, so a
// conditional write that echoes the ETag fails with 412 instead of
// overwriting the newer content.
func (h *Handler) ReadFile(w http.ResponseWriter, r *http.Request) {
	svc, path, ok := h.bind(w, r, "read file")
	if !ok {
		return
	}
	meta, err := svc.ReadFileMeta(r.Context(), path)
	if err != nil {
		writeStorageError(w, h.logger, "read file", err)
		return
	}

	setETag(w, meta.Revision)
	if meta.Revision != model.AnyRevision && model.Revision(parseETag(r.Header.Get("If-None-Match"))) == meta.Revision {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	tw := &trackingWriter{w: w}
	if err := svc.ReadFile(r.Context(), path, tw); err != nil {
		if tw.written {
			h.logger.Error("read file aborted mid-stream", "path", path, "error", err)
			return
		}
		w.Header().Del("ETag")
		writeStorageError(w, h.logger, "read file", err)
	}
}

// WriteFile stores the request body. If-Match carries the expected revision.
func (h *Handler) WriteFile(w http.ResponseWriter, r *http.Request) {
	svc, path, ok := h.bind(w, r, "write file")
	if !ok {
		return
	}

	body := &limitedBody{r: http.MaxBytesReader(w, r.Body, h.maxUploadBytes)}
	var (
		f   *model.File
		err error
	)
	if rev := parseETag(r.Header.Get("If-Match")); rev != "" {
		f, err = svc.WriteFileRevision(r.Context(), path, body, model.Revision(rev))
	} else {
		f, err = svc.WriteFile(r.Context(), path, body)
	}
	if body.tooLarge {
		writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
		return
	}
	if err != nil {
		writeStorageError(w, h.logger, "write file", err)
		return
	}

	setETag(w, f.Revision)
	writeJSON(w, http.StatusOK, f)
}

// Delete removes a file, or a folder with everything below it.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	svc, path, ok := h.bind(w, r, "delete")
	if !ok {
		return
	}
	if err := svc.Delete(r.Context(), path); err != nil {
		writeStorageError(w, h.logger, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Preview renders a markdown file to sanitized HTML.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	svc, path, ok := h.bind(w, r, "preview")
	if !ok {
		return
	}
	meta, err := svc.ReadFileMeta(r.Context(), path)
	if err != nil {
		writeStorageError(w, h.logger, "preview", err)
		return
	}
	if meta.Size > maxPreviewBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large to preview")
		return
	}

	var src strings.Builder
	if err := svc.ReadFile(r.Context(), path, &src); err != nil {
		writeStorageError(w, h.logger, "preview", err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, RenderMarkdown(src.String()))
}

// bind resolves the {id} credential to a service and the {path...} wildcard
// to a storage path. It writes the error response itself.
func (h *Handler) bind(w http.ResponseWriter, r *http.Request, op string) (*application.StorageService, string, bool) {
	svc, err := h.manager.LookupService(r.Context(), r.PathValue("id"))
	if err != nil {
		if r.Method == http.MethodHead {
			w.WriteHeader(statusFor(storageerr.KindOf(err)))
			return nil, "", false
		}
		writeStorageError(w, h.logger, op, err)
		return nil, "", false
	}
	return svc, "/" + r.PathValue("path"), true
}

func setETag(w http.ResponseWriter, rev model.Revision) {
	if rev != model.AnyRevision {
		w.Header().Set("ETag", `"`+string(rev)+`"`)
	}
}

// parseETag strips the weak prefix and quotes from an entity tag.
func parseETag(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "W/")
	return strings.Trim(v, `"`)
}

// trackingWriter records whether any body bytes reached the client.
type trackingWriter struct {
	w       io.Writer
	written bool
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		t.written = true
	}
	return t.w.Write(p)
}

// limitedBody notes when the upload limit was hit, since providers wrap the
// read error in their own failure kinds.
type limitedBody struct {
	r        io.Reader
	tooLarge bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		b.tooLarge = true
	}
	return n, err
}
