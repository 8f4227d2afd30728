package files

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lessonhub/fileservice/internal/middleware"
	"github.com/lessonhub/fileservice/internal/response"
)

// multipartMemory is how much of a multipart body is kept in memory before
// the rest spills to a temporary file.
const multipartMemory = 8 << 20

// Handler holds HTTP handlers for file endpoints.
type Handler struct {
	gw             *Gateway
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewHandler creates a new files Handler.
func NewHandler(gw *Gateway, maxUploadBytes int64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{gw: gw, maxUploadBytes: maxUploadBytes, logger: logger}
}

// Routes mounts the file endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Upload)
	if h.gw.Mode() == ModePresigned {
		r.Post("/{key}/complete", h.Complete)
	}
	r.Get("/{key}", h.Download)
	r.Get("/{key}/metadata", h.Metadata)
	r.Delete("/{key}", h.Delete)
}

type presignRequest struct {
	Filename    string `json:"filename"    example:"report.pdf"`
	ContentType string `json:"contentType" example:"application/pdf"`
	LessonID    string `json:"lessonId"    example:"17"`
	UserID      string `json:"userId"      example:"e7eedc79-0707-4fe4-8734-526b7ef13a7b"`
}

type completeRequest struct {
	Filename string `json:"filename" example:"report.pdf"`
	LessonID string `json:"lessonId" example:"17"`
	UserID   string `json:"userId"   example:"e7eedc79-0707-4fe4-8734-526b7ef13a7b"`
}

type uploadGrantData struct {
	URL         string    `json:"url"         example:"http://localhost:9000/lessons/3f0c8a2e-...-report.pdf?X-Amz-Signature=..."`
	StorageKey  string    `json:"storageKey"  example:"3f0c8a2e-5d7b-4a7e-9a43-2b1f0f7c9d10-report.pdf"`
	ExpiresAt   time.Time `json:"expiresAt"   example:"2026-02-27T15:03:34Z"`
	ContentType string    `json:"contentType,omitempty" example:"application/pdf"`
	CompleteURL string    `json:"completeUrl" example:"/api/v1/files/3f0c8a2e-5d7b-4a7e-9a43-2b1f0f7c9d10-report.pdf/complete"`
}

type deleteData struct {
	Message    string `json:"message"    example:"file deleted"`
	StorageKey string `json:"storageKey" example:"3f0c8a2e-5d7b-4a7e-9a43-2b1f0f7c9d10-report.pdf"`
}

// Upload godoc
//
//	@Summary		Upload a file
//	@Description	Direct mode: multipart body with "file" and optional "lessonId"/"userId"; returns the stored file descriptor.
//	@Description	Presigned mode: form or JSON with "filename", optional "contentType", "lessonId", "userId"; returns a pre-signed PUT URL.
//	@Description	In presigned mode the client uploads the bytes itself, so content type and size are only known after POST /files/{key}/complete.
//	@Tags			files
//	@Accept			multipart/form-data
//	@Accept			json
//	@Produce		json
//	@Param			file		formData	file	false	"File content (direct mode)"
//	@Param			lessonId	formData	string	false	"Associated lesson"
//	@Param			userId		formData	string	false	"Owner when no bearer token is sent"
//	@Success		201			{object}	response.Envelope{data=Descriptor}
//	@Failure		400			{object}	response.Envelope
//	@Failure		403			{object}	response.Envelope
//	@Failure		413			{object}	response.Envelope
//	@Failure		502			{object}	response.Envelope
//	@Failure		503			{object}	response.Envelope
//	@Router			/files [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.gw.Mode() == ModePresigned {
		h.requestUpload(w, r)
		return
	}

	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.TooLarge(w, "file exceeds the upload limit of "+strconv.FormatInt(h.maxUploadBytes, 10)+" bytes")
			return
		}
		response.BadRequest(w, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, `multipart field "file" is required`)
		return
	}

	desc, err := h.gw.Upload(r.Context(), UploadInput{
		Content:      file,
		OriginalName: header.Filename,
		ContentType:  detectContentType(header.Header.Get("Content-Type"), header.Filename),
		Size:         header.Size,
		OwnerID:      ownerID(r, r.FormValue("userId")),
		LessonID:     r.FormValue("lessonId"),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Created(w, desc)
}

func (h *Handler) requestUpload(w http.ResponseWriter, r *http.Request) {
	var req presignRequest
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid request body")
			return
		}
	} else {
		req = presignRequest{
			Filename:    r.FormValue("filename"),
			ContentType: r.FormValue("contentType"),
			LessonID:    r.FormValue("lessonId"),
			UserID:      r.FormValue("userId"),
		}
	}
	if strings.TrimSpace(req.Filename) == "" {
		response.BadRequest(w, "filename is required")
		return
	}

	grant, err := h.gw.RequestUpload(r.Context(), PresignInput{OriginalName: req.Filename})
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Created(w, uploadGrantData{
		URL:         grant.URL,
		StorageKey:  grant.Key,
		ExpiresAt:   grant.ExpiresAt,
		ContentType: detectContentType(req.ContentType, req.Filename),
		CompleteURL: strings.TrimSuffix(r.URL.Path, "/") + "/" + grant.Key + "/complete",
	})
}

// Complete godoc
//
//	@Summary		Complete a pre-signed upload
//	@Description	Records metadata for an object uploaded through a pre-signed URL. Content type and size are read from the storage backend.
//	@Description	Only mounted in presigned mode. Completing the same key again returns the recorded descriptor.
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Param			key		path		string			true	"Storage key"
//	@Param			request	body		completeRequest	false	"Original filename and ownership"
//	@Success		201		{object}	response.Envelope{data=Descriptor}
//	@Failure		400		{object}	response.Envelope
//	@Failure		404		{object}	response.Envelope
//	@Failure		502		{object}	response.Envelope
//	@Failure		503		{object}	response.Envelope
//	@Router			/files/{key}/complete [post]
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !IsGeneratedKey(key) {
		response.BadRequest(w, "invalid storage key")
		return
	}

	var req completeRequest
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.BadRequest(w, "invalid request body")
			return
		}
	}
	if req.Filename == "" {
		req.Filename = key[37:]
	}

	desc, err := h.gw.CompleteUpload(r.Context(), CompleteInput{
		Key:          key,
		OriginalName: req.Filename,
		OwnerID:      ownerID(r, req.UserID),
		LessonID:     req.LessonID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.Created(w, desc)
}

// Download godoc
//
//	@Summary		Download a file
//	@Description	Streams the stored object as an attachment.
//	@Tags			files
//	@Produce		octet-stream
//	@Param			key	path		string	true	"Storage key"
//	@Success		200	{file}		binary
//	@Failure		403	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Failure		502	{object}	response.Envelope
//	@Failure		503	{object}	response.Envelope
//	@Router			/files/{key} [get]
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	obj, err := h.gw.Download(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": key}))
	if obj.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, obj.Body); err != nil {
		h.logger.WarnContext(r.Context(), "download aborted", "key", key, "error", err)
	}
}

// Metadata godoc
//
//	@Summary		Get file metadata
//	@Description	Returns the recorded descriptor of an uploaded file, with a freshly computed access URL.
//	@Tags			files
//	@Produce		json
//	@Param			key	path		string	true	"Storage key"
//	@Success		200	{object}	response.Envelope{data=Descriptor}
//	@Failure		404	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/files/{key}/metadata [get]
func (h *Handler) Metadata(w http.ResponseWriter, r *http.Request) {
	desc, err := h.gw.Describe(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.OK(w, desc)
}

// Delete godoc
//
//	@Summary		Delete a file
//	@Description	Removes the stored object. Deleting a missing key succeeds. Metadata records are kept.
//	@Tags			files
//	@Produce		json
//	@Param			key	path		string	true	"Storage key"
//	@Success		200	{object}	response.Envelope{data=deleteData}
//	@Failure		403	{object}	response.Envelope
//	@Failure		502	{object}	response.Envelope
//	@Failure		503	{object}	response.Envelope
//	@Router			/files/{key} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if err := h.gw.Delete(r.Context(), key); err != nil {
		h.writeError(w, err)
		return
	}

	response.OK(w, deleteData{Message: "file deleted", StorageKey: key})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var e *Error
	if !errors.As(err, &e) {
		response.InternalError(w)
		return
	}
	response.Fail(w, HTTPStatus(e.Kind), string(e.Kind), e.Message)
}

// ownerID prefers the authenticated subject over a client-supplied id.
func ownerID(r *http.Request, fallback string) string {
	if id := middleware.UserID(r.Context()); id != "" {
		return id
	}
	return fallback
}

func detectContentType(declared, filename string) string {
	if declared != "" {
		return declared
	}
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return defaultContentType
}

func isJSON(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/json"
}
