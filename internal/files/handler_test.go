package files

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lessonhub/fileservice/internal/storage"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
	Error   string          `json:"error"`
}

func newRouter(gw *Gateway, maxUpload int64) http.Handler {
	r := chi.NewRouter()
	r.Route("/files", NewHandler(gw, maxUpload, discardLogger()).Routes)
	return r
}

func multipartUpload(t *testing.T, filename, contentType string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)

	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func TestHandler_UploadDownloadDelete(t *testing.T) {
	f := newFixture(ModeDirect)
	srv := newRouter(f.gw, 1<<20)
	content := []byte("%PDF-1.4 abc")

	body, ct := multipartUpload(t, "report.pdf", "application/pdf", content, map[string]string{"lessonId": "17", "userId": "u1"})
	req := httptest.NewRequest(http.MethodPost, "/files", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var desc Descriptor
	env := decode(t, rec, &desc)
	assert.True(t, env.Success)
	assert.True(t, strings.HasSuffix(desc.Key, "-report.pdf"))
	assert.Equal(t, "application/pdf", desc.ContentType)
	assert.Equal(t, int64(12), desc.Size)

	stored, err := f.store.FindByKey(req.Context(), desc.Key)
	require.NoError(t, err)
	assert.Equal(t, "u1", stored.UploadedBy)
	assert.Equal(t, "17", stored.LessonID)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/"+desc.Key, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.Bytes())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "12", rec.Header().Get("Content-Length"))
	assert.Equal(t, "attachment; filename="+desc.Key, rec.Header().Get("Content-Disposition"))

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/"+desc.Key+"/metadata", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var meta Descriptor
	decode(t, rec, &meta)
	assert.Equal(t, desc, meta)

	for i := 0; i < 2; i++ {
		rec = httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/files/"+desc.Key, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/"+desc.Key, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_UploadDetectsContentTypeFromName(t *testing.T) {
	f := newFixture(ModeDirect)
	srv := newRouter(f.gw, 0)

	body, ct := multipartUpload(t, "diagram.png", "", []byte("\x89PNG"), nil)
	req := httptest.NewRequest(http.MethodPost, "/files", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var desc Descriptor
	decode(t, rec, &desc)
	assert.Equal(t, "image/png", desc.ContentType)
}

func TestHandler_UploadRejectsBadRequests(t *testing.T) {
	f := newFixture(ModeDirect)
	srv := newRouter(f.gw, 256)

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/files", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing file field", func(t *testing.T) {
		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		require.NoError(t, mw.WriteField("lessonId", "1"))
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/files", body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, `multipart field "file" is required`, decode(t, rec, nil).Error)
	})

	t.Run("too large", func(t *testing.T) {
		body, ct := multipartUpload(t, "big.bin", "application/octet-stream", bytes.Repeat([]byte("x"), 4096), nil)
		req := httptest.NewRequest(http.MethodPost, "/files", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "payload_too_large", decode(t, rec, nil).Code)
		assert.Equal(t, 0, f.backend.Len())
	})
}

func TestHandler_ErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   Kind
	}{
		{"not found", storage.NotFound("get", "k"), http.StatusNotFound, KindNotFound},
		{"forbidden", &storage.Failure{Category: storage.CategoryService, StatusCode: 403}, http.StatusForbidden, KindAccessDenied},
		{"provider", &storage.Failure{Category: storage.CategoryService, StatusCode: 500}, http.StatusBadGateway, KindProviderError},
		{"unavailable", &storage.Failure{Category: storage.CategoryTransport}, http.StatusServiceUnavailable, KindBackendUnavailable},
		{"unknown", assert.AnError, http.StatusInternalServerError, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := NewGateway(GatewayConfig{Bucket: testBucket}, stubBackend{err: tt.err}, nil, discardLogger(), nil)
			rec := httptest.NewRecorder()
			newRouter(gw, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/k", nil))

			assert.Equal(t, tt.status, rec.Code)
			env := decode(t, rec, nil)
			assert.False(t, env.Success)
			assert.Equal(t, string(tt.code), env.Code)
			assert.NotContains(t, env.Error, "assert.AnError")
		})
	}
}

func TestHandler_PresignedUploadAndComplete(t *testing.T) {
	f := newFixture(ModePresigned)
	srv := newRouter(f.gw, 0)

	req := httptest.NewRequest(http.MethodPost, "/files", strings.NewReader(`{"filename":"lecture.mp4","contentType":"video/mp4","lessonId":"3"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var grant uploadGrantData
	decode(t, rec, &grant)
	assert.True(t, IsGeneratedKey(grant.StorageKey))
	assert.Equal(t, "video/mp4", grant.ContentType)
	assert.Equal(t, "/files/"+grant.StorageKey+"/complete", grant.CompleteURL)
	assert.Equal(t, 0, f.store.count())

	require.NoError(t, f.backend.Put(req.Context(), storage.PutInput{
		Bucket:      testBucket,
		Key:         grant.StorageKey,
		Body:        strings.NewReader("frames"),
		Size:        6,
		ContentType: "video/mp4",
	}))

	req = httptest.NewRequest(http.MethodPost, grant.CompleteURL, strings.NewReader(`{"lessonId":"3"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var desc Descriptor
	decode(t, rec, &desc)
	assert.Equal(t, grant.StorageKey, desc.Key)
	assert.Equal(t, "lecture.mp4", desc.OriginalName)
	assert.Equal(t, int64(6), desc.Size)
}

func TestHandler_PresignedRequiresFilename(t *testing.T) {
	f := newFixture(ModePresigned)
	req := httptest.NewRequest(http.MethodPost, "/files", strings.NewReader("contentType=image%2Fpng"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	newRouter(f.gw, 0).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "filename is required", decode(t, rec, nil).Error)
}

func TestHandler_CompleteRejectsForeignKey(t *testing.T) {
	f := newFixture(ModePresigned)
	rec := httptest.NewRecorder()

	newRouter(f.gw, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/files/not-generated/complete", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_CompleteBeforeUploadIsNotFound(t *testing.T) {
	f := newFixture(ModePresigned)
	key := GenerateKey("a.txt")
	rec := httptest.NewRecorder()

	newRouter(f.gw, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/files/"+key+"/complete", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_CompleteTwiceIsIdempotent(t *testing.T) {
	f := newFixture(ModePresigned)
	srv := newRouter(f.gw, 0)
	key := GenerateKey("notes.pdf")
	require.NoError(t, f.backend.Put(context.Background(), storage.PutInput{
		Bucket:      testBucket,
		Key:         key,
		Body:        strings.NewReader("pdf"),
		Size:        3,
		ContentType: "application/pdf",
	}))

	var descs [2]Descriptor
	for i := range descs {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/files/"+key+"/complete", nil))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decode(t, rec, &descs[i])
	}

	assert.Equal(t, descs[0], descs[1])
	assert.Equal(t, 1, f.store.count())
}

func TestHandler_CompleteNotMountedInDirectMode(t *testing.T) {
	f := newFixture(ModeDirect)
	key := GenerateKey("notes.pdf")
	require.NoError(t, f.backend.Put(context.Background(), storage.PutInput{
		Bucket:      testBucket,
		Key:         key,
		Body:        strings.NewReader("pdf"),
		Size:        3,
		ContentType: "application/pdf",
	}))
	rec := httptest.NewRecorder()

	newRouter(f.gw, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/files/"+key+"/complete", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, f.store.count())
}
