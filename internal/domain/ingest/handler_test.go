package ingest

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/dicomvault/dicomvault/internal/domain/hierarchy"
	"github.com/dicomvault/dicomvault/internal/platform/contentstore"
)

func newTestServer(ex *stubExtractor) (*echo.Echo, *contentstore.Memory) {
	store := contentstore.NewMemory()
	ing := NewIngestor(store, ex, hierarchy.NewMem(), zerolog.Nop())
	e := echo.New()
	NewHandler(ing, store).RegisterRoutes(e.Group("/api/v1"))
	return e, store
}

func multipartUpload(t *testing.T, fileName, content string) (*http.Request, *httptest.ResponseRecorder) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req, httptest.NewRecorder()
}

func TestUpload_Created(t *testing.T) {
	e, _ := newTestServer(&stubExtractor{rec: chestRecord()})

	req, rec := multipartUpload(t, "scan001.dcm", "dicom-bytes")
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var res Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Patient == nil || res.Patient.Name != "Jane Doe" {
		t.Errorf("expected patient Jane Doe in response, got %+v", res.Patient)
	}
	if res.File == nil || res.File.FileName != "scan001.dcm" {
		t.Errorf("expected file scan001.dcm in response, got %+v", res.File)
	}
}

func TestUpload_MissingFileField(t *testing.T) {
	e, _ := newTestServer(&stubExtractor{rec: chestRecord()})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpload_ExtractFailureIsUnprocessable(t *testing.T) {
	e, store := newTestServer(&stubExtractor{err: io.ErrUnexpectedEOF})

	req, rec := multipartUpload(t, "scan001.dcm", "not-a-dicom")
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	// The stored bytes are retained for later inspection.
	if !store.Exists(req.Context(), "scan001.dcm") {
		t.Error("expected uploaded bytes retained after extraction failure")
	}
}

func TestDownload_RoundTrip(t *testing.T) {
	e, _ := newTestServer(&stubExtractor{rec: chestRecord()})

	req, rec := multipartUpload(t, "scan001.dcm", "dicom-bytes")
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload failed: %d", rec.Code)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/uploads/scan001.dcm", nil)
	getRec := httptest.NewRecorder()
	e.ServeHTTP(getRec, getReq)

	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getRec.Code)
	}
	if got := getRec.Body.String(); got != "dicom-bytes" {
		t.Errorf("expected original bytes back, got %q", got)
	}
	if cd := getRec.Header().Get(echo.HeaderContentDisposition); cd == "" {
		t.Error("expected a Content-Disposition header")
	}
}

func TestDownload_NotFound(t *testing.T) {
	e, _ := newTestServer(&stubExtractor{rec: chestRecord()})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/uploads/missing.dcm", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
