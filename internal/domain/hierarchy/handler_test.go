package hierarchy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestServer(m *Mem) *echo.Echo {
	e := echo.New()
	NewHandler(NewService(m)).RegisterRoutes(e.Group("/api/v1"))
	return e
}

func doRequest(e *echo.Echo, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_ListPatients(t *testing.T) {
	m := NewMem()
	seedChain(t, m)
	e := newTestServer(m)

	rec := doRequest(e, http.MethodGet, "/api/v1/patients")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var patients []*Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &patients); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(patients) != 1 {
		t.Fatalf("expected 1 patient, got %d", len(patients))
	}
	if len(patients[0].Studies) != 1 || len(patients[0].Studies[0].Series) != 1 {
		t.Error("expected the full subtree in the listing")
	}
}

func TestHandler_ListPatientsEmpty(t *testing.T) {
	e := newTestServer(NewMem())

	rec := doRequest(e, http.MethodGet, "/api/v1/patients")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	// An empty store serializes as [], not null.
	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("expected empty array, got %q", got)
	}
}

func TestHandler_GetFileResolvesChain(t *testing.T) {
	m := NewMem()
	_, _, _, f, _ := seedChain(t, m)
	e := newTestServer(m)

	rec := doRequest(e, http.MethodGet, "/api/v1/files/"+f.ID.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var chain FileChain
	if err := json.Unmarshal(rec.Body.Bytes(), &chain); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if chain.Patient == nil || chain.Patient.Name != "Jane Doe" {
		t.Errorf("expected patient in chain, got %+v", chain.Patient)
	}
	if chain.Modality == nil || chain.Modality.Name != "CT" {
		t.Errorf("expected modality in chain, got %+v", chain.Modality)
	}
}

func TestHandler_GetPatientErrors(t *testing.T) {
	e := newTestServer(NewMem())

	if rec := doRequest(e, http.MethodGet, "/api/v1/patients/not-a-uuid"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", rec.Code)
	}
	if rec := doRequest(e, http.MethodGet, "/api/v1/patients/"+uuid.NewString()); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", rec.Code)
	}
}

func TestHandler_DeletePatient(t *testing.T) {
	m := NewMem()
	p, st, _, _, _ := seedChain(t, m)
	e := newTestServer(m)

	rec := doRequest(e, http.MethodDelete, "/api/v1/patients/"+p.ID.String())
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	if rec := doRequest(e, http.MethodGet, "/api/v1/studies/"+st.ID.String()); rec.Code != http.StatusNotFound {
		t.Errorf("expected the study gone with its patient, got %d", rec.Code)
	}
	if rec := doRequest(e, http.MethodDelete, "/api/v1/patients/"+p.ID.String()); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on repeat delete, got %d", rec.Code)
	}
}

func TestHandler_ListModalities(t *testing.T) {
	m := NewMem()
	seedChain(t, m)
	e := newTestServer(m)

	rec := doRequest(e, http.MethodGet, "/api/v1/modalities")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var modalities []*Modality
	if err := json.Unmarshal(rec.Body.Bytes(), &modalities); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(modalities) != 1 || modalities[0].Name != "CT" {
		t.Errorf("expected [CT], got %+v", modalities)
	}
}
