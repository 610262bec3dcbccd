package patient

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medflow/medflow/internal/platform/auth"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	return NewHandler(svc), echo.New()
}

func request(e *echo.Echo, method, body string, userID uuid.UUID, id string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithUser(req.Context(), userID))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if id != "" {
		c.SetParamNames("id")
		c.SetParamValues(id)
	}
	return c, rec
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d", code, he.Code)
	}
}

func createBody() string {
	b, _ := json.Marshal(map[string]interface{}{"patient_name": "Mary Achieng", "history_text": sampleHistory})
	return string(b)
}

func TestCreatePatient(t *testing.T) {
	h, e := newTestHandler()
	c, rec := request(e, http.MethodPost, createBody(), uuid.New(), "")
	if err := h.CreatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var p PatientHistory
	json.Unmarshal(rec.Body.Bytes(), &p)
	if p.ID == uuid.Nil || p.Status != StatusDraft {
		t.Errorf("unexpected body %+v", p)
	}
}

func TestCreatePatient_Invalid(t *testing.T) {
	h, e := newTestHandler()
	c, _ := request(e, http.MethodPost, `{"patient_name":"x","history_text":"short"}`, uuid.New(), "")
	expectStatus(t, h.CreatePatient(c), http.StatusBadRequest)
}

func TestListPatients_Envelope(t *testing.T) {
	h, e := newTestHandler()
	user := uuid.New()
	for i := 0; i < 3; i++ {
		c, _ := request(e, http.MethodPost, createBody(), user, "")
		h.CreatePatient(c)
	}
	req := httptest.NewRequest(http.MethodGet, "/?limit=2", nil)
	req = req.WithContext(auth.WithUser(req.Context(), user))
	rec := httptest.NewRecorder()
	if err := h.ListPatients(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Data    []PatientHistory `json:"data"`
		Total   int              `json:"total"`
		HasMore bool             `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 3 || len(page.Data) != 2 || !page.HasMore {
		t.Errorf("unexpected page %+v", page)
	}
}

func TestListPatients_EmptyIsArray(t *testing.T) {
	h, e := newTestHandler()
	c, rec := request(e, http.MethodGet, "", uuid.New(), "")
	if err := h.ListPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}

func TestGetPatient_NotFoundAndBadID(t *testing.T) {
	h, e := newTestHandler()
	c, _ := request(e, http.MethodGet, "", uuid.New(), "not-a-uuid")
	expectStatus(t, h.GetPatient(c), http.StatusBadRequest)

	c, _ = request(e, http.MethodGet, "", uuid.New(), uuid.NewString())
	expectStatus(t, h.GetPatient(c), http.StatusNotFound)
}

func TestDeleteAndDischarge(t *testing.T) {
	h, e := newTestHandler()
	user := uuid.New()
	c, rec := request(e, http.MethodPost, createBody(), user, "")
	h.CreatePatient(c)
	var p PatientHistory
	json.Unmarshal(rec.Body.Bytes(), &p)

	c, rec = request(e, http.MethodPatch, "", user, p.ID.String())
	if err := h.DischargePatient(c); err != nil {
		t.Fatalf("discharge: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "discharge_date") {
		t.Errorf("expected discharge date in body, got %s", rec.Body.String())
	}

	c, rec = request(e, http.MethodDelete, "", user, p.ID.String())
	if err := h.DeletePatient(c); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	c, _ = request(e, http.MethodGet, "", user, p.ID.String())
	expectStatus(t, h.GetPatient(c), http.StatusNotFound)
}

func TestUnauthenticated(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	expectStatus(t, h.ListPatients(c), http.StatusUnauthorized)
}
