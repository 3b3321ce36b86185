//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadforge/internal/lead"
	"github.com/sells-group/leadforge/internal/model"
	"github.com/sells-group/leadforge/internal/queue"
	"github.com/sells-group/leadforge/internal/store"
)

type captureEnqueuer struct {
	tasks []queue.Task
}

func (c *captureEnqueuer) Enqueue(ctx context.Context, task queue.Task) (string, error) {
	c.tasks = append(c.tasks, task)
	return "1-1", nil
}

func newTestRouter(t *testing.T) (http.Handler, *lead.Service, *captureEnqueuer) {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	svc := lead.NewService(st)
	enq := &captureEnqueuer{}
	return buildRouter(svc, enq), svc, enq
}

func doJSON(t *testing.T, mux http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	mux := buildRouter(nil, nil)

	rr := doJSON(t, mux, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestCreateLead_EnqueuesEnrichment(t *testing.T) {
	mux, _, enq := newTestRouter(t)

	rr := doJSON(t, mux, http.MethodPost, "/api/v1/leads", map[string]string{
		"full_name": "Maria Lopez",
		"email":     "maria@acme.com",
		"source":    "form",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var created model.Lead
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.NotZero(t, created.ID)
	assert.Equal(t, "maria@acme.com", created.Email)
	assert.Equal(t, model.LeadStatusNew, created.Status)

	require.Len(t, enq.tasks, 1)
	assert.Equal(t, queue.KindEnrich, enq.tasks[0].Kind)
	assert.Equal(t, created.ID, enq.tasks[0].LeadID)
}

func TestCreateLead_DuplicateIsConflict(t *testing.T) {
	mux, _, _ := newTestRouter(t)

	first := doJSON(t, mux, http.MethodPost, "/api/v1/leads", map[string]string{"email": "a@acme.com"})
	require.Equal(t, http.StatusCreated, first.Code)

	second := doJSON(t, mux, http.MethodPost, "/api/v1/leads", map[string]string{"email": "a@acme.com"})
	assert.Equal(t, http.StatusConflict, second.Code)
}

func TestCreateLead_Validation(t *testing.T) {
	mux, _, enq := newTestRouter(t)

	missing := doJSON(t, mux, http.MethodPost, "/api/v1/leads", map[string]string{"full_name": "A"})
	assert.Equal(t, http.StatusBadRequest, missing.Code)

	malformed := doJSON(t, mux, http.MethodPost, "/api/v1/leads", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, malformed.Code)

	assert.Empty(t, enq.tasks)
}

func TestGetLead(t *testing.T) {
	mux, svc, _ := newTestRouter(t)

	created, err := svc.Create(context.Background(), lead.CreateInput{Email: "a@acme.com", FullName: "A"})
	require.NoError(t, err)

	rr := doJSON(t, mux, http.MethodGet, "/api/v1/leads/1", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var got model.Lead
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, created.ID, got.ID)

	missing := doJSON(t, mux, http.MethodGet, "/api/v1/leads/999", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)

	bad := doJSON(t, mux, http.MethodGet, "/api/v1/leads/abc", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestListLeads_WithFilters(t *testing.T) {
	mux, svc, _ := newTestRouter(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, lead.CreateInput{Email: "maria@acme.com", FullName: "Maria Lopez", Source: model.LeadSourceForm})
	require.NoError(t, err)
	_, err = svc.Create(ctx, lead.CreateInput{Email: "juan@globex.com", FullName: "Juan Garcia", Source: model.LeadSourceCSV})
	require.NoError(t, err)

	rr := doJSON(t, mux, http.MethodGet, "/api/v1/leads?source=csv", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Leads []model.Lead `json:"leads"`
		Total int          `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Leads, 1)
	assert.Equal(t, "juan@globex.com", resp.Leads[0].Email)

	empty := doJSON(t, mux, http.MethodGet, "/api/v1/leads?status=lost", nil)
	require.Equal(t, http.StatusOK, empty.Code)
	assert.JSONEq(t, `{"leads":[],"total":0}`, empty.Body.String())
}

func TestUpdateStatus(t *testing.T) {
	mux, svc, _ := newTestRouter(t)

	created, err := svc.Create(context.Background(), lead.CreateInput{Email: "a@acme.com"})
	require.NoError(t, err)

	rr := doJSON(t, mux, http.MethodPatch, "/api/v1/leads/1/status", map[string]string{"status": "contacted"})
	require.Equal(t, http.StatusOK, rr.Code)

	got, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusContacted, got.Status)

	invalid := doJSON(t, mux, http.MethodPatch, "/api/v1/leads/1/status", map[string]string{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, invalid.Code)
}

func TestAddNoteAndEvents(t *testing.T) {
	mux, svc, _ := newTestRouter(t)

	_, err := svc.Create(context.Background(), lead.CreateInput{Email: "a@acme.com"})
	require.NoError(t, err)

	rr := doJSON(t, mux, http.MethodPost, "/api/v1/leads/1/notes", map[string]string{"note": "called"})
	assert.Equal(t, http.StatusNoContent, rr.Code)

	events := doJSON(t, mux, http.MethodGet, "/api/v1/leads/1/events", nil)
	require.Equal(t, http.StatusOK, events.Code)

	var resp struct {
		Events []model.LeadEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(events.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, model.EventTypeNoteAdded, resp.Events[0].Type)
}

func TestDeleteLead(t *testing.T) {
	mux, svc, _ := newTestRouter(t)

	_, err := svc.Create(context.Background(), lead.CreateInput{Email: "a@acme.com"})
	require.NoError(t, err)

	rr := doJSON(t, mux, http.MethodDelete, "/api/v1/leads/1", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	gone := doJSON(t, mux, http.MethodGet, "/api/v1/leads/1", nil)
	assert.Equal(t, http.StatusNotFound, gone.Code)
}

func TestResolvePort(t *testing.T) {
	assert.Equal(t, 9090, resolvePort(9090, 8080))
	assert.Equal(t, 8080, resolvePort(0, 8080))
}
