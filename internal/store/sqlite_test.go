package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadforge/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_CreateLead_And_GetLead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateLead(ctx, &model.Lead{
		FullName: "Maria Lopez",
		Email:    "maria.lopez@acme.com",
		Source:   model.LeadSourceForm,
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, model.LeadStatusNew, created.Status)

	got, err := s.GetLead(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "maria.lopez@acme.com", got.Email)
	assert.Equal(t, "Maria Lopez", got.FullName)
	assert.Nil(t, got.Score)
	assert.Nil(t, got.CompanyID)
	assert.Nil(t, got.Enrichment)
}

func TestSQLite_GetLead_Missing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetLead(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_CreateLead_DuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateLead(ctx, &model.Lead{FullName: "A", Email: "dup@acme.com", Source: model.LeadSourceForm})
	require.NoError(t, err)

	_, err = s.CreateLead(ctx, &model.Lead{FullName: "B", Email: "dup@acme.com", Source: model.LeadSourceAPI})
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
}

func TestSQLite_GetLeadByEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateLead(ctx, &model.Lead{FullName: "A", Email: "a@acme.com", Source: model.LeadSourceForm})
	require.NoError(t, err)

	got, err := s.GetLeadByEmail(ctx, "a@acme.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "A", got.FullName)

	missing, err := s.GetLeadByEmail(ctx, "nobody@acme.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_ListLeads_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed := []model.Lead{
		{FullName: "Maria Lopez", Email: "maria@acme.com", Source: model.LeadSourceForm},
		{FullName: "Juan Garcia", Email: "juan@acme.com", Source: model.LeadSourceCSV},
		{FullName: "Ada King", Email: "ada@globex.com", Source: model.LeadSourceForm},
	}
	for i := range seed {
		_, err := s.CreateLead(ctx, &seed[i])
		require.NoError(t, err)
	}

	all, total, err := s.ListLeads(ctx, LeadFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, all, 3)

	csvOnly, total, err := s.ListLeads(ctx, LeadFilter{Source: model.LeadSourceCSV})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, csvOnly, 1)
	assert.Equal(t, "juan@acme.com", csvOnly[0].Email)

	search, total, err := s.ListLeads(ctx, LeadFilter{Search: "maria"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, search, 1)
	assert.Equal(t, "Maria Lopez", search[0].FullName)

	page, total, err := s.ListLeads(ctx, LeadFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)
}

func TestSQLite_UpdateLeadStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateLead(ctx, &model.Lead{FullName: "A", Email: "a@acme.com", Source: model.LeadSourceForm})
	require.NoError(t, err)

	require.NoError(t, s.UpdateLeadStatus(ctx, created.ID, model.LeadStatusContacted))

	got, err := s.GetLead(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusContacted, got.Status)

	err = s.UpdateLeadStatus(ctx, 999, model.LeadStatusContacted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_SetLeadEnrichment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateLead(ctx, &model.Lead{FullName: "A", Email: "a@acme.com", Source: model.LeadSourceForm})
	require.NoError(t, err)

	payload := json.RawMessage(`{"consolidated":{"domain":"acme.com"}}`)
	require.NoError(t, s.SetLeadEnrichment(ctx, created.ID, payload, model.LeadStatusEnriched))

	got, err := s.GetLead(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusEnriched, got.Status)
	assert.JSONEq(t, string(payload), string(got.Enrichment))
}

func TestSQLite_SoftDeleteLead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateLead(ctx, &model.Lead{FullName: "A", Email: "a@acme.com", Source: model.LeadSourceForm})
	require.NoError(t, err)

	require.NoError(t, s.SoftDeleteLead(ctx, created.ID))

	got, err := s.GetLead(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, total, err := s.ListLeads(ctx, LeadFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	// second delete is a not-found
	require.Error(t, s.SoftDeleteLead(ctx, created.ID))
}

func TestSQLite_UpdateLeadNotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateLead(ctx, &model.Lead{FullName: "A", Email: "a@acme.com", Source: model.LeadSourceForm})
	require.NoError(t, err)

	require.NoError(t, s.UpdateLeadNotes(ctx, created.ID, "called on Tuesday"))

	got, err := s.GetLead(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "called on Tuesday", got.Notes)
}

func TestSQLite_BulkUpsertLeads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateLead(ctx, &model.Lead{FullName: "Old Name", Email: "a@acme.com", Source: model.LeadSourceForm})
	require.NoError(t, err)

	n, err := s.BulkUpsertLeads(ctx, []model.Lead{
		{FullName: "New Name", Email: "a@acme.com", Source: model.LeadSourceCSV},
		{FullName: "Fresh Lead", Email: "b@acme.com", Source: model.LeadSourceCSV},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	updated, err := s.GetLeadByEmail(ctx, "a@acme.com")
	require.NoError(t, err)
	assert.Equal(t, "New Name", updated.FullName)
	// existing rows keep their original source
	assert.Equal(t, model.LeadSourceForm, updated.Source)

	fresh, err := s.GetLeadByEmail(ctx, "b@acme.com")
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Equal(t, "Fresh Lead", fresh.FullName)
}

func TestSQLite_BulkUpsertLeads_Empty(t *testing.T) {
	s := newTestStore(t)

	n, err := s.BulkUpsertLeads(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSQLite_Company_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateCompany(ctx, &model.Company{Name: "Acme", Domain: "acme.com"})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, model.CompanySizeUnknown, created.Size)

	got, err := s.GetCompanyByDomain(ctx, "acme.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Acme", got.Name)

	missing, err := s.GetCompanyByDomain(ctx, "globex.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_Company_DuplicateDomain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateCompany(ctx, &model.Company{Name: "Acme", Domain: "acme.com"})
	require.NoError(t, err)

	_, err = s.CreateCompany(ctx, &model.Company{Name: "Acme Again", Domain: "acme.com"})
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
}

func TestSQLite_Events_AppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateLead(ctx, &model.Lead{FullName: "A", Email: "a@acme.com", Source: model.LeadSourceForm})
	require.NoError(t, err)

	require.NoError(t, s.AppendEvent(ctx, &model.LeadEvent{
		LeadID: created.ID,
		Type:   model.EventTypeCreated,
	}))
	require.NoError(t, s.AppendEvent(ctx, &model.LeadEvent{
		LeadID: created.ID,
		Type:   model.EventTypeEnriched,
		Data:   json.RawMessage(`{"successful":3}`),
	}))

	events, err := s.ListEvents(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	// newest first
	assert.Equal(t, model.EventTypeEnriched, events[0].Type)
	assert.JSONEq(t, `{"successful":3}`, string(events[0].Data))
	assert.Equal(t, model.EventTypeCreated, events[1].Type)
	assert.Nil(t, events[1].Data)
	assert.Equal(t, "system", events[0].CreatedBy)
}

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
}
