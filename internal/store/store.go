// Package store provides persistence for leads, companies, and lead events.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sells-group/leadforge/internal/model"
)

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	Status model.LeadStatus `json:"status,omitempty"`
	Source model.LeadSource `json:"source,omitempty"`
	Search string           `json:"search,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Offset int              `json:"offset,omitempty"`
}

// Store defines the persistence interface for the lead pipeline.
// Get* methods return (nil, nil) when the record does not exist.
type Store interface {
	// Leads
	CreateLead(ctx context.Context, lead *model.Lead) (*model.Lead, error)
	GetLead(ctx context.Context, id int64) (*model.Lead, error)
	GetLeadByEmail(ctx context.Context, email string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, int, error)
	UpdateLeadStatus(ctx context.Context, id int64, status model.LeadStatus) error
	UpdateLeadNotes(ctx context.Context, id int64, notes string) error
	SetLeadEnrichment(ctx context.Context, id int64, enrichment json.RawMessage, status model.LeadStatus) error
	SoftDeleteLead(ctx context.Context, id int64) error
	BulkUpsertLeads(ctx context.Context, leads []model.Lead) (int64, error)

	// Companies
	GetCompanyByDomain(ctx context.Context, domain string) (*model.Company, error)
	CreateCompany(ctx context.Context, company *model.Company) (*model.Company, error)

	// Events
	AppendEvent(ctx context.Context, event *model.LeadEvent) error
	ListEvents(ctx context.Context, leadID int64) ([]model.LeadEvent, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// IsUniqueViolation reports whether err is a unique-constraint violation from
// either backend.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	// modernc.org/sqlite surfaces constraint errors by message.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
