// Package lead implements the business operations on leads: intake with
// dedup, company linking, lifecycle updates, and the event trail.
package lead

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/leadforge/internal/enrich"
	"github.com/sells-group/leadforge/internal/model"
	"github.com/sells-group/leadforge/internal/store"
)

// ErrAlreadyExists is returned when a lead with the same email exists.
// Callers treat it as a conflict, not a retryable failure.
var ErrAlreadyExists = eris.New("lead: already exists")

// ErrNotFound is returned when the requested lead does not exist.
var ErrNotFound = eris.New("lead: not found")

var titleCaser = cases.Title(language.Und)

// Service coordinates lead operations against the store.
type Service struct {
	store store.Store
}

func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// CreateInput carries the fields accepted at intake.
type CreateInput struct {
	FullName string           `json:"full_name"`
	Email    string           `json:"email"`
	Phone    string           `json:"phone,omitempty"`
	JobTitle string           `json:"job_title,omitempty"`
	Source   model.LeadSource `json:"source,omitempty"`
	Notes    string           `json:"notes,omitempty"`
}

// Create registers a new lead. Emails are deduplicated: a second lead with
// the same address returns ErrAlreadyExists. Corporate domains get a company
// record attached, created on first sight.
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Lead, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	domain, err := enrich.Domain(email)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetLeadByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyExists
	}

	source := in.Source
	if source == "" {
		source = model.LeadSourceManual
	}

	lead := &model.Lead{
		FullName: strings.TrimSpace(in.FullName),
		Email:    email,
		Phone:    strings.TrimSpace(in.Phone),
		JobTitle: strings.TrimSpace(in.JobTitle),
		Source:   source,
		Status:   model.LeadStatusNew,
		Notes:    in.Notes,
	}

	if !enrich.IsGenericDomain(domain) {
		company, err := s.getOrCreateCompany(ctx, domain)
		if err != nil {
			return nil, err
		}
		lead.CompanyID = &company.ID
	}

	created, err := s.store.CreateLead(ctx, lead)
	if err != nil {
		// concurrent intake of the same address loses the insert race
		if store.IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}

	s.appendEvent(ctx, created.ID, model.EventTypeCreated, map[string]any{
		"email":  created.Email,
		"source": string(created.Source),
	})
	return created, nil
}

// getOrCreateCompany looks up the company by domain, creating a stub record
// named after the first dns label when none exists.
func (s *Service) getOrCreateCompany(ctx context.Context, domain string) (*model.Company, error) {
	company, err := s.store.GetCompanyByDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	if company != nil {
		return company, nil
	}

	company, err = s.store.CreateCompany(ctx, &model.Company{
		Name:       companyNameFromDomain(domain),
		Domain:     domain,
		WebsiteURL: "https://" + domain,
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return s.store.GetCompanyByDomain(ctx, domain)
		}
		return nil, err
	}
	return company, nil
}

func companyNameFromDomain(domain string) string {
	label, _, _ := strings.Cut(domain, ".")
	return titleCaser.String(label)
}

func (s *Service) Get(ctx context.Context, id int64) (*model.Lead, error) {
	lead, err := s.store.GetLead(ctx, id)
	if err != nil {
		return nil, err
	}
	if lead == nil {
		return nil, ErrNotFound
	}
	return lead, nil
}

func (s *Service) List(ctx context.Context, filter store.LeadFilter) ([]model.Lead, int, error) {
	return s.store.ListLeads(ctx, filter)
}

// UpdateStatus moves the lead to a new lifecycle status and records the
// transition.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status model.LeadStatus) error {
	lead, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if lead.Status == status {
		return nil
	}
	if err := s.store.UpdateLeadStatus(ctx, id, status); err != nil {
		return err
	}
	s.appendEvent(ctx, id, model.EventTypeStatusChanged, map[string]any{
		"from": string(lead.Status),
		"to":   string(status),
	})
	return nil
}

// AddNote replaces the lead's notes and records the change.
func (s *Service) AddNote(ctx context.Context, id int64, note string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.store.UpdateLeadNotes(ctx, id, note); err != nil {
		return err
	}
	s.appendEvent(ctx, id, model.EventTypeNoteAdded, map[string]any{"note": note})
	return nil
}

// Delete soft-deletes the lead. Its events remain for audit.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.store.SoftDeleteLead(ctx, id)
}

func (s *Service) Events(ctx context.Context, id int64) ([]model.LeadEvent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, id)
}

// appendEvent records an audit event. Failures are logged, never propagated:
// the primary write already committed.
func (s *Service) appendEvent(ctx context.Context, leadID int64, eventType model.EventType, data map[string]any) {
	payload, err := json.Marshal(data)
	if err != nil {
		zap.L().Warn("marshal lead event", zap.Int64("lead_id", leadID), zap.Error(err))
		return
	}
	if err := s.store.AppendEvent(ctx, &model.LeadEvent{
		LeadID: leadID,
		Type:   eventType,
		Data:   payload,
	}); err != nil {
		zap.L().Warn("append lead event",
			zap.Int64("lead_id", leadID),
			zap.String("type", string(eventType)),
			zap.Error(err))
	}
}
