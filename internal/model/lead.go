// Package model defines the domain records shared across the lead pipeline.
package model

import (
	"encoding/json"
	"time"
)

// LeadStatus represents a lead's position in the pipeline lifecycle.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusEnriched  LeadStatus = "enriched"
	LeadStatusScored    LeadStatus = "scored"
	LeadStatusAssigned  LeadStatus = "assigned"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusConverted LeadStatus = "converted"
	LeadStatusLost      LeadStatus = "lost"
)

// LeadSource describes where a lead came from.
type LeadSource string

const (
	LeadSourceForm    LeadSource = "form"
	LeadSourceCSV     LeadSource = "csv"
	LeadSourceWebhook LeadSource = "webhook"
	LeadSourceManual  LeadSource = "manual"
	LeadSourceAPI     LeadSource = "api"
)

// CompanySize buckets a company by headcount.
type CompanySize string

const (
	CompanySizeStartup    CompanySize = "startup"
	CompanySizeSMB        CompanySize = "smb"
	CompanySizeMidMarket  CompanySize = "mid_market"
	CompanySizeEnterprise CompanySize = "enterprise"
	CompanySizeUnknown    CompanySize = "unknown"
)

// EventType identifies what happened to a lead.
type EventType string

const (
	EventTypeCreated       EventType = "created"
	EventTypeEnriched      EventType = "enriched"
	EventTypeScored        EventType = "scored"
	EventTypeAssigned      EventType = "assigned"
	EventTypeContacted     EventType = "contacted"
	EventTypeStatusChanged EventType = "status_changed"
	EventTypeNoteAdded     EventType = "note_added"
)

// Company is an organization record, deduplicated by email domain.
// Leads with generic-domain emails have no company.
type Company struct {
	ID         int64       `json:"id"`
	Name       string      `json:"name"`
	Domain     string      `json:"domain"`
	Industry   string      `json:"industry,omitempty"`
	Size       CompanySize `json:"size"`
	Country    string      `json:"country,omitempty"`
	WebsiteURL string      `json:"website_url,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Lead is a prospective contact record, deduplicated by email.
type Lead struct {
	ID         int64           `json:"id"`
	FullName   string          `json:"full_name"`
	Email      string          `json:"email"`
	Phone      string          `json:"phone,omitempty"`
	JobTitle   string          `json:"job_title,omitempty"`
	Source     LeadSource      `json:"source"`
	Status     LeadStatus      `json:"status"`
	Score      *int            `json:"score,omitempty"`
	Enrichment json.RawMessage `json:"enrichment,omitempty"`
	Notes      string          `json:"notes,omitempty"`
	CompanyID  *int64          `json:"company_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	DeletedAt  *time.Time      `json:"deleted_at,omitempty"`
}

// LeadEvent is one entry in a lead's append-only timeline.
type LeadEvent struct {
	ID        int64           `json:"id"`
	LeadID    int64           `json:"lead_id"`
	Type      EventType       `json:"event_type"`
	Data      json.RawMessage `json:"event_data,omitempty"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

// Valid reports whether s is one of the known lifecycle statuses.
func (s LeadStatus) Valid() bool {
	switch s {
	case LeadStatusNew, LeadStatusEnriched, LeadStatusScored, LeadStatusAssigned,
		LeadStatusContacted, LeadStatusConverted, LeadStatusLost:
		return true
	}
	return false
}
