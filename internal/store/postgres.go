package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadforge/internal/db"
	"github.com/sells-group/leadforge/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_lead":           leadSelect + ` WHERE id = $1 AND deleted_at IS NULL`,
	"get_lead_by_email":  leadSelect + ` WHERE email = $1 AND deleted_at IS NULL`,
	"update_lead_status": `UPDATE leads SET status = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`,
	"set_enrichment":     `UPDATE leads SET enrichment = $1, status = $2, updated_at = $3 WHERE id = $4 AND deleted_at IS NULL`,
	"insert_event":       `INSERT INTO lead_events (lead_id, event_type, event_data, created_by, created_at) VALUES ($1, $2, $3, $4, $5)`,
	"get_company":        `SELECT id, name, domain, industry, size, country, website_url, created_at, updated_at FROM companies WHERE domain = $1`,
}

const leadSelect = `SELECT id, full_name, email, phone, job_title, source, status, score, enrichment, notes, company_id, created_at, updated_at FROM leads`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL,
	domain      TEXT NOT NULL UNIQUE,
	industry    TEXT NOT NULL DEFAULT '',
	size        TEXT NOT NULL DEFAULT 'unknown',
	country     TEXT NOT NULL DEFAULT '',
	website_url TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS leads (
	id         BIGSERIAL PRIMARY KEY,
	full_name  TEXT NOT NULL,
	email      TEXT NOT NULL UNIQUE,
	phone      TEXT NOT NULL DEFAULT '',
	job_title  TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'new',
	score      INTEGER,
	enrichment JSONB,
	notes      TEXT NOT NULL DEFAULT '',
	company_id BIGINT REFERENCES companies(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS lead_events (
	id         BIGSERIAL PRIMARY KEY,
	lead_id    BIGINT NOT NULL REFERENCES leads(id),
	event_type TEXT NOT NULL,
	event_data JSONB,
	created_by TEXT NOT NULL DEFAULT 'system',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_leads_status_score ON leads(status, score);
CREATE INDEX IF NOT EXISTS idx_lead_events_lead_id ON lead_events(lead_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateLead(ctx context.Context, lead *model.Lead) (*model.Lead, error) {
	now := time.Now().UTC()
	created := *lead
	created.CreatedAt = now
	created.UpdatedAt = now
	if created.Status == "" {
		created.Status = model.LeadStatusNew
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO leads (full_name, email, phone, job_title, source, status, notes, company_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		created.FullName, created.Email, created.Phone, created.JobTitle,
		string(created.Source), string(created.Status), created.Notes, created.CompanyID, now, now,
	).Scan(&created.ID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert lead")
	}
	return &created, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id int64) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx, leadSelect+` WHERE id = $1 AND deleted_at IS NULL`, id)
	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %d", id)
	}
	return lead, nil
}

func (s *PostgresStore) GetLeadByEmail(ctx context.Context, email string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx, leadSelect+` WHERE email = $1 AND deleted_at IS NULL`, email)
	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead by email %s", email)
	}
	return lead, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, int, error) {
	where := []string{"deleted_at IS NULL"}
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		where = append(where, "status = "+arg(string(filter.Status)))
	}
	if filter.Source != "" {
		where = append(where, "source = "+arg(string(filter.Source)))
	}
	if filter.Search != "" {
		p := arg("%" + filter.Search + "%")
		where = append(where, "(full_name ILIKE "+p+" OR email ILIKE "+p+")")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM leads WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count leads")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query := leadSelect + ` WHERE ` + cond + ` ORDER BY created_at DESC LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *lead)
	}
	return leads, total, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) UpdateLeadStatus(ctx context.Context, id int64, status model.LeadStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET status = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead status %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: lead %d not found", id)
	}
	return nil
}

func (s *PostgresStore) UpdateLeadNotes(ctx context.Context, id int64, notes string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET notes = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`,
		notes, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead notes %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: lead %d not found", id)
	}
	return nil
}

func (s *PostgresStore) SetLeadEnrichment(ctx context.Context, id int64, enrichment json.RawMessage, status model.LeadStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET enrichment = $1, status = $2, updated_at = $3 WHERE id = $4 AND deleted_at IS NULL`,
		[]byte(enrichment), string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set lead enrichment %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: lead %d not found", id)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteLead(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: soft delete lead %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: lead %d not found", id)
	}
	return nil
}

func (s *PostgresStore) GetCompanyByDomain(ctx context.Context, domain string) (*model.Company, error) {
	var c model.Company
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, domain, industry, size, country, website_url, created_at, updated_at FROM companies WHERE domain = $1`,
		domain,
	).Scan(&c.ID, &c.Name, &c.Domain, &c.Industry, (*string)(&c.Size), &c.Country, &c.WebsiteURL, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get company %s", domain)
	}
	return &c, nil
}

func (s *PostgresStore) CreateCompany(ctx context.Context, company *model.Company) (*model.Company, error) {
	now := time.Now().UTC()
	created := *company
	created.CreatedAt = now
	created.UpdatedAt = now
	if created.Size == "" {
		created.Size = model.CompanySizeUnknown
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO companies (name, domain, industry, size, country, website_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		created.Name, created.Domain, created.Industry, string(created.Size),
		created.Country, created.WebsiteURL, now, now,
	).Scan(&created.ID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert company")
	}
	return &created, nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, event *model.LeadEvent) error {
	createdBy := event.CreatedBy
	if createdBy == "" {
		createdBy = "system"
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO lead_events (lead_id, event_type, event_data, created_by, created_at) VALUES ($1, $2, $3, $4, $5)`,
		event.LeadID, string(event.Type), []byte(event.Data), createdBy, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: insert event for lead %d", event.LeadID)
}

func (s *PostgresStore) ListEvents(ctx context.Context, leadID int64) ([]model.LeadEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, lead_id, event_type, event_data, created_by, created_at FROM lead_events WHERE lead_id = $1 ORDER BY created_at DESC, id DESC`,
		leadID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list events for lead %d", leadID)
	}
	defer rows.Close()

	var events []model.LeadEvent
	for rows.Next() {
		var e model.LeadEvent
		var data []byte
		if err := rows.Scan(&e.ID, &e.LeadID, (*string)(&e.Type), &data, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		e.Data = data
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list events iterate")
}

// scanLead reads a lead row in leadSelect column order.
func scanLead(row pgx.Row) (*model.Lead, error) {
	var lead model.Lead
	var enrichment []byte
	err := row.Scan(
		&lead.ID, &lead.FullName, &lead.Email, &lead.Phone, &lead.JobTitle,
		(*string)(&lead.Source), (*string)(&lead.Status), &lead.Score,
		&enrichment, &lead.Notes, &lead.CompanyID, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	lead.Enrichment = enrichment
	return &lead, nil
}

// BulkUpsertLeads imports leads in bulk, updating name and phone for rows
// whose email already exists. Used by CSV import.
func (s *PostgresStore) BulkUpsertLeads(ctx context.Context, leads []model.Lead) (int64, error) {
	if len(leads) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(leads))
	for _, l := range leads {
		status := l.Status
		if status == "" {
			status = model.LeadStatusNew
		}
		rows = append(rows, []any{
			l.FullName, l.Email, l.Phone, l.JobTitle,
			string(l.Source), string(status), l.Notes, now, now,
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "leads",
		Columns:      []string{"full_name", "email", "phone", "job_title", "source", "status", "notes", "created_at", "updated_at"},
		ConflictKeys: []string{"email"},
		UpdateCols:   []string{"full_name", "phone", "job_title", "updated_at"},
	}, rows)
	return n, eris.Wrap(err, "postgres: bulk upsert leads")
}
