package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadforge/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL,
	domain      TEXT NOT NULL UNIQUE,
	industry    TEXT NOT NULL DEFAULT '',
	size        TEXT NOT NULL DEFAULT 'unknown',
	country     TEXT NOT NULL DEFAULT '',
	website_url TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS leads (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	full_name  TEXT NOT NULL,
	email      TEXT NOT NULL UNIQUE,
	phone      TEXT NOT NULL DEFAULT '',
	job_title  TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'new',
	score      INTEGER,
	enrichment TEXT,
	notes      TEXT NOT NULL DEFAULT '',
	company_id INTEGER REFERENCES companies(id),
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	deleted_at DATETIME
);

CREATE TABLE IF NOT EXISTS lead_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	lead_id    INTEGER NOT NULL REFERENCES leads(id),
	event_type TEXT NOT NULL,
	event_data TEXT,
	created_by TEXT NOT NULL DEFAULT 'system',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_leads_status_score ON leads(status, score);
CREATE INDEX IF NOT EXISTS idx_lead_events_lead_id ON lead_events(lead_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteLeadSelect = `SELECT id, full_name, email, phone, job_title, source, status, score, enrichment, notes, company_id, created_at, updated_at FROM leads`

func (s *SQLiteStore) CreateLead(ctx context.Context, lead *model.Lead) (*model.Lead, error) {
	now := time.Now().UTC()
	created := *lead
	created.CreatedAt = now
	created.UpdatedAt = now
	if created.Status == "" {
		created.Status = model.LeadStatusNew
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (full_name, email, phone, job_title, source, status, notes, company_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		created.FullName, created.Email, created.Phone, created.JobTitle,
		string(created.Source), string(created.Status), created.Notes, created.CompanyID, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert lead")
	}
	created.ID, err = res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last insert id")
	}
	return &created, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, id int64) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, sqliteLeadSelect+` WHERE id = ? AND deleted_at IS NULL`, id)
	lead, err := scanSQLiteLead(row)
	if err == errNoLead {
		return nil, nil
	}
	return lead, err
}

func (s *SQLiteStore) GetLeadByEmail(ctx context.Context, email string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, sqliteLeadSelect+` WHERE email = ? AND deleted_at IS NULL`, email)
	lead, err := scanSQLiteLead(row)
	if err == errNoLead {
		return nil, nil
	}
	return lead, err
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, int, error) {
	cond := `deleted_at IS NULL`
	var args []any

	if filter.Status != "" {
		cond += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Source != "" {
		cond += ` AND source = ?`
		args = append(args, string(filter.Source))
	}
	if filter.Search != "" {
		cond += ` AND (full_name LIKE ? OR email LIKE ?)`
		p := "%" + filter.Search + "%"
		args = append(args, p, p)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM leads WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count leads")
	}

	query := sqliteLeadSelect + ` WHERE ` + cond + ` ORDER BY created_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		lead, err := scanSQLiteLead(rows)
		if err != nil {
			return nil, 0, err
		}
		leads = append(leads, *lead)
	}
	return leads, total, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) UpdateLeadStatus(ctx context.Context, id int64, status model.LeadStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead status %d", id)
	}
	return checkRowsAffected(res, "lead", id)
}

func (s *SQLiteStore) UpdateLeadNotes(ctx context.Context, id int64, notes string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET notes = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		notes, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead notes %d", id)
	}
	return checkRowsAffected(res, "lead", id)
}

func (s *SQLiteStore) SetLeadEnrichment(ctx context.Context, id int64, enrichment json.RawMessage, status model.LeadStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET enrichment = ?, status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		string(enrichment), string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set lead enrichment %d", id)
	}
	return checkRowsAffected(res, "lead", id)
}

func (s *SQLiteStore) SoftDeleteLead(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: soft delete lead %d", id)
	}
	return checkRowsAffected(res, "lead", id)
}

// BulkUpsertLeads imports leads one statement per row inside a transaction.
// SQLite has no COPY protocol, so ON CONFLICT per row is the pragmatic path.
func (s *SQLiteStore) BulkUpsertLeads(ctx context.Context, leads []model.Lead) (int64, error) {
	if len(leads) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: bulk upsert begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO leads (full_name, email, phone, job_title, source, status, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET full_name = excluded.full_name, phone = excluded.phone,
		   job_title = excluded.job_title, updated_at = excluded.updated_at`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: bulk upsert prepare")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var n int64
	for _, l := range leads {
		status := l.Status
		if status == "" {
			status = model.LeadStatusNew
		}
		if _, err := stmt.ExecContext(ctx,
			l.FullName, l.Email, l.Phone, l.JobTitle,
			string(l.Source), string(status), l.Notes, now, now,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: bulk upsert lead %s", l.Email)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: bulk upsert commit")
	}
	return n, nil
}

func (s *SQLiteStore) GetCompanyByDomain(ctx context.Context, domain string) (*model.Company, error) {
	var c model.Company
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, domain, industry, size, country, website_url, created_at, updated_at FROM companies WHERE domain = ?`,
		domain,
	).Scan(&c.ID, &c.Name, &c.Domain, &c.Industry, (*string)(&c.Size), &c.Country, &c.WebsiteURL, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get company %s", domain)
	}
	return &c, nil
}

func (s *SQLiteStore) CreateCompany(ctx context.Context, company *model.Company) (*model.Company, error) {
	now := time.Now().UTC()
	created := *company
	created.CreatedAt = now
	created.UpdatedAt = now
	if created.Size == "" {
		created.Size = model.CompanySizeUnknown
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (name, domain, industry, size, country, website_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		created.Name, created.Domain, created.Industry, string(created.Size),
		created.Country, created.WebsiteURL, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert company")
	}
	created.ID, err = res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last insert id")
	}
	return &created, nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, event *model.LeadEvent) error {
	createdBy := event.CreatedBy
	if createdBy == "" {
		createdBy = "system"
	}
	var data any
	if len(event.Data) > 0 {
		data = string(event.Data)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lead_events (lead_id, event_type, event_data, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		event.LeadID, string(event.Type), data, createdBy, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert event for lead %d", event.LeadID)
}

func (s *SQLiteStore) ListEvents(ctx context.Context, leadID int64) ([]model.LeadEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, event_type, event_data, created_by, created_at FROM lead_events WHERE lead_id = ? ORDER BY created_at DESC, id DESC`,
		leadID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list events for lead %d", leadID)
	}
	defer rows.Close()

	var events []model.LeadEvent
	for rows.Next() {
		var e model.LeadEvent
		var data sql.NullString
		if err := rows.Scan(&e.ID, &e.LeadID, (*string)(&e.Type), &data, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		if data.Valid {
			e.Data = json.RawMessage(data.String)
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

// helpers

var errNoLead = eris.New("lead not found")

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %d", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteLead(row scannable) (*model.Lead, error) {
	var lead model.Lead
	var score, companyID sql.NullInt64
	var enrichment sql.NullString

	err := row.Scan(
		&lead.ID, &lead.FullName, &lead.Email, &lead.Phone, &lead.JobTitle,
		(*string)(&lead.Source), (*string)(&lead.Status), &score,
		&enrichment, &lead.Notes, &companyID, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errNoLead
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan lead")
	}
	if score.Valid {
		v := int(score.Int64)
		lead.Score = &v
	}
	if companyID.Valid {
		v := companyID.Int64
		lead.CompanyID = &v
	}
	if enrichment.Valid && strings.TrimSpace(enrichment.String) != "" {
		lead.Enrichment = json.RawMessage(enrichment.String)
	}
	return &lead, nil
}
