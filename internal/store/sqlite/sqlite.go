// Package sqlite implements the metadata stores on an embedded SQLite
// database. It is the durable counterpart of the in-memory stores; chunk
// vectors live in the vectorstore, not here.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/corpusd/internal/domain"
	"github.com/fyrsmithlabs/corpusd/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS content_items (
	id              TEXT PRIMARY KEY,
	content_type    TEXT NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	owner_coach_id  TEXT NOT NULL DEFAULT '',
	owner_client_id TEXT NOT NULL DEFAULT '',
	organization_id TEXT NOT NULL DEFAULT '',
	visibility      TEXT NOT NULL,
	raw_content     TEXT NOT NULL,
	session_date    TEXT,
	metadata        TEXT NOT NULL DEFAULT '{}',
	status          TEXT NOT NULL,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_items_owner_coach  ON content_items(owner_coach_id);
CREATE INDEX IF NOT EXISTS idx_items_owner_client ON content_items(owner_client_id);
CREATE INDEX IF NOT EXISTS idx_items_org          ON content_items(organization_id);

CREATE TABLE IF NOT EXISTS credentials (
	id           TEXT PRIMARY KEY,
	token_prefix TEXT NOT NULL,
	token_hash   BLOB NOT NULL,
	coach_id     TEXT NOT NULL DEFAULT '',
	client_id    TEXT NOT NULL DEFAULT '',
	admin_id     TEXT NOT NULL DEFAULT '',
	scopes       TEXT NOT NULL,
	revoked      INTEGER NOT NULL DEFAULT 0,
	expires_at   TEXT,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credentials_prefix ON credentials(token_prefix);

CREATE TABLE IF NOT EXISTS coaches (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	name            TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_coaches_org ON coaches(organization_id);

CREATE TABLE IF NOT EXISTS clients (
	id         TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_clients_company ON clients(company_id);

CREATE TABLE IF NOT EXISTS admins (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	name            TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS assignments (
	coach_id   TEXT NOT NULL,
	client_id  TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (coach_id, client_id)
);
`

// DB wraps the SQLite handle shared by the three store implementations.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. Path ":memory:" gives a throwaway database.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// modernc/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the underlying handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// ContentStore returns the content item store backed by this database.
func (d *DB) ContentStore() *ContentStore { return &ContentStore{db: d.db} }

// CredentialStore returns the credential store backed by this database.
func (d *DB) CredentialStore() *CredentialStore { return &CredentialStore{db: d.db} }

// DirectoryStore returns the directory store backed by this database.
func (d *DB) DirectoryStore() *DirectoryStore { return &DirectoryStore{db: d.db} }

// timestamps are stored as RFC3339Nano UTC text.
func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := decodeTime(s.String)
	return &t
}

// ContentStore is a store.ContentStore on SQLite.
type ContentStore struct {
	db *sql.DB
}

var _ store.ContentStore = (*ContentStore)(nil)

func (s *ContentStore) PutItem(ctx context.Context, item *domain.ContentItem) error {
	meta, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO content_items
		(id, content_type, title, owner_coach_id, owner_client_id, organization_id,
		 visibility, raw_content, session_date, metadata, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, string(item.ContentType), item.Title,
		item.OwnerCoachID, item.OwnerClientID, item.OrganizationID,
		string(item.Visibility), item.RawContent, encodeTimePtr(item.SessionDate),
		string(meta), string(item.Status), encodeTime(item.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting item: %w", err)
	}
	return nil
}

const itemColumns = `id, content_type, title, owner_coach_id, owner_client_id,
	organization_id, visibility, raw_content, session_date, metadata, status, created_at`

func scanItem(row interface{ Scan(...any) error }) (*domain.ContentItem, error) {
	var (
		item        domain.ContentItem
		sessionDate sql.NullString
		meta        string
		createdAt   string
	)
	err := row.Scan(&item.ID, &item.ContentType, &item.Title,
		&item.OwnerCoachID, &item.OwnerClientID, &item.OrganizationID,
		&item.Visibility, &item.RawContent, &sessionDate, &meta, &item.Status, &createdAt)
	if err != nil {
		return nil, err
	}
	item.SessionDate = decodeTimePtr(sessionDate)
	item.CreatedAt = decodeTime(createdAt)
	if meta != "" && meta != "{}" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &item.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return &item, nil
}

func (s *ContentStore) GetItem(ctx context.Context, id string) (*domain.ContentItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM content_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying item: %w", err)
	}
	return item, nil
}

func (s *ContentStore) GetItems(ctx context.Context, ids []string) (map[string]*domain.ContentItem, error) {
	out := make(map[string]*domain.ContentItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM content_items WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		out[item.ID] = item
	}
	return out, rows.Err()
}

func (s *ContentStore) UpdateStatus(ctx context.Context, id string, status domain.ItemStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE content_items SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *ContentStore) DeleteItem(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM content_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return nil
}

func (s *ContentStore) ListItems(ctx context.Context, filter store.ItemFilter) ([]*domain.ContentItem, error) {
	var (
		where []string
		args  []any
	)

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(filter.ContentTypes) > 0 {
		ph := strings.Repeat("?,", len(filter.ContentTypes))
		where = append(where, "content_type IN ("+ph[:len(ph)-1]+")")
		for _, t := range filter.ContentTypes {
			args = append(args, string(t))
		}
	}
	if len(filter.Owners) > 0 {
		// Disjunctive owner match, mirroring ContentItem.OwnerRefs: the org
		// column only matches documents with no individual owner.
		var owners []string
		for _, ref := range filter.Owners {
			switch ref.Kind {
			case domain.OwnerCoach:
				owners = append(owners, "owner_coach_id = ?")
				args = append(args, ref.ID)
			case domain.OwnerClient:
				owners = append(owners, "owner_client_id = ?")
				args = append(args, ref.ID)
			case domain.OwnerOrg:
				owners = append(owners, "(owner_coach_id = '' AND owner_client_id = '' AND organization_id = ?)")
				args = append(args, ref.ID)
			}
		}
		where = append(where, "("+strings.Join(owners, " OR ")+")")
	}

	query := `SELECT ` + itemColumns + ` FROM content_items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY session_date IS NULL, session_date DESC, created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var out []*domain.ContentItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// CredentialStore is a store.CredentialStore on SQLite.
type CredentialStore struct {
	db *sql.DB
}

var _ store.CredentialStore = (*CredentialStore)(nil)

func (s *CredentialStore) PutCredential(ctx context.Context, cred *domain.Credential) error {
	scopes, err := json.Marshal(cred.Scopes)
	if err != nil {
		return fmt.Errorf("encoding scopes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO credentials
		(id, token_prefix, token_hash, coach_id, client_id, admin_id,
		 scopes, revoked, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cred.ID, cred.TokenPrefix, cred.TokenHash,
		cred.CoachID, cred.ClientID, cred.AdminID,
		string(scopes), boolToInt(cred.Revoked), encodeTimePtr(cred.ExpiresAt),
		encodeTime(cred.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting credential: %w", err)
	}
	return nil
}

const credColumns = `id, token_prefix, token_hash, coach_id, client_id, admin_id,
	scopes, revoked, expires_at, created_at`

func scanCredential(row interface{ Scan(...any) error }) (*domain.Credential, error) {
	var (
		cred      domain.Credential
		scopes    string
		revoked   int
		expiresAt sql.NullString
		createdAt string
	)
	err := row.Scan(&cred.ID, &cred.TokenPrefix, &cred.TokenHash,
		&cred.CoachID, &cred.ClientID, &cred.AdminID,
		&scopes, &revoked, &expiresAt, &createdAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scopes), &cred.Scopes); err != nil {
		return nil, fmt.Errorf("decoding scopes: %w", err)
	}
	cred.Revoked = revoked != 0
	cred.ExpiresAt = decodeTimePtr(expiresAt)
	cred.CreatedAt = decodeTime(createdAt)
	return &cred, nil
}

func (s *CredentialStore) GetCredential(ctx context.Context, id string) (*domain.Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+credColumns+` FROM credentials WHERE id = ?`, id)
	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	return cred, nil
}

func (s *CredentialStore) GetByPrefix(ctx context.Context, prefix string) ([]*domain.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+credColumns+` FROM credentials WHERE token_prefix = ?`, prefix)
	if err != nil {
		return nil, fmt.Errorf("querying credentials by prefix: %w", err)
	}
	defer rows.Close()

	var out []*domain.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

func (s *CredentialStore) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("revoking credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DirectoryStore is a store.DirectoryStore on SQLite.
type DirectoryStore struct {
	db *sql.DB
}

var _ store.DirectoryStore = (*DirectoryStore)(nil)

func (s *DirectoryStore) PutCoach(ctx context.Context, coach *domain.Coach) error {
	createdAt := coach.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO coaches (id, organization_id, name, created_at) VALUES (?, ?, ?, ?)`,
		coach.ID, coach.OrganizationID, coach.Name, encodeTime(createdAt))
	if err != nil {
		return fmt.Errorf("inserting coach: %w", err)
	}
	return nil
}

func (s *DirectoryStore) GetCoach(ctx context.Context, id string) (*domain.Coach, error) {
	var (
		coach     domain.Coach
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, name, created_at FROM coaches WHERE id = ?`, id).
		Scan(&coach.ID, &coach.OrganizationID, &coach.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying coach: %w", err)
	}
	coach.CreatedAt = decodeTime(createdAt)
	return &coach, nil
}

func (s *DirectoryStore) ListCoachesByOrg(ctx context.Context, orgID string) ([]*domain.Coach, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, organization_id, name, created_at FROM coaches WHERE organization_id = ? ORDER BY id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing coaches: %w", err)
	}
	defer rows.Close()

	var out []*domain.Coach
	for rows.Next() {
		var (
			coach     domain.Coach
			createdAt string
		)
		if err := rows.Scan(&coach.ID, &coach.OrganizationID, &coach.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning coach: %w", err)
		}
		coach.CreatedAt = decodeTime(createdAt)
		out = append(out, &coach)
	}
	return out, rows.Err()
}

func (s *DirectoryStore) PutClient(ctx context.Context, client *domain.Client) error {
	createdAt := client.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO clients (id, company_id, name, created_at) VALUES (?, ?, ?, ?)`,
		client.ID, client.CompanyID, client.Name, encodeTime(createdAt))
	if err != nil {
		return fmt.Errorf("inserting client: %w", err)
	}
	return nil
}

func (s *DirectoryStore) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	var (
		client    domain.Client
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, company_id, name, created_at FROM clients WHERE id = ?`, id).
		Scan(&client.ID, &client.CompanyID, &client.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying client: %w", err)
	}
	client.CreatedAt = decodeTime(createdAt)
	return &client, nil
}

func (s *DirectoryStore) ListClientsByCompany(ctx context.Context, companyID string) ([]*domain.Client, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, company_id, name, created_at FROM clients WHERE company_id = ? ORDER BY id`, companyID)
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	defer rows.Close()

	var out []*domain.Client
	for rows.Next() {
		var (
			client    domain.Client
			createdAt string
		)
		if err := rows.Scan(&client.ID, &client.CompanyID, &client.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning client: %w", err)
		}
		client.CreatedAt = decodeTime(createdAt)
		out = append(out, &client)
	}
	return out, rows.Err()
}

func (s *DirectoryStore) PutAdmin(ctx context.Context, admin *domain.Admin) error {
	createdAt := admin.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO admins (id, organization_id, name, created_at) VALUES (?, ?, ?, ?)`,
		admin.ID, admin.OrganizationID, admin.Name, encodeTime(createdAt))
	if err != nil {
		return fmt.Errorf("inserting admin: %w", err)
	}
	return nil
}

func (s *DirectoryStore) GetAdmin(ctx context.Context, id string) (*domain.Admin, error) {
	var (
		admin     domain.Admin
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, name, created_at FROM admins WHERE id = ?`, id).
		Scan(&admin.ID, &admin.OrganizationID, &admin.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying admin: %w", err)
	}
	admin.CreatedAt = decodeTime(createdAt)
	return &admin, nil
}

func (s *DirectoryStore) AddAssignment(ctx context.Context, coachID, clientID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO assignments (coach_id, client_id, created_at) VALUES (?, ?, ?)`,
		coachID, clientID, encodeTime(time.Now()))
	if err != nil {
		return fmt.Errorf("inserting assignment: %w", err)
	}
	return nil
}

func (s *DirectoryStore) RemoveAssignment(ctx context.Context, coachID, clientID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM assignments WHERE coach_id = ? AND client_id = ?`, coachID, clientID)
	if err != nil {
		return fmt.Errorf("deleting assignment: %w", err)
	}
	return nil
}

func (s *DirectoryStore) ListAssignedClients(ctx context.Context, coachID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT client_id FROM assignments WHERE coach_id = ? ORDER BY client_id`, coachID)
	if err != nil {
		return nil, fmt.Errorf("listing assignments: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning assignment: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
