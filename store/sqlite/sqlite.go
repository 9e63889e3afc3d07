/*
Package sqlite provides a SQLite-backed billing.Store.

PURPOSE:
  Persists scopes, tenants, room types, obligations with their change log,
  and generation runs. The same schema ports to PostgreSQL with minor
  dialect changes.

KEY TABLES:
  scopes:             hostels and blocks, settings as config_json
  tenants:            residents with hostel/block membership
  room_types:         rate cards, UNIQUE(scope_id, name)
  obligations:        rent records (never deleted)
  obligation_changes: append-only change log, ordered by seq
  generation_runs:    history of generation batches

INDEXES:
  - idx_unique_monthly_obligation: at most one monthly obligation per
    (tenant, month, year), whatever its status. A violating insert returns
    billing.ErrDuplicateObligation.
  - idx_tenants_hostel_status / idx_tenants_block_status: active tenant
    lookups during generation (hot path)

APPEND-ONLY CHANGE LOG:
  obligation_changes only ever sees INSERT. UpdateObligation writes the
  obligation row and the new entry in one transaction.

CONCURRENCY:
  sync.RWMutex plus a single open connection, which also keeps ":memory:"
  databases shared across calls.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/hostel-billing/billing"
)

// Store implements billing.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ billing.Store = (*Store)(nil)

// New opens the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate database")
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scopes (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		parent_id TEXT,
		config_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_scopes_kind ON scopes(kind);

	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		hostel_id TEXT NOT NULL,
		block_id TEXT,
		room_number TEXT,
		room_type TEXT NOT NULL,
		join_date TEXT,
		status TEXT NOT NULL,
		status_reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tenants_hostel_status
		ON tenants(hostel_id, status);
	CREATE INDEX IF NOT EXISTS idx_tenants_block_status
		ON tenants(block_id, status) WHERE block_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS room_types (
		id TEXT PRIMARY KEY,
		scope_id TEXT NOT NULL,
		name TEXT NOT NULL,
		rent TEXT NOT NULL,
		components_json TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(scope_id, name)
	);

	CREATE TABLE IF NOT EXISTS obligations (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		due_date TEXT NOT NULL,
		month TEXT NOT NULL,
		year INTEGER NOT NULL,
		room_number TEXT,
		room_type TEXT,
		payment_method TEXT,
		description TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- One monthly obligation per tenant and period, cancelled ones included
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_monthly_obligation
		ON obligations(tenant_id, month, year)
		WHERE type = 'monthly';

	CREATE INDEX IF NOT EXISTS idx_obligations_scope_period
		ON obligations(scope_id, year, month);
	CREATE INDEX IF NOT EXISTS idx_obligations_tenant
		ON obligations(tenant_id);

	CREATE TABLE IF NOT EXISTS obligation_changes (
		obligation_id TEXT NOT NULL REFERENCES obligations(id),
		seq INTEGER NOT NULL,
		type TEXT NOT NULL,
		date TEXT NOT NULL,
		changes_json TEXT,
		message TEXT,
		PRIMARY KEY (obligation_id, seq)
	);

	CREATE TABLE IF NOT EXISTS generation_runs (
		id TEXT PRIMARY KEY,
		scope_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		periods_json TEXT NOT NULL,
		status TEXT NOT NULL,
		generated INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_generation_runs_scope
		ON generation_runs(scope_id, started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all data. Used by scenario loading.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"obligation_changes", "obligations", "generation_runs", "room_types", "tenants", "scopes"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errors.Wrapf(err, "reset %s", table)
		}
	}
	return nil
}

// =============================================================================
// SCOPES
// =============================================================================

func (s *Store) SaveScope(ctx context.Context, scope billing.Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	configJSON, err := json.Marshal(scope.Config)
	if err != nil {
		return errors.Wrap(err, "encode scope config")
	}

	query := `
		INSERT INTO scopes (id, kind, name, parent_id, config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			parent_id = excluded.parent_id,
			config_json = excluded.config_json,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		scope.ID, scope.Kind, scope.Name, nullString(string(scope.ParentID)),
		string(configJSON), formatTime(scope.CreatedAt), formatTime(scope.UpdatedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "save scope %s", scope.ID)
	}
	return nil
}

func (s *Store) GetScope(ctx context.Context, id billing.ScopeID) (*billing.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scopes, err := s.queryScopes(ctx, `WHERE id = ?`, id)
	if err != nil || len(scopes) == 0 {
		return nil, err
	}
	return &scopes[0], nil
}

func (s *Store) ListScopes(ctx context.Context) ([]billing.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryScopes(ctx, `ORDER BY id`)
}

func (s *Store) queryScopes(ctx context.Context, clause string, args ...any) ([]billing.Scope, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, name, parent_id, config_json, created_at, updated_at FROM scopes `+clause, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query scopes")
	}
	defer rows.Close()

	var scopes []billing.Scope
	for rows.Next() {
		var (
			sc         billing.Scope
			parentID   sql.NullString
			configJSON string
			createdAt  string
			updatedAt  string
		)
		if err := rows.Scan(&sc.ID, &sc.Kind, &sc.Name, &parentID, &configJSON, &createdAt, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "scan scope")
		}
		if err := json.Unmarshal([]byte(configJSON), &sc.Config); err != nil {
			return nil, errors.Wrapf(err, "decode config of scope %s", sc.ID)
		}
		sc.ParentID = billing.ScopeID(parentID.String)
		sc.CreatedAt = parseTime(createdAt)
		sc.UpdatedAt = parseTime(updatedAt)
		scopes = append(scopes, sc)
	}
	return scopes, rows.Err()
}

// =============================================================================
// TENANTS
// =============================================================================

func (s *Store) SaveTenant(ctx context.Context, t billing.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT OR REPLACE INTO tenants
		(id, name, hostel_id, block_id, room_number, room_type, join_date, status, status_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var joinDate sql.NullString
	if !t.JoinDate.IsZero() {
		joinDate = nullString(billing.FormatDate(t.JoinDate))
	}
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.Name, t.HostelID, nullString(string(t.BlockID)), t.RoomNumber, t.RoomType,
		joinDate, t.Status, nullString(t.StatusReason),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "save tenant %s", t.ID)
	}
	return nil
}

func (s *Store) GetTenant(ctx context.Context, id billing.TenantID) (*billing.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenants, err := s.queryTenants(ctx, `WHERE id = ?`, id)
	if err != nil || len(tenants) == 0 {
		return nil, err
	}
	return &tenants[0], nil
}

func (s *Store) ActiveTenants(ctx context.Context, scope billing.Scope) ([]billing.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var column string
	switch scope.Kind {
	case billing.ScopeHostel:
		column = "hostel_id"
	case billing.ScopeBlock:
		column = "block_id"
	default:
		return nil, nil
	}
	return s.queryTenants(ctx, `WHERE `+column+` = ? AND status = ? ORDER BY id`, scope.ID, billing.TenantActive)
}

func (s *Store) queryTenants(ctx context.Context, clause string, args ...any) ([]billing.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, hostel_id, block_id, room_number, room_type, join_date, status, status_reason, created_at, updated_at
		FROM tenants `+clause, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query tenants")
	}
	defer rows.Close()

	var tenants []billing.Tenant
	for rows.Next() {
		var (
			t                             billing.Tenant
			blockID, roomNumber, joinDate sql.NullString
			statusReason                  sql.NullString
			createdAt, updatedAt          string
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.HostelID, &blockID, &roomNumber, &t.RoomType,
			&joinDate, &t.Status, &statusReason, &createdAt, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "scan tenant")
		}
		t.BlockID = billing.ScopeID(blockID.String)
		t.RoomNumber = roomNumber.String
		t.StatusReason = statusReason.String
		if joinDate.Valid {
			if t.JoinDate, err = billing.ParseDate(joinDate.String); err != nil {
				return nil, errors.Wrapf(err, "join date of tenant %s", t.ID)
			}
		}
		t.CreatedAt = parseTime(createdAt)
		t.UpdatedAt = parseTime(updatedAt)
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// =============================================================================
// ROOM TYPES
// =============================================================================

func (s *Store) SaveRoomType(ctx context.Context, rt billing.RoomType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	componentsJSON, _ := json.Marshal(rt.Components)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO room_types (id, scope_id, name, rent, components_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rt.ID, rt.ScopeID, rt.Name, rt.Rent.String(), string(componentsJSON), formatTime(rt.CreatedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "save room type %s", rt.ID)
	}
	return nil
}

func (s *Store) FindRoomType(ctx context.Context, scopeID billing.ScopeID, name string) (*billing.RoomType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		rt             billing.RoomType
		rent           string
		componentsJSON sql.NullString
		createdAt      string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, scope_id, name, rent, components_json, created_at
		FROM room_types WHERE scope_id = ? AND name = ?`, scopeID, name,
	).Scan(&rt.ID, &rt.ScopeID, &rt.Name, &rent, &componentsJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find room type %q", name)
	}

	if rt.Rent, err = decimal.NewFromString(rent); err != nil {
		return nil, errors.Wrapf(err, "rent of room type %s", rt.ID)
	}
	if componentsJSON.Valid && componentsJSON.String != "" {
		json.Unmarshal([]byte(componentsJSON.String), &rt.Components)
	}
	rt.CreatedAt = parseTime(createdAt)
	return &rt, nil
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

const obligationColumns = `id, tenant_id, scope_id, type, amount, status, due_date, month, year,
	room_number, room_type, payment_method, description, created_at, updated_at`

func (s *Store) FindMonthlyObligation(ctx context.Context, tenantID billing.TenantID, period billing.PeriodKey) (*billing.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obligations, err := s.queryObligations(ctx,
		`WHERE tenant_id = ? AND month = ? AND year = ? AND type = ?`,
		tenantID, period.MonthName(), period.Year, billing.ObligationMonthly)
	if err != nil || len(obligations) == 0 {
		return nil, err
	}
	return &obligations[0], nil
}

func (s *Store) CreateObligation(ctx context.Context, o billing.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO obligations (`+obligationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.TenantID, o.ScopeID, o.Type, o.Amount.String(), o.Status,
		billing.FormatDate(o.DueDate), o.Month, o.Year,
		o.RoomNumber, o.RoomType, nullString(o.PaymentMethod), nullString(o.Description),
		formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrDuplicateObligation
		}
		return errors.Wrapf(err, "insert obligation %s", o.ID)
	}

	for i, entry := range o.ChangeLog {
		if err := insertChange(ctx, tx, o.ID, i+1, entry); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetObligation(ctx context.Context, id billing.ObligationID) (*billing.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obligations, err := s.queryObligations(ctx, `WHERE id = ?`, id)
	if err != nil || len(obligations) == 0 {
		return nil, err
	}
	return &obligations[0], nil
}

func (s *Store) ListObligations(ctx context.Context, filter billing.ObligationFilter) ([]billing.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}
	if filter.TenantID != "" {
		add("tenant_id = ?", filter.TenantID)
	}
	if filter.ScopeID != "" {
		add("scope_id = ?", filter.ScopeID)
	}
	if filter.Month != "" {
		add("month = ?", filter.Month)
	}
	if filter.Year != 0 {
		add("year = ?", filter.Year)
	}
	if filter.Status != "" {
		add("status = ?", filter.Status)
	}
	if filter.Type != "" {
		add("type = ?", filter.Type)
	}

	clause := ""
	if len(conds) > 0 {
		clause = "WHERE " + strings.Join(conds, " AND ")
	}
	return s.queryObligations(ctx, clause+" ORDER BY rowid", args...)
}

// UpdateObligation writes mutable fields and appends entry in one transaction.
func (s *Store) UpdateObligation(ctx context.Context, o billing.Obligation, entry billing.ChangeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE obligations SET amount = ?, status = ?, payment_method = ?, updated_at = ?
		WHERE id = ?`,
		o.Amount.String(), o.Status, nullString(o.PaymentMethod), formatTime(o.UpdatedAt), o.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "update obligation %s", o.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.NotFoundError("obligation", o.ID)
	}

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM obligation_changes WHERE obligation_id = ?`, o.ID,
	).Scan(&seq); err != nil {
		return errors.Wrap(err, "next change sequence")
	}
	if err := insertChange(ctx, tx, o.ID, seq+1, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func insertChange(ctx context.Context, tx *sql.Tx, id billing.ObligationID, seq int, entry billing.ChangeEntry) error {
	changesJSON, err := json.Marshal(entry.Changes)
	if err != nil {
		return errors.Wrap(err, "encode changes")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO obligation_changes (obligation_id, seq, type, date, changes_json, message)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, seq, entry.Type, formatTime(entry.Date), string(changesJSON), entry.Message,
	)
	if err != nil {
		return errors.Wrapf(err, "append change %d of obligation %s", seq, id)
	}
	return nil
}

// queryObligations reads the rows first and attaches change logs after the
// cursor is closed; the single connection cannot serve both at once.
func (s *Store) queryObligations(ctx context.Context, clause string, args ...any) ([]billing.Obligation, error) {
	obligations, err := s.scanObligations(ctx, clause, args...)
	if err != nil {
		return nil, err
	}
	for i := range obligations {
		if obligations[i].ChangeLog, err = s.loadChanges(ctx, obligations[i].ID); err != nil {
			return nil, err
		}
	}
	return obligations, nil
}

func (s *Store) scanObligations(ctx context.Context, clause string, args ...any) ([]billing.Obligation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+obligationColumns+` FROM obligations `+clause, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query obligations")
	}
	defer rows.Close()

	var obligations []billing.Obligation
	for rows.Next() {
		var (
			o                          billing.Obligation
			amount, dueDate            string
			roomNumber, roomType       sql.NullString
			paymentMethod, description sql.NullString
			createdAt, updatedAt       string
		)
		if err := rows.Scan(&o.ID, &o.TenantID, &o.ScopeID, &o.Type, &amount, &o.Status, &dueDate,
			&o.Month, &o.Year, &roomNumber, &roomType, &paymentMethod, &description,
			&createdAt, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "scan obligation")
		}
		if o.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, errors.Wrapf(err, "amount of obligation %s", o.ID)
		}
		if o.DueDate, err = billing.ParseDate(dueDate); err != nil {
			return nil, errors.Wrapf(err, "due date of obligation %s", o.ID)
		}
		o.RoomNumber = roomNumber.String
		o.RoomType = roomType.String
		o.PaymentMethod = paymentMethod.String
		o.Description = description.String
		o.CreatedAt = parseTime(createdAt)
		o.UpdatedAt = parseTime(updatedAt)
		obligations = append(obligations, o)
	}
	return obligations, rows.Err()
}

func (s *Store) loadChanges(ctx context.Context, id billing.ObligationID) ([]billing.ChangeEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, date, changes_json, message FROM obligation_changes
		WHERE obligation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "query changes of obligation %s", id)
	}
	defer rows.Close()

	var entries []billing.ChangeEntry
	for rows.Next() {
		var (
			e           billing.ChangeEntry
			date        string
			changesJSON sql.NullString
			message     sql.NullString
		)
		if err := rows.Scan(&e.Type, &date, &changesJSON, &message); err != nil {
			return nil, errors.Wrap(err, "scan change entry")
		}
		e.Date = parseTime(date)
		e.Message = message.String
		if changesJSON.Valid && changesJSON.String != "" && changesJSON.String != "null" {
			if err := json.Unmarshal([]byte(changesJSON.String), &e.Changes); err != nil {
				return nil, errors.Wrap(err, "decode change entry")
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// GENERATION RUNS
// =============================================================================

type periodJSON struct {
	Month string `json:"month"`
	Year  int    `json:"year"`
}

func (s *Store) SaveGenerationRun(ctx context.Context, r billing.GenerationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	periods := make([]periodJSON, len(r.Periods))
	for i, p := range r.Periods {
		periods[i] = periodJSON{Month: p.MonthName(), Year: p.Year}
	}
	periodsJSON, _ := json.Marshal(periods)

	var completedAt sql.NullString
	if r.CompletedAt != nil {
		completedAt = nullString(formatTime(*r.CompletedAt))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generation_runs
		(id, scope_id, kind, periods_json, status, generated, skipped, failed, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			generated = excluded.generated,
			skipped = excluded.skipped,
			failed = excluded.failed,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		r.ID, r.ScopeID, r.Kind, string(periodsJSON), r.Status, r.Generated, r.Skipped, r.Failed,
		nullString(r.Error), formatTime(r.StartedAt), completedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "save generation run %s", r.ID)
	}
	return nil
}

func (s *Store) ListGenerationRuns(ctx context.Context, scopeID billing.ScopeID, limit int) ([]billing.GenerationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, scope_id, kind, periods_json, status, generated, skipped, failed, error, started_at, completed_at
		FROM generation_runs`
	var args []any
	if scopeID != "" {
		query += ` WHERE scope_id = ?`
		args = append(args, scopeID)
	}
	query += ` ORDER BY started_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query generation runs")
	}
	defer rows.Close()

	var runs []billing.GenerationRun
	for rows.Next() {
		var (
			r           billing.GenerationRun
			periodsJSON string
			runErr      sql.NullString
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ScopeID, &r.Kind, &periodsJSON, &r.Status,
			&r.Generated, &r.Skipped, &r.Failed, &runErr, &startedAt, &completedAt); err != nil {
			return nil, errors.Wrap(err, "scan generation run")
		}

		var periods []periodJSON
		if err := json.Unmarshal([]byte(periodsJSON), &periods); err != nil {
			return nil, errors.Wrapf(err, "decode periods of run %s", r.ID)
		}
		for _, p := range periods {
			key, err := billing.ParsePeriod(p.Month, p.Year)
			if err != nil {
				return nil, err
			}
			r.Periods = append(r.Periods, key)
		}

		r.Error = runErr.String
		r.StartedAt = parseTime(startedAt)
		if completedAt.Valid {
			t := parseTime(completedAt.String)
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
