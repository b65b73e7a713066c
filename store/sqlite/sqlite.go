/*
Package sqlite provides a SQLite-backed implementation of leave.Store.

PURPOSE:
  Persists policies, balances (with their transaction log), applications
  and the employee/department directory. The same patterns apply to
  PostgreSQL with minor SQL dialect differences.

KEY TABLES:
  policies:             one row per leave type (versioned)
  balances:             one row per (employee, leave type, year) (versioned)
  balance_transactions: append-only log explaining each balance
  applications:         one row per request; workflow steps embedded as JSON
  employees:            directory
  departments:          directory, approval chain embedded as JSON

VERSIONED WRITES:
  balances and applications carry a version column. Updates are
  compare-and-swap:

    UPDATE ... SET ..., version = version + 1 WHERE id = ? AND version = ?

  Zero affected rows means another writer got there first and surfaces as
  generic.ErrConcurrentModification; the caller re-reads and retries.

APPEND-ONLY LOG:
  balance_transactions is never updated or deleted. A balance update only
  inserts the entries past the stored sequence number.

CONCURRENCY:
  Uses sync.RWMutex around statements that must see a consistent view.
  The version columns protect against writers in other processes.

WAL MODE:
  SQLite is opened with WAL for concurrent readers and crash recovery.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a versioned
  migration tool.

SEE ALSO:
  - generic/store.go: BalanceStore contract
  - leave/store.go: Policy, application and directory contracts
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/authz"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// Fixed width so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements leave.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS policies (
		leave_type TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		default_allocation TEXT NOT NULL,
		max_consecutive_days INTEGER NOT NULL,
		min_advance_notice_days INTEGER NOT NULL,
		allow_carry_forward INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS balances (
		employee_id TEXT NOT NULL,
		leave_type TEXT NOT NULL,
		year INTEGER NOT NULL,
		total_allocated TEXT NOT NULL,
		used TEXT NOT NULL,
		pending TEXT NOT NULL,
		carried_forward TEXT NOT NULL,
		remaining TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, leave_type, year)
	);

	CREATE INDEX IF NOT EXISTS idx_balances_employee_year
		ON balances(employee_id, year);

	-- Append-only: no UPDATE or DELETE is ever issued against this table
	CREATE TABLE IF NOT EXISTS balance_transactions (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type TEXT NOT NULL,
		year INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		tx_date TEXT NOT NULL,
		description TEXT,
		reference_id TEXT,
		UNIQUE (employee_id, leave_type, year, seq),
		FOREIGN KEY (employee_id, leave_type, year)
			REFERENCES balances(employee_id, leave_type, year)
	);

	CREATE INDEX IF NOT EXISTS idx_balance_transactions_reference
		ON balance_transactions(reference_id) WHERE reference_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS applications (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		department_id TEXT,
		leave_type TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		total_days INTEGER NOT NULL,
		reason TEXT,
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		submission_date TEXT NOT NULL,
		submitted_by TEXT NOT NULL,
		year INTEGER NOT NULL,
		policy_version INTEGER NOT NULL,
		workflow_json TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Overlap checks read active applications of one employee (hot path)
	CREATE INDEX IF NOT EXISTS idx_applications_employee_status
		ON applications(employee_id, status);
	CREATE INDEX IF NOT EXISTS idx_applications_department
		ON applications(department_id);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		role TEXT NOT NULL,
		department_id TEXT
	);

	CREATE TABLE IF NOT EXISTS departments (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		head_id TEXT,
		approval_chain_json TEXT
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION HELPER
// =============================================================================

// withTx runs fn inside a database transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// BALANCES - generic.BalanceStore
// =============================================================================

// GetBalance loads a balance and its transaction log.
func (s *Store) GetBalance(ctx context.Context, key generic.BalanceKey) (generic.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadBalance(ctx, s.db, key)
}

func (s *Store) loadBalance(ctx context.Context, q queryer, key generic.BalanceKey) (generic.Balance, error) {
	row := q.QueryRowContext(ctx, `
		SELECT total_allocated, used, pending, carried_forward, remaining, version, updated_at
		FROM balances WHERE employee_id = ? AND leave_type = ? AND year = ?`,
		string(key.EntityID), key.Resource, key.Year)

	b := generic.Balance{Key: key}
	var allocated, used, pending, carried, remaining, updatedAt string
	err := row.Scan(&allocated, &used, &pending, &carried, &remaining, &b.Version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Balance{}, &generic.NotFoundError{Kind: "balance", ID: key.String()}
	}
	if err != nil {
		return generic.Balance{}, fmt.Errorf("failed to load balance %s: %w", key, err)
	}
	d := decoder{row: "balance " + key.String()}
	b.TotalAllocated = d.parseDecimal("total_allocated", allocated)
	b.Used = d.parseDecimal("used", used)
	b.Pending = d.parseDecimal("pending", pending)
	b.CarriedForward = d.parseDecimal("carried_forward", carried)
	b.Remaining = d.parseDecimal("remaining", remaining)
	b.UpdatedAt = d.parseTime("updated_at", updatedAt)
	if d.err != nil {
		return generic.Balance{}, d.err
	}

	txs, err := s.loadTransactions(ctx, q, key)
	if err != nil {
		return generic.Balance{}, err
	}
	b.Transactions = txs
	return b, nil
}

func (s *Store) loadTransactions(ctx context.Context, q queryer, key generic.BalanceKey) ([]generic.Transaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, tx_type, amount, tx_date, description, reference_id
		FROM balance_transactions
		WHERE employee_id = ? AND leave_type = ? AND year = ?
		ORDER BY seq`,
		string(key.EntityID), key.Resource, key.Year)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions for %s: %w", key, err)
	}
	defer rows.Close()

	var txs []generic.Transaction
	for rows.Next() {
		var tx generic.Transaction
		var id, txType, amount, date string
		var desc, ref sql.NullString
		if err := rows.Scan(&id, &txType, &amount, &date, &desc, &ref); err != nil {
			return nil, err
		}
		tx.ID = generic.TransactionID(id)
		tx.Type = generic.TransactionType(txType)
		d := decoder{row: "transaction " + id}
		tx.Amount = d.parseDecimal("amount", amount)
		tx.Date = d.parseTime("tx_date", date)
		if d.err != nil {
			return nil, d.err
		}
		tx.Description = desc.String
		tx.ReferenceID = ref.String
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// InsertBalance creates a balance at version 1 with its initial log.
func (s *Store) InsertBalance(ctx context.Context, b generic.Balance) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO balances (employee_id, leave_type, year, total_allocated, used, pending,
				carried_forward, remaining, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
			string(b.Key.EntityID), b.Key.Resource, b.Key.Year,
			b.TotalAllocated.String(), b.Used.String(), b.Pending.String(),
			b.CarriedForward.String(), b.Remaining.String(), formatTime(b.UpdatedAt))
		if isUniqueConstraintError(err) {
			return generic.ErrAlreadyInitialized
		}
		if err != nil {
			return fmt.Errorf("failed to insert balance %s: %w", b.Key, err)
		}
		return appendTransactions(ctx, tx, b.Key, b.Transactions, 0)
	})
}

// UpdateBalance is a compare-and-swap on the version column. Only log
// entries past the stored ones are inserted.
func (s *Store) UpdateBalance(ctx context.Context, b generic.Balance, expectedVersion int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE balances
			SET total_allocated = ?, used = ?, pending = ?, carried_forward = ?, remaining = ?,
				version = version + 1, updated_at = ?
			WHERE employee_id = ? AND leave_type = ? AND year = ? AND version = ?`,
			b.TotalAllocated.String(), b.Used.String(), b.Pending.String(),
			b.CarriedForward.String(), b.Remaining.String(), formatTime(b.UpdatedAt),
			string(b.Key.EntityID), b.Key.Resource, b.Key.Year, expectedVersion)
		if err != nil {
			return fmt.Errorf("failed to update balance %s: %w", b.Key, err)
		}
		if err := casResult(ctx, tx, res, "balance", b.Key.String(),
			`SELECT 1 FROM balances WHERE employee_id = ? AND leave_type = ? AND year = ?`,
			string(b.Key.EntityID), b.Key.Resource, b.Key.Year); err != nil {
			return err
		}

		var stored int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM balance_transactions
			WHERE employee_id = ? AND leave_type = ? AND year = ?`,
			string(b.Key.EntityID), b.Key.Resource, b.Key.Year).Scan(&stored); err != nil {
			return fmt.Errorf("failed to count transactions for %s: %w", b.Key, err)
		}
		if stored > len(b.Transactions) {
			return &generic.LedgerStateError{Key: b.Key, Detail: "transaction log would shrink"}
		}
		return appendTransactions(ctx, tx, b.Key, b.Transactions[stored:], stored)
	})
}

func appendTransactions(ctx context.Context, tx *sql.Tx, key generic.BalanceKey, txs []generic.Transaction, firstSeq int) error {
	for i, t := range txs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO balance_transactions (id, employee_id, leave_type, year, seq, tx_type,
				amount, tx_date, description, reference_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(t.ID), string(key.EntityID), key.Resource, key.Year, firstSeq+i, string(t.Type),
			t.Amount.String(), formatTime(t.Date), nullString(t.Description), nullString(t.ReferenceID))
		if err != nil {
			return fmt.Errorf("failed to append transaction %s: %w", t.ID, err)
		}
	}
	return nil
}

// ListBalances returns balances of an employee; year 0 means all years.
func (s *Store) ListBalances(ctx context.Context, entityID generic.EntityID, year int) ([]generic.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT leave_type, year FROM balances WHERE employee_id = ?`
	args := []any{string(entityID)}
	if year != 0 {
		query += ` AND year = ?`
		args = append(args, year)
	}
	query += ` ORDER BY year, leave_type`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	var keys []generic.BalanceKey
	for rows.Next() {
		k := generic.BalanceKey{EntityID: entityID}
		if err := rows.Scan(&k.Resource, &k.Year); err != nil {
			rows.Close()
			return nil, err
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]generic.Balance, 0, len(keys))
	for _, k := range keys {
		b, err := s.loadBalance(ctx, s.db, k)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// =============================================================================
// POLICIES - leave.PolicyStore
// =============================================================================

func (s *Store) GetPolicy(ctx context.Context, leaveType string) (leave.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT leave_type, description, default_allocation, max_consecutive_days,
			min_advance_notice_days, allow_carry_forward, version, updated_at
		FROM policies WHERE leave_type = ?`, leaveType)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.Policy{}, &generic.PolicyNotFoundError{LeaveType: leaveType}
	}
	if err != nil {
		return leave.Policy{}, fmt.Errorf("failed to get policy: %w", err)
	}
	return p, nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]leave.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT leave_type, description, default_allocation, max_consecutive_days,
			min_advance_notice_days, allow_carry_forward, version, updated_at
		FROM policies ORDER BY leave_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	var out []leave.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavePolicy upserts a policy and bumps its version.
func (s *Store) SavePolicy(ctx context.Context, p leave.Policy) (leave.Policy, error) {
	p.UpdatedAt = time.Now().UTC()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO policies (leave_type, description, default_allocation, max_consecutive_days,
				min_advance_notice_days, allow_carry_forward, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?)
			ON CONFLICT(leave_type) DO UPDATE SET
				description = excluded.description,
				default_allocation = excluded.default_allocation,
				max_consecutive_days = excluded.max_consecutive_days,
				min_advance_notice_days = excluded.min_advance_notice_days,
				allow_carry_forward = excluded.allow_carry_forward,
				version = policies.version + 1,
				updated_at = excluded.updated_at`,
			p.LeaveType, p.Description, p.DefaultAllocation.String(), p.MaxConsecutiveDays,
			p.MinAdvanceNoticeDays, p.AllowCarryForward, formatTime(p.UpdatedAt))
		if err != nil {
			return fmt.Errorf("failed to save policy: %w", err)
		}
		return tx.QueryRowContext(ctx, `SELECT version FROM policies WHERE leave_type = ?`, p.LeaveType).Scan(&p.Version)
	})
	return p, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row scanner) (leave.Policy, error) {
	var p leave.Policy
	var allocation, updatedAt string
	if err := row.Scan(&p.LeaveType, &p.Description, &allocation, &p.MaxConsecutiveDays,
		&p.MinAdvanceNoticeDays, &p.AllowCarryForward, &p.Version, &updatedAt); err != nil {
		return leave.Policy{}, err
	}
	d := decoder{row: "policy " + p.LeaveType}
	p.DefaultAllocation = d.parseDecimal("default_allocation", allocation)
	p.UpdatedAt = d.parseTime("updated_at", updatedAt)
	return p, d.err
}

// decoder parses stored text columns and keeps the first failure, so a
// corrupt row fails the load instead of reading as zero.
type decoder struct {
	row string
	err error
}

func (d *decoder) fail(column, value string, err error) {
	if d.err == nil {
		d.err = fmt.Errorf("%s: corrupt %s %q: %w", d.row, column, value, err)
	}
}

func (d *decoder) parseDecimal(column, value string) decimal.Decimal {
	v, err := decimal.NewFromString(value)
	if err != nil {
		d.fail(column, value, err)
		return decimal.Zero
	}
	return v
}

func (d *decoder) parseTime(column, value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		d.fail(column, value, err)
	}
	return t
}

func (d *decoder) parseDate(column, value string) time.Time {
	t, err := generic.ParseDate(value)
	if err != nil {
		d.fail(column, value, err)
	}
	return t
}

// =============================================================================
// APPLICATIONS - leave.ApplicationStore
// =============================================================================

const applicationColumns = `id, employee_id, department_id, leave_type, start_date, end_date,
	total_days, reason, priority, status, submission_date, submitted_by, year,
	policy_version, workflow_json, version, updated_at`

func (s *Store) InsertApplication(ctx context.Context, a leave.Application) error {
	workflow, err := json.Marshal(a.Workflow)
	if err != nil {
		return fmt.Errorf("failed to encode workflow: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO applications (`+applicationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
			a.ID, a.EmployeeID, nullString(a.DepartmentID), a.LeaveType,
			formatDate(a.StartDate), formatDate(a.EndDate), a.TotalDays, a.Reason,
			string(a.Priority), string(a.Status), formatTime(a.SubmissionDate), a.SubmittedBy,
			a.Year, a.PolicyVersion, string(workflow), formatTime(a.UpdatedAt))
		if isUniqueConstraintError(err) {
			return generic.Invalid("id", "application %s already exists", a.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to insert application: %w", err)
		}
		return nil
	})
}

// UpdateApplication is a compare-and-swap on the version column.
func (s *Store) UpdateApplication(ctx context.Context, a leave.Application, expectedVersion int64) error {
	workflow, err := json.Marshal(a.Workflow)
	if err != nil {
		return fmt.Errorf("failed to encode workflow: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE applications SET
				leave_type = ?, start_date = ?, end_date = ?, total_days = ?, reason = ?,
				priority = ?, status = ?, year = ?, policy_version = ?, workflow_json = ?,
				version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`,
			a.LeaveType, formatDate(a.StartDate), formatDate(a.EndDate), a.TotalDays, a.Reason,
			string(a.Priority), string(a.Status), a.Year, a.PolicyVersion, string(workflow),
			formatTime(a.UpdatedAt), a.ID, expectedVersion)
		if err != nil {
			return fmt.Errorf("failed to update application: %w", err)
		}
		return casResult(ctx, tx, res, "application", a.ID, `SELECT 1 FROM applications WHERE id = ?`, a.ID)
	})
}

func (s *Store) GetApplication(ctx context.Context, id string) (leave.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = ?`, id)
	a, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.Application{}, &generic.NotFoundError{Kind: "application", ID: id}
	}
	if err != nil {
		return leave.Application{}, fmt.Errorf("failed to get application: %w", err)
	}
	return a, nil
}

func (s *Store) ListApplications(ctx context.Context, f leave.ApplicationFilter) ([]leave.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	switch {
	case f.EmployeeID != "" && f.DepartmentID != "":
		where = append(where, "(employee_id = ? OR department_id = ?)")
		args = append(args, f.EmployeeID, f.DepartmentID)
	case f.EmployeeID != "":
		where = append(where, "employee_id = ?")
		args = append(args, f.EmployeeID)
	case f.DepartmentID != "":
		where = append(where, "department_id = ?")
		args = append(args, f.DepartmentID)
	}
	if f.LeaveType != "" {
		where = append(where, "leave_type = ?")
		args = append(args, f.LeaveType)
	}
	if f.Year != 0 {
		where = append(where, "year = ?")
		args = append(args, f.Year)
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + applicationColumns + ` FROM applications`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY submission_date, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	var out []leave.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanApplication(row scanner) (leave.Application, error) {
	var a leave.Application
	var dept, reason sql.NullString
	var start, end, priority, status, submitted, workflow, updatedAt string
	err := row.Scan(&a.ID, &a.EmployeeID, &dept, &a.LeaveType, &start, &end,
		&a.TotalDays, &reason, &priority, &status, &submitted, &a.SubmittedBy, &a.Year,
		&a.PolicyVersion, &workflow, &a.Version, &updatedAt)
	if err != nil {
		return leave.Application{}, err
	}
	a.DepartmentID = dept.String
	a.Reason = reason.String
	a.Priority = leave.Priority(priority)
	a.Status = leave.Status(status)
	d := decoder{row: "application " + a.ID}
	a.StartDate = d.parseDate("start_date", start)
	a.EndDate = d.parseDate("end_date", end)
	a.SubmissionDate = d.parseTime("submission_date", submitted)
	a.UpdatedAt = d.parseTime("updated_at", updatedAt)
	if d.err != nil {
		return leave.Application{}, d.err
	}
	if err := json.Unmarshal([]byte(workflow), &a.Workflow); err != nil {
		return leave.Application{}, fmt.Errorf("failed to decode workflow of %s: %w", a.ID, err)
	}
	return a, nil
}

// =============================================================================
// DIRECTORY - leave.Directory, leave.DirectoryWriter
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, e leave.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, name, email, role, department_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, email = excluded.email,
			role = excluded.role, department_id = excluded.department_id`,
		e.ID, e.Name, nullString(e.Email), string(e.Role), nullString(e.DepartmentID))
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func (s *Store) GetEmployee(ctx context.Context, id string) (leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT id, name, email, role, department_id FROM employees WHERE id = ?`, id)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.Employee{}, &generic.NotFoundError{Kind: "employee", ID: id}
	}
	if err != nil {
		return leave.Employee{}, fmt.Errorf("failed to get employee: %w", err)
	}
	return e, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, email, role, department_id FROM employees ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var out []leave.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEmployee(row scanner) (leave.Employee, error) {
	var e leave.Employee
	var email, dept sql.NullString
	var role string
	if err := row.Scan(&e.ID, &e.Name, &email, &role, &dept); err != nil {
		return leave.Employee{}, err
	}
	e.Email = email.String
	e.Role = authz.Role(role)
	e.DepartmentID = dept.String
	return e, nil
}

func (s *Store) SaveDepartment(ctx context.Context, d leave.Department) error {
	chain, err := json.Marshal(d.ApprovalChain)
	if err != nil {
		return fmt.Errorf("failed to encode approval chain: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO departments (id, name, head_id, approval_chain_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, head_id = excluded.head_id,
			approval_chain_json = excluded.approval_chain_json`,
		d.ID, d.Name, nullString(d.HeadID), string(chain))
	if err != nil {
		return fmt.Errorf("failed to save department: %w", err)
	}
	return nil
}

func (s *Store) GetDepartment(ctx context.Context, id string) (leave.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var d leave.Department
	var head, chain sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT id, name, head_id, approval_chain_json FROM departments WHERE id = ?`, id).
		Scan(&d.ID, &d.Name, &head, &chain)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.Department{}, &generic.NotFoundError{Kind: "department", ID: id}
	}
	if err != nil {
		return leave.Department{}, fmt.Errorf("failed to get department: %w", err)
	}
	d.HeadID = head.String
	if chain.Valid && chain.String != "" && chain.String != "null" {
		if err := json.Unmarshal([]byte(chain.String), &d.ApprovalChain); err != nil {
			return leave.Department{}, fmt.Errorf("failed to decode approval chain of %s: %w", id, err)
		}
	}
	return d, nil
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset deletes all data. Demo use only.
func (s *Store) Reset(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"balance_transactions", "balances", "applications", "policies", "employees", "departments"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to reset %s: %w", table, err)
			}
		}
		return nil
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// casResult turns a zero-row versioned update into NotFound or
// ErrConcurrentModification.
func casResult(ctx context.Context, tx *sql.Tx, res sql.Result, kind, id, existsQuery string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var one int
	err = tx.QueryRowContext(ctx, existsQuery, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return &generic.NotFoundError{Kind: kind, ID: id}
	}
	if err != nil {
		return err
	}
	return generic.ErrConcurrentModification
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func formatDate(t time.Time) string { return t.Format(generic.DateLayout) }

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

var (
	_ leave.Store          = (*Store)(nil)
	_ generic.BalanceStore = (*Store)(nil)
)
