// Package pg is the Postgres-backed store. One *sql.DB serves every
// persistence port; atomicity rules live in transactions here, mirroring
// the in-memory store's single lock.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"hash/fnv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"sopledger.org/internal/ack"
	"sopledger.org/internal/audit"
	"sopledger.org/internal/roster"
	"sopledger.org/internal/sop"
	"sopledger.org/internal/training"
)

type Store struct {
	db *sql.DB
}

var (
	_ sop.Store      = (*Store)(nil)
	_ ack.Store      = (*Store)(nil)
	_ roster.Store   = (*Store)(nil)
	_ training.Store = (*Store)(nil)
	_ audit.Sink     = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// --- documents ---

func (s *Store) CreateDocument(ctx context.Context, d *sop.Document, snap *sop.Version) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into sops(id, title, category, content, current_version, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, d.ID, d.Title, d.Category, d.Content, d.CurrentVersion, d.CreatedAt, d.UpdatedAt); err != nil {
		return err
	}
	if err := insertVersion(ctx, tx, snap); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) FindDocument(ctx context.Context, id string) (*sop.Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, `
		select id, title, category, content, current_version, created_at, updated_at
		from sops where id=$1
	`, id))
}

func (s *Store) ListDocuments(ctx context.Context) ([]*sop.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, title, category, content, current_version, created_at, updated_at
		from sops order by created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*sop.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// UpdateDocument applies the edit only when the stored head still carries
// expectedVersion; the conditional update serializes concurrent edits.
func (s *Store) UpdateDocument(ctx context.Context, d *sop.Document, expectedVersion int, snap *sop.Version) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update sops
		set title=$2, category=$3, content=$4, current_version=$5, updated_at=$6
		where id=$1 and current_version=$7
	`, d.ID, d.Title, d.Category, d.Content, d.CurrentVersion, d.UpdatedAt, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var one int
		err := tx.QueryRowContext(ctx, `select 1 from sops where id=$1`, d.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return sop.ErrNotFound
		}
		if err != nil {
			return err
		}
		return sop.ErrStaleVersion
	}
	if err := insertVersion(ctx, tx, snap); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Versions(ctx context.Context, documentID string) ([]*sop.Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		select sop_id, number, title, category, content, author, created_at
		from sop_versions where sop_id=$1 order by number desc
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*sop.Version
	for rows.Next() {
		var v sop.Version
		if err := rows.Scan(&v.DocumentID, &v.Number, &v.Title, &v.Category, &v.Content, &v.Author, &v.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, &v)
	}
	return res, rows.Err()
}

func insertVersion(ctx context.Context, tx *sql.Tx, v *sop.Version) error {
	_, err := tx.ExecContext(ctx, `
		insert into sop_versions(sop_id, number, title, category, content, author, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, v.DocumentID, v.Number, v.Title, v.Category, v.Content, v.Author, v.CreatedAt)
	return err
}

func scanDocument(row interface{ Scan(...any) error }) (*sop.Document, error) {
	var d sop.Document
	err := row.Scan(&d.ID, &d.Title, &d.Category, &d.Content, &d.CurrentVersion, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sop.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// --- staff ---

func (s *Store) CreateStaff(ctx context.Context, m *roster.Staff) error {
	_, err := s.db.ExecContext(ctx, `
		insert into staff(id, name, normalized_name, staff_type, role, department, supervisor, hire_date, active, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		on conflict (normalized_name) do nothing
	`, m.ID, m.Name, m.NormalizedName, m.StaffType, m.Role, m.Department, m.Supervisor, m.HireDate, m.Active, m.CreatedAt)
	if err != nil {
		return err
	}
	var id string
	if err := s.db.QueryRowContext(ctx, `select id from staff where normalized_name=$1`, m.NormalizedName).Scan(&id); err != nil {
		return err
	}
	if id != m.ID {
		return roster.ErrAlreadyExists
	}
	return nil
}

func (s *Store) FindStaff(ctx context.Context, id string) (*roster.Staff, error) {
	return scanStaff(s.db.QueryRowContext(ctx, `
		select id, name, normalized_name, staff_type, role, department, supervisor, hire_date, active, created_at
		from staff where id=$1
	`, id))
}

func (s *Store) FindStaffByNormalizedName(ctx context.Context, name string) (*roster.Staff, error) {
	return scanStaff(s.db.QueryRowContext(ctx, `
		select id, name, normalized_name, staff_type, role, department, supervisor, hire_date, active, created_at
		from staff where normalized_name=$1
	`, name))
}

func (s *Store) ListStaff(ctx context.Context, activeOnly bool) ([]*roster.Staff, error) {
	q := `
		select id, name, normalized_name, staff_type, role, department, supervisor, hire_date, active, created_at
		from staff
	`
	if activeOnly {
		q += ` where active`
	}
	q += ` order by name, id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*roster.Staff
	for rows.Next() {
		m, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (s *Store) SetStaffActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `update staff set active=$2 where id=$1`, id, active)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return roster.ErrNotFound
	}
	return nil
}

func scanStaff(row interface{ Scan(...any) error }) (*roster.Staff, error) {
	var m roster.Staff
	var hire sql.NullTime
	err := row.Scan(&m.ID, &m.Name, &m.NormalizedName, &m.StaffType, &m.Role, &m.Department, &m.Supervisor, &hire, &m.Active, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, roster.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if hire.Valid {
		t := hire.Time
		m.HireDate = &t
	}
	return &m, nil
}

// --- acknowledgments ---

// AppendAcknowledgment reads current_version and inserts under one
// transaction so the stamped version can never be stale at commit.
func (s *Store) AppendAcknowledgment(ctx context.Context, a *ack.Acknowledgment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `select current_version from sops where id=$1 for share`, a.DocumentID).Scan(&a.DocumentVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return ack.ErrUnknownDocument
	}
	if err != nil {
		return err
	}

	if err := tx.QueryRowContext(ctx, `
		insert into acknowledgments(id, sop_id, staff_id, sop_version, signature, read_seconds, ip_address, user_agent, acknowledged_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9) returning seq
	`, a.ID, a.DocumentID, a.StaffID, a.DocumentVersion, a.Signature, a.ReadSeconds, a.IPAddress, a.UserAgent, a.AcknowledgedAt).Scan(&a.Seq); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) LatestAcknowledgment(ctx context.Context, documentID, staffID string) (*ack.Acknowledgment, error) {
	a, err := scanAck(s.db.QueryRowContext(ctx, `
		select id, sop_id, staff_id, sop_version, signature, read_seconds, ip_address, user_agent, acknowledged_at, seq
		from acknowledgments
		where sop_id=$1 and staff_id=$2
		order by acknowledged_at desc, seq desc
		limit 1
	`, documentID, staffID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ack.ErrNoAcknowledgment
	}
	return a, err
}

func (s *Store) ListAcknowledgmentsByDocument(ctx context.Context, documentID string) ([]*ack.Acknowledgment, error) {
	return s.listAcks(ctx, `
		select id, sop_id, staff_id, sop_version, signature, read_seconds, ip_address, user_agent, acknowledged_at, seq
		from acknowledgments
		where sop_id=$1
		order by acknowledged_at desc, seq desc
	`, documentID)
}

func (s *Store) ListAcknowledgmentsInWindow(ctx context.Context, start, end time.Time) ([]*ack.Acknowledgment, error) {
	return s.listAcks(ctx, `
		select id, sop_id, staff_id, sop_version, signature, read_seconds, ip_address, user_agent, acknowledged_at, seq
		from acknowledgments
		where acknowledged_at >= $1 and acknowledged_at <= $2
		order by seq
	`, start, end)
}

func (s *Store) listAcks(ctx context.Context, query string, args ...any) ([]*ack.Acknowledgment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*ack.Acknowledgment
	for rows.Next() {
		a, err := scanAck(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func scanAck(row interface{ Scan(...any) error }) (*ack.Acknowledgment, error) {
	var a ack.Acknowledgment
	if err := row.Scan(&a.ID, &a.DocumentID, &a.StaffID, &a.DocumentVersion, &a.Signature, &a.ReadSeconds, &a.IPAddress, &a.UserAgent, &a.AcknowledgedAt, &a.Seq); err != nil {
		return nil, err
	}
	return &a, nil
}

// --- training ---

func (s *Store) CreateModule(ctx context.Context, m *training.Module) error {
	res, err := s.db.ExecContext(ctx, `
		insert into training_modules(id, sop_id, title, passing_score, recert_days, active, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
		on conflict (sop_id) do nothing
	`, m.ID, m.DocumentID, m.Title, m.PassingScore, m.RecertDays, m.Active, m.CreatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return training.ErrModuleExists
	}
	return nil
}

func (s *Store) FindModule(ctx context.Context, id string) (*training.Module, error) {
	return scanModule(s.db.QueryRowContext(ctx, `
		select id, sop_id, title, passing_score, recert_days, active, created_at
		from training_modules where id=$1
	`, id))
}

func (s *Store) FindModuleByDocument(ctx context.Context, documentID string) (*training.Module, error) {
	return scanModule(s.db.QueryRowContext(ctx, `
		select id, sop_id, title, passing_score, recert_days, active, created_at
		from training_modules where sop_id=$1
	`, documentID))
}

func (s *Store) ListModules(ctx context.Context) ([]*training.Module, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, sop_id, title, passing_score, recert_days, active, created_at
		from training_modules order by created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*training.Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (s *Store) UpdateModule(ctx context.Context, m *training.Module) error {
	res, err := s.db.ExecContext(ctx, `
		update training_modules
		set title=$2, passing_score=$3, recert_days=$4, active=$5
		where id=$1
	`, m.ID, m.Title, m.PassingScore, m.RecertDays, m.Active)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return training.ErrModuleNotFound
	}
	return nil
}

// RecordAttempt serializes submissions per (module, staff) pair with an
// advisory transaction lock, then evaluates the lockout over the pair's
// history before inserting. Locked submissions roll back without a row.
func (s *Store) RecordAttempt(ctx context.Context, at *training.Attempt, policy training.LockoutPolicy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, pairLockKey(at.ModuleID, at.StaffID)); err != nil {
		return err
	}

	if policy.Enabled() {
		rows, err := tx.QueryContext(ctx, `
			select id, module_id, staff_id, score, passed, attempted_at, seq
			from training_attempts
			where module_id=$1 and staff_id=$2 and attempted_at >= $3
			order by attempted_at, seq
		`, at.ModuleID, at.StaffID, at.AttemptedAt.Add(-policy.Window))
		if err != nil {
			return err
		}
		history, err := collectAttempts(rows)
		if err != nil {
			return err
		}
		if training.EvaluateLockout(policy, history, at.AttemptedAt).Locked {
			return training.ErrLocked
		}
	}

	if err := tx.QueryRowContext(ctx, `
		insert into training_attempts(id, module_id, staff_id, score, passed, attempted_at)
		values ($1,$2,$3,$4,$5,$6) returning seq
	`, at.ID, at.ModuleID, at.StaffID, at.Score, at.Passed, at.AttemptedAt).Scan(&at.Seq); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Attempts(ctx context.Context, moduleID, staffID string) ([]*training.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, module_id, staff_id, score, passed, attempted_at, seq
		from training_attempts
		where module_id=$1 and staff_id=$2
		order by attempted_at, seq
	`, moduleID, staffID)
	if err != nil {
		return nil, err
	}
	return collectAttempts(rows)
}

func (s *Store) ListAttempts(ctx context.Context) ([]*training.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, module_id, staff_id, score, passed, attempted_at, seq
		from training_attempts
		order by attempted_at, seq
	`)
	if err != nil {
		return nil, err
	}
	return collectAttempts(rows)
}

func scanModule(row interface{ Scan(...any) error }) (*training.Module, error) {
	var m training.Module
	err := row.Scan(&m.ID, &m.DocumentID, &m.Title, &m.PassingScore, &m.RecertDays, &m.Active, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, training.ErrModuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func collectAttempts(rows *sql.Rows) ([]*training.Attempt, error) {
	defer rows.Close()
	var res []*training.Attempt
	for rows.Next() {
		var at training.Attempt
		if err := rows.Scan(&at.ID, &at.ModuleID, &at.StaffID, &at.Score, &at.Passed, &at.AttemptedAt, &at.Seq); err != nil {
			return nil, err
		}
		res = append(res, &at)
	}
	return res, rows.Err()
}

// --- audit ---

func (s *Store) Append(ctx context.Context, e *audit.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log(id, occurred_at, actor_id, action, entity_type, entity_id, detail)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.OccurredAt, e.ActorID, e.Action, e.EntityType, e.EntityID, e.Detail)
	return err
}

// --- helpers ---

// pairLockKey folds the pair into the signed 64-bit key space advisory
// locks take.
func pairLockKey(moduleID, staffID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(moduleID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(staffID))
	return int64(h.Sum64())
}
