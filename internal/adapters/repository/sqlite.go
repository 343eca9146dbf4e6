package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/fluentops/internal/domain/model"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS assessments (
	id            TEXT PRIMARY KEY,
	owner_id      TEXT NOT NULL,
	input_kind    TEXT NOT NULL,
	input_text    TEXT NOT NULL DEFAULT '',
	recording_ref TEXT NOT NULL DEFAULT '',
	goals_json    TEXT NOT NULL DEFAULT '[]',
	status        TEXT NOT NULL,
	rubric_json   TEXT,
	feedback_text TEXT NOT NULL DEFAULT '',
	trace_id      TEXT NOT NULL,
	next_seq      INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assessments_owner_created ON assessments(owner_id, created_at DESC);

CREATE TABLE IF NOT EXISTS assessment_events (
	assessment_id TEXT NOT NULL REFERENCES assessments(id),
	seq           INTEGER NOT NULL,
	kind          TEXT NOT NULL,
	payload_json  TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	PRIMARY KEY (assessment_id, seq)
);

CREATE TABLE IF NOT EXISTS credit_balances (
	user_id TEXT PRIMARY KEY,
	credits INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS credit_ledger (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT NOT NULL,
	delta      INTEGER NOT NULL,
	reason     TEXT NOT NULL,
	ref_id     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE (user_id, reason, ref_id)
);
`

const assessmentColumns = `id, owner_id, input_kind, input_text, recording_ref, goals_json, status,
	rubric_json, feedback_text, trace_id, created_at, updated_at`

// SQLiteStore is a durable Store on SQLite. Writes are serialized through a single
// connection, so every read-modify-write transaction is atomic.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at dsn and applies the schema.
func OpenSQLite(ctx context.Context, dsn string, opts ...Option) (*SQLiteStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, opts: o}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.mapClosed(fmt.Errorf("begin tx: %w", err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) mapClosed(err error) error {
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return err
}

// CreateAssessment stores a new Queued assessment.
func (s *SQLiteStore) CreateAssessment(ctx context.Context, a *model.Assessment) (err error) {
	defer observe("create_assessment")(&err)
	if a == nil || a.ID == "" || a.OwnerID == "" {
		return fmt.Errorf("create assessment: missing id or owner")
	}
	goals, err := json.Marshal(nonNil(a.Goals))
	if err != nil {
		return fmt.Errorf("marshal goals: %w", err)
	}
	now := s.opts.now()
	created := a.CreatedAt
	if created.IsZero() {
		created = now
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM assessments WHERE id = ?`, a.ID).Scan(&exists)
		if err == nil {
			return fmt.Errorf("create assessment %s: %w", a.ID, ErrDuplicate)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check assessment: %w", err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO assessments
			(id, owner_id, input_kind, input_text, recording_ref, goals_json, status, trace_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.OwnerID, string(a.InputKind), a.InputText, a.RecordingRef, string(goals),
			string(model.StatusQueued), a.TraceID, created.UnixNano(), now.UnixNano())
		if err != nil {
			return fmt.Errorf("insert assessment: %w", err)
		}
		a.Status = model.StatusQueued
		a.CreatedAt = created
		a.UpdatedAt = now
		return nil
	})
}

// FindAssessment returns the assessment when it exists and belongs to ownerID.
func (s *SQLiteStore) FindAssessment(ctx context.Context, ownerID, id string) (*model.Assessment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE id = ? AND owner_id = ?`, id, ownerID)
	a, err := scanAssessment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find assessment: %w", err)
	}
	return a, nil
}

// ListAssessments returns ownerID's assessments newest first.
func (s *SQLiteStore) ListAssessments(ctx context.Context, ownerID string, page model.Page) ([]model.Assessment, error) {
	limit := page.Size
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+assessmentColumns+` FROM assessments
		WHERE owner_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		ownerID, limit, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	defer rows.Close()

	out := make([]model.Assessment, 0)
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// UnfinishedAssessments returns the ids of Queued and Running assessments, oldest first.
func (s *SQLiteStore) UnfinishedAssessments(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM assessments
		WHERE status IN (?, ?) ORDER BY created_at ASC, id ASC`,
		string(model.StatusQueued), string(model.StatusRunning))
	if err != nil {
		return nil, s.mapClosed(fmt.Errorf("unfinished assessments: %w", err))
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Transition moves id from one status to another if its current status is from.
func (s *SQLiteStore) Transition(ctx context.Context, id string, from, to model.Status) (err error) {
	defer observe("transition")(&err)
	if _, err := from.Transition(to); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		st, _, err := lockAssessment(ctx, tx, id)
		if err != nil {
			return err
		}
		if st != from {
			if st.IsTerminal() {
				return fmt.Errorf("transition %s: %w", id, ErrTerminal)
			}
			return fmt.Errorf("transition %s from %s (is %s): %w", id, from, st, ErrStatusConflict)
		}
		_, err = tx.ExecContext(ctx, `UPDATE assessments SET status = ?, updated_at = ? WHERE id = ?`,
			string(to), s.opts.now().UnixNano(), id)
		return err
	})
}

// AppendEvent appends a non-terminal event under the per-assessment counter.
func (s *SQLiteStore) AppendEvent(ctx context.Context, id string, kind model.EventKind, payload json.RawMessage) (ev model.Event, err error) {
	defer observe("append_event")(&err)
	if kind.IsTerminal() {
		return model.Event{}, ErrTerminalKind
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		st, next, err := lockAssessment(ctx, tx, id)
		if err != nil {
			return err
		}
		if st.IsTerminal() {
			return fmt.Errorf("append to %s: %w", id, ErrTerminal)
		}
		ev, err = s.appendTx(ctx, tx, id, next, kind, payload)
		return err
	})
	if err != nil {
		return model.Event{}, err
	}
	recordAppend(kind)
	s.opts.notifier.Publish(id)
	return ev, nil
}

// Complete appends the Final event and marks the assessment Succeeded in one transaction.
func (s *SQLiteStore) Complete(ctx context.Context, id string, result model.FinalPayload) (ev model.Event, err error) {
	defer observe("complete")(&err)
	rubric, err := json.Marshal(result.Rubric)
	if err != nil {
		return model.Event{}, fmt.Errorf("marshal rubric: %w", err)
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		st, next, err := lockAssessment(ctx, tx, id)
		if err != nil {
			return err
		}
		switch {
		case st.IsTerminal():
			return fmt.Errorf("complete %s: %w", id, ErrTerminal)
		case st != model.StatusRunning:
			return fmt.Errorf("complete %s (is %s): %w", id, st, ErrStatusConflict)
		}
		if ev, err = s.appendTx(ctx, tx, id, next, model.EventFinal, model.MustPayload(result)); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE assessments SET status = ?, rubric_json = ?, feedback_text = ?, updated_at = ?
			WHERE id = ?`, string(model.StatusSucceeded), string(rubric), result.FeedbackText, ev.CreatedAt.UnixNano(), id)
		return err
	})
	if err != nil {
		return model.Event{}, err
	}
	recordAppend(model.EventFinal)
	s.opts.notifier.Publish(id)
	return ev, nil
}

// Fail appends an Error event and marks a Running assessment Failed in one transaction.
func (s *SQLiteStore) Fail(ctx context.Context, id string, payload model.ErrorPayload) (ev model.Event, applied bool, err error) {
	defer observe("fail")(&err)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		st, next, err := lockAssessment(ctx, tx, id)
		if err != nil {
			return err
		}
		switch {
		case st.IsTerminal():
			return nil
		case st != model.StatusRunning:
			return fmt.Errorf("fail %s (is %s): %w", id, st, ErrStatusConflict)
		}
		if ev, err = s.appendTx(ctx, tx, id, next, model.EventError, model.MustPayload(payload)); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `UPDATE assessments SET status = ?, updated_at = ? WHERE id = ?`,
			string(model.StatusFailed), ev.CreatedAt.UnixNano(), id); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil || !applied {
		return model.Event{}, false, err
	}
	recordAppend(model.EventError)
	s.opts.notifier.Publish(id)
	return ev, true, nil
}

// QueryEventsAfter returns at most limit events with seq > cursor, ascending.
// Unknown assessments report ErrNotFound.
func (s *SQLiteStore) QueryEventsAfter(ctx context.Context, id string, cursor int64, limit int) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, kind, payload_json, created_at FROM assessment_events
		WHERE assessment_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`, id, cursor, clampLimit(limit))
	if err != nil {
		return nil, s.mapClosed(fmt.Errorf("query events: %w", err))
	}
	defer rows.Close()

	out := make([]model.Event, 0)
	for rows.Next() {
		var (
			ev      = model.Event{AssessmentID: id}
			kind    string
			payload string
			created int64
		)
		if err := rows.Scan(&ev.Seq, &kind, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = model.EventKind(kind)
		ev.Payload = json.RawMessage(payload)
		ev.CreatedAt = time.Unix(0, created)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM assessments WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("assessment %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return nil, s.mapClosed(fmt.Errorf("query events: %w", err))
		}
	}
	return out, nil
}

// Balance returns the user's credits.
func (s *SQLiteStore) Balance(ctx context.Context, userID string) (int64, error) {
	var credits int64
	err := s.db.QueryRowContext(ctx, `SELECT credits FROM credit_balances WHERE user_id = ?`, userID).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	return credits, nil
}

// Debit spends one credit once per (userID, reason, refID). The conditional
// decrement only succeeds while the balance is positive.
func (s *SQLiteStore) Debit(ctx context.Context, userID, reason, refID string) (applied bool, err error) {
	defer observe("debit")(&err)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		seen, err := ledgerEntryExists(ctx, tx, userID, reason, refID)
		if err != nil || seen {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE credit_balances SET credits = credits - 1 WHERE user_id = ? AND credits > 0`, userID)
		if err != nil {
			return fmt.Errorf("decrement balance: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrInsufficientCredits
		}
		if err := s.insertLedgerTx(ctx, tx, userID, -1, reason, refID); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// Grant adds amount credits once per (userID, reason, refID).
func (s *SQLiteStore) Grant(ctx context.Context, userID string, amount int64, reason, refID string) (applied bool, err error) {
	defer observe("grant")(&err)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		seen, err := ledgerEntryExists(ctx, tx, userID, reason, refID)
		if err != nil || seen {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO credit_balances (user_id, credits) VALUES (?, ?)
			ON CONFLICT(user_id) DO UPDATE SET credits = credits + excluded.credits`, userID, amount); err != nil {
			return fmt.Errorf("grant balance: %w", err)
		}
		if err := s.insertLedgerTx(ctx, tx, userID, amount, reason, refID); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// Subscribe registers for change signals on id. Signals only cover writes made
// through this process.
func (s *SQLiteStore) Subscribe(id string) (<-chan struct{}, func()) {
	return s.opts.notifier.Subscribe(id)
}

func (s *SQLiteStore) appendTx(ctx context.Context, tx *sql.Tx, id string, seq int64, kind model.EventKind, payload json.RawMessage) (model.Event, error) {
	now := s.opts.now()
	if _, err := tx.ExecContext(ctx, `INSERT INTO assessment_events (assessment_id, seq, kind, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?)`, id, seq, string(kind), string(payload), now.UnixNano()); err != nil {
		return model.Event{}, fmt.Errorf("insert event: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE assessments SET next_seq = next_seq + 1, updated_at = ? WHERE id = ?`,
		now.UnixNano(), id); err != nil {
		return model.Event{}, fmt.Errorf("advance seq: %w", err)
	}
	return model.Event{
		AssessmentID: id,
		Seq:          seq,
		Kind:         kind,
		Payload:      append(json.RawMessage(nil), payload...),
		CreatedAt:    now,
	}, nil
}

func (s *SQLiteStore) insertLedgerTx(ctx context.Context, tx *sql.Tx, userID string, delta int64, reason, refID string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO credit_ledger (user_id, delta, reason, ref_id, created_at)
		VALUES (?, ?, ?, ?, ?)`, userID, delta, reason, refID, s.opts.now().UnixNano())
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func lockAssessment(ctx context.Context, tx *sql.Tx, id string) (model.Status, int64, error) {
	var (
		status string
		next   int64
	)
	err := tx.QueryRowContext(ctx, `SELECT status, next_seq FROM assessments WHERE id = ?`, id).Scan(&status, &next)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, fmt.Errorf("assessment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", 0, fmt.Errorf("read assessment: %w", err)
	}
	return model.Status(status), next, nil
}

func ledgerEntryExists(ctx context.Context, tx *sql.Tx, userID, reason, refID string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM credit_ledger WHERE user_id = ? AND reason = ? AND ref_id = ?`,
		userID, reason, refID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read ledger: %w", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (*model.Assessment, error) {
	var (
		a       model.Assessment
		kind    string
		goals   string
		status  string
		rubric  sql.NullString
		created int64
		updated int64
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &kind, &a.InputText, &a.RecordingRef, &goals, &status,
		&rubric, &a.FeedbackText, &a.TraceID, &created, &updated); err != nil {
		return nil, err
	}
	a.InputKind = model.InputKind(kind)
	a.Status = model.Status(status)
	a.CreatedAt = time.Unix(0, created)
	a.UpdatedAt = time.Unix(0, updated)
	if err := json.Unmarshal([]byte(goals), &a.Goals); err != nil {
		return nil, fmt.Errorf("decode goals: %w", err)
	}
	if rubric.Valid && rubric.String != "" && rubric.String != "null" {
		if err := json.Unmarshal([]byte(rubric.String), &a.Rubric); err != nil {
			return nil, fmt.Errorf("decode rubric: %w", err)
		}
	}
	return &a, nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
