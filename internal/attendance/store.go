package attendance

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"sitecrew-backend/internal/platform/db"
)

// errNoOpenSession は閉じる対象の開いたセッションが無い
var errNoOpenSession = errors.New("no open session")

const sessionColumns = `session_id, session_ulid, worker_id, site_id, check_in, check_out`

type Store struct{ db *sql.DB }

func NewStore(conn *sql.DB) *Store { return &Store{db: conn} }

func scanSession(sc interface{ Scan(...any) error }) (WorkSession, error) {
	var r sessionRow
	if err := sc.Scan(&r.SessionID, &r.SessionULID, &r.WorkerID, &r.SiteID, &r.CheckIn, &r.CheckOut); err != nil {
		return WorkSession{}, err
	}
	return r.toModel(), nil
}

func querySessions(ctx context.Context, q db.DBTX, query string, args ...any) ([]WorkSession, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorkSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (s *Store) HasOpen(ctx context.Context, workerID, siteID uint64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
	SELECT 1 FROM work_sessions
	WHERE worker_id = ? AND site_id = ? AND check_out IS NULL LIMIT 1`, workerID, siteID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Create inserts an open session. A concurrent open session for the same
// worker and site surfaces as a MySQL duplicate-key error (uq_work_sessions_open).
func (s *Store) Create(ctx context.Context, ws *WorkSession) error {
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO work_sessions (session_ulid, worker_id, site_id, check_in)
	VALUES (?, ?, ?, ?)`, ws.SessionULID, ws.WorkerID, ws.SiteID, ws.CheckIn)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ws.SessionID = uint64(id)
	return nil
}

// CloseOpen sets check_out on the open session for worker+site.
func (s *Store) CloseOpen(ctx context.Context, workerID, siteID uint64, at time.Time) (WorkSession, error) {
	return s.close(ctx, `SELECT `+sessionColumns+` FROM work_sessions
	WHERE worker_id = ? AND site_id = ? AND check_out IS NULL
	LIMIT 1 FOR UPDATE`, at, workerID, siteID)
}

// CloseLatestOpen closes the worker's most recent open session on any site.
func (s *Store) CloseLatestOpen(ctx context.Context, workerID uint64, at time.Time) (WorkSession, error) {
	return s.close(ctx, `SELECT `+sessionColumns+` FROM work_sessions
	WHERE worker_id = ? AND check_out IS NULL
	ORDER BY check_in DESC, session_id DESC
	LIMIT 1 FOR UPDATE`, at, workerID)
}

func (s *Store) close(ctx context.Context, lockQuery string, at time.Time, args ...any) (WorkSession, error) {
	var out WorkSession
	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		ws, err := scanSession(tx.QueryRowContext(ctx, lockQuery, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return errNoOpenSession
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE work_sessions SET check_out = ? WHERE session_id = ?`, at, ws.SessionID); err != nil {
			return err
		}
		ws.CheckOut = &at
		out = ws
		return nil
	})
	return out, err
}

// ListBetween returns the worker's sessions whose check_in is in [from, to).
func (s *Store) ListBetween(ctx context.Context, workerID uint64, from, to time.Time) ([]WorkSession, error) {
	return querySessions(ctx, s.db, `SELECT `+sessionColumns+` FROM work_sessions
	WHERE worker_id = ? AND check_in >= ? AND check_in < ?
	ORDER BY check_in ASC, session_id ASC`, workerID, from, to)
}

// List: 動的WHERE + LIMIT/OFFSET（新しい順）
func (s *Store) List(ctx context.Context, q ListQuery) ([]WorkSession, int64, error) {
	var (
		buf    bytes.Buffer
		args   []any
		wheres = []string{"worker_id = ?"}
	)
	args = append(args, q.WorkerID)
	if q.SiteID != nil {
		wheres = append(wheres, "site_id = ?")
		args = append(args, *q.SiteID)
	}

	buf.WriteString(`SELECT ` + sessionColumns + ` FROM work_sessions`)
	buf.WriteString(" WHERE " + strings.Join(wheres, " AND "))
	buf.WriteString(" ORDER BY check_in DESC, session_id DESC")
	buf.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", q.Limit, q.Offset))

	out, err := querySessions(ctx, s.db, buf.String(), args...)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	cnt := "SELECT COUNT(*) FROM work_sessions WHERE " + strings.Join(wheres, " AND ")
	if err := s.db.QueryRowContext(ctx, cnt, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
