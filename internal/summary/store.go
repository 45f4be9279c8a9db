package summary

import (
	"bytes"
	"context"
	"database/sql"
	"strings"
	"time"

	"sitecrew-backend/internal/platform/db"
)

type Store struct{ db *sql.DB }

func NewStore(conn *sql.DB) *Store { return &Store{db: conn} }

// Spans returns the worker's sessions, optionally bounded on check_in.
// from and to apply independently.
func (s *Store) Spans(ctx context.Context, workerID uint64, from, to *time.Time) ([]Span, error) {
	var (
		buf  bytes.Buffer
		args = []any{workerID}
	)
	buf.WriteString(`SELECT check_in, check_out FROM work_sessions WHERE worker_id = ?`)
	if from != nil {
		buf.WriteString(" AND check_in >= ?")
		args = append(args, from.UTC())
	}
	if to != nil {
		buf.WriteString(" AND check_in <= ?")
		args = append(args, to.UTC())
	}
	buf.WriteString(" ORDER BY check_in ASC")

	rows, err := s.db.QueryContext(ctx, buf.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Span
	for rows.Next() {
		var (
			in time.Time
			co sql.NullTime
		)
		if err := rows.Scan(&in, &co); err != nil {
			return nil, err
		}
		sp := Span{CheckIn: in.UTC()}
		if co.Valid {
			t := co.Time.UTC()
			sp.CheckOut = &t
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// PresenceCounts counts, per window, the distinct workers among
// workerIDs with a session starting inside it. All windows are read in one
// read-only transaction.
func (s *Store) PresenceCounts(ctx context.Context, workerIDs []uint64, windows []Window) ([]int, error) {
	counts := make([]int, len(windows))
	if len(workerIDs) == 0 || len(windows) == 0 {
		return counts, nil
	}

	q := `SELECT COUNT(DISTINCT worker_id) FROM work_sessions
	WHERE worker_id IN (` + placeholders(len(workerIDs)) + `) AND check_in BETWEEN ? AND ?`

	err := db.ReadOnly(ctx, s.db, func(ctx context.Context, tx db.DBTX) error {
		for i, w := range windows {
			args := make([]any, 0, len(workerIDs)+2)
			for _, id := range workerIDs {
				args = append(args, id)
			}
			args = append(args, w.From.UTC(), w.To.UTC())
			if err := tx.QueryRowContext(ctx, q, args...).Scan(&counts[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// PresentAtSite returns the distinct workers with a session at siteID
// starting inside w.
func (s *Store) PresentAtSite(ctx context.Context, siteID uint64, w Window) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT DISTINCT worker_id FROM work_sessions
	WHERE site_id = ? AND check_in BETWEEN ? AND ?`, siteID, w.From.UTC(), w.To.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
