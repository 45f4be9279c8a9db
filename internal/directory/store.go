package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"sitecrew-backend/internal/platform/db"
)

const workerColumns = `u.id, u.first_name, u.last_name, u.role, u.created_by, u.assigned_site_id,
	u.worker_code, u.daily_wage, u.face_registered, u.is_active`

type Store struct{ db *sql.DB }

func NewStore(conn *sql.DB) *Store { return &Store{db: conn} }

func scanWorker(sc interface{ Scan(...any) error }) (Worker, error) {
	var r workerRow
	err := sc.Scan(&r.ID, &r.FirstName, &r.LastName, &r.Role, &r.CreatedBy, &r.AssignedSiteID,
		&r.WorkerCode, &r.DailyWage, &r.FaceRegistered, &r.IsActive)
	if err != nil {
		return Worker{}, err
	}
	return r.toModel(), nil
}

func queryWorkers(ctx context.Context, q db.DBTX, query string, args ...any) ([]Worker, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// WorkerByCode returns nil, nil when no user carries code.
func (s *Store) WorkerByCode(ctx context.Context, code string) (*Worker, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM users u WHERE u.worker_code = ? LIMIT 1`, code)
	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// WorkerByID returns nil, nil when the user does not exist.
func (s *Store) WorkerByID(ctx context.Context, id uint64) (*Worker, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM users u WHERE u.id = ? LIMIT 1`, id)
	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) MarkFaceRegistered(ctx context.Context, id uint64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET face_registered = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// 既に 1 の場合も 0 件になるので存在確認し直す
		w, err := s.WorkerByID(ctx, id)
		if err != nil {
			return err
		}
		if w == nil {
			return ErrNotFound("worker not found")
		}
	}
	return nil
}

// SiteByID returns nil, nil when the site does not exist.
func (s *Store) SiteByID(ctx context.Context, id uint64) (*Site, error) {
	var (
		site    Site
		manager sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, owner_id, name, manager_id FROM sites WHERE id = ?`, id).
		Scan(&site.ID, &site.OwnerID, &site.Name, &manager)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if manager.Valid {
		m := uint64(manager.Int64)
		site.ManagerID = &m
	}
	return &site, nil
}

// OwnerRoster returns the active workers and managers across every site
// of ownerID (roster ∪ site manager), each user once.
func (s *Store) OwnerRoster(ctx context.Context, ownerID uint64) ([]Worker, error) {
	return queryWorkers(ctx, s.db, `
	SELECT `+workerColumns+`
	FROM users u
	WHERE u.is_active = 1
	AND u.id IN (
		SELECT sw.user_id FROM site_workers sw JOIN sites s ON s.id = sw.site_id WHERE s.owner_id = ?
		UNION
		SELECT s.manager_id FROM sites s WHERE s.owner_id = ? AND s.manager_id IS NOT NULL
	)
	ORDER BY u.id`, ownerID, ownerID)
}

// SiteRoster returns the active workers of siteID plus its manager.
func (s *Store) SiteRoster(ctx context.Context, siteID uint64) ([]Worker, error) {
	return queryWorkers(ctx, s.db, `
	SELECT `+workerColumns+`
	FROM users u
	WHERE u.is_active = 1
	AND u.id IN (
		SELECT sw.user_id FROM site_workers sw WHERE sw.site_id = ?
		UNION
		SELECT s.manager_id FROM sites s WHERE s.id = ? AND s.manager_id IS NOT NULL
	)
	ORDER BY u.id`, siteID, siteID)
}

// ---- writes (Tx) ----

type newWorker struct {
	FirstName string
	LastName  string
	Phone     string
	JobTitle  string
	DailyWage *float64
	OwnerID   uint64
	SiteID    uint64
}

// nextWorkerCode locks the highest WRKnnn row and returns the following code.
func nextWorkerCode(ctx context.Context, tx db.DBTX) (string, error) {
	var last sql.NullString
	err := tx.QueryRowContext(ctx, `
	SELECT worker_code FROM users
	WHERE worker_code LIKE 'WRK%'
	ORDER BY CAST(SUBSTRING(worker_code, 4) AS UNSIGNED) DESC
	LIMIT 1 FOR UPDATE`).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	n := 0
	if last.Valid {
		n, _ = strconv.Atoi(strings.TrimPrefix(last.String, WorkerCodePrefix))
	}
	return FormatWorkerCode(n + 1), nil
}

func FormatWorkerCode(n int) string {
	return fmt.Sprintf("%s%03d", WorkerCodePrefix, n)
}

func (s *Store) insertWorker(ctx context.Context, in newWorker) (Worker, error) {
	var out Worker
	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		var owner uint64
		err := tx.QueryRowContext(ctx, `SELECT owner_id FROM sites WHERE id = ? FOR UPDATE`, in.SiteID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != in.OwnerID) {
			return ErrNotFound("site not found or not owned by you")
		}
		if err != nil {
			return err
		}

		code, err := nextWorkerCode(ctx, tx)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
		INSERT INTO users (first_name, last_name, phone, job_title, role, created_by, assigned_site_id, worker_code, daily_wage, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			in.FirstName, in.LastName, nullIfEmpty(in.Phone), nullIfEmpty(in.JobTitle),
			string(RoleWorker), in.OwnerID, in.SiteID, code, in.DailyWage)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT IGNORE INTO site_workers (site_id, user_id) VALUES (?, ?)`, in.SiteID, id); err != nil {
			return err
		}

		out = Worker{
			ID:             uint64(id),
			FirstName:      in.FirstName,
			LastName:       in.LastName,
			Role:           RoleWorker,
			CreatedBy:      in.OwnerID,
			AssignedSiteID: in.SiteID,
			WorkerCode:     code,
			DailyWage:      in.DailyWage,
			IsActive:       true,
		}
		return nil
	})
	return out, err
}

func (s *Store) promote(ctx context.Context, ownerID, workerID, siteID uint64) (Worker, error) {
	var out Worker
	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		row := tx.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM users u
		WHERE u.id = ? AND u.created_by = ? AND u.role = ? AND u.is_active = 1 FOR UPDATE`,
			workerID, ownerID, string(RoleWorker))
		w, err := scanWorker(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound("worker not found")
		}
		if err != nil {
			return err
		}

		var manager sql.NullInt64
		err = tx.QueryRowContext(ctx, `SELECT manager_id FROM sites WHERE id = ? AND owner_id = ? FOR UPDATE`, siteID, ownerID).Scan(&manager)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound("site not found")
		}
		if err != nil {
			return err
		}
		if manager.Valid {
			return ErrConflict("this site already has a manager")
		}

		if _, err := tx.ExecContext(ctx, `UPDATE users SET role = ?, assigned_site_id = ? WHERE id = ?`,
			string(RoleManager), siteID, workerID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE sites SET manager_id = ? WHERE id = ?`, workerID, siteID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM site_workers WHERE site_id = ? AND user_id = ?`, siteID, workerID); err != nil {
			return err
		}

		w.Role = RoleManager
		w.AssignedSiteID = siteID
		out = w
		return nil
	})
	return out, err
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
