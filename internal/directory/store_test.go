package directory

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		conn.Close()
	})
	return NewStore(conn), mock
}

var workerCols = []string{"id", "first_name", "last_name", "role", "created_by", "assigned_site_id",
	"worker_code", "daily_wage", "face_registered", "is_active"}

func TestOwnerRosterQuery(t *testing.T) {
	s, mock := newMockStore(t)

	// 稼働中のみ、名簿 ∪ 現場監督
	mock.ExpectQuery(`FROM users u\s+WHERE u\.is_active = 1\s+AND u\.id IN \(\s*` +
		`SELECT sw\.user_id FROM site_workers sw JOIN sites s ON s\.id = sw\.site_id WHERE s\.owner_id = \?\s+` +
		`UNION\s+SELECT s\.manager_id FROM sites s WHERE s\.owner_id = \? AND s\.manager_id IS NOT NULL`).
		WithArgs(int64(1), int64(1)).
		WillReturnRows(sqlmock.NewRows(workerCols).
			AddRow(int64(3), "Sami", "Ben", "worker", int64(1), int64(10), "WRK001", 50.0, true, true).
			AddRow(int64(4), "Lina", "Haddad", "construction_manager", int64(1), int64(10), nil, nil, false, true))

	got, err := s.OwnerRoster(context.Background(), 1)
	if err != nil {
		t.Fatalf("OwnerRoster: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].WorkerCode != "WRK001" || got[0].DailyWage == nil || *got[0].DailyWage != 50 {
		t.Fatalf("worker = %+v", got[0])
	}
	if got[1].Role != RoleManager || got[1].WorkerCode != "" || got[1].DailyWage != nil {
		t.Fatalf("manager = %+v", got[1])
	}
}

func TestWorkerByCodeMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users u WHERE u.worker_code = ? LIMIT 1`)).
		WithArgs("WRK404").
		WillReturnRows(sqlmock.NewRows(workerCols))

	w, err := s.WorkerByCode(context.Background(), "WRK404")
	if err != nil || w != nil {
		t.Fatalf("WorkerByCode = %+v, %v; want nil, nil", w, err)
	}
}

func TestMarkFaceRegisteredUnknownWorker(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET face_registered = 1 WHERE id = ?`)).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users u WHERE u.id = ? LIMIT 1`)).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(workerCols))

	if err := s.MarkFaceRegistered(context.Background(), 9); codeOf(t, err) != CodeNotFound {
		t.Fatalf("err = %v", err)
	}
}

func TestInsertWorkerRejectsForeignSite(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT owner_id FROM sites WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(int64(99)))
	mock.ExpectRollback()

	_, err := s.insertWorker(context.Background(), newWorker{FirstName: "A", LastName: "B", OwnerID: 1, SiteID: 10})
	if codeOf(t, err) != CodeNotFound {
		t.Fatalf("err = %v", err)
	}
}

func TestInsertWorkerAssignsNextCode(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT owner_id FROM sites WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(int64(1)))
	mock.ExpectQuery(`SELECT worker_code FROM users\s+WHERE worker_code LIKE 'WRK%'.*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"worker_code"}).AddRow("WRK041"))
	mock.ExpectExec(`INSERT INTO users`).
		WithArgs("A", "B", nil, nil, "worker", int64(1), int64(10), "WRK042", nil).
		WillReturnResult(sqlmock.NewResult(77, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT IGNORE INTO site_workers (site_id, user_id) VALUES (?, ?)`)).
		WithArgs(int64(10), int64(77)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w, err := s.insertWorker(context.Background(), newWorker{FirstName: "A", LastName: "B", OwnerID: 1, SiteID: 10})
	if err != nil {
		t.Fatalf("insertWorker: %v", err)
	}
	if w.ID != 77 || w.WorkerCode != "WRK042" || w.AssignedSiteID != 10 {
		t.Fatalf("worker = %+v", w)
	}
}
