package directory

import (
	"database/sql"
	"strings"

	"golang.org/x/text/unicode/norm"
)

type Role string

const (
	RoleOwner   Role = "owner"
	RoleManager Role = "construction_manager"
	RoleWorker  Role = "worker"
)

const WorkerCodePrefix = "WRK"

// Worker は users テーブルの1行（作業員・現場監督）
type Worker struct {
	ID             uint64
	FirstName      string
	LastName       string
	Role           Role
	CreatedBy      uint64
	AssignedSiteID uint64
	WorkerCode     string
	DailyWage      *float64
	FaceRegistered bool
	IsActive       bool
}

func (w Worker) DisplayName() string {
	return strings.TrimSpace(w.FirstName + " " + w.LastName)
}

type Site struct {
	ID        uint64
	OwnerID   uint64
	Name      string
	ManagerID *uint64
}

// DB行（スキャン用）
type workerRow struct {
	ID             uint64
	FirstName      string
	LastName       string
	Role           string
	CreatedBy      sql.NullInt64
	AssignedSiteID sql.NullInt64
	WorkerCode     sql.NullString
	DailyWage      sql.NullFloat64
	FaceRegistered bool
	IsActive       bool
}

func (r workerRow) toModel() Worker {
	w := Worker{
		ID:             r.ID,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		Role:           Role(r.Role),
		FaceRegistered: r.FaceRegistered,
		IsActive:       r.IsActive,
	}
	if r.CreatedBy.Valid {
		w.CreatedBy = uint64(r.CreatedBy.Int64)
	}
	if r.AssignedSiteID.Valid {
		w.AssignedSiteID = uint64(r.AssignedSiteID.Int64)
	}
	if r.WorkerCode.Valid {
		w.WorkerCode = r.WorkerCode.String
	}
	if r.DailyWage.Valid {
		v := r.DailyWage.Float64
		w.DailyWage = &v
	}
	return w
}

// NormalizeWorkerCode folds full-width input (ＷＲＫ００１) and case so
// codes typed on phones match the stored form.
func NormalizeWorkerCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(norm.NFKC.String(s)))
}
