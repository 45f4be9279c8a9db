package attendance

import (
	"database/sql"
	"time"
)

type Status string

const (
	StatusPresent    Status = "Present"
	StatusCheckedOut Status = "CheckedOut"
	StatusAbsent     Status = "Absent"
)

// DB行に対応（スキャン用）
type sessionRow struct {
	SessionID   uint64
	SessionULID string
	WorkerID    uint64
	SiteID      uint64
	CheckIn     time.Time
	CheckOut    sql.NullTime
}

// WorkSession は check_out が nil の間「開いている」
type WorkSession struct {
	SessionID   uint64
	SessionULID string
	WorkerID    uint64
	SiteID      uint64
	CheckIn     time.Time
	CheckOut    *time.Time
}

func (r sessionRow) toModel() WorkSession {
	s := WorkSession{
		SessionID:   r.SessionID,
		SessionULID: r.SessionULID,
		WorkerID:    r.WorkerID,
		SiteID:      r.SiteID,
		CheckIn:     r.CheckIn.UTC(),
	}
	if r.CheckOut.Valid {
		t := r.CheckOut.Time.UTC()
		s.CheckOut = &t
	}
	return s
}

func (s WorkSession) Open() bool { return s.CheckOut == nil }

func (s WorkSession) Status() Status {
	if s.Open() {
		return StatusPresent
	}
	return StatusCheckedOut
}

func (s WorkSession) toDTO() SessionResponse {
	return SessionResponse{
		SessionID:   s.SessionID,
		SessionULID: s.SessionULID,
		WorkerID:    s.WorkerID,
		SiteID:      s.SiteID,
		CheckIn:     s.CheckIn,
		CheckOut:    s.CheckOut,
		Status:      s.Status(),
	}
}
