package attendance

import "time"

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
	DateLayout       = "2006-01-02"

	// アップロード写真の上限
	MaxPhotoBytes = 10 << 20
)

type CheckInRequest struct {
	WorkerCode string `json:"worker_code" binding:"required"`
	SiteID     uint64 `json:"site_id"`
}

type CheckOutRequest struct {
	WorkerCode string `json:"worker_code" binding:"required"`
	SiteID     uint64 `json:"site_id"`
}

type SessionResponse struct {
	SessionID   uint64     `json:"session_id"`
	SessionULID string     `json:"session_ulid"`
	WorkerID    uint64     `json:"worker_id"`
	SiteID      uint64     `json:"site_id"`
	CheckIn     time.Time  `json:"check_in"`
	CheckOut    *time.Time `json:"check_out"`
	Status      Status     `json:"status"`
}

// FaceSessionResponse は顔認証経由の打刻結果
type FaceSessionResponse struct {
	Session    SessionResponse `json:"session"`
	WorkerCode string          `json:"worker_code"`
	WorkerName string          `json:"worker_name"`
	Confidence float64         `json:"confidence"`
}

type FaceRegisteredResponse struct {
	WorkerID       uint64 `json:"worker_id"`
	WorkerCode     string `json:"worker_code"`
	FaceRegistered bool   `json:"face_registered"`
}

type TodayResponse struct {
	WorkerID uint64            `json:"worker_id"`
	Date     string            `json:"date"`
	Status   Status            `json:"status"`
	Sessions []SessionResponse `json:"sessions"`
}

type ListQuery struct {
	WorkerID uint64
	SiteID   *uint64
	Limit    int
	Offset   int
}
