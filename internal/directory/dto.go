package directory

// ===== Requests =====

type CreateWorkerRequest struct {
	OwnerID   uint64   `json:"owner_id" binding:"required"`
	SiteID    uint64   `json:"site_id" binding:"required"`
	FirstName string   `json:"first_name" binding:"required"`
	LastName  string   `json:"last_name" binding:"required"`
	Phone     string   `json:"phone,omitempty"`
	JobTitle  string   `json:"job_title,omitempty"`
	DailyWage *float64 `json:"daily_wage,omitempty"`
}

type PromoteRequest struct {
	OwnerID uint64 `json:"owner_id" binding:"required"`
	SiteID  uint64 `json:"site_id" binding:"required"`
}

// ===== Responses =====

type WorkerResponse struct {
	ID             uint64   `json:"id"`
	FirstName      string   `json:"first_name"`
	LastName       string   `json:"last_name"`
	Role           string   `json:"role"`
	WorkerCode     string   `json:"worker_code,omitempty"`
	DailyWage      *float64 `json:"daily_wage"`
	AssignedSiteID uint64   `json:"assigned_site_id,omitempty"`
	FaceRegistered bool     `json:"face_registered"`
	IsActive       bool     `json:"is_active"`
}
