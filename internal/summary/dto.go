package summary

import "time"

const DateLayout = "2006-01-02"

// 1日の所定労働時間（fullDays 換算）
const HoursPerDay = 8.0

// 丸め後この額未満は 0 扱い
const salaryFloor = 0.02

const trendDays = 7

// Span は集計に必要なセッションの両端だけ
type Span struct {
	CheckIn  time.Time
	CheckOut *time.Time
}

// Hours is 0 for an open session.
func (s Span) Hours() float64 {
	if s.CheckOut == nil || s.CheckIn.IsZero() {
		return 0
	}
	d := s.CheckOut.Sub(s.CheckIn)
	if d < 0 {
		return 0
	}
	return d.Hours()
}

// Window は check_in の閉区間 [From, To]
type Window struct {
	From time.Time
	To   time.Time
}

type DailySummaryQuery struct {
	WorkerID uint64
	From     *time.Time
	To       *time.Time
}

type DailyTotal struct {
	Date       string  `json:"date"`
	TotalHours float64 `json:"total_hours"`
}

type MonthlySalaryResponse struct {
	WorkerID   uint64  `json:"worker_id"`
	Year       int     `json:"year"`
	Month      int     `json:"month"`
	TotalHours float64 `json:"total_hours"`
	FullDays   float64 `json:"full_days"`
	DailyWage  float64 `json:"daily_wage"`
	Salary     float64 `json:"salary"`
}

type PresenceBlock struct {
	TotalWorkers int `json:"total_workers"`
	Present      int `json:"present"`
	Absent       int `json:"absent"`
	Percent      int `json:"percent"`
}

type TrendPoint struct {
	Date    string `json:"date"`
	Present int    `json:"present"`
	Percent int    `json:"percent"`
}

type DashboardResponse struct {
	OwnerID     uint64        `json:"owner_id"`
	Today       PresenceBlock `json:"today"`
	Month       PresenceBlock `json:"month"`
	WeeklyTrend []TrendPoint  `json:"weekly_trend"`
}

type RosterItem struct {
	ID         uint64   `json:"id"`
	Name       string   `json:"name"`
	DailyWage  *float64 `json:"daily_wage"`
	WorkerCode string   `json:"worker_code,omitempty"`
}

type SiteAttendanceResponse struct {
	SiteID       uint64       `json:"site_id"`
	Date         string       `json:"date"`
	PresentCount int          `json:"present_count"`
	AbsentCount  int          `json:"absent_count"`
	Present      []RosterItem `json:"present"`
	Absent       []RosterItem `json:"absent"`
}
