// Package summary holds the read-only views over work sessions: per-day
// hours, monthly salary, the owner dashboard and a site's daily roster.
package summary

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"sitecrew-backend/internal/directory"
)

// ===== Error model =====
type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeInternal        Code = "INTERNAL"
)

type APIError struct {
	Code    Code
	Message string
}

func (e *APIError) Error() string      { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrInternal(msg string) *APIError { return &APIError{Code: CodeInternal, Message: msg} }

func toHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return 400
		case CodeNotFound:
			return 404
		default:
			return 500
		}
	}
	return 500
}

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type Directory interface {
	WorkerByID(ctx context.Context, id uint64) (*directory.Worker, error)
	SiteByID(ctx context.Context, id uint64) (*directory.Site, error)
	OwnerRoster(ctx context.Context, ownerID uint64) ([]directory.Worker, error)
	SiteRoster(ctx context.Context, siteID uint64) ([]directory.Worker, error)
}

type SessionReader interface {
	Spans(ctx context.Context, workerID uint64, from, to *time.Time) ([]Span, error)
	PresenceCounts(ctx context.Context, workerIDs []uint64, windows []Window) ([]int, error)
	PresentAtSite(ctx context.Context, siteID uint64, w Window) ([]uint64, error)
}

type Service struct {
	dir   Directory
	store SessionReader
	clock Clock
}

func NewService(conn *sql.DB, dir Directory) *Service {
	return &Service{dir: dir, store: NewStore(conn), clock: realClock{}}
}

// GET /attendance/daily-summary
func (s *Service) DailyWorkSummary(ctx context.Context, q DailySummaryQuery) ([]DailyTotal, error) {
	if q.WorkerID == 0 {
		return nil, ErrInvalid("worker_id is required")
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return nil, ErrInvalid("to must be >= from")
	}
	spans, err := s.store.Spans(ctx, q.WorkerID, q.From, q.To)
	if err != nil {
		log.Printf("[ERROR] daily summary worker=%d: %v", q.WorkerID, err)
		return nil, ErrInternal("failed to load sessions")
	}
	return dailyTotals(spans), nil
}

// GET /attendance/monthly-salary
func (s *Service) MonthlySalary(ctx context.Context, workerID uint64, year, month int) (MonthlySalaryResponse, error) {
	if workerID == 0 {
		return MonthlySalaryResponse{}, ErrInvalid("worker_id is required")
	}
	if year < 1970 || year > 9999 || month < 1 || month > 12 {
		return MonthlySalaryResponse{}, ErrInvalid("year/month out of range")
	}
	w, err := s.dir.WorkerByID(ctx, workerID)
	if err != nil {
		log.Printf("[ERROR] worker lookup id=%d: %v", workerID, err)
		return MonthlySalaryResponse{}, ErrInternal("failed to look up worker")
	}
	if w == nil {
		return MonthlySalaryResponse{}, ErrNotFound("worker not found")
	}
	if w.DailyWage == nil {
		return MonthlySalaryResponse{}, ErrInvalid("worker has no daily wage")
	}

	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0).Add(-time.Nanosecond)
	spans, err := s.store.Spans(ctx, workerID, &from, &to)
	if err != nil {
		log.Printf("[ERROR] monthly salary worker=%d %04d-%02d: %v", workerID, year, month, err)
		return MonthlySalaryResponse{}, ErrInternal("failed to load sessions")
	}

	total := 0.0
	for _, sp := range spans {
		total += sp.Hours()
	}
	fullDays := total / HoursPerDay
	return MonthlySalaryResponse{
		WorkerID:   workerID,
		Year:       year,
		Month:      month,
		TotalHours: total,
		FullDays:   fullDays,
		DailyWage:  *w.DailyWage,
		Salary:     salary(fullDays, *w.DailyWage),
	}, nil
}

// GET /dashboard/summary
func (s *Service) DashboardSummaryForOwner(ctx context.Context, ownerID uint64) (DashboardResponse, error) {
	if ownerID == 0 {
		return DashboardResponse{}, ErrInvalid("owner_id is required")
	}
	roster, err := s.dir.OwnerRoster(ctx, ownerID)
	if err != nil {
		log.Printf("[ERROR] owner roster owner=%d: %v", ownerID, err)
		return DashboardResponse{}, ErrInternal("failed to load roster")
	}
	ids := activeIDs(roster)
	total := len(ids)

	now := s.clock.Now().UTC()
	today := startOfDay(now)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	// [0]=今日, [1]=今月, [2..]=過去7日（古い順、最後が今日）
	windows := []Window{
		{From: today, To: now},
		{From: monthStart, To: now},
	}
	for i := trendDays - 1; i >= 0; i-- {
		d := today.AddDate(0, 0, -i)
		end := d.AddDate(0, 0, 1).Add(-time.Nanosecond)
		if end.After(now) {
			end = now
		}
		windows = append(windows, Window{From: d, To: end})
	}

	counts, err := s.store.PresenceCounts(ctx, ids, windows)
	if err != nil {
		log.Printf("[ERROR] dashboard counts owner=%d: %v", ownerID, err)
		return DashboardResponse{}, ErrInternal("failed to count presence")
	}

	out := DashboardResponse{
		OwnerID:     ownerID,
		Today:       presenceBlock(total, counts[0]),
		Month:       presenceBlock(total, counts[1]),
		WeeklyTrend: make([]TrendPoint, 0, trendDays),
	}
	for i := 0; i < trendDays; i++ {
		w := windows[2+i]
		out.WeeklyTrend = append(out.WeeklyTrend, TrendPoint{
			Date:    w.From.Format(DateLayout),
			Present: counts[2+i],
			Percent: percent(counts[2+i], total),
		})
	}
	return out, nil
}

// GET /sites/:site_id/attendance/today
func (s *Service) SiteDailyAttendance(ctx context.Context, siteID uint64) (SiteAttendanceResponse, error) {
	if siteID == 0 {
		return SiteAttendanceResponse{}, ErrInvalid("site_id is required")
	}
	site, err := s.dir.SiteByID(ctx, siteID)
	if err != nil {
		log.Printf("[ERROR] site lookup id=%d: %v", siteID, err)
		return SiteAttendanceResponse{}, ErrInternal("failed to look up site")
	}
	if site == nil {
		return SiteAttendanceResponse{}, ErrNotFound("site not found")
	}
	roster, err := s.dir.SiteRoster(ctx, siteID)
	if err != nil {
		log.Printf("[ERROR] site roster site=%d: %v", siteID, err)
		return SiteAttendanceResponse{}, ErrInternal("failed to load roster")
	}

	now := s.clock.Now().UTC()
	today := startOfDay(now)
	presentIDs, err := s.store.PresentAtSite(ctx, siteID, Window{From: today, To: now})
	if err != nil {
		log.Printf("[ERROR] site presence site=%d: %v", siteID, err)
		return SiteAttendanceResponse{}, ErrInternal("failed to load sessions")
	}
	present := make(map[uint64]struct{}, len(presentIDs))
	for _, id := range presentIDs {
		present[id] = struct{}{}
	}

	out := SiteAttendanceResponse{
		SiteID:  siteID,
		Date:    today.Format(DateLayout),
		Present: []RosterItem{},
		Absent:  []RosterItem{},
	}
	seen := make(map[uint64]struct{}, len(roster))
	for _, w := range roster {
		if !w.IsActive {
			continue
		}
		if _, dup := seen[w.ID]; dup {
			continue
		}
		seen[w.ID] = struct{}{}

		item := RosterItem{ID: w.ID, Name: w.DisplayName(), DailyWage: w.DailyWage, WorkerCode: w.WorkerCode}
		if _, ok := present[w.ID]; ok {
			out.Present = append(out.Present, item)
		} else {
			out.Absent = append(out.Absent, item)
		}
	}
	out.PresentCount = len(out.Present)
	out.AbsentCount = len(out.Absent)
	return out, nil
}

// ===== helpers =====

func dailyTotals(spans []Span) []DailyTotal {
	byDate := make(map[string]float64)
	for _, sp := range spans {
		byDate[sp.CheckIn.UTC().Format(DateLayout)] += sp.Hours()
	}
	out := make([]DailyTotal, 0, len(byDate))
	for d, h := range byDate {
		out = append(out, DailyTotal{Date: d, TotalHours: h})
	}
	// YYYY-MM-DD は文字列順 = 日付順
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func salary(fullDays, dailyWage float64) float64 {
	v := round2(fullDays * dailyWage)
	if v < salaryFloor {
		return 0
	}
	return v
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func percent(n, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(n) * 100 / float64(total)))
}

func presenceBlock(total, present int) PresenceBlock {
	if present > total {
		present = total
	}
	return PresenceBlock{
		TotalWorkers: total,
		Present:      present,
		Absent:       total - present,
		Percent:      percent(present, total),
	}
}

func activeIDs(roster []directory.Worker) []uint64 {
	seen := make(map[uint64]struct{}, len(roster))
	ids := make([]uint64, 0, len(roster))
	for _, w := range roster {
		if !w.IsActive {
			continue
		}
		if _, dup := seen[w.ID]; dup {
			continue
		}
		seen[w.ID] = struct{}{}
		ids = append(ids, w.ID)
	}
	return ids
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
