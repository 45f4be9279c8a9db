package summary

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"sitecrew-backend/internal/directory"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type row struct {
	worker uint64
	site   uint64
	span   Span
}

type fakeReader struct{ rows []row }

func (f *fakeReader) add(worker, site uint64, in time.Time, hours float64) {
	sp := Span{CheckIn: in}
	if hours >= 0 {
		out := in.Add(time.Duration(hours * float64(time.Hour)))
		sp.CheckOut = &out
	}
	f.rows = append(f.rows, row{worker: worker, site: site, span: sp})
}

func (f *fakeReader) Spans(_ context.Context, workerID uint64, from, to *time.Time) ([]Span, error) {
	var out []Span
	for _, r := range f.rows {
		if r.worker != workerID {
			continue
		}
		if from != nil && r.span.CheckIn.Before(*from) {
			continue
		}
		if to != nil && r.span.CheckIn.After(*to) {
			continue
		}
		out = append(out, r.span)
	}
	return out, nil
}

func inWindow(t time.Time, w Window) bool { return !t.Before(w.From) && !t.After(w.To) }

func (f *fakeReader) PresenceCounts(_ context.Context, ids []uint64, windows []Window) ([]int, error) {
	want := make(map[uint64]bool)
	for _, id := range ids {
		want[id] = true
	}
	counts := make([]int, len(windows))
	for i, w := range windows {
		seen := make(map[uint64]bool)
		for _, r := range f.rows {
			if want[r.worker] && inWindow(r.span.CheckIn, w) {
				seen[r.worker] = true
			}
		}
		counts[i] = len(seen)
	}
	return counts, nil
}

func (f *fakeReader) PresentAtSite(_ context.Context, siteID uint64, w Window) ([]uint64, error) {
	seen := make(map[uint64]bool)
	var out []uint64
	for _, r := range f.rows {
		if r.site == siteID && inWindow(r.span.CheckIn, w) && !seen[r.worker] {
			seen[r.worker] = true
			out = append(out, r.worker)
		}
	}
	return out, nil
}

type fakeDirectory struct {
	workers map[uint64]directory.Worker
	sites   map[uint64]directory.Site
	// owner → site ids
	ownerSites map[uint64][]uint64
	// site → roster ids
	rosters map[uint64][]uint64
}

func (d *fakeDirectory) WorkerByID(_ context.Context, id uint64) (*directory.Worker, error) {
	if w, ok := d.workers[id]; ok {
		return &w, nil
	}
	return nil, nil
}

func (d *fakeDirectory) SiteByID(_ context.Context, id uint64) (*directory.Site, error) {
	if s, ok := d.sites[id]; ok {
		return &s, nil
	}
	return nil, nil
}

// OwnerRoster returns inactive users too so the service filter is exercised.
func (d *fakeDirectory) OwnerRoster(ctx context.Context, ownerID uint64) ([]directory.Worker, error) {
	var out []directory.Worker
	for _, sid := range d.ownerSites[ownerID] {
		ws, _ := d.SiteRoster(ctx, sid)
		out = append(out, ws...)
	}
	return out, nil
}

func (d *fakeDirectory) SiteRoster(_ context.Context, siteID uint64) ([]directory.Worker, error) {
	var out []directory.Worker
	for _, id := range d.rosters[siteID] {
		out = append(out, d.workers[id])
	}
	if s := d.sites[siteID]; s.ManagerID != nil {
		out = append(out, d.workers[*s.ManagerID])
	}
	return out, nil
}

var now = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func wage(v float64) *float64 { return &v }

func newService(dir *fakeDirectory, rd *fakeReader) *Service {
	return &Service{dir: dir, store: rd, clock: fakeClock{now: now}}
}

func codeOf(t *testing.T, err error) Code {
	t.Helper()
	var api *APIError
	if !errors.As(err, &api) {
		t.Fatalf("error %v is not an APIError", err)
	}
	return api.Code
}

func TestSpanHours(t *testing.T) {
	in := now
	out := in.Add(2 * time.Hour)
	if h := (Span{CheckIn: in, CheckOut: &out}).Hours(); h != 2.0 {
		t.Fatalf("closed span = %v, want 2.0", h)
	}
	if h := (Span{CheckIn: in}).Hours(); h != 0 {
		t.Fatalf("open span = %v, want 0", h)
	}
	before := in.Add(-time.Hour)
	if h := (Span{CheckIn: in, CheckOut: &before}).Hours(); h != 0 {
		t.Fatalf("inverted span = %v, want 0", h)
	}
}

func TestDailyWorkSummary(t *testing.T) {
	rd := &fakeReader{}
	d1 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	rd.add(1, 10, d1, 2)
	rd.add(1, 11, d1.Add(3*time.Hour), 1.5)
	rd.add(1, 10, d1.Add(6*time.Hour), -1) // open
	rd.add(1, 10, d2, 4)
	rd.add(2, 10, d2, 9) // other worker

	svc := newService(&fakeDirectory{}, rd)
	got, err := svc.DailyWorkSummary(context.Background(), DailySummaryQuery{WorkerID: 1})
	if err != nil {
		t.Fatalf("DailyWorkSummary: %v", err)
	}
	want := []DailyTotal{{"2026-03-01", 4}, {"2026-03-02", 3.5}}
	if len(got) != len(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	// from だけ指定
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	got, _ = svc.DailyWorkSummary(context.Background(), DailySummaryQuery{WorkerID: 1, From: &from})
	if len(got) != 1 || got[0].Date != "2026-03-02" {
		t.Fatalf("from-only = %+v", got)
	}
	// to だけ指定
	to := time.Date(2026, 3, 1, 23, 59, 59, 0, time.UTC)
	got, _ = svc.DailyWorkSummary(context.Background(), DailySummaryQuery{WorkerID: 1, To: &to})
	if len(got) != 1 || got[0].Date != "2026-03-01" {
		t.Fatalf("to-only = %+v", got)
	}

	if _, err := svc.DailyWorkSummary(context.Background(), DailySummaryQuery{WorkerID: 1, From: &from, To: &to}); codeOf(t, err) != CodeInvalidArgument {
		t.Fatalf("inverted range err = %v", err)
	}
}

func TestDailyWorkSummaryOpenSessionOnly(t *testing.T) {
	rd := &fakeReader{}
	rd.add(1, 10, now, -1)
	got, err := newService(&fakeDirectory{}, rd).DailyWorkSummary(context.Background(), DailySummaryQuery{WorkerID: 1})
	if err != nil {
		t.Fatalf("DailyWorkSummary: %v", err)
	}
	if len(got) != 1 || got[0].TotalHours != 0 {
		t.Fatalf("got %+v, want one zero-hour day", got)
	}
}

func TestMonthlySalary(t *testing.T) {
	cases := []struct {
		name       string
		wage       *float64
		hours      []float64
		wantHours  float64
		wantSalary float64
	}{
		{"one full day", wage(50), []float64{8}, 8, 50},
		{"split day", wage(50), []float64{3, 5}, 8, 50},
		{"rounding", wage(25.5), []float64{2}, 2, 6.38},
		{"near zero clamps", wage(10), []float64{0.01}, 0.01, 0},
		{"open session ignored", wage(50), []float64{8, -1}, 8, 50},
		{"no sessions", wage(50), nil, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rd := &fakeReader{}
			start := time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC)
			for i, h := range tc.hours {
				rd.add(1, 10, start.AddDate(0, 0, i), h)
			}
			// 範囲外（前月・翌月）
			rd.add(1, 10, time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC), 8)
			rd.add(1, 10, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), 8)

			dir := &fakeDirectory{workers: map[uint64]directory.Worker{1: {ID: 1, DailyWage: tc.wage, IsActive: true}}}
			got, err := newService(dir, rd).MonthlySalary(context.Background(), 1, 2026, 2)
			if err != nil {
				t.Fatalf("MonthlySalary: %v", err)
			}
			if got.TotalHours != tc.wantHours {
				t.Fatalf("total hours = %v, want %v", got.TotalHours, tc.wantHours)
			}
			if got.Salary != tc.wantSalary {
				t.Fatalf("salary = %v, want %v", got.Salary, tc.wantSalary)
			}
			if got.FullDays != tc.wantHours/HoursPerDay {
				t.Fatalf("full days = %v", got.FullDays)
			}
		})
	}
}

func TestMonthlySalaryErrors(t *testing.T) {
	dir := &fakeDirectory{workers: map[uint64]directory.Worker{
		1: {ID: 1, DailyWage: wage(50)},
		2: {ID: 2},
	}}
	svc := newService(dir, &fakeReader{})
	ctx := context.Background()

	if _, err := svc.MonthlySalary(ctx, 9, 2026, 2); codeOf(t, err) != CodeNotFound {
		t.Fatalf("unknown worker err = %v", err)
	}
	if _, err := svc.MonthlySalary(ctx, 2, 2026, 2); codeOf(t, err) != CodeInvalidArgument {
		t.Fatalf("no wage err = %v", err)
	}
	for _, m := range []int{0, 13} {
		if _, err := svc.MonthlySalary(ctx, 1, 2026, m); codeOf(t, err) != CodeInvalidArgument {
			t.Fatalf("month %d err = %v", m, err)
		}
	}
}

func ownerFixture() *fakeDirectory {
	mgr := uint64(4)
	return &fakeDirectory{
		workers: map[uint64]directory.Worker{
			1: {ID: 1, FirstName: "A", WorkerCode: "WRK001", IsActive: true, DailyWage: wage(50)},
			2: {ID: 2, FirstName: "B", WorkerCode: "WRK002", IsActive: true},
			3: {ID: 3, FirstName: "C", WorkerCode: "WRK003", IsActive: false},
			4: {ID: 4, FirstName: "M", IsActive: false},
		},
		sites: map[uint64]directory.Site{
			10: {ID: 10, OwnerID: 100},
			11: {ID: 11, OwnerID: 100, ManagerID: &mgr},
		},
		ownerSites: map[uint64][]uint64{100: {10, 11}},
		rosters:    map[uint64][]uint64{10: {1, 3}, 11: {2, 1}},
	}
}

func TestDashboardSummaryForOwner(t *testing.T) {
	rd := &fakeReader{}
	today := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	rd.add(1, 10, today, -1)                   // A open today
	rd.add(1, 10, today.AddDate(0, 0, -1), 8)  // A yesterday
	rd.add(2, 11, today.AddDate(0, 0, -2), 8)  // B two days ago
	rd.add(3, 10, today, 8)                    // C inactive
	rd.add(2, 11, today.AddDate(0, 0, -12), 8) // 先月 (2/26)

	got, err := newService(ownerFixture(), rd).DashboardSummaryForOwner(context.Background(), 100)
	if err != nil {
		t.Fatalf("DashboardSummaryForOwner: %v", err)
	}
	wantToday := PresenceBlock{TotalWorkers: 2, Present: 1, Absent: 1, Percent: 50}
	if got.Today != wantToday {
		t.Fatalf("today = %+v, want %+v", got.Today, wantToday)
	}
	wantMonth := PresenceBlock{TotalWorkers: 2, Present: 2, Absent: 0, Percent: 100}
	if got.Month != wantMonth {
		t.Fatalf("month = %+v, want %+v", got.Month, wantMonth)
	}

	if len(got.WeeklyTrend) != 7 {
		t.Fatalf("trend len = %d", len(got.WeeklyTrend))
	}
	if got.WeeklyTrend[0].Date != "2026-03-04" || got.WeeklyTrend[6].Date != "2026-03-10" {
		t.Fatalf("trend dates %s..%s", got.WeeklyTrend[0].Date, got.WeeklyTrend[6].Date)
	}
	wantPct := []int{0, 0, 0, 0, 50, 50, 50}
	for i, p := range got.WeeklyTrend {
		if p.Percent != wantPct[i] {
			t.Fatalf("trend[%d] = %+v, want percent %d", i, p, wantPct[i])
		}
	}
}

func TestDashboardNoWorkers(t *testing.T) {
	got, err := newService(&fakeDirectory{}, &fakeReader{}).DashboardSummaryForOwner(context.Background(), 7)
	if err != nil {
		t.Fatalf("DashboardSummaryForOwner: %v", err)
	}
	if got.Today != (PresenceBlock{}) || got.Month != (PresenceBlock{}) {
		t.Fatalf("empty owner = %+v", got)
	}
	for _, p := range got.WeeklyTrend {
		if p.Percent != 0 {
			t.Fatalf("trend percent = %d, want 0", p.Percent)
		}
	}
}

func TestPercentRounding(t *testing.T) {
	cases := []struct{ n, total, want int }{
		{1, 3, 33},
		{2, 3, 67},
		{1, 8, 13},
		{0, 0, 0},
		{5, 5, 100},
	}
	for _, tc := range cases {
		if got := percent(tc.n, tc.total); got != tc.want {
			t.Errorf("percent(%d,%d) = %d, want %d", tc.n, tc.total, got, tc.want)
		}
	}
}

func TestSiteDailyAttendance(t *testing.T) {
	dir := ownerFixture()
	mgr := dir.workers[4]
	mgr.IsActive = true
	dir.workers[4] = mgr

	rd := &fakeReader{}
	today := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	rd.add(2, 11, today, -1)
	rd.add(1, 10, today, -1) // A present, but at the other site
	rd.add(4, 11, today.AddDate(0, 0, -1), 8)

	got, err := newService(dir, rd).SiteDailyAttendance(context.Background(), 11)
	if err != nil {
		t.Fatalf("SiteDailyAttendance: %v", err)
	}
	if got.PresentCount != 1 || got.AbsentCount != 2 {
		t.Fatalf("present=%d absent=%d", got.PresentCount, got.AbsentCount)
	}
	if got.Present[0].ID != 2 || got.Present[0].WorkerCode != "WRK002" {
		t.Fatalf("present = %+v", got.Present)
	}
	absent := map[uint64]bool{}
	for _, it := range got.Absent {
		absent[it.ID] = true
	}
	if !absent[1] || !absent[4] {
		t.Fatalf("absent = %+v, want A and the manager", got.Absent)
	}

	if _, err := newService(dir, rd).SiteDailyAttendance(context.Background(), 99); codeOf(t, err) != CodeNotFound {
		t.Fatalf("unknown site err = %v", err)
	}
}

func TestHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rd := &fakeReader{}
	rd.add(1, 10, time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC), 8)
	r := gin.New()
	RegisterRoutes(r, newService(ownerFixture(), rd))

	cases := []struct {
		url  string
		want int
	}{
		{"/attendance/daily-summary?worker_id=1&from=2026-03-10&to=2026-03-10", http.StatusOK},
		{"/attendance/daily-summary?worker_id=1&from=yesterday", http.StatusBadRequest},
		{"/attendance/daily-summary", http.StatusBadRequest},
		{"/attendance/monthly-salary?worker_id=1&year=2026&month=3", http.StatusOK},
		{"/attendance/monthly-salary?worker_id=2&year=2026&month=3", http.StatusBadRequest},
		{"/attendance/monthly-salary?worker_id=9&year=2026&month=3", http.StatusNotFound},
		{"/attendance/monthly-salary?worker_id=1", http.StatusBadRequest},
		{"/dashboard/summary?owner_id=100", http.StatusOK},
		{"/sites/10/attendance/today", http.StatusOK},
		{"/sites/x/attendance/today", http.StatusBadRequest},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.url, nil))
		if w.Code != tc.want {
			t.Errorf("GET %s = %d, want %d (%s)", tc.url, w.Code, tc.want, w.Body)
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/attendance/daily-summary?worker_id=1&from=2026-03-10&to=2026-03-10", nil))
	var days []DailyTotal
	if err := json.Unmarshal(w.Body.Bytes(), &days); err != nil || len(days) != 1 || days[0].TotalHours != 8 {
		t.Fatalf("daily summary body = %s", w.Body)
	}
}
