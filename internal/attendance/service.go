package attendance

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	ulid "github.com/oklog/ulid/v2"

	"sitecrew-backend/internal/directory"
	"sitecrew-backend/internal/facematch"
	"sitecrew-backend/internal/platform/db"
)

// ===== Error model (directory/summary と同型) =====
type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeInternal        Code = "INTERNAL"
)

type APIError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string         { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError     { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError    { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError    { return &APIError{Code: CodeConflict, Message: msg} }
func ErrUnavailable(msg string) *APIError { return &APIError{Code: CodeUnavailable, Message: msg} }
func ErrInternal(msg string) *APIError    { return &APIError{Code: CodeInternal, Message: msg} }

func toHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return 400
		case CodeNotFound:
			return 404
		case CodeConflict:
			return 409
		case CodeUnavailable:
			return 503
		default:
			return 500
		}
	}
	return 500
}

// ---- Clock & ID ----

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type IDGen interface{ NewULID(t time.Time) string }
type ulidGen struct{}

func (ulidGen) NewULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ---- collaborators ----

type Directory interface {
	WorkerByCode(ctx context.Context, code string) (*directory.Worker, error)
	WorkerByID(ctx context.Context, id uint64) (*directory.Worker, error)
	SiteByID(ctx context.Context, id uint64) (*directory.Site, error)
	MarkFaceRegistered(ctx context.Context, id uint64) error
}

type SessionStore interface {
	HasOpen(ctx context.Context, workerID, siteID uint64) (bool, error)
	Create(ctx context.Context, ws *WorkSession) error
	CloseOpen(ctx context.Context, workerID, siteID uint64, at time.Time) (WorkSession, error)
	CloseLatestOpen(ctx context.Context, workerID uint64, at time.Time) (WorkSession, error)
	ListBetween(ctx context.Context, workerID uint64, from, to time.Time) ([]WorkSession, error)
	List(ctx context.Context, q ListQuery) ([]WorkSession, int64, error)
}

type FaceMatcher interface {
	Match(ctx context.Context, photo []byte) (facematch.Match, error)
	Enroll(ctx context.Context, workerCode string, photo []byte) error
}

const DefaultMinConfidence = 0.6

// ===== Service =====

type Service struct {
	dir           Directory
	store         SessionStore
	face          FaceMatcher
	clock         Clock
	id            IDGen
	minConfidence float64
}

func NewService(conn *sql.DB, dir Directory, face FaceMatcher, minConfidence float64) *Service {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Service{
		dir:           dir,
		store:         NewStore(conn),
		face:          face,
		clock:         realClock{},
		id:            ulidGen{},
		minConfidence: minConfidence,
	}
}

// POST /attendance/check-in
func (s *Service) CheckIn(ctx context.Context, in CheckInRequest) (SessionResponse, error) {
	w, err := s.workerByCode(ctx, in.WorkerCode)
	if err != nil {
		return SessionResponse{}, err
	}
	ws, err := s.openSession(ctx, w, in.SiteID)
	if err != nil {
		return SessionResponse{}, err
	}
	return ws.toDTO(), nil
}

// POST /attendance/check-out
func (s *Service) CheckOut(ctx context.Context, in CheckOutRequest) (SessionResponse, error) {
	w, err := s.workerByCode(ctx, in.WorkerCode)
	if err != nil {
		return SessionResponse{}, err
	}
	if in.SiteID == 0 {
		return SessionResponse{}, ErrInvalid("site_id is required")
	}
	ws, err := s.closeSession(ctx, w, in.SiteID)
	if err != nil {
		return SessionResponse{}, err
	}
	return ws.toDTO(), nil
}

// POST /attendance/checkin-face
func (s *Service) CheckInByFace(ctx context.Context, photo []byte, siteID uint64) (FaceSessionResponse, error) {
	if siteID == 0 {
		return FaceSessionResponse{}, ErrInvalid("site_id is required")
	}
	w, m, err := s.workerByFace(ctx, photo)
	if err != nil {
		return FaceSessionResponse{}, err
	}
	ws, err := s.openSession(ctx, w, siteID)
	if err != nil {
		return FaceSessionResponse{}, err
	}
	return faceResponse(ws, w, m), nil
}

// POST /attendance/checkout-face
// siteID == 0 は最新の開いたセッションを閉じる
func (s *Service) CheckOutByFace(ctx context.Context, photo []byte, siteID uint64) (FaceSessionResponse, error) {
	w, m, err := s.workerByFace(ctx, photo)
	if err != nil {
		return FaceSessionResponse{}, err
	}
	ws, err := s.closeSession(ctx, w, siteID)
	if err != nil {
		return FaceSessionResponse{}, err
	}
	return faceResponse(ws, w, m), nil
}

// POST /attendance/register-face
func (s *Service) RegisterFace(ctx context.Context, workerCode string, photo []byte) (FaceRegisteredResponse, error) {
	w, err := s.workerByCode(ctx, workerCode)
	if err != nil {
		return FaceRegisteredResponse{}, err
	}
	if err := s.face.Enroll(ctx, w.WorkerCode, photo); err != nil {
		return FaceRegisteredResponse{}, faceError(err)
	}
	if err := s.dir.MarkFaceRegistered(ctx, w.ID); err != nil {
		var dirErr *directory.APIError
		if errors.As(err, &dirErr) && dirErr.Code == directory.CodeNotFound {
			return FaceRegisteredResponse{}, ErrNotFound("worker not found")
		}
		log.Printf("[ERROR] mark face registered worker=%d: %v", w.ID, err)
		return FaceRegisteredResponse{}, ErrInternal("failed to update worker")
	}
	log.Printf("[INFO] face registered worker=%d code=%s", w.ID, w.WorkerCode)
	return FaceRegisteredResponse{WorkerID: w.ID, WorkerCode: w.WorkerCode, FaceRegistered: true}, nil
}

// GET /attendance/today
func (s *Service) Today(ctx context.Context, workerID uint64) (TodayResponse, error) {
	if workerID == 0 {
		return TodayResponse{}, ErrInvalid("worker_id is required")
	}
	w, err := s.dir.WorkerByID(ctx, workerID)
	if err != nil {
		log.Printf("[ERROR] worker lookup id=%d: %v", workerID, err)
		return TodayResponse{}, ErrInternal("failed to look up worker")
	}
	if w == nil {
		return TodayResponse{}, ErrNotFound("worker not found")
	}
	if !w.IsActive {
		return TodayResponse{}, ErrInvalid("worker is inactive")
	}

	now := s.clock.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	sessions, err := s.store.ListBetween(ctx, workerID, start, start.AddDate(0, 0, 1))
	if err != nil {
		log.Printf("[ERROR] list today sessions worker=%d: %v", workerID, err)
		return TodayResponse{}, ErrInternal("failed to load sessions")
	}

	out := TodayResponse{
		WorkerID: workerID,
		Date:     start.Format(DateLayout),
		Status:   StatusAbsent,
		Sessions: make([]SessionResponse, 0, len(sessions)),
	}
	if len(sessions) > 0 {
		out.Status = StatusCheckedOut
	}
	for _, ws := range sessions {
		if ws.Open() {
			out.Status = StatusPresent
		}
		out.Sessions = append(out.Sessions, ws.toDTO())
	}
	return out, nil
}

// GET /attendance/sessions
func (s *Service) ListSessions(ctx context.Context, q ListQuery) ([]SessionResponse, int64, error) {
	if q.WorkerID == 0 {
		return nil, 0, ErrInvalid("worker_id is required")
	}
	if q.Limit <= 0 {
		q.Limit = DefaultPageLimit
	}
	if q.Limit > MaxPageLimit {
		q.Limit = MaxPageLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	rows, total, err := s.store.List(ctx, q)
	if err != nil {
		log.Printf("[ERROR] list sessions worker=%d: %v", q.WorkerID, err)
		return nil, 0, ErrInternal("failed to list sessions")
	}
	out := make([]SessionResponse, 0, len(rows))
	for i := 0; i < len(rows); i++ {
		out = append(out, rows[i].toDTO())
	}
	return out, total, nil
}

// ===== internals =====

func (s *Service) workerByCode(ctx context.Context, raw string) (*directory.Worker, error) {
	code := directory.NormalizeWorkerCode(raw)
	if code == "" {
		return nil, ErrInvalid("worker_code is required")
	}
	w, err := s.dir.WorkerByCode(ctx, code)
	if err != nil {
		log.Printf("[ERROR] worker lookup code=%s: %v", code, err)
		return nil, ErrInternal("failed to look up worker")
	}
	if w == nil {
		return nil, ErrNotFound("worker not found")
	}
	return w, nil
}

// workerByFace resolves the photo to a worker. Low confidence and an
// unregistered face are both BadRequest with different messages.
func (s *Service) workerByFace(ctx context.Context, photo []byte) (*directory.Worker, facematch.Match, error) {
	m, err := s.face.Match(ctx, photo)
	if err != nil {
		return nil, facematch.Match{}, faceError(err)
	}
	if m.WorkerCode == "" {
		return nil, m, ErrInvalid("face not recognized")
	}
	if m.Confidence < s.minConfidence {
		log.Printf("[INFO] face match rejected code=%s confidence=%.2f", m.WorkerCode, m.Confidence)
		return nil, m, ErrInvalid(fmt.Sprintf("face match confidence too low (%.2f)", m.Confidence))
	}
	w, err := s.workerByCode(ctx, m.WorkerCode)
	if err != nil {
		return nil, m, err
	}
	if !w.FaceRegistered {
		return nil, m, ErrInvalid("worker has no registered face")
	}
	return w, m, nil
}

func (s *Service) openSession(ctx context.Context, w *directory.Worker, siteID uint64) (WorkSession, error) {
	if siteID == 0 {
		return WorkSession{}, ErrInvalid("site_id is required")
	}
	if !w.IsActive {
		return WorkSession{}, ErrInvalid("worker is inactive")
	}
	site, err := s.dir.SiteByID(ctx, siteID)
	if err != nil {
		log.Printf("[ERROR] site lookup id=%d: %v", siteID, err)
		return WorkSession{}, ErrInternal("failed to look up site")
	}
	if site == nil {
		return WorkSession{}, ErrNotFound("site not found")
	}

	open, err := s.store.HasOpen(ctx, w.ID, siteID)
	if err != nil {
		log.Printf("[ERROR] open session lookup worker=%d site=%d: %v", w.ID, siteID, err)
		return WorkSession{}, ErrInternal("failed to check open session")
	}
	if open {
		return WorkSession{}, ErrConflict("already checked in at this site")
	}

	now := s.clock.Now().UTC()
	ws := WorkSession{
		SessionULID: s.id.NewULID(now),
		WorkerID:    w.ID,
		SiteID:      siteID,
		CheckIn:     now,
	}
	err = s.store.Create(ctx, &ws)
	if db.IsRetryableLock(err) {
		// デッドロック/ロック待ちは1回だけ再試行
		err = s.store.Create(ctx, &ws)
	}
	if err != nil {
		// 事前チェックをすり抜けた同時チェックインは UNIQUE で弾かれる
		if db.IsDuplicateKey(err) {
			return WorkSession{}, ErrConflict("already checked in at this site")
		}
		log.Printf("[ERROR] create session worker=%d site=%d: %v", w.ID, siteID, err)
		return WorkSession{}, ErrInternal("failed to check in")
	}
	log.Printf("[INFO] check-in worker=%d site=%d session=%s", w.ID, siteID, ws.SessionULID)
	return ws, nil
}

func (s *Service) closeSession(ctx context.Context, w *directory.Worker, siteID uint64) (WorkSession, error) {
	now := s.clock.Now().UTC()

	var (
		ws  WorkSession
		err error
	)
	if siteID == 0 {
		ws, err = s.store.CloseLatestOpen(ctx, w.ID, now)
	} else {
		ws, err = s.store.CloseOpen(ctx, w.ID, siteID, now)
	}
	if errors.Is(err, errNoOpenSession) {
		return WorkSession{}, ErrNotFound("no open session")
	}
	if err != nil {
		log.Printf("[ERROR] close session worker=%d site=%d: %v", w.ID, siteID, err)
		return WorkSession{}, ErrInternal("failed to check out")
	}
	log.Printf("[INFO] check-out worker=%d site=%d session=%s", w.ID, ws.SiteID, ws.SessionULID)
	return ws, nil
}

func faceError(err error) error {
	switch {
	case errors.Is(err, facematch.ErrBadPhoto):
		return ErrInvalid("unreadable photo")
	case errors.Is(err, facematch.ErrNoFace):
		return ErrInvalid("no face detected in photo")
	default:
		log.Printf("[WARN] face matcher: %v", err)
		return ErrUnavailable("face matcher unavailable")
	}
}

func faceResponse(ws WorkSession, w *directory.Worker, m facematch.Match) FaceSessionResponse {
	return FaceSessionResponse{
		Session:    ws.toDTO(),
		WorkerCode: w.WorkerCode,
		WorkerName: w.DisplayName(),
		Confidence: m.Confidence,
	}
}
