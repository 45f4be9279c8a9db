package directory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"sitecrew-backend/internal/platform/db"
)

// ===== Error model =====
type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeInternal        Code = "INTERNAL"
)

type APIError struct {
	Code    Code
	Message string
}

func (e *APIError) Error() string      { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError { return &APIError{Code: CodeConflict, Message: msg} }
func ErrInternal(msg string) *APIError { return &APIError{Code: CodeInternal, Message: msg} }

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
		default:
			return 500
		}
	}
	return 500
}

// writer は Store の書き込み系（テストで差し替え）
type writer interface {
	insertWorker(ctx context.Context, in newWorker) (Worker, error)
	promote(ctx context.Context, ownerID, workerID, siteID uint64) (Worker, error)
}

type Service struct {
	store writer
}

func NewService(store *Store) *Service { return &Service{store: store} }

// 採番の競合（同時作成）は数回までリトライ
const createRetries = 3

func (s *Service) CreateWorker(ctx context.Context, in CreateWorkerRequest) (WorkerResponse, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if in.OwnerID == 0 || in.SiteID == 0 || in.FirstName == "" || in.LastName == "" {
		return WorkerResponse{}, ErrInvalid("owner_id, site_id, first_name, last_name are required")
	}
	if in.DailyWage != nil && *in.DailyWage < 0 {
		return WorkerResponse{}, ErrInvalid("daily_wage must be >= 0")
	}

	nw := newWorker{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Phone:     in.Phone,
		JobTitle:  in.JobTitle,
		DailyWage: in.DailyWage,
		OwnerID:   in.OwnerID,
		SiteID:    in.SiteID,
	}

	var lastErr error
	for i := 0; i < createRetries; i++ {
		w, err := s.store.insertWorker(ctx, nw)
		if err == nil {
			log.Printf("[INFO] worker created id=%d code=%s site=%d", w.ID, w.WorkerCode, in.SiteID)
			return toWorkerResponse(w), nil
		}
		var api *APIError
		if errors.As(err, &api) {
			return WorkerResponse{}, err
		}
		if !db.IsDuplicateKey(err) && !db.IsRetryableLock(err) {
			log.Printf("[ERROR] create worker: %v", err)
			return WorkerResponse{}, ErrInternal("failed to create worker")
		}
		lastErr = err
	}
	log.Printf("[WARN] create worker: code allocation kept colliding: %v", lastErr)
	return WorkerResponse{}, ErrConflict("worker code allocation conflict, retry")
}

func (s *Service) PromoteToManager(ctx context.Context, workerID uint64, in PromoteRequest) (WorkerResponse, error) {
	if workerID == 0 || in.OwnerID == 0 || in.SiteID == 0 {
		return WorkerResponse{}, ErrInvalid("worker_id, owner_id, site_id are required")
	}
	w, err := s.store.promote(ctx, in.OwnerID, workerID, in.SiteID)
	if err != nil {
		var api *APIError
		if errors.As(err, &api) {
			return WorkerResponse{}, err
		}
		if db.IsDuplicateKey(err) {
			return WorkerResponse{}, ErrConflict("this site already has a manager")
		}
		log.Printf("[ERROR] promote worker=%d site=%d: %v", workerID, in.SiteID, err)
		return WorkerResponse{}, ErrInternal("failed to promote worker")
	}
	log.Printf("[INFO] worker %d promoted to manager of site %d", workerID, in.SiteID)
	return toWorkerResponse(w), nil
}

func toWorkerResponse(w Worker) WorkerResponse {
	return WorkerResponse{
		ID:             w.ID,
		FirstName:      w.FirstName,
		LastName:       w.LastName,
		Role:           string(w.Role),
		WorkerCode:     w.WorkerCode,
		DailyWage:      w.DailyWage,
		AssignedSiteID: w.AssignedSiteID,
		FaceRegistered: w.FaceRegistered,
		IsActive:       w.IsActive,
	}
}
