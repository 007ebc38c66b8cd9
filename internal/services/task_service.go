package services

import (
	"context"
	"encoding/json"
	"time"

	"gateway/internal/domain"
	"gateway/internal/domain/models"
	"gateway/internal/pagination"
	"gateway/internal/transport"

	"go.uber.org/zap"
)

// Operations served by the task backend and the users backend.
const (
	OpGetByID               = "GET_BY_ID"
	OpList                  = "LIST"
	OpGetStatistics         = "GET_STATISTICS"
	OpGetFeedbackStatistics = "GET_FEEDBACK_STATISTICS"
	OpListAssignments       = "LIST_ASSIGNMENTS"
	OpGetStaffStatistics    = "GET_STAFF_STATISTICS"
	OpListStaff             = "LIST_STAFF"
)

// TaskStore is the task data the backend answers from.
type TaskStore interface {
	GetByID(ctx context.Context, id string) (models.Task, error)
	List(ctx context.Context, req pagination.Request) ([]models.Task, int, error)
	Statistics(ctx context.Context, now time.Time) (models.TaskStatistics, error)
	FeedbackStatistics(ctx context.Context) (models.FeedbackStatistics, error)
	ListAssignments(ctx context.Context, staffID string) ([]models.Assignment, error)
}

// TaskService is the task backend: it owns no transport and only registers
// its operations on a mux.
type TaskService struct {
	Repo     TaskStore
	MaxLimit int
	Now      func() time.Time
	Logger   *zap.Logger
}

func (s TaskService) Register(mux *transport.Mux) {
	mux.Handle(OpGetByID, s.getByID)
	mux.Handle(OpList, s.list)
	mux.Handle(OpGetStatistics, s.statistics)
	mux.Handle(OpGetFeedbackStatistics, s.feedbackStatistics)
	mux.Handle(OpListAssignments, s.listAssignments)
}

func (s TaskService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s TaskService) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

func decode(payload json.RawMessage, out any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return domain.ValidationError{Msg: "invalid payload", Err: err}
	}
	return nil
}

type idPayload struct {
	ID string `json:"id"`
}

func (s TaskService) getByID(ctx context.Context, payload json.RawMessage) (any, error) {
	var in idPayload
	if err := decode(payload, &in); err != nil {
		return nil, err
	}
	return s.Repo.GetByID(ctx, in.ID)
}

func (s TaskService) list(ctx context.Context, payload json.RawMessage) (any, error) {
	var req pagination.Request
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	req = req.Clamp(s.MaxLimit)

	items, total, err := s.Repo.List(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger().Debug("tasks listed", zap.Int("page", req.Page), zap.Int("total", total))
	return pagination.Wrap(items, total, req.Page, req.Limit), nil
}

func (s TaskService) statistics(ctx context.Context, _ json.RawMessage) (any, error) {
	return s.Repo.Statistics(ctx, s.now())
}

func (s TaskService) feedbackStatistics(ctx context.Context, _ json.RawMessage) (any, error) {
	return s.Repo.FeedbackStatistics(ctx)
}

type assignmentsPayload struct {
	StaffID string `json:"staffId"`
}

func (s TaskService) listAssignments(ctx context.Context, payload json.RawMessage) (any, error) {
	var in assignmentsPayload
	if err := decode(payload, &in); err != nil {
		return nil, err
	}
	return s.Repo.ListAssignments(ctx, in.StaffID)
}
