package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gateway/internal/db"
	"gateway/internal/domain"
	"gateway/internal/domain/models"
	"gateway/internal/pagination"
)

const (
	tasksTable       = "tasks"
	assignmentsTable = "task_assignments"
	feedbackTable    = "task_feedback"
)

// TaskRepository reads tasks, assignments and feedback for the task backend.
type TaskRepository struct {
	DB *sql.DB
}

const taskColumns = `id, building_id, title, COALESCE(description, ''), status, COALESCE(priority, ''), created_at, deadline`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (models.Task, error) {
	var (
		t        models.Task
		deadline sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.BuildingID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.CreatedAt, &deadline); err != nil {
		return models.Task{}, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.Deadline = db.TimePtr(deadline)
	return t, nil
}

func (r TaskRepository) GetByID(ctx context.Context, id string) (models.Task, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.Task{}, domain.ValidationError{Field: "id", Msg: "id is required"}
	}
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM `+tasksTable+` WHERE id = ? LIMIT 1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, domain.NotFoundError{Resource: "Task", ID: id}
	}
	if err != nil {
		return models.Task{}, domain.InternalError{Msg: "load task", Err: err}
	}
	return t, nil
}

var taskStatuses = map[string]bool{
	models.TaskStatusPending:    true,
	models.TaskStatusAssigned:   true,
	models.TaskStatusInProgress: true,
	models.TaskStatusCompleted:  true,
}

// List returns one page of tasks and the total matching count. Supported
// filters are status and buildingId; search matches title or description.
func (r TaskRepository) List(ctx context.Context, req pagination.Request) ([]models.Task, int, error) {
	where := []string{}
	args := []any{}

	if status := strings.TrimSpace(req.Filters["status"]); status != "" {
		if !taskStatuses[status] {
			return nil, 0, domain.ValidationError{Field: "status", Msg: fmt.Sprintf("invalid status %q", status)}
		}
		where = append(where, "status = ?")
		args = append(args, status)
	}
	if building := strings.TrimSpace(req.Filters["buildingId"]); building != "" {
		where = append(where, "building_id = ?")
		args = append(args, building)
	}
	if search := strings.TrimSpace(req.Search); search != "" {
		where = append(where, "(title LIKE ? OR description LIKE ?)")
		like := "%" + search + "%"
		args = append(args, like, like)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+tasksTable+clause, args...).Scan(&total); err != nil {
		return nil, 0, domain.InternalError{Msg: "count tasks", Err: err}
	}
	if total == 0 {
		return []models.Task{}, 0, nil
	}

	page := append(append([]any{}, args...), req.Limit, req.Offset())
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM `+tasksTable+clause+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, page...)
	if err != nil {
		return nil, 0, domain.InternalError{Msg: "list tasks", Err: err}
	}
	defer rows.Close()

	out := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, domain.InternalError{Msg: "scan task", Err: err}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, domain.InternalError{Msg: "list tasks", Err: err}
	}
	return out, total, nil
}

// Statistics counts tasks per status. Overdue means not completed and past
// its deadline at now.
func (r TaskRepository) Statistics(ctx context.Context, now time.Time) (models.TaskStatistics, error) {
	var s models.TaskStatistics
	err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'assigned' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'in_progress' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status <> 'completed' AND deadline IS NOT NULL AND deadline < ? THEN 1 ELSE 0 END), 0)
		FROM `+tasksTable, now.UTC()).Scan(&s.Total, &s.Pending, &s.Assigned, &s.InProgress, &s.Completed, &s.Overdue)
	if err != nil {
		return models.TaskStatistics{}, domain.InternalError{Msg: "task statistics", Err: err}
	}
	return s, nil
}

// FeedbackStatistics summarizes ratings (1 to 5). Deployments without the
// feedback table report zeroes.
func (r TaskRepository) FeedbackStatistics(ctx context.Context) (models.FeedbackStatistics, error) {
	if !db.HasTable(ctx, r.DB, feedbackTable) {
		return models.FeedbackStatistics{}, nil
	}
	var (
		s   models.FeedbackStatistics
		avg sql.NullFloat64
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(rating),
			COALESCE(SUM(CASE WHEN rating >= 4 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN rating <= 2 THEN 1 ELSE 0 END), 0)
		FROM `+feedbackTable).Scan(&s.Total, &avg, &s.Positive, &s.Negative)
	if err != nil {
		return models.FeedbackStatistics{}, domain.InternalError{Msg: "feedback statistics", Err: err}
	}
	if avg.Valid {
		s.AverageRating = avg.Float64
	}
	return s, nil
}

// ListAssignments returns assignments with the deadline of their task,
// optionally for one staff member.
func (r TaskRepository) ListAssignments(ctx context.Context, staffID string) ([]models.Assignment, error) {
	query := `
		SELECT a.id, a.task_id, a.staff_id, a.status, a.assigned_at, t.deadline, a.completed_at
		FROM ` + assignmentsTable + ` a
		JOIN ` + tasksTable + ` t ON t.id = a.task_id`
	args := []any{}
	if staffID = strings.TrimSpace(staffID); staffID != "" {
		query += ` WHERE a.staff_id = ?`
		args = append(args, staffID)
	}
	query += ` ORDER BY a.assigned_at, a.id`

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.InternalError{Msg: "list assignments", Err: err}
	}
	defer rows.Close()

	out := []models.Assignment{}
	for rows.Next() {
		var (
			a         models.Assignment
			deadline  sql.NullTime
			completed sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.TaskID, &a.StaffID, &a.Status, &a.AssignedAt, &deadline, &completed); err != nil {
			return nil, domain.InternalError{Msg: "scan assignment", Err: err}
		}
		a.AssignedAt = a.AssignedAt.UTC()
		a.Deadline = db.TimePtr(deadline)
		a.CompletedAt = db.TimePtr(completed)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.InternalError{Msg: "list assignments", Err: err}
	}
	return out, nil
}
