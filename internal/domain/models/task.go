package models

import "time"

const (
	TaskStatusPending    = "pending"
	TaskStatusAssigned   = "assigned"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
)

type Task struct {
	ID          string     `json:"id"`
	BuildingID  string     `json:"buildingId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

// Assignment links a task to the staff member working on it.
type Assignment struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"taskId"`
	StaffID     string     `json:"staffId"`
	Status      string     `json:"status"`
	AssignedAt  time.Time  `json:"assignedAt"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type TaskStatistics struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Assigned   int `json:"assigned"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
	Overdue    int `json:"overdue"`
}

type FeedbackStatistics struct {
	Total         int     `json:"total"`
	AverageRating float64 `json:"averageRating"`
	Positive      int     `json:"positive"`
	Negative      int     `json:"negative"`
}
