package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gateway/internal/domain"
	"gateway/internal/domain/models"
	"gateway/internal/gateway"
	"gateway/internal/utils"

	"go.uber.org/zap"
)

const (
	SectionTasks       = "tasks"
	SectionCracks      = "cracks"
	SectionStaff       = "staff"
	SectionFeedback    = "feedback"
	SectionStaffList   = "staffList"
	SectionAssignments = "assignments"
)

// Aggregator fans sections out and collects their outcomes.
type Aggregator interface {
	Aggregate(ctx context.Context, sections map[string]gateway.Section, perSectionTimeout time.Duration) (gateway.Result, error)
}

// DashboardService builds the maintenance dashboard from the tasks, cracks
// and users backends.
type DashboardService struct {
	Forwarder      *gateway.Forwarder
	Orchestrator   Aggregator
	SectionTimeout time.Duration
	Now            func() time.Time
	Logger         *zap.Logger
	RequestID      string
}

type FailedSection struct {
	Section    string `json:"section"`
	Kind       string `json:"kind"`
	StatusCode int    `json:"statusCode"`
	Message    any    `json:"message"`
}

type StaffPerformance struct {
	StaffID        string  `json:"staffId"`
	Name           string  `json:"name"`
	Assigned       int     `json:"assigned"`
	Completed      int     `json:"completed"`
	OnTime         int     `json:"onTime"`
	CompletionRate float64 `json:"completionRate"`
	OnTimeRate     float64 `json:"onTimeRate"`
}

// DashboardSummary always carries every block. A block whose section
// failed is zeroed and the section is listed in FailedSections.
type DashboardSummary struct {
	Tasks            models.TaskStatistics     `json:"tasks"`
	Cracks           models.CrackStatistics    `json:"cracks"`
	Staff            models.StaffStatistics    `json:"staff"`
	Feedback         models.FeedbackStatistics `json:"feedback"`
	StaffPerformance []StaffPerformance        `json:"staffPerformance"`
	Partial          bool                      `json:"partial"`
	FailedSections   []FailedSection           `json:"failedSections"`
	GeneratedAt      time.Time                 `json:"generatedAt"`
}

func (s DashboardService) sections() map[string]gateway.Section {
	f := s.Forwarder
	return map[string]gateway.Section{
		SectionTasks:       gateway.Call[models.TaskStatistics](f, domain.BackendTasks, OpGetStatistics, nil),
		SectionCracks:      gateway.Call[models.CrackStatistics](f, domain.BackendCracks, OpGetStatistics, nil),
		SectionStaff:       gateway.Call[models.StaffStatistics](f, domain.BackendUsers, OpGetStaffStatistics, nil),
		SectionFeedback:    gateway.Call[models.FeedbackStatistics](f, domain.BackendTasks, OpGetFeedbackStatistics, nil),
		SectionStaffList:   gateway.Call[[]models.Staff](f, domain.BackendUsers, OpListStaff, nil),
		SectionAssignments: gateway.Call[[]models.Assignment](f, domain.BackendTasks, OpListAssignments, nil),
	}
}

// Summary answers with a partial summary when some sections fail and with
// one *gateway.Error when all of them do.
func (s DashboardService) Summary(ctx context.Context) (DashboardSummary, error) {
	res, err := s.Orchestrator.Aggregate(ctx, s.sections(), s.SectionTimeout)
	if err != nil {
		utils.LogEvent(s.Logger, s.RequestID, "dashboard", "summary_failed", err.Error())
		return DashboardSummary{}, err
	}

	out := BuildSummary(res)
	out.GeneratedAt = s.now()
	if out.Partial {
		utils.LogEvent(s.Logger, s.RequestID, "dashboard", "summary_partial",
			"failed="+strings.Join(res.Failed(), ","))
	}
	return out, nil
}

func (s DashboardService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// BuildSummary folds an aggregation result into the dashboard shape. It
// runs after every section settled; derived fields read only settled values.
func BuildSummary(res gateway.Result) DashboardSummary {
	out := DashboardSummary{
		Partial:          res.Partial,
		StaffPerformance: []StaffPerformance{},
		FailedSections:   []FailedSection{},
	}

	out.Tasks, _ = sectionValue[models.TaskStatistics](res, SectionTasks)
	out.Cracks, _ = sectionValue[models.CrackStatistics](res, SectionCracks)
	out.Staff, _ = sectionValue[models.StaffStatistics](res, SectionStaff)
	out.Feedback, _ = sectionValue[models.FeedbackStatistics](res, SectionFeedback)
	if out.Cracks.BySeverity == nil {
		out.Cracks.BySeverity = map[string]int{}
	}

	staff, _ := sectionValue[[]models.Staff](res, SectionStaffList)
	assignments, _ := sectionValue[[]models.Assignment](res, SectionAssignments)
	out.StaffPerformance = ComputeStaffPerformance(staff, assignments)

	for _, name := range res.Failed() {
		e := res.Sections[name].Error
		out.FailedSections = append(out.FailedSections, FailedSection{
			Section:    name,
			Kind:       string(e.Kind),
			StatusCode: e.HTTPStatus,
			Message:    e.MessageValue(),
		})
	}
	return out
}

func sectionValue[T any](res gateway.Result, name string) (T, bool) {
	var zero T
	v, ok := res.Value(name)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// ComputeStaffPerformance reports one row per staff member in list order.
// Assignments of staff not in the list are ignored; absent inputs give no
// rows or zero counts.
func ComputeStaffPerformance(staff []models.Staff, assignments []models.Assignment) []StaffPerformance {
	byStaff := make(map[string][]models.Assignment, len(staff))
	for _, a := range assignments {
		byStaff[a.StaffID] = append(byStaff[a.StaffID], a)
	}

	out := make([]StaffPerformance, 0, len(staff))
	for _, st := range staff {
		row := StaffPerformance{StaffID: st.ID, Name: st.Name}
		for _, a := range byStaff[st.ID] {
			row.Assigned++
			if a.Status != models.TaskStatusCompleted && a.CompletedAt == nil {
				continue
			}
			row.Completed++
			if a.CompletedAt != nil && utils.OnOrBefore(*a.CompletedAt, a.Deadline) {
				row.OnTime++
			}
		}
		row.CompletionRate = utils.Percent(row.Completed, row.Assigned)
		row.OnTimeRate = utils.Percent(row.OnTime, row.Completed)
		out = append(out, row)
	}
	return out
}

// TopPerformers returns up to n rows ordered by completion rate, then
// on-time rate, then name.
func TopPerformers(rows []StaffPerformance, n int) []StaffPerformance {
	sorted := append([]StaffPerformance(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.CompletionRate != b.CompletionRate {
			return a.CompletionRate > b.CompletionRate
		}
		if a.OnTimeRate != b.OnTimeRate {
			return a.OnTimeRate > b.OnTimeRate
		}
		return a.Name < b.Name
	})
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func (f FailedSection) String() string {
	return fmt.Sprintf("%s: %s (%d)", f.Section, f.Kind, f.StatusCode)
}
