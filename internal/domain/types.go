package domain

import (
	"sort"
	"strings"
)

// Backend identifies one independently deployed service behind the gateway.
type Backend string

const (
	BackendUsers         Backend = "users"
	BackendBuildings     Backend = "buildings"
	BackendTasks         Backend = "tasks"
	BackendSchedules     Backend = "schedules"
	BackendCracks        Backend = "cracks"
	BackendNotifications Backend = "notifications"
)

var backends = []Backend{
	BackendUsers,
	BackendBuildings,
	BackendTasks,
	BackendSchedules,
	BackendCracks,
	BackendNotifications,
}

// Backends returns the closed set of known backends in a stable order.
func Backends() []Backend {
	out := make([]Backend, len(backends))
	copy(out, backends)
	return out
}

// ParseBackend accepts a backend name in any case.
func ParseBackend(s string) (Backend, bool) {
	b := Backend(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range backends {
		if known == b {
			return b, true
		}
	}
	return "", false
}

func (b Backend) String() string { return string(b) }

// EnvPrefix is the upper-case prefix used for the backend's settings, e.g. TASKS_QUEUE.
func (b Backend) EnvPrefix() string { return strings.ToUpper(string(b)) }

// SortBackends orders a slice of backends by name in place.
func SortBackends(list []Backend) {
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
}
