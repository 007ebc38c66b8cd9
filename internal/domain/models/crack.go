package models

type CrackStatistics struct {
	Total      int            `json:"total"`
	Pending    int            `json:"pending"`
	Reviewing  int            `json:"reviewing"`
	Resolved   int            `json:"resolved"`
	BySeverity map[string]int `json:"bySeverity"`
}
