package models

type Staff struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Position   string `json:"position,omitempty"`
	Department string `json:"department,omitempty"`
	Active     bool   `json:"active"`
}

type StaffStatistics struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}
