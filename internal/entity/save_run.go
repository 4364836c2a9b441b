package entity

import (
	"time"

	"github.com/google/uuid"
)

// SaveRun records the outcome of one reconciliation of an edited grid.
type SaveRun struct {
	ID         uuid.UUID         `json:"id"`
	RequestID  string            `json:"request_id,omitempty"`
	MatchMode  string            `json:"match_mode"`
	Changed    int               `json:"changed"`
	Updated    int               `json:"updated"`
	Failed     int               `json:"failed"`
	Failures   map[string]string `json:"failures,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}
