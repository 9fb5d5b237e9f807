package session

import (
	"encoding/json"
	"time"
)

// RunOutcome is the terminal result of one generation run.
type RunOutcome string

const (
	RunCompleted RunOutcome = "completed"
	RunFailed    RunOutcome = "failed"
)

// Run is the history record of one generation request, written once the
// request has finished either way.
type Run struct {
	ID                  string
	Model               string
	UseComponentLibrary bool
	ImageRef            string
	Outcome             RunOutcome
	CodeLength          int
	Error               string
	StartedAt           time.Time
	FinishedAt          time.Time
	Metadata            RunMetadata
}

func (r *Run) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

type RunMetadata struct {
	Backend    string `json:"backend,omitempty"`
	ChunkCount int    `json:"chunk_count,omitempty"`
}

func (m *RunMetadata) ToJSON() string {
	data, _ := json.Marshal(m)
	return string(data)
}

func ParseRunMetadata(data string) RunMetadata {
	var m RunMetadata
	if data != "" {
		json.Unmarshal([]byte(data), &m)
	}
	return m
}
