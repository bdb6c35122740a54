package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of an import job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether a job can no longer change state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

func ParseJobStatusFromString(s string) (JobStatus, error) {
	st := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid job status %q", ErrValidation, s)
	}
	return st, nil
}

// Job tracks the progress of one asynchronous spreadsheet import. Jobs live
// in the registry only; they are never persisted.
type Job struct {
	ID              string
	OwnerID         string
	Status          JobStatus
	Progress        int
	Message         string
	Result          *ImportResult
	Error           string
	CancelRequested bool
	CancelReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RowStatus classifies the outcome of a single spreadsheet row.
type RowStatus string

const (
	RowStatusSuccess RowStatus = "success"
	RowStatusSkipped RowStatus = "skipped"
	RowStatusFailed  RowStatus = "failed"
)

func (s RowStatus) String() string { return string(s) }

// RowResult records what happened to one spreadsheet row.
type RowResult struct {
	RowIndex      int               `json:"rowIndex"`
	OrderID       string            `json:"orderId"`
	TransactionID string            `json:"transactionId"`
	Status        RowStatus         `json:"status"`
	Reason        string            `json:"reason,omitempty"`
	StampCount    int               `json:"stampCount,omitempty"`
	OriginalRow   map[string]string `json:"originalRow,omitempty"`
}

// ImportResult is the aggregate report stored on a completed job.
type ImportResult struct {
	Total          int         `json:"total"`
	Created        int         `json:"created"`
	Skipped        int         `json:"skipped"`
	SkippedReasons []string    `json:"skippedReasons,omitempty"`
	Failed         int         `json:"failed"`
	Stamps         []string    `json:"stamps,omitempty"`
	OrderDetailIDs []string    `json:"orderDetailIds,omitempty"`
	Rows           []RowResult `json:"rows"`
}
