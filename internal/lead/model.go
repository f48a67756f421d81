// Package lead manages consultation leads, their assignment to counselors
// and bulk CSV imports. Every call runs through the demo-scoped client of
// the request.
package lead

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leadcrm/crm/internal/platform"
)

const (
	Table            = "leads"
	AssignmentsTable = "lead_assignments"
)

var (
	ErrNotFound          = errors.New("lead not found")
	ErrInvalidStatus     = errors.New("invalid lead status")
	ErrCounselorNotFound = errors.New("counselor not found")
)

type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusClosed     Status = "closed"
)

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusNew, StatusInProgress, StatusCompleted, StatusClosed:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// Lead is a prospective customer.
type Lead struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone"`
	Email       *string   `json:"email,omitempty"`
	Source      *string   `json:"source,omitempty"`
	Status      Status    `json:"status"`
	CounselorID *string   `json:"counselor_id,omitempty"`
	Memo        *string   `json:"memo,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Assignment is one entry of the assignment history.
type Assignment struct {
	ID          string    `json:"id"`
	LeadID      string    `json:"lead_id"`
	CounselorID string    `json:"counselor_id"`
	AssignedBy  string    `json:"assigned_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// Stats are the dashboard counters.
type Stats struct {
	Total      int64 `json:"total"`
	Unassigned int64 `json:"unassigned"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
}

// CounselorLoad is a row of the consulting monitor.
type CounselorLoad struct {
	CounselorID string `json:"counselor_id"`
	FullName    string `json:"full_name"`
	Total       int64  `json:"total"`
	InProgress  int64  `json:"in_progress"`
	Completed   int64  `json:"completed"`
}

func fromRow(r platform.Row) Lead {
	l := Lead{
		ID:          str(r["id"]),
		Name:        str(r["name"]),
		Phone:       str(r["phone"]),
		Email:       optStr(r["email"]),
		Source:      optStr(r["source"]),
		Status:      Status(str(r["status"])),
		CounselorID: optStr(r["counselor_id"]),
		Memo:        optStr(r["memo"]),
	}
	if l.Status == "" {
		l.Status = StatusNew
	}
	if t, ok := r["created_at"].(time.Time); ok {
		l.CreatedAt = t
	}
	if t, ok := r["updated_at"].(time.Time); ok {
		l.UpdatedAt = t
	}
	return l
}

func assignmentFromRow(r platform.Row) Assignment {
	a := Assignment{
		ID:          str(r["id"]),
		LeadID:      str(r["lead_id"]),
		CounselorID: str(r["counselor_id"]),
		AssignedBy:  str(r["assigned_by"]),
	}
	if t, ok := r["created_at"].(time.Time); ok {
		a.CreatedAt = t
	}
	return a
}

func str(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

func optStr(v any) *string {
	if v == nil {
		return nil
	}
	s := str(v)
	return &s
}
