package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// SubmissionType describes what a user submission proposes.
type SubmissionType string

const (
	SubmissionNewDevice       SubmissionType = "new_device"
	SubmissionCorrection      SubmissionType = "correction"
	SubmissionAdditionalInfo  SubmissionType = "additional_info"
	SubmissionDuplicateReport SubmissionType = "duplicate_report"
)

// Valid reports whether t is a known submission type.
func (t SubmissionType) Valid() bool {
	switch t {
	case SubmissionNewDevice, SubmissionCorrection, SubmissionAdditionalInfo, SubmissionDuplicateReport:
		return true
	}
	return false
}

// SubmissionStatus is the review state of a submission.
type SubmissionStatus string

const (
	SubmissionPending       SubmissionStatus = "pending"
	SubmissionApproved      SubmissionStatus = "approved"
	SubmissionRejected      SubmissionStatus = "rejected"
	SubmissionNeedsMoreInfo SubmissionStatus = "needs_more_info"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = eris.New("invalid submission transition")

// Terminal reports whether no further transitions are possible.
func (s SubmissionStatus) Terminal() bool {
	return s == SubmissionApproved || s == SubmissionRejected
}

// Approve returns the status after approval.
func (s SubmissionStatus) Approve() (SubmissionStatus, error) {
	if s != SubmissionPending {
		return s, eris.Wrapf(ErrInvalidTransition, "approve from %s", s)
	}
	return SubmissionApproved, nil
}

// Reject returns the status after rejection.
func (s SubmissionStatus) Reject() (SubmissionStatus, error) {
	if s != SubmissionPending {
		return s, eris.Wrapf(ErrInvalidTransition, "reject from %s", s)
	}
	return SubmissionRejected, nil
}

// RequestInfo returns the status after a reviewer asks for more detail.
func (s SubmissionStatus) RequestInfo() (SubmissionStatus, error) {
	if s != SubmissionPending {
		return s, eris.Wrapf(ErrInvalidTransition, "request info from %s", s)
	}
	return SubmissionNeedsMoreInfo, nil
}

// Resubmit returns the status after the submitter supplies more detail.
func (s SubmissionStatus) Resubmit() (SubmissionStatus, error) {
	if s != SubmissionNeedsMoreInfo {
		return s, eris.Wrapf(ErrInvalidTransition, "resubmit from %s", s)
	}
	return SubmissionPending, nil
}

// Submission is a user-contributed identification awaiting review.
type Submission struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id,omitempty"`
	Type          SubmissionType   `json:"submission_type"`
	Status        SubmissionStatus `json:"status"`
	Fingerprint   string           `json:"fingerprint,omitempty"`
	BrandHint     string           `json:"brand,omitempty"`
	ModelHint     string           `json:"model,omitempty"`
	CategoryHint  string           `json:"category,omitempty"`
	Raw           Result           `json:"raw_result"`
	ReviewerID    string           `json:"reviewer_id,omitempty"`
	ReviewerNotes string           `json:"reviewer_notes,omitempty"`
	DeviceID      string           `json:"device_id,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	ReviewedAt    *time.Time       `json:"reviewed_at,omitempty"`
}
