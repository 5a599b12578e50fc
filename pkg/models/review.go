package models

import "time"

// ReviewReason records why a human review was opened.
type ReviewReason string

const (
	// ReasonQAExhausted means the QA loop ran out of iterations.
	ReasonQAExhausted ReviewReason = "qa_exhausted"
	// ReasonMergeConflict means the task branch would not merge cleanly.
	ReasonMergeConflict ReviewReason = "merge_conflict"
	// ReasonTaskFailure means the task failed in a way worth human eyes.
	ReasonTaskFailure ReviewReason = "task_failure"
	// ReasonManual means a human requested the review explicitly.
	ReasonManual ReviewReason = "manual"
)

// ReviewStatus is the decision state of a review.
type ReviewStatus string

const (
	// ReviewPending means no decision has been made.
	ReviewPending ReviewStatus = "pending"
	// ReviewApproved means the work was accepted.
	ReviewApproved ReviewStatus = "approved"
	// ReviewRejected means the work was declined.
	ReviewRejected ReviewStatus = "rejected"
)

// Review is a human-gated decision used to resolve escalations.
type Review struct {
	// ID is the unique identifier for this review.
	ID string `json:"id"`
	// TaskID is the task under review.
	TaskID string `json:"task_id"`
	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`
	// Reason records why the review was opened.
	Reason ReviewReason `json:"reason"`
	// Context carries details a reviewer needs (errors, conflict files).
	Context string `json:"context,omitempty"`
	// Status is the decision state.
	Status ReviewStatus `json:"status"`
	// CreatedAt is when the review was opened.
	CreatedAt time.Time `json:"created_at"`
	// ResolvedAt is when the decision was made, if it has been.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	// Resolution holds the approver's note or rejecter's feedback.
	Resolution string `json:"resolution,omitempty"`
}
