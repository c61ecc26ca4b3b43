package triage

import (
	"slices"
	"time"
)

// OpType names an operation log entry.
type OpType string

const (
	OpEmailsAddedToReview     OpType = "emails_added_to_review"
	OpEmailsAddedToAutomation OpType = "emails_added_to_automation"
	OpEmailActionPerformed    OpType = "email_action_performed"
	OpEmailReviewAdded        OpType = "email_review_added"
	OpReviewReportAdded       OpType = "review_report_added"
)

// Operation is one entry of a job's append-only audit log. Only the fields
// relevant to Type are set.
type Operation struct {
	Type      OpType    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	EmailIDs  []string  `json:"email_ids,omitempty"`
	EmailID   string    `json:"email_id,omitempty"`
	Action    Action    `json:"action,omitempty"`
	Result    string    `json:"result,omitempty"`
	Content   string    `json:"content,omitempty"` // reply actions only
	Summary   string    `json:"summary,omitempty"`
	Report    string    `json:"report,omitempty"`
}

func (o Operation) clone() Operation {
	if o.EmailIDs != nil {
		o.EmailIDs = slices.Clone(o.EmailIDs)
	}
	return o
}

// ReplayState is the classification and result state rebuilt from a log.
type ReplayState struct {
	HumanReviewIDs    []string
	AutomationIDs     []string
	ReviewResults     map[string]string
	AutomationResults map[string]AutomationResult
	Report            string
}

// Replay rebuilds the mutable job state from an operation log alone.
func Replay(ops []Operation) ReplayState {
	st := ReplayState{
		HumanReviewIDs:    []string{},
		AutomationIDs:     []string{},
		ReviewResults:     make(map[string]string),
		AutomationResults: make(map[string]AutomationResult),
	}
	for _, op := range ops {
		switch op.Type {
		case OpEmailsAddedToReview:
			st.HumanReviewIDs = append([]string{}, op.EmailIDs...)
			pruneResults(st.ReviewResults, st.HumanReviewIDs)
		case OpEmailsAddedToAutomation:
			st.AutomationIDs = append([]string{}, op.EmailIDs...)
			pruneResults(st.AutomationResults, st.AutomationIDs)
		case OpEmailReviewAdded:
			st.ReviewResults[op.EmailID] = op.Summary
		case OpEmailActionPerformed:
			st.AutomationResults[op.EmailID] = AutomationResult{Action: op.Action, Result: op.Result}
		case OpReviewReportAdded:
			st.Report = op.Report
		}
	}
	return st
}
