package triage

import "time"

// Status is the externally visible state of a job.
type Status string

const (
	// StatusInitialized means the job was accepted but has not started
	StatusInitialized Status = "initialized"

	// StatusProcessing means a stage is running or emails remain unclassified
	StatusProcessing Status = "processing"

	// StatusCompleted means every email is classified. Automation may still
	// be running until the stage is terminal.
	StatusCompleted Status = "completed"

	// StatusError means the job finished with a failure
	StatusError Status = "error"
)

// Stage tracks the controller's position in the pipeline.
type Stage string

const (
	StageInitialized Stage = "initialized"
	StageClassifying Stage = "classifying"
	StageHandoff     Stage = "handoff"
	StageAutomating  Stage = "automating"
	StageCompleted   Stage = "completed"
	StageError       Stage = "error"
)

// Terminal reports whether no further transitions can happen.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageError
}

// Action is what the automation stage did with an email.
type Action string

const (
	ActionReply       Action = "reply"
	ActionUnsubscribe Action = "unsubscribe"
)

// AutomationResult is the recorded outcome for one automated email.
type AutomationResult struct {
	Action Action `json:"action"`
	Result string `json:"result"`
}

// Statistics are the job counters. ProcessedEmails is the sum of the two
// classification sets, which are disjoint.
type Statistics struct {
	TotalEmails      int `json:"total_emails"`
	ProcessedEmails  int `json:"processed_emails"`
	HumanReviewCount int `json:"human_review_count"`
	AutomationCount  int `json:"automation_count"`
}

// Snapshot is the read-only projection of a job returned to pollers.
//
// Status follows the classification counters: it reads completed as soon as
// every email is classified, which can be while automation is still running.
// Stage is what marks the end of a job; poll until Terminal reports true.
type Snapshot struct {
	JobID  string `json:"job_id"`
	Status Status `json:"status"`
	Stage  Stage  `json:"stage"`
	Statistics
	ReviewReport      string                      `json:"review_report"`
	ReviewResults     map[string]string           `json:"review_results"`
	AutomationResults map[string]AutomationResult `json:"automation_results"`
	Operations        []Operation                 `json:"operations"`
	Error             string                      `json:"error,omitempty"`
	Warnings          []string                    `json:"warnings,omitempty"`
	TokensUsed        int                         `json:"tokens_used,omitempty"`
	ToolCalls         int                         `json:"tool_calls,omitempty"`
	CreatedAt         time.Time                   `json:"created_at"`
	StartedAt         time.Time                   `json:"started_at,omitzero"`
	CompletedAt       time.Time                   `json:"completed_at,omitzero"`
}

// Terminal reports whether the snapshot describes a finished job.
func (s *Snapshot) Terminal() bool {
	return s.Stage.Terminal()
}
