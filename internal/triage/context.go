package triage

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/linnemanlabs/courier/internal/email"
)

var (
	ErrDuplicateID        = errors.New("duplicate email id")
	ErrUnknownEmailID     = errors.New("unknown email id")
	ErrAlreadyAssigned    = errors.New("email already assigned to the other set")
	ErrNotInReviewSet     = errors.New("email is not assigned to human review")
	ErrNotInAutomationSet = errors.New("email is not assigned to automation")
	ErrJobFinished        = errors.New("job already finished")
)

// Context is the per-job working state: the email batch, the two
// classification sets, recorded results and the operation log. Every method
// is safe for concurrent use; mutations are serialized so the log is totally
// ordered.
type Context struct {
	mu sync.Mutex

	jobID  string
	emails []email.Record
	index  map[string]int

	reviewIDs         []string
	automationIDs     []string
	reviewResults     map[string]string
	automationResults map[string]AutomationResult
	report            string
	ops               []Operation
	warnings          []string

	status      Status
	stage       Stage
	err         string
	tokensUsed  int
	toolCalls   int
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time

	now func() time.Time
}

// NewContext creates the state for one job, seeded with records.
func NewContext(jobID string, records ...email.Record) (*Context, error) {
	c := &Context{
		jobID:             jobID,
		index:             make(map[string]int),
		reviewIDs:         []string{},
		automationIDs:     []string{},
		reviewResults:     make(map[string]string),
		automationResults: make(map[string]AutomationResult),
		ops:               []Operation{},
		status:            StatusInitialized,
		stage:             StageInitialized,
		now:               time.Now,
	}
	c.createdAt = c.now()
	if err := c.AddEmails(records...); err != nil {
		return nil, err
	}
	return c, nil
}

// JobID returns the owning job's id.
func (c *Context) JobID() string { return c.jobID }

// AddEmails appends records to the batch. The whole call is rejected when any
// id already exists or repeats within records.
func (c *Context) AddEmails(records ...email.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage.Terminal() {
		return ErrJobFinished
	}

	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if _, ok := c.index[r.ID]; ok {
			return fmt.Errorf("%w %q", ErrDuplicateID, r.ID)
		}
		if _, ok := seen[r.ID]; ok {
			return fmt.Errorf("%w %q", ErrDuplicateID, r.ID)
		}
		seen[r.ID] = struct{}{}
	}

	for _, r := range records {
		c.index[r.ID] = len(c.emails)
		c.emails = append(c.emails, r.Clone())
	}
	return nil
}

// AssignHumanReview replaces the human-review set with ids.
func (c *Context) AssignHumanReview(ids []string) error {
	return c.assign(ids, true)
}

// AssignAutomation replaces the automation set with ids.
func (c *Context) AssignAutomation(ids []string) error {
	return c.assign(ids, false)
}

func (c *Context) assign(ids []string, review bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage.Terminal() {
		return ErrJobFinished
	}

	other := c.automationIDs
	if !review {
		other = c.reviewIDs
	}

	set := make([]string, 0, len(ids))
	for _, id := range ids {
		if slices.Contains(set, id) {
			continue
		}
		if _, ok := c.index[id]; !ok {
			return fmt.Errorf("%w %q", ErrUnknownEmailID, id)
		}
		if slices.Contains(other, id) {
			return fmt.Errorf("%w: %q", ErrAlreadyAssigned, id)
		}
		set = append(set, id)
	}

	op := OpEmailsAddedToAutomation
	if review {
		c.reviewIDs = set
		pruneResults(c.reviewResults, set)
		op = OpEmailsAddedToReview
	} else {
		c.automationIDs = set
		pruneResults(c.automationResults, set)
	}
	c.appendOp(Operation{Type: op, EmailIDs: slices.Clone(set)})
	return nil
}

// pruneResults drops results for ids that left a replaced set.
func pruneResults[V any](results map[string]V, set []string) {
	maps.DeleteFunc(results, func(id string, _ V) bool {
		return !slices.Contains(set, id)
	})
}

// RecordReviewResult stores the review summary for an email in the
// human-review set.
func (c *Context) RecordReviewResult(id, summary string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage.Terminal() {
		return ErrJobFinished
	}
	if _, ok := c.index[id]; !ok {
		return fmt.Errorf("%w %q", ErrUnknownEmailID, id)
	}
	if !slices.Contains(c.reviewIDs, id) {
		return fmt.Errorf("%w: %q", ErrNotInReviewSet, id)
	}

	c.reviewResults[id] = summary
	c.appendOp(Operation{Type: OpEmailReviewAdded, EmailID: id, Summary: summary})
	return nil
}

// RecordAutomationResult stores what was done with an automated email.
// content is kept in the log only for replies.
func (c *Context) RecordAutomationResult(id string, action Action, result, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage.Terminal() {
		return ErrJobFinished
	}
	if _, ok := c.index[id]; !ok {
		return fmt.Errorf("%w %q", ErrUnknownEmailID, id)
	}
	if !slices.Contains(c.automationIDs, id) {
		return fmt.Errorf("%w: %q", ErrNotInAutomationSet, id)
	}

	c.automationResults[id] = AutomationResult{Action: action, Result: result}

	op := Operation{Type: OpEmailActionPerformed, EmailID: id, Action: action, Result: result}
	if action == ActionReply {
		op.Content = content
	}
	c.appendOp(op)
	return nil
}

// automationMember returns the record for id when it may receive an
// automation action.
func (c *Context) automationMember(id string) (email.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage.Terminal() {
		return email.Record{}, ErrJobFinished
	}
	i, ok := c.index[id]
	if !ok {
		return email.Record{}, fmt.Errorf("%w %q", ErrUnknownEmailID, id)
	}
	if !slices.Contains(c.automationIDs, id) {
		return email.Record{}, fmt.Errorf("%w: %q", ErrNotInAutomationSet, id)
	}
	return c.emails[i].Clone(), nil
}

// SetReport stores the human review report. Later calls overwrite.
func (c *Context) SetReport(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage.Terminal() {
		return ErrJobFinished
	}
	c.report = text
	c.appendOp(Operation{Type: OpReviewReportAdded, Report: text})
	return nil
}

// HasReport reports whether a review report was written.
func (c *Context) HasReport() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report != ""
}

// Statistics returns the job counters and, while the job is running,
// refreshes the status from them.
func (c *Context) Statistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.statsLocked()
	if !c.stage.Terminal() {
		if st.ProcessedEmails < st.TotalEmails {
			c.status = StatusProcessing
		} else {
			c.status = StatusCompleted
		}
	}
	return st
}

func (c *Context) statsLocked() Statistics {
	return Statistics{
		TotalEmails:      len(c.emails),
		ProcessedEmails:  len(c.reviewIDs) + len(c.automationIDs),
		HumanReviewCount: len(c.reviewIDs),
		AutomationCount:  len(c.automationIDs),
	}
}

// EmailByID looks up a record in the batch.
func (c *Context) EmailByID(id string) (email.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[id]
	if !ok {
		return email.Record{}, false
	}
	return c.emails[i].Clone(), true
}

// Emails returns the whole batch in ingest order.
func (c *Context) Emails() []email.Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]email.Record, len(c.emails))
	for i, r := range c.emails {
		out[i] = r.Clone()
	}
	return out
}

// ReviewEmails returns the human-review records in assignment order.
func (c *Context) ReviewEmails() []email.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordsLocked(c.reviewIDs)
}

// AutomationEmails returns the automation records in assignment order.
func (c *Context) AutomationEmails() []email.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordsLocked(c.automationIDs)
}

func (c *Context) recordsLocked(ids []string) []email.Record {
	out := make([]email.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.emails[c.index[id]].Clone())
	}
	return out
}

// HumanReviewIDs returns a copy of the human-review set.
func (c *Context) HumanReviewIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.reviewIDs)
}

// AutomationIDs returns a copy of the automation set.
func (c *Context) AutomationIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.automationIDs)
}

// Operations returns a copy of the operation log.
func (c *Context) Operations() []Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opsLocked()
}

func (c *Context) opsLocked() []Operation {
	out := make([]Operation, len(c.ops))
	for i, op := range c.ops {
		out[i] = op.clone()
	}
	return out
}

// Snapshot returns the externally visible projection of the job.
func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		JobID:             c.jobID,
		Status:            c.status,
		Stage:             c.stage,
		Statistics:        c.statsLocked(),
		ReviewReport:      c.report,
		ReviewResults:     maps.Clone(c.reviewResults),
		AutomationResults: maps.Clone(c.automationResults),
		Operations:        c.opsLocked(),
		Error:             c.err,
		Warnings:          slices.Clone(c.warnings),
		TokensUsed:        c.tokensUsed,
		ToolCalls:         c.toolCalls,
		CreatedAt:         c.createdAt,
		StartedAt:         c.startedAt,
		CompletedAt:       c.completedAt,
	}
}

// Stage returns the controller stage.
func (c *Context) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// Begin marks the job as started.
func (c *Context) Begin() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage.Terminal() {
		return
	}
	c.status = StatusProcessing
	c.startedAt = c.now()
}

// EnterStage moves a running job to stage. Terminal jobs are left alone.
func (c *Context) EnterStage(stage Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage.Terminal() {
		return
	}
	c.stage = stage
}

// AddWarning attaches a note about a degraded run to the job. Terminal
// jobs are left alone.
func (c *Context) AddWarning(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage.Terminal() {
		return
	}
	c.warnings = append(c.warnings, msg)
}

// UnhandledAutomation counts automation emails with no recorded action.
func (c *Context) UnhandledAutomation() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, id := range c.automationIDs {
		if _, ok := c.automationResults[id]; !ok {
			n++
		}
	}
	return n
}

// AddUsage accumulates oracle token and tool call counts.
func (c *Context) AddUsage(tokens, toolCalls int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokensUsed += tokens
	c.toolCalls += toolCalls
}

// Complete finishes the job and returns the final statistics.
func (c *Context) Complete() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.statsLocked()
	if c.stage.Terminal() {
		return st
	}
	c.stage = StageCompleted
	c.status = StatusCompleted
	c.completedAt = c.now()
	return st
}

// Fail moves a running job to the error state with err's text. It returns
// false when the job had already finished.
func (c *Context) Fail(err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage.Terminal() {
		return false
	}
	c.stage = StageError
	c.status = StatusError
	if err != nil {
		c.err = err.Error()
	}
	c.completedAt = c.now()
	return true
}

func (c *Context) appendOp(op Operation) {
	op.Timestamp = c.now()
	c.ops = append(c.ops, op)
}
