package triage

import "context"

// Oracle makes the classification and automation decisions. It sees a job
// only through the toolbox it is handed and reports back when it stops.
type Oracle interface {
	Invoke(ctx context.Context, task *Task, tb *Toolbox) (*Outcome, error)
}

// Task frames one stage invocation.
type Task struct {
	JobID        string
	Stage        Stage
	Instructions string
	Prompt       string

	// ToolBudget is the number of tool calls the stage needs to get through
	// its batch. Oracles with a fixed call limit raise it to at least this.
	ToolBudget int
}

// Outcome describes how a stage invocation ended.
type Outcome struct {
	// Summary is the oracle's closing text or the finish tool's summary.
	Summary string

	// Finished is set when the stage's finish tool was called.
	Finished bool

	// Exhausted names the budget that cut the invocation short, if any.
	Exhausted string

	Model      string
	TokensUsed int
	ToolCalls  int
}
