package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/courier/internal/email"
	"github.com/linnemanlabs/courier/internal/prompts"
)

var (
	// ErrReportMissing fails a job whose classification assigned emails to
	// human review without writing a report, when reports are required.
	ErrReportMissing = errors.New("human review report was not written")

	ErrStageTimeout = errors.New("stage timed out")
	ErrJobCancelled = errors.New("job cancelled")
)

// stageToolOverhead covers the calls a stage makes besides one per email:
// listing, assignment, statistics, the report and the finish tool.
const stageToolOverhead = 6

// ControllerConfig tunes the stage controller.
type ControllerConfig struct {
	// StageTimeout bounds each oracle invocation. Zero disables the bound.
	StageTimeout time.Duration

	// RequireReport turns the missing-report warning into a job failure.
	RequireReport bool

	ReplyFrom    string
	ToolLogLevel ToolLogLevel
}

// Controller drives one job through classification, handoff and automation.
type Controller struct {
	oracle  Oracle
	prompts *prompts.Catalogue
	outbox  Outbox
	logger  log.Logger
	cfg     ControllerConfig
	metrics *Metrics
}

// NewController wires the oracle and prompt catalogue. outbox may be nil.
func NewController(oracle Oracle, catalogue *prompts.Catalogue, outbox Outbox, logger log.Logger, cfg ControllerConfig) *Controller {
	if logger == nil {
		logger = log.Nop()
	}
	if catalogue == nil {
		catalogue = prompts.Default()
	}
	return &Controller{
		oracle:  oracle,
		prompts: catalogue,
		outbox:  outbox,
		logger:  logger,
		cfg:     cfg,
	}
}

// SetMetrics attaches stage metrics. Nil disables them.
func (c *Controller) SetMetrics(m *Metrics) { c.metrics = m }

// Run executes the pipeline for tc. The returned error is also recorded on tc.
func (c *Controller) Run(ctx context.Context, tc *Context) error {
	L := c.logger.With("job_id", tc.JobID())

	tc.Begin()
	if len(tc.Emails()) == 0 {
		tc.Complete()
		L.Info(ctx, "empty batch, nothing to triage")
		return nil
	}

	tc.EnterStage(StageClassifying)
	out, err := c.invoke(ctx, tc, StageClassifying, c.prompts.Classification, tc.Emails())
	if err != nil {
		return c.fail(ctx, L, tc, err)
	}
	if !out.Finished {
		L.Info(ctx, "classification ended without finish-classification, accepting final response",
			"exhausted", out.Exhausted)
	}
	c.noteExhausted(ctx, L, tc, StageClassifying, out)

	st := tc.Statistics()
	if st.HumanReviewCount > 0 && !tc.HasReport() {
		if c.cfg.RequireReport {
			return c.fail(ctx, L, tc, ErrReportMissing)
		}
		L.Warn(ctx, "human review emails assigned without a review report",
			"human_review_count", st.HumanReviewCount)
	}

	tc.EnterStage(StageHandoff)
	auto := tc.AutomationEmails()
	if len(auto) > 0 {
		tc.EnterStage(StageAutomating)
		out, err = c.invoke(ctx, tc, StageAutomating, c.prompts.Automation, auto)
		if err != nil {
			return c.fail(ctx, L, tc, err)
		}
		if !out.Finished {
			L.Info(ctx, "automation ended without finish-automation, accepting final response",
				"exhausted", out.Exhausted)
		}
		c.noteExhausted(ctx, L, tc, StageAutomating, out)
	}

	final := tc.Complete()
	if final.ProcessedEmails < final.TotalEmails {
		L.Warn(ctx, "job completed with unclassified emails",
			"total", final.TotalEmails,
			"processed", final.ProcessedEmails)
	}
	L.Info(ctx, "triage complete",
		"total", final.TotalEmails,
		"human_review", final.HumanReviewCount,
		"automation", final.AutomationCount)
	return nil
}

func (c *Controller) invoke(ctx context.Context, tc *Context, stage Stage, p prompts.Stage, records []email.Record) (*Outcome, error) {
	emailsJSON, err := json.MarshalIndent(toPromptEmails(records), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode emails: %w", err)
	}
	prompt, err := p.Render(prompts.TaskData{Count: len(records), Emails: string(emailsJSON)})
	if err != nil {
		return nil, err
	}

	stageCtx := ctx
	if c.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeoutCause(ctx, c.cfg.StageTimeout, fmt.Errorf("%w after %s", ErrStageTimeout, c.cfg.StageTimeout))
		defer cancel()
	}

	tb := NewToolbox(tc, stage, ToolboxConfig{
		Outbox:    c.outbox,
		ReplyFrom: c.cfg.ReplyFrom,
		Logger:    c.logger.With("job_id", tc.JobID()),
		LogLevel:  c.cfg.ToolLogLevel,
	})

	start := time.Now()
	out, err := c.oracle.Invoke(stageCtx, &Task{
		JobID:        tc.JobID(),
		Stage:        stage,
		Instructions: p.System,
		Prompt:       prompt,
		ToolBudget:   len(records) + stageToolOverhead,
	}, tb)
	c.metrics.observeStage(stage, err, time.Since(start))
	if err != nil {
		if cause := context.Cause(stageCtx); cause != nil && !errors.Is(err, cause) {
			err = fmt.Errorf("%w: %w", cause, err)
		}
		return nil, err
	}
	if out == nil {
		out = &Outcome{}
	}
	if summary, ok := tb.Finished(); ok && !out.Finished {
		out.Finished = true
		if out.Summary == "" {
			out.Summary = summary
		}
	}
	tc.AddUsage(out.TokensUsed, out.ToolCalls)
	return out, nil
}

// noteExhausted records on the job that a stage was cut short by a budget,
// so pollers can tell it from emails the oracle chose to leave alone.
func (c *Controller) noteExhausted(ctx context.Context, L log.Logger, tc *Context, stage Stage, out *Outcome) {
	if out.Exhausted == "" {
		return
	}
	msg := fmt.Sprintf("%s stopped early: %s exhausted", stage, out.Exhausted)
	if stage == StageAutomating {
		if n := tc.UnhandledAutomation(); n > 0 {
			msg += fmt.Sprintf(", %d automated emails left without an action", n)
		}
	}
	tc.AddWarning(msg)
	L.Warn(ctx, "stage budget exhausted", "stage", stage, "exhausted", out.Exhausted)
}

func (c *Controller) fail(ctx context.Context, L log.Logger, tc *Context, err error) error {
	if errors.Is(context.Cause(ctx), ErrJobCancelled) {
		err = ErrJobCancelled
	}
	stage := tc.Stage()
	if tc.Fail(err) {
		L.Error(ctx, err, "triage failed", "stage", stage)
	}
	return err
}
