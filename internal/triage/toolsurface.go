package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/courier/internal/email"
	"github.com/linnemanlabs/courier/internal/tools"
)

// Tool names offered to the oracle.
const (
	ToolListAutomatable      = "list-automatable-emails"
	ToolListReview           = "list-review-emails"
	ToolAssignReview         = "assign-to-human-review"
	ToolAssignAutomation     = "assign-to-automation"
	ToolRecordReview         = "record-review-summary"
	ToolReply                = "reply"
	ToolUnsubscribe          = "unsubscribe"
	ToolWriteReport          = "write-review-report"
	ToolStatistics           = "get-statistics"
	ToolFinishClassification = "finish-classification"
	ToolFinishAutomation     = "finish-automation"
)

// ErrInvalidArguments is returned by tools whose input does not match their schema.
var ErrInvalidArguments = errors.New("invalid arguments")

// Outbox delivers replies composed by the automation stage.
type Outbox interface {
	Deliver(ctx context.Context, reply *email.Reply) error
}

// StageTools returns the tool names available during stage.
func StageTools(stage Stage) []string {
	switch stage {
	case StageClassifying:
		return []string{
			ToolListReview,
			ToolListAutomatable,
			ToolAssignReview,
			ToolAssignAutomation,
			ToolRecordReview,
			ToolWriteReport,
			ToolStatistics,
			ToolFinishClassification,
		}
	case StageAutomating:
		return []string{
			ToolListAutomatable,
			ToolReply,
			ToolUnsubscribe,
			ToolStatistics,
			ToolFinishAutomation,
		}
	default:
		return nil
	}
}

// ToolboxConfig carries the collaborators the mutation tools need.
type ToolboxConfig struct {
	Outbox    Outbox // optional; replies are only recorded when nil
	ReplyFrom string // empty answers as the original recipient
	Logger    log.Logger
	LogLevel  ToolLogLevel
}

// NewToolbox builds the toolbox for one stage of the job behind tc.
func NewToolbox(tc *Context, stage Stage, cfg ToolboxConfig) *Toolbox {
	tb := newToolbox(stage, nil, cfg.Logger, cfg.LogLevel)
	s := &surface{tc: tc, outbox: cfg.Outbox, from: cfg.ReplyFrom}
	tb.registry = s.catalogue(tb.finish).Subset(StageTools(stage)...)
	return tb
}

// surface binds the mutation tools to one Context.
type surface struct {
	tc     *Context
	outbox Outbox
	from   string
}

const (
	schemaEmpty = `{"type":"object","properties":{}}`

	schemaEmailIDs = `{
  "type": "object",
  "properties": {
    "email_ids": {"type": "array", "items": {"type": "string"}, "description": "Ids of the emails to place in this set. Replaces the previous set."}
  },
  "required": ["email_ids"]
}`

	schemaReviewSummary = `{
  "type": "object",
  "properties": {
    "email_id": {"type": "string"},
    "summary": {"type": "string", "description": "Short summary for the human reviewer."}
  },
  "required": ["email_id", "summary"]
}`

	schemaReply = `{
  "type": "object",
  "properties": {
    "email_id": {"type": "string"},
    "text": {"type": "string", "description": "Body of the reply."}
  },
  "required": ["email_id", "text"]
}`

	schemaEmailID = `{
  "type": "object",
  "properties": {
    "email_id": {"type": "string"}
  },
  "required": ["email_id"]
}`

	schemaReport = `{
  "type": "object",
  "properties": {
    "report": {"type": "string", "description": "Markdown report covering every email assigned to human review."}
  },
  "required": ["report"]
}`

	schemaFinish = `{
  "type": "object",
  "properties": {
    "summary": {"type": "string", "description": "What was done during this stage."}
  }
}`
)

func (s *surface) catalogue(finish func(summary string)) *tools.Registry {
	r := tools.NewRegistry()

	r.Register(&tools.Func{
		ToolName: ToolListAutomatable,
		Desc:     "List the emails currently assigned to automated processing.",
		Schema:   json.RawMessage(schemaEmpty),
		Fn: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			return marshalEmails(s.tc.AutomationEmails())
		},
	})

	r.Register(&tools.Func{
		ToolName: ToolListReview,
		Desc:     "List the emails currently assigned to human review.",
		Schema:   json.RawMessage(schemaEmpty),
		Fn: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			return marshalEmails(s.tc.ReviewEmails())
		},
	})

	r.Register(&tools.Func{
		ToolName: ToolAssignReview,
		Desc:     "Assign emails that need human attention. The list replaces any earlier human review assignment.",
		Schema:   json.RawMessage(schemaEmailIDs),
		Fn: func(_ context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var args struct {
				EmailIDs []string `json:"email_ids"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			if args.EmailIDs == nil {
				return nil, fmt.Errorf("%w: email_ids is required", ErrInvalidArguments)
			}
			if err := s.tc.AssignHumanReview(args.EmailIDs); err != nil {
				return nil, err
			}
			return text("Successfully saved %d emails for human review", len(s.tc.HumanReviewIDs())), nil
		},
	})

	r.Register(&tools.Func{
		ToolName: ToolAssignAutomation,
		Desc:     "Assign emails that can be handled automatically. The list replaces any earlier automation assignment.",
		Schema:   json.RawMessage(schemaEmailIDs),
		Fn: func(_ context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var args struct {
				EmailIDs []string `json:"email_ids"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			if args.EmailIDs == nil {
				return nil, fmt.Errorf("%w: email_ids is required", ErrInvalidArguments)
			}
			if err := s.tc.AssignAutomation(args.EmailIDs); err != nil {
				return nil, err
			}
			return text("Successfully saved %d emails for automated processing", len(s.tc.AutomationIDs())), nil
		},
	})

	r.Register(&tools.Func{
		ToolName: ToolRecordReview,
		Desc:     "Record a review summary for an email assigned to human review.",
		Schema:   json.RawMessage(schemaReviewSummary),
		Fn: func(_ context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var args struct {
				EmailID string `json:"email_id"`
				Summary string `json:"summary"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			if err := requireField("email_id", args.EmailID); err != nil {
				return nil, err
			}
			if err := s.tc.RecordReviewResult(args.EmailID, args.Summary); err != nil {
				return nil, err
			}
			return text("Successfully added review result for email %s", args.EmailID), nil
		},
	})

	r.Register(&tools.Func{
		ToolName: ToolReply,
		Desc:     "Send a reply to an email assigned to automated processing.",
		Schema:   json.RawMessage(schemaReply),
		Fn:       s.reply,
	})

	r.Register(&tools.Func{
		ToolName: ToolUnsubscribe,
		Desc:     "Unsubscribe from the mailing list that sent an email assigned to automated processing.",
		Schema:   json.RawMessage(schemaEmailID),
		Fn: func(_ context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var args struct {
				EmailID string `json:"email_id"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			if err := requireField("email_id", args.EmailID); err != nil {
				return nil, err
			}
			result := fmt.Sprintf("Successfully unsubscribed from mailing list for email %s", args.EmailID)
			if err := s.tc.RecordAutomationResult(args.EmailID, ActionUnsubscribe, result, ""); err != nil {
				return nil, err
			}
			return json.RawMessage(result), nil
		},
	})

	r.Register(&tools.Func{
		ToolName: ToolWriteReport,
		Desc:     "Save the human review report for this batch. Later calls overwrite the report.",
		Schema:   json.RawMessage(schemaReport),
		Fn: func(_ context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var args struct {
				Report string `json:"report"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			if err := requireField("report", args.Report); err != nil {
				return nil, err
			}
			if err := s.tc.SetReport(args.Report); err != nil {
				return nil, err
			}
			return text("Successfully saved human review report"), nil
		},
	})

	r.Register(&tools.Func{
		ToolName: ToolStatistics,
		Desc:     "Get the processing counters for this batch.",
		Schema:   json.RawMessage(schemaEmpty),
		Fn: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			return json.Marshal(s.tc.Statistics())
		},
	})

	r.Register(finishTool(ToolFinishClassification,
		"Call once every email has been assigned and the review report is written.",
		"Classification stage marked as finished", finish))

	r.Register(finishTool(ToolFinishAutomation,
		"Call once every automated email has been handled.",
		"Automation stage marked as finished", finish))

	return r
}

func (s *surface) reply(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args struct {
		EmailID string `json:"email_id"`
		Text    string `json:"text"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := requireField("email_id", args.EmailID); err != nil {
		return nil, err
	}

	orig, err := s.tc.automationMember(args.EmailID)
	if err != nil {
		return nil, err
	}

	reply, err := email.ComposeReply(orig, args.Text, s.from)
	if err != nil {
		return nil, err
	}
	if s.outbox != nil {
		if err := s.outbox.Deliver(ctx, reply); err != nil {
			return nil, fmt.Errorf("deliver reply: %w", err)
		}
	}

	result := fmt.Sprintf("Successfully replied to email %s from %s", orig.ID, orig.Sender)
	if err := s.tc.RecordAutomationResult(orig.ID, ActionReply, result, args.Text); err != nil {
		return nil, err
	}
	return json.RawMessage(result), nil
}

func finishTool(name, desc, confirmation string, finish func(string)) tools.Tool {
	return &tools.Func{
		ToolName: name,
		Desc:     desc,
		Schema:   json.RawMessage(schemaFinish),
		Fn: func(_ context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var args struct {
				Summary string `json:"summary"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			finish(args.Summary)
			return json.RawMessage(confirmation), nil
		},
	}
}

// promptEmail is the view of a record shown to the oracle.
type promptEmail struct {
	ID          string       `json:"id"`
	Sender      string       `json:"sender"`
	Recipient   string       `json:"recipient"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Timestamp   string       `json:"timestamp"`
	IsRead      bool         `json:"is_read"`
	Folder      email.Folder `json:"folder"`
	Attachments []string     `json:"attachments,omitempty"`
}

func toPromptEmails(records []email.Record) []promptEmail {
	out := make([]promptEmail, 0, len(records))
	for _, r := range records {
		out = append(out, promptEmail{
			ID:          r.ID,
			Sender:      r.Sender,
			Recipient:   r.Recipient,
			Subject:     r.Subject,
			Body:        email.PlainBody(r.Body),
			Timestamp:   r.Timestamp,
			IsRead:      r.IsRead,
			Folder:      r.Folder,
			Attachments: r.Attachments,
		})
	}
	return out
}

func marshalEmails(records []email.Record) (json.RawMessage, error) {
	return json.Marshal(toPromptEmails(records))
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidArguments, name)
	}
	return nil
}

func text(format string, args ...any) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(format, args...))
}
