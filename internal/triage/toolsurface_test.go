package triage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/courier/internal/email"
)

type mockOutbox struct {
	mu      sync.Mutex
	replies []*email.Reply
	err     error
}

func (m *mockOutbox) Deliver(_ context.Context, r *email.Reply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.replies = append(m.replies, r)
	return nil
}

func callTool(t *testing.T, tb *Toolbox, name, input string) (string, bool) {
	t.Helper()
	return tb.Call(context.Background(), name, json.RawMessage(input))
}

func TestStageTools(t *testing.T) {
	t.Parallel()

	tc := newTestContext(t, "a")
	tests := []struct {
		stage Stage
		want  []string
	}{
		{StageClassifying, []string{
			ToolAssignAutomation, ToolAssignReview, ToolFinishClassification, ToolStatistics,
			ToolListAutomatable, ToolListReview, ToolRecordReview, ToolWriteReport,
		}},
		{StageAutomating, []string{
			ToolFinishAutomation, ToolStatistics, ToolListAutomatable, ToolReply, ToolUnsubscribe,
		}},
		{StageHandoff, []string{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			t.Parallel()
			tb := NewToolbox(tc, tt.stage, ToolboxConfig{Logger: log.Nop()})
			if diff := cmp.Diff(tt.want, tb.Names()); diff != "" {
				t.Errorf("tools (-want +got):\n%s", diff)
			}
			if tb.Stage() != tt.stage {
				t.Errorf("Stage() = %q", tb.Stage())
			}
			for _, d := range tb.Defs() {
				if !json.Valid(d.InputSchema) {
					t.Errorf("%s: invalid schema", d.Name)
				}
			}
		})
	}
}

func TestToolbox_StageIsolation(t *testing.T) {
	t.Parallel()

	tc := newTestContext(t, "a")
	_ = tc.AssignAutomation([]string{"a"})

	classify := NewToolbox(tc, StageClassifying, ToolboxConfig{})
	if res, isErr := callTool(t, classify, ToolReply, `{"email_id":"a","text":"hi"}`); !isErr || !strings.Contains(res, "unknown tool") {
		t.Errorf("reply during classification = %q/%v, want unknown tool", res, isErr)
	}

	automate := NewToolbox(tc, StageAutomating, ToolboxConfig{})
	if _, isErr := callTool(t, automate, ToolAssignReview, `{"email_ids":["a"]}`); !isErr {
		t.Error("assignment during automation should be rejected")
	}
	if got := tc.AutomationIDs(); len(got) != 1 {
		t.Errorf("automation ids = %v", got)
	}
}

func TestAssignTools(t *testing.T) {
	t.Parallel()

	tc := newTestContext(t, "a", "b", "c")
	tb := NewToolbox(tc, StageClassifying, ToolboxConfig{})

	res, isErr := callTool(t, tb, ToolAssignReview, `{"email_ids":["a","c"]}`)
	if isErr || res != "Successfully saved 2 emails for human review" {
		t.Errorf("assign review = %q/%v", res, isErr)
	}
	res, isErr = callTool(t, tb, ToolAssignAutomation, `{"email_ids":["b"]}`)
	if isErr || res != "Successfully saved 1 emails for automated processing" {
		t.Errorf("assign automation = %q/%v", res, isErr)
	}

	tests := []struct {
		name  string
		tool  string
		input string
		want  string
	}{
		{"missing ids", ToolAssignReview, `{}`, "email_ids is required"},
		{"malformed json", ToolAssignReview, `{"email_ids":`, "invalid arguments"},
		{"wrong type", ToolAssignAutomation, `{"email_ids":"b"}`, "invalid arguments"},
		{"unknown id", ToolAssignAutomation, `{"email_ids":["zzz"]}`, "zzz"},
		{"cross set", ToolAssignAutomation, `{"email_ids":["a"]}`, "already assigned"},
	}
	for _, tt := range tests {
		res, isErr := callTool(t, tb, tt.tool, tt.input)
		if !isErr {
			t.Errorf("%s: expected error result, got %q", tt.name, res)
			continue
		}
		if !strings.HasPrefix(res, "Error: ") || !strings.Contains(res, tt.want) {
			t.Errorf("%s: result = %q, want it to contain %q", tt.name, res, tt.want)
		}
	}

	if diff := cmp.Diff([]string{"a", "c"}, tc.HumanReviewIDs()); diff != "" {
		t.Errorf("review ids changed by failed calls:\n%s", diff)
	}
}

func TestListTools_FlattenHTML(t *testing.T) {
	t.Parallel()

	recs := testEmails("a", "b")
	recs[1].Body = "<html><body><p>Hello <b>there</b></p></body></html>"
	tc, err := NewContext("j", recs...)
	if err != nil {
		t.Fatal(err)
	}
	_ = tc.AssignAutomation([]string{"b"})
	tb := NewToolbox(tc, StageClassifying, ToolboxConfig{})

	res, isErr := callTool(t, tb, ToolListAutomatable, `{}`)
	if isErr {
		t.Fatalf("list: %s", res)
	}
	var got []promptEmail
	if err := json.Unmarshal([]byte(res), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("listed = %+v", got)
	}
	if strings.Contains(got[0].Body, "<") {
		t.Errorf("body not flattened: %q", got[0].Body)
	}
	if !strings.Contains(got[0].Body, "Hello") {
		t.Errorf("body lost text: %q", got[0].Body)
	}

	res, _ = callTool(t, tb, ToolListReview, ``)
	if res != "[]" {
		t.Errorf("empty review list = %q, want []", res)
	}
}

func TestRecordReviewTool(t *testing.T) {
	t.Parallel()

	tc := newTestContext(t, "a", "b")
	_ = tc.AssignHumanReview([]string{"a"})
	tb := NewToolbox(tc, StageClassifying, ToolboxConfig{})

	res, isErr := callTool(t, tb, ToolRecordReview, `{"email_id":"a","summary":"contract question"}`)
	if isErr || res != "Successfully added review result for email a" {
		t.Errorf("record = %q/%v", res, isErr)
	}
	if _, isErr := callTool(t, tb, ToolRecordReview, `{"email_id":"b","summary":"x"}`); !isErr {
		t.Error("recording a review for an unassigned email should fail")
	}
	if _, isErr := callTool(t, tb, ToolRecordReview, `{"summary":"x"}`); !isErr {
		t.Error("missing email_id should fail")
	}
	if got := tc.Snapshot().ReviewResults; got["a"] != "contract question" || len(got) != 1 {
		t.Errorf("review results = %v", got)
	}
}

func TestWriteReportTool(t *testing.T) {
	t.Parallel()

	tc := newTestContext(t, "a")
	tb := NewToolbox(tc, StageClassifying, ToolboxConfig{})

	if _, isErr := callTool(t, tb, ToolWriteReport, `{"report":"  "}`); !isErr {
		t.Error("blank report should fail")
	}
	res, isErr := callTool(t, tb, ToolWriteReport, `{"report":"# Review\n- a"}`)
	if isErr || res != "Successfully saved human review report" {
		t.Errorf("write report = %q/%v", res, isErr)
	}
	if got := tc.Snapshot().ReviewReport; got != "# Review\n- a" {
		t.Errorf("report = %q", got)
	}
}

func TestStatisticsTool(t *testing.T) {
	t.Parallel()

	tc := newTestContext(t, "a", "b", "c")
	_ = tc.AssignHumanReview([]string{"a"})
	_ = tc.AssignAutomation([]string{"b"})
	tb := NewToolbox(tc, StageClassifying, ToolboxConfig{})

	res, isErr := callTool(t, tb, ToolStatistics, `{}`)
	if isErr {
		t.Fatalf("statistics: %s", res)
	}
	var st Statistics
	if err := json.Unmarshal([]byte(res), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := Statistics{TotalEmails: 3, ProcessedEmails: 2, HumanReviewCount: 1, AutomationCount: 1}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("statistics (-want +got):\n%s", diff)
	}
}

func TestReplyTool(t *testing.T) {
	t.Parallel()

	tc := newTestContext(t, "a", "b")
	_ = tc.AssignHumanReview([]string{"a"})
	_ = tc.AssignAutomation([]string{"b"})

	outbox := &mockOutbox{}
	tb := NewToolbox(tc, StageAutomating, ToolboxConfig{Outbox: outbox, ReplyFrom: "assistant@example.com"})

	res, isErr := callTool(t, tb, ToolReply, `{"email_id":"b","text":"Thanks, see you Tuesday."}`)
	if isErr {
		t.Fatalf("reply: %s", res)
	}
	if res != "Successfully replied to email b from sender1@example.com" {
		t.Errorf("reply result = %q", res)
	}

	if len(outbox.replies) != 1 {
		t.Fatalf("delivered %d replies, want 1", len(outbox.replies))
	}
	r := outbox.replies[0]
	if r.InReplyTo != "b" || r.To != "sender1@example.com" || r.From != "assistant@example.com" {
		t.Errorf("reply envelope = %+v", r)
	}
	if r.Subject != "RE: Subject b" {
		t.Errorf("reply subject = %q", r.Subject)
	}

	ops := tc.Operations()
	last := ops[len(ops)-1]
	if last.Type != OpEmailActionPerformed || last.Action != ActionReply || last.Content != "Thanks, see you Tuesday." {
		t.Errorf("last op = %+v", last)
	}

	// review-set email is not eligible
	if res, isErr := callTool(t, tb, ToolReply, `{"email_id":"a","text":"hi"}`); !isErr {
		t.Errorf("reply to review email = %q, want error", res)
	}
	if _, isErr := callTool(t, tb, ToolReply, `{"email_id":"b","text":""}`); !isErr {
		t.Error("empty reply text should fail")
	}
	if len(outbox.replies) != 1 {
		t.Errorf("failed replies reached the outbox")
	}
}

func TestReplyTool_DeliveryFailure(t *testing.T) {
	t.Parallel()

	tc := newTestContext(t, "a")
	_ = tc.AssignAutomation([]string{"a"})
	outbox := &mockOutbox{err: errors.New("smtp down")}
	tb := NewToolbox(tc, StageAutomating, ToolboxConfig{Outbox: outbox})

	res, isErr := callTool(t, tb, ToolReply, `{"email_id":"a","text":"hello"}`)
	if !isErr || !strings.Contains(res, "smtp down") {
		t.Errorf("reply = %q/%v, want delivery error", res, isErr)
	}
	if len(tc.Snapshot().AutomationResults) != 0 {
		t.Error("undelivered reply was recorded")
	}
}

func TestUnsubscribeTool(t *testing.T) {
	t.Parallel()

	tc := newTestContext(t, "a", "b")
	_ = tc.AssignAutomation([]string{"a"})
	tb := NewToolbox(tc, StageAutomating, ToolboxConfig{})

	res, isErr := callTool(t, tb, ToolUnsubscribe, `{"email_id":"a"}`)
	if isErr || res != "Successfully unsubscribed from mailing list for email a" {
		t.Errorf("unsubscribe = %q/%v", res, isErr)
	}
	ops := tc.Operations()
	if last := ops[len(ops)-1]; last.Action != ActionUnsubscribe || last.Content != "" {
		t.Errorf("last op = %+v", last)
	}

	if _, isErr := callTool(t, tb, ToolUnsubscribe, `{"email_id":"b"}`); !isErr {
		t.Error("unsubscribe for unassigned email should fail")
	}
}

func TestFinishTools(t *testing.T) {
	t.Parallel()

	tc := newTestContext(t, "a")
	for _, tt := range []struct {
		stage Stage
		tool  string
		want  string
	}{
		{StageClassifying, ToolFinishClassification, "Classification stage marked as finished"},
		{StageAutomating, ToolFinishAutomation, "Automation stage marked as finished"},
	} {
		tb := NewToolbox(tc, tt.stage, ToolboxConfig{})
		if _, ok := tb.Finished(); ok {
			t.Fatalf("%s: finished before the tool was called", tt.tool)
		}
		res, isErr := callTool(t, tb, tt.tool, `{"summary":"wrapped up"}`)
		if isErr || res != tt.want {
			t.Errorf("%s = %q/%v", tt.tool, res, isErr)
		}
		summary, ok := tb.Finished()
		if !ok || summary != "wrapped up" {
			t.Errorf("%s: Finished() = %q/%v", tt.tool, summary, ok)
		}
	}
}

func TestParseToolLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    ToolLogLevel
		wantErr bool
	}{
		{"", ToolLogInfo, false},
		{"info", ToolLogInfo, false},
		{" DEBUG ", ToolLogDebug, false},
		{"trace", "", true},
	}
	for _, tt := range tests {
		got, err := ParseToolLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseToolLogLevel(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseToolLogLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
