package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/courier/internal/tools"
)

const (
	MaxToolRounds  = 15
	MaxTokens      = 50000
	ResponseTokens = 4096

	tracerName   = "github.com/linnemanlabs/courier/internal/triage"
	maxSpanBody  = 4096
	roleUser     = "user"
	roleAssist   = "assistant"
	blockText    = "text"
	blockToolUse = "tool_use"
	blockResult  = "tool_result"
)

// EngineHooks are optional callbacks fired as the engine works. Nil fields are skipped.
type EngineHooks struct {
	OnLLMCall  func(inputTokens, outputTokens int, duration float64)
	OnToolCall func(name string, duration float64, inputBytes, outputBytes int, isError bool)
	OnComplete func(e *CompleteEvent)
}

// CompleteEvent summarizes one finished stage invocation.
type CompleteEvent struct {
	JobID     string
	Stage     Stage
	Status    string // ok, exhausted or error
	Model     string
	Duration  float64
	LLMTime   float64
	ToolTime  float64
	TokensIn  int
	TokensOut int
	ToolCalls int
}

// Engine is the LLM-backed Oracle. It runs the tool-use loop against a
// Provider until the model stops, calls the stage's finish tool, or runs out
// of budget.
type Engine struct {
	provider       Provider
	logger         log.Logger
	hooks          EngineHooks
	maxToolRounds  int
	maxTokens      int
	responseTokens int
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithBudget caps tool calls and total tokens per stage invocation. Zero
// values keep the defaults. A Task's ToolBudget can raise the tool call cap.
func WithBudget(toolRounds, tokens int) EngineOption {
	return func(e *Engine) {
		if toolRounds > 0 {
			e.maxToolRounds = toolRounds
		}
		if tokens > 0 {
			e.maxTokens = tokens
		}
	}
}

// WithResponseTokens sets the max tokens requested per model response.
func WithResponseTokens(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.responseTokens = n
		}
	}
}

// NewEngine creates an engine on top of provider.
func NewEngine(provider Provider, logger log.Logger, hooks EngineHooks, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	e := &Engine{
		provider:       provider,
		logger:         logger,
		hooks:          hooks,
		maxToolRounds:  MaxToolRounds,
		maxTokens:      MaxTokens,
		responseTokens: ResponseTokens,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Invoke runs one stage. Tool failures are fed back to the model; only
// provider failures and cancellation end the invocation with an error.
func (e *Engine) Invoke(ctx context.Context, task *Task, tb *Toolbox) (_ *Outcome, err error) {
	start := time.Now()
	L := e.logger.With("job_id", task.JobID, "stage", task.Stage)

	out := &Outcome{}
	toolLimit := max(e.maxToolRounds, task.ToolBudget)
	var tokensIn, tokensOut int
	var llmTime, toolTime float64

	defer func() {
		if e.hooks.OnComplete == nil {
			return
		}
		status := "ok"
		switch {
		case err != nil:
			status = "error"
		case out.Exhausted != "":
			status = "exhausted"
		}
		e.hooks.OnComplete(&CompleteEvent{
			JobID:     task.JobID,
			Stage:     task.Stage,
			Status:    status,
			Model:     out.Model,
			Duration:  time.Since(start).Seconds(),
			LLMTime:   llmTime,
			ToolTime:  toolTime,
			TokensIn:  tokensIn,
			TokensOut: tokensOut,
			ToolCalls: out.ToolCalls,
		})
	}()

	defs := tb.Defs()
	messages := []Message{
		{Role: roleUser, Content: []ContentBlock{{Type: blockText, Text: task.Prompt}}},
	}

	for seq := 0; ; seq++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("stage %s: %w", task.Stage, context.Cause(ctx))
		}
		if out.ToolCalls >= toolLimit {
			L.Warn(ctx, "stage hit tool call limit", "limit", toolLimit)
			out.Exhausted = "tool call budget"
			break
		}
		if tokensIn+tokensOut >= e.maxTokens {
			L.Warn(ctx, "stage hit token limit", "limit", e.maxTokens)
			out.Exhausted = "token budget"
			break
		}

		llmStart := time.Now()
		resp, err := e.send(ctx, task, seq, messages, defs)
		dur := time.Since(llmStart).Seconds()
		llmTime += dur
		if err != nil {
			L.Error(ctx, err, "llm call failed", "seq", seq)
			return nil, fmt.Errorf("llm call: %w", err)
		}

		tokensIn += resp.Usage.InputTokens
		tokensOut += resp.Usage.OutputTokens
		out.TokensUsed = tokensIn + tokensOut
		if resp.Model != "" {
			out.Model = resp.Model
		}
		if e.hooks.OnLLMCall != nil {
			e.hooks.OnLLMCall(resp.Usage.InputTokens, resp.Usage.OutputTokens, dur)
		}

		L.Info(ctx, "llm response",
			"seq", seq,
			"stop_reason", resp.StopReason,
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
			"total_tokens", out.TokensUsed,
		)

		messages = append(messages, Message{Role: roleAssist, Content: resp.Content})
		if text := lastText(resp.Content); text != "" {
			out.Summary = text
		}

		if resp.StopReason != StopToolUse {
			break
		}

		results := e.runTools(ctx, task, tb, resp.Content, out, &toolTime)
		if summary, ok := tb.Finished(); ok {
			out.Finished = true
			if summary != "" {
				out.Summary = summary
			}
			break
		}
		if len(results) == 0 {
			L.Warn(ctx, "tool_use stop without tool calls")
			break
		}

		messages = append(messages, Message{Role: roleUser, Content: results})
	}

	L.Info(ctx, "stage invocation complete",
		"finished", out.Finished,
		"exhausted", out.Exhausted,
		"duration", time.Since(start).Seconds(),
		"tokens", out.TokensUsed,
		"tool_calls", out.ToolCalls,
	)
	return out, nil
}

func (e *Engine) send(ctx context.Context, task *Task, seq int, messages []Message, defs []tools.ToolDef) (*LLMResponse, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "llm.call"),
		attribute.Int("gen_ai.request.max_tokens", e.responseTokens),
		attribute.String("courier.job.id", task.JobID),
		attribute.String("courier.stage", string(task.Stage)),
		attribute.Int("courier.chat.seq", seq),
	))
	defer span.End()

	span.AddEvent("llm.request", trace.WithAttributes(
		attribute.Int("llm.request.messages", len(messages)),
		attribute.Int("llm.request.tools", len(defs)),
	))

	resp, err := e.provider.Send(ctx, &LLMRequest{
		MaxTokens: e.responseTokens,
		System:    task.Instructions,
		Messages:  messages,
		Tools:     defs,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.String("gen_ai.response.finish_reason", string(resp.StopReason)),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)
	span.AddEvent("llm.response", trace.WithAttributes(
		attribute.Int("llm.response.blocks", len(resp.Content)),
		attribute.String("llm.response.stop_reason", string(resp.StopReason)),
	))
	return resp, nil
}

func (e *Engine) runTools(ctx context.Context, task *Task, tb *Toolbox, blocks []ContentBlock, out *Outcome, toolTime *float64) []ContentBlock {
	var results []ContentBlock
	for _, block := range blocks {
		if block.Type != blockToolUse {
			continue
		}
		out.ToolCalls++

		start := time.Now()
		result, isErr := e.execTool(ctx, task, tb, block)
		dur := time.Since(start).Seconds()
		*toolTime += dur

		if e.hooks.OnToolCall != nil {
			e.hooks.OnToolCall(block.Name, dur, len(block.Input), len(result), isErr)
		}

		results = append(results, ContentBlock{
			Type:      blockResult,
			ToolUseID: block.ID,
			Content:   result,
			IsError:   isErr,
		})
	}
	return results
}

func (e *Engine) execTool(ctx context.Context, task *Task, tb *Toolbox, block ContentBlock) (string, bool) {
	input := string(block.Input)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "tool.execute"),
		attribute.String("gen_ai.tool.name", block.Name),
		attribute.String("gen_ai.tool.call.id", block.ID),
		attribute.String("courier.job.id", task.JobID),
		attribute.String("courier.stage", string(task.Stage)),
		attribute.String("courier.tool.input", truncate(input, maxSpanBody)),
	))
	defer span.End()

	span.AddEvent("tool.request", trace.WithAttributes(
		attribute.String("tool.request.body", truncate(input, maxSpanBody)),
	))

	result, isErr := tb.Call(ctx, block.Name, normalizeInput(block.Input))

	span.SetAttributes(attribute.Bool("courier.tool.is_error", isErr))
	span.AddEvent("tool.result", trace.WithAttributes(
		attribute.String("tool.result.body", truncate(result, maxSpanBody)),
	))
	if isErr {
		span.SetStatus(codes.Error, truncate(result, 256))
	}
	return result, isErr
}

// normalizeInput gives tools an empty object instead of a missing input.
func normalizeInput(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return json.RawMessage(`{}`)
	}
	return in
}

func lastText(blocks []ContentBlock) string {
	var text string
	for _, b := range blocks {
		if b.Type == blockText && b.Text != "" {
			text = b.Text
		}
	}
	return text
}
