package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/courier/internal/tools"
)

// ToolLogLevel controls how much the toolbox logs about tool calls.
type ToolLogLevel string

const (
	// ToolLogInfo logs failed tool calls only
	ToolLogInfo ToolLogLevel = "info"

	// ToolLogDebug logs every tool call with its arguments and result
	ToolLogDebug ToolLogLevel = "debug"
)

// ParseToolLogLevel validates a configured level. Empty means info.
func ParseToolLogLevel(s string) (ToolLogLevel, error) {
	switch ToolLogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case "", ToolLogInfo:
		return ToolLogInfo, nil
	case ToolLogDebug:
		return ToolLogDebug, nil
	default:
		return "", fmt.Errorf("unknown tool log level %q (want info or debug)", s)
	}
}

const maxLoggedResult = 512

// Toolbox is the set of tools one stage may call. Call never returns a Go
// error: every failure becomes an error result the oracle can read and act on.
type Toolbox struct {
	stage    Stage
	registry *tools.Registry
	logger   log.Logger
	level    ToolLogLevel

	mu       sync.Mutex
	finished bool
	summary  string
}

func newToolbox(stage Stage, registry *tools.Registry, logger log.Logger, level ToolLogLevel) *Toolbox {
	if logger == nil {
		logger = log.Nop()
	}
	if level == "" {
		level = ToolLogInfo
	}
	return &Toolbox{
		stage:    stage,
		registry: registry,
		logger:   logger,
		level:    level,
	}
}

// Stage returns the stage the toolbox was built for.
func (b *Toolbox) Stage() Stage { return b.stage }

// Defs returns the tool definitions to offer the model.
func (b *Toolbox) Defs() []tools.ToolDef { return b.registry.ToToolDefs() }

// Names returns the available tool names.
func (b *Toolbox) Names() []string { return b.registry.Names() }

// Call runs the named tool. isError is set when the result describes a
// failure rather than a confirmation.
func (b *Toolbox) Call(ctx context.Context, name string, input json.RawMessage) (result string, isError bool) {
	tool, ok := b.registry.Get(name)
	if !ok {
		b.logger.Warn(ctx, "unknown tool requested", "stage", b.stage, "tool", name)
		return fmt.Sprintf("unknown tool: %s", name), true
	}

	out, err := tool.Execute(ctx, input)
	if err != nil {
		b.logger.Warn(ctx, "tool call failed",
			"stage", b.stage,
			"tool", name,
			"args", string(input),
			"error", err.Error(),
		)
		return "Error: " + err.Error(), true
	}

	if b.level == ToolLogDebug {
		b.logger.Info(ctx, "tool call",
			"stage", b.stage,
			"tool", name,
			"args", string(input),
			"result", truncate(string(out), maxLoggedResult),
		)
	}
	return string(out), false
}

// Finished reports whether the stage's finish tool was called, and the
// summary it was given.
func (b *Toolbox) Finished() (summary string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.summary, b.finished
}

func (b *Toolbox) finish(summary string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finished = true
	b.summary = summary
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
