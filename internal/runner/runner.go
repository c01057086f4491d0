package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/codelet-dev/codelet/internal/persist"
	"github.com/codelet-dev/codelet/internal/session"
	"github.com/codelet-dev/codelet/internal/telemetry"
	"github.com/codelet-dev/codelet/internal/windowing"
	"github.com/codelet-dev/codelet/tools"
)

type Runner struct {
	Client *anthropic.Client
	Tools  []tools.ToolDefinition
	Store  *session.Store
}

func New(client *anthropic.Client, toolDefs []tools.ToolDefinition, store *session.Store) *Runner {
	return &Runner{Client: client, Tools: toolDefs, Store: store}
}

func (r *Runner) anthropicTools() []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(r.Tools))
	for _, t := range r.Tools {
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: t.InputSchema,
		}})
	}
	return out
}

// RunOneStep sends a budgeted window of the session to the model, appends
// the assistant envelope (and, when tools ran, the tool-result envelope) to
// the live manifest, and saves. It reports whether tools ran, i.e. whether
// the assistant turn needs another step.
func (r *Runner) RunOneStep(ctx context.Context, model anthropic.Model, state *session.SessionState) (bool, error) {
	v := os.Getenv("CODELET_TOKEN_BUDGET")
	if v == "" {
		return false, fmt.Errorf("CODELET_TOKEN_BUDGET not set; export it then try again")
	}
	budget, err := strconv.Atoi(v)
	if err != nil {
		return false, fmt.Errorf("invalid CODELET_TOKEN_BUDGET %q: %w", v, err)
	}

	m := state.Manifest

	// Prepare turn-safe, budgeted window
	counter := windowing.HeuristicCounter{}
	window, stats := windowing.PrepareSendWindow(m.Envelopes, state.Turns, budget, counter)

	// Get turnID from context if present, else generate once for this call.
	turnID, ok := telemetry.TurnIDFromContext(ctx)
	if !ok {
		turnID = fmt.Sprintf("turn-%d", time.Now().UnixNano())
	}
	ctx = telemetry.WithTurnID(ctx, turnID)

	telemetry.Emit("window_prepared", map[string]any{
		"turn_id":            turnID,
		"session_id":         m.ID.String(),
		"model":              string(model),
		"budget":             stats.Budget,
		"total_estimated":    stats.Total,
		"included_turns":     stats.IncludedTurns,
		"skipped_turns":      stats.SkippedTurns,
		"over_budget_newest": stats.OverBudgetNewest,
	})

	// With tool caps the newest turn should always fit within the budget.
	// If not, treat it as a misconfiguration (e.g. too-low budget or caps
	// not applied) and fail fast with error.
	if stats.OverBudgetNewest {
		return false, fmt.Errorf("windowing: newest turn exceeds CODELET_TOKEN_BUDGET; increase budget with headroom or tighten tool caps")
	}

	msgs, err := session.APIMessages(window)
	if err != nil {
		return false, err
	}
	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: int64(1024),
		Messages:  msgs,
		Tools:     r.anthropicTools(),
	}

	msg, err := r.Client.Messages.New(ctx, params)
	if err != nil {
		return false, err
	}

	assistant := envelopeFromResponse(msg, m)
	if err := m.Append(assistant); err != nil {
		return false, err
	}

	var toolResults []persist.ContentBlock
	for _, block := range assistant.Content {
		switch v := block.(type) {
		case persist.TextBlock:
			fmt.Printf("\u001b[93mClaude\u001b[0m: %s\n", v.Text)
		case persist.ToolUseBlock:
			toolResults = append(toolResults, r.execTool(ctx, v.ID, v.Name, v.Input))
		}
	}
	if len(toolResults) > 0 {
		parent := assistant.UUID
		results := persist.MessageEnvelope{
			UUID:       uuid.New(),
			ParentUUID: &parent,
			Timestamp:  time.Now().UTC(),
			Role:       persist.RoleUser,
			Provider:   m.Provider,
			Content:    toolResults,
		}
		if err := m.Append(results); err != nil {
			return false, err
		}
	}
	state.Turns = session.DeriveTurns(m.Envelopes)

	if err := r.Store.Save(m); err != nil {
		return false, err
	}
	return len(toolResults) > 0, nil
}

// envelopeFromResponse wraps an API response message in a durable envelope,
// threading it onto the newest message in the manifest. Optional metadata
// (message id, model, stop reason, usage) is carried only when the response
// provides it.
func envelopeFromResponse(msg *anthropic.Message, m *session.Manifest) persist.MessageEnvelope {
	env := persist.MessageEnvelope{
		UUID:       uuid.New(),
		Timestamp:  time.Now().UTC(),
		Role:       persist.RoleAssistant,
		Provider:   m.Provider,
		MessageID:  msg.ID,
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Usage: &persist.TokenUsage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
		},
	}
	if last, ok := m.LastUUID(); ok {
		parent := last
		env.ParentUUID = &parent
	}
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			env.Content = append(env.Content, persist.TextBlock{Text: v.Text})
		case anthropic.ToolUseBlock:
			env.Content = append(env.Content, persist.ToolUseBlock{
				ID:    v.ID,
				Name:  v.Name,
				Input: json.RawMessage(v.JSON.Input.Raw()),
			})
		case anthropic.ThinkingBlock:
			env.Content = append(env.Content, persist.ThinkingBlock{
				Thinking:  v.Thinking,
				Signature: v.Signature,
			})
		}
	}
	return env
}

func (r *Runner) execTool(ctx context.Context, id, name string, input json.RawMessage) persist.ContentBlock {
	var def *tools.ToolDefinition
	for i := range r.Tools {
		if r.Tools[i].Name == name {
			def = &r.Tools[i]
			break
		}
	}

	turnID, _ := telemetry.TurnIDFromContext(ctx)

	// Helper to emit a tool_exec event
	emit := func(durationMs int64, inputSize int, outputSize int, errStr string) {
		fields := map[string]any{
			"tool_name":   name,
			"duration_ms": durationMs,
			"input_size":  inputSize,
			"output_size": outputSize,
			"turn_id":     turnID,
		}
		if errStr != "" {
			fields["error"] = errStr
		} else {
			fields["error"] = nil
		}
		telemetry.Emit("tool_exec", fields)
	}

	start := time.Now()
	inSize := len(input)

	// Handle "tool not found" as an error result and emit telemetry
	if def == nil {
		emit(time.Since(start).Milliseconds(), inSize, 0, "tool not found")
		return persist.ToolResultBlock{ToolUseID: id, Content: "tool not found", IsError: true}
	}

	resp, err := def.Function(input)
	if err != nil {
		// Emit a generic error string to avoid leaking raw payloads in telemetry
		emit(time.Since(start).Milliseconds(), inSize, 0, "tool error")
		// Preserve detailed error message in the tool result content returned to the model
		return persist.ToolResultBlock{ToolUseID: id, Content: err.Error(), IsError: true}
	}
	outSize := len(resp)
	emit(time.Since(start).Milliseconds(), inSize, outSize, "")
	return persist.ToolResultBlock{ToolUseID: id, Content: resp, IsError: false}
}
