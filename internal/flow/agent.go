package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"github.com/BTreeMap/TourDesk/internal/genai"
	"github.com/BTreeMap/TourDesk/internal/models"
	"github.com/BTreeMap/TourDesk/internal/store"
)

// Loop bounds. MaxReasoningCycles caps tool-call round trips per turn;
// MaxInjections caps how many times mid-turn messages are folded in, so two
// chatty arrivals cannot keep a turn alive forever.
const (
	MaxReasoningCycles = 10
	MaxInjections      = 2
)

const cycleCapReply = "I'm still working on your request. Bear with me a moment and I'll follow up."

// Tool is the dispatch surface every task tool implements.
type Tool interface {
	Name() string
	GetToolDefinition() openai.ChatCompletionToolParam
	Execute(ctx context.Context, fc *models.FullContext, args json.RawMessage) (*models.ToolResult, *models.ProfilePatch, error)
}

// AgentResult is what one reasoning turn produces. Patch accumulates every
// tool's profile changes; the orchestrator persists it. Silent means no
// reply should be sent at all.
type AgentResult struct {
	Reply  string
	Silent bool
	Patch  *models.ProfilePatch
}

// Agent drives the bounded reasoning loop: model, tool calls, repeat.
type Agent struct {
	client       genai.ClientInterface
	contextStore store.ContextStore
	tools        map[string]Tool
	toolDefs     []openai.ChatCompletionToolParam
	maxCycles    int
}

// NewAgent creates a reasoning agent over the given tools.
func NewAgent(client genai.ClientInterface, contextStore store.ContextStore, tools ...Tool) *Agent {
	byName := make(map[string]Tool, len(tools))
	defs := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
		defs = append(defs, t.GetToolDefinition())
	}
	return &Agent{
		client:       client,
		contextStore: contextStore,
		tools:        byName,
		toolDefs:     defs,
		maxCycles:    MaxReasoningCycles,
	}
}

// ProcessMessage runs one turn: build the transcript, loop the model over
// tool calls until it produces a final reply, the cycle cap trips, or a tool
// goes silent. Queued mid-turn messages are injected at the top of a cycle
// while the injection budget lasts.
func (a *Agent) ProcessMessage(ctx context.Context, fc *models.FullContext) (*AgentResult, error) {
	inboxID, contactID := fc.Runtime.InboxID, fc.Runtime.ContactID
	slog.Debug("Agent.ProcessMessage invoked", "inboxID", inboxID, "contactID", contactID)

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(BuildSystemPrompt(fc)),
		openai.UserMessage(fc.Runtime.CurrentMessage),
	}

	result := &AgentResult{Patch: &models.ProfilePatch{}}
	injectionsLeft := MaxInjections
	var lastToolMessages []string

	for cycle := 0; cycle < a.maxCycles; cycle++ {
		if injectionsLeft > 0 {
			if injected := a.injectQueuedMessages(fc, &messages); injected {
				injectionsLeft--
			}
		}

		resp, err := a.client.GenerateWithTools(ctx, messages, a.toolDefs)
		if err != nil {
			slog.Error("Agent generation failed", "error", err, "cycle", cycle)
			// Fall back to whatever the tools already said rather than
			// dropping the turn.
			if len(lastToolMessages) > 0 {
				result.Reply = strings.Join(lastToolMessages, "\n")
				return result, nil
			}
			return nil, fmt.Errorf("reasoning loop failed: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			result.Reply = resp.Content
			slog.Debug("Agent turn completed", "cycles", cycle+1)
			return result, nil
		}

		messages = append(messages, assistantToolCallMessage(resp))
		lastToolMessages = lastToolMessages[:0]

		for _, toolCall := range resp.ToolCalls {
			content, toolResult := a.executeToolCall(ctx, fc, toolCall, result.Patch)
			messages = append(messages, openai.ToolMessage(content, toolCall.ID))
			if toolResult != nil && toolResult.Message != "" {
				lastToolMessages = append(lastToolMessages, toolResult.Message)
			}
			if toolResult != nil && toolResult.Outcome == models.OutcomeSilent {
				slog.Info("Agent turn ended silently", "tool", toolCall.Function.Name)
				result.Silent = true
				return result, nil
			}
		}
	}

	slog.Warn("Agent hit reasoning cycle cap", "inboxID", inboxID, "contactID", contactID, "maxCycles", a.maxCycles)
	result.Reply = cycleCapReply
	return result, nil
}

// injectQueuedMessages folds messages that arrived mid-turn into the
// transcript and lowers the flag. Returns true when anything was injected.
func (a *Agent) injectQueuedMessages(fc *models.FullContext, messages *[]openai.ChatCompletionMessageParamUnion) bool {
	inboxID, contactID := fc.Runtime.InboxID, fc.Runtime.ContactID
	flagged, err := a.contextStore.HasNewMessages(inboxID, contactID)
	if err != nil || !flagged {
		return false
	}
	queued, err := a.contextStore.DrainQueuedMessages(inboxID, contactID)
	if err != nil {
		slog.Error("Agent failed to drain queued messages", "error", err, "inboxID", inboxID, "contactID", contactID)
		return false
	}
	if err := a.contextStore.ClearNewMessagesFlag(inboxID, contactID); err != nil {
		slog.Error("Agent failed to clear new-messages flag", "error", err, "inboxID", inboxID, "contactID", contactID)
	}
	if len(queued) == 0 {
		return false
	}

	var b strings.Builder
	b.WriteString("The user sent additional messages while you were working:\n")
	for _, q := range queued {
		b.WriteString("- " + q.Content + "\n")
	}
	b.WriteString("Treat them as part of the current request and answer everything together.")
	*messages = append(*messages, openai.SystemMessage(b.String()))
	slog.Info("Agent injected mid-turn messages", "count", len(queued), "inboxID", inboxID, "contactID", contactID)
	return true
}

// executeToolCall dispatches one tool call, applies its patch to the
// in-memory profile, and returns the transcript content for the tool message.
func (a *Agent) executeToolCall(ctx context.Context, fc *models.FullContext, toolCall genai.ToolCall, accumulated *models.ProfilePatch) (string, *models.ToolResult) {
	name := toolCall.Function.Name
	tool, ok := a.tools[name]
	if !ok {
		slog.Error("Agent received unknown tool call", "tool", name)
		return fmt.Sprintf("Error: unknown tool %q", name), nil
	}

	result, patch, err := tool.Execute(ctx, fc, toolCall.Function.Arguments)
	if err != nil {
		slog.Error("Tool execution failed", "error", err, "tool", name)
		return fmt.Sprintf("Error: %v", err), nil
	}

	if patch != nil && !patch.IsEmpty() {
		// Applied immediately so later tools in the same turn see the
		// updated profile; the orchestrator remains the only writer to
		// the store.
		patch.Apply(fc.Persistent)
		accumulated.Merge(patch)
	}

	content, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return result.Message, result
	}
	return string(content), result
}

// assistantToolCallMessage echoes the model's tool-call request back into
// the transcript, as the API requires before tool results.
func assistantToolCallMessage(resp *genai.ToolCallResponse) openai.ChatCompletionMessageParamUnion {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, tc := range resp.ToolCalls {
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Function.Name,
				Arguments: string(tc.Function.Arguments),
			},
		})
	}
	assistant := openai.ChatCompletionAssistantMessageParam{
		Content: openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: param.NewOpt(resp.Content),
		},
		ToolCalls: toolCalls,
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}
