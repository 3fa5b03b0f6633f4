package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"finchcore/internal/agentctx"
	"finchcore/internal/llm"
	"finchcore/internal/observability"
	"finchcore/internal/tools"
)

// ErrTurnLimitExceeded is returned by Run/RunStream when the step loop
// exhausts MaxSteps while the model still has tool calls pending (§4.7 step
// 6, §7 TurnLimitExceeded) — distinct from exhausting the loop with a final
// answer already in hand, which is a normal (if undersized) success.
var ErrTurnLimitExceeded = errors.New("turn limit exceeded with tool calls still pending")

// Engine drives the turn loop described by the Agent Loop component: call the
// model, execute any tool calls it requests, feed the results back, repeat
// until the model returns a final answer or MaxSteps is exhausted.
type Engine struct {
	LLM      llm.Provider
	Tools    tools.Registry
	MaxSteps int
	System   string
	Model    string
	// MaxToolParallelism controls how many tool calls may run concurrently
	// within a single step. <= 0 means unbounded (len(toolCalls)); 1
	// preserves sequential behavior.
	MaxToolParallelism int
	// Delegator, when set, is used to execute nested agent calls (specialist
	// delegation, C8) without routing through tool implementations.
	Delegator Delegator
	// AgentTracer receives trace events emitted during delegated agent runs.
	AgentTracer AgentTracer
	// AgentDepth tracks nesting depth for delegated calls (0 = top-level).
	AgentDepth int
	// ContextWindowTokens is the approximate context window for Model in
	// tokens. If unset, derived using llm.ContextSize.
	ContextWindowTokens int

	// ToolTimeout bounds a single tool call (§5, §6.6 TOOL_TIMEOUT_SEC).
	// <= 0 means the tool call is bounded only by ctx's own deadline, if any.
	ToolTimeout time.Duration
	// NewInvocation, when set, builds a fresh Invocation Context (C3) scoped
	// to exactly one tool call: acquired at the start of executeToolCall and
	// released on every exit path, per agentctx.Invocation's own contract.
	NewInvocation func(ctx context.Context) *agentctx.Invocation

	// Rolling summarization configuration (token-based only).
	SummaryEnabled               bool
	SummaryReserveBufferTokens   int
	SummaryMinKeepLastMessages   int
	SummaryMaxSummaryChunkTokens int

	// OnAssistant is called with each assistant message the provider returns
	// (including those containing tool calls and the final answer).
	OnAssistant func(llm.Message)
	// OnDelta is called for streaming content deltas.
	OnDelta func(string)
	// OnTool is called after each tool execution with name, args, result, call
	// ID, and the real error the dispatch produced (nil on success). A
	// non-nil err is what distinguishes tool_call_complete{status:"error"}
	// from status:"completed" on the event bus (§4.1).
	OnTool func(toolName string, args []byte, result []byte, toolID string, err error)
	// OnToolStart is invoked immediately after the model emits a tool call,
	// before the tool runs, so a UI can show a pending invocation.
	OnToolStart func(toolName string, args []byte, toolID string)
	// OnThinking is called with a short step summary once a step's tool
	// calls have all completed and their results are appended, before the
	// next LLM call (§4.1 thinking event, §4.7 step 5). Streaming providers
	// that emit a real reasoning delta feed it here too via
	// OnThoughtSummary, while the model call is still streaming.
	OnThinking func(string)
	// OnTurnMessage is called for every message added to the conversation
	// during this turn, including intermediate assistant and tool messages.
	OnTurnMessage func(llm.Message)
	// OnSummaryTriggered is invoked when conversation summarization fires.
	OnSummaryTriggered func(inputTokens, tokenBudget, messageCount, summarizedCount int)

	// Tokenizer provides accurate token counting when available. If nil, the
	// engine falls back to heuristic estimation (chars/4).
	Tokenizer                       llm.Tokenizer
	TokenizationFallbackToHeuristic bool

	toolCallSeq uint64
}

// AttachTokenizer wires an accurate tokenizer into the engine when the
// provider exposes one.
func (e *Engine) AttachTokenizer(provider any, cache *llm.TokenCache) {
	if e == nil || provider == nil {
		return
	}

	type tokenizableProvider interface {
		Tokenizer(cache *llm.TokenCache) llm.Tokenizer
	}

	p, ok := provider.(tokenizableProvider)
	if !ok {
		return
	}

	if tok := p.Tokenizer(cache); tok != nil {
		e.Tokenizer = tok
		e.TokenizationFallbackToHeuristic = true
	}
}

func (e *Engine) countTokens(ctx context.Context, text string) int {
	if e.Tokenizer == nil {
		return llm.EstimateTokens(text)
	}
	count, err := e.Tokenizer.CountTokens(ctx, text)
	if err != nil {
		observability.LoggerWithTrace(ctx).Debug().Err(err).Msg("tokenization_failed_using_heuristic")
		return llm.EstimateTokens(text)
	}
	return count
}

func (e *Engine) countMessagesTokens(ctx context.Context, msgs []llm.Message) int {
	if e.Tokenizer == nil {
		return llm.EstimateTokensForMessages(msgs)
	}
	count, err := e.Tokenizer.CountMessagesTokens(ctx, msgs)
	if err != nil {
		observability.LoggerWithTrace(ctx).Debug().Err(err).Msg("tokenization_failed_using_heuristic")
		return llm.EstimateTokensForMessages(msgs)
	}
	return count
}

// Run executes the agent loop until the model produces a final answer.
func (e *Engine) Run(ctx context.Context, userInput string, history []llm.Message) (string, error) {
	msgs := BuildInitialLLMMessages(e.System, userInput, history)
	if e.SummaryEnabled {
		msgs = e.maybeSummarize(ctx, msgs)
	}
	return e.runLoop(ctx, msgs)
}

// RunStream executes the agent loop with streaming support.
func (e *Engine) RunStream(ctx context.Context, userInput string, history []llm.Message) (string, error) {
	msgs := BuildInitialLLMMessages(e.System, userInput, history)
	if e.SummaryEnabled {
		msgs = e.maybeSummarize(ctx, msgs)
	}
	return e.runStreamLoop(ctx, msgs)
}

// streamHandler implements llm.StreamHandler.
type streamHandler struct {
	onDelta    func(string)
	onToolCall func(llm.ToolCall)
	onImage    func(llm.GeneratedImage)
	onThought  func(string)
}

func (h *streamHandler) OnDelta(content string) {
	if h.onDelta != nil {
		h.onDelta(content)
	}
}

func (h *streamHandler) OnToolCall(tc llm.ToolCall) {
	if h.onToolCall != nil {
		h.onToolCall(tc)
	}
}

func (h *streamHandler) OnImage(img llm.GeneratedImage) {
	if h.onImage != nil {
		h.onImage(img)
	}
}

func (h *streamHandler) OnThoughtSummary(summary string) {
	if h.onThought != nil && summary != "" {
		h.onThought(summary)
	}
}

func (e *Engine) model() string { return e.Model }

// runLoop contains the core non-streaming agent step loop shared by Run.
func (e *Engine) runLoop(ctx context.Context, msgs []llm.Message) (string, error) {
	logger := observability.LoggerWithTrace(ctx)
	var final string
	var pendingToolCalls bool

	for step := 0; step < e.MaxSteps; step++ {
		schemas := e.Tools.Schemas()
		logger.Debug().Int("step", step).Int("history", len(msgs)).Int("tools", len(schemas)).Msg("engine_step_start")

		msg, err := e.LLM.Chat(ctx, msgs, schemas, e.model())
		if err != nil {
			logger.Error().Err(err).Int("step", step).Msg("engine_step_error")
			return "", err
		}

		msg.ToolCalls = e.ensureToolCallIDs(msgs, msg.ToolCalls)
		msgs = append(msgs, msg)
		if e.OnAssistant != nil {
			e.OnAssistant(msg)
		}
		if e.OnTurnMessage != nil {
			e.OnTurnMessage(msg)
		}

		if len(msg.ToolCalls) == 0 {
			final = msg.Content
			pendingToolCalls = false
			break
		}
		pendingToolCalls = true

		logger.Info().Int("step", step).Int("tool_calls", len(msg.ToolCalls)).Msg("engine_tool_calls")
		msgs = e.dispatchTools(ctx, msgs, msg.ToolCalls)
		if e.OnThinking != nil {
			e.OnThinking(fmt.Sprintf("step %d: %d tool call(s) completed", step, len(msg.ToolCalls)))
		}
	}

	if pendingToolCalls {
		return "", fmt.Errorf("%w: exhausted %d steps", ErrTurnLimitExceeded, e.MaxSteps)
	}
	if final == "" {
		final = "(no final text — increase max steps or check logs)"
	}
	return final, nil
}

// runStreamLoop contains the core streaming agent step loop shared by RunStream.
func (e *Engine) runStreamLoop(ctx context.Context, msgs []llm.Message) (string, error) {
	logger := observability.LoggerWithTrace(ctx)
	var final string
	var pendingToolCalls bool

	for step := 0; step < e.MaxSteps; step++ {
		var (
			accumulatedContent   string
			accumulatedToolCalls []llm.ToolCall
			accumulatedImages    []llm.GeneratedImage
		)

		handler := &streamHandler{
			onDelta: func(content string) {
				accumulatedContent += content
				if e.OnDelta != nil {
					e.OnDelta(content)
				}
			},
			onToolCall: func(tc llm.ToolCall) {
				accumulatedToolCalls = append(accumulatedToolCalls, tc)
			},
			onImage: func(img llm.GeneratedImage) {
				accumulatedImages = append(accumulatedImages, img)
			},
			onThought: func(summary string) {
				if e.OnThinking != nil {
					e.OnThinking(summary)
				}
			},
		}

		schemas := e.Tools.Schemas()
		logger.Debug().Int("step", step).Int("history", len(msgs)).Int("tools", len(schemas)).Msg("engine_stream_step_start")

		if err := e.LLM.ChatStream(ctx, msgs, schemas, e.model(), handler); err != nil {
			logger.Error().Err(err).Int("step", step).Msg("engine_stream_step_error")
			return "", err
		}

		accumulatedToolCalls = e.ensureToolCallIDs(msgs, accumulatedToolCalls)
		msg := llm.Message{
			Role:      "assistant",
			Content:   accumulatedContent,
			ToolCalls: accumulatedToolCalls,
			Images:    accumulatedImages,
		}

		msgs = append(msgs, msg)
		if e.OnAssistant != nil {
			e.OnAssistant(msg)
		}
		if e.OnTurnMessage != nil {
			e.OnTurnMessage(msg)
		}

		if len(msg.ToolCalls) == 0 {
			final = msg.Content
			pendingToolCalls = false
			break
		}
		pendingToolCalls = true

		logger.Info().Int("step", step).Int("tool_calls", len(msg.ToolCalls)).Msg("engine_stream_tool_calls")
		msgs = e.dispatchTools(ctx, msgs, msg.ToolCalls)
		if e.OnThinking != nil {
			e.OnThinking(fmt.Sprintf("step %d: %d tool call(s) completed", step, len(msg.ToolCalls)))
		}
	}

	if pendingToolCalls {
		return "", fmt.Errorf("%w: exhausted %d steps", ErrTurnLimitExceeded, e.MaxSteps)
	}
	if final == "" {
		final = "(no final text — increase max steps or check logs)"
	}
	return final, nil
}

func (e *Engine) ensureToolCallIDs(msgs []llm.Message, toolCalls []llm.ToolCall) []llm.ToolCall {
	used := make(map[string]struct{}, len(toolCalls))
	for _, msg := range msgs {
		if msg.Role != "assistant" {
			continue
		}
		for _, tc := range msg.ToolCalls {
			if id := strings.TrimSpace(tc.ID); id != "" {
				used[id] = struct{}{}
			}
		}
	}
	for i := range toolCalls {
		id := strings.TrimSpace(toolCalls[i].ID)
		hasSig := strings.TrimSpace(toolCalls[i].ThoughtSignature) != ""
		if id == "" {
			id = e.nextToolCallID()
		}
		if !hasSig {
			for {
				if _, ok := used[id]; !ok {
					break
				}
				id = e.nextToolCallID()
			}
		}
		toolCalls[i].ID = id
		used[id] = struct{}{}
	}
	return toolCalls
}

func (e *Engine) nextToolCallID() string {
	seq := atomic.AddUint64(&e.toolCallSeq, 1)
	return fmt.Sprintf("engine-call-%d", seq)
}

// dispatchTools executes a batch of tool calls concurrently (bounded by
// MaxToolParallelism), appending their tool messages to msgs.
func (e *Engine) dispatchTools(ctx context.Context, msgs []llm.Message, toolCalls []llm.ToolCall) []llm.Message {
	if len(toolCalls) == 0 {
		return msgs
	}

	maxParallel := e.MaxToolParallelism
	if maxParallel <= 0 || maxParallel > len(toolCalls) {
		maxParallel = len(toolCalls)
	}
	if maxParallel <= 0 {
		maxParallel = 1
	}

	results := make([]llm.Message, len(toolCalls))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup

	for i, tc := range toolCalls {
		i, tc := i, tc

		dispatchCtx := ctx
		if e.LLM != nil {
			dispatchCtx = tools.WithProvider(ctx, e.LLM)
		}

		if e.OnToolStart != nil {
			e.OnToolStart(tc.Name, tc.Args, tc.ID)
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(idx int, tc llm.ToolCall, dctx context.Context) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = e.executeToolCall(dctx, tc)
		}(i, tc, dispatchCtx)
	}

	wg.Wait()
	if e.OnTurnMessage != nil {
		for _, toolMsg := range results {
			e.OnTurnMessage(toolMsg)
		}
	}
	return append(msgs, results...)
}

func (e *Engine) executeToolCall(ctx context.Context, tc llm.ToolCall) llm.Message {
	if e.Delegator != nil && isAgentCall(tc.Name) {
		payload, err := e.runDelegatedAgent(ctx, tc)
		if e.OnTool != nil {
			e.OnTool(tc.Name, tc.Args, payload, tc.ID, err)
		}
		return llm.Message{Role: "tool", Content: string(payload), ToolID: tc.ID}
	}

	dctx := ctx
	if e.ToolTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, e.ToolTimeout)
		defer cancel()
	}
	if e.NewInvocation != nil {
		inv := e.NewInvocation(dctx)
		dctx = agentctx.WithInvocation(dctx, inv)
		defer inv.Release()
	}

	observability.LoggerWithTrace(ctx).Info().Str("tool", tc.Name).RawJSON("args", observability.RedactJSON(tc.Args)).Msg("engine_tool_call")
	payload, err := e.Tools.Dispatch(dctx, tc.Name, tc.Args)
	if dctx.Err() == context.DeadlineExceeded {
		err = ErrToolCallTimeout
		payload = []byte(`{"ok":false,"error":"timeout"}`)
	}
	if e.OnTool != nil {
		e.OnTool(tc.Name, tc.Args, payload, tc.ID, err)
	}
	return llm.Message{Role: "tool", Content: string(payload), ToolID: tc.ID}
}

// ErrToolCallTimeout marks a tool_call_complete failure caused by ToolTimeout
// expiring rather than the tool itself failing (§5, §6.6 TOOL_TIMEOUT_SEC).
var ErrToolCallTimeout = errors.New("timeout")

func isAgentCall(name string) bool {
	return name == "agent_call" || name == "ask_agent"
}

// runDelegatedAgent executes an agent-to-agent handoff using the configured
// Delegator and wraps the output in the standard tool payload shape so the
// parent loop can continue unchanged.
func (e *Engine) runDelegatedAgent(ctx context.Context, tc llm.ToolCall) ([]byte, error) {
	var args struct {
		AgentName      string        `json:"agent_name"`
		To             string        `json:"to"`
		Prompt         string        `json:"prompt"`
		History        []llm.Message `json:"history"`
		EnableTools    *bool         `json:"enable_tools"`
		MaxSteps       int           `json:"max_steps"`
		TimeoutSeconds int           `json:"timeout_seconds"`
		ProjectID      string        `json:"project_id"`
		UserID         int64         `json:"user_id"`
	}
	if err := json.Unmarshal(tc.Args, &args); err != nil {
		return []byte(fmt.Sprintf(`{"ok":false,"error":%q}`, err.Error())), err
	}
	if strings.TrimSpace(args.AgentName) == "" && strings.TrimSpace(args.To) != "" {
		args.AgentName = strings.TrimSpace(args.To)
	}
	if strings.TrimSpace(args.Prompt) == "" {
		err := fmt.Errorf("prompt is required")
		return []byte(`{"ok":false,"error":"prompt is required"}`), err
	}
	callID := tc.ID
	if strings.TrimSpace(callID) == "" {
		callID = fmt.Sprintf("agent-%d", time.Now().UnixNano())
	}
	req := DelegateRequest{
		AgentName:      strings.TrimSpace(args.AgentName),
		Prompt:         args.Prompt,
		History:        args.History,
		EnableTools:    args.EnableTools,
		MaxSteps:       args.MaxSteps,
		TimeoutSeconds: args.TimeoutSeconds,
		ProjectID:      strings.TrimSpace(args.ProjectID),
		UserID:         args.UserID,
		CallID:         callID,
		ParentCallID:   tc.ID,
		Depth:          e.AgentDepth + 1,
	}
	result, err := e.Delegator.Run(ctx, req, e.AgentTracer)
	if err != nil {
		return []byte(fmt.Sprintf(`{"ok":false,"agent":%q,"error":%q}`, req.AgentName, err.Error())), err
	}
	out := map[string]any{"ok": true, "agent": req.AgentName, "output": result}
	if b, err := json.Marshal(out); err == nil {
		return b, nil
	}
	return []byte(result), nil
}

// maybeSummarize inspects msgs and, if the input tokens exceed the available
// budget (context window minus reserve buffer), calls the LLM to produce a
// short summary of older messages.
//
// 1. Count input tokens (preflight)
// 2. Compare against context_window - reserve_buffer
// 3. If over threshold, summarize/compact older turns
func (e *Engine) maybeSummarize(ctx context.Context, msgs []llm.Message) []llm.Message {
	if len(msgs) == 0 {
		return msgs
	}

	ctxSize := e.ContextWindowTokens
	if ctxSize <= 0 {
		if sz, ok := llm.ContextSize(e.model()); ok {
			ctxSize = sz
		}
	}
	if ctxSize <= 0 {
		ctxSize = 128_000
	}

	reserveBuffer := e.SummaryReserveBufferTokens
	if reserveBuffer <= 0 {
		reserveBuffer = 25_000
	}

	minTail := e.SummaryMinKeepLastMessages
	if minTail <= 0 {
		minTail = 4
	}

	tokenBudget := ctxSize - reserveBuffer
	if tokenBudget <= 0 {
		tokenBudget = ctxSize / 2
	}

	inputTokens := e.countMessagesTokens(ctx, msgs)
	if inputTokens <= tokenBudget {
		return msgs
	}

	logger := observability.LoggerWithTrace(ctx)
	logger.Info().
		Int("messages", len(msgs)).
		Int("input_tokens", inputTokens).
		Int("token_budget", tokenBudget).
		Int("context_window", ctxSize).
		Int("reserve_buffer", reserveBuffer).
		Msg("summarization_triggered")

	start := 0
	var sysMsg *llm.Message
	if msgs[0].Role == "system" {
		sysMsg = &msgs[0]
		start = 1
	}

	recent := make([]llm.Message, 0, len(msgs))
	remaining := tokenBudget / 2
	for i := len(msgs) - 1; i >= start; i-- {
		msgTokens := e.countTokens(ctx, msgs[i].Content)
		if len(recent) >= minTail && remaining-msgTokens <= 0 {
			break
		}
		recent = append(recent, msgs[i])
		remaining -= msgTokens
		if remaining <= 0 {
			break
		}
	}

	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	cutIndex := len(msgs) - len(recent)
	if cutIndex < start {
		cutIndex = start
	}
	cutIndex = e.adjustCutIndexForToolDeps(msgs, start, cutIndex)
	if cutIndex < start {
		cutIndex = start
	}
	recent = msgs[cutIndex:]
	toSummarize := msgs[start:cutIndex]
	if len(toSummarize) == 0 {
		return msgs
	}

	if e.OnSummaryTriggered != nil {
		e.OnSummaryTriggered(inputTokens, tokenBudget, len(msgs), len(toSummarize))
	}

	return e.buildSummarizedMessages(ctx, sysMsg, toSummarize, recent, len(recent))
}

// adjustCutIndexForToolDeps ensures that if the kept "recent" tail includes
// any tool response messages, it also includes the preceding assistant
// message(s) that contain the corresponding ToolCalls — summarization must
// not split that chain (providers may echo call-bound metadata).
func (e *Engine) adjustCutIndexForToolDeps(msgs []llm.Message, start, cutIndex int) int {
	if cutIndex <= start || cutIndex >= len(msgs) {
		return cutIndex
	}

	required := make(map[string]struct{})
	for i := cutIndex; i < len(msgs); i++ {
		if msgs[i].Role == "tool" {
			if id := strings.TrimSpace(msgs[i].ToolID); id != "" {
				required[id] = struct{}{}
			}
		}
	}
	if len(required) == 0 {
		return cutIndex
	}

	earliestNeeded := cutIndex
	for toolID := range required {
		foundIdx := -1
		for i := cutIndex - 1; i >= start; i-- {
			if msgs[i].Role != "assistant" {
				continue
			}
			for _, tc := range msgs[i].ToolCalls {
				if strings.TrimSpace(tc.ID) == toolID {
					foundIdx = i
					break
				}
			}
			if foundIdx != -1 {
				break
			}
		}
		if foundIdx != -1 && foundIdx < earliestNeeded {
			earliestNeeded = foundIdx
		}
	}

	return earliestNeeded
}

// buildSummarizedMessages constructs a summary prompt, calls the LLM, and
// returns the new message list (system + [summary] + recent).
func (e *Engine) buildSummarizedMessages(
	ctx context.Context,
	sysMsg *llm.Message,
	toSummarize []llm.Message,
	recent []llm.Message,
	keep int,
) []llm.Message {
	maxChunkTokens := e.SummaryMaxSummaryChunkTokens
	if maxChunkTokens <= 0 {
		maxChunkTokens = 4096
	}

	var b strings.Builder
	currentTokens := 0
	for _, m := range toSummarize {
		msgTokens := e.countTokens(ctx, m.Content) + 8
		if currentTokens+msgTokens > maxChunkTokens {
			break
		}
		b.WriteString("Role: ")
		b.WriteString(m.Role)
		b.WriteString("\n")
		content := m.Content
		if len(content) > maxChunkTokens*4 {
			content = content[:maxChunkTokens*4] + "\n[TRUNCATED]"
		}
		b.WriteString(content)
		b.WriteString("\n\n")
		currentTokens += msgTokens
	}

	sys := "You are a concise summarizer. Produce a short, factual summary (<= 300 characters) of the conversation that follows. Keep important facts, omit chit-chat. Return only the summary text."
	user := "Summarize the following conversation:\n\n" + b.String()

	summReq := []llm.Message{{Role: "system", Content: sys}, {Role: "user", Content: user}}
	sumMsg, err := e.LLM.Chat(ctx, summReq, nil, e.model())
	if err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).Msg("summary_failed")
		return append([]llm.Message{}, append(toSummarize, recent...)...)
	}

	summaryContent := "[SUMMARY] " + strings.TrimSpace(sumMsg.Content)
	summary := llm.Message{Role: "assistant", Content: summaryContent}

	newMsgs := make([]llm.Message, 0, 1+keep+2)
	if sysMsg != nil {
		newMsgs = append(newMsgs, *sysMsg)
	}
	newMsgs = append(newMsgs, summary)
	newMsgs = append(newMsgs, recent...)

	observability.LoggerWithTrace(ctx).Info().
		Int("orig_messages", len(toSummarize)+len(recent)).
		Int("new_messages", len(newMsgs)).
		Msg("history_summarized")
	return newMsgs
}
