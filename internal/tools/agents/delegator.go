// Package agents bridges the Agent Loop to the Sub-Agent Delegation
// component (C8): a Delegator that runs a named specialist through its own
// nested agent.Engine instead of a plain tool call.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"finchcore/internal/agent"
	"finchcore/internal/llm"
	"finchcore/internal/observability"
	"finchcore/internal/specialists"
	"finchcore/internal/tools"
)

// Delegator bridges agent-to-agent calls directly through the agent engine
// rather than the tool registry. It supports tracing nested interactions so
// UIs can render sub-agent activity.
type Delegator struct {
	reg            tools.Registry
	specReg        *specialists.Registry
	defaultSys     string
	defaultMaxStep int
	defaultTimeout time.Duration
}

// NewDelegator returns a Delegator that resolves named specialists from
// specReg, falling back to reg (the orchestrator's own tool registry) when
// no specialist is named or a matched specialist has no tools of its own.
func NewDelegator(reg tools.Registry, specReg *specialists.Registry, defaultMaxSteps int) *Delegator {
	return &Delegator{reg: reg, specReg: specReg, defaultSys: "You are a helpful financial research assistant.", defaultMaxStep: defaultMaxSteps}
}

// SetDefaultTimeout bounds a delegated run with no explicit TimeoutSeconds.
func (d *Delegator) SetDefaultTimeout(seconds int) {
	if seconds > 0 {
		d.defaultTimeout = time.Duration(seconds) * time.Second
	}
}

// SetRegistry updates the tools registry used by delegated runs that don't
// match a named specialist, letting the orchestrator rebuild its registry
// (e.g. allowlist changes) without recreating the Delegator.
func (d *Delegator) SetRegistry(reg tools.Registry) {
	d.reg = reg
}

// Run implements agent.Delegator.
func (d *Delegator) Run(ctx context.Context, req agent.DelegateRequest, tracer agent.AgentTracer) (string, error) {
	var prov llm.Provider
	var toolsReg tools.Registry
	system := d.defaultSys
	model := ""

	toolsReg = d.reg

	if req.AgentName != "" && d.specReg != nil {
		if a, ok := d.specReg.Get(req.AgentName); ok && a != nil {
			prov = a.Provider()
			toolsReg = a.ToolsRegistry()
			system = a.System
			model = a.Model
			if a.EnableTools && toolsReg == nil {
				toolsReg = tools.NewRegistry()
			}
		}
	}
	if prov == nil {
		if p, ok := tools.ProviderFromContext(ctx); ok {
			prov = p
		}
	}
	if prov == nil {
		return "", fmt.Errorf("no llm provider available for delegated agent %q", req.AgentName)
	}

	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = d.defaultMaxStep
		if maxSteps <= 0 {
			maxSteps = 8
		}
	}
	if req.EnableTools != nil && !*req.EnableTools {
		toolsReg = tools.NewRegistry()
	} else if toolsReg == nil {
		toolsReg = tools.NewRegistry()
	}

	runCtx := ctx
	if req.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutSeconds)*time.Second)
		defer cancel()
	} else if _, has := ctx.Deadline(); !has && d.defaultTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.defaultTimeout)
		defer cancel()
	}

	if tracer != nil {
		tracer.Trace(agent.AgentTrace{Type: "agent_start", Agent: req.AgentName, Model: model, CallID: req.CallID, ParentCallID: req.ParentCallID, Depth: req.Depth, Content: req.Prompt})
	}

	eng := &agent.Engine{
		LLM:         prov,
		Tools:       toolsReg,
		MaxSteps:    maxSteps,
		System:      system,
		Model:       model,
		Delegator:   d,
		AgentTracer: tracer,
		AgentDepth:  req.Depth,
	}

	if tracer != nil {
		eng.OnDelta = func(delta string) {
			if delta == "" {
				return
			}
			tracer.Trace(agent.AgentTrace{Type: "agent_delta", Agent: req.AgentName, Model: model, CallID: req.CallID, ParentCallID: req.ParentCallID, Depth: req.Depth, Content: delta, Role: "assistant"})
		}
		eng.OnToolStart = func(name string, args []byte, toolID string) {
			tracer.Trace(agent.AgentTrace{Type: "agent_tool_start", Agent: req.AgentName, Model: model, CallID: req.CallID, ParentCallID: req.ParentCallID, Depth: req.Depth, Title: name, Args: string(args), ToolID: toolID})
		}
		eng.OnTool = func(name string, args []byte, result []byte, toolID string, err error) {
			errStr := ""
			if err != nil {
				errStr = err.Error()
			}
			tracer.Trace(agent.AgentTrace{Type: "agent_tool_result", Agent: req.AgentName, Model: model, CallID: req.CallID, ParentCallID: req.ParentCallID, Depth: req.Depth, Title: name, Args: string(args), Data: string(result), ToolID: toolID, Error: errStr})
		}
	}

	observability.LoggerWithTrace(ctx).Info().Str("agent_delegate", req.AgentName).Msg("delegated_agent_start")
	out, err := eng.Run(runCtx, req.Prompt, req.History)
	if err != nil {
		if tracer != nil {
			tracer.Trace(agent.AgentTrace{Type: "agent_error", Agent: req.AgentName, Model: model, CallID: req.CallID, ParentCallID: req.ParentCallID, Depth: req.Depth, Error: err.Error()})
		}
		return "", err
	}
	if tracer != nil {
		tracer.Trace(agent.AgentTrace{Type: "agent_final", Agent: req.AgentName, Model: model, CallID: req.CallID, ParentCallID: req.ParentCallID, Depth: req.Depth, Content: out})
	}
	return out, nil
}

// agentCallTool registers delegation (C8) into the Tool Registry (C2) so the
// orchestrator's own LLM actually sees "agent_call" in its advertised tool
// schema (Engine.executeToolCall's isAgentCall interception only fires for a
// tool call the model was able to emit in the first place; a schema the
// model never saw never gets called). Its Call method mirrors
// Engine.runDelegatedAgent's argument shape so either entry point reaches
// the same Delegator.Run.
type agentCallTool struct {
	delegator *Delegator
	specReg   *specialists.Registry
}

// NewAgentCallTool returns a Tool that delegates a prompt to a named
// specialist via d.
func NewAgentCallTool(d *Delegator, specReg *specialists.Registry) *agentCallTool {
	return &agentCallTool{delegator: d, specReg: specReg}
}

func (t *agentCallTool) Name() string { return "agent_call" }

func (t *agentCallTool) JSONSchema() map[string]any {
	description := "Delegate a prompt to a named specialist agent and return its final answer."
	if t.specReg != nil {
		if names := t.specReg.Names(); len(names) > 0 {
			description += " Available specialists: " + strings.Join(names, ", ") + "."
		}
	}
	return map[string]any{
		"description": description,
		"parameters": map[string]any{
			"type":     "object",
			"required": []string{"agent_name", "prompt"},
			"properties": map[string]any{
				"agent_name":      map[string]any{"type": "string", "description": "name of the specialist to invoke"},
				"prompt":          map[string]any{"type": "string"},
				"enable_tools":    map[string]any{"type": "boolean", "description": "allow the specialist to use its own tools"},
				"max_steps":       map[string]any{"type": "integer"},
				"timeout_seconds": map[string]any{"type": "integer"},
			},
		},
	}
}

func (t *agentCallTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		AgentName      string `json:"agent_name"`
		Prompt         string `json:"prompt"`
		EnableTools    *bool  `json:"enable_tools"`
		MaxSteps       int    `json:"max_steps"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decode agent_call args: %w", err)
	}
	args.AgentName = strings.TrimSpace(args.AgentName)
	if args.AgentName == "" {
		return nil, fmt.Errorf("agent_name is required")
	}
	if strings.TrimSpace(args.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	req := agent.DelegateRequest{
		AgentName:      args.AgentName,
		Prompt:         args.Prompt,
		EnableTools:    args.EnableTools,
		MaxSteps:       args.MaxSteps,
		TimeoutSeconds: args.TimeoutSeconds,
	}
	out, err := t.delegator.Run(ctx, req, nil)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", args.AgentName, err)
	}
	return map[string]any{"ok": true, "agent": args.AgentName, "output": out}, nil
}
