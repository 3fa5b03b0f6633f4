package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"finchcore/internal/persistence"
	"finchcore/internal/platform"
	"finchcore/internal/sandbox"
)

// ExecutionLogger records one execution result per cycle (C10's audit
// trail, backed by persistence.ExecutionStore).
type ExecutionLogger interface {
	Append(ctx context.Context, e persistence.Execution) (persistence.Execution, error)
}

// Executor runs one cycle for one strategy (§4.10).
type Executor struct {
	Loader   *Loader
	Platform platform.Client
	Log      ExecutionLogger
	Now      func() time.Time
	Timeout  time.Duration // sandbox call budget per entry/exit invocation
}

// NewExecutor returns an Executor with real-clock defaults.
func NewExecutor(loader *Loader, client platform.Client, log ExecutionLogger, sandboxTimeout time.Duration) *Executor {
	return &Executor{Loader: loader, Platform: client, Log: log, Now: func() time.Time { return time.Now().UTC() }, Timeout: sandboxTimeout}
}

type cycleAction struct {
	Kind     string `json:"kind"` // "entry" | "exit"
	MarketID string `json:"market_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Size     float64 `json:"size,omitempty"`
	OrderID  string `json:"order_id,omitempty"`
}

// Run executes one cycle for st, updating its stats and recording an
// execution log entry. The returned Stats is the strategy's new runtime
// state — callers persist it via persistence.StrategyStore.UpdateRuntime.
func (e *Executor) Run(ctx context.Context, st *Strategy, dryRun bool) (Stats, error) {
	started := e.Now()
	var signals []json.RawMessage
	var actions []cycleAction
	var logLines []string

	bundle, err := e.Loader.Load(ctx, st.ID, st.EntryFileID, st.ExitFileID, st.ConfigFileID)
	if err != nil {
		e.record(ctx, st, started, "failed", nil, nil, err.Error())
		return st.Stats, fmt.Errorf("load bundle: %w", err)
	}
	applyConfig(st, bundle.Config)

	positions, err := e.Platform.GetPositions(ctx, st.ID)
	if err != nil {
		e.record(ctx, st, started, "failed", nil, nil, err.Error())
		return st.Stats, fmt.Errorf("get positions: %w", err)
	}

	now := e.Now()
	stats := st.Stats
	stats.CurrentPositions = len(positions)
	if !sameUTCDay(stats.LastRunAt, now) {
		stats.DailyLoss = 0
	}

	for _, pos := range positions {
		exitSig, err := e.runExit(ctx, bundle, pos)
		if err != nil {
			logLines = append(logLines, fmt.Sprintf("exit_fn error for position %s: %v", pos.ID, err))
			continue
		}
		if exitSig == nil {
			continue
		}
		side := platform.SideSell
		ack, err := e.submitOrder(ctx, platform.OrderParams{
			StrategyID: st.ID, MarketID: pos.MarketID, Side: side, Size: pos.Size, DryRun: dryRun,
		})
		if err != nil {
			logLines = append(logLines, fmt.Sprintf("exit order failed for position %s: %v", pos.ID, err))
			continue
		}
		stats.Trades++
		stats.CurrentPositions--
		stats.DeployedCapital -= pos.Size
		applyRealizedPnL(&stats, (ack.FillPrice-pos.EntryPrice)*pos.Size)
		actions = append(actions, cycleAction{Kind: "exit", MarketID: pos.MarketID, Reason: exitSig.Reason, Size: pos.Size, OrderID: ack.OrderID})
	}

	entrySignals, err := e.runEntry(ctx, bundle, st.Parameters)
	if err != nil {
		e.record(ctx, st, started, "failed", nil, nil, err.Error())
		return stats, fmt.Errorf("entry_fn: %w", err)
	}
	sort.Slice(entrySignals, func(i, j int) bool { return entrySignals[i].Confidence > entrySignals[j].Confidence })

	for _, sig := range entrySignals {
		raw, _ := json.Marshal(sig)
		signals = append(signals, raw)

		decision := Guard(st.Capital, stats, st.Mode, st.Approved, sig)
		if !decision.Approved {
			logLines = append(logLines, fmt.Sprintf("entry for %s rejected: %s", sig.MarketID, decision.Reason))
			continue
		}
		side := platform.SideBuy
		ack, err := e.submitOrder(ctx, platform.OrderParams{
			StrategyID: st.ID, MarketID: sig.MarketID, Side: side, Size: decision.Size, DryRun: dryRun,
		})
		if err != nil {
			logLines = append(logLines, fmt.Sprintf("entry order failed for %s: %v", sig.MarketID, err))
			continue
		}
		stats.Trades++
		stats.CurrentPositions++
		stats.DeployedCapital += decision.Size
		actions = append(actions, cycleAction{Kind: "entry", MarketID: sig.MarketID, Reason: sig.Reason, Size: decision.Size, OrderID: ack.OrderID})
	}

	stats.LastRunAt = now
	e.record(ctx, st, started, "success", signals, actions, joinLogs(logLines))
	return stats, nil
}

// applyRealizedPnL folds one closed position's realized P&L into stats: the
// win/loss tally, cumulative PnL, and the peak-to-trough drawdown fraction
// (§4.10 step 6, §4.11 graduation, §4.12 kill-switch).
func applyRealizedPnL(stats *Stats, pnl float64) {
	stats.PnL += pnl
	switch {
	case pnl > 0:
		stats.Wins++
	case pnl < 0:
		stats.Losses++
		stats.DailyLoss += -pnl
	}
	if stats.PnL > stats.PeakPnL {
		stats.PeakPnL = stats.PnL
	}
	if stats.PeakPnL > 0 {
		if dd := (stats.PeakPnL - stats.PnL) / stats.PeakPnL; dd > stats.MaxDrawdown {
			stats.MaxDrawdown = dd
		}
	}
}

// sameUTCDay reports whether a and b fall on the same UTC calendar day;
// a zero a (no prior run) is treated as a different day so DailyLoss starts
// fresh on a strategy's first cycle.
func sameUTCDay(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// applyConfig fills in the capital/parameters fields a durable Strategy
// record doesn't carry directly: they live in config.json, the source of
// truth the Loader just validated and parsed (§6.4). Every Capital field
// Guard gates on (total, per-trade size, position cap, daily-loss cap,
// sizing method) is taken from config.json.
func applyConfig(st *Strategy, cfg Config) {
	st.Thesis = cfg.Thesis
	st.Platform = cfg.Platform
	st.Parameters = cfg.Parameters
	st.Capital = Capital{
		Total:        cfg.Capital.Total,
		PerTrade:     cfg.Capital.PerTrade,
		MaxPositions: cfg.Capital.MaxPositions,
		MaxDailyLoss: cfg.Capital.MaxDailyLoss,
		SizingMethod: SizingMethod(cfg.Capital.SizingMethod),
	}
}

func (e *Executor) submitOrder(ctx context.Context, params platform.OrderParams) (platform.OrderAck, error) {
	return e.Platform.SubmitOrder(ctx, params)
}

func (e *Executor) runExit(ctx context.Context, bundle *Bundle, pos platform.Position) (*ExitSignal, error) {
	ctxArg, err := ctxToStarlark(e.Now(), nil)
	if err != nil {
		return nil, err
	}
	posArg := positionToStarlark(pos, e.Now())
	result, err := sandbox.Call(ctx, bundle.ExitProgram, "exit", e.Timeout, ctxArg, posArg)
	if err != nil {
		return nil, err
	}
	return exitSignalFromStarlark(result)
}

func (e *Executor) runEntry(ctx context.Context, bundle *Bundle, params map[string]any) ([]EntrySignal, error) {
	ctxArg, err := ctxToStarlark(e.Now(), params)
	if err != nil {
		return nil, err
	}
	result, err := sandbox.Call(ctx, bundle.EntryProgram, "entry", e.Timeout, ctxArg)
	if err != nil {
		return nil, err
	}
	return entrySignalsFromStarlark(result)
}

func (e *Executor) record(ctx context.Context, st *Strategy, started time.Time, status string, signals []json.RawMessage, actions []cycleAction, errMsg string) {
	if e.Log == nil {
		return
	}
	signalsJSON, _ := json.Marshal(signals)
	actionsJSON, _ := json.Marshal(actions)
	_, _ = e.Log.Append(ctx, persistence.Execution{
		StrategyID: st.ID,
		StartedAt:  started,
		DurationMs: int(e.Now().Sub(started).Milliseconds()),
		Mode:       string(st.Mode),
		Status:     status,
		Signals:    signalsJSON,
		Actions:    actionsJSON,
		Logs:       errMsg,
		Error:      errMsg,
	})
}

func joinLogs(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
