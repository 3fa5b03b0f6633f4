// Package strategy implements the Strategy Runtime: loading user-authored
// entry/exit code, running one cycle per strategy, scheduling cycles across
// strategies, and gating proposed trades through a capital guard.
package strategy

import "time"

// Mode is a strategy's execution posture.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModePaper    Mode = "paper"
	ModeLive     Mode = "live"
)

// SizingMethod determines how EntrySignal confidence translates to order size.
type SizingMethod string

const (
	SizingFixed   SizingMethod = "fixed"
	SizingPercent SizingMethod = "percent"
	SizingKelly   SizingMethod = "kelly"
)

// Capital holds the per-strategy capital invariants enforced by the Capital
// Guard (§4.12).
type Capital struct {
	Total         float64
	PerTrade      float64
	MaxPositions  int
	MaxDailyLoss  float64
	SizingMethod  SizingMethod
}

// Stats are the rolling counters updated at the end of every Executor cycle.
type Stats struct {
	Trades           int
	Wins             int
	Losses           int
	PnL              float64
	MaxDrawdown      float64
	DailyLoss        float64
	LastRunAt        time.Time
	CurrentPositions int
	DeployedCapital  float64

	// PeakPnL is the high-water mark of cumulative PnL, tracked internally to
	// derive MaxDrawdown on each realized exit (§4.10 step 6).
	PeakPnL float64
}

// Strategy is the in-memory view of a persistent bot record (see
// persistence.Strategy for the durable shape; this type carries the
// runtime-only fields the Loader/Executor/Scheduler/Capital Guard need).
type Strategy struct {
	ID                        string
	UserID                    int64
	Name                      string
	Thesis                    string
	Platform                  string
	ExecutionFrequencySeconds int
	Capital                   Capital
	Parameters                map[string]any
	EntryFileID               string
	ExitFileID                string
	ConfigFileID              string
	Mode                      Mode
	Enabled                   bool
	Approved                  bool
	Stats                     Stats
}

// Due reports whether enough time has elapsed since the last cycle.
func (s *Strategy) Due(now time.Time) bool {
	if s.Stats.LastRunAt.IsZero() {
		return true
	}
	freq := time.Duration(s.ExecutionFrequencySeconds) * time.Second
	return now.Sub(s.Stats.LastRunAt) >= freq
}

// EntrySignal is produced by strategy code's entry(ctx) function.
type EntrySignal struct {
	MarketID   string
	Side       string
	Reason     string
	Confidence float64
}

// ExitSignal is produced by strategy code's exit(ctx, position) function.
type ExitSignal struct {
	PositionID string
	Reason     string
}

// Config is the parsed shape of a strategy's config.json ChatFile (§6.4).
type Config struct {
	Name                      string         `json:"name"`
	Thesis                    string         `json:"thesis"`
	Platform                  string         `json:"platform"`
	ExecutionFrequencySeconds int            `json:"execution_frequency_seconds"`
	EntryDescription          string         `json:"entry_description"`
	ExitDescription           string         `json:"exit_description"`
	Capital                   ConfigCapital  `json:"capital"`
	Parameters                map[string]any `json:"parameters"`
	Mode                      string         `json:"mode"`
}

// ConfigCapital is the capital sub-object inside Config.
type ConfigCapital struct {
	Total        float64 `json:"total"`
	PerTrade     float64 `json:"per_trade"`
	MaxPositions int     `json:"max_positions"`
	MaxDailyLoss float64 `json:"max_daily_loss"`
	SizingMethod string  `json:"sizing_method"`
}

// GraduationThresholds are the fixed paper→live promotion criteria (§4.11).
var GraduationThresholds = struct {
	MinTrades      int
	MinWinRate     float64
	MaxDrawdown    float64
}{
	MinTrades:   20,
	MinWinRate:  0.55,
	MaxDrawdown: 0.20,
}
