package strategy

// GuardDecision is the Capital Guard's verdict for one proposed entry.
type GuardDecision struct {
	Approved bool
	Reason   string // set when Approved is false
	Size     float64
}

// Guard is a pure function of a strategy's capital invariants, its current
// stats, and a proposed entry signal — it reads no external state and
// performs no I/O, so a cycle can call it as many times as it has entry
// signals without any of the Executor's own suspension points.
func Guard(capital Capital, stats Stats, mode Mode, approved bool, signal EntrySignal) GuardDecision {
	if stats.CurrentPositions >= capital.MaxPositions {
		return GuardDecision{Reason: "max_positions_reached"}
	}
	size := sizeFor(capital, signal.Confidence)
	if stats.DeployedCapital+size >= capital.Total {
		return GuardDecision{Reason: "capital_exhausted"}
	}
	if stats.DailyLoss >= capital.MaxDailyLoss {
		return GuardDecision{Reason: "daily_loss_limit"}
	}
	if mode == ModeLive && !approved {
		return GuardDecision{Reason: "live_mode_unapproved"}
	}
	size = clamp(size, 0, capital.Total-stats.DeployedCapital)
	if size <= 0 {
		return GuardDecision{Reason: "zero_size_after_clamp"}
	}
	return GuardDecision{Approved: true, Size: size}
}

// sizeFor derives a position size from the configured sizing method, before
// clamping (§4.12): fixed = per_trade; percent = per_trade% of total;
// kelly = per_trade * confidence.
func sizeFor(capital Capital, confidence float64) float64 {
	switch capital.SizingMethod {
	case SizingPercent:
		return capital.PerTrade / 100 * capital.Total
	case SizingKelly:
		return capital.PerTrade * confidence
	case SizingFixed:
		fallthrough
	default:
		return capital.PerTrade
	}
}

// CanGraduate reports whether a paper strategy's track record clears the
// fixed promotion bar (§4.11 graduation rule). Graduation itself is never
// automatic — this only answers "is the user allowed to flip mode=live";
// the mode-change API handler refuses mode=live writes that don't satisfy it.
func CanGraduate(stats Stats) bool {
	if stats.Trades < GraduationThresholds.MinTrades {
		return false
	}
	winRate := float64(stats.Wins) / float64(stats.Trades)
	if winRate <= GraduationThresholds.MinWinRate {
		return false
	}
	if stats.PnL <= 0 {
		return false
	}
	if stats.MaxDrawdown >= GraduationThresholds.MaxDrawdown {
		return false
	}
	return true
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
