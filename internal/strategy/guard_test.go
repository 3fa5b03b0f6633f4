package strategy

import "testing"

func TestGuardRejectsMaxPositions(t *testing.T) {
	capital := Capital{Total: 1000, PerTrade: 100, MaxPositions: 2, SizingMethod: SizingFixed}
	stats := Stats{CurrentPositions: 2}
	d := Guard(capital, stats, ModePaper, true, EntrySignal{MarketID: "m1", Confidence: 0.9})
	if d.Approved || d.Reason != "max_positions_reached" {
		t.Fatalf("expected max_positions_reached, got %+v", d)
	}
}

func TestGuardRejectsCapitalExhausted(t *testing.T) {
	capital := Capital{Total: 100, PerTrade: 50, MaxPositions: 5, SizingMethod: SizingFixed}
	stats := Stats{DeployedCapital: 60}
	d := Guard(capital, stats, ModePaper, true, EntrySignal{MarketID: "m1", Confidence: 0.9})
	if d.Approved || d.Reason != "capital_exhausted" {
		t.Fatalf("expected capital_exhausted, got %+v", d)
	}
}

func TestGuardRejectsDailyLossLimit(t *testing.T) {
	capital := Capital{Total: 1000, PerTrade: 10, MaxPositions: 5, MaxDailyLoss: 50, SizingMethod: SizingFixed}
	stats := Stats{DailyLoss: 50}
	d := Guard(capital, stats, ModePaper, true, EntrySignal{MarketID: "m1", Confidence: 0.9})
	if d.Approved || d.Reason != "daily_loss_limit" {
		t.Fatalf("expected daily_loss_limit, got %+v", d)
	}
}

func TestGuardRejectsLiveUnapproved(t *testing.T) {
	capital := Capital{Total: 1000, PerTrade: 10, MaxPositions: 5, MaxDailyLoss: 50, SizingMethod: SizingFixed}
	d := Guard(capital, Stats{}, ModeLive, false, EntrySignal{MarketID: "m1", Confidence: 0.9})
	if d.Approved || d.Reason != "live_mode_unapproved" {
		t.Fatalf("expected live_mode_unapproved, got %+v", d)
	}
}

func TestGuardSizingMethods(t *testing.T) {
	cases := []struct {
		name    string
		capital Capital
		conf    float64
		want    float64
	}{
		{"fixed", Capital{Total: 1000, PerTrade: 25, MaxPositions: 5, MaxDailyLoss: 50, SizingMethod: SizingFixed}, 0.5, 25},
		{"percent", Capital{Total: 1000, PerTrade: 10, MaxPositions: 5, MaxDailyLoss: 50, SizingMethod: SizingPercent}, 0.5, 100},
		{"kelly", Capital{Total: 1000, PerTrade: 100, MaxPositions: 5, MaxDailyLoss: 50, SizingMethod: SizingKelly}, 0.4, 40},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Guard(tc.capital, Stats{}, ModePaper, true, EntrySignal{MarketID: "m1", Confidence: tc.conf})
			if !d.Approved {
				t.Fatalf("expected approval, got %+v", d)
			}
			if d.Size != tc.want {
				t.Fatalf("expected size %v, got %v", tc.want, d.Size)
			}
		})
	}
}

func TestGuardClampsToRemainingCapital(t *testing.T) {
	capital := Capital{Total: 100, PerTrade: 80, MaxPositions: 5, SizingMethod: SizingFixed}
	stats := Stats{DeployedCapital: 30}
	d := Guard(capital, stats, ModePaper, true, EntrySignal{MarketID: "m1", Confidence: 0.9})
	if !d.Approved {
		t.Fatalf("expected approval, got %+v", d)
	}
	if d.Size != 70 {
		t.Fatalf("expected clamp to 70, got %v", d.Size)
	}
}

func TestCanGraduate(t *testing.T) {
	ok := Stats{Trades: 25, Wins: 15, PnL: 10, MaxDrawdown: 0.1}
	if !CanGraduate(ok) {
		t.Fatalf("expected graduation eligibility")
	}
	tooFew := Stats{Trades: 5, Wins: 4, PnL: 10}
	if CanGraduate(tooFew) {
		t.Fatalf("expected graduation to be refused for too few trades")
	}
	lowWinRate := Stats{Trades: 25, Wins: 10, PnL: 10}
	if CanGraduate(lowWinRate) {
		t.Fatalf("expected graduation to be refused for low win rate")
	}
}
