package strategy

import (
	"context"
	"testing"
	"time"

	"finchcore/internal/persistence"
	"finchcore/internal/platform"
)

type fakeExecutionLog struct {
	recorded []persistence.Execution
}

func (f *fakeExecutionLog) Append(ctx context.Context, e persistence.Execution) (persistence.Execution, error) {
	f.recorded = append(f.recorded, e)
	return e, nil
}

func TestExecutorRunEntersAndExits(t *testing.T) {
	files := testFiles()
	loader := NewLoader(files)
	client := platform.NewFake()
	client.SeedPositions("strat1", []platform.Position{
		{ID: "p1", MarketID: "ETH-USD", Side: platform.SideBuy, Size: 20, EntryAt: time.Now()},
	})
	execLog := &fakeExecutionLog{}
	exec := NewExecutor(loader, client, execLog, 2*time.Second)

	st := &Strategy{
		ID:           "strat1",
		EntryFileID:  "entry1",
		ExitFileID:   "exit1",
		ConfigFileID: "config1",
		Mode:         ModePaper,
		Approved:     true,
		Capital:      Capital{Total: 1000, PerTrade: 50, MaxPositions: 3, MaxDailyLoss: 100, SizingMethod: SizingFixed},
	}

	stats, err := exec.Run(context.Background(), st, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Trades != 2 {
		t.Fatalf("expected 2 trades (1 exit + 1 entry), got %d", stats.Trades)
	}
	if len(execLog.recorded) != 1 || execLog.recorded[0].Status != "success" {
		t.Fatalf("expected one success execution record, got %+v", execLog.recorded)
	}

	positionsAfter, _ := client.GetPositions(context.Background(), "strat1")
	for _, p := range positionsAfter {
		if p.MarketID == "ETH-USD" {
			t.Fatalf("expected ETH-USD position to be closed by exit signal")
		}
	}
}

func TestExecutorRejectsEntryOverCapital(t *testing.T) {
	files := testFiles()
	files.files["config1"] = `{
  "name": "mean-revert",
  "thesis": "test",
  "platform": "polymarket",
  "execution_frequency_seconds": 300,
  "capital": {"total": 40, "per_trade": 50, "max_positions": 3, "max_daily_loss": 100, "sizing_method": "fixed"},
  "parameters": {},
  "mode": "paper"
}`
	loader := NewLoader(files)
	client := platform.NewFake()
	execLog := &fakeExecutionLog{}
	exec := NewExecutor(loader, client, execLog, 2*time.Second)

	st := &Strategy{
		ID:           "strat1",
		EntryFileID:  "entry1",
		ExitFileID:   "exit1",
		ConfigFileID: "config1",
		Mode:         ModePaper,
		Approved:     true,
	}

	stats, err := exec.Run(context.Background(), st, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Trades != 0 {
		t.Fatalf("expected entry to be rejected by capital guard, got %d trades", stats.Trades)
	}
}

func TestExecutorLoadFailureRecordsFailedExecution(t *testing.T) {
	files := testFiles()
	files.files["entry1"] = "def entry(ctx)\n  return []\n"
	loader := NewLoader(files)
	client := platform.NewFake()
	execLog := &fakeExecutionLog{}
	exec := NewExecutor(loader, client, execLog, 2*time.Second)

	st := &Strategy{ID: "strat1", EntryFileID: "entry1", ExitFileID: "exit1", ConfigFileID: "config1", Mode: ModePaper}
	if _, err := exec.Run(context.Background(), st, false); err == nil {
		t.Fatalf("expected load failure to surface")
	}
	if len(execLog.recorded) != 1 || execLog.recorded[0].Status != "failed" {
		t.Fatalf("expected one failed execution record, got %+v", execLog.recorded)
	}
}
