package strategy

import (
	"context"
	"testing"
)

type fakeFiles struct {
	files map[string]string
	fetched int
}

func (f *fakeFiles) FetchChatFile(ctx context.Context, fileID string) (string, error) {
	f.fetched++
	return f.files[fileID], nil
}

const testEntrySrc = `
def entry(ctx):
    return [struct(market_id="BTC-USD", side="buy", reason="momentum", confidence=0.8)]
`

const testExitSrc = `
def exit(ctx, position):
    if position.size > 10:
        return struct(position_id=position.id, reason="size threshold")
    return None
`

const testConfigSrc = `{
  "name": "mean-revert",
  "thesis": "test",
  "platform": "polymarket",
  "execution_frequency_seconds": 300,
  "capital": {"total": 1000, "per_trade": 50, "max_positions": 3, "max_daily_loss": 100, "sizing_method": "fixed"},
  "parameters": {},
  "mode": "paper"
}`

func testFiles() *fakeFiles {
	return &fakeFiles{files: map[string]string{
		"entry1":  testEntrySrc,
		"exit1":   testExitSrc,
		"config1": testConfigSrc,
	}}
}

func TestLoaderLoadsAndCaches(t *testing.T) {
	files := testFiles()
	loader := NewLoader(files)
	ctx := context.Background()

	bundle, err := loader.Load(ctx, "strat1", "entry1", "exit1", "config1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if bundle.Config.Name != "mean-revert" {
		t.Fatalf("unexpected config name: %q", bundle.Config.Name)
	}
	fetchedAfterFirst := files.fetched

	if _, err := loader.Load(ctx, "strat1", "entry1", "exit1", "config1"); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if files.fetched != fetchedAfterFirst {
		t.Fatalf("expected cache hit, fetched count changed from %d to %d", fetchedAfterFirst, files.fetched)
	}

	loader.Invalidate("strat1")
	if _, err := loader.Load(ctx, "strat1", "entry1", "exit1", "config1"); err != nil {
		t.Fatalf("reload after invalidate: %v", err)
	}
	if files.fetched != fetchedAfterFirst+3 {
		t.Fatalf("expected invalidate to force a refetch of all three files")
	}
}

func TestLoaderRejectsBadSyntax(t *testing.T) {
	files := testFiles()
	files.files["entry1"] = "def entry(ctx)\n  return []\n"
	loader := NewLoader(files)
	if _, err := loader.Load(context.Background(), "strat1", "entry1", "exit1", "config1"); err == nil {
		t.Fatalf("expected syntax error to surface")
	}
}
