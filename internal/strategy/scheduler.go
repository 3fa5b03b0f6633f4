package strategy

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"finchcore/internal/persistence"
)

// Scheduler runs Executor cycles for every due, enabled+approved strategy on
// a fixed tick, bounded by a worker pool and serialized per strategy
// (§4.11). The worker-pool/in-flight-guard shape is grounded directly on
// the Agent Loop's dispatchTools semaphore+WaitGroup pattern, applied at
// strategy-cycle granularity instead of tool-call granularity.
type Scheduler struct {
	Store    persistence.StrategyStore
	Executor *Executor
	Workers  int
	Tick     time.Duration
	DryRun   bool

	inFlight sync.Map // strategyID -> struct{}
}

// NewScheduler returns a Scheduler with the given worker pool size and tick
// interval.
func NewScheduler(store persistence.StrategyStore, executor *Executor, workers int, tick time.Duration, dryRun bool) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{Store: store, Executor: executor, Workers: workers, Tick: tick, DryRun: dryRun}
}

// Run blocks until ctx is cancelled, firing one scheduling pass per tick.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	strategies, err := s.Store.ListSchedulable(ctx)
	if err != nil {
		log.Error().Err(err).Msg("strategy scheduler: list schedulable failed")
		return
	}

	due := dueByUserRoundRobin(strategies, time.Now().UTC())
	if len(due) == 0 {
		return
	}

	sem := make(chan struct{}, s.Workers)
	var wg sync.WaitGroup
	for _, rec := range due {
		if _, loaded := s.inFlight.LoadOrStore(rec.ID, struct{}{}); loaded {
			continue // a cycle for this strategy is already running
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(rec persistence.Strategy) {
			defer wg.Done()
			defer func() { <-sem }()
			defer s.inFlight.Delete(rec.ID)
			s.runCycle(ctx, rec)
		}(rec)
	}
	wg.Wait()
}

func (s *Scheduler) runCycle(ctx context.Context, rec persistence.Strategy) {
	st := fromPersistence(rec)
	stats, err := s.Executor.Run(ctx, &st, s.DryRun)
	if err != nil {
		log.Error().Err(err).Str("strategy_id", rec.ID).Msg("strategy cycle failed")
	}
	statsJSON, _ := json.Marshal(stats)
	if err := s.Store.UpdateRuntime(ctx, rec.ID, stats.LastRunAt, statsJSON); err != nil {
		log.Error().Err(err).Str("strategy_id", rec.ID).Msg("failed to persist strategy runtime state")
	}
}

// fromPersistence builds a runtime Strategy from its durable record plus
// whatever Stats were last persisted. Capital, Parameters, Thesis and
// Platform are left empty here: the Executor fills all of them from the
// Loader's parsed config.json (applyConfig) before any gating runs.
func fromPersistence(rec persistence.Strategy) Strategy {
	var stats Stats
	if len(rec.Stats) > 0 {
		_ = json.Unmarshal(rec.Stats, &stats)
	}
	stats.LastRunAt = rec.LastRunAt
	return Strategy{
		ID:                        rec.ID,
		UserID:                    rec.UserID,
		Name:                      rec.Name,
		EntryFileID:               rec.EntryFileID,
		ExitFileID:                rec.ExitFileID,
		ConfigFileID:              rec.ConfigFileID,
		ExecutionFrequencySeconds: rec.ExecutionFrequencySeconds,
		Mode:                      Mode(rec.Mode),
		Enabled:                   rec.Enabled,
		Approved:                  rec.Approved,
		Stats:                     stats,
	}
}

// dueByUserRoundRobin filters to due strategies and interleaves them by
// user_id so that, when the worker pool is saturated, no single user's
// strategies monopolize a tick (§4.11 fairness rule).
func dueByUserRoundRobin(strategies []persistence.Strategy, now time.Time) []persistence.Strategy {
	byUser := make(map[int64][]persistence.Strategy)
	var userOrder []int64
	for _, st := range strategies {
		due := st.LastRunAt.IsZero() || now.Sub(st.LastRunAt) >= time.Duration(st.ExecutionFrequencySeconds)*time.Second
		if !due {
			continue
		}
		if _, seen := byUser[st.UserID]; !seen {
			userOrder = append(userOrder, st.UserID)
		}
		byUser[st.UserID] = append(byUser[st.UserID], st)
	}

	var out []persistence.Strategy
	for {
		progressed := false
		for _, uid := range userOrder {
			if len(byUser[uid]) == 0 {
				continue
			}
			out = append(out, byUser[uid][0])
			byUser[uid] = byUser[uid][1:]
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return out
}
