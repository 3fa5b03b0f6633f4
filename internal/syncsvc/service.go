package syncsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Refresher performs the actual expensive per-user refresh (reading
// positions/activities from the platform collaborator, updating caches).
// It is the one piece this package does not implement — injected so this
// package stays collaborator-agnostic (§6.5).
type Refresher interface {
	Refresh(ctx context.Context, userID int64) error
}

// RefresherFunc adapts a function to a Refresher.
type RefresherFunc func(ctx context.Context, userID int64) error

func (f RefresherFunc) Refresh(ctx context.Context, userID int64) error { return f(ctx, userID) }

// Result is the sync-result descriptor returned to the caller (§4.6).
type Result struct {
	Cached                    bool
	BackgroundSyncTriggered   bool
	StalenessSeconds          float64
}

// Service implements the three-mode freshness automaton.
type Service struct {
	Store     StateStore
	Refresher Refresher
	Cooldown  time.Duration // default 5 min
	Hard      time.Duration // default 1 h
	Now       func() time.Time

	group singleflight.Group
}

// NewService returns a Service with the §4.6 default windows.
func NewService(store StateStore, refresher Refresher, cooldown, hard time.Duration) *Service {
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	if hard <= 0 {
		hard = time.Hour
	}
	return &Service{Store: store, Refresher: refresher, Cooldown: cooldown, Hard: hard, Now: func() time.Time { return time.Now().UTC() }}
}

// Sync implements sync(user, {force?}) (§4.6). The caller is never blocked
// beyond the chosen mode: Fresh and Stale-Background return immediately;
// Very-Stale blocks on (and coalesces onto) a single refresh per user.
func (s *Service) Sync(ctx context.Context, userID int64, force bool) (Result, error) {
	state, err := s.Store.Get(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("syncsvc: get state: %w", err)
	}

	now := s.Now()
	var staleness time.Duration
	if !state.LastSyncAt.IsZero() {
		staleness = now.Sub(state.LastSyncAt)
	}

	veryStale := force || state.LastSyncAt.IsZero() || staleness >= s.Hard
	if veryStale {
		return s.syncVeryStale(ctx, userID)
	}

	if staleness >= s.Cooldown {
		triggered := s.maybeTriggerBackground(userID)
		return Result{Cached: true, BackgroundSyncTriggered: triggered, StalenessSeconds: staleness.Seconds()}, nil
	}

	return Result{Cached: true, StalenessSeconds: staleness.Seconds()}, nil
}

// syncVeryStale blocks the caller on a full refresh, coalescing concurrent
// callers for the same user onto one underlying call (property 9, §8).
func (s *Service) syncVeryStale(ctx context.Context, userID int64) (Result, error) {
	key := fmt.Sprintf("%d", userID)
	_, err, _ := s.group.Do(key, func() (any, error) {
		if refErr := s.Refresher.Refresh(ctx, userID); refErr != nil {
			return nil, refErr
		}
		if setErr := s.Store.SetLastSyncAt(ctx, userID, s.Now()); setErr != nil {
			return nil, setErr
		}
		return nil, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("syncsvc: refresh: %w", err)
	}
	return Result{Cached: false, StalenessSeconds: 0}, nil
}

// maybeTriggerBackground spawns at most one background refresh for userID
// using DoChan with a detached context: cancellation of the caller must
// never cancel an in-flight background refresh (§4.6).
func (s *Service) maybeTriggerBackground(userID int64) bool {
	acquired, err := s.Store.TrySetInFlight(context.Background(), userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("syncsvc: in_flight guard check failed")
		return false
	}
	if !acquired {
		return false
	}

	key := fmt.Sprintf("bg:%d", userID)
	s.group.DoChan(key, func() (any, error) {
		bgCtx := context.Background()
		defer func() {
			if clearErr := s.Store.ClearInFlight(bgCtx, userID); clearErr != nil {
				log.Error().Err(clearErr).Int64("user_id", userID).Msg("syncsvc: failed to clear in_flight guard")
			}
		}()
		if err := s.Refresher.Refresh(bgCtx, userID); err != nil {
			log.Error().Err(err).Int64("user_id", userID).Msg("syncsvc: background refresh failed")
			return nil, err
		}
		if err := s.Store.SetLastSyncAt(bgCtx, userID, s.Now()); err != nil {
			log.Error().Err(err).Int64("user_id", userID).Msg("syncsvc: failed to record last_sync_at after background refresh")
			return nil, err
		}
		return nil, nil
	})
	return true
}
