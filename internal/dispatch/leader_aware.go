package dispatch

import (
	"context"
	"time"

	"github.com/friendsincode/skald_publish/internal/leadership"
	"github.com/rs/zerolog"
)

// LeaderAwareDispatcher wraps the dispatch loop and only runs it while this
// instance holds leadership.
type LeaderAwareDispatcher struct {
	dispatcher *Service
	election   *leadership.Election
	logger     zerolog.Logger

	// Internal state
	ctx               context.Context
	cancelFunc        context.CancelFunc
	dispatcherRunning bool
}

// NewLeaderAware creates a leader-aware dispatcher wrapper
func NewLeaderAware(dispatcher *Service, election *leadership.Election, logger zerolog.Logger) *LeaderAwareDispatcher {
	return &LeaderAwareDispatcher{
		dispatcher:        dispatcher,
		election:          election,
		logger:            logger.With().Str("component", "leader_aware_dispatch").Logger(),
		dispatcherRunning: false,
	}
}

// Start begins monitoring leadership status and manages dispatcher lifecycle
func (lad *LeaderAwareDispatcher) Start(ctx context.Context) error {
	lad.ctx = ctx

	lad.logger.Info().Msg("starting leader-aware dispatcher")

	// Start leader election
	if err := lad.election.Start(ctx); err != nil {
		return err
	}

	// Monitor leadership changes
	go lad.monitorLeadership()

	return nil
}

// Stop stops the leader-aware dispatcher and releases leadership
func (lad *LeaderAwareDispatcher) Stop() error {
	lad.logger.Info().Msg("stopping leader-aware dispatcher")

	// Stop dispatcher if running
	if lad.dispatcherRunning && lad.cancelFunc != nil {
		lad.cancelFunc()
		lad.dispatcherRunning = false
	}

	// Stop election
	return lad.election.Stop()
}

// monitorLeadership watches for leadership changes and starts/stops the loop accordingly
func (lad *LeaderAwareDispatcher) monitorLeadership() {
	leaderCh := lad.election.LeaderCh()

	// Check initial leadership status
	if lad.election.IsLeader() {
		lad.startDispatcher()
	}

	for {
		select {
		case <-lad.ctx.Done():
			return
		case isLeader := <-leaderCh:
			if isLeader {
				lad.logger.Info().Msg("became leader, starting dispatcher")
				lad.startDispatcher()
			} else {
				lad.logger.Warn().Msg("lost leadership, stopping dispatcher")
				lad.stopDispatcher()
			}
		}
	}
}

// startDispatcher starts the dispatch loop in a goroutine
func (lad *LeaderAwareDispatcher) startDispatcher() {
	if lad.dispatcherRunning {
		lad.logger.Warn().Msg("dispatcher already running")
		return
	}

	ctx, cancel := context.WithCancel(lad.ctx)
	lad.cancelFunc = cancel
	lad.dispatcherRunning = true

	go func() {
		lad.logger.Info().Msg("dispatcher started")
		if err := lad.dispatcher.Run(ctx); err != nil && err != context.Canceled {
			lad.logger.Error().Err(err).Msg("dispatcher error")
		}
		lad.dispatcherRunning = false
		lad.logger.Info().Msg("dispatcher stopped")
	}()
}

// stopDispatcher stops the running dispatch loop
func (lad *LeaderAwareDispatcher) stopDispatcher() {
	if !lad.dispatcherRunning {
		return
	}

	if lad.cancelFunc != nil {
		lad.cancelFunc()
		lad.cancelFunc = nil
	}

	// Wait briefly for the loop to stop
	time.Sleep(100 * time.Millisecond)
	lad.dispatcherRunning = false
}

// IsLeader returns whether this instance is the leader
func (lad *LeaderAwareDispatcher) IsLeader() bool {
	return lad.election.IsLeader()
}
