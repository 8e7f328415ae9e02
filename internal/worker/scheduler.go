package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/service"
)

// ErrSweepRunning is returned by RunOnce while the same sweep is in progress.
var ErrSweepRunning = errors.New("worker: sweep already running")

// Sweeper runs one sweep over one community.
type Sweeper interface {
	SweepInactive(ctx context.Context, communityID string) (service.SweepResult, error)
	SweepStale(ctx context.Context, communityID string) (service.SweepResult, error)
}

// CommunitySource lists communities that have persisted state.
type CommunitySource interface {
	ListCommunities(ctx context.Context) ([]string, error)
}

// CommunityRegistry is the set of communities the process serves.
type CommunityRegistry interface {
	Register(ids ...string)
	Communities() []string
}

// Summary aggregates one sweep over every community.
type Summary struct {
	Kind        string
	Communities int
	service.SweepResult
}

// Scheduler runs the inactivity and staleness sweeps on independent tickers.
type Scheduler struct {
	sweeper  Sweeper
	source   CommunitySource
	registry CommunityRegistry
	logger   *zap.Logger

	intervals map[string]time.Duration
	running   map[string]*atomic.Bool
}

// NewScheduler builds a scheduler. Intervals must be positive.
func NewScheduler(sweeper Sweeper, source CommunitySource, registry CommunityRegistry, inactivity, staleness time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		sweeper:  sweeper,
		source:   source,
		registry: registry,
		logger:   logger.With(zap.String("component", "worker.scheduler")),
		intervals: map[string]time.Duration{
			service.SweepInactivity: inactivity,
			service.SweepStaleness:  staleness,
		},
		running: map[string]*atomic.Bool{
			service.SweepInactivity: {},
			service.SweepStaleness:  {},
		},
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for kind, interval := range s.intervals {
		wg.Add(1)
		go func(kind string, interval time.Duration) {
			defer wg.Done()
			s.loop(ctx, kind, interval)
		}(kind, interval)
	}
	s.logger.Info("scheduler started",
		zap.Duration("inactivity_interval", s.intervals[service.SweepInactivity]),
		zap.Duration("staleness_interval", s.intervals[service.SweepStaleness]))
	wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, kind string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx, kind); err != nil {
				if errors.Is(err, ErrSweepRunning) {
					s.logger.Debug("tick skipped; previous sweep still running", zap.String("sweep", kind))
					continue
				}
				s.logger.Warn("sweep failed", zap.String("sweep", kind), zap.Error(err))
			}
		}
	}
}

// RunOnce runs one sweep of kind over every known community.
func (s *Scheduler) RunOnce(ctx context.Context, kind string) (Summary, error) {
	guard, ok := s.running[kind]
	if !ok {
		return Summary{}, fmt.Errorf("worker: unknown sweep %q", kind)
	}
	if !guard.CompareAndSwap(false, true) {
		return Summary{}, ErrSweepRunning
	}
	defer guard.Store(false)

	if ids, err := s.source.ListCommunities(ctx); err != nil {
		// keep sweeping the communities already known
		s.logger.Warn("community discovery failed", zap.Error(err))
	} else {
		s.registry.Register(ids...)
	}

	summary := Summary{Kind: kind}
	var errs []error
	for _, id := range s.registry.Communities() {
		if ctx.Err() != nil {
			break
		}
		res, err := s.sweep(ctx, kind, id)
		summary.Communities++
		summary.Selected += res.Selected
		summary.Acted += res.Acted
		summary.Failed += res.Failed
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		if res.Acted > 0 || res.Failed > 0 {
			s.logger.Info("sweep acted",
				zap.String("sweep", kind),
				zap.String("community_id", id),
				zap.Int("selected", res.Selected),
				zap.Int("acted", res.Acted),
				zap.Int("failed", res.Failed))
		}
	}
	return summary, errors.Join(errs...)
}

func (s *Scheduler) sweep(ctx context.Context, kind, communityID string) (service.SweepResult, error) {
	if kind == service.SweepInactivity {
		return s.sweeper.SweepInactive(ctx, communityID)
	}
	return s.sweeper.SweepStale(ctx, communityID)
}
