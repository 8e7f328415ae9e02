package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/events"
	"github.com/spec-kit/ticketbot/internal/observability"
	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

// Sweep names used in metrics and by the scheduler.
const (
	SweepInactivity = "inactivity"
	SweepStaleness  = "staleness"
)

// SweepResult summarizes one sweep over one community.
type SweepResult struct {
	Selected int
	Acted    int
	Failed   int
}

// SweepInactive warns every open ticket whose creator has been silent for
// the community's warning threshold. Each ticket is warned at most once per
// silence interval.
func (s *LifecycleService) SweepInactive(ctx context.Context, communityID string) (SweepResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "lifecycle.sweep_inactive")
	span.SetAttributes(attribute.String("community.id", communityID))
	defer span.End()

	var res SweepResult
	start := time.Now()
	defer func() { s.metrics.ObserveSweep(SweepInactivity, time.Since(start), res.Selected) }()

	settings, err := s.settings(ctx, communityID)
	if err != nil {
		return res, err
	}
	now := s.now()
	cutoff := now.Add(-settings.WarnThreshold())
	tickets, err := s.tickets.ListInactive(ctx, communityID, cutoff)
	if err != nil {
		return res, apperrors.NewInternalError(err)
	}
	res.Selected = len(tickets)

	for i := range tickets {
		t := &tickets[i]
		// the flag is set before the warning goes out so that a crash or a
		// second tick never produces a duplicate
		ok, err := s.tickets.MarkWarned(ctx, t.ChannelID, cutoff)
		if err != nil {
			res.Failed++
			s.logger.Warn("mark warned failed", zap.Int64("ticket_id", t.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		res.Acted++
		s.notify(ctx, "inactivity_warning", t.ChannelID, warningMessage(t, settings, now))
		s.publish(ctx, events.New(events.EventTicketInactivityWarned, t.ID, communityID, t.ChannelID,
			domain.SystemActorID, now, map[string]any{"threshold_minutes": settings.AutoCloseMinutes}))
		s.metrics.RecordTransition("inactivity_warn", "ok")
	}
	span.SetAttributes(attribute.Int("sweep.selected", res.Selected), attribute.Int("sweep.acted", res.Acted))
	return res, nil
}

// SweepStale closes every open ticket whose creator has been silent for the
// community's close threshold.
func (s *LifecycleService) SweepStale(ctx context.Context, communityID string) (SweepResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "lifecycle.sweep_stale")
	span.SetAttributes(attribute.String("community.id", communityID))
	defer span.End()

	var res SweepResult
	start := time.Now()
	defer func() { s.metrics.ObserveSweep(SweepStaleness, time.Since(start), res.Selected) }()

	settings, err := s.settings(ctx, communityID)
	if err != nil {
		return res, err
	}
	cutoff := s.now().Add(-settings.CloseThreshold())
	tickets, err := s.tickets.ListStale(ctx, communityID, cutoff)
	if err != nil {
		return res, apperrors.NewInternalError(err)
	}
	res.Selected = len(tickets)

	system := domain.SystemActor()
	for i := range tickets {
		t := &tickets[i]
		closed, err := s.closeTicket(ctx, t, settings, system, events.CloseReasonStale, &cutoff)
		if err != nil {
			res.Failed++
			s.logger.Warn("auto close failed", zap.Int64("ticket_id", t.ID), zap.Error(err))
			continue
		}
		if closed {
			res.Acted++
			s.metrics.RecordTransition("auto_close", "ok")
		}
	}
	span.SetAttributes(attribute.Int("sweep.selected", res.Selected), attribute.Int("sweep.acted", res.Acted))
	return res, nil
}
