package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/events"
	"github.com/spec-kit/ticketbot/internal/platform"
	"github.com/spec-kit/ticketbot/internal/transcript"
	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

// closeTicket commits the close and starts the channel side effects. It
// returns false when the ticket was already closed by someone else. A
// non-nil idleCutoff also requires the creator to have stayed silent since
// then.
func (s *LifecycleService) closeTicket(ctx context.Context, t *domain.Ticket, settings domain.Settings, actor domain.Actor, reason string, idleCutoff *time.Time) (bool, error) {
	now := s.now()
	var (
		ok  bool
		err error
	)
	if idleCutoff != nil {
		ok, err = s.tickets.CloseIdle(ctx, t.ID, actor.ID, now, *idleCutoff)
	} else {
		ok, err = s.tickets.Close(ctx, t.ID, actor.ID, now)
	}
	if err != nil {
		return false, apperrors.NewInternalError(err)
	}
	if !ok {
		return false, nil
	}
	closedBy := actor.ID
	t.Status = domain.TicketStatusClosed
	t.ClosedAt = &now
	t.ClosedBy = &closedBy

	s.publish(ctx, events.New(events.EventTicketClosed, t.ID, t.CommunityID, t.ChannelID, actor.ID, now,
		map[string]any{"reason": reason}))

	if t.ChannelID == "" {
		// pending ticket: no channel to notify, archive or transcribe
		return true, nil
	}
	snapshot := *t
	effectsCtx := context.WithoutCancel(ctx)
	s.effects.Add(1)
	go func() {
		defer s.effects.Done()
		s.runCloseEffects(effectsCtx, snapshot, settings, actor, reason)
	}()
	return true, nil
}

// runCloseEffects posts the closing notice, stores and delivers the
// transcript, then archives or deletes the channel. Each failure is logged
// and counted; none of them reopen the ticket.
func (s *LifecycleService) runCloseEffects(ctx context.Context, t domain.Ticket, settings domain.Settings, actor domain.Actor, reason string) {
	logger := s.logger.With(zap.Int64("ticket_id", t.ID), zap.String("channel_id", t.ChannelID))
	archive := s.archiveCategory(ctx, t.CommunityID, settings)

	s.notify(ctx, "close_notice", t.ChannelID, closingMessage(reason, actor, settings, archive != "", s.graceDelay, s.now()))

	if archive == "" {
		s.sleep(s.graceDelay)
	}

	s.storeTranscript(ctx, logger, &t, settings, actor)

	var err error
	step := "delete_channel"
	if archive != "" {
		step = "archive_channel"
		err = s.platform.MoveToArchive(ctx, t.CommunityID, t.ChannelID, archive, "closed-"+t.ChannelName)
	} else {
		err = s.platform.DeleteChannel(ctx, t.CommunityID, t.ChannelID)
	}
	if err = platform.IgnoreGone(err); err != nil {
		s.metrics.RecordSideEffectFailure(step)
		logger.Warn("channel cleanup failed", zap.String("step", step), zap.Error(err))
	}
}

// archiveCategory returns the archive category if it is configured and
// still resolves, or "" to fall back to deletion.
func (s *LifecycleService) archiveCategory(ctx context.Context, communityID string, settings domain.Settings) string {
	if settings.ArchiveCategory == "" {
		return ""
	}
	ok, err := s.platform.ChannelExists(ctx, communityID, settings.ArchiveCategory)
	if err != nil {
		s.logger.Warn("archive category lookup failed", zap.String("community_id", communityID), zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	return settings.ArchiveCategory
}

func (s *LifecycleService) storeTranscript(ctx context.Context, logger *zap.Logger, t *domain.Ticket, settings domain.Settings, actor domain.Actor) {
	if s.transcripts == nil {
		return
	}
	history, err := s.platform.History(ctx, t.ChannelID)
	if err != nil {
		s.metrics.RecordSideEffectFailure("transcript_history")
		logger.Warn("read channel history failed", zap.Error(err))
		return
	}
	content := transcript.Render(t, history, s.now())
	path, err := s.transcripts.Write(t.ID, content)
	if err != nil {
		s.metrics.RecordSideEffectFailure("transcript_write")
		logger.Warn("write transcript failed", zap.Error(err))
		return
	}
	if err := s.tickets.AttachTranscript(ctx, t.ID, path); err != nil {
		s.metrics.RecordSideEffectFailure("transcript_attach")
		logger.Warn("attach transcript failed", zap.Error(err))
	}

	if settings.TranscriptChannel == "" {
		return
	}
	msg := transcriptMessage(t, actor, s.now())
	if err := s.platform.SendFile(ctx, settings.TranscriptChannel, fmt.Sprintf("transcript-%d.txt", t.ID), []byte(content), msg); err != nil {
		s.metrics.RecordSideEffectFailure("transcript_delivery")
		logger.Warn("deliver transcript failed", zap.Error(err))
	}
}
