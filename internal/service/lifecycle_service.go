package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/community"
	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/events"
	"github.com/spec-kit/ticketbot/internal/observability"
	"github.com/spec-kit/ticketbot/internal/platform"
	"github.com/spec-kit/ticketbot/internal/repository"
	"github.com/spec-kit/ticketbot/internal/transcript"
	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

// DefaultGraceDelay is the pause before a channel without an archive
// category is deleted.
const DefaultGraceDelay = 10 * time.Second

// LifecycleService drives every ticket transition. Command surfaces and the
// scheduler call the same methods.
type LifecycleService struct {
	tickets     repository.TicketRepository
	registry    *community.Registry
	platform    platform.Client
	dispatcher  events.Dispatcher
	transcripts *transcript.Store
	metrics     *observability.Metrics
	logger      *zap.Logger
	graceDelay  time.Duration
	location    *time.Location

	now   func() time.Time
	sleep func(time.Duration)

	effects sync.WaitGroup
}

// LifecycleDependencies bundles collaborators for the lifecycle service.
type LifecycleDependencies struct {
	Tickets     repository.TicketRepository
	Registry    *community.Registry
	Platform    platform.Client
	Dispatcher  events.Dispatcher
	Transcripts *transcript.Store
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	// GraceDelay defaults to DefaultGraceDelay when zero.
	GraceDelay time.Duration
	// Location is the time zone for working hours. Defaults to time.Local.
	Location *time.Location
}

// NewLifecycleService constructs the service.
func NewLifecycleService(deps LifecycleDependencies) *LifecycleService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	grace := deps.GraceDelay
	if grace <= 0 {
		grace = DefaultGraceDelay
	}
	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}
	return &LifecycleService{
		tickets:     deps.Tickets,
		registry:    deps.Registry,
		platform:    deps.Platform,
		dispatcher:  deps.Dispatcher,
		transcripts: deps.Transcripts,
		metrics:     deps.Metrics,
		logger:      logger.With(zap.String("component", "service.lifecycle")),
		graceDelay:  grace,
		location:    loc,
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

// Wait blocks until every in-flight close pipeline has finished.
func (s *LifecycleService) Wait() {
	s.effects.Wait()
}

// TicketInfo is the read model returned by Info.
type TicketInfo struct {
	Ticket                   domain.Ticket
	MinutesSinceLastResponse int
	State                    domain.TicketState
}

// Create opens a ticket and its private channel for actor.
func (s *LifecycleService) Create(ctx context.Context, communityID string, actor domain.Actor, reason string) (t *domain.Ticket, err error) {
	ctx, finish := s.operation(ctx, "create", communityID)
	defer func() { finish(err) }()

	settings, err := s.settings(ctx, communityID)
	if err != nil {
		return nil, err
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		if settings.RequireReason {
			return nil, apperrors.NewValidationError("a reason is required to open a ticket", nil)
		}
		reason = domain.DefaultReason
	}
	if utf8.RuneCountInString(reason) > domain.MaxReasonLength {
		return nil, apperrors.NewValidationError("reason is too long",
			map[string]any{"max_length": domain.MaxReasonLength})
	}

	if settings.TicketCategory == "" {
		return nil, apperrors.NewNotConfigured(domain.KeyTicketCategory)
	}
	exists, err := s.platform.ChannelExists(ctx, communityID, settings.TicketCategory)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if !exists {
		return nil, apperrors.NewNotConfigured(domain.KeyTicketCategory)
	}

	now := s.now()
	t, err = s.tickets.Create(ctx, domain.NewTicket{
		CommunityID: communityID,
		CreatorID:   actor.ID,
		Reason:      reason,
		CreatedAt:   now,
		MaxOpen:     settings.MaxTickets,
	})
	if errors.Is(err, repository.ErrLimitExceeded) {
		return nil, apperrors.NewLimitExceeded(settings.MaxTickets)
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	name := settings.TicketPrefix + strconv.FormatInt(t.ID, 10)
	ch, err := s.platform.CreateTicketChannel(ctx, platform.ChannelSpec{
		CommunityID: communityID,
		CategoryID:  settings.TicketCategory,
		Name:        name,
		Topic:       fmt.Sprintf("Ticket #%d: %s", t.ID, truncate(reason, 100)),
		Members:     []string{actor.ID},
		StaffRoles:  nonEmpty(settings.SupportRole, settings.TraineeRole),
	})
	if err != nil {
		s.abandon(ctx, t, ch)
		return nil, apperrors.NewInternalError(fmt.Errorf("create ticket channel: %w", err))
	}
	if err := s.tickets.AttachChannel(ctx, t.ID, ch.ID, ch.Name); err != nil {
		s.abandon(ctx, t, ch)
		return nil, apperrors.NewInternalError(err)
	}
	t.ChannelID, t.ChannelName = ch.ID, ch.Name

	s.notify(ctx, "welcome", t.ChannelID, welcomeMessage(t, actor, settings, now))
	if off, hours := domain.OffHours(now.In(s.location).Hour(), settings.WorkStartHour, settings.WorkEndHour); off {
		s.notify(ctx, "off_hours", t.ChannelID, offHoursMessage(settings.WorkStartHour, hours, now))
	}

	s.publish(ctx, events.New(events.EventTicketCreated, t.ID, communityID, t.ChannelID, actor.ID, now,
		map[string]any{"reason": reason, "channel_name": t.ChannelName}))
	return t, nil
}

// abandon removes a ticket whose channel could not be set up.
func (s *LifecycleService) abandon(ctx context.Context, t *domain.Ticket, ch platform.Channel) {
	if ch.ID != "" {
		if err := platform.IgnoreGone(s.platform.DeleteChannel(ctx, t.CommunityID, ch.ID)); err != nil {
			s.logger.Warn("cleanup of partial channel failed", zap.Int64("ticket_id", t.ID), zap.Error(err))
		}
	}
	if err := s.tickets.Discard(ctx, t.ID); err != nil {
		s.logger.Error("discard pending ticket failed", zap.Int64("ticket_id", t.ID), zap.Error(err))
	}
}

// Claim assigns the ticket in channelID to a staff actor.
func (s *LifecycleService) Claim(ctx context.Context, communityID, channelID string, actor domain.Actor) (t *domain.Ticket, err error) {
	ctx, finish := s.operation(ctx, "claim", communityID)
	defer func() { finish(err) }()

	settings, err := s.settings(ctx, communityID)
	if err != nil {
		return nil, err
	}
	t, err = s.openTicket(ctx, communityID, channelID)
	if err != nil {
		return nil, err
	}
	if !domain.IsStaff(actor, settings) {
		return nil, apperrors.NewPermissionDenied("you need staff permissions to claim tickets")
	}
	if t.ClaimedBy != nil {
		return nil, apperrors.NewAlreadyClaimed(*t.ClaimedBy)
	}

	ok, err := s.tickets.Claim(ctx, channelID, actor.ID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if !ok {
		// lost a race: report what the store now holds
		current, err := s.openTicket(ctx, communityID, channelID)
		if err != nil {
			return nil, err
		}
		return nil, apperrors.NewAlreadyClaimed(current.Claimant())
	}
	claimant := actor.ID
	t.ClaimedBy = &claimant

	s.notify(ctx, "claim_notice", channelID, platform.Message{
		Kind:        platform.KindSuccess,
		Title:       "✅ Ticket Claimed",
		Description: platform.Mention(actor.ID) + " has claimed this ticket.",
		Timestamp:   s.now(),
	})
	s.publish(ctx, events.New(events.EventTicketClaimed, t.ID, communityID, channelID, actor.ID, s.now(), nil))
	return t, nil
}

// Unclaim releases a claim. Only the claimant or an administrator may do so.
func (s *LifecycleService) Unclaim(ctx context.Context, communityID, channelID string, actor domain.Actor) (t *domain.Ticket, err error) {
	ctx, finish := s.operation(ctx, "unclaim", communityID)
	defer func() { finish(err) }()

	settings, err := s.settings(ctx, communityID)
	if err != nil {
		return nil, err
	}
	t, err = s.openTicket(ctx, communityID, channelID)
	if err != nil {
		return nil, err
	}
	if t.ClaimedBy == nil {
		return nil, apperrors.NewNotClaimed()
	}
	claimant := *t.ClaimedBy
	if claimant != actor.ID && !domain.IsAdmin(actor, settings) {
		return nil, apperrors.NewNotOwner()
	}

	ok, err := s.tickets.Unclaim(ctx, channelID, claimant)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if !ok {
		current, err := s.openTicket(ctx, communityID, channelID)
		if err != nil {
			return nil, err
		}
		if current.ClaimedBy == nil {
			return nil, apperrors.NewNotClaimed()
		}
		return nil, apperrors.NewNotOwner()
	}
	t.ClaimedBy = nil

	s.notify(ctx, "unclaim_notice", channelID, platform.Message{
		Kind:        platform.KindWarning,
		Title:       "🔄 Ticket Unclaimed",
		Description: platform.Mention(actor.ID) + " has unclaimed this ticket.",
		Timestamp:   s.now(),
	})
	s.publish(ctx, events.New(events.EventTicketUnclaimed, t.ID, communityID, channelID, actor.ID, s.now(),
		map[string]any{"previous_claimant": claimant}))
	return t, nil
}

// RecordUserMessage refreshes the inactivity clock for a ticket channel. It
// is a silent no-op for bots, staff, unknown channels and closed tickets.
func (s *LifecycleService) RecordUserMessage(ctx context.Context, communityID, channelID string, actor domain.Actor, at time.Time) error {
	if actor.Bot {
		return nil
	}
	t, err := s.tickets.GetOpenByChannel(ctx, channelID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if t.CommunityID != communityID {
		return nil
	}
	settings, err := s.settings(ctx, communityID)
	if err != nil {
		return err
	}
	if domain.IsStaffOrAdmin(actor, settings) && actor.ID != t.CreatorID {
		return nil
	}
	if at.IsZero() {
		at = s.now()
	}
	if _, err := s.tickets.TouchResponse(ctx, channelID, at); err != nil {
		return apperrors.NewInternalError(err)
	}
	return nil
}

// RequestClose lets the creator ask staff to close the ticket.
func (s *LifecycleService) RequestClose(ctx context.Context, communityID, channelID string, actor domain.Actor) (t *domain.Ticket, err error) {
	ctx, finish := s.operation(ctx, "request_close", communityID)
	defer func() { finish(err) }()

	settings, err := s.settings(ctx, communityID)
	if err != nil {
		return nil, err
	}
	t, err = s.openTicket(ctx, communityID, channelID)
	if err != nil {
		return nil, err
	}
	if t.CreatorID != actor.ID {
		return nil, apperrors.NewNotCreator()
	}
	if t.CloseRequested {
		return nil, apperrors.NewAlreadyRequested()
	}
	ok, err := s.tickets.RequestClose(ctx, channelID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if !ok {
		if _, err := s.openTicket(ctx, communityID, channelID); err != nil {
			return nil, err
		}
		return nil, apperrors.NewAlreadyRequested()
	}
	t.CloseRequested = true

	s.notify(ctx, "close_request_notice", channelID, platform.Message{
		Kind:         platform.KindWarning,
		Title:        "🚫 Close Requested",
		Description:  platform.Mention(actor.ID) + " has requested to close this ticket.",
		MentionRoles: nonEmpty(settings.SupportRole, settings.TraineeRole),
		Timestamp:    s.now(),
	})
	s.publish(ctx, events.New(events.EventTicketCloseRequested, t.ID, communityID, channelID, actor.ID, s.now(), nil))
	return t, nil
}

// Close closes the ticket in channelID on behalf of staff or an administrator.
func (s *LifecycleService) Close(ctx context.Context, communityID, channelID string, actor domain.Actor) (t *domain.Ticket, err error) {
	ctx, finish := s.operation(ctx, "close", communityID)
	defer func() { finish(err) }()

	settings, err := s.settings(ctx, communityID)
	if err != nil {
		return nil, err
	}
	t, err = s.openTicket(ctx, communityID, channelID)
	if err != nil {
		return nil, err
	}
	if !domain.IsStaffOrAdmin(actor, settings) {
		return nil, apperrors.NewPermissionDenied("you need staff permissions to close tickets")
	}
	closed, err := s.closeTicket(ctx, t, settings, actor, events.CloseReasonManual, nil)
	if err != nil {
		return nil, err
	}
	if !closed {
		return nil, notFoundInChannel(channelID)
	}
	return t, nil
}

// ForceClose closes a ticket by id. Administrators only.
func (s *LifecycleService) ForceClose(ctx context.Context, communityID string, ticketID int64, actor domain.Actor) (t *domain.Ticket, err error) {
	ctx, finish := s.operation(ctx, "force_close", communityID)
	defer func() { finish(err) }()

	settings, err := s.settings(ctx, communityID)
	if err != nil {
		return nil, err
	}
	if !domain.IsAdmin(actor, settings) {
		return nil, apperrors.NewPermissionDenied("you need administrator permissions to force close tickets")
	}
	t, err = s.tickets.GetOpenByID(ctx, ticketID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && t.CommunityID != communityID) {
		return nil, notFoundByID(ticketID)
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	closed, err := s.closeTicket(ctx, t, settings, actor, events.CloseReasonForced, nil)
	if err != nil {
		return nil, err
	}
	if !closed {
		return nil, notFoundByID(ticketID)
	}
	return t, nil
}

// AddMember grants a member access to the ticket channel.
func (s *LifecycleService) AddMember(ctx context.Context, communityID, channelID string, actor domain.Actor, userID string) (err error) {
	ctx, finish := s.operation(ctx, "add_member", communityID)
	defer func() { finish(err) }()
	return s.changeMember(ctx, communityID, channelID, actor, userID, true)
}

// RemoveMember revokes a member's access. The creator cannot be removed.
func (s *LifecycleService) RemoveMember(ctx context.Context, communityID, channelID string, actor domain.Actor, userID string) (err error) {
	ctx, finish := s.operation(ctx, "remove_member", communityID)
	defer func() { finish(err) }()
	return s.changeMember(ctx, communityID, channelID, actor, userID, false)
}

func (s *LifecycleService) changeMember(ctx context.Context, communityID, channelID string, actor domain.Actor, userID string, add bool) error {
	settings, err := s.settings(ctx, communityID)
	if err != nil {
		return err
	}
	t, err := s.openTicket(ctx, communityID, channelID)
	if err != nil {
		return err
	}
	if !domain.IsStaffOrAdmin(actor, settings) {
		return apperrors.NewPermissionDenied("you need staff permissions to change ticket members")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperrors.NewValidationError("a member id is required", nil)
	}
	if !add && userID == t.CreatorID {
		return apperrors.NewValidationError("you cannot remove the ticket creator from their own ticket", nil)
	}
	if _, err := s.platform.ResolveMember(ctx, communityID, userID); err != nil {
		if errors.Is(err, platform.ErrUnknownMember) {
			return apperrors.NewNotFound("member", map[string]any{"user_id": userID})
		}
		return apperrors.NewInternalError(err)
	}
	if err := s.platform.SetMemberAccess(ctx, communityID, channelID, userID, add); err != nil {
		if errors.Is(err, platform.ErrChannelGone) {
			return notFoundInChannel(channelID)
		}
		return apperrors.NewInternalError(err)
	}

	eventType, title, verb := events.EventTicketMemberAdded, "👤 User Added", "added to"
	if !add {
		eventType, title, verb = events.EventTicketMemberRemoved, "👤 User Removed", "removed from"
	}
	s.notify(ctx, "member_notice", channelID, platform.Message{
		Kind:        platform.KindInfo,
		Title:       title,
		Description: fmt.Sprintf("%s has been %s this ticket.", platform.Mention(userID), verb),
		Timestamp:   s.now(),
	})
	s.publish(ctx, events.New(eventType, t.ID, communityID, channelID, actor.ID, s.now(),
		map[string]any{"user_id": userID}))
	return nil
}

// Transcript renders and stores the transcript of an open ticket without
// closing it.
func (s *LifecycleService) Transcript(ctx context.Context, communityID, channelID string, actor domain.Actor) (content string, err error) {
	ctx, finish := s.operation(ctx, "transcript", communityID)
	defer func() { finish(err) }()

	settings, err := s.settings(ctx, communityID)
	if err != nil {
		return "", err
	}
	t, err := s.openTicket(ctx, communityID, channelID)
	if err != nil {
		return "", err
	}
	if !domain.IsStaffOrAdmin(actor, settings) {
		return "", apperrors.NewPermissionDenied("you need staff permissions to generate transcripts")
	}
	history, err := s.platform.History(ctx, channelID)
	if err != nil {
		return "", apperrors.NewInternalError(err)
	}
	content = transcript.Render(t, history, s.now())
	if s.transcripts != nil {
		if _, err := s.transcripts.Write(t.ID, content); err != nil {
			s.logger.Warn("store on-demand transcript failed", zap.Int64("ticket_id", t.ID), zap.Error(err))
		}
	}
	return content, nil
}

// Info returns the most recent ticket bound to channelID, open or closed.
func (s *LifecycleService) Info(ctx context.Context, communityID, channelID string) (*TicketInfo, error) {
	t, err := s.tickets.GetByChannel(ctx, channelID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && t.CommunityID != communityID) {
		return nil, notFoundInChannel(channelID)
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return s.info(t), nil
}

// InfoByID returns a ticket by id to its creator, staff or administrators.
func (s *LifecycleService) InfoByID(ctx context.Context, communityID string, ticketID int64, actor domain.Actor) (*TicketInfo, error) {
	settings, err := s.settings(ctx, communityID)
	if err != nil {
		return nil, err
	}
	t, err := s.tickets.GetByID(ctx, ticketID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && t.CommunityID != communityID) {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if t.CreatorID != actor.ID && !domain.IsStaffOrAdmin(actor, settings) {
		return nil, apperrors.NewPermissionDenied("you cannot view this ticket")
	}
	return s.info(t), nil
}

func (s *LifecycleService) info(t *domain.Ticket) *TicketInfo {
	return &TicketInfo{
		Ticket:                   *t,
		MinutesSinceLastResponse: int(t.IdleFor(s.now()) / time.Minute),
		State:                    t.State(),
	}
}

// GetSettings returns the community settings. Administrators only.
func (s *LifecycleService) GetSettings(ctx context.Context, communityID string, actor domain.Actor) (domain.Settings, error) {
	settings, err := s.settings(ctx, communityID)
	if err != nil {
		return domain.Settings{}, err
	}
	if !domain.IsAdmin(actor, settings) {
		return domain.Settings{}, apperrors.NewPermissionDenied("you need administrator permissions to view settings")
	}
	return settings, nil
}

// SetSetting validates and persists one setting. Administrators only.
func (s *LifecycleService) SetSetting(ctx context.Context, communityID string, actor domain.Actor, key, value string) (settings domain.Settings, err error) {
	ctx, finish := s.operation(ctx, "set_setting", communityID)
	defer func() { finish(err) }()

	current, err := s.settings(ctx, communityID)
	if err != nil {
		return domain.Settings{}, err
	}
	if !domain.IsAdmin(actor, current) {
		return domain.Settings{}, apperrors.NewPermissionDenied("you need administrator permissions to change settings")
	}
	return s.registry.Set(ctx, communityID, key, value)
}

func (s *LifecycleService) settings(ctx context.Context, communityID string) (domain.Settings, error) {
	settings, err := s.registry.Get(ctx, communityID)
	if err != nil {
		return domain.Settings{}, apperrors.NewInternalError(err)
	}
	return settings, nil
}

func (s *LifecycleService) openTicket(ctx context.Context, communityID, channelID string) (*domain.Ticket, error) {
	t, err := s.tickets.GetOpenByChannel(ctx, channelID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundInChannel(channelID)
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if t.CommunityID != communityID {
		return nil, notFoundInChannel(channelID)
	}
	return t, nil
}

// operation opens a span for one transition and returns a func recording
// its outcome.
func (s *LifecycleService) operation(ctx context.Context, name, communityID string) (context.Context, func(error)) {
	ctx, span := observability.Tracer().Start(ctx, "lifecycle."+name,
		trace.WithAttributes(attribute.String("community.id", communityID)))
	return ctx, func(err error) {
		result := "ok"
		if err != nil {
			code := apperrors.CodeOf(err)
			result = strings.ToLower(code)
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
			if code == apperrors.CodeInternal {
				s.logger.Error("transition failed",
					zap.String("transition", name),
					zap.String("community_id", communityID),
					zap.Error(err))
			}
		}
		s.metrics.RecordTransition(name, result)
		span.End()
	}
}

func (s *LifecycleService) notify(ctx context.Context, step, channelID string, msg platform.Message) {
	if channelID == "" {
		return
	}
	if err := s.platform.Send(ctx, channelID, msg); err != nil {
		s.metrics.RecordSideEffectFailure(step)
		s.logger.Warn("notice delivery failed",
			zap.String("step", step),
			zap.String("channel_id", channelID),
			zap.Error(err))
	}
}

func (s *LifecycleService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handlers failed",
			zap.String("event_type", string(event.Type)),
			zap.Int64("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

func notFoundInChannel(channelID string) error {
	return apperrors.NewNotFound("ticket", map[string]any{"channel_id": channelID})
}

func notFoundByID(ticketID int64) error {
	return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
