package slack

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/platform"
	"github.com/spec-kit/ticketbot/internal/service"
	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

// Engine is the lifecycle surface driven by the gateway.
type Engine interface {
	Create(ctx context.Context, communityID string, actor domain.Actor, reason string) (*domain.Ticket, error)
	Claim(ctx context.Context, communityID, channelID string, actor domain.Actor) (*domain.Ticket, error)
	Unclaim(ctx context.Context, communityID, channelID string, actor domain.Actor) (*domain.Ticket, error)
	RequestClose(ctx context.Context, communityID, channelID string, actor domain.Actor) (*domain.Ticket, error)
	Close(ctx context.Context, communityID, channelID string, actor domain.Actor) (*domain.Ticket, error)
	ForceClose(ctx context.Context, communityID string, ticketID int64, actor domain.Actor) (*domain.Ticket, error)
	AddMember(ctx context.Context, communityID, channelID string, actor domain.Actor, userID string) error
	RemoveMember(ctx context.Context, communityID, channelID string, actor domain.Actor, userID string) error
	Transcript(ctx context.Context, communityID, channelID string, actor domain.Actor) (string, error)
	Info(ctx context.Context, communityID, channelID string) (*service.TicketInfo, error)
	GetSettings(ctx context.Context, communityID string, actor domain.Actor) (domain.Settings, error)
	SetSetting(ctx context.Context, communityID string, actor domain.Actor, key, value string) (domain.Settings, error)
	RecordUserMessage(ctx context.Context, communityID, channelID string, actor domain.Actor, at time.Time) error
	PublishPanel(ctx context.Context, communityID string, actor domain.Actor, channelID string) (domain.Settings, error)
	ReasonRequired(ctx context.Context, communityID string) (bool, error)
}

// Responder resolves members and delivers replies.
type Responder interface {
	ResolveMember(ctx context.Context, communityID, userID string) (domain.Actor, error)
	Ephemeral(ctx context.Context, channelID, userID string, msg platform.Message) error
	SendFile(ctx context.Context, channelID, filename string, content []byte, msg platform.Message) error
}

// ViewOpener opens modal views from an interaction trigger.
type ViewOpener interface {
	OpenViewContext(ctx context.Context, triggerID string, view slack.ModalViewRequest) (*slack.ViewResponse, error)
}

// Modal identifiers for the panel's reason prompt.
const (
	reasonModalID  = "ticket_reason"
	reasonBlockID  = "reason"
	reasonActionID = "reason_input"
)

// Gateway turns Socket Mode events into engine calls.
type Gateway struct {
	engine    Engine
	responder Responder
	views     ViewOpener
	socket    *socketmode.Client
	logger    *zap.Logger

	inflight sync.WaitGroup
}

// NewGateway creates a gateway over an existing Slack API client.
func NewGateway(api *slack.Client, responder Responder, engine Engine, logger *zap.Logger) *Gateway {
	return &Gateway{
		engine:    engine,
		responder: responder,
		views:     api,
		socket:    socketmode.New(api),
		logger:    logger.With(zap.String("component", "slack.gateway")),
	}
}

// Run starts the Socket Mode event loop. Blocks until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting Slack Socket Mode connection")

	loopCtx, stop := context.WithCancel(ctx)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		for {
			select {
			case <-loopCtx.Done():
				return
			case evt, ok := <-g.socket.Events:
				if !ok {
					return
				}
				g.HandleEvent(ctx, evt)
			}
		}
	}()

	err := g.socket.RunContext(ctx)
	// no new handlers start once the loop has exited
	stop()
	<-loopDone
	g.inflight.Wait()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("socket mode error: %w", err)
	}
	g.logger.Info("Slack Socket Mode stopped")
	return nil
}

// async runs fn off the event loop so slow platform calls do not hold up
// message events.
func (g *Gateway) async(fn func()) {
	g.inflight.Add(1)
	go func() {
		defer g.inflight.Done()
		fn()
	}()
}

// HandleEvent routes Socket Mode events.
func (g *Gateway) HandleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeSlashCommand:
		g.ack(evt)
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		g.async(func() {
			g.reply(ctx, cmd.ChannelID, cmd.UserID, g.HandleCommand(ctx, cmd))
		})
	case socketmode.EventTypeInteractive:
		g.ack(evt)
		callback, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		g.async(func() { g.HandleInteraction(ctx, callback) })
	case socketmode.EventTypeEventsAPI:
		g.ack(evt)
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok || apiEvent.Type != slackevents.CallbackEvent {
			return
		}
		if msg, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			g.HandleMessage(ctx, apiEvent.TeamID, msg)
		}
	default:
		g.logger.Debug("unhandled event type", zap.String("type", string(evt.Type)))
	}
}

func (g *Gateway) reply(ctx context.Context, channelID, userID string, msg platform.Message) {
	if err := g.responder.Ephemeral(ctx, channelID, userID, msg); err != nil {
		g.logger.Warn("ephemeral reply failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (g *Gateway) ack(evt socketmode.Event) {
	if g.socket != nil && evt.Request != nil {
		g.socket.Ack(*evt.Request)
	}
}

// HandleMessage records human activity in ticket channels.
func (g *Gateway) HandleMessage(ctx context.Context, teamID string, ev *slackevents.MessageEvent) {
	// skip bot posts and edits/deletes
	if ev.User == "" || ev.BotID != "" || ev.SubType != "" {
		return
	}
	actor, err := g.responder.ResolveMember(ctx, teamID, ev.User)
	if err != nil {
		g.logger.Debug("message author unresolved", zap.String("user_id", ev.User), zap.Error(err))
		actor = domain.Actor{ID: ev.User}
	}
	at := parseTimestamp(ev.TimeStamp)
	if err := g.engine.RecordUserMessage(ctx, teamID, ev.Channel, actor, at); err != nil {
		g.logger.Warn("record user message failed", zap.String("channel_id", ev.Channel), zap.Error(err))
	}
}

const usage = "Usage: `/ticket open [reason]`, `claim`, `unclaim`, `close`, `request-close`, " +
	"`force-close <id>`, `add @user`, `remove @user`, `transcript`, `info`, `config [key] [value]`, `panel [#channel]`"

// HandleCommand executes one /ticket invocation and returns the reply.
func (g *Gateway) HandleCommand(ctx context.Context, cmd slack.SlashCommand) platform.Message {
	fields := strings.Fields(cmd.Text)
	if len(fields) == 0 {
		return platform.Message{Kind: platform.KindInfo, Title: "🎫 Tickets", Description: usage}
	}
	sub, args := strings.ToLower(fields[0]), fields[1:]

	actor, err := g.responder.ResolveMember(ctx, cmd.TeamID, cmd.UserID)
	if err != nil {
		return errorReply(apperrors.NewInternalError(err))
	}
	community, channel := cmd.TeamID, cmd.ChannelID

	switch sub {
	case "open", "new":
		return createdReply(g.engine.Create(ctx, community, actor, strings.Join(args, " ")))
	case "claim":
		return transitionReply(g.engine.Claim(ctx, community, channel, actor))("✅ Ticket Claimed", "You have claimed this ticket.")
	case "unclaim":
		return transitionReply(g.engine.Unclaim(ctx, community, channel, actor))("🔄 Ticket Unclaimed", "You have unclaimed this ticket.")
	case "request-close":
		return transitionReply(g.engine.RequestClose(ctx, community, channel, actor))("✅ Close Request Sent", "Staff has been notified to close your ticket.")
	case "close":
		return transitionReply(g.engine.Close(ctx, community, channel, actor))("🔒 Ticket Closed", "The ticket is closed.")
	case "force-close":
		if len(args) != 1 {
			return errorReply(apperrors.NewValidationError("usage: /ticket force-close <id>", nil))
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
		if err != nil || id <= 0 {
			return errorReply(apperrors.NewValidationError("ticket id must be a positive number", nil))
		}
		return transitionReply(g.engine.ForceClose(ctx, community, id, actor))("✅ Ticket Force Closed", fmt.Sprintf("Ticket #%d has been force closed.", id))
	case "add", "remove":
		if len(args) != 1 {
			return errorReply(apperrors.NewValidationError("usage: /ticket "+sub+" @user", nil))
		}
		user := userRef(args[0])
		if sub == "add" {
			err = g.engine.AddMember(ctx, community, channel, actor, user)
		} else {
			err = g.engine.RemoveMember(ctx, community, channel, actor, user)
		}
		if err != nil {
			return errorReply(err)
		}
		verb := "added to"
		if sub == "remove" {
			verb = "removed from"
		}
		return platform.Message{Kind: platform.KindSuccess, Title: "✅ Done",
			Description: fmt.Sprintf("%s has been %s the ticket.", platform.Mention(user), verb)}
	case "transcript":
		content, err := g.engine.Transcript(ctx, community, channel, actor)
		if err != nil {
			return errorReply(err)
		}
		msg := platform.Message{Kind: platform.KindInfo, Title: "📜 Transcript"}
		if err := g.responder.SendFile(ctx, channel, "transcript.txt", []byte(content), msg); err != nil {
			return errorReply(apperrors.NewInternalError(err))
		}
		return platform.Message{Kind: platform.KindSuccess, Description: "Here's the transcript."}
	case "info":
		info, err := g.engine.Info(ctx, community, channel)
		if err != nil {
			return errorReply(err)
		}
		return infoReply(info)
	case "config":
		return g.config(ctx, community, actor, args)
	case "panel":
		target := channel
		if len(args) > 0 {
			target = channelRef(args[0])
		}
		if _, err := g.engine.PublishPanel(ctx, community, actor, target); err != nil {
			return errorReply(err)
		}
		return platform.Message{Kind: platform.KindSuccess, Title: "✅ Ticket Panel Created",
			Description: "Ticket panel has been created in <#" + target + ">"}
	default:
		return platform.Message{Kind: platform.KindError, Title: "❌ Unknown Command", Description: usage}
	}
}

// HandleInteraction serves the panel's create button and the reason modal.
func (g *Gateway) HandleInteraction(ctx context.Context, cb slack.InteractionCallback) {
	switch cb.Type {
	case slack.InteractionTypeBlockActions:
		for _, action := range cb.ActionCallback.BlockActions {
			if action.ActionID == platform.CreateTicketAction {
				g.panelCreate(ctx, cb)
				return
			}
		}
	case slack.InteractionTypeViewSubmission:
		if cb.View.CallbackID != reasonModalID {
			return
		}
		var reason string
		if cb.View.State != nil {
			reason = cb.View.State.Values[reasonBlockID][reasonActionID].Value
		}
		g.createFor(ctx, cb.Team.ID, cb.View.PrivateMetadata, cb.User.ID, reason)
	}
}

func (g *Gateway) panelCreate(ctx context.Context, cb slack.InteractionCallback) {
	required, err := g.engine.ReasonRequired(ctx, cb.Team.ID)
	if err != nil {
		g.reply(ctx, cb.Channel.ID, cb.User.ID, errorReply(err))
		return
	}
	if !required || g.views == nil {
		g.createFor(ctx, cb.Team.ID, cb.Channel.ID, cb.User.ID, "")
		return
	}
	if _, err := g.views.OpenViewContext(ctx, cb.TriggerID, reasonModal(cb.Channel.ID)); err != nil {
		g.logger.Warn("open reason modal failed", zap.String("user_id", cb.User.ID), zap.Error(err))
		g.reply(ctx, cb.Channel.ID, cb.User.ID, errorReply(apperrors.NewInternalError(err)))
	}
}

func (g *Gateway) createFor(ctx context.Context, community, channelID, userID, reason string) {
	actor, err := g.responder.ResolveMember(ctx, community, userID)
	if err != nil {
		g.reply(ctx, channelID, userID, errorReply(apperrors.NewInternalError(err)))
		return
	}
	g.reply(ctx, channelID, userID, createdReply(g.engine.Create(ctx, community, actor, reason)))
}

func reasonModal(channelID string) slack.ModalViewRequest {
	input := slack.NewPlainTextInputBlockElement(
		slack.NewTextBlockObject(slack.PlainTextType, "Please describe your issue...", false, false), reasonActionID)
	input.Multiline = true
	input.MaxLength = domain.MaxReasonLength
	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      reasonModalID,
		PrivateMetadata: channelID,
		Title:           slack.NewTextBlockObject(slack.PlainTextType, "Create Ticket", false, false),
		Submit:          slack.NewTextBlockObject(slack.PlainTextType, "Create", false, false),
		Close:           slack.NewTextBlockObject(slack.PlainTextType, "Cancel", false, false),
		Blocks: slack.Blocks{BlockSet: []slack.Block{
			slack.NewInputBlock(reasonBlockID,
				slack.NewTextBlockObject(slack.PlainTextType, "Reason for ticket", false, false), nil, input),
		}},
	}
}

func createdReply(t *domain.Ticket, err error) platform.Message {
	if err != nil {
		return errorReply(err)
	}
	return platform.Message{
		Kind:        platform.KindSuccess,
		Title:       "✅ Ticket Created Successfully",
		Description: "Your ticket has been created: <#" + t.ChannelID + ">",
		Fields: []platform.Field{
			{Name: "Ticket ID", Value: fmt.Sprintf("#%d", t.ID), Inline: true},
			{Name: "Reason", Value: truncateRunes(t.Reason, 100), Inline: true},
		},
	}
}

func (g *Gateway) config(ctx context.Context, community string, actor domain.Actor, args []string) platform.Message {
	if len(args) >= 2 {
		settings, err := g.engine.SetSetting(ctx, community, actor, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return errorReply(err)
		}
		v, _ := settings.Value(args[0])
		return platform.Message{Kind: platform.KindSetup, Title: "✅ Setting Updated",
			Description: fmt.Sprintf("`%s` is now `%v`", args[0], v)}
	}
	settings, err := g.engine.GetSettings(ctx, community, actor)
	if err != nil {
		return errorReply(err)
	}
	values := settings.Map()
	keys := make([]string, 0, len(values))
	for k := range values {
		if len(args) == 1 && k != args[0] {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return errorReply(apperrors.NewValidationError("unknown setting", map[string]any{"key": args[0]}))
	}
	sort.Strings(keys)
	msg := platform.Message{Kind: platform.KindSetup, Title: "🎫 Ticket System Setup"}
	for _, k := range keys {
		msg.Fields = append(msg.Fields, platform.Field{Name: k, Value: fmt.Sprint(values[k]), Inline: true})
	}
	return msg
}

func transitionReply(_ *domain.Ticket, err error) func(title, description string) platform.Message {
	return func(title, description string) platform.Message {
		if err != nil {
			return errorReply(err)
		}
		return platform.Message{Kind: platform.KindSuccess, Title: title, Description: description}
	}
}

func infoReply(info *service.TicketInfo) platform.Message {
	t := info.Ticket
	claimed := "Unclaimed"
	if c := t.Claimant(); c != "" {
		claimed = platform.Mention(c)
	}
	return platform.Message{
		Kind:  platform.KindInfo,
		Title: fmt.Sprintf("🎫 Ticket #%d Information", t.ID),
		Fields: []platform.Field{
			{Name: "Created by", Value: platform.Mention(t.CreatorID), Inline: true},
			{Name: "Claimed by", Value: claimed, Inline: true},
			{Name: "Created at", Value: t.CreatedAt.Format("2006-01-02 15:04:05"), Inline: true},
			{Name: "Last user response", Value: fmt.Sprintf("%d minutes ago", info.MinutesSinceLastResponse), Inline: true},
			{Name: "Status", Value: string(t.Status), Inline: true},
			{Name: "Reason", Value: truncateRunes(t.Reason, 100)},
		},
	}
}

var errorTitles = map[string]string{
	apperrors.CodeNotFound:         "Ticket Not Found",
	apperrors.CodePermissionDenied: "Permission Denied",
	apperrors.CodeAlreadyClaimed:   "Ticket Already Claimed",
	apperrors.CodeNotClaimed:       "Ticket Not Claimed",
	apperrors.CodeNotOwner:         "Not Your Ticket",
	apperrors.CodeNotCreator:       "Not Your Ticket",
	apperrors.CodeLimitExceeded:    "Ticket Limit Reached",
	apperrors.CodeNotConfigured:    "Setup Required",
	apperrors.CodeAlreadyRequested: "Already Requested",
	apperrors.CodeValidation:       "Invalid Input",
}

func errorReply(err error) platform.Message {
	de := apperrors.ToDomainError(err)
	title, ok := errorTitles[de.Code]
	if !ok {
		title = "Error"
	}
	return platform.Message{Kind: platform.KindError, Title: "❌ " + title, Description: de.Message}
}

// channelRef extracts an id from <#C123|name>, <#C123> or a bare id.
func channelRef(s string) string {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "<#"), ">")
	if i := strings.IndexByte(s, '|'); i >= 0 {
		s = s[:i]
	}
	return s
}

// userRef extracts an id from <@U123|name>, <@U123> or a bare id.
func userRef(s string) string {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "<@"), ">")
	if i := strings.IndexByte(s, '|'); i >= 0 {
		s = s[:i]
	}
	return s
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
