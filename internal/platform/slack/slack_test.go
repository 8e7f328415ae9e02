package slack

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/platform"
	"github.com/spec-kit/ticketbot/internal/service"
	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

// mockSlackAPI implements BotAPI for testing.
type mockSlackAPI struct {
	created    []slack.CreateConversationParams
	invited    map[string][]string
	kicked     []string
	renamed    []string
	archived   []string
	posted     []string
	uploads    []slack.FileUploadParameters
	members    []string
	history    [][]slack.Message
	users      map[string]*slack.User
	groups     []slack.UserGroup
	archiveErr error
}

func newMockSlackAPI() *mockSlackAPI {
	return &mockSlackAPI{invited: map[string][]string{}, users: map[string]*slack.User{}}
}

func (m *mockSlackAPI) AuthTestContext(context.Context) (*slack.AuthTestResponse, error) {
	return &slack.AuthTestResponse{UserID: "U-BOT"}, nil
}

func (m *mockSlackAPI) CreateConversationContext(_ context.Context, p slack.CreateConversationParams) (*slack.Channel, error) {
	m.created = append(m.created, p)
	ch := &slack.Channel{}
	ch.ID = "C-NEW"
	ch.Name = p.ChannelName
	return ch, nil
}

func (m *mockSlackAPI) GetConversationInfoContext(_ context.Context, in *slack.GetConversationInfoInput) (*slack.Channel, error) {
	if in.ChannelID == "C-MISSING" {
		return nil, slack.SlackErrorResponse{Err: "channel_not_found"}
	}
	ch := &slack.Channel{}
	ch.ID = in.ChannelID
	return ch, nil
}

func (m *mockSlackAPI) SetTopicOfConversationContext(_ context.Context, channelID, _ string) (*slack.Channel, error) {
	return &slack.Channel{}, nil
}

func (m *mockSlackAPI) InviteUsersToConversationContext(_ context.Context, channelID string, users ...string) (*slack.Channel, error) {
	m.invited[channelID] = append(m.invited[channelID], users...)
	return &slack.Channel{}, nil
}

func (m *mockSlackAPI) KickUserFromConversationContext(_ context.Context, _, user string) error {
	m.kicked = append(m.kicked, user)
	return nil
}

func (m *mockSlackAPI) GetUsersInConversationContext(context.Context, *slack.GetUsersInConversationParameters) ([]string, string, error) {
	return m.members, "", nil
}

func (m *mockSlackAPI) RenameConversationContext(_ context.Context, _, name string) (*slack.Channel, error) {
	m.renamed = append(m.renamed, name)
	return &slack.Channel{}, nil
}

func (m *mockSlackAPI) ArchiveConversationContext(_ context.Context, channelID string) error {
	if m.archiveErr != nil {
		return m.archiveErr
	}
	m.archived = append(m.archived, channelID)
	return nil
}

func (m *mockSlackAPI) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	m.posted = append(m.posted, channelID)
	return channelID, "1234567890.123456", nil
}

func (m *mockSlackAPI) PostEphemeralContext(_ context.Context, channelID, _ string, _ ...slack.MsgOption) (string, error) {
	m.posted = append(m.posted, channelID)
	return "1234567890.123456", nil
}

func (m *mockSlackAPI) UploadFileContext(_ context.Context, p slack.FileUploadParameters) (*slack.File, error) {
	m.uploads = append(m.uploads, p)
	return &slack.File{}, nil
}

func (m *mockSlackAPI) GetConversationHistoryContext(_ context.Context, p *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	page := 0
	if p.Cursor != "" {
		page = 1
	}
	resp := &slack.GetConversationHistoryResponse{Messages: m.history[page]}
	if page+1 < len(m.history) {
		resp.HasMore = true
		resp.ResponseMetaData.NextCursor = "next"
	}
	return resp, nil
}

func (m *mockSlackAPI) GetUserInfoContext(_ context.Context, user string) (*slack.User, error) {
	u, ok := m.users[user]
	if !ok {
		return nil, slack.SlackErrorResponse{Err: "user_not_found"}
	}
	return u, nil
}

func (m *mockSlackAPI) GetUserGroupsContext(context.Context, ...slack.GetUserGroupsOption) ([]slack.UserGroup, error) {
	return m.groups, nil
}

func message(user, text, ts string) slack.Message {
	var msg slack.Message
	msg.User = user
	msg.Text = text
	msg.Timestamp = ts
	return msg
}

func TestClient_CreateTicketChannelInvitesStaffAndCreator(t *testing.T) {
	api := newMockSlackAPI()
	api.groups = []slack.UserGroup{
		{ID: "S-support", Users: []string{"U-staff", "U-BOT"}},
		{ID: "S-other", Users: []string{"U-nope"}},
	}
	c := NewClient(api, zap.NewNop())

	ch, err := c.CreateTicketChannel(context.Background(), platform.ChannelSpec{
		CommunityID: "T1", CategoryID: "C-HUB", Name: "Ticket-7", Members: []string{"U-alice", "U-staff"},
		StaffRoles: []string{"S-support"},
	})
	require.NoError(t, err)
	assert.Equal(t, "C-NEW", ch.ID)
	require.Len(t, api.created, 1)
	assert.Equal(t, "ticket-7", api.created[0].ChannelName)
	assert.True(t, api.created[0].IsPrivate)
	assert.Equal(t, []string{"U-staff", "U-alice"}, api.invited["C-NEW"])
}

func TestClient_MoveToArchive(t *testing.T) {
	api := newMockSlackAPI()
	api.members = []string{"U-BOT", "U-alice", "U-staff"}
	c := NewClient(api, zap.NewNop())

	require.NoError(t, c.MoveToArchive(context.Background(), "T1", "C1", "C-ARCH", "closed-ticket-7"))
	assert.Equal(t, []string{"closed-ticket-7"}, api.renamed)
	assert.Equal(t, []string{"U-alice", "U-staff"}, api.kicked)
	assert.Equal(t, []string{"C1"}, api.archived)
}

func TestClient_AlreadyArchivedIsGone(t *testing.T) {
	api := newMockSlackAPI()
	api.archiveErr = slack.SlackErrorResponse{Err: "already_archived"}
	c := NewClient(api, zap.NewNop())

	err := c.DeleteChannel(context.Background(), "T1", "C1")
	assert.ErrorIs(t, err, platform.ErrChannelGone)
	assert.NoError(t, platform.IgnoreGone(err))
}

func TestClient_ChannelExists(t *testing.T) {
	c := NewClient(newMockSlackAPI(), zap.NewNop())
	ok, err := c.ChannelExists(context.Background(), "T1", "C-HUB")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.ChannelExists(context.Background(), "T1", "C-MISSING")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_HistoryIsChronological(t *testing.T) {
	api := newMockSlackAPI()
	api.history = [][]slack.Message{
		{message("U2", "third", "1700000003.000000"), message("U1", "second", "1700000002.000000")},
		{message("U1", "first", "1700000001.500000")},
	}
	c := NewClient(api, zap.NewNop())

	got, err := c.History(context.Background(), "C1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{got[0].Content, got[1].Content, got[2].Content})
	assert.Equal(t, time.Unix(1700000001, 500000000).UTC(), got[0].CreatedAt)
}

func TestClient_ResolveMember(t *testing.T) {
	api := newMockSlackAPI()
	api.users["U1"] = &slack.User{ID: "U1", Name: "alice", IsAdmin: true}
	api.groups = []slack.UserGroup{{ID: "S-support", Users: []string{"U1"}}}
	c := NewClient(api, zap.NewNop())

	a, err := c.ResolveMember(context.Background(), "T1", "U1")
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{ID: "U1", Name: "alice", Roles: []string{"S-support"}, Administrator: true}, a)

	_, err = c.ResolveMember(context.Background(), "T1", "U-ghost")
	assert.ErrorIs(t, err, platform.ErrUnknownMember)
}

func TestAttachmentColorAndMentions(t *testing.T) {
	msg := platform.Message{Kind: platform.KindWarning, Title: "t", Mentions: []string{"U1"}, MentionRoles: []string{"S1"}}
	assert.Equal(t, "#f39c12", attachment(msg).Color)
	assert.Equal(t, "<!subteam^S1> <@U1>", mentionText(msg))
}

// fakeEngine records calls made by the gateway.
type fakeEngine struct {
	mu            sync.Mutex
	calls         []string
	err           error
	touched       []time.Time
	requireReason bool
	// hold blocks Create until closed
	hold chan struct{}
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) ticket() *domain.Ticket {
	return &domain.Ticket{ID: 7, ChannelID: "C7", Reason: "help", Status: domain.TicketStatusOpen}
}

func (f *fakeEngine) Create(_ context.Context, _ string, a domain.Actor, reason string) (*domain.Ticket, error) {
	f.record("create:" + a.ID + ":" + reason)
	if f.hold != nil {
		<-f.hold
	}
	return f.ticket(), f.err
}
func (f *fakeEngine) Claim(_ context.Context, _, ch string, a domain.Actor) (*domain.Ticket, error) {
	f.record("claim:" + ch + ":" + a.ID)
	return f.ticket(), f.err
}
func (f *fakeEngine) Unclaim(_ context.Context, _, ch string, a domain.Actor) (*domain.Ticket, error) {
	f.record("unclaim:" + ch)
	return f.ticket(), f.err
}
func (f *fakeEngine) RequestClose(_ context.Context, _, ch string, _ domain.Actor) (*domain.Ticket, error) {
	f.record("request-close:" + ch)
	return f.ticket(), f.err
}
func (f *fakeEngine) Close(_ context.Context, _, ch string, _ domain.Actor) (*domain.Ticket, error) {
	f.record("close:" + ch)
	return f.ticket(), f.err
}
func (f *fakeEngine) ForceClose(_ context.Context, _ string, id int64, _ domain.Actor) (*domain.Ticket, error) {
	f.record("force-close:" + strconv.FormatInt(id, 10))
	return f.ticket(), f.err
}
func (f *fakeEngine) AddMember(_ context.Context, _, _ string, _ domain.Actor, user string) error {
	f.record("add:" + user)
	return f.err
}
func (f *fakeEngine) RemoveMember(_ context.Context, _, _ string, _ domain.Actor, user string) error {
	f.record("remove:" + user)
	return f.err
}
func (f *fakeEngine) Transcript(context.Context, string, string, domain.Actor) (string, error) {
	f.record("transcript")
	return "TRANSCRIPT", f.err
}
func (f *fakeEngine) Info(context.Context, string, string) (*service.TicketInfo, error) {
	f.record("info")
	return &service.TicketInfo{Ticket: *f.ticket(), MinutesSinceLastResponse: 5}, f.err
}
func (f *fakeEngine) GetSettings(context.Context, string, domain.Actor) (domain.Settings, error) {
	f.record("get-settings")
	return domain.DefaultSettings(), f.err
}
func (f *fakeEngine) SetSetting(_ context.Context, _ string, _ domain.Actor, key, value string) (domain.Settings, error) {
	f.record("set:" + key + "=" + value)
	s := domain.DefaultSettings()
	s.MaxTickets = 5
	return s, f.err
}
func (f *fakeEngine) RecordUserMessage(_ context.Context, _, ch string, a domain.Actor, at time.Time) error {
	f.record("message:" + ch + ":" + a.ID)
	f.touched = append(f.touched, at)
	return f.err
}

type fakeResponder struct {
	mu      sync.Mutex
	replies []platform.Message
	files   []string
}

func (r *fakeResponder) ResolveMember(_ context.Context, _, userID string) (domain.Actor, error) {
	if userID == "U-ghost" {
		return domain.Actor{}, platform.ErrUnknownMember
	}
	return domain.Actor{ID: userID}, nil
}

func (r *fakeResponder) Ephemeral(_ context.Context, _, _ string, msg platform.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, msg)
	return nil
}

func (r *fakeResponder) SendFile(_ context.Context, channelID, _ string, _ []byte, _ platform.Message) error {
	r.files = append(r.files, channelID)
	return nil
}

func newTestGateway() (*Gateway, *fakeEngine, *fakeResponder) {
	engine := &fakeEngine{}
	responder := &fakeResponder{}
	return &Gateway{engine: engine, responder: responder, logger: zap.NewNop()}, engine, responder
}

func TestGateway_CommandRouting(t *testing.T) {
	g, engine, responder := newTestGateway()
	ctx := context.Background()
	cmd := func(text string) slack.SlashCommand {
		return slack.SlashCommand{Command: "/ticket", Text: text, TeamID: "T1", ChannelID: "C7", UserID: "U1"}
	}

	reply := g.HandleCommand(ctx, cmd("open my printer is on fire"))
	assert.Equal(t, "✅ Ticket Created Successfully", reply.Title)
	assert.Contains(t, reply.Description, "<#C7>")

	g.HandleCommand(ctx, cmd("claim"))
	g.HandleCommand(ctx, cmd("unclaim"))
	g.HandleCommand(ctx, cmd("request-close"))
	g.HandleCommand(ctx, cmd("close"))
	g.HandleCommand(ctx, cmd("add <@U9|bob>"))
	g.HandleCommand(ctx, cmd("remove U9"))
	g.HandleCommand(ctx, cmd("config max_tickets 5"))
	g.HandleCommand(ctx, cmd("transcript"))

	assert.Equal(t, []string{
		"create:U1:my printer is on fire",
		"claim:C7:U1",
		"unclaim:C7",
		"request-close:C7",
		"close:C7",
		"add:U9",
		"remove:U9",
		"set:max_tickets=5",
		"transcript",
	}, engine.recorded())
	assert.Equal(t, []string{"C7"}, responder.files)
}

func TestGateway_ConfigListing(t *testing.T) {
	g, _, _ := newTestGateway()
	reply := g.HandleCommand(context.Background(), slack.SlashCommand{Text: "config max_tickets", TeamID: "T1", UserID: "U1"})
	require.Len(t, reply.Fields, 1)
	assert.Equal(t, "max_tickets", reply.Fields[0].Name)
	assert.Equal(t, "3", reply.Fields[0].Value)
}

func TestGateway_ErrorsBecomeReplies(t *testing.T) {
	g, engine, _ := newTestGateway()
	engine.err = apperrors.NewAlreadyClaimed("U-x")

	reply := g.HandleCommand(context.Background(), slack.SlashCommand{Text: "claim", TeamID: "T1", ChannelID: "C7", UserID: "U1"})
	assert.Equal(t, platform.KindError, reply.Kind)
	assert.Equal(t, "❌ Ticket Already Claimed", reply.Title)

	reply = g.HandleCommand(context.Background(), slack.SlashCommand{Text: "force-close abc", TeamID: "T1", UserID: "U1"})
	assert.Equal(t, "❌ Invalid Input", reply.Title)

	reply = g.HandleCommand(context.Background(), slack.SlashCommand{Text: "open", TeamID: "T1", UserID: "U-ghost"})
	assert.Equal(t, "❌ Error", reply.Title)

	reply = g.HandleCommand(context.Background(), slack.SlashCommand{Text: "frobnicate", TeamID: "T1", UserID: "U1"})
	assert.Equal(t, "❌ Unknown Command", reply.Title)
}

func TestGateway_HandleMessage(t *testing.T) {
	g, engine, _ := newTestGateway()
	ctx := context.Background()

	g.HandleMessage(ctx, "T1", &slackevents.MessageEvent{User: "U1", Channel: "C7", TimeStamp: "1700000000.000100"})
	g.HandleMessage(ctx, "T1", &slackevents.MessageEvent{User: "", BotID: "B1", Channel: "C7"})
	g.HandleMessage(ctx, "T1", &slackevents.MessageEvent{User: "U1", SubType: "message_changed", Channel: "C7"})

	assert.Equal(t, []string{"message:C7:U1"}, engine.recorded())
	engine.mu.Lock()
	defer engine.mu.Unlock()
	require.Len(t, engine.touched, 1)
	assert.Equal(t, time.Unix(1700000000, 100000).UTC(), engine.touched[0])
}

func TestUserRef(t *testing.T) {
	assert.Equal(t, "U1", userRef("<@U1|bob>"))
	assert.Equal(t, "U1", userRef("<@U1>"))
	assert.Equal(t, "U1", userRef("U1"))
}

func TestParseTimestamp(t *testing.T) {
	assert.Equal(t, time.Unix(1, 120000000).UTC(), parseTimestamp("1.12"))
	assert.True(t, parseTimestamp("garbage").IsZero())
}

func TestClient_PostPanel(t *testing.T) {
	api := newMockSlackAPI()
	c := NewClient(api, zap.NewNop())

	id, err := c.PostPanel(context.Background(), "C-HELP", platform.Panel{Title: "Support"})
	require.NoError(t, err)
	assert.Equal(t, "1234567890.123456", id)
	assert.Equal(t, []string{"C-HELP"}, api.posted)
}

func TestPanelAttachment(t *testing.T) {
	a := panelAttachment(platform.Panel{
		Title:        "Support Tickets",
		Description:  "Need help?",
		Color:        0x9b59b6,
		ImageURL:     "https://example.com/banner.png",
		ThumbnailURL: "https://example.com/logo.png",
		Footer:       "Click the button below to create a ticket",
	})
	assert.Equal(t, "#9b59b6", a.Color)
	require.Len(t, a.Blocks.BlockSet, 5)

	section, ok := a.Blocks.BlockSet[1].(*slack.SectionBlock)
	require.True(t, ok)
	require.NotNil(t, section.Accessory)
	assert.NotNil(t, section.Accessory.ImageElement)

	actions, ok := a.Blocks.BlockSet[3].(*slack.ActionBlock)
	require.True(t, ok)
	require.Len(t, actions.Elements.ElementSet, 1)
	button, ok := actions.Elements.ElementSet[0].(*slack.ButtonBlockElement)
	require.True(t, ok)
	assert.Equal(t, platform.CreateTicketAction, button.ActionID)

	plain := panelAttachment(platform.Panel{Title: "t", Description: "d"})
	assert.Len(t, plain.Blocks.BlockSet, 3)
}

func TestGateway_PanelCommand(t *testing.T) {
	g, engine, _ := newTestGateway()
	reply := g.HandleCommand(context.Background(), slack.SlashCommand{Text: "panel <#C9|help>", TeamID: "T1", ChannelID: "C7", UserID: "U1"})
	assert.Equal(t, "✅ Ticket Panel Created", reply.Title)
	assert.Contains(t, reply.Description, "<#C9>")

	g.HandleCommand(context.Background(), slack.SlashCommand{Text: "panel", TeamID: "T1", ChannelID: "C7", UserID: "U1"})
	assert.Equal(t, []string{"panel:C9", "panel:C7"}, engine.recorded())
}

func panelClick() slack.InteractionCallback {
	cb := slack.InteractionCallback{Type: slack.InteractionTypeBlockActions, TriggerID: "trig"}
	cb.Team.ID = "T1"
	cb.User.ID = "U1"
	cb.Channel.ID = "C-PANEL"
	cb.ActionCallback.BlockActions = []*slack.BlockAction{{ActionID: platform.CreateTicketAction}}
	return cb
}

func TestGateway_PanelButtonCreatesTicket(t *testing.T) {
	g, engine, responder := newTestGateway()
	g.HandleInteraction(context.Background(), panelClick())

	assert.Equal(t, []string{"create:U1:"}, engine.recorded())
	require.Len(t, responder.replies, 1)
	assert.Equal(t, "✅ Ticket Created Successfully", responder.replies[0].Title)
}

func TestGateway_PanelButtonAsksForReason(t *testing.T) {
	g, engine, responder := newTestGateway()
	views := &fakeViews{}
	g.views = views
	engine.requireReason = true
	ctx := context.Background()

	g.HandleInteraction(ctx, panelClick())
	assert.Empty(t, engine.recorded())
	require.Len(t, views.opened, 1)
	modal := views.opened[0]
	assert.Equal(t, reasonModalID, modal.CallbackID)
	assert.Equal(t, "C-PANEL", modal.PrivateMetadata)

	submit := slack.InteractionCallback{Type: slack.InteractionTypeViewSubmission}
	submit.Team.ID = "T1"
	submit.User.ID = "U1"
	submit.View.CallbackID = reasonModalID
	submit.View.PrivateMetadata = modal.PrivateMetadata
	submit.View.State = &slack.ViewState{Values: map[string]map[string]slack.BlockAction{
		reasonBlockID: {reasonActionID: {Value: "printer jammed"}},
	}}
	g.HandleInteraction(ctx, submit)

	assert.Equal(t, []string{"create:U1:printer jammed"}, engine.recorded())
	require.Len(t, responder.replies, 1)
	assert.Equal(t, "✅ Ticket Created Successfully", responder.replies[0].Title)
}

func TestGateway_SlowCommandDoesNotBlockMessages(t *testing.T) {
	g, engine, responder := newTestGateway()
	engine.hold = make(chan struct{})
	ctx := context.Background()

	g.HandleEvent(ctx, socketmode.Event{
		Type: socketmode.EventTypeSlashCommand,
		Data: slack.SlashCommand{Text: "open stuck", TeamID: "T1", ChannelID: "C1", UserID: "U1"},
	})
	g.HandleEvent(ctx, socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type:   slackevents.CallbackEvent,
			TeamID: "T1",
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Data: &slackevents.MessageEvent{User: "U2", Channel: "C7", TimeStamp: "1700000000.000100"},
			},
		},
	})
	assert.Contains(t, engine.recorded(), "message:C7:U2")

	close(engine.hold)
	g.inflight.Wait()
	assert.Contains(t, engine.recorded(), "create:U1:stuck")
	require.Len(t, responder.replies, 1)
	assert.Equal(t, "✅ Ticket Created Successfully", responder.replies[0].Title)
}
