// Package slack implements platform.Client on Slack. Ticket channels are
// private conversations, roles are user groups and categories are plain
// channel ids that must exist in the workspace.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/platform"
)

// BotAPI abstracts the Slack API client for testing.
type BotAPI interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	CreateConversationContext(ctx context.Context, params slack.CreateConversationParams) (*slack.Channel, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	SetTopicOfConversationContext(ctx context.Context, channelID, topic string) (*slack.Channel, error)
	InviteUsersToConversationContext(ctx context.Context, channelID string, users ...string) (*slack.Channel, error)
	KickUserFromConversationContext(ctx context.Context, channelID, user string) error
	GetUsersInConversationContext(ctx context.Context, params *slack.GetUsersInConversationParameters) ([]string, string, error)
	RenameConversationContext(ctx context.Context, channelID, channelName string) (*slack.Channel, error)
	ArchiveConversationContext(ctx context.Context, channelID string) error
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	PostEphemeralContext(ctx context.Context, channelID, userID string, options ...slack.MsgOption) (string, error)
	UploadFileContext(ctx context.Context, params slack.FileUploadParameters) (*slack.File, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	GetUserGroupsContext(ctx context.Context, options ...slack.GetUserGroupsOption) ([]slack.UserGroup, error)
}

const historyPageSize = 200

// Client is the Slack platform adapter.
type Client struct {
	api    BotAPI
	logger *zap.Logger

	botOnce sync.Once
	botID   string
}

// NewClient wraps a Slack API client.
func NewClient(api BotAPI, logger *zap.Logger) *Client {
	return &Client{
		api:    api,
		logger: logger.With(zap.String("component", "platform.slack")),
	}
}

var _ platform.Client = (*Client)(nil)

func (c *Client) botUserID(ctx context.Context) string {
	c.botOnce.Do(func() {
		resp, err := c.api.AuthTestContext(ctx)
		if err != nil {
			c.logger.Warn("auth test failed", zap.Error(err))
			return
		}
		c.botID = resp.UserID
	})
	return c.botID
}

func (c *Client) ChannelExists(ctx context.Context, _, channelID string) (bool, error) {
	if channelID == "" {
		return false, nil
	}
	ch, err := c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		if errors.Is(mapError(err), platform.ErrChannelGone) {
			return false, nil
		}
		return false, err
	}
	return !ch.IsArchived, nil
}

func (c *Client) CreateTicketChannel(ctx context.Context, spec platform.ChannelSpec) (platform.Channel, error) {
	ch, err := c.api.CreateConversationContext(ctx, slack.CreateConversationParams{
		ChannelName: channelName(spec.Name),
		IsPrivate:   true,
		TeamID:      spec.CommunityID,
	})
	if err != nil {
		return platform.Channel{}, fmt.Errorf("create conversation: %w", err)
	}

	if spec.Topic != "" {
		if _, err := c.api.SetTopicOfConversationContext(ctx, ch.ID, spec.Topic); err != nil {
			c.logger.Warn("set topic failed", zap.String("channel_id", ch.ID), zap.Error(err))
		}
	}

	members, err := c.staffMembers(ctx, spec.StaffRoles)
	if err != nil {
		c.logger.Warn("list staff members failed", zap.Error(err))
	}
	members = append(members, spec.Members...)
	if users := dedupe(members, c.botUserID(ctx)); len(users) > 0 {
		if _, err := c.api.InviteUsersToConversationContext(ctx, ch.ID, users...); err != nil && !isSlackError(err, "already_in_channel") {
			return platform.Channel{ID: ch.ID, Name: ch.Name}, fmt.Errorf("invite members: %w", err)
		}
	}
	return platform.Channel{ID: ch.ID, Name: ch.Name}, nil
}

// MoveToArchive renames the conversation, removes every member but the bot and
// archives it. Slack has no categories, so the archive id only has to resolve.
func (c *Client) MoveToArchive(ctx context.Context, _, channelID, _, newName string) error {
	if _, err := c.api.RenameConversationContext(ctx, channelID, channelName(newName)); err != nil {
		if err = mapError(err); errors.Is(err, platform.ErrChannelGone) {
			return err
		}
		c.logger.Warn("rename failed", zap.String("channel_id", channelID), zap.Error(err))
	}

	bot := c.botUserID(ctx)
	cursor := ""
	for {
		users, next, err := c.api.GetUsersInConversationContext(ctx, &slack.GetUsersInConversationParameters{
			ChannelID: channelID,
			Cursor:    cursor,
			Limit:     historyPageSize,
		})
		if err != nil {
			return mapError(err)
		}
		for _, u := range users {
			if u == bot {
				continue
			}
			if err := c.api.KickUserFromConversationContext(ctx, channelID, u); err != nil && !isSlackError(err, "not_in_channel", "cant_kick_self") {
				c.logger.Warn("remove member failed", zap.String("channel_id", channelID), zap.String("user_id", u), zap.Error(err))
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return mapError(c.api.ArchiveConversationContext(ctx, channelID))
}

// DeleteChannel archives the conversation. Bot tokens cannot delete channels.
func (c *Client) DeleteChannel(ctx context.Context, _, channelID string) error {
	return mapError(c.api.ArchiveConversationContext(ctx, channelID))
}

func (c *Client) Send(ctx context.Context, channelID string, msg platform.Message) error {
	opts := []slack.MsgOption{slack.MsgOptionAttachments(attachment(msg))}
	if text := mentionText(msg); text != "" {
		opts = append(opts, slack.MsgOptionText(text, false))
	}
	_, _, err := c.api.PostMessageContext(ctx, channelID, opts...)
	return mapError(err)
}

// PostPanel posts the panel as a colored attachment carrying Block Kit
// content and the create-ticket button. The message ts is its id.
func (c *Client) PostPanel(ctx context.Context, channelID string, panel platform.Panel) (string, error) {
	_, ts, err := c.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(panel.Title, false),
		slack.MsgOptionAttachments(panelAttachment(panel)))
	if err != nil {
		return "", mapError(err)
	}
	return ts, nil
}

func (c *Client) SendFile(ctx context.Context, channelID, filename string, content []byte, msg platform.Message) error {
	comment := msg.Title
	if msg.Description != "" {
		comment = strings.TrimSpace(comment + "\n" + msg.Description)
	}
	for _, f := range msg.Fields {
		comment += fmt.Sprintf("\n*%s:* %s", f.Name, f.Value)
	}
	_, err := c.api.UploadFileContext(ctx, slack.FileUploadParameters{
		Content:        string(content),
		Filename:       filename,
		Filetype:       "text",
		Title:          filename,
		InitialComment: comment,
		Channels:       []string{channelID},
	})
	return mapError(err)
}

// History pages through the conversation and returns it oldest first.
func (c *Client) History(ctx context.Context, channelID string) ([]platform.HistoryMessage, error) {
	var out []platform.HistoryMessage
	cursor := ""
	for {
		resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: channelID,
			Cursor:    cursor,
			Limit:     historyPageSize,
		})
		if err != nil {
			return nil, mapError(err)
		}
		for _, m := range resp.Messages {
			out = append(out, historyMessage(m))
		}
		if !resp.HasMore || resp.ResponseMetaData.NextCursor == "" {
			break
		}
		cursor = resp.ResponseMetaData.NextCursor
	}
	// Slack returns newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (c *Client) ResolveMember(ctx context.Context, _, userID string) (domain.Actor, error) {
	u, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		if isSlackError(err, "user_not_found") {
			return domain.Actor{}, platform.ErrUnknownMember
		}
		return domain.Actor{}, err
	}
	if u.Deleted {
		return domain.Actor{}, platform.ErrUnknownMember
	}

	groups, err := c.api.GetUserGroupsContext(ctx, slack.GetUserGroupsOptionIncludeUsers(true))
	if err != nil {
		return domain.Actor{}, fmt.Errorf("list user groups: %w", err)
	}
	var roles []string
	for _, g := range groups {
		for _, member := range g.Users {
			if member == userID {
				roles = append(roles, g.ID)
				break
			}
		}
	}

	name := u.RealName
	if name == "" {
		name = u.Name
	}
	return domain.Actor{
		ID:            u.ID,
		Name:          name,
		Roles:         roles,
		Administrator: u.IsAdmin || u.IsOwner,
		Bot:           u.IsBot,
	}, nil
}

func (c *Client) SetMemberAccess(ctx context.Context, _, channelID, userID string, allowed bool) error {
	if allowed {
		_, err := c.api.InviteUsersToConversationContext(ctx, channelID, userID)
		if isSlackError(err, "already_in_channel") {
			return nil
		}
		return mapError(err)
	}
	err := c.api.KickUserFromConversationContext(ctx, channelID, userID)
	if isSlackError(err, "not_in_channel") {
		return nil
	}
	return mapError(err)
}

// Ephemeral posts a reply only the user can see.
func (c *Client) Ephemeral(ctx context.Context, channelID, userID string, msg platform.Message) error {
	_, err := c.api.PostEphemeralContext(ctx, channelID, userID, slack.MsgOptionAttachments(attachment(msg)))
	return err
}

func (c *Client) staffMembers(ctx context.Context, roles []string) ([]string, error) {
	want := map[string]bool{}
	for _, r := range roles {
		if r != "" {
			want[r] = true
		}
	}
	if len(want) == 0 {
		return nil, nil
	}
	groups, err := c.api.GetUserGroupsContext(ctx, slack.GetUserGroupsOptionIncludeUsers(true))
	if err != nil {
		return nil, err
	}
	var users []string
	for _, g := range groups {
		if want[g.ID] {
			users = append(users, g.Users...)
		}
	}
	return users, nil
}

func attachment(msg platform.Message) slack.Attachment {
	a := slack.Attachment{
		Color:  fmt.Sprintf("#%06x", msg.ColorValue()),
		Title:  msg.Title,
		Text:   msg.Description,
		Footer: msg.Footer,
	}
	for _, f := range msg.Fields {
		a.Fields = append(a.Fields, slack.AttachmentField{Title: f.Name, Value: f.Value, Short: f.Inline})
	}
	if !msg.Timestamp.IsZero() {
		a.Ts = json.Number(strconv.FormatInt(msg.Timestamp.Unix(), 10))
	}
	return a
}

func panelAttachment(panel platform.Panel) slack.Attachment {
	var accessory *slack.Accessory
	if panel.ThumbnailURL != "" {
		accessory = slack.NewAccessory(slack.NewImageBlockElement(panel.ThumbnailURL, "thumbnail"))
	}
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, panel.Title, true, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, panel.Description, false, false), nil, accessory),
	}
	if panel.ImageURL != "" {
		blocks = append(blocks, slack.NewImageBlock(panel.ImageURL, panel.Title, "", nil))
	}
	button := slack.NewButtonBlockElement(platform.CreateTicketAction, platform.CreateTicketAction,
		slack.NewTextBlockObject(slack.PlainTextType, "🎫 Create Ticket", true, false)).WithStyle(slack.StylePrimary)
	blocks = append(blocks, slack.NewActionBlock("ticket_panel", button))
	if panel.Footer != "" {
		blocks = append(blocks, slack.NewContextBlock("", slack.NewTextBlockObject(slack.PlainTextType, panel.Footer, false, false)))
	}
	return slack.Attachment{
		Color:    fmt.Sprintf("#%06x", panel.Color),
		Fallback: panel.Title,
		Blocks:   slack.Blocks{BlockSet: blocks},
	}
}

func mentionText(msg platform.Message) string {
	var parts []string
	for _, r := range msg.MentionRoles {
		parts = append(parts, "<!subteam^"+r+">")
	}
	for _, u := range msg.Mentions {
		parts = append(parts, "<@"+u+">")
	}
	return strings.Join(parts, " ")
}

func historyMessage(m slack.Message) platform.HistoryMessage {
	author := m.User
	if author == "" {
		author = m.BotID
	}
	name := m.Username
	if name == "" {
		name = author
	}
	hm := platform.HistoryMessage{
		ID:         m.Timestamp,
		AuthorID:   author,
		AuthorName: name,
		Content:    m.Text,
		Embeds:     len(m.Attachments),
		Bot:        m.BotID != "",
		CreatedAt:  parseTimestamp(m.Timestamp),
	}
	for _, f := range m.Files {
		ref := f.URLPrivate
		if ref == "" {
			ref = f.Name
		}
		hm.Attachments = append(hm.Attachments, ref)
	}
	return hm
}

// parseTimestamp converts a Slack "seconds.micros" ts into UTC time.
func parseTimestamp(ts string) time.Time {
	secs, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micros int64
	if frac != "" {
		if len(frac) > 6 {
			frac = frac[:6]
		}
		frac += strings.Repeat("0", 6-len(frac))
		micros, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, micros*int64(time.Microsecond)).UTC()
}

// channelName lowercases and restricts a name to Slack's channel charset.
func channelName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := b.String()
	if len(out) > 80 {
		out = out[:80]
	}
	return out
}

func dedupe(ids []string, skip string) []string {
	seen := map[string]bool{skip: true, "": true}
	var out []string
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

var goneErrors = []string{"channel_not_found", "already_archived", "is_archived", "not_in_channel"}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if isSlackError(err, goneErrors...) {
		return fmt.Errorf("%w: %v", platform.ErrChannelGone, err)
	}
	return err
}

func isSlackError(err error, codes ...string) bool {
	if err == nil {
		return false
	}
	code := err.Error()
	var resp slack.SlackErrorResponse
	if errors.As(err, &resp) {
		code = resp.Err
	}
	for _, c := range codes {
		if code == c {
			return true
		}
	}
	return false
}
