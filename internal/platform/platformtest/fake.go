// Package platformtest provides an in-memory platform.Client for tests.
package platformtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/platform"
)

// Channel is the fake's view of one channel.
type Channel struct {
	ID         string
	Name       string
	CategoryID string
	Members    map[string]bool
	StaffRoles []string
	Archived   bool
	Deleted    bool
}

// Sent records one message or file delivery.
type Sent struct {
	ChannelID string
	Message   platform.Message
	Filename  string
	Content   []byte
}

// PostedPanel records one panel delivery.
type PostedPanel struct {
	ChannelID string
	MessageID string
	Panel     platform.Panel
}

// Fake implements platform.Client in memory. Zero value is not usable; call New.
type Fake struct {
	mu       sync.Mutex
	seq      int
	channels map[string]*Channel
	members  map[string]domain.Actor
	history  map[string][]platform.HistoryMessage
	sent     []Sent
	panels   []PostedPanel

	// FailCreate makes CreateTicketChannel fail.
	FailCreate error
	// FailSend makes Send and SendFile fail.
	FailSend error
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		channels: map[string]*Channel{},
		members:  map[string]domain.Actor{},
		history:  map[string][]platform.HistoryMessage{},
	}
}

// AddMember registers a resolvable member.
func (f *Fake) AddMember(a domain.Actor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[a.ID] = a
}

// AddCategory registers an existing category or plain channel id.
func (f *Fake) AddCategory(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[id] = &Channel{ID: id, Name: id, Members: map[string]bool{}}
}

// AppendHistory adds a message to a channel's history.
func (f *Fake) AppendHistory(channelID string, m platform.HistoryMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[channelID] = append(f.history[channelID], m)
}

// Channel returns a copy of a channel's state.
func (f *Fake) Channel(id string) (Channel, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[id]
	if !ok {
		return Channel{}, false
	}
	cp := *ch
	cp.Members = map[string]bool{}
	for k, v := range ch.Members {
		cp.Members[k] = v
	}
	return cp, true
}

// Sent returns every delivery in order.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// SentTo returns deliveries to one channel.
func (f *Fake) SentTo(channelID string) []Sent {
	var out []Sent
	for _, s := range f.Sent() {
		if s.ChannelID == channelID {
			out = append(out, s)
		}
	}
	return out
}

// Channels lists live channel ids created by the fake, sorted.
func (f *Fake) Channels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, ch := range f.channels {
		if !ch.Deleted && ch.CategoryID != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (f *Fake) ChannelExists(_ context.Context, _, channelID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	return ok && !ch.Deleted, nil
}

func (f *Fake) CreateTicketChannel(_ context.Context, spec platform.ChannelSpec) (platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreate != nil {
		return platform.Channel{}, f.FailCreate
	}
	f.seq++
	id := fmt.Sprintf("C%04d", f.seq)
	members := map[string]bool{}
	for _, m := range spec.Members {
		members[m] = true
	}
	f.channels[id] = &Channel{
		ID:         id,
		Name:       spec.Name,
		CategoryID: spec.CategoryID,
		Members:    members,
		StaffRoles: append([]string(nil), spec.StaffRoles...),
	}
	return platform.Channel{ID: id, Name: spec.Name}, nil
}

func (f *Fake) MoveToArchive(_ context.Context, _, channelID, archiveCategoryID, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok || ch.Deleted || ch.Archived {
		return platform.ErrChannelGone
	}
	ch.Name = newName
	ch.CategoryID = archiveCategoryID
	ch.Archived = true
	ch.Members = map[string]bool{}
	return nil
}

func (f *Fake) DeleteChannel(_ context.Context, _, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok || ch.Deleted {
		return platform.ErrChannelGone
	}
	ch.Deleted = true
	return nil
}

func (f *Fake) Send(_ context.Context, channelID string, msg platform.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSend != nil {
		return f.FailSend
	}
	f.sent = append(f.sent, Sent{ChannelID: channelID, Message: msg})
	return nil
}

func (f *Fake) PostPanel(_ context.Context, channelID string, panel platform.Panel) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSend != nil {
		return "", f.FailSend
	}
	f.seq++
	id := fmt.Sprintf("1700000000.%06d", f.seq)
	f.panels = append(f.panels, PostedPanel{ChannelID: channelID, MessageID: id, Panel: panel})
	return id, nil
}

// Panels returns every posted panel in order.
func (f *Fake) Panels() []PostedPanel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PostedPanel(nil), f.panels...)
}

func (f *Fake) SendFile(_ context.Context, channelID, filename string, content []byte, msg platform.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSend != nil {
		return f.FailSend
	}
	f.sent = append(f.sent, Sent{ChannelID: channelID, Message: msg, Filename: filename, Content: append([]byte(nil), content...)})
	return nil
}

func (f *Fake) History(_ context.Context, channelID string) ([]platform.HistoryMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if ok && ch.Deleted {
		return nil, platform.ErrChannelGone
	}
	return append([]platform.HistoryMessage(nil), f.history[channelID]...), nil
}

func (f *Fake) ResolveMember(_ context.Context, _, userID string) (domain.Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.members[userID]
	if !ok {
		return domain.Actor{}, platform.ErrUnknownMember
	}
	return a, nil
}

func (f *Fake) SetMemberAccess(_ context.Context, _, channelID, userID string, allowed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok || ch.Deleted {
		return platform.ErrChannelGone
	}
	if allowed {
		ch.Members[userID] = true
	} else {
		delete(ch.Members, userID)
	}
	return nil
}

// Message builds a history message for tests.
func Message(author, content string, at time.Time) platform.HistoryMessage {
	return platform.HistoryMessage{AuthorID: author, AuthorName: author, Content: content, CreatedAt: at}
}

var _ platform.Client = (*Fake)(nil)

// ErrBoom is a generic injected failure.
var ErrBoom = errors.New("platformtest: injected failure")
