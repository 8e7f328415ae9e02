package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/events"
)

func TestLogLine(t *testing.T) {
	at := time.Now()
	cases := []struct {
		event events.Event
		want  string
	}{
		{events.New(events.EventTicketCreated, 3, guild, "C1", "U1", at, nil), "🎫 Ticket #3 created by <@U1>"},
		{events.New(events.EventTicketClosed, 3, guild, "C1", domain.SystemActorID, at,
			map[string]any{"reason": events.CloseReasonStale}), "🔒 Ticket #3 auto-closed due to inactivity"},
		{events.New(events.EventTicketClosed, 3, guild, "C1", "U2", at,
			map[string]any{"reason": events.CloseReasonForced}), "🔒 Ticket #3 force closed by <@U2>"},
		{events.New(events.EventTicketMemberAdded, 3, guild, "C1", "U2", at,
			map[string]any{"user_id": "U9"}), "👤 <@U9> added to ticket #3 by <@U2>"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, logLine(tc.event))
	}
}

func TestNotificationService_RecordsHistoryForEveryTransition(t *testing.T) {
	h := newHarness(t)
	tk := h.open(t, alice)

	_, err := h.svc.Claim(h.ctx, guild, tk.ChannelID, staff)
	assert.NoError(t, err)
	_, err = h.svc.Unclaim(h.ctx, guild, tk.ChannelID, staff)
	assert.NoError(t, err)
	_, err = h.svc.RequestClose(h.ctx, guild, tk.ChannelID, alice)
	assert.NoError(t, err)

	history, err := h.store.History.ListByTicket(h.ctx, tk.ID)
	assert.NoError(t, err)
	var actions []domain.TicketAction
	for _, e := range history {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []domain.TicketAction{
		domain.ActionCreated, domain.ActionClaimed, domain.ActionUnclaimed, domain.ActionCloseRequested,
	}, actions)
	assert.Equal(t, staff.ID, history[1].ActorID)
}
