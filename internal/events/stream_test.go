package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewStreamMirror_NilClient(t *testing.T) {
	m := NewStreamMirror(nil, "ticket-events", 100, zap.NewNop())
	assert.Nil(t, m)

	// a nil mirror registers nothing
	d := NewInMemoryDispatcher()
	m.Register(d)
}

func TestStreamValues(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.FixedZone("x", 3600))
	e := New(EventTicketClosed, 42, "T1", "C9", "U1", at, map[string]any{"reason": "done"})

	values, err := streamValues(e)
	require.NoError(t, err)
	assert.Equal(t, "ticket.closed", values["type"])
	assert.Equal(t, "42", values["ticket_id"])
	assert.Equal(t, "T1", values["community_id"])
	assert.Equal(t, "C9", values["channel_id"])
	assert.Equal(t, "U1", values["actor_id"])
	assert.Equal(t, "2026-03-01T11:30:00Z", values["ts"])
	assert.JSONEq(t, `{"reason":"done"}`, values["payload"].(string))
	assert.NotEmpty(t, values["id"])
}
