package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_DeliversToEveryHandler(t *testing.T) {
	d := NewInMemoryDispatcher()
	var got []string

	d.Subscribe(EventTicketClaimed, func(_ context.Context, e Event) error {
		got = append(got, "first:"+e.ActorID)
		return errors.New("boom")
	})
	d.Subscribe(EventTicketClaimed, func(_ context.Context, e Event) error {
		got = append(got, "second:"+e.ActorID)
		return nil
	})
	d.Subscribe(EventTicketClosed, func(context.Context, Event) error {
		t.Fatal("unrelated handler invoked")
		return nil
	})

	err := d.Publish(context.Background(), New(EventTicketClaimed, 1, "g1", "C1", "s1", time.Now(), nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{"first:s1", "second:s1"}, got)
}

func TestSubscribeAll(t *testing.T) {
	d := NewInMemoryDispatcher()
	seen := map[EventType]int{}
	SubscribeAll(d, func(_ context.Context, e Event) error {
		seen[e.Type]++
		return nil
	})
	for _, et := range AllEventTypes {
		require.NoError(t, d.Publish(context.Background(), New(et, 1, "g1", "C1", "u1", time.Now(), nil)))
	}
	assert.Len(t, seen, len(AllEventTypes))
}
