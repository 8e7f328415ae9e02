// Package repotest holds the behavioral contract every ticket store backend
// must satisfy. Backends call Run from their own tests.
package repotest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/repository"
)

// Base is the reference instant used by the contract.
var Base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the contract. newStore must return an empty, migrated store.
func Run(t *testing.T, newStore func(t *testing.T) repository.Store) {
	t.Run("CreateAndRead", func(t *testing.T) { testCreateAndRead(t, newStore(t)) })
	t.Run("LimitAndReopen", func(t *testing.T) { testLimitAndReopen(t, newStore(t)) })
	t.Run("ConcurrentCreateRespectsLimit", func(t *testing.T) { testConcurrentCreate(t, newStore(t)) })
	t.Run("ClaimCompareAndSwap", func(t *testing.T) { testClaim(t, newStore(t)) })
	t.Run("WarningFlag", func(t *testing.T) { testWarningFlag(t, newStore(t)) })
	t.Run("SweepSelection", func(t *testing.T) { testSweepSelection(t, newStore(t)) })
	t.Run("CloseIsTerminal", func(t *testing.T) { testCloseIsTerminal(t, newStore(t)) })
	t.Run("CloseIdleRespectsReply", func(t *testing.T) { testCloseIdle(t, newStore(t)) })
	t.Run("RequestClose", func(t *testing.T) { testRequestClose(t, newStore(t)) })
	t.Run("DiscardPending", func(t *testing.T) { testDiscard(t, newStore(t)) })
	t.Run("ConfigMerge", func(t *testing.T) { testConfig(t, newStore(t)) })
	t.Run("History", func(t *testing.T) { testHistory(t, newStore(t)) })
	t.Run("ListCommunities", func(t *testing.T) { testListCommunities(t, newStore(t)) })
}

// Open creates an open ticket bound to channel.
func Open(t *testing.T, store repository.Store, community, creator, channel string, at time.Time) *domain.Ticket {
	t.Helper()
	ctx := context.Background()
	tk, err := store.Tickets.Create(ctx, domain.NewTicket{
		CommunityID: community,
		CreatorID:   creator,
		Reason:      "help",
		CreatedAt:   at,
		MaxOpen:     10,
	})
	require.NoError(t, err)
	require.NoError(t, store.Tickets.AttachChannel(ctx, tk.ID, channel, "ticket-"+channel))
	tk, err = store.Tickets.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	return tk
}

func testCreateAndRead(t *testing.T, store repository.Store) {
	ctx := context.Background()

	tk, err := store.Tickets.Create(ctx, domain.NewTicket{
		CommunityID: "g1", CreatorID: "u1", Reason: "printer on fire", CreatedAt: Base, MaxOpen: 3,
	})
	require.NoError(t, err)
	assert.Positive(t, tk.ID)
	assert.Equal(t, domain.TicketStatusOpen, tk.Status)
	assert.Equal(t, domain.TicketStateOpenUnclaimed, tk.State())
	assert.True(t, Base.Equal(tk.CreatedAt))
	assert.True(t, Base.Equal(tk.LastUserResponse))
	assert.Empty(t, tk.ChannelID)
	assert.Nil(t, tk.ClosedAt)
	assert.False(t, tk.CloseRequested)
	assert.False(t, tk.InactivityWarningSent)

	require.NoError(t, store.Tickets.AttachChannel(ctx, tk.ID, "C1", "ticket-1"))

	byChannel, err := store.Tickets.GetOpenByChannel(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, tk.ID, byChannel.ID)
	assert.Equal(t, "ticket-1", byChannel.ChannelName)
	assert.Equal(t, "printer on fire", byChannel.Reason)

	_, err = store.Tickets.GetOpenByChannel(ctx, "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = store.Tickets.GetByID(ctx, tk.ID+1000)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	mine, err := store.Tickets.ListOpenByCreator(ctx, "g1", "u1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	others, err := store.Tickets.ListOpenByCreator(ctx, "g2", "u1")
	require.NoError(t, err)
	assert.Empty(t, others)
}

func testLimitAndReopen(t *testing.T, store repository.Store) {
	ctx := context.Background()
	nt := domain.NewTicket{CommunityID: "g1", CreatorID: "u1", CreatedAt: Base, MaxOpen: 1}

	first, err := store.Tickets.Create(ctx, nt)
	require.NoError(t, err)
	require.NoError(t, store.Tickets.AttachChannel(ctx, first.ID, "C1", "ticket-1"))

	_, err = store.Tickets.Create(ctx, nt)
	assert.ErrorIs(t, err, repository.ErrLimitExceeded)

	// another user is unaffected
	other := nt
	other.CreatorID = "u2"
	_, err = store.Tickets.Create(ctx, other)
	require.NoError(t, err)

	ok, err := store.Tickets.Close(ctx, first.ID, "staff", Base.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	second, err := store.Tickets.Create(ctx, nt)
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)
}

func testConcurrentCreate(t *testing.T, store repository.Store) {
	ctx := context.Background()
	const attempts, limit = 12, 3

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		rejected int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Tickets.Create(ctx, domain.NewTicket{
				CommunityID: "g1", CreatorID: "u1", CreatedAt: Base, MaxOpen: limit,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else if assert.ErrorIs(t, err, repository.ErrLimitExceeded) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, created)
	assert.Equal(t, attempts-limit, rejected)
	open, err := store.Tickets.ListOpenByCreator(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.Len(t, open, limit)
}

func testClaim(t *testing.T, store repository.Store) {
	ctx := context.Background()
	Open(t, store, "g1", "u1", "C1", Base)

	ok, err := store.Tickets.Claim(ctx, "C1", "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Tickets.Claim(ctx, "C1", "s2")
	require.NoError(t, err)
	assert.False(t, ok, "second claim must not overwrite")

	tk, err := store.Tickets.GetOpenByChannel(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "s1", tk.Claimant())
	assert.Equal(t, domain.TicketStateOpenClaimed, tk.State())

	ok, err = store.Tickets.Unclaim(ctx, "C1", "s2")
	require.NoError(t, err)
	assert.False(t, ok, "unclaim with wrong expected claimant")

	ok, err = store.Tickets.Unclaim(ctx, "C1", "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	tk, err = store.Tickets.GetOpenByChannel(ctx, "C1")
	require.NoError(t, err)
	assert.Nil(t, tk.ClaimedBy)
	assert.Equal(t, domain.TicketStateOpenUnclaimed, tk.State())

	ok, err = store.Tickets.Claim(ctx, "missing", "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testWarningFlag(t *testing.T, store repository.Store) {
	ctx := context.Background()
	Open(t, store, "g1", "u1", "C1", Base)

	// cutoff before the last response: the ticket is not yet inactive
	ok, err := store.Tickets.MarkWarned(ctx, "C1", Base.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Tickets.MarkWarned(ctx, "C1", Base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Tickets.MarkWarned(ctx, "C1", Base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "warning is sent at most once per silence")

	ok, err = store.Tickets.TouchResponse(ctx, "C1", Base.Add(40*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	tk, err := store.Tickets.GetOpenByChannel(ctx, "C1")
	require.NoError(t, err)
	assert.False(t, tk.InactivityWarningSent)
	assert.True(t, Base.Add(40*time.Minute).Equal(tk.LastUserResponse))

	// repeated messages keep the flag false
	_, err = store.Tickets.TouchResponse(ctx, "C1", Base.Add(41*time.Minute))
	require.NoError(t, err)
	tk, err = store.Tickets.GetOpenByChannel(ctx, "C1")
	require.NoError(t, err)
	assert.False(t, tk.InactivityWarningSent)

	// an out-of-order timestamp never moves the response time backwards
	_, err = store.Tickets.TouchResponse(ctx, "C1", Base)
	require.NoError(t, err)
	tk, err = store.Tickets.GetOpenByChannel(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, Base.Add(41*time.Minute).Equal(tk.LastUserResponse))
}

func testSweepSelection(t *testing.T, store repository.Store) {
	ctx := context.Background()
	old := Open(t, store, "g1", "u1", "C1", Base)
	fresh := Open(t, store, "g1", "u2", "C2", Base.Add(50*time.Minute))
	Open(t, store, "g2", "u3", "C3", Base)

	// pending tickets without a channel are never swept
	_, err := store.Tickets.Create(ctx, domain.NewTicket{CommunityID: "g1", CreatorID: "u4", CreatedAt: Base, MaxOpen: 1})
	require.NoError(t, err)

	cutoff := Base.Add(30 * time.Minute)
	inactive, err := store.Tickets.ListInactive(ctx, "g1", cutoff)
	require.NoError(t, err)
	require.Len(t, inactive, 1)
	assert.Equal(t, old.ID, inactive[0].ID)

	_, err = store.Tickets.MarkWarned(ctx, "C1", cutoff)
	require.NoError(t, err)
	inactive, err = store.Tickets.ListInactive(ctx, "g1", cutoff)
	require.NoError(t, err)
	assert.Empty(t, inactive, "warned tickets are excluded")

	stale, err := store.Tickets.ListStale(ctx, "g1", Base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, old.ID, stale[0].ID)
	assert.Equal(t, fresh.ID, stale[1].ID)

	stale, err = store.Tickets.ListStale(ctx, "g1", Base.Add(10*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
}

func testCloseIdle(t *testing.T, store repository.Store) {
	ctx := context.Background()
	tk := Open(t, store, "g1", "u1", "C1", Base)
	now := Base.Add(25 * time.Hour)
	cutoff := now.Add(-24 * time.Hour)

	ok, err := store.Tickets.TouchResponse(ctx, "C1", now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Tickets.CloseIdle(ctx, tk.ID, "system", now, cutoff)
	require.NoError(t, err)
	assert.False(t, ok, "a reply newer than the cutoff keeps the ticket open")

	got, err := store.Tickets.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOpen())

	later := now.Add(25 * time.Hour)
	ok, err = store.Tickets.CloseIdle(ctx, tk.ID, "system", later, later.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = store.Tickets.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, got.Status)
	assert.Equal(t, "system", *got.ClosedBy)
}

func testCloseIsTerminal(t *testing.T, store repository.Store) {
	ctx := context.Background()
	tk := Open(t, store, "g1", "u1", "C1", Base)
	closedAt := Base.Add(25 * time.Hour)

	ok, err := store.Tickets.Close(ctx, tk.ID, "s1", closedAt)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Tickets.Close(ctx, tk.ID, "system", closedAt.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok, "second close affects no rows")

	got, err := store.Tickets.GetByChannel(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, got.Status)
	require.NotNil(t, got.ClosedAt)
	assert.True(t, closedAt.Equal(*got.ClosedAt))
	require.NotNil(t, got.ClosedBy)
	assert.Equal(t, "s1", *got.ClosedBy)

	_, err = store.Tickets.GetOpenByChannel(ctx, "C1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = store.Tickets.GetOpenByID(ctx, tk.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	for name, mutate := range map[string]func() (bool, error){
		"claim":         func() (bool, error) { return store.Tickets.Claim(ctx, "C1", "s1") },
		"touch":         func() (bool, error) { return store.Tickets.TouchResponse(ctx, "C1", closedAt.Add(time.Hour)) },
		"warn":          func() (bool, error) { return store.Tickets.MarkWarned(ctx, "C1", closedAt.Add(time.Hour)) },
		"request-close": func() (bool, error) { return store.Tickets.RequestClose(ctx, "C1") },
	} {
		ok, err := mutate()
		require.NoError(t, err, name)
		assert.False(t, ok, name)
	}

	stale, err := store.Tickets.ListStale(ctx, "g1", closedAt.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)

	require.NoError(t, store.Tickets.AttachTranscript(ctx, tk.ID, "transcripts/ticket-1.txt"))
	got, err = store.Tickets.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	require.NotNil(t, got.TranscriptPath)
	assert.Equal(t, "transcripts/ticket-1.txt", *got.TranscriptPath)

	// the channel id may be reused by a new open ticket
	again := Open(t, store, "g1", "u1", "C1", closedAt)
	latest, err := store.Tickets.GetByChannel(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, again.ID, latest.ID)
}

func testRequestClose(t *testing.T, store repository.Store) {
	ctx := context.Background()
	Open(t, store, "g1", "u1", "C1", Base)

	ok, err := store.Tickets.RequestClose(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Tickets.RequestClose(ctx, "C1")
	require.NoError(t, err)
	assert.False(t, ok)

	tk, err := store.Tickets.GetOpenByChannel(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, tk.CloseRequested)

	// the flag survives renewed activity
	_, err = store.Tickets.TouchResponse(ctx, "C1", Base.Add(time.Minute))
	require.NoError(t, err)
	tk, err = store.Tickets.GetOpenByChannel(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, tk.CloseRequested)
}

func testDiscard(t *testing.T, store repository.Store) {
	ctx := context.Background()
	tk, err := store.Tickets.Create(ctx, domain.NewTicket{CommunityID: "g1", CreatorID: "u1", CreatedAt: Base, MaxOpen: 1})
	require.NoError(t, err)

	require.NoError(t, store.Tickets.Discard(ctx, tk.ID))
	_, err = store.Tickets.GetByID(ctx, tk.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	next, err := store.Tickets.Create(ctx, domain.NewTicket{CommunityID: "g1", CreatorID: "u1", CreatedAt: Base, MaxOpen: 1})
	require.NoError(t, err)
	assert.Greater(t, next.ID, tk.ID, "ids are never reused")

	// a ticket with a channel is never discarded
	require.NoError(t, store.Tickets.AttachChannel(ctx, next.ID, "C9", "ticket-9"))
	require.NoError(t, store.Tickets.Discard(ctx, next.ID))
	_, err = store.Tickets.GetByID(ctx, next.ID)
	require.NoError(t, err)
}

func testConfig(t *testing.T, store repository.Store) {
	ctx := context.Background()

	_, found, err := store.Config.Get(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, found)

	blob, err := store.Config.SetKey(ctx, "g1", "max_tickets", json.RawMessage(`1`), Base)
	require.NoError(t, err)
	assert.JSONEq(t, `{"max_tickets":1}`, string(blob))

	blob, err = store.Config.SetKey(ctx, "g1", "ticket_category", json.RawMessage(`"CAT"`), Base)
	require.NoError(t, err)
	assert.JSONEq(t, `{"max_tickets":1,"ticket_category":"CAT"}`, string(blob))

	blob, err = store.Config.SetKey(ctx, "g1", "max_tickets", json.RawMessage(`4`), Base)
	require.NoError(t, err)
	assert.JSONEq(t, `{"max_tickets":4,"ticket_category":"CAT"}`, string(blob))

	stored, found, err := store.Config.Get(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, string(blob), string(stored))
}

func testHistory(t *testing.T, store repository.Store) {
	ctx := context.Background()
	tk := Open(t, store, "g1", "u1", "C1", Base)

	entries := []domain.TicketHistory{
		{TicketID: tk.ID, Action: domain.ActionCreated, ActorID: "u1", CreatedAt: Base},
		{TicketID: tk.ID, Action: domain.ActionClaimed, ActorID: "s1", Details: map[string]any{"channel": "C1"}, CreatedAt: Base.Add(time.Minute)},
	}
	for i := range entries {
		require.NoError(t, store.History.Create(ctx, &entries[i]))
		assert.Positive(t, entries[i].ID)
	}

	got, err := store.History.ListByTicket(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.ActionCreated, got[0].Action)
	assert.Equal(t, domain.ActionClaimed, got[1].Action)
	assert.Equal(t, "C1", got[1].Details["channel"])
}

func testListCommunities(t *testing.T, store repository.Store) {
	ctx := context.Background()
	Open(t, store, "g2", "u1", "C1", Base)
	_, err := store.Config.SetKey(ctx, "g1", "max_tickets", json.RawMessage(`2`), Base)
	require.NoError(t, err)
	closed := Open(t, store, "g3", "u1", "C3", Base)
	_, err = store.Tickets.Close(ctx, closed.ID, "s1", Base)
	require.NoError(t, err)

	ids, err := store.Tickets.ListCommunities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, ids)
}
