package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/platform"
)

func sampleTicket() *domain.Ticket {
	claimant := "U-staff"
	return &domain.Ticket{
		ID:        17,
		CreatorID: "U-alice",
		ClaimedBy: &claimant,
		Status:    domain.TicketStatusOpen,
		Reason:    "printer on fire",
		CreatedAt: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestRender(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	history := []platform.HistoryMessage{
		{AuthorName: "alice", Content: "help", CreatedAt: at},
		{AuthorName: "bob", Content: "see attached", Attachments: []string{"a.png", "b.log"}, Embeds: 2, CreatedAt: at.Add(time.Minute)},
		{AuthorID: "U-x", Content: "", CreatedAt: at.Add(2 * time.Minute)},
	}

	out := Render(sampleTicket(), history, at.Add(time.Hour))
	lines := strings.Split(out, "\n")

	assert.Equal(t, rule, lines[0])
	assert.Equal(t, "TICKET TRANSCRIPT - #17", lines[1])
	assert.Contains(t, out, "Created by: U-alice\n")
	assert.Contains(t, out, "Claimed by: U-staff\n")
	assert.Contains(t, out, "Status: open\n")
	assert.Contains(t, out, "Reason: printer on fire\n")
	assert.Contains(t, out, "[2024-05-01 10:00:00] alice: help\n")
	assert.Contains(t, out, "[2024-05-01 10:01:00] bob: see attached [Attachments: a.png, b.log] [Embeds: 2]\n")
	assert.Contains(t, out, "[2024-05-01 10:02:00] U-x: \n")
	assert.Contains(t, out, "Transcript generated at: 2024-05-01T11:00:00Z\n")
	assert.Contains(t, out, "Total messages: 3\n")
	assert.Equal(t, rule, lines[len(lines)-1])
}

func TestRender_UnclaimedEmptyHistory(t *testing.T) {
	tk := sampleTicket()
	tk.ClaimedBy = nil
	out := Render(tk, nil, time.Now())
	assert.NotContains(t, out, "Claimed by")
	assert.Contains(t, out, "Total messages: 0")
}

func TestStore_WriteIsDeterministicAndOverwrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "transcripts")
	s := NewStore(dir)

	path, err := s.Write(5, "first")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ticket-5.txt"), path)

	path2, err := s.Write(5, "second")
	require.NoError(t, err)
	assert.Equal(t, path, path2)

	got, err := s.Read(5)
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(filePerms), info.Mode().Perm())
}
