// Package transcript renders and stores plain-text ticket transcripts.
package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/platform"
)

const (
	rule       = "============================================================"
	timeLayout = "2006-01-02 15:04:05"
	filePerms  = 0o644
)

// Render builds the transcript text for a ticket and its channel history.
// generatedAt is printed in the footer.
func Render(t *domain.Ticket, history []platform.HistoryMessage, generatedAt time.Time) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line(rule)
	line("TICKET TRANSCRIPT - #%d", t.ID)
	line(rule)
	line("Created by: %s", t.CreatorID)
	line("Created at: %s", t.CreatedAt.Format(time.RFC3339))
	if c := t.Claimant(); c != "" {
		line("Claimed by: %s", c)
	}
	line("Status: %s", t.Status)
	line("Reason: %s", t.Reason)
	line(rule)
	b.WriteByte('\n')

	for _, m := range history {
		line("%s", messageLine(m))
	}

	b.WriteByte('\n')
	line(rule)
	line("Transcript generated at: %s", generatedAt.Format(time.RFC3339))
	line("Total messages: %d", len(history))
	b.WriteString(rule)
	return b.String()
}

func messageLine(m platform.HistoryMessage) string {
	author := m.AuthorName
	if author == "" {
		author = m.AuthorID
	}
	s := fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Format(timeLayout), author, m.Content)
	if len(m.Attachments) > 0 {
		s += " [Attachments: " + strings.Join(m.Attachments, ", ") + "]"
	}
	if m.Embeds > 0 {
		s += fmt.Sprintf(" [Embeds: %d]", m.Embeds)
	}
	return s
}

// Store writes transcripts under a directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created on first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the deterministic transcript path for a ticket id.
func (s *Store) Path(ticketID int64) string {
	return filepath.Join(s.dir, Filename(ticketID))
}

// Filename is the base name of a ticket transcript.
func Filename(ticketID int64) string {
	return fmt.Sprintf("ticket-%d.txt", ticketID)
}

// Write atomically replaces the transcript for a ticket and returns its path.
func (s *Store) Write(ticketID int64, content string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create transcript dir: %w", err)
	}
	path := s.Path(ticketID)
	if err := atomic.WriteFile(path, strings.NewReader(content)); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	// atomic.WriteFile leaves new files with the temp file's mode.
	if err := os.Chmod(path, filePerms); err != nil {
		return "", fmt.Errorf("chmod transcript: %w", err)
	}
	return path, nil
}

// Read returns a stored transcript.
func (s *Store) Read(ticketID int64) (string, error) {
	data, err := os.ReadFile(s.Path(ticketID))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
