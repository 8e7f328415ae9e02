package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

func TestSettingsFromJSON_EmptyBlobYieldsDefaults(t *testing.T) {
	s, err := SettingsFromJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
	assert.Equal(t, 30*time.Minute, s.WarnThreshold())
	assert.Equal(t, 24*time.Hour, s.CloseThreshold())
}

func TestSettingsFromJSON_Overlay(t *testing.T) {
	blob := []byte(`{"ticket_category":"C1","max_tickets":1,"support_role":12345,"require_reason":true,"unknown":"x","auto_close_days":99}`)
	s, err := SettingsFromJSON(blob)
	require.NoError(t, err)

	assert.Equal(t, "C1", s.TicketCategory)
	assert.Equal(t, 1, s.MaxTickets)
	assert.Equal(t, "12345", s.SupportRole)
	assert.True(t, s.RequireReason)
	// out-of-range stored values fall back to the default
	assert.Equal(t, 1, s.AutoCloseDays)
	assert.Equal(t, "ticket-", s.TicketPrefix)
}

func TestSettingsFromJSON_Malformed(t *testing.T) {
	s, err := SettingsFromJSON([]byte(`not json`))
	require.Error(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestParseSetting(t *testing.T) {
	tests := []struct {
		key   string
		input string
		want  string
	}{
		{KeyMaxTickets, "5", `5`},
		{KeyAutoCloseMinutes, "1440", `1440`},
		{KeyTicketCategory, "C0123", `"C0123"`},
		{KeyLogChannel, "<#C999|logs>", `"C999"`},
		{KeySupportRole, "<!subteam^S42|support>", `"S42"`},
		{KeyArchiveCategory, "none", `""`},
		{KeyRequireReason, "yes", `true`},
		{KeyPanelColor, "#2ecc71", `3066993`},
		{KeyPanelColor, "0x9b59b6", `10181046`},
		{KeyTicketPrefix, "help-", `"help-"`},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.input, func(t *testing.T) {
			raw, err := ParseSetting(tt.key, tt.input)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))
		})
	}
}

func TestParseSetting_Rejects(t *testing.T) {
	tests := []struct {
		key   string
		input string
	}{
		{"no_such_key", "1"},
		{KeyMaxTickets, "0"},
		{KeyMaxTickets, "11"},
		{KeyMaxTickets, "three"},
		{KeyAutoCloseDays, "31"},
		{KeyWorkStartHour, "24"},
		{KeyWorkEndHour, "-1"},
		{KeyTicketCategory, "has space"},
		{KeyRequireReason, "maybe"},
		{KeyTicketPrefix, ""},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.input, func(t *testing.T) {
			_, err := ParseSetting(tt.key, tt.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrValidation))
		})
	}
}

func TestParsedValueRoundTripsThroughBlob(t *testing.T) {
	raw, err := ParseSetting(KeyWorkStartHour, "8")
	require.NoError(t, err)
	blob, err := json.Marshal(map[string]json.RawMessage{KeyWorkStartHour: raw})
	require.NoError(t, err)

	s, err := SettingsFromJSON(blob)
	require.NoError(t, err)
	assert.Equal(t, 8, s.WorkStartHour)
	v, ok := s.Value(KeyWorkStartHour)
	require.True(t, ok)
	assert.Equal(t, 8, v)
}

func TestOffHours(t *testing.T) {
	tests := []struct {
		name       string
		hour       int
		start, end int
		off        bool
		until      int
	}{
		{"inside day window", 12, 10, 22, false, 0},
		{"at start", 10, 10, 22, false, 0},
		{"at end", 22, 10, 22, true, 12},
		{"early morning", 3, 10, 22, true, 7},
		{"overnight inside late", 23, 20, 6, false, 0},
		{"overnight inside early", 2, 20, 6, false, 0},
		{"overnight outside", 12, 20, 6, true, 8},
		{"always open", 5, 9, 9, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			off, until := OffHours(tt.hour, tt.start, tt.end)
			assert.Equal(t, tt.off, off)
			assert.Equal(t, tt.until, until)
		})
	}
}

func TestCapabilities(t *testing.T) {
	s := DefaultSettings()
	s.SupportRole = "support"
	s.TraineeRole = "trainee"
	s.AdminRole = "admins"

	assert.True(t, IsStaff(Actor{Roles: []string{"trainee"}}, s))
	assert.False(t, IsStaff(Actor{Roles: []string{"admins"}}, s))
	assert.True(t, IsAdmin(Actor{Roles: []string{"admins"}}, s))
	assert.True(t, IsAdmin(Actor{Administrator: true}, s))
	assert.True(t, IsStaffOrAdmin(Actor{Roles: []string{"support"}}, s))
	assert.False(t, IsStaffOrAdmin(Actor{Roles: []string{"member"}}, s))

	// unset roles never match an actor with no roles
	assert.False(t, IsStaff(Actor{}, DefaultSettings()))
}

func TestTicketState(t *testing.T) {
	claimant := "U2"
	tk := &Ticket{Status: TicketStatusOpen}
	assert.Equal(t, TicketStateOpenUnclaimed, tk.State())
	tk.ClaimedBy = &claimant
	assert.Equal(t, TicketStateOpenClaimed, tk.State())
	tk.Status = TicketStatusClosed
	assert.Equal(t, TicketStateClosed, tk.State())
	assert.False(t, tk.IsOpen())
}
