package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticketbot/internal/auth"
	"github.com/spec-kit/ticketbot/internal/domain"
)

func TestRenderSettings(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	settings := domain.DefaultSettings()
	settings.MaxTickets = 5
	renderSettings(cmd, settings)

	text := out.String()
	assert.Contains(t, text, "max_tickets")
	assert.Contains(t, text, "5")
	assert.Contains(t, text, "(not set)")
}

func TestTokenIssue(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
	var out, errOut bytes.Buffer
	cmd := tokenIssueCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"--actor", "U1", "--community", "T1", "--role", "S-support"})
	require.NoError(t, cmd.Execute())

	claims, err := auth.NewTokenManager("test-secret", 60).ParseToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "U1", claims.ActorID())
	assert.Equal(t, "T1", claims.CommunityID)
	assert.Equal(t, []string{"S-support"}, claims.Roles)
	assert.Contains(t, errOut.String(), "expires at")
}

func TestSweepRejectsUnknownKind(t *testing.T) {
	cmd := sweepCmd()
	cmd.SetArgs([]string{"everything"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}
