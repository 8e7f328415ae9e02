package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticketbot/internal/domain"
	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

func TestPublishPanel(t *testing.T) {
	h := newHarness(t)
	h.platform.AddCategory("C-HELP")
	h.set(t, domain.KeyPanelTitle, "Help Desk")
	h.set(t, domain.KeyPanelColor, "#112233")

	_, err := h.svc.PublishPanel(h.ctx, guild, staff, "C-HELP")
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	_, err = h.svc.PublishPanel(h.ctx, guild, admin, "C-NOWHERE")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Empty(t, h.platform.Panels())

	settings, err := h.svc.PublishPanel(h.ctx, guild, admin, "C-HELP")
	require.NoError(t, err)

	panels := h.platform.Panels()
	require.Len(t, panels, 1)
	assert.Equal(t, "C-HELP", panels[0].ChannelID)
	assert.Equal(t, "Help Desk", panels[0].Panel.Title)
	assert.Equal(t, 0x112233, panels[0].Panel.Color)
	assert.Equal(t, panelFooter, panels[0].Panel.Footer)

	assert.Equal(t, "C-HELP", settings.PanelChannel)
	assert.Equal(t, panels[0].MessageID, settings.PanelMessage)

	stored, err := h.registry.Get(h.ctx, guild)
	require.NoError(t, err)
	assert.Equal(t, panels[0].MessageID, stored.PanelMessage)
}

func TestReasonRequired(t *testing.T) {
	h := newHarness(t)
	required, err := h.svc.ReasonRequired(h.ctx, guild)
	require.NoError(t, err)
	assert.False(t, required)

	h.set(t, domain.KeyRequireReason, "true")
	required, err = h.svc.ReasonRequired(h.ctx, guild)
	require.NoError(t, err)
	assert.True(t, required)
}
