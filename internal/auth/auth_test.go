package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/platform"
	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	token, exp, err := tm.GenerateToken("U1", "T1", []string{"S-support"}, true)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), exp, time.Second)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "U1", claims.ActorID())
	assert.Equal(t, "T1", claims.CommunityID)
	assert.Equal(t, []string{"S-support"}, claims.Roles)
	assert.True(t, claims.Admin)
}

func TestParseTokenRejects(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	token, _, err := tm.GenerateToken("U1", "T1", nil, false)
	require.NoError(t, err)

	_, err = NewTokenManager("other", 5).ParseToken(token)
	assert.Error(t, err)

	expired := NewTokenManager("secret", 5)
	expired.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = expired.ParseToken(token)
	assert.Error(t, err)

	_, _, err = tm.GenerateToken("", "T1", nil, false)
	assert.Error(t, err)
}

type stubResolver struct {
	actor domain.Actor
	err   error
}

func (s stubResolver) ResolveMember(context.Context, string, string) (domain.Actor, error) {
	return s.actor, s.err
}

func newApp(resolver MemberResolver) (*fiber.App, *TokenManager) {
	tm := NewTokenManager("secret", 5)
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(apperrors.ToDomainError(err).HTTPStatus).SendString(apperrors.CodeOf(err))
		},
	})
	mw := NewAuthMiddleware(tm, resolver, zap.NewNop())
	app.Get("/me", mw.Handle, func(c *fiber.Ctx) error {
		p, ok := PrincipalFromContext(c)
		if !ok {
			return errors.New("no principal")
		}
		return c.JSON(fiber.Map{"community": p.CommunityID, "actor": p.Actor.ID, "admin": p.Actor.Administrator})
	})
	return app, tm
}

func TestMiddleware(t *testing.T) {
	t.Run("missing header", func(t *testing.T) {
		app, _ := newApp(nil)
		resp, err := app.Test(httptest.NewRequest("GET", "/me", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("claims only", func(t *testing.T) {
		app, tm := newApp(nil)
		token, _, _ := tm.GenerateToken("U1", "T1", nil, true)
		req := httptest.NewRequest("GET", "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	t.Run("resolver overrides claims", func(t *testing.T) {
		app, tm := newApp(stubResolver{actor: domain.Actor{ID: "U1"}})
		token, _, _ := tm.GenerateToken("U1", "T1", nil, true)
		req := httptest.NewRequest("GET", "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	t.Run("unknown member", func(t *testing.T) {
		app, tm := newApp(stubResolver{err: platform.ErrUnknownMember})
		token, _, _ := tm.GenerateToken("U1", "T1", nil, false)
		req := httptest.NewRequest("GET", "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})
}
