package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/platform"
	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	CommunityID string
	Actor       domain.Actor
}

// MemberResolver looks up the live roles of a community member.
type MemberResolver interface {
	ResolveMember(ctx context.Context, communityID, userID string) (domain.Actor, error)
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens   *TokenManager
	resolver MemberResolver
	logger   *zap.Logger
}

// NewAuthMiddleware constructs middleware. With a nil resolver the actor is
// built from the token claims alone.
func NewAuthMiddleware(tokens *TokenManager, resolver MemberResolver, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, resolver: resolver, logger: logger}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	actor := domain.Actor{ID: claims.ActorID(), Roles: claims.Roles, Administrator: claims.Admin}
	if m.resolver != nil {
		resolved, err := m.resolver.ResolveMember(c.UserContext(), claims.CommunityID, claims.ActorID())
		if err != nil {
			if errors.Is(err, platform.ErrUnknownMember) {
				return apperrors.NewUnauthorized("member not found")
			}
			m.logger.Warn("resolve member failed", zap.String("actor_id", claims.ActorID()), zap.Error(err))
			return apperrors.NewInternalError(err)
		}
		actor = resolved
	}

	c.Locals(principalKey, &Principal{CommunityID: claims.CommunityID, Actor: actor})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
