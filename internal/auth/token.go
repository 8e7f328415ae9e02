package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// TokenManager handles issuing and validating gateway JWT tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, ttlMinutes int) *TokenManager {
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	return &TokenManager{secret: []byte(secret), ttl: time.Duration(ttlMinutes) * time.Minute, now: time.Now}
}

// Claims describes the JWT payload. The subject is the platform user id the
// token acts as. Roles and Admin are only trusted when no platform client is
// available to resolve the member.
type Claims struct {
	CommunityID string   `json:"community"`
	Roles       []string `json:"roles,omitempty"`
	Admin       bool     `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// ActorID returns the subject claim.
func (c *Claims) ActorID() string {
	return c.Subject
}

// GenerateToken builds and signs a JWT acting as actorID within communityID.
func (tm *TokenManager) GenerateToken(actorID, communityID string, roles []string, admin bool) (string, time.Time, error) {
	if actorID == "" || communityID == "" {
		return "", time.Time{}, errors.New("actor and community are required")
	}
	now := tm.now()
	expiresAt := now.Add(tm.ttl)
	claims := &Claims{
		CommunityID: communityID,
		Roles:       roles,
		Admin:       admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ParseToken validates and returns claims.
func (tm *TokenManager) ParseToken(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	}, jwt.WithTimeFunc(tm.now))
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Subject == "" || claims.CommunityID == "" {
		return nil, errors.New("token missing subject or community")
	}
	return claims, nil
}
