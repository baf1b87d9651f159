package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenService mints and verifies channel-access tokens. A token scopes a
// member to one organization's channels for a bounded window; realtime
// subscriptions and the HTTP surface both verify through it.
type TokenService struct {
	secret string
	expiry time.Duration
}

type ChannelClaims struct {
	MemberID  uuid.UUID
	OrgID     uuid.UUID
	SessionID string
}

func NewTokenService(secret string, expiry time.Duration) *TokenService {
	return &TokenService{secret: secret, expiry: expiry}
}

// IssueToken signs a channel-access token for one member of one
// organization. The jti identifies the sync session so tokens are not
// shared across tabs.
func (s *TokenService) IssueToken(memberID, orgID uuid.UUID, sessionID string) (string, time.Time, error) {
	expiresAt := time.Now().Add(s.expiry)
	claims := jwt.MapClaims{
		"sub":    memberID.String(),
		"org_id": orgID.String(),
		"jti":    sessionID,
		"exp":    expiresAt.Unix(),
		"iat":    time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (s *TokenService) VerifyToken(tokenString string) (*ChannelClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.secret), nil
	})

	if err != nil {
		return nil, ErrInvalidToken
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	memberIDStr, ok := claims["sub"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}
	memberID, err := uuid.Parse(memberIDStr)
	if err != nil {
		return nil, ErrInvalidToken
	}

	orgIDStr, ok := claims["org_id"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}
	orgID, err := uuid.Parse(orgIDStr)
	if err != nil {
		return nil, ErrInvalidToken
	}

	sessionID, ok := claims["jti"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}

	return &ChannelClaims{
		MemberID:  memberID,
		OrgID:     orgID,
		SessionID: sessionID,
	}, nil
}
