// Package session issues and verifies the signed tokens clients present to
// the account API and the realtime endpoint.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovaphlow/pitchfork/service-chat-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-chat-go/pkg/utilities"
)

// DefaultTTL is the token lifetime.
const DefaultTTL = 7 * 24 * time.Hour

// AccountLookup re-checks the token subject against the durable store.
type AccountLookup interface {
	IsVerified(ctx context.Context, username string) (bool, error)
}

// Claims carried by a session token.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Token is a signed session token and its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Service signs HS256 session tokens with a process-wide secret. Tokens are
// stateless; a token stops verifying once it expires or its account is gone.
type Service struct {
	secret   []byte
	ttl      time.Duration
	accounts AccountLookup
	nowFn    func() time.Time
}

func NewService(secret string, ttl time.Duration, accounts AccountLookup) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{secret: []byte(secret), ttl: ttl, accounts: accounts, nowFn: time.Now}
}

// Issue signs a token for username expiring ttl from now.
func (s *Service) Issue(username string) (Token, error) {
	now := s.nowFn()
	exp := now.Add(s.ttl)
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ID:        utilities.NewKSUID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, apperr.Wrap(apperr.Internal, "sign token", err)
	}
	return Token{Value: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Parse checks signature and expiry only.
func (s *Service) Parse(token string) (*Claims, error) {
	if token == "" {
		return nil, apperr.New(apperr.Unauthorized, "access token is missing")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.nowFn),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, apperr.Wrap(apperr.Expired, "token has expired", err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, apperr.Wrap(apperr.Malformed, "malformed token", err)
	default:
		return nil, apperr.Wrap(apperr.Unauthorized, "invalid token", err)
	}
	if claims.Username == "" {
		return nil, apperr.New(apperr.Malformed, "invalid token: no username found")
	}
	return claims, nil
}

// Verify returns the username a token was issued to. The account must still
// exist and be verified.
func (s *Service) Verify(ctx context.Context, token string) (string, error) {
	claims, err := s.Parse(token)
	if err != nil {
		return "", err
	}
	ok, err := s.accounts.IsVerified(ctx, claims.Username)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.New(apperr.Unauthorized, "user not found")
	}
	return claims.Username, nil
}
