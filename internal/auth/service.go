// Package auth issues and verifies the bearer tokens that identify card owners.
package auth

import (
	"fmt"
	"time"

	"github.com/cardledger/cardledger/internal/clock"
	"github.com/cardledger/cardledger/internal/domain"
)

// Service signs and verifies HS256 access tokens.
type Service struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

// NewService builds a token service.
func NewService(secret string, ttl time.Duration, clk clock.Clock) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{secret: []byte(secret), ttl: ttl, clock: clk}
}

// Token is an issued access token.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Issue signs a token for userID.
func (s *Service) Issue(userID int64) (Token, error) {
	if userID <= 0 {
		return Token{}, fmt.Errorf("%w: user id must be positive", domain.ErrInvalidData)
	}
	now := s.clock.Now()
	signed, err := signHS256(userID, s.secret, now, now.Add(s.ttl))
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{AccessToken: signed, TokenType: "Bearer", ExpiresIn: int64(s.ttl.Seconds())}, nil
}

// Verify returns the user id carried by token or domain.ErrUnauthorized.
func (s *Service) Verify(token string) (int64, error) {
	userID, err := parseHS256(token, s.secret, s.clock.Now)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	return userID, nil
}
