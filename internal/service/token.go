package service

import (
	"fmt"
	"time"

	"github.com/and161185/grouptalk/internal/errs"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// IssueToken creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) IssueToken(id uuid.UUID) (string, time.Time, error) {
	if len(s.signKey) == 0 {
		return "", time.Time{}, nil
	}
	now := s.now()
	exp := now.Add(s.tokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   id.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}

// ParseToken verifies signature and expiry and returns the subject account id.
func (s *AuthServiceImpl) ParseToken(token string) (uuid.UUID, error) {
	if len(s.signKey) == 0 || token == "" {
		return uuid.Nil, errs.ErrUnauthorized
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.signKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", errs.ErrUnauthorized)
	}
	return id, nil
}
