// Package service contains application services for accounts, groups and messages.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/and161185/grouptalk/internal/cache"
	pkgcrypto "github.com/and161185/grouptalk/internal/crypto"
	"github.com/and161185/grouptalk/internal/errs"
	"github.com/and161185/grouptalk/internal/limiter"
	"github.com/and161185/grouptalk/internal/model"
	"github.com/and161185/grouptalk/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// AuthService defines registration, login and session-token operations.
type AuthService interface {
	// Register creates a new account with secure password hashing.
	Register(ctx context.Context, name, password string) (*model.Account, error)
	// Login applies rate-limiting, verifies credentials and records the login.
	Login(ctx context.Context, name, password, remoteIP string) (*model.Account, error)
	// Account loads an account by external id.
	Account(ctx context.Context, id uuid.UUID) (*model.Account, error)
	// IssueToken signs a session resume token for the account.
	IssueToken(id uuid.UUID) (string, time.Time, error)
	// ParseToken validates a session resume token and returns its subject.
	ParseToken(token string) (uuid.UUID, error)
	// Resume validates a resume token presented from remoteIP and loads its account.
	Resume(ctx context.Context, token, remoteIP string) (*model.Account, error)
}

type AuthServiceImpl struct {
	accounts repository.AccountRepository
	cache    *cache.Cache
	lim      limiter.Limiter

	signKey  []byte
	tokenTTL time.Duration
	botName  string

	now func() time.Time
}

// AuthConfig carries the tunables of AuthServiceImpl.
type AuthConfig struct {
	SignKey  []byte        // HS256 key for resume tokens; empty disables tokens
	TokenTTL time.Duration // resume token lifetime
	BotName  string        // display name that may only log in from loopback
}

// NewAuthService constructs AuthService with required dependencies. c may be nil.
func NewAuthService(accounts repository.AccountRepository, c *cache.Cache, lim limiter.Limiter, cfg AuthConfig) *AuthServiceImpl {
	return &AuthServiceImpl{
		accounts: accounts,
		cache:    c,
		lim:      lim,
		signKey:  cfg.SignKey,
		tokenTTL: cfg.TokenTTL,
		botName:  cfg.BotName,
		now:      time.Now,
	}
}

// Register creates a new account with a per-account salt.
func (s *AuthServiceImpl) Register(ctx context.Context, name, password string) (*model.Account, error) {
	if name == "" || password == "" {
		return nil, fmt.Errorf("%w: empty name/password", errs.ErrInvalidInput)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	hash, salt, err := pkgcrypto.NewSecret(password)
	if err != nil {
		return nil, err
	}
	a := &model.Account{
		ExternalID:  id,
		DisplayName: name,
		PwdHash:     hash,
		Salt:        salt,
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		return nil, err
	}
	s.cache.PutAccount(a)
	return a, nil
}

// Login authenticates with rate limiting by (name, ip).
func (s *AuthServiceImpl) Login(ctx context.Context, name, password, remoteIP string) (*model.Account, error) {
	ipHash := limiter.HashIP(remoteIP)

	allowed, _, err := s.lim.Allow(ctx, name, ipHash)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, errs.ErrRateLimited
	}

	a, err := s.byName(ctx, name)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	// unknown name and wrong password are indistinguishable
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), a.Salt, a.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, name, ipHash); ferr == nil && blocked {
			return nil, errs.ErrRateLimited
		}
		return nil, errs.ErrUnauthorized
	}

	if err := s.checkReserved(a, remoteIP); err != nil {
		return nil, err
	}

	_ = s.lim.Success(ctx, name, ipHash)

	now := s.now()
	if err := s.accounts.TouchLastLogin(ctx, a.ExternalID, now); err != nil {
		return nil, fmt.Errorf("touch last login: %w", err)
	}
	a.LastLogin = &now
	s.cache.PutAccount(a)
	return a, nil
}

// Account loads an account, preferring the cache.
func (s *AuthServiceImpl) Account(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	if a, ok := s.cache.AccountByID(id); ok {
		return a, nil
	}
	a, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.PutAccount(a)
	return a, nil
}

// Resume loads the account of a valid resume token. The reserved bot name
// is refused from non-loopback peers, as for Login.
func (s *AuthServiceImpl) Resume(ctx context.Context, token, remoteIP string) (*model.Account, error) {
	id, err := s.ParseToken(token)
	if err != nil {
		return nil, err
	}
	a, err := s.Account(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown subject", errs.ErrUnauthorized)
		}
		return nil, err
	}
	if err := s.checkReserved(a, remoteIP); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *AuthServiceImpl) checkReserved(a *model.Account, remoteIP string) error {
	if s.botName != "" && a.DisplayName == s.botName && !isLoopback(remoteIP) {
		return errs.ErrReservedName
	}
	return nil
}

func (s *AuthServiceImpl) byName(ctx context.Context, name string) (*model.Account, error) {
	if a, ok := s.cache.AccountByName(name); ok {
		return a, nil
	}
	a, err := s.accounts.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	s.cache.PutAccount(a)
	return a, nil
}

func isLoopback(ip string) bool {
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
