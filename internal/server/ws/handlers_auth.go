package wsserver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/grouptalk/internal/errs"
	"github.com/and161185/grouptalk/internal/protocol"
)

func (s *Server) handleLogin(ctx context.Context, c *Conn, env protocol.Envelope) error {
	creds, err := protocol.ParseCredentials(env.Content)
	if err != nil {
		s.reply(c, protocol.New(protocol.TypeError, "Invalid login format"))
		return err
	}

	a, err := s.auth.Login(ctx, creds.Name, creds.Secret, c.RemoteAddr())
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrUnauthorized):
		s.reply(c, protocol.New(protocol.TypeLoginFailed, "Invalid credentials"))
		return err
	case errors.Is(err, errs.ErrRateLimited):
		s.reply(c, protocol.New(protocol.TypeLoginFailed, "Too many failed login attempts, try again later"))
		return err
	case errors.Is(err, errs.ErrReservedName):
		s.reply(c, protocol.New(protocol.TypeLoginFailed, fmt.Sprintf("%s can only be logged in from localhost.", creds.Name)))
		_ = c.Close()
		return err
	default:
		s.reply(c, protocol.New(protocol.TypeLoginFailed, "Login failed"))
		return err
	}

	s.bind(ctx, c, a, "Login successful")
	return nil
}

func (s *Server) handleRegister(ctx context.Context, c *Conn, env protocol.Envelope) error {
	creds, err := protocol.ParseCredentials(env.Content)
	if err == nil && creds.Secret == "" {
		err = fmt.Errorf("%w: empty password", errs.ErrInvalidInput)
	}
	if err != nil {
		s.reply(c, protocol.New(protocol.TypeError, "Invalid register format"))
		return err
	}

	a, err := s.auth.Register(ctx, creds.Name, creds.Secret)
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrAlreadyExists):
		s.reply(c, protocol.New(protocol.TypeRegisterFail, "Nickname already exists"))
		return err
	default:
		s.reply(c, protocol.New(protocol.TypeRegisterFail, "Registration failed"))
		return err
	}

	c.log.Info("registered", zap.String("account", a.ExternalID.String()))
	s.replyData(c, protocol.New(protocol.TypeRegisterOK, "Registration successful"), a)
	return nil
}

func (s *Server) handleLogout(_ context.Context, c *Conn, _ protocol.Envelope) error {
	s.release(c)
	c.account = nil
	c.reactivated = false
	s.reply(c, protocol.New(protocol.TypeSuccess, "Logged out"))
	return nil
}
