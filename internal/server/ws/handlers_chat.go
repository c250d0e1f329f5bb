package wsserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/grouptalk/internal/errs"
	"github.com/and161185/grouptalk/internal/model"
	"github.com/and161185/grouptalk/internal/protocol"
	"github.com/and161185/grouptalk/internal/service"
)

// messageEnvelope renders a stored message as a fan-out envelope.
func messageEnvelope(typ protocol.Type, m *model.Message) (protocol.Envelope, error) {
	env := protocol.New(typ, m.Content).WithGroup(m.GroupID.String())
	if m.SenderID != nil {
		env = env.WithSender(m.SenderID.String(), m.SenderName)
	}
	env.Timestamp = m.CreatedAt.UnixMilli()
	return env.WithData(m)
}

func (s *Server) handleChat(ctx context.Context, c *Conn, env protocol.Envelope) error {
	s.reactivate(ctx, c)
	g, err := s.requireMember(ctx, c, env.ToGroupID)
	if err != nil {
		return err
	}
	if !s.presence.IsActive(g.ExternalID, c.account.ExternalID) {
		s.activate(g.ExternalID, c.account.ExternalID)
	}

	m, err := s.messages.Post(ctx, g.ExternalID, c.account, env.Content)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidInput) {
			s.reply(c, protocol.New(protocol.TypeError, "Message content must not be empty"))
		} else {
			s.reply(c, protocol.New(protocol.TypeError, "Failed to send message"))
		}
		return err
	}

	out, err := messageEnvelope(protocol.TypeBroadcast, m)
	if err != nil {
		return err
	}
	s.broadcast(g.ExternalID, out)
	return nil
}

func (s *Server) handleHistory(ctx context.Context, c *Conn, env protocol.Envelope) error {
	s.reactivate(ctx, c)
	g, err := s.requireMember(ctx, c, env.ToGroupID)
	if err != nil {
		return err
	}
	hours, err := protocol.ParseHours(env.Content, service.DefaultHistoryHours)
	if err != nil {
		s.reply(c, protocol.New(protocol.TypeError, "Invalid hours format"))
		return err
	}

	msgs, err := s.messages.History(ctx, g.ExternalID, time.Duration(hours)*time.Hour, service.HistoryLimit)
	if err != nil {
		s.reply(c, protocol.New(protocol.TypeError, "Failed to load history"))
		return err
	}
	s.replyHistory(c, g, msgs)
	return nil
}

func (s *Server) handleRecent(ctx context.Context, c *Conn, env protocol.Envelope) error {
	s.reactivate(ctx, c)
	ref := env.ToGroupID
	if ref == "" {
		ref = strings.TrimSpace(env.Content)
	}
	g, err := s.requireMember(ctx, c, ref)
	if err != nil {
		return err
	}

	msgs, err := s.messages.Recent(ctx, g.ExternalID, service.RecentLimit)
	if err != nil {
		s.reply(c, protocol.New(protocol.TypeError, "Failed to load messages"))
		return err
	}
	s.replyHistory(c, g, msgs)
	return nil
}

func (s *Server) replyHistory(c *Conn, g *model.Group, msgs []model.Message) {
	if msgs == nil {
		msgs = []model.Message{}
	}
	s.replyData(c, protocol.New(protocol.TypeHistory, fmt.Sprintf("%d messages", len(msgs))).WithGroup(g.ExternalID.String()), msgs)
}
