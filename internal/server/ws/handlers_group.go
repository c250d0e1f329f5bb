package wsserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/grouptalk/internal/errs"
	"github.com/and161185/grouptalk/internal/model"
	"github.com/and161185/grouptalk/internal/protocol"
	"github.com/and161185/grouptalk/internal/service"
)

// groupRef is the addressed group: toGroupId, else the content.
func groupRef(env protocol.Envelope) string {
	if env.ToGroupID != "" {
		return env.ToGroupID
	}
	return strings.TrimSpace(env.Content)
}

// requireMember resolves ref and checks durable membership of c's account.
// On failure an ERROR reply has already been sent.
func (s *Server) requireMember(ctx context.Context, c *Conn, ref string) (*model.Group, error) {
	if ref == "" {
		s.reply(c, protocol.New(protocol.TypeError, "Group is required"))
		return nil, fmt.Errorf("%w: missing group", errs.ErrInvalidInput)
	}
	g, err := s.groups.Resolve(ctx, ref)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			s.reply(c, protocol.New(protocol.TypeError, "Group not found"))
		} else {
			s.reply(c, protocol.New(protocol.TypeError, "Failed to load group"))
		}
		return nil, err
	}
	ok, err := s.groups.IsMember(ctx, g.ExternalID, c.account.ExternalID)
	if err != nil {
		s.reply(c, protocol.New(protocol.TypeError, "Failed to load group"))
		return nil, err
	}
	if !ok {
		s.reply(c, protocol.New(protocol.TypeError, "You are not a member of this group").WithGroup(g.ExternalID.String()))
		return nil, errs.ErrNotMember
	}
	return g, nil
}

func (s *Server) handleCreateGroup(ctx context.Context, c *Conn, env protocol.Envelope) error {
	gc, err := protocol.ParseGroupCredentials(env.Content)
	if err != nil {
		s.reply(c, protocol.New(protocol.TypeError, "Invalid group format"))
		return err
	}

	g, err := s.groups.Create(ctx, c.account.ExternalID, gc.Name, gc.Secret)
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrAlreadyExists):
		s.reply(c, protocol.New(protocol.TypeCreateFail, "Group name already exists"))
		return err
	case errors.Is(err, errs.ErrInvalidInput):
		s.reply(c, protocol.New(protocol.TypeError, "Invalid group format"))
		return err
	default:
		s.reply(c, protocol.New(protocol.TypeCreateFail, "Failed to create group"))
		return err
	}

	s.presence.SetMembers(g.ExternalID, g.Members)
	s.activate(g.ExternalID, c.account.ExternalID)

	s.replyData(c, protocol.New(protocol.TypeCreateOK, "Group created").WithGroup(g.ExternalID.String()), g)
	return nil
}

func (s *Server) handleDeleteGroup(ctx context.Context, c *Conn, env protocol.Envelope) error {
	ref := groupRef(env)
	g, err := s.groups.Resolve(ctx, ref)
	if err == nil {
		g, err = s.groups.Delete(ctx, g.ExternalID, c.account.ExternalID)
	}
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrInvalidInput):
		s.reply(c, protocol.New(protocol.TypeDeleteFail, "Group not found"))
		return err
	case errors.Is(err, errs.ErrForbidden):
		s.reply(c, protocol.New(protocol.TypeDeleteFail, "Only the group owner can delete the group"))
		return err
	default:
		s.reply(c, protocol.New(protocol.TypeDeleteFail, "Failed to delete group"))
		return err
	}

	notice := protocol.New(protocol.TypeDeleteOK, fmt.Sprintf("Group %s has been deleted", g.Name)).
		WithGroup(g.ExternalID.String()).
		WithSender(c.account.ExternalID.String(), c.account.DisplayName)
	s.presence.Deactivate(g.ExternalID, c.account.ExternalID)
	s.broadcast(g.ExternalID, notice)
	s.reply(c, notice)
	s.presence.DropGroup(g.ExternalID)
	return nil
}

func (s *Server) handleJoinGroup(ctx context.Context, c *Conn, env protocol.Envelope) error {
	gc, err := protocol.ParseGroupCredentials(env.Content)
	if err != nil {
		s.reply(c, protocol.New(protocol.TypeError, "Invalid join format"))
		return err
	}

	acct := c.account
	g, joined, err := s.groups.Join(ctx, gc.Name, gc.Secret, acct.ExternalID)
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrNotFound):
		s.reply(c, protocol.New(protocol.TypeJoinFail, "Group not found"))
		return err
	case errors.Is(err, errs.ErrUnauthorized):
		s.reply(c, protocol.New(protocol.TypeJoinFail, "Incorrect group password"))
		return err
	default:
		s.reply(c, protocol.New(protocol.TypeJoinFail, "Failed to join group"))
		return err
	}

	s.activate(g.ExternalID, acct.ExternalID)
	gid := g.ExternalID.String()
	s.replyData(c, protocol.New(protocol.TypeJoinOK, fmt.Sprintf("Joined group %s", g.Name)).WithGroup(gid), g)

	history, err := s.messages.History(ctx, g.ExternalID, service.DefaultHistoryHours*time.Hour, service.JoinHistoryLimit)
	if err != nil {
		c.log.Warn("history on join", zap.Error(err))
	} else if len(history) > 0 {
		s.replyData(c, protocol.New(protocol.TypeHistory, fmt.Sprintf("%d messages", len(history))).WithGroup(gid), history)
	}

	if joined {
		s.announce(ctx, g.ExternalID, acct, model.KindJoin, protocol.TypeUserJoin, acct.DisplayName+" joined the group")
	}
	return nil
}

func (s *Server) handleLeaveGroup(ctx context.Context, c *Conn, env protocol.Envelope) error {
	g, err := s.requireMember(ctx, c, groupRef(env))
	if err != nil {
		return err
	}

	acct := c.account
	if _, err := s.groups.Leave(ctx, g.ExternalID, acct.ExternalID); err != nil {
		switch {
		case errors.Is(err, errs.ErrForbidden):
			s.reply(c, protocol.New(protocol.TypeLeaveFail, "The group owner cannot leave; delete the group instead"))
		case errors.Is(err, errs.ErrNotMember):
			s.reply(c, protocol.New(protocol.TypeLeaveFail, "You are not a member of this group"))
		default:
			s.reply(c, protocol.New(protocol.TypeLeaveFail, "Failed to leave group"))
		}
		return err
	}

	s.presence.RemoveMember(g.ExternalID, acct.ExternalID)
	s.reply(c, protocol.New(protocol.TypeLeaveOK, fmt.Sprintf("Left group %s", g.Name)).WithGroup(g.ExternalID.String()))
	s.announce(ctx, g.ExternalID, acct, model.KindLeave, protocol.TypeUserLeave, acct.DisplayName+" left the group")
	return nil
}

// announce persists a JOIN or LEAVE notice and fans it out.
func (s *Server) announce(ctx context.Context, groupID uuid.UUID, actor *model.Account, kind model.MessageKind, typ protocol.Type, content string) {
	m, err := s.messages.PostSystem(ctx, groupID, actor, kind, content)
	if err != nil {
		s.log.Warn("persist system message", zap.String("group", groupID.String()), zap.Error(err))
		return
	}
	env, err := messageEnvelope(typ, m)
	if err != nil {
		s.log.Error("encode system message", zap.Error(err))
		return
	}
	s.broadcast(groupID, env)
}

func (s *Server) handleListGroups(ctx context.Context, c *Conn, _ protocol.Envelope) error {
	groups, err := s.groups.ListFor(ctx, c.account.ExternalID)
	if err != nil {
		s.reply(c, protocol.New(protocol.TypeError, "Failed to list groups"))
		return err
	}
	if groups == nil {
		groups = []model.Group{}
	}
	s.replyData(c, protocol.New(protocol.TypeListGroups, fmt.Sprintf("%d groups", len(groups))), groups)
	return nil
}

type onlineUser struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"displayName,omitempty"`
}

func (s *Server) handleOnlineUsers(ctx context.Context, c *Conn, env protocol.Envelope) error {
	s.reactivate(ctx, c)
	g, err := s.requireMember(ctx, c, groupRef(env))
	if err != nil {
		return err
	}
	s.activate(g.ExternalID, c.account.ExternalID)

	ids := s.presence.Active(g.ExternalID)
	users := make([]onlineUser, 0, len(ids))
	for _, id := range ids {
		u := onlineUser{ID: id}
		if a, err := s.auth.Account(ctx, id); err == nil {
			u.DisplayName = a.DisplayName
		}
		users = append(users, u)
	}
	s.replyData(c, protocol.New(protocol.TypeOnlineUsers, fmt.Sprintf("%d online", len(users))).WithGroup(g.ExternalID.String()), users)
	return nil
}

func (s *Server) handleGroupInfo(ctx context.Context, c *Conn, env protocol.Envelope) error {
	g, err := s.requireMember(ctx, c, groupRef(env))
	if err != nil {
		return err
	}
	members, err := s.groups.Members(ctx, g.ExternalID)
	if err != nil {
		s.reply(c, protocol.New(protocol.TypeError, "Failed to load group"))
		return err
	}
	// additive only: the member list may come from the cache
	for _, id := range members {
		s.presence.AddMember(g.ExternalID, id)
	}
	g.Members = members
	s.replyData(c, protocol.New(protocol.TypeGroupInfo, g.Name).WithGroup(g.ExternalID.String()), g)
	return nil
}
