package wsserver

import (
	"context"
	"fmt"

	"github.com/and161185/grouptalk/internal/errs"
	"github.com/and161185/grouptalk/internal/protocol"
)

// dispatch routes env by type. LOGIN, REGISTER and HEARTBEAT are accepted
// before authentication; everything else needs a bound account.
func (s *Server) dispatch(ctx context.Context, c *Conn, env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeHeartbeat:
		s.reply(c, protocol.New(protocol.TypeHeartbeat, "pong"))
		return nil
	case protocol.TypeLogin:
		return s.handleLogin(ctx, c, env)
	case protocol.TypeRegister:
		return s.handleRegister(ctx, c, env)
	}

	if !env.Type.Known() {
		s.reply(c, protocol.New(protocol.TypeError, "Unknown message type"))
		return fmt.Errorf("%w: unknown type %q", errs.ErrInvalidInput, env.Type)
	}
	// an evicted connection keeps its account until it closes
	if _, bound := s.sessions.AccountOf(c); c.account == nil || !bound {
		s.reply(c, protocol.New(protocol.TypeError, "Please log in first"))
		return errs.ErrUnauthorized
	}

	switch env.Type {
	case protocol.TypeLogout:
		return s.handleLogout(ctx, c, env)
	case protocol.TypeCreateGroup:
		return s.handleCreateGroup(ctx, c, env)
	case protocol.TypeDeleteGroup:
		return s.handleDeleteGroup(ctx, c, env)
	case protocol.TypeJoinGroup:
		return s.handleJoinGroup(ctx, c, env)
	case protocol.TypeLeaveGroup:
		return s.handleLeaveGroup(ctx, c, env)
	case protocol.TypeListGroups:
		return s.handleListGroups(ctx, c, env)
	case protocol.TypeChatMessage:
		return s.handleChat(ctx, c, env)
	case protocol.TypeGetHistory:
		return s.handleHistory(ctx, c, env)
	case protocol.TypeGetRecent:
		return s.handleRecent(ctx, c, env)
	case protocol.TypeOnlineUsers:
		return s.handleOnlineUsers(ctx, c, env)
	case protocol.TypeGroupInfo:
		return s.handleGroupInfo(ctx, c, env)
	default:
		// server-to-client types
		s.reply(c, protocol.New(protocol.TypeError, "Unknown message type"))
		return fmt.Errorf("%w: unexpected type %q", errs.ErrInvalidInput, env.Type)
	}
}
