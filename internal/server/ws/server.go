// Package wsserver serves the group-chat protocol over websockets.
package wsserver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/and161185/grouptalk/internal/cache"
	"github.com/and161185/grouptalk/internal/errs"
	"github.com/and161185/grouptalk/internal/model"
	"github.com/and161185/grouptalk/internal/presence"
	"github.com/and161185/grouptalk/internal/protocol"
	"github.com/and161185/grouptalk/internal/service"
	"github.com/and161185/grouptalk/internal/session"
)

const evictionNotice = "You have been logged out due to a new login from another location."

// Deps are the collaborators a Server is built from.
type Deps struct {
	Auth     service.AuthService
	Groups   service.GroupService
	Messages service.MessageService
	Sessions *session.Registry
	Presence *presence.Tracker
	Cache    *cache.Cache
	Metrics  *Metrics
	Log      *zap.Logger
}

// Options tune transport limits.
type Options struct {
	MaxMessageSize int64
	RateBurst      int
	RateInterval   time.Duration
	AllowedOrigins []string
}

// Server routes envelopes from websocket connections to the services.
type Server struct {
	auth     service.AuthService
	groups   service.GroupService
	messages service.MessageService
	sessions *session.Registry
	presence *presence.Tracker
	cache    *cache.Cache
	metrics  *Metrics
	log      *zap.Logger

	opts     Options
	upgrader websocket.Upgrader
	handler  HandlerFunc

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// New wires a Server. Sessions and Presence are created when nil.
func New(d Deps, opts Options) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Sessions == nil {
		d.Sessions = session.NewRegistry()
	}
	if d.Presence == nil {
		d.Presence = presence.NewTracker()
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 << 10
	}
	s := &Server{
		auth:     d.Auth,
		groups:   d.Groups,
		messages: d.Messages,
		sessions: d.Sessions,
		presence: d.Presence,
		cache:    d.Cache,
		metrics:  d.Metrics,
		log:      d.Log.Named("ws"),
		opts:     opts,
		conns:    map[*Conn]struct{}{},
	}
	origins := newOriginPolicy(opts.AllowedOrigins, s.log)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.check,
	}
	s.handler = Chain(s.dispatch,
		RecoverHandler(s.log),
		LoggingHandler(s.log),
		MetricsHandler(s.metrics),
	)
	return s
}

// ServeWS upgrades the request and runs the connection until it closes.
// A valid ?token= resumes the session of its account.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	// store writes outlive the connection
	ctx := context.WithoutCancel(r.Context())

	var resumed *model.Account
	if token := r.URL.Query().Get("token"); token != "" {
		a, err := s.auth.Resume(ctx, token, r.RemoteAddr)
		switch {
		case errors.Is(err, errs.ErrReservedName):
			s.log.Warn("rejected remote resume of reserved name", zap.String("peer", r.RemoteAddr))
			http.Error(w, "reserved account", http.StatusForbidden)
			return
		case err != nil:
			s.log.Info("rejected resume token", zap.String("peer", r.RemoteAddr), zap.Error(err))
			http.Error(w, "invalid session token", http.StatusUnauthorized)
			return
		}
		resumed = a
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Info("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newConn(ws, r.RemoteAddr, newRateLimiter(s.opts.RateBurst, s.opts.RateInterval), s.log)
	s.track(c)
	defer s.untrack(c)

	go c.writePump()

	if resumed != nil {
		s.bind(ctx, c, resumed, "Session resumed")
	}
	c.readPump(s.opts.MaxMessageSize, func(raw []byte) { s.handle(ctx, c, raw) })
	s.release(c)
}

func (s *Server) track(c *Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	s.metrics.connOpened()
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.metrics.connClosed()
}

// CloseAll closes every open connection. Upgraded connections are hijacked,
// so http.Server.Shutdown does not reach them.
func (s *Server) CloseAll() int {
	s.mu.Lock()
	open := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		open = append(open, c)
	}
	s.mu.Unlock()
	for _, c := range open {
		_ = c.Close()
	}
	return len(open)
}

// handle decodes one frame and dispatches it.
func (s *Server) handle(ctx context.Context, c *Conn, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		c.log.Debug("malformed frame", zap.Error(err))
		s.reply(c, protocol.New(protocol.TypeError, "Invalid message format"))
		s.metrics.observeEnvelope("malformed", outcome(err), 0)
		return
	}
	_ = s.handler(ctx, c, env)
}

// bind attaches account a to c and evicts any older session of a.
func (s *Server) bind(ctx context.Context, c *Conn, a *model.Account, content string) {
	if prev := c.account; prev != nil && prev.ExternalID != a.ExternalID {
		s.release(c)
	}
	if evicted := s.sessions.Register(c, a.ExternalID); evicted != nil {
		_ = evicted.Send(protocol.New(protocol.TypeLoginFailed, evictionNotice))
		_ = evicted.Close()
		s.deactivate(a.ExternalID)
		s.metrics.evicted()
		s.log.Info("evicted previous session",
			zap.String("account", a.ExternalID.String()),
			zap.String("peer", evicted.RemoteAddr()),
		)
	}
	c.account = a
	c.reactivated = false
	s.cache.SetSession(a.ExternalID, c.RemoteAddr())

	data := loginData{Account: a}
	token, exp, err := s.auth.IssueToken(a.ExternalID)
	if err != nil {
		s.log.Warn("issue session token", zap.Error(err))
	} else if token != "" {
		data.Token = token
		data.TokenExpiresAt = exp.UnixMilli()
	}
	s.replyData(c, protocol.New(protocol.TypeLoginSuccess, content).
		WithSender(a.ExternalID.String(), a.DisplayName), data)
}

type loginData struct {
	*model.Account
	Token          string `json:"token,omitempty"`
	TokenExpiresAt int64  `json:"tokenExpiresAt,omitempty"`
}

// release unbinds c and removes its account from every active set.
// It is a no-op for a connection that was already evicted.
func (s *Server) release(c *Conn) {
	acct, ok := s.sessions.Unregister(c)
	if !ok {
		return
	}
	s.deactivate(acct)
	s.cache.ClearSession(acct)
}

func (s *Server) deactivate(acct uuid.UUID) {
	for _, g := range s.presence.DeactivateAll(acct) {
		s.cache.RemoveOnline(g, acct)
	}
}

// activate marks acct active in groupID.
func (s *Server) activate(groupID, acct uuid.UUID) {
	s.presence.Activate(groupID, acct)
	s.cache.AddOnline(groupID, acct)
}

// reactivate restores presence in every durable group once per session.
func (s *Server) reactivate(ctx context.Context, c *Conn) {
	if c.reactivated {
		return
	}
	groups, err := s.groups.ListFor(ctx, c.account.ExternalID)
	if err != nil {
		c.log.Warn("reactivate presence", zap.Error(err))
		return
	}
	for _, g := range groups {
		s.activate(g.ExternalID, c.account.ExternalID)
	}
	c.reactivated = true
}

// broadcast sends env to the active members of groupID. Recipients whose
// connection is gone or saturated are deactivated.
func (s *Server) broadcast(groupID uuid.UUID, env protocol.Envelope) int {
	delivered, dropped := 0, 0
	for _, id := range s.presence.Active(groupID) {
		conn, ok := s.sessions.ConnOf(id)
		if ok {
			err := conn.Send(env)
			if err == nil {
				delivered++
				continue
			}
			if !errors.Is(err, errConnClosed) {
				s.log.Warn("fan-out failed", zap.String("account", id.String()), zap.Error(err))
			}
		}
		s.presence.Deactivate(groupID, id)
		s.cache.RemoveOnline(groupID, id)
		dropped++
	}
	s.metrics.observeFanout(delivered, dropped)
	return delivered
}

func (s *Server) reply(c *Conn, env protocol.Envelope) {
	if err := c.Send(env); err != nil {
		c.log.Debug("reply dropped", zap.String("type", string(env.Type)), zap.Error(err))
	}
}

func (s *Server) replyData(c *Conn, env protocol.Envelope, data any) {
	env, err := env.WithData(data)
	if err != nil {
		c.log.Error("encode reply", zap.String("type", string(env.Type)), zap.Error(err))
		env = protocol.New(protocol.TypeError, "Internal server error")
	}
	s.reply(c, env)
}
