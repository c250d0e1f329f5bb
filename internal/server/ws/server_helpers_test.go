package wsserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gofrs/uuid/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/grouptalk/internal/cache"
	"github.com/and161185/grouptalk/internal/limiter"
	"github.com/and161185/grouptalk/internal/protocol"
	"github.com/and161185/grouptalk/internal/repository/memory"
	"github.com/and161185/grouptalk/internal/service"
)

type harness struct {
	t     *testing.T
	s     *Server
	store *memory.Store
	cache *cache.Cache
	reg   *prometheus.Registry
	ctx   context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := zaptest.NewLogger(t)
	st := memory.NewStore()
	c := cache.New(db, log)
	reg := prometheus.NewRegistry()

	s := New(Deps{
		Auth: service.NewAuthService(st.Accounts(), c, limiter.NewMemory(limiter.DefaultPolicy), service.AuthConfig{
			SignKey:  []byte("test-key"),
			TokenTTL: time.Hour,
			BotName:  "GeminiBot",
		}),
		Groups:   service.NewGroupService(st.Groups(), c),
		Messages: service.NewMessageService(st.Messages(), c),
		Cache:    c,
		Metrics:  NewMetrics(reg),
		Log:      log,
	}, Options{RateBurst: 100, RateInterval: time.Second})

	return &harness{t: t, s: s, store: st, cache: c, reg: reg, ctx: context.Background()}
}

// conn returns a connection without a socket; replies stay in its send queue.
func (h *harness) conn(addr string) *Conn {
	return newConn(nil, addr, nil, h.s.log)
}

func (h *harness) send(c *Conn, typ protocol.Type, content, group string) {
	h.t.Helper()
	raw, err := protocol.Encode(protocol.Envelope{Type: typ, Content: content, ToGroupID: group})
	require.NoError(h.t, err)
	h.s.handle(h.ctx, c, raw)
}

// login registers name (ignoring duplicates) and logs in on c.
func (h *harness) login(c *Conn, name, pw string) protocol.Envelope {
	h.t.Helper()
	h.send(c, protocol.TypeRegister, name+":"+pw, "")
	drain(c)
	h.send(c, protocol.TypeLogin, name+":"+pw, "")
	return expect(h.t, c, protocol.TypeLoginSuccess)
}

// createGroup creates name on c and returns its id.
func (h *harness) createGroup(c *Conn, name, pw string) string {
	h.t.Helper()
	h.send(c, protocol.TypeCreateGroup, name+":"+pw, "")
	env := expect(h.t, c, protocol.TypeCreateOK)
	require.NotEmpty(h.t, env.ToGroupID)
	return env.ToGroupID
}

func (h *harness) accountID(c *Conn) uuid.UUID {
	h.t.Helper()
	require.NotNil(h.t, c.account)
	return c.account.ExternalID
}

// next pops the next queued envelope.
func next(t *testing.T, c *Conn) (protocol.Envelope, bool) {
	t.Helper()
	select {
	case raw := <-c.send:
		env, err := protocol.Decode(raw)
		require.NoError(t, err)
		return env, true
	default:
		return protocol.Envelope{}, false
	}
}

func expect(t *testing.T, c *Conn, typ protocol.Type) protocol.Envelope {
	t.Helper()
	env, ok := next(t, c)
	require.True(t, ok, "want %s, queue empty", typ)
	require.Equal(t, typ, env.Type, "content: %s", env.Content)
	return env
}

func expectNothing(t *testing.T, c *Conn) {
	t.Helper()
	env, ok := next(t, c)
	require.False(t, ok, "unexpected %s %q", env.Type, env.Content)
}

func drain(c *Conn) []protocol.Envelope {
	var out []protocol.Envelope
	for {
		select {
		case raw := <-c.send:
			if env, err := protocol.Decode(raw); err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func decodeData[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

type messageView struct {
	ID         string `json:"id"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	Kind       string `json:"kind"`
}

func contents(ms []messageView) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Content)
	}
	return out
}
