package wsserver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/grouptalk/internal/errs"
	"github.com/and161185/grouptalk/internal/protocol"
)

func testConn(t *testing.T) *Conn {
	t.Helper()
	return newConn(nil, "127.0.0.1:12345", nil, zaptest.NewLogger(t))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestLoggingHandler_Passthrough(t *testing.T) {
	t.Parallel()

	mw := LoggingHandler(zaptest.NewLogger(t))
	c := testConn(t)
	env := protocol.New(protocol.TypeHeartbeat, "")

	called := false
	h := mw(func(context.Context, *Conn, protocol.Envelope) error {
		called = true
		return nil
	})
	if err := h(context.Background(), c, env); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !called {
		t.Fatalf("next not called")
	}

	wantErr := fmt.Errorf("wrapped: %w", errs.ErrNotMember)
	hErr := mw(func(context.Context, *Conn, protocol.Envelope) error { return wantErr })
	if err := hErr(context.Background(), c, env); !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}

	boom := errors.New("boom")
	hBoom := mw(func(context.Context, *Conn, protocol.Envelope) error { return boom })
	if err := hBoom(context.Background(), c, env); !errors.Is(err, boom) {
		t.Fatalf("want internal error passed through, got: %v", err)
	}
}

func TestRecoverHandler_CatchesPanic(t *testing.T) {
	t.Parallel()

	mw := RecoverHandler(zaptest.NewLogger(t))
	c := testConn(t)

	h := mw(func(context.Context, *Conn, protocol.Envelope) error { panic("oh no") })
	err := h(context.Background(), c, protocol.New(protocol.TypeChatMessage, "x"))
	if !errors.Is(err, errInternal) {
		t.Fatalf("want errInternal, got: %v", err)
	}
	env, ok := next(t, c)
	if !ok || env.Type != protocol.TypeError {
		t.Fatalf("want ERROR reply, got %+v", env)
	}
}

func TestRecoverHandler_NoPanicPassThrough(t *testing.T) {
	t.Parallel()

	mw := RecoverHandler(zaptest.NewLogger(t))
	c := testConn(t)

	h := mw(func(context.Context, *Conn, protocol.Envelope) error { return nil })
	if err := h(context.Background(), c, protocol.New(protocol.TypeHeartbeat, "")); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, ok := next(t, c); ok {
		t.Fatalf("no reply expected")
	}
}

func TestChain_Order(t *testing.T) {
	t.Parallel()

	var trace []string
	mk := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, c *Conn, env protocol.Envelope) error {
				trace = append(trace, name)
				return next(ctx, c, env)
			}
		}
	}
	h := Chain(func(context.Context, *Conn, protocol.Envelope) error {
		trace = append(trace, "handler")
		return nil
	}, mk("outer"), mk("inner"))

	_ = h(context.Background(), testConn(t), protocol.Envelope{})
	if fmt.Sprint(trace) != "[outer inner handler]" {
		t.Fatalf("order: %v", trace)
	}
}

func TestMetricsHandler_CountsByOutcome(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())
	c := testConn(t)

	ok := MetricsHandler(m)(func(context.Context, *Conn, protocol.Envelope) error { return nil })
	bad := MetricsHandler(m)(func(context.Context, *Conn, protocol.Envelope) error { return errs.ErrNotMember })

	_ = ok(context.Background(), c, protocol.Envelope{Type: protocol.TypeChatMessage})
	_ = ok(context.Background(), c, protocol.Envelope{Type: protocol.TypeChatMessage})
	_ = bad(context.Background(), c, protocol.Envelope{Type: protocol.TypeChatMessage})
	_ = ok(context.Background(), c, protocol.Envelope{Type: "WHATEVER"})

	if got := counterValue(t, m.envelopes.WithLabelValues("CHAT_MESSAGE", "ok")); got != 2 {
		t.Fatalf("ok=%v, want 2", got)
	}
	if got := counterValue(t, m.envelopes.WithLabelValues("CHAT_MESSAGE", "forbidden")); got != 1 {
		t.Fatalf("forbidden=%v, want 1", got)
	}
	if got := counterValue(t, m.envelopes.WithLabelValues("unknown", "ok")); got != 1 {
		t.Fatalf("unknown=%v, want 1", got)
	}

	var nilMetrics *Metrics
	_ = MetricsHandler(nilMetrics)(func(context.Context, *Conn, protocol.Envelope) error { return nil })(context.Background(), c, protocol.Envelope{})
	nilMetrics.connOpened()
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	cases := map[error]string{
		nil:                   "ok",
		errs.ErrInvalidInput:  "invalid",
		errs.ErrUnauthorized:  "unauthorized",
		errs.ErrReservedName:  "unauthorized",
		errs.ErrForbidden:     "forbidden",
		errs.ErrNotFound:      "not_found",
		errs.ErrAlreadyExists: "conflict",
		errs.ErrRateLimited:   "rate_limited",
		errors.New("x"):       "internal",
	}
	for err, want := range cases {
		if got := outcome(err); got != want {
			t.Fatalf("outcome(%v)=%s, want %s", err, got, want)
		}
	}
}
