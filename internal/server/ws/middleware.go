package wsserver

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/grouptalk/internal/errs"
	"github.com/and161185/grouptalk/internal/protocol"
)

// HandlerFunc handles one decoded envelope. Responses are sent on c by the
// handler itself; the returned error only classifies the outcome.
type HandlerFunc func(ctx context.Context, c *Conn, env protocol.Envelope) error

// Middleware wraps a HandlerFunc.
type Middleware func(HandlerFunc) HandlerFunc

// Chain applies mws so that the first one is outermost.
func Chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

var errInternal = errors.New("internal")

// outcome maps a handler error to a low-cardinality label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errs.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, errs.ErrUnauthorized), errors.Is(err, errs.ErrReservedName):
		return "unauthorized"
	case errors.Is(err, errs.ErrForbidden), errors.Is(err, errs.ErrNotMember):
		return "forbidden"
	case errors.Is(err, errs.ErrNotFound):
		return "not_found"
	case errors.Is(err, errs.ErrAlreadyExists):
		return "conflict"
	case errors.Is(err, errs.ErrRateLimited):
		return "rate_limited"
	default:
		return "internal"
	}
}

// LoggingHandler logs envelope metadata. Content and data are never logged.
func LoggingHandler(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, c *Conn, env protocol.Envelope) error {
			start := time.Now()
			err := next(ctx, c, env)

			fields := []zap.Field{
				zap.String("type", string(env.Type)),
				zap.String("outcome", outcome(err)),
				zap.Duration("dur", time.Since(start)),
				zap.String("peer", c.RemoteAddr()),
			}
			if a := c.Account(); a != nil {
				fields = append(fields, zap.String("account", a.ExternalID.String()))
			}
			if err != nil && outcome(err) == "internal" {
				log.Error("dispatch", append(fields, zap.Error(err))...)
				return err
			}
			log.Info("dispatch", fields...)
			return err
		}
	}
}

// RecoverHandler turns a handler panic into an ERROR reply.
func RecoverHandler(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, c *Conn, env protocol.Envelope) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic",
						zap.Any("reason", r),
						zap.ByteString("stack", debug.Stack()),
						zap.String("type", string(env.Type)),
					)
					_ = c.Send(protocol.New(protocol.TypeError, "Internal server error"))
					err = errInternal
				}
			}()
			return next(ctx, c, env)
		}
	}
}

// MetricsHandler counts envelopes by type and outcome.
func MetricsHandler(m *Metrics) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, c *Conn, env protocol.Envelope) error {
			start := time.Now()
			err := next(ctx, c, env)
			typ := string(env.Type)
			if !env.Type.Known() {
				typ = "unknown"
			}
			m.observeEnvelope(typ, outcome(err), time.Since(start).Seconds())
			return err
		}
	}
}
