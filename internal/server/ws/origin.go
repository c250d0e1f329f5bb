package wsserver

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// originPolicy decides which browser origins may open a websocket.
// An empty allow-list accepts every origin. Requests without an Origin
// header come from non-browser clients and are always accepted.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	log      *zap.Logger
}

func newOriginPolicy(origins []string, log *zap.Logger) *originPolicy {
	p := &originPolicy{allowed: map[string]struct{}{}, log: log}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		switch {
		case trimmed == "":
			continue
		case trimmed == "*":
			p.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn("ignoring invalid origin in configuration", zap.String("origin", origin))
			continue
		}
		p.allowed[normalized] = struct{}{}
	}
	if len(p.allowed) == 0 {
		p.allowAll = true
	}
	return p
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func (p *originPolicy) check(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" || p.allowAll {
		return true
	}
	if normalized, ok := normalizeOrigin(header); ok {
		if _, exists := p.allowed[normalized]; exists {
			return true
		}
	}
	p.log.Warn("blocked websocket connection from disallowed origin", zap.String("origin", header))
	return false
}
