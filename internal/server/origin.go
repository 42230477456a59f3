package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/Tyrowin/chatrelay/internal/logging"
)

// originPolicy decides which browser origins may open a WebSocket.
type originPolicy struct {
	allowed  map[string]struct{}
	allowAll bool
	log      *logging.Logger
}

func newOriginPolicy(origins []string, log *logging.Logger) *originPolicy {
	p := &originPolicy{allowed: make(map[string]struct{}), log: log}
	normalized, allowAll := normalizeOrigins(origins, log)
	for _, o := range normalized {
		p.allowed[o] = struct{}{}
	}
	p.allowAll = allowAll
	return p
}

func normalizeOrigins(origins []string, log *logging.Logger) ([]string, bool) {
	if len(origins) == 0 {
		return nil, false
	}

	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		if trimmed == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn().Str("origin", origin).Msg("ignoring invalid origin in configuration")
			continue
		}

		normalized = append(normalized, normalizedOrigin)
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	normalized := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
	return normalized, true
}

// allowedRequest reports whether r may be upgraded. Non-browser clients send no
// Origin header and are always accepted.
func (p *originPolicy) allowedRequest(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" || p.allowAll {
		return true
	}

	normalizedOrigin, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}
	_, exists := p.allowed[normalizedOrigin]
	return exists
}

func (p *originPolicy) checkOrigin(r *http.Request) bool {
	if p.allowedRequest(r) {
		return true
	}

	p.log.Warn().Str("origin", r.Header.Get("Origin")).Str("remote", r.RemoteAddr).Msg("blocked websocket connection from disallowed origin")
	return false
}
