package mw

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/skyembed/internal/logger"
	"github.com/MrSnakeDoc/skyembed/internal/utils"
)

// AdminConfig guards the mutating routes.
type AdminConfig struct {
	Token      string   // bearer token, empty = no token check
	CIDRS      []string // allowed client ranges, empty = any
	TrustProxy bool
}

// RequireAdmin rejects requests that fail the CIDR or bearer token check.
// With neither a token nor CIDRs configured, admin routes are closed.
func RequireAdmin(cfg AdminConfig, log logger.Logger) func(http.Handler) http.Handler {
	m := utils.NewIPMatcher(cfg.CIDRS)
	if cfg.Token == "" && m.IsEmpty() {
		log.Warn("admin routes disabled: no token and no CIDRs configured")
		return func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			})
		}
	}
	token := []byte(cfg.Token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.ClientIP(r, cfg.TrustProxy)
			if !m.IsEmpty() && !m.Allow(ip) {
				log.Warn("admin request rejected", logger.String("ip", ip), logger.String("reason", "cidr"))
				w.WriteHeader(http.StatusForbidden)
				return
			}
			if len(token) > 0 {
				got := []byte(bearer(r.Header.Get("Authorization")))
				if subtle.ConstantTimeCompare(got, token) != 1 {
					log.Warn("admin request rejected", logger.String("ip", ip), logger.String("reason", "token"))
					w.Header().Set("WWW-Authenticate", `Bearer realm="skyembed"`)
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(h string) string {
	const prefix = "Bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
