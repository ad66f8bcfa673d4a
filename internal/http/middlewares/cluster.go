package middlewares

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/aether/internal/cluster"
	"github.com/dropDatabas3/aether/internal/http/errors"
)

// Headers del redirect al líder.
const (
	HeaderLeaderRedirect = "X-Leader-Redirect"
	HeaderLeaderURL      = "X-Leader-URL"
)

// LeaderView es lo que RequireLeader necesita del nodo.
type LeaderView interface {
	IsLeader() bool
	View() cluster.ClusterView
}

// RequireLeader asegura que las escrituras solo se ejecuten en el líder.
//   - GET/HEAD/OPTIONS o nodo líder => pasa.
//   - follower => 409 NOT_LEADER con X-Leader cuando se conoce el líder.
//   - si el cliente pide redirect (X-Leader-Redirect: 1 o ?leader_redirect=1)
//     y leaderRedirects tiene la URL del líder => 307 con Location.
//
// Es un atajo: la autoridad sigue siendo Propose, que rechaza igual si el
// nodo perdió el liderazgo entre el chequeo y la propuesta.
func RequireLeader(node LeaderView, leaderRedirects map[string]string) Middleware {
	// allowlist de hosts para redirects
	allowlist := make(map[string]struct{})
	for _, u := range leaderRedirects {
		if host := extractHost(u); host != "" {
			allowlist[strings.ToLower(host)] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			default:
				next.ServeHTTP(w, r)
				return
			}
			if node == nil || node.IsLeader() {
				next.ServeHTTP(w, r)
				return
			}

			leaderID := node.View().LeaderID
			if leaderID != "" {
				w.Header().Set(errors.HeaderLeader, leaderID)
			}

			wantsRedirect := strings.TrimSpace(r.Header.Get(HeaderLeaderRedirect)) == "1" ||
				strings.TrimSpace(r.URL.Query().Get("leader_redirect")) == "1"

			if wantsRedirect && leaderID != "" {
				if base, ok := redirectBase(leaderRedirects[leaderID], allowlist); ok {
					w.Header().Set(HeaderLeaderURL, base)
					w.Header().Set("Location", base+r.URL.RequestURI())
					w.WriteHeader(http.StatusTemporaryRedirect)
					return
				}
			}

			e := errors.ErrNotLeader.WithDetail("this node is a follower")
			if leaderID != "" {
				e = e.WithDetail("this node is a follower; leader is " + leaderID)
			}
			errors.WriteError(w, e)
		})
	}
}

func redirectBase(raw string, allowlist map[string]struct{}) (string, bool) {
	ub := strings.TrimSpace(raw)
	low := strings.ToLower(ub)
	if ub == "" || strings.Contains(ub, " ") ||
		!(strings.HasPrefix(low, "http://") || strings.HasPrefix(low, "https://")) {
		return "", false
	}
	if _, ok := allowlist[strings.ToLower(extractHost(ub))]; !ok {
		return "", false
	}
	return strings.TrimRight(ub, "/"), true
}

// extractHost extrae el host:port de una URL.
func extractHost(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		url = url[i+3:]
	}
	if j := strings.Index(url, "/"); j >= 0 {
		url = url[:j]
	}
	return url
}
