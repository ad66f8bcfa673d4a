package middlewares

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/aether/internal/cluster"
	"github.com/dropDatabas3/aether/internal/jwt"
	"github.com/dropDatabas3/aether/internal/rate"
)

type fakeNode struct {
	leader   bool
	leaderID string
}

func (f fakeNode) IsLeader() bool { return f.leader }
func (f fakeNode) View() cluster.ClusterView {
	return cluster.ClusterView{Self: "n2", LeaderID: f.leaderID}
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func serve(h http.Handler, method, target string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireLeader(t *testing.T) {
	redirects := map[string]string{"n1": "http://n1.local:8080/"}

	t.Run("reads pass on followers", func(t *testing.T) {
		h := RequireLeader(fakeNode{leaderID: "n1"}, redirects)(okHandler)
		assert.Equal(t, http.StatusNoContent, serve(h, http.MethodGet, "/v1/configs/db", nil).Code)
	})

	t.Run("leader passes", func(t *testing.T) {
		h := RequireLeader(fakeNode{leader: true}, redirects)(okHandler)
		assert.Equal(t, http.StatusNoContent, serve(h, http.MethodPut, "/v1/configs/db", nil).Code)
	})

	t.Run("follower answers 409 with leader hint", func(t *testing.T) {
		h := RequireLeader(fakeNode{leaderID: "n1"}, redirects)(okHandler)
		rec := serve(h, http.MethodPut, "/v1/configs/db", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "n1", rec.Header().Get("X-Leader"))
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "NOT_LEADER", body["code"])
	})

	t.Run("redirect on request", func(t *testing.T) {
		h := RequireLeader(fakeNode{leaderID: "n1"}, redirects)(okHandler)
		rec := serve(h, http.MethodPut, "/v1/configs/db?x=1", map[string]string{HeaderLeaderRedirect: "1"})
		assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
		assert.Equal(t, "http://n1.local:8080", rec.Header().Get(HeaderLeaderURL))
		assert.Equal(t, "http://n1.local:8080/v1/configs/db?x=1", rec.Header().Get("Location"))
	})

	t.Run("no redirect without configured url", func(t *testing.T) {
		h := RequireLeader(fakeNode{leaderID: "n3"}, redirects)(okHandler)
		rec := serve(h, http.MethodPost, "/v1/configs?leader_redirect=1", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "n3", rec.Header().Get("X-Leader"))
	})

	t.Run("unknown leader", func(t *testing.T) {
		h := RequireLeader(fakeNode{}, redirects)(okHandler)
		rec := serve(h, http.MethodPost, "/v1/configs", map[string]string{HeaderLeaderRedirect: "1"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Empty(t, rec.Header().Get("X-Leader"))
	})
}

func TestRequireAuthAndRole(t *testing.T) {
	issuer, err := jwt.NewIssuer("aether-test", []byte("0123456789abcdef0123"), time.Minute)
	require.NoError(t, err)
	reader, _, err := issuer.IssueAccess("alice", []string{jwt.RoleReader})
	require.NoError(t, err)
	admin, _, err := issuer.IssueAccess("root", []string{jwt.RoleAdmin})
	require.NoError(t, err)

	var sub string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub = GetSubject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := Chain(inner, RequireAuth(issuer), RequireRole(jwt.RoleWriter))

	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodPut, "/", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodPut, "/", map[string]string{"Authorization": "Basic abc"}).Code)
	assert.Equal(t, http.StatusForbidden, serve(h, http.MethodPut, "/", map[string]string{"Authorization": "Bearer " + reader}).Code)

	rec := serve(h, http.MethodPut, "/", map[string]string{"Authorization": "bearer " + admin})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "root", sub)
}

func TestRequestIDAndRecover(t *testing.T) {
	var seen string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		panic("boom")
	}), WithRecover(), WithRequestID(), WithLogging())

	rec := serve(h, http.MethodGet, "/", map[string]string{HeaderRequestID: "rid-1"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "rid-1", seen)
	assert.Equal(t, "rid-1", rec.Header().Get(HeaderRequestID))

	rec = serve(Chain(okHandler, WithRequestID()), http.MethodGet, "/", nil)
	assert.Len(t, rec.Header().Get(HeaderRequestID), 36)
}

func TestWithRateLimit(t *testing.T) {
	h := WithRateLimit(rate.NewMemoryLimiter(1, time.Minute), "login")(okHandler)

	assert.Equal(t, http.StatusNoContent, serve(h, http.MethodPost, "/v1/auth/login", nil).Code)
	rec := serve(h, http.MethodPost, "/v1/auth/login", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// otra IP tiene su propia ventana
	rec = serve(h, http.MethodPost, "/v1/auth/login", map[string]string{"X-Forwarded-For": "10.0.0.9"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
