package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterRaft(reg))
	require.NoError(t, RegisterRaft(reg))
	require.NoError(t, RegisterConfig(reg))
	require.NoError(t, RegisterConfig(reg))
	require.NoError(t, RegisterHTTP(reg))

	HTTPRequests.WithLabelValues("GET", "/healthz", "200").Inc()
	ConfigProposals.WithLabelValues("create", "ok").Inc()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	require.True(t, names["config_proposals_total"])
	require.True(t, names["raft_current_term"])
	require.True(t, names["http_requests_total"])
}
