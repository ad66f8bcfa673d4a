package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/aether/internal/cluster"
	"github.com/dropDatabas3/aether/internal/controlplane"
	"github.com/dropDatabas3/aether/internal/store"
)

func TestFromErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("get: %w", store.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{&store.VersionConflictError{Name: "db", Expected: 1, Actual: 2}, http.StatusConflict, "VERSION_CONFLICT"},
		{&controlplane.SchemaValidationError{SchemaID: "db"}, http.StatusUnprocessableEntity, "SCHEMA_VALIDATION"},
		{fmt.Errorf("%w: x", controlplane.ErrUnknownSchema), http.StatusUnprocessableEntity, "UNKNOWN_SCHEMA"},
		{fmt.Errorf("%w: bad name", controlplane.ErrBadInput), http.StatusBadRequest, "BAD_REQUEST"},
		{&cluster.NotLeaderError{LeaderID: "n1"}, http.StatusConflict, "NOT_LEADER"},
		{fmt.Errorf("%w: index 9", cluster.ErrProposalTimeout), http.StatusGatewayTimeout, "PROPOSAL_TIMEOUT"},
		{cluster.ErrLeadershipLost, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{store.Unavailable("get", errors.New("dial")), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
		{ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	}
	for _, tc := range cases {
		e := FromError(tc.err)
		assert.Equal(t, tc.status, e.HTTPStatus, tc.err.Error())
		assert.Equal(t, tc.code, e.Code, tc.err.Error())
	}
}

func TestWriteErrorCarriesViolationsAndHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, fmt.Errorf("propose: %w", &controlplane.SchemaValidationError{
		SchemaID:   "db",
		Violations: []controlplane.Violation{{Field: "port", Rule: "min", Message: "must be >= 1"}},
	}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Violations, 1)
	assert.Equal(t, "port", body.Violations[0].Field)

	rec = httptest.NewRecorder()
	WriteError(rec, &cluster.NotLeaderError{LeaderID: "n3", LeaderAddr: "n3:7000"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "n3", rec.Header().Get(HeaderLeader))
}

func TestWithDetailDoesNotMutateBase(t *testing.T) {
	e := ErrNotFound.WithDetail("x").WithHeader("X-A", "1")
	assert.Equal(t, "x", e.Detail)
	assert.Empty(t, ErrNotFound.Detail)
	assert.Nil(t, ErrNotFound.Header)
}
