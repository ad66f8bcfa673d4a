package cluster

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	lastVote   *RequestVoteRequest
	lastAppend *AppendEntriesRequest
	err        error
}

func (f *fakeHandler) HandleRequestVote(_ context.Context, req *RequestVoteRequest) (*RequestVoteResponse, error) {
	f.lastVote = req
	if f.err != nil {
		return nil, f.err
	}
	return &RequestVoteResponse{Term: req.Term, VoteGranted: true}, nil
}

func (f *fakeHandler) HandleAppendEntries(_ context.Context, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	f.lastAppend = req
	if f.err != nil {
		return nil, f.err
	}
	return &AppendEntriesResponse{Term: req.Term, Success: true, MatchIndex: req.PrevLogIndex + uint64(len(req.Entries))}, nil
}

func TestHTTPTransportRoundTrip(t *testing.T) {
	h := &fakeHandler{}
	srv := httptest.NewServer(RPCRouter(h))
	defer srv.Close()

	tr := NewHTTPTransport(map[string]string{"n2": srv.URL}, nil)
	defer tr.Close()
	ctx := context.Background()

	vr, err := tr.RequestVote(ctx, "n2", &RequestVoteRequest{Term: 4, CandidateID: "n1", LastLogIndex: 9, LastLogTerm: 3})
	require.NoError(t, err)
	assert.True(t, vr.VoteGranted)
	assert.Equal(t, uint64(4), vr.Term)
	assert.Equal(t, "n1", h.lastVote.CandidateID)

	ents := []LogEntry{
		{Index: 10, Term: 4, Type: EntryNoop},
		{Index: 11, Term: 4, Type: EntryCommand, ID: "p-1", Command: []byte(`{"op":"create"}`)},
	}
	ar, err := tr.AppendEntries(ctx, "n2", &AppendEntriesRequest{Term: 4, LeaderID: "n1", PrevLogIndex: 9, PrevLogTerm: 3, Entries: ents, LeaderCommit: 9})
	require.NoError(t, err)
	assert.True(t, ar.Success)
	assert.Equal(t, uint64(11), ar.MatchIndex)
	require.Len(t, h.lastAppend.Entries, 2)
	assert.Equal(t, ents[1], h.lastAppend.Entries[1])
}

func TestHTTPTransportErrors(t *testing.T) {
	h := &fakeHandler{err: ErrNodeStopped}
	srv := httptest.NewServer(RPCRouter(h))
	defer srv.Close()

	tr := NewHTTPTransport(map[string]string{"n2": srv.URL, "gone": "127.0.0.1:1"}, nil)
	defer tr.Close()
	ctx := context.Background()

	_, err := tr.RequestVote(ctx, "nobody", &RequestVoteRequest{Term: 1})
	assert.ErrorIs(t, err, ErrUnreachable)

	_, err = tr.AppendEntries(ctx, "gone", &AppendEntriesRequest{Term: 1})
	assert.ErrorIs(t, err, ErrUnreachable)

	_, err = tr.RequestVote(ctx, "n2", &RequestVoteRequest{Term: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}
