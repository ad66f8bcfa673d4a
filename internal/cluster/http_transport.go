package cluster

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	pathRequestVote   = "/raft/v1/request-vote"
	pathAppendEntries = "/raft/v1/append-entries"

	// maxRPCBody acota el cuerpo de un RPC (batch de AppendEntries incluido).
	maxRPCBody = 16 << 20
)

// HTTPTransport implementa Transport con JSON sobre HTTP(S).
type HTTPTransport struct {
	client *http.Client
	addrs  map[string]string // nodeID -> base URL
}

// NewHTTPTransport crea el cliente. members mapea nodeID a host:port (o a
// una URL completa). tlsCfg != nil usa https con ese config de cliente.
func NewHTTPTransport(members map[string]string, tlsCfg *tls.Config) *HTTPTransport {
	scheme := "http://"
	tr := &http.Transport{
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
	}
	if tlsCfg != nil {
		scheme = "https://"
		tr.TLSClientConfig = tlsCfg
	}
	addrs := make(map[string]string, len(members))
	for id, a := range members {
		if !strings.Contains(a, "://") {
			a = scheme + a
		}
		addrs[id] = strings.TrimRight(a, "/")
	}
	return &HTTPTransport{client: &http.Client{Transport: tr}, addrs: addrs}
}

// Close libera las conexiones idle.
func (t *HTTPTransport) Close() { t.client.CloseIdleConnections() }

func (t *HTTPTransport) RequestVote(ctx context.Context, target string, req *RequestVoteRequest) (*RequestVoteResponse, error) {
	var resp RequestVoteResponse
	if err := t.call(ctx, target, pathRequestVote, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) AppendEntries(ctx context.Context, target string, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	var resp AppendEntriesResponse
	if err := t.call(ctx, target, pathAppendEntries, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) call(ctx context.Context, target, path string, in, out any) error {
	base, ok := t.addrs[target]
	if !ok {
		return fmt.Errorf("%w: unknown node %q", ErrUnreachable, target)
	}
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	hreq.Header.Set("Content-Type", "application/json")

	hresp, err := t.client.Do(hreq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer hresp.Body.Close()
	if hresp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(hresp.Body, 512))
		return fmt.Errorf("cluster: rpc %s to %s: status %d: %s", path, target, hresp.StatusCode, bytes.TrimSpace(msg))
	}
	return json.NewDecoder(io.LimitReader(hresp.Body, maxRPCBody)).Decode(out)
}

// RPCRouter expone h en las rutas /raft/v1/*.
func RPCRouter(h RPCHandler) http.Handler {
	r := chi.NewRouter()
	r.Post(pathRequestVote, func(w http.ResponseWriter, r *http.Request) {
		var req RequestVoteRequest
		if !decodeRPC(w, r, &req) {
			return
		}
		resp, err := h.HandleRequestVote(r.Context(), &req)
		writeRPC(w, resp, err)
	})
	r.Post(pathAppendEntries, func(w http.ResponseWriter, r *http.Request) {
		var req AppendEntriesRequest
		if !decodeRPC(w, r, &req) {
			return
		}
		resp, err := h.HandleAppendEntries(r.Context(), &req)
		writeRPC(w, resp, err)
	})
	return r
}

func decodeRPC(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRPCBody))
	if err := dec.Decode(v); err != nil {
		http.Error(w, "invalid rpc body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeRPC(w http.ResponseWriter, v any, err error) {
	if err != nil {
		// un nodo failed/stopped no responde: el caller lo trata como caído
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNodeStopped) || errors.Is(err, ErrNodeFailed) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
