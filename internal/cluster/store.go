package cluster

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/dropDatabas3/aether/internal/metrics"
)

// OpenBoltStore abre (o crea) <dir>/raft.db, que sirve de raft.LogStore y
// raft.StableStore a la vez.
func OpenBoltStore(dir string) (*raftboltdb.BoltStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir raft dir: %w", err)
	}
	bs, err := raftboltdb.NewBoltStore(filepath.Join(dir, "raft.db"))
	if err != nil {
		return nil, fmt.Errorf("bolt store: %w", err)
	}
	return bs, nil
}

// WatchLogSize publica el tamaño de <dir>/raft.db en RaftLogSizeBytes hasta
// que stop se cierre.
func WatchLogSize(dir string, every time.Duration, stop <-chan struct{}) {
	path := filepath.Join(dir, "raft.db")
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		if st, err := os.Stat(path); err == nil {
			metrics.RaftLogSizeBytes.Set(float64(st.Size()))
		}
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}
