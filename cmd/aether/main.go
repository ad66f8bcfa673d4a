// Command aether corre un nodo del cluster (serve) y hace de cliente del
// admin API (login, get, create, update, versions, status).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version se completa con -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "aether",
		Short:         "Store de configuración versionado y replicado con Raft",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	cl := newClientFlags(root)

	root.AddCommand(
		newServeCmd(),
		newLoginCmd(cl),
		newGetCmd(cl),
		newCreateCmd(cl),
		newUpdateCmd(cl),
		newVersionsCmd(cl),
		newStatusCmd(cl),
		newWatchCmd(cl),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
