// Command domotic runs the outlet controller: it holds the broker session,
// mirrors outlet state, fires daily schedules and serves the HTTP and
// WebSocket API used by dashboards and notifiers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Build metadata, overridden with
// -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "DOMOTIC_CONFIG"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "domotic:", err)
		os.Exit(1)
	}
}

// getConfigPath picks the --config flag, then $DOMOTIC_CONFIG, then the
// default path.
func getConfigPath(flag string) string {
	for _, p := range []string{flag, os.Getenv(configEnvVar)} {
		if p != "" {
			return p
		}
	}
	return defaultConfigPath
}
