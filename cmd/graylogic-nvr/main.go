// Gray Logic NVR - UniFi Protect live state service
//
// graylogic-nvr keeps an always-current copy of a Protect console's entity
// state (cameras, sensors, lights, chimes, events) and fans it out to MQTT,
// InfluxDB, a REST API and a WebSocket push channel.
//
// Subcommands:
//   - run: the long-running service
//   - replay: feed recorded update packets through the reconciler offline
//   - stats: print the update statistics captured by a running service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Cancel on Ctrl+C and SIGTERM so run can shut down cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
