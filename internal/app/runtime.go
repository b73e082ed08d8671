package app

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"testing"
)

// TestModeEnv disables network and database startup in the binaries when truthy.
const TestModeEnv = "UVR_TEST_MODE"

// InTestMode reports whether the binaries should return before touching
// Postgres or Redis. It is true inside go test and when UVR_TEST_MODE parses
// as a true boolean.
func InTestMode() bool {
	if testing.Testing() {
		return true
	}
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
