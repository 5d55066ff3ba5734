// Package metrics exposes the agent's own health as a hand-rolled
// Prometheus text endpoint: a telemetry struct behind a mutex, with a
// /metrics handler formatting counters as "name value" lines. Serving it
// is optional: cmd/agent starts it only when the overrides file sets
// metrics_addr.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type telemetry struct {
	mu sync.RWMutex

	connectionFailures int64
	sendLoopErrors     int64
	framesSent         int64
	framesReceived     int64
	commandsExecuted   int64
}

var (
	mu sync.RWMutex
	t  = telemetry{}
)

func IncrementConnectionFailures() {
	mu.Lock()
	t.connectionFailures++
	mu.Unlock()
}

func SetSendLoopErrors(n int64) {
	mu.Lock()
	t.sendLoopErrors = n
	mu.Unlock()
}

func IncrementFramesSent() {
	mu.Lock()
	t.framesSent++
	mu.Unlock()
}

func IncrementFramesReceived() {
	mu.Lock()
	t.framesReceived++
	mu.Unlock()
}

func IncrementCommandsExecuted() {
	mu.Lock()
	t.commandsExecuted++
	mu.Unlock()
}

func snapshot() map[string]int64 {
	mu.RLock()
	defer mu.RUnlock()
	return map[string]int64{
		"agent_connection_failures_total": t.connectionFailures,
		"agent_send_loop_errors":          t.sendLoopErrors,
		"agent_frames_sent_total":         t.framesSent,
		"agent_frames_received_total":     t.framesReceived,
		"agent_commands_executed_total":   t.commandsExecuted,
	}
}

func handler(w http.ResponseWriter, r *http.Request) {
	m := snapshot()
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s %d\n", name, m[name])
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(b.String()))
}

// StartServer serves the /metrics endpoint at addr until ctx is done.
func StartServer(ctx context.Context, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return fmt.Errorf("metrics: empty listen address")
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
