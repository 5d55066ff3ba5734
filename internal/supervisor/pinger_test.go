package supervisor

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ispapp/telemetry-agent/internal/cadence"
	"github.com/ispapp/telemetry-agent/internal/pingprobe"
)

// fakeProber records which hosts it was asked to probe and returns a
// canned Result per call, avoiding the CAP_NET_RAW requirement of a real
// ICMP socket.
type fakeProber struct {
	mu     sync.Mutex
	probed []string
}

func (f *fakeProber) Probe(ctx context.Context, hostLabel string, dst net.IP, count, ttl int, perEchoTimeout time.Duration) (pingprobe.Result, error) {
	f.mu.Lock()
	f.probed = append(f.probed, hostLabel)
	f.mu.Unlock()
	return pingprobe.Result{Host: hostLabel, AvgRtt: 10, MinRtt: 5, MaxRtt: 15, Loss: 0}, nil
}

func (f *fakeProber) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.probed))
	copy(out, f.probed)
	return out
}

func TestPingerPublishesSnapshotForConfiguredAndEndpointHosts(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sess := newTestSession(t, client, server)
	sess.SetCadence(cadence.State{UpdateWaitSeconds: 0, ListenerUpdateIntervalSeconds: 60, ListenerOutageIntervalSeconds: 300})

	fp := &fakeProber{}
	p := &Pinger{
		Session:      sess,
		Prober:       fp,
		Hosts:        []string{"127.0.0.1"},
		EndpointHost: "127.0.0.1",
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess.Ping.Load() != "[]" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	var results []pingprobe.Result
	if err := json.Unmarshal([]byte(sess.Ping.Load()), &results); err != nil {
		t.Fatalf("unmarshal ping snapshot: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one ping result to be published")
	}
	for _, r := range results {
		if r.Host != "127.0.0.1" {
			t.Fatalf("unexpected host in snapshot: %+v", r)
		}
	}

	if len(fp.seen()) == 0 {
		t.Fatal("expected the prober to have been asked to probe at least one host")
	}

	sess.Flags.SetForceReconnect()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pinger did not exit after ForceReconnect")
	}
}

func TestPingerExitsOnContextCancellation(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sess := newTestSession(t, client, server)
	sess.SetCadence(cadence.State{UpdateWaitSeconds: 60, ListenerUpdateIntervalSeconds: 60, ListenerOutageIntervalSeconds: 300})

	p := &Pinger{
		Session:      sess,
		Prober:       &fakeProber{},
		Hosts:        nil,
		EndpointHost: "127.0.0.1",
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	// Let it publish at least once, then cancel; it should stop waiting
	// out the long gate instead of blocking for 60 seconds.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pinger did not exit promptly after context cancellation")
	}
}
