// Package supervisor owns the reconnect loop and the three concurrent
// loops (sender, receiver, pinger) that share one Session at a time.
// Structurally grounded on an upstream health-check and reconnect
// bookkeeping pattern, generalized from "pick a healthy upstream" to
// "own one session, reconnect on failure."
package supervisor

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ispapp/telemetry-agent/internal/cmdrunner"
	"github.com/ispapp/telemetry-agent/internal/collectors"
	"github.com/ispapp/telemetry-agent/internal/metrics"
	"github.com/ispapp/telemetry-agent/internal/pingprobe"
	"github.com/ispapp/telemetry-agent/internal/session"
	"github.com/ispapp/telemetry-agent/internal/wshandshake"
	"github.com/ispapp/telemetry-agent/internal/wsproto"
)

// reconnectBackoff is the pause between a failed session and the next
// connect attempt.
const reconnectBackoff = 2 * time.Second

// dialTimeout bounds the initial TCP connect; the session itself has no
// further read deadline, since staleness is SenderLoop's job.
const dialTimeout = 10 * time.Second

// teardownTimeout bounds how long Run waits for the three loops to exit
// cooperatively before abandoning them and moving on to the next attempt.
const teardownTimeout = 5 * time.Second

// Config bundles everything a Supervisor needs to dial, authenticate, and
// run sessions; it is built once at startup from parsed CLI arguments and
// does not change across reconnects.
type Config struct {
	Identity       session.Identity
	Profile        session.DeviceProfile
	TLSConfig      *tls.Config
	FastDelay      int
	HostConfigPath string
	PingHosts      []string
	Collectors     []collectors.Collector
	WanIP          func() string
	OutsideIP      func() string
	Uptime         func() uint64
	Reboot         func() error
}

// Supervisor owns the reconnect loop and the lifecycle of one Session at
// a time. At most one Session is ever live; runOnce fully tears one down
// before the next iteration builds another.
type Supervisor struct {
	cfg    Config
	runner *cmdrunner.Runner
	prober *pingprobe.Prober

	connectionFailures atomic.Int64
}

// ConnectionFailures returns the number of sessions (including failed
// connect attempts) that have ended since Run started. The same count is
// exported through the metrics endpoint; it is not included in update
// messages.
func (sup *Supervisor) ConnectionFailures() int64 {
	return sup.connectionFailures.Load()
}

// New opens the raw ICMP socket (a one-time, fatal-if-it-fails
// collaborator) and probes for the `timeout` utility before returning a
// ready-to-run Supervisor.
func New(cfg Config) (*Supervisor, error) {
	runner := cmdrunner.NewRunner()
	runner.TimeoutAvailable()

	prober, err := pingprobe.NewProber()
	if err != nil {
		return nil, err
	}
	return &Supervisor{cfg: cfg, runner: runner, prober: prober}, nil
}

// Run blocks until ctx is cancelled, reconnecting with backoff after every
// session failure.
func (sup *Supervisor) Run(ctx context.Context) {
	defer sup.prober.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := sup.runOnce(ctx); err != nil {
			log.Printf("supervisor: session ended: %v", err)
		}
		sup.connectionFailures.Add(1)
		metrics.IncrementConnectionFailures()

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (sup *Supervisor) runOnce(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", sup.cfg.Identity.EndpointHost, sup.cfg.Identity.EndpointPort)

	rawConn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	tlsCfg := sup.cfg.TLSConfig.Clone()
	tlsCfg.ServerName = sup.cfg.Identity.EndpointHost

	tlsConn := tls.Client(rawConn, tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		tlsConn.Close()
		return fmt.Errorf("tls handshake: %w", err)
	}

	result, err := wshandshake.Do(tlsConn, wshandshake.Request{
		Host:       sup.cfg.Identity.EndpointHost,
		Path:       "/ws",
		LoginMAC:   sup.cfg.Identity.LoginMAC,
		CollectKey: sup.cfg.Identity.CollectKey,
	})
	if err != nil {
		tlsConn.Close()
		return fmt.Errorf("websocket upgrade: %w", err)
	}

	conn := wsproto.NewConn(tlsConn, result.Leftover)
	sess := session.New(conn, sup.cfg.Identity, sup.cfg.Profile, sup.cfg.FastDelay, sup.cfg.HostConfigPath, sup.runner.TimeoutAvailable())
	sess.Flags.RequestConfig()
	sess.Flags.ResetSendLoopErrors()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sender := &Sender{Session: sess, Collectors: sup.cfg.Collectors, WanIP: sup.cfg.WanIP, OutsideIP: sup.cfg.OutsideIP, Uptime: sup.cfg.Uptime}
	receiver := &Receiver{Session: sess, Runner: sup.runner, Reboot: sup.cfg.Reboot}
	pinger := &Pinger{Session: sess, Prober: sup.prober, Hosts: sup.cfg.PingHosts, EndpointHost: sup.cfg.Identity.EndpointHost}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); sender.Run(loopCtx); cancel() }()
	go func() { defer wg.Done(); receiver.Run(loopCtx); cancel() }()
	go func() { defer wg.Done(); pinger.Run(loopCtx) }()

	<-loopCtx.Done()
	sess.Flags.SetForceReconnect()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(teardownTimeout):
		log.Printf("supervisor: loops did not exit cooperatively within %s; closing connection anyway", teardownTimeout)
	}

	conn.Close()
	return nil
}
