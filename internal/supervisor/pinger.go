package supervisor

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/ispapp/telemetry-agent/internal/pingprobe"
	"github.com/ispapp/telemetry-agent/internal/session"
)

// collectorGatePoll is the granularity Pinger uses while waiting for the
// next cycle to be worth starting.
const collectorGatePoll = 100 * time.Millisecond

// prober is the subset of *pingprobe.Prober that Pinger depends on,
// narrowed so tests can supply a fake instead of a real raw ICMP socket.
type prober interface {
	Probe(ctx context.Context, hostLabel string, dst net.IP, count, ttl int, perEchoTimeout time.Duration) (pingprobe.Result, error)
}

// Pinger refreshes the ping-collector snapshot SenderLoop publishes
// alongside the other collector payloads.
type Pinger struct {
	Session      *session.Session
	Prober       prober
	Hosts        []string
	EndpointHost string
}

// Run cycles probes against the configured hosts plus the session
// endpoint until ctx is cancelled or the session signals reconnect.
func (p *Pinger) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if p.Session.Flags.ForceReconnect() {
			return
		}

		results := p.probeAll(ctx)
		if buf, err := json.Marshal(results); err == nil {
			p.Session.Ping.Store(string(buf))
		}

		p.waitForGate(ctx)
	}
}

func (p *Pinger) probeAll(ctx context.Context) []pingprobe.Result {
	hosts := make([]string, 0, len(p.Hosts)+1)
	hosts = append(hosts, p.Hosts...)
	hosts = append(hosts, p.EndpointHost)

	out := make([]pingprobe.Result, 0, len(hosts))
	for _, h := range hosts {
		ip, err := resolveIPv4(ctx, h)
		if err != nil {
			continue
		}
		res, err := p.Prober.Probe(ctx, h, ip, pingprobe.DefaultCount, pingprobe.DefaultTTL, pingprobe.DefaultPerEchoTimeout)
		if err != nil && res.Host == "" {
			continue
		}
		out = append(out, res)
	}
	return out
}

func resolveIPv4(ctx context.Context, host string) (net.IP, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no A records", Name: host}
	}
	return ips[0], nil
}

// waitForGate polls at collectorGatePoll granularity until the current
// cadence's update_wait has elapsed, modeling the gate SenderLoop would
// otherwise release explicitly between cycles.
func (p *Pinger) waitForGate(ctx context.Context) {
	deadline := time.Now().Add(time.Duration(p.Session.GetCadence().UpdateWaitSeconds) * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(collectorGatePoll):
		}
		if p.Session.Flags.ForceReconnect() {
			return
		}
	}
}
