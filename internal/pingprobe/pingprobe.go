// Package pingprobe sends ICMP echo requests and reports round-trip
// latency and loss. Structurally grounded on
// other_examples/...malbeclabs-doublezero__tools-uping-pkg-uping-sender.go
// (a raw-socket multi-probe sender with a SendConfig/SendResults shape and
// a pid-seeded echo identifier), implemented here over
// golang.org/x/net/icmp + golang.org/x/net/ipv4 rather than a raw AF_INET
// socket, since this agent is not Linux-only.
package pingprobe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const (
	// DefaultCount is the number of echoes per cycle.
	DefaultCount = 5

	// DefaultTTL is the IP TTL stamped on outgoing echoes.
	DefaultTTL = 64

	// DefaultPerEchoTimeout is the receive deadline for a single echo.
	DefaultPerEchoTimeout = 2 * time.Second

	protocolICMP = 1
)

// ErrPermissionDenied means the raw ICMP socket could not be opened. This
// is fatal at agent startup, not a per-cycle failure.
var ErrPermissionDenied = errors.New("pingprobe: permission denied opening raw ICMP socket (requires CAP_NET_RAW / root)")

// Result is one host's ping-collector entry, per the `ping` collector
// payload shape the update message's ping collector expects.
type Result struct {
	Host    string `json:"host"`
	AvgRtt  int    `json:"avgRtt"`
	MinRtt  int    `json:"minRtt"`
	MaxRtt  int    `json:"maxRtt"`
	Loss    int    `json:"loss"`
}

// Prober owns the single raw ICMP socket used for every probe cycle.
type Prober struct {
	conn *icmp.PacketConn
	id   int
}

// NewProber opens the raw ICMP listening socket once. Failure here is
// meant to be treated as fatal startup error by the caller.
func NewProber() (*Prober, error) {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return &Prober{conn: conn, id: os.Getpid() & 0xffff}, nil
}

func (p *Prober) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// Probe sends count ICMP echoes to host (already resolved to an IPv4
// address) at ttl, waiting up to perEchoTimeout for each reply, and
// returns the aggregate Result. hostLabel is the string recorded in the
// Result (the original hostname, not the resolved IP).
func (p *Prober) Probe(ctx context.Context, hostLabel string, dst net.IP, count int, ttl int, perEchoTimeout time.Duration) (Result, error) {
	if count <= 0 {
		count = DefaultCount
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if perEchoTimeout <= 0 {
		perEchoTimeout = DefaultPerEchoTimeout
	}

	pc := p.conn.IPv4PacketConn()
	if err := pc.SetTTL(ttl); err != nil {
		return Result{}, fmt.Errorf("pingprobe: set TTL: %w", err)
	}

	var (
		received        int
		sum, min, max   int
		haveFirstSample bool
	)

	for seq := 0; seq < count; seq++ {
		select {
		case <-ctx.Done():
			return finalize(hostLabel, count, received, sum, min, max, haveFirstSample), ctx.Err()
		default:
		}

		rtt, err := p.sendOneEcho(dst, seq, perEchoTimeout)
		if err != nil {
			continue // lost or errored echo; counted in loss below
		}
		received++
		ms := int(rtt / time.Millisecond)
		sum += ms
		if !haveFirstSample || ms < min {
			min = ms
		}
		if !haveFirstSample || ms > max {
			max = ms
		}
		haveFirstSample = true
	}

	return finalize(hostLabel, count, received, sum, min, max, haveFirstSample), nil
}

func finalize(host string, sent, received, sum, min, max int, haveSample bool) Result {
	avg := -1
	if haveSample && received > 0 {
		avg = sum / received
	}
	// the source computes loss with integer
	// division (received/sent truncates to 0 unless every echo came back),
	// which only ever yields 0 or 100. Preserved intentionally for
	// compatibility with the listener's existing interpretation.
	loss := 100 - (received/sent)*100
	return Result{Host: host, AvgRtt: avg, MinRtt: min, MaxRtt: max, Loss: loss}
}

func (p *Prober) sendOneEcho(dst net.IP, seq int, timeout time.Duration) (time.Duration, error) {
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   p.id,
			Seq:  seq,
			Data: []byte("ispapp-telemetry-agent"),
		},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	if _, err := p.conn.WriteTo(wb, &net.IPAddr{IP: dst}); err != nil {
		return 0, err
	}

	if err := p.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}

	rb := make([]byte, 1500)
	for {
		n, peer, err := p.conn.ReadFrom(rb)
		if err != nil {
			return 0, err
		}
		if ipAddr, ok := peer.(*net.IPAddr); !ok || !ipAddr.IP.Equal(dst) {
			continue
		}
		rm, err := icmp.ParseMessage(protocolICMP, rb[:n])
		if err != nil {
			continue
		}
		echo, ok := rm.Body.(*icmp.Echo)
		if !ok || echo.ID != p.id || echo.Seq != seq {
			continue
		}
		if rm.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		return time.Since(start), nil
	}
}
