// Package hostinfo gathers the small set of live host facts the sender
// loop needs on every update: the outbound-facing WAN address, the
// NAT-observed outside address, and uptime (kernel uptime where available,
// process uptime otherwise), plus the reboot entry point. Grounded on original_source/collect-client.c's get_wan (walks
// /proc/net/route for the default interface, then reads its address) and
// its use of sysinfo.uptime; reimplemented portably rather than parsing
// /proc/net/route directly, since this agent also targets non-Linux
// hosts during development.
package hostinfo

import (
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

var processStart = time.Now()

const outsideIPRefresh = 5 * time.Minute

var outsideIPCache struct {
	mu       sync.Mutex
	value    string
	fetchedAt time.Time
}

// OutsideIP returns the NAT-observed public address, supplementing the
// WAN-local address original_source/collect-client.c reports with the
// outsideIp field the supervisor's updateMessage (message.go) carries. Refreshed at most
// every outsideIPRefresh; a failed lookup keeps the previous value rather
// than blanking it out.
func OutsideIP() string {
	outsideIPCache.mu.Lock()
	defer outsideIPCache.mu.Unlock()

	if time.Since(outsideIPCache.fetchedAt) < outsideIPRefresh && outsideIPCache.value != "" {
		return outsideIPCache.value
	}

	client := http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("https://api.ipify.org")
	if err != nil {
		return outsideIPCache.value
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return outsideIPCache.value
	}

	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return outsideIPCache.value
	}

	outsideIPCache.value = ip
	outsideIPCache.fetchedAt = time.Now()
	return outsideIPCache.value
}

// WanIP returns the local address the kernel would use to reach the
// public internet, without sending any packets (UDP "connect" just
// consults the routing table). Returns "" if no route exists.
func WanIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}

// Uptime reports seconds elapsed, preferring the kernel's own counter
// where available and falling back to process uptime elsewhere.
func Uptime() uint64 {
	if s, ok := kernelUptimeSeconds(); ok {
		return s
	}
	return uint64(time.Since(processStart).Seconds())
}
