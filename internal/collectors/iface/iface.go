// Package iface collects per-interface counters, a reduced Go-idiomatic
// analog of the C `Interface` struct in
// original_source/ispappd/src/types.h.
package iface

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"strconv"
	"strings"
)

type Collector struct{}

func New() *Collector { return &Collector{} }

func (c *Collector) Name() string { return "interface" }

// Entry mirrors the counters the listener expects per interface; field
// names match the `Interface` struct's camelCase JSON projection.
type Entry struct {
	InterfaceName string `json:"interfaceName"`
	MAC           string `json:"mac"`
	RecBytes      uint64 `json:"recBytes"`
	RecPackets    uint64 `json:"recPackets"`
	RecErrors     uint64 `json:"recErrors"`
	RecDrops      uint64 `json:"recDrops"`
	SentBytes     uint64 `json:"sentBytes"`
	SentPackets   uint64 `json:"sentPackets"`
	SentErrors    uint64 `json:"sentErrors"`
	SentDrops     uint64 `json:"sentDrops"`
}

func (c *Collector) Collect(ctx context.Context) (json.RawMessage, error) {
	counters := readProcNetDev()

	ifs, err := net.Interfaces()
	if err != nil {
		return json.Marshal([]Entry{})
	}

	entries := make([]Entry, 0, len(ifs))
	for _, nic := range ifs {
		e := Entry{InterfaceName: nic.Name, MAC: nic.HardwareAddr.String()}
		if ctr, ok := counters[nic.Name]; ok {
			e = ctr
			e.InterfaceName = nic.Name
			e.MAC = nic.HardwareAddr.String()
		}
		entries = append(entries, e)
	}
	return json.Marshal(entries)
}

// readProcNetDev parses /proc/net/dev's fixed-column counter format. Absent
// on non-Linux hosts; callers fall back to zeroed counters.
func readProcNetDev() map[string]Entry {
	out := map[string]Entry{}
	f, err := os.Open("/proc/net/dev")
	if err != nil {
		return out
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if lineNo <= 2 {
			continue // two header lines
		}
		line := sc.Text()
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		name := strings.TrimSpace(line[:colon])
		fields := strings.Fields(line[colon+1:])
		if len(fields) < 16 {
			continue
		}
		out[name] = Entry{
			RecBytes:    parseU64(fields[0]),
			RecPackets:  parseU64(fields[1]),
			RecErrors:   parseU64(fields[2]),
			RecDrops:    parseU64(fields[3]),
			SentBytes:   parseU64(fields[8]),
			SentPackets: parseU64(fields[9]),
			SentErrors:  parseU64(fields[10]),
			SentDrops:   parseU64(fields[11]),
		}
	}
	return out
}

func parseU64(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}
