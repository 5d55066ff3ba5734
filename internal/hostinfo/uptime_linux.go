//go:build linux

package hostinfo

import (
	"os"
	"strconv"
	"strings"
)

// kernelUptimeSeconds reads the first field of /proc/uptime, the same
// counter the original C agent read via sysinfo().uptime.
func kernelUptimeSeconds() (uint64, bool) {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, false
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return uint64(secs), true
}
