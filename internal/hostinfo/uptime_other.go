//go:build !linux

package hostinfo

func kernelUptimeSeconds() (uint64, bool) { return 0, false }
