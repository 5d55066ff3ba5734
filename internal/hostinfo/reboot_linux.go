//go:build linux

package hostinfo

import "golang.org/x/sys/unix"

// Reboot issues the same restart request the original C agent performed
// directly: sync() the filesystems, then ask the kernel to restart.
func Reboot() error {
	unix.Sync()
	return unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART)
}
