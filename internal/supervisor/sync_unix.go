//go:build !windows

package supervisor

import "golang.org/x/sys/unix"

// syncFilesystems flushes buffered filesystem writes before a
// host-requested reboot, mirroring the original client's sync()-then-reboot
// sequence.
func syncFilesystems() {
	unix.Sync()
}
