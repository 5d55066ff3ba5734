//go:build !linux

package hostinfo

import "errors"

// Reboot is unsupported outside Linux; this agent's reboot path targets
// embedded Linux devices.
func Reboot() error {
	return errors.New("hostinfo: reboot is only supported on linux")
}
