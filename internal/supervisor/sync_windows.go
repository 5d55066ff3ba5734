//go:build windows

package supervisor

// syncFilesystems is a no-op on Windows; this agent's reboot-on-host-config
// path targets embedded Linux devices.
func syncFilesystems() {}
