// Package config handles the agent's external configuration surfaces:
// positional CLI arguments, the persisted host-config file, and an
// optional local YAML override file for ambient tuning knobs not named
// by the wire protocol (log verbosity, ping hosts, metrics address).
package config

import (
	"fmt"
	"net"
	"strconv"
)

// positionalArgNames documents the required CLI argument order.
var positionalArgNames = []string{
	"ADDRESS", "PORT", "WLAN_IF", "KEY",
	"HARDWARE_MAKE", "HARDWARE_MODEL", "HARDWARE_MODEL_NUMBER",
	"HARDWARE_CPU_INFO", "HARDWARE_SERIAL", "OS_BUILD_DATE", "FIRMWARE",
	"ROOT_CERT_PATH", "CONFIG_OUTPUT_FILE", "UPDATE_DELAY",
}

// CLIArgs is the parsed form of the agent's required positional
// arguments.
type CLIArgs struct {
	Address             string
	Port                int
	WlanIf              string
	Key                 string
	HardwareMake        string
	HardwareModel       string
	HardwareModelNumber string
	HardwareCPUInfo     string
	HardwareSerial      string
	OSBuildDate         int64
	Firmware            string
	RootCertPath        string
	ConfigOutputFile    string
	UpdateDelay         int
}

// ErrMissingArgs is returned when fewer than len(positionalArgNames)
// arguments are given; the caller should print usage and exit 0.
type ErrMissingArgs struct{ Got int }

func (e *ErrMissingArgs) Error() string {
	return fmt.Sprintf("expected %d positional arguments, got %d", len(positionalArgNames), e.Got)
}

// Usage renders the one-line usage string naming every positional
// argument in order.
func Usage(progName string) string {
	s := progName
	for _, n := range positionalArgNames {
		s += " " + n
	}
	return s
}

// ParseArgs parses the required positional arguments.
func ParseArgs(args []string) (*CLIArgs, error) {
	if len(args) < len(positionalArgNames) {
		return nil, &ErrMissingArgs{Got: len(args)}
	}

	port, err := strconv.Atoi(args[1])
	if err != nil {
		return nil, fmt.Errorf("PORT: %w", err)
	}
	buildDate, err := strconv.ParseInt(args[9], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("OS_BUILD_DATE: %w", err)
	}
	updateDelay, err := strconv.Atoi(args[13])
	if err != nil {
		return nil, fmt.Errorf("UPDATE_DELAY: %w", err)
	}

	return &CLIArgs{
		Address:             args[0],
		Port:                port,
		WlanIf:              args[2],
		Key:                 args[3],
		HardwareMake:        args[4],
		HardwareModel:       args[5],
		HardwareModelNumber: args[6],
		HardwareCPUInfo:     args[7],
		HardwareSerial:      args[8],
		OSBuildDate:         buildDate,
		Firmware:            args[10],
		RootCertPath:        args[11],
		ConfigOutputFile:    args[12],
		UpdateDelay:         updateDelay,
	}, nil
}

// ResolveLoginMAC reads the hardware address of WLAN_IF, used as the
// `login` credential presented during the handshake.
func ResolveLoginMAC(wlanIf string) (string, error) {
	iface, err := net.InterfaceByName(wlanIf)
	if err != nil {
		return "", fmt.Errorf("resolving MAC for %q: %w", wlanIf, err)
	}
	if len(iface.HardwareAddr) == 0 {
		return "", fmt.Errorf("interface %q has no hardware address", wlanIf)
	}
	return iface.HardwareAddr.String(), nil
}
