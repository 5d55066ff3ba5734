package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ispapp/telemetry-agent/internal/collectors"
	"github.com/ispapp/telemetry-agent/internal/collectors/iface"
	"github.com/ispapp/telemetry-agent/internal/collectors/system"
	"github.com/ispapp/telemetry-agent/internal/collectors/wap"
	"github.com/ispapp/telemetry-agent/internal/config"
	"github.com/ispapp/telemetry-agent/internal/hostinfo"
	"github.com/ispapp/telemetry-agent/internal/metrics"
	"github.com/ispapp/telemetry-agent/internal/session"
	"github.com/ispapp/telemetry-agent/internal/supervisor"
)

func main() {
	args, err := config.ParseArgs(os.Args[1:])
	if err != nil {
		log.Printf("%v", err)
		log.Printf("usage: %s", config.Usage(filepath.Base(os.Args[0])))
		os.Exit(0)
	}

	loginMAC, err := config.ResolveLoginMAC(args.WlanIf)
	if err != nil {
		log.Fatalf("resolving login MAC: %v", err)
	}

	overrides, err := config.LoadOverrides(overridesPath())
	if err != nil {
		log.Fatalf("loading overrides: %v", err)
	}

	tlsCfg, err := buildTLSConfig(args.RootCertPath)
	if err != nil {
		log.Fatalf("loading root certificate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		log.Printf("agent: received %s, shutting down", sig)
		cancel()
	}()

	// SIGSEGV is caught and logged rather than left to the default
	// terminate-and-dump handler; the original agent's handler is
	// likewise a no-op beyond logging.
	segvc := make(chan os.Signal, 1)
	signal.Notify(segvc, syscall.SIGSEGV)
	go func() {
		for sig := range segvc {
			log.Printf("agent: caught %s", sig)
		}
	}()

	if overrides.MetricsAddr != "" {
		go func() {
			if err := metrics.StartServer(ctx, overrides.MetricsAddr); err != nil {
				log.Printf("agent: metrics server stopped: %v", err)
			}
		}()
		log.Printf("agent: metrics listening on %s", overrides.MetricsAddr)
	}

	sup, err := supervisor.New(supervisor.Config{
		Identity: session.Identity{
			LoginMAC:     loginMAC,
			CollectKey:   args.Key,
			EndpointHost: args.Address,
			EndpointPort: args.Port,
		},
		Profile: session.DeviceProfile{
			ClientInfo:          "ispapp-telemetry-agent",
			HardwareMake:        args.HardwareMake,
			HardwareModel:       args.HardwareModel,
			HardwareModelNumber: args.HardwareModelNumber,
			HardwareCPUInfo:     args.HardwareCPUInfo,
			HardwareSerial:      args.HardwareSerial,
			FW:                  args.Firmware,
			OSBuildDate:         args.OSBuildDate,
			Hostname:            hostname(),
		},
		TLSConfig:      tlsCfg,
		FastDelay:      args.UpdateDelay,
		HostConfigPath: args.ConfigOutputFile,
		PingHosts:      overrides.PingHosts,
		Collectors: []collectors.Collector{
			system.New(),
			iface.New(),
			wap.New(),
		},
		WanIP:     hostinfo.WanIP,
		OutsideIP: hostinfo.OutsideIP,
		Uptime:    hostinfo.Uptime,
		Reboot:    hostinfo.Reboot,
	})
	if err != nil {
		log.Fatalf("agent: starting supervisor: %v", err)
	}

	log.Printf("agent: connecting to %s:%d", args.Address, args.Port)
	sup.Run(ctx)
	log.Printf("agent: stopped")
}

// overridesPath is overrides.yaml in the process's working directory, or
// the path in AGENT_OVERRIDES_FILE when that is set, rather than a CLI
// argument, since the local override file is an ambient tuning knob, not
// part of the wire-protocol surface the positional arguments describe.
func overridesPath() string {
	if p := os.Getenv("AGENT_OVERRIDES_FILE"); p != "" {
		return p
	}
	return "overrides.yaml"
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

func buildTLSConfig(rootCertPath string) (*tls.Config, error) {
	pool := x509.NewCertPool()
	if rootCertPath != "" {
		pem, err := os.ReadFile(rootCertPath)
		if err != nil {
			return nil, err
		}
		if !pool.AppendCertsFromPEM(pem) {
			log.Printf("agent: no certificates parsed from %s, falling back to the system pool", rootCertPath)
			pool = nil
		}
	} else {
		pool = nil
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}
