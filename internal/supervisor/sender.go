package supervisor

import (
	"context"
	"encoding/json"
	"runtime"
	"time"

	"github.com/ispapp/telemetry-agent/internal/collectors"
	"github.com/ispapp/telemetry-agent/internal/metrics"
	"github.com/ispapp/telemetry-agent/internal/session"
	"github.com/ispapp/telemetry-agent/internal/wsproto"
)

// tickInterval is the coarse timer granularity the sender polls on; it
// never sleeps for a single long stretch so it can notice force_reconnect
// promptly.
const tickInterval = 500 * time.Millisecond

// Sender is the single writer of update/config frames. It never reads
// from the stream; cmd replies are the only other frame type written to
// the connection, and they share wsproto.Conn's write mutex.
type Sender struct {
	Session    *session.Session
	Collectors []collectors.Collector
	WanIP      func() string
	OutsideIP  func() string
	Uptime     func() uint64
}

// Run drives one sender loop for the lifetime of the session. It returns
// as soon as ForceReconnect is observed or ctx is cancelled.
func (s *Sender) Run(ctx context.Context) {
	sess := s.Session
	iterStart := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if sess.Flags.ForceReconnect() {
			return
		}

		cadence := sess.GetCadence()
		wait := time.Duration(cadence.UpdateWaitSeconds) * time.Second
		if time.Since(iterStart) < wait {
			select {
			case <-ctx.Done():
				return
			case <-time.After(tickInterval):
			}
			continue
		}
		iterStart = time.Now()

		staleLimit := 4 * wait
		if staleLimit <= 0 {
			staleLimit = tickInterval
		}
		if time.Since(sess.Flags.LastResponseAt()) >= staleLimit {
			sess.Flags.SetForceReconnect()
			return
		}

		if sess.Flags.TakeConfigRequest() {
			if err := s.sendConfig(); err != nil && s.recordWriteError() {
				return
			}
		}

		if err := s.sendUpdate(); err != nil && s.recordWriteError() {
			return
		}
	}
}

// recordWriteError mirrors the write-error accounting: more than four
// write failures in a session forces a reconnect.
func (s *Sender) recordWriteError() bool {
	metrics.SetSendLoopErrors(int64(s.Session.Flags.IncrementSendLoopErrors()))
	if s.Session.Flags.SendLoopErrors() > 4 {
		s.Session.Flags.SetForceReconnect()
		return true
	}
	return false
}

func (s *Sender) sendConfig() error {
	sess := s.Session
	msg := configRequest{
		Type:                 "config",
		ClientInfo:           sess.Profile.ClientInfo,
		OS:                   runtime.GOOS,
		OSVersion:            sess.Profile.FW,
		HardwareMake:         sess.Profile.HardwareMake,
		HardwareModel:        sess.Profile.HardwareModel,
		HardwareModelNumber:  sess.Profile.HardwareModelNumber,
		HardwareCPUInfo:      sess.Profile.HardwareCPUInfo,
		HardwareSerialNumber: sess.Profile.HardwareSerial,
		OSBuildDate:          sess.Profile.OSBuildDate,
		FW:                   sess.Profile.FW,
		Hostname:             sess.Profile.Hostname,
		WebshellSupport:      sess.Profile.WebshellSupport,
		TimeoutCmdAvailable:  sess.TimeoutCmdAvailable,
	}
	buf, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := sess.Conn.WriteFrame(wsproto.OpText, buf); err != nil {
		return err
	}
	metrics.IncrementFramesSent()
	return nil
}

func (s *Sender) sendUpdate() error {
	sess := s.Session

	includeCollectors := sess.Flags.SendColData() > 0
	if after := sess.Flags.DecrementSendColData(); after < 0 {
		sess.Flags.SetSendColData(1)
	}

	msg := updateMessage{
		Type:   "update",
		Uptime: s.Uptime(),
		WanIP:  s.WanIP(),
		Lat:    sess.Profile.Lat,
		Lng:    sess.Profile.Lng,
	}
	if oip := s.OutsideIP(); oip != "" {
		msg.OutsideIP = oip
	}

	if includeCollectors {
		payload := &collectorsPayload{Ping: json.RawMessage(sess.Ping.Load())}
		for _, c := range s.Collectors {
			raw, err := c.Collect(context.Background())
			if err != nil {
				continue
			}
			switch c.Name() {
			case "system":
				payload.System = raw
			case "interface":
				payload.Interface = raw
			case "wap":
				payload.Wap = raw
			}
		}
		msg.Collectors = payload
	}

	buf, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := sess.Conn.WriteFrame(wsproto.OpText, buf); err != nil {
		return err
	}
	metrics.IncrementFramesSent()
	return nil
}
