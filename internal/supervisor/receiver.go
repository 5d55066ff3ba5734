package supervisor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"

	"github.com/ispapp/telemetry-agent/internal/cadence"
	"github.com/ispapp/telemetry-agent/internal/cmdrunner"
	"github.com/ispapp/telemetry-agent/internal/config"
	"github.com/ispapp/telemetry-agent/internal/metrics"
	"github.com/ispapp/telemetry-agent/internal/session"
	"github.com/ispapp/telemetry-agent/internal/wsproto"
)

// Receiver reads frames sequentially and dispatches them by their `type`
// field. It is the only loop that reads the stream, so it owns detecting
// protocol violations and fatal peer errors.
type Receiver struct {
	Session *session.Session
	Runner  *cmdrunner.Runner
	Reboot  func() error
}

// Run reads until the connection errors, a fatal message arrives, or ctx
// is cancelled.
func (r *Receiver) Run(ctx context.Context) {
	sess := r.Session
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := sess.Conn.ReadMessage()
		if err != nil {
			sess.Flags.SetForceReconnect()
			return
		}
		metrics.IncrementFramesReceived()
		sess.Flags.TouchLastResponse()

		if msg.Opcode != wsproto.OpText {
			continue
		}

		var env envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			sess.Flags.SetForceReconnect()
			return
		}

		switch env.Type {
		case "error":
			var e incomingError
			_ = json.Unmarshal(msg.Payload, &e)
			log.Printf("supervisor: listener error: %s", e.Message)
			sess.Flags.SetForceReconnect()
			return
		case "config":
			if err := r.handleConfig(msg.Payload); err != nil {
				log.Printf("supervisor: persisting host config: %v", err)
				sess.Flags.SetForceReconnect()
				return
			}
		case "update":
			r.handleUpdate(msg.Payload)
		case "cmd":
			go r.handleCmd(ctx, msg.Payload)
		default:
			// Unknown message types are ignored rather than treated as a
			// protocol violation, so new server-side types stay forward
			// compatible with older agents.
		}
	}
}

func (r *Receiver) handleConfig(payload []byte) error {
	var msg incomingConfig
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	if !msg.Client.Authed || len(msg.Client.Host) == 0 {
		return nil
	}

	if err := config.PersistHostConfig(r.Session.HostConfigPath, msg.Client.Host); err != nil {
		return err
	}

	var host hostSubtree
	if err := json.Unmarshal(msg.Client.Host, &host); err != nil {
		return err
	}

	cur := r.Session.GetCadence()
	cur.ListenerUpdateIntervalSeconds = host.UpdateIntervalSeconds
	cur.ListenerOutageIntervalSeconds = host.OutageIntervalSeconds
	r.Session.SetCadence(cur)
	r.Session.Flags.SetLastConfigChangeTsMs(host.LastConfigChangeTsMs)

	if host.Reboot == 1 {
		log.Printf("supervisor: host config requested reboot")
		syncFilesystems()
		if r.Reboot != nil {
			if err := r.Reboot(); err != nil {
				log.Printf("supervisor: reboot failed: %v", err)
			}
		}
	}
	return nil
}

func (r *Receiver) handleUpdate(payload []byte) {
	var msg incomingUpdate
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}
	sess := r.Session

	if msg.LastConfigChangeTsMs != 0 && msg.LastConfigChangeTsMs != sess.Flags.LastConfigChangeTsMs() {
		sess.Flags.RequestConfig()
	}

	cur := sess.GetCadence()
	wait, delta := cadence.Apply(cur, cadence.UpdateResponse{
		UpdateFast:             msg.UpdateFast,
		LastUpdateOffsetSec:    msg.LastUpdateOffsetSec,
		LastColUpdateOffsetSec: msg.LastColUpdateOffsetSec,
	}, sess.ConfiguredFastDelay)

	cur.UpdateWaitSeconds = wait
	sess.SetCadence(cur)
	sess.Flags.AddSendColData(int32(delta))
}

func (r *Receiver) handleCmd(ctx context.Context, payload []byte) {
	var msg incomingCmd
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}

	result, err := r.Runner.Run(ctx, cmdrunner.Request{Cmd: msg.Cmd, UUID: msg.UUIDv4, WSID: msg.WSID})
	if err != nil {
		var launchErr *cmdrunner.ErrLaunchFailed
		if !errors.As(err, &launchErr) {
			log.Printf("supervisor: command run failed: %v", err)
			return
		}
		result = cmdrunner.Result{
			UUID:   msg.UUIDv4,
			WSID:   msg.WSID,
			Stdout: "",
			Stderr: base64.StdEncoding.EncodeToString([]byte(err.Error())),
		}
	}

	reply := cmdReply{
		Type:   "cmd",
		UUIDv4: result.UUID,
		Stdout: result.Stdout,
		Stderr: result.Stderr,
		WSID:   result.WSID,
	}
	buf, err := json.Marshal(reply)
	if err != nil {
		log.Printf("supervisor: marshalling cmd reply: %v", err)
		return
	}
	if err := r.Session.Conn.WriteFrame(wsproto.OpText, buf); err != nil {
		log.Printf("supervisor: writing cmd reply: %v", err)
		return
	}
	metrics.IncrementFramesSent()
	metrics.IncrementCommandsExecuted()
}
