package supervisor

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ispapp/telemetry-agent/internal/cmdrunner"
	"github.com/ispapp/telemetry-agent/internal/wsproto"
)

func writeFrame(t *testing.T, raw net.Conn, v interface{}) {
	t.Helper()
	buf, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	conn := wsproto.NewConn(raw, nil)
	if err := conn.WriteFrame(wsproto.OpText, buf); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
}

func TestReceiverPersistsHostConfigOnAuthedConfigReply(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	dir := t.TempDir()
	hostPath := filepath.Join(dir, "host.json")

	sess := newTestSession(t, client, server)
	sess.HostConfigPath = hostPath

	r := &Receiver{Session: sess, Runner: cmdrunner.NewRunner()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	writeFrame(t, server, map[string]interface{}{
		"type": "config",
		"client": map[string]interface{}{
			"authed": true,
			"host": map[string]interface{}{
				"updateIntervalSeconds": 30,
				"outageIntervalSeconds": 120,
				"lastConfigChangeTsMs":  1000,
			},
		},
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(hostPath); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	data, err := os.ReadFile(hostPath)
	if err != nil {
		t.Fatalf("host config not persisted: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal persisted host config: %v", err)
	}
	if got["updateIntervalSeconds"] != float64(30) {
		t.Fatalf("updateIntervalSeconds=%v want 30", got["updateIntervalSeconds"])
	}

	cadence := sess.GetCadence()
	if cadence.ListenerUpdateIntervalSeconds != 30 || cadence.ListenerOutageIntervalSeconds != 120 {
		t.Fatalf("cadence not updated from host config: %+v", cadence)
	}
	if sess.Flags.LastConfigChangeTsMs() != 1000 {
		t.Fatalf("lastConfigChangeTsMs=%d want 1000", sess.Flags.LastConfigChangeTsMs())
	}
}

func TestReceiverSkipsPersistenceWhenNotAuthed(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	dir := t.TempDir()
	hostPath := filepath.Join(dir, "host.json")

	sess := newTestSession(t, client, server)
	sess.HostConfigPath = hostPath

	r := &Receiver{Session: sess, Runner: cmdrunner.NewRunner()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	writeFrame(t, server, map[string]interface{}{
		"type": "config",
		"client": map[string]interface{}{
			"authed": false,
		},
	})

	time.Sleep(100 * time.Millisecond)
	if _, err := os.Stat(hostPath); err == nil {
		t.Fatalf("host config should not have been written")
	}
}

func TestReceiverRequestsConfigWhenChangeTimestampDiffers(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sess := newTestSession(t, client, server)
	sess.Flags.SetLastConfigChangeTsMs(1000)

	r := &Receiver{Session: sess, Runner: cmdrunner.NewRunner()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	writeFrame(t, server, map[string]interface{}{
		"type":                 "update",
		"updateFast":           false,
		"lastConfigChangeTsMs": 2000,
		"lastUpdateOffsetSec":  100,
		"lastColUpdateOffsetSec": 20,
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess.Flags.TakeConfigRequest() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("send_config_request was never set after a changed lastConfigChangeTsMs")
}

func TestReceiverAppliesCadenceFromUpdateReply(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sess := newTestSession(t, client, server)

	r := &Receiver{Session: sess, Runner: cmdrunner.NewRunner()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	writeFrame(t, server, map[string]interface{}{
		"type":                   "update",
		"updateFast":             false,
		"lastConfigChangeTsMs":   0,
		"lastUpdateOffsetSec":    100,
		"lastColUpdateOffsetSec": 20,
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess.GetCadence().UpdateWaitSeconds == 40 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("cadence did not converge to the expected update_wait, got %+v", sess.GetCadence())
}

func TestReceiverRepliesToCommand(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sess := newTestSession(t, client, server)
	r := &Receiver{Session: sess, Runner: cmdrunner.NewRunner()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	writeFrame(t, server, map[string]interface{}{
		"type":   "cmd",
		"cmd":    "echo hello",
		"uuidv4": "u",
		"ws_id":  "w",
	})

	got := readFrame(t, server)
	if got["type"] != "cmd" || got["uuidv4"] != "u" || got["ws_id"] != "w" {
		t.Fatalf("unexpected cmd reply: %+v", got)
	}
}
