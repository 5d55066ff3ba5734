package supervisor

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ispapp/telemetry-agent/internal/session"
	"github.com/ispapp/telemetry-agent/internal/wsproto"
)

// selfSignedCert builds a throwaway ECDSA certificate for 127.0.0.1, good
// enough to exercise the client's TLS handshake without touching disk or
// a real CA.
func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// fakeListener accepts exactly one TLS connection, performs the raw HTTP
// upgrade handshake server-side, and hands back a wsproto.Conn so the test
// can play the role of the listener.
type fakeListener struct {
	ln   net.Listener
	addr string
}

func startFakeListener(t *testing.T) (*fakeListener, <-chan *wsproto.Conn) {
	t.Helper()
	cert := selfSignedCert(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	conns := make(chan *wsproto.Conn, 1)
	go func() {
		raw, err := ln.Accept()
		if err != nil {
			close(conns)
			return
		}
		conn, leftover, err := serverSideUpgrade(raw)
		if err != nil {
			raw.Close()
			close(conns)
			return
		}
		conns <- wsproto.NewConn(conn, leftover)
	}()

	return &fakeListener{ln: ln, addr: ln.Addr().String()}, conns
}

func (f *fakeListener) Close() { f.ln.Close() }

func (f *fakeListener) port(t *testing.T) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(f.addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return port
}

// serverSideUpgrade performs the listener half of the RFC 6455 handshake
// that wshandshake.Do performs on the client side.
func serverSideUpgrade(conn net.Conn) (net.Conn, []byte, error) {
	br := bufio.NewReader(conn)
	tp := textproto.NewReader(br)

	if _, err := tp.ReadLine(); err != nil {
		return nil, nil, err
	}
	header, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, nil, err
	}

	key := header.Get("Sec-Websocket-Key")
	h := sha1.Sum([]byte(key + "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"))
	accept := base64.StdEncoding.EncodeToString(h[:])

	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n\r\n"
	if _, err := conn.Write([]byte(resp)); err != nil {
		return nil, nil, err
	}

	leftover := make([]byte, br.Buffered())
	if len(leftover) > 0 {
		if _, err := br.Read(leftover); err != nil {
			return nil, nil, err
		}
	}
	return conn, leftover, nil
}

func baseConfig(t *testing.T, fl *fakeListener) Config {
	t.Helper()
	return Config{
		Identity: session.Identity{
			EndpointHost: "127.0.0.1",
			EndpointPort: fl.port(t),
			LoginMAC:     "aa:bb:cc:dd:ee:ff",
			CollectKey:   "testkey",
		},
		Profile:   session.DeviceProfile{ClientInfo: "agent"},
		TLSConfig: &tls.Config{InsecureSkipVerify: true},
		FastDelay: 2,
		WanIP:     func() string { return "10.0.0.1" },
		OutsideIP: func() string { return "" },
		Uptime:    func() uint64 { return 1 },
	}
}

func readServerFrame(t *testing.T, conn *wsproto.Conn) map[string]interface{} {
	t.Helper()
	msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("server ReadMessage: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(msg.Payload, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func writeServerFrame(t *testing.T, conn *wsproto.Conn, v interface{}) {
	t.Helper()
	buf, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteFrame(wsproto.OpText, buf); err != nil {
		t.Fatalf("server WriteFrame: %v", err)
	}
}

// TestSupervisorConnectsAndPersistsAuthedConfig exercises the full dial ->
// TLS -> upgrade -> config-request -> authed-config-reply -> persisted
// host.json path across the real network stack (loopback TLS), standing
// in for a first-connect handshake against a listener.
func TestSupervisorConnectsAndPersistsAuthedConfig(t *testing.T) {
	fl, conns := startFakeListener(t)
	defer fl.Close()

	dir := t.TempDir()
	hostPath := filepath.Join(dir, "host.json")

	cfg := baseConfig(t, fl)
	cfg.HostConfigPath = hostPath

	sup, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	serverConn, ok := <-conns
	if !ok {
		t.Fatal("fake listener never accepted a connection")
	}

	first := readServerFrame(t, serverConn)
	if first["type"] != "config" {
		t.Fatalf("expected the agent's first frame to be a config request, got %+v", first)
	}

	writeServerFrame(t, serverConn, map[string]interface{}{
		"type": "config",
		"client": map[string]interface{}{
			"authed": true,
			"host": map[string]interface{}{
				"updateIntervalSeconds": 45,
				"outageIntervalSeconds": 200,
				"lastConfigChangeTsMs":  5000,
			},
		},
	})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(hostPath); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	data, err := os.ReadFile(hostPath)
	if err != nil {
		t.Fatalf("host config never persisted: %v", err)
	}
	if !strings.Contains(string(data), "45") {
		t.Fatalf("persisted host config missing expected value: %s", data)
	}
}

// TestSupervisorReconnectsAfterListenerCloses confirms that a dropped
// connection ends the session and bumps ConnectionFailures, the step Run
// takes just before backing off and dialing again.
func TestSupervisorReconnectsAfterListenerCloses(t *testing.T) {
	fl, conns := startFakeListener(t)
	defer fl.Close()

	cfg := baseConfig(t, fl)
	cfg.HostConfigPath = filepath.Join(t.TempDir(), "host.json")

	sup, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	serverConn, ok := <-conns
	if !ok {
		t.Fatal("fake listener never accepted a connection")
	}
	_ = readServerFrame(t, serverConn) // the initial config request
	serverConn.Close()

	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		if sup.ConnectionFailures() >= 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("ConnectionFailures never incremented, got %d", sup.ConnectionFailures())
}
