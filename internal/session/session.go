// Package session holds the per-connection state shared by SenderLoop,
// ReceiverLoop, and PingerLoop. A Session is
// constructed once TCP+TLS+handshake succeed and is fully destroyed before
// the next reconnect attempt builds a new one — SessionSupervisor owns
// that lifecycle, not this package.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ispapp/telemetry-agent/internal/cadence"
	"github.com/ispapp/telemetry-agent/internal/wsproto"
)

// Identity is the set of credentials used to authenticate the websocket
// upgrade. Immutable for the process lifetime.
type Identity struct {
	LoginMAC     string
	CollectKey   string
	EndpointHost string
	EndpointPort int
}

// DeviceProfile is the static description of this device sent in config
// requests. Immutable for a session (it can only change across a process
// restart, since it is built from CLI arguments).
type DeviceProfile struct {
	ClientInfo          string
	HardwareMake        string
	HardwareModel       string
	HardwareModelNumber string
	HardwareCPUInfo     string
	HardwareSerial      string
	FW                  string
	OSBuildDate         int64
	Hostname            string
	WebshellSupport     bool

	// Supplemented from original_source/collect-client.c: optional
	// geolocation, absent from the distilled spec but present in the
	// original client's payload. The distinct outside (NAT-observed) IP is
	// not stored here; the sender fetches it per update via hostinfo.
	Lat *float64
	Lng *float64
}

// Flags is the set of cross-loop atomic signals the three loops use to
// coordinate without a shared lock. Every field here is safe for
// concurrent access from all three loops without additional locking.
type Flags struct {
	sendConfigRequest atomic.Bool
	sendColData       atomic.Int32
	forceReconnect    atomic.Bool
	sendLoopErrors    atomic.Int32
	lastResponseAt    atomic.Int64 // unix nanos
	lastConfigChangeTsMs atomic.Int64
	connectionFailures atomic.Int64
}

func NewFlags() *Flags {
	f := &Flags{}
	f.sendColData.Store(1)
	f.lastResponseAt.Store(time.Now().UnixNano())
	return f
}

func (f *Flags) RequestConfig()          { f.sendConfigRequest.Store(true) }
func (f *Flags) TakeConfigRequest() bool { return f.sendConfigRequest.Swap(false) }

func (f *Flags) SendColData() int32    { return f.sendColData.Load() }
func (f *Flags) SetSendColData(v int32) { f.sendColData.Store(v) }
func (f *Flags) DecrementSendColData() int32 {
	return f.sendColData.Add(-1)
}
func (f *Flags) AddSendColData(delta int32) int32 {
	if delta == 0 {
		return f.sendColData.Load()
	}
	return f.sendColData.Add(delta)
}

func (f *Flags) ForceReconnect() bool   { return f.forceReconnect.Load() }
func (f *Flags) SetForceReconnect()     { f.forceReconnect.Store(true) }

func (f *Flags) SendLoopErrors() int32       { return f.sendLoopErrors.Load() }
func (f *Flags) IncrementSendLoopErrors() int32 { return f.sendLoopErrors.Add(1) }
func (f *Flags) ResetSendLoopErrors()        { f.sendLoopErrors.Store(0) }

func (f *Flags) TouchLastResponse() { f.lastResponseAt.Store(time.Now().UnixNano()) }
func (f *Flags) LastResponseAt() time.Time {
	return time.Unix(0, f.lastResponseAt.Load())
}

func (f *Flags) LastConfigChangeTsMs() int64 { return f.lastConfigChangeTsMs.Load() }
func (f *Flags) SetLastConfigChangeTsMs(ts int64) {
	// Monotonically advanced only by server messages, never rewound.
	for {
		cur := f.lastConfigChangeTsMs.Load()
		if ts <= cur {
			return
		}
		if f.lastConfigChangeTsMs.CompareAndSwap(cur, ts) {
			return
		}
	}
}

func (f *Flags) ConnectionFailures() int64       { return f.connectionFailures.Load() }
func (f *Flags) IncrementConnectionFailures() int64 { return f.connectionFailures.Add(1) }

// PingSnapshot is a pointer-swapped, immutable JSON text. Readers always
// see either the old or the new complete value, never a torn string.
type PingSnapshot struct {
	p atomic.Pointer[string]
}

func (s *PingSnapshot) Store(jsonText string) { s.p.Store(&jsonText) }
func (s *PingSnapshot) Load() string {
	p := s.p.Load()
	if p == nil {
		return "[]"
	}
	return *p
}

// Session is the live handle the three loops share.
type Session struct {
	Conn     *wsproto.Conn
	Identity Identity
	Profile  DeviceProfile
	Cadence  cadence.State
	CadenceMu sync.Mutex
	Flags    *Flags
	Ping     PingSnapshot

	ConfiguredFastDelay int // CLI UPDATE_DELAY argument

	// HostConfigPath is where a successful config reply's host subtree is
	// persisted by the receiver loop.
	HostConfigPath string

	// TimeoutCmdAvailable records whether `timeout` was found on PATH at
	// startup; surfaced in config messages' capability flags.
	TimeoutCmdAvailable bool
}

// New builds a Session around an already-upgraded connection. Cadence
// starts at its initial values.
func New(conn *wsproto.Conn, id Identity, profile DeviceProfile, fastDelay int, hostConfigPath string, timeoutAvailable bool) *Session {
	return &Session{
		Conn:                conn,
		Identity:            id,
		Profile:             profile,
		Cadence:             cadence.Initial(fastDelay),
		Flags:               NewFlags(),
		ConfiguredFastDelay: fastDelay,
		HostConfigPath:      hostConfigPath,
		TimeoutCmdAvailable: timeoutAvailable,
	}
}

// GetCadence returns a copy of the current cadence state.
func (s *Session) GetCadence() cadence.State {
	s.CadenceMu.Lock()
	defer s.CadenceMu.Unlock()
	return s.Cadence
}

// SetCadence replaces the cadence state.
func (s *Session) SetCadence(c cadence.State) {
	s.CadenceMu.Lock()
	s.Cadence = c
	s.CadenceMu.Unlock()
}
