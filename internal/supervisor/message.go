package supervisor

import "encoding/json"

// envelope is the minimal shape every incoming frame must satisfy before
// being dispatched by its `type` field.
type envelope struct {
	Type string `json:"type"`
}

// configRequest is sent whenever the receiver asks the sender for a fresh
// config exchange, or right after a session is established.
type configRequest struct {
	Type                   string `json:"type"`
	ClientInfo             string `json:"clientInfo"`
	OS                     string `json:"os"`
	OSVersion              string `json:"osVersion"`
	HardwareMake           string `json:"hardwareMake"`
	HardwareModel          string `json:"hardwareModel"`
	HardwareModelNumber    string `json:"hardwareModelNumber"`
	HardwareCPUInfo        string `json:"hardwareCpuInfo"`
	HardwareSerialNumber   string `json:"hardwareSerialNumber"`
	OSBuildDate            int64  `json:"osBuildDate"`
	FW                     string `json:"fw"`
	Hostname               string `json:"hostname"`
	WebshellSupport        bool   `json:"webshellSupport"`
	BandwidthTestSupport   bool   `json:"bandwidthTestSupport"`
	FirmwareUpgradeSupport bool   `json:"firmwareUpgradeSupport"`
	TimeoutCmdAvailable    bool   `json:"timeoutCmdAvailable"`
}

// collectorsPayload groups the individual collector snapshots under the
// `collectors` key of an update message. Fields are omitted, not
// null-valued, when a collector has nothing to report.
type collectorsPayload struct {
	Wap       json.RawMessage `json:"wap,omitempty"`
	Ping      json.RawMessage `json:"ping,omitempty"`
	System    json.RawMessage `json:"system,omitempty"`
	Interface json.RawMessage `json:"interface,omitempty"`
}

// updateMessage is the periodic telemetry push. Collectors is nil on a
// bare update (send_col_data gated it out this cycle).
type updateMessage struct {
	Type       string             `json:"type"`
	Uptime     uint64             `json:"uptime"`
	WanIP      string             `json:"wanIp"`
	OutsideIP  string             `json:"outsideIp,omitempty"`
	Lat        *float64           `json:"lat,omitempty"`
	Lng        *float64           `json:"lng,omitempty"`
	Collectors *collectorsPayload `json:"collectors,omitempty"`
}

// cmdReply echoes the dispatching command's trace ids alongside its
// captured, base64-encoded output.
type cmdReply struct {
	Type   string `json:"type"`
	UUIDv4 string `json:"uuidv4"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	WSID   string `json:"ws_id"`
}

type incomingCmd struct {
	Type   string `json:"type"`
	Cmd    string `json:"cmd"`
	UUIDv4 string `json:"uuidv4"`
	WSID   string `json:"ws_id"`
}

type incomingConfig struct {
	Type   string `json:"type"`
	Client struct {
		Authed bool            `json:"authed"`
		Host   json.RawMessage `json:"host"`
	} `json:"client"`
}

// hostSubtree is the portion of client.host the cadence and reboot logic
// cares about; the full raw subtree is what actually gets persisted.
type hostSubtree struct {
	UpdateIntervalSeconds int   `json:"updateIntervalSeconds"`
	OutageIntervalSeconds int   `json:"outageIntervalSeconds"`
	LastConfigChangeTsMs  int64 `json:"lastConfigChangeTsMs"`
	Reboot                int   `json:"reboot"`
}

type incomingUpdate struct {
	Type                   string `json:"type"`
	UpdateFast             bool   `json:"updateFast"`
	LastConfigChangeTsMs   int64  `json:"lastConfigChangeTsMs"`
	LastUpdateOffsetSec    int    `json:"lastUpdateOffsetSec"`
	LastColUpdateOffsetSec int    `json:"lastColUpdateOffsetSec"`
}

type incomingError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
