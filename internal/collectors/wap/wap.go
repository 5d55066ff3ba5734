// Package wap mirrors the wireless-AP shapes from
// original_source/ispappd/src/types.h (WirelessInterface, SecurityProfile)
// as Go structs, documenting the JSON a netlink-802.11-backed
// implementation would fill in. Netlink 802.11 collection is out of scope
// here, so Collect is a contract-satisfying no-op rather than a real radio
// query.
package wap

import (
	"context"
	"encoding/json"
)

type Collector struct{}

func New() *Collector { return &Collector{} }

func (c *Collector) Name() string { return "wap" }

// WirelessInterface is the Go projection of the original C struct.
type WirelessInterface struct {
	ID               string `json:"id"`
	Disabled         bool   `json:"disabled"`
	HideSSID         bool   `json:"hideSsid"`
	InterfaceType    string `json:"interfaceType"`
	MACAddress       string `json:"macAddress"`
	MasterInterface  string `json:"masterInterface"`
	Name             string `json:"name"`
	Running          bool   `json:"running"`
	SecurityProfile  string `json:"securityProfile"`
	SSID             string `json:"ssid"`
	Band             string `json:"band"`
}

// SecurityProfile is the Go projection of the original C struct.
type SecurityProfile struct {
	ID                  string   `json:"id"`
	AuthenticationTypes []string `json:"authenticationTypes"`
	DefaultProfile      bool     `json:"defaultProfile"`
	EAPMethods          []string `json:"eapMethods"`
	GroupCiphers        []string `json:"groupCiphers"`
	Mode                string   `json:"mode"`
	Name                string   `json:"name"`
	Technology          string   `json:"technology"`
}

func (c *Collector) Collect(ctx context.Context) (json.RawMessage, error) {
	return json.Marshal([]WirelessInterface{})
}
