// Package collectors defines the contract SenderLoop uses to gather the
// collector payloads this agent knows how to gather (system, interface,
// wireless-AP, ping). The core session engine only consumes the JSON
// values a Collector produces; how each one is obtained is its own
// concern. The sub-packages here provide real, if reduced,
// implementations so the session engine can be exercised end-to-end.
package collectors

import (
	"context"
	"encoding/json"
)

// Collector produces one named JSON snapshot for inclusion under the
// `collectors` object of an `update` message.
type Collector interface {
	Name() string
	Collect(ctx context.Context) (json.RawMessage, error)
}
