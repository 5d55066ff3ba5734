// Package cadence implements the adaptive update-interval state machine
// that governs how often the sender pushes updates. It is pure and
// stateless in its transition logic: the same UpdateResponse always
// produces the same (UpdateWait, SendColDataDelta) pair, independent of
// history.
package cadence

// State is the mutable cadence cell shared between SenderLoop (reader) and
// ReceiverLoop (writer).
type State struct {
	UpdateWaitSeconds    int
	ListenerUpdateIntervalSeconds int
	ListenerOutageIntervalSeconds int
}

// Initial returns the cadence state a freshly connected session starts
// with.
func Initial(configuredFastDelay int) State {
	return State{
		UpdateWaitSeconds:             2,
		ListenerUpdateIntervalSeconds: 60,
		ListenerOutageIntervalSeconds: 300,
	}
}

// UpdateResponse is the subset of a server `update` reply that drives the
// cadence transition.
type UpdateResponse struct {
	UpdateFast             bool
	LastUpdateOffsetSec    int
	LastColUpdateOffsetSec int
}

// Apply runs one transition of the cadence table and returns the
// new UpdateWaitSeconds plus how much to add to send_col_data (0 or 1).
// configuredFastDelay is the CLI UPDATE_DELAY argument.
func Apply(s State, resp UpdateResponse, configuredFastDelay int) (updateWait, sendColDataDelta int) {
	var wait int
	var delta int

	switch {
	case resp.UpdateFast:
		wait = configuredFastDelay
		delta = 1
	default:
		colWait := s.ListenerUpdateIntervalSeconds - resp.LastColUpdateOffsetSec
		outageWait := s.ListenerOutageIntervalSeconds - resp.LastUpdateOffsetSec
		if colWait <= outageWait {
			wait = colWait
			delta = 1
		} else {
			wait = outageWait
			delta = 0
		}
	}

	if wait < 0 {
		wait = configuredFastDelay
		delta = 0
	}

	return wait, delta
}
