package registry

import (
	"net"
	"time"
)

// NumGroups is the number of MIDI trigger groups.
const NumGroups = 9

// State is the discovery state of a slot.
type State int

const (
	StateUnknown      State = iota // nothing heard from the slot
	StateAnnounced                 // hello received
	StateAcknowledged              // ack received
	StateLive                      // hello received after an ack
)

func (s State) String() string {
	switch s {
	case StateAnnounced:
		return "announced"
	case StateAcknowledged:
		return "acknowledged"
	case StateLive:
		return "live"
	}
	return "unknown"
}

// afterHello returns the state reached when a hello arrives.
func (s State) afterHello() State {
	switch s {
	case StateUnknown:
		return StateAnnounced
	case StateAcknowledged:
		return StateLive
	}
	return s
}

// afterAck returns the state reached when an ack arrives.
func (s State) afterAck() State {
	if s == StateLive {
		return s
	}
	return StateAcknowledged
}

// Device is the identity and routing state of one show slot. Values returned
// by the registry are copies.
type Device struct {
	ID           int       // ID - position in the device list, zero based.
	Slot         int       // Slot - logical address the client listens on, normally ID+1.
	UDID         string    // UDID - stable client identifier.
	Name         string    // Name - client host name.
	IP           net.IP    // IP - effective address: dynamic, else static, else nil.
	MIDIChannels []int     // MIDIChannels - channels (1-16) the device responds to.
	Placeholder  bool      // Placeholder - no real client ever registered.
	TorchOn      bool      // TorchOn - last commanded torch state.
	AudioPlaying bool      // AudioPlaying - last commanded audio state.
	State        State     // State - discovery state.
	LastSeen     time.Time // LastSeen - time of the last hello or ack.
}

// ListensOn reports whether the device responds to MIDI channel ch.
func (d Device) ListensOn(ch int) bool {
	for _, c := range d.MIDIChannels {
		if c == ch {
			return true
		}
	}
	return false
}

func (d Device) clone() Device {
	if d.IP != nil {
		d.IP = append(net.IP(nil), d.IP...)
	}
	d.MIDIChannels = append([]int(nil), d.MIDIChannels...)
	return d
}

// Route is the statically configured routing info of one slot.
type Route struct {
	IP           net.IP
	UDID         string
	Name         string
	MIDIChannels []int
}

// Mapping is a slot to Route table, usually read from the mapping file.
type Mapping map[int]Route

// SlotIP pairs a slot with one address on record for it.
type SlotIP struct {
	Slot int
	IP   net.IP
}
