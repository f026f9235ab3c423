// Package osc implements the cue protocol: a fixed set of OSC 1.0 style
// messages, each with an order-significant argument list.
//
// Decoding is shape driven. A packet whose address or type tags do not match
// one of the known messages is not an error, Decode simply reports no match.
package osc

// Address patterns.
const (
	AddrFlashOn   = "/flash/on"
	AddrFlashOff  = "/flash/off"
	AddrAudioPlay = "/audio/play"
	AddrAudioStop = "/audio/stop"
	AddrMicRecord = "/mic/record"
	AddrSync      = "/sync"
	AddrSetSlot   = "/set-slot"
	AddrHello     = "/hello"
	AddrAck       = "/ack"
	AddrTap       = "/tap"
	AddrDiscover  = "/discover"
)

// Message is one cue protocol message.
type Message interface {
	// Address returns the OSC address pattern of the message.
	Address() string
	// args returns the type tags (without the leading comma) and the values
	// in wire order.
	args() (string, []interface{})
}

// FlashOn turns the torch of device Index on at Intensity (0..1).
type FlashOn struct {
	Index     int32
	Intensity float32
}

// FlashOff turns the torch of device Index off.
type FlashOff struct {
	Index int32
}

// AudioPlay starts File on device Index. StartOffsetMs is only put on the
// wire when HasStartOffset is set; older clients expect the three argument
// form.
type AudioPlay struct {
	Index          int32
	File           string
	Gain           float32
	StartOffsetMs  int64
	HasStartOffset bool
}

// AudioStop stops audio on device Index.
type AudioStop struct {
	Index int32
}

// MicRecord asks device Index to record for at most MaxDurationSec.
type MicRecord struct {
	Index          int32
	MaxDurationSec float32
}

// Sync carries the console clock as an NTP timetag.
type Sync struct {
	Timetag Timetag
}

// SetSlot tells the receiving device to listen on Slot from now on.
type SetSlot struct {
	Slot int32
}

// Hello announces a host. UDID is optional on the wire.
type Hello struct {
	Hostname string
	Slot     int32
	UDID     string
}

// Ack confirms receipt by the device on Slot.
type Ack struct {
	Slot int32
}

// Tap is a bare trigger from a device.
type Tap struct{}

// Discover invites the device on Slot (0 = everyone) to say hello.
type Discover struct {
	Slot int32
}

func (FlashOn) Address() string   { return AddrFlashOn }
func (FlashOff) Address() string  { return AddrFlashOff }
func (AudioPlay) Address() string { return AddrAudioPlay }
func (AudioStop) Address() string { return AddrAudioStop }
func (MicRecord) Address() string { return AddrMicRecord }
func (Sync) Address() string      { return AddrSync }
func (SetSlot) Address() string   { return AddrSetSlot }
func (Hello) Address() string     { return AddrHello }
func (Ack) Address() string       { return AddrAck }
func (Tap) Address() string       { return AddrTap }
func (Discover) Address() string  { return AddrDiscover }

func (m FlashOn) args() (string, []interface{}) {
	return "if", []interface{}{m.Index, m.Intensity}
}

func (m FlashOff) args() (string, []interface{}) {
	return "i", []interface{}{m.Index}
}

func (m AudioPlay) args() (string, []interface{}) {
	if m.HasStartOffset {
		return "isfh", []interface{}{m.Index, m.File, m.Gain, m.StartOffsetMs}
	}
	return "isf", []interface{}{m.Index, m.File, m.Gain}
}

func (m AudioStop) args() (string, []interface{}) {
	return "i", []interface{}{m.Index}
}

func (m MicRecord) args() (string, []interface{}) {
	return "if", []interface{}{m.Index, m.MaxDurationSec}
}

func (m Sync) args() (string, []interface{}) {
	return "t", []interface{}{m.Timetag}
}

func (m SetSlot) args() (string, []interface{}) {
	return "i", []interface{}{m.Slot}
}

func (m Hello) args() (string, []interface{}) {
	if m.UDID != "" {
		return "sis", []interface{}{m.Hostname, m.Slot, m.UDID}
	}
	return "si", []interface{}{m.Hostname, m.Slot}
}

func (m Ack) args() (string, []interface{}) {
	return "i", []interface{}{m.Slot}
}

func (Tap) args() (string, []interface{}) {
	return "", nil
}

func (m Discover) args() (string, []interface{}) {
	return "i", []interface{}{m.Slot}
}
