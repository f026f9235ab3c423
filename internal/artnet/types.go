package artnet

// ChannelValue defines an ArtNet Universe and the value of the DMX channel.
type ChannelValue struct {
	Universe uint16 // Universe: high byte - Net, low byte - SubUni.
	Channel  uint16 // Channel: byte number (0-511).
	Value    uint8  // Value: value for the channel.
}

// Universe wraps the 512 byte array for convenience.
type Universe [512]byte

// UniverseStateMap holds the state of all used universes.
type UniverseStateMap map[uint16]Universe
