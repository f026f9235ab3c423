package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
)

type mappingEntry struct {
	IP           string `json:"ip"`
	UDID         string `json:"udid"`
	Name         string `json:"name"`
	MIDIChannels []int  `json:"midiChannels,omitempty"`
}

// ParseMapping decodes a mapping file: a JSON object keyed by decimal slot
// numbers. Any bad entry rejects the whole file.
func ParseMapping(b []byte) (Mapping, error) {
	var raw map[string]mappingEntry
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	m := make(Mapping, len(raw))
	for key, e := range raw {
		slot, err := strconv.Atoi(key)
		if err != nil || slot < 1 || slot > MaxSlot {
			return nil, fmt.Errorf("invalid slot key %q", key)
		}
		var ip net.IP
		if e.IP != "" {
			if ip = net.ParseIP(e.IP).To4(); ip == nil {
				return nil, fmt.Errorf("slot %d: invalid IPv4 address %q", slot, e.IP)
			}
		}
		for _, ch := range e.MIDIChannels {
			if ch < 1 || ch > 16 {
				return nil, fmt.Errorf("slot %d: invalid MIDI channel %d", slot, ch)
			}
		}
		m[slot] = Route{IP: ip, UDID: e.UDID, Name: e.Name, MIDIChannels: e.MIDIChannels}
	}
	return m, nil
}

// ReadMapping reads and decodes the mapping file at path. A missing file is
// an empty mapping.
func ReadMapping(path string) (Mapping, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Mapping{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mapping %s: %w", path, err)
	}
	m, err := ParseMapping(b)
	if err != nil {
		return nil, fmt.Errorf("decode mapping %s: %w", path, err)
	}
	return m, nil
}
