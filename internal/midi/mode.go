package midi

import (
	"fmt"
	"strings"
)

// TriggerMode selects what a per-device note does on the device.
type TriggerMode int

const (
	ModeTorch TriggerMode = iota
	ModeSound
	ModeBoth
)

func (m TriggerMode) String() string {
	switch m {
	case ModeTorch:
		return "torch"
	case ModeSound:
		return "sound"
	case ModeBoth:
		return "both"
	}
	return fmt.Sprintf("TriggerMode(%d)", int(m))
}

// ParseTriggerMode accepts "torch", "sound" or "both".
func ParseTriggerMode(s string) (TriggerMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "torch", "":
		return ModeTorch, nil
	case "sound":
		return ModeSound, nil
	case "both":
		return ModeBoth, nil
	}
	return ModeTorch, fmt.Errorf("unknown trigger mode %q", s)
}
