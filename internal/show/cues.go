package show

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Command is one console operation. Which fields matter depends on Op.
type Command struct {
	Op        string   `yaml:"op" json:"op"`
	Slot      int      `yaml:"slot,omitempty" json:"slot,omitempty"`
	Slots     []int    `yaml:"slots,omitempty" json:"slots,omitempty"`
	Group     int      `yaml:"group,omitempty" json:"group,omitempty"`
	To        int      `yaml:"to,omitempty" json:"to,omitempty"` // reassign target
	Intensity float64  `yaml:"intensity,omitempty" json:"intensity,omitempty"`
	File      string   `yaml:"file,omitempty" json:"file,omitempty"`
	Gain      float64  `yaml:"gain,omitempty" json:"gain,omitempty"`
	OffsetMs  *int64   `yaml:"offset-ms,omitempty" json:"offsetMs,omitempty"`
	Seconds   float64  `yaml:"seconds,omitempty" json:"seconds,omitempty"` // mic-record limit
	Name      string   `yaml:"name,omitempty" json:"name,omitempty"`       // effect, cue or trigger mode
	AttackMs  int      `yaml:"attack-ms,omitempty" json:"attackMs,omitempty"`
	DecayMs   int      `yaml:"decay-ms,omitempty" json:"decayMs,omitempty"`
	Sustain   *float64 `yaml:"sustain,omitempty" json:"sustain,omitempty"`
	ReleaseMs int      `yaml:"release-ms,omitempty" json:"releaseMs,omitempty"`
}

// CueSheet is a named list of command sequences.
type CueSheet struct {
	Cues map[string][]Command `yaml:"cues"`
}

// ParseCueSheet decodes a YAML cue sheet. Unknown keys and unknown ops are
// rejected so typos fail at load time rather than mid-show.
func ParseCueSheet(b []byte) (*CueSheet, error) {
	var sheet CueSheet
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&sheet); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("cue sheet: %w", err)
	}
	for name, cmds := range sheet.Cues {
		for i, cmd := range cmds {
			if !knownOp(cmd.Op) {
				return nil, fmt.Errorf("cue %q step %d: unknown op %q", name, i+1, cmd.Op)
			}
			if cmd.Op == OpCue && cmd.Name == name {
				return nil, fmt.Errorf("cue %q step %d: cue fires itself", name, i+1)
			}
		}
	}
	if sheet.Cues == nil {
		sheet.Cues = map[string][]Command{}
	}
	return &sheet, nil
}

// LoadCueSheet reads and parses the cue sheet at path.
func LoadCueSheet(path string) (*CueSheet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cue sheet: %w", err)
	}
	return ParseCueSheet(b)
}
