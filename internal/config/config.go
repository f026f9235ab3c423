package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top level configuration structure.
type Config struct {
	Logger  LogConf     // Logger - logger configuration.
	Network NetworkConf // Network - show network configuration.
	Devices DevicesConf // Devices - slot table configuration.
	Effects EffectsConf // Effects - effect scheduler configuration.
	MIDI    MIDIConf    // MIDI - MIDI input and routing configuration.
	MQTT    MQTTConf    // MQTT - status bridge configuration.
	ArtNet  ArtNetConf  // ArtNet - house light mirror configuration.
	Cues    CuesConf    // Cues - cue sheet configuration.
}

// LogConf configures the logger.
type LogConf struct {
	Level string `toml:"log-level"` // Level - logging level.
}

// NetworkConf configures the cue transport and discovery.
type NetworkConf struct {
	Port             int           `toml:"port"`              // Port - OSC cue port shared by send and discovery.
	AnnouncePort     int           `toml:"announce-port"`     // AnnouncePort - JSON self-announcement port, 0 disables.
	Hostname         string        `toml:"hostname"`          // Hostname - name announced in Hello, defaults to os.Hostname.
	DiscoverInterval time.Duration `toml:"discover-interval"` // DiscoverInterval - announce/discover period.
	InterfacePoll    time.Duration `toml:"interface-poll"`    // InterfacePoll - network change polling period, 0 disables.
	SyncGroup        string        `toml:"sync-group"`        // SyncGroup - multicast group for sync beacons, empty disables.
	SyncInterval     time.Duration `toml:"sync-interval"`     // SyncInterval - sync beacon period.
}

// DevicesConf configures the slot table.
type DevicesConf struct {
	Slots        int    `toml:"slots"`         // Slots - number of placeholder slots created at startup.
	MappingFile  string `toml:"mapping-file"`  // MappingFile - slot to {ip,udid,name} JSON file.
	MIDIChannels []int  `toml:"midi-channels"` // MIDIChannels - default channels a device listens on.
}

// EffectsConf configures the effect scheduler.
type EffectsConf struct {
	UpdateHz  float64 `toml:"update-hz"`  // UpdateHz - effect sampling rate.
	AttackMs  int     `toml:"attack-ms"`  // AttackMs - default envelope attack.
	DecayMs   int     `toml:"decay-ms"`   // DecayMs - default envelope decay.
	Sustain   float64 `toml:"sustain"`    // Sustain - default envelope sustain level.
	ReleaseMs int     `toml:"release-ms"` // ReleaseMs - default envelope release.
}

// MIDIConf configures MIDI input.
type MIDIConf struct {
	Enabled   bool     `toml:"enabled"`   // Enabled - open a MIDI input port.
	Preferred []string `toml:"preferred"` // Preferred - port name patterns picked first.
	Excluded  []string `toml:"excluded"`  // Excluded - port name patterns never opened.
	Mode      string   `toml:"mode"`      // Mode - legacy trigger mode: torch, sound or both.
	QueueSize int      `toml:"queue"`     // QueueSize - dispatch queue length.
}

// MQTTConf configures the MQTT bridge.
type MQTTConf struct {
	Enabled     bool   `toml:"enabled"`      // Enabled - connect to the broker.
	ClientID    string `toml:"clientID"`     // ClientID - client name.
	Host        string `toml:"server"`       // Host - MQTT server address.
	Port        string `toml:"port"`         // Port - MQTT server port.
	User        string `toml:"user"`         // User - login.
	Password    string `toml:"password"`     // Password - password.
	Qos         byte   `toml:"qos"`          // Qos - quality of service.
	TopicPrefix string `toml:"topic-prefix"` // TopicPrefix - root of event and command topics.
}

// ArtNetConf configures the Art-Net house light mirror.
type ArtNetConf struct {
	Enabled  bool   `toml:"enabled"`  // Enabled - start the Art-Net controller.
	CIDR     string `toml:"cidr"`     // CIDR - network the Art-Net interface lives in.
	Universe uint16 `toml:"universe"` // Universe: high byte - Net, low byte - SubUni.
	Channels []int  `toml:"channels"` // Channels - DMX channels (0-511) driven by the level.
}

// CuesConf configures the cue sheet.
type CuesConf struct {
	File string `toml:"file"` // File - YAML cue sheet, empty disables.
}

// Default returns the configuration used when a key is absent from the file.
func Default() Config {
	return Config{
		Logger: LogConf{Level: "info"},
		Network: NetworkConf{
			Port:             9000,
			AnnouncePort:     9001,
			DiscoverInterval: 10 * time.Second,
			InterfacePoll:    5 * time.Second,
			SyncGroup:        "239.255.42.1:9002",
			SyncInterval:     time.Second,
		},
		Devices: DevicesConf{
			Slots:        60,
			MappingFile:  "configs/devices.json",
			MIDIChannels: []int{10},
		},
		Effects: EffectsConf{
			UpdateHz:  12,
			AttackMs:  200,
			DecayMs:   300,
			Sustain:   0.6,
			ReleaseMs: 800,
		},
		MIDI: MIDIConf{
			Preferred: []string{"Launchkey", "Novation"},
			Excluded:  []string{"Midi Through", "Through Port", "Dummy"},
			Mode:      "torch",
			QueueSize: 256,
		},
		MQTT: MQTTConf{
			ClientID:    "showctl",
			Port:        "1883",
			TopicPrefix: "showctl",
		},
		ArtNet: ArtNetConf{
			CIDR:     "192.168.6.0/24",
			Channels: []int{0},
		},
	}
}

// NewConfig reads the TOML file at path on top of the defaults.
func NewConfig(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}
