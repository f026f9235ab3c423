package clientmqtt

type MQTTConf struct {
	ClientID    string // ClientID - unique client name for brokers.
	Schema      string // Schema - connection type.
	Host        string // Host - MQTT server address.
	Port        string // Port - MQTT server port.
	User        string // User - login for the MQTT server.
	Password    string // Password - password for the MQTT server.
	Qos         byte   // Qos - quality of service for events and commands.
	TopicPrefix string // TopicPrefix - root of the event and command topics.
}

// CommandHandler receives a remote command: op is the last topic level.
type CommandHandler func(op string, payload []byte)
