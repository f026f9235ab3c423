package clientmqtt

import (
	"testing"

	"showctl/internal/logger"
	"showctl/internal/notify"
)

type message struct {
	topic   string
	payload []byte
}

func (m message) Duplicate() bool   { return false }
func (m message) Qos() byte         { return 0 }
func (m message) Retained() bool    { return false }
func (m message) Topic() string     { return m.topic }
func (m message) MessageID() uint16 { return 1 }
func (m message) Payload() []byte   { return m.payload }
func (m message) Ack()              {}

func TestTopics(t *testing.T) {
	if got := eventTopic("show", notify.KindTorch); got != "show/event/torch" {
		t.Errorf("unexpected event topic %s", got)
	}
	if got := commandTopic("show"); got != "show/cmd/+" {
		t.Errorf("unexpected command topic %s", got)
	}
	cases := map[string]string{
		"show/cmd/flash-on": "flash-on",
		"show/cmd/":         "",
		"show/cmd/a/b":      "",
		"other/cmd/x":       "",
		"show/event/torch":  "",
	}
	for topic, want := range cases {
		op, ok := commandOp("show", topic)
		if op != want || ok != (want != "") {
			t.Errorf("%s: expected %q, got %q %v", topic, want, op, ok)
		}
	}
}

func TestMessageHandler(t *testing.T) {
	c := NewClient(logger.Discard(), MQTTConf{TopicPrefix: "show"})
	var gotOp, gotPayload string
	c.handler = func(op string, payload []byte) {
		gotOp, gotPayload = op, string(payload)
	}

	c.messageHandler(nil, message{topic: "show/cmd/effect", payload: []byte(`{"name":"strobe"}`)})
	if gotOp != "effect" || gotPayload != `{"name":"strobe"}` {
		t.Errorf("unexpected command %q %q", gotOp, gotPayload)
	}

	gotOp = ""
	c.messageHandler(nil, message{topic: "elsewhere/cmd/effect"})
	if gotOp != "" {
		t.Errorf("expected a foreign topic to be ignored, got %q", gotOp)
	}
}
