package clientmqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"showctl/internal/logger"
	"showctl/internal/notify"
)

// ClientMQTT bridges the show to an MQTT broker: state events go out as
// JSON, commands come in on <prefix>/cmd/<op>.
type ClientMQTT struct {
	ctx       context.Context
	log       *logger.Log
	cfgClient MQTTConf
	client    mqtt.Client
	opts      *mqtt.ClientOptions
	handler   CommandHandler
}

// NewClient constructor.
func NewClient(log *logger.Log, cfgClient MQTTConf) *ClientMQTT {
	if cfgClient.Schema == "" {
		cfgClient.Schema = "tcp"
	}
	return &ClientMQTT{
		log:       log.Module("mqtt"),
		cfgClient: cfgClient,
	}
}

// Start connects, subscribes to the command topics and forwards events
// until the channel is closed or ctx is done.
func (c *ClientMQTT) Start(ctx context.Context, events <-chan notify.Event, handler CommandHandler) error {
	if c.log.GetLevel() == "debug" {
		mqtt.ERROR = log.New(os.Stdout, "[ERROR] ", 0)
		mqtt.CRITICAL = log.New(os.Stdout, "[CRIT] ", 0)
		mqtt.WARN = log.New(os.Stdout, "[WARN]  ", 0)
	}

	c.ctx = ctx
	c.handler = handler

	if c.cfgClient.Host == "" {
		return errors.New("mqtt: no server configured")
	}

	c.opts = mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%s", c.cfgClient.Schema, c.cfgClient.Host, c.cfgClient.Port)).
		SetUsername(c.cfgClient.User).
		SetPassword(c.cfgClient.Password).
		SetDefaultPublishHandler(c.messageHandler).
		SetOnConnectHandler(c.connectHandler).
		SetConnectionLostHandler(c.connectLostHandler).
		SetClientID(c.cfgClient.ClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	c.client = mqtt.NewClient(c.opts)

	token := c.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	case <-c.ctx.Done():
		return errors.New("context canceled")
	}

	c.log.Infof("Status: %v", c.client.IsConnected())
	go c.forward(events)
	return nil
}

func (c *ClientMQTT) Stop() error {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(500)
	}
	return nil
}

// connectHandler (re)subscribes on every connect, since the broker may
// have lost the session.
func (c *ClientMQTT) connectHandler(_ mqtt.Client) {
	c.log.Info("client connected to server")
	c.sub(commandTopic(c.cfgClient.TopicPrefix))
}

func (c *ClientMQTT) connectLostHandler(_ mqtt.Client, err error) {
	c.log.Errorf("server connect lost: %v", err)
}

func (c *ClientMQTT) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	c.log.Debugf("received message: %s from topic: %s", msg.Payload(), msg.Topic())
	op, ok := commandOp(c.cfgClient.TopicPrefix, msg.Topic())
	if !ok {
		c.log.Warnf("message on unexpected topic %s", msg.Topic())
		return
	}
	if c.handler != nil {
		c.handler(op, msg.Payload())
	}
}

func (c *ClientMQTT) sub(topic string) {
	token := c.client.Subscribe(topic, c.cfgClient.Qos, nil)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.Errorf("topic %s subscription error. %v", topic, token.Error())
				return
			}
		}
		c.log.Debugf("topic %s subscribed", topic)
	}()
}

func (c *ClientMQTT) forward(events <-chan notify.Event) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.PubEvent(ev)
		}
	}
}

// PubEvent publishes ev as JSON to <prefix>/event/<kind>.
func (c *ClientMQTT) PubEvent(ev notify.Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		c.log.Errorf("public event. msg: %v", err)
		return
	}
	topic := eventTopic(c.cfgClient.TopicPrefix, ev.Kind)
	token := c.client.Publish(topic, c.cfgClient.Qos, false, msg)
	go func() {
		select {
		case <-c.ctx.Done():
		case <-token.Done():
			if token.Error() != nil {
				c.log.Errorf("error publish topic %s. %v", topic, token.Error())
			}
		}
	}()
}

func eventTopic(prefix string, kind notify.Kind) string {
	return fmt.Sprintf("%s/event/%s", prefix, kind)
}

func commandTopic(prefix string) string {
	return prefix + "/cmd/+"
}

// commandOp extracts <op> from <prefix>/cmd/<op>.
func commandOp(prefix, topic string) (string, bool) {
	op := strings.TrimPrefix(topic, prefix+"/cmd/")
	if op == topic || op == "" || strings.Contains(op, "/") {
		return "", false
	}
	return op, true
}
