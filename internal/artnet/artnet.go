package artnet

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/Haba1234/go-artnet"

	"showctl/internal/config"
	"showctl/internal/logger"
	"showctl/internal/notify"
)

// nodeReport is how often the visible Art-Net nodes are logged.
const nodeReport = 30 * time.Second

// Publisher receives node reports.
type Publisher interface {
	Publish(ev notify.Event)
}

// ArtNet mirrors the effect level onto DMX channels of one universe, so the
// house lights follow the phones.
type ArtNet struct {
	log         *logger.Log
	pub         Publisher
	sender      *artnet.Controller
	state       *State
	universe    uint16
	channels    []uint16
	sendTrigger chan UniverseStateMap
	done        chan struct{}
}

// NewController finds the Art-Net interface and prepares the controller.
func NewController(log *logger.Log, pub Publisher, cfg config.ArtNetConf) (*ArtNet, error) {
	ip, err := FindArtNetIP(cfg.CIDR)
	if err != nil {
		return nil, fmt.Errorf("failed to find the art-net IP: %w", err)
	}

	if len(ip) == 0 {
		return nil, errors.New("failed to find the art-net IP: No interface found")
	}

	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve hostname: %w", err)
	}

	host = strings.ToLower(strings.Split(host, ".")[0])
	log = log.Module("art-net")
	log.Infof("Using ArtNet IP %s and hostname %s", ip.String(), host)

	senderLogger := artnet.NewDefaultLogger("info")

	c := newArtNet(log, pub, cfg)
	c.sender = artnet.NewController(host, ip, senderLogger, artnet.MaxFPS(40))
	return c, nil
}

func newArtNet(log *logger.Log, pub Publisher, cfg config.ArtNetConf) *ArtNet {
	channels := make([]uint16, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		if ch >= 0 && ch < len(Universe{}) {
			channels = append(channels, uint16(ch))
		}
	}
	return &ArtNet{
		log:         log,
		pub:         pub,
		state:       NewState(),
		universe:    cfg.Universe,
		channels:    channels,
		sendTrigger: make(chan UniverseStateMap, 1),
		done:        make(chan struct{}),
	}
}

// Start the ArtNet.
func (c *ArtNet) Start(ctx context.Context) error {
	if err := c.sender.Start(); err != nil {
		return fmt.Errorf("failed to start Controller: %w", err)
	}

	go c.sendBackground(ctx)
	go c.debugDevices(ctx)
	return nil
}

// Stop the ArtNet.
func (c *ArtNet) Stop() {
	close(c.done)
	c.sender.Stop()
}

// SetLevel drives every configured channel to level (0..1).
func (c *ArtNet) SetLevel(level float64) {
	value := levelToDMX(level)
	values := make([]ChannelValue, len(c.channels))
	for i, ch := range c.channels {
		values[i] = ChannelValue{Universe: c.universe, Channel: ch, Value: value}
	}
	c.SetDMXChannelValues(values)
}

// SetDMXChannelValues writes raw channel values.
func (c *ArtNet) SetDMXChannelValues(values []ChannelValue) {
	c.triggerSend(c.state.SetChannelValues(values))
}

// triggerSend hands data to the sender, replacing any frame it has not
// picked up yet. Only the newest level matters.
func (c *ArtNet) triggerSend(data UniverseStateMap) {
	for {
		select {
		case c.sendTrigger <- data:
			return
		default:
		}
		select {
		case <-c.sendTrigger:
		default:
		}
	}
}

func (c *ArtNet) sendBackground(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case data := <-c.sendTrigger:
			for u, dmx := range data {
				c.log.Debugf("DMX. Sending universe %v", u)
				c.sender.SendDMXToAddress(dmx, universeToAddress(u))
			}
		}
	}
}

// levelToDMX clamps level to 0..1 and scales it to a DMX value.
func levelToDMX(level float64) uint8 {
	switch {
	case math.IsNaN(level) || level <= 0:
		return 0
	case level >= 1:
		return 255
	}
	return uint8(math.Round(level * 255))
}

// universeToAddress converts a dmx universe to art-net address
// universe: high byte - Net, low byte - SubUni.
func universeToAddress(universe uint16) artnet.Address {
	v := make([]uint8, 2)
	binary.BigEndian.PutUint16(v, universe)

	return artnet.Address{
		Net:    v[0],
		SubUni: v[1],
	}
}

// NodeToString returns a string representation of the given Node.
func NodeToString(n *artnet.ControlledNode) string {
	var inputs, outputs []string
	for _, p := range n.Node.InputPorts {
		inputs = append(inputs, fmt.Sprintf("%s: %s", p.Address.String(), p.Type.String()))
	}

	for _, p := range n.Node.OutputPorts {
		outputs = append(outputs, fmt.Sprintf("%s: %s", p.Address.String(), p.Type.String()))
	}

	return fmt.Sprintf(
		"IP=%s name=%q type=%q manufacturer=%q desc=%q inputs=%q outputs=%q",
		n.UDPAddress.String(), n.Node.Name, n.Node.Type,
		n.Node.Manufacturer, n.Node.Description,
		strings.Join(inputs, "; "), strings.Join(outputs, "; "),
	)
}

func (c *ArtNet) debugDevices(ctx context.Context) {
	t := time.NewTicker(nodeReport)
	defer t.Stop()
	seen := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-t.C:
		}
		nodes := c.sender.Nodes
		for _, n := range nodes {
			c.log.Debugf("node %s", NodeToString(n))
		}
		if len(nodes) != seen && c.pub != nil {
			c.pub.Publish(notify.Event{Kind: notify.KindStatus, Text: fmt.Sprintf("art-net: %d nodes", len(nodes))})
		}
		seen = len(nodes)
	}
}
