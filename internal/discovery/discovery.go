// Package discovery runs the hello/ack handshake that finds devices on the
// show network and keeps the registry's learned addresses current.
package discovery

import (
	"context"
	"net"
	"time"

	"showctl/internal/logger"
	"showctl/internal/notify"
	"showctl/internal/osc"
	"showctl/internal/registry"
)

// Sender is the part of the transport discovery uses.
type Sender interface {
	SendBroadcast(ctx context.Context, m osc.Message) error
	SendUnicast(ctx context.Context, m osc.Message, ip net.IP) error
}

// Devices is the part of the registry discovery reads and updates.
type Devices interface {
	Announce(slot int, ip net.IP, name, udid string) (registry.Device, error)
	MarkAcked(slot int) bool
	CanonicalSlot(udid string) (int, bool)
	KnownIPs() []registry.SlotIP
}

// Publisher receives tap triggers.
type Publisher interface {
	Publish(ev notify.Event)
}

// Discovery announces the console, invites devices to say hello, and
// ingests what they send back.
type Discovery struct {
	log      *logger.Log
	sender   Sender
	devices  Devices
	pub      Publisher
	hostname string
	interval time.Duration
}

// New creates the protocol handler. hostname is what the console announces.
func New(log *logger.Log, sender Sender, devices Devices, pub Publisher, hostname string, interval time.Duration) *Discovery {
	return &Discovery{
		log:      log.Module("discovery"),
		sender:   sender,
		devices:  devices,
		pub:      pub,
		hostname: hostname,
		interval: interval,
	}
}

// AnnounceSelf broadcasts a Hello for the console itself (slot 0).
func (d *Discovery) AnnounceSelf(ctx context.Context) error {
	return d.sender.SendBroadcast(ctx, osc.Hello{Hostname: d.hostname, Slot: 0})
}

// DiscoverKnownDevices broadcasts a generic Discover, then asks every
// address on record directly. Unicast failures are logged; the broadcast
// result is returned.
func (d *Discovery) DiscoverKnownDevices(ctx context.Context) error {
	err := d.sender.SendBroadcast(ctx, osc.Discover{Slot: 0})
	for _, sip := range d.devices.KnownIPs() {
		if uerr := d.sender.SendUnicast(ctx, osc.Discover{Slot: int32(sip.Slot)}, sip.IP); uerr != nil {
			d.log.Debugf("discover slot %d: %v", sip.Slot, uerr)
		}
	}
	return err
}

// Reinvite announces and discovers. Used after a rebind and on every
// discovery interval.
func (d *Discovery) Reinvite(ctx context.Context) {
	if err := d.AnnounceSelf(ctx); err != nil {
		d.log.Warnf("announce: %v", err)
	}
	if err := d.DiscoverKnownDevices(ctx); err != nil {
		d.log.Warnf("discover: %v", err)
	}
}

// Run reinvites immediately and then every interval until ctx is done.
func (d *Discovery) Run(ctx context.Context) {
	d.Reinvite(ctx)
	if d.interval <= 0 {
		return
	}
	t := time.NewTicker(d.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.Reinvite(ctx)
		}
	}
}

// Handler adapts HandleDatagram to the transport's inbound callback.
func (d *Discovery) Handler(ctx context.Context) func(payload []byte, from *net.UDPAddr) {
	return func(payload []byte, from *net.UDPAddr) {
		d.HandleDatagram(ctx, payload, from)
	}
}

// HandleDatagram ingests one inbound datagram. Anything that is not a
// recognisable hello, ack or tap is dropped silently.
func (d *Discovery) HandleDatagram(ctx context.Context, payload []byte, from *net.UDPAddr) {
	in, ok := parseInbound(payload)
	if !ok {
		return
	}
	switch in.kind {
	case inboundHello:
		d.hello(ctx, in.slot, in.hostname, in.udid, from.IP)
	case inboundAck:
		if !d.devices.MarkAcked(in.slot) {
			d.log.Debugf("ack from unknown slot %d (%s)", in.slot, from.IP)
		}
	case inboundTap:
		d.log.Debugf("tap from %s", from.IP)
		if d.pub != nil {
			d.pub.Publish(notify.Event{Kind: notify.KindTap, Text: from.IP.String()})
		}
	}
}

// hello records the device and corrects its slot when its identity is
// mapped to a different one.
func (d *Discovery) hello(ctx context.Context, slot int, name, udid string, ip net.IP) {
	if slot < 1 {
		// Slot 0 is the console announcing itself, possibly our own echo.
		return
	}
	if slot > registry.MaxSlot {
		d.log.Debugf("hello from %s on slot %d out of range, dropped", ip, slot)
		return
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	if _, err := d.devices.Announce(slot, ip, name, udid); err != nil {
		d.log.Warnf("hello from %s on slot %d: %v", ip, slot, err)
		return
	}
	d.log.With(logger.Fields{"slot": slot, "ip": ip.String(), "udid": udid}).Debugf("hello from %q", name)

	if udid == "" {
		return
	}
	canonical, ok := d.devices.CanonicalSlot(udid)
	if !ok || canonical == slot {
		return
	}
	d.log.Infof("device %s on slot %d belongs on slot %d, correcting", udid, slot, canonical)
	if err := d.sender.SendUnicast(ctx, osc.SetSlot{Slot: int32(canonical)}, ip); err != nil {
		d.log.Warnf("set-slot %d to %s: %v", canonical, ip, err)
	}
}
