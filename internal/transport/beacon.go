package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"

	"showctl/internal/logger"
	"showctl/internal/osc"
)

// Beacon multicasts the console clock as /sync timetags. Clients use it for
// coarse alignment only.
type Beacon struct {
	log      *logger.Log
	group    *net.UDPAddr
	interval time.Duration
	now      func() time.Time
}

// NewBeacon validates the multicast group ("239.255.42.1:9002").
func NewBeacon(log *logger.Log, group string, interval time.Duration) (*Beacon, error) {
	addr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, fmt.Errorf("sync group %q: %w", group, err)
	}
	if !addr.IP.IsMulticast() {
		return nil, fmt.Errorf("sync group %q is not a multicast address", group)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sync interval must be positive, got %v", interval)
	}
	return &Beacon{
		log:      log.Module("sync"),
		group:    addr,
		interval: interval,
		now:      time.Now,
	}, nil
}

func (b *Beacon) packet() ([]byte, error) {
	return osc.Encode(osc.Sync{Timetag: osc.NewTimetag(b.now())})
}

// Run sends a beacon every interval until ctx is done. Send failures are
// logged and the loop continues.
func (b *Beacon) Run(ctx context.Context) error {
	c, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return fmt.Errorf("sync socket: %w", err)
	}
	defer c.Close()

	p := ipv4.NewPacketConn(c)
	if err := p.SetMulticastTTL(1); err != nil {
		b.log.Warnf("set multicast ttl: %v", err)
	}
	if err := p.SetMulticastLoopback(true); err != nil {
		b.log.Warnf("set multicast loopback: %v", err)
	}
	b.log.Infof("sync beacons to %s every %v", b.group, b.interval)

	tick := time.NewTicker(b.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			pkt, err := b.packet()
			if err != nil {
				b.log.Errorf("sync encode: %v", err)
				continue
			}
			if _, err := p.WriteTo(pkt, nil, b.group); err != nil {
				b.log.Debugf("sync send: %v", err)
			}
		}
	}
}
