package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

// announcement is the JSON self-announcement a client may send instead of
// an OSC hello.
type announcement struct {
	Slot int    `json:"slot"`
	Name string `json:"name"`
	UDID string `json:"udid,omitempty"`
}

// HandleAnnouncement ingests a datagram holding one or more JSON
// announcements, one per line. Decoding stops at the first bad value.
func (d *Discovery) HandleAnnouncement(ctx context.Context, payload []byte, from *net.UDPAddr) int {
	dec := json.NewDecoder(bytes.NewReader(payload))
	n := 0
	for {
		var a announcement
		if err := dec.Decode(&a); err != nil {
			return n
		}
		if a.Slot < 1 {
			continue
		}
		d.hello(ctx, a.Slot, a.Name, a.UDID, from.IP)
		n++
	}
}

// ListenAnnouncements reads JSON announcements on port until ctx is done.
func (d *Discovery) ListenAnnouncements(ctx context.Context, ip net.IP, port int) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip, Port: port})
	if err != nil {
		return fmt.Errorf("announce listener on port %d: %w", port, err)
	}
	d.log.Infof("listening for announcements on %s", conn.LocalAddr())
	return d.serveAnnouncements(ctx, conn)
}

func (d *Discovery) serveAnnouncements(ctx context.Context, conn *net.UDPConn) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 8192)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			d.log.Debugf("announce receive: %v", err)
			continue
		}
		d.HandleAnnouncement(ctx, buf[:n], from)
	}
}
