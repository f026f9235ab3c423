package artnet

import (
	"net"
	"testing"

	"github.com/Haba1234/go-artnet"

	"showctl/internal/config"
	"showctl/internal/logger"
)

func TestLevelToDMX(t *testing.T) {
	cases := map[float64]uint8{-1: 0, 0: 0, 0.5: 128, 1: 255, 3: 255}
	for level, want := range cases {
		if got := levelToDMX(level); got != want {
			t.Errorf("%v: expected %d, got %d", level, want, got)
		}
	}
}

func TestUniverseToAddress(t *testing.T) {
	got := universeToAddress(0x0102)
	if got != (artnet.Address{Net: 1, SubUni: 2}) {
		t.Errorf("unexpected address %+v", got)
	}
}

func TestMatchIP(t *testing.T) {
	addrs := []net.Addr{
		&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
		&net.IPAddr{IP: net.ParseIP("192.168.6.9")},
		&net.IPNet{IP: net.ParseIP("10.0.0.4"), Mask: net.CIDRMask(8, 32)},
		&net.IPNet{IP: net.ParseIP("192.168.6.20"), Mask: net.CIDRMask(24, 32)},
	}
	ip, err := matchIP(addrs, "192.168.6.0/24")
	if err != nil || !ip.Equal(net.ParseIP("192.168.6.20")) {
		t.Errorf("expected 192.168.6.20, got %v %v", ip, err)
	}
	if ip, _ := matchIP(addrs, "172.16.0.0/12"); ip != nil {
		t.Errorf("expected no match, got %v", ip)
	}
	if _, err := matchIP(addrs, "nonsense"); err == nil {
		t.Error("expected a bad range error")
	}
}

func TestSetLevelKeepsNewestFrame(t *testing.T) {
	c := newArtNet(logger.Discard(), nil, config.ArtNetConf{Universe: 3, Channels: []int{0, 7, 600}})

	c.SetLevel(0.2)
	c.SetLevel(1)

	data := <-c.sendTrigger
	u, ok := data[3]
	if !ok || len(data) != 1 {
		t.Fatalf("expected universe 3 only, got %v", data)
	}
	if u[0] != 255 || u[7] != 255 || u[1] != 0 {
		t.Errorf("unexpected channel values %v", u[:8])
	}
	select {
	case stale := <-c.sendTrigger:
		t.Errorf("expected the older frame to be replaced, got %v", stale)
	default:
	}
	if got := c.state.Get()[3][7]; got != 255 {
		t.Errorf("expected state 255, got %d", got)
	}
}
