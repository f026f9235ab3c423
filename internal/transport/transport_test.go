package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"showctl/internal/logger"
	"showctl/internal/osc"
)

func ipNet(cidr string) *net.IPNet {
	ip, n, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(err)
	}
	n.IP = ip
	return n
}

func lister(ifaces ...Interface) InterfaceLister {
	return func() ([]Interface, error) { return ifaces, nil }
}

// loopbackLister makes 127.0.0.1 look like an ordinary /32 interface so that
// "broadcasts" land on the loopback address.
var loopbackLister = lister(Interface{
	Name:  "test0",
	Flags: net.FlagUp | net.FlagBroadcast,
	Addrs: []net.Addr{ipNet("127.0.0.1/32")},
})

func TestGatherBroadcastAddrs(t *testing.T) {
	list := lister(
		Interface{Name: "lo", Flags: net.FlagUp | net.FlagLoopback, Addrs: []net.Addr{ipNet("127.0.0.1/8")}},
		Interface{Name: "eth0", Flags: net.FlagUp | net.FlagBroadcast, Addrs: []net.Addr{
			ipNet("192.168.1.23/24"),
			ipNet("fe80::1/64"),
			ipNet("192.168.1.99/24"),
		}},
		Interface{Name: "wlan0", Flags: net.FlagUp, Addrs: []net.Addr{ipNet("10.20.5.7/16")}},
		Interface{Name: "eth1", Flags: 0, Addrs: []net.Addr{ipNet("172.16.0.1/12")}},
		Interface{Name: "tun0", Flags: net.FlagUp, Addrs: []net.Addr{&net.IPAddr{IP: net.ParseIP("10.1.2.3")}}},
	)
	got := GatherBroadcastAddrs(list)
	want := []net.IP{
		net.IPv4(192, 168, 1, 255).To4(),
		net.IPv4(10, 20, 255, 255).To4(),
		net.IPv4(10, 255, 255, 255).To4(),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestGatherBroadcastAddrsNeverEmpty(t *testing.T) {
	failing := func() ([]Interface, error) { return nil, errors.New("no netlink") }
	for name, list := range map[string]InterfaceLister{
		"nil":       nil,
		"error":     failing,
		"none":      lister(),
		"loopback":  lister(Interface{Name: "lo", Flags: net.FlagUp | net.FlagLoopback, Addrs: []net.Addr{ipNet("127.0.0.1/8")}}),
		"ipv6 only": lister(Interface{Name: "eth0", Flags: net.FlagUp, Addrs: []net.Addr{ipNet("2001:db8::1/64")}}),
	} {
		got := GatherBroadcastAddrs(list)
		if len(got) != 1 || !got[0].Equal(net.IPv4bcast) {
			t.Errorf("%s: expected [255.255.255.255], got %v", name, got)
		}
	}

	GatherBroadcastAddrs(nil)[0][3] = 0
	if got := GatherBroadcastAddrs(nil); !got[0].Equal(net.IPv4bcast) {
		t.Errorf("fallback changed by a caller, got %v", got)
	}
}

func TestFingerprint(t *testing.T) {
	a := lister(Interface{Name: "eth0", Flags: net.FlagUp, Addrs: []net.Addr{ipNet("192.168.1.2/24")}})
	b := lister(Interface{Name: "eth0", Flags: net.FlagUp, Addrs: []net.Addr{ipNet("192.168.7.2/24")}})
	if Fingerprint(a) == Fingerprint(b) {
		t.Error("expected different fingerprints")
	}
	if Fingerprint(a) != Fingerprint(a) {
		t.Error("expected a stable fingerprint")
	}
}

type fakeRouter map[int][2]net.IP

func (f fakeRouter) Route(slot int) (net.IP, net.IP) {
	r := f[slot]
	return r[0], r[1]
}

func newReceiver(t *testing.T) *net.UDPConn {
	t.Helper()
	c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func receive(t *testing.T, c *net.UDPConn) osc.Message {
	t.Helper()
	buf := make([]byte, 2048)
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := c.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	m, ok := osc.Decode(buf[:n])
	if !ok {
		t.Fatalf("undecodable datagram % x", buf[:n])
	}
	return m
}

func startTransport(t *testing.T, router Router, peerPort int) *Transport {
	t.Helper()
	tr := New(logger.Discard(), router, Options{
		BindIP:     net.IPv4(127, 0, 0, 1),
		PeerPort:   peerPort,
		Interfaces: loopbackLister,
	})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(tr.Stop)
	return tr
}

func TestSendToSlotUnicastThenBroadcast(t *testing.T) {
	rx := newReceiver(t)
	router := fakeRouter{5: {net.IPv4(127, 0, 0, 1), nil}}
	tr := startTransport(t, router, rx.LocalAddr().(*net.UDPAddr).Port)

	want := osc.FlashOn{Index: 5, Intensity: 0.5}
	if err := tr.SendToSlot(context.Background(), want, 5); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if got := receive(t, rx); !reflect.DeepEqual(got, want) {
			t.Errorf("datagram %d: expected %#v, got %#v", i, want, got)
		}
	}
}

func TestSendToSlotWithoutRouteBroadcasts(t *testing.T) {
	rx := newReceiver(t)
	tr := startTransport(t, fakeRouter{}, rx.LocalAddr().(*net.UDPAddr).Port)

	if err := tr.SendToSlot(context.Background(), osc.FlashOff{Index: 8}, 8); err != nil {
		t.Fatal(err)
	}
	if got := receive(t, rx); !reflect.DeepEqual(got, osc.FlashOff{Index: 8}) {
		t.Errorf("unexpected %#v", got)
	}
}

func TestBroadcastHostUnreachableIsSkipped(t *testing.T) {
	tr := startTransport(t, nil, 9)
	tr.cur.Load().targets = []net.IP{net.IPv4(10, 0, 0, 255), net.IPv4(10, 1, 0, 255), net.IPv4(10, 2, 0, 255)}

	var mu sync.Mutex
	var attempted []string
	tr.write = func(_ *net.UDPConn, _ []byte, addr *net.UDPAddr) error {
		mu.Lock()
		defer mu.Unlock()
		attempted = append(attempted, addr.IP.String())
		if len(attempted) == 1 {
			return &net.OpError{Op: "write", Net: "udp", Err: os.NewSyscallError("sendto", unix.EHOSTUNREACH)}
		}
		return nil
	}
	if err := tr.SendBroadcast(context.Background(), osc.Tap{}); err != nil {
		t.Fatalf("expected unreachable targets to be skipped, got %v", err)
	}
	if len(attempted) != 3 {
		t.Errorf("expected 3 targets attempted, got %v", attempted)
	}

	attempted = nil
	tr.write = func(_ *net.UDPConn, _ []byte, addr *net.UDPAddr) error {
		attempted = append(attempted, addr.IP.String())
		return &net.OpError{Op: "write", Net: "udp", Err: os.NewSyscallError("sendto", unix.EPERM)}
	}
	if err := tr.SendBroadcast(context.Background(), osc.Tap{}); !errors.Is(err, unix.EPERM) {
		t.Fatalf("expected EPERM to abort, got %v", err)
	}
	if len(attempted) != 1 {
		t.Errorf("expected the loop to stop after the first failure, got %v", attempted)
	}
}

func TestInboundHandler(t *testing.T) {
	got := make(chan []byte, 1)
	tr := New(logger.Discard(), nil, Options{BindIP: net.IPv4(127, 0, 0, 1), Interfaces: loopbackLister})
	tr.SetHandler(func(payload []byte, _ *net.UDPAddr) { got <- payload })
	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop()

	tx := newReceiver(t)
	pkt, _ := osc.Encode(osc.Ack{Slot: 4})
	if _, err := tx.WriteToUDP(pkt, tr.LocalAddr()); err != nil {
		t.Fatal(err)
	}
	select {
	case b := <-got:
		if m, ok := osc.Decode(b); !ok || !reflect.DeepEqual(m, osc.Ack{Slot: 4}) {
			t.Errorf("unexpected payload % x", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestRefreshBindingsSwapsSocket(t *testing.T) {
	rx := newReceiver(t)
	tr := New(logger.Discard(), nil, Options{
		BindIP:     net.IPv4(127, 0, 0, 1),
		PeerPort:   rx.LocalAddr().(*net.UDPAddr).Port,
		Interfaces: loopbackLister,
	})
	rebinds := 0
	tr.OnRebind(func(ctx context.Context) {
		rebinds++
		_ = tr.SendBroadcast(ctx, osc.Hello{Hostname: "console"})
	})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop()
	if rebinds != 0 {
		t.Errorf("expected no hook on start, got %d", rebinds)
	}

	before := tr.LocalAddr()
	if err := tr.RefreshBindings(context.Background(), "manual"); err != nil {
		t.Fatal(err)
	}
	after := tr.LocalAddr()
	if before.String() == after.String() {
		t.Errorf("expected a new socket, still %s", after)
	}
	if rebinds != 1 {
		t.Errorf("expected the rebind hook once, got %d", rebinds)
	}
	if got := receive(t, rx); !reflect.DeepEqual(got, osc.Hello{Hostname: "console"}) {
		t.Errorf("expected re-announce, got %#v", got)
	}
	if len(tr.Targets()) != 1 {
		t.Errorf("expected recomputed targets, got %v", tr.Targets())
	}
}

func TestRefreshBindingsFailureKeepsSocket(t *testing.T) {
	tr := New(logger.Discard(), nil, Options{
		BindIP:     net.IPv4(127, 0, 0, 1),
		Interfaces: loopbackLister,
	})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop()
	before := tr.LocalAddr()

	tr.opts.BindIP = net.IPv4(192, 0, 2, 1) // TEST-NET-1, not assigned locally
	if err := tr.RefreshBindings(context.Background(), "manual"); err == nil {
		t.Fatal("expected a bind error")
	}
	if after := tr.LocalAddr(); after.String() != before.String() {
		t.Errorf("expected %s to stay in service, got %s", before, after)
	}
}

func TestSendBeforeStart(t *testing.T) {
	tr := New(logger.Discard(), nil, Options{})
	if err := tr.SendBroadcast(context.Background(), osc.Tap{}); !errors.Is(err, ErrNotBound) {
		t.Errorf("expected ErrNotBound, got %v", err)
	}
	if err := tr.SendUnicast(context.Background(), osc.Tap{}, net.IPv4(127, 0, 0, 1)); !errors.Is(err, ErrNotBound) {
		t.Errorf("expected ErrNotBound, got %v", err)
	}
}

func TestBeacon(t *testing.T) {
	if _, err := NewBeacon(logger.Discard(), "10.0.0.1:9002", time.Second); err == nil {
		t.Error("expected a unicast group to be rejected")
	}
	if _, err := NewBeacon(logger.Discard(), "239.255.42.1:9002", 0); err == nil {
		t.Error("expected a zero interval to be rejected")
	}
	b, err := NewBeacon(logger.Discard(), "239.255.42.1:9002", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return at }
	pkt, err := b.packet()
	if err != nil {
		t.Fatal(err)
	}
	m, ok := osc.Decode(pkt)
	if !ok {
		t.Fatal("beacon packet does not decode")
	}
	if s, ok := m.(osc.Sync); !ok || !s.Timetag.Time().Equal(at) {
		t.Errorf("unexpected beacon %#v", m)
	}
}
