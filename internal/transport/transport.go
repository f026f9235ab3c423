// Package transport owns the UDP socket cues travel over. It sends to
// single addresses and to every subnet broadcast address, receives inbound
// datagrams, and rebinds when the network changes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"showctl/internal/logger"
	"showctl/internal/osc"
)

// DefaultPort is the cue port shared by sending and discovery.
const DefaultPort = 9000

// ErrNotBound is returned by sends before Start or after Stop.
var ErrNotBound = errors.New("transport not bound")

// Router resolves the addresses of a slot.
type Router interface {
	Route(slot int) (dynamic, static net.IP)
}

// Handler receives inbound datagrams. payload is owned by the handler.
type Handler func(payload []byte, from *net.UDPAddr)

// Options configures a Transport.
type Options struct {
	Port       int             // Port - local port, 0 picks one.
	PeerPort   int             // PeerPort - port clients listen on.
	BindIP     net.IP          // BindIP - local address, nil for any.
	Interfaces InterfaceLister // Interfaces - source of broadcast targets.
}

// binding is an immutable socket plus the broadcast targets computed with it.
type binding struct {
	conn    *net.UDPConn
	targets []net.IP
}

type writeFunc func(conn *net.UDPConn, b []byte, addr *net.UDPAddr) error

// Transport sends and receives cue datagrams. The current binding is
// swapped atomically: a rebind publishes the new socket before closing the
// old one, so concurrent senders always see a usable state.
type Transport struct {
	log      *logger.Log
	router   Router
	opts     Options
	cur      atomic.Pointer[binding]
	refresh  sync.Mutex
	handler  Handler
	onRebind func(ctx context.Context)
	write    writeFunc
	readers  sync.WaitGroup
}

// New creates an unbound transport.
func New(log *logger.Log, router Router, opts Options) *Transport {
	if opts.PeerPort == 0 {
		opts.PeerPort = DefaultPort
	}
	if opts.Interfaces == nil {
		opts.Interfaces = SystemInterfaces
	}
	return &Transport{
		log:    log.Module("transport"),
		router: router,
		opts:   opts,
		write: func(conn *net.UDPConn, b []byte, addr *net.UDPAddr) error {
			_, err := conn.WriteToUDP(b, addr)
			return err
		},
	}
}

// SetHandler installs the inbound datagram handler. Call before Start.
func (t *Transport) SetHandler(h Handler) {
	t.handler = h
}

// OnRebind installs a hook run after every successful rebind. Call before
// Start.
func (t *Transport) OnRebind(fn func(ctx context.Context)) {
	t.onRebind = fn
}

// Start binds the socket and starts receiving.
func (t *Transport) Start(ctx context.Context) error {
	if err := t.bind(ctx, "start"); err != nil {
		return err
	}
	return nil
}

// Stop closes the socket and waits for the receive loop to exit.
func (t *Transport) Stop() {
	t.refresh.Lock()
	defer t.refresh.Unlock()
	if old := t.cur.Swap(nil); old != nil {
		old.conn.Close()
	}
	t.readers.Wait()
}

// Targets returns the current broadcast addresses.
func (t *Transport) Targets() []net.IP {
	b := t.cur.Load()
	if b == nil {
		return nil
	}
	return append([]net.IP(nil), b.targets...)
}

// LocalAddr returns the address of the current socket.
func (t *Transport) LocalAddr() *net.UDPAddr {
	b := t.cur.Load()
	if b == nil {
		return nil
	}
	return b.conn.LocalAddr().(*net.UDPAddr)
}

// RefreshBindings replaces the socket and recomputes the broadcast targets,
// then runs the rebind hook (re-announce, re-discover). On bind failure the
// previous socket stays in service and the error is returned. Sends in
// flight on the old socket may fail; they are not retried here.
func (t *Transport) RefreshBindings(ctx context.Context, reason string) error {
	if err := t.bind(ctx, reason); err != nil {
		return err
	}
	if t.onRebind != nil {
		t.onRebind(ctx)
	}
	return nil
}

func (t *Transport) bind(ctx context.Context, reason string) error {
	t.refresh.Lock()
	defer t.refresh.Unlock()

	conn, err := listenUDP(ctx, t.opts.BindIP, t.opts.Port)
	if err != nil {
		t.log.Errorf("rebind (%s) failed, keeping current socket: %v", reason, err)
		return err
	}
	next := &binding{conn: conn, targets: GatherBroadcastAddrs(t.opts.Interfaces)}
	old := t.cur.Swap(next)
	t.readers.Add(1)
	go t.receive(next)
	if old != nil {
		old.conn.Close()
	}
	t.log.Infof("bound %s (%s), broadcast targets %v", conn.LocalAddr(), reason, next.targets)
	return nil
}

func (t *Transport) receive(b *binding) {
	defer t.readers.Done()
	buf := make([]byte, 65535)
	for {
		n, from, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.Debugf("receive error: %v", err)
			continue
		}
		if t.handler == nil {
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		t.handler(payload, from)
	}
}

func (t *Transport) peer(ip net.IP) *net.UDPAddr {
	return &net.UDPAddr{IP: ip, Port: t.opts.PeerPort}
}

// SendBroadcast writes m once to every broadcast target. A target that is
// unreachable is logged and skipped; any other failure aborts the loop.
func (t *Transport) SendBroadcast(ctx context.Context, m osc.Message) error {
	b, err := osc.Encode(m)
	if err != nil {
		return err
	}
	return t.broadcast(ctx, b)
}

func (t *Transport) broadcast(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := t.cur.Load()
	if b == nil {
		return ErrNotBound
	}
	for _, ip := range b.targets {
		err := t.write(b.conn, payload, t.peer(ip))
		if err == nil {
			continue
		}
		if isHostUnreachable(err) {
			t.log.Warnf("broadcast to %s: host unreachable", ip)
			continue
		}
		return fmt.Errorf("broadcast to %s: %w", ip, err)
	}
	return nil
}

// SendUnicast writes m to ip.
func (t *Transport) SendUnicast(ctx context.Context, m osc.Message, ip net.IP) error {
	b, err := osc.Encode(m)
	if err != nil {
		return err
	}
	return t.unicast(ctx, b, ip)
}

func (t *Transport) unicast(ctx context.Context, payload []byte, ip net.IP) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := t.cur.Load()
	if b == nil {
		return ErrNotBound
	}
	if err := t.write(b.conn, payload, t.peer(ip)); err != nil {
		return fmt.Errorf("send to %s: %w", ip, err)
	}
	return nil
}

// SendToSlot delivers m to slot: unicast to the learned address, or the
// configured one when nothing was learned or the first send failed, and
// then always a broadcast as well. Clients filter by slot index, so
// duplicates are harmless. Unicast failures are logged; the broadcast
// result is returned.
func (t *Transport) SendToSlot(ctx context.Context, m osc.Message, slot int) error {
	payload, err := osc.Encode(m)
	if err != nil {
		return err
	}
	var dynamic, static net.IP
	if t.router != nil {
		dynamic, static = t.router.Route(slot)
	}
	sent := false
	if dynamic != nil {
		if err := t.unicast(ctx, payload, dynamic); err != nil {
			t.log.Debugf("slot %d: %v", slot, err)
		} else {
			sent = true
		}
	}
	if !sent && static != nil && !static.Equal(dynamic) {
		if err := t.unicast(ctx, payload, static); err != nil {
			t.log.Debugf("slot %d: %v", slot, err)
		}
	}
	return t.broadcast(ctx, payload)
}
