// Package registry holds the slot table: which devices exist, how to reach
// them and how they are grouped for bulk triggering.
//
// All state is owned by a single goroutine; every exported method is
// marshalled onto it, so a rebuild is atomic to concurrent readers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"showctl/internal/logger"
	"showctl/internal/notify"
	"showctl/internal/osc"
)

// MaxSlot is the highest slot number the table accepts.
const MaxSlot = 1024

var (
	// ErrUnknownSlot is returned for operations on a slot no device has.
	ErrUnknownSlot = errors.New("unknown slot")
	// ErrNoRoute is returned when a directed cue has no address to go to.
	ErrNoRoute = errors.New("no address known for slot")
	// ErrClosed is returned once the registry has been closed.
	ErrClosed = errors.New("registry closed")
)

// Publisher receives state-change events.
type Publisher interface {
	Publish(ev notify.Event)
}

// Unicaster sends a message to a single address.
type Unicaster interface {
	SendUnicast(ctx context.Context, m osc.Message, ip net.IP) error
}

// Registry is the authoritative slot table.
type Registry struct {
	log       *logger.Log
	pub       Publisher
	ops       chan func(*table)
	quit      chan struct{}
	closeOnce sync.Once
}

// New creates a registry with slots placeholder devices, each listening on
// the default MIDI channels.
func New(log *logger.Log, pub Publisher, slots int, channels []int) *Registry {
	if pub == nil {
		pub = nopPublisher{}
	}
	t := &table{
		static:   map[int]Route{},
		dynamic:  map[int]net.IP{},
		channels: append([]int(nil), channels...),
	}
	t.grow(min(slots, MaxSlot))
	r := &Registry{
		log:  log.Module("registry"),
		pub:  pub,
		ops:  make(chan func(*table)),
		quit: make(chan struct{}),
	}
	go r.run(t)
	return r
}

// Close stops the owning goroutine. Later calls fail with ErrClosed or
// return zero values.
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.quit) })
}

func (r *Registry) run(t *table) {
	for {
		select {
		case <-r.quit:
			return
		case op := <-r.ops:
			op(t)
		}
	}
}

// do runs fn on the owning goroutine and waits for it.
func (r *Registry) do(fn func(*table)) error {
	done := make(chan struct{})
	select {
	case r.ops <- func(t *table) { fn(t); close(done) }:
	case <-r.quit:
		return ErrClosed
	}
	<-done
	return nil
}

// Load rebuilds the table from m. Every device is first reset to an empty
// placeholder, then each mapped slot is overwritten, so entries missing from
// m fall back to placeholders. Learned dynamic addresses are dropped.
func (r *Registry) Load(m Mapping) {
	_ = r.do(func(t *table) {
		t.reset()
		slots := make([]int, 0, len(m))
		for slot := range m {
			if slot < 1 || slot > MaxSlot {
				r.log.Warnf("mapping slot %d out of range, skipped", slot)
				continue
			}
			slots = append(slots, slot)
		}
		sort.Ints(slots)
		for _, slot := range slots {
			t.apply(slot, m[slot])
		}
		t.recomputeGroups()
		r.log.Infof("routing table rebuilt: %d devices, %d mapped", len(t.devices), len(m))
	})
	r.pub.Publish(notify.Event{Kind: notify.KindDevice, Text: "reload"})
}

// LoadFile rebuilds the table from the mapping file at path. A missing file
// leaves every slot a placeholder. A file that does not decode leaves the
// table untouched.
func (r *Registry) LoadFile(path string) error {
	m, err := ReadMapping(path)
	if err != nil {
		r.log.Errorf("mapping not loaded, keeping current table: %v", err)
		return err
	}
	r.Load(m)
	return nil
}

// Lookup returns the device on slot.
func (r *Registry) Lookup(slot int) (Device, bool) {
	var (
		d  Device
		ok bool
	)
	_ = r.do(func(t *table) {
		if p := t.bySlot(slot); p != nil {
			d, ok = p.clone(), true
		}
	})
	return d, ok
}

// Snapshot returns a copy of every device in ID order.
func (r *Registry) Snapshot() []Device {
	var out []Device
	_ = r.do(func(t *table) {
		out = make([]Device, len(t.devices))
		for i, d := range t.devices {
			out[i] = d.clone()
		}
	})
	return out
}

// LiveSlots returns the slots of every non-placeholder device, ascending.
func (r *Registry) LiveSlots() []int {
	var out []int
	_ = r.do(func(t *table) { out = t.liveSlots() })
	return out
}

// ChannelSlots returns the non-placeholder slots that listen on MIDI
// channel ch, ascending.
func (r *Registry) ChannelSlots(ch int) []int {
	var out []int
	_ = r.do(func(t *table) {
		for _, d := range t.sorted() {
			if !d.Placeholder && d.ListensOn(ch) {
				out = append(out, d.Slot)
			}
		}
	})
	return out
}

// Route returns the learned and the configured address of slot. Either may
// be nil.
func (r *Registry) Route(slot int) (dynamic, static net.IP) {
	_ = r.do(func(t *table) {
		dynamic = t.dynamic[slot]
		static = t.static[slot].IP
	})
	return dynamic, static
}

// KnownIPs returns every address on record, dynamic and static, by slot.
func (r *Registry) KnownIPs() []SlotIP {
	var out []SlotIP
	_ = r.do(func(t *table) {
		seen := map[int]bool{}
		var slots []int
		for s := range t.dynamic {
			seen[s] = true
			slots = append(slots, s)
		}
		for s, rt := range t.static {
			if !seen[s] && rt.IP != nil {
				seen[s] = true
				slots = append(slots, s)
			}
		}
		sort.Ints(slots)
		for _, s := range slots {
			dyn, st := t.dynamic[s], t.static[s].IP
			if dyn != nil {
				out = append(out, SlotIP{Slot: s, IP: dyn})
			}
			if st != nil && !st.Equal(dyn) {
				out = append(out, SlotIP{Slot: s, IP: st})
			}
		}
	})
	return out
}

// CanonicalSlot returns the slot the static mapping assigns to udid.
func (r *Registry) CanonicalSlot(udid string) (int, bool) {
	var (
		slot int
		ok   bool
	)
	if udid == "" {
		return 0, false
	}
	_ = r.do(func(t *table) {
		for s, rt := range t.static {
			if rt.UDID == udid {
				slot, ok = s, true
				return
			}
		}
	})
	return slot, ok
}

// UpsertDynamicIP records ip as the learned address of slot. It takes
// precedence over the static mapping.
func (r *Registry) UpsertDynamicIP(slot int, ip net.IP) error {
	var err error
	if doErr := r.do(func(t *table) {
		d := t.bySlot(slot)
		if d == nil {
			err = fmt.Errorf("%w: %d", ErrUnknownSlot, slot)
			return
		}
		t.dynamic[slot] = ip
		t.refreshIP(d)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Announce records a hello from slot: the address it came from, its host
// name and identity. Slots beyond the table are created up to MaxSlot.
func (r *Registry) Announce(slot int, ip net.IP, name, udid string) (Device, error) {
	var d Device
	if slot < 1 || slot > MaxSlot {
		return d, fmt.Errorf("%w: %d", ErrUnknownSlot, slot)
	}
	err := r.do(func(t *table) {
		t.grow(slot)
		p := t.bySlot(slot)
		t.dynamic[slot] = ip
		t.refreshIP(p)
		if name != "" {
			p.Name = name
		}
		if udid != "" {
			p.UDID = udid
		}
		p.State = p.State.afterHello()
		p.LastSeen = time.Now()
		if p.Placeholder {
			p.Placeholder = false
			t.recomputeGroups()
		}
		d = p.clone()
	})
	if err != nil {
		return d, err
	}
	r.pub.Publish(notify.Event{Kind: notify.KindDevice, Slot: slot, On: true, Text: d.State.String()})
	return d, nil
}

// MarkAcked records an ack from slot.
func (r *Registry) MarkAcked(slot int) bool {
	var ok bool
	_ = r.do(func(t *table) {
		if d := t.bySlot(slot); d != nil {
			d.State = d.State.afterAck()
			d.LastSeen = time.Now()
			ok = true
		}
	})
	if ok {
		r.pub.Publish(notify.Event{Kind: notify.KindAck, Slot: slot, On: true})
	}
	return ok
}

// ReassignSlot moves the device on oldSlot to newSlot, keeping its identity
// and addresses, and tells the client with a directed SetSlot. A device
// already on newSlot is moved to oldSlot. Nothing changes when the device
// has no known address.
func (r *Registry) ReassignSlot(ctx context.Context, u Unicaster, oldSlot, newSlot int) error {
	if newSlot < 1 {
		return fmt.Errorf("%w: %d", ErrUnknownSlot, newSlot)
	}
	var (
		ip  net.IP
		err error
	)
	if doErr := r.do(func(t *table) {
		d := t.bySlot(oldSlot)
		if d == nil {
			err = fmt.Errorf("%w: %d", ErrUnknownSlot, oldSlot)
			return
		}
		if d.IP == nil {
			err = fmt.Errorf("%w: %d", ErrNoRoute, oldSlot)
			return
		}
		ip = append(net.IP(nil), d.IP...)
		if other := t.bySlot(newSlot); other != nil {
			other.Slot = oldSlot
		}
		d.Slot = newSlot
		t.swapRoutes(oldSlot, newSlot)
		t.recomputeGroups()
	}); doErr != nil {
		return doErr
	}
	if err != nil {
		return err
	}
	r.log.Infof("slot %d reassigned to %d (%s)", oldSlot, newSlot, ip)
	r.pub.Publish(notify.Event{Kind: notify.KindDevice, Slot: newSlot, Text: fmt.Sprintf("reassigned from %d", oldSlot)})
	if err := u.SendUnicast(ctx, osc.SetSlot{Slot: int32(newSlot)}, ip); err != nil {
		return fmt.Errorf("set-slot %d to %s: %w", newSlot, ip, err)
	}
	return nil
}

// Add appends a placeholder device on the next free slot.
func (r *Registry) Add() Device {
	var d Device
	_ = r.do(func(t *table) {
		next := 1
		for _, p := range t.devices {
			if p.Slot >= next {
				next = p.Slot + 1
			}
		}
		d = t.appendDevice(next).clone()
	})
	r.pub.Publish(notify.Event{Kind: notify.KindDevice, Slot: d.Slot, Text: "added"})
	return d
}

// Remove deletes the device on slot. Every later device moves down one
// position and is renumbered to ID+1, carrying its routes along.
func (r *Registry) Remove(slot int) error {
	var err error
	if doErr := r.do(func(t *table) {
		idx := -1
		for i, d := range t.devices {
			if d.Slot == slot {
				idx = i
				break
			}
		}
		if idx < 0 {
			err = fmt.Errorf("%w: %d", ErrUnknownSlot, slot)
			return
		}
		delete(t.static, slot)
		delete(t.dynamic, slot)
		t.devices = append(t.devices[:idx], t.devices[idx+1:]...)

		remap := map[int]int{}
		for i := idx; i < len(t.devices); i++ {
			d := t.devices[i]
			d.ID = i
			if d.Slot != i+1 {
				remap[d.Slot] = i + 1
				d.Slot = i + 1
			}
		}
		t.rekey(remap)
		t.recomputeGroups()
	}); doErr != nil {
		return doErr
	}
	if err != nil {
		return err
	}
	r.pub.Publish(notify.Event{Kind: notify.KindDevice, Slot: slot, Text: "removed"})
	return nil
}

// SetTorch records the commanded torch state of slots.
func (r *Registry) SetTorch(slots []int, on bool) {
	_ = r.do(func(t *table) {
		for _, s := range slots {
			if d := t.bySlot(s); d != nil {
				d.TorchOn = on
			}
		}
	})
	for _, s := range slots {
		r.pub.Publish(notify.Event{Kind: notify.KindTorch, Slot: s, On: on})
	}
}

// SetAudio records the commanded audio state of slots.
func (r *Registry) SetAudio(slots []int, playing bool) {
	_ = r.do(func(t *table) {
		for _, s := range slots {
			if d := t.bySlot(s); d != nil {
				d.AudioPlaying = playing
			}
		}
	})
	for _, s := range slots {
		r.pub.Publish(notify.Event{Kind: notify.KindAudio, Slot: s, On: playing})
	}
}

// Group returns the slots of group n (1..NumGroups).
func (r *Registry) Group(n int) []int {
	var out []int
	if n < 1 || n > NumGroups {
		return nil
	}
	_ = r.do(func(t *table) { out = append([]int(nil), t.groups[n-1]...) })
	return out
}

// Groups returns every group, index 0 holding group 1.
func (r *Registry) Groups() [NumGroups][]int {
	var out [NumGroups][]int
	_ = r.do(func(t *table) {
		for i, g := range t.groups {
			out[i] = append([]int(nil), g...)
		}
	})
	return out
}

// RecomputeGroups deals the live slots round-robin over the groups.
func (r *Registry) RecomputeGroups() {
	_ = r.do(func(t *table) { t.recomputeGroups() })
}

// Stale returns the live slots not heard from within maxAge. No state is
// changed; staleness is for display only.
func (r *Registry) Stale(maxAge time.Duration) []int {
	var out []int
	cutoff := time.Now().Add(-maxAge)
	_ = r.do(func(t *table) {
		for _, d := range t.sorted() {
			if !d.Placeholder && d.LastSeen.Before(cutoff) {
				out = append(out, d.Slot)
			}
		}
	})
	return out
}

type nopPublisher struct{}

func (nopPublisher) Publish(notify.Event) {}
