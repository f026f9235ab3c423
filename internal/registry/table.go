package registry

import (
	"net"
	"sort"
)

// table is the state owned by the registry goroutine.
type table struct {
	devices  []*Device
	static   map[int]Route
	dynamic  map[int]net.IP
	groups   [NumGroups][]int
	channels []int
}

func (t *table) bySlot(slot int) *Device {
	for _, d := range t.devices {
		if d.Slot == slot {
			return d
		}
	}
	return nil
}

func (t *table) appendDevice(slot int) *Device {
	d := &Device{
		ID:           len(t.devices),
		Slot:         slot,
		Placeholder:  true,
		MIDIChannels: append([]int(nil), t.channels...),
	}
	t.devices = append(t.devices, d)
	return d
}

// grow makes sure slots 1..n exist.
func (t *table) grow(n int) {
	present := make(map[int]bool, len(t.devices))
	for _, d := range t.devices {
		present[d.Slot] = true
	}
	for slot := 1; slot <= n; slot++ {
		if !present[slot] {
			t.appendDevice(slot)
		}
	}
}

func (t *table) reset() {
	t.static = map[int]Route{}
	t.dynamic = map[int]net.IP{}
	for i, d := range t.devices {
		*d = Device{
			ID:           i,
			Slot:         i + 1,
			Placeholder:  true,
			MIDIChannels: append([]int(nil), t.channels...),
		}
	}
}

func (t *table) apply(slot int, rt Route) {
	t.grow(slot)
	d := t.bySlot(slot)
	d.UDID = rt.UDID
	d.Name = rt.Name
	d.Placeholder = false
	if len(rt.MIDIChannels) > 0 {
		d.MIDIChannels = append([]int(nil), rt.MIDIChannels...)
	}
	t.static[slot] = rt
	t.refreshIP(d)
}

func (t *table) refreshIP(d *Device) {
	if ip := t.dynamic[d.Slot]; ip != nil {
		d.IP = ip
		return
	}
	d.IP = t.static[d.Slot].IP
}

// swapRoutes exchanges the routes recorded under slots a and b.
func (t *table) swapRoutes(a, b int) {
	sa, okA := t.static[a]
	sb, okB := t.static[b]
	delete(t.static, a)
	delete(t.static, b)
	if okA {
		t.static[b] = sa
	}
	if okB {
		t.static[a] = sb
	}

	da, db := t.dynamic[a], t.dynamic[b]
	delete(t.dynamic, a)
	delete(t.dynamic, b)
	if da != nil {
		t.dynamic[b] = da
	}
	if db != nil {
		t.dynamic[a] = db
	}

	for _, slot := range []int{a, b} {
		if d := t.bySlot(slot); d != nil {
			t.refreshIP(d)
		}
	}
}

// rekey moves routes from old slot keys to new ones.
func (t *table) rekey(remap map[int]int) {
	if len(remap) == 0 {
		return
	}
	static := make(map[int]Route, len(t.static))
	for s, rt := range t.static {
		if n, ok := remap[s]; ok {
			s = n
		}
		static[s] = rt
	}
	dynamic := make(map[int]net.IP, len(t.dynamic))
	for s, ip := range t.dynamic {
		if n, ok := remap[s]; ok {
			s = n
		}
		dynamic[s] = ip
	}
	t.static, t.dynamic = static, dynamic
	for _, d := range t.devices {
		t.refreshIP(d)
	}
}

func (t *table) sorted() []*Device {
	out := append([]*Device(nil), t.devices...)
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

func (t *table) liveSlots() []int {
	var out []int
	for _, d := range t.sorted() {
		if !d.Placeholder {
			out = append(out, d.Slot)
		}
	}
	return out
}

// recomputeGroups deals the live slots, in ascending order, round-robin
// over the groups.
func (t *table) recomputeGroups() {
	var groups [NumGroups][]int
	for i, slot := range t.liveSlots() {
		groups[i%NumGroups] = append(groups[i%NumGroups], slot)
	}
	t.groups = groups
}
