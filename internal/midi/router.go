// Package midi turns MIDI notes and control changes into cues for groups of
// devices or single devices.
package midi

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	gomidi "gitlab.com/gomidi/midi/v2"

	"showctl/internal/effects"
	"showctl/internal/logger"
	"showctl/internal/osc"
	"showctl/internal/registry"
)

// DefaultQueueSize is the number of MIDI events buffered ahead of dispatch.
const DefaultQueueSize = 256

// Reserved notes on per-device channels.
const (
	NoteSlowGlowRamp = 71
	NoteGlowRamp     = 72
	NoteStrobe       = 105
	NoteAllTorches   = 106

	noteFirstGroup = 96
	noteLastGroup  = 104
)

// faderCC is the controller number of the brightness fader.
const faderCC = 1

// Sender delivers a cue to one slot.
type Sender interface {
	SendToSlot(ctx context.Context, m osc.Message, slot int) error
}

// Devices is the read side of the registry plus torch/audio bookkeeping.
type Devices interface {
	Lookup(slot int) (registry.Device, bool)
	Snapshot() []registry.Device
	Group(n int) []int
	ChannelSlots(ch int) []int
	SetTorch(slots []int, on bool)
	SetAudio(slots []int, playing bool)
}

// Effects toggles the oscillating effects.
type Effects interface {
	Toggle(kind effects.Kind) (bool, error)
}

type eventKind int

const (
	evNoteOn eventKind = iota
	evNoteOff
	evControl
	evReleaseAll
)

type event struct {
	kind eventKind
	ch   int // 1..16
	a, b int // note/velocity or controller/value
}

func (e event) String() string {
	switch e.kind {
	case evNoteOn:
		return fmt.Sprintf("note-on ch %d note %d vel %d", e.ch, e.a, e.b)
	case evNoteOff:
		return fmt.Sprintf("note-off ch %d note %d", e.ch, e.a)
	case evControl:
		return fmt.Sprintf("cc ch %d #%d = %d", e.ch, e.a, e.b)
	}
	return "release-all"
}

type noteKey struct {
	ch, note int
}

// hold records what a note-on did so its note-off can undo exactly that.
type hold struct {
	slots []int
	torch bool
	audio bool
}

// Router maps MIDI events to cues. Events are queued without blocking the
// caller and dispatched in arrival order by Run.
type Router struct {
	log     *logger.Log
	sender  Sender
	devices Devices
	fx      Effects
	mode    atomic.Int32

	queue chan event

	// owned by Run
	held map[noteKey]*hold
}

// New creates a router. fx may be nil when effects are not wired.
func New(log *logger.Log, sender Sender, devices Devices, fx Effects, mode TriggerMode, queueSize int) *Router {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	r := &Router{
		log:     log.Module("midi"),
		sender:  sender,
		devices: devices,
		fx:      fx,
		queue:   make(chan event, queueSize),
		held:    make(map[noteKey]*hold),
	}
	r.mode.Store(int32(mode))
	return r
}

// Mode returns the current per-device trigger mode.
func (r *Router) Mode() TriggerMode { return TriggerMode(r.mode.Load()) }

// SetMode changes the per-device trigger mode. Held notes keep the mode
// they were triggered with.
func (r *Router) SetMode(m TriggerMode) { r.mode.Store(int32(m)) }

// Handle queues a raw MIDI message. Anything other than notes and control
// changes is ignored.
func (r *Router) Handle(msg gomidi.Message) {
	var ch, key, vel, cc, val uint8
	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		r.NoteOn(int(ch)+1, int(key), int(vel))
	case msg.GetNoteEnd(&ch, &key):
		r.NoteOff(int(ch)+1, int(key))
	case msg.GetControlChange(&ch, &cc, &val):
		r.ControlChange(int(ch)+1, int(cc), int(val))
	default:
		r.log.Debugf("unhandled message %s", msg)
	}
}

// NoteOn queues a note-on. Channels are 1..16.
func (r *Router) NoteOn(ch, note, velocity int) bool {
	return r.enqueue(event{kind: evNoteOn, ch: ch, a: note, b: velocity})
}

// NoteOff queues a note-off.
func (r *Router) NoteOff(ch, note int) bool {
	return r.enqueue(event{kind: evNoteOff, ch: ch, a: note})
}

// ControlChange queues a control change.
func (r *Router) ControlChange(ch, controller, value int) bool {
	return r.enqueue(event{kind: evControl, ch: ch, a: controller, b: value})
}

// ReleaseAll queues the release of every held note, for example when the
// input device disappears.
func (r *Router) ReleaseAll() bool {
	return r.enqueue(event{kind: evReleaseAll})
}

func (r *Router) enqueue(ev event) bool {
	select {
	case r.queue <- ev:
		return true
	default:
		r.log.Warnf("queue full, dropping %s", ev)
		return false
	}
}

// Run dispatches queued events until ctx is done.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.queue:
			r.dispatch(ctx, ev)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, ev event) {
	r.log.Debugf("%s", ev)
	switch ev.kind {
	case evNoteOn:
		r.noteOn(ctx, ev.ch, ev.a, ev.b)
	case evNoteOff:
		r.noteOff(ctx, noteKey{ev.ch, ev.a})
	case evControl:
		r.control(ctx, ev.ch, ev.a, ev.b)
	case evReleaseAll:
		for key := range r.held {
			r.noteOff(ctx, key)
		}
	}
}

func (r *Router) noteOn(ctx context.Context, ch, note, velocity int) {
	key := noteKey{ch, note}
	if _, ok := r.held[key]; ok {
		r.noteOff(ctx, key)
	}
	gain := float32(velocity) / 127

	var h *hold
	switch {
	case ch >= 1 && ch <= 9:
		file, ok := PrimerFile(note)
		if !ok {
			return
		}
		h = r.play(ctx, r.devices.Group(ch), file, gain)
	case ch >= 11 && ch <= 16:
		id, groups := ComplexEvent(ch, note)
		var slots []int
		for _, g := range groups {
			slots = append(slots, r.devices.Group(g)...)
		}
		h = r.play(ctx, slots, fmt.Sprintf("event%d.mp3", id), gain)
	default:
		h = r.perDevice(ctx, ch, note, gain)
	}
	if h != nil && len(h.slots) > 0 {
		r.held[key] = h
	}
}

// perDevice handles the reserved notes, group notes and note-per-slot
// addressing used outside the primer and complex-event channels.
func (r *Router) perDevice(ctx context.Context, ch, note int, level float32) *hold {
	switch note {
	case NoteSlowGlowRamp:
		r.toggle(effects.SlowGlowRamp)
		return nil
	case NoteGlowRamp:
		r.toggle(effects.GlowRamp)
		return nil
	case NoteStrobe:
		r.toggle(effects.Strobe)
		return nil
	case NoteAllTorches:
		r.toggleTorches(ctx)
		return nil
	}

	var slots []int
	if note >= noteFirstGroup && note <= noteLastGroup {
		slots = r.devices.Group(note - noteFirstGroup + 1)
	} else if d, ok := r.devices.Lookup(note); ok && d.ListensOn(ch) {
		slots = []int{note}
	}
	if len(slots) == 0 {
		return nil
	}

	h := &hold{slots: slots}
	switch mode := r.Mode(); mode {
	case ModeTorch:
		h.torch = true
	case ModeSound:
		h.audio = true
	case ModeBoth:
		h.torch, h.audio = true, true
	default:
		r.log.Warnf("unknown trigger mode %v", mode)
		return nil
	}
	if h.torch {
		r.send(ctx, slots, func(slot int) osc.Message {
			return osc.FlashOn{Index: int32(slot), Intensity: level}
		})
		r.devices.SetTorch(slots, true)
	}
	if h.audio {
		file := fmt.Sprintf("note%d.mp3", note)
		r.send(ctx, slots, func(slot int) osc.Message {
			return osc.AudioPlay{Index: int32(slot), File: file, Gain: level}
		})
		r.devices.SetAudio(slots, true)
	}
	return h
}

func (r *Router) play(ctx context.Context, slots []int, file string, gain float32) *hold {
	if len(slots) == 0 {
		return nil
	}
	r.send(ctx, slots, func(slot int) osc.Message {
		return osc.AudioPlay{Index: int32(slot), File: file, Gain: gain}
	})
	r.devices.SetAudio(slots, true)
	return &hold{slots: slots, audio: true}
}

func (r *Router) noteOff(ctx context.Context, key noteKey) {
	h, ok := r.held[key]
	if !ok {
		return
	}
	delete(r.held, key)
	if h.torch {
		r.send(ctx, h.slots, func(slot int) osc.Message { return osc.FlashOff{Index: int32(slot)} })
		r.devices.SetTorch(h.slots, false)
	}
	if h.audio {
		r.send(ctx, h.slots, func(slot int) osc.Message { return osc.AudioStop{Index: int32(slot)} })
		r.devices.SetAudio(h.slots, false)
	}
}

func (r *Router) control(ctx context.Context, ch, controller, value int) {
	if controller != faderCC {
		return
	}
	slots := r.devices.ChannelSlots(ch)
	if len(slots) == 0 {
		return
	}
	if value == 0 {
		r.send(ctx, slots, func(slot int) osc.Message { return osc.FlashOff{Index: int32(slot)} })
		r.devices.SetTorch(slots, false)
		return
	}
	level := float32(value) / 127
	r.send(ctx, slots, func(slot int) osc.Message {
		return osc.FlashOn{Index: int32(slot), Intensity: level}
	})
	r.devices.SetTorch(slots, true)
}

func (r *Router) toggle(kind effects.Kind) {
	if r.fx == nil {
		return
	}
	on, err := r.fx.Toggle(kind)
	if err != nil {
		r.log.Warnf("toggle %s: %v", kind, err)
		return
	}
	r.log.Infof("%s on=%v", kind, on)
}

// toggleTorches turns every live torch off if any is lit, otherwise on.
func (r *Router) toggleTorches(ctx context.Context) {
	var live []int
	anyOn := false
	for _, d := range r.devices.Snapshot() {
		if d.Placeholder {
			continue
		}
		live = append(live, d.Slot)
		anyOn = anyOn || d.TorchOn
	}
	if len(live) == 0 {
		return
	}
	if anyOn {
		r.send(ctx, live, func(slot int) osc.Message { return osc.FlashOff{Index: int32(slot)} })
	} else {
		r.send(ctx, live, func(slot int) osc.Message { return osc.FlashOn{Index: int32(slot), Intensity: 1} })
	}
	r.devices.SetTorch(live, !anyOn)
}

// send delivers one message per slot in parallel. Failures are logged and
// never stop dispatch.
func (r *Router) send(ctx context.Context, slots []int, mk func(slot int) osc.Message) {
	var wg sync.WaitGroup
	for _, slot := range slots {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			if err := r.sender.SendToSlot(ctx, mk(slot), slot); err != nil {
				r.log.Debugf("send to slot %d: %v", slot, err)
			}
		}(slot)
	}
	wg.Wait()
}

// PrimerFile names the sample for a primer-tone note: 0..48 are short
// samples, 50..98 long ones.
func PrimerFile(note int) (string, bool) {
	switch {
	case note >= 0 && note <= 48:
		return fmt.Sprintf("short%d.mp3", note), true
	case note >= 50 && note <= 98:
		return fmt.Sprintf("long%d.mp3", note-50), true
	}
	return "", false
}

// ComplexEvent returns the event id and the three groups for a note on
// channels 11..16. Odd channels are the base bank and even channels add 128.
func ComplexEvent(ch, note int) (int, [3]int) {
	region := (ch - 11) / 2
	id := note
	if ch%2 == 0 {
		id += 128
	}
	first := region*3 + 1
	return id, [3]int{first, first + 1, first + 2}
}
