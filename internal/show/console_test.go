package show

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"testing"

	"showctl/internal/effects"
	"showctl/internal/logger"
	"showctl/internal/midi"
	"showctl/internal/osc"
	"showctl/internal/registry"
)

type sent struct {
	slot int
	msg  osc.Message
}

type fakeNetwork struct {
	mu        sync.Mutex
	sent      []sent
	broadcast []osc.Message
	unicast   []osc.Message
	refreshed int
	fail      map[int]error
}

func (f *fakeNetwork) SendToSlot(_ context.Context, m osc.Message, slot int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{slot, m})
	return f.fail[slot]
}

func (f *fakeNetwork) SendBroadcast(_ context.Context, m osc.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcast = append(f.broadcast, m)
	return nil
}

func (f *fakeNetwork) SendUnicast(_ context.Context, m osc.Message, _ net.IP) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unicast = append(f.unicast, m)
	return nil
}

func (f *fakeNetwork) RefreshBindings(context.Context, string) error {
	f.refreshed++
	return nil
}

func (f *fakeNetwork) take() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	sort.SliceStable(out, func(i, j int) bool { return out[i].slot < out[j].slot })
	return out
}

type fakeEffects struct {
	toggled   []effects.Kind
	envelopes []effects.Envelope
	released  int
	stopped   int
}

func (f *fakeEffects) Toggle(k effects.Kind) (bool, error) {
	f.toggled = append(f.toggled, k)
	return true, nil
}

func (f *fakeEffects) StopAll() error { f.stopped++; return nil }

func (f *fakeEffects) StartEnvelope(env effects.Envelope) error {
	f.envelopes = append(f.envelopes, env)
	return nil
}

func (f *fakeEffects) Release() error { f.released++; return nil }

type fakeInviter struct{ n int }

func (f *fakeInviter) Reinvite(context.Context) { f.n++ }

type fakeModes struct{ mode midi.TriggerMode }

func (f *fakeModes) SetMode(m midi.TriggerMode) { f.mode = m }

type fixture struct {
	console *Console
	reg     *registry.Registry
	net     *fakeNetwork
	fx      *fakeEffects
	inviter *fakeInviter
	modes   *fakeModes
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	reg := registry.New(logger.Discard(), nil, 6, []int{10})
	t.Cleanup(reg.Close)
	reg.Load(registry.Mapping{
		1: {IP: net.IPv4(10, 0, 0, 1), Name: "a"},
		2: {IP: net.IPv4(10, 0, 0, 2), Name: "b"},
		4: {IP: net.IPv4(10, 0, 0, 4), Name: "d"},
	})
	f := fixture{
		reg:     reg,
		net:     &fakeNetwork{},
		fx:      &fakeEffects{},
		inviter: &fakeInviter{},
		modes:   &fakeModes{},
	}
	f.console = New(logger.Discard(), reg, f.net, f.fx, f.inviter, f.modes, nil, opts)
	return f
}

func TestFlashOps(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if err := f.console.Execute(ctx, Command{Op: OpFlashOn, Slots: []int{1, 4}, Intensity: 0.5}); err != nil {
		t.Fatal(err)
	}
	want := []sent{{1, osc.FlashOn{Index: 1, Intensity: 0.5}}, {4, osc.FlashOn{Index: 4, Intensity: 0.5}}}
	if got := f.net.take(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if d, _ := f.reg.Lookup(4); !d.TorchOn {
		t.Error("expected slot 4 torch on")
	}

	if err := f.console.Execute(ctx, Command{Op: OpAllOff}); err != nil {
		t.Fatal(err)
	}
	if got := f.net.take(); len(got) != 3 || f.fx.stopped != 1 {
		t.Errorf("expected effects stopped and 3 live slots off, got %+v", got)
	}
	if d, _ := f.reg.Lookup(4); d.TorchOn {
		t.Error("expected slot 4 torch off")
	}

	if err := f.console.Execute(ctx, Command{Op: OpFlashAll}); err != nil {
		t.Fatal(err)
	}
	if got := f.net.take(); len(got) != 3 || got[0].msg != (osc.FlashOn{Index: 1, Intensity: 1}) {
		t.Errorf("unexpected flash-all %+v", got)
	}

	if err := f.console.Execute(ctx, Command{Op: OpFlashOn}); !errors.Is(err, ErrNoTarget) {
		t.Errorf("expected ErrNoTarget, got %v", err)
	}
}

func TestAudioOps(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	offset := int64(1500)

	err := f.console.Execute(ctx, Command{Op: OpAudioPlay, Slot: 2, File: "intro.mp3", Gain: 0.5, OffsetMs: &offset})
	if err != nil {
		t.Fatal(err)
	}
	want := []sent{{2, osc.AudioPlay{Index: 2, File: "intro.mp3", Gain: 0.5, StartOffsetMs: 1500, HasStartOffset: true}}}
	if got := f.net.take(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if d, _ := f.reg.Lookup(2); !d.AudioPlaying {
		t.Error("expected slot 2 playing")
	}

	if err := f.console.Execute(ctx, Command{Op: OpAudioStop, Slot: 2}); err != nil {
		t.Fatal(err)
	}
	if err := f.console.Execute(ctx, Command{Op: OpMicRecord, Slot: 1, Seconds: 10}); err != nil {
		t.Fatal(err)
	}
	want = []sent{{1, osc.MicRecord{Index: 1, MaxDurationSec: 10}}, {2, osc.AudioStop{Index: 2}}}
	if got := f.net.take(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %+v, got %+v", want, got)
	}

	if err := f.console.Execute(ctx, Command{Op: OpAudioPlay, Slot: 2}); err == nil {
		t.Error("expected audio-play without a file to fail")
	}
}

func TestSendFailuresAreJoined(t *testing.T) {
	f := newFixture(t, Options{})
	boom := errors.New("boom")
	f.net.fail = map[int]error{2: boom}

	err := f.console.Execute(context.Background(), Command{Op: OpFlashOn, Slots: []int{1, 2}})
	if !errors.Is(err, boom) {
		t.Errorf("expected the slot 2 failure, got %v", err)
	}
	if got := f.net.take(); len(got) != 2 {
		t.Errorf("expected both slots attempted, got %+v", got)
	}
}

func TestEffectAndEnvelopeOps(t *testing.T) {
	defaults := effects.Envelope{Attack: 200e6, Decay: 300e6, Sustain: 0.6, Release: 800e6}
	f := newFixture(t, Options{Envelope: defaults})
	ctx := context.Background()

	if err := f.console.Execute(ctx, Command{Op: OpEffect, Name: "glow-ramp"}); err != nil {
		t.Fatal(err)
	}
	if err := f.console.Execute(ctx, Command{Op: OpEffect, Name: "laser"}); err == nil {
		t.Error("expected an unknown effect error")
	}
	sustain := 0.25
	if err := f.console.Execute(ctx, Command{Op: OpEnvelope, AttackMs: 50, Sustain: &sustain}); err != nil {
		t.Fatal(err)
	}
	if err := f.console.Execute(ctx, Command{Op: OpRelease}); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(f.fx.toggled, []effects.Kind{effects.GlowRamp}) {
		t.Errorf("unexpected toggles %v", f.fx.toggled)
	}
	want := effects.Envelope{Attack: 50e6, Decay: 300e6, Sustain: 0.25, Release: 800e6}
	if len(f.fx.envelopes) != 1 || f.fx.envelopes[0] != want {
		t.Errorf("expected %+v, got %+v", want, f.fx.envelopes)
	}
	if f.fx.released != 1 {
		t.Errorf("expected one release, got %d", f.fx.released)
	}
}

func TestDeviceOps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	f := newFixture(t, Options{MappingFile: path})
	ctx := context.Background()

	if err := f.console.Execute(ctx, Command{Op: OpReassign, Slot: 1, To: 3}); err != nil {
		t.Fatal(err)
	}
	if len(f.net.unicast) != 1 || f.net.unicast[0] != (osc.SetSlot{Slot: 3}) {
		t.Errorf("expected a set-slot to the moved device, got %+v", f.net.unicast)
	}
	if d, _ := f.reg.Lookup(3); d.Name != "a" {
		t.Errorf("expected slot 3 to hold the moved device, got %+v", d)
	}

	if err := f.console.Execute(ctx, Command{Op: OpAddDevice}); err != nil {
		t.Fatal(err)
	}
	if d, ok := f.reg.Lookup(7); !ok || !d.Placeholder {
		t.Errorf("expected a new placeholder on slot 7, got %+v", d)
	}
	if err := f.console.Execute(ctx, Command{Op: OpRemoveDevice, Slot: 7}); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte(`{"5":{"ip":"10.0.0.5","name":"e"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := f.console.Execute(ctx, Command{Op: OpReload}); err != nil {
		t.Fatal(err)
	}
	if live := f.reg.LiveSlots(); !reflect.DeepEqual(live, []int{5}) {
		t.Errorf("expected only slot 5 after reload, got %v", live)
	}
	if err := f.console.Execute(ctx, Command{Op: OpRefresh}); err != nil {
		t.Fatal(err)
	}
	if f.net.refreshed != 1 || f.inviter.n != 1 {
		t.Errorf("expected one refresh and one reinvite from reload, got %d %d", f.net.refreshed, f.inviter.n)
	}
}

func TestModeAndSync(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if err := f.console.Execute(ctx, Command{Op: OpMode, Name: "both"}); err != nil {
		t.Fatal(err)
	}
	if f.modes.mode != midi.ModeBoth {
		t.Errorf("expected both, got %v", f.modes.mode)
	}
	if err := f.console.Execute(ctx, Command{Op: OpSync}); err != nil {
		t.Fatal(err)
	}
	if len(f.net.broadcast) != 1 {
		t.Fatalf("expected one broadcast, got %+v", f.net.broadcast)
	}
	if _, ok := f.net.broadcast[0].(osc.Sync); !ok {
		t.Errorf("expected a sync, got %+v", f.net.broadcast[0])
	}
	if err := f.console.Execute(ctx, Command{Op: "explode"}); !errors.Is(err, ErrUnknownOp) {
		t.Errorf("expected ErrUnknownOp, got %v", err)
	}
}

func TestCueSheet(t *testing.T) {
	sheet, err := ParseCueSheet([]byte(`
cues:
  opening:
    - op: flash-on
      slots: [1, 2]
      intensity: 0.8
    - op: cue
      name: sound
  sound:
    - op: audio-play
      slot: 4
      file: intro.mp3
      offset-ms: 250
`))
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, Options{})
	f.console.SetCues(sheet)

	if err := f.console.Execute(context.Background(), Command{Op: OpCue, Name: "opening"}); err != nil {
		t.Fatal(err)
	}
	want := []sent{
		{1, osc.FlashOn{Index: 1, Intensity: 0.8}},
		{2, osc.FlashOn{Index: 2, Intensity: 0.8}},
		{4, osc.AudioPlay{Index: 4, File: "intro.mp3", Gain: 1, StartOffsetMs: 250, HasStartOffset: true}},
	}
	if got := f.net.take(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %+v, got %+v", want, got)
	}
	if err := f.console.Execute(context.Background(), Command{Op: OpCue, Name: "encore"}); !errors.Is(err, ErrNoCue) {
		t.Errorf("expected ErrNoCue, got %v", err)
	}
}

func TestParseCueSheetRejects(t *testing.T) {
	for name, body := range map[string]string{
		"unknown op":  "cues:\n  a:\n    - op: explode\n",
		"unknown key": "cues:\n  a:\n    - op: flash-on\n      colour: red\n",
		"self loop":   "cues:\n  a:\n    - op: cue\n      name: a\n",
		"bad yaml":    "cues: [",
	} {
		if _, err := ParseCueSheet([]byte(body)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
	sheet, err := ParseCueSheet(nil)
	if err != nil || len(sheet.Cues) != 0 {
		t.Errorf("expected an empty sheet, got %+v %v", sheet, err)
	}
}

func TestCueLoopIsBounded(t *testing.T) {
	f := newFixture(t, Options{})
	f.console.SetCues(&CueSheet{Cues: map[string][]Command{
		"ping": {{Op: OpCue, Name: "pong"}},
		"pong": {{Op: OpCue, Name: "ping"}},
	}})
	if err := f.console.Execute(context.Background(), Command{Op: OpCue, Name: "ping"}); err == nil {
		t.Error("expected a nesting error")
	}
}

func TestHandleRemote(t *testing.T) {
	f := newFixture(t, Options{})
	f.console.HandleRemote(context.Background(), OpFlashOn, []byte(`{"slot":2,"intensity":0.5}`))
	if got := f.net.take(); !reflect.DeepEqual(got, []sent{{2, osc.FlashOn{Index: 2, Intensity: 0.5}}}) {
		t.Errorf("unexpected remote flash %+v", got)
	}
	f.console.HandleRemote(context.Background(), OpFlashOn, []byte(`{`))
	if got := f.net.take(); len(got) != 0 {
		t.Errorf("expected a bad payload to send nothing, got %+v", got)
	}
}
