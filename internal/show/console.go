// Package show is the console: it holds the running components and carries
// out named operations from the operator, remote commands and cue sheets.
package show

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"showctl/internal/effects"
	"showctl/internal/logger"
	"showctl/internal/midi"
	"showctl/internal/notify"
	"showctl/internal/osc"
	"showctl/internal/registry"
)

// Console operations.
const (
	OpFlashOn      = "flash-on"
	OpFlashOff     = "flash-off"
	OpFlashAll     = "flash-all"
	OpAllOff       = "all-off"
	OpAudioPlay    = "audio-play"
	OpAudioStop    = "audio-stop"
	OpMicRecord    = "mic-record"
	OpEffect       = "effect"
	OpEnvelope     = "envelope"
	OpRelease      = "release"
	OpRefresh      = "refresh"
	OpReload       = "reload"
	OpReassign     = "reassign"
	OpAddDevice    = "add-device"
	OpRemoveDevice = "remove-device"
	OpCue          = "cue"
	OpMode         = "mode"
	OpSync         = "sync"
)

var ops = map[string]bool{
	OpFlashOn: true, OpFlashOff: true, OpFlashAll: true, OpAllOff: true,
	OpAudioPlay: true, OpAudioStop: true, OpMicRecord: true,
	OpEffect: true, OpEnvelope: true, OpRelease: true,
	OpRefresh: true, OpReload: true, OpReassign: true,
	OpAddDevice: true, OpRemoveDevice: true,
	OpCue: true, OpMode: true, OpSync: true,
}

func knownOp(op string) bool { return ops[op] }

var (
	// ErrUnknownOp is returned for an op name the console does not know.
	ErrUnknownOp = errors.New("unknown op")
	// ErrNoTarget is returned when a command resolves to no slots.
	ErrNoTarget = errors.New("no target slots")
	// ErrNoCue is returned when a cue is not in the loaded sheet.
	ErrNoCue = errors.New("unknown cue")
)

// maxCueDepth bounds cues firing other cues.
const maxCueDepth = 4

// Network is the transport surface the console drives.
type Network interface {
	SendToSlot(ctx context.Context, m osc.Message, slot int) error
	SendBroadcast(ctx context.Context, m osc.Message) error
	SendUnicast(ctx context.Context, m osc.Message, ip net.IP) error
	RefreshBindings(ctx context.Context, reason string) error
}

// Effects is the scheduler surface the console drives.
type Effects interface {
	Toggle(kind effects.Kind) (bool, error)
	StopAll() error
	StartEnvelope(env effects.Envelope) error
	Release() error
}

// Inviter re-announces the console and asks devices to say hello.
type Inviter interface {
	Reinvite(ctx context.Context)
}

// Modes switches the MIDI trigger mode.
type Modes interface {
	SetMode(m midi.TriggerMode)
}

// Options are the parts of the console that come from configuration.
type Options struct {
	MappingFile string
	Envelope    effects.Envelope // defaults for envelope ops
}

// Console owns the show state. Every component is handed in; nothing is
// global.
type Console struct {
	log      *logger.Log
	registry *registry.Registry
	net      Network
	fx       Effects
	inviter  Inviter
	modes    Modes
	hub      *notify.Hub
	opts     Options

	mu   sync.RWMutex
	cues *CueSheet
}

// New creates a console. inviter, modes and hub may be nil.
func New(log *logger.Log, reg *registry.Registry, network Network, fx Effects, inviter Inviter, modes Modes, hub *notify.Hub, opts Options) *Console {
	return &Console{
		log:      log.Module("console"),
		registry: reg,
		net:      network,
		fx:       fx,
		inviter:  inviter,
		modes:    modes,
		hub:      hub,
		opts:     opts,
		cues:     &CueSheet{Cues: map[string][]Command{}},
	}
}

// SetCues replaces the cue sheet.
func (c *Console) SetCues(sheet *CueSheet) {
	if sheet == nil {
		sheet = &CueSheet{Cues: map[string][]Command{}}
	}
	c.mu.Lock()
	c.cues = sheet
	c.mu.Unlock()
}

// HandleRemote runs a command received as JSON, for example from MQTT.
// Failures are logged and published as status events.
func (c *Console) HandleRemote(ctx context.Context, op string, payload []byte) {
	var cmd Command
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cmd); err != nil {
			c.fail(op, fmt.Errorf("decode payload: %w", err))
			return
		}
	}
	cmd.Op = op
	if err := c.Execute(ctx, cmd); err != nil {
		c.fail(op, err)
	}
}

func (c *Console) fail(op string, err error) {
	c.log.Warnf("%s: %v", op, err)
	c.hub.Publish(notify.Event{Kind: notify.KindStatus, Text: fmt.Sprintf("%s failed: %v", op, err)})
}

// Execute carries out one command. Network failures on individual slots
// are collected into the returned error; they never stop the other slots.
func (c *Console) Execute(ctx context.Context, cmd Command) error {
	return c.execute(ctx, cmd, 0)
}

func (c *Console) execute(ctx context.Context, cmd Command, depth int) error {
	c.log.Debugf("execute %+v", cmd)
	switch cmd.Op {
	case OpFlashOn:
		slots, err := c.targets(cmd)
		if err != nil {
			return err
		}
		return c.flashOn(ctx, slots, intensity(cmd))
	case OpFlashOff:
		slots, err := c.targets(cmd)
		if err != nil {
			return err
		}
		return c.flashOff(ctx, slots)
	case OpFlashAll:
		return c.flashOn(ctx, c.registry.LiveSlots(), intensity(cmd))
	case OpAllOff:
		if err := c.fx.StopAll(); err != nil {
			return err
		}
		return c.flashOff(ctx, c.registry.LiveSlots())
	case OpAudioPlay:
		return c.audioPlay(ctx, cmd)
	case OpAudioStop:
		slots, err := c.targets(cmd)
		if err != nil {
			return err
		}
		err = c.send(ctx, slots, func(slot int) osc.Message { return osc.AudioStop{Index: int32(slot)} })
		c.registry.SetAudio(slots, false)
		return err
	case OpMicRecord:
		slots, err := c.targets(cmd)
		if err != nil {
			return err
		}
		seconds := float32(cmd.Seconds)
		return c.send(ctx, slots, func(slot int) osc.Message {
			return osc.MicRecord{Index: int32(slot), MaxDurationSec: seconds}
		})
	case OpEffect:
		kind, err := effects.ParseKind(cmd.Name)
		if err != nil {
			return err
		}
		on, err := c.fx.Toggle(kind)
		if err != nil {
			return err
		}
		c.hub.Publish(notify.Event{Kind: notify.KindStatus, On: on, Text: kind.String()})
		return nil
	case OpEnvelope:
		return c.fx.StartEnvelope(c.envelope(cmd))
	case OpRelease:
		return c.fx.Release()
	case OpRefresh:
		// The rebind hook re-announces on success.
		return c.net.RefreshBindings(ctx, "operator refresh")
	case OpReload:
		if err := c.registry.LoadFile(c.opts.MappingFile); err != nil {
			return err
		}
		c.reinvite(ctx)
		return nil
	case OpReassign:
		return c.registry.ReassignSlot(ctx, c.net, cmd.Slot, cmd.To)
	case OpAddDevice:
		d := c.registry.Add()
		c.log.Infof("added slot %d", d.Slot)
		return nil
	case OpRemoveDevice:
		return c.registry.Remove(cmd.Slot)
	case OpCue:
		return c.fire(ctx, cmd.Name, depth)
	case OpMode:
		if c.modes == nil {
			return errors.New("midi routing disabled")
		}
		mode, err := midi.ParseTriggerMode(cmd.Name)
		if err != nil {
			return err
		}
		c.modes.SetMode(mode)
		return nil
	case OpSync:
		return c.net.SendBroadcast(ctx, osc.Sync{Timetag: osc.NewTimetag(time.Now())})
	}
	return fmt.Errorf("%w %q", ErrUnknownOp, cmd.Op)
}

// fire runs the steps of a cue in order, stopping at the first failure.
func (c *Console) fire(ctx context.Context, name string, depth int) error {
	if depth >= maxCueDepth {
		return fmt.Errorf("cue %q: nested too deep", name)
	}
	c.mu.RLock()
	steps, ok := c.cues.Cues[name]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrNoCue, name)
	}
	c.log.Infof("cue %q (%d steps)", name, len(steps))
	for i, step := range steps {
		if err := c.execute(ctx, step, depth+1); err != nil {
			return fmt.Errorf("cue %q step %d (%s): %w", name, i+1, step.Op, err)
		}
	}
	return nil
}

// targets resolves the slots a command addresses: an explicit list, a
// single slot or a group.
func (c *Console) targets(cmd Command) ([]int, error) {
	switch {
	case len(cmd.Slots) > 0:
		return cmd.Slots, nil
	case cmd.Slot > 0:
		return []int{cmd.Slot}, nil
	case cmd.Group > 0:
		if slots := c.registry.Group(cmd.Group); len(slots) > 0 {
			return slots, nil
		}
	}
	return nil, ErrNoTarget
}

func intensity(cmd Command) float32 {
	if cmd.Intensity <= 0 || cmd.Intensity > 1 {
		return 1
	}
	return float32(cmd.Intensity)
}

func (c *Console) envelope(cmd Command) effects.Envelope {
	env := c.opts.Envelope
	if cmd.AttackMs > 0 {
		env.Attack = time.Duration(cmd.AttackMs) * time.Millisecond
	}
	if cmd.DecayMs > 0 {
		env.Decay = time.Duration(cmd.DecayMs) * time.Millisecond
	}
	if cmd.Sustain != nil {
		env.Sustain = *cmd.Sustain
	}
	if cmd.ReleaseMs > 0 {
		env.Release = time.Duration(cmd.ReleaseMs) * time.Millisecond
	}
	return env
}

func (c *Console) flashOn(ctx context.Context, slots []int, level float32) error {
	err := c.send(ctx, slots, func(slot int) osc.Message {
		return osc.FlashOn{Index: int32(slot), Intensity: level}
	})
	c.registry.SetTorch(slots, true)
	return err
}

func (c *Console) flashOff(ctx context.Context, slots []int) error {
	err := c.send(ctx, slots, func(slot int) osc.Message { return osc.FlashOff{Index: int32(slot)} })
	c.registry.SetTorch(slots, false)
	return err
}

func (c *Console) audioPlay(ctx context.Context, cmd Command) error {
	if cmd.File == "" {
		return errors.New("audio-play: no file")
	}
	slots, err := c.targets(cmd)
	if err != nil {
		return err
	}
	gain := float32(cmd.Gain)
	if cmd.Gain <= 0 {
		gain = 1
	}
	err = c.send(ctx, slots, func(slot int) osc.Message {
		m := osc.AudioPlay{Index: int32(slot), File: cmd.File, Gain: gain}
		if cmd.OffsetMs != nil {
			m.StartOffsetMs, m.HasStartOffset = *cmd.OffsetMs, true
		}
		return m
	})
	c.registry.SetAudio(slots, true)
	return err
}

func (c *Console) reinvite(ctx context.Context) {
	if c.inviter != nil {
		c.inviter.Reinvite(ctx)
	}
}

// send delivers one message per slot in parallel and joins the failures.
func (c *Console) send(ctx context.Context, slots []int, mk func(slot int) osc.Message) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, slot := range slots {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			if err := c.net.SendToSlot(ctx, mk(slot), slot); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("slot %d: %w", slot, err))
				mu.Unlock()
			}
		}(slot)
	}
	wg.Wait()
	return errors.Join(errs...)
}
