// Package effects drives timed light effects across every live device:
// four mutually exclusive oscillators and a one-shot ADSR envelope.
package effects

import (
	"context"
	"errors"
	"sync"
	"time"

	"showctl/internal/logger"
	"showctl/internal/osc"
)

// DefaultUpdateHz is the sample rate of every effect.
const DefaultUpdateHz = 12

// envelopeSteps is the number of discrete levels in each envelope ramp.
const envelopeSteps = 10

var (
	// ErrClosed is returned once the scheduler has been closed.
	ErrClosed = errors.New("effects: scheduler closed")
	// ErrUnknownKind is returned for a kind that is not an oscillator.
	ErrUnknownKind = errors.New("effects: unknown effect")
)

// Sender delivers a cue to one slot.
type Sender interface {
	SendToSlot(ctx context.Context, m osc.Message, slot int) error
}

// Devices reports which slots receive effects.
type Devices interface {
	LiveSlots() []int
}

// Mirror follows the effect level outside the device network, for example
// house lights.
type Mirror interface {
	SetLevel(level float64)
}

// Envelope is an attack/decay/sustain/release shape. Sustain is a level in
// [0,1]; the others are durations.
type Envelope struct {
	Attack  time.Duration
	Decay   time.Duration
	Sustain float64
	Release time.Duration
}

// task is a running effect. cancel asks it to stop; done closes once it has
// flushed its final state.
type task struct {
	cancel  context.CancelFunc
	done    chan struct{}
	release chan struct{}
	once    sync.Once
}

func (t *task) stop() {
	t.cancel()
	<-t.done
}

func (t *task) releaseNow() {
	t.once.Do(func() { close(t.release) })
}

// Scheduler owns the running effect tasks. Every control call is executed
// by a single goroutine, so starts and stops are totally ordered.
type Scheduler struct {
	log      *logger.Log
	sender   Sender
	devices  Devices
	mirror   Mirror
	updateHz float64

	ops  chan func()
	quit chan struct{}
	stop sync.Once

	// owned by run
	active   Kind
	osc      *task
	envelope *task
}

// New starts a scheduler sampling at updateHz. mirror may be nil.
func New(log *logger.Log, sender Sender, devices Devices, mirror Mirror, updateHz float64) *Scheduler {
	if updateHz <= 0 {
		updateHz = DefaultUpdateHz
	}
	s := &Scheduler{
		log:      log.Module("effects"),
		sender:   sender,
		devices:  devices,
		mirror:   mirror,
		updateHz: updateHz,
		ops:      make(chan func()),
		quit:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Scheduler) run() {
	for {
		select {
		case fn := <-s.ops:
			fn()
		case <-s.quit:
			s.stopOscillator()
			s.stopEnvelope()
			return
		}
	}
}

func (s *Scheduler) do(fn func()) error {
	done := make(chan struct{})
	select {
	case s.ops <- func() { fn(); close(done) }:
	case <-s.quit:
		return ErrClosed
	}
	<-done
	return nil
}

// Close stops every running effect and the scheduler goroutine.
func (s *Scheduler) Close() {
	s.stop.Do(func() {
		_ = s.do(func() {
			s.stopOscillator()
			s.stopEnvelope()
		})
		close(s.quit)
	})
}

// Start runs kind, first stopping whichever oscillator is running. The
// previous one has flushed FlashOff to every live slot when Start returns.
func (s *Scheduler) Start(kind Kind) error {
	if kind.Hz() == 0 {
		return ErrUnknownKind
	}
	return s.do(func() {
		s.stopOscillator()
		s.startOscillator(kind)
	})
}

// Stop halts kind if it is the running oscillator.
func (s *Scheduler) Stop(kind Kind) error {
	return s.do(func() {
		if s.active == kind {
			s.stopOscillator()
		}
	})
}

// StopAll halts the oscillator and the envelope.
func (s *Scheduler) StopAll() error {
	return s.do(func() {
		s.stopOscillator()
		s.stopEnvelope()
	})
}

// Toggle stops kind when it is running and starts it otherwise. It reports
// whether kind is running afterwards.
func (s *Scheduler) Toggle(kind Kind) (bool, error) {
	if kind.Hz() == 0 {
		return false, ErrUnknownKind
	}
	var on bool
	err := s.do(func() {
		running := s.active == kind
		s.stopOscillator()
		if !running {
			s.startOscillator(kind)
			on = true
		}
	})
	return on, err
}

// Active returns the running oscillator, or None.
func (s *Scheduler) Active() Kind {
	var k Kind
	if err := s.do(func() { k = s.active }); err != nil {
		return None
	}
	return k
}

// StartEnvelope begins a new envelope. A running one is cancelled and has
// flushed before the new attack starts.
func (s *Scheduler) StartEnvelope(env Envelope) error {
	return s.do(func() {
		s.stopEnvelope()
		ctx, cancel := context.WithCancel(context.Background())
		t := &task{cancel: cancel, done: make(chan struct{}), release: make(chan struct{})}
		s.envelope = t
		s.log.Debugf("envelope started %+v", env)
		go s.runEnvelope(ctx, t, env)
	})
}

// Release moves a held envelope into its release ramp.
func (s *Scheduler) Release() error {
	return s.do(func() {
		if s.envelope != nil {
			s.envelope.releaseNow()
		}
	})
}

func (s *Scheduler) startOscillator(kind Kind) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	s.osc, s.active = t, kind
	s.log.Infof("%s started", kind)
	go s.runOscillator(ctx, t, kind)
}

func (s *Scheduler) stopOscillator() {
	if s.osc == nil {
		return
	}
	s.osc.stop()
	s.log.Infof("%s stopped", s.active)
	s.osc, s.active = nil, None
}

func (s *Scheduler) stopEnvelope() {
	if s.envelope == nil {
		return
	}
	s.envelope.stop()
	s.envelope = nil
}

func (s *Scheduler) interval() time.Duration {
	return time.Duration(float64(time.Second) / s.updateHz)
}

func (s *Scheduler) runOscillator(ctx context.Context, t *task, kind Kind) {
	defer close(t.done)
	defer s.flush()

	o := newOscillator(kind.Hz(), s.updateHz)
	tick := time.NewTicker(s.interval())
	defer tick.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		s.emit(ctx, o.next())
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func (s *Scheduler) runEnvelope(ctx context.Context, t *task, env Envelope) {
	defer close(t.done)
	defer s.flush()

	if !s.ramp(ctx, 0, 1, env.Attack) {
		return
	}
	if !s.ramp(ctx, 1, env.Sustain, env.Decay) {
		return
	}
	select {
	case <-ctx.Done():
		return
	case <-t.release:
	}
	s.ramp(ctx, env.Sustain, 0, env.Release)
}

// ramp moves linearly from one level to another in envelopeSteps equal
// steps spread over d. It returns false if cancelled.
func (s *Scheduler) ramp(ctx context.Context, from, to float64, d time.Duration) bool {
	step := d / envelopeSteps
	for i := 1; i <= envelopeSteps; i++ {
		if step > 0 {
			timer := time.NewTimer(step)
			select {
			case <-ctx.Done():
				timer.Stop()
				return false
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return false
		}
		s.emit(ctx, from+(to-from)*float64(i)/envelopeSteps)
	}
	return true
}

// emit sends one sample to every live slot in parallel and waits for all
// sends. Delivery errors are ignored.
func (s *Scheduler) emit(ctx context.Context, level float64) {
	intensity := float32(level)
	s.each(func(slot int) {
		_ = s.sender.SendToSlot(ctx, osc.FlashOn{Index: int32(slot), Intensity: intensity}, slot)
	})
	if s.mirror != nil {
		s.mirror.SetLevel(level)
	}
}

// flush turns every live slot off. It runs after cancellation, so it does
// not use the task context.
func (s *Scheduler) flush() {
	ctx := context.Background()
	s.each(func(slot int) {
		_ = s.sender.SendToSlot(ctx, osc.FlashOff{Index: int32(slot)}, slot)
	})
	if s.mirror != nil {
		s.mirror.SetLevel(0)
	}
}

func (s *Scheduler) each(fn func(slot int)) {
	var wg sync.WaitGroup
	for _, slot := range s.devices.LiveSlots() {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			fn(slot)
		}(slot)
	}
	wg.Wait()
}
