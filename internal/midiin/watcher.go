// Package midiin keeps a connection to the preferred MIDI input, following
// devices as they are plugged in and out.
package midiin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"showctl/internal/logger"
)

// DefaultRescan is how often inputs are enumerated.
const DefaultRescan = time.Second

// Sink receives every message from the connected input.
type Sink interface {
	Handle(msg midi.Message)
	ReleaseAll() bool
}

// Options selects which input is used.
type Options struct {
	Preferred []string // substrings tried in order
	Excluded  []string // substrings never connected
	Rescan    time.Duration
}

// Watcher scans the MIDI inputs, connects to the preferred one and drops
// the connection when it disappears. Held notes are released on loss.
type Watcher struct {
	log  *logger.Log
	drv  drivers.Driver
	sink Sink
	opts Options

	mu       sync.Mutex
	in       drivers.In
	stopFn   func()
	selected string
	wake     chan struct{}
}

// Open creates a watcher on the system rtmidi driver.
func Open(log *logger.Log, sink Sink, opts Options) (*Watcher, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}
	return New(log, drv, sink, opts), nil
}

// New creates a watcher on drv.
func New(log *logger.Log, drv drivers.Driver, sink Sink, opts Options) *Watcher {
	if opts.Rescan <= 0 {
		opts.Rescan = DefaultRescan
	}
	return &Watcher{
		log:  log.Module("midiin"),
		drv:  drv,
		sink: sink,
		opts: opts,
		wake: make(chan struct{}, 1),
	}
}

// Connected returns the name of the connected input, if any.
func (w *Watcher) Connected() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.selected
}

// Run scans until ctx is done, then closes the connection and the driver.
func (w *Watcher) Run(ctx context.Context) {
	t := time.NewTicker(w.opts.Rescan)
	defer t.Stop()
	defer w.close()

	w.scan()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-w.wake:
		}
		w.scan()
	}
}

func (w *Watcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disconnect()
	if err := w.drv.Close(); err != nil {
		w.log.Debugf("driver close: %v", err)
	}
}

func (w *Watcher) scan() {
	w.mu.Lock()
	defer w.mu.Unlock()

	names := w.inputs()
	if w.selected != "" {
		for _, n := range names {
			if n == w.selected {
				return
			}
		}
		w.log.Warnf("input %q disappeared", w.selected)
		w.lost()
		// Fall through and try another input right away.
	}

	cand, ok := Pick(names, w.opts.Preferred)
	if !ok {
		return
	}
	if err := w.connect(cand); err != nil {
		w.log.Errorf("connect %q: %v", cand, err)
	}
}

func (w *Watcher) inputs() []string {
	ins, err := w.drv.Ins()
	if err != nil {
		w.log.Errorf("list inputs: %v", err)
		return nil
	}
	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}
	kept := Filter(names, w.opts.Excluded)
	w.log.Debugf("inputs: %s", strings.Join(kept, ", "))
	return kept
}

func (w *Watcher) connect(name string) error {
	ins, err := w.drv.Ins()
	if err != nil {
		return err
	}
	var found drivers.In
	for _, in := range ins {
		if in.String() == name {
			found = in
			break
		}
	}
	if found == nil {
		return fmt.Errorf("input %q not found", name)
	}
	if err := found.Open(); err != nil {
		return fmt.Errorf("open %q: %w", name, err)
	}

	stop, err := midi.ListenTo(found, func(msg midi.Message, _ int32) {
		w.sink.Handle(msg)
	}, midi.HandleError(func(listenErr error) {
		w.log.Warnf("listener error on %q: %v", name, listenErr)
		// The listener goroutine must not stop itself.
		go w.drop(name)
	}))
	if err != nil {
		_ = found.Close()
		return fmt.Errorf("listen %q: %w", name, err)
	}

	w.in, w.stopFn, w.selected = found, stop, name
	w.log.Infof("connected to %q", name)
	return nil
}

func (w *Watcher) drop(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.selected != name {
		return
	}
	w.lost()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// lost tears down the connection and releases whatever it was holding.
func (w *Watcher) lost() {
	w.disconnect()
	w.sink.ReleaseAll()
}

func (w *Watcher) disconnect() {
	if w.stopFn != nil {
		w.stopFn()
		w.stopFn = nil
	}
	if w.in != nil {
		_ = w.in.Close()
		w.in = nil
	}
	w.selected = ""
}

// Filter drops the names matching any excluded substring, ignoring case.
func Filter(names, excluded []string) []string {
	var out []string
next:
	for _, n := range names {
		for _, pat := range excluded {
			if containsFold(n, pat) {
				continue next
			}
		}
		out = append(out, n)
	}
	return out
}

// Pick chooses the first name matching the earliest preferred pattern. With
// no match, a lone input is still picked.
func Pick(names, preferred []string) (string, bool) {
	for _, pat := range preferred {
		for _, n := range names {
			if containsFold(n, pat) {
				return n, true
			}
		}
	}
	if len(names) == 1 {
		return names[0], true
	}
	return "", false
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
