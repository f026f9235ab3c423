package transport

import (
	"context"
	"time"

	"showctl/internal/logger"
)

// Watcher polls the interface set and rebinds the transport when the usable
// IPv4 networks change.
type Watcher struct {
	log      *logger.Log
	t        *Transport
	list     InterfaceLister
	interval time.Duration
}

// NewWatcher creates a watcher over the transport's interface source.
func NewWatcher(log *logger.Log, t *Transport, interval time.Duration) *Watcher {
	return &Watcher{
		log:      log.Module("netwatch"),
		t:        t,
		list:     t.opts.Interfaces,
		interval: interval,
	}
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	last := Fingerprint(w.list)
	poll := time.NewTicker(w.interval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			fp := Fingerprint(w.list)
			if fp == last {
				continue
			}
			w.log.Infof("network path changed: [%s] -> [%s]", last, fp)
			if err := w.t.RefreshBindings(ctx, "network path changed"); err != nil {
				// Retried on the next poll.
				continue
			}
			last = fp
		}
	}
}
