// Package reachability watches whether the telemed backend can be reached.
package reachability

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

// DialFunc opens a connection; net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Observer probes a TCP endpoint periodically and notifies subscribers of
// reachability transitions.
type Observer struct {
	target   string
	interval time.Duration
	clock    clock.Clock
	dial     DialFunc

	mu     sync.Mutex
	subs   map[int]func(bool)
	nextID int
	known  bool
	state  bool
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an observer for target ("host:port").
func New(target string, interval time.Duration, c clock.Clock) *Observer {
	d := &net.Dialer{}
	return &Observer{
		target:   target,
		interval: interval,
		clock:    c,
		dial:     d.DialContext,
		subs:     map[int]func(bool){},
	}
}

// Subscribe registers fn. If the state is already known fn is called with it
// right away.
func (o *Observer) Subscribe(fn func(reachable bool)) (cancel func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = fn
	known, state := o.known, o.state
	o.mu.Unlock()

	if known {
		fn(state)
	}
	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

// Start begins probing. It is a no-op if already running.
func (o *Observer) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	go o.run(ctx, o.done)
}

// Stop ends probing and waits for the probe loop.
func (o *Observer) Stop() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (o *Observer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		o.check(ctx)

		t := o.clock.Timer(o.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// check runs one probe and publishes a transition.
func (o *Observer) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, o.interval)
	conn, err := o.dial(probeCtx, "tcp", o.target)
	cancel()
	if ctx.Err() != nil {
		return
	}
	reachable := err == nil
	if conn != nil {
		conn.Close()
	}
	o.publish(reachable)
}

func (o *Observer) publish(reachable bool) {
	o.mu.Lock()
	if o.known && o.state == reachable {
		o.mu.Unlock()
		return
	}
	o.known, o.state = true, reachable
	subs := make([]func(bool), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()

	log.Info().Str("module", "reachability").Str("target", o.target).Bool("reachable", reachable).Msg("reachability changed")
	for _, fn := range subs {
		fn(reachable)
	}
}
