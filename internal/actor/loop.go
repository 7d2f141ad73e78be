// Package actor provides the serialized execution context that owns a
// session's mutable state, plus restartable timers that fire on it.
package actor

import "sync"

// Loop runs posted tasks one at a time, in order, on a dedicated goroutine.
// The queue is unbounded so tasks may post further tasks without blocking.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// NewLoop starts a loop.
func NewLoop() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.quit:
			return
		case <-l.wake:
		}
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			select {
			case <-l.quit:
				return
			default:
			}
			fn()
		}
	}
}

// Post enqueues fn. It reports false when the loop has been closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it. It must not be called from a
// task. It reports false if fn did not run because the loop stopped.
func (l *Loop) Do(fn func()) bool {
	ran := make(chan struct{})
	if !l.Post(func() {
		fn()
		close(ran)
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-l.done:
		return false
	}
}

// Close stops accepting tasks and ends the loop after the running task. It
// does not wait and is safe to call from a task.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.queue = nil
	close(l.quit)
}

// Stop closes the loop and waits until no task is running. It must not be
// called from a task.
func (l *Loop) Stop() {
	l.Close()
	<-l.done
}

// Quit is closed once the loop stops accepting tasks.
func (l *Loop) Quit() <-chan struct{} {
	return l.quit
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
