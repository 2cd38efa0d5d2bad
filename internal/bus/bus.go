// Package bus implements the in-process event bus notifications are
// published on. A Bus fans every published value out to all subscribed
// sinks; subscriber state is owned by a single serving goroutine, so
// Publish and Subscribe are safe from any goroutine.
package bus

import (
	"fmt"
	"sync"
	"time"
)

// Sink receives published values. Close is called when the sink is
// unsubscribed or the bus shuts down.
type Sink[T any] interface {
	Submit(T) error
	Close()
}

// Source is anything that can be subscribed to.
type Source[T any] interface {
	Subscribe(Sink[T]) CancelFunc
}

// CancelFunc detaches a subscription.
type CancelFunc func()

// Logger is the minimal logging surface the bus needs.
type Logger interface {
	Infof(format string, args ...interface{})
}

type request[T any] struct {
	sink Sink[T]
	done chan struct{}
}

// Bus is a fan-out event bus for values of type T.
type Bus[T any] struct {
	input      chan T
	register   chan request[T]
	unregister chan request[T]
	stop       chan struct{}
	stopOnce   sync.Once

	publishTimeout time.Duration
	logger         Logger
}

// Option configures a Bus.
type Option[T any] func(*Bus[T])

// Buffered sets the publish buffer size; by default publishes rendezvous
// with the serving goroutine.
func Buffered[T any](size int) Option[T] {
	return func(b *Bus[T]) {
		b.input = make(chan T, size)
	}
}

// WithLogger routes delivery failures to the given logger.
func WithLogger[T any](logger Logger) Option[T] {
	return func(b *Bus[T]) {
		b.logger = logger
	}
}

// New creates a Bus and starts its serving goroutine.
func New[T any](opts ...Option[T]) *Bus[T] {
	b := &Bus[T]{
		input:          make(chan T),
		register:       make(chan request[T]),
		unregister:     make(chan request[T]),
		stop:           make(chan struct{}),
		publishTimeout: time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	go b.serve()

	return b
}

func (b *Bus[T]) serve() {
	sinks := make(map[Sink[T]]struct{})
	defer func() {
		for sink := range sinks {
			delete(sinks, sink)
			sink.Close()
		}
	}()

	for {
		select {
		case v := <-b.input:
			for sink := range sinks {
				if err := sink.Submit(v); err != nil {
					b.errorf("failed to deliver %v: %v", v, err)
				}
			}
		case req := <-b.register:
			sinks[req.sink] = struct{}{}
			close(req.done)
		case req := <-b.unregister:
			if _, ok := sinks[req.sink]; ok {
				delete(sinks, req.sink)
				req.sink.Close()
			}
			close(req.done)
		case <-b.stop:
			return
		}
	}
}

// Publish hands v to every current subscriber. It fails rather than blocks
// forever when the serving goroutine cannot take the value within the
// publish timeout (a stuck subscriber).
func (b *Bus[T]) Publish(v T) error {
	select {
	case b.input <- v:
		return nil
	case <-b.stop:
		return fmt.Errorf("bus: closed")
	case <-time.After(b.publishTimeout):
		return b.errorf("bus: timed out publishing %v after %s", v, b.publishTimeout)
	}
}

// Subscribe attaches sink and returns a CancelFunc that detaches and
// closes it. Both directions synchronize with the serving goroutine.
func (b *Bus[T]) Subscribe(sink Sink[T]) CancelFunc {
	req := request[T]{sink: sink, done: make(chan struct{})}
	select {
	case b.register <- req:
		<-req.done
	case <-b.stop:
		return func() {}
	}

	return func() {
		req := request[T]{sink: sink, done: make(chan struct{})}
		select {
		case b.unregister <- req:
			<-req.done
		case <-b.stop:
		}
	}
}

// Close stops the serving goroutine and closes all subscribed sinks.
// Idempotent.
func (b *Bus[T]) Close() {
	b.stopOnce.Do(func() {
		close(b.stop)
	})
}

func (b *Bus[T]) errorf(format string, args ...interface{}) error {
	if b.logger != nil {
		b.logger.Infof(format, args...)
	}
	return fmt.Errorf(format, args...)
}
