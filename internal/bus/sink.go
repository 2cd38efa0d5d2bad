package bus

type chanSink[T any] struct {
	ch chan<- T
}

func (c *chanSink[T]) Submit(v T) error {
	c.ch <- v
	return nil
}

func (c *chanSink[T]) Close() {
	close(c.ch)
}

// FromChan adapts a channel into a Sink. The channel is closed when the
// sink is.
func FromChan[T any](ch chan<- T) Sink[T] {
	return &chanSink[T]{ch}
}

type funcSink[T any] struct {
	fn func(T) error
}

func (f *funcSink[T]) Submit(v T) error {
	return f.fn(v)
}

func (f *funcSink[T]) Close() {}

// SinkFunc adapts a function into a Sink with a no-op Close.
func SinkFunc[T any](fn func(T) error) Sink[T] {
	return &funcSink[T]{fn}
}

type filterSink[T any] struct {
	sink Sink[T]
	keep func(T) bool
}

func (f *filterSink[T]) Submit(v T) error {
	if f.keep(v) {
		return f.sink.Submit(v)
	}
	return nil
}

func (f *filterSink[T]) Close() {
	f.sink.Close()
}

// WithFilter wraps sink so only values matching keep are delivered.
func WithFilter[T any](sink Sink[T], keep func(T) bool) Sink[T] {
	return &filterSink[T]{sink, keep}
}
