package dbrouter

import (
	"context"
	"sync"
)

// Future is a handle for an asynchronous operation. It is resolved exactly
// once, with either a value or an error.
type Future[T any] struct {
	value T
	err   error
	ready chan struct{}
	once  sync.Once
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{ready: make(chan struct{})}
}

// NewErrorFuture returns a resolved Future with the error set.
func NewErrorFuture[T any](err error) *Future[T] {
	fut := NewFuture[T]()
	fut.Resolve(*new(T), err)
	return fut
}

// Async runs fn in a new goroutine and returns a Future resolved with its
// result.
func Async[T any](fn func() (T, error)) *Future[T] {
	fut := NewFuture[T]()
	go func() {
		fut.Resolve(fn())
	}()
	return fut
}

// Resolve sets the result. Only the first call has an effect; it reports
// whether this call resolved the Future.
func (fut *Future[T]) Resolve(value T, err error) bool {
	resolved := false
	fut.once.Do(func() {
		if err == nil {
			fut.value = value
		}
		fut.err = err
		close(fut.ready)
		resolved = true
	})
	return resolved
}

// Get waits for the Future to be resolved and returns its result.
func (fut *Future[T]) Get() (T, error) {
	<-fut.ready
	return fut.value, fut.err
}

// GetContext is like Get but stops waiting when ctx is done. The operation
// itself keeps running.
func (fut *Future[T]) GetContext(ctx context.Context) (T, error) {
	select {
	case <-fut.ready:
		return fut.value, fut.err
	case <-ctx.Done():
		return *new(T), ctx.Err()
	}
}

// Err waits for the Future and returns its error.
func (fut *Future[T]) Err() error {
	<-fut.ready
	return fut.err
}

// WaitChan returns a channel closed once the Future is resolved.
func (fut *Future[T]) WaitChan() <-chan struct{} {
	return fut.ready
}

// OnComplete calls h once, in a separate goroutine, after the Future is
// resolved.
func (fut *Future[T]) OnComplete(h func(T, error)) {
	go func() {
		<-fut.ready
		h(fut.value, fut.err)
	}()
}
