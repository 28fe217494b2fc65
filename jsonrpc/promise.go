package jsonrpc

import (
	"context"
	"errors"
	"sync"
)

// Promise is a write-once handle on the outcome of a call. It is completed exactly once,
// either resolved with a value or rejected with an error. Observers attached before or
// after completion all see the same outcome.
//
// Observers run in the goroutine that completes the promise (usually the connection's
// receive loop) or, when attached late, in the attaching goroutine. They must not block.
type Promise[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	value     T
	err       error
	observers []func(T, error)

	// abandon retires the call that feeds this promise. It reports false when the call
	// already completed.
	abandon func(cause error) bool
}

// NewPromise returns an unresolved promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Resolve completes the promise with v. It reports false if already completed.
func (p *Promise[T]) Resolve(v T) bool {
	return p.complete(v, nil)
}

// Reject completes the promise with err. It reports false if already completed.
func (p *Promise[T]) Reject(err error) bool {
	var zero T
	return p.complete(zero, err)
}

func (p *Promise[T]) complete(v T, err error) bool {
	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		return false
	}
	p.completed = true
	p.value, p.err = v, err
	observers := p.observers
	p.observers = nil
	close(p.done)
	p.mu.Unlock()

	for _, fn := range observers {
		fn(v, err)
	}
	return true
}

// OnComplete registers fn for the outcome.
func (p *Promise[T]) OnComplete(fn func(T, error)) *Promise[T] {
	p.mu.Lock()
	if !p.completed {
		p.observers = append(p.observers, fn)
		p.mu.Unlock()
		return p
	}
	v, err := p.value, p.err
	p.mu.Unlock()

	fn(v, err)
	return p
}

// Then registers fn for a successful outcome.
func (p *Promise[T]) Then(fn func(T)) *Promise[T] {
	return p.OnComplete(func(v T, err error) {
		if err == nil {
			fn(v)
		}
	})
}

// Catch registers fn for a failed outcome.
func (p *Promise[T]) Catch(fn func(error)) *Promise[T] {
	return p.OnComplete(func(_ T, err error) {
		if err != nil {
			fn(err)
		}
	})
}

// Done is closed once the promise completes.
func (p *Promise[T]) Done() <-chan struct{} { return p.done }

// Result returns the outcome and whether the promise has completed.
func (p *Promise[T]) Result() (T, error, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.err, p.completed
}

// Await blocks until the promise completes or ctx ends. When ctx ends first the call is
// abandoned: it is retired and rejected with ErrCancelled, and the returned error matches
// both ErrCancelled and ctx.Err().
func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		p.cancel(errors.Join(ErrCancelled, ctx.Err()))
		<-p.done
	}
	v, err, _ := p.Result()
	return v, err
}

// Cancel abandons the call. It reports false if the promise had already completed.
func (p *Promise[T]) Cancel() bool {
	return p.cancel(ErrCancelled)
}

func (p *Promise[T]) cancel(cause error) bool {
	if p.abandon != nil {
		return p.abandon(cause)
	}
	return p.Reject(cause)
}
