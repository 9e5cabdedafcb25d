// Package async runs units of work on goroutines and collects their outcomes.
package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// PanicError is the error of a unit of work that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("async: unit of work panicked: %v", e.Value) }

// Promise is the eventual result of a unit of work.
// It is settled exactly once, by [Promise.Resolve] or [Promise.Reject].
type Promise[T any] struct {
	done chan struct{}
	once sync.Once

	value T
	err   error
}

func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Go runs fn on a new goroutine and returns a promise of its result.
// A panic in fn rejects the promise with a [*PanicError].
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Promise[T] {
	p := NewPromise[T]()
	go func() {
		v, err := run(ctx, fn)
		p.settle(v, err)
	}()
	return p
}

func ResolvedPromise[T any](v T) *Promise[T] {
	p := NewPromise[T]()
	p.Resolve(v)
	return p
}

func RejectedPromise[T any](err error) *Promise[T] {
	p := NewPromise[T]()
	p.Reject(err)
	return p
}

// Resolve fulfills p with v. It reports false if p was already settled.
func (p *Promise[T]) Resolve(v T) bool {
	var zero error
	return p.settle(v, zero)
}

// Reject rejects p with err. It reports false if p was already settled.
func (p *Promise[T]) Reject(err error) bool {
	var zero T
	return p.settle(zero, err)
}

// Done is closed when p is settled.
func (p *Promise[T]) Done() <-chan struct{} { return p.done }

// Wait blocks until p is settled or ctx is done.
func (p *Promise[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the outcome without blocking. ok is false while p is pending.
func (p *Promise[T]) Result() (v T, err error, ok bool) {
	select {
	case <-p.done:
		return p.value, p.err, true
	default:
		return v, nil, false
	}
}

func (p *Promise[T]) settle(v T, err error) bool {
	settled := false
	p.once.Do(func() {
		p.value, p.err = v, err
		close(p.done)
		settled = true
	})
	return settled
}

// Then returns a promise of fn applied to the value of p.
// A rejection of p is passed through without calling fn.
func Then[T, U any](ctx context.Context, p *Promise[T], fn func(T) (U, error)) *Promise[U] {
	return Go(ctx, func(ctx context.Context) (U, error) {
		v, err := p.Wait(ctx)
		if err != nil {
			var zero U
			return zero, err
		}
		return fn(v)
	})
}

func run[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}
