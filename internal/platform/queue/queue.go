// Package queue delivers serialised bundles from the converter to
// downstream workers.
package queue

import (
	"context"
	"errors"
)

// ErrRetry marks a handler failure that should be redelivered. Any other
// handler error drops the message.
var ErrRetry = errors.New("queue: retry delivery")

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue: closed")

// Publisher hands a message body to the queue.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// Handler processes one delivered message. Returning nil acknowledges it.
type Handler func(ctx context.Context, body []byte) error

// Consumer delivers messages to a handler until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, handle Handler) error
}

// Queue is a Publisher and Consumer pair sharing one backend.
type Queue interface {
	Publisher
	Consumer
	Ping(ctx context.Context) error
	Close() error
}

// Retry wraps err so that consumers requeue the message.
func Retry(err error) error {
	if err == nil {
		return ErrRetry
	}
	return &retryError{err: err}
}

type retryError struct{ err error }

func (e *retryError) Error() string { return "queue: retry delivery: " + e.err.Error() }
func (e *retryError) Unwrap() []error { return []error{ErrRetry, e.err} }

// ShouldRetry reports whether a handler error asks for redelivery.
func ShouldRetry(err error) bool {
	return errors.Is(err, ErrRetry)
}
