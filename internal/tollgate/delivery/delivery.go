// Package delivery hands one-time codes and links to outbound channels.
// Senders are collaborators; the Dispatcher makes any Sender asynchronous and
// throttles it per destination.
package delivery

import (
	"context"
	"errors"
)

var (
	ErrQueueFull = errors.New("delivery: queue full")
	ErrThrottled = errors.New("delivery: destination throttled")
	ErrClosed    = errors.New("delivery: dispatcher closed")
)

// Sender delivers a message to an email address or phone number.
type Sender interface {
	SendMessage(ctx context.Context, destination, subject, body string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, destination, subject, body string) error

func (f SenderFunc) SendMessage(ctx context.Context, destination, subject, body string) error {
	return f(ctx, destination, subject, body)
}

type Message struct {
	Destination string
	Subject     string
	Body        string
}
