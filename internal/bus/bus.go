// Package bus fans gateway frames out to every connection bound to a session,
// using watermill topics named after the session.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("bus closed")

// Topic returns the topic carrying frames for sessionID.
func Topic(sessionID string) string {
	return "session." + sessionID
}

// Bus publishes and consumes session frames.
type Bus struct {
	pub message.Publisher
	sub message.Subscriber

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New wraps an arbitrary watermill backend.
func New(pub message.Publisher, sub message.Subscriber) *Bus {
	return &Bus{pub: pub, sub: sub}
}

// NewInProcess creates a bus backed by watermill's in-memory gochannel.
// Publish waits for subscribers to acknowledge so frames of a session arrive
// in publish order.
func NewInProcess() *Bus {
	ch := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            256,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: true,
		},
		watermill.NopLogger{},
	)
	return New(ch, ch)
}

// Publish sends frame to every subscriber of sessionID. With no subscribers
// the frame is dropped.
func (b *Bus) Publish(sessionID string, frame []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	msg := message.NewMessage(watermill.NewUUID(), frame)
	msg.Metadata.Set("session_id", sessionID)
	if err := b.pub.Publish(Topic(sessionID), msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", Topic(sessionID), err)
	}
	return nil
}

// Subscribe calls fn with each frame published for sessionID until ctx is
// done. fn runs on a single goroutine, in publish order, and must not block.
func (b *Bus) Subscribe(ctx context.Context, sessionID string, fn func(frame []byte)) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	msgs, err := b.sub.Subscribe(ctx, Topic(sessionID))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", Topic(sessionID), err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range msgs {
			fn(msg.Payload)
			msg.Ack()
		}
	}()
	return nil
}

// Close shuts the backend down and waits for subscriber goroutines.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	var errs []error
	if err := b.pub.Close(); err != nil {
		errs = append(errs, err)
	}
	if any(b.sub) != any(b.pub) {
		if err := b.sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.wg.Wait()
	return errors.Join(errs...)
}
