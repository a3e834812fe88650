package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Pub/Sub subscriptions for dashboard-style consumers. Events are delivered
// on buffered channels (size 10); Redis Pub/Sub is at-most-once, so slow
// subscribers may miss events.

// MessageSubscription is an active Pub/Sub subscription to message events.
// Caller must call Close() when done to clean up resources.
type MessageSubscription struct {
	events <-chan *Message
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of message events.
// The channel is closed when the subscription closes or the context is
// cancelled.
func (s *MessageSubscription) Events() <-chan *Message {
	return s.events
}

// Errors returns the channel of subscription errors. Errors are non-fatal;
// the subscription continues and the offending event is skipped.
func (s *MessageSubscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Implements io.Closer. Safe to call multiple
// times.
func (s *MessageSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeMessageEvents subscribes to message creation events for this
// workspace. Caller must call subscription.Close() when done; context
// cancellation also stops the subscription.
func (s *Store) SubscribeMessageEvents(ctx context.Context) (*MessageSubscription, error) {
	pubsub := s.rdb.Subscribe(ctx, MessageEventsChannel(s.workspaceID))

	eventsChan := make(chan *Message, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var m Message
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal message event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &m:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &MessageSubscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// DriftSubscription is an active Pub/Sub subscription to drift report
// events. Caller must call Close() when done.
type DriftSubscription struct {
	events <-chan *DriftReport
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of drift report events.
func (s *DriftSubscription) Events() <-chan *DriftReport {
	return s.events
}

// Errors returns the channel of subscription errors.
func (s *DriftSubscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Implements io.Closer.
func (s *DriftSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeDriftEvents subscribes to drift report events for this workspace.
// Caller must call subscription.Close() when done.
func (s *Store) SubscribeDriftEvents(ctx context.Context) (*DriftSubscription, error) {
	pubsub := s.rdb.Subscribe(ctx, DriftEventsChannel(s.workspaceID))

	eventsChan := make(chan *DriftReport, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var report DriftReport
				if err := json.Unmarshal([]byte(msg.Payload), &report); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal drift event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &report:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &DriftSubscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}
