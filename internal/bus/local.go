package bus

import (
	"context"
	"sync"

	"github.com/sandboxlabs/execcore/internal/log"
)

// subscriberBuffer bounds how many undelivered messages a slow subscriber
// may accumulate before Publish starts dropping for it. A job's output
// topic carries at most a few thousand 4KiB chunks over its lifetime, so
// this comfortably covers a socket momentarily behind its bus subscription.
const subscriberBuffer = 256

// LocalPubSub is a Bus for single-instance deployments: messages only
// reach subscribers in the same process.
type LocalPubSub struct {
	logger log.Logger

	mu          sync.RWMutex
	subscribers map[string][]chan Message
}

// NewLocalPubSub creates a LocalPubSub.
func NewLocalPubSub() *LocalPubSub {
	return &LocalPubSub{
		logger:      log.New("bus"),
		subscribers: make(map[string][]chan Message),
	}
}

func (l *LocalPubSub) Publish(ctx context.Context, topic string, msg Message) error {
	l.mu.RLock()
	subs := l.subscribers[topic]
	l.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			l.logger.Warnf("subscriber channel full, dropping message; topic: %s", topic)
		}
	}
	return nil
}

func (l *LocalPubSub) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	ch := make(chan Message, subscriberBuffer)

	l.mu.Lock()
	l.subscribers[topic] = append(l.subscribers[topic], ch)
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.unsubscribe(topic, ch)
	}()

	return ch, nil
}

func (l *LocalPubSub) unsubscribe(topic string, ch chan Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	subs := l.subscribers[topic]
	for i, sub := range subs {
		if sub == ch {
			l.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (l *LocalPubSub) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, subs := range l.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	l.subscribers = make(map[string][]chan Message)
	return nil
}
