package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandboxlabs/execcore/internal/log"
)

// RedisPubSub is a Bus backed by Redis pub/sub, used when more than one
// orchestrator instance must see the same job's messages.
type RedisPubSub struct {
	client *redis.Client
	logger log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	subscribers map[string][]chan Message
}

// NewRedisPubSub dials addr and verifies connectivity before returning.
func NewRedisPubSub(addr, password string, db int) (*RedisPubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RedisPubSub{
		client:      client,
		logger:      log.New("bus"),
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[string][]chan Message),
	}, nil
}

func (r *RedisPubSub) Publish(ctx context.Context, topic string, msg Message) error {
	data, err := marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return r.client.Publish(ctx, topic, data).Err()
}

func (r *RedisPubSub) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	ch := make(chan Message, subscriberBuffer)

	sub := r.client.Subscribe(r.ctx, topic)
	if _, err := sub.Receive(r.ctx); err != nil {
		close(ch)
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	r.mu.Lock()
	r.subscribers[topic] = append(r.subscribers[topic], ch)
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.unsubscribe(topic, ch)
			_ = sub.Close()
		}()

		redisCh := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.ctx.Done():
				return
			case raw, ok := <-redisCh:
				if !ok {
					return
				}
				msg, err := unmarshal([]byte(raw.Payload))
				if err != nil {
					r.logger.Errorf("unmarshal bus message; topic: %s, error: %s", topic, err)
					continue
				}
				select {
				case ch <- msg:
				default:
					r.logger.Warnf("subscriber channel full, dropping message; topic: %s", topic)
				}
			}
		}
	}()

	return ch, nil
}

func (r *RedisPubSub) unsubscribe(topic string, ch chan Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subscribers[topic]
	for i, sub := range subs {
		if sub == ch {
			r.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (r *RedisPubSub) Close() error {
	r.cancel()
	r.wg.Wait()

	r.mu.Lock()
	for _, subs := range r.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	r.subscribers = make(map[string][]chan Message)
	r.mu.Unlock()

	return r.client.Close()
}
