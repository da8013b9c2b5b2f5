package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gihan9a/roomsync/internal/codec"
)

// DefaultClusterChannel is the redis channel relays exchange frames on
const DefaultClusterChannel = "roomsync:frames"

const publishTimeout = 5 * time.Second

// ClusterMessage carries one protocol frame between relays
type ClusterMessage struct {
	Node  string `cbor:"1,keyasint"`
	Room  string `cbor:"2,keyasint"`
	Frame []byte `cbor:"3,keyasint"`
}

// ClusterBus links relays that serve the same rooms
type ClusterBus interface {
	Publish(ctx context.Context, msg ClusterMessage) error
	Subscribe(ctx context.Context, handler func(ClusterMessage)) (stop func() error, err error)
}

// clusterOrigin marks updates that arrived from another relay
type clusterOrigin struct {
	node string
}

// RedisBus is a ClusterBus over redis pub/sub
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisBus connects to redisURL, which may be a redis:// URL or a
// plain host:port address
func NewRedisBus(ctx context.Context, redisURL string, logger *zap.Logger) (*RedisBus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{Addr: redisURL}
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", opt.Addr, err)
	}

	return &RedisBus{client: client, channel: DefaultClusterChannel, logger: logger}, nil
}

func (b *RedisBus) Publish(ctx context.Context, msg ClusterMessage) error {
	data, err := codec.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, handler func(ClusterMessage)) (func() error, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	// Wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	go func() {
		for m := range pubsub.Channel() {
			var msg ClusterMessage
			if err := codec.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.logger.Warn("dropping unreadable cluster message", zap.Error(err))
				continue
			}
			handler(msg)
		}
	}()

	return pubsub.Close, nil
}

// Close closes the redis client
func (b *RedisBus) Close() error {
	return b.client.Close()
}

// MemoryBus is a ClusterBus for relays in one process. Delivery is
// synchronous.
type MemoryBus struct {
	mu       sync.Mutex
	next     int
	handlers map[int]func(ClusterMessage)
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[int]func(ClusterMessage))}
}

func (b *MemoryBus) Publish(_ context.Context, msg ClusterMessage) error {
	b.mu.Lock()
	handlers := make([]func(ClusterMessage), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, handler func(ClusterMessage)) (func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.handlers[id] = handler
	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
		return nil
	}, nil
}

// publish sends frame to the other relays
func (r *Room) publish(frame []byte) {
	s := r.server
	if s.cluster == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	msg := ClusterMessage{Node: s.nodeID, Room: r.name, Frame: frame}
	if err := s.cluster.Publish(ctx, msg); err != nil {
		r.logger.Warn("cluster publish failed", zap.Error(err))
	}
}

func (s *RelayServer) onClusterMessage(msg ClusterMessage) {
	if msg.Node == s.nodeID {
		return
	}
	room, ok := s.Room(msg.Room)
	if !ok {
		return
	}
	if reply := room.handleFrame(clusterOrigin{node: msg.Node}, msg.Frame); reply != nil {
		room.publish(reply)
	}
}
