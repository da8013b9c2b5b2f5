// Package broadcast is an in-process publish/subscribe bus. Providers in
// the same process that share an endpoint and room exchange frames over it
// without going through the socket.
//
// Frames travel over a watermill go-channel pub/sub, one topic per
// channel name, with the publisher's id in the message metadata.
package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

const originKey = "origin"

// Handler receives a frame and the id of its publisher.
type Handler func(data []byte, origin string)

// Bus routes frames by channel name. Publish returns once every
// subscriber of the channel has queued the frame; each subscriber runs
// its handler on its own goroutine, in publish order.
type Bus struct {
	pubSub *gochannel.GoChannel
	logger *zap.Logger

	mu          sync.Mutex
	subscribers map[string]int
}

// NewBus creates a bus. A nil logger discards bus diagnostics.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		pubSub: gochannel.NewGoChannel(gochannel.Config{
			BlockPublishUntilSubscriberAck: true,
		}, newWatermillLogger(logger)),
		logger:      logger,
		subscribers: make(map[string]int),
	}
}

var defaultBus = NewBus(nil)

// Default returns the process-wide bus.
func Default() *Bus { return defaultBus }

// ChannelName is the channel a provider for room at endpoint uses.
func ChannelName(endpoint, room string) string {
	return endpoint + "/" + room
}

// Subscribe registers handler on channel. Frames published after
// Subscribe returns are delivered until unsubscribe is called.
func (b *Bus) Subscribe(channel string, handler Handler) (unsubscribe func()) {
	ctx, cancel := context.WithCancel(context.Background())
	messages, err := b.pubSub.Subscribe(ctx, channel)
	if err != nil {
		cancel()
		b.logger.Error("broadcast subscribe failed", zap.String("channel", channel), zap.Error(err))
		return func() {}
	}

	s := newSubscription(channel, handler, b.logger)
	go s.receive(messages)
	go s.run()

	b.mu.Lock()
	b.subscribers[channel]++
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.stop()
			cancel()
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.subscribers[channel]--; b.subscribers[channel] <= 0 {
				delete(b.subscribers, channel)
			}
		})
	}
}

// Publish delivers data to every subscriber of channel, the publisher
// included. Subscribers filter by origin.
func (b *Bus) Publish(channel string, data []byte, origin string) {
	msg := message.NewMessage(watermill.NewUUID(), append([]byte(nil), data...))
	msg.Metadata.Set(originKey, origin)
	if err := b.pubSub.Publish(channel, msg); err != nil {
		b.logger.Error("broadcast publish failed", zap.String("channel", channel), zap.Error(err))
	}
}

// Subscribers reports how many handlers listen on channel.
func (b *Bus) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribers[channel]
}

// Close stops every subscription.
func (b *Bus) Close() error {
	return b.pubSub.Close()
}

type delivery struct {
	data   []byte
	origin string
}

// subscription acks frames as soon as they arrive and hands them to a
// worker, so a handler may publish on its own channel.
type subscription struct {
	channel string
	handler Handler
	logger  *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []delivery
	stopped bool
	drained bool
}

func newSubscription(channel string, handler Handler, logger *zap.Logger) *subscription {
	s := &subscription{channel: channel, handler: handler, logger: logger}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscription) receive(messages <-chan *message.Message) {
	for msg := range messages {
		msg.Ack()
		s.mu.Lock()
		if !s.stopped {
			s.pending = append(s.pending, delivery{data: msg.Payload, origin: msg.Metadata.Get(originKey)})
			s.cond.Signal()
		}
		s.mu.Unlock()
	}
	s.mu.Lock()
	s.drained = true
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *subscription) run() {
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.drained && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped || len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		d := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		if err := s.deliver(d); err != nil {
			s.logger.Error("broadcast handler failed", zap.String("channel", s.channel), zap.Error(err))
		}
	}
}

func (s *subscription) deliver(d delivery) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panicked: %v", recovered)
		}
	}()
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if !stopped {
		s.handler(d.data, d.origin)
	}
	return nil
}

func (s *subscription) stop() {
	s.mu.Lock()
	s.stopped = true
	s.pending = nil
	s.cond.Signal()
	s.mu.Unlock()
}
