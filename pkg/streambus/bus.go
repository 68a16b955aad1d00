package streambus

import (
	"context"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Settings holds the transport configuration for conversation events. The
// default in-process channel transport needs no configuration; Redis Streams
// is opt-in for deployments where several bridge processes share a page
// session (multi-tab storefronts).
type Settings struct {
	RedisEnabled bool   `yaml:"redis_enabled"`
	RedisAddr    string `yaml:"redis_addr"`
	Group        string `yaml:"group"`
	Consumer     string `yaml:"consumer"`
}

// DefaultSettings returns an in-process transport configuration.
func DefaultSettings() Settings {
	return Settings{
		RedisEnabled: false,
		RedisAddr:    "localhost:6379",
		Group:        "chat-bridge",
		Consumer:     "bridge-1",
	}
}

// TopicForConversation returns the topic carrying chat turns for one
// conversation.
func TopicForConversation(convID string) string {
	return "chat:" + convID
}

// Bus is a thin publish/subscribe facade over Watermill. One Bus is shared
// by all conversations in a bridge process; topics keep conversations apart.
type Bus struct {
	settings  Settings
	logger    zerolog.Logger
	publisher message.Publisher

	// set only when the in-process transport is used; it is both publisher
	// and subscriber.
	channel *gochannel.GoChannel

	// guards subscribers; BuildSubscriber is called from per-connection
	// read goroutines and Close from the server shutdown path.
	mu          sync.Mutex
	subscribers []message.Subscriber
}

// New builds a Bus from settings. With Redis disabled the bus keeps every
// message in process.
func New(settings Settings) (*Bus, error) {
	logger := log.With().Str("component", "streambus").Logger()
	wmLogger := newWatermillLogger(logger)

	b := &Bus{settings: settings, logger: logger}

	if !settings.RedisEnabled {
		ch := gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
		b.channel = ch
		b.publisher = ch
		return b, nil
	}

	client := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, wmLogger)
	if err != nil {
		return nil, errors.Wrap(err, "streambus: build redis publisher")
	}
	b.publisher = pub
	return b, nil
}

// Publish sends one payload to a topic. The message UUID is generated here;
// callers only provide the body.
func (b *Bus) Publish(topic string, payload []byte) error {
	if b == nil || b.publisher == nil {
		return errors.New("streambus: bus is not initialized")
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := b.publisher.Publish(topic, msg); err != nil {
		return errors.Wrapf(err, "streambus: publish to %s", topic)
	}
	b.logger.Trace().Str("topic", topic).Str("message_id", msg.UUID).Msg("published")
	return nil
}

// BuildSubscriber returns a subscriber for the given topic. For Redis the
// consumer group is created at the stream tail first so a fresh subscriber
// does not replay the full history.
func (b *Bus) BuildSubscriber(ctx context.Context, topic string, consumer string) (message.Subscriber, error) {
	if b == nil {
		return nil, errors.New("streambus: bus is nil")
	}
	if !b.settings.RedisEnabled {
		return b.channel, nil
	}

	if err := b.ensureGroupAtTail(ctx, topic); err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{Addr: b.settings.RedisAddr})
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: b.settings.Group,
		Consumer:      consumer,
	}, newWatermillLogger(b.logger))
	if err != nil {
		return nil, errors.Wrapf(err, "streambus: build redis subscriber for %s", topic)
	}
	b.track(sub)
	return sub, nil
}

// track records a subscriber for shutdown. Subscribers are built from
// per-connection read goroutines while Close runs on the shutdown path.
func (b *Bus) track(sub message.Subscriber) {
	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()
}

// ensureGroupAtTail creates the consumer group at $ if it does not exist,
// ignoring BUSYGROUP from concurrent creators.
func (b *Bus) ensureGroupAtTail(ctx context.Context, stream string) error {
	client := redis.NewClient(&redis.Options{Addr: b.settings.RedisAddr})
	defer func() { _ = client.Close() }()
	err := client.XGroupCreateMkStream(ctx, stream, b.settings.Group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "streambus: create group %s on %s", b.settings.Group, stream)
	}
	b.logger.Info().Str("stream", stream).Str("group", b.settings.Group).Msg("created consumer group at tail")
	return nil
}

// Close shuts down the publisher and every subscriber built from this bus.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	subscribers := make([]message.Subscriber, len(b.subscribers))
	copy(subscribers, b.subscribers)
	b.subscribers = nil
	b.mu.Unlock()

	var firstErr error
	for _, sub := range subscribers {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if b.channel != nil {
		if err := b.channel.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	} else if b.publisher != nil {
		if err := b.publisher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
