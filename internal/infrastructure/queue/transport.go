// Package queue carries typed jobs over Watermill. Redis Streams backs
// multi-node deployments; the in-process Go-channel pub/sub backs single-node
// mode and tests.
package queue

import (
	"fmt"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/AtRiskMedia/livedesk-go/pkg/config"
)

const topicPrefix = "livedesk.jobs."

// PoisonTopic receives jobs that exhausted their retries.
const PoisonTopic = topicPrefix + "failed"

// Transport hides how a queue maps onto topics and consumers.
type Transport interface {
	Publisher() message.Publisher
	// PublishTopic picks the topic the next job for queue goes to.
	PublishTopic(queue string) string
	// SubscribeTopic is the topic worker n of queue consumes.
	SubscribeTopic(queue string, worker int) string
	// Subscriber builds the subscriber worker n of queue consumes with.
	Subscriber(queue string, worker int) (message.Subscriber, error)
	Close() error
}

// NewTransport builds the transport named by cfg.Backend. A nil client makes
// the redis backend dial cfg.RedisAddr itself.
func NewTransport(cfg config.QueueConfig, client redis.UniversalClient, logger watermill.LoggerAdapter) (Transport, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryTransport(cfg, logger), nil
	case "redis":
		if client == nil {
			client = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		}
		return NewRedisTransport(cfg, client, logger)
	default:
		return nil, fmt.Errorf("unsupported queue backend %q", cfg.Backend)
	}
}

// MemoryTransport shards every queue into one topic per worker. Go-channel
// subscribers on a shared topic each receive every message, so competing
// consumers are modelled by round-robin publishing across shards.
type MemoryTransport struct {
	pubsub *gochannel.GoChannel
	shards map[string]int
	next   map[string]*atomic.Uint64
}

func NewMemoryTransport(cfg config.QueueConfig, logger watermill.LoggerAdapter) *MemoryTransport {
	t := &MemoryTransport{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger),
		shards: make(map[string]int),
		next:   make(map[string]*atomic.Uint64),
	}
	for queue := range cfg.Concurrency {
		t.shards[queue] = cfg.ConcurrencyFor(queue)
		t.next[queue] = new(atomic.Uint64)
	}
	return t
}

func (t *MemoryTransport) Publisher() message.Publisher { return t.pubsub }

func (t *MemoryTransport) PublishTopic(queue string) string {
	n, ok := t.shards[queue]
	if !ok || n <= 1 {
		return t.SubscribeTopic(queue, 0)
	}
	k := t.next[queue].Add(1) - 1
	return t.SubscribeTopic(queue, int(k%uint64(n)))
}

func (t *MemoryTransport) SubscribeTopic(queue string, worker int) string {
	return fmt.Sprintf("%s%s.%d", topicPrefix, queue, worker)
}

func (t *MemoryTransport) Subscriber(string, int) (message.Subscriber, error) {
	return t.pubsub, nil
}

func (t *MemoryTransport) Close() error { return t.pubsub.Close() }

// RedisTransport gives every worker its own consumer in the queue's consumer
// group. Pending entries idle past MaxIdleTime are claimed by live consumers,
// which redelivers jobs held by a dead worker.
type RedisTransport struct {
	client    redis.UniversalClient
	cfg       config.QueueConfig
	logger    watermill.LoggerAdapter
	publisher *rstream.Publisher

	subscribers []message.Subscriber
}

func NewRedisTransport(cfg config.QueueConfig, client redis.UniversalClient, logger watermill.LoggerAdapter) (*RedisTransport, error) {
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "create redis stream publisher")
	}
	return &RedisTransport{client: client, cfg: cfg, logger: logger, publisher: pub}, nil
}

func (t *RedisTransport) Publisher() message.Publisher { return t.publisher }

func (t *RedisTransport) PublishTopic(queue string) string { return topicPrefix + queue }

func (t *RedisTransport) SubscribeTopic(queue string, _ int) string { return topicPrefix + queue }

func (t *RedisTransport) Subscriber(queue string, worker int) (message.Subscriber, error) {
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        t.client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: t.cfg.ConsumerGroup + "." + queue,
		Consumer:      fmt.Sprintf("%s-%s", queue, watermill.NewShortUUID()),
		ClaimInterval: t.cfg.ClaimInterval,
		MaxIdleTime:   t.cfg.MaxIdleTime,
	}, t.logger)
	if err != nil {
		return nil, errors.Wrapf(err, "create redis stream subscriber for %s/%d", queue, worker)
	}
	t.subscribers = append(t.subscribers, sub)
	return sub, nil
}

func (t *RedisTransport) Close() error {
	var firstErr error
	for _, sub := range t.subscribers {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := t.publisher.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
