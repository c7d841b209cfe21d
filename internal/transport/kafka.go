package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/archive-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

// KafkaOptions name the topics and stream key of a KafkaChannel.
type KafkaOptions struct {
	SendTopic    string
	ReceiveTopic string
	// GroupID is the consumer group for ReceiveTopic. Every manager needs
	// its own so each sees all worker replies.
	GroupID string
	// Key is written on every message. A fixed key pins the stream to one
	// partition, which keeps index chunks in order.
	Key string
}

// KafkaChannel sends envelopes on one topic and receives them on another.
type KafkaChannel struct {
	producer *kafka.Producer
	consumer *kafka.Consumer
	key      string
	recv     chan proto.Envelope
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
	logger   *slog.Logger
}

// NewKafkaChannel starts consuming ReceiveTopic in the background.
func NewKafkaChannel(cfg config.KafkaConfig, opts KafkaOptions) *KafkaChannel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &KafkaChannel{
		producer: kafka.NewProducer(cfg, opts.SendTopic),
		key:      opts.Key,
		recv:     make(chan proto.Envelope, DefaultBuffer),
		cancel:   cancel,
		done:     make(chan struct{}),
		logger: slog.Default().With(
			"component", "kafka-channel",
			"send_topic", opts.SendTopic,
			"receive_topic", opts.ReceiveTopic,
		),
	}
	c.consumer = kafka.NewConsumer(cfg, opts.ReceiveTopic, kafka.ConsumerOptions{GroupID: opts.GroupID}, c.deliver)
	go func() {
		defer close(c.done)
		defer close(c.recv)
		if err := c.consumer.Start(ctx); err != nil {
			c.logger.Error("consumer stopped", "error", err)
		}
	}()
	return c
}

func (c *KafkaChannel) deliver(ctx context.Context, _ []byte, value []byte) error {
	env, err := decodeEnvelope(value)
	if err != nil {
		// Undecodable frames are dropped; committing them avoids a poison loop.
		c.logger.Warn("dropping undecodable envelope", "error", err, "size", len(value))
		return nil
	}
	select {
	case c.recv <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *KafkaChannel) Send(ctx context.Context, env proto.Envelope) error {
	select {
	case <-c.done:
		return apperrors.ErrClosed
	default:
	}
	data, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	return c.producer.PublishRaw(ctx, c.key, data)
}

func (c *KafkaChannel) Receive() <-chan proto.Envelope {
	return c.recv
}

func (c *KafkaChannel) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		<-c.done
		err = c.producer.Close()
	})
	return err
}

func encodeEnvelope(env proto.Envelope) ([]byte, error) {
	if env.Type == "" {
		return nil, fmt.Errorf("encoding envelope: %w", apperrors.ErrInvalidInput)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (proto.Envelope, error) {
	var env proto.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return proto.Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Type == "" {
		return proto.Envelope{}, fmt.Errorf("decoding envelope: missing type: %w", apperrors.ErrProtocol)
	}
	return env, nil
}
