package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/planningpoker/go/internal/changefeed"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Broadcaster fans a change out to the connections of its session.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev changefeed.Event) error
	CloseAll()
}

// EventSource feeds every committed change into a Broadcaster until ctx is done.
type EventSource interface {
	Start(ctx context.Context) error
}

// SourceFactory binds an EventSource to the gateway's broadcaster.
type SourceFactory func(b Broadcaster) (EventSource, error)

// JetStreamConsumerConfig holds configuration for the JetStream consumer
type JetStreamConsumerConfig struct {
	StreamName    string        `env:"NATS_STREAM" envDefault:"POKER_CHANGES"`
	ConsumerName  string        `env:"GATEWAY_CONSUMER" envDefault:"poker-gateway"`
	SubjectFilter string        `env:"GATEWAY_SUBJECT_FILTER" envDefault:"poker.changes.>"`
	MaxDeliver    int           `env:"GATEWAY_MAX_DELIVER" envDefault:"5"`
	AckWait       time.Duration `env:"GATEWAY_ACK_WAIT" envDefault:"30s"`
	MaxAckPending int           `env:"GATEWAY_MAX_ACK_PENDING" envDefault:"100"`
}

// EventConsumer consumes changes from JetStream and broadcasts them to WebSocket clients
type EventConsumer struct {
	broadcaster Broadcaster
	js          jetstream.JetStream
	consumer    jetstream.Consumer
	config      JetStreamConsumerConfig
}

// JetStreamSource returns a factory for a durable JetStream consumer.
func JetStreamSource(js jetstream.JetStream, config JetStreamConsumerConfig) SourceFactory {
	return func(b Broadcaster) (EventSource, error) {
		return NewEventConsumer(b, js, config)
	}
}

// NewEventConsumer creates a new JetStream event consumer
func NewEventConsumer(b Broadcaster, js jetstream.JetStream, config JetStreamConsumerConfig) (*EventConsumer, error) {
	ec := &EventConsumer{
		broadcaster: b,
		js:          js,
		config:      config,
	}
	if err := ec.ensureConsumer(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}
	return ec, nil
}

// ensureConsumer creates or gets the durable consumer. It only delivers changes
// published after creation; connected clients take a snapshot themselves.
func (ec *EventConsumer) ensureConsumer(ctx context.Context) error {
	stream, err := ec.js.Stream(ctx, ec.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          ec.config.ConsumerName,
		Durable:       ec.config.ConsumerName,
		Description:   "Session gateway WebSocket consumer",
		FilterSubject: ec.config.SubjectFilter,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    ec.config.MaxDeliver,
		AckWait:       ec.config.AckWait,
		MaxAckPending: ec.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	consumer, err := stream.Consumer(ctx, ec.config.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, consumerConfig)
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().
			Str("consumer", ec.config.ConsumerName).
			Str("stream", ec.config.StreamName).
			Msg("created JetStream consumer")
	} else {
		log.Info().
			Str("consumer", ec.config.ConsumerName).
			Str("stream", ec.config.StreamName).
			Msg("using existing JetStream consumer")
	}

	ec.consumer = consumer
	return nil
}

// Start begins consuming events from JetStream
func (ec *EventConsumer) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", ec.config.ConsumerName).
		Str("stream", ec.config.StreamName).
		Msg("starting JetStream event consumer")

	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := ec.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event consumer shutting down")
			return nil
		case msg := <-messageCh:
			ec.processMessage(ctx, msg)
		}
	}
}

// processMessage broadcasts one change. Undecodable messages are terminated since a
// redelivery cannot fix them.
func (ec *EventConsumer) processMessage(ctx context.Context, msg jetstream.Msg) {
	ev, err := changefeed.UnmarshalEvent(msg.Data())
	if err != nil {
		log.Error().Err(err).Str("subject", msg.Subject()).Msg("terminating malformed change")
		if termErr := msg.Term(); termErr != nil {
			log.Error().Err(termErr).Msg("failed to TERM message")
		}
		return
	}

	if err := ec.broadcaster.Broadcast(ctx, ev); err != nil {
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error().Err(nakErr).Msg("failed to NAK message")
		}
		return
	}
	if ackErr := msg.Ack(); ackErr != nil {
		log.Error().Err(ackErr).Msg("failed to ACK message")
	}
}

// FeedConsumer forwards an in-process change feed, such as store.MemoryStore.SubscribeAll.
type FeedConsumer struct {
	broadcaster Broadcaster
	subscribe   func(ctx context.Context) (<-chan changefeed.Event, error)
	clock       clockwork.Clock
	retryDelay  time.Duration
}

// FeedSource returns a factory for a FeedConsumer. A nil clock means the real clock.
func FeedSource(subscribe func(ctx context.Context) (<-chan changefeed.Event, error), clock clockwork.Clock) SourceFactory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return func(b Broadcaster) (EventSource, error) {
		return &FeedConsumer{broadcaster: b, subscribe: subscribe, clock: clock, retryDelay: time.Second}, nil
	}
}

// Start forwards changes until ctx is done. When the feed ends every client is
// disconnected, because changes may have been lost in the gap.
func (fc *FeedConsumer) Start(ctx context.Context) error {
	for {
		events, err := fc.subscribe(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to subscribe to change feed")
		} else {
			for ev := range events {
				if err := fc.broadcaster.Broadcast(ctx, ev); err != nil {
					break
				}
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		log.Warn().Dur("retry_in", fc.retryDelay).Msg("change feed ended, disconnecting clients")
		fc.broadcaster.CloseAll()
		select {
		case <-ctx.Done():
			return nil
		case <-fc.clock.After(fc.retryDelay):
		}
	}
}
