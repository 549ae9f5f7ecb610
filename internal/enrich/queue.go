// Eventfold - Event Catalog Aggregation and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventfold

package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/eventfold/internal/config"
	"github.com/tomtom215/eventfold/internal/database"
	"github.com/tomtom215/eventfold/internal/logging"
	"github.com/tomtom215/eventfold/internal/metrics"
)

const (
	handlerName = "enrich-tagger"
	// deadLetterTopic is only a label: poisoned messages go straight to
	// the dead-letter store.
	deadLetterTopic = "enrich.dead"
)

// request is the queued message payload.
type request struct {
	CatalogID   string    `json:"catalog_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// Queue publishes enrichment requests and tags them in a Watermill router
// handler. Failed requests are retried with backoff and then land in the
// dead-letter store.
type Queue struct {
	pub    message.Publisher
	sub    message.Subscriber
	router *message.Router
	topic  string
	logger watermill.LoggerAdapter
}

// NewQueue creates the pub/sub pair for cfg.Transport and a router whose
// handler calls direct.Tag.
func NewQueue(cfg *config.QueueConfig, direct *Direct, deadLetters *DeadLetterStore) (*Queue, error) {
	logger := logging.NewWatermillAdapter("enrich-queue")

	pub, sub, err := newPubSub(cfg, logger)
	if err != nil {
		return nil, err
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		closePubSub(pub, sub)
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	// Outermost first: exhausted retries are poisoned, panics become errors
	// the retry sees.
	poison, err := middleware.PoisonQueue(&deadLetterPublisher{store: deadLetters, attempts: cfg.RetryCount + 1}, deadLetterTopic)
	if err != nil {
		closePubSub(pub, sub)
		return nil, fmt.Errorf("create poison queue middleware: %w", err)
	}
	router.AddMiddleware(poison)

	retry := middleware.Retry{
		MaxRetries:      cfg.RetryCount,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Logger:          logger,
	}
	router.AddMiddleware(retry.Middleware)
	router.AddMiddleware(middleware.Recoverer)

	router.AddConsumerHandler(handlerName, cfg.Topic, sub, func(msg *message.Message) error {
		return handle(msg, direct)
	})

	return &Queue{pub: pub, sub: sub, router: router, topic: cfg.Topic, logger: logger}, nil
}

func newPubSub(cfg *config.QueueConfig, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
	switch cfg.Transport {
	case "", "gochannel":
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
		return ch, ch, nil
	case "nats":
		return newNATSPubSub(cfg, logger)
	default:
		return nil, nil, fmt.Errorf("unknown enrichment queue transport %q", cfg.Transport)
	}
}

func newNATSPubSub(cfg *config.QueueConfig, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.NATSURL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
		},
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create NATS publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.NATSURL,
		QueueGroupPrefix: "eventfold-enrich",
		SubscribersCount: 1,
		AckWaitTimeout:   time.Minute,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision:    true,
			DurablePrefix:    "eventfold-enrich",
			SubscribeOptions: []natsgo.SubOpt{natsgo.DeliverNew()},
		},
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, nil, fmt.Errorf("create NATS subscriber: %w", err)
	}
	return pub, sub, nil
}

func closePubSub(pub message.Publisher, sub message.Subscriber) {
	_ = pub.Close()
	_ = sub.Close()
}

func handle(msg *message.Message, direct *Direct) error {
	var req request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return fmt.Errorf("decode enrichment request %s: %w", msg.UUID, err)
	}

	err := direct.Tag(msg.Context(), req.CatalogID)
	if errors.Is(err, database.ErrNotFound) {
		// Nothing left to tag.
		logging.Debug().Str("catalog_id", req.CatalogID).Msg("Enrichment target no longer exists")
		return nil
	}
	return err
}

// Publish queues catalogID for enrichment.
func (q *Queue) Publish(ctx context.Context, catalogID string) error {
	payload, err := json.Marshal(request{CatalogID: catalogID, RequestedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode enrichment request: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	msg.Metadata.Set("catalog_id", catalogID)
	msg.SetContext(ctx)

	if err := q.pub.Publish(q.topic, msg); err != nil {
		return fmt.Errorf("publish enrichment request: %w", err)
	}
	metrics.EnrichmentQueuePublished.Inc()
	return nil
}

// Run processes queued requests until ctx is cancelled or Close is called.
func (q *Queue) Run(ctx context.Context) error {
	return q.router.Run(ctx)
}

// Running is closed once the handler is subscribed.
func (q *Queue) Running() <-chan struct{} {
	return q.router.Running()
}

// Close stops the router and releases the transport.
func (q *Queue) Close() error {
	var errs []error
	if err := q.router.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close router: %w", err))
	}
	if err := q.pub.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	if err := q.sub.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close subscriber: %w", err))
	}
	return errors.Join(errs...)
}

// deadLetterPublisher is the poison queue target: instead of re-publishing
// to a topic it writes the failed request to the dead-letter store.
type deadLetterPublisher struct {
	store    *DeadLetterStore
	attempts int
}

func (p *deadLetterPublisher) Publish(_ string, msgs ...*message.Message) error {
	for _, msg := range msgs {
		var req request
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			req.CatalogID = msg.Metadata.Get("catalog_id")
		}
		dl := &DeadLetter{
			CatalogID: req.CatalogID,
			Reason:    msg.Metadata.Get(middleware.ReasonForPoisonedKey),
			Attempts:  p.attempts,
		}
		if err := p.store.Put(context.Background(), dl); err != nil {
			return err
		}
		logging.Warn().
			Str("catalog_id", dl.CatalogID).
			Str("reason", dl.Reason).
			Msg("Enrichment request dead-lettered")
	}
	return nil
}

func (p *deadLetterPublisher) Close() error { return nil }
