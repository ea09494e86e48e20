// Package natsfeed carries document change notifications over NATS JetStream.
package natsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/docstore"
)

// Config holds the connection and stream settings.
type Config struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration // Notifications are only useful to live watchers
}

// DefaultConfig returns the default feed configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "DOCSTORE_CHANGES",
		SubjectPrefix: "docstore.changes",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		MaxAge:        time.Minute,
	}
}

// Feed is a docstore.Feed on a JetStream stream. Each subscription is an ordered
// consumer filtered to one collection's subject, starting at new messages.
type Feed struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	config Config
}

var _ docstore.Feed = (*Feed)(nil)

// New connects to NATS and creates or updates the change stream.
func New(ctx context.Context, cfg Config) (*Feed, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Document change notifications",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		Storage:     jetstream.MemoryStorage,
		Replicas:    1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	log.Info().
		Str("stream", cfg.StreamName).
		Str("subjects", cfg.SubjectPrefix+".>").
		Msg("JetStream change feed ready")

	return &Feed{nc: nc, js: js, stream: stream, config: cfg}, nil
}

// Subject maps a collection path to its subject: "rooms/r1/participants" becomes
// "<prefix>.rooms.r1.participants". Characters NATS treats specially are replaced.
func Subject(prefix, collection string) string {
	parts := strings.Split(collection, "/")
	for i, p := range parts {
		parts[i] = sanitizeToken(p)
	}
	return prefix + "." + strings.Join(parts, ".")
}

func sanitizeToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

func (f *Feed) Publish(ctx context.Context, c docstore.Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}

	subject := Subject(f.config.SubjectPrefix, c.Collection)
	ack, err := f.js.Publish(ctx, subject, data, jetstream.WithExpectStream(f.config.StreamName))
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("id", c.ID).
		Uint64("sequence", ack.Sequence).
		Msg("published change")
	return nil
}

func (f *Feed) Subscribe(ctx context.Context, collection string, fn func(docstore.Change)) (func(), error) {
	subject := Subject(f.config.SubjectPrefix, collection)
	consumer, err := f.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer for %s: %w", subject, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var c docstore.Change
		if err := json.Unmarshal(msg.Data(), &c); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("invalid change message")
			return
		}
		if c.Collection != collection {
			return
		}
		fn(c)
	})
	if err != nil {
		return nil, fmt.Errorf("start consumer for %s: %w", subject, err)
	}
	return cc.Stop, nil
}

func (f *Feed) Close() error {
	if f.nc != nil {
		f.nc.Close()
	}
	return nil
}
