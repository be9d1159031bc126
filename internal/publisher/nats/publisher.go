// Package nats implements a NATS publisher.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/depfollow/internal/publisher"
)

// flushTimeout bounds the server round trip when ctx carries no deadline.
const flushTimeout = 5 * time.Second

// Config controls the NATS connection.
type Config struct {
	URL  string `mapstructure:"url"`
	Name string `mapstructure:"name"`
	// SubjectPrefix is prepended to every topic, e.g. "depfollow.".
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// Publisher publishes JSON payloads on NATS subjects. Each publish is
// followed by a flush so an error means the server never saw the message.
type Publisher struct {
	nc     *natsgo.Conn
	prefix string
	logger *zap.Logger
}

var _ publisher.Publisher = (*Publisher)(nil)

// Connect dials NATS with reconnect handling and wraps the connection.
func Connect(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		cfg.URL = natsgo.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "depfollow"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("connecting to nats", zap.String("url", cfg.URL), zap.String("name", cfg.Name))
	nc, err := natsgo.Connect(cfg.URL,
		natsgo.Name(cfg.Name),
		natsgo.Timeout(10*time.Second),
		natsgo.ReconnectWait(2*time.Second),
		natsgo.MaxReconnects(60),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		natsgo.ClosedHandler(func(*natsgo.Conn) {
			logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return New(nc, cfg.SubjectPrefix, logger), nil
}

// New wraps an existing connection.
func New(nc *natsgo.Conn, prefix string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger}
}

// Publish encodes payload as JSON and publishes it on prefix+topic. Trace
// context travels in message headers.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.nc == nil {
		return "", fmt.Errorf("nats connection is not configured")
	}
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	subject := p.prefix + topic
	msg := natsgo.NewMsg(subject)
	msg.Data = data
	carrier := publisher.AttributeCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		msg.Header.Set(k, v)
	}

	if err := p.nc.PublishMsg(msg); err != nil {
		return "", fmt.Errorf("publish %s: %w", subject, err)
	}
	flushCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	if err := p.nc.FlushWithContext(flushCtx); err != nil {
		return "", fmt.Errorf("flush %s: %w", subject, err)
	}
	p.logger.Debug("published", zap.String("subject", subject), zap.Int("bytes", len(data)))
	return subject, nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
