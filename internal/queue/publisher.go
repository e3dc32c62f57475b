package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"
)

// Publisher sends JSON events to the topic exchange.  The connection is
// opened lazily and re-opened after a failure, so a broker outage only
// drops the events published while it lasts.  Messages are persistent.
type Publisher struct {
    url      string
    exchange string
    log      *zap.Logger

    mu      sync.Mutex
    conn    *amqp.Connection
    ch      *amqp.Channel
    retryAt time.Time // no dial attempts before this after a failure
}

var errBrokerBackoff = errors.New("rabbitmq: waiting before reconnect")

func NewPublisher(url, exchange string, log *zap.Logger) *Publisher {
    return &Publisher{url: url, exchange: exchange, log: log}
}

// Publish marshals v and publishes it under key.  Errors are logged and
// returned so callers may ignore them without interrupting the request.
func (p *Publisher) Publish(ctx context.Context, key string, v any) error {
    body, err := json.Marshal(v)
    if err != nil {
        p.log.Error("rabbitmq: marshal event failed", zap.String("key", key), zap.Error(err))
        return err
    }

    p.mu.Lock()
    defer p.mu.Unlock()
    if err := p.ensure(); err != nil {
        p.log.Warn("rabbitmq: broker unavailable, event dropped", zap.String("key", key), zap.Error(err))
        return err
    }
    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }
    if err := p.ch.PublishWithContext(ctx, p.exchange, key, false, false, pub); err != nil {
        p.log.Warn("rabbitmq: publish failed", zap.String("key", key), zap.Error(err))
        p.reset()
        return err
    }
    return nil
}

func (p *Publisher) ensure() error {
    if p.ch != nil && !p.ch.IsClosed() {
        return nil
    }
    p.reset()
    if time.Now().Before(p.retryAt) {
        return errBrokerBackoff
    }
    conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: amqp.DefaultDial(3 * time.Second)})
    if err != nil {
        p.retryAt = time.Now().Add(10 * time.Second)
        return fmt.Errorf("dial rabbitmq: %w", err)
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return fmt.Errorf("open channel: %w", err)
    }
    if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
        _ = ch.Close()
        _ = conn.Close()
        return fmt.Errorf("declare exchange: %w", err)
    }
    p.conn, p.ch = conn, ch
    return nil
}

func (p *Publisher) reset() {
    if p.ch != nil {
        _ = p.ch.Close()
    }
    if p.conn != nil {
        _ = p.conn.Close()
    }
    p.ch, p.conn = nil, nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.reset()
    return nil
}
