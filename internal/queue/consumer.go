package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"

    "github.com/iliyamo/studyhall-marketplace/internal/model"
)

// NotificationQueue is the durable queue the notification consumer reads.
const NotificationQueue = "notifications"

// NotificationStore persists notification center entries.
type NotificationStore interface {
    Create(ctx context.Context, n *model.Notification) error
}

// NotificationConsumer turns domain events into notification rows for the
// affected student and the hall owner.
type NotificationConsumer struct {
    url   string
    store NotificationStore
    log   *zap.Logger
}

func NewNotificationConsumer(url string, store NotificationStore, log *zap.Logger) *NotificationConsumer {
    return &NotificationConsumer{url: url, store: store, log: log}
}

// Run connects to RabbitMQ, binds the queue to every routing key it
// handles and consumes until ctx is cancelled.  Connection failures are
// retried with exponential backoff capped at 30s.
func (c *NotificationConsumer) Run(ctx context.Context) error {
    backoff := time.Second
    for {
        if ctx.Err() != nil {
            return nil
        }
        conn, err := amqp.Dial(c.url)
        if err != nil {
            c.log.Warn("notification-consumer: failed to dial broker", zap.Error(err), zap.Duration("retry_in", backoff))
            if !sleep(ctx, backoff) {
                return nil
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = c.consumeLoop(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return nil
        }
        c.log.Warn("notification-consumer: consume loop ended, reconnecting", zap.Error(err))
        if !sleep(ctx, 2*time.Second) {
            return nil
        }
    }
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}

func (c *NotificationConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        c.log.Warn("notification-consumer: set QoS failed", zap.Error(err))
    }
    if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
        return fmt.Errorf("declare exchange: %w", err)
    }
    q, err := ch.QueueDeclare(NotificationQueue, true, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    for _, key := range []string{RKBookingConfirmed, RKBookingCancelled, RKBookingExpired, RKPaymentFailed} {
        if err := ch.QueueBind(q.Name, key, Exchange, false, nil); err != nil {
            return fmt.Errorf("bind %s: %w", key, err)
        }
    }

    msgs, err := ch.ConsumeWithContext(ctx, q.Name, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }
    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            c.deliver(ctx, d)
        }
    }
}

func (c *NotificationConsumer) deliver(ctx context.Context, d amqp.Delivery) {
    err := c.Handle(ctx, d.RoutingKey, d.Body)
    switch {
    case err == nil:
        _ = d.Ack(false)
    case errors.Is(err, errMalformed):
        c.log.Error("notification-consumer: dropping malformed message", zap.String("key", d.RoutingKey), zap.Error(err))
        _ = d.Nack(false, false)
    default:
        // one redelivery for store errors, then drop to avoid tight loops
        c.log.Warn("notification-consumer: handle failed", zap.String("key", d.RoutingKey),
            zap.Bool("redelivered", d.Redelivered), zap.Error(err))
        _ = d.Nack(false, !d.Redelivered)
    }
}

var errMalformed = errors.New("malformed event")

// Handle writes the notifications for one event.  Unknown routing keys are
// acknowledged and ignored.
func (c *NotificationConsumer) Handle(ctx context.Context, key string, body []byte) error {
    var notes []model.Notification
    switch key {
    case RKBookingConfirmed, RKBookingCancelled, RKBookingExpired:
        var ev BookingEvent
        if err := json.Unmarshal(body, &ev); err != nil {
            return fmt.Errorf("%w: %v", errMalformed, err)
        }
        notes = bookingNotifications(key, ev)
    case RKPaymentFailed:
        var ev PaymentFailedEvent
        if err := json.Unmarshal(body, &ev); err != nil {
            return fmt.Errorf("%w: %v", errMalformed, err)
        }
        notes = []model.Notification{{
            UserID: ev.UserID,
            Kind:   key,
            Title:  "Payment failed",
            Body:   fmt.Sprintf("Your payment for booking %s did not go through (%s). You can retry before the booking expires.", ev.Reference, ev.Reason),
        }}
    default:
        c.log.Debug("notification-consumer: skip unknown key", zap.String("key", key))
        return nil
    }
    for i := range notes {
        if notes[i].UserID == 0 {
            continue
        }
        if err := c.store.Create(ctx, &notes[i]); err != nil {
            return err
        }
    }
    return nil
}

func bookingNotifications(key string, ev BookingEvent) []model.Notification {
    stay := fmt.Sprintf("%s, seat %s, %s to %s", ev.HallName, ev.SeatLabel, ev.StartDate, ev.EndDate)
    switch key {
    case RKBookingConfirmed:
        student := model.Notification{UserID: ev.UserID, Kind: key, Title: "Booking confirmed",
            Body: fmt.Sprintf("Booking %s is confirmed: %s.", ev.Reference, stay)}
        if ev.Refund {
            student.Title = "Payment received, seat no longer available"
            student.Body = fmt.Sprintf("We received your payment for booking %s but the seat was taken after the booking expired. A refund of %s will be issued.", ev.Reference, ev.Amount)
        }
        return []model.Notification{
            student,
            {UserID: ev.OwnerID, Kind: key, Title: "New booking",
                Body: fmt.Sprintf("Booking %s paid %s via %s: %s.", ev.Reference, ev.Amount, ev.Method, stay)},
        }
    case RKBookingCancelled:
        body := fmt.Sprintf("Booking %s was cancelled: %s.", ev.Reference, stay)
        if ev.Refund {
            body += " A refund of " + ev.Amount + " will be issued."
        }
        return []model.Notification{
            {UserID: ev.UserID, Kind: key, Title: "Booking cancelled", Body: body},
            {UserID: ev.OwnerID, Kind: key, Title: "Booking cancelled",
                Body: fmt.Sprintf("Booking %s was cancelled: %s.", ev.Reference, stay)},
        }
    default:
        return []model.Notification{{UserID: ev.UserID, Kind: key, Title: "Booking expired",
            Body: fmt.Sprintf("Booking %s expired before payment was received: %s.", ev.Reference, stay)}}
    }
}
