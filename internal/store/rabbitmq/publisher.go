package rabbitmq

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/mas-assistant/internal/events"
)

// Publisher sends analytics events to the queue consumed by cmd/worker. The
// worker uses the same connection to consume and to schedule retries.
type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// Topology names the queues derived from the main queue name.
type Topology struct {
	Main  string
	Retry string
	DLQ   string
}

func QueuesFor(queue string) Topology {
	return Topology{Main: queue, Retry: queue + ".retry", DLQ: queue + ".dlq"}
}

// Declare creates the main, retry and dead-letter queues. Retried messages
// expire from the retry queue back into main; rejected ones land in the DLQ.
func Declare(ch *amqp.Channel, queue string) (Topology, error) {
	t := QueuesFor(queue)
	if _, err := ch.QueueDeclare(t.DLQ, true, false, false, false, nil); err != nil {
		return t, err
	}
	if _, err := ch.QueueDeclare(t.Retry, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": t.Main,
	}); err != nil {
		return t, err
	}
	if _, err := ch.QueueDeclare(t.Main, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": t.DLQ,
	}); err != nil {
		return t, err
	}
	return t, nil
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := Declare(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Consume starts a manual-ack consumer on the main queue with at most
// prefetch unacknowledged deliveries.
func (p *Publisher) Consume(prefetch int) (<-chan amqp.Delivery, error) {
	if err := p.ch.Qos(prefetch, 0, false); err != nil {
		return nil, err
	}
	return p.ch.Consume(p.queue, "", false, false, false, false, nil)
}

// Encode builds the persistent publishing for an event.
func Encode(e events.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Type:         "assistant.turn",
		Timestamp:    e.At,
		Body:         body,
	}, nil
}

// Decode is the inverse of Encode.
func Decode(body []byte) (events.Event, error) {
	var e events.Event
	err := json.Unmarshal(body, &e)
	return e, err
}

func (p *Publisher) PublishEvent(ctx context.Context, e events.Event) error {
	msg, err := Encode(e)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		msg,
	)
}

// Retry republishes a delivery onto the retry queue with a per-message TTL.
func (p *Publisher) Retry(ctx context.Context, d amqp.Delivery, attempt int, delay time.Duration) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[AttemptHeader] = int32(attempt)

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.ch.PublishWithContext(cctx, "", QueuesFor(p.queue).Retry, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Type:         d.Type,
		Timestamp:    d.Timestamp,
		Headers:      headers,
		Expiration:   strconvMillis(delay),
		Body:         d.Body,
	})
}

const AttemptHeader = "x-attempt"

// Attempt reads the retry counter from a delivery.
func Attempt(d amqp.Delivery) int {
	switch v := d.Headers[AttemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func strconvMillis(d time.Duration) string {
	ms := d.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}
