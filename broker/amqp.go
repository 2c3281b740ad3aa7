package broker

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fenwicklabs/reservoir/errors"
)

// AMQPBroker is a Broker backed by RabbitMQ (or any AMQP091-compatible
// broker), grounded on the original's fanout-exchange-plus-durable-queue
// topology (original_source/awspider/amqp/amqp.py,
// servers/execution_amqp.py).
type AMQPBroker struct {
	conn    *amqp.Connection
	mu      sync.Mutex
	ch      *amqp.Channel
	exchange string
	queue   string
}

// AMQPConfig names the exchange and queue the broker binds at Dial time.
type AMQPConfig struct {
	URL      string
	Exchange string
	Queue    string
}

// Dial connects to the broker, declares the fanout exchange and durable
// queue, and binds them.
func Dial(cfg AMQPConfig) (*AMQPBroker, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "open amqp channel")
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, errors.Wrap(err, "declare exchange")
	}

	q, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, errors.Wrap(err, "declare queue")
	}

	if err := ch.QueueBind(q.Name, "", cfg.Exchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, errors.Wrap(err, "bind queue")
	}

	return &AMQPBroker{conn: conn, ch: ch, exchange: cfg.Exchange, queue: q.Name}, nil
}

func (b *AMQPBroker) Publish(ctx context.Context, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch == nil {
		return ErrClosed
	}
	err := b.ch.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/octet-stream",
		Body:        body,
	})
	if err != nil {
		return errors.Wrap(err, "publish")
	}
	return nil
}

func (b *AMQPBroker) Consume(ctx context.Context, prefetch int) (<-chan Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch == nil {
		return nil, ErrClosed
	}

	if err := b.ch.Qos(prefetch, 0, false); err != nil {
		return nil, errors.Wrap(err, "set qos")
	}

	msgs, err := b.ch.ConsumeWithContext(ctx, b.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, errors.Wrap(err, "consume")
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				d := msg
				out <- Delivery{
					Body: d.Body,
					Ack:  func() error { return d.Ack(false) },
					Nack: func(requeue bool) error { return d.Nack(false, requeue) },
				}
			}
		}
	}()

	return out, nil
}

func (b *AMQPBroker) QueueDepth(_ context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch == nil {
		return 0, ErrClosed
	}
	q, err := b.ch.QueueInspect(b.queue)
	if err != nil {
		return 0, errors.Wrap(err, "inspect queue")
	}
	return q.Messages, nil
}

func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != nil {
		b.ch.Close()
		b.ch = nil
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
