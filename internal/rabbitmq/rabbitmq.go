package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"chat_service/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrDeliveriesClosed = errors.New("deliveries channel closed")

type RabbitMQClient struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	queue    amqp.Queue
	exchange string

	// amqp channels must not be shared by concurrent publishers
	mu sync.Mutex
}

// * New declares the durable mail queue and, when exchange is set, the topic
// exchange domain events are published to.
func New(urlForConn, queueName, exchange string) (*RabbitMQClient, error) {
	const op = "rabbitmq.New"

	conn, err := amqp.Dial(urlForConn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	q, err := ch.QueueDeclare(
		queueName, true, false, false, false, nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if exchange != "" {
		if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	return &RabbitMQClient{
		conn:     conn,
		channel:  ch,
		queue:    q,
		exchange: exchange,
	}, nil
}

// * SendMessage puts a mail job on the queue for the notifier.
func (r *RabbitMQClient) SendMessage(ctx context.Context, msg models.MailMessage) error {
	const op = "rabbitmq.SendMessage"

	if err := r.publish(ctx, "", r.queue.Name, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// * PublishEvent publishes a domain event with its type as the routing key.
func (r *RabbitMQClient) PublishEvent(ctx context.Context, ev models.Event) error {
	const op = "rabbitmq.PublishEvent"

	if r.exchange == "" {
		return nil
	}

	if err := r.publish(ctx, r.exchange, ev.Type, ev); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *RabbitMQClient) publish(ctx context.Context, exchange, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.channel.PublishWithContext(
		ctx,
		exchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// * StartReading consumes the queue until ctx is done.
// A delivery is acked when handle succeeds and dropped (no requeue) otherwise,
// so a poison message cannot loop forever.
func (r *RabbitMQClient) StartReading(ctx context.Context, queueName string, handle func([]byte) error) error {
	const op = "rabbitmq.StartReading"

	deliveries, err := r.channel.ConsumeWithContext(ctx, queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%s: %w", op, ErrDeliveriesClosed)
			}

			if err := handle(d.Body); err != nil {
				_ = d.Nack(false, false)
				continue
			}

			_ = d.Ack(false)
		}
	}
}

func (r *RabbitMQClient) Close() {
	_ = r.channel.Close()
	_ = r.conn.Close()
}
