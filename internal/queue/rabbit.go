package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"example.com/user-provisioner/internal/model"
)

// Delivery is one message handed to a consumer. Exactly one of Ack or Nack
// must be called; later calls are ignored.
type Delivery struct {
	Body        []byte
	Redelivered bool

	once sync.Once
	ack  func() error
	nack func(requeue bool) error
}

// NewDelivery builds a Delivery around settle callbacks. Used by in-memory
// clients.
func NewDelivery(body []byte, redelivered bool, ack func() error, nack func(requeue bool) error) *Delivery {
	return &Delivery{Body: body, Redelivered: redelivered, ack: ack, nack: nack}
}

func (d *Delivery) Ack() error {
	var err error
	d.once.Do(func() {
		if d.ack != nil {
			err = d.ack()
		}
	})
	return err
}

func (d *Delivery) Nack(requeue bool) error {
	var err error
	d.once.Do(func() {
		if d.nack != nil {
			err = d.nack(requeue)
		}
	})
	return err
}

type Client interface {
	Publish(ctx context.Context, body []byte) error
	Consume(ctx context.Context) (<-chan *Delivery, error)
	Close() error
}

// PublishMessage encodes msg as JSON and publishes it.
func PublishMessage(ctx context.Context, c Client, msg model.Message) error {
	if msg.Company == "" {
		return errors.New("message has no company")
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.Publish(ctx, b)
}

type rabbitClient struct {
	conn     *amqp.Connection
	q        amqp.Queue
	prefetch int
}

// NewRabbitClient connects to RabbitMQ and declares a durable queue with the
// given name.
func NewRabbitClient(url string, queueName string) (Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	// close channel; we'll open new channels for publish/consume
	ch.Close()
	return &rabbitClient{conn: conn, q: q, prefetch: 1}, nil
}

func (r *rabbitClient) Publish(ctx context.Context, body []byte) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	return ch.PublishWithContext(ctx,
		"", r.q.Name, false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// Consume opens a channel with prefetch 1 and manual acknowledgement. The
// consumer settles each Delivery; anything unsettled when ctx ends is
// requeued by the broker once the channel closes.
func (r *rabbitClient) Consume(ctx context.Context) (<-chan *Delivery, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(r.prefetch, 0, false); err != nil {
		ch.Close()
		return nil, err
	}
	msgs, err := ch.Consume(r.q.Name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}
	out := make(chan *Delivery)
	go func() {
		defer ch.Close()
		defer close(out)
		for {
			select {
			case d, ok := <-msgs:
				if !ok {
					return
				}
				del := NewDelivery(d.Body, d.Redelivered,
					func() error { return d.Ack(false) },
					func(requeue bool) error { return d.Nack(false, requeue) },
				)
				select {
				case out <- del:
				case <-ctx.Done():
					d.Nack(false, true)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (r *rabbitClient) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}
