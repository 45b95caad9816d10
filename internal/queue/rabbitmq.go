package queue

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
	"gopkg.in/yaml.v2"
)

// rabbitmq shares one channel between every caller. The broker closes it
// when an unacked delivery outlives its consumer_timeout; the next operation
// then opens a new channel, redialing when the connection is gone too.
type rabbitmq struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewRabbitMQ(ctx context.Context, url string) (Channel, error) {
	r := &rabbitmq{url: url}

	if err := r.open(); err != nil {
		return nil, err
	}

	return r, nil
}

// open must be called with mu held, or before r is shared.
func (r *rabbitmq) open() error {
	if r.conn == nil || r.conn.IsClosed() {
		conn, err := amqp.Dial(r.url)

		if err != nil {
			return errors.Wrap(err, "unable to dial rabbitmq")
		}

		r.conn = conn
	}

	ch, err := r.conn.Channel()

	if err != nil {
		return errors.Wrap(err, "unable to open rabbitmq channel")
	}

	r.ch = ch

	return nil
}

// do runs fn on the channel, once more on a fresh channel when the current
// one was closed.
func (r *rabbitmq) do(fn func(ch *amqp.Channel) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := fn(r.ch)

	if err != amqp.ErrClosed {
		return err
	}

	log.Warn("rabbitmq channel closed, reopening")

	if err := r.open(); err != nil {
		return err
	}

	return fn(r.ch)
}

func (r *rabbitmq) CreateQueue(queue string) error {
	return r.do(func(ch *amqp.Channel) error {
		_, err := ch.QueueDeclare(queue, true, false, false, false, nil)
		return err
	})
}

func (r *rabbitmq) Consume(queue string, data interface{}) (bool, Delivery, error) {
	var (
		msg amqp.Delivery
		ok  bool
	)

	err := r.do(func(ch *amqp.Channel) (err error) {
		msg, ok, err = ch.Get(queue, false)
		return err
	})

	if err != nil {
		return false, nil, errors.Wrapf(err, "unable to get message from '%s'", queue)
	}

	if !ok {
		return false, nil, nil
	}

	if err = yaml.Unmarshal(msg.Body, data); err != nil {
		_ = msg.Nack(false, false)
		return false, nil, errors.Wrapf(err, "unable to decode message from '%s'", queue)
	}

	return true, &rabbitmqDelivery{r: r, msg: msg}, nil
}

func (r *rabbitmq) Publish(queue string, data interface{}) error {
	body, err := yaml.Marshal(data)

	if err != nil {
		return errors.Wrap(err, "unable to encode message")
	}

	return r.do(func(ch *amqp.Channel) error {
		return ch.Publish("", queue, false, false, amqp.Publishing{
			ContentType:  "text/yaml",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	})
}

func (r *rabbitmq) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_ = r.ch.Close()
	return r.conn.Close()
}

// rabbitmqDelivery settles a message at most once, on the channel that
// delivered it.
type rabbitmqDelivery struct {
	r       *rabbitmq
	msg     amqp.Delivery
	settled bool
}

func (d *rabbitmqDelivery) settle(fn func() error, action string) error {
	d.r.mu.Lock()
	defer d.r.mu.Unlock()

	if d.settled {
		return errors.Errorf("message %d already settled", d.msg.DeliveryTag)
	}

	if err := fn(); err != nil {
		if err == amqp.ErrClosed {
			// the broker requeued it with the channel
			d.settled = true
		}

		return errors.Wrapf(err, "rabbitmq message %s", action)
	}

	d.settled = true

	return nil
}

func (d *rabbitmqDelivery) Ack() error {
	return d.settle(func() error { return d.msg.Ack(false) }, "ack")
}

func (d *rabbitmqDelivery) Nack(requeue bool) error {
	return d.settle(func() error { return d.msg.Nack(false, requeue) }, "nack")
}
