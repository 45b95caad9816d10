package queue

import (
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Memory is an in-process Channel with the same codec and ack semantics as
// the RabbitMQ one.
type Memory struct {
	mu      sync.Mutex
	queues  map[string][][]byte
	unacked int
}

func NewMemory() *Memory {
	return &Memory{queues: make(map[string][][]byte)}
}

func (m *Memory) CreateQueue(queue string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[queue]; !ok {
		m.queues[queue] = nil
	}

	return nil
}

func (m *Memory) Publish(queue string, data interface{}) error {
	body, err := yaml.Marshal(data)

	if err != nil {
		return errors.Wrap(err, "unable to encode message")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.queues[queue] = append(m.queues[queue], body)

	return nil
}

func (m *Memory) Consume(queue string, data interface{}) (bool, Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.queues[queue]

	if len(msgs) == 0 {
		return false, nil, nil
	}

	body := msgs[0]
	m.queues[queue] = msgs[1:]

	if err := yaml.Unmarshal(body, data); err != nil {
		return false, nil, errors.Wrapf(err, "unable to decode message from '%s'", queue)
	}

	m.unacked++

	return true, &memoryDelivery{m: m, queue: queue, body: body}, nil
}

func (m *Memory) Close() error {
	return nil
}

// Len is the number of ready messages in queue.
func (m *Memory) Len(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.queues[queue])
}

// Unacked is the number of delivered messages not yet settled.
func (m *Memory) Unacked() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.unacked
}

type memoryDelivery struct {
	m       *Memory
	queue   string
	body    []byte
	settled bool
}

func (d *memoryDelivery) settle() error {
	if d.settled {
		return errors.New("delivery already settled")
	}

	d.settled = true
	d.m.unacked--

	return nil
}

func (d *memoryDelivery) Ack() error {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()

	return d.settle()
}

func (d *memoryDelivery) Nack(requeue bool) error {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()

	if err := d.settle(); err != nil {
		return err
	}

	if requeue {
		d.m.queues[d.queue] = append([][]byte{d.body}, d.m.queues[d.queue]...)
	}

	return nil
}
