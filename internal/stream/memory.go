package stream

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// Broker is an in-process stand-in for Kafka used when every stage runs in
// one process, and in tests. It keeps keyed partitions and per-group commit
// offsets, so a new consumer of a group resumes at the first uncommitted
// message. Only one live consumer per group is supported.
type Broker struct {
	mu         sync.Mutex
	partitions int
	topics     map[string]*memTopic
}

type memTopic struct {
	parts     [][]Message
	committed map[string][]int64 // group -> next offset per partition
	wake      chan struct{}
}

func NewBroker(partitions int) *Broker {
	if partitions < 1 {
		partitions = 1
	}
	return &Broker{partitions: partitions, topics: make(map[string]*memTopic)}
}

func (b *Broker) topic(name string) *memTopic {
	t, ok := b.topics[name]
	if !ok {
		t = &memTopic{
			parts:     make([][]Message, b.partitions),
			committed: make(map[string][]int64),
			wake:      make(chan struct{}),
		}
		b.topics[name] = t
	}
	return t
}

func (b *Broker) partition(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(b.partitions))
}

// Messages returns a copy of everything published to topic, in partition order.
func (b *Broker) Messages(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for _, p := range b.topic(topic).parts {
		out = append(out, p...)
	}
	return out
}

// Committed returns the next offset group will read from partition p.
func (b *Broker) Committed(topic, group string, p int) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	offs := b.topic(topic).committed[group]
	if p >= len(offs) {
		return 0
	}
	return offs[p]
}

func (b *Broker) Producer(topic string) *MemoryProducer {
	return &MemoryProducer{b: b, topic: topic}
}

func (b *Broker) Consumer(topic, group string) *MemoryConsumer {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topic(topic)
	offs, ok := t.committed[group]
	if !ok {
		offs = make([]int64, b.partitions)
		t.committed[group] = offs
	}
	pos := make([]int64, b.partitions)
	copy(pos, offs)
	return &MemoryConsumer{b: b, topic: topic, group: group, pos: pos, done: make(chan struct{})}
}

type MemoryProducer struct {
	b     *Broker
	topic string
}

func (p *MemoryProducer) Publish(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := p.b
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topic(p.topic)
	part := b.partition(key)
	v := make([]byte, len(value))
	copy(v, value)
	t.parts[part] = append(t.parts[part], Message{
		Topic:     p.topic,
		Key:       key,
		Value:     v,
		Partition: part,
		Offset:    int64(len(t.parts[part])),
		Time:      time.Now().UTC(),
	})
	close(t.wake)
	t.wake = make(chan struct{})
	return nil
}

func (p *MemoryProducer) Close() error { return nil }

type MemoryConsumer struct {
	b     *Broker
	topic string
	group string

	pos       []int64
	next      int // round-robin start partition
	done      chan struct{}
	closeOnce sync.Once
}

func (c *MemoryConsumer) Fetch(ctx context.Context) (Message, error) {
	for {
		c.b.mu.Lock()
		t := c.b.topic(c.topic)
		n := len(t.parts)
		for i := 0; i < n; i++ {
			p := (c.next + i) % n
			if c.pos[p] < int64(len(t.parts[p])) {
				m := t.parts[p][c.pos[p]]
				c.pos[p]++
				c.next = (p + 1) % n
				c.b.mu.Unlock()
				return m, nil
			}
		}
		wake := t.wake
		c.b.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-c.done:
			return Message{}, ErrClosed
		case <-wake:
		}
	}
}

func (c *MemoryConsumer) Commit(_ context.Context, m Message) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	offs := c.b.topic(c.topic).committed[c.group]
	if m.Partition < 0 || m.Partition >= len(offs) {
		return nil
	}
	if next := m.Offset + 1; next > offs[m.Partition] {
		offs[m.Partition] = next
	}
	return nil
}

func (c *MemoryConsumer) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
