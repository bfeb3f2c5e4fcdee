package broker

import (
	"sync"

	"github.com/fakemq/fakemq/contracts"
)

// Queue is a named, insertion-ordered buffer of delivered messages. While
// a consumer hook is attached, enqueued messages are handed to it
// synchronously instead of being buffered; without one they accumulate
// for later retrieval with Get.
type Queue struct {
	name string

	mu          sync.Mutex
	messages    []contracts.Message
	consumer    contracts.DeliveryFunc
	consumerTag string
}

func newQueue(name string) *Queue {
	return &Queue{name: name}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Enqueue delivers msg to the attached consumer, or buffers it if no
// consumer is attached. The hook runs on the caller's goroutine, outside
// the queue lock, so hooks may call back into the queue.
func (q *Queue) Enqueue(msg contracts.Message) {
	q.mu.Lock()
	hook := q.consumer
	if hook == nil {
		q.messages = append(q.messages, msg)
	}
	q.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
}

// AttachConsumer registers hook as the queue's consumer under tag. Any
// buffered backlog is drained to the hook in insertion order before new
// deliveries flow. A queue holds at most one consumer; attaching to a
// queue that already has one returns ErrConsumerExists.
func (q *Queue) AttachConsumer(tag string, hook contracts.DeliveryFunc) error {
	q.mu.Lock()
	if q.consumer != nil {
		q.mu.Unlock()
		return ErrConsumerExists
	}
	q.consumer = hook
	q.consumerTag = tag
	backlog := q.messages
	q.messages = nil
	q.mu.Unlock()

	for _, msg := range backlog {
		hook(msg)
	}
	return nil
}

// DetachConsumer removes the consumer hook. Subsequent deliveries buffer
// again. Detaching an idle queue is a no-op.
func (q *Queue) DetachConsumer() {
	q.mu.Lock()
	q.consumer = nil
	q.consumerTag = ""
	q.mu.Unlock()
}

// ConsumerTag returns the tag of the attached consumer, or "" if none.
func (q *Queue) ConsumerTag() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.consumerTag
}

// Get removes and returns the message at the front of the buffer. The
// second return is false if the buffer is empty.
func (q *Queue) Get() (contracts.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return contracts.Message{}, false
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	return msg, true
}

// Len returns the number of buffered messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}
