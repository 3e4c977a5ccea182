package track

import (
	"sync"

	"github.com/gammazero/deque"
)

// ByteQueue is a thread-safe FIFO bounded by accumulated byte weight rather
// than item count, so memory and latency stay bounded by payload size
// instead of a number that conflates small control packets with large media
// frames. When a push would exceed the limit the new item is rejected
// without touching the queue (tail drop).
//
// It carries its own lock, independent from the track state lock, so a
// network producer stays responsive while a consumer reads unrelated track
// state. One producer and any number of consumers are safe.
type ByteQueue struct {
	mu     sync.Mutex
	items  deque.Deque
	amount int
	limit  int
	size   func(*Message) int
}

// NewByteQueue creates a queue holding at most limit accounted bytes, with
// size mapping an item to its accounted weight.
func NewByteQueue(limit int, size func(*Message) int) *ByteQueue {
	return &ByteQueue{limit: limit, size: size}
}

// Push appends msg unless its weight would push the accumulated size past
// the limit, in which case the queue is left untouched and false returned.
func (q *ByteQueue) Push(msg *Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	weight := q.size(msg)
	if q.amount+weight > q.limit {
		return false
	}
	q.items.PushBack(msg)
	q.amount += weight
	return true
}

// Pop removes and returns the front item, or nil when empty.
func (q *ByteQueue) Pop() *Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return nil
	}
	msg := q.items.PopFront().(*Message)
	q.amount -= q.size(msg)
	return msg
}

// Peek returns the front item without removing it, or nil when empty.
func (q *ByteQueue) Peek() *Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return nil
	}
	return q.items.Front().(*Message)
}

// Amount is the accumulated byte weight of all queued items.
func (q *ByteQueue) Amount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.amount
}

// Size is the number of queued items.
func (q *ByteQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Full reports whether the accumulated size has reached the limit.
func (q *ByteQueue) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.amount >= q.limit
}
