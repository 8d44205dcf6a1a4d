// Package bytequeue implements the growable FIFO byte buffer shared by the
// incremental parsers. Bytes are appended at the tail, inspected in place,
// and released from the head once a parser has consumed them.
package bytequeue

import "fmt"

const initialSize = 1024

// Queue is a sliding window over a single backing slice. The zero value is
// ready to use.
type Queue struct {
	buf  []byte
	off  int // start of unconsumed bytes
	used int // number of unconsumed bytes
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{buf: make([]byte, initialSize)}
}

// Len returns the number of unconsumed bytes.
func (q *Queue) Len() int {
	return q.used
}

// Push appends data to the tail of the queue.
func (q *Queue) Push(data []byte) {
	if len(data) == 0 {
		return
	}
	need := q.used + len(data)
	if q.off+need > len(q.buf) {
		if need <= len(q.buf) {
			// Enough room overall; slide the window back to the front.
			copy(q.buf, q.buf[q.off:q.off+q.used])
		} else {
			size := len(q.buf)
			if size == 0 {
				size = initialSize
			}
			for size < need {
				size *= 2
			}
			grown := make([]byte, size)
			copy(grown, q.buf[q.off:q.off+q.used])
			q.buf = grown
		}
		q.off = 0
	}
	copy(q.buf[q.off+q.used:], data)
	q.used += len(data)
}

// Peek returns the unconsumed bytes without copying. The slice is only
// valid until the next call to Push, Pop or Reset.
func (q *Queue) Peek() []byte {
	return q.buf[q.off : q.off+q.used : q.off+q.used]
}

// Pop releases n bytes from the head. Popping more than Len bytes is a
// programming error and panics.
func (q *Queue) Pop(n int) {
	if n < 0 || n > q.used {
		panic(fmt.Sprintf("bytequeue: pop %d of %d buffered bytes", n, q.used))
	}
	q.off += n
	q.used -= n
	if q.used == 0 {
		q.off = 0
	}
}

// Reset drops all buffered bytes, keeping the allocation.
func (q *Queue) Reset() {
	q.off = 0
	q.used = 0
}
