package tokenring

// Request is one wish of the process owner to enter the critical section.
// ID is its issuance order at that process, starting at 1.
type Request struct {
	ID uint64
}

// RequestQueue is a FIFO of pending requests. It is not safe for concurrent
// use; Process guards it with its own lock.
type RequestQueue struct {
	items []Request
}

func (q *RequestQueue) Push(r Request) {
	q.items = append(q.items, r)
}

// Pop removes and returns the oldest request, if any.
func (q *RequestQueue) Pop() (Request, bool) {
	if len(q.items) == 0 {
		return Request{}, false
	}
	r := q.items[0]
	q.items[0] = Request{}
	q.items = q.items[1:]
	return r, true
}

func (q *RequestQueue) Len() int {
	return len(q.items)
}
