package queue

// Queue is a FIFO backed by a growable ring buffer.
// It is not safe for concurrent use, callers must hold their own lock.
type Queue[T any] struct {
	count int // number of items inside this queue
	tail  int // index of the oldest item
	arr   []T
}

// creates a new queue with the given initial capacity
func NewQueue[T any](cap int) *Queue[T] {
	cap = zeroFallback(cap, 1)
	return &Queue[T]{arr: make([]T, cap)}
}

// Get the number of items in the queue
func (q *Queue[T]) Len() int {
	return q.count
}

// Write a new item at the end of the queue
func (q *Queue[T]) Enqueue(data T) {
	if q.count == len(q.arr) {
		q.grow()
	}
	q.arr[wrap(q.tail+q.count, len(q.arr))] = data
	q.count++
}

// Remove the earliest item from the queue, ok is false if the queue is empty
func (q *Queue[T]) Dequeue() (data T, ok bool) {
	if q.count == 0 {
		return data, false
	}
	data = q.arr[q.tail]
	var zero T
	q.arr[q.tail] = zero
	q.tail = wrap(q.tail+1, len(q.arr))
	q.count--
	return data, true
}

// DequeueN removes up to n of the earliest items, in order
func (q *Queue[T]) DequeueN(n int) []T {
	if n > q.count || n <= 0 {
		n = q.count
	}
	out := make([]T, n)
	for i := range out {
		out[i], _ = q.Dequeue()
	}
	return out
}

// grow the array that backs the queue
func (q *Queue[T]) grow() {
	newArr := make([]T, growCap(len(q.arr)))
	for i := 0; i < q.count; i++ {
		newArr[i] = q.arr[wrap(q.tail+i, len(q.arr))]
	}
	q.arr = newArr
	q.tail = 0
}

func growCap(prev int) int {
	if prev < 1024 {
		return 2 * prev
	}
	return int(float64(prev) * 1.25)
}

func wrap(n int, cap int) int {
	if n < 0 {
		return (cap - ((n * -1) % cap)) % cap
	}
	return n % cap
}

func zeroFallback[T comparable](v T, d T) T {
	var zeroValue T
	if v == zeroValue {
		return d
	}
	return v
}
