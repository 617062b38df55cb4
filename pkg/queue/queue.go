package queue

// Queue represents a bounded in-process queue used to decouple producers
// from slower consumers.
type Queue interface {
	Enqueue(item interface{}) error
	Dequeue() <-chan interface{}
	Size() int
}
