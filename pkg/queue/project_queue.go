package queue

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/program-crawler/pkg/models"
)

// ProjectQueue is a FIFO of projects waiting to be crawled.
// Safe for concurrent producers; the orchestrator is the single consumer.
type ProjectQueue struct {
	items  []models.Project
	head   int
	mu     sync.Mutex
	closed bool
	log    *logrus.Entry
}

// NewProjectQueue creates an empty queue, optionally seeded with projects in order
func NewProjectQueue(log *logrus.Entry, projects ...models.Project) *ProjectQueue {
	q := &ProjectQueue{log: log}
	q.items = append(q.items, projects...)
	return q
}

// Push appends a project to the back of the queue.
// Returns false if the queue has been closed.
func (q *ProjectQueue) Push(p models.Project) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.log.Warnf("Attempted to push project to closed queue: %s", p.ID)
		return false
	}
	q.items = append(q.items, p)
	return true
}

// PopFront removes and returns the oldest project. ok is false when the queue is empty.
func (q *ProjectQueue) PopFront() (models.Project, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.items) {
		return models.Project{}, false
	}
	p := q.items[q.head]
	q.items[q.head] = models.Project{}
	q.head++

	// Compact once the consumed prefix dominates the backing array
	if q.head > 64 && q.head*2 >= len(q.items) {
		q.items = append([]models.Project(nil), q.items[q.head:]...)
		q.head = 0
	}
	return p, true
}

// Close rejects further pushes. Already queued projects can still be popped.
func (q *ProjectQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Len returns the number of projects still waiting
func (q *ProjectQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
