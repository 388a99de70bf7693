package queue

import (
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/program-crawler/pkg/models"
)

// testLogger returns a logger that discards output
func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func TestNewProjectQueue(t *testing.T) {
	q := NewProjectQueue(testLogger())
	if q.Len() != 0 {
		t.Errorf("New queue Len() = %d, want 0", q.Len())
	}
	if _, ok := q.PopFront(); ok {
		t.Error("PopFront() on empty queue returned ok=true")
	}
}

func TestProjectQueue_FIFOOrder(t *testing.T) {
	q := NewProjectQueue(testLogger(), models.Project{ID: "a"}, models.Project{ID: "b"})
	q.Push(models.Project{ID: "c"})

	for i, want := range []string{"a", "b", "c"} {
		p, ok := q.PopFront()
		if !ok {
			t.Fatalf("PopFront() #%d returned ok=false", i)
		}
		if p.ID != want {
			t.Errorf("PopFront() #%d = %q, want %q", i, p.ID, want)
		}
	}
	if _, ok := q.PopFront(); ok {
		t.Error("PopFront() after draining returned ok=true")
	}
}

func TestProjectQueue_InterleavedPushPop(t *testing.T) {
	q := NewProjectQueue(testLogger())
	var got []string
	for i := 0; i < 500; i++ {
		q.Push(models.Project{ID: fmt.Sprintf("p%d", i)})
		if i%3 == 0 {
			p, _ := q.PopFront()
			got = append(got, p.ID)
		}
	}
	for {
		p, ok := q.PopFront()
		if !ok {
			break
		}
		got = append(got, p.ID)
	}

	if len(got) != 500 {
		t.Fatalf("popped %d projects, want 500", len(got))
	}
	for i, id := range got {
		if want := fmt.Sprintf("p%d", i); id != want {
			t.Fatalf("position %d = %q, want %q", i, id, want)
		}
	}
}

func TestProjectQueue_Close(t *testing.T) {
	q := NewProjectQueue(testLogger(), models.Project{ID: "a"})
	q.Close()

	if q.Push(models.Project{ID: "b"}) {
		t.Error("Push() after Close returned true")
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
	if p, ok := q.PopFront(); !ok || p.ID != "a" {
		t.Errorf("PopFront() = %v, %v; want a, true", p.ID, ok)
	}
}

func TestProjectQueue_ConcurrentPush(t *testing.T) {
	q := NewProjectQueue(testLogger())
	const producers, each = 10, 50

	var wg sync.WaitGroup
	wg.Add(producers)
	for i := 0; i < producers; i++ {
		go func(n int) {
			defer wg.Done()
			for j := 0; j < each; j++ {
				q.Push(models.Project{ID: fmt.Sprintf("%d-%d", n, j)})
			}
		}(i)
	}
	wg.Wait()

	if q.Len() != producers*each {
		t.Errorf("Len() = %d, want %d", q.Len(), producers*each)
	}
}
