package media

import (
	"sync"

	"github.com/pkg/errors"
)

var ErrNoWorkers = errors.New("no media worker available")

// Scheduler places rooms on workers, round robin.
type Scheduler struct {
	mu      sync.Mutex
	workers []Worker
	next    int
}

func NewScheduler(workers ...Worker) *Scheduler {
	return &Scheduler{workers: workers}
}

// NextWorker returns the next worker in turn.
func (s *Scheduler) NextWorker() (Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.workers) == 0 {
		return nil, ErrNoWorkers
	}
	if s.next >= len(s.workers) {
		s.next = 0
	}
	w := s.workers[s.next]
	s.next = (s.next + 1) % len(s.workers)
	return w, nil
}

// Remove takes the worker out of the rotation.
func (s *Scheduler) Remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, w := range s.workers {
		if w.ID() == id {
			s.workers = append(s.workers[:i], s.workers[i+1:]...)
			if s.next > i {
				s.next--
			}
			return
		}
	}
}

// Has reports whether the worker is still in the rotation.
func (s *Scheduler) Has(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workers {
		if w.ID() == id {
			return true
		}
	}
	return false
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

func (s *Scheduler) Workers() []Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	workers := make([]Worker, len(s.workers))
	copy(workers, s.workers)
	return workers
}
