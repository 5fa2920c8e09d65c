package panel

import (
	"sync"
	"time"

	"github.com/nerrad567/panelsync/internal/slots"
)

// TaskKind distinguishes tasks that share a button.
type TaskKind string

const (
	// TaskRevert turns a momentary button off after release.
	TaskRevert TaskKind = "revert"
	// TaskSettle runs once a panel has had time to reconnect after a write.
	TaskSettle TaskKind = "settle"
)

// TaskKey identifies a scheduled task. Panel-wide tasks use Connector -1.
type TaskKey struct {
	PanelID   string
	Connector int
	Side      slots.Side
	Page      int
	Kind      TaskKind
}

type task struct {
	timer *time.Timer
	gen   uint64
}

// Scheduler runs delayed, cancelable tasks. Scheduling a key that is
// already pending replaces the pending task. A cancelled or replaced task
// never runs, even if its timer had already fired.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[TaskKey]*task
	gen    uint64
	closed bool
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[TaskKey]*task)}
}

// Schedule runs fn after delay unless the key is cancelled or rescheduled first.
func (s *Scheduler) Schedule(key TaskKey, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if old, ok := s.tasks[key]; ok {
		old.timer.Stop()
	}
	s.gen++
	gen := s.gen
	t := &task{gen: gen}
	t.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		cur, ok := s.tasks[key]
		if !ok || cur.gen != gen {
			s.mu.Unlock()
			return
		}
		delete(s.tasks, key)
		s.mu.Unlock()
		fn()
	})
	s.tasks[key] = t
}

// Cancel stops a pending task. It reports whether one was pending.
func (s *Scheduler) Cancel(key TaskKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, key)
	return true
}

// CancelPanel stops every pending task of a panel and returns how many there were.
func (s *Scheduler) CancelPanel(panelID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, t := range s.tasks {
		if k.PanelID == panelID {
			t.timer.Stop()
			delete(s.tasks, k)
			n++
		}
	}
	return n
}

// Pending reports whether key has a task waiting.
func (s *Scheduler) Pending(key TaskKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels everything and refuses new tasks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for k, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, k)
	}
}
