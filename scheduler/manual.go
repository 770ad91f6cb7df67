package scheduler

import (
	"sort"
	"sync"
	"time"
)

// ManualScheduler is a Scheduler whose clock only moves when Advance is
// called. Tasks run synchronously on the goroutine calling Advance or
// RunPending, which makes timer driven code deterministic in tests.
type ManualScheduler struct {
	mu      sync.Mutex
	now     time.Duration
	seq     int
	pending []*manualTask
}

type manualTask struct {
	future
	seq    int
	due    time.Duration
	period time.Duration
	run    func()
}

// NewManualScheduler creates a manual scheduler at virtual time zero.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (m *ManualScheduler) add(task func(), delay, period time.Duration) Future {
	m.mu.Lock()
	defer m.mu.Unlock()

	if delay < 0 {
		delay = 0
	}
	m.seq++
	t := &manualTask{seq: m.seq, due: m.now + delay, period: period, run: task}
	m.pending = append(m.pending, t)
	return t
}

// Schedule implements Scheduler.
func (m *ManualScheduler) Schedule(task func(), delay time.Duration) Future {
	return m.add(task, delay, 0)
}

// ScheduleWithFixedDelay implements Scheduler.
func (m *ManualScheduler) ScheduleWithFixedDelay(task func(), initialDelay, period time.Duration) Future {
	return m.add(task, initialDelay, period)
}

// Submit implements Scheduler. The task runs on the next Advance or RunPending.
func (m *ManualScheduler) Submit(task func()) Future {
	return m.add(task, 0, 0)
}

// Now returns the virtual time elapsed since creation.
func (m *ManualScheduler) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of live one-shot and periodic tasks.
func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, t := range m.pending {
		if !t.IsCancelled() {
			n++
		}
	}
	return n
}

// NextDue returns the delay until the earliest live task, or false if none.
func (m *ManualScheduler) NextDue() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *manualTask
	for _, t := range m.pending {
		if t.IsCancelled() {
			continue
		}
		if next == nil || t.due < next.due {
			next = t
		}
	}
	if next == nil {
		return 0, false
	}
	return next.due - m.now, true
}

// RunPending runs every task due at the current virtual time.
func (m *ManualScheduler) RunPending() int {
	return m.Advance(0)
}

// Advance moves the virtual clock forward by d, running due tasks in due
// time order, and returns how many tasks ran.
func (m *ManualScheduler) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	ran := 0
	for {
		t := m.popDue(target)
		if t == nil {
			break
		}
		t.run()
		ran++
		if t.period > 0 && !t.IsCancelled() {
			m.mu.Lock()
			t.due = m.now + t.period
			m.pending = append(m.pending, t)
			m.mu.Unlock()
		}
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
	return ran
}

func (m *ManualScheduler) popDue(target time.Duration) *manualTask {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.pending[:0]
	for _, t := range m.pending {
		if !t.IsCancelled() {
			live = append(live, t)
		}
	}
	m.pending = live

	sort.SliceStable(m.pending, func(i, j int) bool {
		if m.pending[i].due != m.pending[j].due {
			return m.pending[i].due < m.pending[j].due
		}
		return m.pending[i].seq < m.pending[j].seq
	})

	if len(m.pending) == 0 || m.pending[0].due > target {
		return nil
	}

	t := m.pending[0]
	m.pending = m.pending[1:]
	if t.due > m.now {
		m.now = t.due
	}
	return t
}
