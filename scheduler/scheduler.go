// Package scheduler runs delayed, periodic and immediate tasks on a fixed
// pool of worker goroutines.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler executes tasks asynchronously.
type Scheduler interface {
	// Schedule runs task once after delay.
	Schedule(task func(), delay time.Duration) Future
	// ScheduleWithFixedDelay runs task after initialDelay and then again
	// period after each run completes, until cancelled.
	ScheduleWithFixedDelay(task func(), initialDelay, period time.Duration) Future
	// Submit runs task as soon as a worker is free.
	Submit(task func()) Future
}

// Future is the handle of a scheduled task.
type Future interface {
	// Cancel prevents future runs of the task and reports whether this call
	// cancelled it. A run already in progress is not interrupted.
	Cancel() bool
	// IsCancelled reports whether Cancel was called.
	IsCancelled() bool
}

type future struct {
	mu        sync.Mutex
	timer     *time.Timer
	cancelled atomic.Bool
}

func (f *future) Cancel() bool {
	if !f.cancelled.CompareAndSwap(false, true) {
		return false
	}
	f.mu.Lock()
	if f.timer != nil {
		f.timer.Stop()
	}
	f.mu.Unlock()
	return true
}

func (f *future) IsCancelled() bool {
	return f.cancelled.Load()
}

func (f *future) arm(d time.Duration, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelled.Load() {
		return
	}
	f.timer = time.AfterFunc(d, fn)
}

type job struct {
	run    func()
	future *future
}

// Config controls the worker pool size.
type Config struct {
	Workers   int
	QueueSize int
}

// DefaultConfig returns a pool of four workers with a 256 task queue.
func DefaultConfig() *Config {
	return &Config{
		Workers:   4,
		QueueSize: 256,
	}
}

// WorkerPool is a Scheduler backed by a fixed number of goroutines.
type WorkerPool struct {
	config  *Config
	jobs    chan job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
}

// NewWorkerPool creates a pool. Call Start before scheduling tasks.
func NewWorkerPool(config *Config) *WorkerPool {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		config: config,
		jobs:   make(chan job, config.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (p *WorkerPool) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "WorkerPool.Start",
		"workers":  p.config.Workers,
		"queue":    p.config.QueueSize,
	}).Info("Starting scheduler worker pool")

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop cancels every pending task and waits for running tasks to return.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "WorkerPool.Stop",
	}).Info("Scheduler worker pool stopped")
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.jobs:
			if j.future.IsCancelled() {
				continue
			}
			p.runJob(id, j)
		}
	}
}

func (p *WorkerPool) runJob(id int, j job) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "WorkerPool.runJob",
				"worker":   id,
				"panic":    r,
			}).Error("Scheduled task panicked")
		}
	}()
	j.run()
}

// enqueue hands j to the workers, blocking until there is room or the pool
// stops.
func (p *WorkerPool) enqueue(j job) {
	select {
	case p.jobs <- j:
	case <-p.ctx.Done():
		j.future.Cancel()
	}
}

func (p *WorkerPool) stopped() bool {
	return p.ctx.Err() != nil
}

func (p *WorkerPool) rejected() Future {
	logrus.WithFields(logrus.Fields{
		"function": "WorkerPool",
	}).Warn("Task rejected by stopped scheduler")
	f := &future{}
	f.cancelled.Store(true)
	return f
}

// Schedule implements Scheduler.
func (p *WorkerPool) Schedule(task func(), delay time.Duration) Future {
	if p.stopped() {
		return p.rejected()
	}

	f := &future{}
	f.arm(delay, func() {
		p.enqueue(job{run: task, future: f})
	})
	return f
}

// ScheduleWithFixedDelay implements Scheduler.
func (p *WorkerPool) ScheduleWithFixedDelay(task func(), initialDelay, period time.Duration) Future {
	if p.stopped() {
		return p.rejected()
	}

	f := &future{}
	var fire func()
	fire = func() {
		p.enqueue(job{future: f, run: func() {
			defer f.arm(period, fire)
			task()
		}})
	}
	f.arm(initialDelay, fire)
	return f
}

// Submit implements Scheduler.
func (p *WorkerPool) Submit(task func()) Future {
	if p.stopped() {
		return p.rejected()
	}

	f := &future{}
	j := job{run: task, future: f}
	select {
	case p.jobs <- j:
	default:
		go p.enqueue(j)
	}
	return f
}
