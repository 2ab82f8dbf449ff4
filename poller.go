package remotefile

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Poller runs named transfer tasks on cron schedules.
type Poller struct {
	cron       *cron.Cron
	log        *log.Logger
	runOnStart bool

	mu   sync.Mutex
	ctx  context.Context
	jobs []polledJob
	wg   sync.WaitGroup
	stop sync.Once
}

type polledJob struct {
	name string
	fn   func(context.Context) error
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithRunOnStart runs every task once in the background when the poller
// starts, in addition to its cron schedule.
func WithRunOnStart() PollerOption {
	return func(p *Poller) {
		p.runOnStart = true
	}
}

// WithPollerLogger sets the logger for schedule and task outcomes.
func WithPollerLogger(l *log.Logger) PollerOption {
	return func(p *Poller) {
		p.log = l
	}
}

// NewPoller creates an empty poller. Add tasks with Add, then call Start.
func NewPoller(opts ...PollerOption) *Poller {
	p := &Poller{
		cron: cron.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) logger() *log.Logger {
	if p.log != nil {
		return p.log
	}
	return log.Default()
}

// Add schedules a named task on a standard five-field cron expression. The
// expression is validated immediately.
func (p *Poller) Add(spec, name string, fn func(context.Context) error) error {
	job := func() {
		p.mu.Lock()
		ctx := p.ctx
		p.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}

		start := time.Now()
		if err := fn(ctx); err != nil {
			p.logger().Printf("[WARN] Task %s failed: %v", name, err)
			return
		}
		p.logger().Printf("Task %s completed in %v", name, time.Since(start))
	}

	if _, err := p.cron.AddFunc(spec, job); err != nil {
		return fmt.Errorf("failed to schedule task %s: %w", name, err)
	}
	p.logger().Printf("Scheduled task %s with cron %q", name, spec)

	p.mu.Lock()
	p.jobs = append(p.jobs, polledJob{name: name, fn: fn})
	p.mu.Unlock()
	return nil
}

// Start begins running scheduled tasks. The context is passed to every task
// invocation; cancelling it stops the poller.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx = ctx
	jobs := make([]polledJob, len(p.jobs))
	copy(jobs, p.jobs)
	p.mu.Unlock()

	if p.runOnStart {
		for _, j := range jobs {
			p.wg.Add(1)
			go func(j polledJob) {
				defer p.wg.Done()
				p.logger().Printf("Executing immediate run of task %s", j.name)
				if err := j.fn(ctx); err != nil {
					p.logger().Printf("[WARN] Immediate run of task %s failed: %v", j.name, err)
				}
			}(j)
		}
	}

	p.cron.Start()

	go func() {
		<-ctx.Done()
		p.Stop()
	}()
}

// Stop stops scheduling and waits for any running task to finish.
func (p *Poller) Stop() {
	p.stop.Do(func() {
		<-p.cron.Stop().Done()
		p.wg.Wait()
	})
}
