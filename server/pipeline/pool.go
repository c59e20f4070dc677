package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
)

// Job is one pipeline run request queued on the pool.
type Job struct {
	Query     string
	ChannelID string
	Options   RunOptions
}

// Pool executes pipeline runs on a fixed set of workers. Runs execute
// concurrently and independently; the steps within one run stay
// strictly sequential because each run is owned by a single worker.
type Pool struct {
	runner *Runner
	jobs   chan Job
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewPool starts workers goroutines draining the job queue.
func NewPool(ctx context.Context, runner *Runner, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}
	p := &Pool{
		runner: runner,
		jobs:   make(chan Job, queueSize),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return p
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		if ctx.Err() != nil {
			slog.Warn("dropping queued pipeline job on shutdown",
				"worker", id, "channel_id", job.ChannelID)
			continue
		}
		if _, err := p.runner.Run(ctx, job.Query, job.ChannelID, job.Options); err != nil {
			slog.Error("pipeline run failed",
				"worker", id, "channel_id", job.ChannelID, "error", err)
		}
	}
}

// Enqueue queues a run without blocking. A full queue rejects the job;
// the caller decides whether that is worth reporting.
func (p *Pool) Enqueue(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return errors.New("pipeline pool is shut down")
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return errors.New("pipeline queue is full")
	}
}

// Shutdown stops accepting jobs and waits for in-flight runs to finish.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}
