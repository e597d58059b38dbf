// Package pool schedules scrapers onto a bounded set of worker
// goroutines with cooperative cancellation.
package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/qwattash/cheri-dwarf-scanner/internal/scraper"
)

// Job is one schedulable scrape. InitSchema runs on the worker before
// Run; Result is collected whether or not Run failed.
type Job interface {
	InitSchema() error
	Run(ctx context.Context) error
	Result() scraper.Result
}

// Future resolves with a job's summary once it completes, fails or is
// dropped by Cancel.
type Future struct {
	done chan struct{}
	res  scraper.Result
	err  error
}

// Wait blocks until the job completes and returns its summary. The
// error is non-nil when the job failed or was dropped before running.
func (f *Future) Wait() (scraper.Result, error) {
	<-f.done
	return f.res, f.err
}

type task struct {
	job Job
	fut *Future
}

// Pool is a fixed-size worker pool.
type Pool struct {
	jobs    chan task
	workers sync.WaitGroup
	pending sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	log     logrus.FieldLogger
}

// New starts a pool with the given number of workers.
func New(workers int, log logrus.FieldLogger) *Pool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		jobs:   make(chan task),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
	for i := 0; i < workers; i++ {
		p.workers.Add(1)
		go p.worker()
	}
	return p
}

// Schedule queues a job and returns its future. Schedule never blocks;
// jobs still queued when Cancel is called resolve with the
// cancellation error without running.
func (p *Pool) Schedule(j Job) *Future {
	fut := &Future{done: make(chan struct{})}
	p.pending.Add(1)
	go func() {
		select {
		case p.jobs <- task{job: j, fut: fut}:
		case <-p.ctx.Done():
			fut.err = p.ctx.Err()
			close(fut.done)
			p.pending.Done()
		}
	}()
	return fut
}

// Wait blocks until every scheduled job has resolved.
func (p *Pool) Wait() { p.pending.Wait() }

// Cancel drops queued jobs and signals running jobs through their
// context. Running scrapers observe the token at CU boundaries and
// return their partial summary.
func (p *Pool) Cancel() { p.cancel() }

// Close waits for scheduled work and shuts the workers down. The pool
// cannot be used afterwards.
func (p *Pool) Close() {
	p.pending.Wait()
	close(p.jobs)
	p.workers.Wait()
	p.cancel()
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for t := range p.jobs {
		p.runJob(t)
	}
}

func (p *Pool) runJob(t task) {
	defer p.pending.Done()
	defer close(t.fut.done)
	defer func() {
		if r := recover(); r != nil {
			t.fut.err = fmt.Errorf("scraper panic: %v", r)
		}
	}()

	// A job dequeued after Cancel counts as never started.
	if err := p.ctx.Err(); err != nil {
		t.fut.err = err
		return
	}

	if err := t.job.InitSchema(); err != nil {
		t.fut.err = err
		t.fut.res = t.job.Result()
		return
	}
	t.fut.err = t.job.Run(p.ctx)
	t.fut.res = t.job.Result()
	if t.fut.err != nil {
		p.log.WithError(t.fut.err).Errorf("scrape failed for %s", t.fut.res.Path)
	} else {
		p.log.Infof("scrape completed for %s", t.fut.res.Path)
	}
}
