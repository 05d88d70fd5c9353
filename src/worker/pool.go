package worker

import (
	"context"
	"log"
	"runtime"
	"sync"

	"screen-ocr-translate/src/pipeline"
)

// RunFunc processes one request, normally a bound pipeline.Process.
type RunFunc func(ctx context.Context, req pipeline.Request) (pipeline.Result, error)

// ResultCallback is invoked on completion from a worker goroutine.
// The event loop should pass a closure that posts back into the event loop safely.
type ResultCallback func(res pipeline.Result, err error)

// Pool is a fixed-size worker pool with a 1-slot input queue (strict back-pressure).
type Pool struct {
	run  RunFunc
	jobs chan job
	wg   sync.WaitGroup
	once sync.Once
}

type job struct {
	ctx context.Context
	req pipeline.Request
	cb  ResultCallback
}

// New creates a worker pool. Size defaults to NumCPU when size<=0. Queue is 1 slot.
func New(size int, run RunFunc) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &Pool{run: run, jobs: make(chan job, 1)}
	p.start(size)
	return p
}

func (p *Pool) start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				if err := j.ctx.Err(); err != nil {
					j.cb(pipeline.Result{}, err)
					continue
				}
				log.Printf("Worker: starting job for region %dx%d translate=%v", j.req.Region.Width, j.req.Region.Height, j.req.Translate)
				res, err := p.run(j.ctx, j.req)
				log.Printf("Worker: job done, clean=%d runes, err=%v", len([]rune(res.Clean)), err)
				j.cb(res, err)
			}
		}()
	}
}

// Submit enqueues a job if the single-slot queue is free. Returns false if dropped.
func (p *Pool) Submit(ctx context.Context, req pipeline.Request, cb ResultCallback) bool {
	select {
	case p.jobs <- job{ctx: ctx, req: req, cb: cb}:
		return true
	default:
		return false
	}
}

// Close stops the pool after draining current work. Safe to call twice.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.jobs) })
	p.wg.Wait()
}
