package jobs

import (
	"context"
	"sync"
	"time"
)

// Pool runs one Worker per registered queue processor.
type Pool struct {
	pollInterval time.Duration
	processors   []*QueueProcessor
	workers      []*Worker
	wg           sync.WaitGroup
}

func NewPool(pollInterval time.Duration) *Pool {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Pool{pollInterval: pollInterval}
}

// Register adds a processor for cfg.Queue backed by handler.
func (p *Pool) Register(broker Broker, handler Handler, cfg ProcessorConfig) *QueueProcessor {
	proc := NewQueueProcessor(broker, handler, cfg)
	p.processors = append(p.processors, proc)
	p.workers = append(p.workers, NewWorker(cfg.Queue, proc, p.pollInterval))
	return proc
}

func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Start(ctx)
		}(w)
	}
}

// Stop halts polling and waits for in-flight jobs to return.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.Stop()
	}
	p.wg.Wait()
	for _, proc := range p.processors {
		proc.Wait()
	}
}
