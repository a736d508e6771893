package jobs

import (
	"context"
	"log"
	"sync"
	"time"
)

// maxErrorBackoff caps the poll delay after consecutive ProcessJobs errors.
const maxErrorBackoff = 30 * time.Second

// JobProcessor defines the interface for processing jobs
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker drives a JobProcessor on a poll interval. Failing passes double the
// delay up to maxErrorBackoff; the first clean pass restores the interval.
type Worker struct {
	name         string
	processor    JobProcessor
	pollInterval time.Duration

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

func NewWorker(name string, processor JobProcessor, pollInterval time.Duration) *Worker {
	return &Worker{
		name:         name,
		processor:    processor,
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start runs one pass immediately and then polls until stopped. It blocks.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	defer close(w.doneChan)

	log.Printf("worker %s: started with poll interval %v", w.name, w.pollInterval)

	delay := w.pollInterval
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("worker %s: stopped, context cancelled", w.name)
			return
		case <-w.stopChan:
			log.Printf("worker %s: stopped, stop signal received", w.name)
			return
		case <-timer.C:
			delay = w.nextDelay(delay, w.process(ctx))
			timer.Reset(delay)
		}
	}
}

func (w *Worker) process(ctx context.Context) error {
	err := w.processor.ProcessJobs(ctx)
	if err != nil && ctx.Err() == nil {
		log.Printf("worker %s: error processing jobs: %v", w.name, err)
	}
	return err
}

func (w *Worker) nextDelay(current time.Duration, err error) time.Duration {
	if err == nil {
		return w.pollInterval
	}
	next := current * 2
	if next > maxErrorBackoff {
		next = maxErrorBackoff
	}
	if next < w.pollInterval {
		next = w.pollInterval
	}
	return next
}

// Stop ends the poll loop and waits for it. Safe to call more than once, or
// on a worker that never started.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})

	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return
	}
	<-w.doneChan
	log.Printf("worker %s: shutdown complete", w.name)
}
