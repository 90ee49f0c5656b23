package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/filingsum/internal/analysis"
	"github.com/dgallion1/filingsum/internal/config"
	"github.com/dgallion1/filingsum/internal/parser"
	"github.com/dgallion1/filingsum/internal/store"
)

// Orchestrator manages the filing analysis pipeline.
type Orchestrator struct {
	jobs       *JobStore
	queue      chan *Job
	dispatcher *analysis.Dispatcher
	store      *store.Store
	log        *slog.Logger
	cfg        config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex // guards stopped and sends on queue
	stopped bool
}

// ErrStopped is returned by Submit once the pipeline is shutting down.
var ErrStopped = errors.New("pipeline is stopped")

// NewOrchestrator creates the pipeline. Call Start to launch workers.
func NewOrchestrator(cfg config.Config, d *analysis.Dispatcher, st *store.Store, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:       NewJobStore(cfg.JobTTL),
		queue:      make(chan *Job, cfg.MaxQueueSize),
		dispatcher: d,
		store:      st,
		log:        log,
		cfg:        cfg,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := NewWorker(o.dispatcher, o.store, o.log, o.ParserOptions())
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					o.run(workerCtx, w, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

func (o *Orchestrator) run(ctx context.Context, w *Worker, job *Job) {
	if o.cfg.AnalysisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.AnalysisTimeout)
		defer cancel()
	}
	w.Process(ctx, job)
}

// Stop gracefully shuts down the pipeline. It is safe to call more than once.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.mu.Unlock()
	o.wg.Wait()
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		job.SetStatus(StatusFailed, "stopped")
		return ErrStopped
	}
	select {
	case o.queue <- job:
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("job queue is full (%d)", o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Dispatcher returns the shared dispatcher for direct use by API handlers.
func (o *Orchestrator) Dispatcher() *analysis.Dispatcher {
	return o.dispatcher
}

// Store returns the result cache, or nil when caching is disabled.
func (o *Orchestrator) Store() *store.Store {
	return o.store
}

// ParserOptions returns the parser settings derived from config.
func (o *Orchestrator) ParserOptions() parser.Options {
	return parser.Options{PDFFallbackPdftotext: o.cfg.PDFFallbackPdftotext}
}
