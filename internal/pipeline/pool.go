package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"genomevault/internal/config"
	"genomevault/internal/models"
	"genomevault/internal/objectstore"
	"genomevault/internal/registry"
	"genomevault/internal/scanner"
	"genomevault/internal/telemetry"
	"genomevault/internal/tuner"
)

// Admission errors surfaced to the submitter.
var (
	ErrEmpty     = errors.New("upload is empty")
	ErrOversize  = errors.New("upload exceeds the size limit")
	ErrQueueFull = errors.New("intake queue is full")
)

type queueItem struct {
	id       string
	filename string
	data     []byte
}

// Pool drains the bounded intake queue with a fixed set of workers.
// Jobs run concurrently across workers, sequentially within a job.
type Pool struct {
	cfg      config.Config
	reg      *registry.Registry
	store    *objectstore.Store
	ids      *scanner.IDS
	aml      *scanner.AML
	analyzer Analyzer
	params   *tuner.Params
	log      *zap.SugaredLogger

	queue chan queueItem
	wg    sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// New wires the pool. analyzer may be nil, selecting SequenceStats.
func New(cfg config.Config, reg *registry.Registry, store *objectstore.Store, ids *scanner.IDS, aml *scanner.AML, analyzer Analyzer, params *tuner.Params, log *zap.SugaredLogger) *Pool {
	if analyzer == nil {
		analyzer = SequenceStats{}
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 64
	}
	return &Pool{
		cfg:      cfg,
		reg:      reg,
		store:    store,
		ids:      ids,
		aml:      aml,
		analyzer: analyzer,
		params:   params,
		log:      log,
		queue:    make(chan queueItem, depth),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	workers := p.params.Workers()
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for item := range p.queue {
				telemetry.QueueDepthGauge.Set(float64(len(p.queue)))
				p.runJob(item)
			}
		}()
	}
	p.log.Infow("worker pool started", "workers", workers, "queue_depth", cap(p.queue))
}

// Stop closes intake and waits for in-flight jobs to finish. Stage
// deadlines bound the wait.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Submit admits an upload: creates the job and enqueues it for
// execution. The data buffer is owned by the pipeline from here until
// finalize zeroes it.
func (p *Pool) Submit(filename string, data []byte) (string, error) {
	if len(data) == 0 {
		telemetry.JobsRejected.WithLabelValues("empty").Inc()
		return "", ErrEmpty
	}
	if int64(len(data)) > p.cfg.MaxInputBytes {
		telemetry.JobsRejected.WithLabelValues("oversize").Inc()
		return "", fmt.Errorf("%w: %d > %d bytes", ErrOversize, len(data), p.cfg.MaxInputBytes)
	}

	id := uuid.New().String()
	if _, err := p.reg.Create(id, filename, int64(len(data))); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		p.reg.Remove(id)
		telemetry.JobsRejected.WithLabelValues("queue_full").Inc()
		return "", ErrQueueFull
	}
	select {
	case p.queue <- queueItem{id: id, filename: filename, data: data}:
	default:
		p.reg.Remove(id)
		telemetry.JobsRejected.WithLabelValues("queue_full").Inc()
		return "", ErrQueueFull
	}

	telemetry.JobsSubmitted.Inc()
	telemetry.QueueDepthGauge.Set(float64(len(p.queue)))
	p.log.Infow("job submitted", "job_id", id, "filename", filename, "size", len(data))
	return id, nil
}

// RunJanitor deletes artifacts and retires jobs past the retention
// window, then prunes retired records. Blocks until ctx is done.
func (p *Pool) RunJanitor(ctx context.Context) {
	interval := p.cfg.JanitorInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Pool) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-p.cfg.RetentionPeriod)
	for _, id := range p.reg.TerminalBefore(cutoff) {
		state, err := p.reg.State(id)
		if err != nil {
			continue
		}
		has, err := p.store.HasArtifact(ctx, id)
		if err != nil {
			p.log.Warnw("retention check failed", "job_id", id, "err", err)
			continue
		}
		if has {
			proof, err := p.store.Delete(ctx, id)
			if err != nil {
				p.log.Warnw("retention deletion failed", "job_id", id, "err", err)
				continue
			}
			_ = p.reg.SetDeletionAt(id, proof.DeletionTimestamp)
			_ = p.reg.ClearArtifactRef(id)
		}
		if err := p.reg.Transition(id, state, models.StateRetainedDeleted); err != nil {
			p.log.Warnw("retire transition failed", "job_id", id, "err", err)
		}
	}
	if removed := p.reg.Prune(time.Now().Add(-2 * p.cfg.RetentionPeriod)); removed > 0 {
		p.log.Infow("pruned retired jobs", "count", removed)
	}
}
