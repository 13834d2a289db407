// Package batch digitizes directories of scanned intake forms: a bounded
// worker pool runs the extraction pipeline per file and a report builder
// collects the outcomes for review artifacts.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/duncanmillerza/hadada-intake/constants"
	"github.com/duncanmillerza/hadada-intake/internal/common"
	"github.com/duncanmillerza/hadada-intake/internal/pipeline"
)

// Job is one form image to digitize.
type Job struct {
	Path            string
	TemplateVersion string
}

// Outcome is the result of one job: a response or the error that stopped it.
type Outcome struct {
	Path     string
	Response *pipeline.Response
	Err      error
	Elapsed  time.Duration
}

// Runner runs one extraction attempt.
type Runner interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

// Sink receives outcomes as workers finish them. Record must be safe for
// concurrent use.
type Sink interface {
	Record(out Outcome)
}

// Queue fans jobs out to a fixed pool of workers. Workers start on
// construction and run until Shutdown closes the job channel.
type Queue struct {
	runner   Runner
	sink     Sink
	logger   *slog.Logger
	workers  int
	timeout  time.Duration
	maxBytes int64
	userRef  string

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithMaxFileBytes caps the readable file size; larger files fail their job
// without being read.
func WithMaxFileBytes(n int64) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxBytes = n
		}
	}
}

// WithUserRef sets the operator reference recorded on every audit event of
// the batch.
func WithUserRef(ref string) Option {
	return func(q *Queue) {
		q.userRef = ref
	}
}

func NewQueue(runner Runner, sink Sink, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		runner:  runner,
		sink:    sink,
		logger:  logger,
		workers: 4,
		timeout: 2 * time.Minute,
		ch:      make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("batch.worker.started", "worker_id", workerID)

				for job := range q.ch {
					out := q.runJob(job)
					q.sink.Record(out)

					if out.Err != nil {
						q.logger.Error("batch.job.failed",
							"worker_id", workerID,
							"path", job.Path,
							"error", out.Err,
						)
					} else {
						q.logger.Info("batch.job.ok",
							"worker_id", workerID,
							"path", job.Path,
							"overall_confidence", out.Response.Data.OverallConfidence,
							"elapsed_ms", out.Elapsed.Milliseconds(),
						)
					}
				}

				q.logger.Debug("batch.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *Queue) runJob(job Job) Outcome {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	resp, err := q.process(ctx, job)
	return Outcome{Path: job.Path, Response: resp, Err: err, Elapsed: time.Since(start)}
}

func (q *Queue) process(ctx context.Context, job Job) (*pipeline.Response, error) {
	ext := filepath.Ext(job.Path)
	if constants.MapExtToFormat(ext) == "" {
		return nil, fmt.Errorf("%w: extension %q", common.ErrUnsupportedFormat, ext)
	}
	info, err := os.Stat(job.Path)
	if err != nil {
		return nil, err
	}
	if q.maxBytes > 0 && info.Size() > q.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", common.ErrImageTooLarge, info.Size(), q.maxBytes)
	}
	data, err := os.ReadFile(job.Path)
	if err != nil {
		return nil, err
	}
	return q.runner.Process(ctx, pipeline.Request{
		ImageData:       data,
		TemplateVersion: job.TemplateVersion,
		UserIdentifier:  q.userRef,
	})
}

// Enqueue adds a job, blocking when the buffer is full. Jobs offered after
// Shutdown are dropped with a warning.
func (q *Queue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("batch.enqueue.rejected", "path", job.Path)
		return nil
	}
	select {
	case q.ch <- job:
	default:
		q.logger.Warn("batch.queue.full", "path", job.Path)
		q.ch <- job
	}
	return nil
}

// Shutdown stops intake and waits for the workers to drain, or until ctx
// expires.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("batch.shutdown.interrupted")
	case <-done:
		q.logger.Info("batch.drained")
	}
}
