package handler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/pagesignal/models"
	"github.com/use-agent/pagesignal/scanner"
	"github.com/use-agent/pagesignal/webhook"
)

// ErrQueueFull is returned by Submit when no more jobs can be queued.
var ErrQueueFull = errors.New("scan queue is full")

// Runner executes one scan batch. *scanner.Scanner implements it.
type Runner interface {
	Run(ctx context.Context, targets []models.ScanTarget) (*scanner.Batch, error)
}

// Queue holds API scan jobs and runs them one at a time, since every batch
// owns the shared browser for its whole duration.
type Queue struct {
	runner        Runner
	webhookSecret string
	retention     time.Duration

	mu     sync.Mutex
	jobs   map[string]*models.ScanJob
	active string

	pending chan string
}

// NewQueue creates a Queue accepting up to size waiting jobs.
func NewQueue(runner Runner, webhookSecret string, size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{
		runner:        runner,
		webhookSecret: webhookSecret,
		retention:     time.Hour,
		jobs:          make(map[string]*models.ScanJob),
		pending:       make(chan string, size),
	}
}

// Submit queues a job. It never blocks.
func (q *Queue) Submit(job *models.ScanJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case q.pending <- job.ID:
		job.Status = models.JobQueued
		q.jobs[job.ID] = job
		return nil
	default:
		return ErrQueueFull
	}
}

// Get returns a snapshot of the job's current status.
func (q *Queue) Get(id string) (models.JobStatusResponse, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return models.JobStatusResponse{}, false
	}
	return job.StatusResponse(), true
}

// Stats returns the number of waiting jobs, the queue capacity and the
// running job's ID.
func (q *Queue) Stats() (queued, capacity int, active string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), cap(q.pending), q.active
}

// Start runs the worker until ctx is done. Finished jobs are dropped once
// older than the retention period.
func (q *Queue) Start(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.expire(time.Now().Add(-q.retention))
		case id := <-q.pending:
			q.run(ctx, id)
		}
	}
}

func (q *Queue) run(ctx context.Context, id string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	job.Status = models.JobProcessing
	q.active = id
	targets := job.Targets
	q.mu.Unlock()

	slog.Info("scan job started", "id", id, "targets", len(targets))
	batch, err := q.runner.Run(ctx, targets)

	q.mu.Lock()
	q.active = ""
	if batch != nil {
		job.Results = batch.Results
		job.Errors = batch.Errors
	}
	switch {
	case batch == nil:
		if err == nil {
			err = errors.New("scan produced no batch")
		}
		job.Status = models.JobFailed
		job.Error = &models.ErrorDetail{Code: models.ErrCodeBrowserCrash, Message: err.Error()}
		var se *models.ScanError
		if errors.As(err, &se) {
			job.Error = se.ToDetail()
		}
	case batch.Failed() == len(batch.Results):
		job.Status = models.JobFailed
	case batch.Failed() > 0:
		job.Status = models.JobPartial
	default:
		job.Status = models.JobCompleted
	}
	if batch != nil && err != nil {
		// A sink failure does not change the scan outcome.
		slog.Error("scan job sink failed", "id", id, "error", err)
	}
	job.FinishedAt = time.Now().Unix()
	status := job.StatusResponse()
	hookURL := job.WebhookURL
	q.mu.Unlock()

	slog.Info("scan job finished",
		"id", id,
		"status", status.Status,
		"succeeded", status.Succeeded,
		"failed", status.Failed,
		"total", status.Total,
	)

	if hookURL != "" {
		webhook.DeliverAsync(hookURL, q.webhookSecret, &webhook.Event{
			Type:      webhook.EventScanCompleted,
			JobID:     id,
			Timestamp: job.FinishedAt,
			Data:      status,
		}, nil)
	}
}

func (q *Queue) expire(cutoff time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, job := range q.jobs {
		if job.FinishedAt != 0 && job.FinishedAt < cutoff.Unix() {
			delete(q.jobs, id)
		}
	}
}
