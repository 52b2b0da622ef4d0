package sentiment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MikoAlt/scrapqt/internal/metrics"
	"github.com/MikoAlt/scrapqt/internal/progress"
	"github.com/MikoAlt/scrapqt/internal/store"
)

// Runner-level sentinel errors.
var (
	// ErrAlreadyRunning is returned by Start while a job is in flight. Only
	// one analysis job may run at a time.
	ErrAlreadyRunning = errors.New("sentiment: analysis job already running")
	// ErrUnknownJob is returned when the job id does not match any run.
	ErrUnknownJob = errors.New("sentiment: unknown job")
)

// Status is a job lifecycle state.
type Status string

// Job states. Running is the only non-terminal state.
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Snapshot is a point-in-time view of a job. Counters are monotonic for the
// lifetime of the job; pollers never observe them decrease.
type Snapshot struct {
	JobID      string    `json:"job_id"`
	Status     Status    `json:"status"`
	Total      int64     `json:"total"`
	Processed  int64     `json:"processed"`
	Scored     int64     `json:"scored"`
	Errored    int64     `json:"errored"`
	Skipped    int64     `json:"skipped"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	LastError  string    `json:"last_error,omitempty"`
}

// ProductStore is the slice of the data store the runner needs.
type ProductStore interface {
	FetchUnscored(ctx context.Context, afterID int64, limit int) ([]store.Product, error)
	CountUnscored(ctx context.Context) (int64, error)
	ApplySentimentScore(ctx context.Context, productID int64, score float64) error
}

// RetryPolicy decides per-item retry behavior.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// CredentialValidator is implemented by scorers that can probe their
// credential up front. The runner validates before touching any rows.
type CredentialValidator interface {
	Validate(ctx context.Context) error
}

// IDGenerator mints job ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock abstracts time.Now for tests.
type Clock interface {
	Now() time.Time
}

// Config controls Runner behavior.
type Config struct {
	// BatchSize is how many unscored rows are fetched per cursor page
	// (default 50).
	BatchSize int
}

const defaultBatchSize = 50

// Runner owns the singleton analysis job. Start rejects overlap, Cancel
// requests cooperative shutdown, and Progress serves pollable snapshots for
// current and past runs.
type Runner struct {
	products ProductStore
	policy   RetryPolicy
	emitter  progress.Emitter
	ids      IDGenerator
	clock    Clock
	cfg      Config
	logger   *zap.Logger

	mu       sync.Mutex
	current  *job
	starting bool
	history  map[string]*job
}

type job struct {
	id     string
	scorer Scorer
	batch  int
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	snap Snapshot
}

// NewRunner constructs a Runner.
func NewRunner(
	products ProductStore,
	policy RetryPolicy,
	emitter progress.Emitter,
	ids IDGenerator,
	clock Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = NewExponentialRetryPolicy()
	}
	return &Runner{
		products: products,
		policy:   policy,
		emitter:  emitter,
		ids:      ids,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
		history:  make(map[string]*job),
	}
}

// Start begins a new analysis job with the given scorer and returns its id.
// batchSize <= 0 falls back to the configured default. If a job is already
// running it returns ErrAlreadyRunning. The credential is validated before
// any row is read, so a bad key never produces a half-scored table.
func (r *Runner) Start(ctx context.Context, scorer Scorer, batchSize int) (string, error) {
	// Reserve the singleton slot first, then do the slow work (credential
	// probe, count query) outside the lock so Progress and Cancel for past
	// jobs never wait on a sluggish provider.
	if err := r.reserve(); err != nil {
		return "", err
	}
	committed := false
	defer func() {
		if !committed {
			r.release()
		}
	}()

	if v, ok := scorer.(CredentialValidator); ok {
		if err := v.Validate(ctx); err != nil {
			return "", fmt.Errorf("validate credential: %w", err)
		}
	}

	id, err := r.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}

	total, err := r.products.CountUnscored(ctx)
	if err != nil {
		return "", fmt.Errorf("count unscored products: %w", err)
	}

	if batchSize <= 0 {
		batchSize = r.cfg.BatchSize
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:     id,
		scorer: scorer,
		batch:  batchSize,
		cancel: cancel,
		done:   make(chan struct{}),
		snap: Snapshot{
			JobID:     id,
			Status:    StatusRunning,
			Total:     total,
			StartedAt: r.clock.Now(),
		},
	}
	r.mu.Lock()
	r.current = j
	r.history[id] = j
	r.starting = false
	r.mu.Unlock()
	committed = true

	r.emit(progress.Event{
		JobID: id,
		TS:    r.clock.Now(),
		Stage: progress.StageJobStart,
		Total: total,
	})
	r.logger.Info("analysis job started",
		zap.String("job_id", id), zap.Int64("unscored", total))

	go r.run(jobCtx, j)
	return id, nil
}

// reserve claims the singleton slot when no job is running or mid-start.
func (r *Runner) reserve() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.starting {
		return ErrAlreadyRunning
	}
	if r.current != nil {
		select {
		case <-r.current.done:
		default:
			return ErrAlreadyRunning
		}
	}
	r.starting = true
	return nil
}

func (r *Runner) release() {
	r.mu.Lock()
	r.starting = false
	r.mu.Unlock()
}

// Progress returns the snapshot for a current or past job.
func (r *Runner) Progress(jobID string) (Snapshot, error) {
	r.mu.Lock()
	j, ok := r.history[jobID]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrUnknownJob
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snap, nil
}

// Cancel requests cooperative cancellation of a running job. Cancelling an
// already-finished job is a no-op; items scored before the request keep
// their scores.
func (r *Runner) Cancel(jobID string) error {
	r.mu.Lock()
	j, ok := r.history[jobID]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}
	j.cancel()
	return nil
}

// Wait blocks until the current job (if any) finishes or ctx expires.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	j := r.current
	r.mu.Unlock()
	if j == nil {
		return nil
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for analysis job: %w", ctx.Err())
	}
}

func (r *Runner) run(ctx context.Context, j *job) {
	defer close(j.done)

	status, lastErr := r.process(ctx, j)

	j.mu.Lock()
	j.snap.Status = status
	j.snap.FinishedAt = r.clock.Now()
	if lastErr != nil {
		j.snap.LastError = lastErr.Error()
	}
	snap := j.snap
	j.mu.Unlock()

	metrics.ObserveSentimentJob(string(status))
	r.emit(progress.Event{
		JobID:     j.id,
		TS:        r.clock.Now(),
		Stage:     progress.StageJobDone,
		Processed: snap.Processed,
		Total:     snap.Total,
		Status:    string(status),
		Note:      snap.LastError,
	})
	r.logger.Info("analysis job finished",
		zap.String("job_id", j.id),
		zap.String("status", string(status)),
		zap.Int64("processed", snap.Processed),
		zap.Int64("scored", snap.Scored),
		zap.Int64("errored", snap.Errored),
		zap.Int64("skipped", snap.Skipped))
}

// process walks the unscored rows with a keyset cursor so concurrently
// inserted products do not shift the page window.
func (r *Runner) process(ctx context.Context, j *job) (Status, error) {
	var afterID int64
	var lastErr error
	for {
		if ctx.Err() != nil {
			return StatusCancelled, nil
		}
		batch, err := r.products.FetchUnscored(ctx, afterID, j.batch)
		if err != nil {
			if ctx.Err() != nil {
				return StatusCancelled, nil
			}
			return StatusFailed, fmt.Errorf("fetch unscored products: %w", err)
		}
		if len(batch) == 0 {
			return StatusCompleted, lastErr
		}
		for _, p := range batch {
			if ctx.Err() != nil {
				return StatusCancelled, nil
			}
			afterID = p.ID
			outcome, err := r.processItem(ctx, j, p)
			if err != nil {
				switch {
				case errors.Is(err, ErrInvalidCredential):
					// Key revoked mid-run. Abort rather than burn through
					// the rest of the table.
					return StatusFailed, err
				case ctx.Err() != nil:
					return StatusCancelled, nil
				default:
					lastErr = err
				}
			}
			r.recordItem(j, outcome, err)
		}
	}
}

func (r *Runner) processItem(ctx context.Context, j *job, p store.Product) (progress.Outcome, error) {
	text := scoreText(p)
	if text == "" {
		return progress.OutcomeSkipped, nil
	}

	judgment, err := r.scoreWithRetry(ctx, j.scorer, text)
	if err != nil {
		return progress.OutcomeErrored, fmt.Errorf("score product %d: %w", p.ID, err)
	}

	if err := r.products.ApplySentimentScore(ctx, p.ID, judgment.Score); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Row deleted since the cursor read it.
			return progress.OutcomeSkipped, nil
		}
		return progress.OutcomeErrored, fmt.Errorf("persist score for product %d: %w", p.ID, err)
	}
	return progress.OutcomeScored, nil
}

func (r *Runner) scoreWithRetry(ctx context.Context, scorer Scorer, text string) (Judgment, error) {
	for attempt := 0; ; attempt++ {
		judgment, err := scorer.Score(ctx, text)
		if err == nil {
			return judgment, nil
		}
		if !r.policy.ShouldRetry(err, attempt+1) {
			return Judgment{}, err
		}
		metrics.ObserveProviderRetry()
		backoff := r.policy.Backoff(attempt)
		r.logger.Debug("retrying provider call",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return Judgment{}, fmt.Errorf("retry wait: %w", ctx.Err())
		}
	}
}

func (r *Runner) recordItem(j *job, outcome progress.Outcome, itemErr error) {
	j.mu.Lock()
	j.snap.Processed++
	switch outcome {
	case progress.OutcomeScored:
		j.snap.Scored++
	case progress.OutcomeErrored:
		j.snap.Errored++
	case progress.OutcomeSkipped:
		j.snap.Skipped++
	}
	if itemErr != nil {
		j.snap.LastError = itemErr.Error()
	}
	processed := j.snap.Processed
	total := j.snap.Total
	j.mu.Unlock()

	metrics.ObserveSentimentItem(string(outcome))
	evt := progress.Event{
		JobID:     j.id,
		TS:        r.clock.Now(),
		Stage:     progress.StageItemDone,
		Outcome:   outcome,
		Processed: processed,
		Total:     total,
	}
	if itemErr != nil {
		evt.Note = itemErr.Error()
	}
	r.emit(evt)
}

func (r *Runner) emit(evt progress.Event) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(evt)
}

// scoreText assembles the text scored for a product. Title plus description,
// whitespace-trimmed; products with neither are skipped.
func scoreText(p store.Product) string {
	return strings.TrimSpace(strings.TrimSpace(p.Title) + " " + strings.TrimSpace(p.Description))
}
