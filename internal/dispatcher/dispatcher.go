// Package dispatcher drains due campaign queues: it claims a queue, resolves
// its audience, and sends to each pending recipient through the rate governor
// and the gateway, reserving each recipient's Message before it is sent.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"whatsapp-campaigns/internal/apperrors"
	"whatsapp-campaigns/internal/audience"
	"whatsapp-campaigns/internal/events"
	"whatsapp-campaigns/internal/metrics"
	"whatsapp-campaigns/internal/models"
	"whatsapp-campaigns/internal/ratelimit"
	"whatsapp-campaigns/internal/store"
	"whatsapp-campaigns/internal/templates"
	"whatsapp-campaigns/internal/whatsapp"
)

// Gateway is the outbound send call.
type Gateway interface {
	Send(ctx context.Context, req whatsapp.SendRequest) (whatsapp.SendResult, error)
}

// OptOutChecker answers whether a canonical phone is suppressed for a business.
type OptOutChecker interface {
	IsOptedOut(ctx context.Context, businessID uint, e164 string) (bool, error)
}

// ErrLeaseLost stops a pass whose queue lease was taken by another worker.
var ErrLeaseLost = errors.New("queue lease lost")

// Options tune a Dispatcher. The lease is renewed before every send and
// LeaseTTL is kept above SendTimeout. A send unconfirmed for longer than
// InFlightTimeout is failed as UNCONFIRMED.
type Options struct {
	WorkerID        string
	PollInterval    time.Duration
	LeaseTTL        time.Duration
	SendTimeout     time.Duration
	InFlightTimeout time.Duration
	QueuesPerRun    int
}

// Result summarizes one pass over one queue.
type Result struct {
	QueueID       uint
	Status        string
	Sent          int
	Failed        int
	Retrying      int
	Suppressed    int
	Deferred      int
	DeferredUntil *time.Time
}

type Dispatcher struct {
	store     *store.Store
	templates *templates.Registry
	audience  *audience.Resolver
	optOuts   OptOutChecker
	governor  *ratelimit.Governor
	gateway   Gateway
	events    events.Emitter
	log       *slog.Logger
	opts      Options
	now       func() time.Time

	mu        sync.Mutex
	audiences map[runKey][]audience.Recipient
}

type runKey struct {
	queueID uint
	run     int
}

func New(
	s *store.Store,
	registry *templates.Registry,
	resolver *audience.Resolver,
	optOuts OptOutChecker,
	governor *ratelimit.Governor,
	gateway Gateway,
	emitter events.Emitter,
	log *slog.Logger,
	opts Options,
) *Dispatcher {
	if opts.WorkerID == "" {
		opts.WorkerID = "worker-" + uuid.NewString()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 2 * time.Minute
	}
	if opts.LeaseTTL <= opts.SendTimeout {
		opts.LeaseTTL = 2 * opts.SendTimeout
	}
	if opts.InFlightTimeout <= 0 {
		opts.InFlightTimeout = 2 * opts.LeaseTTL
	}
	if opts.QueuesPerRun <= 0 {
		opts.QueuesPerRun = 10
	}
	if emitter == nil {
		emitter = events.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		store:     s,
		templates: registry,
		audience:  resolver,
		optOuts:   optOuts,
		governor:  governor,
		gateway:   gateway,
		events:    emitter,
		log:       log,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		audiences: map[runKey][]audience.Recipient{},
	}
}

// WithClock replaces the time source, for tests.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Run polls for due queues until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("dispatcher started", "worker_id", d.opts.WorkerID, "poll_interval", d.opts.PollInterval)
	defer d.log.Info("dispatcher stopped")

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.log.Error("dispatch pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce processes every queue that is due now, highest priority first.
func (d *Dispatcher) RunOnce(ctx context.Context) ([]Result, error) {
	if err := d.pruneAudiences(ctx); err != nil {
		d.log.Warn("prune audience cache", "error", err)
	}
	due, err := d.store.DueQueues(ctx, d.now(), d.opts.QueuesPerRun)
	if err != nil {
		return nil, fmt.Errorf("list due queues: %w", err)
	}
	var results []Result
	for _, q := range due {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res, err := d.ProcessQueue(ctx, q.ID)
		if errors.Is(err, ErrLeaseLost) {
			d.log.Warn("queue lease lost mid pass", "queue_id", q.ID, "sent", res.Sent)
			continue
		}
		if err != nil {
			d.log.Error("queue pass failed", "queue_id", q.ID, "error", err)
			continue
		}
		if res.Status != "" {
			results = append(results, res)
		}
	}
	return results, nil
}

// ProcessQueue claims one queue and runs a pass over it. A queue leased by
// another worker yields an empty Result.
func (d *Dispatcher) ProcessQueue(ctx context.Context, queueID uint) (Result, error) {
	owner := d.opts.WorkerID
	claimed, err := d.store.ClaimQueue(ctx, queueID, owner, d.now(), d.opts.LeaseTTL)
	if err != nil {
		return Result{}, fmt.Errorf("claim queue %d: %w", queueID, err)
	}
	if !claimed {
		d.log.Debug("queue leased elsewhere", "queue_id", queueID)
		return Result{}, nil
	}

	p := &pass{d: d, owner: owner, result: Result{QueueID: queueID}, release: map[string]any{}}
	err = p.run(ctx, queueID)

	// release on a fresh context so shutdown does not strand the lease
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if relErr := d.store.ReleaseQueue(releaseCtx, queueID, owner, p.release); relErr != nil {
		d.log.Error("release queue lease", "queue_id", queueID, "error", relErr)
	}
	if p.result.Status != "" {
		metrics.IncQueuePass(p.result.Status)
	}
	return p.result, err
}

func (d *Dispatcher) cachedAudience(key runKey) ([]audience.Recipient, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.audiences[key]
	return r, ok
}

func (d *Dispatcher) cacheAudience(key runKey, recipients []audience.Recipient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.audiences[key] = recipients
}

func (d *Dispatcher) forgetAudience(queueID uint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k := range d.audiences {
		if k.queueID == queueID {
			delete(d.audiences, k)
		}
	}
}

// pruneAudiences drops cached audiences of queues that were deleted,
// finished, or moved on to another run.
func (d *Dispatcher) pruneAudiences(ctx context.Context) error {
	d.mu.Lock()
	keys := make([]runKey, 0, len(d.audiences))
	ids := make([]uint, 0, len(d.audiences))
	for k := range d.audiences {
		keys = append(keys, k)
		ids = append(ids, k.queueID)
	}
	d.mu.Unlock()
	if len(keys) == 0 {
		return nil
	}

	live, err := d.store.LiveRuns(ctx, ids)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range keys {
		if run, ok := live[k.queueID]; !ok || run != k.run {
			delete(d.audiences, k)
		}
	}
	return nil
}

func isConfigError(err error) bool {
	return apperrors.IsValidation(err) || apperrors.IsNotFound(err)
}

var _ OptOutChecker = (*store.Store)(nil)

func statusOf(res whatsapp.SendResult) string {
	if res.Accepted() {
		return models.MessageQueued
	}
	return models.MessageSent
}
