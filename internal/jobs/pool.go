package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/stride-app/stride-api/internal/domain"
	"github.com/stride-app/stride-api/internal/platform/logger"
	"github.com/stride-app/stride-api/internal/store"
)

// PoolConfig holds configuration for the worker pool.
type PoolConfig struct {
	// WorkerCount determines how many concurrent workers poll for jobs
	WorkerCount int

	// PollInterval is how long an idle worker waits before asking the
	// store for work again
	PollInterval time.Duration

	// LeaseDuration is how long a claim holds off other workers. It must
	// comfortably exceed the slowest handler's runtime; a worker that dies
	// mid-job loses its claim after this long.
	LeaseDuration time.Duration
}

// DefaultPoolConfig returns a PoolConfig with reasonable defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		WorkerCount:   4,
		PollInterval:  2 * time.Second,
		LeaseDuration: 5 * time.Minute,
	}
}

// Pool runs a fixed set of workers that claim jobs from the persisted
// queue and execute them through the handler registry.
type Pool struct {
	store      store.JobStore
	registry   *Registry
	config     PoolConfig
	logger     *slog.Logger
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	workerBase string
}

// NewPool creates a new Pool. Worker identities are derived from the
// hostname so claims in the database are traceable to a process.
func NewPool(jobStore store.JobStore, registry *Registry, config PoolConfig, log *slog.Logger) *Pool {
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultPoolConfig().WorkerCount
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPoolConfig().PollInterval
	}
	if config.LeaseDuration <= 0 {
		config.LeaseDuration = DefaultPoolConfig().LeaseDuration
	}

	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		store:      jobStore,
		registry:   registry,
		config:     config,
		logger:     log.With("component", "worker_pool"),
		ctx:        ctx,
		cancelFunc: cancel,
		workerBase: host,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	p.logger.Info("starting worker pool",
		"worker_count", p.config.WorkerCount,
		"poll_interval", p.config.PollInterval,
		"lease_duration", p.config.LeaseDuration)

	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(fmt.Sprintf("%s-%d", p.workerBase, i))
	}
}

// Stop signals the workers to finish their current job and waits for them
// to exit.
func (p *Pool) Stop() {
	p.cancelFunc()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// worker claims and executes jobs until the pool shuts down. An empty
// queue backs the worker off for one poll interval.
func (p *Pool) worker(workerID string) {
	defer p.wg.Done()

	log := p.logger.With("worker_id", workerID)
	log.Debug("starting worker")

	for {
		select {
		case <-p.ctx.Done():
			log.Debug("stopping worker")
			return
		default:
		}

		job, err := p.store.Claim(p.ctx, workerID, p.config.LeaseDuration)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			log.Error("failed to claim job", "error", err)
			p.sleep()
			continue
		}

		if job == nil {
			p.sleep()
			continue
		}

		p.execute(workerID, job, log)
	}
}

// sleep pauses for the poll interval, waking early on shutdown.
func (p *Pool) sleep() {
	timer := time.NewTimer(p.config.PollInterval)
	defer timer.Stop()
	select {
	case <-p.ctx.Done():
	case <-timer.C:
	}
}

// execute runs one job attempt and records its outcome. The handler gets
// the lease duration as its deadline so a slow handler cannot outlive its
// claim and race a reclaiming worker.
func (p *Pool) execute(workerID string, job *domain.Job, log *slog.Logger) {
	log = log.With(
		"job_id", job.ID,
		"job_type", job.Type,
		"attempt", job.AttemptCount,
	)

	ctx, cancel := context.WithTimeout(context.Background(), p.config.LeaseDuration)
	defer cancel()
	ctx = logger.WithLogger(ctx, log)

	handler, ok := p.registry.Resolve(job.Type)
	if !ok {
		// Closed type set: nothing will ever handle this job.
		log.Error("no handler registered for job type")
		p.fail(ctx, job, workerID, fmt.Sprintf("no handler for job type %q", job.Type), true, log)
		return
	}

	log.Info("executing job")
	start := time.Now()
	err := handler.Handle(ctx, job)
	elapsed := time.Since(start)

	if err != nil {
		permanent := IsPermanent(err)
		log.Error("job execution failed",
			"error", err,
			"permanent", permanent,
			"duration", elapsed)
		p.fail(ctx, job, workerID, err.Error(), permanent, log)
		return
	}

	if err := p.store.Complete(ctx, job.ID, workerID); err != nil {
		log.Error("failed to mark job succeeded", "error", err)
		return
	}
	log.Info("job completed", "duration", elapsed)
}

func (p *Pool) fail(ctx context.Context, job *domain.Job, workerID string, errMsg string, permanent bool, log *slog.Logger) {
	if err := p.store.Fail(ctx, job.ID, workerID, errMsg, permanent); err != nil {
		log.Error("failed to record job failure", "error", err)
	}
}
