package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"reel/internal/catalog"
	"reel/internal/failure"
	"reel/internal/job"
	"reel/internal/metric"
	"reel/internal/pipeline"
	"reel/internal/progress"
	"reel/internal/queue"
	"reel/internal/status"
	"reel/internal/storage"
	"reel/internal/tracing"
)

type Config struct {
	Queue        string
	Concurrency  int
	PollInterval time.Duration
	RetryDelay   time.Duration
	SoftLimit    time.Duration
	HardLimit    time.Duration
	WorkDir      string
	Hostname     string
}

func DefaultConfig() Config {
	return Config{
		Queue:        queue.JobQueue,
		Concurrency:  2,
		PollInterval: 5 * time.Second,
		RetryDelay:   60 * time.Second,
		SoftLimit:    time.Hour,
		HardLimit:    2 * time.Hour,
		WorkDir:      filepath.Join(os.TempDir(), "reel"),
	}
}

// Backoff is the delay before retry number n, starting at 1.
func Backoff(base time.Duration, n int) time.Duration {
	return base * time.Duration(n)
}

type Runner interface {
	Run(ctx context.Context, a pipeline.Attempt) (*pipeline.Output, error)
}

// Pool runs queued jobs with bounded parallelism and owns every job state
// transition after submission.
type Pool struct {
	cfg     Config
	channel queue.Channel
	status  *status.Store
	catalog catalog.Catalog
	runner  Runner
	metric  metric.Client

	started   *metric.CounterMetric
	completed *metric.CounterMetric
	failed    *metric.CounterMetric
	retried   *metric.CounterMetric
	running   *metric.GaugeMetric
}

func NewPool(cfg Config, channel queue.Channel, statusStore *status.Store, cat catalog.Catalog, runner Runner, metricClient metric.Client) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	if metricClient == nil {
		metricClient = &metric.Null{}
	}

	tags := metric.Tags{"hostname": cfg.Hostname}

	p := &Pool{
		cfg:       cfg,
		channel:   channel,
		status:    statusStore,
		catalog:   cat,
		runner:    runner,
		metric:    metricClient,
		started:   metric.NewCounter("reel_worker_jobs_total", tags),
		completed: metric.NewCounter("reel_worker_jobs_completed", tags),
		failed:    metric.NewCounter("reel_worker_jobs_failed", tags),
		retried:   metric.NewCounter("reel_worker_jobs_retried", tags),
		running:   metric.NewGauge("reel_worker_jobs_running", tags),
	}

	for _, m := range []metric.Metric{p.started, p.completed, p.failed, p.retried, p.running} {
		metricClient.Add(m)
	}

	return p
}

// Run consumes jobs until ctx is done, then waits for running attempts to
// hand their job back.
func (p *Pool) Run(ctx context.Context) error {
	if err := p.channel.CreateQueue(p.cfg.Queue); err != nil {
		return errors.Wrapf(err, "unable to create queue '%s'", p.cfg.Queue)
	}

	if err := os.MkdirAll(p.cfg.WorkDir, os.ModePerm); err != nil {
		return errors.Wrapf(err, "unable to create work dir '%s'", p.cfg.WorkDir)
	}

	log.WithFields(log.Fields{
		"concurrency": p.cfg.Concurrency,
		"queue":       p.cfg.Queue,
	}).Info("worker pool started")

	var wg sync.WaitGroup

	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}

	wg.Wait()

	log.Info("worker pool stopped")

	return nil
}

func (p *Pool) loop(ctx context.Context, id int) {
	logger := log.WithField("worker", id)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		default:
			var req queue.JobRequest
			ok, delivery, err := p.channel.Consume(p.cfg.Queue, &req)

			if err != nil {
				logger.WithError(err).Errorf("unable to consume %s", p.cfg.Queue)
				sleep(ctx, p.cfg.PollInterval)
				continue
			}

			if !ok {
				sleep(ctx, p.cfg.PollInterval)
				continue
			}

			p.handle(ctx, logger.WithField("job", req.JobID), req, delivery)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (p *Pool) handle(ctx context.Context, logger log.FieldLogger, req queue.JobRequest, delivery queue.Delivery) {
	if wait := time.Until(req.NotBefore); wait > 0 {
		p.postpone(ctx, logger, req, delivery, wait)
		return
	}

	j, err := p.status.Get(req.JobID)

	if errors.Is(err, status.ErrNotFound) {
		logger.Warn("unknown job, dropped")
		p.settle(logger, delivery, false)
		return
	}

	if err != nil {
		logger.WithError(err).Error("unable to load job")
		p.settle(logger, delivery, true)
		sleep(ctx, p.cfg.PollInterval)
		return
	}

	if req.Attempt < j.RetryCount {
		logger.WithFields(log.Fields{
			"attempt": req.Attempt,
			"retry":   j.RetryCount,
		}).Info("stale job request, dropped")
		p.ack(logger, delivery)
		return
	}

	switch j.State {
	case job.Queued:
	case job.Processing:
		// a previous process died mid attempt
		_ = j.Interrupt()
	default:
		logger.WithField("state", j.State).Info("job not queued, skipped")
		p.ack(logger, delivery)
		return
	}

	latest, err := p.status.Latest(j.OwnerID)

	switch {
	case errors.Is(err, status.ErrNotFound):
		_ = j.MarkFailed(errors.New("withdrawn"))
	case err == nil && latest != j.ID:
		_ = j.MarkFailed(errors.Errorf("superseded by %s", latest))
	}

	if j.State == job.Failed {
		p.save(logger, j)
		logger.WithField("reason", j.Error).Info("job not current, skipped")
		p.ack(logger, delivery)
		return
	}

	p.attempt(tracing.Extract(ctx, req.Trace), logger, j, delivery)
}

func (p *Pool) attempt(ctx context.Context, logger log.FieldLogger, j *job.Job, delivery queue.Delivery) {
	if err := j.MarkProcessing(); err != nil {
		logger.WithError(err).Error("unable to start attempt")
		p.ack(logger, delivery)
		return
	}

	p.save(logger, j)
	p.setCatalog(ctx, logger, j, catalog.Update{State: catalog.StateProcessing})

	workDir := filepath.Join(p.cfg.WorkDir, j.ID)
	_ = os.RemoveAll(workDir)

	p.started.Inc()
	p.running.Add(1)
	defer p.running.Add(-1)

	started := time.Now()

	logger.WithFields(log.Fields{
		"owner": j.OwnerID,
		"asset": j.SourceAssetID,
		"retry": j.RetryCount,
	}).Info("attempt started")

	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.HardLimit)
	out, err := p.runner.Run(attemptCtx, pipeline.Attempt{
		JobID:         j.ID,
		SourceAssetID: j.SourceAssetID,
		OwnerID:       j.OwnerID,
		WorkDir:       workDir,
		SoftDeadline:  started.Add(p.cfg.SoftLimit),
		Publish:       p.publisher(logger, j.ID),
	})
	cancel()

	if err := p.status.ClearProgress(j.ID); err != nil {
		logger.WithError(err).Warn("unable to clear progress")
	}

	duration := &metric.DurationMetric{
		RowMetric: metric.RowMetric{Name: "reel_worker_job_duration", Tags: metric.Tags{"hostname": p.cfg.Hostname}},
		Duration:  time.Since(started),
	}
	p.metric.Send(duration.Metric())

	// bookkeeping outlives a shutdown
	done := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		p.complete(done, logger, j, out)
		_ = os.RemoveAll(workDir)
		p.ack(logger, delivery)
	case ctx.Err() != nil:
		// shutdown: hand the job back without consuming a retry
		_ = j.Interrupt()
		p.save(logger, j)
		p.setCatalog(done, logger, j, catalog.Update{State: catalog.StateQueued})
		logger.Info("attempt interrupted, job requeued")
		p.settle(logger, delivery, true)
	default:
		if p.fail(done, logger, j, err, delivery) {
			_ = os.RemoveAll(workDir)
		}
	}
}

func (p *Pool) complete(ctx context.Context, logger log.FieldLogger, j *job.Job, out *pipeline.Output) {
	j.Ladder = out.Ladder

	if err := j.MarkCompleted(out.Result); err != nil {
		logger.WithError(err).Error("unable to complete job")
		return
	}

	p.save(logger, j)
	p.completed.Inc()

	p.setCatalog(ctx, logger, j, catalog.Update{
		State:           catalog.StateCompleted,
		Qualities:       out.Result.Qualities,
		ManifestKey:     catalog.String(storage.ManifestURL(j.SourceAssetID)),
		DurationSeconds: catalog.Int(int(out.Result.DurationSeconds)),
	})

	logger.WithFields(log.Fields{
		"qualities":  out.Result.Qualities,
		"thumbnails": len(out.Result.ThumbnailKeys),
	}).Info("job completed")
}

// fail records a failed attempt and settles its delivery. A retry is
// published, carrying its notBefore, before the failed delivery is acked.
// It reports whether the failure is terminal.
func (p *Pool) fail(ctx context.Context, logger log.FieldLogger, j *job.Job, cause error, delivery queue.Delivery) bool {
	logger = logger.WithError(cause).WithField("kind", failure.KindOf(cause))

	if output := failure.OutputOf(cause); output != "" {
		logger.Debugf("process output:\n%s", output)
	}

	if failure.Retryable(cause) && j.CanRetry() {
		n := j.RetryCount + 1
		delay := Backoff(p.cfg.RetryDelay, n)
		at := time.Now().Add(delay)

		req := queue.JobRequest{
			JobID:         j.ID,
			SourceAssetID: j.SourceAssetID,
			OwnerID:       j.OwnerID,
			Attempt:       n,
			NotBefore:     at,
			Trace:         tracing.Inject(ctx),
		}

		if err := p.channel.Publish(p.cfg.Queue, req); err != nil {
			// keep the delivery: the job runs again without consuming a retry
			logger.WithError(err).Error("unable to publish retry, job requeued")
			_ = j.Interrupt()
			p.save(logger, j)
			p.setCatalog(ctx, logger, j, catalog.Update{State: catalog.StateQueued})
			p.settle(logger, delivery, true)
			return false
		}

		if err := j.MarkFailed(cause); err != nil {
			logger.WithError(err).Error("unable to fail job")
			p.ack(logger, delivery)
			return true
		}

		if _, err := j.ScheduleRetry(at); err != nil {
			logger.WithError(err).Error("unable to schedule retry")
		} else {
			p.save(logger, j)
			p.setCatalog(ctx, logger, j, catalog.Update{State: catalog.StateQueued})
			p.retried.Inc()
			p.ack(logger, delivery)

			logger.WithFields(log.Fields{
				"retry": n,
				"max":   j.MaxRetries,
				"delay": delay,
			}).Warn("attempt failed, retry queued")

			return false
		}
	} else if err := j.MarkFailed(cause); err != nil {
		logger.WithError(err).Error("unable to fail job")
		p.ack(logger, delivery)
		return true
	}

	p.save(logger, j)
	p.failed.Inc()
	p.setCatalog(ctx, logger, j, catalog.Update{State: catalog.StateFailed})
	p.ack(logger, delivery)

	logger.WithField("retries", j.RetryCount).Error("job failed")

	return true
}

func (p *Pool) publisher(logger log.FieldLogger, jobID string) func(progress.Update) {
	return func(u progress.Update) {
		logger.WithFields(log.Fields{
			"step":     u.OverallStep,
			"current":  u.CurrentStep,
			"progress": u.Percent,
		}).Debug("progress")

		if err := p.status.Progress(jobID, u); err != nil {
			logger.WithError(err).Warn("unable to publish progress")
		}
	}
}

func (p *Pool) save(logger log.FieldLogger, j *job.Job) {
	if err := p.status.Save(j); err != nil {
		logger.WithError(err).WithField("state", j.State).Error("unable to save job")
	}
}

// setCatalog writes the owner's record only while j is the owner's current
// job; a superseded or withdrawn job leaves it to its successor.
func (p *Pool) setCatalog(ctx context.Context, logger log.FieldLogger, j *job.Job, u catalog.Update) {
	if p.catalog == nil {
		return
	}

	latest, err := p.status.Latest(j.OwnerID)

	switch {
	case errors.Is(err, status.ErrNotFound):
		logger.WithField("state", u.State).Info("job withdrawn, catalog record left untouched")
		return
	case err != nil:
		logger.WithError(err).Warn("unable to read current job, updating catalog record anyway")
	case latest != j.ID:
		logger.WithFields(log.Fields{
			"state":  u.State,
			"latest": latest,
		}).Info("job superseded, catalog record left untouched")
		return
	}

	if err := p.catalog.SetProcessingState(ctx, j.OwnerID, u); err != nil {
		logger.WithError(err).WithField("state", u.State).Warn("unable to update catalog record")
	}
}

func (p *Pool) ack(logger log.FieldLogger, delivery queue.Delivery) {
	if err := delivery.Ack(); err != nil {
		logger.WithError(err).Error("unable to ack job request")
	}
}

func (p *Pool) settle(logger log.FieldLogger, delivery queue.Delivery, requeue bool) {
	if err := delivery.Nack(requeue); err != nil {
		logger.WithError(err).Error("unable to nack job request")
	}
}

// postpone sends a request whose retry delay has not elapsed to the back of
// the queue. The copy is published before the original is acked so the
// request is never only in memory.
func (p *Pool) postpone(ctx context.Context, logger log.FieldLogger, req queue.JobRequest, delivery queue.Delivery, wait time.Duration) {
	if err := p.channel.Publish(p.cfg.Queue, req); err != nil {
		logger.WithError(err).Error("unable to postpone job request")
		p.settle(logger, delivery, true)
	} else {
		logger.Debugf("retry delay not elapsed, %s left", wait.Round(time.Second))
		p.ack(logger, delivery)
	}

	if wait > p.cfg.PollInterval {
		wait = p.cfg.PollInterval
	}

	sleep(ctx, wait)
}
