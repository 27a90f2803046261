// Package scheduler implements the Scheduler: it decides when
// each server's next check is due and hands it to a bounded pool of
// worker goroutines. Overflow (more due checks than the pool and its
// queue can absorb) is dropped, never queued without bound.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/dualpath/healthengine/internal/config"
	"github.com/dualpath/healthengine/internal/events"
	"github.com/dualpath/healthengine/internal/healthcheck"
	"github.com/dualpath/healthengine/internal/telemetry"
)

// tickGranularity is how often the driver loop re-evaluates which servers
// are due. It must be small relative to the shortest configured check
// interval for timing to stay reasonably tight.
const tickGranularity = 250 * time.Millisecond

// job is one unit of scheduled work: run a check for a server under the
// epoch that was current when the job was enqueued.
type job struct {
	cfg config.ServerConfig
}

// Scheduler is the work-channel/worker-pool concurrency fabric chosen for
// this engine. A single driver goroutine walks the current epoch's servers
// on every tick, enqueues due servers, and a fixed pool of workers drains
// the queue by calling Service.RunCheck.
type Scheduler struct {
	Epoch   *config.EpochHolder
	Service *healthcheck.Service

	Logger  *events.EventLogger
	Metrics *telemetry.Metrics

	queue chan job

	nextDueMu sync.Mutex
	nextDue   map[string]time.Time

	workerCount int

	stopCh    chan struct{}
	stoppedCh chan struct{}
	running   bool
	mu        sync.Mutex

	workerWg sync.WaitGroup
}

// New builds a Scheduler. queueSize bounds the number of enqueued-but-not
// -yet-running jobs; workerCount bounds how many checks run concurrently
// across the whole engine (normally EngineConfig.MaxConcurrentChecks).
func New(epoch *config.EpochHolder, svc *healthcheck.Service, queueSize, workerCount int) *Scheduler {
	if queueSize <= 0 {
		queueSize = config.DefaultSchedulerQueueSize
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Scheduler{
		Epoch:       epoch,
		Service:     svc,
		Logger:      events.GetGlobalEventLogger(),
		Metrics:     telemetry.GetGlobalMetrics(),
		queue:       make(chan job, queueSize),
		nextDue:     make(map[string]time.Time),
		workerCount: workerCount,
	}
}

// Start launches the driver loop and the worker pool. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.stoppedCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	for i := 0; i < s.workerCount; i++ {
		s.workerWg.Add(1)
		go s.worker(stopCh)
	}

	go s.driveLoop(stopCh)
}

// Stop halts the driver and waits for in-flight workers to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	stoppedCh := s.stoppedCh
	s.mu.Unlock()

	<-stoppedCh
	s.workerWg.Wait()
}

func (s *Scheduler) driveLoop(stopCh chan struct{}) {
	defer close(s.stoppedCh)

	ticker := time.NewTicker(tickGranularity)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick enqueues every server whose interval has elapsed since it last
// became due. A due server whose job cannot be enqueued (queue full) is
// dropped for this interval and becomes due again one interval later,
// rather than being retried on every tick.
func (s *Scheduler) tick(now time.Time) {
	epoch := s.Epoch.Current()
	cfg := epoch.Config

	s.nextDueMu.Lock()
	defer s.nextDueMu.Unlock()

	for _, sc := range cfg.Servers {
		due, ok := s.nextDue[sc.Name]
		if !ok {
			due = now
		}
		if now.Before(due) {
			continue
		}

		select {
		case s.queue <- job{cfg: sc}:
			s.nextDue[sc.Name] = now.Add(cfg.Interval(sc))
		default:
			s.Logger.LogSchedulerDrop(sc.Name, len(s.queue))
			s.Metrics.RecordSchedulerDrop(context.Background(), sc.Name)
			s.nextDue[sc.Name] = now.Add(cfg.Interval(sc))
		}
	}
}

func (s *Scheduler) worker(stopCh chan struct{}) {
	defer s.workerWg.Done()
	for {
		select {
		case <-stopCh:
			return
		case j := <-s.queue:
			s.Service.RunCheck(context.Background(), j.cfg)
		}
	}
}

// QueueDepth reports the number of jobs currently waiting in the queue,
// useful for diagnostics and tests.
func (s *Scheduler) QueueDepth() int {
	return len(s.queue)
}
