package agent

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"

	"schoolbus-backend/internal/syncer"
)

// Trigger reasons
const (
	ReasonTimer        = "timer"
	ReasonConnectivity = "connectivity"
	ReasonScan         = "scan"
	ReasonManual       = "manual"
	ReasonRetry        = "retry"
)

// SyncFunc runs one sync pass
type SyncFunc func(ctx context.Context) (syncer.Result, error)

// ProbeFunc returns nil when the server is reachable
type ProbeFunc func(ctx context.Context) error

// SyncStatus is the scheduler's view of the last passes
type SyncStatus struct {
	Online              bool           `json:"online"`
	InFlight            bool           `json:"in_flight"`
	LastAttempt         *time.Time     `json:"last_attempt,omitempty"`
	LastSuccess         *time.Time     `json:"last_success,omitempty"`
	LastReason          string         `json:"last_reason,omitempty"`
	LastError           string         `json:"last_error,omitempty"`
	LastResult          *syncer.Result `json:"last_result,omitempty"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	NextRetry           *time.Time     `json:"next_retry,omitempty"`
}

// SchedulerConfig tunes when sync passes run
type SchedulerConfig struct {
	SyncInterval     time.Duration
	ProbeInterval    time.Duration
	RetryInitial     time.Duration
	RetryMaxInterval time.Duration
}

// Scheduler decides when the coordinator runs: on a timer, when the server
// becomes reachable again, after scans, on demand, and on a backoff after
// failures.
type Scheduler struct {
	syncFn SyncFunc
	probe  ProbeFunc
	cfg    SchedulerConfig
	now    func() time.Time

	cron     *cron.Cron
	triggers chan string
	backoff  *backoff.ExponentialBackOff

	mu     sync.Mutex
	status SyncStatus
	retry  *time.Timer
	wg     sync.WaitGroup
}

// NewScheduler creates a stopped scheduler
func NewScheduler(syncFn SyncFunc, probe ProbeFunc, cfg SchedulerConfig) *Scheduler {
	bo := backoff.NewExponentialBackOff()
	if cfg.RetryInitial > 0 {
		bo.InitialInterval = cfg.RetryInitial
	}
	if cfg.RetryMaxInterval > 0 {
		bo.MaxInterval = cfg.RetryMaxInterval
	}
	bo.MaxElapsedTime = 0 // keep retrying while offline
	bo.Reset()

	return &Scheduler{
		syncFn:   syncFn,
		probe:    probe,
		cfg:      cfg,
		now:      time.Now,
		cron:     cron.New(),
		triggers: make(chan string, 8),
		backoff:  bo,
		status:   SyncStatus{Online: true},
	}
}

// Start registers the periodic jobs and runs the trigger loop until ctx ends
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.SyncInterval > 0 {
		if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.SyncInterval), func() {
			s.Trigger(ReasonTimer)
		}); err != nil {
			return fmt.Errorf("failed to schedule periodic sync: %w", err)
		}
	}

	if s.probe != nil && s.cfg.ProbeInterval > 0 {
		if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.ProbeInterval), func() {
			s.CheckConnectivity(ctx)
		}); err != nil {
			return fmt.Errorf("failed to schedule connectivity probe: %w", err)
		}
	}

	s.cron.Start()

	s.wg.Add(1)
	go s.loop(ctx)

	log.Printf("✅ Sync scheduler started (every %s, probe every %s)", s.cfg.SyncInterval, s.cfg.ProbeInterval)
	return nil
}

// Stop halts the periodic jobs and waits for the loop to exit.
// The context passed to Start must be cancelled first.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()

	s.mu.Lock()
	if s.retry != nil {
		s.retry.Stop()
	}
	s.mu.Unlock()

	s.wg.Wait()
	log.Println("🛑 Sync scheduler stopped")
}

// Trigger asks for a sync pass without blocking. Requests that arrive while
// the queue is full collapse into the pending ones.
func (s *Scheduler) Trigger(reason string) {
	select {
	case s.triggers <- reason:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-s.triggers:
			if reason == ReasonTimer && !s.isOnline() {
				// The probe will trigger a pass once the server is back
				continue
			}
			s.SyncNow(ctx, reason)
		}
	}
}

// SyncNow runs a pass immediately and records its outcome
func (s *Scheduler) SyncNow(ctx context.Context, reason string) (syncer.Result, error) {
	started := s.now()
	s.mu.Lock()
	s.status.InFlight = true
	s.status.LastAttempt = &started
	s.status.LastReason = reason
	s.mu.Unlock()

	result, err := s.syncFn(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.InFlight = false
	s.status.LastResult = &result

	if err != nil {
		s.status.LastError = err.Error()
		s.status.ConsecutiveFailures++
		s.scheduleRetryLocked(ctx)
		log.Printf("❌ Sync (%s) failed, attempt %d: %v", reason, s.status.ConsecutiveFailures, err)
		return result, err
	}

	finished := s.now()
	s.status.LastSuccess = &finished
	s.status.LastError = ""
	s.status.ConsecutiveFailures = 0
	s.status.Online = true
	s.status.NextRetry = nil
	s.backoff.Reset()
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}

	return result, nil
}

// scheduleRetryLocked arms the next backoff retry. Caller holds s.mu.
func (s *Scheduler) scheduleRetryLocked(ctx context.Context) {
	delay := s.backoff.NextBackOff()
	if delay == backoff.Stop {
		s.status.NextRetry = nil
		return
	}

	next := s.now().Add(delay)
	s.status.NextRetry = &next

	if s.retry != nil {
		s.retry.Stop()
	}
	s.retry = time.AfterFunc(delay, func() {
		if ctx.Err() == nil {
			s.Trigger(ReasonRetry)
		}
	})
	log.Printf("⏳ Next sync retry in %s", delay.Round(time.Millisecond))
}

// CheckConnectivity probes the server and triggers a pass when it comes back
func (s *Scheduler) CheckConnectivity(ctx context.Context) {
	if s.probe == nil {
		return
	}

	err := s.probe(ctx)

	s.mu.Lock()
	wasOnline := s.status.Online
	s.status.Online = err == nil
	s.mu.Unlock()

	switch {
	case err != nil && wasOnline:
		log.Printf("📴 Server unreachable, working offline: %v", err)
	case err == nil && !wasOnline:
		log.Println("📶 Connectivity regained, syncing")
		s.Trigger(ReasonConnectivity)
	}
}

// Status returns a snapshot of the sync status
func (s *Scheduler) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scheduler) isOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Online
}
