package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amankumarsingh77/crawlindex/config"
	"github.com/amankumarsingh77/crawlindex/internal/common"
	"go.uber.org/zap"
)

var ErrStopped = errors.New("scheduler stopped")

const maxBackoffShift = 6

type Stats struct {
	Scheduled  int64 `json:"scheduled"`
	Dispatched int64 `json:"dispatched"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Retried    int64 `json:"retried"`
	Queued     int64 `json:"queued"`
	InFlight   int64 `json:"in_flight"`
}

// Scheduler owns the crawl frontier. Structural state sits behind mu; the
// counters are atomics so reading stats never contends with dispatch.
type Scheduler struct {
	cfg    config.SchedulerConfig
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	queue    taskQueue
	cooldown map[string]time.Time
	inflight map[string][]*CrawlTask
	seq      uint64
	// closed and replaced on every state change a waiter may care about
	wake  chan struct{}
	timer *time.Timer

	idle       chan struct{}
	idleClosed bool
	dispatched bool

	started  bool
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	onCompleted atomic.Pointer[func(url string)]

	scheduled, dispatchedN, completed, failed, retried, queued, inFlight atomic.Int64
}

func New(cfg config.SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = time.Minute
	}
	return &Scheduler{
		cfg:      cfg,
		logger:   common.OrNop(logger).Named("scheduler"),
		now:      time.Now,
		cooldown: make(map[string]time.Time),
		inflight: make(map[string][]*CrawlTask),
		wake:     make(chan struct{}),
		idle:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// OnCompleted registers fn to run after every MarkCompleted.
func (s *Scheduler) OnCompleted(fn func(url string)) {
	s.onCompleted.Store(&fn)
}

// Start launches the cool-down janitor.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.isStopped() {
		return
	}
	s.started = true
	s.wg.Add(1)
	go s.janitor()
}

// Stop wakes every blocked GetNextTask / WaitReady caller and joins the janitor.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
		}
		s.broadcastLocked()
		s.mu.Unlock()
		s.wg.Wait()
		s.logger.Info("scheduler stopped", zap.Any("stats", s.Stats()))
	})
}

func (s *Scheduler) Stopped() bool {
	return s.isStopped()
}

func (s *Scheduler) isStopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Idle is closed once the frontier is empty with nothing in flight, after at
// least one task was dispatched.
func (s *Scheduler) Idle() <-chan struct{} {
	return s.idle
}

// AddURL enqueues url with retry count 0, eligible now. It returns false when
// the url cannot be canonicalized or the scheduler is stopped.
func (s *Scheduler) AddURL(rawURL string, priority int) bool {
	canonical, err := common.Canonicalize(rawURL)
	if err != nil {
		s.logger.Debug("rejecting url", zap.String("url", rawURL), zap.Error(err))
		return false
	}

	s.mu.Lock()
	if s.isStopped() {
		s.mu.Unlock()
		s.logger.Debug("scheduler stopped, dropping url", zap.String("url", canonical))
		return false
	}
	s.pushLocked(&CrawlTask{
		URL:       canonical,
		Host:      common.Host(canonical),
		Priority:  priority,
		NotBefore: s.now(),
	})
	s.broadcastLocked()
	s.mu.Unlock()

	s.scheduled.Add(1)
	return true
}

// AddSeedURLs adds urls in order and stops at the first rejected one.
func (s *Scheduler) AddSeedURLs(urls []string, priority int) bool {
	for _, u := range urls {
		if !s.AddURL(u, priority) {
			s.logger.Warn("seed url rejected, stopping seed ingestion", zap.String("url", u))
			return false
		}
	}
	return true
}

// GetNextTask blocks while the frontier is empty. When the highest-priority
// task is not yet eligible it stays queued and (nil, false) is returned; the
// caller should WaitReady and try again. Stop or ctx cancellation also yield
// (nil, false).
func (s *Scheduler) GetNextTask(ctx context.Context) (*CrawlTask, bool) {
	for {
		s.mu.Lock()
		if s.isStopped() {
			s.mu.Unlock()
			return nil, false
		}
		if top := s.queue.peek(); top != nil {
			now := s.now()
			if at := s.eligibleAtLocked(top); at.After(now) {
				s.armTimerLocked(at.Sub(now))
				s.mu.Unlock()
				return nil, false
			}
			t := s.queue.pop()
			s.inflight[t.URL] = append(s.inflight[t.URL], t)
			s.dispatched = true
			s.queued.Store(int64(s.queue.Len()))
			s.mu.Unlock()

			s.inFlight.Add(1)
			s.dispatchedN.Add(1)
			return t, true
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-s.done:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

// WaitReady blocks until the head of the frontier may be eligible: a task was
// added, a backoff or cool-down elapsed, or the scheduler stopped.
func (s *Scheduler) WaitReady(ctx context.Context) error {
	s.mu.Lock()
	if s.isStopped() {
		s.mu.Unlock()
		return ErrStopped
	}
	if top := s.queue.peek(); top != nil {
		now := s.now()
		at := s.eligibleAtLocked(top)
		if !at.After(now) {
			s.mu.Unlock()
			return nil
		}
		s.armTimerLocked(at.Sub(now))
	}
	wake := s.wake
	s.mu.Unlock()

	select {
	case <-wake:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) MarkCompleted(url string) {
	s.mu.Lock()
	s.finishLocked(url)
	s.checkIdleLocked()
	s.mu.Unlock()

	s.completed.Add(1)
	if fn := s.onCompleted.Load(); fn != nil {
		(*fn)(url)
	}
}

// MarkFailed records a failed fetch of url. With willRetry the task goes back
// to the frontier with an exponential backoff and its host enters cool-down.
func (s *Scheduler) MarkFailed(url string, willRetry bool) {
	s.mu.Lock()
	prev := s.finishLocked(url)
	if !willRetry {
		s.checkIdleLocked()
		s.mu.Unlock()
		s.failed.Add(1)
		s.logger.Debug("task failed permanently", zap.String("url", url))
		return
	}

	key := common.CanonicalKey(url)
	task := &CrawlTask{URL: key, Host: common.Host(key), RetryCount: 1}
	if prev != nil {
		task.Priority = prev.Priority
		task.RetryCount = prev.RetryCount + 1
	}
	now := s.now()
	backoff := s.backoff(task.RetryCount)
	task.NotBefore = now.Add(backoff)
	if until := now.Add(s.cfg.HostCooldown); until.After(s.cooldown[task.Host]) {
		s.cooldown[task.Host] = until
	}
	s.pushLocked(task)
	s.broadcastLocked()
	s.mu.Unlock()

	s.retried.Add(1)
	s.logger.Debug("task scheduled for retry",
		zap.String("url", task.URL),
		zap.Int("retry", task.RetryCount),
		zap.Duration("backoff", backoff))
}

func (s *Scheduler) backoff(retry int) time.Duration {
	shift := retry - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return s.cfg.RetryBackoff << shift
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Scheduled:  s.scheduled.Load(),
		Dispatched: s.dispatchedN.Load(),
		Completed:  s.completed.Load(),
		Failed:     s.failed.Load(),
		Retried:    s.retried.Load(),
		Queued:     s.queued.Load(),
		InFlight:   s.inFlight.Load(),
	}
}

func (s *Scheduler) pushLocked(t *CrawlTask) {
	s.seq++
	t.seq = s.seq
	s.queue.push(t)
	s.queued.Store(int64(s.queue.Len()))
}

// finishLocked forgets one dispatched task for url and returns it.
func (s *Scheduler) finishLocked(url string) *CrawlTask {
	key := url
	tasks, ok := s.inflight[key]
	if !ok {
		key = common.CanonicalKey(url)
		tasks, ok = s.inflight[key]
	}
	var t *CrawlTask
	if ok && len(tasks) > 0 {
		t = tasks[len(tasks)-1]
		if len(tasks) == 1 {
			delete(s.inflight, key)
		} else {
			s.inflight[key] = tasks[:len(tasks)-1]
		}
		s.inFlight.Add(-1)
	}
	return t
}

func (s *Scheduler) checkIdleLocked() {
	if s.idleClosed || !s.dispatched {
		return
	}
	if s.queue.Len() == 0 && len(s.inflight) == 0 {
		s.idleClosed = true
		close(s.idle)
	}
}

func (s *Scheduler) eligibleAtLocked(t *CrawlTask) time.Time {
	at := t.NotBefore
	if until, ok := s.cooldown[t.Host]; ok && until.After(at) {
		at = until
	}
	return at
}

func (s *Scheduler) broadcastLocked() {
	close(s.wake)
	s.wake = make(chan struct{})
}

func (s *Scheduler) armTimerLocked(d time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		s.broadcastLocked()
		s.mu.Unlock()
	})
}

func (s *Scheduler) janitor() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			for host, until := range s.cooldown {
				if !until.After(now) {
					delete(s.cooldown, host)
				}
			}
			s.mu.Unlock()
		}
	}
}
