package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Task is one periodic job of the loop.
type Task func(ctx context.Context)

// Config 心跳循环配置
type Config struct {
	Interval      time.Duration // heartbeat broadcast period
	SweepInterval time.Duration // timeout sweep period, independent of Interval
}

// Loop broadcasts heartbeats and sweeps the membership table on two
// separate schedules.
type Loop struct {
	cfg   Config
	beat  Task
	sweep Task

	mu      sync.Mutex
	cron    *cron.Cron
	stop    chan struct{} // closed by Stop, one per Start
	running bool
}

// NewLoop creates a stopped loop.
func NewLoop(cfg Config, beat, sweep Task) (*Loop, error) {
	if cfg.Interval <= 0 || cfg.SweepInterval <= 0 {
		return nil, errors.Errorf("heartbeat intervals must be positive (interval %s, sweep %s)", cfg.Interval, cfg.SweepInterval)
	}
	if beat == nil || sweep == nil {
		return nil, errors.New("heartbeat loop requires beat and sweep tasks")
	}
	return &Loop{cfg: cfg, beat: beat, sweep: sweep}, nil
}

// Start schedules both tasks and returns. The loop stops when ctx is done
// or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return errors.New("heartbeat loop already running")
	}

	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(every(l.cfg.Interval), func() { l.beat(ctx) }); err != nil {
		return errors.Wrap(err, "failed to schedule heartbeat")
	}
	if _, err := c.AddFunc(every(l.cfg.SweepInterval), func() { l.sweep(ctx) }); err != nil {
		return errors.Wrap(err, "failed to schedule sweep")
	}

	stop := make(chan struct{})
	l.cron = c
	l.stop = stop
	l.running = true
	c.Start()

	log.Info().
		Dur("interval", l.cfg.Interval).
		Dur("sweep_interval", l.cfg.SweepInterval).
		Msg("Heartbeat loop started")

	go func() {
		select {
		case <-ctx.Done():
			l.halt(stop)
		case <-stop:
		}
	}()
	return nil
}

// Stop halts scheduling and waits for running jobs to finish. Safe to
// call more than once.
func (l *Loop) Stop() {
	l.halt(nil)
}

// halt stops the loop. A non-nil stop only matches the Start that made it,
// so a stale context cannot stop a restarted loop.
func (l *Loop) halt(stop chan struct{}) {
	l.mu.Lock()
	if !l.running || (stop != nil && stop != l.stop) {
		l.mu.Unlock()
		return
	}
	c := l.cron
	close(l.stop)
	l.stop = nil
	l.running = false
	l.mu.Unlock()

	<-c.Stop().Done()
	log.Info().Msg("Heartbeat loop stopped")
}

// Running reports whether the loop is scheduled.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// every builds a cron descriptor; sub-second periods round up to 1s.
func every(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return fmt.Sprintf("@every %s", d)
}
