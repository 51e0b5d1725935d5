package execution

import (
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/callrelay/internal/app/worker"
)

// backgroundStartupTask is the fixed queue key for background startup, so a
// new launch replaces a pending one.
const backgroundStartupTask = "background-context-startup"

// LaunchConfig configures background launch retries.
type LaunchConfig struct {
	Retries      int
	Backoff      time.Duration
	StartupDelay time.Duration
}

// Launcher starts the background context through the work queue.
type Launcher struct {
	queue  *worker.Queue
	target *Context
	cfg    LaunchConfig
}

// NewLauncher creates a launcher for target.
func NewLauncher(queue *worker.Queue, target *Context, cfg LaunchConfig) *Launcher {
	return &Launcher{
		queue:  queue,
		target: target,
		cfg:    cfg,
	}
}

// Launch schedules an immediate background start. It never blocks on the start itself.
func (l *Launcher) Launch() error {
	return l.enqueue(0)
}

// Schedule schedules a background start after the configured startup delay.
func (l *Launcher) Schedule() error {
	return l.enqueue(l.cfg.StartupDelay)
}

// IsRunning reports whether the background context is running.
func (l *Launcher) IsRunning() bool {
	return l.target.IsRunning()
}

// Pending reports whether a start is queued or retrying.
func (l *Launcher) Pending() bool {
	return l.queue.Pending(backgroundStartupTask)
}

func (l *Launcher) enqueue(delay time.Duration) error {
	zlog.Debug().Msgf("scheduling background context start: delay=%v retries=%d", delay, l.cfg.Retries)
	return l.queue.Enqueue(worker.Task{
		Name:    backgroundStartupTask,
		Delay:   delay,
		Retries: l.cfg.Retries,
		Backoff: l.cfg.Backoff,
		Run:     l.target.Start,
	})
}
