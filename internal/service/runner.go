// internal/service/runner.go
package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Runner drives the dispatcher on a ticker and serves on-demand tick and
// recovery requests. Overlapping requests in the same process share one
// execution; overlap across processes is handled by the store.
type Runner struct {
	dispatcher *Dispatcher
	recovery   *Recovery
	interval   time.Duration
	log        zerolog.Logger

	group       singleflight.Group
	mu          sync.Mutex
	running     bool
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

func NewRunner(dispatcher *Dispatcher, recovery *Recovery, interval time.Duration, log zerolog.Logger) *Runner {
	return &Runner{
		dispatcher: dispatcher,
		recovery:   recovery,
		interval:   interval,
		log:        log,
	}
}

// RunTick runs a tick, or joins one already in flight. shared is true when
// the result came from another caller's tick.
func (r *Runner) RunTick(ctx context.Context) (summary *TickSummary, shared bool, err error) {
	v, err, shared := r.group.Do("tick", func() (any, error) {
		return r.dispatcher.Tick(ctx)
	})
	if v != nil {
		summary = v.(*TickSummary)
	}
	return summary, shared, err
}

func (r *Runner) RunReconcile(ctx context.Context) (summary *ReconcileSummary, shared bool, err error) {
	v, err, shared := r.group.Do("reconcile", func() (any, error) {
		return r.recovery.ReconcileStuck(ctx)
	})
	if v != nil {
		summary = v.(*ReconcileSummary)
	}
	return summary, shared, err
}

// Start ticks once immediately and then every interval until ctx is done
// or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.log.Warn().Msg("dispatch runner already running")
		return
	}
	r.running = true
	r.stopChan = make(chan struct{})
	r.stoppedChan = make(chan struct{})
	r.mu.Unlock()

	r.log.Info().Dur("interval", r.interval).Msg("starting dispatch runner")
	go r.run(ctx, r.stopChan, r.stoppedChan)
}

func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	stop, stopped := r.stopChan, r.stoppedChan
	r.mu.Unlock()

	close(stop)
	select {
	case <-stopped:
		r.log.Info().Msg("dispatch runner stopped")
	case <-time.After(30 * time.Second):
		r.log.Warn().Msg("dispatch runner stop timeout exceeded")
	}
}

func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runner) run(ctx context.Context, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	defer func() {
		r.mu.Lock()
		if r.stoppedChan == stopped {
			r.running = false
		}
		r.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if _, _, err := r.RunTick(ctx); err != nil && ctx.Err() == nil {
		r.log.Error().Err(err).Msg("scheduled tick failed")
	}
}
