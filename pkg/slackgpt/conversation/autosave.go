package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultAutosaveSchedule is used when no schedule is configured.
const DefaultAutosaveSchedule = "@every 5m"

// AutosaveConfig controls when the store is written back.
type AutosaveConfig struct {
	// Schedule is a cron expression or descriptor ("@every 5m", "0 * * * *").
	// Empty disables the timer.
	Schedule string `yaml:"schedule"`

	// OnMutation writes after every Notify call.
	OnMutation bool `yaml:"on_mutation"`
}

// Autosaver writes the store to its targets on a cron schedule and on
// demand. Writes run on a background goroutine and never block the caller.
// A write is skipped when the store has not changed since the last
// successful one; a failed write is retried on the next trigger.
type Autosaver struct {
	store   *Store
	targets []Target
	cfg     AutosaveConfig
	logger  *slog.Logger

	cron   *cron.Cron
	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup

	// flushMu serializes writes; saved is the store version last written.
	flushMu sync.Mutex
	saved   uint64
	started bool
}

// NewAutosaver validates the schedule and prepares an autosaver.
func NewAutosaver(store *Store, targets []Target, cfg AutosaveConfig, logger *slog.Logger) (*Autosaver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Autosaver{
		store:   store,
		targets: targets,
		cfg:     cfg,
		logger:  logger.With("component", "autosave"),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		saved:   store.Version(),
	}

	a.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	if cfg.Schedule != "" {
		if _, err := a.cron.AddFunc(cfg.Schedule, a.tick); err != nil {
			return nil, fmt.Errorf("invalid autosave schedule %q: %w", cfg.Schedule, err)
		}
	}
	return a, nil
}

// Start launches the cron timer and the notification loop.
func (a *Autosaver) Start(ctx context.Context) {
	a.started = true
	a.cron.Start()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.done:
				return
			case <-ctx.Done():
				return
			case <-a.notify:
				a.flush(ctx)
			}
		}
	}()

	a.logger.Info("autosave started",
		"schedule", a.cfg.Schedule,
		"on_mutation", a.cfg.OnMutation,
		"targets", len(a.targets),
	)
}

// Notify signals that the store changed. Multiple calls before the loop
// wakes up collapse into one write. It is a no-op unless OnMutation is set.
func (a *Autosaver) Notify() {
	if !a.cfg.OnMutation {
		return
	}
	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// Flush writes the store now if it changed.
func (a *Autosaver) Flush(ctx context.Context) error {
	return a.flush(ctx)
}

func (a *Autosaver) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.flush(ctx)
}

func (a *Autosaver) flush(ctx context.Context) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	v := a.store.Version()
	if v == a.saved {
		return nil
	}
	if err := a.store.Persist(ctx, a.targets...); err != nil {
		// Already logged per target by the store.
		return err
	}
	a.saved = v
	return nil
}

// Stop halts the timer and the loop, then performs a final write.
func (a *Autosaver) Stop(ctx context.Context) error {
	if a.started {
		stopCtx := a.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			a.logger.Warn("autosave stop timed out")
		}
		close(a.done)
		a.wg.Wait()
		a.started = false
	}

	err := a.flush(ctx)
	a.logger.Info("autosave stopped")
	return err
}
