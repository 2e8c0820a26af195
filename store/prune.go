package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// DefaultPruneSchedule runs the history sweep hourly.
	DefaultPruneSchedule = "@every 1h"
	// DefaultRetention keeps a week of history.
	DefaultRetention = 7 * 24 * time.Hour
)

var scheduleParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ParseSchedule parses a five-field cron expression or a descriptor such as
// "@hourly" or "@every 30m". Schedules are evaluated in UTC.
func ParseSchedule(spec string) (cron.Schedule, error) {
	clean := strings.TrimSpace(spec)
	if clean == "" {
		return nil, errors.New("cron expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, errors.New("cron expression must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := scheduleParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// PrunerConfig configures the background history pruner.
type PrunerConfig struct {
	Store     HistoryStore
	Schedule  string
	Retention time.Duration
	Now       func() time.Time
	Logger    *slog.Logger
}

// Pruner deletes history older than the retention window on a cron schedule.
// A non-positive retention disables it.
type Pruner struct {
	store     HistoryStore
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
	cron      *cron.Cron

	mu      sync.Mutex
	started bool
}

// NewPruner validates cfg and prepares a pruner. Call Start to run it.
func NewPruner(cfg PrunerConfig) (*Pruner, error) {
	if cfg.Store == nil {
		return nil, errors.New("history pruner store is nil")
	}
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = DefaultPruneSchedule
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	schedule, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}

	logger := cronLogger{logger: cfg.Logger}
	p := &Pruner{
		store:     cfg.Store,
		retention: cfg.Retention,
		now:       cfg.Now,
		logger:    cfg.Logger,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
	p.cron.Schedule(schedule, cron.FuncJob(func() {
		_, _ = p.RunOnce(context.Background())
	}))
	return p, nil
}

// Enabled reports whether the pruner will delete anything.
func (p *Pruner) Enabled() bool {
	return p != nil && p.retention > 0
}

// Start begins running the schedule in the background.
func (p *Pruner) Start() {
	if !p.Enabled() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.cron.Start()
}

// Stop halts the schedule and waits for a running sweep, or for ctx.
func (p *Pruner) Stop(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	started := p.started
	p.started = false
	p.mu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-p.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single sweep and returns the number of executions
// removed.
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	if !p.Enabled() {
		return 0, nil
	}
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		p.logger.Error("history prune failed", "cutoff", cutoff, "err", err)
		return 0, err
	}
	if n > 0 {
		p.logger.Info("history pruned", "removed", n, "cutoff", cutoff)
	}
	return n, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
