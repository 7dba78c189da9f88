package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rhadityaaa/ewd-tools/internal/application/service"
	"go.uber.org/zap"
)

// BottleneckSource computes pending records stuck longer than threshold
type BottleneckSource interface {
	Bottlenecks(ctx context.Context, threshold time.Duration) ([]*service.Bottleneck, error)
}

// StaleMonitorConfig holds configuration for the stale approval monitor
type StaleMonitorConfig struct {
	Interval  time.Duration
	Threshold time.Duration
	Timeout   time.Duration
}

// DefaultStaleMonitorConfig returns default configuration
func DefaultStaleMonitorConfig() StaleMonitorConfig {
	return StaleMonitorConfig{
		Interval:  5 * time.Minute,
		Threshold: service.DefaultBottleneckThreshold,
		Timeout:   30 * time.Second,
	}
}

// StaleMonitor periodically recomputes approval bottlenecks. The report
// service refreshes the stale-pending gauge on every run; the monitor only
// schedules it and logs what it finds.
type StaleMonitor struct {
	config StaleMonitorConfig
	source BottleneckSource
	logger *zap.Logger

	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	runs      int
	lastRun   time.Time
	lastError error
}

// NewStaleMonitor creates a new stale approval monitor
func NewStaleMonitor(config StaleMonitorConfig, source BottleneckSource, logger *zap.Logger) *StaleMonitor {
	def := DefaultStaleMonitorConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Threshold <= 0 {
		config.Threshold = def.Threshold
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	return &StaleMonitor{config: config, source: source, logger: logger}
}

// Start runs one check immediately and then one per interval
func (w *StaleMonitor) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("stale monitor already running")
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true
	w.mu.Unlock()

	w.logger.Info("StaleMonitor started",
		zap.Duration("interval", w.config.Interval),
		zap.Duration("threshold", w.config.Threshold))

	go w.pollLoop(ctx)
	return nil
}

// Stop cancels the loop and waits for an in-flight check to finish
func (w *StaleMonitor) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.logger.Info("StaleMonitor stopped", zap.Int("runs", w.Runs()))
	return nil
}

// Name returns the worker name for identification
func (w *StaleMonitor) Name() string {
	return "StaleMonitor"
}

// Runs returns how many checks have completed
func (w *StaleMonitor) Runs() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.runs
}

// LastRun returns when the most recent check finished
func (w *StaleMonitor) LastRun() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastRun
}

// LastError returns the error of the most recent check, if any
func (w *StaleMonitor) LastError() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastError
}

func (w *StaleMonitor) pollLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *StaleMonitor) check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	items, err := w.source.Bottlenecks(ctx, w.config.Threshold)

	w.mu.Lock()
	w.runs++
	w.lastRun = time.Now()
	w.lastError = err
	w.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("Failed to compute approval bottlenecks", zap.Error(err))
		}
		return
	}

	for _, b := range items {
		if b.Count == 0 {
			continue
		}
		fields := []zap.Field{
			zap.String("step", b.Step.String()),
			zap.Int("count", b.Count),
			zap.String("severity", b.Severity),
			zap.Int64s("report_ids", b.ReportIDs),
		}
		if b.Severity == service.SeverityHigh {
			w.logger.Warn("Approval bottleneck", fields...)
		} else {
			w.logger.Info("Approval bottleneck", fields...)
		}
	}
}
