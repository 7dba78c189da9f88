// Package dispatcher fans committed workflow events out to delivery channels
// such as the in-app inbox, Lark, NATS and webhooks.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/domain/event"
)

// ErrClosed is returned when dispatching after Close
var ErrClosed = errors.New("dispatcher is closed")

// DefaultAsyncTimeout bounds handlers started by DispatchAsync
const DefaultAsyncTimeout = 30 * time.Second

// Dispatcher routes every event to all registered handlers
type Dispatcher interface {
	port.Notifier

	// SubscribeAll registers a named handler that receives every event type
	SubscribeAll(name string, handler Handler)

	// Dispatch runs every handler in registration order and returns the
	// joined errors. A failing channel does not stop the others.
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync runs handlers in the background, detached from ctx cancellation
	DispatchAsync(ctx context.Context, evt *event.Event)

	// ListHandlers returns the registered handlers without their funcs
	ListHandlers() []HandlerInfo

	// Close shuts down the dispatcher and waits for async handlers
	Close() error
}

type eventDispatcher struct {
	// mu guards handlers and closed. wg.Add only happens under mu while
	// closed is false, so Close never waits concurrently with an Add.
	mu       sync.RWMutex
	handlers []HandlerInfo
	closed   bool

	logger  port.Logger
	async   bool
	timeout time.Duration
	wg      sync.WaitGroup
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger port.Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// WithAsyncNotify makes Notify hand events to DispatchAsync and return at once
func WithAsyncNotify(async bool) Option {
	return func(d *eventDispatcher) {
		d.async = async
	}
}

// WithAsyncTimeout bounds each background dispatch
func WithAsyncTimeout(timeout time.Duration) Option {
	return func(d *eventDispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{timeout: DefaultAsyncTimeout}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Notify implements port.Notifier
func (d *eventDispatcher) Notify(ctx context.Context, evt *event.Event) error {
	if d.async {
		return d.dispatchAsync(ctx, evt)
	}
	return d.Dispatch(ctx, evt)
}

func (d *eventDispatcher) SubscribeAll(name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers = append(d.handlers, HandlerInfo{Name: name, Handler: handler})

	if d.logger != nil {
		d.logger.Info("Handler registered", "handler_name", name)
	}
}

// snapshot returns the current handlers, or ErrClosed
func (d *eventDispatcher) snapshot() ([]HandlerInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrClosed
	}
	return append([]HandlerInfo(nil), d.handlers...), nil
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	handlers, err := d.snapshot()
	if err != nil {
		return err
	}

	if d.logger != nil {
		d.logger.Info("Dispatching event",
			"event_type", string(evt.Type),
			"event_id", evt.ID,
			"report_id", evt.ReportID,
			"handler_count", len(handlers),
		)
	}

	var errs []error
	for _, info := range handlers {
		if err := d.safeExecute(ctx, evt, info); err != nil {
			if d.logger != nil {
				d.logger.Error("Handler error",
					"event_type", string(evt.Type),
					"event_id", evt.ID,
					"handler_name", info.Name,
					"error", err,
				)
			}
			errs = append(errs, fmt.Errorf("handler %s: %w", info.Name, err))
		}
	}

	return errors.Join(errs...)
}

func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	if err := d.dispatchAsync(ctx, evt); err != nil && d.logger != nil {
		d.logger.Error("Cannot dispatch async event",
			"event_type", string(evt.Type),
			"event_id", evt.ID,
			"error", err,
		)
	}
}

func (d *eventDispatcher) dispatchAsync(ctx context.Context, evt *event.Event) error {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return ErrClosed
	}
	handlers := append([]HandlerInfo(nil), d.handlers...)
	d.wg.Add(len(handlers))
	d.mu.RUnlock()

	if d.logger != nil {
		d.logger.Info("Dispatching event asynchronously",
			"event_type", string(evt.Type),
			"event_id", evt.ID,
			"handler_count", len(handlers),
		)
	}

	// the request that produced the event usually ends before delivery does
	base := context.WithoutCancel(ctx)
	for _, info := range handlers {
		go func(h HandlerInfo) {
			defer d.wg.Done()

			hctx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()

			if err := d.safeExecute(hctx, evt, h); err != nil && d.logger != nil {
				d.logger.Error("Async handler error",
					"event_type", string(evt.Type),
					"event_id", evt.ID,
					"handler_name", h.Name,
					"error", err,
				)
			}
		}(info)
	}
	return nil
}

func (d *eventDispatcher) ListHandlers() []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]HandlerInfo, len(d.handlers))
	for i, h := range d.handlers {
		result[i] = HandlerInfo{Name: h.Name, Description: h.Description}
	}
	return result
}

func (d *eventDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already closed")
	}
	d.closed = true
	d.mu.Unlock()

	if d.logger != nil {
		d.logger.Info("Closing dispatcher, waiting for async handlers")
	}

	d.wg.Wait()

	if d.logger != nil {
		d.logger.Info("Dispatcher closed")
	}

	return nil
}

// safeExecute runs a handler with panic recovery
func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			if d.logger != nil {
				d.logger.Error("Handler panic recovered",
					"event_type", string(evt.Type),
					"event_id", evt.ID,
					"handler_name", info.Name,
					"panic", r,
				)
			}
		}
	}()

	return info.Handler(ctx, evt)
}
