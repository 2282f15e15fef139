// Package worker drains a fixed batch of work items with N concurrent workers.
//
// The batch is closed: every item is known before the first worker starts, so an
// empty work list means the pool is done. Workers claim one item at a time under
// the pool lock and run the crawl function with the lock released.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/clip-harvester/internal/clip"
	"github.com/JakeFAU/clip-harvester/internal/metrics"
)

// Func is the crawl function applied to each item.
type Func[T any] func(ctx context.Context, item T) error

// Options controls pool behavior.
type Options[T any] struct {
	// Name labels logs and metrics, usually the phase name.
	Name    string
	Workers int
	// ItemTimeout bounds a single call of the crawl function. Zero disables it.
	ItemTimeout time.Duration
	// ProgressInterval is how often the remaining item count is logged. Zero disables it.
	ProgressInterval time.Duration
	Retry            *RetryPolicy
	// Key describes an item in logs and failure records.
	Key    func(T) string
	Logger *zap.Logger
}

// Failure is an item whose crawl function failed for good.
type Failure[T any] struct {
	Item T
	Key  string
	Err  error
}

// Result summarizes a finished pool.
type Result[T any] struct {
	Processed int
	Failures  []Failure[T]
}

// Failed returns the number of failed items.
func (r Result[T]) Failed() int {
	return len(r.Failures)
}

// Pool runs a crawl function over a closed batch of items.
type Pool[T any] struct {
	fn   Func[T]
	opts Options[T]

	mu       sync.Mutex
	items    []T
	next     int
	result   Result[T]
	inFlight int
}

// New builds a pool over items. The slice is not modified.
func New[T any](items []T, fn Func[T], opts Options[T]) *Pool[T] {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Key == nil {
		opts.Key = func(item T) string { return fmt.Sprint(item) }
	}
	return &Pool[T]{
		fn:    fn,
		opts:  opts,
		items: items,
	}
}

// Remaining returns how many items have not been claimed yet.
func (p *Pool[T]) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items) - p.next
}

// Run starts the workers and blocks until every worker has exited.
// A phase-fatal error stops the remaining workers and is returned. Item
// failures are collected in the result.
func (p *Pool[T]) Run(ctx context.Context) (Result[T], error) {
	logger := p.opts.Logger.With(zap.String("pool", p.opts.Name))
	logger.Info("pool starting", zap.Int("items", len(p.items)), zap.Int("workers", p.opts.Workers))

	g, gctx := errgroup.WithContext(ctx)
	for range p.opts.Workers {
		g.Go(func() error { return p.work(gctx, logger) })
	}

	done := make(chan struct{})
	if p.opts.ProgressInterval > 0 {
		go p.reportProgress(done, logger)
	}
	err := g.Wait()
	close(done)

	p.mu.Lock()
	result := p.result
	p.mu.Unlock()

	if err == nil {
		err = ctx.Err()
	}
	logger.Info("pool finished",
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed()),
		zap.Error(err),
	)
	return result, err
}

// claim takes the next item. It reports false once the list is drained.
func (p *Pool[T]) claim() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var zero T
	if p.next >= len(p.items) {
		return zero, false
	}
	item := p.items[p.next]
	p.next++
	p.inFlight++
	return item, true
}

func (p *Pool[T]) work(ctx context.Context, logger *zap.Logger) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		item, ok := p.claim()
		if !ok {
			return nil
		}
		err := p.process(ctx, item)
		if err := p.settle(item, err, logger); err != nil {
			return err
		}
	}
}

func (p *Pool[T]) process(ctx context.Context, item T) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	for attempt := 1; ; attempt++ {
		err := p.call(ctx, item)
		if !p.opts.Retry.ShouldRetry(err, attempt) {
			return err
		}
		wait := p.opts.Retry.Backoff(attempt)
		p.opts.Logger.Warn("retrying item",
			zap.String("pool", p.opts.Name),
			zap.String("item", p.opts.Key(item)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(wait):
		}
	}
}

func (p *Pool[T]) call(ctx context.Context, item T) error {
	if p.opts.ItemTimeout <= 0 {
		return p.fn(ctx, item)
	}
	itemCtx, cancel := context.WithTimeout(ctx, p.opts.ItemTimeout)
	defer cancel()
	return p.fn(itemCtx, item)
}

// settle records the outcome of one item and returns a non-nil error only when
// the whole pool must stop.
func (p *Pool[T]) settle(item T, err error, logger *zap.Logger) error {
	key := p.opts.Key(item)

	p.mu.Lock()
	p.inFlight--
	p.result.Processed++
	if err != nil {
		p.result.Failures = append(p.result.Failures, Failure[T]{Item: item, Key: key, Err: err})
	}
	p.mu.Unlock()

	if err == nil {
		metrics.ObserveItem(p.opts.Name, "ok")
		return nil
	}
	metrics.ObserveItem(p.opts.Name, "failed")

	fields := []zap.Field{
		zap.String("item", key),
		zap.Stringer("kind", clip.KindOf(err)),
		zap.Error(err),
	}
	var ce *clip.Error
	if errors.As(err, &ce) && ce.URL != "" {
		fields = append(fields, zap.String("url", ce.URL))
	}
	if clip.PhaseFatal(err) {
		logger.Error("phase-fatal failure, stopping pool", fields...)
		return fmt.Errorf("%s: %w", p.opts.Name, err)
	}
	logger.Error("item failed", fields...)
	return nil
}

func (p *Pool[T]) reportProgress(done <-chan struct{}, logger *zap.Logger) {
	ticker := time.NewTicker(p.opts.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p.mu.Lock()
			remaining, inFlight := len(p.items)-p.next, p.inFlight
			p.mu.Unlock()
			logger.Info("pool progress", zap.Int("remaining", remaining), zap.Int("in_flight", inFlight))
		}
	}
}
