package harvest

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/clip-harvester/internal/clip"
	"github.com/JakeFAU/clip-harvester/internal/extract"
	"github.com/JakeFAU/clip-harvester/internal/hash/sha256"
	"github.com/JakeFAU/clip-harvester/internal/metrics"
	"github.com/JakeFAU/clip-harvester/internal/store"
	"github.com/JakeFAU/clip-harvester/internal/worker"
)

// phaseRun tracks the counters and failures of one executing phase.
type phaseRun struct {
	h      *Harvester
	runID  uuid.UUID
	phase  Phase
	logger *zap.Logger

	items    atomic.Int64
	failed   atomic.Int64
	warnings atomic.Int64
}

func (p *phaseRun) report(start, finished time.Time, err error) PhaseReport {
	pr := PhaseReport{
		Phase:      p.phase,
		Items:      int(p.items.Load()),
		Failed:     int(p.failed.Load()),
		Warnings:   int(p.warnings.Load()),
		StartedAt:  start,
		FinishedAt: finished,
		Duration:   finished.Sub(start),
		err:        err,
	}
	if err != nil {
		pr.Error = err.Error()
	}
	return pr
}

// fail logs a failed item and records it in the ledger.
func (p *phaseRun) fail(ctx context.Context, item string, err error) {
	fields := []zap.Field{
		zap.String("item", item),
		zap.Stringer("kind", clip.KindOf(err)),
		zap.Error(err),
	}
	if url := urlOf(err); url != "" {
		fields = append(fields, zap.String("url", url))
	}
	p.logger.Error("item failed", fields...)
	p.record(ctx, item, err)
}

// record adds a failure to the ledger without logging it.
func (p *phaseRun) record(ctx context.Context, item string, err error) {
	p.failed.Add(1)
	failure := store.Failure{
		RunID:   p.runID,
		Phase:   string(p.phase),
		Item:    item,
		URL:     urlOf(err),
		Kind:    clip.KindOf(err).String(),
		Message: err.Error(),
	}
	if recErr := p.h.deps.Store.RecordFailure(context.WithoutCancel(ctx), failure); recErr != nil {
		p.logger.Error("record failure", zap.String("item", item), zap.Error(recErr))
	}
}

// warn logs skipped rows of a document.
func (p *phaseRun) warn(item string, warnings []error) {
	if len(warnings) == 0 {
		return
	}
	p.warnings.Add(int64(len(warnings)))
	metrics.ObserveRowWarnings(string(p.phase), len(warnings))
	for _, w := range warnings {
		p.logger.Warn("row skipped", zap.String("item", item), zap.Error(w))
	}
}

// settle splits the joined item errors of a bulk store call into ledger
// entries. A persistence error is returned so the worker pool can retry it.
func (p *phaseRun) settle(ctx context.Context, item string, err error) error {
	if err == nil {
		return nil
	}
	var persistence error
	for _, e := range flatten(err) {
		switch {
		case clip.IsKind(e, clip.KindPersistence):
			persistence = e
		case clip.IsKind(e, clip.KindRow):
			p.warn(item, []error{e})
		default:
			p.fail(ctx, item, e)
		}
	}
	return persistence
}

// settleItem is settle for a single item: row errors become warnings and
// anything else is returned so the whole item is recorded as failed.
func (p *phaseRun) settleItem(item string, err error) error {
	if err == nil {
		return nil
	}
	var fatal error
	for _, e := range flatten(err) {
		switch {
		case clip.IsKind(e, clip.KindRow):
			p.warn(item, []error{e})
		case fatal == nil, clip.IsKind(e, clip.KindPersistence):
			fatal = e
		}
	}
	return fatal
}

// archive keeps a document that failed extraction and returns its URI.
func (p *phaseRun) archive(ctx context.Context, page clip.Page) string {
	if p.h.deps.Archive == nil || len(page.Body) == 0 {
		return ""
	}
	objectPath := path.Join(
		strings.Trim(p.h.cfg.ArchivePrefix, "/"),
		p.runID.String(),
		string(p.phase),
		sha256.Hex(page.Body)+".html",
	)
	uri, err := p.h.deps.Archive.PutObject(context.WithoutCancel(ctx), objectPath, "text/html", page.Body)
	if err != nil {
		p.logger.Warn("archive document", zap.String("url", page.URL), zap.Error(err))
		return ""
	}
	p.logger.Info("document archived", zap.String("url", page.URL), zap.String("uri", uri))
	return uri
}

// fetch gets a page and parses it. Parse failures archive the raw page.
func (p *phaseRun) fetch(ctx context.Context, url string) (clip.Page, *extract.Document, error) {
	page, err := p.h.deps.Transport.Get(ctx, url)
	if err != nil {
		return clip.Page{}, nil, err
	}
	doc, err := extract.Parse(page)
	if err != nil {
		p.archive(ctx, page)
		return page, nil, err
	}
	return page, doc, nil
}

// extracted archives page when extraction failed or skipped rows.
func (p *phaseRun) extracted(ctx context.Context, item string, page clip.Page, warnings []error, err error) {
	p.warn(item, warnings)
	if len(warnings) > 0 || (err != nil && !errors.Is(err, extract.ErrNoData)) {
		p.archive(ctx, page)
	}
}

// runPool drains items through the worker pool and records every failed item.
func runPool[T any](ctx context.Context, p *phaseRun, items []T, key func(T) string, fn worker.Func[T]) error {
	cfg := p.h.cfg
	pool := worker.New(items, fn, worker.Options[T]{
		Name:             string(p.phase),
		Workers:          cfg.Workers,
		ItemTimeout:      cfg.ItemTimeout,
		ProgressInterval: cfg.ProgressInterval,
		Retry:            worker.NewRetryPolicy(cfg.MaxRetries),
		Key:              key,
		Logger:           p.logger,
	})
	result, err := pool.Run(ctx)
	p.items.Add(int64(result.Processed))
	for _, f := range result.Failures {
		p.record(ctx, f.Key, f.Err)
	}
	return err
}

func urlOf(err error) string {
	var e *clip.Error
	if errors.As(err, &e) {
		return e.URL
	}
	return ""
}

// flatten unpacks errors.Join trees into their leaves.
func flatten(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []error{err}
}

func describe(parts ...any) string {
	s := make([]string, len(parts))
	for i, part := range parts {
		s[i] = fmt.Sprint(part)
	}
	return strings.Join(s, "/")
}
