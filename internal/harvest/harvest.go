// Package harvest sequences the crawl phases and feeds each phase's work list
// to the worker pool.
//
// Phases run in dependency order, since later phases resolve foreign keys
// against what earlier phases stored:
//
//	institutions → departments → classes → courses → admissions → enrollments → turns
//
// A parse failure stops the run. Every other failure is recorded against its
// work item in the failure ledger so the phase can be re-run later.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/clip-harvester/internal/clip"
	"github.com/JakeFAU/clip-harvester/internal/clock/system"
	uuidgen "github.com/JakeFAU/clip-harvester/internal/id/uuid"
	"github.com/JakeFAU/clip-harvester/internal/metrics"
	"github.com/JakeFAU/clip-harvester/internal/store"
)

// Phase names one harvest stage.
type Phase string

// Harvest phases in execution order.
const (
	PhaseInstitutions Phase = "institutions"
	PhaseDepartments  Phase = "departments"
	PhaseClasses      Phase = "classes"
	PhaseCourses      Phase = "courses"
	PhaseAdmissions   Phase = "admissions"
	PhaseEnrollments  Phase = "enrollments"
	PhaseTurns        Phase = "turns"
)

// Phases lists every phase in execution order.
var Phases = []Phase{
	PhaseInstitutions,
	PhaseDepartments,
	PhaseClasses,
	PhaseCourses,
	PhaseAdmissions,
	PhaseEnrollments,
	PhaseTurns,
}

// ParsePhase validates a phase name.
func ParsePhase(name string) (Phase, error) {
	p := Phase(name)
	if !slices.Contains(Phases, p) {
		return "", fmt.Errorf("unknown phase %q", name)
	}
	return p, nil
}

// Deps are the collaborators of a Harvester. Store and Transport are required.
type Deps struct {
	Store     *store.Store
	Transport clip.Transport
	// Archive keeps documents that failed extraction. Optional.
	Archive clip.Archive
	// Publisher receives one event per finished phase. Optional.
	Publisher clip.Publisher
	Clock     clip.Clock
	IDs       clip.IDGenerator
}

// Config tunes a harvest.
type Config struct {
	BaseURL          string
	Workers          int
	ItemTimeout      time.Duration
	ProgressInterval time.Duration
	MaxRetries       int
	ArchivePrefix    string
	Topic            string
}

// Harvester runs harvest phases against CLIP.
type Harvester struct {
	deps   Deps
	cfg    Config
	urls   clip.URLs
	logger *zap.Logger

	running atomic.Bool
	mu      sync.RWMutex
	status  Report
}

// ErrRunning is returned while another run is in progress.
var ErrRunning = errors.New("harvest already running")

// New builds a Harvester.
func New(deps Deps, cfg Config, logger *zap.Logger) *Harvester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = uuidgen.New()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Harvester{
		deps:   deps,
		cfg:    cfg,
		urls:   clip.NewURLs(cfg.BaseURL),
		logger: logger.Named("harvest"),
	}
}

// Run executes the given phases (all of them when none are given) in
// dependency order and returns the run report. Only one run executes at a time.
func (h *Harvester) Run(ctx context.Context, phases ...Phase) (Report, error) {
	selected, err := h.validate(phases)
	if err != nil {
		return Report{}, err
	}
	if !h.running.CompareAndSwap(false, true) {
		return Report{}, ErrRunning
	}
	defer h.running.Store(false)
	return h.run(ctx, selected)
}

// Start launches a run in the background and returns once it is accepted.
// The run lives on ctx, not on the caller's request.
func (h *Harvester) Start(ctx context.Context, phases ...Phase) error {
	selected, err := h.validate(phases)
	if err != nil {
		return err
	}
	if !h.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	go func() {
		defer h.running.Store(false)
		_, _ = h.run(ctx, selected)
	}()
	return nil
}

func (h *Harvester) validate(phases []Phase) ([]Phase, error) {
	if h.deps.Store == nil || h.deps.Transport == nil {
		return nil, errors.New("harvest: store and transport are required")
	}
	return order(phases)
}

func (h *Harvester) run(ctx context.Context, selected []Phase) (Report, error) {
	rawID, err := h.deps.IDs.NewID()
	if err != nil {
		return Report{}, fmt.Errorf("new run id: %w", err)
	}
	runID, err := uuid.Parse(rawID)
	if err != nil {
		return Report{}, fmt.Errorf("parse run id %q: %w", rawID, err)
	}

	names := make([]string, len(selected))
	for i, p := range selected {
		names[i] = string(p)
	}
	run := store.Run{ID: runID, Phases: names, StartedAt: h.deps.Clock.Now()}
	if err := h.deps.Store.LoadCaches(ctx); err != nil {
		return Report{}, fmt.Errorf("load caches: %w", err)
	}
	if err := h.deps.Store.StartRun(ctx, run); err != nil {
		return Report{}, fmt.Errorf("start run: %w", err)
	}

	h.setStatus(Report{RunID: rawID, StartedAt: run.StartedAt, Running: true})
	logger := h.logger.With(zap.String("run_id", rawID))
	logger.Info("harvest starting", zap.Strings("phases", names))

	var runErr error
	for _, phase := range selected {
		if runErr = ctx.Err(); runErr != nil {
			break
		}
		pr := h.runPhase(ctx, runID, phase, logger)
		h.appendPhase(pr)
		if pr.err != nil {
			runErr = fmt.Errorf("phase %s: %w", phase, pr.err)
			break
		}
	}

	// The run row is closed even when ctx was canceled.
	finishCtx := context.WithoutCancel(ctx)
	if err := h.deps.Store.FinishRun(finishCtx, run, runErr); err != nil {
		logger.Error("finish run", zap.Error(err))
	}
	report := h.finish(runErr)
	if runErr != nil {
		logger.Error("harvest failed", zap.Error(runErr))
	} else {
		logger.Info("harvest finished", zap.Int("items", report.Items()), zap.Int("failed", report.Failed()))
	}
	return report, runErr
}

func (h *Harvester) runPhase(ctx context.Context, runID uuid.UUID, phase Phase, logger *zap.Logger) PhaseReport {
	p := &phaseRun{
		h:      h,
		runID:  runID,
		phase:  phase,
		logger: logger.With(zap.String("phase", string(phase))),
	}
	p.logger.Info("phase starting")
	start := h.deps.Clock.Now()

	var err error
	switch phase {
	case PhaseInstitutions:
		err = h.institutions(ctx, p)
	case PhaseDepartments:
		err = h.departments(ctx, p)
	case PhaseClasses:
		err = h.classes(ctx, p)
	case PhaseCourses:
		err = h.courses(ctx, p)
	case PhaseAdmissions:
		err = h.admissions(ctx, p)
	case PhaseEnrollments:
		err = h.enrollments(ctx, p)
	case PhaseTurns:
		err = h.turns(ctx, p)
	}
	finished := h.deps.Clock.Now()

	pr := p.report(start, finished, err)
	metrics.ObservePhase(string(phase), pr.Duration)
	p.logger.Info("phase finished",
		zap.Int("items", pr.Items),
		zap.Int("failed", pr.Failed),
		zap.Int("warnings", pr.Warnings),
		zap.Duration("duration", pr.Duration),
		zap.Error(err),
	)
	h.publish(ctx, runID, pr)
	return pr
}

// order dedupes phases and sorts them into execution order.
func order(phases []Phase) ([]Phase, error) {
	if len(phases) == 0 {
		return slices.Clone(Phases), nil
	}
	for _, p := range phases {
		if !slices.Contains(Phases, p) {
			return nil, fmt.Errorf("unknown phase %q", p)
		}
	}
	var out []Phase
	for _, p := range Phases {
		if slices.Contains(phases, p) {
			out = append(out, p)
		}
	}
	return out, nil
}
