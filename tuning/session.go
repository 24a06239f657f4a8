// Package tuning implements the per-call-site state machine that
// interleaves asynchronous compilation, measurement, and dispatch on
// the application's GPU stream: Compiling, Tuning, Measuring, Finished.
package tuning

import (
	"context"
	"math"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/notargets/kerneltune/compiler"
	"github.com/notargets/kerneltune/driver"
	"github.com/notargets/kerneltune/errs"
	"github.com/notargets/kerneltune/internal/klog"
	"github.com/notargets/kerneltune/kernel"
	"github.com/notargets/kerneltune/param"
	"github.com/notargets/kerneltune/space"
	"github.com/notargets/kerneltune/strategy"
	"github.com/notargets/kerneltune/value"
)

// State is one of the four stages a call site's tuning session cycles
// through.
type State int

const (
	Uninitialized State = iota
	Compiling
	Tuning
	Measuring
	Finished
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Compiling:
		return "compiling"
	case Tuning:
		return "tuning"
	case Measuring:
		return "measuring"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// variant is one compiled configuration in flight: its binding, its
// eventually-ready handle, and the driver module loaded from it once
// the future resolves.
type variant struct {
	cfg     space.Config
	handle  *kernel.Handle
	module  driver.Module
	loaded  bool
}

// Session is one call site's tuning state machine. It is not safe for
// concurrent use; the application must serialize Dispatch calls, which
// is naturally the case since each call site owns one command stream.
type Session struct {
	ID uuid.UUID

	builder    *kernel.Builder
	strategy   strategy.Strategy
	compiler   compiler.Compiler
	paramTypes []value.Type
	newAgg     func() *Aggregator

	log klog.Logger

	state State

	current *variant
	best    *variant
	bestPerf float64

	aggregator *Aggregator

	beforeEvent, afterEvent driver.Event
	lastProblemSize         [3]uint32
}

// NewSession starts a state machine for one call site of b, searched by
// strat and compiled through c. newAgg constructs a fresh Aggregator for
// each variant measured.
func NewSession(b *kernel.Builder, strat strategy.Strategy, paramTypes []value.Type, c compiler.Compiler, newAgg func() *Aggregator, log klog.Logger) *Session {
	if log == nil {
		log = klog.Default()
	}
	id := uuid.New()
	return &Session{
		ID:         id,
		builder:    b,
		strategy:   strat,
		compiler:   c,
		paramTypes: paramTypes,
		newAgg:     newAgg,
		log:        log.With("session", id.String()).With("kernel", b.Name),
		state:      Uninitialized,
		bestPerf:   math.Inf(-1),
	}
}

// State reports the session's current stage.
func (s *Session) State() State { return s.state }

// BestPerformance reports the highest performance recorded so far, or
// -Inf before any variant has finished measuring. It is monotonically
// non-decreasing across the session's lifetime.
func (s *Session) BestPerformance() float64 { return s.bestPerf }

// BestConfig returns the configuration of the best variant recorded so
// far, or the zero Config if none has been measured yet.
func (s *Session) BestConfig() space.Config {
	if s.best == nil {
		return space.Config{}
	}
	return s.best.cfg
}

// Dispatch advances the state machine by exactly one application launch
// request and enqueues whatever kernel launch is appropriate — the
// current variant if ready, the best-known variant as a non-blocking
// fallback, or (only when no fallback exists) a blocking wait for the
// first compile.
func (s *Session) Dispatch(ctx context.Context, dev driver.Device, stream driver.Stream, problemSize [3]uint32, args ...any) error {
	if s.state == Uninitialized {
		if err := s.start(ctx); err != nil {
			return err
		}
	}

	switch s.state {
	case Compiling:
		return s.dispatchCompiling(ctx, dev, stream, problemSize, args)
	case Measuring:
		return s.dispatchMeasuring(ctx, dev, stream, problemSize, args)
	case Finished:
		return s.launch(ctx, stream, s.best, problemSize, args)
	default:
		return errors.Errorf("tuning session in unreachable state %s", s.state.String())
	}
}

func (s *Session) start(ctx context.Context) error {
	var cfg space.Config
	ok, err := s.strategy.Init(&cfg)
	if err != nil {
		return err
	}
	if !ok {
		return &errs.NoValidConfigError{}
	}
	v, err := s.compileVariant(ctx, cfg)
	if err != nil {
		return err
	}
	s.current = v
	s.state = Compiling
	log := s.log
	if descs := describedParams(s.builder.Parameters()); len(descs) > 0 {
		log = log.With("parameter_descriptions", descs)
	}
	log.Info("tuning session started", "state", s.state.String())
	return nil
}

// describedParams collects the name->description pairs of params that
// carry a human-readable description, for the session-start log line.
func describedParams(params []*param.Parameter) map[string]string {
	out := make(map[string]string)
	for _, p := range params {
		if d := p.Description(); d != "" {
			out[p.Name()] = d
		}
	}
	return out
}

func (s *Session) compileVariant(ctx context.Context, cfg space.Config) (*variant, error) {
	h, err := s.builder.Compile(ctx, cfg, s.paramTypes, s.compiler)
	if err != nil {
		return nil, err
	}
	return &variant{cfg: cfg, handle: h}, nil
}

// ensureLoaded loads v's driver module once its compile future resolves.
// A resolution error is returned to the caller so Compiling can treat it
// as a per-configuration compile fault.
func (s *Session) ensureLoaded(dev driver.Device, v *variant) error {
	if v.loaded || !v.handle.Future.Ready() {
		return nil
	}
	mod, err := v.handle.Future.Wait(context.Background())
	if err != nil {
		return err
	}
	dm, err := dev.LoadModule(mod.PTX, mod.Symbol)
	if err != nil {
		return err
	}
	v.module = dm
	v.loaded = true
	return nil
}

func (s *Session) dispatchCompiling(ctx context.Context, dev driver.Device, stream driver.Stream, problemSize [3]uint32, args []any) error {
	if err := s.ensureLoaded(dev, s.current); err != nil {
		return s.handleCompileFault(ctx, dev, stream, problemSize, args, err)
	}
	if s.current.loaded {
		return s.tuneLaunch(ctx, dev, stream, problemSize, args)
	}
	if s.best != nil {
		return s.launch(ctx, stream, s.best, problemSize, args)
	}

	mod, err := s.current.handle.Future.Wait(ctx)
	if err != nil {
		return s.handleCompileFault(ctx, dev, stream, problemSize, args, err)
	}
	dm, err := dev.LoadModule(mod.PTX, mod.Symbol)
	if err != nil {
		return err
	}
	s.current.module = dm
	s.current.loaded = true
	return s.tuneLaunch(ctx, dev, stream, problemSize, args)
}

// tuneLaunch records the before/after events around one launch of the
// current variant and transitions to Measuring.
func (s *Session) tuneLaunch(ctx context.Context, dev driver.Device, stream driver.Stream, problemSize [3]uint32, args []any) error {
	before, after := s.beforeEvent, s.afterEvent
	if before == nil {
		var err error
		before, err = dev.NewEvent()
		if err != nil {
			return err
		}
	}
	if after == nil {
		var err error
		after, err = dev.NewEvent()
		if err != nil {
			return err
		}
	}

	if err := stream.Record(before); err != nil {
		return err
	}
	grid := s.current.handle.GridSize(problemSize)
	if err := s.current.module.Launch(ctx, stream, grid, s.current.handle.BlockSize, s.current.handle.SharedMemory, args...); err != nil {
		return err
	}
	if err := stream.Record(after); err != nil {
		return err
	}

	s.beforeEvent, s.afterEvent = before, after
	s.lastProblemSize = problemSize
	if s.aggregator == nil {
		s.aggregator = s.newAgg()
	}
	s.state = Measuring
	return nil
}

func (s *Session) dispatchMeasuring(ctx context.Context, dev driver.Device, stream driver.Stream, problemSize [3]uint32, args []any) error {
	if err := s.afterEvent.Synchronize(ctx); err != nil {
		return err
	}
	elapsed, err := s.afterEvent.ElapsedSince(s.beforeEvent)
	if err != nil {
		return err
	}
	workload := float64(s.lastProblemSize[0]) * float64(s.lastProblemSize[1]) * float64(s.lastProblemSize[2])
	s.aggregator.Add(workload, elapsed)

	if !s.aggregator.Ready() {
		return s.tuneLaunch(ctx, dev, stream, problemSize, args)
	}

	perf := s.aggregator.Performance()
	s.aggregator.Reset()
	s.beforeEvent, s.afterEvent = nil, nil

	if s.best == nil || perf > s.bestPerf {
		s.bestPerf = perf
		s.best = s.current
	}

	nextCfg := s.current.cfg
	ok, err := s.strategy.Submit(perf, &nextCfg)
	if err != nil {
		return err
	}
	if !ok {
		s.state = Finished
		s.current = nil
		s.compiler = nil
		s.strategy = nil
		s.log.Info("tuning finished", "best_performance", s.bestPerf)
		return s.launch(ctx, stream, s.best, problemSize, args)
	}

	v, err := s.compileVariant(ctx, nextCfg)
	if err != nil {
		return err
	}
	s.current = v
	s.state = Compiling
	if s.best != nil {
		return s.launch(ctx, stream, s.best, problemSize, args)
	}
	return nil
}

// handleCompileFault records cerr's configuration as performance -Inf,
// asks the strategy for the next configuration, and resumes.
func (s *Session) handleCompileFault(ctx context.Context, dev driver.Device, stream driver.Stream, problemSize [3]uint32, args []any, cerr error) error {
	s.log.Warn("compile failed, recording as -Inf performance", "error", cerr.Error())
	next := s.current.cfg
	ok, err := s.strategy.Submit(math.Inf(-1), &next)
	if err != nil {
		return err
	}
	if !ok {
		s.state = Finished
		if s.best == nil {
			return cerr
		}
		return s.launch(ctx, stream, s.best, problemSize, args)
	}
	v, err := s.compileVariant(ctx, next)
	if err != nil {
		return err
	}
	s.current = v
	if s.best != nil {
		return s.launch(ctx, stream, s.best, problemSize, args)
	}
	return s.dispatchCompiling(ctx, dev, stream, problemSize, args)
}

func (s *Session) launch(ctx context.Context, stream driver.Stream, v *variant, problemSize [3]uint32, args []any) error {
	grid := v.handle.GridSize(problemSize)
	return v.module.Launch(ctx, stream, grid, v.handle.BlockSize, v.handle.SharedMemory, args...)
}
