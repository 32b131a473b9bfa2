// Package scheduler drives the poll cycle on a fixed cadence.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/release-watcher/internal/diff"
	"github.com/JakeFAU/release-watcher/internal/dispatcher"
	"github.com/JakeFAU/release-watcher/internal/metrics"
	"github.com/JakeFAU/release-watcher/internal/release"
	"github.com/JakeFAU/release-watcher/internal/store"
)

// State controls whether discoveries are announced.
type State int

// Scheduler states.
const (
	// Warming records discoveries without announcing them.
	Warming State = iota
	// Steady announces every discovery.
	Steady
)

func (s State) String() string {
	if s == Steady {
		return "steady"
	}
	return "warming"
}

// Config holds loop timing.
type Config struct {
	Interval         time.Duration
	WarmupCooldown   time.Duration
	RecoveryInterval time.Duration
	// SkipFirstAlert starts the scheduler in Warming.
	SkipFirstAlert bool
}

// Differ finds identifiers not seen before.
type Differ interface {
	Run(ctx context.Context, sources []release.Source) (diff.Result, error)
}

// Extractor fetches and parses identifiers.
type Extractor interface {
	Extract(ctx context.Context, ids []string, detail release.Detail) []release.Item
}

// Notifier announces one item to all subscribers.
type Notifier interface {
	Notify(ctx context.Context, item release.Item) (dispatcher.Delivery, error)
}

// KnownState is the persisted set of known identifiers.
type KnownState interface {
	Snapshot() store.Snapshot
	Restore(snap store.Snapshot)
	Persist(ctx context.Context) error
}

// Report describes one completed cycle.
type Report struct {
	CycleID    string        `json:"cycle_id"`
	State      string        `json:"state"`
	New        int           `json:"new"`
	Announced  int           `json:"announced"`
	Suppressed int           `json:"suppressed"`
	Failed     int           `json:"failed_pages"`
	WarmedUp   bool          `json:"warmed_up"`
	Duration   time.Duration `json:"duration"`
}

// Scheduler runs poll cycles. Cycles never overlap.
type Scheduler struct {
	cfg       Config
	sources   []release.Source
	differ    Differ
	extractor Extractor
	notifier  Notifier
	known     KnownState
	ids       release.IDGenerator
	clock     release.Clock
	logger    *zap.Logger

	cycleMu sync.Mutex
	stateMu sync.RWMutex
	state   State
	sleep   func(ctx context.Context, d time.Duration) error
}

// Deps groups the collaborators of a Scheduler.
type Deps struct {
	Differ    Differ
	Extractor Extractor
	Notifier  Notifier
	Known     KnownState
	IDs       release.IDGenerator
	Clock     release.Clock
	Logger    *zap.Logger
}

// New constructs a Scheduler.
func New(cfg Config, sources []release.Source, deps Deps) *Scheduler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	state := Steady
	if cfg.SkipFirstAlert {
		state = Warming
	}
	return &Scheduler{
		cfg:       cfg,
		sources:   append([]release.Source(nil), sources...),
		differ:    deps.Differ,
		extractor: deps.Extractor,
		notifier:  deps.Notifier,
		known:     deps.Known,
		ids:       deps.IDs,
		clock:     deps.Clock,
		logger:    logger,
		state:     state,
		sleep:     sleepCtx,
	}
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Scheduler) setState(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

// Cycle runs one pass: diff every source, persist, then announce when
// Steady. If persisting fails the cycle's discoveries are forgotten and
// nothing is announced, so the next cycle finds them again.
func (s *Scheduler) Cycle(ctx context.Context) (Report, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := s.clock.Now()
	report := Report{State: s.State().String()}
	if id, err := s.ids.NewID(); err == nil {
		report.CycleID = id
	}
	logger := s.logger.With(zap.String("cycle_id", report.CycleID))

	before := s.known.Snapshot()
	res, err := s.differ.Run(ctx, s.sources)
	if err != nil {
		s.known.Restore(before)
		metrics.ObservePollCycle("error")
		return report, fmt.Errorf("diff sources: %w", err)
	}
	report.New = len(res.New)
	report.Failed = res.Failed

	if len(res.New) > 0 {
		if err := s.known.Persist(ctx); err != nil {
			s.known.Restore(before)
			metrics.ObservePollCycle("error")
			return report, err
		}
	}

	switch {
	case len(res.New) == 0:
	case s.State() == Warming:
		report.WarmedUp = true
		s.setState(Steady)
		logger.Info("initial discoveries recorded without announcement", zap.Int("new", report.New))
	default:
		s.announce(ctx, logger, res.New, &report)
	}

	report.Duration = s.clock.Now().Sub(start)
	metrics.ObservePollCycle(report.State)
	logger.Info("poll cycle finished",
		zap.Int("new", report.New),
		zap.Int("announced", report.Announced),
		zap.Int("suppressed", report.Suppressed),
		zap.Int("failed_pages", report.Failed),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (s *Scheduler) announce(ctx context.Context, logger *zap.Logger, found []diff.Discovery, report *Report) {
	for _, d := range found {
		if !d.Source.Announce {
			continue
		}
		for _, item := range s.extractor.Extract(ctx, []string{d.URL}, release.DetailLess) {
			delivery, err := s.notifier.Notify(ctx, item)
			if err != nil {
				logger.Warn("announcement interrupted", zap.String("url", item.URL), zap.Error(err))
				return
			}
			if delivery.Skipped {
				report.Suppressed++
				continue
			}
			report.Announced++
		}
	}
}

// Run cycles until ctx is canceled. Errors and panics inside a cycle are
// logged and followed by the recovery interval.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		wait := s.cfg.Interval
		report, err := s.safeCycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case err != nil:
			s.logger.Error("poll cycle failed", zap.Error(err), zap.Duration("retry_in", s.cfg.RecoveryInterval))
			wait = s.cfg.RecoveryInterval
		case report.WarmedUp:
			wait = s.cfg.WarmupCooldown + s.cfg.Interval
		}
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Scheduler) safeCycle(ctx context.Context) (report Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ObservePollCycle("panic")
			err = fmt.Errorf("poll cycle panicked: %v", r)
		}
	}()
	return s.Cycle(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
