package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ambudispatch/internal/metrics"
	"ambudispatch/internal/model"
)

// Events published by the tracking side.
const (
	EventLocations     = "locations.snapshot"
	EventAlertRaised   = "alert.raised"
	EventAlertResolved = "alert.resolved"
	EventETAUpdated    = "location.eta"
)

// Notifier receives tracking events.
type Notifier interface {
	Emit(ctx context.Context, eventType string, data any)
}

// ErrTickInProgress is returned by Tick when the previous tick has not finished.
var ErrTickInProgress = errors.New("tick already in progress")

// Scheduler periodically moves vehicles and evaluates alerts. Ticks never overlap.
type Scheduler struct {
	Simulator *Simulator
	Alerts    *AlertGenerator
	Events    Notifier
	Interval  time.Duration
	// Timeout bounds the store work of one tick. Zero uses Interval.
	Timeout time.Duration
	Log     logrus.FieldLogger
	Now     func() time.Time

	tickMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(sim *Simulator, alerts *AlertGenerator, interval time.Duration, events Notifier, log logrus.FieldLogger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scheduler{
		Simulator: sim,
		Alerts:    alerts,
		Events:    events,
		Interval:  interval,
		Log:       log,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// Tick runs one simulation step followed by alert evaluation and publishes the results.
func (s *Scheduler) Tick(ctx context.Context) error {
	if !s.tickMu.TryLock() {
		metrics.SimulationTicks.WithLabelValues("skipped").Inc()
		return ErrTickInProgress
	}
	defer s.tickMu.Unlock()

	start := time.Now()
	defer func() { metrics.SimulationTickDuration.Observe(time.Since(start).Seconds()) }()

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = s.Interval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	now := s.Now()
	locs, err := s.Simulator.Step(ctx, now)
	if err != nil {
		metrics.SimulationTicks.WithLabelValues("error").Inc()
		return err
	}
	var raised []model.LocationAlert
	if s.Alerts != nil {
		raised, err = s.Alerts.Evaluate(ctx, locs, now)
		if err != nil {
			metrics.SimulationTicks.WithLabelValues("error").Inc()
			return err
		}
	}
	if s.Events != nil {
		snapshot, err := s.Simulator.Store.ListLocations(ctx)
		if err != nil {
			s.Log.WithError(err).Warn("snapshot locations")
		} else {
			s.Events.Emit(ctx, EventLocations, snapshot)
		}
		for _, a := range raised {
			s.Events.Emit(ctx, EventAlertRaised, a)
		}
	}
	metrics.SimulationTicks.WithLabelValues("ok").Inc()
	if len(raised) > 0 {
		s.Log.WithField("alerts", len(raised)).Info("location alerts raised")
	}
	return nil
}

// Run ticks every Interval until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			// overlap is expected when a tick outlasts the interval
			if err := s.Tick(ctx); err != nil && !errors.Is(err, ErrTickInProgress) && ctx.Err() == nil {
				s.Log.WithError(err).Warn("tracking tick failed")
			}
		}
	}
}

// Start runs the scheduler in its own goroutine until Stop or ctx cancellation. Callers that
// already manage goroutines, such as cmd/api with its errgroup, call Run directly.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		_ = s.Run(ctx)
	}(s.done)
}

// Stop halts a started scheduler and waits for the running tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
