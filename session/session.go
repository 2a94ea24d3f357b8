package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cepro/metersim/meter"
	"github.com/cepro/metersim/metrics"
	"github.com/cepro/metersim/telemetry"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultEmitInterval    = 2 * time.Second
	DefaultPersistInterval = 60 * time.Second
	DefaultPersistTimeout  = 10 * time.Second
)

var (
	ErrMissingBaseline = errors.New("missing meter baseline")
	ErrAlreadyStarted  = errors.New("session already started")
	ErrStopped         = errors.New("session stopped")
)

// State is the lifecycle state of a Session.
type State int

const (
	Created State = iota
	Active
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Active:
		return "active"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Config struct {
	MeterIDs        []string           // the meters simulated for the subscriber, in emit order
	Baselines       map[string]float64 // keyed by meter ID, every meter must have one
	EmitInterval    time.Duration
	PersistInterval time.Duration
	PersistTimeout  time.Duration // how long a single storage write may take
	Transport       string         // used to label metrics
}

// Validate checks that every tracked meter has a baseline and that the intervals are usable.
func (c Config) Validate() error {
	if len(c.MeterIDs) == 0 {
		return errors.New("no meters configured")
	}
	for _, id := range c.MeterIDs {
		if _, ok := c.Baselines[id]; !ok {
			return fmt.Errorf("%w: '%s'", ErrMissingBaseline, id)
		}
	}
	if c.EmitInterval <= 0 || c.PersistInterval <= 0 {
		return fmt.Errorf("invalid intervals: emit %v, persist %v", c.EmitInterval, c.PersistInterval)
	}
	return nil
}

// Session runs an independent meter simulation for one subscriber.
//
// Two loops run once the session is started: the emit loop generates a reading for every meter and pushes it to
// the subscriber, the persist loop writes the latest reading of each meter to storage. Nothing is shared with other
// sessions apart from the storage Gateway.
type Session struct {
	id        string
	config    Config
	generator *meter.Generator
	gateway   Gateway
	channel   Channel
	logger    *slog.Logger

	lock    sync.Mutex // guards everything below
	state   State
	meters  map[string]meter.State
	latest  map[string]telemetry.ReadingEvent // the last reading emitted for each meter
	unsaved map[string]bool                   // meters whose latest reading has not been written yet
	ctx     context.Context
	cancel  context.CancelFunc
	running bool

	done     chan struct{}
	doneOnce sync.Once
}

func New(id string, config Config, generator *meter.Generator, gateway Gateway, channel Channel) *Session {
	if config.PersistTimeout <= 0 {
		config.PersistTimeout = DefaultPersistTimeout
	}
	return &Session{
		id:        id,
		config:    config,
		generator: generator,
		gateway:   gateway,
		channel:   channel,
		logger:    slog.Default().With("session_id", id),
		state:     Created,
		meters:    make(map[string]meter.State, len(config.MeterIDs)),
		latest:    make(map[string]telemetry.ReadingEvent, len(config.MeterIDs)),
		unsaved:   make(map[string]bool, len(config.MeterIDs)),
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Done is closed once the session is stopped and its loops have returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Readings returns the current cumulative reading of each meter.
func (s *Session) Readings() map[string]float64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	readings := make(map[string]float64, len(s.meters))
	for id, state := range s.meters {
		readings[id] = state.Reading
	}
	return readings
}

// Latest returns the last reading event emitted for each meter.
func (s *Session) Latest() map[string]telemetry.ReadingEvent {
	s.lock.Lock()
	defer s.lock.Unlock()

	latest := make(map[string]telemetry.ReadingEvent, len(s.latest))
	for id, event := range s.latest {
		latest[id] = event
	}
	return latest
}

// Start seeds the meters, hooks the subscriber's disconnection and starts the emit and persist loops on tickers.
//
// `ctx` bounds the life of the session, it should not be a request scoped context.
func (s *Session) Start(ctx context.Context) error {
	err := s.Seed(ctx)
	if err != nil {
		return err
	}

	s.channel.OnDisconnect(s.id, s.Stop)

	emitTicker := time.NewTicker(s.config.EmitInterval)
	persistTicker := time.NewTicker(s.config.PersistInterval)
	go func() {
		defer emitTicker.Stop()
		defer persistTicker.Stop()
		s.Run(emitTicker.C, persistTicker.C)
	}()

	return nil
}

// Seed sets every meter to its last stored reading, or its baseline if there is none, and makes the session active.
// A failure to read from storage is not fatal, but a meter without a baseline is.
func (s *Session) Seed(ctx context.Context) error {
	err := s.config.Validate()
	if err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := s.checkState(Created); err != nil {
		return err
	}

	meters := make(map[string]meter.State, len(s.config.MeterIDs))
	for _, id := range s.config.MeterIDs {
		baseline := s.config.Baselines[id]
		reading, found, err := s.gateway.FetchLastReading(ctx, id)
		switch {
		case err != nil:
			s.logger.Warn("Failed to fetch last reading, starting from baseline", "meter_id", id, "baseline", baseline, "error", err)
			reading = baseline
		case !found:
			s.logger.Info("No previous readings found, starting from baseline", "meter_id", id, "baseline", baseline)
			reading = baseline
		default:
			s.logger.Info("Starting from last saved reading", "meter_id", id, "reading", reading)
		}
		meters[id] = meter.NewState(id, reading, baseline)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	// the session may have been stopped while storage was being queried
	if s.state != Created {
		return ErrStopped
	}
	s.meters = meters
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.state = Active

	return nil
}

// Run runs the emit and persist loops until the session is stopped, ticking on the given channels.
// The session must have been seeded.
func (s *Session) Run(emitTicks, persistTicks <-chan time.Time) {
	s.lock.Lock()
	if s.running || s.ctx == nil || s.state == Stopped {
		s.lock.Unlock()
		return
	}
	s.running = true
	ctx := s.ctx
	s.lock.Unlock()

	defer s.closeDone()
	defer s.markStopped()

	metrics.SessionStarted(s.config.Transport)
	defer metrics.SessionStopped(s.config.Transport)
	s.logger.Info("Session started", "meters", len(s.config.MeterIDs), "emit_interval", s.config.EmitInterval, "persist_interval", s.config.PersistInterval)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.emitLoop(ctx, emitTicks)
		return nil
	})
	group.Go(func() error {
		s.persistLoop(ctx, persistTicks)
		return nil
	})
	group.Wait()
}

// Pause halts the emit loop without losing any state. It returns false if the session was not active.
func (s *Session) Pause() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state != Active {
		return false
	}
	s.state = Paused
	s.logger.Info("Session paused")
	return true
}

// Resume restarts emission after Pause. The meters carry on from where they were, they are not re-seeded.
func (s *Session) Resume() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state != Paused {
		return false
	}
	s.state = Active
	s.logger.Info("Session resumed")
	return true
}

// Stop cancels both loops. Writes already issued to storage are left to finish on their own.
// Calling Stop more than once has no further effect.
func (s *Session) Stop() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state == Stopped {
		return
	}
	previous := s.state
	s.state = Stopped
	if s.cancel != nil {
		s.cancel()
	}
	if !s.running {
		s.closeDone()
	}
	s.logger.Info("Session stopped", "previous_state", previous)
}

func (s *Session) emitLoop(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ticks:
			if !ok || ctx.Err() != nil {
				return
			}
			s.emit(t)
		}
	}
}

func (s *Session) persistLoop(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ticks:
			if !ok || ctx.Err() != nil {
				return
			}
			s.persist(ctx)
		}
	}
}

// emit advances every meter to time `t` and pushes the readings to the subscriber.
func (s *Session) emit(t time.Time) {
	s.lock.Lock()
	if s.state != Active {
		s.lock.Unlock()
		return
	}
	events := make([]telemetry.ReadingEvent, 0, len(s.config.MeterIDs))
	for _, id := range s.config.MeterIDs {
		next, event := s.generator.Next(s.meters[id], t)
		s.meters[id] = next
		s.latest[id] = event
		s.unsaved[id] = true
		events = append(events, event)
	}
	s.lock.Unlock()

	for _, event := range events {
		metrics.ObserveReading(event)

		err := s.channel.Push(s.id, event)
		if errors.Is(err, ErrSubscriberGone) {
			s.logger.Info("Subscriber is gone", "meter_id", event.MeterID)
			s.Stop()
			return
		}
		if err != nil {
			s.logger.Warn("Failed to push reading", "meter_id", event.MeterID, "error", err)
		}
	}
}

// persist writes the latest reading of every meter that has changed since it was last written.
// A failed write is retried on the next tick with whatever reading is latest by then.
func (s *Session) persist(ctx context.Context) {
	s.lock.Lock()
	pending := make([]telemetry.ReadingEvent, 0, len(s.unsaved))
	for _, id := range s.config.MeterIDs {
		if s.unsaved[id] {
			pending = append(pending, s.latest[id])
			delete(s.unsaved, id)
		}
	}
	s.lock.Unlock()

	for _, event := range pending {
		if ctx.Err() != nil {
			return
		}

		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.PersistTimeout)
		err := s.gateway.AppendReading(writeCtx, event.MeterID, event.Reading, event.Time)
		cancel()

		if err != nil {
			s.logger.Error("Failed to persist reading", "meter_id", event.MeterID, "reading", event.Reading, "error", err)
			metrics.CountPersistFailure(event.MeterID)
			s.lock.Lock()
			s.unsaved[event.MeterID] = true
			s.lock.Unlock()
			continue
		}
		metrics.ObservePersisted(event.MeterID, event.Reading)
		s.logger.Debug("Persisted reading", "meter_id", event.MeterID, "reading", event.Reading, "time", event.Timestamp())
	}
}

// checkState returns an error unless the session is in the expected state.
func (s *Session) checkState(expected State) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	switch {
	case s.state == expected:
		return nil
	case s.state == Stopped:
		return ErrStopped
	default:
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, s.state)
	}
}

// markStopped records that the loops have exited, which also happens when the parent context is cancelled.
func (s *Session) markStopped() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.state = Stopped
}

func (s *Session) closeDone() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}
