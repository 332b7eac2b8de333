package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openclob/polymirror/internal/bus"
	"github.com/openclob/polymirror/internal/domain"
)

// handle is one live runner in the registry.
type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	paused atomic.Bool
}

// Engine supervises strategy runners. The registry of live runners, not the
// persisted status field, answers whether a strategy is running.
type Engine struct {
	strategies domain.StrategyStore
	events     domain.StrategyEventStore
	positions  domain.PositionStore
	trades     domain.TradeStore
	creds      domain.CredentialsStore

	markets discoverer
	clob    venue
	feed    feed
	bus     *bus.Bus
	logger  *slog.Logger
	chainID int

	mu      sync.Mutex
	runners map[int64]*handle
	baseCtx context.Context
}

// NewEngine wires an Engine. Runners are started on demand via Start or
// AutoStart.
func NewEngine(
	strategies domain.StrategyStore,
	events domain.StrategyEventStore,
	positions domain.PositionStore,
	trades domain.TradeStore,
	creds domain.CredentialsStore,
	markets discoverer,
	clob venue,
	f feed,
	b *bus.Bus,
	chainID int,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		strategies: strategies,
		events:     events,
		positions:  positions,
		trades:     trades,
		creds:      creds,
		markets:    markets,
		clob:       clob,
		feed:       f,
		bus:        b,
		logger:     logger.With(slog.String("component", "strategy_engine")),
		chainID:    chainID,
		runners:    make(map[int64]*handle),
		baseCtx:    context.Background(),
	}
}

// Run parents all runners to ctx and blocks until it is cancelled, then
// waits for every runner to finish.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.baseCtx = ctx
	e.mu.Unlock()

	<-ctx.Done()
	e.StopAll()
	return ctx.Err()
}

// Start launches a runner for the strategy. Starting an already-running
// strategy is an error.
func (e *Engine) Start(ctx context.Context, id int64) error {
	return e.start(ctx, id, false)
}

func (e *Engine) start(ctx context.Context, id int64, paused bool) error {
	s, err := e.strategies.Get(ctx, id)
	if err != nil {
		return err
	}

	module, err := newModule(s)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if _, running := e.runners[id]; running {
		e.mu.Unlock()
		return fmt.Errorf("strategy %d: %w: already running", id, domain.ErrAlreadyExists)
	}

	runCtx, cancel := context.WithCancel(e.baseCtx)
	h := &handle{cancel: cancel, done: make(chan struct{})}
	h.paused.Store(paused)
	e.runners[id] = h
	e.mu.Unlock()

	runner := newRunner(s, module, e, &h.paused)

	go func() {
		defer close(h.done)
		defer e.remove(id)
		defer e.recoverRunner(id)

		if err := runner.Run(runCtx); err != nil && runCtx.Err() == nil {
			e.logger.Error("runner exited with error",
				slog.Int64("strategy_id", id),
				slog.String("error", err.Error()),
			)
		}
	}()

	e.logger.Info("strategy started", slog.Int64("strategy_id", id), slog.String("name", s.Name))
	return nil
}

// Stop cancels a running strategy and waits for its runner to wind down.
func (e *Engine) Stop(ctx context.Context, id int64) error {
	e.mu.Lock()
	h, ok := e.runners[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("strategy %d: %w: not running", id, domain.ErrNotFound)
	}

	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause suspends signal evaluation for a running strategy. The runner stays
// alive and keeps tracking prices so Resume is instant.
func (e *Engine) Pause(ctx context.Context, id int64) error {
	e.mu.Lock()
	h, ok := e.runners[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("strategy %d: %w: not running", id, domain.ErrNotFound)
	}
	if !h.paused.CompareAndSwap(false, true) {
		return fmt.Errorf("strategy %d: %w: already paused", id, domain.ErrAlreadyExists)
	}

	if err := e.strategies.UpdateStatus(ctx, id, domain.StrategyPaused); err != nil {
		e.logger.Error("persist paused status",
			slog.Int64("strategy_id", id),
			slog.String("error", err.Error()),
		)
	}
	e.publishStatus(id, domain.StrategyPaused)
	e.logger.Info("strategy paused", slog.Int64("strategy_id", id))
	return nil
}

// Resume re-enables signal evaluation for a paused strategy.
func (e *Engine) Resume(ctx context.Context, id int64) error {
	e.mu.Lock()
	h, ok := e.runners[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("strategy %d: %w: not running", id, domain.ErrNotFound)
	}
	if !h.paused.CompareAndSwap(true, false) {
		return fmt.Errorf("strategy %d: %w: already running", id, domain.ErrAlreadyExists)
	}

	if err := e.strategies.UpdateStatus(ctx, id, domain.StrategyRunning); err != nil {
		e.logger.Error("persist running status",
			slog.Int64("strategy_id", id),
			slog.String("error", err.Error()),
		)
	}
	e.publishStatus(id, domain.StrategyRunning)
	e.logger.Info("strategy resumed", slog.Int64("strategy_id", id))
	return nil
}

// Paused reports whether a live runner is currently paused.
func (e *Engine) Paused(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.runners[id]
	return ok && h.paused.Load()
}

func (e *Engine) publishStatus(id int64, status domain.StrategyStatus) {
	ev := domain.Event{
		Type:    "strategy_status",
		Payload: domain.StrategyStatusEvent{StrategyID: id, Status: status},
	}
	e.bus.Publish(domain.TopicStrategy(id), ev)
	e.bus.Publish(domain.TopicStrategyUpdates, ev)
}

// Running reports whether a runner for the strategy is alive right now.
func (e *Engine) Running(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.runners[id]
	return ok
}

// RunningIDs returns the ids of all live runners, sorted.
func (e *Engine) RunningIDs() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]int64, 0, len(e.runners))
	for id := range e.runners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AutoStart relaunches every strategy that was running or paused before the
// last shutdown; paused ones come back with evaluation still suspended. A
// strategy that fails to start is logged and skipped so one bad config does
// not hold up the rest.
func (e *Engine) AutoStart(ctx context.Context) error {
	count := 0
	for _, status := range []domain.StrategyStatus{domain.StrategyRunning, domain.StrategyPaused} {
		persisted, err := e.strategies.ListByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("strategy: list %s strategies: %w", status, err)
		}
		for _, s := range persisted {
			if err := e.start(ctx, s.ID, status == domain.StrategyPaused); err != nil {
				e.logger.Error("auto-start failed",
					slog.Int64("strategy_id", s.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			count++
		}
	}

	e.logger.Info("auto-start complete", slog.Int("count", count))
	return nil
}

// StopAll cancels every runner and waits for them to finish.
func (e *Engine) StopAll() {
	e.mu.Lock()
	handles := make([]*handle, 0, len(e.runners))
	for _, h := range e.runners {
		h.cancel()
		handles = append(handles, h)
	}
	e.mu.Unlock()

	for _, h := range handles {
		<-h.done
	}
}

func (e *Engine) remove(id int64) {
	e.mu.Lock()
	delete(e.runners, id)
	e.mu.Unlock()
}

// recoverRunner converts a runner panic into a persisted error status. The
// engine and its other runners stay up.
func (e *Engine) recoverRunner(id int64) {
	rec := recover()
	if rec == nil {
		return
	}

	e.logger.Error("runner panicked",
		slog.Int64("strategy_id", id),
		slog.Any("panic", rec),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.strategies.UpdateStatus(ctx, id, domain.StrategyError); err != nil {
		e.logger.Error("persist error status after panic",
			slog.Int64("strategy_id", id),
			slog.String("error", err.Error()),
		)
	}
	e.bus.Publish(domain.TopicStrategyUpdates, domain.Event{
		Type:    "strategy_status",
		Payload: domain.StrategyStatusEvent{StrategyID: id, Status: domain.StrategyError},
	})
}
