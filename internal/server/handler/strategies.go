package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/openclob/polymirror/internal/domain"
)

// StrategyEngine is the supervisor surface the strategy endpoints drive.
// Running consults the live runner registry, which is authoritative; the
// persisted status only records the last intent.
type StrategyEngine interface {
	Start(ctx context.Context, id int64) error
	Stop(ctx context.Context, id int64) error
	Pause(ctx context.Context, id int64) error
	Resume(ctx context.Context, id int64) error
	Running(id int64) bool
	Paused(id int64) bool
}

// StrategyHandler serves strategy CRUD, lifecycle, and log endpoints.
type StrategyHandler struct {
	strategies domain.StrategyStore
	events     domain.StrategyEventStore
	positions  domain.PositionStore
	trades     domain.TradeStore
	engine     StrategyEngine
	logger     *slog.Logger
}

func NewStrategyHandler(
	strategies domain.StrategyStore,
	events domain.StrategyEventStore,
	positions domain.PositionStore,
	trades domain.TradeStore,
	engine StrategyEngine,
	logger *slog.Logger,
) *StrategyHandler {
	return &StrategyHandler{
		strategies: strategies,
		events:     events,
		positions:  positions,
		trades:     trades,
		engine:     engine,
		logger:     logger,
	}
}

type strategyRequest struct {
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Config    map[string]any `json:"config"`
	PaperMode *bool          `json:"paper_mode"`
}

// displayStatus overlays the registry's view onto the persisted status: a
// strategy is "running" or "paused" exactly when its runner is alive.
func (h *StrategyHandler) displayStatus(s domain.Strategy) domain.Strategy {
	switch {
	case h.engine.Paused(s.ID):
		s.Status = domain.StrategyPaused
	case h.engine.Running(s.ID):
		s.Status = domain.StrategyRunning
	case s.Status == domain.StrategyRunning || s.Status == domain.StrategyPaused:
		s.Status = domain.StrategyStopped
	}
	return s
}

// List returns all strategies with registry-derived status.
// GET /api/strategies
func (h *StrategyHandler) List(w http.ResponseWriter, r *http.Request) {
	strategies, err := h.strategies.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list strategies failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list strategies")
		return
	}

	out := make([]domain.Strategy, 0, len(strategies))
	for _, s := range strategies {
		out = append(out, h.displayStatus(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategies": out})
}

// Create stores a new strategy in the stopped state.
// POST /api/strategies
func (h *StrategyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req strategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Type != domain.StrategyTypeTimeDecay {
		writeError(w, http.StatusBadRequest, "unknown strategy type: "+req.Type)
		return
	}

	paper := true
	if req.PaperMode != nil {
		paper = *req.PaperMode
	}

	s, err := h.strategies.Create(r.Context(), domain.Strategy{
		Name:      req.Name,
		Type:      req.Type,
		Config:    req.Config,
		Status:    domain.StrategyStopped,
		PaperMode: paper,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create strategy failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create strategy")
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// Get returns one strategy.
// GET /api/strategies/{id}
func (h *StrategyHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadStrategy(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.displayStatus(s))
}

// Update edits name, config, and paper mode. Running strategies must be
// stopped first; a runner never observes a config change mid-flight.
// PUT /api/strategies/{id}
func (h *StrategyHandler) Update(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadStrategy(w, r)
	if !ok {
		return
	}
	if h.engine.Running(s.ID) {
		writeError(w, http.StatusConflict, "stop the strategy before editing it")
		return
	}

	var req strategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Name != "" {
		s.Name = req.Name
	}
	if req.Config != nil {
		s.Config = req.Config
	}
	if req.PaperMode != nil {
		s.PaperMode = *req.PaperMode
	}

	if err := h.strategies.Update(r.Context(), s); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.displayStatus(s))
}

// Delete removes a stopped strategy and, via cascade, its event log.
// DELETE /api/strategies/{id}
func (h *StrategyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	s, ok := h.loadStrategy(w, r)
	if !ok {
		return
	}
	if h.engine.Running(s.ID) {
		writeError(w, http.StatusConflict, "stop the strategy before deleting it")
		return
	}

	if err := h.strategies.Delete(r.Context(), s.ID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Start launches the strategy's runner.
// POST /api/strategies/{id}/start
func (h *StrategyHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.engine.Start(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "strategy not found")
		case errors.Is(err, domain.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "strategy is already running")
		case errors.Is(err, domain.ErrUnknownStrategyType):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "running", "id": id})
}

// Stop terminates the strategy's runner.
// POST /api/strategies/{id}/stop
func (h *StrategyHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.engine.Stop(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusConflict, "strategy is not running")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "stopped", "id": id})
}

// Pause suspends a running strategy's signal evaluation without tearing the
// runner down.
// POST /api/strategies/{id}/pause
func (h *StrategyHandler) Pause(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.engine.Pause(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusConflict, "strategy is not running")
		case errors.Is(err, domain.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "strategy is already paused")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "paused", "id": id})
}

// Resume re-enables a paused strategy.
// POST /api/strategies/{id}/resume
func (h *StrategyHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.engine.Resume(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusConflict, "strategy is not running")
		case errors.Is(err, domain.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "strategy is not paused")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "running", "id": id})
}

// Events returns a strategy's event log, newest first.
// GET /api/strategies/{id}/events
func (h *StrategyHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	events, err := h.events.List(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if events == nil {
		events = []domain.StrategyEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// Positions returns a strategy's open positions.
// GET /api/strategies/{id}/positions
func (h *StrategyHandler) Positions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	positions, err := h.positions.ListByStrategy(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// Trades returns a strategy's trades, newest first.
// GET /api/strategies/{id}/trades
func (h *StrategyHandler) Trades(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	trades, err := h.trades.ListByStrategy(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

func (h *StrategyHandler) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid strategy id")
		return 0, false
	}
	return id, true
}

func (h *StrategyHandler) loadStrategy(w http.ResponseWriter, r *http.Request) (domain.Strategy, bool) {
	id, ok := h.parseID(w, r)
	if !ok {
		return domain.Strategy{}, false
	}

	s, err := h.strategies.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "strategy not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return domain.Strategy{}, false
	}
	return s, true
}
