package persistence

import (
	"grid-scalper-bot-go/internal/metrics"
	"grid-scalper-bot-go/internal/models"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// retryTick is how often states that failed every attempt are tried again.
const retryTick = 5 * time.Second

// Writer saves bot states off the hot path. Enqueue never blocks: pending
// states are coalesced per bot so only the latest snapshot is written.
// States that exhaust their retries are re-queued, giving at-least-once
// delivery for the latest state of every live bot.
type Writer struct {
	repo   StateRepository
	cfg    models.PersistenceConfig
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]*models.BotState
	deleted map[string]struct{}
	stopped bool

	drainMu  sync.Mutex // one drain at a time keeps per-bot writes ordered
	writeMu  sync.Mutex // serializes a single save against Forget
	notify   chan struct{}
	stopChan chan struct{}
	done     chan struct{}

	failures atomic.Int64
	degraded atomic.Bool
}

// NewWriter creates a Writer. Call Start to run the persistence loop.
func NewWriter(repo StateRepository, cfg models.PersistenceConfig, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.DegradedAfter <= 0 {
		cfg.DegradedAfter = 1
	}
	return &Writer{
		repo:     repo,
		cfg:      cfg,
		logger:   logger,
		pending:  make(map[string]*models.BotState),
		deleted:  make(map[string]struct{}),
		notify:   make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the persistence loop.
func (w *Writer) Start() {
	go w.persistenceLoop()
	w.logger.Info("Persistence writer started.")
}

// Stop drains everything pending and shuts the loop down.
func (w *Writer) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	close(w.stopChan)
	<-w.done
	w.logger.Info("Persistence writer stopped.")
}

// Enqueue schedules a state snapshot for saving. The caller must not mutate
// the snapshot afterwards.
func (w *Writer) Enqueue(state *models.BotState) {
	if state == nil {
		return
	}
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		w.logger.Debug("Dropping state enqueued after stop", zap.String("bot", state.BotID))
		return
	}
	if _, gone := w.deleted[state.BotID]; gone {
		w.mu.Unlock()
		return
	}
	w.pending[state.BotID] = state
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Forget discards any pending state for the bot and deletes it from the
// repository. Later Enqueue calls for the id are ignored.
func (w *Writer) Forget(botID string) error {
	w.mu.Lock()
	delete(w.pending, botID)
	w.deleted[botID] = struct{}{}
	w.mu.Unlock()

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.repo.DeleteState(botID)
}

// Flush synchronously writes everything pending.
func (w *Writer) Flush() {
	w.drain()
}

// Degraded reports whether consecutive failures crossed the threshold.
func (w *Writer) Degraded() bool {
	return w.degraded.Load()
}

// persistenceLoop handles the asynchronous saving of state snapshots.
func (w *Writer) persistenceLoop() {
	defer close(w.done)
	ticker := time.NewTicker(retryTick)
	defer ticker.Stop()

	for {
		select {
		case <-w.notify:
			w.drain()
		case <-ticker.C:
			w.drain()
		case <-w.stopChan:
			w.drain()
			return
		}
	}
}

// drain writes the batch pending at call time. States re-queued by a failed
// write wait for the next notify or tick.
func (w *Writer) drain() {
	w.drainMu.Lock()
	defer w.drainMu.Unlock()

	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]*models.BotState)
	w.mu.Unlock()

	for _, state := range batch {
		if !w.write(state) {
			w.requeue(state)
		}
	}
}

func (w *Writer) requeue(state *models.BotState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, gone := w.deleted[state.BotID]; gone {
		return
	}
	if _, newer := w.pending[state.BotID]; !newer {
		w.pending[state.BotID] = state
	}
}

// write saves one state with exponential backoff between attempts.
func (w *Writer) write(state *models.BotState) bool {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	_, gone := w.deleted[state.BotID]
	w.mu.Unlock()
	if gone {
		return true
	}

	b := &backoff.Backoff{
		Min:    time.Duration(w.cfg.RetryInitialDelayMs) * time.Millisecond,
		Max:    time.Duration(w.cfg.RetryMaxDelayMs) * time.Millisecond,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for attempt := 1; attempt <= w.cfg.RetryAttempts; attempt++ {
		if err = w.repo.SaveState(state); err == nil {
			w.recovered()
			return true
		}
		metrics.PersistenceFailures.Inc()
		w.logger.Warn("Failed to save bot state",
			zap.String("bot", state.BotID), zap.Int("attempt", attempt), zap.Error(err))
		if attempt < w.cfg.RetryAttempts {
			select {
			case <-time.After(b.Duration()):
			case <-w.stopChan:
			}
		}
	}

	n := w.failures.Add(1)
	if n >= int64(w.cfg.DegradedAfter) && !w.degraded.Swap(true) {
		metrics.PersistenceDegraded.Set(1)
		w.logger.Error("Persistence degraded: bot state is not being saved",
			zap.Int64("consecutiveFailures", n), zap.Error(err))
	}
	return false
}

func (w *Writer) recovered() {
	w.failures.Store(0)
	if w.degraded.Swap(false) {
		metrics.PersistenceDegraded.Set(0)
		w.logger.Info("Persistence recovered.")
	}
}
