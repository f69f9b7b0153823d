package trader

import (
	"context"
	"sync"
	"time"

	"llm-trading-arena/internal/database"
)

// ModelStatus is the run state reported per model.
type ModelStatus struct {
	ModelID   string     `json:"model_id"`
	Running   bool       `json:"running"`
	State     CycleState `json:"state"`
	LastRunAt time.Time  `json:"last_run_at"`
	LastError string     `json:"last_error,omitempty"`
}

type modelSlot struct {
	mu        sync.Mutex // held for the duration of a cycle
	state     CycleState
	running   bool
	lastRunAt time.Time
	lastError string
}

// pollEvery is how often the scheduler checks which models are due. Cycles
// fire per model once its last run is a full trading interval old.
const pollEvery = 15 * time.Second

// Scheduler drives periodic cycles for every enabled model and arbitrates
// manual runs against them: each model runs at most one cycle at a time.
type Scheduler struct {
	trader *Trader
	poll   time.Duration

	mu    sync.Mutex
	slots map[string]*modelSlot

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(trader *Trader) *Scheduler {
	return &Scheduler{
		trader:   trader,
		poll:     pollEvery,
		slots:    make(map[string]*modelSlot),
		stopChan: make(chan struct{}),
	}
}

func (s *Scheduler) slot(modelID string) *modelSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[modelID]
	if !ok {
		sl = &modelSlot{state: StateIdle}
		s.slots[modelID] = sl
	}
	return sl
}

// Status reports a model's run state.
func (s *Scheduler) Status(modelID string) ModelStatus {
	sl := s.slot(modelID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return ModelStatus{
		ModelID:   modelID,
		Running:   sl.running,
		State:     sl.state,
		LastRunAt: sl.lastRunAt,
		LastError: sl.lastError,
	}
}

// Execute runs one cycle for a model right now. It returns ErrBusy without
// waiting when a cycle is already in progress.
func (s *Scheduler) Execute(ctx context.Context, modelID string, pass Pass) (CycleResult, error) {
	sl := s.slot(modelID)
	if !sl.mu.TryLock() {
		return CycleResult{}, ErrBusy
	}
	defer sl.mu.Unlock()

	s.mu.Lock()
	sl.running = true
	sl.lastRunAt = time.Now()
	s.mu.Unlock()

	setState := func(st CycleState) {
		s.mu.Lock()
		sl.state = st
		s.mu.Unlock()
	}

	res := s.trader.runCycle(ctx, modelID, pass, setState)

	s.mu.Lock()
	sl.running = false
	sl.lastError = res.Error
	s.mu.Unlock()
	return res, nil
}

// Start launches the periodic driver. The trading frequency is re-read from
// settings every poll, so changing it takes effect without a restart.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop halts the driver and waits for in-flight cycles to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	log := s.trader.log
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runDue()
		case <-s.stopChan:
			log.Info().Msg("scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) currentInterval() time.Duration {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	settings, err := s.trader.store.GetSettings(ctx)
	if err != nil || settings.TradingFrequencyMinutes <= 0 {
		return time.Minute
	}
	return time.Duration(settings.TradingFrequencyMinutes) * time.Minute
}

// runDue fires a cycle for every enabled model whose last run is at least
// one trading interval old. Each model is checked and run independently, so
// a slow cycle never delays another model's next tick. A model still busy
// is skipped, not queued; a model that has never run is due immediately.
func (s *Scheduler) runDue() {
	ctx := context.Background()
	interval := s.currentInterval()
	models, err := s.trader.store.ListModels(ctx)
	if err != nil {
		s.trader.log.Error().Err(err).Msg("listing models for round")
		return
	}

	now := time.Now()
	for _, m := range models {
		if !m.Enabled {
			continue
		}
		sl := s.slot(m.ID)
		s.mu.Lock()
		due := now.Sub(sl.lastRunAt) >= interval
		s.mu.Unlock()
		if !due {
			continue
		}
		s.wg.Add(1)
		go func(m *database.Model) {
			defer s.wg.Done()
			if _, err := s.Execute(ctx, m.ID, PassBoth); err == ErrBusy {
				s.trader.log.Warn().Str("model_id", m.ID).Msg("previous cycle still running, skipped")
			}
		}(m)
	}
}
