package alert

import (
	"sync"
	"time"

	"github.com/linkeye/internal/models"
)

// HistorySize is the number of recent losses kept per origin serial.
const HistorySize = 5

type cooldownKey struct {
	detector models.Detector
	serial   string
}

// pendingJump is a rapid increase seen but not yet confirmed.
type pendingJump struct {
	baseline float64
	cycles   int
}

// State is the alert engine's memory between cycles. It is owned by one
// Engine but guarded so the API can read it while a cycle runs.
type State struct {
	mu                 sync.Mutex
	history            map[string][]float64
	cooldowns          map[cooldownKey]time.Time
	pending            map[string]pendingJump
	baselines          map[string]float64
	baselinesRefreshed time.Time
}

func NewState() *State {
	return &State{
		history:   make(map[string][]float64),
		cooldowns: make(map[cooldownKey]time.Time),
		pending:   make(map[string]pendingJump),
		baselines: make(map[string]float64),
	}
}

// History returns a copy of the recent losses for serial, oldest first.
func (s *State) History(serial string) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.history[serial]...)
}

// Push appends loss to the serial's history, dropping the oldest sample
// beyond HistorySize, and returns the new window.
func (s *State) Push(serial string, loss float64) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.history[serial], loss)
	if len(h) > HistorySize {
		h = append([]float64(nil), h[len(h)-HistorySize:]...)
	}
	s.history[serial] = h
	return append([]float64(nil), h...)
}

// SetHistory replaces the window for serial, keeping the newest samples.
func (s *State) SetHistory(serial string, values []float64) {
	if len(values) > HistorySize {
		values = values[len(values)-HistorySize:]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[serial] = append([]float64(nil), values...)
}

// CooldownElapsed reports whether detector may notify for serial again.
func (s *State) CooldownElapsed(detector models.Detector, serial string, now time.Time, period time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.cooldowns[cooldownKey{detector, serial}]
	return !ok || now.Sub(last) >= period
}

func (s *State) Stamp(detector models.Detector, serial string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldowns[cooldownKey{detector, serial}] = at
}

func (s *State) LastFired(detector models.Detector, serial string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.cooldowns[cooldownKey{detector, serial}]
	return at, ok
}

func (s *State) pendingJump(serial string) (pendingJump, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[serial]
	return p, ok
}

func (s *State) setPending(serial string, p pendingJump) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[serial] = p
}

func (s *State) clearPending(serial string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, serial)
}

// Baseline returns the drift reference for serial.
func (s *State) Baseline(serial string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.baselines[serial]
	return v, ok
}

func (s *State) SetBaselines(baselines map[string]float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselines = make(map[string]float64, len(baselines))
	for k, v := range baselines {
		s.baselines[k] = v
	}
	s.baselinesRefreshed = at
}

func (s *State) baselinesStale(now time.Time, every time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baselinesRefreshed.IsZero() || now.Sub(s.baselinesRefreshed) >= every
}
