package learning

import (
	"sort"
	"sync"
)

// PerformancePoint is one cycle's composite performance sample.
type PerformancePoint struct {
	Cycle       int     `json:"cycle"`
	Performance float64 `json:"performance"`
}

// State is the controller-owned learning state. It is never persisted as
// an entity; Snapshot serializes it for reporting.
type State struct {
	mu                 sync.Mutex
	cycle              int
	activeAdaptations  map[string]bool
	explorationMode    bool
	learningRate       float64
	performanceHistory []PerformancePoint
}

// StateSnapshot is the reporting view of the learning state.
type StateSnapshot struct {
	Cycle              int                `json:"cycle"`
	ActiveAdaptations  []string           `json:"active_adaptations"`
	ExplorationMode    bool               `json:"exploration_mode"`
	LearningRate       float64            `json:"learning_rate"`
	PerformanceHistory []PerformancePoint `json:"performance_history"`
}

func newState(initialRate float64) *State {
	return &State{
		activeAdaptations: make(map[string]bool),
		learningRate:      initialRate,
	}
}

// Snapshot returns a consistent copy of the state for reporting. Active
// adaptation ids come back sorted.
func (s *State) Snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make([]string, 0, len(s.activeAdaptations))
	for id := range s.activeAdaptations {
		active = append(active, id)
	}
	sort.Strings(active)

	history := make([]PerformancePoint, len(s.performanceHistory))
	copy(history, s.performanceHistory)

	return StateSnapshot{
		Cycle:              s.cycle,
		ActiveAdaptations:  active,
		ExplorationMode:    s.explorationMode,
		LearningRate:       s.learningRate,
		PerformanceHistory: history,
	}
}
