package learning

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Scheduler runs learning cycles on a cron schedule. A tick arriving
// while a cycle is still in flight is dropped, not queued.
type Scheduler struct {
	cron       *cron.Cron
	controller *Controller
	running    atomic.Bool
}

// NewScheduler creates a scheduler firing cycles per the cron spec
// (standard 5-field syntax, e.g. "*/15 * * * *").
func NewScheduler(spec string, controller *Controller) (*Scheduler, error) {
	s := &Scheduler{
		cron:       cron.New(),
		controller: controller,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid cycle schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	if !s.running.CompareAndSwap(false, true) {
		ticksDropped.Add(context.Background(), 1)
		log.Warn().Msg("cycle still in flight, dropping tick")
		return
	}
	defer s.running.Store(false)

	result := s.controller.RunCycle(context.Background())
	log.Info().Str("status", result.Status).Int("cycle", result.CycleNumber).
		Int("adaptations_applied", result.AdaptationsApplied).
		Msg("scheduled cycle finished")
}

// Start begins firing ticks.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
