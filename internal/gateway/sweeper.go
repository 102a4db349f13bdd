package gateway

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically marks devices offline when their last update exceeds
// the staleness threshold. It only consumes the registry; the offline event
// itself is emitted by the registry's transition tracking.
type Sweeper struct {
	registry   *Registry
	schedule   string
	staleAfter time.Duration
	logger     *slog.Logger

	cron *cron.Cron
	now  func() time.Time
}

// NewSweeper creates a staleness sweeper with a cron schedule.
func NewSweeper(registry *Registry, schedule string, staleAfter time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		registry:   registry,
		schedule:   schedule,
		staleAfter: staleAfter,
		logger:     logger.With("component", "sweeper"),
		now:        time.Now,
	}
}

// Start schedules the sweep.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, s.Sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("staleness sweeper started", "schedule", s.schedule, "stale_after", s.staleAfter)
	return nil
}

// Sweep runs one pass over the registry.
func (s *Sweeper) Sweep() {
	devices, err := s.registry.List()
	if err != nil {
		s.logger.Error("list devices", "error", err)
		return
	}
	now := s.now()
	for _, dev := range devices {
		if !s.registry.IsOnline(dev.SerialNumber) {
			continue
		}
		age := now.Sub(dev.LastUpdate)
		if age > s.staleAfter {
			s.logger.Warn("device stale", "serial", dev.SerialNumber, "age", age.Round(time.Second))
			s.registry.MarkOffline(dev.SerialNumber)
		}
	}
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
}
