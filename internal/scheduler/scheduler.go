// internal/scheduler/scheduler.go
package scheduler

import (
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/user/aegis/internal/room"
)

// DefaultSchedule sweeps open rooms once a second.
const DefaultSchedule = "@every 1s"

// Rooms lists the views to sweep.
type Rooms interface {
	List() []*room.View
}

// Scheduler periodically checks every open room for candidate inactivity.
type Scheduler struct {
	rooms    Rooms
	schedule string
	clock    clockwork.Clock
	cron     *cron.Cron
	logger   *slog.Logger
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors such as
// "@every 5s".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler that sweeps rooms on schedule. An empty schedule
// uses DefaultSchedule.
func New(rooms Rooms, schedule string, clk clockwork.Clock, logger *slog.Logger) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		rooms:    rooms,
		schedule: schedule,
		clock:    clk,
		cron:     cron.New(cron.WithParser(cronParser)),
		logger:   logger,
	}
}

// Start registers the sweep and starts the cron ticker.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.Sweep() }); err != nil {
		return fmt.Errorf("invalid idle sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("idle sweep scheduled", "schedule", s.schedule)
	return nil
}

// Sweep checks every open room once and returns how many went idle.
func (s *Scheduler) Sweep() int {
	now := s.clock.Now()
	n := 0
	for _, v := range s.rooms.List() {
		if v.CheckIdle(now) {
			s.logger.Debug("room went idle", "room", string(v.Name()))
			n++
		}
	}
	return n
}

// Stop stops the cron ticker and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
