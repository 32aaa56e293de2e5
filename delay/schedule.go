package delay

import (
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return sched, nil
}

// Schedules caches parsed cron expressions. It is safe for concurrent use.
type Schedules struct {
	mu     sync.RWMutex
	parsed map[string]cronlib.Schedule
}

// NewSchedules creates an empty cache.
func NewSchedules() *Schedules {
	return &Schedules{parsed: make(map[string]cronlib.Schedule)}
}

// Get returns the parsed schedule for expr, parsing it on first use.
func (c *Schedules) Get(expr string) (cronlib.Schedule, error) {
	c.mu.RLock()
	sched, ok := c.parsed[expr]
	c.mu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.parsed[expr] = sched
	c.mu.Unlock()
	return sched, nil
}

// NextDelay returns how long after now the schedule fires next.
func (c *Schedules) NextDelay(expr string, now time.Time) (time.Duration, error) {
	sched, err := c.Get(expr)
	if err != nil {
		return 0, err
	}
	return sched.Next(now).Sub(now), nil
}
