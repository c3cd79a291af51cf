// Package backpressure sheds load on the append path when buffered
// readings pile up faster than chunks are sealed.
package backpressure

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/aispark/pdmcore/internal/storage/config"
)

// Level represents the current backpressure level.
type Level int

const (
	// LevelNormal - system operating normally.
	LevelNormal Level = iota

	// LevelWarning - elevated load, pause non-critical operations.
	LevelWarning

	// LevelCritical - high load, background work should back off.
	LevelCritical

	// LevelEmergency - overload, reject appends to protect the store.
	LevelEmergency
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// UsageFunc reports current utilization in [0, 1].
type UsageFunc func() float64

// Controller tracks utilization and maps it to a backpressure level
// with hysteresis, so the level does not flap around a threshold.
type Controller struct {
	mu sync.Mutex

	cfg   config.BackpressureConfig
	usage UsageFunc

	level     atomic.Int32
	lastCheck time.Time
	lastLevel Level

	stats struct {
		levelChanges    int64
		rejectedAppends int64
	}

	onLevelChange func(old, new Level)
}

// New creates a backpressure controller. usage reports current
// utilization in [0, 1].
func New(cfg config.BackpressureConfig, usage UsageFunc) *Controller {
	return &Controller{
		cfg:   cfg,
		usage: usage,
	}
}

// SetOnLevelChange sets the callback for level changes.
func (c *Controller) SetOnLevelChange(fn func(old, new Level)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLevelChange = fn
}

// Check re-evaluates the level. Calls within the cooldown window
// return the current level unchanged.
func (c *Controller) Check() Level {
	if !c.cfg.Enabled {
		return LevelNormal
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.lastCheck) < c.cfg.Cooldown {
		return Level(c.level.Load())
	}
	c.lastCheck = now

	newLevel := c.determineLevel(c.usage())
	if newLevel != c.lastLevel {
		c.setLevel(newLevel)
	}
	return newLevel
}

func (c *Controller) determineLevel(usage float64) Level {
	t := c.cfg.Thresholds

	// Going up
	if usage >= t.Emergency {
		return LevelEmergency
	}
	if usage >= t.Critical {
		return LevelCritical
	}
	if usage >= t.Warning {
		return LevelWarning
	}

	// Going down, with hysteresis
	h := c.cfg.Hysteresis
	switch c.lastLevel {
	case LevelEmergency:
		if usage < t.Emergency-h {
			return LevelCritical
		}
		return LevelEmergency
	case LevelCritical:
		if usage < t.Critical-h {
			return LevelWarning
		}
		return LevelCritical
	case LevelWarning:
		if usage < t.Warning-h {
			return LevelNormal
		}
		return LevelWarning
	default:
		return LevelNormal
	}
}

func (c *Controller) setLevel(newLevel Level) {
	oldLevel := c.lastLevel
	c.lastLevel = newLevel
	c.level.Store(int32(newLevel))
	c.stats.levelChanges++

	if c.onLevelChange != nil {
		c.onLevelChange(oldLevel, newLevel)
	}
}

// CurrentLevel returns the level from the last Check.
func (c *Controller) CurrentLevel() Level {
	return Level(c.level.Load())
}

// ShouldReject returns true if appends should be rejected.
func (c *Controller) ShouldReject() bool {
	return c.CurrentLevel() == LevelEmergency
}

// ShouldPauseBackground returns true if background work (retention
// sweeps, recomputes that can wait) should back off.
func (c *Controller) ShouldPauseBackground() bool {
	return c.CurrentLevel() >= LevelCritical
}

// RecordRejection records that an append was rejected.
func (c *Controller) RecordRejection() {
	c.mu.Lock()
	c.stats.rejectedAppends++
	c.mu.Unlock()
}

// ControllerStats holds controller statistics.
type ControllerStats struct {
	CurrentLevel    string
	LevelChanges    int64
	RejectedAppends int64
	Usage           float64
}

// Stats returns current statistics.
func (c *Controller) Stats() ControllerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ControllerStats{
		CurrentLevel:    c.CurrentLevel().String(),
		LevelChanges:    c.stats.levelChanges,
		RejectedAppends: c.stats.rejectedAppends,
		Usage:           c.usage(),
	}
}

// IsEnabled returns whether backpressure is enabled.
func (c *Controller) IsEnabled() bool {
	return c.cfg.Enabled
}
