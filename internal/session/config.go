// Package session manages isolated headless browser sessions: launching them
// through a serialized, retrying factory, probing their liveness, and handing
// them to exactly one owner at a time.
package session

import "time"

// Config controls browser launch and the factory retry loop.
type Config struct {
	Headless      bool
	ExecPath      string
	UserAgent     string
	ProfileRoot   string
	MaxAttempts   int
	ProbeAttempts int
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	GateDelayMin  time.Duration
	GateDelayMax  time.Duration
	BackoffBase   time.Duration
	BackoffMax    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.ProbeAttempts <= 0 {
		c.ProbeAttempts = 3
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 500 * time.Millisecond
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 3 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 15 * time.Second
	}
	if c.GateDelayMax < c.GateDelayMin {
		c.GateDelayMax = c.GateDelayMin
	}
	return c
}
