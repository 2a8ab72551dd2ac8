package service

import (
	"math/rand"
	"sync"
	"time"
)

// DelayProvider yields the simulated delivery latency for one recipient
type DelayProvider interface {
	NextDelay() time.Duration
}

// FailureDecider decides whether one simulated delivery fails
type FailureDecider interface {
	ShouldFail() bool
}

// DelayFunc adapts a function to DelayProvider
type DelayFunc func() time.Duration

func (f DelayFunc) NextDelay() time.Duration { return f() }

// FailureDeciderFunc adapts a function to FailureDecider
type FailureDeciderFunc func() bool

func (f FailureDeciderFunc) ShouldFail() bool { return f() }

// SimulatorConfig configures the default delivery simulator
type SimulatorConfig struct {
	// DelayMin and DelayMax bound the delay in units, both inclusive
	DelayMin int
	DelayMax int
	Unit     time.Duration
	// FailureThreshold is the chance of failure in percent, 0..100
	FailureThreshold int
}

// DefaultSimulatorConfig returns 1-3 second delays and a 10% failure rate
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		DelayMin:         1,
		DelayMax:         3,
		Unit:             time.Second,
		FailureThreshold: 10,
	}
}

// Simulator stands in for a real mail provider.
// It implements both DelayProvider and FailureDecider.
type Simulator struct {
	cfg  SimulatorConfig
	mu   sync.Mutex
	rand *rand.Rand
}

// NewSimulator creates a new simulator; out-of-range settings are clamped
func NewSimulator(cfg SimulatorConfig) *Simulator {
	return NewSimulatorWithSource(cfg, rand.NewSource(time.Now().UnixNano()))
}

// NewSimulatorWithSource creates a simulator with a fixed random source
func NewSimulatorWithSource(cfg SimulatorConfig, src rand.Source) *Simulator {
	if cfg.DelayMin < 0 {
		cfg.DelayMin = 0
	}
	if cfg.DelayMax < cfg.DelayMin {
		cfg.DelayMax = cfg.DelayMin
	}
	if cfg.Unit <= 0 {
		cfg.Unit = time.Second
	}
	if cfg.FailureThreshold < 0 {
		cfg.FailureThreshold = 0
	}
	if cfg.FailureThreshold > 100 {
		cfg.FailureThreshold = 100
	}

	return &Simulator{
		cfg:  cfg,
		rand: rand.New(src),
	}
}

// NextDelay returns a uniform whole number of units in [DelayMin, DelayMax]
func (s *Simulator) NextDelay() time.Duration {
	s.mu.Lock()
	n := s.cfg.DelayMin + s.rand.Intn(s.cfg.DelayMax-s.cfg.DelayMin+1)
	s.mu.Unlock()

	return time.Duration(n) * s.cfg.Unit
}

// ShouldFail draws an integer in [0,100) and fails below the threshold
func (s *Simulator) ShouldFail() bool {
	s.mu.Lock()
	draw := s.rand.Intn(100)
	s.mu.Unlock()

	return draw < s.cfg.FailureThreshold
}

// Config returns the effective configuration
func (s *Simulator) Config() SimulatorConfig {
	return s.cfg
}
