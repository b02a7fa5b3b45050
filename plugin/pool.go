package plugin

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/lyzr/flowengine/errs"
	"github.com/lyzr/flowengine/logging"
)

// Spawner creates a new, unstarted Process for a plugin. Tests substitute
// a fake; production wiring uses NewProcess bound to the manifest's
// command/args.
type Spawner func() *Process

// Pool manages up to MaxInstances subprocess instances of one plugin,
// restarting dead instances with exponential backoff up to a ceiling and
// quarantining the slot after that.
type Pool struct {
	name              string
	spawn             Spawner
	maxInstances      int
	handshakeTimeout  time.Duration
	restartBackoffMax time.Duration
	log               logging.Logger

	mu        sync.Mutex
	instances []*slot
}

type slot struct {
	proc         *Process
	restartCount int
	nextRestart  time.Time
	quarantined  bool
}

// PoolConfig mirrors the manifest-declared knobs a plugin pool is sized
// and paced by.
type PoolConfig struct {
	MaxInstances      int
	HandshakeTimeout  time.Duration
	RestartBackoffMax time.Duration
}

// NewPool constructs a Pool that lazily starts instances on demand, up to
// cfg.MaxInstances.
func NewPool(name string, spawn Spawner, cfg PoolConfig, log logging.Logger) *Pool {
	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = 1
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.RestartBackoffMax <= 0 {
		cfg.RestartBackoffMax = 60 * time.Second
	}
	if log == nil {
		log = logging.New("info", "text")
	}
	return &Pool{
		name:              name,
		spawn:             spawn,
		maxInstances:      cfg.MaxInstances,
		handshakeTimeout:  cfg.HandshakeTimeout,
		restartBackoffMax: cfg.RestartBackoffMax,
		log:               log,
	}
}

// Acquire returns a ready Process, starting or restarting one as needed.
// It returns an error if every slot is quarantined or still backing off.
func (p *Pool) Acquire(ctx context.Context) (*Process, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for _, s := range p.instances {
		if s.quarantined {
			continue
		}
		switch s.proc.State() {
		case StateReady, StateIdle:
			return s.proc, nil
		case StateDead:
			if now.Before(s.nextRestart) {
				continue
			}
			if err := p.restart(ctx, s); err != nil {
				continue
			}
			return s.proc, nil
		}
	}

	if len(p.instances) < p.maxInstances {
		s := &slot{}
		if err := p.start(ctx, s); err != nil {
			return nil, err
		}
		p.instances = append(p.instances, s)
		return s.proc, nil
	}

	return nil, errs.New(errs.Unsupported, fmt.Sprintf("plugin %s: no available instance (all busy, dead-backoff, or quarantined)", p.name))
}

func (p *Pool) start(ctx context.Context, s *slot) error {
	s.proc = p.spawn()
	_, err := s.proc.Start(ctx, p.handshakeTimeout)
	if err != nil {
		p.scheduleRestart(s)
		return err
	}
	s.restartCount = 0
	return nil
}

func (p *Pool) restart(ctx context.Context, s *slot) error {
	s.proc = p.spawn()
	_, err := s.proc.Start(ctx, p.handshakeTimeout)
	if err != nil {
		p.scheduleRestart(s)
		return err
	}
	s.restartCount = 0
	return nil
}

// scheduleRestart applies exponential backoff (1s * 2^attempt, capped at
// RestartBackoffMax) and quarantines the slot once a restart would need to
// wait at the ceiling, since that signals the instance isn't recovering.
func (p *Pool) scheduleRestart(s *slot) {
	s.restartCount++
	delay := time.Duration(float64(time.Second) * math.Pow(2, float64(s.restartCount-1)))
	if delay > p.restartBackoffMax {
		delay = p.restartBackoffMax
		s.quarantined = true
		p.log.Warn("plugin instance quarantined after repeated restart failures",
			"plugin", p.name, "restart_count", s.restartCount)
	}
	s.nextRestart = time.Now().Add(delay)
}

// Shutdown stops every instance gracefully.
func (p *Pool) Shutdown(ctx context.Context, grace time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.instances {
		if s.proc != nil && s.proc.State() != StateDead {
			_ = s.proc.Shutdown(ctx, grace)
		}
	}
}

// Stats reports per-instance state for health introspection.
func (p *Pool) Stats() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.instances))
	for i, s := range p.instances {
		if s.quarantined {
			out[i] = "quarantined"
			continue
		}
		out[i] = string(s.proc.State())
	}
	return out
}
