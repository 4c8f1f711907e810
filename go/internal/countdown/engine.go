// Package countdown turns a stored target timestamp into a ticking local
// display, a one-shot pre-warning and a one-shot expiry action per arming.
package countdown

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// State is the lifecycle of one timer slot arming.
type State int

const (
	StateIdle State = iota
	StateArmed
	StateWarned
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateWarned:
		return "warned"
	case StateExpired:
		return "expired"
	default:
		return "idle"
	}
}

// Renderer receives display updates. Implementations must not block; slow
// consumers are the renderer's problem, never the engine's.
type Renderer interface {
	Display(slot, text string)
}

// Alerter receives the one-shot warning and expiry notifications.
type Alerter interface {
	Warn(slot, name string)
	Expired(slot, name string)
}

// Arming describes one countdown for a slot: where it renders, when it
// expires, and what happens afterwards.
type Arming struct {
	Slot     string
	Name     string
	Target   time.Time
	Format   func(remainingSec int64) string
	Terminal string
	// OnExpire runs on the slot's own goroutine after the expiry alert.
	// For self-refreshing kinds it computes and writes the next record;
	// nil for kinds that wait for an operator.
	OnExpire func(ctx context.Context)
}

// Config carries the engine's collaborators.
type Config struct {
	Clock    clockwork.Clock
	Tick     time.Duration
	WarnAt   time.Duration
	Renderer Renderer
	Alerts   Alerter
}

// Engine runs one repeating evaluator per armed slot. Re-arming a slot
// cancels its previous evaluator synchronously before the new one starts, so
// a discarded arming can never fire stale alerts.
type Engine struct {
	clock    clockwork.Clock
	tick     time.Duration
	warnSec  int64
	renderer Renderer
	alerts   Alerter

	mu    sync.Mutex
	slots map[string]*slotRun
}

// New builds an engine. Tick defaults to one second and WarnAt to three
// minutes.
func New(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.WarnAt <= 0 {
		cfg.WarnAt = 3 * time.Minute
	}
	return &Engine{
		clock:    cfg.Clock,
		tick:     cfg.Tick,
		warnSec:  int64(cfg.WarnAt / time.Second),
		renderer: cfg.Renderer,
		alerts:   cfg.Alerts,
		slots:    make(map[string]*slotRun),
	}
}

type slotRun struct {
	target time.Time
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state State
}

func (r *slotRun) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *slotRun) getState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Arm starts (or restarts) the countdown for a slot. Redelivery of the same
// target is a no-op: the running evaluator keeps going and no alert can fire
// twice for one record.
func (e *Engine) Arm(ctx context.Context, a Arming) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cur, ok := e.slots[a.Slot]; ok {
		if cur.target.Equal(a.Target) {
			log.Debug().Str("slot", a.Slot).Time("target", a.Target).Msg("unchanged target, keeping current arming")
			return
		}
		cur.cancel()
		<-cur.done
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &slotRun{
		target: a.Target,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateArmed,
	}
	e.slots[a.Slot] = run

	log.Info().
		Str("slot", a.Slot).
		Time("target", a.Target).
		Msg("slot armed")

	e.display(a.Slot, a.Format(e.remaining(a.Target)))
	go e.run(runCtx, run, a)
}

// Disarm cancels a slot's evaluator, if any, and waits for it to stop.
func (e *Engine) Disarm(slot string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.slots[slot]; ok {
		cur.cancel()
		<-cur.done
		delete(e.slots, slot)
	}
}

// State reports the slot's current lifecycle state.
func (e *Engine) State(slot string) State {
	e.mu.Lock()
	run, ok := e.slots[slot]
	e.mu.Unlock()
	if !ok {
		return StateIdle
	}
	return run.getState()
}

// Stop cancels every evaluator.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for slot, run := range e.slots {
		run.cancel()
		<-run.done
		delete(e.slots, slot)
	}
}

func (e *Engine) remaining(target time.Time) int64 {
	return int64(target.Sub(e.clock.Now()) / time.Second)
}

func (e *Engine) display(slot, text string) {
	if e.renderer != nil {
		e.renderer.Display(slot, text)
	}
}

func (e *Engine) run(ctx context.Context, run *slotRun, a Arming) {
	defer close(run.done)

	ticker := e.clock.NewTicker(e.tick)
	defer ticker.Stop()

	// The warning fires when remaining first crosses the threshold within
	// this arming. A record armed already inside the window never crosses,
	// so it never warns; crossing rather than equality tolerates skipped
	// ticks.
	warned := false
	prev := e.remaining(a.Target)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		rem := e.remaining(a.Target)
		if rem <= 0 {
			e.display(a.Slot, a.Terminal)
			if e.alerts != nil {
				e.alerts.Expired(a.Slot, a.Name)
			}
			run.setState(StateExpired)
			log.Info().Str("slot", a.Slot).Msg("slot expired")
			if a.OnExpire != nil {
				a.OnExpire(ctx)
			}
			return
		}
		if !warned && rem <= e.warnSec && prev > e.warnSec {
			if e.alerts != nil {
				e.alerts.Warn(a.Slot, a.Name)
			}
			warned = true
			run.setState(StateWarned)
			log.Info().Str("slot", a.Slot).Int64("remaining_sec", rem).Msg("pre-warning fired")
		}
		e.display(a.Slot, a.Format(rem))
		prev = rem
	}
}
