// Package alert delivers best-effort notifications for countdown events over
// two independent channels: a visual notification and a spoken utterance.
// Both are gated by a single user-controlled enabled flag and neither is ever
// allowed to block or fail the countdown engine.
package alert

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Visual shows a notification with a title and body. Implementations without
// permission to display anything should return an error, which is ignored.
type Visual interface {
	Notify(title, body string) error
}

// Speaker reads a message aloud.
type Speaker interface {
	Say(text string) error
}

// Messages carries the localized alert phrasing for one timer.
type Messages struct {
	WarnBody string // e.g. "3 minutes left!"
	WarnSay  string // full spoken sentence, e.g. "Chobos will spawn in 3 minutes"
	Spawned  string // terminal body, e.g. "SPAWNED!"
}

// Dispatcher fans countdown events out to the configured sinks. A nil sink is
// a silently absent capability, not an error.
type Dispatcher struct {
	visual  Visual
	speaker Speaker
	msgs    MessageFunc
	enabled atomic.Bool
}

// MessageFunc resolves the localized strings for a timer name at dispatch
// time, so a language switch applies to the next alert.
type MessageFunc func(name string) Messages

// New builds a dispatcher with alerts enabled.
func New(visual Visual, speaker Speaker, msgs MessageFunc) *Dispatcher {
	d := &Dispatcher{visual: visual, speaker: speaker, msgs: msgs}
	d.enabled.Store(true)
	return d
}

// SetEnabled toggles both channels at once.
func (d *Dispatcher) SetEnabled(on bool) {
	d.enabled.Store(on)
	log.Info().Bool("enabled", on).Msg("notifications toggled")
}

// Enabled reports the current toggle state.
func (d *Dispatcher) Enabled() bool {
	return d.enabled.Load()
}

// Warn fires the pre-warning alert for a timer.
func (d *Dispatcher) Warn(slot, name string) {
	if !d.enabled.Load() {
		return
	}
	m := d.msgs(name)
	d.dispatch(slot, name, m.WarnBody, m.WarnSay)
}

// Expired fires the terminal alert for a timer.
func (d *Dispatcher) Expired(slot, name string) {
	if !d.enabled.Load() {
		return
	}
	m := d.msgs(name)
	d.dispatch(slot, name, m.Spawned, name+" "+m.Spawned)
}

// dispatch runs the sinks off the caller's goroutine; sink failures are
// logged at debug and otherwise swallowed.
func (d *Dispatcher) dispatch(slot, title, body, say string) {
	if d.visual != nil {
		go func() {
			if err := d.visual.Notify(title, body); err != nil {
				log.Debug().Err(err).Str("slot", slot).Msg("visual notification unavailable")
			}
		}()
	}
	if d.speaker != nil {
		go func() {
			if err := d.speaker.Say(say); err != nil {
				log.Debug().Err(err).Str("slot", slot).Msg("speech unavailable")
			}
		}()
	}
}
