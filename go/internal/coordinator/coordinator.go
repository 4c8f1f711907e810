// Package coordinator binds the shared timer records to the countdown engine:
// it watches the per-kind store keys, arms the engine on every record change,
// writes new records for operator commands, and re-schedules the
// self-refreshing kinds when they expire.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/zaclabs/spawnsync/go/internal/alert"
	"github.com/zaclabs/spawnsync/go/internal/countdown"
	"github.com/zaclabs/spawnsync/go/internal/i18n"
	"github.com/zaclabs/spawnsync/go/internal/identity"
	"github.com/zaclabs/spawnsync/go/internal/models"
	"github.com/zaclabs/spawnsync/go/internal/orders"
	"github.com/zaclabs/spawnsync/go/internal/schedule"
	"github.com/zaclabs/spawnsync/go/internal/store"
)

// ErrOrdersDisabled is returned when an order command arrives but no order
// service is wired.
var ErrOrdersDisabled = errors.New("coordinator: order service not configured")

// ErrUnsupportedLang rejects language codes without a catalog.
var ErrUnsupportedLang = errors.New("coordinator: unsupported language")

// Config carries the coordinator's collaborators. Orders and OnOrder are
// optional.
type Config struct {
	Store   store.Store
	Clock   clockwork.Clock
	Engine  *countdown.Engine
	Alerts  *alert.Dispatcher
	Orders  *orders.Service
	Session *identity.Session
	Lang    string

	// OnOrder is invoked after every accepted order, typically to announce
	// it to connected clients.
	OnOrder func(models.Order)

	// OnRecord is invoked for every timer record applied, with the kind it
	// belongs to. Used to surface attribution ("Last updated by ...").
	OnRecord func(models.TimerKind, models.TimerRecord)
}

// Coordinator is the session-side brain of the timer subsystem. One per
// process.
type Coordinator struct {
	st       store.Store
	clock    clockwork.Clock
	engine   *countdown.Engine
	alerts   *alert.Dispatcher
	orders   *orders.Service
	sess     *identity.Session
	onOrder  func(models.Order)
	onRecord func(models.TimerKind, models.TimerRecord)

	mu   sync.RWMutex
	lang string
}

// New builds a coordinator. Lang falls back to the deployment default when
// empty or unknown.
func New(cfg Config) *Coordinator {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	lang := cfg.Lang
	if !i18n.Supported(lang) {
		lang = i18n.DefaultLang
	}
	return &Coordinator{
		st:       cfg.Store,
		clock:    cfg.Clock,
		engine:   cfg.Engine,
		alerts:   cfg.Alerts,
		orders:   cfg.Orders,
		sess:     cfg.Session,
		onOrder:  cfg.OnOrder,
		onRecord: cfg.OnRecord,
		lang:     lang,
	}
}

// Lang returns the active language code.
func (c *Coordinator) Lang() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lang
}

// SetLang switches the active language for subsequent renders and alerts.
func (c *Coordinator) SetLang(lang string) error {
	if !i18n.Supported(lang) {
		return fmt.Errorf("%w: %q", ErrUnsupportedLang, lang)
	}
	c.mu.Lock()
	c.lang = lang
	c.mu.Unlock()
	log.Info().Str("lang", lang).Msg("language switched")
	return nil
}

// TimerName returns the localized display name for a timer kind.
func (c *Coordinator) TimerName(kind models.TimerKind) string {
	return i18n.T(c.Lang(), string(kind))
}

// Attribution renders the localized "Last updated by <name>" line for a
// record.
func (c *Coordinator) Attribution(rec models.TimerRecord) string {
	by := rec.LastUpdatedBy
	if by == "" {
		by = "Unknown"
	}
	return i18n.T(c.Lang(), i18n.KeyLastUpdatedBy) + " " + by
}

// AlertMessages resolves the localized alert phrasing for a timer name. It is
// the alert dispatcher's MessageFunc.
func (c *Coordinator) AlertMessages(name string) alert.Messages {
	lang := c.Lang()
	return alert.Messages{
		WarnBody: i18n.T(lang, i18n.KeyWarnBody),
		WarnSay:  name + " " + i18n.T(lang, i18n.KeyWarnSay),
		Spawned:  i18n.T(lang, i18n.KeySpawned),
	}
}

type update struct {
	kind models.TimerKind
	ev   store.Event
}

// Run watches all timer keys and drives the engine until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	updates := make(chan update)

	for _, kind := range models.TimerKinds {
		w, err := c.st.Watch(ctx, kind.Key())
		if err != nil {
			return fmt.Errorf("watch %s: %w", kind.Key(), err)
		}
		defer w.Cancel()

		go func(kind models.TimerKind, w store.Watcher) {
			for ev := range w.Events() {
				select {
				case updates <- update{kind: kind, ev: ev}:
				case <-ctx.Done():
					return
				}
			}
		}(kind, w)
	}

	log.Info().Msg("coordinator running")
	for {
		select {
		case <-ctx.Done():
			c.engine.Stop()
			return ctx.Err()
		case u := <-updates:
			c.apply(ctx, u.kind, u.ev)
		}
	}
}

// apply reacts to one record change on a timer key.
func (c *Coordinator) apply(ctx context.Context, kind models.TimerKind, ev store.Event) {
	if ev.Value == nil {
		log.Warn().Str("kind", string(kind)).Msg("timer record deleted, disarming")
		c.engine.Disarm(string(kind))
		return
	}

	var rec models.TimerRecord
	if err := json.Unmarshal(ev.Value, &rec); err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("malformed timer record")
		return
	}

	if c.onRecord != nil {
		c.onRecord(kind, rec)
	}
	c.engine.Arm(ctx, countdown.Arming{
		Slot:     string(kind),
		Name:     c.TimerName(kind),
		Target:   rec.Target(),
		Format:   formatFor(kind),
		Terminal: i18n.T(c.Lang(), i18n.KeySpawned),
		OnExpire: c.onExpire(kind, rec),
	})
}

// formatFor picks the render style: hourly kinds show MM:SS, the weekly kind
// shows the long day/hour form.
func formatFor(kind models.TimerKind) func(int64) string {
	if kind == models.TimerSkrab {
		return schedule.FormatLong
	}
	return schedule.FormatClock
}

// onExpire returns the post-expiry action for a kind. Chobos re-arms at the
// stored minute of the next hour, chainos at the next top of the hour. Skrab
// stays expired until an operator restarts it.
func (c *Coordinator) onExpire(kind models.TimerKind, rec models.TimerRecord) func(context.Context) {
	switch kind {
	case models.TimerChobos:
		return func(ctx context.Context) {
			if rec.MinuteInput == nil {
				log.Warn().Msg("chobos record has no minute input, not re-arming")
				return
			}
			next, err := schedule.NextMinuteOfHour(c.clock.Now(), *rec.MinuteInput)
			if err != nil {
				log.Error().Err(err).Msg("stored chobos minute invalid")
				return
			}
			c.writeRecord(ctx, kind, next, rec.MinuteInput, rec.LastUpdatedBy)
		}
	case models.TimerChainos:
		return func(ctx context.Context) {
			c.writeRecord(ctx, kind, schedule.NextTopOfHour(c.clock.Now()), nil, rec.LastUpdatedBy)
		}
	default:
		return nil
	}
}

func (c *Coordinator) writeRecord(ctx context.Context, kind models.TimerKind, target time.Time, minute *int, by string) {
	rec := models.TimerRecord{
		TargetTime:    target.UnixMilli(),
		CreatedAt:     c.clock.Now().UnixMilli(),
		MinuteInput:   minute,
		LastUpdatedBy: by,
	}
	if err := c.st.Write(ctx, kind.Key(), rec); err != nil {
		log.Error().Err(err).Str("key", kind.Key()).Msg("could not write timer record")
		return
	}
	log.Info().
		Str("key", kind.Key()).
		Time("target", target).
		Str("by", by).
		Msg("timer record written")
}

// StartChobos writes a chobos record targeting the next occurrence of minute.
func (c *Coordinator) StartChobos(ctx context.Context, minute int) error {
	target, err := schedule.NextMinuteOfHour(c.clock.Now(), minute)
	if err != nil {
		return err
	}
	c.writeRecord(ctx, models.TimerChobos, target, &minute, c.sess.DisplayName())
	return nil
}

// StartChainos writes a chainos record targeting the next top of the hour.
func (c *Coordinator) StartChainos(ctx context.Context) error {
	c.writeRecord(ctx, models.TimerChainos, schedule.NextTopOfHour(c.clock.Now()), nil, c.sess.DisplayName())
	return nil
}

// StartSkrab writes a skrab record targeting the next weekly spawn.
func (c *Coordinator) StartSkrab(ctx context.Context) error {
	c.writeRecord(ctx, models.TimerSkrab, schedule.NextWeeklySpawn(c.clock.Now()), nil, c.sess.DisplayName())
	return nil
}

// ToggleNotifications flips the alert toggle and returns the new state.
func (c *Coordinator) ToggleNotifications(context.Context) bool {
	next := !c.alerts.Enabled()
	c.alerts.SetEnabled(next)
	return next
}

// SubmitOrder prices and stores an order on behalf of a connected client.
func (c *Coordinator) SubmitOrder(ctx context.Context, in orders.Input) error {
	if c.orders == nil {
		return ErrOrdersDisabled
	}
	order, err := c.orders.Submit(ctx, in)
	if err != nil {
		return err
	}
	if c.onOrder != nil {
		c.onOrder(order)
	}
	return nil
}

// Earnings computes the affiliate report for this session's nickname.
func (c *Coordinator) Earnings(ctx context.Context) (orders.Report, error) {
	if c.orders == nil {
		return orders.Report{}, ErrOrdersDisabled
	}
	return c.orders.Earnings(ctx, c.sess.Nickname())
}
