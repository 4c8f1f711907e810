// Package presence maintains the ephemeral "who is online" registry: one
// record per connected privileged session, self-healing on unclean
// disconnects via the store's lease primitive.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/zaclabs/spawnsync/go/internal/identity"
	"github.com/zaclabs/spawnsync/go/internal/models"
	"github.com/zaclabs/spawnsync/go/internal/store"
)

// Collection is the store prefix holding presence records.
const Collection = "presence"

// Roster is the computed set of online admins.
type Roster struct {
	Admins []string
}

// String renders the roster line shown in the UI.
func (r Roster) String() string {
	if len(r.Admins) == 0 {
		return "No admins online"
	}
	return fmt.Sprintf("Online Admins (%d): %s", len(r.Admins), strings.Join(r.Admins, ", "))
}

// Tracker registers this session's presence record and watches the full
// presence set. One Tracker per session.
type Tracker struct {
	st    store.Store
	clock clockwork.Clock
	sess  *identity.Session

	// onRoster receives every recomputed roster; may be nil.
	onRoster func(Roster)

	mu     sync.Mutex
	ownKey string
}

// New builds a tracker for the session. onRoster may be nil.
func New(st store.Store, clock clockwork.Clock, sess *identity.Session, onRoster func(Roster)) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{st: st, clock: clock, sess: sess, onRoster: onRoster}
}

// Run blocks until ctx is done, keeping the presence record alive across
// reconnects and recomputing the roster on every change. Only privileged
// sessions register a record; everyone watches the roster.
func (t *Tracker) Run(ctx context.Context) error {
	roster, err := t.st.WatchPrefix(ctx, Collection)
	if err != nil {
		return fmt.Errorf("watch presence: %w", err)
	}
	defer roster.Cancel()

	var connCh <-chan bool
	if t.sess.Admin {
		conn, err := t.st.Connectivity(ctx)
		if err != nil {
			return fmt.Errorf("watch connectivity: %w", err)
		}
		defer conn.Cancel()
		connCh = conn.Changes()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-connCh:
			if !ok {
				connCh = nil
				continue
			}
			if up {
				t.register(ctx)
			}
		case snap, ok := <-roster.Snapshots():
			if !ok {
				return nil
			}
			if t.onRoster != nil {
				t.onRoster(computeRoster(snap))
			}
		}
	}
}

// register implements the delete-then-recreate sequence: a record left over
// from a prior connection epoch is removed first so the new record's lease is
// bound to the current connection.
func (t *Tracker) register(ctx context.Context) {
	t.mu.Lock()
	stale := t.ownKey
	t.mu.Unlock()

	if stale != "" {
		if err := t.st.Delete(ctx, stale); err != nil {
			log.Warn().Err(err).Str("key", stale).Msg("could not delete stale presence record")
		}
	}

	rec := models.PresenceRecord{
		Timestamp: t.clock.Now().UnixMilli(),
		IsAdmin:   true,
		Nickname:  t.sess.Nickname(),
	}
	key, err := t.st.Append(ctx, Collection, rec)
	if err != nil {
		log.Error().Err(err).Msg("could not register presence record")
		return
	}
	if err := t.st.KeepWhileConnected(ctx, key); err != nil {
		log.Error().Err(err).Str("key", key).Msg("could not lease presence record")
	}

	t.mu.Lock()
	t.ownKey = key
	t.mu.Unlock()

	log.Info().Str("key", key).Str("nickname", rec.Nickname).Msg("presence registered")
}

// Leave proactively deletes the owned record on explicit logout; the store's
// disconnect cleanup remains as the backstop.
func (t *Tracker) Leave(ctx context.Context) error {
	t.mu.Lock()
	key := t.ownKey
	t.ownKey = ""
	t.mu.Unlock()

	if key == "" {
		return nil
	}
	if err := t.st.Delete(ctx, key); err != nil {
		return fmt.Errorf("deregister presence: %w", err)
	}
	log.Info().Str("key", key).Msg("presence deregistered")
	return nil
}

// computeRoster filters the snapshot down to admin records, ordered by
// registration time for a stable display.
func computeRoster(snap store.Snapshot) Roster {
	type entry struct {
		ts   int64
		name string
	}
	var admins []entry
	for key, raw := range snap {
		var rec models.PresenceRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("malformed presence record")
			continue
		}
		if !rec.IsAdmin {
			continue
		}
		admins = append(admins, entry{ts: rec.Timestamp, name: rec.Nickname})
	}
	sort.Slice(admins, func(i, j int) bool {
		if admins[i].ts != admins[j].ts {
			return admins[i].ts < admins[j].ts
		}
		return admins[i].name < admins[j].name
	})
	names := make([]string, len(admins))
	for i, a := range admins {
		names[i] = a.name
	}
	return Roster{Admins: names}
}
