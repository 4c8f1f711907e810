package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// watchBuffer is the per-subscriber event buffer. A subscriber that falls
// this far behind is evicted rather than allowed to stall writers.
const watchBuffer = 64

// Memory is an in-process Store used by tests and embedded deployments. It
// also simulates the connection lifecycle: DropConnection fires the
// registered leases the way the real store's server-side cleanup would.
type Memory struct {
	mu        sync.Mutex
	data      map[string][]byte
	keyWatch  map[string][]*memWatcher
	prefWatch []*memPrefixWatcher
	connWatch []*memConnWatcher
	leases    map[string]struct{}
	connected bool
	closed    bool
}

// NewMemory returns an empty, connected in-process store.
func NewMemory() *Memory {
	return &Memory{
		data:      make(map[string][]byte),
		keyWatch:  make(map[string][]*memWatcher),
		leases:    make(map[string]struct{}),
		connected: true,
	}
}

func (m *Memory) Write(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.data[key] = raw
	m.notifyLocked(key, raw)
	return nil
}

func (m *Memory) ReadOnce(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	raw, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return raw, nil
}

func (m *Memory) Append(ctx context.Context, collection string, value any) (string, error) {
	key := collection + KeySep + uuid.NewString()
	if err := m.Write(ctx, key, value); err != nil {
		return "", err
	}
	return key, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.deleteLocked(key)
	return nil
}

func (m *Memory) deleteLocked(key string) {
	if _, ok := m.data[key]; !ok {
		return
	}
	delete(m.data, key)
	delete(m.leases, key)
	m.notifyLocked(key, nil)
}

// notifyLocked fans a change out to key watchers and prefix watchers. Sends
// happen under the store mutex, which is what preserves per-key ordering.
func (m *Memory) notifyLocked(key string, value []byte) {
	kept := m.keyWatch[key][:0]
	for _, w := range m.keyWatch[key] {
		if w.send(Event{Key: key, Value: value}) {
			kept = append(kept, w)
		}
	}
	m.keyWatch[key] = kept

	pref := m.prefWatch[:0]
	for _, w := range m.prefWatch {
		if !strings.HasPrefix(key, w.prefix+KeySep) && key != w.prefix {
			pref = append(pref, w)
			continue
		}
		if w.send(m.snapshotLocked(w.prefix)) {
			pref = append(pref, w)
		}
	}
	m.prefWatch = pref
}

func (m *Memory) snapshotLocked(prefix string) Snapshot {
	snap := make(Snapshot)
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix+KeySep) || k == prefix {
			snap[k] = v
		}
	}
	return snap
}

func (m *Memory) Watch(ctx context.Context, key string) (Watcher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	w := &memWatcher{ch: make(chan Event, watchBuffer)}
	if raw, ok := m.data[key]; ok {
		w.ch <- Event{Key: key, Value: raw}
	}
	m.keyWatch[key] = append(m.keyWatch[key], w)
	return w, nil
}

func (m *Memory) WatchPrefix(ctx context.Context, prefix string) (PrefixWatcher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	w := &memPrefixWatcher{prefix: prefix, ch: make(chan Snapshot, watchBuffer)}
	w.ch <- m.snapshotLocked(prefix)
	m.prefWatch = append(m.prefWatch, w)
	return w, nil
}

func (m *Memory) Connectivity(ctx context.Context) (ConnWatcher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	w := &memConnWatcher{ch: make(chan bool, watchBuffer)}
	w.ch <- m.connected
	m.connWatch = append(m.connWatch, w)
	return w, nil
}

func (m *Memory) KeepWhileConnected(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.leases[key] = struct{}{}
	return nil
}

// DropConnection simulates a hard disconnect: the server deletes every leased
// key and every connectivity subscriber observes the transition to offline.
func (m *Memory) DropConnection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.connected {
		return
	}
	m.connected = false
	for key := range m.leases {
		log.Debug().Str("key", key).Msg("memory store expiring leased key on disconnect")
		m.deleteLocked(key)
	}
	m.notifyConnLocked(false)
}

// Reconnect simulates the connection coming back.
func (m *Memory) Reconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.connected {
		return
	}
	m.connected = true
	m.notifyConnLocked(true)
}

func (m *Memory) notifyConnLocked(up bool) {
	kept := m.connWatch[:0]
	for _, w := range m.connWatch {
		if w.send(up) {
			kept = append(kept, w)
		}
	}
	m.connWatch = kept
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, ws := range m.keyWatch {
		for _, w := range ws {
			w.Cancel()
		}
	}
	for _, w := range m.prefWatch {
		w.Cancel()
	}
	for _, w := range m.connWatch {
		w.Cancel()
	}
	m.keyWatch = map[string][]*memWatcher{}
	m.prefWatch = nil
	m.connWatch = nil
	return nil
}

type memWatcher struct {
	mu   sync.Mutex
	ch   chan Event
	done bool
}

func (w *memWatcher) Events() <-chan Event { return w.ch }

func (w *memWatcher) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.done {
		w.done = true
		close(w.ch)
	}
}

// send reports false when the subscriber is gone or was evicted for falling
// behind.
func (w *memWatcher) send(ev Event) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return false
	}
	select {
	case w.ch <- ev:
		return true
	default:
		log.Warn().Str("key", ev.Key).Msg("memory store watcher buffer full, evicting")
		w.done = true
		close(w.ch)
		return false
	}
}

type memPrefixWatcher struct {
	prefix string
	mu     sync.Mutex
	ch     chan Snapshot
	done   bool
}

func (w *memPrefixWatcher) Snapshots() <-chan Snapshot { return w.ch }

func (w *memPrefixWatcher) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.done {
		w.done = true
		close(w.ch)
	}
}

func (w *memPrefixWatcher) send(snap Snapshot) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return false
	}
	select {
	case w.ch <- snap:
		return true
	default:
		log.Warn().Str("prefix", w.prefix).Msg("memory store prefix watcher buffer full, evicting")
		w.done = true
		close(w.ch)
		return false
	}
}

type memConnWatcher struct {
	mu   sync.Mutex
	ch   chan bool
	done bool
}

func (w *memConnWatcher) Changes() <-chan bool { return w.ch }

func (w *memConnWatcher) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.done {
		w.done = true
		close(w.ch)
	}
}

func (w *memConnWatcher) send(up bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return false
	}
	select {
	case w.ch <- up:
		return true
	default:
		w.done = true
		close(w.ch)
		return false
	}
}
