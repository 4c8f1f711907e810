package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// NATSKVConfig holds connection settings for the JetStream-backed store.
type NATSKVConfig struct {
	URL    string
	Bucket string

	// Keys under EphemeralPrefix live in a TTL bucket and are kept alive by
	// a heartbeat while the connection is up. This is how
	// KeepWhileConnected maps onto JetStream: when the connection drops the
	// heartbeat stops and the server expires the key.
	EphemeralPrefix string
	EphemeralTTL    time.Duration

	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSKVConfig returns the settings used by the coordinator daemon.
func DefaultNATSKVConfig() NATSKVConfig {
	return NATSKVConfig{
		URL:             nats.DefaultURL,
		Bucket:          "spawnsync",
		EphemeralPrefix: "presence",
		EphemeralTTL:    30 * time.Second,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
	}
}

// NATSKV is a Store backed by two JetStream key-value buckets: a durable one
// for timer and order state and a TTL bucket for presence leases.
type NATSKV struct {
	cfg NATSKVConfig
	nc  *nats.Conn
	kv  jetstream.KeyValue
	eph jetstream.KeyValue

	mu        sync.Mutex
	leases    map[string]struct{}
	connWatch []*memConnWatcher
	connected bool
	closed    bool

	stopHeartbeat context.CancelFunc
}

// NewNATSKV connects to NATS and ensures both buckets exist.
func NewNATSKV(ctx context.Context, cfg NATSKVConfig) (*NATSKV, error) {
	s := &NATSKV{
		cfg:    cfg,
		leases: make(map[string]struct{}),
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
			s.setConnected(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			s.setConnected(true)
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	s.nc = nc
	s.connected = true

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	s.kv, err = js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "spawnsync shared state",
		History:     1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, err)
	}

	s.eph, err = js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket + "_ephemeral",
		Description: "spawnsync presence leases",
		History:     1,
		TTL:         cfg.EphemeralTTL,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure bucket %s_ephemeral: %w", cfg.Bucket, err)
	}

	hbCtx, cancel := context.WithCancel(context.Background())
	s.stopHeartbeat = cancel
	go s.heartbeat(hbCtx)

	return s, nil
}

// bucketFor routes ephemeral-prefixed keys to the TTL bucket.
func (s *NATSKV) bucketFor(key string) jetstream.KeyValue {
	if s.cfg.EphemeralPrefix != "" &&
		(key == s.cfg.EphemeralPrefix || strings.HasPrefix(key, s.cfg.EphemeralPrefix+KeySep)) {
		return s.eph
	}
	return s.kv
}

func (s *NATSKV) Write(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if _, err := s.bucketFor(key).Put(ctx, key, raw); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *NATSKV) ReadOnce(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.bucketFor(key).Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return entry.Value(), nil
}

func (s *NATSKV) Append(ctx context.Context, collection string, value any) (string, error) {
	key := collection + KeySep + uuid.NewString()
	if err := s.Write(ctx, key, value); err != nil {
		return "", err
	}
	return key, nil
}

func (s *NATSKV) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.leases, key)
	s.mu.Unlock()
	if err := s.bucketFor(key).Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *NATSKV) Watch(ctx context.Context, key string) (Watcher, error) {
	kw, err := s.bucketFor(key).Watch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", key, err)
	}
	w := &memWatcher{ch: make(chan Event, watchBuffer)}
	go func() {
		defer w.Cancel()
		for entry := range kw.Updates() {
			if entry == nil {
				// End-of-replay marker.
				continue
			}
			ev := Event{Key: entry.Key()}
			if entry.Operation() == jetstream.KeyValuePut {
				ev.Value = entry.Value()
			}
			if !w.send(ev) {
				return
			}
		}
	}()
	return &natsWatcher{memWatcher: w, stop: func() { _ = kw.Stop() }}, nil
}

func (s *NATSKV) WatchPrefix(ctx context.Context, prefix string) (PrefixWatcher, error) {
	kw, err := s.bucketFor(prefix).Watch(ctx, prefix+KeySep+">")
	if err != nil {
		return nil, fmt.Errorf("watch prefix %s: %w", prefix, err)
	}
	w := &memPrefixWatcher{prefix: prefix, ch: make(chan Snapshot, watchBuffer)}
	go func() {
		defer w.Cancel()
		state := make(Snapshot)
		replayed := false
		emit := func() bool {
			snap := make(Snapshot, len(state))
			for k, v := range state {
				snap[k] = v
			}
			return w.send(snap)
		}
		for entry := range kw.Updates() {
			if entry == nil {
				replayed = true
				if !emit() {
					return
				}
				continue
			}
			if entry.Operation() == jetstream.KeyValuePut {
				state[entry.Key()] = entry.Value()
			} else {
				delete(state, entry.Key())
			}
			if replayed && !emit() {
				return
			}
		}
	}()
	return &natsPrefixWatcher{memPrefixWatcher: w, stop: func() { _ = kw.Stop() }}, nil
}

func (s *NATSKV) Connectivity(ctx context.Context) (ConnWatcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	w := &memConnWatcher{ch: make(chan bool, watchBuffer)}
	w.ch <- s.connected
	s.connWatch = append(s.connWatch, w)
	return w, nil
}

func (s *NATSKV) KeepWhileConnected(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.leases[key] = struct{}{}
	return nil
}

func (s *NATSKV) setConnected(up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.connected == up {
		return
	}
	s.connected = up
	kept := s.connWatch[:0]
	for _, w := range s.connWatch {
		if w.send(up) {
			kept = append(kept, w)
		}
	}
	s.connWatch = kept
}

// heartbeat refreshes leased keys at a third of the bucket TTL so they only
// expire when this client stops renewing them.
func (s *NATSKV) heartbeat(ctx context.Context) {
	interval := s.cfg.EphemeralTTL / 3
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.nc.IsConnected() {
				continue
			}
			s.mu.Lock()
			keys := make([]string, 0, len(s.leases))
			for k := range s.leases {
				keys = append(keys, k)
			}
			s.mu.Unlock()
			for _, key := range keys {
				entry, err := s.eph.Get(ctx, key)
				if err != nil {
					continue
				}
				if _, err := s.eph.Put(ctx, key, entry.Value()); err != nil {
					log.Warn().Err(err).Str("key", key).Msg("lease refresh failed")
				}
			}
		}
	}
}

func (s *NATSKV) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	keys := make([]string, 0, len(s.leases))
	for k := range s.leases {
		keys = append(keys, k)
	}
	s.leases = map[string]struct{}{}
	watchers := s.connWatch
	s.connWatch = nil
	s.mu.Unlock()

	s.stopHeartbeat()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := s.eph.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			log.Warn().Err(err).Str("key", key).Msg("lease cleanup on close failed")
		}
	}
	for _, w := range watchers {
		w.Cancel()
	}
	s.nc.Close()
	return nil
}

// natsWatcher couples the delivery channel with the underlying KV watcher so
// Cancel stops the server-side subscription too.
type natsWatcher struct {
	*memWatcher
	stop func()
}

func (w *natsWatcher) Cancel() {
	w.stop()
	w.memWatcher.Cancel()
}

type natsPrefixWatcher struct {
	*memPrefixWatcher
	stop func()
}

func (w *natsPrefixWatcher) Cancel() {
	w.stop()
	w.memPrefixWatcher.Cancel()
}
