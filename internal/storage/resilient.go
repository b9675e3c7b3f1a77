package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/pairchat/internal/logging"
	"github.com/google/uuid"
)

// Options tunes a ResilientStore. Zero fields take the defaults below.
type Options struct {
	LocalCacheSize  int
	MessageRingSize int
	OpTimeout       time.Duration
	HealthInterval  time.Duration
	CleanupInterval time.Duration
	// RingIdleTTL drops a room's ring once every message in it is persisted
	// and nothing was appended for this long.
	RingIdleTTL time.Duration
	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

const (
	DefaultLocalCacheSize  = 10000
	DefaultMessageRingSize = 1000
	DefaultOpTimeout       = 2 * time.Second
	DefaultHealthInterval  = 5 * time.Second
	DefaultCleanupInterval = time.Minute
	DefaultRingIdleTTL     = time.Hour
)

func (o *Options) withDefaults() {
	if o.LocalCacheSize <= 0 {
		o.LocalCacheSize = DefaultLocalCacheSize
	}
	if o.MessageRingSize <= 0 {
		o.MessageRingSize = DefaultMessageRingSize
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = DefaultOpTimeout
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = DefaultHealthInterval
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = DefaultCleanupInterval
	}
	if o.RingIdleTTL <= 0 {
		o.RingIdleTTL = DefaultRingIdleTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// ResilientStore is safe for concurrent use. Backend calls run outside the
// internal lock and are each bounded by Options.OpTimeout.
//
// Both backends start out unhealthy; the first CheckHealth (Run does one
// immediately) promotes reachable backends and resyncs them.
type ResilientStore struct {
	cache Cache
	log   DocumentLog
	opts  Options

	logger logging.Logger

	mu           sync.Mutex
	local        *localMap
	rings        map[string]*messageRing
	cacheHealthy bool
	logHealthy   bool
	observers    []func(Backend, bool)
}

// NewResilientStore builds a store over cache and log. Either may be nil,
// in which case that side runs purely in memory.
func NewResilientStore(cache Cache, log DocumentLog, logger logging.Logger, opts Options) *ResilientStore {
	opts.withDefaults()
	return &ResilientStore{
		cache:  cache,
		log:    log,
		opts:   opts,
		logger: logger.With("module", "storage"),
		local:  newLocalMap(opts.LocalCacheSize),
		rings:  make(map[string]*messageRing),
	}
}

// OnHealthChange registers fn to be called after a backend flips between
// healthy and unhealthy. fn runs on the goroutine that observed the change
// and must not call back into the store.
func (s *ResilientStore) OnHealthChange(fn func(b Backend, healthy bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *ResilientStore) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Health{Cache: s.cacheHealthy, Log: s.logHealthy}
}

// Set stores value (JSON-encoded) under key. The local copy is always
// written; the cache copy only while the cache is healthy. A non-positive
// ttl means no expiry. Backend failures are absorbed; the only error is an
// unencodable value.
func (s *ResilientStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}

	s.mu.Lock()
	s.local.set(key, raw, ttl, s.opts.Now())
	useCache := s.cache != nil && s.cacheHealthy
	s.mu.Unlock()

	if useCache {
		cctx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
		defer cancel()
		if err := s.cache.Set(cctx, key, raw, ttl); err != nil {
			s.markUnhealthy(ctx, BackendCache, err)
		}
	}
	return nil
}

// Get returns the raw JSON stored under key. The local map is consulted
// first, then the cache while healthy. false means absent or unknown.
func (s *ResilientStore) Get(ctx context.Context, key string) ([]byte, bool) {
	s.mu.Lock()
	raw, ok := s.local.get(key, s.opts.Now())
	useCache := s.cache != nil && s.cacheHealthy
	s.mu.Unlock()

	if ok {
		return raw, true
	}
	if !useCache {
		return nil, false
	}

	cctx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
	defer cancel()
	raw, err := s.cache.Get(cctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			s.markUnhealthy(ctx, BackendCache, err)
		}
		return nil, false
	}
	return raw, true
}

// GetJSON decodes the value under key into dst and reports whether it was found.
func (s *ResilientStore) GetJSON(ctx context.Context, key string, dst any) bool {
	raw, ok := s.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Warn(ctx, "undecodable value", "key", key, "error", err)
		return false
	}
	return true
}

// Delete removes key locally and, while healthy, from the cache.
func (s *ResilientStore) Delete(ctx context.Context, key string) {
	s.mu.Lock()
	s.local.delete(key)
	useCache := s.cache != nil && s.cacheHealthy
	s.mu.Unlock()

	if useCache {
		cctx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
		defer cancel()
		if err := s.cache.Delete(cctx, key); err != nil {
			s.markUnhealthy(ctx, BackendCache, err)
		}
	}
}

// AppendMessage records a message in room's ring and, while the log is
// healthy, in the document log. Timestamps are millisecond-aligned and
// strictly increasing within a room, so log order matches append order.
func (s *ResilientStore) AppendMessage(ctx context.Context, room, from, content string) Message {
	s.mu.Lock()
	now := s.opts.Now()
	r := s.ringFor(room)
	ts := now.Truncate(time.Millisecond)
	if last := r.last(); !ts.After(last) {
		ts = last.Add(time.Millisecond)
	}
	msg := Message{ID: uuid.NewString(), Room: room, From: from, Content: content, Timestamp: ts}
	r.push(msg, now)
	useLog := s.log != nil && s.logHealthy
	s.mu.Unlock()

	if useLog {
		lctx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
		defer cancel()
		if err := s.log.Insert(lctx, msg); err != nil {
			s.markUnhealthy(ctx, BackendLog, err)
		} else {
			s.markPersisted(room, []Message{msg})
		}
	}
	return msg
}

// Messages returns up to limit messages of room. With a healthy log the
// oldest limit durable records come first, followed by the ring tail minus
// records already returned from the log; the last limit of that sequence
// are returned. Otherwise only the ring tail.
func (s *ResilientStore) Messages(ctx context.Context, room string, limit int) []Message {
	if limit <= 0 || limit > s.opts.MessageRingSize {
		limit = s.opts.MessageRingSize
	}

	s.mu.Lock()
	var recent []Message
	if r, ok := s.rings[room]; ok {
		recent = r.tail(limit)
	}
	useLog := s.log != nil && s.logHealthy
	s.mu.Unlock()

	if !useLog {
		return recent
	}

	lctx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
	defer cancel()
	durable, err := s.log.Oldest(lctx, room, limit)
	if err != nil {
		s.markUnhealthy(ctx, BackendLog, err)
		return recent
	}

	seen := make(map[string]struct{}, len(durable))
	merged := make([]Message, 0, len(durable)+len(recent))
	for _, m := range durable {
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	for _, m := range recent {
		if _, dup := seen[m.ID]; !dup {
			merged = append(merged, m)
		}
	}
	if len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged
}

// Run performs an immediate health check, then checks health every
// HealthInterval and sweeps local state every CleanupInterval until ctx
// is cancelled.
func (s *ResilientStore) Run(ctx context.Context) error {
	s.CheckHealth(ctx)

	health := time.NewTicker(s.opts.HealthInterval)
	defer health.Stop()
	cleanup := time.NewTicker(s.opts.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-health.C:
			s.CheckHealth(ctx)
		case <-cleanup.C:
			s.Cleanup(ctx)
		}
	}
}

// CheckHealth pings both backends. A backend that answers after being
// unhealthy is resynced before this returns.
func (s *ResilientStore) CheckHealth(ctx context.Context) {
	if s.cache != nil {
		if s.probe(ctx, s.cache.Ping, BackendCache) {
			s.resyncCache(ctx)
		}
	}
	if s.log != nil {
		if s.probe(ctx, s.log.Ping, BackendLog) {
			s.resyncLog(ctx)
		}
	}
}

// probe pings a backend, updates its flag, and reports an
// unhealthy-to-healthy transition.
func (s *ResilientStore) probe(ctx context.Context, ping func(context.Context) error, b Backend) bool {
	pctx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
	err := ping(pctx)
	cancel()

	if err != nil {
		s.markUnhealthy(ctx, b, err)
		return false
	}

	s.mu.Lock()
	flag := s.flag(b)
	recovered := !*flag
	*flag = true
	observers := s.observers
	s.mu.Unlock()

	if recovered {
		s.logger.Info(ctx, "backend healthy", "backend", b)
		notify(observers, b, true)
	}
	return recovered
}

func (s *ResilientStore) markUnhealthy(ctx context.Context, b Backend, cause error) {
	s.mu.Lock()
	flag := s.flag(b)
	was := *flag
	*flag = false
	observers := s.observers
	s.mu.Unlock()

	if was {
		s.logger.Warn(ctx, "backend unhealthy, serving from memory", "backend", b, "error", cause)
		notify(observers, b, false)
	}
}

func notify(observers []func(Backend, bool), b Backend, healthy bool) {
	for _, fn := range observers {
		fn(b, healthy)
	}
}

// flag must be called with mu held.
func (s *ResilientStore) flag(b Backend) *bool {
	if b == BackendCache {
		return &s.cacheHealthy
	}
	return &s.logHealthy
}

// resyncCache re-writes every live local entry with its remaining TTL.
// Each key is re-read just before writing so newer values are not
// clobbered by an older snapshot.
func (s *ResilientStore) resyncCache(ctx context.Context) {
	s.mu.Lock()
	keys := s.local.keys(s.opts.Now())
	s.mu.Unlock()

	written := 0
	for _, key := range keys {
		s.mu.Lock()
		now := s.opts.Now()
		ttl, live := s.local.ttl(key, now)
		raw, _ := s.local.get(key, now)
		s.mu.Unlock()
		if !live {
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
		err := s.cache.Set(cctx, key, raw, ttl)
		cancel()
		if err != nil {
			s.markUnhealthy(ctx, BackendCache, err)
			s.logger.Warn(ctx, "cache resync interrupted", "written", written, "total", len(keys))
			return
		}
		written++
	}
	s.logger.Info(ctx, "cache resynced", "keys", written)
}

// resyncLog inserts every ring message the log has not confirmed.
func (s *ResilientStore) resyncLog(ctx context.Context) {
	s.mu.Lock()
	pending := make(map[string][]Message)
	for room, r := range s.rings {
		if msgs := r.unpersisted(); len(msgs) > 0 {
			pending[room] = msgs
		}
	}
	s.mu.Unlock()

	total := 0
	for room, msgs := range pending {
		lctx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
		err := s.log.InsertMany(lctx, msgs)
		cancel()
		if err != nil {
			s.markUnhealthy(ctx, BackendLog, err)
			s.logger.Warn(ctx, "log resync interrupted", "room", room, "error", err)
			return
		}
		s.markPersisted(room, msgs)
		total += len(msgs)
	}
	s.logger.Info(ctx, "log resynced", "messages", total, "rooms", len(pending))
}

func (s *ResilientStore) markPersisted(room string, msgs []Message) {
	ids := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		ids[m.ID] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rings[room]; ok {
		r.markPersisted(ids)
	}
}

// Cleanup sweeps expired local entries and drops idle, fully persisted rings.
func (s *ResilientStore) Cleanup(ctx context.Context) {
	s.mu.Lock()
	now := s.opts.Now()
	expired := s.local.sweep(now)

	var idle []string
	for room, r := range s.rings {
		if now.Sub(r.lastAppend) >= s.opts.RingIdleTTL && r.allPersisted() {
			idle = append(idle, room)
		}
	}
	for _, room := range idle {
		delete(s.rings, room)
	}
	s.mu.Unlock()

	if expired > 0 || len(idle) > 0 {
		s.logger.Debug(ctx, "storage cleanup", "expired_keys", expired, "idle_rings", len(idle))
	}
}

// ringFor must be called with mu held.
func (s *ResilientStore) ringFor(room string) *messageRing {
	r, ok := s.rings[room]
	if !ok {
		r = newMessageRing(s.opts.MessageRingSize)
		s.rings[room] = r
	}
	return r
}
