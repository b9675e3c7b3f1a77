package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/pairchat/internal/logging"
)

var errDown = errors.New("backend down")

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	down bool
	sets int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *fakeCache) setDown(down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = down
}

func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return errDown
	}
	c.sets++
	c.data[key] = value
	c.ttls[key] = ttl
	return nil
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil, errDown
	}
	v, ok := c.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (c *fakeCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return errDown
	}
	delete(c.data, key)
	return nil
}

func (c *fakeCache) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return errDown
	}
	return nil
}

func (c *fakeCache) value(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

type fakeLog struct {
	mu      sync.Mutex
	byID    map[string]Message
	down    bool
	inserts int
}

func newFakeLog() *fakeLog {
	return &fakeLog{byID: map[string]Message{}}
}

func (l *fakeLog) setDown(down bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.down = down
}

func (l *fakeLog) Insert(ctx context.Context, msg Message) error {
	return l.InsertMany(ctx, []Message{msg})
}

func (l *fakeLog) InsertMany(ctx context.Context, msgs []Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.down {
		return errDown
	}
	for _, m := range msgs {
		l.inserts++
		l.byID[m.ID] = m
	}
	return nil
}

func (l *fakeLog) Oldest(ctx context.Context, room string, limit int) ([]Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.down {
		return nil, errDown
	}
	var out []Message
	for _, m := range l.byID {
		if m.Room == room {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *fakeLog) Ping(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.down {
		return errDown
	}
	return nil
}

func (l *fakeLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byID)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func nopLogger() *logging.SlogLogger { return logging.Discard() }
