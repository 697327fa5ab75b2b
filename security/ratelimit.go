package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// throttleEntry tracks a per-key limiter and its last access time.
type throttleEntry struct {
	key        string
	limiter    *rate.Limiter
	lastAccess time.Time
	dropped    int64
}

// LogThrottle bounds how often a given key may emit a log line, using a
// token bucket per key with LRU eviction so an attacker cannot grow the
// key set without bound. It exists for flood control of security event
// logging, not for limiting protocol requests.
type LogThrottle struct {
	entries    map[string]*list.Element
	lruList    *list.List
	mu         sync.Mutex
	rate       rate.Limit
	burst      int
	maxEntries int
	logger     *slog.Logger

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewLogThrottle creates a throttle allowing eventsPerSecond sustained lines
// per key with the given burst. At most maxEntries keys are tracked; the
// least recently used key is evicted when the limit is reached. maxEntries
// of 0 means unlimited.
func NewLogThrottle(eventsPerSecond float64, burst, maxEntries int, logger *slog.Logger) *LogThrottle {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries < 0 {
		maxEntries = 0
	}

	t := &LogThrottle{
		entries:         make(map[string]*list.Element),
		lruList:         list.New(),
		rate:            rate.Limit(eventsPerSecond),
		burst:           burst,
		maxEntries:      maxEntries,
		logger:          logger,
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go t.cleanupLoop()

	return t
}

// Allow reports whether the key may emit a log line now. When a key comes
// back under its limit after dropping lines, the drop count is logged once
// so the suppression is visible in the audit trail.
func (t *LogThrottle) Allow(key string) bool {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if elem, ok := t.entries[key]; ok {
		t.lruList.MoveToFront(elem)
		entry := elem.Value.(*throttleEntry)
		entry.lastAccess = now
		if entry.limiter.Allow() {
			if entry.dropped > 0 {
				t.logger.Warn("security event logging resumed after throttling",
					"key", key,
					"dropped", entry.dropped)
				entry.dropped = 0
			}
			return true
		}
		entry.dropped++
		return false
	}

	if t.maxEntries > 0 && len(t.entries) >= t.maxEntries {
		t.evictLRU()
	}

	entry := &throttleEntry{
		key:        key,
		limiter:    rate.NewLimiter(t.rate, t.burst),
		lastAccess: now,
	}
	elem := t.lruList.PushFront(entry)
	t.entries[key] = elem

	return entry.limiter.Allow()
}

// evictLRU removes the least recently used key. Caller holds the mutex.
func (t *LogThrottle) evictLRU() {
	elem := t.lruList.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*throttleEntry)
	delete(t.entries, entry.key)
	t.lruList.Remove(elem)
}

func (t *LogThrottle) cleanupLoop() {
	ticker := time.NewTicker(t.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Cleanup(30 * time.Minute)
		case <-t.stopCleanup:
			return
		}
	}
}

// Cleanup removes keys idle for longer than maxIdleTime.
func (t *LogThrottle) Cleanup(maxIdleTime time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var next *list.Element
	for elem := t.lruList.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*throttleEntry)
		if now.Sub(entry.lastAccess) > maxIdleTime {
			delete(t.entries, entry.key)
			t.lruList.Remove(elem)
		}
	}
}

// Stop terminates the background cleanup goroutine. Safe to call more
// than once.
func (t *LogThrottle) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCleanup)
	})
}
