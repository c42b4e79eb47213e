package sequencer

import (
	"container/list"
	"fmt"

	"FundLedger/internal/observability"
)

// IdempotencyChecker implements two-tier deduplication of client commands
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU holding the original result
	lru *IdempotencyLRU

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	metrics *observability.Metrics
}

// DBIdempotencyChecker is the interface for the Postgres command log lookup
type DBIdempotencyChecker interface {
	IsDuplicate(command string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

func compositeKey(command, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", command, idempotencyKey)
}

// Lookup reports whether a command was already processed. hasResult is set
// when the LRU still holds the original result; a warmed key or a hit in
// Postgres only proves that the key was used.
func (ic *IdempotencyChecker) Lookup(command string, idempotencyKey string) (result any, hasResult, duplicate bool) {
	key := compositeKey(command, idempotencyKey)

	// Tier 1: LRU check (hot path)
	if elem, ok := ic.lru.cache[key]; ok {
		ic.lru.lruList.MoveToFront(elem)
		ic.recordDuplicate("lru")
		entry := elem.Value.(*lruEntry)
		return entry.result, entry.hasResult, true
	}

	// Tier 2: Postgres check (cold path)
	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(command, idempotencyKey)
		if err != nil {
			// Assume not duplicate so a DB outage does not block commands
			if ic.metrics != nil {
				ic.metrics.DedupTier2Errors.Inc()
			}
			return nil, false, false
		}
		if isDup {
			ic.recordDuplicate("postgres")
			ic.lru.WarmFromKeys([]string{key})
			ic.updateGauges()
			return nil, false, true
		}
	}
	return nil, false, false
}

// MarkProcessed remembers a successful command and its result
func (ic *IdempotencyChecker) MarkProcessed(command string, idempotencyKey string, result any) {
	ic.lru.Add(compositeKey(command, idempotencyKey), result)
	ic.updateGauges()
}

// Warm loads recently processed composite keys, oldest first.
func (ic *IdempotencyChecker) Warm(keys []string) {
	ic.lru.WarmFromKeys(keys)
	ic.updateGauges()
}

func (ic *IdempotencyChecker) recordDuplicate(tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(tier).Inc()
	}
}

func (ic *IdempotencyChecker) updateGauges() {
	if ic.metrics == nil {
		return
	}
	ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
	if n := ic.lru.Evictions(); n > ic.lru.reported {
		ic.metrics.DedupLRUEvictions.Add(float64(n - ic.lru.reported))
		ic.lru.reported = n
	}
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache of idempotency keys and command results.
// Not thread-safe: only accessed from the sequencer goroutine.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
	reported  int64
}

type lruEntry struct {
	key       string
	result    any
	hasResult bool
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Get returns the stored result and promotes the key
func (lru *IdempotencyLRU) Get(key string) (any, bool) {
	elem, exists := lru.cache[key]
	if !exists {
		return nil, false
	}
	lru.lruList.MoveToFront(elem)
	return elem.Value.(*lruEntry).result, true
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	_, ok := lru.Get(key)
	return ok
}

// Add inserts a key (or promotes and updates it if it exists)
func (lru *IdempotencyLRU) Add(key string, result any) {
	if elem, exists := lru.cache[key]; exists {
		entry := elem.Value.(*lruEntry)
		entry.result, entry.hasResult = result, true
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(&lruEntry{key: key, result: result, hasResult: true})
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(*lruEntry).key)
		lru.evictions++
	}
}

// WarmFromKeys loads composite keys without results. On restart the most
// recent keys come from the Postgres command log so retries of recent
// commands are caught without a DB round trip.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		if _, exists := lru.cache[key]; exists {
			continue
		}
		lru.cache[key] = lru.lruList.PushFront(&lruEntry{key: key})

		if lru.lruList.Len() > lru.capacity {
			lru.evictOldest()
		}
	}
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions (for metrics)
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
