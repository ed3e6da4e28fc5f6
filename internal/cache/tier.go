package cache

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/toolweave"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// maxSampleContexts bounds the ring buffer kept per learning pattern.
const maxSampleContexts = 10

// tier is a single named namespace. All fields are guarded by mu.
type tier struct {
	name    string
	cfg     toolweave.CacheTierConfig
	metrics *collectors

	mu          sync.Mutex
	entries     *simplelru.LRU[string, *Entry]
	sizeBytes   int64
	hits        int64
	misses      int64
	evictions   int64
	expirations int64
	patterns    map[string]*toolweave.LearningPattern
}

func newTier(name string, cfg toolweave.CacheTierConfig, metrics *collectors) (*tier, error) {
	t := &tier{
		name:     name,
		cfg:      cfg,
		metrics:  metrics,
		patterns: make(map[string]*toolweave.LearningPattern),
	}
	entries, err := simplelru.NewLRU[string, *Entry](cfg.MaxEntries, t.onRemove)
	if err != nil {
		return nil, err
	}
	t.entries = entries
	return t, nil
}

// onRemove runs for every entry leaving the LRU, whatever the reason.
func (t *tier) onRemove(_ string, entry *Entry) {
	t.sizeBytes -= entry.SizeBytes
	t.metrics.setSize(t.name, t.entries.Len(), t.sizeBytes)
}

// effectiveTTL must be called with mu held. A non-positive base TTL never expires.
func (t *tier) effectiveTTL(key string) time.Duration {
	base := t.cfg.BaseTTL
	if base <= 0 || !t.cfg.AdaptiveTTL {
		return base
	}
	p, ok := t.patterns[key]
	if !ok || p.TotalExecutions == 0 {
		return base
	}
	frequency := math.Min(2.0, 1+float64(p.AccessCount)/float64(p.TotalExecutions))
	variance := math.Max(0.5, 1-p.ExecutionTimeVariance/10000)
	return time.Duration(float64(base) * frequency * variance)
}

func (t *tier) expired(entry *Entry, key string, now time.Time) bool {
	ttl := t.effectiveTTL(key)
	return ttl > 0 && now.Sub(entry.CreatedAt) > ttl
}

// get returns a live entry, refreshing its recency. Expired entries are removed.
func (t *tier) get(key string, now time.Time, learning bool) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries.Get(key)
	if !ok {
		return nil, false
	}
	if t.expired(entry, key, now) {
		t.entries.Remove(key)
		t.expirations++
		return nil, false
	}

	// Replace rather than mutate so readers holding the old entry see a stable value.
	updated := *entry
	updated.LastAccessedAt = now
	updated.AccessCount++
	t.entries.Add(key, &updated)

	t.hits++
	t.metrics.hit(t.name)

	if learning {
		p := t.patternFor(key)
		p.AccessCount++
		p.LastAccessed = now
	}
	return entry.Data, true
}

func (t *tier) recordMiss() {
	t.mu.Lock()
	t.misses++
	t.mu.Unlock()
	t.metrics.miss(t.name)
}

// put inserts or replaces key and returns how many entries were evicted.
func (t *tier) put(key string, value any, size int64, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries.Remove(key)

	evicted := 0
	if t.cfg.MaxSizeBytes > 0 {
		for t.entries.Len() > 0 && t.sizeBytes+size > t.cfg.MaxSizeBytes {
			t.entries.RemoveOldest()
			evicted++
		}
	}

	t.sizeBytes += size
	if t.entries.Add(key, &Entry{
		Key:            key,
		Data:           value,
		CreatedAt:      now,
		LastAccessedAt: now,
		SizeBytes:      size,
	}) {
		evicted++
	}

	t.evictions += int64(evicted)
	t.metrics.evicted(t.name, evicted)
	t.metrics.setSize(t.name, t.entries.Len(), t.sizeBytes)
	return evicted
}

func (t *tier) remove(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries.Remove(key)
}

func (t *tier) keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries.Keys()
}

func (t *tier) patternFor(key string) *toolweave.LearningPattern {
	p, ok := t.patterns[key]
	if !ok {
		p = &toolweave.LearningPattern{}
		t.patterns[key] = p
	}
	return p
}

// learn folds one execution sample into the running mean and population variance.
func (t *tier) learn(key string, elapsed time.Duration, sample toolweave.Params, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.patternFor(key)
	ms := float64(elapsed) / float64(time.Millisecond)

	n := float64(p.TotalExecutions)
	sumSquares := p.ExecutionTimeVariance * n
	p.TotalExecutions++
	delta := ms - p.AverageExecutionTimeMs
	p.AverageExecutionTimeMs += delta / float64(p.TotalExecutions)
	sumSquares += delta * (ms - p.AverageExecutionTimeMs)
	p.ExecutionTimeVariance = sumSquares / float64(p.TotalExecutions)
	p.LastAccessed = now

	if sample != nil {
		p.SampleContexts = append(p.SampleContexts, sample.Clone())
		if len(p.SampleContexts) > maxSampleContexts {
			p.SampleContexts = p.SampleContexts[len(p.SampleContexts)-maxSampleContexts:]
		}
	}
}

func (t *tier) pattern(key string) (toolweave.LearningPattern, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.patterns[key]
	if !ok {
		return toolweave.LearningPattern{}, false
	}
	out := *p
	out.SampleContexts = append([]toolweave.Params(nil), p.SampleContexts...)
	return out, true
}

func (t *tier) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Purge()
	t.sizeBytes = 0
	t.hits, t.misses, t.evictions, t.expirations = 0, 0, 0, 0
	t.patterns = make(map[string]*toolweave.LearningPattern)
	t.metrics.setSize(t.name, 0, 0)
}

// purgeExpired removes every expired entry and returns how many were dropped.
func (t *tier) purgeExpired(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for _, key := range t.entries.Keys() {
		entry, ok := t.entries.Peek(key)
		if ok && t.expired(entry, key, now) {
			t.entries.Remove(key)
			removed++
		}
	}
	t.expirations += int64(removed)
	return removed
}

func (t *tier) hitRatioLocked() float64 {
	total := t.hits + t.misses
	if total == 0 {
		return 0
	}
	return float64(t.hits) / float64(total)
}

// oversized reports whether the tier is above 80% of its entry or byte budget.
func (t *tier) oversizedLocked() bool {
	if t.entries.Len() > t.cfg.MaxEntries*8/10 {
		return true
	}
	return t.cfg.MaxSizeBytes > 0 && t.sizeBytes > t.cfg.MaxSizeBytes*8/10
}

// shrink removes the lowest-value 20% of entries when the tier is oversized
// and its hit ratio is below threshold. value = accessCount / (idle ms + 1).
func (t *tier) shrink(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.oversizedLocked() || t.hitRatioLocked() >= t.cfg.HitRatioThreshold {
		return 0
	}

	type scored struct {
		key   string
		value float64
	}
	keys := t.entries.Keys()
	candidates := make([]scored, 0, len(keys))
	for _, key := range keys {
		entry, ok := t.entries.Peek(key)
		if !ok {
			continue
		}
		idle := float64(now.Sub(entry.LastAccessedAt).Milliseconds())
		candidates = append(candidates, scored{key: key, value: float64(entry.AccessCount) / (idle + 1)})
	}
	// Stable on LRU order so ties drop the least recently used first.
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].value < candidates[j].value })

	count := int(math.Ceil(float64(len(candidates)) * 0.2))
	for _, c := range candidates[:count] {
		t.entries.Remove(c.key)
	}
	t.evictions += int64(count)
	t.metrics.evicted(t.name, count)
	return count
}

// TierStats summarises one tier.
type TierStats struct {
	Name              string  `json:"name"`
	Entries           int     `json:"entries"`
	MaxEntries        int     `json:"maxEntries"`
	SizeBytes         int64   `json:"sizeBytes"`
	MaxSizeBytes      int64   `json:"maxSizeBytes"`
	Hits              int64   `json:"hits"`
	Misses            int64   `json:"misses"`
	Evictions         int64   `json:"evictions"`
	Expirations       int64   `json:"expirations"`
	HitRatio          float64 `json:"hitRatio"`
	HitRatioThreshold float64 `json:"hitRatioThreshold"`
	Patterns          int     `json:"patterns"`
}

func (t *tier) stats() TierStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TierStats{
		Name:              t.name,
		Entries:           t.entries.Len(),
		MaxEntries:        t.cfg.MaxEntries,
		SizeBytes:         t.sizeBytes,
		MaxSizeBytes:      t.cfg.MaxSizeBytes,
		Hits:              t.hits,
		Misses:            t.misses,
		Evictions:         t.evictions,
		Expirations:       t.expirations,
		HitRatio:          t.hitRatioLocked(),
		HitRatioThreshold: t.cfg.HitRatioThreshold,
		Patterns:          len(t.patterns),
	}
}
