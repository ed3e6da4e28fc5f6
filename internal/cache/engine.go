// Package cache implements the tiered performance cache: named LRU tiers with
// adaptive TTLs, in-flight request deduplication, execution learning and a
// background monitor that detects bottlenecks.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/ZanzyTHEbar/toolweave"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Operation produces the value for a cache miss.
type Operation func(ctx context.Context) (any, error)

// Sizer lets values report their own size instead of being JSON encoded.
type Sizer interface {
	SizeBytes() (int, error)
}

// Cacheable lets values veto being stored (e.g. failed tool results).
type Cacheable interface {
	Cacheable() bool
}

// Source describes where a GetCachedOrExecute result came from.
type Source int

const (
	SourceMiss Source = iota
	SourceHit
	// SourceShared means the call joined an identical in-flight operation.
	SourceShared
)

func (s Source) String() string {
	switch s {
	case SourceHit:
		return "hit"
	case SourceShared:
		return "shared"
	default:
		return "miss"
	}
}

// Entry is one cached value. Entries are replaced, never mutated in place.
type Entry struct {
	Key            string
	Data           any
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	SizeBytes      int64
}

// Engine owns the named cache tiers.
type Engine struct {
	tiersMu sync.RWMutex
	tiers   map[string]*tier

	flight singleflight.Group

	learning        bool
	now             func() time.Time
	logger          zerolog.Logger
	registerer      prometheus.Registerer
	metrics         *collectors
	memThreshold    float64
	monitorInterval time.Duration
	readMemory      func() MemorySnapshot
	onBottleneck    func(Bottleneck)

	hits         atomic.Int64
	misses       atomic.Int64
	deduplicated atomic.Int64

	monitorMu   sync.Mutex
	monitorStop chan struct{}
	lastReport  atomic.Pointer[MonitorReport]
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger.With().Str("component", "cache").Logger()
	}
}

// WithLearning enables or disables execution pattern learning.
func WithLearning(enabled bool) Option {
	return func(e *Engine) {
		e.learning = enabled
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithRegisterer exports tier statistics as Prometheus metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.registerer = reg
	}
}

// WithMemoryThreshold sets the heap usage percentage flagged as a bottleneck.
func WithMemoryThreshold(percent float64) Option {
	return func(e *Engine) {
		e.memThreshold = percent
	}
}

// WithMonitorInterval sets how often the background monitor runs.
func WithMonitorInterval(interval time.Duration) Option {
	return func(e *Engine) {
		e.monitorInterval = interval
	}
}

// WithMemoryReader overrides how memory usage is sampled.
func WithMemoryReader(read func() MemorySnapshot) Option {
	return func(e *Engine) {
		e.readMemory = read
	}
}

// WithBottleneckHandler is called for every bottleneck a monitor pass detects.
func WithBottleneckHandler(fn func(Bottleneck)) Option {
	return func(e *Engine) {
		e.onBottleneck = fn
	}
}

// NewEngine creates an engine with one tier per configuration entry.
func NewEngine(tiers map[string]toolweave.CacheTierConfig, options ...Option) (*Engine, error) {
	e := &Engine{
		tiers:           make(map[string]*tier, len(tiers)),
		learning:        true,
		now:             time.Now,
		logger:          zerolog.Nop(),
		memThreshold:    85,
		monitorInterval: 30 * time.Second,
		readMemory:      readRuntimeMemory,
	}

	for _, option := range options {
		option(e)
	}

	metrics, err := newCollectors(e.registerer)
	if err != nil {
		return nil, toolweave.NewConfigurationError("failed to register cache metrics", err)
	}
	e.metrics = metrics

	for name, cfg := range tiers {
		if err := e.AddTier(name, cfg); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// AddTier registers a new tier. Existing tiers are left untouched.
func (e *Engine) AddTier(name string, cfg toolweave.CacheTierConfig) error {
	if cfg.MaxEntries <= 0 {
		return toolweave.NewConfigurationError(fmt.Sprintf("tier '%s': max entries must be positive", name), nil)
	}

	e.tiersMu.Lock()
	defer e.tiersMu.Unlock()
	if _, exists := e.tiers[name]; exists {
		return nil
	}
	t, err := newTier(name, cfg, e.metrics)
	if err != nil {
		return toolweave.NewConfigurationError(fmt.Sprintf("tier '%s'", name), err)
	}
	e.tiers[name] = t
	return nil
}

// TierNames returns the registered tier names in sorted order.
func (e *Engine) TierNames() []string {
	e.tiersMu.RLock()
	defer e.tiersMu.RUnlock()
	names := make([]string, 0, len(e.tiers))
	for name := range e.tiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) tier(name string) (*tier, error) {
	e.tiersMu.RLock()
	defer e.tiersMu.RUnlock()
	t, ok := e.tiers[name]
	if !ok {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr(fmt.Sprintf("cache tier '%s' not found", name), nil))
	}
	return t, nil
}

type flightResult struct {
	value  any
	source Source
}

// GetCachedOrExecute returns the cached value for (tierName, key) or runs op,
// caching its result. Concurrent calls for the same key share one execution.
// sample is recorded with the learning pattern when op runs.
func (e *Engine) GetCachedOrExecute(ctx context.Context, tierName, key string, op Operation, sample toolweave.Params) (any, Source, error) {
	if err := errbuilder.WrapIfContextDone(ctx, ctx.Err()); err != nil {
		return nil, SourceMiss, err
	}

	t, err := e.tier(tierName)
	if err != nil {
		return nil, SourceMiss, err
	}

	if v, ok := t.get(key, e.now(), e.learning); ok {
		e.hits.Add(1)
		return v, SourceHit, nil
	}

	executed := false
	res, err, _ := e.flight.Do(tierName+"\x00"+key, func() (any, error) {
		executed = true

		// Another flight may have populated the entry between our lookup and now.
		if v, ok := t.get(key, e.now(), e.learning); ok {
			e.hits.Add(1)
			return flightResult{value: v, source: SourceHit}, nil
		}

		e.misses.Add(1)
		t.recordMiss()

		start := e.now()
		v, err := op(ctx)
		if err != nil {
			return nil, err
		}
		elapsed := e.now().Sub(start)

		if e.learning {
			t.learn(key, elapsed, sample, e.now())
		}

		if c, ok := v.(Cacheable); ok && !c.Cacheable() {
			return flightResult{value: v, source: SourceMiss}, nil
		}
		if err := e.store(t, key, v); err != nil {
			e.logger.Warn().Err(err).Str("tier", tierName).Str("key", key).Msg("Rejected cache entry")
		}
		return flightResult{value: v, source: SourceMiss}, nil
	})
	if err != nil {
		return nil, SourceMiss, err
	}

	fr := res.(flightResult)
	if !executed {
		e.deduplicated.Add(1)
		return fr.value, SourceShared, nil
	}
	return fr.value, fr.source, nil
}

// Get returns a cached value without executing anything.
func (e *Engine) Get(ctx context.Context, tierName, key string) (any, error) {
	if err := errbuilder.WrapIfContextDone(ctx, ctx.Err()); err != nil {
		return nil, err
	}
	t, err := e.tier(tierName)
	if err != nil {
		return nil, err
	}
	v, ok := t.get(key, e.now(), e.learning)
	if !ok {
		e.misses.Add(1)
		t.recordMiss()
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item not found", nil))
	}
	e.hits.Add(1)
	return v, nil
}

// Set stores a value. Values that cannot be sized (for example
// self-referential structures) are rejected and the tier is left unchanged.
func (e *Engine) Set(ctx context.Context, tierName, key string, value any) error {
	if err := errbuilder.WrapIfContextDone(ctx, ctx.Err()); err != nil {
		return err
	}
	t, err := e.tier(tierName)
	if err != nil {
		return err
	}
	return e.store(t, key, value)
}

func (e *Engine) store(t *tier, key string, value any) error {
	size, err := sizeOf(value)
	if err != nil {
		return toolweave.NewCacheError("store", "size", err)
	}
	if t.cfg.MaxSizeBytes > 0 && size > t.cfg.MaxSizeBytes {
		return toolweave.NewCacheError("store", "admit",
			fmt.Errorf("entry of %d bytes exceeds tier budget of %d bytes", size, t.cfg.MaxSizeBytes))
	}
	evicted := t.put(key, value, size, e.now())
	if evicted > 0 {
		e.logger.Debug().Str("tier", t.name).Int("evicted", evicted).Msg("Evicted least recently used entries")
	}
	return nil
}

// Invalidate removes a single entry.
func (e *Engine) Invalidate(tierName, key string) bool {
	t, err := e.tier(tierName)
	if err != nil {
		return false
	}
	return t.remove(key)
}

// Keys returns a tier's keys from least to most recently used.
func (e *Engine) Keys(tierName string) []string {
	t, err := e.tier(tierName)
	if err != nil {
		return nil
	}
	return t.keys()
}

// Pattern returns a copy of the learning pattern for (tierName, key).
func (e *Engine) Pattern(tierName, key string) (toolweave.LearningPattern, bool) {
	t, err := e.tier(tierName)
	if err != nil {
		return toolweave.LearningPattern{}, false
	}
	return t.pattern(key)
}

// EffectiveTTL returns the TTL currently applied to key.
func (e *Engine) EffectiveTTL(tierName, key string) time.Duration {
	t, err := e.tier(tierName)
	if err != nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.effectiveTTL(key)
}

// Clear drops every entry, learning pattern and counter.
func (e *Engine) Clear() {
	e.tiersMu.RLock()
	defer e.tiersMu.RUnlock()
	for _, t := range e.tiers {
		t.clear()
	}
	e.hits.Store(0)
	e.misses.Store(0)
	e.deduplicated.Store(0)
}

// GlobalHitRate returns hits / (hits + misses) across all tiers.
func (e *Engine) GlobalHitRate() float64 {
	hits := e.hits.Load()
	total := hits + e.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Stats is a point-in-time summary of the engine.
type Stats struct {
	Tiers        []TierStats `json:"tiers"`
	Hits         int64       `json:"hits"`
	Misses       int64       `json:"misses"`
	Deduplicated int64       `json:"deduplicated"`
	HitRate      float64     `json:"hitRate"`
}

// Stats returns the current statistics.
func (e *Engine) Stats() Stats {
	e.tiersMu.RLock()
	tiers := make([]TierStats, 0, len(e.tiers))
	for _, t := range e.tiers {
		tiers = append(tiers, t.stats())
	}
	e.tiersMu.RUnlock()
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Name < tiers[j].Name })

	return Stats{
		Tiers:        tiers,
		Hits:         e.hits.Load(),
		Misses:       e.misses.Load(),
		Deduplicated: e.deduplicated.Load(),
		HitRate:      e.GlobalHitRate(),
	}
}

func sizeOf(v any) (int64, error) {
	if s, ok := v.(Sizer); ok {
		n, err := s.SizeBytes()
		return int64(n), err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}
