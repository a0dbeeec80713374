package server

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

type simpleCounter struct {
	data sync.Map
}

func (c *simpleCounter) add(key string, delta uint64) {
	if c == nil {
		return
	}
	normalized := normalizeMetricKey(key)
	if delta == 0 {
		return
	}
	current, _ := c.data.LoadOrStore(normalized, &atomic.Uint64{})
	counter := current.(*atomic.Uint64)
	counter.Add(delta)
}

func (c *simpleCounter) snapshot() map[string]uint64 {
	if c == nil {
		return nil
	}
	result := make(map[string]uint64)
	c.data.Range(func(key, value any) bool {
		strKey, ok := key.(string)
		if !ok {
			return true
		}
		if counter, ok := value.(*atomic.Uint64); ok {
			result[strKey] = counter.Load()
		}
		return true
	})
	if len(result) == 0 {
		return nil
	}
	return result
}

type layeredCounter struct {
	buckets sync.Map // string -> *simpleCounter
}

func (c *layeredCounter) add(primary, secondary string, delta uint64) {
	if c == nil || delta == 0 {
		return
	}
	normalizedPrimary := normalizeMetricKey(primary)
	normalizedSecondary := normalizeMetricKey(secondary)
	bucketAny, _ := c.buckets.LoadOrStore(normalizedPrimary, &simpleCounter{})
	if bucket, ok := bucketAny.(*simpleCounter); ok {
		bucket.add(normalizedSecondary, delta)
	}
}

func (c *layeredCounter) snapshot() map[string]map[string]uint64 {
	if c == nil {
		return nil
	}
	result := make(map[string]map[string]uint64)
	c.buckets.Range(func(key, value any) bool {
		primary, ok := key.(string)
		if !ok {
			return true
		}
		if bucket, ok := value.(*simpleCounter); ok {
			snapshot := bucket.snapshot()
			if len(snapshot) > 0 {
				result[primary] = snapshot
			}
		}
		return true
	})
	if len(result) == 0 {
		return nil
	}
	return result
}

func normalizeMetricKey(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

type telemetryCounters struct {
	bytesSent                    atomic.Uint64
	entitiesSent                 atomic.Uint64
	tickDurationMillis           atomic.Int64
	lastBroadcastBytes           atomic.Uint64
	lastBroadcastEntities        atomic.Uint64
	debug                        bool
	keyframeJournalSize          atomic.Uint64
	keyframeOldestSequence       atomic.Uint64
	keyframeNewestSequence       atomic.Uint64
	keyframeRequests             atomic.Uint64
	keyframeNacksExpired         atomic.Uint64
	keyframeNacksRateLimited     atomic.Uint64
	keyframeRequestLatencyMillis atomic.Uint64

	effectsSpawnedTotal layeredCounter
	effectsUpdatedTotal layeredCounter
	effectsEndedTotal   layeredCounter
	effectsActiveGauge  atomic.Int64
	triggerEnqueued     simpleCounter

	tickBudget tickBudgetTelemetry

	totalTicks   atomic.Uint64
	journalDrops simpleCounter

	effectParityMu      sync.Mutex
	effectParityEntries map[string]map[string]*effectParityAccumulator

	subscriberQueueDepthPeak atomic.Int64
	subscriberQueueDrops     atomic.Uint64
}

// effectParitySummary aggregates the per-instance hit statistics flushed when
// an effect instance ends, tagged with the pipeline (legacy or contract) that
// produced it so the two can be compared side by side.
type effectParitySummary struct {
	EffectType    string
	Source        string
	Hits          int
	UniqueVictims int
	TotalDamage   float64
	SpawnTick     Tick
	FirstHitTick  Tick
}

type effectParityAccumulator struct {
	hits           uint64
	misses         uint64
	damage         float64
	latencyTickSum float64
	latencySamples uint64
	victimBuckets  map[string]uint64
}

// tickBudgetTelemetry tracks the running tick-budget-overrun streak and the
// most recent resync alarm. A mutex guards the small set of scalar fields
// that must update together (streak + max + last-overrun); the bucketed
// overrun counts reuse simpleCounter, which is already concurrency-safe.
type tickBudgetTelemetry struct {
	mu                sync.Mutex
	budgetMillis      int64
	currentStreak     uint64
	maxStreak         uint64
	lastOverrunMillis int64
	overruns          simpleCounter
	alarmCount        uint64
	lastAlarmTick     uint64
	lastAlarmRatio    float64
}

type telemetryTickBudgetSnapshot struct {
	BudgetMillis      int64             `json:"budgetMillis"`
	CurrentStreak     uint64            `json:"currentStreak"`
	MaxStreak         uint64            `json:"maxStreak"`
	LastOverrunMillis int64             `json:"lastOverrunMillis"`
	Overruns          map[string]uint64 `json:"overruns,omitempty"`
	AlarmCount        uint64            `json:"alarmCount"`
	LastAlarmTick     uint64            `json:"lastAlarmTick"`
	LastAlarmRatio    float64           `json:"lastAlarmRatio"`
}

type telemetryEffectParityEntry struct {
	Hits                 uint64            `json:"hits"`
	Misses               uint64            `json:"misses"`
	Damage               float64           `json:"damage"`
	HitsPer1kTicks       float64           `json:"hitsPer1kTicks"`
	DamagePer1kTicks     float64           `json:"damagePer1kTicks"`
	FirstHitLatencyTicks float64           `json:"firstHitLatencyTicks"`
	FirstHitLatencyMs    float64           `json:"firstHitLatencyMs"`
	VictimBuckets        map[string]uint64 `json:"victimBuckets,omitempty"`
}

type telemetryEffectParitySnapshot struct {
	TotalTicks uint64                                           `json:"totalTicks"`
	Entries    map[string]map[string]telemetryEffectParityEntry `json:"entries,omitempty"`
}

type telemetrySnapshot struct {
	BytesSent                uint64                          `json:"bytesSent"`
	EntitiesSent             uint64                          `json:"entitiesSent"`
	TickDuration             int64                           `json:"tickDurationMillis"`
	KeyframeJournalSize      uint64                          `json:"keyframeJournalSize"`
	KeyframeOldestSequence   uint64                          `json:"keyframeOldestSequence"`
	KeyframeNewestSequence   uint64                          `json:"keyframeNewestSequence"`
	KeyframeRequests         uint64                          `json:"keyframeRequests"`
	KeyframeNacksExpired     uint64                          `json:"keyframeNacksExpired"`
	KeyframeNacksRateLimited uint64                          `json:"keyframeNacksRateLimited"`
	KeyframeRequestLatencyMs uint64                          `json:"keyframeRequestLatencyMs"`
	Effects                  telemetryEffectsSnapshot        `json:"effects"`
	EffectTriggers           telemetryEffectTriggersSnapshot `json:"effectTriggers"`
	EffectParity             telemetryEffectParitySnapshot   `json:"effectParity"`
	TickBudget               telemetryTickBudgetSnapshot     `json:"tickBudget"`
	JournalDrops             map[string]uint64               `json:"journalDrops,omitempty"`
}

type telemetryEffectsSnapshot struct {
	SpawnedTotal map[string]map[string]uint64 `json:"spawnedTotal,omitempty"`
	UpdatedTotal map[string]map[string]uint64 `json:"updatedTotal,omitempty"`
	EndedTotal   map[string]map[string]uint64 `json:"endedTotal,omitempty"`
	ActiveGauge  int64                        `json:"activeGauge"`
}

type telemetryEffectTriggersSnapshot struct {
	EnqueuedTotal map[string]uint64 `json:"enqueuedTotal,omitempty"`
}

func newTelemetryCounters() *telemetryCounters {
	t := &telemetryCounters{}
	if os.Getenv("DEBUG_TELEMETRY") == "1" {
		t.debug = true
	}
	return t
}

func (t *telemetryCounters) RecordBroadcast(bytes, entities int) {
	if bytes < 0 {
		bytes = 0
	}
	if entities < 0 {
		entities = 0
	}
	t.bytesSent.Add(uint64(bytes))
	t.entitiesSent.Add(uint64(entities))
	t.lastBroadcastBytes.Store(uint64(bytes))
	t.lastBroadcastEntities.Store(uint64(entities))
	observeBroadcast(bytes, entities)
}

func (t *telemetryCounters) RecordTickDuration(duration time.Duration) {
	millis := duration.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	t.tickDurationMillis.Store(millis)
	t.totalTicks.Add(1)
	observeTickDuration(duration)
	if t.debug {
		effects := t.effectsActiveGauge.Load()
		spawned := t.effectsSpawnedTotal.snapshot()
		updated := t.effectsUpdatedTotal.snapshot()
		ended := t.effectsEndedTotal.snapshot()
		triggers := t.triggerEnqueued.snapshot()
		fmt.Printf(
			"[telemetry] tick=%dms bytes=%d totalBytes=%d entities=%d totalEntities=%d effectsActive=%d spawned=%v updated=%v ended=%v triggers=%v\n",
			millis,
			t.lastBroadcastBytes.Load(),
			t.bytesSent.Load(),
			t.lastBroadcastEntities.Load(),
			t.entitiesSent.Load(),
			effects,
			spawned,
			updated,
			ended,
			triggers,
		)
	}
}

func (t *telemetryCounters) RecordKeyframeJournal(size int, oldest, newest uint64) {
	if size < 0 {
		size = 0
	}
	t.keyframeJournalSize.Store(uint64(size))
	t.keyframeOldestSequence.Store(oldest)
	t.keyframeNewestSequence.Store(newest)
}

func (t *telemetryCounters) RecordKeyframeRequest(latency time.Duration, success bool) {
	t.keyframeRequests.Add(1)
	if success {
		millis := latency.Milliseconds()
		if millis < 0 {
			millis = 0
		}
		t.keyframeRequestLatencyMillis.Store(uint64(millis))
	}
}

func (t *telemetryCounters) IncrementKeyframeExpired() {
	t.keyframeNacksExpired.Add(1)
}

func (t *telemetryCounters) IncrementKeyframeRateLimited() {
	t.keyframeNacksRateLimited.Add(1)
}

func (t *telemetryCounters) RecordEffectSpawned(effectType, producer string) {
	if t == nil {
		return
	}
	t.effectsSpawnedTotal.add(effectType, producer, 1)
}

func (t *telemetryCounters) RecordEffectUpdated(effectType, mutation string) {
	if t == nil {
		return
	}
	t.effectsUpdatedTotal.add(effectType, mutation, 1)
}

func (t *telemetryCounters) RecordEffectEnded(effectType, reason string) {
	if t == nil {
		return
	}
	t.effectsEndedTotal.add(effectType, reason, 1)
}

func (t *telemetryCounters) RecordEffectsActive(count int) {
	if t == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	t.effectsActiveGauge.Store(int64(count))
}

func (t *telemetryCounters) RecordEffectTrigger(triggerType string) {
	if t == nil {
		return
	}
	t.triggerEnqueued.add(triggerType, 1)
}

// effectParityVictimBucket coarsens a unique-victim count into a histogram
// bucket key. Counts up to five keep their exact value.
func effectParityVictimBucket(victims int) string {
	switch {
	case victims <= 0:
		return "0"
	case victims <= 5:
		return strconv.Itoa(victims)
	case victims <= 10:
		return "6_10"
	default:
		return "gt10"
	}
}

// RecordEffectParity folds one flushed effect-instance summary into the
// per-(effectType, source) parity accumulators. An instance that never landed
// a hit counts as a miss; first-hit latency is only sampled from instances
// that hit.
func (t *telemetryCounters) RecordEffectParity(summary effectParitySummary) {
	if t == nil {
		return
	}
	effectType := normalizeMetricKey(summary.EffectType)
	source := normalizeMetricKey(summary.Source)

	t.effectParityMu.Lock()
	defer t.effectParityMu.Unlock()
	if t.effectParityEntries == nil {
		t.effectParityEntries = make(map[string]map[string]*effectParityAccumulator)
	}
	bySource := t.effectParityEntries[effectType]
	if bySource == nil {
		bySource = make(map[string]*effectParityAccumulator)
		t.effectParityEntries[effectType] = bySource
	}
	acc := bySource[source]
	if acc == nil {
		acc = &effectParityAccumulator{victimBuckets: make(map[string]uint64)}
		bySource[source] = acc
	}

	if summary.Hits <= 0 {
		acc.misses++
	} else {
		acc.hits += uint64(summary.Hits)
		if summary.FirstHitTick >= summary.SpawnTick {
			acc.latencyTickSum += float64(summary.FirstHitTick - summary.SpawnTick)
			acc.latencySamples++
		}
	}
	if summary.TotalDamage > 0 {
		acc.damage += summary.TotalDamage
	}
	acc.victimBuckets[effectParityVictimBucket(summary.UniqueVictims)]++
}

func (t *telemetryCounters) effectParitySnapshot() telemetryEffectParitySnapshot {
	out := telemetryEffectParitySnapshot{TotalTicks: t.totalTicks.Load()}

	t.effectParityMu.Lock()
	defer t.effectParityMu.Unlock()
	if len(t.effectParityEntries) == 0 {
		return out
	}
	out.Entries = make(map[string]map[string]telemetryEffectParityEntry, len(t.effectParityEntries))
	for effectType, bySource := range t.effectParityEntries {
		entries := make(map[string]telemetryEffectParityEntry, len(bySource))
		for source, acc := range bySource {
			entry := telemetryEffectParityEntry{
				Hits:   acc.hits,
				Misses: acc.misses,
				Damage: acc.damage,
			}
			if out.TotalTicks > 0 {
				entry.HitsPer1kTicks = float64(acc.hits) * 1000.0 / float64(out.TotalTicks)
				entry.DamagePer1kTicks = acc.damage * 1000.0 / float64(out.TotalTicks)
			}
			if acc.latencySamples > 0 {
				entry.FirstHitLatencyTicks = acc.latencyTickSum / float64(acc.latencySamples)
				entry.FirstHitLatencyMs = entry.FirstHitLatencyTicks * 1000.0 / float64(tickRate)
			}
			if len(acc.victimBuckets) > 0 {
				buckets := make(map[string]uint64, len(acc.victimBuckets))
				for bucket, count := range acc.victimBuckets {
					buckets[bucket] = count
				}
				entry.VictimBuckets = buckets
			}
			entries[source] = entry
		}
		out.Entries[effectType] = entries
	}
	return out
}

// RecordJournalDrop counts lifecycle entries the effect journal refused,
// keyed by the journal's reason metric.
func (t *telemetryCounters) RecordJournalDrop(metric string) {
	if t == nil {
		return
	}
	t.journalDrops.add(metric, 1)
}

func (t *telemetryCounters) DebugEnabled() bool {
	return t.debug
}

// tickBudgetOverrunBucket classifies an overrun ratio into a coarse,
// dashboard-friendly bucket. Ranges are exclusive of the next bucket's floor:
// [1.5,2) is "over_1_5x", [2,3) is "over_2x", [3,inf) is "over_gt3x".
func tickBudgetOverrunBucket(ratio float64) string {
	switch {
	case ratio >= 3:
		return "over_gt3x"
	case ratio >= 2:
		return "over_2x"
	case ratio >= 1.5:
		return "over_1_5x"
	default:
		return "over_1x"
	}
}

// RecordTickBudgetOverrun records one tick that exceeded its budget and
// returns the updated consecutive-overrun streak.
func (t *telemetryCounters) RecordTickBudgetOverrun(duration, budget time.Duration) uint64 {
	if t == nil {
		return 0
	}
	ratio := 0.0
	if budget > 0 {
		ratio = float64(duration) / float64(budget)
	}

	t.tickBudget.mu.Lock()
	t.tickBudget.budgetMillis = budget.Milliseconds()
	t.tickBudget.lastOverrunMillis = duration.Milliseconds()
	t.tickBudget.currentStreak++
	if t.tickBudget.currentStreak > t.tickBudget.maxStreak {
		t.tickBudget.maxStreak = t.tickBudget.currentStreak
	}
	streak := t.tickBudget.currentStreak
	t.tickBudget.mu.Unlock()

	bucket := tickBudgetOverrunBucket(ratio)
	t.tickBudget.overruns.add(bucket, 1)
	observeTickBudgetOverrun(bucket)
	return streak
}

// ResetTickBudgetOverrunStreak clears the consecutive-overrun counter once a
// tick completes within budget. Max streak, last overrun, and alarm history
// are left untouched since they describe the worst case seen so far.
func (t *telemetryCounters) ResetTickBudgetOverrunStreak() {
	if t == nil {
		return
	}
	t.tickBudget.mu.Lock()
	t.tickBudget.currentStreak = 0
	t.tickBudget.mu.Unlock()
}

// RecordTickBudgetAlarm records that a resync alarm fired at the given tick
// with the given overrun ratio.
func (t *telemetryCounters) RecordTickBudgetAlarm(tick uint64, ratio float64) {
	if t == nil {
		return
	}
	t.tickBudget.mu.Lock()
	t.tickBudget.alarmCount++
	t.tickBudget.lastAlarmTick = tick
	t.tickBudget.lastAlarmRatio = ratio
	t.tickBudget.mu.Unlock()
	observeTickBudgetAlarm()
}

func (t *telemetryCounters) Snapshot() telemetrySnapshot {
	t.tickBudget.mu.Lock()
	tickBudget := telemetryTickBudgetSnapshot{
		BudgetMillis:      t.tickBudget.budgetMillis,
		CurrentStreak:     t.tickBudget.currentStreak,
		MaxStreak:         t.tickBudget.maxStreak,
		LastOverrunMillis: t.tickBudget.lastOverrunMillis,
		AlarmCount:        t.tickBudget.alarmCount,
		LastAlarmTick:     t.tickBudget.lastAlarmTick,
		LastAlarmRatio:    t.tickBudget.lastAlarmRatio,
	}
	t.tickBudget.mu.Unlock()
	tickBudget.Overruns = t.tickBudget.overruns.snapshot()

	return telemetrySnapshot{
		BytesSent:                t.bytesSent.Load(),
		EntitiesSent:             t.entitiesSent.Load(),
		TickDuration:             t.tickDurationMillis.Load(),
		KeyframeJournalSize:      t.keyframeJournalSize.Load(),
		KeyframeOldestSequence:   t.keyframeOldestSequence.Load(),
		KeyframeNewestSequence:   t.keyframeNewestSequence.Load(),
		KeyframeRequests:         t.keyframeRequests.Load(),
		KeyframeNacksExpired:     t.keyframeNacksExpired.Load(),
		KeyframeNacksRateLimited: t.keyframeNacksRateLimited.Load(),
		KeyframeRequestLatencyMs: t.keyframeRequestLatencyMillis.Load(),
		Effects: telemetryEffectsSnapshot{
			SpawnedTotal: t.effectsSpawnedTotal.snapshot(),
			UpdatedTotal: t.effectsUpdatedTotal.snapshot(),
			EndedTotal:   t.effectsEndedTotal.snapshot(),
			ActiveGauge:  t.effectsActiveGauge.Load(),
		},
		EffectTriggers: telemetryEffectTriggersSnapshot{
			EnqueuedTotal: t.triggerEnqueued.snapshot(),
		},
		EffectParity: t.effectParitySnapshot(),
		TickBudget:   tickBudget,
		JournalDrops: t.journalDrops.snapshot(),
	}
}

// RecordSubscriberQueueDepth tracks the deepest outbound queue observed since
// start; per-send depths feed the Prometheus histogram instead.
func (t *telemetryCounters) RecordSubscriberQueueDepth(depth int) {
	if t == nil {
		return
	}
	for {
		current := t.subscriberQueueDepthPeak.Load()
		if int64(depth) <= current {
			return
		}
		if t.subscriberQueueDepthPeak.CompareAndSwap(current, int64(depth)) {
			return
		}
	}
}

// RecordSubscriberQueueDrop counts broadcast frames dropped because a
// subscriber's queue was full.
func (t *telemetryCounters) RecordSubscriberQueueDrop(depth int) {
	if t == nil {
		return
	}
	t.subscriberQueueDrops.Add(1)
	observeSubscriberQueueDrop()
}
