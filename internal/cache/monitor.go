package cache

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// MemorySnapshot is a heap usage sample.
type MemorySnapshot struct {
	HeapAllocBytes uint64
	HeapSysBytes   uint64
}

// UsagePercent returns allocated heap as a percentage of heap obtained from the OS.
func (m MemorySnapshot) UsagePercent() float64 {
	if m.HeapSysBytes == 0 {
		return 0
	}
	return float64(m.HeapAllocBytes) / float64(m.HeapSysBytes) * 100
}

func readRuntimeMemory() MemorySnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return MemorySnapshot{HeapAllocBytes: ms.HeapAlloc, HeapSysBytes: ms.HeapSys}
}

// BottleneckKind classifies a Bottleneck.
type BottleneckKind string

const (
	BottleneckMemory BottleneckKind = "memory"
	BottleneckCache  BottleneckKind = "cache"
)

// Bottleneck is one problem detected by a monitor pass.
type Bottleneck struct {
	Kind     BottleneckKind `json:"kind"`
	Tier     string         `json:"tier,omitempty"`
	Value    float64        `json:"value"`
	Limit    float64        `json:"limit"`
	Message  string         `json:"message"`
	Detected time.Time      `json:"detected"`
}

// MonitorReport summarises one monitor pass.
type MonitorReport struct {
	At          time.Time      `json:"at"`
	Memory      MemorySnapshot `json:"memory"`
	Tiers       []TierStats    `json:"tiers"`
	Bottlenecks []Bottleneck   `json:"bottlenecks"`
	Expired     int            `json:"expired"`
	Shrunk      int            `json:"shrunk"`
}

// Start launches the background monitor. It is a no-op if already running.
// The monitor exits when ctx is done or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	if e.monitorInterval <= 0 {
		return
	}

	e.monitorMu.Lock()
	defer e.monitorMu.Unlock()
	if e.monitorStop != nil {
		return
	}
	stop := make(chan struct{})
	e.monitorStop = stop

	go func() {
		ticker := time.NewTicker(e.monitorInterval)
		defer ticker.Stop()
		e.logger.Debug().Dur("interval", e.monitorInterval).Msg("Cache monitor started")
		for {
			select {
			case <-ctx.Done():
				e.monitorMu.Lock()
				if e.monitorStop == stop {
					e.monitorStop = nil
				}
				e.monitorMu.Unlock()
				e.logger.Debug().Msg("Cache monitor stopped: context done")
				return
			case <-stop:
				e.logger.Debug().Msg("Cache monitor stopped")
				return
			case <-ticker.C:
				e.RunMonitorPass()
			}
		}
	}()
}

// Stop signals the monitor to exit and returns immediately.
func (e *Engine) Stop() {
	e.monitorMu.Lock()
	defer e.monitorMu.Unlock()
	if e.monitorStop != nil {
		close(e.monitorStop)
		e.monitorStop = nil
	}
}

// Running reports whether the background monitor is active.
func (e *Engine) Running() bool {
	e.monitorMu.Lock()
	defer e.monitorMu.Unlock()
	return e.monitorStop != nil
}

// LastReport returns the most recent monitor report, or nil.
func (e *Engine) LastReport() *MonitorReport {
	return e.lastReport.Load()
}

// RunMonitorPass snapshots memory and tiers, reports bottlenecks, purges
// expired entries and shrinks oversized low-hit tiers.
func (e *Engine) RunMonitorPass() MonitorReport {
	now := e.now()
	report := MonitorReport{At: now, Memory: e.readMemory()}

	if usage := report.Memory.UsagePercent(); e.memThreshold > 0 && usage > e.memThreshold {
		report.Bottlenecks = append(report.Bottlenecks, Bottleneck{
			Kind:     BottleneckMemory,
			Value:    usage,
			Limit:    e.memThreshold,
			Message:  fmt.Sprintf("heap usage %.1f%% exceeds %.1f%%", usage, e.memThreshold),
			Detected: now,
		})
	}

	e.tiersMu.RLock()
	tiers := make([]*tier, 0, len(e.tiers))
	for _, t := range e.tiers {
		tiers = append(tiers, t)
	}
	e.tiersMu.RUnlock()

	for _, t := range tiers {
		report.Expired += t.purgeExpired(now)

		st := t.stats()
		// A tier with no traffic has no meaningful ratio.
		if st.Hits+st.Misses > 0 && st.HitRatio < st.HitRatioThreshold {
			report.Bottlenecks = append(report.Bottlenecks, Bottleneck{
				Kind:     BottleneckCache,
				Tier:     st.Name,
				Value:    st.HitRatio,
				Limit:    st.HitRatioThreshold,
				Message:  fmt.Sprintf("tier '%s' hit ratio %.2f below %.2f", st.Name, st.HitRatio, st.HitRatioThreshold),
				Detected: now,
			})
		}

		report.Shrunk += t.shrink(now)
		report.Tiers = append(report.Tiers, t.stats())
	}

	for _, b := range report.Bottlenecks {
		e.metrics.bottleneck(string(b.Kind))
		e.logger.Warn().Str("kind", string(b.Kind)).Str("tier", b.Tier).Float64("value", b.Value).
			Float64("limit", b.Limit).Msg("Bottleneck detected")
		if e.onBottleneck != nil {
			e.onBottleneck(b)
		}
	}
	if report.Expired > 0 || report.Shrunk > 0 {
		e.logger.Debug().Int("expired", report.Expired).Int("shrunk", report.Shrunk).Msg("Cache monitor pass")
	}

	e.lastReport.Store(&report)
	return report
}
