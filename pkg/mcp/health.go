package mcp

import (
	"context"
	"sync"
	"time"
)

// defaultHealthInterval is how often connected sessions are pinged.
const defaultHealthInterval = 30 * time.Second

// HealthRecord is the connectivity record for one server.
type HealthRecord struct {
	LastSuccess         time.Time
	ConsecutiveFailures int
	LastError           string
}

// healthMonitor keeps per-server health records and runs the periodic probe
// loop. Records are written only through the manager's lifecycle paths;
// Snapshot hands out copies.
type healthMonitor struct {
	mu      sync.Mutex
	records map[string]HealthRecord

	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

func newHealthMonitor(interval time.Duration) *healthMonitor {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &healthMonitor{
		records:  make(map[string]HealthRecord),
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// markSuccess records a successful contact and resets the failure streak.
func (h *healthMonitor) markSuccess(server string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[server] = HealthRecord{LastSuccess: time.Now()}
}

// markFailure increments the failure streak, preserving the last success.
func (h *healthMonitor) markFailure(server string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := h.records[server]
	rec.ConsecutiveFailures++
	if err != nil {
		rec.LastError = err.Error()
	}
	h.records[server] = rec
}

// remove drops the record for a disconnected server.
func (h *healthMonitor) remove(server string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.records, server)
}

// Snapshot returns a copy of every record.
func (h *healthMonitor) Snapshot() map[string]HealthRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]HealthRecord, len(h.records))
	for name, rec := range h.records {
		out[name] = rec
	}
	return out
}

// start runs probe on the interval until Stop is called or ctx is done.
func (h *healthMonitor) start(ctx context.Context, probe func(context.Context)) {
	go func() {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stop:
				return
			case <-ticker.C:
				probe(ctx)
			}
		}
	}()
}

// Stop halts the probe loop. Safe to call more than once, or without start
// ever having run.
func (h *healthMonitor) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}
