package router

import (
	"sort"
	"sync"
	"time"
)

// Method distinguishes how a call reached the daemon.
type Method string

const (
	MethodSocket Method = "socket"
	MethodCLI    Method = "cli"
)

type callRecord struct {
	method    Method
	elapsedMS float64
}

// telemetry is a bounded ring of the last 100 router calls (spec
// §4.F: "record (method, elapsed_ms) tuples").
type telemetry struct {
	mu       sync.Mutex
	records  []callRecord
	capacity int
}

func newTelemetry(capacity int) *telemetry {
	if capacity <= 0 {
		capacity = 100
	}
	return &telemetry{capacity: capacity}
}

func (t *telemetry) record(method Method, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, callRecord{method: method, elapsedMS: float64(elapsed.Microseconds()) / 1000.0})
	if len(t.records) > t.capacity {
		t.records = t.records[len(t.records)-t.capacity:]
	}
}

// Stats summarizes the telemetry ring (spec §4.F).
type Stats struct {
	HitRate       float64 // fraction of calls that used the socket path
	MinMS         float64
	AvgMS         float64
	P95MS         float64
	MaxMS         float64
	MeetingTarget bool // every call in the window finished under targetMS
	Count         int
}

func (t *telemetry) stats(targetMS float64) Stats {
	t.mu.Lock()
	records := make([]callRecord, len(t.records))
	copy(records, t.records)
	t.mu.Unlock()

	if len(records) == 0 {
		return Stats{}
	}

	ms := make([]float64, len(records))
	var sum float64
	var socketCount int
	meeting := true
	for i, r := range records {
		ms[i] = r.elapsedMS
		sum += r.elapsedMS
		if r.method == MethodSocket {
			socketCount++
		}
		if r.elapsedMS > targetMS {
			meeting = false
		}
	}
	sort.Float64s(ms)

	idx := int(float64(len(ms))*0.95+0.9999999) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(ms) {
		idx = len(ms) - 1
	}

	return Stats{
		HitRate:       float64(socketCount) / float64(len(records)),
		MinMS:         ms[0],
		AvgMS:         sum / float64(len(records)),
		P95MS:         ms[idx],
		MaxMS:         ms[len(ms)-1],
		MeetingTarget: meeting,
		Count:         len(records),
	}
}
