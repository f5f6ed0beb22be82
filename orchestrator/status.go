package orchestrator

import (
	"time"

	"github.com/stitchbot/stitchbot/models"
)

const bpsWindow = 10 * time.Second

// Status is a point-in-time view of the agent, served by the status API.
type Status struct {
	LiveBlocks     int              `json:"liveBlocks"`
	Capacity       int              `json:"capacity"`
	Processed      uint64           `json:"processed"`
	LastBlock      models.BlockHash `json:"lastBlock,omitempty"`
	LastBlueScore  uint64           `json:"lastBlueScore"`
	BPS            float64          `json:"bps"`
	AvgConvergence float64          `json:"avgConvergence"`
	OrphanRate     float64          `json:"orphanRate"`
	LastSUS        float64          `json:"lastSus"`
	LastStitch     int64            `json:"lastStitch"`
	Stitches       uint64           `json:"stitches"`
	InFlight       int64            `json:"inFlight"`
}

// Status returns a copy of the latest snapshot.
func (a *Agent) Status() Status {
	a.statusMu.RLock()
	s := a.status
	a.statusMu.RUnlock()
	s.InFlight = a.inFlight.Load()
	return s
}

func (a *Agent) publish(info models.BlockInfo, bps, sus float64, fractured, stitched bool) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()

	a.status.LiveBlocks = a.window.Len()
	a.status.Processed++
	a.status.LastBlock = info.Hash
	a.status.LastBlueScore = info.BlueScore
	a.status.BPS = bps
	a.status.AvgConvergence = a.engine.AvgConvergence()
	a.status.OrphanRate = a.engine.OrphanRate()
	a.status.LastStitch = a.engine.LastStitch()
	if fractured {
		a.status.LastSUS = sus
	}
	if stitched {
		a.status.Stitches++
	}
}

// bpsMeter counts block arrivals over a sliding time window.
type bpsMeter struct {
	window   time.Duration
	arrivals []time.Time
}

func newBPSMeter(window time.Duration) *bpsMeter {
	return &bpsMeter{window: window}
}

// observe records an arrival at t and returns the arrival rate per second.
func (m *bpsMeter) observe(t time.Time) float64 {
	m.arrivals = append(m.arrivals, t)
	cutoff := t.Add(-m.window)
	drop := 0
	for drop < len(m.arrivals) && !m.arrivals[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		m.arrivals = append(m.arrivals[:0], m.arrivals[drop:]...)
	}
	return float64(len(m.arrivals)) / m.window.Seconds()
}
