package adaptive

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/stitchbot/stitchbot/config"
	"github.com/stitchbot/stitchbot/logger"
	"github.com/stitchbot/stitchbot/models"
)

const (
	// ConvergenceWindow is the number of convergence samples kept.
	ConvergenceWindow = 100
	// OrphanWindow is the number of orphan flags kept (about six minutes at 10 BPS).
	OrphanWindow = 3600

	// Scaling of the stress terms, tuned for 10 BPS networks.
	deltaScale       = 1000.0
	convergenceScale = 10.0
	orphanScale      = 100.0
	loadScale        = 10.0
)

// ErrParentNotFound is returned by a TimestampLookup when the parent is unknown to the node.
var ErrParentNotFound = errors.New("parent block not found")

// TimestampLookup resolves the timestamp of a parent block, from the local
// window or from the node.
type TimestampLookup interface {
	Timestamp(ctx context.Context, hash models.BlockHash) (uint64, error)
}

// Engine turns rolling network observations into a stress score and derives
// stitching thresholds and reward sizes from it. It is owned by the event
// loop and is not safe for concurrent use.
type Engine struct {
	cfg    config.AdaptiveConfig
	lookup TimestampLookup

	convergence *ring[uint64]
	orphans     *ring[bool]
	orphanCount int
	lastStitch  int64
}

// NewEngine creates an engine with empty observation buffers.
func NewEngine(cfg config.AdaptiveConfig, lookup TimestampLookup) *Engine {
	return &Engine{
		cfg:         cfg,
		lookup:      lookup,
		convergence: newRing[uint64](ConvergenceWindow),
		orphans:     newRing[bool](OrphanWindow),
	}
}

// Update records the convergence time against the block's first parent and
// the block's orphan flag. A parent that cannot be resolved only skips the
// convergence sample.
func (e *Engine) Update(ctx context.Context, block models.BlockInfo, isOrphan bool) {
	if len(block.Parents) > 0 && e.lookup != nil {
		parent := block.Parents[0]
		ts, err := e.lookup.Timestamp(ctx, parent)
		switch {
		case err == nil:
			var conv uint64
			if block.Timestamp > ts {
				conv = block.Timestamp - ts
			}
			e.convergence.push(conv)
		case errors.Is(err, ErrParentNotFound):
			logger.Logger.Debug("Parent not found, convergence sample skipped",
				zap.String("parent", string(parent)))
		default:
			logger.Logger.Warn("Failed fetching parent block",
				zap.String("parent", string(parent)), zap.Error(err))
		}
	}

	if evicted, ok := e.orphans.push(isOrphan); ok && evicted {
		e.orphanCount--
	}
	if isOrphan {
		e.orphanCount++
	}
}

// AvgConvergence returns the mean convergence sample, or 1 with no samples.
func (e *Engine) AvgConvergence() float64 {
	if e.convergence.len() == 0 {
		return 1.0
	}
	var sum float64
	e.convergence.each(func(v uint64) { sum += float64(v) })
	return sum / float64(e.convergence.len())
}

// OrphanRate returns the fraction of orphan flags in the buffer, 0 when empty.
func (e *Engine) OrphanRate() float64 {
	if e.orphans.len() == 0 {
		return 0
	}
	return float64(e.orphanCount) / float64(e.orphans.len())
}

// SUS is the stress-under-score: the product of the scaled blue delta,
// average convergence time, orphan percentage and a load factor growing with
// blocks per second. It is non-decreasing in each input.
func (e *Engine) SUS(blueDelta uint64, bps float64) float64 {
	if bps < 0 {
		bps = 0
	}
	return (float64(blueDelta) / deltaScale) *
		(e.AvgConvergence() / convergenceScale) *
		(e.OrphanRate() * orphanScale) *
		(1 + bps/loadScale)
}

// Stress is SUS when adaptation is enabled and 0 otherwise.
func (e *Engine) Stress(blueDelta uint64, bps float64) float64 {
	if !e.cfg.Enabled {
		return 0
	}
	return e.SUS(blueDelta, bps)
}

// MinDelta is the blue-delta threshold under the given stress.
func (e *Engine) MinDelta(sus float64) uint64 {
	d := uint64(float64(e.cfg.BaseMinDelta) / (1 + sus/2))
	if d < e.cfg.MinDelta {
		d = e.cfg.MinDelta
	}
	return d
}

// RateLimit is the minimum number of seconds between stitches under the given stress.
func (e *Engine) RateLimit(sus float64) int64 {
	r := int64(float64(e.cfg.BaseRateLimit) / (1 + sus/3))
	if floor := int64(e.cfg.MinRateLimit); r < floor {
		r = floor
	}
	return r
}

// ShouldStitch reports whether a fracture of blueDelta should be stitched at
// unix time now.
func (e *Engine) ShouldStitch(blueDelta uint64, bps float64, now int64) bool {
	sus := e.Stress(blueDelta, bps)
	return blueDelta >= e.MinDelta(sus) && now-e.lastStitch >= e.RateLimit(sus)
}

// CoolingDown reports whether the rate limit forbids a stitch at now whatever
// the stress, letting callers skip the fracture search.
func (e *Engine) CoolingDown(now int64) bool {
	floor := int64(e.cfg.MinRateLimit)
	if !e.cfg.Enabled {
		floor = e.RateLimit(0)
	}
	return now-e.lastStitch < floor
}

// Reward is the base reward plus a bonus proportional to the capped stress,
// clamped to the configured maximum.
func (e *Engine) Reward(sus float64) uint64 {
	if sus < 0 || math.IsNaN(sus) {
		sus = 0
	}
	base := e.cfg.BaseReward
	bonus := float64(base) * math.Min(sus, e.cfg.BonusCap)
	total := float64(base) + bonus
	if total >= float64(e.cfg.MaxReward) {
		return e.cfg.MaxReward
	}
	return uint64(total)
}

// RecordStitch marks a stitch as broadcast at unix time now.
func (e *Engine) RecordStitch(now int64) {
	e.lastStitch = now
}

// LastStitch returns the unix time of the last broadcast stitch, 0 if none.
func (e *Engine) LastStitch() int64 {
	return e.lastStitch
}
