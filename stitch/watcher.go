package stitch

import (
	"context"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/stitchbot/stitchbot/logger"
	"github.com/stitchbot/stitchbot/models"
)

const (
	DefaultConfirmInterval = 2 * time.Second
	DefaultConfirmAttempts = 30
)

// BlockFetcher re-reads a block from the node.
type BlockFetcher interface {
	GetBlock(ctx context.Context, hash models.BlockHash) (*models.Block, error)
}

// Payer sends a reward payment and returns the transaction id.
type Payer interface {
	Pay(ctx context.Context, address string, amount uint64) (string, error)
}

// Job describes a broadcast stitch awaiting confirmation.
type Job struct {
	ID     string
	Block  models.BlockHash // block polled for healing
	Tips   []models.BlockHash
	Reward uint64
}

// Outcome is the result of watching one Job.
type Outcome struct {
	Job          Job
	Status       models.StitchStatus
	Attempts     int
	TxID         string
	MinerAddress string
	Err          error
}

// Watcher polls a block until its direct parents include every stitched tip,
// then pays the miner. It gives up after a fixed number of attempts.
type Watcher struct {
	fetcher  BlockFetcher
	payer    Payer
	interval time.Duration
	attempts int
}

// NewWatcher creates a watcher polling every interval for at most attempts rounds.
func NewWatcher(fetcher BlockFetcher, payer Payer, interval time.Duration, attempts int) *Watcher {
	if interval <= 0 {
		interval = DefaultConfirmInterval
	}
	if attempts <= 0 {
		attempts = DefaultConfirmAttempts
	}
	return &Watcher{fetcher: fetcher, payer: payer, interval: interval, attempts: attempts}
}

// Watch blocks until the job heals, the attempt budget runs out, or ctx ends.
// Fetch errors are logged and count as a spent attempt. A failed payment is
// not retried.
func (w *Watcher) Watch(ctx context.Context, job Job) Outcome {
	log := logger.Logger.With(zap.String("stitch_id", job.ID), zap.String("block", string(job.Block)))
	tips := mapset.NewThreadUnsafeSet[models.BlockHash](job.Tips...)

	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	for attempt := 1; attempt <= w.attempts; attempt++ {
		select {
		case <-ctx.Done():
			log.Warn("Confirmation abandoned", zap.Int("attempt", attempt), zap.Error(ctx.Err()))
			return Outcome{Job: job, Status: models.StitchTimeout, Attempts: attempt - 1, Err: ctx.Err()}
		case <-timer.C:
			timer.Reset(w.interval)
		}

		block, err := w.fetcher.GetBlock(ctx, job.Block)
		if err != nil {
			log.Warn("Failed to fetch stitched block", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		parents := mapset.NewThreadUnsafeSet[models.BlockHash](block.Header.DirectParents...)
		if !tips.IsSubset(parents) {
			continue
		}
		return w.reward(ctx, log, job, block, attempt)
	}

	log.Warn("Reward for stitch healing not sent", zap.Int("attempts", w.attempts))
	return Outcome{Job: job, Status: models.StitchTimeout, Attempts: w.attempts}
}

func (w *Watcher) reward(ctx context.Context, log *zap.Logger, job Job, block *models.Block, attempt int) Outcome {
	out := Outcome{Job: job, Status: models.StitchFailed, Attempts: attempt}

	addr, ok := block.MinerAddress()
	if !ok {
		out.Err = errors.New("no miner address in block")
		log.Error("Failed to determine miner address for reward payout")
		return out
	}
	out.MinerAddress = addr

	txID, err := w.payer.Pay(ctx, addr, job.Reward)
	if err != nil {
		out.Err = err
		log.Error("Reward send failed", zap.String("miner", addr), zap.Error(err))
		return out
	}

	out.Status = models.StitchHealed
	out.TxID = txID
	log.Info("HEALED! Reward sent",
		zap.String("miner", addr), zap.Uint64("reward", job.Reward), zap.String("tx_id", txID))
	return out
}
