package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stitchbot/stitchbot/adaptive"
	"github.com/stitchbot/stitchbot/config"
	"github.com/stitchbot/stitchbot/dag"
	"github.com/stitchbot/stitchbot/logger"
	"github.com/stitchbot/stitchbot/models"
	"github.com/stitchbot/stitchbot/node"
	"github.com/stitchbot/stitchbot/repository"
	"github.com/stitchbot/stitchbot/stitch"
)

const outcomeBuffer = 64

// Node is the part of the node RPC the event loop uses.
type Node interface {
	GetTipHashes(ctx context.Context) ([]models.BlockHash, error)
	GetBlock(ctx context.Context, hash models.BlockHash) (*models.Block, error)
	SubscribeBlockAdded(ctx context.Context) (node.BlockStream, error)
}

// Broadcaster signs and gossips a stitch request.
type Broadcaster interface {
	Broadcast(weak models.BlockHash, tips []models.BlockHash, reward uint64) (*stitch.Request, error)
}

// Confirmer watches a broadcast stitch until it heals or gives up.
type Confirmer interface {
	Watch(ctx context.Context, job stitch.Job) stitch.Outcome
}

// Agent is the event loop: every added block updates the window and the
// adaptive engine, and may trigger a stitch broadcast followed by a detached
// confirmation task. The window and engine are only touched from Run.
type Agent struct {
	cfg         *config.Config
	node        Node
	broadcaster Broadcaster
	confirmer   Confirmer
	repo        repository.StitchRepositoryInterface

	window *dag.Window
	engine *adaptive.Engine
	meter  *bpsMeter
	now    func() time.Time

	tasks       errgroup.Group
	tasksCtx    context.Context
	cancelTasks context.CancelFunc
	inFlight    atomic.Int64
	outcomes    chan stitch.Outcome

	statusMu sync.RWMutex
	status   Status
}

// NewAgent wires the event loop. repo may be nil to disable the stitch ledger.
func NewAgent(cfg *config.Config, n Node, b Broadcaster, c Confirmer, repo repository.StitchRepositoryInterface) *Agent {
	window := dag.NewWindow(cfg.DAG.Window)
	tasksCtx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		cfg:         cfg,
		node:        n,
		broadcaster: b,
		confirmer:   c,
		repo:        repo,
		window:      window,
		meter:       newBPSMeter(bpsWindow),
		now:         time.Now,
		tasksCtx:    tasksCtx,
		cancelTasks: cancel,
		outcomes:    make(chan stitch.Outcome, outcomeBuffer),
	}
	a.engine = adaptive.NewEngine(cfg.Adaptive, &parentLookup{window: window, node: n})
	a.status.Capacity = window.Capacity()
	return a
}

// Outcomes reports the result of every finished confirmation task. Outcomes
// that find the buffer full are dropped.
func (a *Agent) Outcomes() <-chan stitch.Outcome {
	return a.outcomes
}

// Run bootstraps the window from the node's tips, then processes block-added
// notifications one at a time until ctx ends (nil error) or the stream fails.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Bootstrap(ctx); err != nil {
		return err
	}

	stream, err := a.node.SubscribeBlockAdded(ctx)
	if err != nil {
		return errors.Wrap(err, "start block notifications")
	}
	logger.Logger.Info("Listening for new blocks")

	for {
		block, err := stream.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Logger.Info("Shutting down event loop")
				return nil
			}
			logger.Logger.Error("Block stream error", zap.Error(err))
			return errors.Wrap(err, "block stream")
		}
		a.ProcessBlock(ctx, block)
	}
}

// Bootstrap seeds the window with the node's current tips, newest first and
// at most one window's worth. Tips that fail to load are skipped; failing to
// list tips is fatal.
func (a *Agent) Bootstrap(ctx context.Context) error {
	tips, err := a.node.GetTipHashes(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch tip hashes")
	}
	for i, taken := len(tips)-1, 0; i >= 0 && taken < a.window.Capacity(); i, taken = i-1, taken+1 {
		hash := tips[i]
		block, err := a.node.GetBlock(ctx, hash)
		if err != nil {
			logger.Logger.Warn("Failed to fetch block", zap.String("hash", string(hash)), zap.Error(err))
			continue
		}
		a.window.AddBlock(block)
	}
	logger.Logger.Info("DAG bootstrapped", zap.Int("nodes", a.window.Len()))
	return nil
}

// ProcessBlock runs one block through the pipeline and returns the ledger
// record of the stitch it triggered, if any.
func (a *Agent) ProcessBlock(ctx context.Context, block *models.Block) *models.StitchRecord {
	info := block.Info()
	if !a.window.Add(info) {
		return nil
	}
	logger.Logger.Debug("New block", zap.String("hash", string(info.Hash)), zap.Uint64("blue", info.BlueScore))

	now := a.now()
	bps := a.meter.observe(now)
	orphan := !a.window.IsInSelectedChain(info.Hash)
	a.engine.Update(ctx, info, orphan)

	rec, sus, fractured := a.maybeStitch(block, bps, now)
	a.publish(info, bps, sus, fractured, rec != nil)
	return rec
}

func (a *Agent) maybeStitch(block *models.Block, bps float64, now time.Time) (*models.StitchRecord, float64, bool) {
	unix := now.Unix()
	if a.engine.CoolingDown(unix) {
		return nil, 0, false
	}
	fr, ok := a.window.FindFracture(a.cfg.DAG.MinBlueDelta)
	if !ok {
		return nil, 0, false
	}
	sus := a.engine.Stress(fr.Delta, bps)
	if !a.engine.ShouldStitch(fr.Delta, bps, unix) {
		logger.Logger.Debug("Fracture below adaptive threshold",
			zap.String("branch", string(fr.Branch.Hash)), zap.Uint64("delta", fr.Delta), zap.Float64("sus", sus))
		return nil, sus, true
	}

	reward := a.engine.Reward(sus)
	tips := fr.TipHashes()
	logger.Logger.Info("Fracture detected",
		zap.String("branch", string(fr.Branch.Hash)),
		zap.Int("tips", len(tips)),
		zap.Uint64("delta", fr.Delta),
		zap.Float64("centrality", fr.Centrality),
		zap.Float64("sus", sus),
		zap.Uint64("reward", reward))

	req, err := a.broadcaster.Broadcast(fr.Branch.Hash, tips, reward)
	if err != nil {
		logger.Logger.Error("P2P stitch broadcast failed", zap.Error(err))
		return nil, sus, true
	}
	a.engine.RecordStitch(unix)
	logger.Logger.Info("P2P stitch request sent", zap.Uint64("expiry", req.Expiry))

	rec := &models.StitchRecord{
		ID:           uuid.NewString(),
		WeakBlock:    fr.Branch.Hash,
		TriggerBlock: block.Hash,
		Tips:         tips,
		Reward:       reward,
		Expiry:       req.Expiry,
		BlueDelta:    fr.Delta,
		SUS:          sus,
		Status:       models.StitchPending,
		CreatedAt:    now.UnixMilli(),
		UpdatedAt:    now.UnixMilli(),
	}
	a.save(rec)
	a.spawnConfirmation(stitch.Job{ID: rec.ID, Block: block.Hash, Tips: tips, Reward: reward}, *rec)
	return rec, sus, true
}

func (a *Agent) spawnConfirmation(job stitch.Job, rec models.StitchRecord) {
	a.inFlight.Add(1)
	a.tasks.Go(func() error {
		defer a.inFlight.Add(-1)
		out := a.confirmer.Watch(a.tasksCtx, job)

		rec.Status = out.Status
		rec.TxID = out.TxID
		rec.MinerAddress = out.MinerAddress
		rec.UpdatedAt = time.Now().UnixMilli()
		a.save(&rec)

		select {
		case a.outcomes <- out:
		default:
			logger.Logger.Debug("Outcome buffer full", zap.String("stitch_id", job.ID))
		}
		return nil
	})
}

func (a *Agent) save(rec *models.StitchRecord) {
	if a.repo == nil {
		return
	}
	if err := a.repo.PutStitch(rec); err != nil {
		logger.Logger.Warn("Failed to store stitch record", zap.String("stitch_id", rec.ID), zap.Error(err))
	}
}

// Shutdown waits for in-flight confirmation tasks. When ctx ends first the
// remaining tasks are cancelled and awaited.
func (a *Agent) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		_ = a.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.cancelTasks()
		return nil
	case <-ctx.Done():
		logger.Logger.Warn("Cancelling in-flight confirmations", zap.Int64("in_flight", a.inFlight.Load()))
		a.cancelTasks()
		<-done
		return ctx.Err()
	}
}

// parentLookup resolves parent timestamps from the window, falling back to the node.
type parentLookup struct {
	window *dag.Window
	node   Node
}

func (l *parentLookup) Timestamp(ctx context.Context, hash models.BlockHash) (uint64, error) {
	if info, ok := l.window.Get(hash); ok {
		return info.Timestamp, nil
	}
	block, err := l.node.GetBlock(ctx, hash)
	if errors.Is(err, node.ErrNotFound) {
		return 0, adaptive.ErrParentNotFound
	}
	if err != nil {
		return 0, err
	}
	return block.Header.Timestamp, nil
}
