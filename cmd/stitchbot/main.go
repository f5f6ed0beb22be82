package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/oklog/run"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/stitchbot/stitchbot/config"
	"github.com/stitchbot/stitchbot/db"
	"github.com/stitchbot/stitchbot/handlers"
	"github.com/stitchbot/stitchbot/logger"
	"github.com/stitchbot/stitchbot/node"
	"github.com/stitchbot/stitchbot/orchestrator"
	"github.com/stitchbot/stitchbot/p2p"
	"github.com/stitchbot/stitchbot/repository"
	"github.com/stitchbot/stitchbot/routers"
	"github.com/stitchbot/stitchbot/stitch"
	"github.com/stitchbot/stitchbot/wallet"
)

func main() {
	app := &cli.App{
		Name:  "stitchbot",
		Usage: "detect DAG fractures and pay miners to stitch them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config/config.yaml",
				Usage:   "path to the YAML config file",
				EnvVars: []string{"STITCHBOT_CONFIG"},
			},
		},
		Action: start,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func start(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if err := logger.InitLogger(cfg.Log.File, cfg.Log.Level); err != nil {
		return errors.Wrap(err, "initialize logger")
	}
	defer logger.Logger.Sync()

	logger.Logger.Info("Starting stitchbot...")

	// Connect to LevelDB
	ldb, err := db.NewLevelDB(cfg.LevelDB.Path)
	if err != nil {
		return errors.Wrap(err, "open leveldb")
	}
	defer ldb.Close()
	repo := repository.NewStitchRepository(ldb)

	rpc, err := node.Dial(c.Context, cfg.Node.RPCURL)
	if err != nil {
		return err
	}
	defer rpc.Close()

	w, err := wallet.LoadOrCreate(cfg.Wallet.MnemonicFile, rpc)
	if err != nil {
		return err
	}
	logger.Logger.Info("Wallet loaded", zap.String("address", w.Address()))

	hub := p2p.NewHub()
	defer hub.Close()
	for _, peer := range cfg.P2P.BootstrapPeers {
		if err := hub.Connect(c.Context, peer); err != nil {
			logger.Logger.Warn("Bootstrap peer unreachable", zap.String("peer", peer), zap.Error(err))
		}
	}

	broadcaster := stitch.NewBroadcaster(hub, w.PrivateKey(), cfg.Stitch.TTL)
	watcher := stitch.NewWatcher(rpc, w, cfg.Stitch.ConfirmInterval, cfg.Stitch.ConfirmAttempts)
	agent := orchestrator.NewAgent(cfg, rpc, broadcaster, watcher, repo)

	// Status API and peer endpoint
	r := mux.NewRouter()
	routers.RegisterRoutes(r, handlers.NewHandler(agent, repo), hub)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var g run.Group
	{
		ctx, cancel := context.WithCancel(c.Context)
		g.Add(func() error {
			return agent.Run(ctx)
		}, func(error) {
			cancel()
		})
	}
	{
		g.Add(func() error {
			logger.Logger.Info("Server running on port", zap.Int("port", cfg.HTTP.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		})
	}
	{
		stop := make(chan struct{})
		g.Add(func() error {
			for {
				select {
				case out := <-agent.Outcomes():
					logger.Logger.Info("Stitch finished",
						zap.String("stitch_id", out.Job.ID),
						zap.String("status", string(out.Status)),
						zap.Int("attempts", out.Attempts),
						zap.String("tx_id", out.TxID))
				case <-stop:
					return nil
				}
			}
		}, func(error) {
			close(stop)
		})
	}
	{
		sig := make(chan os.Signal, 1)
		stop := make(chan struct{})
		g.Add(func() error {
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			select {
			case s := <-sig:
				logger.Logger.Info("Shutdown signal received", zap.String("signal", s.String()))
			case <-stop:
			}
			return nil
		}, func(error) {
			signal.Stop(sig)
			close(stop)
		})
	}

	err = g.Run()

	graceCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Grace)
	defer cancel()
	if serr := agent.Shutdown(graceCtx); serr != nil {
		logger.Logger.Warn("Confirmations cut short", zap.Error(serr))
	}
	logger.Logger.Info("Stitchbot stopped")
	return err
}
