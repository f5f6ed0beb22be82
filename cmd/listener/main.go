package main

import (
	"context"
	"encoding/hex"
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
	"github.com/stitchbot/stitchbot/logger"
	"github.com/stitchbot/stitchbot/p2p"
	"github.com/stitchbot/stitchbot/stitch"
)

const requestBuffer = 256

func main() {
	app := &cli.App{
		Name:  "stitch-listener",
		Usage: "receive and validate stitch requests on behalf of a miner",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config/config.yaml",
				Usage:   "path to the YAML config file",
			},
			&cli.StringSliceFlag{
				Name:  "peer",
				Usage: "additional peer websocket URL, e.g. ws://host:8080/p2p",
			},
		},
		Action: listen,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func listen(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if err := logger.InitLogger(cfg.Log.File, cfg.Log.Level); err != nil {
		return errors.Wrap(err, "initialize logger")
	}
	defer logger.Logger.Sync()

	listener := stitch.NewListener(requestBuffer)
	hub := p2p.NewHub()
	defer hub.Close()
	hub.Register(stitch.MsgType, listener.Handle)

	peers := append(append([]string{}, cfg.P2P.BootstrapPeers...), c.StringSlice("peer")...)
	for _, peer := range peers {
		if err := hub.Connect(c.Context, peer); err != nil {
			logger.Logger.Warn("Peer unreachable", zap.String("peer", peer), zap.Error(err))
		}
	}

	r := mux.NewRouter()
	r.Handle("/p2p", hub)
	srv := &http.Server{Addr: cfg.P2P.ListenAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	var g run.Group
	{
		g.Add(func() error {
			logger.Logger.Info("Listening for stitch requests", zap.String("addr", cfg.P2P.ListenAddr))
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
				case req := <-listener.Requests():
					report(req)
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
	return g.Run()
}

// report surfaces a validated request. Building the stitching block template
// is left to the miner.
func report(req *stitch.Request) {
	logger.Logger.Info("Stitch request received",
		zap.String("weak_block", string(req.WeakBlock)),
		zap.Int("tips", len(req.TipHashes)),
		zap.Uint64("reward", req.Reward),
		zap.Uint64("expiry", req.Expiry),
		zap.String("signer", hex.EncodeToString(req.PublicKey[:])))
}
