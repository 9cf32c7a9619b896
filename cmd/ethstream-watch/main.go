// Command ethstream-watch runs a standalone chain-head watcher against a
// single RPC endpoint, logging every add/confirm/rollback/error event and
// exposing Prometheus metrics.
package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/0xsequence/ethkit/ethrpc"
	"github.com/goware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/hillstreetlabs/ethstream/ethmonitor"
	"github.com/hillstreetlabs/ethstream/ethmonitor/ethrpcadapter"
	"github.com/hillstreetlabs/ethstream/internal/config"
	"github.com/hillstreetlabs/ethstream/internal/metrics"
)

func main() {
	app := &cli.App{
		Name:  "ethstream-watch",
		Usage: "watch a chain head and report add/confirm/rollback events",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "path to the TOML config file",
				Required: true,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log := logger.NewLogger(logger.LogLevel_INFO)

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	provider, err := ethrpc.NewProvider(cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("ethstream-watch: connecting to %s: %w", cfg.RPCURL, err)
	}

	adapter := ethrpcadapter.New(provider, big.NewInt(cfg.ChainID))

	opts := cfg.ToOptions()
	opts.Logger = log

	monitor, err := ethmonitor.New(adapter, opts)
	if err != nil {
		return fmt.Errorf("ethstream-watch: %w", err)
	}

	collectors := metrics.NewCollectors(prometheus.DefaultRegisterer)
	wireMetrics(monitor, collectors)

	monitor.On(ethmonitor.TopicReady, func(any) {
		log.Infof("ethstream-watch: ready")
	})
	monitor.On(ethmonitor.TopicAdd, func(payload any) {
		log.Infof("ethstream-watch: add %v", payload)
	})
	monitor.On(ethmonitor.TopicConfirm, func(payload any) {
		log.Infof("ethstream-watch: confirm %v", payload)
	})
	monitor.On(ethmonitor.TopicRollback, func(payload any) {
		log.Warnf("ethstream-watch: rollback %v", payload)
	})
	monitor.On(ethmonitor.TopicError, func(payload any) {
		collectors.BackfillErrors.Inc()
		log.Warnf("ethstream-watch: error %v", payload)
	})

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, log)
	}

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return monitor.Run(ctx)
}

func wireMetrics(m *ethmonitor.Monitor, collectors *metrics.Collectors) {
	m.On(ethmonitor.TopicAdd, func(any) {
		collectors.BlocksAdded.Inc()
		collectors.TreeSize.Set(float64(m.TreeSize()))
		collectors.MaxBlockNumber.Set(float64(m.LatestBlockNum()))
		collectors.OldestBlockNumber.Set(float64(m.OldestBlockNum()))
		collectors.QueueDepth.Set(float64(m.QueueDepth()))
	})
	m.On(ethmonitor.TopicConfirm, func(any) {
		collectors.BlocksConfirmed.Inc()
	})
	m.On(ethmonitor.TopicRollback, func(any) {
		collectors.BlocksRolledBack.Inc()
		collectors.TreeSize.Set(float64(m.TreeSize()))
	})
}

func serveMetrics(addr string, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Infof("ethstream-watch: serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warnf("ethstream-watch: metrics server exited: %v", err)
	}
}
