// Command loader is the CLI front end for the sharded bulk loader: parses
// -config, wires the cluster facade, and drives loader.Loader through
// setup, run, and finalization.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NVIDIA/shardload/cmn/cos"
	"github.com/NVIDIA/shardload/cmn/nlog"
	"github.com/NVIDIA/shardload/config"
	"github.com/NVIDIA/shardload/loader"
	"github.com/NVIDIA/shardload/stats"
	"github.com/NVIDIA/shardload/sys"
)

var (
	build     string
	buildtime string

	configPath string
)

func init() {
	flag.StringVar(&configPath, "config", "", "loader configuration file (JSON)")
}

func printVer() {
	fmt.Printf("version %s (build %s)\n", build, buildtime)
}

func main() {
	if len(os.Args) == 2 && os.Args[1] == "version" {
		printVer()
		os.Exit(0)
	}
	if len(os.Args) == 1 || (len(os.Args) == 2 && strings.Contains(os.Args[1], "help")) {
		printVer()
		flag.PrintDefaults()
		os.Exit(0)
	}
	flag.Parse()
	if configPath == "" {
		cos.Exitf("missing -config (loader configuration file)")
	}

	sys.SetMaxProcs()

	cfg, err := config.Load(configPath)
	if err != nil {
		cos.Exitf("%v", err)
	}

	facade, err := newMongoFacade(cfg)
	if err != nil {
		cos.Exitf("cluster-setup: %v", err)
	}

	l := loader.New(cfg, facade)

	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr, l.Registry())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		nlog.Warningln("received interrupt, terminating")
		l.Terminate()
	}()

	if err := l.Setup(ctx); err != nil {
		cos.Exitf("%v", err)
	}
	if err := l.Build(ctx); err != nil {
		cos.Exitf("%v", err)
	}

	adapter, err := newInputAdapter(cfg)
	if err != nil {
		cos.Exitf("input adapter: %v", err)
	}

	start := time.Now()
	runDone := make(chan error, 1)
	go func() { runDone <- l.Run(ctx, cfg.Threads, cfg.Threads) }()

	if err := adapter.Run(l.PushDocument); err != nil {
		nlog.Errorf("input adapter: %v", err)
	}
	l.EndInput()

	if err := <-runDone; err != nil {
		nlog.Errorf("loader: %v", err)
	}
	nlog.Flush()

	summary := l.Summary()
	nlog.Infof("accepted=%d rejected=%d written=%d retries=%d non-retryable=%d",
		summary.Accepted, summary.Rejected, summary.Written, summary.Retries, summary.NonRetryable)

	row := stats.Row{
		Start:         start,
		Duration:      time.Since(start),
		Bypass:        cfg.DirectLoad,
		Type:          "loader",
		Key:           cfg.Ns,
		QueueSize:     cfg.BatcherQueueSize,
		Threads:       cfg.Threads,
		EndPointConns: cfg.EndPointThreads,
		WriteConcern:  "majority",
		Note:          cfg.StatsFileNote,
	}
	if err := stats.WriteRow(cfg.StatsFile, row); err != nil {
		nlog.Warningf("stats: %v", err)
	}
	nlog.Flush()
}

// serveMetrics registers reg's counters with their own prometheus.Registry
// and starts a /metrics HTTP server on addr. A failure to bind is logged,
// not fatal: the run's exit status is reserved for cluster-setup and
// connection failures, never for an observability side-channel.
func serveMetrics(addr string, reg *stats.Registry) {
	promReg := prometheus.NewRegistry()
	for _, c := range reg.Collectors() {
		if err := promReg.Register(c); err != nil {
			nlog.Warningf("metrics: register collector: %v", err)
		}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			nlog.Warningf("metrics: serve %s: %v", addr, err)
		}
	}()
}
