// Package loader wires the input adapter, batcher pool, chunk dispatcher,
// end-point pools, and finalizer into one pipeline, and drives its
// lifecycle: cluster setup, pipeline run, finalization, stats reporting.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package loader

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/NVIDIA/shardload/batcher"
	"github.com/NVIDIA/shardload/cluster"
	"github.com/NVIDIA/shardload/cmn/cos"
	"github.com/NVIDIA/shardload/cmn/nlog"
	"github.com/NVIDIA/shardload/config"
	"github.com/NVIDIA/shardload/dispatch"
	"github.com/NVIDIA/shardload/endpoint"
	"github.com/NVIDIA/shardload/finalize"
	"github.com/NVIDIA/shardload/model"
	"github.com/NVIDIA/shardload/stats"
)

const balancerStopTimeout = 2 * time.Minute

// Loader owns the cluster facade, the end-point pools, and the dispatcher
// for the duration of one run.
type Loader struct {
	cfg    *config.Config
	facade cluster.Facade
	reg    *stats.Registry

	disp     *dispatch.Dispatcher
	batcher  *batcher.Pool
	pools    map[model.ShardId]*endpoint.Pool
	chunkMap *model.Map

	terminate chan struct{}
}

// New validates nothing itself — config.Load already has — and just wires
// the struct together.
func New(cfg *config.Config, facade cluster.Facade) *Loader {
	return &Loader{cfg: cfg, facade: facade, reg: stats.NewRegistry(), terminate: make(chan struct{})}
}

// Registry exposes the live Prometheus counters for a caller-owned
// exposition endpoint.
func (l *Loader) Registry() *stats.Registry { return l.reg }

// Terminate closes the loader's terminate channel; calling it again is a
// no-op. No pipeline stage reads that channel: the batcher, end-point and
// finalizer pools keep running until their input ends or the ctx passed
// to Setup, Build and Run is canceled.
func (l *Loader) Terminate() {
	select {
	case <-l.terminate:
	default:
		close(l.terminate)
	}
}

// Setup performs the cluster-setup steps: topology load, optional drops,
// collection sharding, balancer stop, and reading the frozen chunk map.
// Each is fatal on failure, except enable-sharding, whose failure is only
// logged.
func (l *Loader) Setup(ctx context.Context) error {
	if err := l.facade.LoadCluster(ctx); err != nil {
		return errors.Wrap(err, "cluster-setup: load cluster topology")
	}

	if l.cfg.DropDb {
		db := dbOf(l.cfg.Ns)
		if err := l.facade.DropDatabase(ctx, db); err != nil {
			return errors.Wrap(err, "cluster-setup: drop database")
		}
	}
	if l.cfg.DropColl {
		if err := l.facade.DropCollection(ctx, l.cfg.Ns); err != nil {
			return errors.Wrap(err, "cluster-setup: drop collection")
		}
	}
	if l.cfg.DropIndexes {
		if err := l.facade.DropIndexes(ctx, l.cfg.Ns); err != nil {
			return errors.Wrap(err, "cluster-setup: drop indexes")
		}
	}

	if l.cfg.Sharded {
		if err := l.facade.EnableSharding(ctx, dbOf(l.cfg.Ns)); err != nil {
			// enable-sharding failure is logged, not fatal, since a
			// database already sharded by an earlier run is common.
			nlog.Warningf("cluster-setup: enable sharding: %v", err)
		}
		if err := l.facade.ShardCollection(ctx, l.cfg.Ns, l.cfg.ShardKey, l.cfg.ShardKeyUnique, 0); err != nil {
			return errors.Wrap(err, "cluster-setup: shard collection")
		}
	}

	if l.cfg.StopBalancer {
		if err := l.facade.BalancerStop(ctx); err != nil {
			return errors.Wrap(err, "cluster-setup: stop balancer")
		}
		if err := l.facade.StopBalancerWait(ctx, balancerStopTimeout); err != nil {
			return errors.Wrap(err, "cluster-setup: balancer did not stop in time")
		}
	}

	m, err := l.facade.ChunkMap(ctx, l.cfg.Ns, l.cfg.ShardKey)
	if err != nil {
		return errors.Wrap(err, "cluster-setup: read chunk map")
	}
	l.chunkMap = m
	return nil
}

// Build wires the dispatcher, batcher, and end-point pools now that the
// chunk map is known.
func (l *Loader) Build(ctx context.Context) error {
	specs, strategyByChunk, err := BuildQueueSlots(l.chunkMap, l.cfg.LoadQueues)
	if err != nil {
		return err
	}
	l.disp = dispatch.New(specs, l.cfg.BatcherQueueSize)

	l.batcher = batcher.New(batcher.Config{
		Spec:      l.cfg.ShardKey,
		ChunkMap:  l.chunkMap,
		Dispatch:  l.disp,
		Strategy:  strategyByChunk,
		BatchSize: l.cfg.BatchSize,
		WorkPath:  l.cfg.WorkPath,
		QueueSize: l.cfg.BatcherQueueSize,
		GenID:     cos.GenObjectID,
		Reg:       l.reg,
	})

	l.pools = make(map[model.ShardId]*endpoint.Pool, len(l.chunkMap.Shards()))
	for _, shard := range l.chunkMap.Shards() {
		pool, err := endpoint.New(ctx, l.facade, l.disp, shard, l.cfg.Ns, "majority", l.cfg.EndPointThreads, l.reg)
		if err != nil {
			return errors.Wrapf(err, "cluster-setup: connect to shard %s", shard)
		}
		l.pools[shard] = pool
	}
	return nil
}

// PushDocument is the interface consumed from the input adapter: one
// document per call. It returns false once EndInput has been called.
func (l *Loader) PushDocument(doc model.Document) bool { return l.batcher.Inbox.Push(doc) }

// EndInput signals that the input adapter's file set is exhausted.
func (l *Loader) EndInput() { l.batcher.Inbox.EndWait() }

// Run starts the end-point pools and the batcher pool, blocks until the
// input adapter calls EndWait on Inbox and the batcher has drained it,
// then runs the waterfall finalizer, and finally waits for the end-point
// pools to finish and shuts them down. threads sizes the batcher pool;
// threadsMax sizes the finalizer pool.
func (l *Loader) Run(ctx context.Context, threads, threadsMax int) error {
	endpointDone := make(chan error, len(l.pools))
	for shard, pool := range l.pools {
		pool := pool
		shard := shard
		go func() {
			endpointDone <- errors.Wrapf(pool.Run(ctx, l.cfg.EndPointThreads), "endpoint pool %s", shard)
		}()
	}

	if err := l.batcher.Run(threads); err != nil {
		return errors.Wrap(err, "batcher pool")
	}

	senders := make(map[model.ShardId]finalize.Sender, len(l.pools))
	for shard, pool := range l.pools {
		senders[shard] = pool
	}
	fin := finalize.New(l.disp, senders, l.cfg.Ns, "majority")
	if err := fin.Run(ctx, threadsMax); err != nil {
		return errors.Wrap(err, "finalizer pool")
	}

	for range l.pools {
		if err := <-endpointDone; err != nil {
			nlog.Warningf("loader: %v", err)
		}
	}
	for _, pool := range l.pools {
		if err := pool.GracefulShutdown(); err != nil {
			nlog.Warningf("loader: graceful shutdown: %v", err)
		}
	}
	return nil
}

// Summary reports the run's accounting for the final CSV row and log line.
type Summary struct {
	Accepted, Rejected int64
	Written            int64
	Retries            int64
	NonRetryable       int64
}

func (l *Loader) Summary() Summary {
	s := Summary{Accepted: l.batcher.Accepted(), Rejected: l.batcher.Rejected()}
	for _, pool := range l.pools {
		s.Written += pool.Written()
		s.Retries += pool.Retries()
		s.NonRetryable += pool.NonRetry()
	}
	return s
}

func dbOf(ns string) string {
	for i := 0; i < len(ns); i++ {
		if ns[i] == '.' {
			return ns[:i]
		}
	}
	return ns
}
