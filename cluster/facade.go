// Package cluster names the interface the core consumes from the cluster
// facade: topology discovery, sharding enablement, balancer control, and a
// per-shard connection factory. The wire protocol, driver, and actual
// network I/O behind these methods belong to the facade implementation,
// not to this package — the core only ever talks to the interface below.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"context"
	"time"

	"github.com/NVIDIA/shardload/model"
)

// Outcome classifies the result of a single write attempt so the
// end-point pool knows whether to retry, evict the connection, or just
// count the failure and move on.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRetryable
	OutcomeNonRetryable
)

// Connection is one persistent link to one shard. The end-point pool holds
// a fixed set of them per shard and picks one round-robin for each write.
type Connection interface {
	// Write sends a sealed batch's documents to ns under writeConcern.
	Write(ctx context.Context, ns string, docs []model.Document, writeConcern string) error
	// Classify turns a Write error into a retry decision. Implementations
	// distinguish transient network conditions and not-master/retryable
	// write errors (OutcomeRetryable) from duplicate-key and validation
	// failures (OutcomeNonRetryable).
	Classify(err error) Outcome
	Close() error
}

// Facade is everything the loader needs from the cluster before and during
// a run. Namespace (ns) arguments are fully-qualified "db.collection".
type Facade interface {
	LoadCluster(ctx context.Context) error
	IsSharded(ctx context.Context, ns string) (bool, error)
	Shards(ctx context.Context) ([]model.ShardId, error)

	EnableSharding(ctx context.Context, db string) error
	ShardCollection(ctx context.Context, ns string, spec *model.Spec, unique bool, totalChunks int) error

	BalancerStop(ctx context.Context) error
	StopBalancerWait(ctx context.Context, timeout time.Duration) error
	WaitForChunksPerShard(ctx context.Context, ns string, n int) error

	DropDatabase(ctx context.Context, db string) error
	DropCollection(ctx context.Context, ns string) error
	DropIndexes(ctx context.Context, ns string) error

	// ChunkMap returns the current, frozen chunk routing table for ns.
	// The loader calls this exactly once per run, after the balancer has
	// stopped, and treats the result as immutable for the run's duration.
	ChunkMap(ctx context.Context, ns string, spec *model.Spec) (*model.Map, error)

	// Connect opens one fresh connection to shard. Called endPointSettings
	// .threadCount times per shard at pool startup; an evicted connection
	// is not replaced, so a shard's pool shrinks with each eviction.
	Connect(ctx context.Context, shard model.ShardId) (Connection, error)
}
