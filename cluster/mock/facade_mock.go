// Package mock provides in-memory cluster.Facade/Connection implementations
// used by the pipeline-stage test suites, so dispatch, endpoint, and
// finalize can be exercised without a real sharded cluster.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/NVIDIA/shardload/cluster"
	"github.com/NVIDIA/shardload/model"
)

type (
	// Facade is a programmable in-memory cluster.Facade. Tests set Chunks
	// up front and read Written after a run.
	Facade struct {
		mu      sync.Mutex
		Chunks  []model.Chunk
		spec    *model.Spec
		Written map[model.ShardId][]model.Document
		Balancer bool // true while "running"

		// FailShard, when set, makes every Write to that shard fail with
		// FailOutcome until FailUntil writes have been attempted.
		FailShard   model.ShardId
		FailOutcome cluster.Outcome
		FailUntil   int
		failed      int
	}

	conn struct {
		f     *Facade
		shard model.ShardId
	}
)

// interface guard
var (
	_ cluster.Facade     = (*Facade)(nil)
	_ cluster.Connection = (*conn)(nil)
)

func NewFacade(spec *model.Spec, chunks []model.Chunk) *Facade {
	return &Facade{spec: spec, Chunks: chunks, Written: make(map[model.ShardId][]model.Document), Balancer: true}
}

func (*Facade) LoadCluster(context.Context) error                   { return nil }
func (*Facade) IsSharded(context.Context, string) (bool, error)     { return true, nil }
func (f *Facade) Shards(context.Context) ([]model.ShardId, error) {
	m, err := model.NewMap(f.spec, f.Chunks)
	if err != nil {
		return nil, err
	}
	return m.Shards(), nil
}
func (*Facade) EnableSharding(context.Context, string) error { return nil }
func (*Facade) ShardCollection(context.Context, string, *model.Spec, bool, int) error {
	return nil
}

func (f *Facade) BalancerStop(context.Context) error {
	f.mu.Lock()
	f.Balancer = false
	f.mu.Unlock()
	return nil
}
func (*Facade) StopBalancerWait(context.Context, time.Duration) error { return nil }
func (*Facade) WaitForChunksPerShard(context.Context, string, int) error { return nil }

func (*Facade) DropDatabase(context.Context, string) error   { return nil }
func (*Facade) DropCollection(context.Context, string) error { return nil }
func (*Facade) DropIndexes(context.Context, string) error    { return nil }

func (f *Facade) ChunkMap(context.Context, string, *model.Spec) (*model.Map, error) {
	return model.NewMap(f.spec, f.Chunks)
}

func (f *Facade) Connect(_ context.Context, shard model.ShardId) (cluster.Connection, error) {
	return &conn{f: f, shard: shard}, nil
}

func (c *conn) Write(_ context.Context, _ string, docs []model.Document, _ string) error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if c.f.FailShard == c.shard && c.f.failed < c.f.FailUntil {
		c.f.failed++
		return errTestFailure
	}
	c.f.Written[c.shard] = append(c.f.Written[c.shard], docs...)
	return nil
}

func (c *conn) Classify(err error) cluster.Outcome {
	if err == errTestFailure {
		return c.f.FailOutcome
	}
	return cluster.OutcomeNonRetryable
}

func (*conn) Close() error { return nil }

type testFailure struct{}

func (testFailure) Error() string { return "mock: injected write failure" }

var errTestFailure = testFailure{}
