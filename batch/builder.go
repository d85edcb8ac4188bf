// Package batch implements the three BatchBuilder strategies: ram
// (sort-before-flush), direct (no-op, already ordered upstream), and disk
// (spill to a work directory under memory pressure, merge on flush). All
// three share a uniform append/seal/prep/flush contract so the batcher
// and finalizer never branch on strategy themselves.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package batch

import (
	"github.com/NVIDIA/shardload/model"
)

// Builder accumulates documents for one chunk. One instance is shared
// across batcher workers routing to that chunk; callers serialize Append
// under the chunk's own lock.
type Builder interface {
	Strategy() model.Strategy

	// Append adds doc to the open batch. If the batch is now full, Append
	// seals it, resets its own internal state to a fresh open batch, and
	// returns the sealed batch for the caller to push.
	Append(doc model.Document) (sealed *model.Batch, full bool)

	// Prep runs once, on the trailing partial batch, right before Flush:
	// ram sorts it by shard key; direct and disk are no-ops, since both
	// are already in their final order by construction.
	Prep(spec *model.Spec) error

	// Flush returns the remaining partial batch, if any, after Prep.
	Flush() (remaining *model.Batch, ok bool)

	// Close releases any resources (the disk builder's spill file).
	Close() error
}

// NewBuilder constructs the builder for strategy, sized to batchSize
// documents per sealed batch. workPath is only consulted by the disk
// strategy.
func NewBuilder(strategy model.Strategy, chunk model.ChunkId, batchSize int, workPath string) (Builder, error) {
	switch strategy {
	case model.StrategyRAM:
		return newRAMBuilder(chunk, batchSize, true), nil
	case model.StrategyDirect:
		return newRAMBuilder(chunk, batchSize, false), nil
	case model.StrategyDisk:
		return newDiskBuilder(chunk, batchSize, workPath)
	default:
		panic("batch: unknown strategy " + string(strategy))
	}
}
