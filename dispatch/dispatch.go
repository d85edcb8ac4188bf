// Package dispatch owns the QueueSlot array — one bounded wait-queue per
// (shard, chunk) — and the waterfall order used at finalization time.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package dispatch

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/NVIDIA/shardload/model"
	"github.com/NVIDIA/shardload/queue"
)

// QueueSlot is one (shard, chunk) logical queue. Created at dispatcher
// startup from the chunk map, destroyed at shutdown; its lifetime spans
// the whole load.
type QueueSlot struct {
	Chunk    model.ChunkId
	Shard    model.ShardId
	Strategy model.Strategy
	Index    int // position among this shard's slots, assigned at creation

	Queue *queue.Queue[*model.Batch]
}

// Dispatcher owns the array of QueueSlots and the chunk -> slot index.
// push is non-blocking except for the target slot's own bounded queue.
type Dispatcher struct {
	mu     sync.RWMutex
	slots  []*QueueSlot
	byID   map[model.ChunkId]*QueueSlot
	shards []model.ShardId // first-seen order, mirrors model.Map.Shards
}

// New creates one QueueSlot per entry of slots, tagged with that entry's
// strategy and indexed per shard in the order given. Slots are looked up
// by chunk, so each chunk is expected once; a repeated chunk replaces the
// earlier entry in that lookup. The loader's BuildQueueSlots produces one
// entry per chunk of the chunk map; this constructor just lays out slots
// for whatever entries it's given.
func New(slots []QueueSlotSpec, queueCap int) *Dispatcher {
	d := &Dispatcher{byID: make(map[model.ChunkId]*QueueSlot, len(slots))}
	perShardIdx := make(map[model.ShardId]int)
	seenShard := make(map[model.ShardId]bool)
	for _, s := range slots {
		idx := perShardIdx[s.Shard]
		perShardIdx[s.Shard] = idx + 1
		slot := &QueueSlot{
			Chunk:    s.Chunk,
			Shard:    s.Shard,
			Strategy: s.Strategy,
			Index:    idx,
			Queue:    queue.New[*model.Batch](queueCap),
		}
		d.slots = append(d.slots, slot)
		d.byID[s.Chunk] = slot
		if !seenShard[s.Shard] {
			seenShard[s.Shard] = true
			d.shards = append(d.shards, s.Shard)
		}
	}
	return d
}

// QueueSlotSpec is the (chunk, shard, strategy) triple New lays a slot out
// for.
type QueueSlotSpec struct {
	Chunk    model.ChunkId
	Shard    model.ShardId
	Strategy model.Strategy
}

// Push hands a sealed batch to its chunk's QueueSlot. Blocking happens only
// inside that slot's own bounded queue.
func (d *Dispatcher) Push(chunk model.ChunkId, b *model.Batch) error {
	d.mu.RLock()
	slot, ok := d.byID[chunk]
	d.mu.RUnlock()
	if !ok {
		return errors.Errorf("dispatch: no QueueSlot for chunk %s", chunk)
	}
	if !slot.Queue.Push(b) {
		return errors.Errorf("dispatch: QueueSlot %s closed", chunk)
	}
	return nil
}

// Slot looks up a chunk's QueueSlot. The end-point pool builds its
// round-robin cursor from SlotsForShard instead.
func (d *Dispatcher) Slot(chunk model.ChunkId) (*QueueSlot, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	slot, ok := d.byID[chunk]
	return slot, ok
}

// SlotsForShard returns a shard's QueueSlots in creation order.
func (d *Dispatcher) SlotsForShard(shard model.ShardId) []*QueueSlot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*QueueSlot
	for _, s := range d.slots {
		if s.Shard == shard {
			out = append(out, s)
		}
	}
	return out
}

// Slots returns every QueueSlot, in creation order.
func (d *Dispatcher) Slots() []*QueueSlot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*QueueSlot(nil), d.slots...)
}

// Waterfall returns QueueSlots ordered so that the i-th slot of shard S
// precedes the (i+1)-th slot of S, with slots across shards interleaved
// round-robin by shard — so no single shard is last to drain.
func (d *Dispatcher) Waterfall() []*QueueSlot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	// slots are appended to d.slots in creation order, so each shard's
	// sublist here is already ascending by Index.
	byShard := make(map[model.ShardId][]*QueueSlot, len(d.shards))
	for _, s := range d.slots {
		byShard[s.Shard] = append(byShard[s.Shard], s)
	}

	var out []*QueueSlot
	maxLen := 0
	for _, list := range byShard {
		if len(list) > maxLen {
			maxLen = len(list)
		}
	}
	for i := 0; i < maxLen; i++ {
		for _, shard := range d.shards {
			list := byShard[shard]
			if i < len(list) {
				out = append(out, list[i])
			}
		}
	}
	return out
}

// EndWait closes every QueueSlot's queue to new pushes. Batches already
// queued still drain; once a queue is empty, idle end-point workers stop
// waiting on it.
func (d *Dispatcher) EndWait() {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.slots {
		s.Queue.EndWait()
	}
}
