package loader

import (
	"github.com/pkg/errors"

	"github.com/NVIDIA/shardload/config"
	"github.com/NVIDIA/shardload/dispatch"
	"github.com/NVIDIA/shardload/model"
)

// BuildQueueSlots lays the dispatcher's QueueSlots out from the frozen
// chunk map and the configured per-shard, per-strategy queue counts (spec
// §4.2/§4.3): loadQueueJson enumerates how many pre-split chunks of each
// shard use which BatchBuilder strategy, in chunk-map order (ascending by
// Min). It returns one QueueSlotSpec per chunk plus the chunk -> strategy
// map the batcher needs for lazy builder construction.
func BuildQueueSlots(chunkMap *model.Map, queues []config.QueueSpec) ([]dispatch.QueueSlotSpec, map[model.ChunkId]model.Strategy, error) {
	if len(queues) == 0 {
		return nil, nil, errors.New("loader: at least one queue must be configured")
	}

	// flatten {strategy: count} into a repeating sequence, applied per
	// shard, e.g. [disk, ram, ram] for {"ram": 2, "disk": 1}, whose
	// entries config.Parse sorts by strategy name.
	var sequence []model.Strategy
	for _, q := range queues {
		for i := 0; i < q.Count; i++ {
			sequence = append(sequence, q.Strategy)
		}
	}

	byShard := make(map[model.ShardId][]model.Chunk)
	for _, c := range chunkMap.Chunks() {
		byShard[c.Shard] = append(byShard[c.Shard], c)
	}

	var specs []dispatch.QueueSlotSpec
	strategyByChunk := make(map[model.ChunkId]model.Strategy, len(chunkMap.Chunks()))
	for _, shard := range chunkMap.Shards() {
		chunks := byShard[shard]
		for i, c := range chunks {
			strategy := sequence[i%len(sequence)]
			strategyByChunk[c.ID] = strategy
			specs = append(specs, dispatch.QueueSlotSpec{Chunk: c.ID, Shard: shard, Strategy: strategy})
		}
	}
	return specs, strategyByChunk, nil
}
