package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/NVIDIA/shardload/cluster/mock"
	"github.com/NVIDIA/shardload/config"
	"github.com/NVIDIA/shardload/model"
)

// chunkMapFile is the on-disk description of a cluster's topology: the
// wire protocol to a real cluster is out of scope for this repository, so
// the CLI reads a pre-computed chunk map from workPath/chunkmap.json
// instead of discovering one live. A production deployment swaps this
// file for a real cluster.Facade implementation; the core never knows the
// difference.
type chunkMapFile struct {
	Chunks []struct {
		ID    string `json:"id"`
		Shard string `json:"shard"`
		Min   []any  `json:"min"`
		Max   []any  `json:"max,omitempty"`
	} `json:"chunks"`
}

func newMongoFacade(cfg *config.Config) (*mock.Facade, error) {
	path := filepath.Join(cfg.WorkPath, "chunkmap.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if cfg.ShardKey == nil || !cfg.Sharded {
			// unsharded load: a single implicit chunk covering the whole
			// key range is enough to exercise the pipeline.
			return mock.NewFacade(trivialSpec(), []model.Chunk{{ID: "default", Shard: "shard0"}}), nil
		}
		return nil, errors.Wrapf(err, "read chunk map %s (see workPath/chunkmap.json)", path)
	}

	var f chunkMapFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parse chunk map")
	}
	chunks := make([]model.Chunk, len(f.Chunks))
	for i, c := range f.Chunks {
		chunks[i] = model.Chunk{
			ID:     model.ChunkId(c.ID),
			Shard:  model.ShardId(c.Shard),
			Min:    model.Key{Values: c.Min},
			Max:    model.Key{Values: c.Max},
			HasMax: len(c.Max) > 0,
		}
	}
	return mock.NewFacade(cfg.ShardKey, chunks), nil
}

func trivialSpec() *model.Spec {
	spec, _ := model.NewSpec([]model.KeyField{{Name: "_id", Direction: model.Asc}}, true)
	return spec
}
