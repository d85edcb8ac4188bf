package model

import (
	"sort"

	"github.com/pkg/errors"
)

// ChunkId and ShardId are opaque identifiers handed to the core by the
// cluster facade; the core never constructs them.
type ChunkId string
type ShardId string

// Chunk is a contiguous shard-key range owned by exactly one shard for the
// duration of a load. The balancer is stopped before the map is read, so
// the core treats it as frozen for the load's lifetime.
type Chunk struct {
	ID     ChunkId
	Shard  ShardId
	Min    Key // inclusive
	Max    Key // exclusive, or unset for the last chunk
	HasMax bool
}

// Map is the immutable, key-ordered chunk list resolved once at load start.
type Map struct {
	spec   *Spec
	chunks []Chunk // sorted ascending by Min
}

func NewMap(spec *Spec, chunks []Chunk) (*Map, error) {
	if len(chunks) == 0 {
		return nil, errors.New("chunk map: cluster reported zero chunks for namespace")
	}
	sorted := make([]Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return spec.Compare(sorted[i].Min, sorted[j].Min) < 0 })
	return &Map{spec: spec, chunks: sorted}, nil
}

// Resolve binary-searches the chunk map for the chunk owning key. Chunks
// are contiguous and exhaustive by cluster invariant, so a miss here means
// the chunk map itself is stale or malformed.
func (m *Map) Resolve(key Key) (Chunk, error) {
	// find the last chunk whose Min <= key
	i := sort.Search(len(m.chunks), func(i int) bool {
		return m.spec.Compare(m.chunks[i].Min, key) > 0
	})
	if i == 0 {
		return Chunk{}, errors.Errorf("shard key sorts before the first chunk's range")
	}
	c := m.chunks[i-1]
	if c.HasMax && m.spec.Compare(key, c.Max) >= 0 {
		return Chunk{}, errors.Errorf("shard key falls in a gap of the chunk map (between %s and next)", c.ID)
	}
	return c, nil
}

// Chunks returns the ordered chunk list, one entry per (shard, chunk).
func (m *Map) Chunks() []Chunk { return m.chunks }

// Shards returns the distinct shard ids referenced by the chunk map, in
// first-seen order — stable so waterfall interleaving is deterministic
// across runs against the same chunk map.
func (m *Map) Shards() []ShardId {
	seen := make(map[ShardId]bool)
	var out []ShardId
	for _, c := range m.chunks {
		if !seen[c.Shard] {
			seen[c.Shard] = true
			out = append(out, c.Shard)
		}
	}
	return out
}
