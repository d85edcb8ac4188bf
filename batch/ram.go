package batch

import (
	"sort"

	"github.com/NVIDIA/shardload/model"
)

// ramBuilder backs both the ram and direct strategies: both accumulate in
// a plain Go slice, they differ only in whether Prep sorts.
type ramBuilder struct {
	chunk     model.ChunkId
	batchSize int
	sortOnPrep bool

	open *model.Batch
}

func newRAMBuilder(chunk model.ChunkId, batchSize int, sortOnPrep bool) *ramBuilder {
	strategy := model.StrategyDirect
	if sortOnPrep {
		strategy = model.StrategyRAM
	}
	return &ramBuilder{
		chunk:      chunk,
		batchSize:  batchSize,
		sortOnPrep: sortOnPrep,
		open:       model.NewBatch(chunk, strategy, batchSize),
	}
}

func (b *ramBuilder) Strategy() model.Strategy { return b.open.Strategy }

func (b *ramBuilder) Append(doc model.Document) (*model.Batch, bool) {
	b.open.Append(doc)
	if b.open.Full(b.batchSize) {
		sealed := b.open.Seal()
		b.open = model.NewBatch(b.chunk, b.Strategy(), b.batchSize)
		return sealed, true
	}
	return nil, false
}

// Prep sorts the still-open batch's documents by shard key when this is
// the ram strategy; the direct strategy flushes in append order.
func (b *ramBuilder) Prep(spec *model.Spec) error {
	if !b.sortOnPrep || b.open.Len() == 0 {
		return nil
	}
	docs := b.open.Docs
	keys := make([]model.Key, len(docs))
	for i := range docs {
		k, err := spec.Extract(&docs[i], nil)
		if err != nil {
			// already routed through this chunk once; a missing field here
			// means the document's extracted key changed between batcher
			// append and Prep, which cannot happen under the core's
			// immutable-batch invariant. Leave the batch in append order.
			return nil
		}
		keys[i] = k
	}
	// sort a permutation rather than docs itself, so keys stay aligned with
	// the documents they were extracted from.
	order := make([]int, len(docs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return spec.Compare(keys[order[i]], keys[order[j]]) < 0 })
	sorted := make([]model.Document, len(docs))
	for i, o := range order {
		sorted[i] = docs[o]
	}
	copy(docs, sorted)
	return nil
}

func (b *ramBuilder) Flush() (*model.Batch, bool) {
	if b.open.Len() == 0 {
		return nil, false
	}
	return b.open.Seal(), true
}

func (*ramBuilder) Close() error { return nil }
