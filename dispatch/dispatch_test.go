package dispatch_test

import (
	"github.com/NVIDIA/shardload/dispatch"
	"github.com/NVIDIA/shardload/model"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func specs(shard model.ShardId, n int) []dispatch.QueueSlotSpec {
	out := make([]dispatch.QueueSlotSpec, n)
	for i := range out {
		out[i] = dispatch.QueueSlotSpec{
			Chunk:    model.ChunkId(string(shard) + "/c" + string(rune('0'+i))),
			Shard:    shard,
			Strategy: model.StrategyRAM,
		}
	}
	return out
}

var _ = Describe("Dispatcher", func() {
	It("pushes a batch to the owning chunk's QueueSlot", func() {
		d := dispatch.New(specs("s0", 1), 4)
		b := model.NewBatch("s0/c0", model.StrategyRAM, 1).Seal()
		Expect(d.Push("s0/c0", b)).To(Succeed())

		slot, ok := d.Slot("s0/c0")
		Expect(ok).To(BeTrue())
		got, ok := slot.Queue.Pop()
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal(b))
	})

	It("rejects a push to an unknown chunk", func() {
		d := dispatch.New(specs("s0", 1), 4)
		b := model.NewBatch("bogus", model.StrategyRAM, 1).Seal()
		Expect(d.Push("bogus", b)).To(HaveOccurred())
	})

	It("interleaves shards round-robin, equal slot counts", func() {
		all := append(specs("s0", 2), specs("s1", 2)...)
		d := dispatch.New(all, 4)
		w := d.Waterfall()
		Expect(w).To(HaveLen(4))
		Expect(w[0].Shard).To(Equal(model.ShardId("s0")))
		Expect(w[1].Shard).To(Equal(model.ShardId("s1")))
		Expect(w[2].Shard).To(Equal(model.ShardId("s0")))
		Expect(w[3].Shard).To(Equal(model.ShardId("s1")))
		Expect(w[0].Index).To(Equal(0))
		Expect(w[2].Index).To(Equal(1))
	})

	It("places the shorter shard's slots before running out, for unequal counts", func() {
		all := append(specs("s0", 3), specs("s1", 1)...)
		d := dispatch.New(all, 4)
		w := d.Waterfall()
		Expect(w).To(HaveLen(4))

		shards := make([]model.ShardId, len(w))
		for i, s := range w {
			shards[i] = s.Shard
		}
		Expect(shards[0]).To(Equal(model.ShardId("s0")))
		Expect(shards[1]).To(Equal(model.ShardId("s1")))
		// s1 only has one slot; the remaining two positions are s0's.
		Expect(shards[2]).To(Equal(model.ShardId("s0")))
		Expect(shards[3]).To(Equal(model.ShardId("s0")))
	})

	It("preserves within-shard index order in the waterfall", func() {
		d := dispatch.New(specs("s0", 3), 4)
		w := d.Waterfall()
		for i, s := range w {
			Expect(s.Index).To(Equal(i))
		}
	})
})
