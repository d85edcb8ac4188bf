package model

// Strategy names the BatchBuilder behavior configured per load-queue.
type Strategy string

const (
	StrategyRAM    Strategy = "ram"
	StrategyDirect Strategy = "direct"
	StrategyDisk   Strategy = "disk"
)

func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case StrategyRAM, StrategyDirect, StrategyDisk:
		return Strategy(s), true
	default:
		return "", false
	}
}

// Batch is a bounded, sealed-once sequence of documents all owned by one
// chunk. Builders append into it; once Seal returns, ownership transfers to
// the dispatch queue and nothing may mutate it further.
type Batch struct {
	Chunk    ChunkId
	Strategy Strategy
	Docs     []Document
	sealed   bool
}

// NewBatch preallocates room for cap documents, mirroring the configured
// batchSize so append never reallocates mid-batch.
func NewBatch(chunk ChunkId, strategy Strategy, cap int) *Batch {
	return &Batch{Chunk: chunk, Strategy: strategy, Docs: make([]Document, 0, cap)}
}

func (b *Batch) Len() int { return len(b.Docs) }

func (b *Batch) Full(max int) bool { return len(b.Docs) >= max }

// Append adds a document. Callers (the batcher, under the owning chunk's
// lock) must not call Append after Seal.
func (b *Batch) Append(d Document) {
	if b.sealed {
		panic("model: append to sealed batch")
	}
	b.Docs = append(b.Docs, d)
}

// Seal freezes the batch. Idempotent so a double-seal from a racing flush
// path is a no-op rather than a panic.
func (b *Batch) Seal() *Batch {
	b.sealed = true
	return b
}

func (b *Batch) Sealed() bool { return b.sealed }
