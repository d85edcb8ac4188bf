package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"

	"github.com/NVIDIA/shardload/cmn/nlog"
	"github.com/NVIDIA/shardload/model"
	"github.com/NVIDIA/shardload/sys"
)

// lowDiskWarnBytes is the free-space threshold below which a new disk
// spill file warns instead of silently accumulating toward ENOSPC.
const lowDiskWarnBytes = 256 << 20

var (
	ramPressureOnce      sync.Once
	ramPressureThreshold uint64
	ramHeldBytes         int64 // atomic: bytes held in RAM by not-yet-spilling disk-strategy chunks

	// overridable in tests so a disk-pressure crossing can be forced
	// without depending on the test machine's actual free RAM.
	ramFreeFn = sys.FreeRAMOrDefault
	ramErrFn  = sys.LastRAMSampleErr
)

// ramPressureMax samples free system RAM once, at the first disk-strategy
// Append of the run, and every disk-strategy chunk shares that one
// baseline for the rest of the run: mid-load pressure is judged against
// this fixed budget, not resampled per append.
func ramPressureMax() uint64 {
	ramPressureOnce.Do(func() {
		ramPressureThreshold = ramFreeFn()
		if err := ramErrFn(); err != nil {
			nlog.Warningf("batch: %v", err)
		}
	})
	return ramPressureThreshold
}

// resetRAMPressureForTest clears the sampled threshold and the shared
// RAM-held counter so each test starts with its own deterministic budget.
func resetRAMPressureForTest() {
	ramPressureOnce = sync.Once{}
	ramPressureThreshold = 0
	atomic.StoreInt64(&ramHeldBytes, 0)
}

// diskBuilder backs the disk strategy. It accumulates appended documents
// in RAM exactly like ramBuilder, charging each one against a
// process-wide RAM budget (ramPressureMax), and only starts spilling to
// its per-chunk buntdb file once that budget is exhausted. Once a chunk
// starts spilling it keeps spilling for the rest of the run, since the
// RAM it gave back is immediately available to every other disk-strategy
// chunk still accumulating in memory. Keys are a zero-padded monotonic
// sequence, so buntdb's default ascending iteration replays spilled
// documents in append order, and the RAM-held prefix is migrated into the
// file in the same order it was appended — drain never has to reorder.
type diskBuilder struct {
	chunk     model.ChunkId
	batchSize int
	workPath  string

	path string
	db   *buntdb.DB
	seq  int64
	n    int // documents currently spilled to the file, once spilling

	open      *model.Batch // RAM accumulation while under the pressure threshold
	openBytes int64
	spilling  bool
}

func newDiskBuilder(chunk model.ChunkId, batchSize int, workPath string) (*diskBuilder, error) {
	if workPath == "" {
		return nil, errors.New("batch: disk strategy requires workPath")
	}
	if err := os.MkdirAll(workPath, 0o755); err != nil {
		return nil, errors.Wrap(err, "batch: create work directory")
	}
	if free, err := sys.DiskFree(workPath); err == nil && free < lowDiskWarnBytes {
		nlog.Warningf("batch: workPath %s has only %d bytes free", workPath, free)
	}
	path := filepath.Join(workPath, fmt.Sprintf("chunk-%s.db", chunk))
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "batch: open spill file %s", path)
	}
	return &diskBuilder{
		chunk:     chunk,
		batchSize: batchSize,
		workPath:  workPath,
		path:      path,
		db:        db,
		open:      model.NewBatch(chunk, model.StrategyDisk, batchSize),
	}, nil
}

func (*diskBuilder) Strategy() model.Strategy { return model.StrategyDisk }

func (b *diskBuilder) Append(doc model.Document) (*model.Batch, bool) {
	if !b.spilling {
		size := estimateSize(doc)
		if uint64(atomic.AddInt64(&ramHeldBytes, size)) > ramPressureMax() {
			atomic.AddInt64(&ramHeldBytes, -size)
			b.beginSpilling()
		} else {
			b.open.Append(doc)
			b.openBytes += size
			if b.open.Full(b.batchSize) {
				return b.sealOpen(), true
			}
			return nil, false
		}
	}

	if !b.spill(doc) {
		// can't spill an unmarshalable document; drop it rather than wedge
		// the whole chunk's batch — counted by the caller as a rejected
		// per-document error, same as a missing shard-key field.
		return nil, false
	}
	if b.n >= b.batchSize {
		sealed, _ := b.drain()
		return sealed, true
	}
	return nil, false
}

// beginSpilling migrates the RAM-held prefix into the spill file, in
// append order, and marks the chunk as spilling for the rest of the run.
func (b *diskBuilder) beginSpilling() {
	b.spilling = true
	for _, doc := range b.open.Docs {
		b.spill(doc)
	}
	atomic.AddInt64(&ramHeldBytes, -b.openBytes)
	b.openBytes = 0
	b.open = model.NewBatch(b.chunk, model.StrategyDisk, 0)
	nlog.Warningf("batch: chunk %s crossed the RAM-pressure threshold, spilling to %s", b.chunk, b.path)
}

func (b *diskBuilder) spill(doc model.Document) bool {
	key := b.nextKey()
	val, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(doc)
	if err != nil {
		return false
	}
	_ = b.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, val, nil)
		return err
	})
	b.n++
	return true
}

func (b *diskBuilder) sealOpen() *model.Batch {
	sealed := b.open.Seal()
	atomic.AddInt64(&ramHeldBytes, -b.openBytes)
	b.openBytes = 0
	b.open = model.NewBatch(b.chunk, model.StrategyDisk, b.batchSize)
	return sealed
}

func (b *diskBuilder) nextKey() string {
	n := atomic.AddInt64(&b.seq, 1)
	return fmt.Sprintf("%020d", n)
}

// Prep is a no-op: whether a chunk's documents are still held in RAM or
// have been spilled, they are already in append order, so there is
// nothing left to sort or merge before drain.
func (*diskBuilder) Prep(*model.Spec) error { return nil }

func (b *diskBuilder) Flush() (*model.Batch, bool) {
	if !b.spilling {
		if b.open.Len() == 0 {
			return nil, false
		}
		return b.sealOpen(), true
	}
	if b.n == 0 {
		return nil, false
	}
	return b.drain()
}

// drain reads every pending key out of the spill file in order, builds a
// sealed batch from them, and clears the file for the next accumulation
// cycle (the builder is reused across many sealed batches over a chunk's
// lifetime, not just one).
func (b *diskBuilder) drain() (*model.Batch, bool) {
	batch := model.NewBatch(b.chunk, model.StrategyDisk, b.n)
	var keys []string
	_ = b.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, value string) bool {
			var doc model.Document
			if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(value, &doc); err == nil {
				batch.Append(doc)
			}
			keys = append(keys, key)
			return true
		})
	})
	_ = b.db.Update(func(tx *buntdb.Tx) error {
		for _, k := range keys {
			tx.Delete(k)
		}
		return nil
	})
	b.n = 0
	if batch.Len() == 0 {
		return nil, false
	}
	return batch.Seal(), true
}

func (b *diskBuilder) Close() error {
	if !b.spilling && b.openBytes > 0 {
		atomic.AddInt64(&ramHeldBytes, -b.openBytes)
		b.openBytes = 0
	}
	if err := b.db.Close(); err != nil {
		return err
	}
	return os.Remove(b.path)
}

// estimateSize is a cheap heuristic for how many bytes a document is
// roughly worth against the shared RAM-pressure budget. A full marshal
// would cost an allocation on the common path, where RAM is plentiful and
// nothing ends up spilled at all.
func estimateSize(doc model.Document) int64 {
	n := 0
	for k, v := range doc.Fields {
		n += len(k) + 16
		if s, ok := v.(string); ok {
			n += len(s)
		}
	}
	return int64(n)
}
