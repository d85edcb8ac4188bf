// Package batcher runs the batcher pool: workers pop documents off the
// input adapter's queue, extract the shard key, resolve the owning chunk,
// and append to that chunk's BatchBuilder, sealing and dispatching
// whenever a batch fills.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package batcher

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/NVIDIA/shardload/batch"
	"github.com/NVIDIA/shardload/cmn/cos"
	"github.com/NVIDIA/shardload/dispatch"
	"github.com/NVIDIA/shardload/model"
	"github.com/NVIDIA/shardload/queue"
	"github.com/NVIDIA/shardload/stats"
)

// chunkState is one chunk's live BatchBuilder plus the lock guarding
// append-and-maybe-seal. Pushing a sealed batch to the dispatcher happens
// outside this lock.
type chunkState struct {
	mu      sync.Mutex
	builder batch.Builder
}

// Pool is the batcher pool: Inbox is the bounded queue the input adapter
// pushes documents into and calls EndWait on once its file set is
// exhausted.
type Pool struct {
	Inbox *queue.Queue[model.Document]

	spec      *model.Spec
	chunkMap  *model.Map
	disp      *dispatch.Dispatcher
	strategy  map[model.ChunkId]model.Strategy
	batchSize int
	workPath  string
	genID     func() string
	reg       *stats.Registry

	mu       sync.Mutex
	builders map[model.ChunkId]*chunkState

	accepted int64
	rejected int64
	errs     cos.Errs
}

// Config bundles the construction-time knobs Pool needs from the loader.
type Config struct {
	Spec      *model.Spec
	ChunkMap  *model.Map
	Dispatch  *dispatch.Dispatcher
	Strategy  map[model.ChunkId]model.Strategy // chunk -> BatchBuilder strategy
	BatchSize int
	WorkPath  string
	QueueSize int
	GenID     func() string
	Reg       *stats.Registry
}

func New(cfg Config) *Pool {
	return &Pool{
		Inbox:     queue.New[model.Document](cfg.QueueSize),
		spec:      cfg.Spec,
		chunkMap:  cfg.ChunkMap,
		disp:      cfg.Dispatch,
		strategy:  cfg.Strategy,
		batchSize: cfg.BatchSize,
		workPath:  cfg.WorkPath,
		genID:     cfg.GenID,
		reg:       cfg.Reg,
		builders:  make(map[model.ChunkId]*chunkState),
	}
}

// Run starts n workers draining Inbox. It returns once Inbox has ended and
// drained, after flushing every chunk's trailing partial batch into the
// dispatcher and closing the dispatcher to further pushes.
func (p *Pool) Run(n int) error {
	g := new(errgroup.Group)
	for i := 0; i < n; i++ {
		g.Go(p.worker)
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := p.flushAll(); err != nil {
		return err
	}
	p.disp.EndWait()
	return nil
}

func (p *Pool) worker() error {
	for {
		doc, ok := p.Inbox.Pop()
		if !ok {
			return nil
		}
		p.route(doc)
	}
}

func (p *Pool) route(doc model.Document) {
	key, err := p.spec.Extract(&doc, p.genID)
	if err != nil {
		p.errs.Add(err)
		atomic.AddInt64(&p.rejected, 1)
		p.reg.IncRejects()
		return
	}
	chunk, err := p.chunkMap.Resolve(key)
	if err != nil {
		p.errs.Add(err)
		atomic.AddInt64(&p.rejected, 1)
		p.reg.IncRejects()
		return
	}

	cs := p.chunkStateFor(chunk.ID)
	cs.mu.Lock()
	sealed, full := cs.builder.Append(doc)
	cs.mu.Unlock()
	atomic.AddInt64(&p.accepted, 1)
	p.reg.IncRouted()

	if full {
		p.reg.IncSealed()
		if err := p.disp.Push(chunk.ID, sealed); err != nil {
			p.errs.Add(err)
		}
	}
}

func (p *Pool) chunkStateFor(chunk model.ChunkId) *chunkState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cs, ok := p.builders[chunk]; ok {
		return cs
	}
	strategy := p.strategy[chunk]
	b, err := batch.NewBuilder(strategy, chunk, p.batchSize, p.workPath)
	if err != nil {
		// construction only fails for the disk strategy (no workPath, or
		// the spill file cannot be created); config.Load does not check
		// workPath, so fall back to ram rather than panic mid-load.
		b, _ = batch.NewBuilder(model.StrategyRAM, chunk, p.batchSize, p.workPath)
	}
	cs := &chunkState{builder: b}
	p.builders[chunk] = cs
	return cs
}

// flushAll preps and seals every chunk's trailing partial batch, then
// releases builder resources (the disk strategy's spill files). Prep is
// what gives the ram strategy's still-open batch its shard-key sort: by
// the time Flush returns a sealed batch, it is already in its final order.
func (p *Pool) flushAll() error {
	p.mu.Lock()
	states := make(map[model.ChunkId]*chunkState, len(p.builders))
	for k, v := range p.builders {
		states[k] = v
	}
	p.mu.Unlock()

	for chunk, cs := range states {
		cs.mu.Lock()
		if err := cs.builder.Prep(p.spec); err != nil {
			p.errs.Add(err)
		}
		remaining, ok := cs.builder.Flush()
		closeErr := cs.builder.Close()
		cs.mu.Unlock()
		if ok {
			p.reg.IncSealed()
			if err := p.disp.Push(chunk, remaining); err != nil {
				p.errs.Add(err)
			}
		}
		if closeErr != nil {
			p.errs.Add(closeErr)
		}
	}
	return nil
}

func (p *Pool) Accepted() int64 { return atomic.LoadInt64(&p.accepted) }
func (p *Pool) Rejected() int64 { return atomic.LoadInt64(&p.rejected) }
func (p *Pool) Errs() *cos.Errs { return &p.errs }
