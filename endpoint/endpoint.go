// Package endpoint implements the per-shard connection pool that drains
// QueueSlots and writes sealed batches to the cluster: bounded exponential
// backoff on retryable failures, connection eviction from the round-robin
// cursor once a connection exhausts its retry budget, and
// re-queueing onto another connection in the same pool.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package endpoint

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/NVIDIA/shardload/cluster"
	"github.com/NVIDIA/shardload/cmn/cos"
	"github.com/NVIDIA/shardload/cmn/nlog"
	"github.com/NVIDIA/shardload/dispatch"
	"github.com/NVIDIA/shardload/model"
	"github.com/NVIDIA/shardload/roundrobin"
	"github.com/NVIDIA/shardload/stats"
)

const (
	maxRetries   = 5
	baseBackoff  = 50 * time.Millisecond
	maxBackoff   = 5 * time.Second
	backoffSlots = 8 // bounds concurrent in-flight backoff timers per shard
)

// writeTask is a set of documents plus the target namespace and write
// concern it was enqueued with.
type writeTask struct {
	docs []model.Document
	ns   string
	wc   string
}

// endConn pairs a live cluster.Connection with the retry state the pool
// tracks per connection.
type endConn struct {
	conn    cluster.Connection
	retries int32
}

// Pool is one shard's fixed set of persistent connections and the
// round-robin cursors (over connections and over the shard's QueueSlots)
// its own idle workers cycle through.
type Pool struct {
	shard model.ShardId
	ns    string
	wc    string

	facade cluster.Facade
	disp   *dispatch.Dispatcher
	slots  *roundrobin.Cursor[*dispatch.QueueSlot]
	reg    *stats.Registry

	mu    sync.Mutex
	conns map[cluster.Connection]*endConn
	cur   *roundrobin.Cursor[cluster.Connection]
	sem   *semaphore.Weighted

	written    int64
	retriesCnt int64
	nonRetry   int64
	evicted    int32

	errs cos.Errs
}

// New opens n connections to shard and wires them to the dispatcher's
// QueueSlots for that shard. reg may be nil; counter increments are
// nil-safe.
func New(ctx context.Context, facade cluster.Facade, disp *dispatch.Dispatcher, shard model.ShardId, ns, wc string, n int, reg *stats.Registry) (*Pool, error) {
	p := &Pool{
		shard:  shard,
		ns:     ns,
		wc:     wc,
		facade: facade,
		disp:   disp,
		reg:    reg,
		conns:  make(map[cluster.Connection]*endConn, n),
		sem:    semaphore.NewWeighted(backoffSlots),
	}
	conns := make([]cluster.Connection, 0, n)
	for i := 0; i < n; i++ {
		c, err := facade.Connect(ctx, shard)
		if err != nil {
			p.closeAll()
			return nil, err
		}
		p.conns[c] = &endConn{conn: c}
		conns = append(conns, c)
	}
	p.cur = roundrobin.New(conns)

	slots := disp.SlotsForShard(shard)
	p.slots = roundrobin.New(slots)
	return p, nil
}

func (p *Pool) closeAll() {
	for c := range p.conns {
		c.Close()
	}
}

// Run starts n workers (one per connection) that idle-poll the shard's
// QueueSlots round-robin, decoupling the queue population from the worker
// count. Run blocks until ctx is done or every QueueSlot has ended and
// drained.
func (p *Pool) Run(ctx context.Context, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error { return p.worker(ctx) })
	}
	return g.Wait()
}

func (p *Pool) worker(ctx context.Context) error {
	for {
		slot, ok := p.nextSlot()
		if !ok {
			return nil // every QueueSlot for this shard has been evicted
		}
		batch, ok := slot.Queue.Pop()
		if !ok {
			p.slots.Remove(slot)
			continue
		}
		p.send(ctx, writeTask{docs: batch.Docs, ns: p.ns, wc: p.wc})
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (p *Pool) nextSlot() (*dispatch.QueueSlot, bool) {
	return p.slots.Next()
}

// send picks the next live connection and writes task.docs, retrying with
// bounded exponential backoff on a retryable failure, evicting the
// connection and re-queueing the batch onto another connection's path once
// the retry budget is exhausted.
func (p *Pool) send(ctx context.Context, task writeTask) {
	for attempt := 0; ; attempt++ {
		c, ok := p.cur.Next()
		if !ok {
			p.errs.Add(noConnErr{shard: p.shard})
			return
		}
		ec := p.connState(c)
		err := c.Write(ctx, task.ns, task.docs, task.wc)
		if err == nil {
			atomic.AddInt64(&p.written, int64(len(task.docs)))
			p.reg.IncSent()
			return
		}

		switch c.Classify(err) {
		case cluster.OutcomeNonRetryable:
			atomic.AddInt64(&p.nonRetry, 1)
			p.errs.Add(err)
			p.reg.IncRejects()
			return
		case cluster.OutcomeRetryable:
			atomic.AddInt64(&p.retriesCnt, 1)
			p.reg.IncRetries()
			n := atomic.AddInt32(&ec.retries, 1)
			if int(n) > maxRetries {
				p.evict(c)
				continue // re-queue onto another connection, same task
			}
			p.backoff(ctx, int(n))
			continue
		default:
			p.errs.Add(err)
			return
		}
	}
}

func (p *Pool) connState(c cluster.Connection) *endConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[c]
}

// evict removes a degraded connection from the round-robin cursor. It is
// not closed here: in-flight callers may still hold a reference via
// connState; the pool's shutdown path closes every original connection
// regardless of eviction state.
func (p *Pool) evict(c cluster.Connection) {
	p.cur.Remove(c)
	atomic.AddInt32(&p.evicted, 1)
	nlog.Warningf("endpoint: shard %s evicted a connection after %d retries", p.shard, maxRetries)
}

// backoff bounds concurrent sleepers per shard with a semaphore so a
// flapping shard cannot spawn unbounded timers.
func (p *Pool) backoff(ctx context.Context, attempt int) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer p.sem.Release(1)
	d := time.Duration(math.Min(float64(maxBackoff), float64(baseBackoff)*math.Pow(2, float64(attempt))))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// GracefulShutdown closes every connection this pool opened. Callers must
// ensure QueueSlots have already ended and drained (the dispatcher's
// EndWait + waterfall finalization takes care of that).
func (p *Pool) GracefulShutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs cos.Errs
	for c := range p.conns {
		if err := c.Close(); err != nil {
			errs.Add(err)
		}
	}
	if errs.Cnt() > 0 {
		return &errs
	}
	return nil
}

// Write sends docs through the pool's own retry/eviction path, outside the
// normal QueueSlot hand-off. The finalizer uses this directly once a
// QueueSlot has already been drained in waterfall order.
func (p *Pool) Write(ctx context.Context, ns string, docs []model.Document, wc string) error {
	p.send(ctx, writeTask{docs: docs, ns: ns, wc: wc})
	return nil
}

func (p *Pool) Written() int64  { return atomic.LoadInt64(&p.written) }
func (p *Pool) Retries() int64  { return atomic.LoadInt64(&p.retriesCnt) }
func (p *Pool) NonRetry() int64 { return atomic.LoadInt64(&p.nonRetry) }
func (p *Pool) Evicted() int32  { return atomic.LoadInt32(&p.evicted) }
func (p *Pool) Errs() *cos.Errs { return &p.errs }

type noConnErr struct{ shard model.ShardId }

func (e noConnErr) Error() string {
	return "endpoint: shard " + string(e.shard) + " has no live connections left"
}
