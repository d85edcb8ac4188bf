// Package finalize runs the waterfall-ordered drain after the input
// adapter signals end-of-stream. By the time a finalizer worker reaches a
// QueueSlot, the batcher has already prepped (sorted, for the ram
// strategy) and sealed every builder's trailing partial batch and pushed
// it; finalize's job is purely to drain and send whatever is now sitting
// in that slot's queue, in the order it was pushed.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package finalize

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/NVIDIA/shardload/dispatch"
	"github.com/NVIDIA/shardload/model"
)

// Sender is the minimal end-point pool surface finalize needs.
type Sender interface {
	Write(ctx context.Context, ns string, docs []model.Document, wc string) error
}

// Pool pulls QueueSlots from the dispatcher's waterfall order and drains
// each one; sized threadsMax deep, exits once the waterfall list is empty.
type Pool struct {
	disp    *dispatch.Dispatcher
	senders map[model.ShardId]Sender
	ns, wc  string

	mu     sync.Mutex
	loaded int64
}

func New(disp *dispatch.Dispatcher, senders map[model.ShardId]Sender, ns, wc string) *Pool {
	return &Pool{disp: disp, senders: senders, ns: ns, wc: wc}
}

// Run drains the waterfall with threadsMax concurrent finalizer workers.
// Two workers never touch the same QueueSlot: the waterfall list is
// consumed item-by-item from a shared index.
func (p *Pool) Run(ctx context.Context, threadsMax int) error {
	slots := p.disp.Waterfall()
	var idx int
	var mu sync.Mutex
	next := func() (*dispatch.QueueSlot, bool) {
		mu.Lock()
		defer mu.Unlock()
		if idx >= len(slots) {
			return nil, false
		}
		s := slots[idx]
		idx++
		return s, true
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < threadsMax; i++ {
		g.Go(func() error {
			for {
				slot, ok := next()
				if !ok {
					return nil
				}
				if err := p.drainSlot(ctx, slot); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}

// drainSlot pops every sealed batch currently parked in slot's queue, in
// push order, and sends the flattened result in one call. Every batch
// arriving here already passed through its builder's Prep step before
// being sealed, so there is nothing left for finalize to sort or reorder.
func (p *Pool) drainSlot(ctx context.Context, slot *dispatch.QueueSlot) error {
	var docs []model.Document
	for {
		sealed, ok := slot.Queue.Pop()
		if !ok {
			break
		}
		docs = append(docs, sealed.Docs...)
	}
	if len(docs) == 0 {
		return nil
	}

	sender, ok := p.senders[slot.Shard]
	if !ok {
		return nil
	}
	if err := sender.Write(ctx, p.ns, docs, p.wc); err != nil {
		return err
	}
	p.mu.Lock()
	p.loaded += int64(len(docs))
	p.mu.Unlock()
	return nil
}

func (p *Pool) Loaded() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}
