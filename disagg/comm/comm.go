// Package comm provides an in-process implementation of the group
// communication contract the rank partitioner consumes (disagg.Comm),
// intended for tests and single-node bring-up. Adapters over a real
// collective runtime must match these semantics: Split groups by color and
// orders by ascending key (ties by world rank), Barrier releases only when
// every subgroup member has arrived.
package comm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/inference-sim/disagg-serve/disagg"
)

// World is a set of size cooperating endpoints sharing one in-process
// collective domain. One goroutine per rank drives its Endpoint; collective
// calls block until all ranks arrive.
type World struct {
	size int

	mu    sync.Mutex
	round *splitRound
}

// NewWorld creates a world of size ranks. Size must be >= 1.
func NewWorld(size int) (*World, error) {
	if size < 1 {
		return nil, fmt.Errorf("world size must be >= 1, got %d", size)
	}
	return &World{size: size}, nil
}

// Size returns the world's rank count.
func (w *World) Size() int { return w.size }

// Endpoint returns the Comm bound to one rank of the world.
func (w *World) Endpoint(rank int) (*Endpoint, error) {
	if rank < 0 || rank >= w.size {
		return nil, fmt.Errorf("rank %d out of range [0, %d)", rank, w.size)
	}
	return &Endpoint{world: w, rank: rank}, nil
}

// Endpoint is one rank's handle on the world. Implements disagg.Comm.
type Endpoint struct {
	world *World
	rank  int
}

// Rank returns the endpoint's global rank.
func (e *Endpoint) Rank() int { return e.rank }

// Size returns the world's rank count.
func (e *Endpoint) Size() int { return e.world.size }

// Split participates in a collective split round. Blocks until every rank
// of the world has called Split, then returns this rank's subgroup. A rank
// may call Split at most once per round; rounds are sequential.
func (e *Endpoint) Split(color, key int) (disagg.Subgroup, error) {
	return e.world.split(e.rank, color, key)
}

type splitReq struct {
	rank  int
	color int
	key   int
}

type splitRound struct {
	reqs   map[int]splitReq
	done   chan struct{}
	groups map[int]*Group
}

func (w *World) split(rank, color, key int) (*Group, error) {
	w.mu.Lock()
	round := w.round
	if round == nil {
		round = &splitRound{
			reqs: make(map[int]splitReq, w.size),
			done: make(chan struct{}),
		}
		w.round = round
	}
	if _, dup := round.reqs[rank]; dup {
		w.mu.Unlock()
		return nil, fmt.Errorf("rank %d called Split twice in one round", rank)
	}
	round.reqs[rank] = splitReq{rank: rank, color: color, key: key}
	if len(round.reqs) == w.size {
		round.groups = formGroups(round.reqs)
		w.round = nil
		close(round.done)
	}
	w.mu.Unlock()

	<-round.done
	return round.groups[rank], nil
}

// formGroups assigns each rank its subgroup: members share a color, ordered
// by ascending key with ties broken by world rank.
func formGroups(reqs map[int]splitReq) map[int]*Group {
	byColor := make(map[int][]splitReq)
	for _, req := range reqs {
		byColor[req.color] = append(byColor[req.color], req)
	}

	groups := make(map[int]*Group, len(reqs))
	for _, members := range byColor {
		sort.Slice(members, func(i, j int) bool {
			if members[i].key != members[j].key {
				return members[i].key < members[j].key
			}
			return members[i].rank < members[j].rank
		})

		ranks := make([]int, len(members))
		for i, m := range members {
			ranks[i] = m.rank
		}
		barrier := newBarrier(len(members))
		for i, m := range members {
			groups[m.rank] = &Group{
				members: ranks,
				rank:    i,
				barrier: barrier,
			}
		}
	}
	return groups
}

// Group is one subgroup of a split round. Implements disagg.Subgroup. All
// members of a group share one barrier.
type Group struct {
	members []int // global ranks in subgroup order
	rank    int   // this member's index in members
	barrier *barrier
}

// Rank returns this member's rank within the group.
func (g *Group) Rank() int { return g.rank }

// Size returns the group's member count.
func (g *Group) Size() int { return len(g.members) }

// Members returns the global ranks of the group in subgroup order.
func (g *Group) Members() []int {
	out := make([]int, len(g.members))
	copy(out, g.members)
	return out
}

// Barrier blocks until every member of the group has arrived, or ctx is
// done. Reusable: each full arrival opens a new generation.
func (g *Group) Barrier(ctx context.Context) error {
	return g.barrier.wait(ctx)
}

// barrier is a reusable N-party rendezvous. The release channel is swapped
// per generation; waiters of one generation all select on the same channel.
type barrier struct {
	mu      sync.Mutex
	size    int
	arrived int
	release chan struct{}
}

func newBarrier(size int) *barrier {
	return &barrier{size: size, release: make(chan struct{})}
}

func (b *barrier) wait(ctx context.Context) error {
	b.mu.Lock()
	release := b.release
	b.arrived++
	if b.arrived == b.size {
		b.arrived = 0
		b.release = make(chan struct{})
		close(release)
	}
	b.mu.Unlock()

	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
