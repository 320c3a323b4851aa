// Package pool provides the process-group runtime the distributed
// scattering build runs on: rank/size queries, barriers, collective
// reductions, broadcast, contiguous work division and sub-group splitting.
// The implementation is in-process (one goroutine per rank) with explicit
// group handles instead of ambient globals; a single-rank pool degenerates
// to no-ops. A fatal error on any rank aborts the whole group: every rank
// blocked on a collective returns the same error.
package pool

import (
	"fmt"
	"sync"
)

// Group is the shared state of one communicator. All ranks of a group must
// call collectives in the same order.
type Group struct {
	size int

	mu         sync.Mutex
	cond       *sync.Cond
	count      int
	generation int
	err        error

	reduceBuf  []float64
	bcastBuf   []float64
	splitColor []int
	subGroups  map[int]*Group
	subSizes   map[int]int
}

// NewGroup creates a communicator with the given number of ranks.
func NewGroup(size int) *Group {
	if size < 1 {
		size = 1
	}
	g := &Group{size: size}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Pool returns the per-rank handle.
func (g *Group) Pool(rank int) *Pool {
	if rank < 0 || rank >= g.size {
		panic(fmt.Sprintf("pool: rank %d out of range [0,%d)", rank, g.size))
	}
	return &Pool{rank: rank, g: g}
}

// Abort records a fatal error and wakes every rank blocked on a
// collective. The first error wins.
func (g *Group) Abort(err error) {
	g.mu.Lock()
	if g.err == nil && err != nil {
		g.err = err
	}
	g.cond.Broadcast()
	g.mu.Unlock()
}

// Err returns the group's fatal error, if any.
func (g *Group) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// await is the barrier primitive: blocks until all ranks arrive or the
// group is aborted.
func (g *Group) await() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	gen := g.generation
	g.count++
	if g.count == g.size {
		g.count = 0
		g.generation++
		g.cond.Broadcast()
		return g.err
	}
	for gen == g.generation && g.err == nil {
		g.cond.Wait()
	}
	return g.err
}

// Pool is one rank's view of a Group.
type Pool struct {
	rank int
	g    *Group
}

// Single returns a one-rank pool, the default for serial runs.
func Single() *Pool { return NewGroup(1).Pool(0) }

// Rank returns this rank's index.
func (p *Pool) Rank() int { return p.rank }

// Size returns the group size.
func (p *Pool) Size() int { return p.g.size }

// IsHead reports whether this is rank 0, the rank that logs and gathers.
func (p *Pool) IsHead() bool { return p.rank == 0 }

// Err returns the group's fatal error, if any.
func (p *Pool) Err() error { return p.g.Err() }

// Abort propagates a fatal error to the whole group.
func (p *Pool) Abort(err error) { p.g.Abort(err) }

// Barrier blocks until every rank reaches it.
func (p *Pool) Barrier() error {
	if p.g.size == 1 {
		return p.g.Err()
	}
	return p.g.await()
}

// DivideWork splits n tasks into this rank's contiguous [start, stop)
// range: start = n*rank/size. Per-task cost is assumed roughly uniform, so
// no dynamic balancing is done.
func (p *Pool) DivideWork(n int) (start, stop int) {
	start = n * p.rank / p.g.size
	stop = n * (p.rank + 1) / p.g.size
	return
}

// AllReduceSum sums data elementwise across all ranks; on return every
// rank's slice holds the total. All ranks must pass slices of equal length.
func (p *Pool) AllReduceSum(data []float64) error {
	if p.g.size == 1 {
		return p.g.Err()
	}
	g := p.g

	g.mu.Lock()
	if g.reduceBuf == nil {
		g.reduceBuf = make([]float64, len(data))
	}
	if len(g.reduceBuf) != len(data) {
		n := len(g.reduceBuf)
		g.mu.Unlock()
		err := fmt.Errorf("pool: all-reduce length mismatch, rank %d has %d want %d",
			p.rank, len(data), n)
		g.Abort(err)
		return err
	}
	for i, v := range data {
		g.reduceBuf[i] += v
	}
	g.mu.Unlock()

	if err := p.Barrier(); err != nil {
		return err
	}
	copy(data, g.reduceBuf)
	if err := p.Barrier(); err != nil {
		return err
	}
	if p.rank == 0 {
		g.mu.Lock()
		g.reduceBuf = nil
		g.mu.Unlock()
	}
	return p.Barrier()
}

// Broadcast copies root's data to every rank.
func (p *Pool) Broadcast(data []float64, root int) error {
	if p.g.size == 1 {
		return p.g.Err()
	}
	g := p.g
	if p.rank == root {
		g.mu.Lock()
		g.bcastBuf = append(g.bcastBuf[:0], data...)
		g.mu.Unlock()
	}
	if err := p.Barrier(); err != nil {
		return err
	}
	if p.rank != root {
		g.mu.Lock()
		copy(data, g.bcastBuf)
		g.mu.Unlock()
	}
	return p.Barrier()
}

// Split partitions the group into sub-groups by color, MPI_Comm_split
// style. Ranks sharing a color form a new group; sub-ranks follow the
// parent rank order. All ranks must call Split collectively.
func (p *Pool) Split(color int) (*Pool, error) {
	if p.g.size == 1 {
		return p, p.g.Err()
	}
	g := p.g

	g.mu.Lock()
	if g.splitColor == nil {
		g.splitColor = make([]int, g.size)
	}
	g.splitColor[p.rank] = color
	g.mu.Unlock()

	if err := p.Barrier(); err != nil {
		return nil, err
	}

	if p.rank == 0 {
		g.mu.Lock()
		g.subSizes = make(map[int]int)
		for _, c := range g.splitColor {
			g.subSizes[c]++
		}
		g.subGroups = make(map[int]*Group)
		for c, n := range g.subSizes {
			g.subGroups[c] = NewGroup(n)
		}
		g.mu.Unlock()
	}

	if err := p.Barrier(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	sub := g.subGroups[color]
	subRank := 0
	for r := 0; r < p.rank; r++ {
		if g.splitColor[r] == color {
			subRank++
		}
	}
	g.mu.Unlock()

	if err := p.Barrier(); err != nil {
		return nil, err
	}
	if p.rank == 0 {
		g.mu.Lock()
		g.splitColor = nil
		g.subGroups = nil
		g.mu.Unlock()
	}
	return sub.Pool(subRank), nil
}

// Run spawns one goroutine per rank over a fresh group and waits for all
// of them. The first error aborts the group and is returned.
func Run(size int, fn func(p *Pool) error) error {
	g := NewGroup(size)
	var wg sync.WaitGroup
	errs := make([]error, size)
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			if err := fn(g.Pool(rank)); err != nil {
				g.Abort(err)
				errs[rank] = err
			}
		}(r)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return g.Err()
}
