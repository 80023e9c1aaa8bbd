package local

import (
	"context"
	"fmt"
	"sync"

	"denshist/pkg/contract"
)

// 进程内集合通信：所有参与者共享一个 Hub，按序号汇合，
// 收齐后同时放行并拿到同一份合并结果。语义与跨进程实现一致，
// 服务于单 rank 运行与多 rank 的进程内测试编排。

// round: 一次集合操作的汇合点。
type round struct {
	op      contract.ReduceOp
	accF    []float64
	accI    []int64
	got     int
	readers int
	err     error
	done    chan struct{}
}

// Hub: 集合通信枢纽。每个序号一轮；参与者必须以相同顺序、
// 相同算子、相同向量长度到达同一序号。
type Hub struct {
	size   int
	mu     sync.Mutex
	rounds map[int64]*round
}

// NewHub 创建容量为 size 的枢纽。
func NewHub(size int) *Hub {
	return &Hub{size: size, rounds: make(map[int64]*round)}
}

// Comms 返回共享同一 Hub 的 size 个通信器（按 rank 索引）。
func Comms(size int) []*Comm {
	h := NewHub(size)
	cs := make([]*Comm, size)
	for r := range cs {
		cs[r] = &Comm{hub: h, rank: r}
	}
	return cs
}

// Single 返回 Size()==1 的通信器：集合操作退化为恒等。
func Single() *Comm { return Comms(1)[0] }

func (h *Hub) round(seq int64) *round {
	r, ok := h.rounds[seq]
	if !ok {
		r = &round{done: make(chan struct{})}
		h.rounds[seq] = r
	}
	return r
}

// fail 标记整轮失败并放行所有等待者（调用方持锁）。
func (r *round) fail(err error) {
	if r.err == nil {
		r.err = err
	}
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

func (h *Hub) reduceF(ctx context.Context, seq int64, vec []float64, op contract.ReduceOp) ([]float64, error) {
	h.mu.Lock()
	r := h.round(seq)
	switch {
	case r.err != nil:
		// 本轮已判失败，直接汇报
	case r.accI != nil:
		r.fail(fmt.Errorf("%w: seq %d mixes int64 and float64", contract.ErrInvariantViolation, seq))
	case r.accF == nil:
		r.op = op
		r.accF = append([]float64(nil), vec...)
	case r.op != op || len(r.accF) != len(vec):
		r.fail(fmt.Errorf("%w: seq %d op/len mismatch", contract.ErrInvariantViolation, seq))
	default:
		combineF(r.accF, vec, op)
	}
	r.got++
	if r.got == h.size {
		select {
		case <-r.done:
		default:
			close(r.done)
		}
	}
	h.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := append([]float64(nil), r.accF...)
	r.readers++
	if r.readers == h.size {
		delete(h.rounds, seq)
	}
	return out, nil
}

func (h *Hub) reduceI(ctx context.Context, seq int64, vec []int64, op contract.ReduceOp) ([]int64, error) {
	h.mu.Lock()
	r := h.round(seq)
	switch {
	case r.err != nil:
	case r.accF != nil:
		r.fail(fmt.Errorf("%w: seq %d mixes float64 and int64", contract.ErrInvariantViolation, seq))
	case r.accI == nil:
		r.op = op
		r.accI = append([]int64(nil), vec...)
	case r.op != op || len(r.accI) != len(vec):
		r.fail(fmt.Errorf("%w: seq %d op/len mismatch", contract.ErrInvariantViolation, seq))
	default:
		combineI(r.accI, vec, op)
	}
	r.got++
	if r.got == h.size {
		select {
		case <-r.done:
		default:
			close(r.done)
		}
	}
	h.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := append([]int64(nil), r.accI...)
	r.readers++
	if r.readers == h.size {
		delete(h.rounds, seq)
	}
	return out, nil
}

func combineF(acc, vec []float64, op contract.ReduceOp) {
	for i, v := range vec {
		switch op {
		case contract.ReduceMin:
			if v < acc[i] {
				acc[i] = v
			}
		case contract.ReduceMax:
			if v > acc[i] {
				acc[i] = v
			}
		case contract.ReduceSum:
			acc[i] += v
		}
	}
}

func combineI(acc, vec []int64, op contract.ReduceOp) {
	for i, v := range vec {
		switch op {
		case contract.ReduceMin:
			if v < acc[i] {
				acc[i] = v
			}
		case contract.ReduceMax:
			if v > acc[i] {
				acc[i] = v
			}
		case contract.ReduceSum:
			acc[i] += v
		}
	}
}

// Comm 实现 contract.Communicator。
// seq 为本 rank 的集合操作序号：流水线严格顺序执行，
// 各 rank 的调用序列一致，序号天然对齐。
type Comm struct {
	hub  *Hub
	rank int
	seq  int64
}

var _ contract.Communicator = (*Comm)(nil)

func (c *Comm) Rank() int { return c.rank }
func (c *Comm) Size() int { return c.hub.size }

func (c *Comm) AllReduce(ctx context.Context, vec []float64, op contract.ReduceOp) ([]float64, error) {
	c.seq++
	return c.hub.reduceF(ctx, c.seq, vec, op)
}

func (c *Comm) AllReduceInt64(ctx context.Context, vec []int64, op contract.ReduceOp) ([]int64, error) {
	c.seq++
	return c.hub.reduceI(ctx, c.seq, vec, op)
}

// Barrier 以零向量求和实现：收齐即放行。
func (c *Comm) Barrier(ctx context.Context) error {
	c.seq++
	_, err := c.hub.reduceI(ctx, c.seq, []int64{0}, contract.ReduceSum)
	return err
}

func (c *Comm) Close() error { return nil }
