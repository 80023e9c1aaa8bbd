package rpc

import (
	"context"
	"fmt"
	"net"
	"net/rpc"
	"os"
	"strconv"
	"sync"
	"time"

	"denshist/pkg/contract"
)

// 跨进程集合通信：rank 0 进程内承载归约协调者（net/rpc + gob），
// 所有 rank（含 0 自身）作为客户端参与集合操作。
// 每个序号一轮：协调者收齐 world 份贡献后统一放行，
// 所有调用方获得同一份合并结果——这保证了归约返回后
// 各 rank 观察到完全一致的值，且先到者阻塞等待后到者。

// Options: 端点与拨号参数。
type Options struct {
	// Socket: unix socket 路径。Socket 与 Addr 均为空时使用默认 /var/tmp 路径。
	Socket string `json:"socket"`
	// Addr: TCP 地址（host:port）。设置时优先于 Socket。
	Addr string `json:"addr"`
	// DialTimeoutMS: 等待协调者就绪的总拨号预算（毫秒）。默认 10000。
	DialTimeoutMS int `json:"dial_timeout_ms"`
}

// DefaultSocket 返回默认 unix socket 路径（按 uid 区分，避免多用户冲突）。
func DefaultSocket() string {
	return "/var/tmp/denshist-" + strconv.Itoa(os.Getuid()) + ".sock"
}

// ReduceArgs / ReduceReply: 集合操作的线上协议（gob 编码）。
// F 与 I 二选一：浮点向量或整型向量。
type ReduceArgs struct {
	Seq  int64
	Rank int
	Op   contract.ReduceOp
	F    []float64
	I    []int64
}

type ReduceReply struct {
	F []float64
	I []int64
}

type round struct {
	op      contract.ReduceOp
	accF    []float64
	accI    []int64
	got     int
	readers int
	err     error
	done    chan struct{}
}

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

// Coordinator: rank 0 的归约协调者（RPC 服务对象）。
type Coordinator struct {
	world  int
	mu     sync.Mutex
	rounds map[int64]*round
}

func newCoordinator(world int) *Coordinator {
	return &Coordinator{world: world, rounds: make(map[int64]*round)}
}

func (co *Coordinator) round(seq int64) *round {
	r, ok := co.rounds[seq]
	if !ok {
		r = &round{done: make(chan struct{})}
		co.rounds[seq] = r
	}
	return r
}

// Reduce 为阻塞 RPC：贡献本 rank 向量，收齐 world 份后返回合并结果。
func (co *Coordinator) Reduce(args *ReduceArgs, reply *ReduceReply) error {
	co.mu.Lock()
	r := co.round(args.Seq)
	co.contribute(r, args)
	r.got++
	if r.got == co.world {
		select {
		case <-r.done:
		default:
			close(r.done)
		}
	}
	co.mu.Unlock()

	<-r.done

	co.mu.Lock()
	defer co.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	reply.F = append([]float64(nil), r.accF...)
	reply.I = append([]int64(nil), r.accI...)
	r.readers++
	if r.readers == co.world {
		delete(co.rounds, args.Seq)
	}
	return nil
}

// contribute 将单份贡献并入当前轮（调用方持锁）。
// 同轮算子/长度/类型不一致视为不变量违例，整轮判失败。
func (co *Coordinator) contribute(r *round, args *ReduceArgs) {
	if r.err != nil {
		return
	}
	switch {
	case len(args.F) > 0 && len(args.I) > 0:
		r.fail(fmt.Errorf("%w: seq %d carries both vector kinds", contract.ErrInvariantViolation, args.Seq))
	case len(args.F) > 0:
		if r.accI != nil {
			r.fail(fmt.Errorf("%w: seq %d mixes vector kinds", contract.ErrInvariantViolation, args.Seq))
			return
		}
		if r.accF == nil {
			r.op = args.Op
			r.accF = append([]float64(nil), args.F...)
			return
		}
		if r.op != args.Op || len(r.accF) != len(args.F) {
			r.fail(fmt.Errorf("%w: seq %d op/len mismatch from rank %d", contract.ErrInvariantViolation, args.Seq, args.Rank))
			return
		}
		combineF(r.accF, args.F, args.Op)
	default:
		if r.accF != nil {
			r.fail(fmt.Errorf("%w: seq %d mixes vector kinds", contract.ErrInvariantViolation, args.Seq))
			return
		}
		if r.accI == nil {
			r.op = args.Op
			r.accI = append([]int64(nil), args.I...)
			return
		}
		if r.op != args.Op || len(r.accI) != len(args.I) {
			r.fail(fmt.Errorf("%w: seq %d op/len mismatch from rank %d", contract.ErrInvariantViolation, args.Seq, args.Rank))
			return
		}
		combineI(r.accI, args.I, args.Op)
	}
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

// server: rank 0 持有的 RPC 服务端（监听 + Accept 循环）。
type server struct {
	lis     net.Listener
	network string
	addr    string
}

func serve(network, addr string, world int) (*server, error) {
	if network == "unix" {
		// 残留 socket 会让 Listen 失败
		_ = os.Remove(addr)
	}
	srv := rpc.NewServer()
	if err := srv.Register(newCoordinator(world)); err != nil {
		return nil, err
	}
	lis, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	go srv.Accept(lis)
	return &server{lis: lis, network: network, addr: addr}, nil
}

func (s *server) close() error {
	err := s.lis.Close()
	if s.network == "unix" {
		_ = os.Remove(s.addr)
	}
	return err
}

// Comm 实现 contract.Communicator。
type Comm struct {
	rank  int
	world int
	seq   int64
	cli   *rpc.Client
	srv   *server // 仅 rank 0 非空
}

var _ contract.Communicator = (*Comm)(nil)

// New 建立通信组成员：rank 0 先在进程内启动协调者，
// 随后所有 rank 在拨号预算内重试连接（协调者可能尚未就绪）。
func New(opts *Options, rank, world int) (*Comm, error) {
	if world <= 0 || rank < 0 || rank >= world {
		return nil, fmt.Errorf("%w: rank %d world %d", contract.ErrInvariantViolation, rank, world)
	}
	network, addr := endpoint(opts)
	timeout := 10 * time.Second
	if opts != nil && opts.DialTimeoutMS > 0 {
		timeout = time.Duration(opts.DialTimeoutMS) * time.Millisecond
	}

	var srv *server
	if rank == 0 {
		s, err := serve(network, addr, world)
		if err != nil {
			return nil, fmt.Errorf("comm serve: %w", err)
		}
		srv = s
	}

	cli, err := dialRetry(network, addr, timeout)
	if err != nil {
		if srv != nil {
			_ = srv.close()
		}
		return nil, fmt.Errorf("comm dial %s: %w", addr, err)
	}
	return &Comm{rank: rank, world: world, cli: cli, srv: srv}, nil
}

func endpoint(opts *Options) (network, addr string) {
	if opts != nil && opts.Addr != "" {
		return "tcp", opts.Addr
	}
	if opts != nil && opts.Socket != "" {
		return "unix", opts.Socket
	}
	return "unix", DefaultSocket()
}

// dialRetry 在预算内反复拨号：其他 rank 可能早于协调者启动。
func dialRetry(network, addr string, timeout time.Duration) (*rpc.Client, error) {
	deadline := time.Now().Add(timeout)
	for {
		cli, err := rpc.Dial(network, addr)
		if err == nil {
			return cli, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (c *Comm) Rank() int { return c.rank }
func (c *Comm) Size() int { return c.world }

// call 发起阻塞集合调用；ctx 取消时本地尽快返回。
func (c *Comm) call(ctx context.Context, args *ReduceArgs) (*ReduceReply, error) {
	reply := new(ReduceReply)
	done := c.cli.Go("Coordinator.Reduce", args, reply, make(chan *rpc.Call, 1)).Done
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case call := <-done:
		if call.Error != nil {
			return nil, fmt.Errorf("collective seq %d: %w", args.Seq, call.Error)
		}
		return reply, nil
	}
}

func (c *Comm) AllReduce(ctx context.Context, vec []float64, op contract.ReduceOp) ([]float64, error) {
	c.seq++
	reply, err := c.call(ctx, &ReduceArgs{Seq: c.seq, Rank: c.rank, Op: op, F: vec})
	if err != nil {
		return nil, err
	}
	return reply.F, nil
}

func (c *Comm) AllReduceInt64(ctx context.Context, vec []int64, op contract.ReduceOp) ([]int64, error) {
	c.seq++
	reply, err := c.call(ctx, &ReduceArgs{Seq: c.seq, Rank: c.rank, Op: op, I: vec})
	if err != nil {
		return nil, err
	}
	return reply.I, nil
}

// Barrier 以零向量求和实现：收齐即放行。
func (c *Comm) Barrier(ctx context.Context) error {
	c.seq++
	_, err := c.call(ctx, &ReduceArgs{Seq: c.seq, Rank: c.rank, Op: contract.ReduceSum, I: []int64{0}})
	return err
}

// Close 关闭客户端连接；rank 0 额外关闭监听并清理 socket。
func (c *Comm) Close() error {
	err := c.cli.Close()
	if c.srv != nil {
		if cerr := c.srv.close(); err == nil {
			err = cerr
		}
	}
	return err
}
