package contract

import "context"

// ReduceOp: 归约算子。三者均为交换且结合的组合函数，
// 结果与各 rank 的到达顺序无关。
type ReduceOp int

const (
	ReduceMin ReduceOp = iota
	ReduceMax
	ReduceSum
)

func (op ReduceOp) String() string {
	switch op {
	case ReduceMin:
		return "min"
	case ReduceMax:
		return "max"
	case ReduceSum:
		return "sum"
	default:
		return "unknown"
	}
}

// Communicator: 同步集合通信抽象（屏障式归约）。
// 约束：
//  1. AllReduce/AllReduceInt64/Barrier 均为阻塞集合点：全部参与者到达后才返回，
//     且返回向量在所有 rank 上逐元素一致；
//  2. 所有 rank 必须以相同顺序、相同算子、相同向量长度调用同一序列的集合操作；
//  3. ctx 取消/超时需尽快本地返回（不保证解除其他 rank 的阻塞）；
//  4. Size()==1 时集合操作退化为恒等（单 rank 等价性）。
type Communicator interface {
	Rank() int
	Size() int
	AllReduce(ctx context.Context, vec []float64, op ReduceOp) ([]float64, error)
	AllReduceInt64(ctx context.Context, vec []int64, op ReduceOp) ([]int64, error)
	Barrier(ctx context.Context) error
	Close() error
}
