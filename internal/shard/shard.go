package shard

import (
	"fmt"

	"denshist/pkg/contract"
)

// Partition 计算 rank 的连续等块分片 [r*(T/W), (r+1)*(T/W))。
// 约束：
// - W == 1 时单 rank 取全量，不要求整除；
// - 否则 T < W 或 T % W != 0 即无合法分片，返回 ErrPartitionMismatch
//   （配置期硬前置条件：宁可拒绝启动也不静默丢文件）；
// - 返回的是原列表的子切片，不复制（调用方只读）。
func Partition(files []contract.InputFile, rank, world int) ([]contract.InputFile, error) {
	if world <= 0 {
		return nil, fmt.Errorf("%w: world size %d", contract.ErrInvariantViolation, world)
	}
	if rank < 0 || rank >= world {
		return nil, fmt.Errorf("%w: rank %d outside [0, %d)", contract.ErrInvariantViolation, rank, world)
	}
	if world == 1 {
		return files, nil
	}
	t := len(files)
	if t < world || t%world != 0 {
		return nil, fmt.Errorf("%w: %d files across %d ranks", contract.ErrPartitionMismatch, t, world)
	}
	per := t / world
	return files[rank*per : (rank+1)*per], nil
}
