package contract

import "errors"

// 领域最小错误分类（哨兵）。
var (
	// ErrPathInvalid: 目标标识映射为无效路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrPartitionMismatch: 输入文件数与 rank 数不可整除，不存在合法分片。
	ErrPartitionMismatch = errors.New("partition mismatch")
	// ErrEmptyShard: 装载后本地采样缓冲为空（下游极值计算无定义）。
	ErrEmptyShard = errors.New("empty shard")
	// ErrDegenerateRange: 全局 max == min，分箱宽度为零。
	ErrDegenerateRange = errors.New("degenerate range")
	// ErrPeerAborted: 其他 rank 在健康交换中上报失败，本 rank 同步中止。
	ErrPeerAborted = errors.New("peer aborted")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
