package contract

import "context"

// Loader: 将分片内每个输入文件按序解码进本 rank 的采样缓冲。
// 约束：
//  1. 严格按 files 顺序、紧凑填充（文件 i 的末尾紧接文件 i+1 的开头）；
//  2. 每个文件必须恰好产出 Count 个采样，短读即失败；
//  3. 任一文件失败即放弃整次装载，不做部分恢复或重试；
//  4. 不在内部起并发；dst 由调用方一次性分配并独占。
type Loader interface {
	Load(ctx context.Context, files []InputFile, dst []float64) error
}
