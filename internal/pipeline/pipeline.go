package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"denshist/internal/diag"
	"denshist/internal/hist"
	"denshist/internal/shard"
	"denshist/pkg/contract"
)

// - 单点编排：仅此层驱动集合通信；原子组件均为同步、无内部并发。
// - 锁步顺序：所有 rank 以相同顺序执行相同集合操作序列，序号天然对齐。
// - 同步中止：任何可能只在部分 rank 出现的本地失败（装载 I/O、落盘），
//   都要先经健康交换统一裁决再继续——否则幸存 rank 会在下一个集合点
//   永久等待缺席者。确定性失败（分片不可整除、退化值域）在所有 rank
//   上必然同判，直接返回即可。

// Components 聚合运行所需的原子组件。
type Components struct {
	Loader contract.Loader
	Comm   contract.Communicator
	Writer contract.Writer
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	// Inputs: 全量输入文件列表（各 rank 一致，按 rank 切片）。
	Inputs []contract.InputFile
	// Bins: 直方图格数。
	Bins int
	// Artifact: 输出产物标识（rank 0 写出）。
	Artifact contract.ArtifactID
}

// Run 执行完整流水线：分片 → 装载 → 健康交换 → 值域归约 →
// 分箱 → 计数归约 → rank 0 落盘 → 健康交换 → 屏障。
// 返回后（无论成败）所有 rank 对运行结果持有一致判断。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) error {
	if err := sanity(comp, set); err != nil {
		return fmt.Errorf("sanity: %w", err)
	}
	rank, world := comp.Comm.Rank(), comp.Comm.Size()

	// 分片：确定性失败，所有 rank 同判，无需交换。
	local, err := shard.Partition(set.Inputs, rank, world)
	if err != nil {
		return fmt.Errorf("partition: %w", err)
	}
	localCount := contract.TotalCount(local)

	if logger != nil {
		for _, f := range local {
			logger.DebugStart("shard", "assigned", f.Path, map[string]string{"count": fmt.Sprintf("%d", f.Count)})
		}
	}

	// 装载：本地 I/O 失败只在出错的 rank 可见，必须交换后统一裁决。
	if t := diag.GetTerminal(); t != nil {
		t.LoadStart()
	}
	ltimer := (*diag.Timer)(nil)
	if logger != nil {
		ltimer = logger.Start("loader", "load shard")
	}
	samples := make([]float64, localCount)
	lerr := comp.Loader.Load(ctx, local, samples)
	if lerr == nil && localCount == 0 {
		lerr = fmt.Errorf("%w: rank %d", contract.ErrEmptyShard, rank)
	}
	if lerr != nil && logger != nil {
		code := diag.Classify(lerr)
		logger.Error("loader", string(code), lerr.Error(), nil)
		diag.IncOp("loader", "error", "error")
		diag.IncError("loader", string(code))
	}
	if err := exchangeHealth(ctx, comp.Comm, lerr); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if ltimer != nil {
		ltimer.Finish("load shard", localCount)
		diag.IncOp("loader", "finish", "success")
	}
	if t := diag.GetTerminal(); t != nil {
		t.LoadDone()
	}

	// 采样总数归约：既做跨 rank 核对基准，也是首个全员集合点。
	gtot, err := comp.Comm.AllReduceInt64(ctx, []int64{localCount}, contract.ReduceSum)
	if err != nil {
		return fmt.Errorf("count reduce: %w", err)
	}
	globalTotal := gtot[0]

	if t := diag.GetTerminal(); t != nil {
		t.FreqStart()
	}
	htimer := (*diag.Timer)(nil)
	if logger != nil {
		htimer = logger.Start("hist", "compute frequencies")
	}

	// 值域归约：max 在前、min 在后，所有 rank 顺序一致。
	lmin, lmax := hist.Extrema(samples)
	gmax, err := comp.Comm.AllReduce(ctx, []float64{lmax}, contract.ReduceMax)
	if err != nil {
		return fmt.Errorf("max reduce: %w", err)
	}
	gmin, err := comp.Comm.AllReduce(ctx, []float64{lmin}, contract.ReduceMin)
	if err != nil {
		return fmt.Errorf("min reduce: %w", err)
	}
	grange := contract.Range{Min: gmin[0], Max: gmax[0]}

	// 分箱：退化值域在所有 rank 上基于同一全局值域同判，无需交换。
	counts, err := hist.Build(samples, grange, set.Bins)
	if err != nil {
		if logger != nil {
			code := diag.Classify(err)
			logger.Error("hist", string(code), err.Error(), nil)
			diag.IncError("hist", string(code))
		}
		return fmt.Errorf("build: %w", err)
	}

	// 计数归约：逐格求和，返回后各 rank 持有同一全局直方图。
	global, err := comp.Comm.AllReduceInt64(ctx, counts, contract.ReduceSum)
	if err != nil {
		return fmt.Errorf("count sum reduce: %w", err)
	}
	if got := contract.Histogram(global).Total(); got != globalTotal {
		return fmt.Errorf("%w: histogram total %d != sample total %d", contract.ErrInvariantViolation, got, globalTotal)
	}
	if htimer != nil {
		htimer.Finish("compute frequencies", int64(set.Bins))
		diag.IncOp("hist", "finish", "success")
	}

	// 落盘：仅 rank 0 写出；写失败同样只在 rank 0 可见，交换后统一裁决。
	var werr error
	if rank == 0 {
		wtimer := (*diag.Timer)(nil)
		if logger != nil {
			wtimer = logger.StartWith("writer", "write report", string(set.Artifact))
		}
		var buf bytes.Buffer
		if werr = hist.Render(&buf, global, grange); werr == nil {
			werr = comp.Writer.Write(ctx, set.Artifact, &buf)
		}
		if werr != nil {
			if logger != nil {
				code := diag.Classify(werr)
				logger.ErrorWith("writer", string(code), werr.Error(), nil, string(set.Artifact))
				diag.IncError("writer", string(code))
			}
		} else if wtimer != nil {
			wtimer.Finish("write report", int64(set.Bins))
			diag.IncOp("writer", "finish", "success")
		}
	}
	if err := exchangeHealth(ctx, comp.Comm, werr); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	if t := diag.GetTerminal(); t != nil {
		t.FreqDone(set.Bins, grange.Min, grange.Max)
	}

	// 终止屏障：全员确认完成后才允许退出。
	if err := comp.Comm.Barrier(ctx); err != nil {
		return fmt.Errorf("final barrier: %w", err)
	}
	return nil
}

// exchangeHealth 在集合点前统一裁决本地状态：
// 各 rank 上报 1（健康）或 0（失败），做 MIN 归约。
// 任一 rank 失败时全员得 0：失败方返回自己的错误，
// 幸存方返回 ErrPeerAborted——两边都不再进入后续集合点。
func exchangeHealth(ctx context.Context, comm contract.Communicator, localErr error) error {
	flag := int64(1)
	if localErr != nil {
		flag = 0
	}
	out, err := comm.AllReduceInt64(ctx, []int64{flag}, contract.ReduceMin)
	if err != nil {
		// 交换本身失败：本地错误优先汇报
		if localErr != nil {
			return localErr
		}
		return err
	}
	if out[0] == 0 {
		if localErr != nil {
			return localErr
		}
		return contract.ErrPeerAborted
	}
	return localErr
}

// sanity 对装配结果做最小必要校验（所有字段已由配置层校验过一次，
// 这里防御直接构造 Components 的调用方）。
func sanity(comp Components, set Settings) error {
	if comp.Loader == nil || comp.Comm == nil || comp.Writer == nil {
		return errors.New("nil component")
	}
	if set.Bins <= 0 {
		return fmt.Errorf("bins %d", set.Bins)
	}
	if set.Artifact == "" {
		return errors.New("empty artifact id")
	}
	return contract.ValidateInputs(set.Inputs)
}
