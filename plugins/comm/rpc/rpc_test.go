package rpc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"denshist/pkg/contract"
)

// testSocket 返回短路径 socket（unix socket 路径有长度上限）。
func testSocket(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "dh")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "c.sock")
}

// group 并发建立 world 个成员（rank 0 承载协调者）。
func group(t *testing.T, sock string, world int) []*Comm {
	t.Helper()
	cs := make([]*Comm, world)
	errs := make([]error, world)
	var wg sync.WaitGroup
	for r := 0; r < world; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			cs[r], errs[r] = New(&Options{Socket: sock}, r, world)
		}(r)
	}
	wg.Wait()
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d new: %v", r, err)
		}
	}
	t.Cleanup(func() {
		for _, c := range cs {
			_ = c.Close()
		}
	})
	return cs
}

// 三个 rank 的 min/max 归约：全员获得同一极值对。
func TestAllReduceRange(t *testing.T) {
	cs := group(t, testSocket(t), 3)
	locals := []struct{ min, max float64 }{{0, 2}, {-3, 1}, {0.5, 9}}

	var wg sync.WaitGroup
	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			ctx := context.Background()
			gmax, err := cs[r].AllReduce(ctx, []float64{locals[r].max}, contract.ReduceMax)
			if err != nil {
				t.Errorf("rank %d max: %v", r, err)
				return
			}
			gmin, err := cs[r].AllReduce(ctx, []float64{locals[r].min}, contract.ReduceMin)
			if err != nil {
				t.Errorf("rank %d min: %v", r, err)
				return
			}
			if gmax[0] != 9 || gmin[0] != -3 {
				t.Errorf("rank %d: (%g, %g)", r, gmin[0], gmax[0])
			}
		}(r)
	}
	wg.Wait()
}

// 计数向量逐元素求和。
func TestAllReduceInt64Sum(t *testing.T) {
	cs := group(t, testSocket(t), 2)
	ins := [][]int64{{1, 0, 2, 0}, {0, 3, 1, 0}}
	want := []int64{1, 3, 3, 0}

	var wg sync.WaitGroup
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			out, err := cs[r].AllReduceInt64(context.Background(), ins[r], contract.ReduceSum)
			if err != nil {
				t.Errorf("rank %d: %v", r, err)
				return
			}
			for i := range want {
				if out[i] != want[i] {
					t.Errorf("rank %d: %v != %v", r, out, want)
					return
				}
			}
		}(r)
	}
	wg.Wait()
}

// 屏障 + 多轮顺序集合操作（序号推进不串轮）。
func TestBarrierAndSequencing(t *testing.T) {
	cs := group(t, testSocket(t), 2)
	var wg sync.WaitGroup
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			ctx := context.Background()
			for round := 0; round < 5; round++ {
				out, err := cs[r].AllReduceInt64(ctx, []int64{int64(r + 1)}, contract.ReduceSum)
				if err != nil {
					t.Errorf("rank %d round %d: %v", r, round, err)
					return
				}
				if out[0] != 3 {
					t.Errorf("rank %d round %d: sum %d", r, round, out[0])
					return
				}
				if err := cs[r].Barrier(ctx); err != nil {
					t.Errorf("rank %d barrier: %v", r, err)
					return
				}
			}
		}(r)
	}
	wg.Wait()
}

// ctx 取消使本地调用尽快返回（对端缺席造成的阻塞可退出）。
func TestCallCtxCancel(t *testing.T) {
	cs := group(t, testSocket(t), 2)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		// rank 1 缺席，rank 0 将阻塞在集合点
		_, err := cs[0].AllReduce(ctx, []float64{1}, contract.ReduceSum)
		done <- err
	}()
	cancel()
	if err := <-done; err == nil {
		t.Fatalf("应返回取消错误")
	}
	// 补齐这轮，避免 Close 时连接上残留未完成调用
	go func() { _, _ = cs[1].AllReduce(context.Background(), []float64{1}, contract.ReduceSum) }()
}

// TCP 端点同样可用。
func TestTCPEndpoint(t *testing.T) {
	// 端口 0 不可行（客户端需已知端口），选用高位随机度较差但冲突可容忍的端口
	addr := fmt.Sprintf("127.0.0.1:%d", 30000+os.Getpid()%20000)
	cs := make([]*Comm, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			cs[r], errs[r] = New(&Options{Addr: addr}, r, 2)
		}(r)
	}
	wg.Wait()
	for r, err := range errs {
		if err != nil {
			t.Skipf("rank %d 无法绑定 %s: %v", r, addr, err)
		}
	}
	defer func() {
		for _, c := range cs {
			_ = c.Close()
		}
	}()
	var wg2 sync.WaitGroup
	for r := 0; r < 2; r++ {
		wg2.Add(1)
		go func(r int) {
			defer wg2.Done()
			out, err := cs[r].AllReduce(context.Background(), []float64{float64(r)}, contract.ReduceMax)
			if err != nil || out[0] != 1 {
				t.Errorf("rank %d: %v %v", r, out, err)
			}
		}(r)
	}
	wg2.Wait()
}
