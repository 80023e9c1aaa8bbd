package stress

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	cfgpkg "denshist/internal/config"
	"denshist/internal/pipeline"
)

// genFiles 生成 n 个数据文件，每个 perFile 个采样（均匀分布 [0, 100)）。
func genFiles(t *testing.T, dir string, n, perFile int, seed int64) []cfgpkg.Input {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	inputs := make([]cfgpkg.Input, n)
	buf := make([]byte, 4*perFile)
	for i := 0; i < n; i++ {
		for j := 0; j < perFile; j++ {
			binary.LittleEndian.PutUint32(buf[j*4:], math.Float32bits(rng.Float32()*100))
		}
		p := filepath.Join(dir, fmt.Sprintf("density.%04d.bin", i))
		if err := os.WriteFile(p, buf, 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
		inputs[i] = cfgpkg.Input{Data: p, Count: int64(perFile)}
	}
	return inputs
}

func baseConfig(inputs []cfgpkg.Input, outDir string) cfgpkg.Config {
	cfg := cfgpkg.Defaults()
	cfg.Density.Inputs = inputs
	cfg.Density.NbBins = 256
	cfg.Density.Plots = filepath.Join(outDir, "dens")
	cfg.Logging.Level = "error"
	cfg.Options.Writer = json.RawMessage(fmt.Sprintf(`{"output_dir":%q,"atomic":true}`, outDir))
	return cfg
}

// runGroup 并发运行 world 个 rank（rpc comm，进程内分组）。
func runGroup(t *testing.T, cfg cfgpkg.Config, world int, sock string) error {
	t.Helper()
	cfg.Components.Comm = "rpc"
	cfg.Options.Comm = json.RawMessage(fmt.Sprintf(`{"socket":%q}`, sock))
	if world == 1 {
		cfg.Components.Comm = "local"
		cfg.Options.Comm = nil
	}
	errs := make([]error, world)
	var wg sync.WaitGroup
	for r := 0; r < world; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			comp, set, err := cfgpkg.Assemble(cfg, r, world)
			if err != nil {
				errs[r] = err
				return
			}
			defer comp.Comm.Close()
			errs[r] = pipeline.Run(context.Background(), comp, set, nil)
		}(r)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// TestStress 在不同通信组规模下运行流水线并记录延迟统计。
func TestStress(t *testing.T) {
	if testing.Short() {
		t.Skip("stress 在 -short 下跳过")
	}
	const (
		filesPerRank = 4
		perFile      = 50000
		runs         = 3
	)
	worlds := []int{1, 2, 4}
	for _, world := range worlds {
		t.Run(fmt.Sprintf("world_%d", world), func(t *testing.T) {
			dataDir := t.TempDir()
			inputs := genFiles(t, dataDir, world*filesPerRank, perFile, int64(world))
			latencies := make([]time.Duration, 0, runs)
			for i := 0; i < runs; i++ {
				outDir := t.TempDir()
				sockDir, err := os.MkdirTemp("/tmp", "dh")
				if err != nil {
					t.Fatalf("mkdtemp: %v", err)
				}
				cfg := baseConfig(inputs, outDir)
				t0 := time.Now()
				err = runGroup(t, cfg, world, filepath.Join(sockDir, "c.sock"))
				el := time.Since(t0)
				_ = os.RemoveAll(sockDir)
				if err != nil {
					t.Fatalf("run %d: %v", i, err)
				}
				latencies = append(latencies, el)

				// 计数守恒：所有格计数之和等于采样总数
				got, err := os.ReadFile(filepath.Join(outDir, "dens.dat"))
				if err != nil {
					t.Fatalf("read report: %v", err)
				}
				var total int64
				for _, ln := range strings.Split(strings.TrimSpace(string(got)), "\n") {
					if strings.HasPrefix(ln, "#") {
						continue
					}
					var edge float64
					var cnt int64
					if _, err := fmt.Sscanf(ln, "%f\t%d", &edge, &cnt); err != nil {
						t.Fatalf("parse %q: %v", ln, err)
					}
					total += cnt
				}
				if want := int64(world * filesPerRank * perFile); total != want {
					t.Fatalf("计数不守恒: %d != %d", total, want)
				}
			}
			sort.Slice(latencies, func(a, b int) bool { return latencies[a] < latencies[b] })
			t.Logf("world=%d runs=%d min=%v median=%v max=%v",
				world, runs, latencies[0], latencies[len(latencies)/2], latencies[len(latencies)-1])
		})
	}
}
