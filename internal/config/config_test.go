package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"denshist/pkg/contract"
)

const basicJSON = `{
  "density": {
    "inputs": [
      {"data": "data/d0.bin", "count": 3},
      {"data": "data/d1.bin", "count": 2}
    ],
    "nb_bins": 5,
    "plots": "plots/dens"
  },
  "logging": {"level": "debug"},
  "components": {"comm": "local"}
}`

// UT-CFG-01: 解析完整 config.json
func TestLoadJSON(t *testing.T) {
	cfg, err := LoadJSON("", []byte(basicJSON))
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Density.NbBins != 5 || len(cfg.Density.Inputs) != 2 {
		t.Fatalf("字段映射错误: %+v", cfg)
	}
	if cfg.Density.Inputs[1].Count != 2 || cfg.Components.Comm != "local" {
		t.Fatalf("字段映射错误: %+v", cfg)
	}
	if err := Validate(Merge(Defaults(), cfg), 1); err != nil {
		t.Fatalf("校验失败: %v", err)
	}
}

// UT-CFG-02: YAML 与 JSON 等价解析
func TestLoadYAML(t *testing.T) {
	raw := []byte(`
density:
  inputs:
    - data: data/d0.bin
      count: 3
    - data: data/d1.bin
      count: 2
  nb_bins: 5
  plots: plots/dens
logging:
  level: debug
`)
	cfg, err := LoadYAML("", raw)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	want, err := LoadJSON("", []byte(basicJSON))
	if err != nil {
		t.Fatalf("对照加载失败: %v", err)
	}
	want.Components.Comm = ""
	if cfg.Density.NbBins != want.Density.NbBins || cfg.Density.Plots != want.Density.Plots {
		t.Fatalf("YAML/JSON 不等价: %+v vs %+v", cfg, want)
	}
	if len(cfg.Density.Inputs) != 2 || cfg.Density.Inputs[0].Data != "data/d0.bin" {
		t.Fatalf("输入列表错误: %+v", cfg.Density.Inputs)
	}
}

// UT-CFG-03: 含非法字段
func TestLoadUnknownField(t *testing.T) {
	if _, err := LoadJSON("", []byte(`{"unknown":1}`)); err == nil {
		t.Fatalf("应当返回错误")
	}
	if _, err := LoadYAML("", []byte("unknown: 1\n")); err == nil {
		t.Fatalf("YAML 未知字段应当返回错误")
	}
}

// UT-CFG-04: LoadFile 按扩展名分发
func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	jp := filepath.Join(dir, "c.json")
	if err := os.WriteFile(jp, []byte(basicJSON), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	yp := filepath.Join(dir, "c.yaml")
	if err := os.WriteFile(yp, []byte("density:\n  nb_bins: 7\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if cfg, err := LoadFile(jp); err != nil || cfg.Density.NbBins != 5 {
		t.Fatalf("json 分发失败: %v %+v", err, cfg)
	}
	if cfg, err := LoadFile(yp); err != nil || cfg.Density.NbBins != 7 {
		t.Fatalf("yaml 分发失败: %v %+v", err, cfg)
	}
}

// UT-CFG-05: ENV 覆盖部分字段
func TestEnvOverlay(t *testing.T) {
	env := []string{
		"DENSHIST_NB_BINS=32",
		"DENSHIST_PLOTS=out/run",
		"DENSHIST_LOG_LEVEL=debug",
		"DENSHIST_COMPONENTS_COMM=local",
		`DENSHIST_OPTIONS_WRITER_JSON={"output_dir":"out"}`,
		"UNRELATED=1",
	}
	over, err := EnvOverlay(env)
	if err != nil {
		t.Fatalf("EnvOverlay 错误: %v", err)
	}
	if over.Density.NbBins != 32 || over.Density.Plots != "out/run" || over.Components.Comm != "local" {
		t.Fatalf("覆盖结果不正确: %+v", over)
	}
	if string(over.Options.Writer) != `{"output_dir":"out"}` {
		t.Fatalf("options 覆盖不正确: %s", over.Options.Writer)
	}
}

// UT-CFG-06: Merge 优先级（后者覆盖前者，空不覆盖）
func TestMerge(t *testing.T) {
	base, err := LoadJSON("", []byte(basicJSON))
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	var over Config
	over.Density.NbBins = 10
	out := Merge(Merge(Defaults(), base), over)
	if out.Density.NbBins != 10 {
		t.Fatalf("nb_bins 应被覆盖: %d", out.Density.NbBins)
	}
	if out.Density.Plots != "plots/dens" || out.Components.Comm != "local" {
		t.Fatalf("空字段不应覆盖: %+v", out)
	}
	if out.Components.Loader != "binary" || out.Components.Writer != "fs" {
		t.Fatalf("默认组件名缺失: %+v", out.Components)
	}
}

// UT-CFG-07: Validate 错误分支
func TestValidateErrors(t *testing.T) {
	if err := Validate(Config{}, 1); err == nil {
		t.Fatal("空配置应失败")
	}
	good, _ := LoadJSON("", []byte(basicJSON))
	good = Merge(Defaults(), good)

	cfg := good
	cfg.Density.NbBins = 0
	if err := Validate(cfg, 1); err == nil {
		t.Fatal("nb_bins<=0 应失败")
	}
	cfg = good
	cfg.Density.Plots = " "
	if err := Validate(cfg, 1); err == nil {
		t.Fatal("plots 为空应失败")
	}
	cfg = good
	cfg.Components.Loader = "nope"
	if err := Validate(cfg, 1); err == nil {
		t.Fatal("未注册组件应失败")
	}
	// 2 文件 3 rank：不可整除
	if err := Validate(good, 3); !errors.Is(err, contract.ErrPartitionMismatch) {
		t.Fatalf("应为分片违例: %v", err)
	}
	cfg = good
	cfg.Density.Inputs[0].Count = 0
	if err := Validate(cfg, 1); !errors.Is(err, contract.ErrInvariantViolation) {
		t.Fatalf("采样数非正应失败: %v", err)
	}
}

// UT-CFG-08: Assemble 产出可运行组件与设置
func TestAssemble(t *testing.T) {
	cfg, _ := LoadJSON("", []byte(basicJSON))
	cfg = Merge(Defaults(), cfg)
	comp, set, err := Assemble(cfg, 0, 1)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	defer comp.Comm.Close()
	if comp.Loader == nil || comp.Comm == nil || comp.Writer == nil {
		t.Fatalf("组件缺失: %+v", comp)
	}
	if comp.Comm.Size() != 1 {
		t.Fatalf("comm size = %d", comp.Comm.Size())
	}
	if set.Bins != 5 || set.Artifact != "dens.dat" || len(set.Inputs) != 2 {
		t.Fatalf("设置错误: %+v", set)
	}
	if set.Inputs[0].Path != "data/d0.bin" || set.Inputs[0].Count != 3 {
		t.Fatalf("输入映射错误: %+v", set.Inputs)
	}
}

// 补充覆盖: ArtifactFor 与 atoi/cloneRaw
func TestHelpers(t *testing.T) {
	if ArtifactFor(" plots/dens ") != "dens.dat" {
		t.Fatalf("ArtifactFor: %s", ArtifactFor(" plots/dens "))
	}
	if ArtifactFor("dens") != "dens.dat" {
		t.Fatalf("ArtifactFor 裸基名: %s", ArtifactFor("dens"))
	}
	if v, err := atoi("10"); err != nil || v != 10 {
		t.Fatalf("atoi 失败: %v %d", err, v)
	}
	src := []byte("abc")
	dst := cloneRaw(src)
	src[0] = 'x'
	if string(dst) != "abc" {
		t.Fatalf("cloneRaw 未复制")
	}
}

// 补充覆盖: 模板可通过校验
func TestDefaultTemplateValidates(t *testing.T) {
	cfg := DefaultTemplateConfig()
	if err := Validate(cfg, 1); err != nil {
		t.Fatalf("模板应可通过单 rank 校验: %v", err)
	}
	if !strings.Contains(string(cfg.Options.Writer), "output_dir") {
		t.Fatalf("模板 writer 选项缺键: %s", cfg.Options.Writer)
	}
}
