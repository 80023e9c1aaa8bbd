package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	cfgpkg "denshist/internal/config"
	"denshist/internal/diag"
	"denshist/internal/pipeline"
)

var pipelineRun = pipeline.Run

// 简化的 CLI：默认子命令 run。
// 每个 rank 启动一个进程，配置在所有 rank 上必须一致。
// 全局旗标（最小集）：--config, --rank, --world-size, --bins, --output, --comm
func main() {
	os.Exit(run())
}

func run() int {
	start := time.Now()
	corrID := genCorrID()
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")
	// flags
	var (
		flagConfig  string
		flagRank    int
		flagWorld   int
		flagBins    int
		flagOutput  string
		flagComm    string
		flagInitDir string
		flagStatus  bool
	)
	flag.StringVar(&flagConfig, "config", "", "配置文件路径（JSON 或 YAML）；缺省读取 ./config.json（若存在）")
	// rank/world 允许显式设置为 0/…；默认 -1 表示“未提供，走 ENV 或单机”。
	flag.IntVar(&flagRank, "rank", -1, "本进程 rank（覆盖 ENV；单机运行可省略）")
	flag.IntVar(&flagWorld, "world-size", 0, "通信组规模（覆盖 ENV；单机运行可省略）")
	flag.IntVar(&flagBins, "bins", 0, "直方图格数（覆盖配置）")
	flag.StringVar(&flagOutput, "output", "", "输出产物路径（覆盖配置 density.plots）")
	flag.StringVar(&flagComm, "comm", "", "通信实现名（覆盖配置；rpc|local）")
	flag.StringVar(&flagInitDir, "init-config", "", "在指定目录生成默认配置 config.json 和 .env 模板（若已存在则跳过，不覆盖）；不带值时默认当前目录")
	flag.BoolVar(&flagStatus, "status", true, "终端进度提示（stdout，仅 rank 0）")
	normalizeInitArg()
	flag.Parse()

	// rank/world 解析：CLI > ENV > 单机默认
	rank, world := resolveRankWorld(flagRank, flagWorld)

	// 先占位默认 level，稍后在解析/合并配置后重建 logger 以使用最终 level
	logLevel := "info"
	logger := diag.NewLogger(corrID, rank, logLevel)

	// --init-config: 生成模板并退出
	if initDir := strings.TrimSpace(flagInitDir); initDir != "" {
		if err := os.MkdirAll(initDir, 0o755); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("main", string(diag.Classify(err)), "first error", &start)
			return 3
		}
		if err := writeConfig(filepath.Join(initDir, "config.json"), cfgpkg.DefaultTemplateConfig()); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("main", string(diag.Classify(err)), "first error", &start)
			return 3
		}
		// 生成 .env 模板（不覆盖已存在文件）。
		if err := writeDotEnv(filepath.Join(initDir, ".env")); err != nil {
			fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
		}
		return 0
	}

	// JSON 配置（文件或 ENV: DENSHIST_CONFIG_JSON）
	var cfgJSON []byte
	if s := os.Getenv("DENSHIST_CONFIG_JSON"); s != "" {
		cfgJSON = []byte(s)
	}
	if flagConfig == "" {
		if s := os.Getenv("DENSHIST_CONFIG_FILE"); s != "" {
			flagConfig = s
		}
	}
	// 默认读取工作目录下 config.json（若存在）
	if flagConfig == "" {
		if _, err := os.Stat("config.json"); err == nil {
			flagConfig = "config.json"
		}
	}

	cfg := cfgpkg.Defaults()
	switch {
	case len(cfgJSON) > 0:
		base, err := cfgpkg.LoadJSON("", cfgJSON)
		if err != nil {
			fprintf(os.Stderr, "配置解析失败: %v\n", err)
			logger.Error("main", string(diag.Classify(err)), "first error", &start)
			return 3
		}
		cfg = cfgpkg.Merge(cfg, base)
	case flagConfig != "":
		base, err := cfgpkg.LoadFile(flagConfig)
		if err != nil {
			fprintf(os.Stderr, "配置解析失败: %v\n", err)
			logger.Error("main", string(diag.Classify(err)), "first error", &start)
			return 3
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	// ENV 覆盖（最小集合）
	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		fprintf(os.Stderr, "环境变量解析失败: %v\n", err)
		logger.Error("main", string(diag.Classify(err)), "first error", &start)
		return 3
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	// CLI 覆盖
	var overCLI cfgpkg.Config
	if flagBins > 0 {
		overCLI.Density.NbBins = flagBins
	}
	if flagOutput != "" {
		overCLI.Density.Plots = flagOutput
	}
	if flagComm != "" {
		overCLI.Components.Comm = flagComm
	}
	cfg = cfgpkg.Merge(cfg, overCLI)

	// 基本校验
	if err := cfgpkg.Validate(cfg, world); err != nil {
		fprintf(os.Stderr, "配置校验失败: %v\n", err)
		// 提示打印有效配置，便于诊断
		_ = dumpConfig(cfg)
		logger.Error("main", string(diag.Classify(err)), "first error", &start)
		return 3
	}

	// 使用最终配置中的日志级别重建 logger
	if strings.TrimSpace(cfg.Logging.Level) != "" {
		logLevel = strings.TrimSpace(cfg.Logging.Level)
	}
	logger = diag.NewLogger(corrID, rank, logLevel)

	// 值域提示仅承载：记录但不参与计算，值域总是全局归约得出
	if cfg.Density.Extents != nil {
		logger.DebugStart("config", "extents hint ignored", "", map[string]string{
			"min": fmt.Sprintf("%g", cfg.Density.Extents.Min),
			"max": fmt.Sprintf("%g", cfg.Density.Extents.Max),
		})
	}

	// 预检：rank 0 在建立通信组前检查输出目录的可写性
	if rank == 0 {
		if err := preflightCheckOutputDir(cfg); err != nil {
			fprintf(os.Stderr, "输出目录不可写或无法创建: %v\n", err)
			logger.Error("main", string(diag.Classify(err)), "first error", &start)
			return 3
		}
	}

	comp, set, err := cfgpkg.Assemble(cfg, rank, world)
	if err != nil {
		fprintf(os.Stderr, "装配失败: %v\n", err)
		logger.Error("main", string(diag.Classify(err)), "first error", &start)
		return 3
	}
	defer comp.Comm.Close()

	// 终端进度提示（非日志）：仅 rank 0，按 CLI 启用，默认开启
	term := diag.NewTerminal(os.Stdout, flagStatus && rank == 0)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)

	// debug: 输出运行时配置信息
	if logger != nil {
		logger.DebugStart("config", "effective", "", map[string]string{
			"inputs_count": fmt.Sprintf("%d", len(cfg.Density.Inputs)),
			"nb_bins":      fmt.Sprintf("%d", cfg.Density.NbBins),
			"plots":        cfg.Density.Plots,
			"rank":         fmt.Sprintf("%d", rank),
			"world":        fmt.Sprintf("%d", world),
			"loader":       cfg.Components.Loader,
			"comm":         cfg.Components.Comm,
			"writer":       cfg.Components.Writer,
		})
	}

	// 运行流水线
	t := logger.Start("pipeline", "run")
	if err := pipelineRun(context.Background(), comp, set, logger); err != nil {
		code := string(diag.Classify(err))
		logger.Error("pipeline", code, "first error", &start)
		diag.IncOp("pipeline", "error", "error")
		if code != "" && code != string(diag.CodeUnknown) {
			diag.IncError("pipeline", code)
		}
		if !errors.Is(err, context.Canceled) {
			fprintf(os.Stderr, "运行失败: %v\n", err)
		}
		return 1
	}
	if t != nil {
		t.Finish("run", int64(set.Bins))
	}
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	return 0
}

func fprintf(w *os.File, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

// resolveRankWorld 按 CLI > ENV > 单机默认解析身份。
func resolveRankWorld(flagRank, flagWorld int) (rank, world int) {
	rank, world = flagRank, flagWorld
	if rank < 0 {
		if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv("DENSHIST_RANK"))); err == nil {
			rank = v
		}
	}
	if world <= 0 {
		if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv("DENSHIST_WORLD_SIZE"))); err == nil {
			world = v
		}
	}
	if world <= 0 {
		world = 1
	}
	if rank < 0 {
		rank = 0
	}
	return rank, world
}

func dumpConfig(c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = os.Stderr.Write(append([]byte("有效配置:\n"), b...))
	_, _ = os.Stderr.Write([]byte("\n"))
	return nil
}

func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	// 不覆盖已存在文件
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		return err
	}
	_, _ = f.Write([]byte("\n"))
	return nil
}

func genCorrID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(b[:])
}

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 规则：
// - 忽略不存在的文件；无法读取时返回错误（但调用处可忽略）。
// - 跳过空行与以 # 开头的行；支持可选的前缀 "export ".
// - 仅按首个 '=' 分割；key 为左侧去空白；value 去首尾空白；
// - 若 value 被成对的单/双引号包裹，则去除外层引号；双引号内常见转义 \n/\t/\\/\" 作最小处理。
// - 不覆盖已存在的环境变量（保持系统/调用者优先）。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" {
			continue
		}
		// 去除成对引号
		if len(val) >= 2 {
			if (val[0] == '\'' && val[len(val)-1] == '\'') || (val[0] == '"' && val[len(val)-1] == '"') {
				quoted := val[0]
				val = val[1 : len(val)-1]
				if quoted == '"' {
					// 最小转义处理
					val = strings.ReplaceAll(val, "\\n", "\n")
					val = strings.ReplaceAll(val, "\\t", "\t")
					val = strings.ReplaceAll(val, "\\r", "\r")
					val = strings.ReplaceAll(val, "\\\"", "\"")
					val = strings.ReplaceAll(val, "\\\\", "\\")
				}
			}
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

// normalizeInitArg: 允许 --init-config 在未提供路径值时采用默认值当前目录 "."。
// 兼容以下形式：
//
//	--init-config                => 等价于 --init-config .
//	--init-config=out
//	--init-config out
//
// 仅在检测到“裸开关或后继为下一个开关”的情况下插入默认值。
func normalizeInitArg() {
	args := os.Args
	if len(args) <= 1 {
		return
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0])
	for i := 1; i < len(args); i++ {
		a := args[i]
		out = append(out, a)
		if a == "--init-config" || a == "-init-config" {
			// 若已到末尾，补一个默认值
			if i == len(args)-1 {
				out = append(out, ".")
				continue
			}
			// 若下一个是开关（以 - 开头），则补默认值
			if strings.HasPrefix(args[i+1], "-") {
				out = append(out, ".")
				continue
			}
		}
	}
	os.Args = out
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
// 仅创建文件；不覆盖，不合并。
func writeDotEnv(path string) error {
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		// 已存在直接跳过
		return nil
	} else if err != nil && !os.IsNotExist(err) {
		return err
	}
	var b strings.Builder
	b.WriteString("# denshist .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > JSON/YAML\n")
	b.WriteString("# 空值表示未设置；按需填写后移除本行注释。\n\n")

	b.WriteString("# 配置来源（可二选一）\n")
	b.WriteString("DENSHIST_CONFIG_FILE=\n")
	b.WriteString("DENSHIST_CONFIG_JSON=\n\n")

	b.WriteString("# 进程身份（由启动器按 rank 注入）\n")
	b.WriteString("DENSHIST_RANK=\n")
	b.WriteString("DENSHIST_WORLD_SIZE=\n\n")

	b.WriteString("# 运行参数覆盖\n")
	b.WriteString("DENSHIST_NB_BINS=\n")
	b.WriteString("DENSHIST_PLOTS=\n")
	b.WriteString("DENSHIST_LOG_LEVEL=\n\n")

	b.WriteString("# 组件选择\n")
	b.WriteString("DENSHIST_COMPONENTS_LOADER=\n")
	b.WriteString("DENSHIST_COMPONENTS_COMM=\n")
	b.WriteString("DENSHIST_COMPONENTS_WRITER=\n\n")

	b.WriteString("# 组件选项（原样 JSON）\n")
	b.WriteString("DENSHIST_OPTIONS_LOADER_JSON=\n")
	b.WriteString("DENSHIST_OPTIONS_COMM_JSON=\n")
	b.WriteString("DENSHIST_OPTIONS_WRITER_JSON=\n")
	b.WriteString("\n")

	// 写入（不覆盖）
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(b.String()); err != nil {
		return err
	}
	return nil
}

// preflightCheckOutputDir: 当 Writer 使用文件系统实现(fs)时，启动前检查输出目录可写性。
// 规则：
// - 若目录已存在：尝试创建并删除临时文件；失败则判为不可写。
// - 若目录不存在：检查父目录是否可写（尝试在父目录创建并删除临时目录）。
// 仅针对 fs writer 生效；其他 writer 跳过。
func preflightCheckOutputDir(cfg cfgpkg.Config) error {
	// 计算生效的 writer 名称
	def := cfgpkg.Defaults()
	writerName := cfg.Components.Writer
	if strings.TrimSpace(writerName) == "" {
		writerName = def.Components.Writer
	}
	if strings.TrimSpace(writerName) != "fs" {
		return nil
	}
	// 解析 fs writer 的 output_dir；未配置时与装配层同样取 plots 父目录
	var wopts struct {
		OutputDir string `json:"output_dir"`
	}
	if len(cfg.Options.Writer) > 0 {
		_ = json.Unmarshal(cfg.Options.Writer, &wopts)
	}
	dir := strings.TrimSpace(wopts.OutputDir)
	if dir == "" {
		dir = filepath.Dir(strings.TrimSpace(cfg.Density.Plots))
	}
	if dir == "" {
		return nil
	}
	if st, err := os.Stat(dir); err == nil && st.IsDir() {
		// 目录存在：尝试写入临时文件
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	} else if err == nil && !st.IsDir() {
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	} else if err != nil && !os.IsNotExist(err) {
		return err
	}
	// 目录不存在：检查父目录可写性
	parent := filepath.Dir(dir)
	if parent == "" || parent == dir {
		return fmt.Errorf("无法确定父目录: %s", dir)
	}
	pst, err := os.Stat(parent)
	if err != nil {
		return err
	}
	if !pst.IsDir() {
		return fmt.Errorf("父路径不是目录: %s", parent)
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	_ = os.RemoveAll(tmpd)
	return nil
}
