package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：inputs/nb_bins/plots 不设默认（必须由 JSON/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		Components: Components{
			Loader: "binary",
			Comm:   "rpc",
			Writer: "fs",
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadYAML 从文件路径或原始 YAML 解析 Config。
// YAML 先解码为通用树再经 JSON 严格解码，未知字段同样在解析期失败。
func LoadYAML(path string, raw []byte) (Config, error) {
	var cfg Config
	if len(raw) == 0 {
		if path == "" {
			return cfg, errors.New("no config source provided")
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		raw = b
	}
	var tree any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return cfg, fmt.Errorf("yaml: %w", err)
	}
	if tree == nil {
		return cfg, errors.New("empty yaml document")
	}
	jb, err := json.Marshal(tree)
	if err != nil {
		return cfg, fmt.Errorf("yaml: %w", err)
	}
	return LoadJSON("", jb)
}

// LoadFile 按扩展名分发：.yaml/.yml 走 YAML，其余按 JSON 解析。
func LoadFile(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(path, nil)
	default:
		return LoadJSON(path, nil)
	}
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Density.Inputs) > 0 {
		out.Density.Inputs = cloneInputs(over.Density.Inputs)
	}
	if over.Density.Extents != nil {
		e := *over.Density.Extents
		out.Density.Extents = &e
	}
	if over.Density.NbBins != 0 {
		out.Density.NbBins = over.Density.NbBins
	}
	if strings.TrimSpace(over.Density.Plots) != "" {
		out.Density.Plots = strings.TrimSpace(over.Density.Plots)
	}

	// Logging（仅 level）
	if strings.TrimSpace(over.Logging.Level) != "" {
		out.Logging.Level = strings.TrimSpace(over.Logging.Level)
	}

	// 组件名（空不覆盖）
	if over.Components.Loader != "" {
		out.Components.Loader = over.Components.Loader
	}
	if over.Components.Comm != "" {
		out.Components.Comm = over.Components.Comm
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}

	// Options（完整替换对应键）
	if len(over.Options.Loader) > 0 {
		out.Options.Loader = cloneRaw(over.Options.Loader)
	}
	if len(over.Options.Comm) > 0 {
		out.Options.Comm = cloneRaw(over.Options.Comm)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 DENSHIST_；集合之外的键忽略。
// 支持：NB_BINS, PLOTS, LOG_LEVEL, COMPONENTS_{LOADER,COMM,WRITER},
// OPTIONS_{LOADER,COMM,WRITER}_JSON
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, "DENSHIST_") {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len("DENSHIST_") {
			continue
		}
		key := kv[:eq]
		val := kv[eq+1:]
		switch strings.TrimPrefix(key, "DENSHIST_") {
		case "NB_BINS":
			if v, err := atoi(val); err == nil {
				over.Density.NbBins = v
			}
		case "PLOTS":
			over.Density.Plots = strings.TrimSpace(val)
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "COMPONENTS_LOADER":
			over.Components.Loader = strings.TrimSpace(val)
		case "COMPONENTS_COMM":
			over.Components.Comm = strings.TrimSpace(val)
		case "COMPONENTS_WRITER":
			over.Components.Writer = strings.TrimSpace(val)
		case "OPTIONS_LOADER_JSON":
			// 原样 JSON；空值视为未设置，避免清空现有配置
			if strings.TrimSpace(val) != "" {
				over.Options.Loader = json.RawMessage(val)
			}
		case "OPTIONS_COMM_JSON":
			if strings.TrimSpace(val) != "" {
				over.Options.Comm = json.RawMessage(val)
			}
		case "OPTIONS_WRITER_JSON":
			if strings.TrimSpace(val) != "" {
				over.Options.Writer = json.RawMessage(val)
			}
		}
	}
	return over, nil
}

func cloneInputs(in []Input) []Input {
	if len(in) == 0 {
		return nil
	}
	out := make([]Input, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func atoi(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
