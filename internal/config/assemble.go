package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"denshist/internal/pipeline"
	"denshist/pkg/contract"
	"denshist/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
// world 为通信组规模：分片可行性（整除）属于配置期硬前置条件，
// 宁可拒绝启动也不静默丢文件。
func Validate(cfg Config, world int) error {
	files := toInputFiles(cfg.Density.Inputs)
	if err := contract.ValidateInputs(files); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Density.NbBins <= 0 {
		return errors.New("config: nb_bins must be > 0")
	}
	if strings.TrimSpace(cfg.Density.Plots) == "" {
		return errors.New("config: plots not set")
	}
	if world < 1 {
		return fmt.Errorf("config: world size %d", world)
	}
	if world > 1 {
		if t := len(files); t < world || t%world != 0 {
			return fmt.Errorf("config: %w: %d files across %d ranks", contract.ErrPartitionMismatch, t, world)
		}
	}
	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	d := Defaults()
	if name := effName(cfg.Components.Loader, d.Components.Loader); registry.Loader[name] == nil {
		return fmt.Errorf("config: loader %q not registered", name)
	}
	if name := effName(cfg.Components.Comm, d.Components.Comm); registry.Comm[name] == nil {
		return fmt.Errorf("config: comm %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Components.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	return nil
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config, rank, world int) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg, world); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}

	// 有效名称
	d := Defaults()
	ln := effName(cfg.Components.Loader, d.Components.Loader)
	cn := effName(cfg.Components.Comm, d.Components.Comm)
	wn := effName(cfg.Components.Writer, d.Components.Writer)

	// 构造实例
	loader, err := registry.Loader[ln](cfg.Options.Loader)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	comm, err := registry.Comm[cn](cfg.Options.Comm, rank, world)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	wopts := cfg.Options.Writer
	if len(wopts) == 0 {
		// 未配置 writer 选项时，输出目录取 plots 的父目录
		dir := filepath.Dir(strings.TrimSpace(cfg.Density.Plots))
		b, merr := json.Marshal(map[string]string{"output_dir": dir})
		if merr != nil {
			_ = comm.Close()
			return pipeline.Components{}, pipeline.Settings{}, merr
		}
		wopts = b
	}
	writer, err := registry.Writer[wn](wopts)
	if err != nil {
		_ = comm.Close()
		return pipeline.Components{}, pipeline.Settings{}, err
	}

	comp := pipeline.Components{
		Loader: loader,
		Comm:   comm,
		Writer: writer,
	}
	set := pipeline.Settings{
		Inputs:   toInputFiles(cfg.Density.Inputs),
		Bins:     cfg.Density.NbBins,
		Artifact: ArtifactFor(cfg.Density.Plots),
	}
	return comp, set, nil
}

// ArtifactFor 由 plots 路径派生产物标识：<基名>.dat。
func ArtifactFor(plots string) contract.ArtifactID {
	return contract.ArtifactID(filepath.Base(strings.TrimSpace(plots)) + ".dat")
}

func toInputFiles(in []Input) []contract.InputFile {
	out := make([]contract.InputFile, len(in))
	for i, f := range in {
		out[i] = contract.InputFile{Path: f.Data, Count: f.Count}
	}
	return out
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
