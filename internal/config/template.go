package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可填即用”的默认配置模板：
// - 两个占位输入文件（路径与采样数需按实际数据替换）；
// - 单机调试友好：comm 选 local（world=1 直接可跑）；
// - 组件名采用仓库内置实现；
// - 选项给出安全中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Density: Density{
			Inputs: []Input{
				{Data: "data/density.0000.bin", Count: 1000},
				{Data: "data/density.0001.bin", Count: 1000},
			},
			NbBins: 64,
			Plots:  "plots/dens",
		},
		Logging:    Logging{Level: "info"},
		Components: d.Components,
	}
	cfg.Components.Comm = "local"
	// Options：包含所有键（值可为空/默认），确保键存在。
	cfg.Options.Loader = json.RawMessage(`{
  "buf_size": 262144
}`)
	cfg.Options.Comm = json.RawMessage(`{}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "plots",
  "atomic": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	return cfg
}
