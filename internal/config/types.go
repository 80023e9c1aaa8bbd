package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
type Config struct {
	Density Density `json:"density"`
	Logging Logging `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Density: 直方图任务定义。
type Density struct {
	// Inputs: 输入文件列表（顺序即分片顺序）。
	Inputs []Input `json:"inputs"`
	// Extents: 历史遗留的值域提示；解析但不生效，值域总是全局归约得出。
	Extents *Extents `json:"extents,omitempty"`
	// NbBins: 直方图格数（> 0）。
	NbBins int `json:"nb_bins"`
	// Plots: 输出产物路径（目录 + 基名；实际写出 <基名>.dat）。
	Plots string `json:"plots"`
}

// Input: 单个输入文件（数据路径 + 声明采样数）。
type Input struct {
	Data  string `json:"data"`
	Count int64  `json:"count"`
}

// Extents: 值域提示（仅承载，见 Density.Extents）。
type Extents struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Loader string `json:"loader"`
	Comm   string `json:"comm"`
	Writer string `json:"writer"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Loader json.RawMessage `json:"loader"`
	Comm   json.RawMessage `json:"comm"`
	Writer json.RawMessage `json:"writer"`
}
