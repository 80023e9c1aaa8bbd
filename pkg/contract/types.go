package contract

// Rank: 工作进程在通信组内的整数身份（[0, W)）。
type Rank int

// InputFile: 输入文件描述符（路径 + 声明的采样数）。
// 从配置读出后不可变；Loader 信任 Count（只要求恰好读满，不做额外长度探测）。
type InputFile struct {
	Path  string
	Count int64
}

// Range: 全局值域，经归约后在所有 rank 上完全一致。
// 不变量：Max >= Min；Max == Min 为退化值域，分箱宽度为零，必须按失败处理。
type Range struct {
	Min float64
	Max float64
}

// Width 返回 bins 等宽分箱下的单格宽度。退化值域或非法 bins 返回 0。
func (r Range) Width(bins int) float64 {
	if bins <= 0 {
		return 0
	}
	return (r.Max - r.Min) / float64(bins)
}

// Histogram: N 个非负计数，每格对应 [Min, Max] 上的一个等宽子区间。
// 本地直方图为 rank 私有中间态；全局直方图仅在计数归约返回后有效，
// 且归约返回后每个 rank 持有同一份向量。
type Histogram []int64

// Total 返回所有格计数之和。
func (h Histogram) Total() int64 {
	var n int64
	for _, c := range h {
		n += c
	}
	return n
}
