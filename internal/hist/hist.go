package hist

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"denshist/pkg/contract"
)

// Extrema 返回本地采样的最小/最大值。
// 前置条件：len(samples) > 0（由流水线在健康交换后保证）。
func Extrema(samples []float64) (min, max float64) {
	return floats.Min(samples), floats.Max(samples)
}

// Build 将本地采样按全局值域做等宽分箱，返回长度 bins 的本地计数向量。
// 精确定宽计数：对每个采样整扫一遍，index = floor((v-Min)/(Max-Min)*bins)；
// 恰好落在上边界的采样并入最后一格（闭区间），不产生越界格。
// 不排序、不抽样、不近似。
func Build(samples []float64, r contract.Range, bins int) (contract.Histogram, error) {
	if bins <= 0 {
		return nil, fmt.Errorf("%w: bins %d", contract.ErrInvariantViolation, bins)
	}
	span := r.Max - r.Min
	if span <= 0 {
		// 宽度为零的分箱无定义，必须在此处报错而不是产出 NaN 下标。
		return nil, fmt.Errorf("%w: [%g, %g]", contract.ErrDegenerateRange, r.Min, r.Max)
	}
	counts := make(contract.Histogram, bins)
	for _, v := range samples {
		idx := int((v - r.Min) / span * float64(bins))
		if idx >= bins {
			idx = bins - 1
		}
		counts[idx]++
	}
	return counts, nil
}

// UpperEdges 返回每格的上边界（严格递增，第 k 格为 Min + (k+1)*width，
// 最后一格恰为 Max）。
func UpperEdges(r contract.Range, bins int) []float64 {
	edges := make([]float64, bins+1)
	floats.Span(edges, r.Min, r.Max)
	return edges[1:]
}
