package hist

import (
	"bufio"
	"fmt"
	"io"

	"denshist/pkg/contract"
)

// Render 将全局直方图序列化为文本报告：
// 三行 '#' 头部（格数、两列说明），随后每格一行
// "<上边界 %10.4f>\t<计数>"，按格序递增，换行结尾。
func Render(w io.Writer, h contract.Histogram, r contract.Range) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# bins: %d\n", len(h))
	fmt.Fprintf(bw, "# col 1: density range\n")
	fmt.Fprintf(bw, "# col 2: particle count\n")
	for i, edge := range UpperEdges(r, len(h)) {
		fmt.Fprintf(bw, "%10.4f\t%d\n", edge, h[i])
	}
	return bw.Flush()
}
