package contract

import "fmt"

// 校验库函数（纯函数，无 I/O）。

// ValidateInputs 校验输入描述符列表的最小边界：
// 非空、路径非空、声明采样数为正。
func ValidateInputs(files []InputFile) error {
	if len(files) == 0 {
		return fmt.Errorf("%w: inputs empty", ErrInvariantViolation)
	}
	for i, f := range files {
		if f.Path == "" {
			return fmt.Errorf("%w: inputs[%d] path empty", ErrInvariantViolation, i)
		}
		if f.Count <= 0 {
			return fmt.Errorf("%w: inputs[%d] %s count %d", ErrInvariantViolation, i, f.Path, f.Count)
		}
	}
	return nil
}

// TotalCount 返回列表声明的采样总数。
func TotalCount(files []InputFile) int64 {
	var n int64
	for _, f := range files {
		n += f.Count
	}
	return n
}
