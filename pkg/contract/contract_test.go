package contract

import (
	"errors"
	"testing"
)

func TestHistogramTotal(t *testing.T) {
	if got := (Histogram{1, 0, 3, 2}).Total(); got != 6 {
		t.Fatalf("total 应为 6, got %d", got)
	}
	if got := (Histogram{}).Total(); got != 0 {
		t.Fatalf("空直方图 total 应为 0, got %d", got)
	}
}

func TestRangeWidth(t *testing.T) {
	r := Range{Min: 0, Max: 4}
	if w := r.Width(5); w != 0.8 {
		t.Fatalf("width 应为 0.8, got %g", w)
	}
	if w := r.Width(0); w != 0 {
		t.Fatalf("bins=0 width 应为 0, got %g", w)
	}
	if w := (Range{Min: 1, Max: 1}).Width(4); w != 0 {
		t.Fatalf("退化值域 width 应为 0, got %g", w)
	}
}

func TestValidateInputs(t *testing.T) {
	cases := []struct {
		name  string
		files []InputFile
		ok    bool
	}{
		{"正常", []InputFile{{Path: "a.bin", Count: 2}}, true},
		{"空列表", nil, false},
		{"空路径", []InputFile{{Path: "", Count: 1}}, false},
		{"零计数", []InputFile{{Path: "a.bin", Count: 0}}, false},
		{"负计数", []InputFile{{Path: "a.bin", Count: -3}}, false},
	}
	for _, c := range cases {
		err := ValidateInputs(c.files)
		if c.ok && err != nil {
			t.Fatalf("%s: 不应报错, got %v", c.name, err)
		}
		if !c.ok {
			if err == nil {
				t.Fatalf("%s: 应报错", c.name)
			}
			if !errors.Is(err, ErrInvariantViolation) {
				t.Fatalf("%s: 应归类为不变量违例, got %v", c.name, err)
			}
		}
	}
}

func TestTotalCount(t *testing.T) {
	files := []InputFile{{Path: "a", Count: 3}, {Path: "b", Count: 5}}
	if n := TotalCount(files); n != 8 {
		t.Fatalf("总数应为 8, got %d", n)
	}
}

func TestReduceOpString(t *testing.T) {
	if ReduceMin.String() != "min" || ReduceMax.String() != "max" || ReduceSum.String() != "sum" {
		t.Fatalf("算子名称不符")
	}
	if ReduceOp(99).String() != "unknown" {
		t.Fatalf("未知算子应为 unknown")
	}
}
