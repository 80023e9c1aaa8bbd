package diag

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Terminal: rank-0 进度提示（非日志）。
// 约束：只有指定 rank（0）打印，其余 rank 构造为禁用态 no-op，
// 避免 W 份重复输出——这是既有可观测行为，不只是外观。
// 输出目标为 stdout；并发安全；写失败后进入禁用态。
type Terminal struct {
	w       io.Writer
	enabled bool
	mu      sync.Mutex
}

// 进程级终端（全局设置后供 pipeline 旁路调用）。
var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器。enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stdout
	}
	return &Terminal{w: w, enabled: enabled}
}

func (t *Terminal) print(s string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s); err != nil {
		t.enabled = false
	}
}

// LoadStart: 装载开始提示（不换行，结束时补 done.）。
func (t *Terminal) LoadStart() { t.print("Loading density values ... ") }

// LoadDone: 装载完成提示。
func (t *Terminal) LoadDone() { t.print("done.\n") }

// FreqStart: 频次计算开始提示。
func (t *Terminal) FreqStart() { t.print("Computing frequencies ... ") }

// FreqDone: 频次计算完成提示，附带格数与全局极值。
func (t *Terminal) FreqDone(bins int, min, max float64) {
	t.print(fmt.Sprintf("done.\n\tbins: %d\n\t(min, max): (%g, %g)\n", bins, min, max))
}
